// Package peer manages the per-participant-pair transport channel: one data
// channel multiplexing control messages and chunked audio, exposing typed
// callbacks to the consumer. UI code never sees raw chunks, only assembled
// audio messages.
package peer

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/dkeye/Parley/internal/transport/chunk"
)

const DefaultOpenTimeout = 5 * time.Second

var (
	ErrChannelTimeout = errors.New("channel open timeout")
	ErrChannelClosed  = errors.New("channel closed")
)

// State is the channel lifecycle. There is no way back from StateClosed; a
// fresh Session is required to reconnect.
type State int

const (
	StateConnecting State = iota
	StateOpen
	StateClosed
)

// DataChannel abstracts the underlying transport channel (pion data channel
// in production, loopbacks in tests).
type DataChannel interface {
	Send([]byte) error
	OnMessage(func([]byte))
	OnOpen(func())
	OnClose(func())
	Close() error
}

// Dialer lazily establishes the channel the first time the session needs it.
type Dialer interface {
	Dial(ctx context.Context) (DataChannel, error)
}

// Callbacks fire once per completed logical event, never per raw frame.
type Callbacks struct {
	OnTranscript          func(text string)
	OnLanguagePreferences func(p LanguagePreferences)
	OnRecordingState      func(recording bool)
	OnAudioMessage        func(msg chunk.Message)
	OnPeerInfo            func(peerID string)
	OnClosed              func()
}

type Options struct {
	OpenTimeout time.Duration
	FrameSize   int
	IdleTTL     time.Duration
	Pacer       *chunk.Pacer

	// Reassembly bounds; zero keeps the chunk package defaults.
	MaxTotalChunks     int
	MaxPendingMessages int
}

// Session owns exactly one transport channel toward one counterpart.
type Session struct {
	dialer Dialer
	cb     Callbacks
	pacer  *chunk.Pacer
	asm    *chunk.Assembler

	openTimeout time.Duration
	frameSize   int

	ctx    context.Context
	cancel context.CancelFunc

	mu     sync.Mutex
	state  State
	dc     DataChannel
	opened chan struct{}

	closeOnce sync.Once
}

func NewSession(dialer Dialer, cb Callbacks, opt Options) *Session {
	if opt.OpenTimeout <= 0 {
		opt.OpenTimeout = DefaultOpenTimeout
	}
	if opt.FrameSize <= 0 {
		opt.FrameSize = chunk.DefaultFrameSize
	}
	if opt.Pacer == nil {
		opt.Pacer = chunk.NewPacer()
	}
	ctx, cancel := context.WithCancel(context.Background())
	asm := chunk.NewAssembler(opt.IdleTTL)
	asm.SetLimits(opt.MaxTotalChunks, opt.MaxPendingMessages)
	s := &Session{
		dialer:      dialer,
		cb:          cb,
		pacer:       opt.Pacer,
		asm:         asm,
		openTimeout: opt.OpenTimeout,
		frameSize:   opt.FrameSize,
		ctx:         ctx,
		cancel:      cancel,
		opened:      make(chan struct{}),
	}
	go s.sweepLoop(opt.IdleTTL)
	return s
}

func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Attach adopts an inbound channel opened by the counterpart (the answering
// side never dials).
func (s *Session) Attach(dc DataChannel) {
	s.mu.Lock()
	if s.state == StateClosed || s.dc != nil {
		s.mu.Unlock()
		_ = dc.Close()
		return
	}
	s.adoptLocked(dc)
	s.mu.Unlock()
}

// adoptLocked wires channel handlers. Caller holds s.mu.
func (s *Session) adoptLocked(dc DataChannel) {
	s.dc = dc
	dc.OnOpen(func() {
		s.mu.Lock()
		if s.state == StateConnecting {
			s.state = StateOpen
			close(s.opened)
		}
		s.mu.Unlock()
	})
	dc.OnMessage(s.handleRaw)
	dc.OnClose(func() { s.Close() })
}

// ensureOpen lazily dials and waits until the channel is usable, bounded by
// the open timeout.
func (s *Session) ensureOpen(ctx context.Context) (DataChannel, error) {
	s.mu.Lock()
	switch s.state {
	case StateClosed:
		s.mu.Unlock()
		return nil, ErrChannelClosed
	case StateOpen:
		dc := s.dc
		s.mu.Unlock()
		return dc, nil
	}
	if s.dc == nil {
		s.mu.Unlock()
		dc, err := s.dialer.Dial(ctx)
		if err != nil {
			return nil, fmt.Errorf("dial channel: %w", err)
		}
		s.mu.Lock()
		if s.state == StateClosed {
			s.mu.Unlock()
			_ = dc.Close()
			return nil, ErrChannelClosed
		}
		if s.dc == nil {
			s.adoptLocked(dc)
		} else {
			_ = dc.Close()
		}
	}
	opened := s.opened
	s.mu.Unlock()

	t := time.NewTimer(s.openTimeout)
	defer t.Stop()
	select {
	case <-opened:
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-s.ctx.Done():
		return nil, ErrChannelClosed
	case <-t.C:
		return nil, ErrChannelTimeout
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != StateOpen {
		return nil, ErrChannelClosed
	}
	return s.dc, nil
}

func (s *Session) sendFrame(ctx context.Context, f Frame) error {
	dc, err := s.ensureOpen(ctx)
	if err != nil {
		return err
	}
	data, err := EncodeFrame(f)
	if err != nil {
		return err
	}
	return dc.Send(data)
}

func (s *Session) SendTranscript(ctx context.Context, text string) error {
	return s.sendFrame(ctx, Frame{Type: FrameTranscript, Text: text})
}

func (s *Session) SendLanguagePreferences(ctx context.Context, p LanguagePreferences) error {
	return s.sendFrame(ctx, Frame{Type: FrameLanguagePreferences, Preferences: &p})
}

func (s *Session) SendRecordingState(ctx context.Context, recording bool) error {
	t := FrameRecordingStopped
	if recording {
		t = FrameRecordingStarted
	}
	return s.sendFrame(ctx, Frame{Type: t})
}

func (s *Session) AnnouncePeer(ctx context.Context, peerID string) error {
	return s.sendFrame(ctx, Frame{Type: FramePeerInfo, PeerID: peerID})
}

// SendAudio splits payload into paced frames and transmits them in order.
// Closing the session aborts the transfer between frames.
func (s *Session) SendAudio(ctx context.Context, payload []byte, meta chunk.Meta) error {
	dc, err := s.ensureOpen(ctx)
	if err != nil {
		return err
	}
	info, chunks, err := chunk.Split(uuid.NewString(), payload, s.frameSize, meta)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	stop := context.AfterFunc(s.ctx, cancel)
	defer stop()

	return s.pacer.Transmit(ctx, &frameSender{dc: dc}, info, chunks)
}

// frameSender adapts the raw channel to the pacer.
type frameSender struct {
	dc DataChannel
}

func (fs *frameSender) SendInfo(info chunk.Info) error {
	data, err := EncodeFrame(infoFrame(info))
	if err != nil {
		return err
	}
	return fs.dc.Send(data)
}

func (fs *frameSender) SendChunk(c chunk.Chunk) error {
	data, err := EncodeFrame(chunkFrame(c))
	if err != nil {
		return err
	}
	return fs.dc.Send(data)
}

// handleRaw is the single demux point for inbound frames. A malformed frame
// is logged and dropped; it never takes the channel down.
func (s *Session) handleRaw(data []byte) {
	f, err := DecodeFrame(data)
	if err != nil {
		log.Warn().Err(err).Str("module", "peer").Msg("dropping malformed frame")
		return
	}

	switch f.Type {
	case FrameTranscript:
		if s.cb.OnTranscript != nil {
			s.cb.OnTranscript(f.Text)
		}
	case FrameLanguagePreferences:
		if s.cb.OnLanguagePreferences != nil && f.Preferences != nil {
			s.cb.OnLanguagePreferences(*f.Preferences)
		}
	case FrameRecordingStarted, FrameRecordingStopped:
		if s.cb.OnRecordingState != nil {
			s.cb.OnRecordingState(f.Type == FrameRecordingStarted)
		}
	case FramePeerInfo:
		if s.cb.OnPeerInfo != nil {
			s.cb.OnPeerInfo(f.PeerID)
		}
	case FrameAudioInfo:
		s.onAssembled(s.asm.OnInfo(f.info()))
	case FrameAudioChunk:
		s.onAssembled(s.asm.OnChunk(f.chunk()))
	default:
		log.Warn().Str("module", "peer").Str("type", f.Type).Msg("unknown frame type")
	}
}

func (s *Session) onAssembled(msg *chunk.Message, err error) {
	if err != nil {
		log.Warn().Err(err).Str("module", "peer").Msg("dropping bad audio frame")
		return
	}
	if msg != nil && s.cb.OnAudioMessage != nil {
		s.cb.OnAudioMessage(*msg)
	}
}

func (s *Session) sweepLoop(ttl time.Duration) {
	if ttl <= 0 {
		ttl = chunk.DefaultIdleTTL
	}
	ticker := time.NewTicker(ttl)
	defer ticker.Stop()
	for {
		select {
		case <-s.ctx.Done():
			return
		case <-ticker.C:
			s.asm.SweepIdle()
		}
	}
}

// Close tears the session down: aborts in-flight transfers, releases
// partially reassembled state and closes the channel. Idempotent.
func (s *Session) Close() {
	s.closeOnce.Do(func() {
		s.mu.Lock()
		s.state = StateClosed
		dc := s.dc
		s.mu.Unlock()

		s.cancel()
		if dc != nil {
			_ = dc.Close()
		}
		s.asm.Reset()
		if s.cb.OnClosed != nil {
			s.cb.OnClosed()
		}
		log.Info().Str("module", "peer").Msg("session closed")
	})
}
