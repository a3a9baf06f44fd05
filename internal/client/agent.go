// Package client is the peer agent: the translate round trip and the
// data-channel transfer that a browser performs in a full deployment, driven
// from the command line so the whole transport path runs end to end.
package client

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/dkeye/Parley/internal/config"
	"github.com/dkeye/Parley/internal/peer"
	"github.com/dkeye/Parley/internal/translate"
	"github.com/dkeye/Parley/internal/transport/chunk"
)

// PacerFromConfig builds the transfer pacer from the shared config knobs.
func PacerFromConfig(cfg *config.Config) *chunk.Pacer {
	return &chunk.Pacer{
		Interval:   cfg.ChunkInterval,
		Backoff:    cfg.ChunkRetryBackoff,
		RetryLimit: cfg.ChunkRetryLimit,
	}
}

// SessionOptions builds peer session options from the shared config knobs.
func SessionOptions(cfg *config.Config) peer.Options {
	return peer.Options{
		OpenTimeout: cfg.ChannelOpenTimeout,
		FrameSize:   cfg.ChunkSize,
		IdleTTL:     cfg.ReassemblyTTL,
		Pacer:       PacerFromConfig(cfg),
	}
}

type LoopbackOptions struct {
	AudioPath   string
	FromLang    string
	ToLang      string
	OutPath     string
	NoTranslate bool
}

// RunLoopback ships one audio file between two in-process peers over a real
// data channel: translate, split, pace, reassemble, write the result.
func RunLoopback(ctx context.Context, cfg *config.Config, opt LoopbackOptions) error {
	audio, err := os.ReadFile(opt.AudioPath)
	if err != nil {
		return fmt.Errorf("read audio: %w", err)
	}

	meta := chunk.Meta{FromLanguage: opt.FromLang, ToLanguage: opt.ToLang}
	if !opt.NoTranslate {
		tc := translate.NewClient(cfg.TranslateURL, 0)
		res, err := tc.Translate(ctx, audio, opt.FromLang, opt.ToLang)
		if err != nil {
			return fmt.Errorf("translate: %w", err)
		}
		audio = res.Audio
		meta.SourceText = res.SourceText
		meta.TranslatedText = res.TranslatedText
	}

	caller, err := peer.NewWebRTCTransport(peer.DefaultWebRTCConfig(), "caller")
	if err != nil {
		return err
	}
	defer caller.Close()
	answerer, err := peer.NewWebRTCTransport(peer.DefaultWebRTCConfig(), "answerer")
	if err != nil {
		return err
	}
	defer answerer.Close()
	go func() { _ = caller.Start(ctx) }()
	go func() { _ = answerer.Start(ctx) }()

	received := make(chan chunk.Message, 1)
	recv := peer.NewSession(answerer, peer.Callbacks{
		OnAudioMessage: func(m chunk.Message) {
			select {
			case received <- m:
			default:
			}
		},
	}, SessionOptions(cfg))
	defer recv.Close()
	answerer.OnDataChannel(recv.Attach)

	send := peer.NewSession(caller, peer.Callbacks{}, SessionOptions(cfg))
	defer send.Close()

	dc, err := caller.Dial(ctx)
	if err != nil {
		return err
	}
	send.Attach(dc)

	offer, err := caller.CreateAndSetOffer()
	if err != nil {
		return err
	}
	answer, err := answerer.ApplyOfferAndCreateAnswer(*offer)
	if err != nil {
		return err
	}
	if err := caller.ApplyAnswer(*answer); err != nil {
		return err
	}

	if err := send.SendAudio(ctx, audio, meta); err != nil {
		return fmt.Errorf("send audio: %w", err)
	}

	select {
	case msg := <-received:
		log.Info().Str("module", "client").Int("bytes", len(msg.Payload)).
			Str("translated_text", msg.Meta.TranslatedText).Msg("loopback delivery complete")
		if opt.OutPath != "" {
			if err := os.WriteFile(opt.OutPath, msg.Payload, 0o644); err != nil {
				return fmt.Errorf("write output: %w", err)
			}
		}
		return nil
	case <-time.After(cfg.ChannelOpenTimeout + time.Minute):
		return errors.New("timed out waiting for loopback delivery")
	case <-ctx.Done():
		return ctx.Err()
	}
}
