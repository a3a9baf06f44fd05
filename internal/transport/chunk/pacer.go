package chunk

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"
)

const (
	DefaultFrameInterval = 100 * time.Millisecond
	DefaultRetryBackoff  = 500 * time.Millisecond
	DefaultRetryLimit    = 5
)

// FrameSender is the sending half of a peer channel as the pacer sees it.
type FrameSender interface {
	SendInfo(Info) error
	SendChunk(Chunk) error
}

// Pacer drives the sending side of a chunked transfer: info first, then
// chunks in strict index order, one every Interval, so the channel keeps
// headroom for control messages between transfers. A failed chunk is retried
// at the same index after Backoff; when the retry budget runs out the
// transfer fails with ErrTransferStalled instead of blocking forever.
type Pacer struct {
	Interval   time.Duration
	Backoff    time.Duration
	RetryLimit int
}

func NewPacer() *Pacer {
	return &Pacer{
		Interval:   DefaultFrameInterval,
		Backoff:    DefaultRetryBackoff,
		RetryLimit: DefaultRetryLimit,
	}
}

// Transmit sends one logical message end to end. Cancelling ctx aborts
// between frames; no further sends fire afterwards.
func (p *Pacer) Transmit(ctx context.Context, s FrameSender, info Info, chunks []Chunk) error {
	interval := p.Interval
	if interval <= 0 {
		interval = DefaultFrameInterval
	}
	backoff := p.Backoff
	if backoff <= 0 {
		backoff = DefaultRetryBackoff
	}
	limit := p.RetryLimit
	if limit <= 0 {
		limit = DefaultRetryLimit
	}

	if err := ctx.Err(); err != nil {
		return err
	}
	if err := s.SendInfo(info); err != nil {
		return fmt.Errorf("send info %s: %w", info.MessageID, err)
	}

	for i := 0; i < len(chunks); i++ {
		retries := 0
		for {
			err := s.SendChunk(chunks[i])
			if err == nil {
				break
			}
			retries++
			if retries > limit {
				log.Error().Err(err).Str("module", "transport.chunk").
					Str("message_id", info.MessageID).Int("chunk", i).
					Msg("retry budget exhausted")
				return fmt.Errorf("chunk %d of %s: %w", i, info.MessageID, ErrTransferStalled)
			}
			log.Warn().Err(err).Str("module", "transport.chunk").
				Str("message_id", info.MessageID).Int("chunk", i).Int("retry", retries).
				Msg("chunk send failed, retrying")
			if err := sleep(ctx, backoff); err != nil {
				return err
			}
		}
		if i < len(chunks)-1 {
			if err := sleep(ctx, interval); err != nil {
				return err
			}
		}
	}
	return nil
}

func sleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
