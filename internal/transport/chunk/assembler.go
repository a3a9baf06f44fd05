package chunk

import (
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
)

const (
	// DefaultIdleTTL bounds how long an incomplete reassembly buffer may sit
	// without receiving a frame before it is evicted.
	DefaultIdleTTL = 30 * time.Second

	// DefaultMaxTotalChunks caps the chunk count one message may declare.
	// Payloads are utterance-sized; a frame claiming more is a protocol
	// violation, not a big transfer.
	DefaultMaxTotalChunks = 1 << 16

	// DefaultMaxPending caps how many messages may reassemble at once.
	DefaultMaxPending = 64
)

// inflight is reassembly state for one in-flight logical message.
type inflight struct {
	info     *Info
	total    int
	slots    [][]byte
	received int
	lastSeen time.Time
}

// Assembler buffers frames by message identifier until the declared total is
// reached, then assembles them in index order and delivers exactly once.
// Chunks may arrive before their info frame and in any order.
type Assembler struct {
	mu         sync.Mutex
	pending    map[string]*inflight
	done       map[string]time.Time
	idleTTL    time.Duration
	maxTotal   int
	maxPending int
	now        func() time.Time
}

func NewAssembler(idleTTL time.Duration) *Assembler {
	if idleTTL <= 0 {
		idleTTL = DefaultIdleTTL
	}
	return &Assembler{
		pending:    make(map[string]*inflight),
		done:       make(map[string]time.Time),
		idleTTL:    idleTTL,
		maxTotal:   DefaultMaxTotalChunks,
		maxPending: DefaultMaxPending,
		now:        time.Now,
	}
}

// SetLimits overrides the protocol bounds. Zero keeps the default.
func (a *Assembler) SetLimits(maxTotal, maxPending int) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if maxTotal > 0 {
		a.maxTotal = maxTotal
	}
	if maxPending > 0 {
		a.maxPending = maxPending
	}
}

// open allocates reassembly state. Caller holds a.mu and has validated total.
func (a *Assembler) open(id string, total int) (*inflight, error) {
	if len(a.pending) >= a.maxPending {
		return nil, fmt.Errorf("%w: %d messages already reassembling", ErrMalformedFrame, len(a.pending))
	}
	fl := &inflight{total: total, slots: make([][]byte, total)}
	a.pending[id] = fl
	return fl, nil
}

// checkTotal rejects declared totals outside (0, maxTotal] before any
// allocation happens. Caller holds a.mu.
func (a *Assembler) checkTotal(total int) error {
	if total <= 0 || total > a.maxTotal {
		return fmt.Errorf("%w: total chunks %d", ErrMalformedFrame, total)
	}
	return nil
}

// OnInfo opens (or completes) reassembly for a message. A duplicate info for
// a message already seen is idempotent. Returns the assembled message when
// buffered chunks already cover the declared total.
func (a *Assembler) OnInfo(info Info) (*Message, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if err := a.checkTotal(info.TotalChunks); err != nil {
		return nil, err
	}
	if _, completed := a.done[info.MessageID]; completed {
		return nil, nil
	}
	fl, ok := a.pending[info.MessageID]
	if !ok {
		var err error
		if fl, err = a.open(info.MessageID, info.TotalChunks); err != nil {
			return nil, err
		}
	}
	if fl.total != info.TotalChunks {
		return nil, fmt.Errorf("%w: total mismatch %d != %d", ErrMalformedFrame, info.TotalChunks, fl.total)
	}
	if fl.info == nil {
		cp := info
		fl.info = &cp
	}
	fl.lastSeen = a.now()
	return a.tryComplete(info.MessageID, fl), nil
}

// OnChunk stores one fragment. Duplicate indexes overwrite idempotently; an
// index outside [0,total) is a protocol violation that does not disturb other
// messages. Returns the assembled message on completion, nil otherwise.
func (a *Assembler) OnChunk(c Chunk) (*Message, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if err := a.checkTotal(c.Total); err != nil {
		return nil, err
	}
	if c.Index < 0 || c.Index >= c.Total {
		return nil, fmt.Errorf("%w: chunk index %d outside [0,%d)", ErrMalformedFrame, c.Index, c.Total)
	}
	if _, completed := a.done[c.MessageID]; completed {
		// Late duplicate of an already delivered message.
		return nil, nil
	}
	fl, ok := a.pending[c.MessageID]
	if !ok {
		// Chunk raced ahead of its info frame: buffer it and wait.
		var err error
		if fl, err = a.open(c.MessageID, c.Total); err != nil {
			return nil, err
		}
	}
	if fl.total != c.Total {
		return nil, fmt.Errorf("%w: total mismatch %d != %d", ErrMalformedFrame, c.Total, fl.total)
	}
	if fl.slots[c.Index] == nil {
		fl.received++
	}
	fl.slots[c.Index] = c.Data
	fl.lastSeen = a.now()
	return a.tryComplete(c.MessageID, fl), nil
}

// tryComplete assembles and evicts when every slot is filled and the info
// metadata has arrived. Caller holds a.mu.
func (a *Assembler) tryComplete(id string, fl *inflight) *Message {
	if fl.info == nil || fl.received != fl.total {
		return nil
	}
	size := 0
	for _, s := range fl.slots {
		size += len(s)
	}
	payload := make([]byte, 0, size)
	for _, s := range fl.slots {
		payload = append(payload, s...)
	}
	delete(a.pending, id)
	a.done[id] = a.now()
	return &Message{MessageID: id, Meta: fl.info.Meta, Payload: payload}
}

// SweepIdle evicts reassembly state that has not seen a frame within the idle
// TTL and reports how many messages were abandoned.
func (a *Assembler) SweepIdle() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	cutoff := a.now().Add(-a.idleTTL)
	evicted := 0
	for id, fl := range a.pending {
		if fl.lastSeen.Before(cutoff) {
			delete(a.pending, id)
			evicted++
		}
	}
	for id, at := range a.done {
		if at.Before(cutoff) {
			delete(a.done, id)
		}
	}
	if evicted > 0 {
		log.Warn().Str("module", "transport.chunk").Int("evicted", evicted).Msg("abandoned transfers evicted")
	}
	return evicted
}

// PendingCount reports messages still being reassembled.
func (a *Assembler) PendingCount() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.pending)
}

// Reset drops all partially reassembled state, e.g. when the owning peer
// session closes.
func (a *Assembler) Reset() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.pending = make(map[string]*inflight)
	a.done = make(map[string]time.Time)
}
