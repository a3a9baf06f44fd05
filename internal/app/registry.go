package app

import (
	"context"
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/dkeye/Parley/internal/core"
	"github.com/dkeye/Parley/internal/domain"
)

type sessionEntry struct {
	Room    domain.RoomID
	PID     domain.ParticipantID
	Session core.MemberSession
	Cancel  context.CancelFunc
}

// Registry maps connections to sessions. It is the only place that knows
// which transport handle belongs to which participant.
type Registry struct {
	mu       sync.RWMutex
	sessions map[core.SessionID]*sessionEntry
	byPID    map[domain.ParticipantID]core.SessionID
}

func NewRegistry() *Registry {
	return &Registry{
		sessions: make(map[core.SessionID]*sessionEntry),
		byPID:    make(map[domain.ParticipantID]core.SessionID),
	}
}

func (r *Registry) Bind(sid core.SessionID, pid domain.ParticipantID, sess core.MemberSession, cancel context.CancelFunc) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sessions[sid] = &sessionEntry{PID: pid, Session: sess, Cancel: cancel}
	r.byPID[pid] = sid
	log.Info().Str("module", "app.registry").Str("sid", string(sid)).Str("participant", string(pid)).Msg("bound session")
}

func (r *Registry) Unbind(sid core.SessionID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.sessions[sid]
	if !ok {
		return
	}
	// A reconnect may have rebound the participant to a newer sid; the stale
	// teardown must not strip the live mapping.
	if cur, ok := r.byPID[e.PID]; ok && cur == sid {
		delete(r.byPID, e.PID)
	}
	delete(r.sessions, sid)
	log.Info().Str("module", "app.registry").Str("sid", string(sid)).Msg("unbound session")
}

func (r *Registry) Get(sid core.SessionID) (core.MemberSession, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if e, ok := r.sessions[sid]; ok {
		return e.Session, true
	}
	return nil, false
}

func (r *Registry) ParticipantOf(sid core.SessionID) (domain.ParticipantID, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if e, ok := r.sessions[sid]; ok {
		return e.PID, true
	}
	return "", false
}

func (r *Registry) SIDOf(pid domain.ParticipantID) (core.SessionID, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	sid, ok := r.byPID[pid]
	return sid, ok
}

func (r *Registry) RoomOf(sid core.SessionID) (domain.RoomID, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.sessions[sid]
	if !ok || e.Room == "" {
		return "", false
	}
	return e.Room, true
}

func (r *Registry) SetRoom(sid core.SessionID, room domain.RoomID) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.sessions[sid]
	if !ok {
		return false
	}
	e.Room = room
	return true
}

func (r *Registry) ClearRoom(sid core.SessionID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if e, ok := r.sessions[sid]; ok {
		e.Room = ""
	}
}

// Cancel force-closes the session's connection. Teardown side effects run on
// the ordinary disconnect path, not here.
func (r *Registry) Cancel(sid core.SessionID) bool {
	r.mu.RLock()
	e, ok := r.sessions[sid]
	r.mu.RUnlock()
	if !ok {
		return false
	}
	if e.Cancel != nil {
		e.Cancel()
	}
	if e.Session != nil && e.Session.Signal() != nil {
		e.Session.Signal().Close()
	}
	log.Info().Str("module", "app.registry").Str("sid", string(sid)).Msg("canceled session")
	return true
}
