package core

import (
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/dkeye/Parley/internal/domain"
)

// JoinResult reports a completed join transition.
// Peers lists the members present before the join, in insertion order.
type JoinResult struct {
	Created bool
	Host    domain.ParticipantID
	Peers   []domain.ParticipantID
}

// LeaveResult reports a completed leave transition.
type LeaveResult struct {
	Closed      bool
	HostChanged bool
	Host        domain.ParticipantID
	Remaining   []domain.ParticipantID
}

type RoomInfo struct {
	ID          domain.RoomID        `json:"id"`
	MemberCount int                  `json:"member_count"`
	Host        domain.ParticipantID `json:"host"`
}

// RoomRegistry is the core-facing room state machine. It owns membership and
// host identity but never touches transport resources.
type RoomRegistry interface {
	Join(id domain.RoomID, pid domain.ParticipantID) (JoinResult, error)
	Leave(id domain.RoomID, pid domain.ParticipantID) (LeaveResult, error)
	Host(id domain.RoomID) (domain.ParticipantID, error)
	Members(id domain.RoomID) ([]domain.ParticipantID, error)
	Drop(id domain.RoomID) []domain.ParticipantID
	List() []RoomInfo
}

// roomState is guarded by its own mutex so join/leave/host-election on one
// room are linearized while independent rooms proceed concurrently.
type roomState struct {
	mu      sync.Mutex
	room    *domain.Room
	members []domain.ParticipantID
	host    domain.ParticipantID
	closed  bool
}

func (s *roomState) indexOf(pid domain.ParticipantID) int {
	for i, m := range s.members {
		if m == pid {
			return i
		}
	}
	return -1
}

type Rooms struct {
	mu       sync.RWMutex
	capacity int
	rooms    map[domain.RoomID]*roomState
}

func NewRooms(capacity int) *Rooms {
	if capacity <= 0 {
		capacity = domain.DefaultCapacity
	}
	if capacity > domain.HardCapacity {
		capacity = domain.HardCapacity
	}
	return &Rooms{
		capacity: capacity,
		rooms:    make(map[domain.RoomID]*roomState),
	}
}

func (r *Rooms) getOrCreate(id domain.RoomID) (*roomState, bool) {
	r.mu.RLock()
	st, ok := r.rooms[id]
	r.mu.RUnlock()
	if ok {
		return st, false
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if st, ok = r.rooms[id]; ok {
		return st, false
	}
	st = &roomState{room: &domain.Room{ID: id}}
	r.rooms[id] = st
	return st, true
}

// Join adds pid to the room, creating it on first join. The first joiner
// becomes host. A join against a full room fails without mutating membership.
func (r *Rooms) Join(id domain.RoomID, pid domain.ParticipantID) (JoinResult, error) {
	for {
		st, created := r.getOrCreate(id)
		st.mu.Lock()
		if st.closed {
			// Lost a race with the last leave; the entry is being torn down.
			st.mu.Unlock()
			continue
		}
		if st.indexOf(pid) >= 0 {
			res := JoinResult{Host: st.host}
			st.mu.Unlock()
			return res, nil
		}
		if len(st.members) >= r.capacity {
			st.mu.Unlock()
			return JoinResult{}, domain.ErrRoomFull
		}
		peers := append([]domain.ParticipantID(nil), st.members...)
		st.members = append(st.members, pid)
		if len(st.members) == 1 {
			st.host = pid
		}
		res := JoinResult{Created: created, Host: st.host, Peers: peers}
		st.mu.Unlock()
		log.Info().Str("module", "core.rooms").
			Str("room", string(id)).Str("participant", string(pid)).
			Bool("created", created).Msg("member joined")
		return res, nil
	}
}

// Leave removes pid from the room. If the host leaves while others remain, the
// first remaining member in insertion order becomes host. The room is removed
// from the registry the instant it becomes empty.
func (r *Rooms) Leave(id domain.RoomID, pid domain.ParticipantID) (LeaveResult, error) {
	r.mu.RLock()
	st, ok := r.rooms[id]
	r.mu.RUnlock()
	if !ok {
		return LeaveResult{}, domain.ErrRoomNotFound
	}

	st.mu.Lock()
	i := st.indexOf(pid)
	if i < 0 {
		st.mu.Unlock()
		return LeaveResult{}, domain.ErrNotInRoom
	}
	st.members = append(st.members[:i], st.members[i+1:]...)

	res := LeaveResult{Host: st.host}
	if len(st.members) == 0 {
		st.closed = true
		st.host = ""
		res.Closed = true
		res.Host = ""
	} else if st.host == pid {
		st.host = st.members[0]
		res.HostChanged = true
		res.Host = st.host
	}
	res.Remaining = append([]domain.ParticipantID(nil), st.members...)
	st.mu.Unlock()

	if res.Closed {
		r.mu.Lock()
		if cur, ok := r.rooms[id]; ok && cur == st {
			delete(r.rooms, id)
		}
		r.mu.Unlock()
		log.Info().Str("module", "core.rooms").Str("room", string(id)).Msg("room removed (empty)")
	}
	log.Info().Str("module", "core.rooms").
		Str("room", string(id)).Str("participant", string(pid)).
		Bool("host_changed", res.HostChanged).Msg("member left")
	return res, nil
}

// Host answers the role query from current state; it is idempotent and never
// cached.
func (r *Rooms) Host(id domain.RoomID) (domain.ParticipantID, error) {
	r.mu.RLock()
	st, ok := r.rooms[id]
	r.mu.RUnlock()
	if !ok {
		return "", domain.ErrRoomNotFound
	}
	st.mu.Lock()
	defer st.mu.Unlock()
	if st.closed {
		return "", domain.ErrRoomNotFound
	}
	return st.host, nil
}

func (r *Rooms) Members(id domain.RoomID) ([]domain.ParticipantID, error) {
	r.mu.RLock()
	st, ok := r.rooms[id]
	r.mu.RUnlock()
	if !ok {
		return nil, domain.ErrRoomNotFound
	}
	st.mu.Lock()
	defer st.mu.Unlock()
	if st.closed {
		return nil, domain.ErrRoomNotFound
	}
	return append([]domain.ParticipantID(nil), st.members...), nil
}

// Drop tears a room down regardless of membership (end of meeting) and
// returns the members that were evicted.
func (r *Rooms) Drop(id domain.RoomID) []domain.ParticipantID {
	r.mu.Lock()
	st, ok := r.rooms[id]
	if ok {
		delete(r.rooms, id)
	}
	r.mu.Unlock()
	if !ok {
		return nil
	}
	st.mu.Lock()
	evicted := st.members
	st.members = nil
	st.closed = true
	st.host = ""
	st.mu.Unlock()
	log.Info().Str("module", "core.rooms").Str("room", string(id)).Int("evicted", len(evicted)).Msg("room dropped")
	return evicted
}

func (r *Rooms) List() []RoomInfo {
	r.mu.RLock()
	states := make([]*roomState, 0, len(r.rooms))
	for _, st := range r.rooms {
		states = append(states, st)
	}
	r.mu.RUnlock()

	out := make([]RoomInfo, 0, len(states))
	for _, st := range states {
		st.mu.Lock()
		if !st.closed {
			out = append(out, RoomInfo{ID: st.room.ID, MemberCount: len(st.members), Host: st.host})
		}
		st.mu.Unlock()
	}
	return out
}
