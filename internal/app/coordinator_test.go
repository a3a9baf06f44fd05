package app

import (
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/dkeye/Parley/internal/core"
	"github.com/dkeye/Parley/internal/domain"
)

type recordedEvent struct {
	SID core.SessionID
	Ev  core.MembershipEvent
}

// recordingSink captures deliveries and can fail on demand per session.
type recordingSink struct {
	mu     sync.Mutex
	events []recordedEvent
	fail   map[core.SessionID]error
}

func newRecordingSink() *recordingSink {
	return &recordingSink{fail: make(map[core.SessionID]error)}
}

func (s *recordingSink) Deliver(sid core.SessionID, ev core.MembershipEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err, ok := s.fail[sid]; ok {
		return err
	}
	s.events = append(s.events, recordedEvent{SID: sid, Ev: ev})
	return nil
}

func (s *recordingSink) of(sid core.SessionID) []core.EventKind {
	s.mu.Lock()
	defer s.mu.Unlock()
	var kinds []core.EventKind
	for _, e := range s.events {
		if e.SID == sid {
			kinds = append(kinds, e.Ev.Kind)
		}
	}
	return kinds
}

func (s *recordingSink) last(sid core.SessionID) (core.MembershipEvent, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := len(s.events) - 1; i >= 0; i-- {
		if s.events[i].SID == sid {
			return s.events[i].Ev, true
		}
	}
	return core.MembershipEvent{}, false
}

type fakeSignal struct {
	mu     sync.Mutex
	closed bool
}

func (f *fakeSignal) TrySend(core.Frame) error { return nil }

func (f *fakeSignal) Close() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
}

func (f *fakeSignal) isClosed() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closed
}

type harness struct {
	coord *Coordinator
	sink  *recordingSink
	sigs  map[core.SessionID]*fakeSignal
}

func newHarness(t *testing.T, capacity int) *harness {
	t.Helper()
	sink := newRecordingSink()
	return &harness{
		coord: &Coordinator{
			Sessions: NewRegistry(),
			Rooms:    core.NewRooms(capacity),
			Sink:     sink,
			Policy:   SimplePolicy{},
		},
		sink: sink,
		sigs: make(map[core.SessionID]*fakeSignal),
	}
}

func (h *harness) connect(t *testing.T, sid core.SessionID, pid domain.ParticipantID) {
	t.Helper()
	p, err := domain.NewParticipant(string(pid))
	require.NoError(t, err)
	sig := &fakeSignal{}
	h.sigs[sid] = sig
	h.coord.Sessions.Bind(sid, pid, core.NewMemberSession(domain.NewMember(p), sig), nil)
}

func TestCoordinator_JoinEvents(t *testing.T) {
	h := newHarness(t, 2)
	h.connect(t, "s1", "alice")
	h.connect(t, "s2", "bob")

	require.NoError(t, h.coord.Join("s1", "r1"))
	ev, ok := h.sink.last("s1")
	require.True(t, ok)
	require.Equal(t, core.EventHostAssigned, ev.Kind)
	require.Equal(t, domain.ParticipantID("alice"), ev.Participant)

	require.NoError(t, h.coord.Join("s2", "r1"))
	// Joiner learns the host, alice learns about bob.
	ev, ok = h.sink.last("s2")
	require.True(t, ok)
	require.Equal(t, core.EventHostAssigned, ev.Kind)
	require.Equal(t, domain.ParticipantID("alice"), ev.Participant)

	ev, ok = h.sink.last("s1")
	require.True(t, ok)
	require.Equal(t, core.EventPeerJoined, ev.Kind)
	require.Equal(t, domain.ParticipantID("bob"), ev.Participant)
}

func TestCoordinator_JoinFullRoom(t *testing.T) {
	h := newHarness(t, 2)
	h.connect(t, "s1", "alice")
	h.connect(t, "s2", "bob")
	h.connect(t, "s3", "carol")
	require.NoError(t, h.coord.Join("s1", "r1"))
	require.NoError(t, h.coord.Join("s2", "r1"))

	err := h.coord.Join("s3", "r1")
	require.ErrorIs(t, err, domain.ErrRoomFull)

	ev, ok := h.sink.last("s3")
	require.True(t, ok)
	require.Equal(t, core.EventRoomFull, ev.Kind)

	// Existing members saw nothing about carol.
	require.NotContains(t, h.sink.of("s1"), core.EventPeerJoined)

	members, err := h.coord.Rooms.Members("r1")
	require.NoError(t, err)
	require.Len(t, members, 2)
}

func TestCoordinator_LeaveNotifiesAndReElects(t *testing.T) {
	h := newHarness(t, 2)
	h.connect(t, "s1", "alice")
	h.connect(t, "s2", "bob")
	require.NoError(t, h.coord.Join("s1", "r1"))
	require.NoError(t, h.coord.Join("s2", "r1"))

	h.coord.Leave("s1")

	kinds := h.sink.of("s2")
	require.Contains(t, kinds, core.EventPeerLeft)
	require.Contains(t, kinds, core.EventHostChanged)

	host, err := h.coord.Rooms.Host("r1")
	require.NoError(t, err)
	require.Equal(t, domain.ParticipantID("bob"), host)

	// A second leave for the same session is a no-op.
	before := len(h.sink.of("s2"))
	h.coord.Leave("s1")
	require.Len(t, h.sink.of("s2"), before)
}

func TestCoordinator_JoinSwitchesRooms(t *testing.T) {
	h := newHarness(t, 2)
	h.connect(t, "s1", "alice")
	h.connect(t, "s2", "bob")
	require.NoError(t, h.coord.Join("s1", "r1"))
	require.NoError(t, h.coord.Join("s2", "r1"))

	require.NoError(t, h.coord.Join("s1", "r2"))

	// bob got a peer-left for the old room.
	require.Contains(t, h.sink.of("s2"), core.EventPeerLeft)

	members, err := h.coord.Rooms.Members("r2")
	require.NoError(t, err)
	require.Equal(t, []domain.ParticipantID{"alice"}, members)
}

func TestCoordinator_KickByHost(t *testing.T) {
	h := newHarness(t, 2)
	h.connect(t, "s1", "alice")
	h.connect(t, "s2", "bob")
	require.NoError(t, h.coord.Join("s1", "r1"))
	require.NoError(t, h.coord.Join("s2", "r1"))

	require.NoError(t, h.coord.Kick("s1", "bob"))

	ev, ok := h.sink.last("s2")
	require.True(t, ok)
	require.Equal(t, core.EventKicked, ev.Kind)
	require.Equal(t, domain.ParticipantID("bob"), ev.Participant)
	require.True(t, h.sigs["s2"].isClosed())

	// Membership mutates only once the disconnect path runs.
	members, err := h.coord.Rooms.Members("r1")
	require.NoError(t, err)
	require.Len(t, members, 2)
	h.coord.Leave("s2")
	members, err = h.coord.Rooms.Members("r1")
	require.NoError(t, err)
	require.Equal(t, []domain.ParticipantID{"alice"}, members)
}

func TestCoordinator_KickByNonHost(t *testing.T) {
	h := newHarness(t, 2)
	h.connect(t, "s1", "alice")
	h.connect(t, "s2", "bob")
	require.NoError(t, h.coord.Join("s1", "r1"))
	require.NoError(t, h.coord.Join("s2", "r1"))

	err := h.coord.Kick("s2", "alice")
	require.ErrorIs(t, err, domain.ErrNotAuthorized)
	require.False(t, h.sigs["s1"].isClosed())

	members, err := h.coord.Rooms.Members("r1")
	require.NoError(t, err)
	require.Len(t, members, 2)
}

func TestCoordinator_KickSelfOrStranger(t *testing.T) {
	h := newHarness(t, 4)
	h.connect(t, "s1", "alice")
	h.connect(t, "s2", "bob")
	require.NoError(t, h.coord.Join("s1", "r1"))
	require.NoError(t, h.coord.Join("s2", "r2"))

	require.ErrorIs(t, h.coord.Kick("s1", "alice"), domain.ErrNotAuthorized)
	// bob is connected but in a different room.
	require.ErrorIs(t, h.coord.Kick("s1", "bob"), domain.ErrNotInRoom)
	require.ErrorIs(t, h.coord.Kick("s1", "ghost"), domain.ErrNotInRoom)
}

func TestCoordinator_IsHost(t *testing.T) {
	h := newHarness(t, 2)
	h.connect(t, "s1", "alice")
	h.connect(t, "s2", "bob")
	require.NoError(t, h.coord.Join("s1", "r1"))
	require.NoError(t, h.coord.Join("s2", "r1"))

	ok, err := h.coord.IsHost("s1")
	require.NoError(t, err)
	require.True(t, ok)
	ok, err = h.coord.IsHost("s2")
	require.NoError(t, err)
	require.False(t, ok)

	_, err = h.coord.IsHost("unknown")
	require.ErrorIs(t, err, domain.ErrNotInRoom)
}

func TestCoordinator_SetMute(t *testing.T) {
	h := newHarness(t, 2)
	h.connect(t, "s1", "alice")
	h.connect(t, "s2", "bob")
	require.NoError(t, h.coord.Join("s1", "r1"))
	require.NoError(t, h.coord.Join("s2", "r1"))

	require.NoError(t, h.coord.SetMute("s1", "bob", true))

	sess, ok := h.coord.Sessions.Get("s2")
	require.True(t, ok)
	require.True(t, sess.Meta().Muted)

	for _, sid := range []core.SessionID{"s1", "s2"} {
		ev, ok := h.sink.last(sid)
		require.True(t, ok)
		require.Equal(t, core.EventMuteChanged, ev.Kind)
		require.Equal(t, domain.ParticipantID("bob"), ev.Participant)
		require.True(t, ev.State)
	}

	require.ErrorIs(t, h.coord.SetMute("s2", "alice", true), domain.ErrNotAuthorized)
}

func TestCoordinator_AnnounceMuteAndVideo(t *testing.T) {
	h := newHarness(t, 2)
	h.connect(t, "s1", "alice")
	h.connect(t, "s2", "bob")
	require.NoError(t, h.coord.Join("s1", "r1"))
	require.NoError(t, h.coord.Join("s2", "r1"))

	require.NoError(t, h.coord.AnnounceMute("s2", true))
	ev, ok := h.sink.last("s1")
	require.True(t, ok)
	require.Equal(t, core.EventMuteChanged, ev.Kind)
	require.Equal(t, domain.ParticipantID("bob"), ev.Participant)
	require.True(t, ev.State)

	require.NoError(t, h.coord.AnnounceVideo("s2", false))
	ev, ok = h.sink.last("s1")
	require.True(t, ok)
	require.Equal(t, core.EventVideoChanged, ev.Kind)
	require.False(t, ev.State)

	sess, _ := h.coord.Sessions.Get("s2")
	require.True(t, sess.Meta().Muted)
	require.False(t, sess.Meta().VideoEnabled)
}

func TestCoordinator_EndMeeting(t *testing.T) {
	h := newHarness(t, 2)
	h.connect(t, "s1", "alice")
	h.connect(t, "s2", "bob")
	require.NoError(t, h.coord.Join("s1", "r1"))
	require.NoError(t, h.coord.Join("s2", "r1"))

	require.ErrorIs(t, h.coord.EndMeeting("s2"), domain.ErrNotAuthorized)
	require.NoError(t, h.coord.EndMeeting("s1"))

	for _, sid := range []core.SessionID{"s1", "s2"} {
		require.Contains(t, h.sink.of(sid), core.EventMeetingEnded)
		_, inRoom := h.coord.Sessions.RoomOf(sid)
		require.False(t, inRoom)
	}
	_, err := h.coord.Rooms.Host("r1")
	require.ErrorIs(t, err, domain.ErrRoomNotFound)
}

// Reconnect race: the new connection joins the room before the old one's
// disconnect fires. The stale teardown must not evict the live membership.
func TestCoordinator_StaleTeardownKeepsLiveMembership(t *testing.T) {
	h := newHarness(t, 2)
	h.connect(t, "s1", "alice")
	require.NoError(t, h.coord.Join("s1", "r1"))

	// alice reconnects under a new sid and re-joins while s1 lingers.
	h.connect(t, "s2", "alice")
	require.NoError(t, h.coord.Join("s2", "r1"))

	h.coord.Leave("s1")
	h.coord.Sessions.Unbind("s1")

	members, err := h.coord.Rooms.Members("r1")
	require.NoError(t, err)
	require.Equal(t, []domain.ParticipantID{"alice"}, members)
	host, err := h.coord.Rooms.Host("r1")
	require.NoError(t, err)
	require.Equal(t, domain.ParticipantID("alice"), host)

	// Events still reach alice through the live connection.
	sid, ok := h.coord.Sessions.SIDOf("alice")
	require.True(t, ok)
	require.Equal(t, core.SessionID("s2"), sid)

	// The live connection's departure tears the room down for real.
	h.coord.Leave("s2")
	_, err = h.coord.Rooms.Host("r1")
	require.ErrorIs(t, err, domain.ErrRoomNotFound)
}

func TestCoordinator_BackpressureDisconnects(t *testing.T) {
	h := newHarness(t, 2)
	h.connect(t, "s1", "alice")
	h.connect(t, "s2", "bob")
	require.NoError(t, h.coord.Join("s1", "r1"))

	// alice stops draining; delivering bob's join notification to her fails
	// and the policy cuts her loose.
	h.sink.fail["s1"] = errors.New("send buffer full")
	require.NoError(t, h.coord.Join("s2", "r1"))

	require.True(t, h.sigs["s1"].isClosed())
	require.False(t, h.sigs["s2"].isClosed())
}
