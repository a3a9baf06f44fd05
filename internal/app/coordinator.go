package app

import (
	"errors"

	"github.com/rs/zerolog/log"

	"github.com/dkeye/Parley/internal/core"
	"github.com/dkeye/Parley/internal/domain"
)

// EventSink delivers one membership event to one session. The signaling
// adapter implements it; tests substitute a recorder. A delivery failure is
// reported to the caller, never propagated to other members.
type EventSink interface {
	Deliver(sid core.SessionID, ev core.MembershipEvent) error
}

// Coordinator drives all room transitions. Every mutation of the room
// registry goes through here, so event fan-out order matches mutation order.
type Coordinator struct {
	Sessions *Registry
	Rooms    core.RoomRegistry
	Sink     EventSink
	Policy   Policy
}

func (c *Coordinator) deliver(room domain.RoomID, sid core.SessionID, ev core.MembershipEvent) {
	if err := c.Sink.Deliver(sid, ev); err != nil {
		log.Warn().Err(err).Str("module", "app.coordinator").
			Str("sid", string(sid)).Str("event", string(ev.Kind)).Msg("event delivery failed")
		if c.Policy == nil {
			return
		}
		if c.Policy.OnBackpressure(room, sid) == DisconnectMember {
			c.Sessions.Cancel(sid)
		}
	}
}

// broadcast fans ev out to every listed member except the excluded one.
func (c *Coordinator) broadcast(room domain.RoomID, members []domain.ParticipantID, except domain.ParticipantID, ev core.MembershipEvent) {
	for _, pid := range members {
		if pid == except {
			continue
		}
		if sid, ok := c.Sessions.SIDOf(pid); ok {
			c.deliver(room, sid, ev)
		}
	}
}

// Join adds the session's participant to roomID, creating the room on first
// join. The joiner always learns the current host; existing members learn
// about the joiner.
func (c *Coordinator) Join(sid core.SessionID, roomID domain.RoomID) error {
	pid, ok := c.Sessions.ParticipantOf(sid)
	if !ok {
		return domain.ErrNotInRoom
	}
	if prev, ok := c.Sessions.RoomOf(sid); ok && prev != roomID {
		c.Leave(sid)
	}

	res, err := c.Rooms.Join(roomID, pid)
	if err != nil {
		if errors.Is(err, domain.ErrRoomFull) {
			c.deliver(roomID, sid, core.MembershipEvent{Kind: core.EventRoomFull, Room: roomID})
		}
		return err
	}
	c.Sessions.SetRoom(sid, roomID)

	c.deliver(roomID, sid, core.MembershipEvent{
		Kind: core.EventHostAssigned, Room: roomID, Participant: res.Host,
	})
	c.broadcast(roomID, res.Peers, pid, core.MembershipEvent{
		Kind: core.EventPeerJoined, Room: roomID, Participant: pid,
	})
	return nil
}

// Leave runs the ordinary departure path: disconnects, explicit leaves and
// the tail end of a kick all funnel through here exactly once.
func (c *Coordinator) Leave(sid core.SessionID) {
	pid, ok := c.Sessions.ParticipantOf(sid)
	if !ok {
		return
	}
	roomID, ok := c.Sessions.RoomOf(sid)
	if !ok {
		return
	}
	c.Sessions.ClearRoom(sid)

	// Room membership is keyed by participant. If a newer connection owns the
	// participant now, only that connection's teardown may mutate the room.
	if cur, ok := c.Sessions.SIDOf(pid); ok && cur != sid {
		return
	}

	res, err := c.Rooms.Leave(roomID, pid)
	if err != nil {
		return
	}
	c.broadcast(roomID, res.Remaining, pid, core.MembershipEvent{
		Kind: core.EventPeerLeft, Room: roomID, Participant: pid,
	})
	if res.HostChanged {
		c.broadcast(roomID, res.Remaining, "", core.MembershipEvent{
			Kind: core.EventHostChanged, Room: roomID, Participant: res.Host,
		})
	}
}

// Kick removes target from the kicker's room. Host-only. The target is
// notified directly, the room broadly; then the target's connection is
// force-closed, which triggers the ordinary Leave path. Kick itself never
// mutates membership.
func (c *Coordinator) Kick(sid core.SessionID, target domain.ParticipantID) error {
	roomID, pid, err := c.requireHost(sid)
	if err != nil {
		return err
	}
	if pid == target {
		return domain.ErrNotAuthorized
	}
	targetSID, ok := c.Sessions.SIDOf(target)
	if !ok {
		return domain.ErrNotInRoom
	}
	if targetRoom, ok := c.Sessions.RoomOf(targetSID); !ok || targetRoom != roomID {
		return domain.ErrNotInRoom
	}

	members, err := c.Rooms.Members(roomID)
	if err != nil {
		return err
	}
	ev := core.MembershipEvent{Kind: core.EventKicked, Room: roomID, Participant: target}
	c.deliver(roomID, targetSID, ev)
	c.broadcast(roomID, members, target, ev)

	c.Sessions.Cancel(targetSID)
	log.Info().Str("module", "app.coordinator").
		Str("room", string(roomID)).Str("by", string(pid)).Str("target", string(target)).Msg("kicked")
	return nil
}

// Host answers "who is the host of the session's room" from current state.
func (c *Coordinator) Host(sid core.SessionID) (domain.ParticipantID, error) {
	roomID, ok := c.Sessions.RoomOf(sid)
	if !ok {
		return "", domain.ErrNotInRoom
	}
	return c.Rooms.Host(roomID)
}

// IsHost answers the role query for the session itself.
func (c *Coordinator) IsHost(sid core.SessionID) (bool, error) {
	pid, ok := c.Sessions.ParticipantOf(sid)
	if !ok {
		return false, domain.ErrNotInRoom
	}
	host, err := c.Host(sid)
	if err != nil {
		return false, err
	}
	return host == pid, nil
}

// SetMute is the host-only mute/unmute of another participant.
func (c *Coordinator) SetMute(sid core.SessionID, target domain.ParticipantID, muted bool) error {
	roomID, _, err := c.requireHost(sid)
	if err != nil {
		return err
	}
	targetSID, ok := c.Sessions.SIDOf(target)
	if !ok {
		return domain.ErrNotInRoom
	}
	if sess, ok := c.Sessions.Get(targetSID); ok {
		sess.Meta().Muted = muted
	}
	members, err := c.Rooms.Members(roomID)
	if err != nil {
		return err
	}
	c.broadcast(roomID, members, "", core.MembershipEvent{
		Kind: core.EventMuteChanged, Room: roomID, Participant: target, State: muted,
	})
	return nil
}

// AnnounceMute broadcasts a participant's own mute toggle.
func (c *Coordinator) AnnounceMute(sid core.SessionID, muted bool) error {
	return c.announceState(sid, core.EventMuteChanged, muted, func(m *domain.Member) { m.Muted = muted })
}

// AnnounceVideo broadcasts a participant's own camera toggle.
func (c *Coordinator) AnnounceVideo(sid core.SessionID, enabled bool) error {
	return c.announceState(sid, core.EventVideoChanged, enabled, func(m *domain.Member) { m.VideoEnabled = enabled })
}

func (c *Coordinator) announceState(sid core.SessionID, kind core.EventKind, state bool, apply func(*domain.Member)) error {
	pid, ok := c.Sessions.ParticipantOf(sid)
	if !ok {
		return domain.ErrNotInRoom
	}
	roomID, ok := c.Sessions.RoomOf(sid)
	if !ok {
		return domain.ErrNotInRoom
	}
	if sess, ok := c.Sessions.Get(sid); ok {
		apply(sess.Meta())
	}
	members, err := c.Rooms.Members(roomID)
	if err != nil {
		return err
	}
	c.broadcast(roomID, members, "", core.MembershipEvent{
		Kind: kind, Room: roomID, Participant: pid, State: state,
	})
	return nil
}

// EndMeeting is the host-only teardown of the whole room.
func (c *Coordinator) EndMeeting(sid core.SessionID) error {
	roomID, _, err := c.requireHost(sid)
	if err != nil {
		return err
	}
	members, err := c.Rooms.Members(roomID)
	if err != nil {
		return err
	}
	c.broadcast(roomID, members, "", core.MembershipEvent{Kind: core.EventMeetingEnded, Room: roomID})
	for _, pid := range c.Rooms.Drop(roomID) {
		if msid, ok := c.Sessions.SIDOf(pid); ok {
			c.Sessions.ClearRoom(msid)
		}
	}
	log.Info().Str("module", "app.coordinator").Str("room", string(roomID)).Msg("meeting ended")
	return nil
}

func (c *Coordinator) requireHost(sid core.SessionID) (domain.RoomID, domain.ParticipantID, error) {
	pid, ok := c.Sessions.ParticipantOf(sid)
	if !ok {
		return "", "", domain.ErrNotInRoom
	}
	roomID, ok := c.Sessions.RoomOf(sid)
	if !ok {
		return "", "", domain.ErrNotInRoom
	}
	host, err := c.Rooms.Host(roomID)
	if err != nil {
		return "", "", err
	}
	if host != pid {
		return "", "", domain.ErrNotAuthorized
	}
	return roomID, pid, nil
}
