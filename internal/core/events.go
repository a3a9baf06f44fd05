package core

import "github.com/dkeye/Parley/internal/domain"

// EventKind discriminates membership events. All room transitions funnel
// through these; consumers switch on Kind at a single dispatch point instead
// of registering ad hoc listeners.
type EventKind string

const (
	EventHostAssigned EventKind = "host-assigned"
	EventHostChanged  EventKind = "host-changed"
	EventPeerJoined   EventKind = "peer-joined"
	EventPeerLeft     EventKind = "peer-left"
	EventKicked       EventKind = "kicked"
	EventRoomFull     EventKind = "room-full"
	EventMuteChanged  EventKind = "mute-changed"
	EventVideoChanged EventKind = "video-changed"
	EventMeetingEnded EventKind = "meeting-ended"
)

// MembershipEvent is the tagged union delivered to room members.
// Participant identifies the subject of the event (joiner, leaver, new host).
// State carries the boolean payload of mute/video transitions.
type MembershipEvent struct {
	Kind        EventKind            `json:"type"`
	Room        domain.RoomID        `json:"room"`
	Participant domain.ParticipantID `json:"participant,omitempty"`
	State       bool                 `json:"state"`
}
