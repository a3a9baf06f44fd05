package domain

// Member represents a participant's in-call state for a room.
// No transport or lifecycle logic here.
type Member struct {
	Participant  *Participant
	Muted        bool
	VideoEnabled bool
}

// NewMember avoids raw literals in adapters and keeps construction obvious.
func NewMember(p *Participant) *Member {
	return &Member{Participant: p, VideoEnabled: true}
}
