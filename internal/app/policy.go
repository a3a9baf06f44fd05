package app

import (
	"github.com/dkeye/Parley/internal/core"
	"github.com/dkeye/Parley/internal/domain"
)

type BackpressureAction int

const (
	NoAction BackpressureAction = iota
	DropEvent
	DisconnectMember
)

// Policy decides what to do with a member whose signal connection cannot keep
// up with room events.
type Policy interface {
	OnBackpressure(room domain.RoomID, sid core.SessionID) BackpressureAction
}

type SimplePolicy struct{}

func (SimplePolicy) OnBackpressure(room domain.RoomID, sid core.SessionID) BackpressureAction {
	return DisconnectMember
}
