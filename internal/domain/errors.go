package domain

import "errors"

// Failure taxonomy for room and transport operations. Errors are returned to
// the immediate caller; they never cross a room-wide broadcast boundary.
var (
	ErrRoomFull      = errors.New("room full")
	ErrRoomNotFound  = errors.New("room not found")
	ErrNotInRoom     = errors.New("participant not in room")
	ErrNotAuthorized = errors.New("not authorized")
)
