package domain

type RoomID string

const (
	MaxRoomIDLen = 64

	// DefaultCapacity is a two-party call. Group variants may raise it up to
	// HardCapacity via config.
	DefaultCapacity = 2
	HardCapacity    = 4
)

type Room struct {
	ID RoomID
}
