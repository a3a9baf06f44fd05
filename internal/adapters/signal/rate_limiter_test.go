package signal

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestRoomRateLimiter_BlocksOverLimit(t *testing.T) {
	rl := NewRoomRateLimiter(3, time.Minute)

	for i := 0; i < 3; i++ {
		require.True(t, rl.Allow("alice"))
	}
	require.False(t, rl.Allow("alice"))

	// Independent per participant.
	require.True(t, rl.Allow("bob"))
}

func TestRoomRateLimiter_WindowSlides(t *testing.T) {
	rl := NewRoomRateLimiter(2, 30*time.Millisecond)

	require.True(t, rl.Allow("alice"))
	require.True(t, rl.Allow("alice"))
	require.False(t, rl.Allow("alice"))

	time.Sleep(40 * time.Millisecond)
	require.True(t, rl.Allow("alice"))
}
