package room

import (
	"time"

	"github.com/counselhub/room-server-go/internal/config"
)

// ReconnectDelay returns the wait before the next attempt, given the number of
// attempts already made: 1s, 2s, 4s, ... capped at 10s.
func ReconnectDelay(attempt int) time.Duration {
	if attempt < 0 {
		attempt = 0
	}
	delay := config.ReconnectBaseDelay
	for i := 0; i < attempt; i++ {
		delay *= 2
		if delay >= config.ReconnectMaxDelay {
			return config.ReconnectMaxDelay
		}
	}
	return delay
}
