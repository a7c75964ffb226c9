package signal

import (
	"sync"
	"time"

	"github.com/dkeye/talkrooms/internal/core"
	"github.com/dkeye/talkrooms/internal/domain"
)

// RoomRateLimiter is a per-user sliding window over room creations.
type RoomRateLimiter struct {
	mu       sync.Mutex
	clock    core.Clock
	history  map[domain.UserID][]time.Time
	limit    int
	interval time.Duration
}

func NewRoomRateLimiter(limit int, interval time.Duration, clock core.Clock) *RoomRateLimiter {
	if clock == nil {
		clock = core.RealClock()
	}
	return &RoomRateLimiter{
		clock:    clock,
		history:  make(map[domain.UserID][]time.Time),
		limit:    limit,
		interval: interval,
	}
}

func (rl *RoomRateLimiter) Allow(uid domain.UserID) bool {
	if rl == nil || rl.limit <= 0 {
		return true
	}
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := rl.clock.Now()
	windowStart := now.Add(-rl.interval)

	attempts := rl.history[uid]
	fresh := make([]time.Time, 0, len(attempts)+1)
	for _, t := range attempts {
		if t.After(windowStart) {
			fresh = append(fresh, t)
		}
	}

	if len(fresh) >= rl.limit {
		rl.history[uid] = fresh
		return false
	}

	rl.history[uid] = append(fresh, now)
	return true
}
