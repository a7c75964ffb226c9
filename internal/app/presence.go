package app

import (
	"context"
	"sync"
	"time"

	"github.com/dkeye/talkrooms/internal/core"
	"github.com/dkeye/talkrooms/internal/domain"
	"github.com/rs/zerolog/log"
)

// DefaultGracePeriod is how long a user may stay without any connection
// before being treated as departed.
const DefaultGracePeriod = 500 * time.Millisecond

type PresenceState int

const (
	Offline PresenceState = iota
	Online
	PendingOffline
)

func (s PresenceState) String() string {
	switch s {
	case Online:
		return "online"
	case PendingOffline:
		return "pending_offline"
	default:
		return "offline"
	}
}

// OfflineFunc runs when a grace timer expires. room is the last room the
// user was in, or empty.
type OfflineFunc func(ctx context.Context, user domain.UserID, room domain.RoomID)

type presenceEntry struct {
	state PresenceState
	room  domain.RoomID
	timer core.Timer
	gen   uint64
}

// Presence tracks per-user liveness across connections. Losing the last
// connection arms a grace timer; a fresh authenticated connection cancels it.
type Presence struct {
	mu        sync.Mutex
	clock     core.Clock
	grace     time.Duration
	users     map[domain.UserID]*presenceEntry
	onOffline OfflineFunc
}

func NewPresence(clock core.Clock, grace time.Duration) *Presence {
	if clock == nil {
		clock = core.RealClock()
	}
	if grace <= 0 {
		grace = DefaultGracePeriod
	}
	return &Presence{clock: clock, grace: grace, users: make(map[domain.UserID]*presenceEntry)}
}

func (p *Presence) OnOffline(fn OfflineFunc) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.onOffline = fn
}

// Connected marks the user online. It reports whether a pending departure
// was cancelled.
func (p *Presence) Connected(user domain.UserID) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	e := p.entry(user)
	resumed := false
	if e.state == PendingOffline {
		if e.timer != nil {
			e.timer.Stop()
		}
		resumed = true
		log.Info().Str("module", "app.presence").Str("user", string(user)).Msg("reconnected within grace")
	}
	e.gen++
	e.timer = nil
	e.state = Online
	return resumed
}

// Disconnected records the loss of one connection. The grace timer is armed
// only when the user has no other live connection.
func (p *Presence) Disconnected(user domain.UserID, stillConnected bool) {
	if stillConnected {
		return
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	e, ok := p.users[user]
	if !ok || e.state != Online {
		return
	}
	e.gen++
	gen := e.gen
	e.state = PendingOffline
	e.timer = p.clock.AfterFunc(p.grace, func() { p.expire(user, gen) })
	log.Debug().Str("module", "app.presence").Str("user", string(user)).Dur("grace", p.grace).Msg("grace timer armed")
}

func (p *Presence) expire(user domain.UserID, gen uint64) {
	p.mu.Lock()
	e, ok := p.users[user]
	if !ok || e.gen != gen || e.state != PendingOffline {
		p.mu.Unlock()
		return
	}
	room := e.room
	delete(p.users, user)
	fn := p.onOffline
	p.mu.Unlock()

	log.Info().Str("module", "app.presence").Str("user", string(user)).Str("room", string(room)).Msg("grace expired")
	if fn != nil {
		fn(context.Background(), user, room)
	}
}

// SetRoom remembers the room the user is in for departure on expiry.
func (p *Presence) SetRoom(user domain.UserID, room domain.RoomID) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.entry(user).room = room
}

// ClearRoom forgets room if it is still the user's current one.
func (p *Presence) ClearRoom(user domain.UserID, room domain.RoomID) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if e, ok := p.users[user]; ok && e.room == room {
		e.room = ""
	}
}

func (p *Presence) Grace() time.Duration { return p.grace }

func (p *Presence) RoomOf(user domain.UserID) domain.RoomID {
	p.mu.Lock()
	defer p.mu.Unlock()
	if e, ok := p.users[user]; ok {
		return e.room
	}
	return ""
}

func (p *Presence) State(user domain.UserID) PresenceState {
	p.mu.Lock()
	defer p.mu.Unlock()
	if e, ok := p.users[user]; ok {
		return e.state
	}
	return Offline
}

func (p *Presence) entry(user domain.UserID) *presenceEntry {
	e, ok := p.users[user]
	if !ok {
		e = &presenceEntry{state: Offline}
		p.users[user] = e
	}
	return e
}
