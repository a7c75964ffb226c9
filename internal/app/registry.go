package app

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/dkeye/talkrooms/internal/core"
	"github.com/dkeye/talkrooms/internal/domain"
	"github.com/rs/zerolog/log"
)

type sessionEntry struct {
	User     domain.UserID
	RoomID   domain.RoomID
	Conn     core.SignalConnection
	Cancel   context.CancelFunc
	LastSeen time.Time
	boundAt  uint64
}

// Registry tracks live signaling connections, the user each one is bound
// to and the room group it currently belongs to.
type Registry struct {
	mu       sync.RWMutex
	clock    core.Clock
	seq      uint64
	sessions map[core.SessionID]*sessionEntry
	users    map[domain.UserID]map[core.SessionID]struct{}
	rooms    map[domain.RoomID]map[core.SessionID]struct{}
}

func NewRegistry(clock core.Clock) *Registry {
	if clock == nil {
		clock = core.RealClock()
	}
	return &Registry{
		clock:    clock,
		sessions: make(map[core.SessionID]*sessionEntry),
		users:    make(map[domain.UserID]map[core.SessionID]struct{}),
		rooms:    make(map[domain.RoomID]map[core.SessionID]struct{}),
	}
}

// BindSignal registers a connection that has not authenticated yet.
func (r *Registry) BindSignal(sid core.SessionID, conn core.SignalConnection, cancel context.CancelFunc) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sessions[sid] = &sessionEntry{Conn: conn, Cancel: cancel, LastSeen: r.clock.Now()}
	log.Info().Str("module", "app.registry").Str("sid", string(sid)).Msg("bound signal")
}

// BindUser attaches an authenticated identity to the connection. A connection
// stays bound to its first user; rebinding to someone else fails.
func (r *Registry) BindUser(sid core.SessionID, user domain.UserID) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.sessions[sid]
	if !ok {
		return false
	}
	if e.User != "" && e.User != user {
		return false
	}
	r.seq++
	e.User = user
	e.boundAt = r.seq
	add(r.users, user, sid)
	log.Info().Str("module", "app.registry").Str("sid", string(sid)).Str("user", string(user)).Msg("bound user")
	return true
}

func (r *Registry) UserOf(sid core.SessionID) (domain.UserID, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.sessions[sid]
	if !ok || e.User == "" {
		return "", false
	}
	return e.User, true
}

func (r *Registry) Conn(sid core.SessionID) (core.SignalConnection, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if e, ok := r.sessions[sid]; ok {
		return e.Conn, true
	}
	return nil, false
}

func (r *Registry) Touch(sid core.SessionID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if e, ok := r.sessions[sid]; ok {
		e.LastSeen = r.clock.Now()
	}
}

// ConnSnapshot is a copy of a registry entry safe to use outside the lock.
type ConnSnapshot struct {
	SID      core.SessionID
	User     domain.UserID
	RoomID   domain.RoomID
	Conn     core.SignalConnection
	LastSeen time.Time
}

// Unbind forgets the connection and returns what it was bound to.
func (r *Registry) Unbind(sid core.SessionID) (ConnSnapshot, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.sessions[sid]
	if !ok {
		return ConnSnapshot{}, false
	}
	delete(r.sessions, sid)
	if e.User != "" {
		remove(r.users, e.User, sid)
	}
	if e.RoomID != "" {
		remove(r.rooms, e.RoomID, sid)
	}
	log.Info().Str("module", "app.registry").Str("sid", string(sid)).Msg("unbind session")
	return ConnSnapshot{SID: sid, User: e.User, RoomID: e.RoomID, Conn: e.Conn, LastSeen: e.LastSeen}, true
}

func (r *Registry) RoomOf(sid core.SessionID) (domain.RoomID, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.sessions[sid]
	if !ok || e.RoomID == "" {
		return "", false
	}
	return e.RoomID, true
}

// JoinRoom moves the connection into the room group. The previous group,
// if any, is returned.
func (r *Registry) JoinRoom(sid core.SessionID, room domain.RoomID) (domain.RoomID, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.sessions[sid]
	if !ok {
		return "", false
	}
	prev := e.RoomID
	if prev != "" {
		remove(r.rooms, prev, sid)
	}
	e.RoomID = room
	add(r.rooms, room, sid)
	log.Info().Str("module", "app.registry").Str("sid", string(sid)).Str("room", string(room)).Msg("joined room group")
	return prev, true
}

// LeaveRoom takes every connection of the user out of the room group.
func (r *Registry) LeaveRoom(user domain.UserID, room domain.RoomID) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for sid := range r.users[user] {
		e := r.sessions[sid]
		if e == nil || e.RoomID != room {
			continue
		}
		e.RoomID = ""
		remove(r.rooms, room, sid)
		n++
	}
	return n
}

// EvictRoom empties the room group.
func (r *Registry) EvictRoom(room domain.RoomID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for sid := range r.rooms[room] {
		if e := r.sessions[sid]; e != nil {
			e.RoomID = ""
		}
	}
	delete(r.rooms, room)
	log.Info().Str("module", "app.registry").Str("room", string(room)).Msg("evicted room group")
}

func (r *Registry) HasUser(user domain.UserID) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.users[user]) > 0
}

// ConnOfUser returns the most recently authenticated connection of the user.
func (r *Registry) ConnOfUser(user domain.UserID) (ConnSnapshot, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var best *sessionEntry
	var bestSID core.SessionID
	for sid := range r.users[user] {
		e := r.sessions[sid]
		if e != nil && (best == nil || e.boundAt > best.boundAt) {
			best, bestSID = e, sid
		}
	}
	if best == nil {
		return ConnSnapshot{}, false
	}
	return ConnSnapshot{SID: bestSID, User: user, RoomID: best.RoomID, Conn: best.Conn, LastSeen: best.LastSeen}, true
}

func (r *Registry) ConnsOfUser(user domain.UserID) []ConnSnapshot {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.snapshot(r.users[user])
}

func (r *Registry) MembersOfRoom(room domain.RoomID) []ConnSnapshot {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.snapshot(r.rooms[room])
}

func (r *Registry) All() []ConnSnapshot {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]ConnSnapshot, 0, len(r.sessions))
	for sid, e := range r.sessions {
		out = append(out, ConnSnapshot{SID: sid, User: e.User, RoomID: e.RoomID, Conn: e.Conn, LastSeen: e.LastSeen})
	}
	sortSnaps(out)
	return out
}

func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}

func (r *Registry) Cancel(sid core.SessionID) bool {
	r.mu.RLock()
	e, ok := r.sessions[sid]
	r.mu.RUnlock()
	if !ok || e.Cancel == nil {
		return false
	}
	e.Cancel()
	log.Info().Str("module", "app.registry").Str("sid", string(sid)).Msg("canceled session")
	return true
}

func (r *Registry) snapshot(set map[core.SessionID]struct{}) []ConnSnapshot {
	out := make([]ConnSnapshot, 0, len(set))
	for sid := range set {
		e := r.sessions[sid]
		if e == nil {
			continue
		}
		out = append(out, ConnSnapshot{SID: sid, User: e.User, RoomID: e.RoomID, Conn: e.Conn, LastSeen: e.LastSeen})
	}
	sortSnaps(out)
	return out
}

func sortSnaps(s []ConnSnapshot) {
	sort.Slice(s, func(i, j int) bool { return s[i].SID < s[j].SID })
}

func add[K comparable](m map[K]map[core.SessionID]struct{}, key K, sid core.SessionID) {
	set, ok := m[key]
	if !ok {
		set = make(map[core.SessionID]struct{})
		m[key] = set
	}
	set[sid] = struct{}{}
}

func remove[K comparable](m map[K]map[core.SessionID]struct{}, key K, sid core.SessionID) {
	set, ok := m[key]
	if !ok {
		return
	}
	delete(set, sid)
	if len(set) == 0 {
		delete(m, key)
	}
}
