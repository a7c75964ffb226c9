// Package store implements core.Store against an in-process map and against PostgreSQL.
package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/dkeye/talkrooms/internal/core"
	"github.com/dkeye/talkrooms/internal/domain"
)

type memberKey struct {
	room domain.RoomID
	user domain.UserID
}

// Memory is a threadsafe in-memory core.Store used for development and tests.
type Memory struct {
	mu       sync.RWMutex
	rooms    map[domain.RoomID]domain.Room
	members  map[memberKey]domain.Membership
	profiles map[domain.UserID]domain.Profile
	messages []domain.Message
}

var _ core.Store = (*Memory)(nil)

func NewMemory() *Memory {
	return &Memory{
		rooms:    make(map[domain.RoomID]domain.Room),
		members:  make(map[memberKey]domain.Membership),
		profiles: make(map[domain.UserID]domain.Profile),
	}
}

func (m *Memory) InsertRoom(_ context.Context, room domain.Room) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rooms[room.ID] = room
	return nil
}

func (m *Memory) GetRoom(_ context.Context, id domain.RoomID) (domain.Room, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	r, ok := m.rooms[id]
	if !ok {
		return domain.Room{}, domain.ErrNotFound
	}
	return r, nil
}

func (m *Memory) ListActiveRooms(_ context.Context, limit int) ([]domain.Room, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]domain.Room, 0, len(m.rooms))
	for _, r := range m.rooms {
		if r.IsActive {
			out = append(out, r)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *Memory) SetParticipantCount(_ context.Context, id domain.RoomID, n int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.rooms[id]
	if !ok {
		return domain.ErrNotFound
	}
	r.CurrentParticipants = n
	m.rooms[id] = r
	return nil
}

func (m *Memory) CloseRoom(_ context.Context, id domain.RoomID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for k := range m.members {
		if k.room == id {
			delete(m.members, k)
		}
	}
	r, ok := m.rooms[id]
	if !ok {
		return domain.ErrNotFound
	}
	r.IsActive = false
	r.CurrentParticipants = 0
	m.rooms[id] = r
	return nil
}

func (m *Memory) InsertMembership(_ context.Context, mb domain.Membership) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.members[memberKey{mb.RoomID, mb.UserID}] = mb
	return nil
}

func (m *Memory) GetMembership(_ context.Context, room domain.RoomID, user domain.UserID) (domain.Membership, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	mb, ok := m.members[memberKey{room, user}]
	if !ok {
		return domain.Membership{}, domain.ErrNotFound
	}
	return mb, nil
}

func (m *Memory) ListMemberships(_ context.Context, room domain.RoomID) ([]domain.Membership, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]domain.Membership, 0)
	for k, mb := range m.members {
		if k.room == room {
			out = append(out, mb)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].JoinedAt.Before(out[j].JoinedAt) })
	return out, nil
}

func (m *Memory) UpdateRole(_ context.Context, room domain.RoomID, user domain.UserID, role domain.Role, muted bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	k := memberKey{room, user}
	mb, ok := m.members[k]
	if !ok {
		return domain.ErrNotFound
	}
	mb.Role = role
	mb.IsMuted = muted
	m.members[k] = mb
	return nil
}

func (m *Memory) SetMuted(_ context.Context, room domain.RoomID, user domain.UserID, muted bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	k := memberKey{room, user}
	mb, ok := m.members[k]
	if !ok {
		return domain.ErrNotFound
	}
	mb.IsMuted = muted
	m.members[k] = mb
	return nil
}

func (m *Memory) DeleteMembership(_ context.Context, room domain.RoomID, user domain.UserID) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	k := memberKey{room, user}
	if _, ok := m.members[k]; !ok {
		return false, nil
	}
	delete(m.members, k)
	return true, nil
}

func (m *Memory) UpsertProfile(_ context.Context, p domain.Profile) (domain.Profile, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.profiles[p.ID] = p
	return p, nil
}

func (m *Memory) GetProfile(_ context.Context, id domain.UserID) (domain.Profile, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	p, ok := m.profiles[id]
	if !ok {
		return domain.Profile{}, domain.ErrNotFound
	}
	return p, nil
}

func (m *Memory) GetProfiles(_ context.Context, ids []domain.UserID) (map[domain.UserID]domain.Profile, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make(map[domain.UserID]domain.Profile, len(ids))
	for _, id := range ids {
		if p, ok := m.profiles[id]; ok {
			out[id] = p
		}
	}
	return out, nil
}

func (m *Memory) SetOnline(_ context.Context, id domain.UserID, online bool, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.profiles[id]
	if !ok {
		return nil
	}
	p.Online = online
	p.LastSeen = at
	m.profiles[id] = p
	return nil
}

func (m *Memory) InsertMessage(_ context.Context, msg domain.Message) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.messages = append(m.messages, msg)
	return nil
}

// Messages returns a copy of the stored messages of a room, oldest first.
func (m *Memory) Messages(room domain.RoomID) []domain.Message {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]domain.Message, 0)
	for _, msg := range m.messages {
		if msg.RoomID == room {
			out = append(out, msg)
		}
	}
	return out
}
