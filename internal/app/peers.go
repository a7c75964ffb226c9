package app

import (
	"sort"
	"sync"

	"github.com/dkeye/talkrooms/internal/core"
	"github.com/dkeye/talkrooms/internal/domain"
	"github.com/rs/zerolog/log"
)

// PeerDirectory maps room -> user -> connection handle for users that are
// reachable for WebRTC negotiation. It is transient and never persisted.
type PeerDirectory struct {
	mu    sync.RWMutex
	rooms map[domain.RoomID]map[domain.UserID]core.SessionID
}

func NewPeerDirectory() *PeerDirectory {
	return &PeerDirectory{rooms: make(map[domain.RoomID]map[domain.UserID]core.SessionID)}
}

// AddPeer records or replaces the user's handle in the room.
func (d *PeerDirectory) AddPeer(room domain.RoomID, user domain.UserID, sid core.SessionID) {
	d.mu.Lock()
	defer d.mu.Unlock()
	peers, ok := d.rooms[room]
	if !ok {
		peers = make(map[domain.UserID]core.SessionID)
		d.rooms[room] = peers
	}
	peers[user] = sid
}

func (d *PeerDirectory) RemovePeer(room domain.RoomID, user domain.UserID) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.removeLocked(room, user, "")
}

// RemovePeerHandle removes the entry only if it still points at sid, so a
// late disconnect of an old connection cannot evict a fresher one.
func (d *PeerDirectory) RemovePeerHandle(room domain.RoomID, user domain.UserID, sid core.SessionID) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.removeLocked(room, user, sid)
}

func (d *PeerDirectory) removeLocked(room domain.RoomID, user domain.UserID, sid core.SessionID) bool {
	peers, ok := d.rooms[room]
	if !ok {
		return false
	}
	cur, ok := peers[user]
	if !ok || (sid != "" && cur != sid) {
		return false
	}
	delete(peers, user)
	if len(peers) == 0 {
		delete(d.rooms, room)
	}
	log.Debug().Str("module", "app.peers").Str("room", string(room)).Str("user", string(user)).Msg("peer removed")
	return true
}

func (d *PeerDirectory) Handle(room domain.RoomID, user domain.UserID) (core.SessionID, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	sid, ok := d.rooms[room][user]
	return sid, ok
}

// ListPeers returns the users with a handle in the room, sorted.
func (d *PeerDirectory) ListPeers(room domain.RoomID) []domain.UserID {
	d.mu.RLock()
	defer d.mu.RUnlock()
	out := make([]domain.UserID, 0, len(d.rooms[room]))
	for u := range d.rooms[room] {
		out = append(out, u)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

func (d *PeerDirectory) DropRoom(room domain.RoomID) {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.rooms, room)
}

func (d *PeerDirectory) Rooms() int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return len(d.rooms)
}
