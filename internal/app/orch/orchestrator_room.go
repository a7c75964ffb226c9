package orch

import (
	"context"
	"errors"

	"github.com/dkeye/talkrooms/internal/core"
	"github.com/dkeye/talkrooms/internal/domain"
	"github.com/rs/zerolog/log"
)

func (o *Orchestrator) ListRooms(ctx context.Context, sid core.SessionID) error {
	rooms, err := o.Rooms.ListActive(ctx)
	if err != nil {
		return err
	}
	return o.Relay.ToSession(sid, EvRoomsList, RoomsList{Rooms: rooms})
}

// CreateRoom opens a room with the caller as creator and first speaker.
func (o *Orchestrator) CreateRoom(ctx context.Context, sid core.SessionID, spec domain.RoomSpec) (domain.Room, error) {
	user, err := o.UserOf(sid)
	if err != nil {
		return domain.Room{}, err
	}
	room, err := o.Rooms.Create(ctx, user, spec)
	if err != nil {
		return domain.Room{}, err
	}
	o.leaveCurrent(ctx, sid, user, room.ID)
	o.enter(sid, user, room.ID)

	o.Relay.ToAll(EvRoomCreated, domain.RoomSummary{Room: room, Creator: o.profile(ctx, user)})
	details, err := o.Rooms.GetDetails(ctx, room.ID)
	if err != nil {
		return room, err
	}
	if details == nil {
		return room, domain.ErrRoomNotFound
	}
	m := domain.NewSpeaker(room.ID, user, room.CreatedAt)
	if p, ok := details.Participant(user); ok {
		m.Role, m.IsMuted = p.Role, p.IsMuted
	}
	return room, o.Relay.ToSession(sid, EvRoomJoined, RoomJoined{Room: details, Membership: m})
}

// JoinRoom admits the caller, hands over the peers already present and
// announces the newcomer to the room.
func (o *Orchestrator) JoinRoom(ctx context.Context, sid core.SessionID, roomID domain.RoomID) error {
	user, err := o.UserOf(sid)
	if err != nil {
		return err
	}
	res, err := o.Members.Join(ctx, roomID, user)
	if err != nil {
		return err
	}
	o.leaveCurrent(ctx, sid, user, roomID)
	o.enter(sid, user, roomID)

	if err := o.Relay.ToSession(sid, EvExistingPeers, ExistingPeers{RoomID: roomID, Peers: o.peersExcept(roomID, user)}); err != nil {
		return err
	}
	details, err := o.Rooms.GetDetails(ctx, roomID)
	if err != nil {
		return err
	}
	if details == nil {
		return domain.ErrRoomNotFound
	}
	if err := o.Relay.ToSession(sid, EvRoomJoined, RoomJoined{Room: details, Membership: res.Membership}); err != nil {
		return err
	}
	o.Relay.ToRoom(roomID, sid, EvUserJoined, UserJoined{
		RoomID:  roomID,
		User:    o.profile(ctx, user),
		Role:    res.Membership.Role,
		IsMuted: res.Membership.IsMuted,
	})
	return nil
}

func (o *Orchestrator) LeaveRoom(ctx context.Context, sid core.SessionID, roomID domain.RoomID) error {
	user, err := o.UserOf(sid)
	if err != nil {
		return err
	}
	return o.depart(ctx, user, roomID)
}

// RequestPeers resends the peers present in the room.
func (o *Orchestrator) RequestPeers(sid core.SessionID, roomID domain.RoomID) error {
	user, err := o.UserOf(sid)
	if err != nil {
		return err
	}
	if err := o.inRoom(sid, roomID); err != nil {
		return err
	}
	return o.Relay.ToSession(sid, EvExistingPeers, ExistingPeers{RoomID: roomID, Peers: o.peersExcept(roomID, user)})
}

func (o *Orchestrator) Promote(ctx context.Context, sid core.SessionID, roomID domain.RoomID, target domain.UserID) error {
	user, err := o.UserOf(sid)
	if err != nil {
		return err
	}
	m, err := o.Members.Promote(ctx, roomID, target, user)
	if err != nil {
		return err
	}
	if snap, ok := o.Registry.ConnOfUser(target); ok && snap.RoomID == roomID {
		o.Peers.AddPeer(roomID, target, snap.SID)
	}
	o.Relay.ToRoom(roomID, "", EvUserPromoted, RoleChanged{RoomID: roomID, UserID: target, Role: m.Role, IsMuted: m.IsMuted})
	return nil
}

// Demote is allowed to the room creator and to the member themself.
func (o *Orchestrator) Demote(ctx context.Context, sid core.SessionID, roomID domain.RoomID, target domain.UserID) error {
	user, err := o.UserOf(sid)
	if err != nil {
		return err
	}
	room, err := o.Rooms.Lookup(ctx, roomID)
	if errors.Is(err, domain.ErrRoomClosed) {
		return domain.ErrRoomNotFound
	}
	if err != nil {
		return err
	}
	if user != target && user != room.CreatorID {
		return domain.ErrForbidden
	}
	m, err := o.Members.Demote(ctx, roomID, target)
	if err != nil {
		return err
	}
	o.Relay.ToRoom(roomID, "", EvUserDemoted, RoleChanged{RoomID: roomID, UserID: target, Role: m.Role, IsMuted: m.IsMuted})
	return nil
}

// depart removes the user from the room and, when it empties, closes it.
// It is shared by explicit leaves and presence expiry.
func (o *Orchestrator) depart(ctx context.Context, user domain.UserID, roomID domain.RoomID) error {
	o.Peers.RemovePeer(roomID, user)
	res, err := o.Members.Leave(ctx, roomID, user)
	o.Registry.LeaveRoom(user, roomID)
	o.Presence.ClearRoom(user, roomID)
	if err != nil {
		return err
	}
	if res.Removed {
		o.Relay.ToRoom(roomID, "", EvUserLeft, UserLeft{RoomID: roomID, User: o.profile(ctx, user)})
	}
	if res.Closed {
		o.roomClosed(ctx, roomID)
	}
	return nil
}

func (o *Orchestrator) roomClosed(ctx context.Context, roomID domain.RoomID) {
	o.Relay.ToRoom(roomID, "", EvRoomClosed, RoomClosed{RoomID: roomID, Reason: "empty"})
	o.Registry.EvictRoom(roomID)
	o.Peers.DropRoom(roomID)

	rooms, err := o.Rooms.ListActive(ctx)
	if err != nil {
		log.Warn().Err(err).Str("module", "app.orch").Str("room", string(roomID)).Msg("rooms list refresh failed")
		return
	}
	o.Relay.ToAll(EvRoomsList, RoomsList{Rooms: rooms})
}

// leaveCurrent makes the connection leave the room it sits in, unless that
// room is keep. Callers run it only once the new room has accepted them.
func (o *Orchestrator) leaveCurrent(ctx context.Context, sid core.SessionID, user domain.UserID, keep domain.RoomID) {
	prev, ok := o.Registry.RoomOf(sid)
	if !ok || prev == keep {
		return
	}
	if err := o.depart(ctx, user, prev); err != nil {
		log.Warn().Err(err).Str("module", "app.orch").Str("sid", string(sid)).Str("room", string(prev)).Msg("leaving previous room failed")
		return
	}
	log.Info().Str("module", "app.orch").Str("sid", string(sid)).Str("from_room", string(prev)).Msg("left previous room")
}

func (o *Orchestrator) enter(sid core.SessionID, user domain.UserID, roomID domain.RoomID) {
	o.Registry.JoinRoom(sid, roomID)
	o.Presence.SetRoom(user, roomID)
	o.Peers.AddPeer(roomID, user, sid)
}

func (o *Orchestrator) peersExcept(roomID domain.RoomID, user domain.UserID) []domain.UserID {
	all := o.Peers.ListPeers(roomID)
	out := make([]domain.UserID, 0, len(all))
	for _, u := range all {
		if u != user {
			out = append(out, u)
		}
	}
	return out
}
