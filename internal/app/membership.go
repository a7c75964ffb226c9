package app

import (
	"context"
	"errors"

	"github.com/dkeye/talkrooms/internal/core"
	"github.com/dkeye/talkrooms/internal/domain"
	"github.com/rs/zerolog/log"
)

type JoinResult struct {
	Room       domain.Room
	Membership domain.Membership
	// Inserted is false when the user was already a member.
	Inserted bool
}

type LeaveResult struct {
	Removed   bool
	Remaining int
	Closed    bool
}

// Coordinator applies membership mutations. All mutations of one room run
// on that room's actor, so capacity checks, counter reconciliation and the
// close-on-empty transition never interleave.
type Coordinator struct {
	rooms  *RoomRegistry
	store  core.MembershipStore
	actors *RoomActors
	clock  core.Clock
}

func NewCoordinator(rooms *RoomRegistry, store core.MembershipStore, actors *RoomActors, clock core.Clock) *Coordinator {
	if clock == nil {
		clock = core.RealClock()
	}
	if actors == nil {
		actors = NewRoomActors()
	}
	return &Coordinator{rooms: rooms, store: store, actors: actors, clock: clock}
}

// Join admits the user. Existing members are admitted again without changes.
// The creator always rejoins as a speaker regardless of capacity.
func (c *Coordinator) Join(ctx context.Context, roomID domain.RoomID, user domain.UserID) (JoinResult, error) {
	var res JoinResult
	err := c.actors.Do(ctx, roomID, func(ctx context.Context) error {
		room, err := c.rooms.Active(ctx, roomID)
		if err != nil {
			return err
		}
		if room == nil {
			return domain.ErrRoomNotFound
		}
		res.Room = *room

		existing, err := c.store.GetMembership(ctx, roomID, user)
		switch {
		case err == nil:
			res.Membership = existing
			return nil
		case !errors.Is(err, domain.ErrNotFound):
			return persistErr("get membership", err)
		}

		now := c.clock.Now()
		var m domain.Membership
		if room.CreatorID == user {
			m = domain.NewSpeaker(roomID, user, now)
		} else {
			if room.CurrentParticipants >= room.MaxParticipants {
				return domain.ErrRoomFull
			}
			m = domain.NewListener(roomID, user, now)
		}
		if err := c.store.InsertMembership(ctx, m); err != nil {
			return persistErr("insert membership", err)
		}
		count, err := c.rooms.ReconcileCount(ctx, roomID)
		if err != nil {
			return err
		}
		res.Room.CurrentParticipants = count
		res.Membership = m
		res.Inserted = true
		return nil
	})
	if err != nil {
		return JoinResult{}, err
	}
	log.Info().Str("module", "app.membership").Str("room", string(roomID)).Str("user", string(user)).
		Bool("inserted", res.Inserted).Msg("joined")
	return res, nil
}

// Leave removes the membership and closes the room when it empties.
// Leaving a closed or unknown room is a no-op.
func (c *Coordinator) Leave(ctx context.Context, roomID domain.RoomID, user domain.UserID) (LeaveResult, error) {
	var res LeaveResult
	err := c.actors.Do(ctx, roomID, func(ctx context.Context) error {
		room, err := c.rooms.Active(ctx, roomID)
		if err != nil {
			return err
		}
		if room == nil {
			return nil
		}
		removed, err := c.store.DeleteMembership(ctx, roomID, user)
		if err != nil {
			return persistErr("delete membership", err)
		}
		res.Removed = removed
		count, err := c.rooms.ReconcileCount(ctx, roomID)
		if err != nil {
			return err
		}
		res.Remaining = count
		if count == 0 {
			closed, err := c.rooms.Close(ctx, roomID)
			if err != nil {
				return err
			}
			res.Closed = closed
		}
		return nil
	})
	if err != nil {
		return LeaveResult{}, err
	}
	log.Info().Str("module", "app.membership").Str("room", string(roomID)).Str("user", string(user)).
		Bool("removed", res.Removed).Int("remaining", res.Remaining).Bool("closed", res.Closed).Msg("left")
	return res, nil
}

// Promote makes target a speaker. Only the room creator may promote, and
// at most domain.MaxSpeakers members hold the speaker role.
func (c *Coordinator) Promote(ctx context.Context, roomID domain.RoomID, target, requestedBy domain.UserID) (domain.Membership, error) {
	var out domain.Membership
	err := c.actors.Do(ctx, roomID, func(ctx context.Context) error {
		room, err := c.rooms.Active(ctx, roomID)
		if err != nil {
			return err
		}
		if room == nil {
			return domain.ErrRoomNotFound
		}
		if room.CreatorID != requestedBy {
			return domain.ErrForbidden
		}
		m, err := c.membership(ctx, roomID, target)
		if err != nil {
			return err
		}
		if m.Role == domain.RoleSpeaker {
			out = m
			return nil
		}
		members, err := c.store.ListMemberships(ctx, roomID)
		if err != nil {
			return persistErr("list memberships", err)
		}
		speakers := 0
		for _, x := range members {
			if x.Role == domain.RoleSpeaker {
				speakers++
			}
		}
		if speakers >= domain.MaxSpeakers {
			return domain.ErrStageFull
		}
		if err := c.store.UpdateRole(ctx, roomID, target, domain.RoleSpeaker, false); err != nil {
			return persistErr("update role", err)
		}
		m.Role, m.IsMuted = domain.RoleSpeaker, false
		out = m
		return nil
	})
	return out, err
}

// Demote returns target to the audience, muted.
func (c *Coordinator) Demote(ctx context.Context, roomID domain.RoomID, target domain.UserID) (domain.Membership, error) {
	var out domain.Membership
	err := c.actors.Do(ctx, roomID, func(ctx context.Context) error {
		m, err := c.membership(ctx, roomID, target)
		if err != nil {
			return err
		}
		if err := c.store.UpdateRole(ctx, roomID, target, domain.RoleListener, true); err != nil {
			return persistErr("update role", err)
		}
		m.Role, m.IsMuted = domain.RoleListener, true
		out = m
		return nil
	})
	return out, err
}

func (c *Coordinator) SetMuted(ctx context.Context, roomID domain.RoomID, user domain.UserID, muted bool) error {
	return c.actors.Do(ctx, roomID, func(ctx context.Context) error {
		err := c.store.SetMuted(ctx, roomID, user, muted)
		if errors.Is(err, domain.ErrNotFound) {
			return domain.ErrNotMember
		}
		if err != nil {
			return persistErr("set muted", err)
		}
		return nil
	})
}

// CloseRoom closes the room on its actor. It reports whether this call
// performed the transition.
func (c *Coordinator) CloseRoom(ctx context.Context, roomID domain.RoomID) (bool, error) {
	var closed bool
	err := c.actors.Do(ctx, roomID, func(ctx context.Context) error {
		var err error
		closed, err = c.rooms.Close(ctx, roomID)
		return err
	})
	return closed, err
}

func (c *Coordinator) membership(ctx context.Context, roomID domain.RoomID, user domain.UserID) (domain.Membership, error) {
	m, err := c.store.GetMembership(ctx, roomID, user)
	if errors.Is(err, domain.ErrNotFound) {
		return domain.Membership{}, domain.ErrNotMember
	}
	if err != nil {
		return domain.Membership{}, persistErr("get membership", err)
	}
	return m, nil
}
