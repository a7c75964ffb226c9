package app_test

import (
	"context"
	"fmt"
	"math/rand"
	"sync"
	"testing"

	"github.com/dkeye/talkrooms/internal/adapters/store"
	"github.com/dkeye/talkrooms/internal/app"
	"github.com/dkeye/talkrooms/internal/core/coretest"
	"github.com/dkeye/talkrooms/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fixture struct {
	store   *store.Memory
	clock   *coretest.FakeClock
	rooms   *app.RoomRegistry
	members *app.Coordinator
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	st := store.NewMemory()
	clock := coretest.NewFakeClock()
	rooms := app.NewRoomRegistry(st, clock, 0)
	return &fixture{
		store:   st,
		clock:   clock,
		rooms:   rooms,
		members: app.NewCoordinator(rooms, st, app.NewRoomActors(), clock),
	}
}

func (f *fixture) room(t *testing.T, id domain.RoomID) domain.Room {
	t.Helper()
	r, err := f.store.GetRoom(context.Background(), id)
	require.NoError(t, err)
	return r
}

func TestCoordinator_JoinLeave(t *testing.T) {
	ctx := context.Background()

	t.Run("it should admit a listener and close the room when the last member leaves", func(t *testing.T) {
		f := newFixture(t)
		room, err := f.rooms.Create(ctx, "A", domain.RoomSpec{Title: "Coffee chat"})
		require.NoError(t, err)
		require.Equal(t, 1, room.CurrentParticipants)

		res, err := f.members.Join(ctx, room.ID, "B")
		require.NoError(t, err)
		require.True(t, res.Inserted)
		require.Equal(t, domain.RoleListener, res.Membership.Role)
		require.True(t, res.Membership.IsMuted)
		require.Equal(t, 2, f.room(t, room.ID).CurrentParticipants)

		left, err := f.members.Leave(ctx, room.ID, "B")
		require.NoError(t, err)
		require.Equal(t, app.LeaveResult{Removed: true, Remaining: 1}, left)

		left, err = f.members.Leave(ctx, room.ID, "A")
		require.NoError(t, err)
		require.True(t, left.Removed)
		require.True(t, left.Closed)

		closed := f.room(t, room.ID)
		require.False(t, closed.IsActive)
		require.Zero(t, closed.CurrentParticipants)
		members, err := f.store.ListMemberships(ctx, room.ID)
		require.NoError(t, err)
		require.Empty(t, members)
	})

	t.Run("it should treat a repeated join as success without changing the count", func(t *testing.T) {
		f := newFixture(t)
		room, err := f.rooms.Create(ctx, "A", domain.RoomSpec{Title: "t"})
		require.NoError(t, err)

		_, err = f.members.Join(ctx, room.ID, "B")
		require.NoError(t, err)
		again, err := f.members.Join(ctx, room.ID, "B")
		require.NoError(t, err)
		require.False(t, again.Inserted)
		require.Equal(t, 2, f.room(t, room.ID).CurrentParticipants)
	})

	t.Run("it should reject joins past capacity but let the creator back in", func(t *testing.T) {
		f := newFixture(t)
		room, err := f.rooms.Create(ctx, "A", domain.RoomSpec{Title: "t", MaxParticipants: 2})
		require.NoError(t, err)

		_, err = f.members.Join(ctx, room.ID, "B")
		require.NoError(t, err)
		_, err = f.members.Join(ctx, room.ID, "C")
		require.ErrorIs(t, err, domain.ErrRoomFull)

		_, err = f.members.Leave(ctx, room.ID, "A")
		require.NoError(t, err)
		_, err = f.members.Join(ctx, room.ID, "C")
		require.NoError(t, err)

		res, err := f.members.Join(ctx, room.ID, "A")
		require.NoError(t, err)
		require.Equal(t, domain.RoleSpeaker, res.Membership.Role)
		require.False(t, res.Membership.IsMuted)
		require.Equal(t, 3, f.room(t, room.ID).CurrentParticipants)
	})

	t.Run("it should report unknown and closed rooms as not found", func(t *testing.T) {
		f := newFixture(t)
		_, err := f.members.Join(ctx, "missing", "B")
		require.ErrorIs(t, err, domain.ErrRoomNotFound)

		room, err := f.rooms.Create(ctx, "A", domain.RoomSpec{Title: "t"})
		require.NoError(t, err)
		_, err = f.members.Leave(ctx, room.ID, "A")
		require.NoError(t, err)
		_, err = f.members.Join(ctx, room.ID, "B")
		require.ErrorIs(t, err, domain.ErrRoomNotFound)
	})

	t.Run("it should make leave a no-op for closed rooms and non-members", func(t *testing.T) {
		f := newFixture(t)
		room, err := f.rooms.Create(ctx, "A", domain.RoomSpec{Title: "t"})
		require.NoError(t, err)

		res, err := f.members.Leave(ctx, room.ID, "stranger")
		require.NoError(t, err)
		require.False(t, res.Removed)
		require.False(t, res.Closed)

		closed, err := f.members.CloseRoom(ctx, room.ID)
		require.NoError(t, err)
		require.True(t, closed)
		closed, err = f.members.CloseRoom(ctx, room.ID)
		require.NoError(t, err)
		require.False(t, closed)

		res, err = f.members.Leave(ctx, room.ID, "A")
		require.NoError(t, err)
		require.Equal(t, app.LeaveResult{}, res)
	})
}

func TestCoordinator_Stage(t *testing.T) {
	ctx := context.Background()

	t.Run("it should only let the creator promote", func(t *testing.T) {
		f := newFixture(t)
		room, err := f.rooms.Create(ctx, "A", domain.RoomSpec{Title: "t"})
		require.NoError(t, err)
		_, err = f.members.Join(ctx, room.ID, "B")
		require.NoError(t, err)

		_, err = f.members.Promote(ctx, room.ID, "B", "B")
		require.ErrorIs(t, err, domain.ErrForbidden)
		_, err = f.members.Promote(ctx, room.ID, "ghost", "A")
		require.ErrorIs(t, err, domain.ErrNotMember)
	})

	t.Run("it should round-trip promote and demote", func(t *testing.T) {
		f := newFixture(t)
		room, err := f.rooms.Create(ctx, "A", domain.RoomSpec{Title: "t"})
		require.NoError(t, err)
		_, err = f.members.Join(ctx, room.ID, "B")
		require.NoError(t, err)

		m, err := f.members.Promote(ctx, room.ID, "B", "A")
		require.NoError(t, err)
		require.Equal(t, domain.RoleSpeaker, m.Role)
		require.False(t, m.IsMuted)

		m, err = f.members.Promote(ctx, room.ID, "B", "A")
		require.NoError(t, err)
		require.Equal(t, domain.RoleSpeaker, m.Role)

		m, err = f.members.Demote(ctx, room.ID, "B")
		require.NoError(t, err)
		require.Equal(t, domain.RoleListener, m.Role)
		require.True(t, m.IsMuted)

		stored, err := f.store.GetMembership(ctx, room.ID, "B")
		require.NoError(t, err)
		require.Equal(t, domain.RoleListener, stored.Role)
		require.True(t, stored.IsMuted)
	})

	t.Run("it should cap the stage at eight speakers", func(t *testing.T) {
		f := newFixture(t)
		room, err := f.rooms.Create(ctx, "A", domain.RoomSpec{Title: "t", MaxParticipants: 20})
		require.NoError(t, err)
		for i := 0; i < domain.MaxSpeakers; i++ {
			u := domain.UserID(fmt.Sprintf("u%d", i))
			_, err := f.members.Join(ctx, room.ID, u)
			require.NoError(t, err)
			_, err = f.members.Promote(ctx, room.ID, u, "A")
			if i < domain.MaxSpeakers-1 {
				require.NoError(t, err)
			} else {
				require.ErrorIs(t, err, domain.ErrStageFull)
			}
		}
	})

	t.Run("it should require membership to mute", func(t *testing.T) {
		f := newFixture(t)
		room, err := f.rooms.Create(ctx, "A", domain.RoomSpec{Title: "t"})
		require.NoError(t, err)

		require.ErrorIs(t, f.members.SetMuted(ctx, room.ID, "ghost", true), domain.ErrNotMember)
		require.NoError(t, f.members.SetMuted(ctx, room.ID, "A", true))
		m, err := f.store.GetMembership(ctx, room.ID, "A")
		require.NoError(t, err)
		require.True(t, m.IsMuted)
	})
}

func TestCoordinator_ConcurrentJoinLeave(t *testing.T) {
	ctx := context.Background()

	t.Run("it should keep the counter equal to the membership count under interleaving", func(t *testing.T) {
		f := newFixture(t)
		room, err := f.rooms.Create(ctx, "creator", domain.RoomSpec{Title: "busy", MaxParticipants: 6})
		require.NoError(t, err)

		var wg sync.WaitGroup
		for w := 0; w < 8; w++ {
			wg.Add(1)
			go func(seed int64) {
				defer wg.Done()
				rng := rand.New(rand.NewSource(seed))
				for i := 0; i < 50; i++ {
					u := domain.UserID(fmt.Sprintf("user-%d", rng.Intn(12)))
					if rng.Intn(2) == 0 {
						res, err := f.members.Join(ctx, room.ID, u)
						if err == nil {
							assert.LessOrEqual(t, res.Room.CurrentParticipants, 6)
						} else {
							assert.ErrorIs(t, err, domain.ErrRoomFull)
						}
					} else {
						_, err := f.members.Leave(ctx, room.ID, u)
						assert.NoError(t, err)
					}
				}
			}(int64(w))
		}
		wg.Wait()

		members, err := f.store.ListMemberships(ctx, room.ID)
		require.NoError(t, err)
		r := f.room(t, room.ID)
		require.True(t, r.IsActive)
		require.Equal(t, len(members), r.CurrentParticipants)
		require.LessOrEqual(t, r.CurrentParticipants, 6)
	})
}
