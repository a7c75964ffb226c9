package orch_test

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/dkeye/talkrooms/internal/adapters/store"
	"github.com/dkeye/talkrooms/internal/app"
	"github.com/dkeye/talkrooms/internal/app/orch"
	"github.com/dkeye/talkrooms/internal/core"
	"github.com/dkeye/talkrooms/internal/core/coretest"
	"github.com/dkeye/talkrooms/internal/domain"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"
)

const grace = 500 * time.Millisecond

type harness struct {
	o     *orch.Orchestrator
	clock *coretest.FakeClock
	store *store.Memory
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	st := store.NewMemory()
	clock := coretest.NewFakeClock()
	o := orch.New(st, coretest.StaticVerifier{}, clock, orch.Options{
		GracePeriod: grace,
		Registerer:  prometheus.NewRegistry(),
	})
	return &harness{o: o, clock: clock, store: st}
}

// connect opens a connection and, when user is set, authenticates it.
func (h *harness) connect(t *testing.T, sid core.SessionID, user domain.UserID) *coretest.RecordingConn {
	t.Helper()
	conn := coretest.NewRecordingConn()
	h.o.Connect(sid, conn, nil)
	if user != "" {
		err := h.o.Authenticate(context.Background(), sid, coretest.Token(user), domain.ProfileHints{Username: string(user)})
		require.NoError(t, err)
	}
	return conn
}

func (h *harness) emitted(event string) float64 {
	return testutil.ToFloat64(h.o.Metrics.Emitted.WithLabelValues(event))
}

func (h *harness) room(t *testing.T, id domain.RoomID) domain.Room {
	t.Helper()
	r, err := h.store.GetRoom(context.Background(), id)
	require.NoError(t, err)
	return r
}

func TestOrchestrator_Auth(t *testing.T) {
	ctx := context.Background()

	t.Run("it should reply auth-success and sync the profile", func(t *testing.T) {
		h := newHarness(t)
		conn := h.connect(t, "s1", "alice")

		var got orch.AuthSuccess
		require.True(t, conn.Last(orch.EvAuthSuccess, &got))
		require.EqualValues(t, "alice", got.UserID)
		require.Equal(t, "alice@example.com", got.Email)
		require.False(t, got.Resumed)

		p, err := h.store.GetProfile(ctx, "alice")
		require.NoError(t, err)
		require.True(t, p.Online)
		require.Equal(t, "alice", p.Username)
	})

	t.Run("it should bind nothing when the token is rejected", func(t *testing.T) {
		h := newHarness(t)
		h.connect(t, "s1", "")
		err := h.o.Authenticate(ctx, "s1", "bogus", domain.ProfileHints{})
		require.ErrorIs(t, err, domain.ErrAuthentication)

		_, err = h.o.UserOf("s1")
		require.ErrorIs(t, err, domain.ErrNotAuthenticated)
	})

	t.Run("it should refuse room operations before authentication", func(t *testing.T) {
		h := newHarness(t)
		h.connect(t, "s1", "")
		_, err := h.o.CreateRoom(ctx, "s1", domain.RoomSpec{Title: "t"})
		require.ErrorIs(t, err, domain.ErrNotAuthenticated)
		require.ErrorIs(t, h.o.JoinRoom(ctx, "s1", "r"), domain.ErrNotAuthenticated)

		rooms, err := h.store.ListActiveRooms(ctx, 0)
		require.NoError(t, err)
		require.Empty(t, rooms)
	})
}

func TestOrchestrator_Rooms(t *testing.T) {
	ctx := context.Background()

	t.Run("it should announce a new room and seat its creator", func(t *testing.T) {
		h := newHarness(t)
		a := h.connect(t, "a1", "alice")
		lobby := h.connect(t, "c1", "")

		room, err := h.o.CreateRoom(ctx, "a1", domain.RoomSpec{Title: "Evening"})
		require.NoError(t, err)

		require.Equal(t, 1, lobby.Count(orch.EvRoomCreated))
		var joined orch.RoomJoined
		require.True(t, a.Last(orch.EvRoomJoined, &joined))
		require.Equal(t, room.ID, joined.Room.ID)
		require.Equal(t, domain.RoleSpeaker, joined.Membership.Role)
		require.Equal(t, []domain.UserID{"alice"}, h.o.Peers.ListPeers(room.ID))
	})

	t.Run("it should hand existing peers to a joiner and announce them", func(t *testing.T) {
		h := newHarness(t)
		a := h.connect(t, "a1", "alice")
		b := h.connect(t, "b1", "bob")
		room, err := h.o.CreateRoom(ctx, "a1", domain.RoomSpec{Title: "t"})
		require.NoError(t, err)

		require.NoError(t, h.o.JoinRoom(ctx, "b1", room.ID))

		var peers orch.ExistingPeers
		require.True(t, b.Last(orch.EvExistingPeers, &peers))
		require.Equal(t, []domain.UserID{"alice"}, peers.Peers)

		var joined orch.UserJoined
		require.True(t, a.Last(orch.EvUserJoined, &joined))
		require.EqualValues(t, "bob", joined.ID)
		require.Equal(t, domain.RoleListener, joined.Role)
		require.True(t, joined.IsMuted)
		require.Zero(t, b.Count(orch.EvUserJoined))
		require.Equal(t, 2, h.room(t, room.ID).CurrentParticipants)
	})

	t.Run("it should leave the previous room when creating another", func(t *testing.T) {
		h := newHarness(t)
		h.connect(t, "a1", "alice")
		first, err := h.o.CreateRoom(ctx, "a1", domain.RoomSpec{Title: "first"})
		require.NoError(t, err)
		second, err := h.o.CreateRoom(ctx, "a1", domain.RoomSpec{Title: "second"})
		require.NoError(t, err)

		require.False(t, h.room(t, first.ID).IsActive)
		require.True(t, h.room(t, second.ID).IsActive)
		rid, ok := h.o.Registry.RoomOf("a1")
		require.True(t, ok)
		require.Equal(t, second.ID, rid)
	})

	t.Run("it should keep the current room when a join is rejected", func(t *testing.T) {
		h := newHarness(t)
		a := h.connect(t, "a1", "alice")
		h.connect(t, "c1", "carol")
		mine, err := h.o.CreateRoom(ctx, "a1", domain.RoomSpec{Title: "mine"})
		require.NoError(t, err)
		full, err := h.o.CreateRoom(ctx, "c1", domain.RoomSpec{Title: "full", MaxParticipants: 1})
		require.NoError(t, err)
		a.Reset()

		require.ErrorIs(t, h.o.JoinRoom(ctx, "a1", full.ID), domain.ErrRoomFull)

		require.True(t, h.room(t, mine.ID).IsActive)
		_, err = h.store.GetMembership(ctx, mine.ID, "alice")
		require.NoError(t, err)
		rid, ok := h.o.Registry.RoomOf("a1")
		require.True(t, ok)
		require.Equal(t, mine.ID, rid)
		require.Equal(t, []domain.UserID{"alice"}, h.o.Peers.ListPeers(mine.ID))
		require.Zero(t, h.emitted(orch.EvUserLeft))
		require.Zero(t, h.emitted(orch.EvRoomClosed))
		require.Empty(t, a.Types())
	})

	t.Run("it should keep the current room when creating another fails", func(t *testing.T) {
		h := newHarness(t)
		h.connect(t, "a1", "alice")
		mine, err := h.o.CreateRoom(ctx, "a1", domain.RoomSpec{Title: "mine"})
		require.NoError(t, err)

		_, err = h.o.CreateRoom(ctx, "a1", domain.RoomSpec{})
		require.ErrorIs(t, err, domain.ErrRoomTitleEmpty)

		require.True(t, h.room(t, mine.ID).IsActive)
		rid, ok := h.o.Registry.RoomOf("a1")
		require.True(t, ok)
		require.Equal(t, mine.ID, rid)
		require.Zero(t, h.emitted(orch.EvRoomClosed))
	})

	t.Run("it should let members demote themselves but not others", func(t *testing.T) {
		h := newHarness(t)
		a := h.connect(t, "a1", "alice")
		h.connect(t, "b1", "bob")
		h.connect(t, "c1", "carol")
		room, err := h.o.CreateRoom(ctx, "a1", domain.RoomSpec{Title: "t"})
		require.NoError(t, err)
		require.NoError(t, h.o.JoinRoom(ctx, "b1", room.ID))
		require.NoError(t, h.o.JoinRoom(ctx, "c1", room.ID))

		require.NoError(t, h.o.Promote(ctx, "a1", room.ID, "bob"))
		require.Equal(t, 1, a.Count(orch.EvUserPromoted))

		require.ErrorIs(t, h.o.Demote(ctx, "c1", room.ID, "bob"), domain.ErrForbidden)
		require.NoError(t, h.o.Demote(ctx, "b1", room.ID, "bob"))

		var changed orch.RoleChanged
		require.True(t, a.Last(orch.EvUserDemoted, &changed))
		require.EqualValues(t, "bob", changed.UserID)
		require.Equal(t, domain.RoleListener, changed.Role)
		require.True(t, changed.IsMuted)
	})

	t.Run("it should persist and broadcast messages to the whole room", func(t *testing.T) {
		h := newHarness(t)
		a := h.connect(t, "a1", "alice")
		b := h.connect(t, "b1", "bob")
		room, err := h.o.CreateRoom(ctx, "a1", domain.RoomSpec{Title: "t"})
		require.NoError(t, err)
		require.NoError(t, h.o.JoinRoom(ctx, "b1", room.ID))

		msg, err := h.o.SendMessage(ctx, "b1", room.ID, "hello", "", json.RawMessage(`{"lang":"en"}`))
		require.NoError(t, err)
		require.Equal(t, domain.DefaultMessageType, msg.MessageType)
		require.Equal(t, 1, a.Count(orch.EvMessage))
		require.Equal(t, 1, b.Count(orch.EvMessage))
		require.Len(t, h.store.Messages(room.ID), 1)

		var got domain.Message
		require.True(t, a.Last(orch.EvMessage, &got))
		require.Equal(t, "bob", got.Sender.Username)
	})

	t.Run("it should reject messages to a closed room", func(t *testing.T) {
		h := newHarness(t)
		h.connect(t, "a1", "alice")
		room, err := h.o.CreateRoom(ctx, "a1", domain.RoomSpec{Title: "t"})
		require.NoError(t, err)
		require.NoError(t, h.o.LeaveRoom(ctx, "a1", room.ID))

		_, err = h.o.SendMessage(ctx, "a1", room.ID, "anyone?", "", nil)
		require.ErrorIs(t, err, domain.ErrRoomClosed)
		_, err = h.o.SendMessage(ctx, "a1", "missing", "anyone?", "", nil)
		require.ErrorIs(t, err, domain.ErrRoomNotFound)
	})
}

func TestOrchestrator_Presence(t *testing.T) {
	ctx := context.Background()

	t.Run("it should depart exactly once after the grace period and close the empty room once", func(t *testing.T) {
		h := newHarness(t)
		a := h.connect(t, "a1", "alice")
		h.connect(t, "b1", "bob")
		lobby := h.connect(t, "c1", "")
		room, err := h.o.CreateRoom(ctx, "a1", domain.RoomSpec{Title: "t"})
		require.NoError(t, err)
		require.NoError(t, h.o.JoinRoom(ctx, "b1", room.ID))

		h.o.Disconnect("b1")
		h.o.Disconnect("b1")
		h.clock.Advance(grace - time.Millisecond)
		require.Zero(t, a.Count(orch.EvUserLeft))

		h.clock.Advance(time.Millisecond)
		require.Equal(t, 1, a.Count(orch.EvUserLeft))
		require.Equal(t, 1.0, h.emitted(orch.EvUserLeft))
		require.Equal(t, 1, h.room(t, room.ID).CurrentParticipants)
		_, err = h.store.GetMembership(ctx, room.ID, "bob")
		require.ErrorIs(t, err, domain.ErrNotFound)

		p, err := h.store.GetProfile(ctx, "bob")
		require.NoError(t, err)
		require.False(t, p.Online)

		h.o.Disconnect("a1")
		h.clock.Advance(grace)
		require.False(t, h.room(t, room.ID).IsActive)
		require.Equal(t, 1.0, h.emitted(orch.EvRoomClosed))
		require.Equal(t, 1, lobby.Count(orch.EvRoomsList))
		require.Zero(t, h.o.Peers.Rooms())
	})

	t.Run("it should keep the membership when the user reconnects within grace", func(t *testing.T) {
		h := newHarness(t)
		a := h.connect(t, "a1", "alice")
		h.connect(t, "b1", "bob")
		room, err := h.o.CreateRoom(ctx, "a1", domain.RoomSpec{Title: "t"})
		require.NoError(t, err)
		require.NoError(t, h.o.JoinRoom(ctx, "b1", room.ID))
		before, err := h.store.GetMembership(ctx, room.ID, "bob")
		require.NoError(t, err)

		h.o.Disconnect("b1")
		h.clock.Advance(200 * time.Millisecond)
		b2 := h.connect(t, "b2", "bob")
		h.clock.Advance(time.Second)

		var auth orch.AuthSuccess
		require.True(t, b2.Last(orch.EvAuthSuccess, &auth))
		require.True(t, auth.Resumed)
		require.Equal(t, room.ID, auth.RoomID)

		require.Zero(t, a.Count(orch.EvUserLeft))
		after, err := h.store.GetMembership(ctx, room.ID, "bob")
		require.NoError(t, err)
		require.Equal(t, before, after)
		require.Equal(t, 2, h.room(t, room.ID).CurrentParticipants)

		require.NoError(t, h.o.JoinRoom(ctx, "b2", room.ID))
		require.Equal(t, 2, h.room(t, room.ID).CurrentParticipants)
		sid, ok := h.o.Peers.Handle(room.ID, "bob")
		require.True(t, ok)
		require.EqualValues(t, "b2", sid)
	})

	t.Run("it should not evict a fresh peer handle when an old connection drops late", func(t *testing.T) {
		h := newHarness(t)
		h.connect(t, "a1", "alice")
		h.connect(t, "b1", "bob")
		room, err := h.o.CreateRoom(ctx, "a1", domain.RoomSpec{Title: "t"})
		require.NoError(t, err)
		require.NoError(t, h.o.JoinRoom(ctx, "b1", room.ID))

		h.connect(t, "b2", "bob")
		require.NoError(t, h.o.JoinRoom(ctx, "b2", room.ID))
		h.o.Disconnect("b1")

		sid, ok := h.o.Peers.Handle(room.ID, "bob")
		require.True(t, ok)
		require.EqualValues(t, "b2", sid)
		require.Zero(t, h.clock.Pending())
	})

	t.Run("it should sweep a room left behind by a closed tab", func(t *testing.T) {
		h := newHarness(t)
		h.connect(t, "a1", "alice")
		a2 := h.connect(t, "a2", "alice")
		h.connect(t, "b1", "bob")
		first, err := h.o.CreateRoom(ctx, "a1", domain.RoomSpec{Title: "first"})
		require.NoError(t, err)
		second, err := h.o.CreateRoom(ctx, "b1", domain.RoomSpec{Title: "second"})
		require.NoError(t, err)
		require.NoError(t, h.o.JoinRoom(ctx, "a2", second.ID))
		a2.Reset()

		h.o.Disconnect("a1")
		h.clock.Advance(grace - time.Millisecond)
		require.True(t, h.room(t, first.ID).IsActive)

		h.clock.Advance(time.Millisecond)
		require.False(t, h.room(t, first.ID).IsActive)
		_, err = h.store.GetMembership(ctx, first.ID, "alice")
		require.ErrorIs(t, err, domain.ErrNotFound)

		var left orch.UserLeft
		require.True(t, a2.Last(orch.EvUserLeft, &left))
		require.Equal(t, first.ID, left.RoomID)

		_, err = h.store.GetMembership(ctx, second.ID, "alice")
		require.NoError(t, err)
		require.Equal(t, app.Online, h.o.Presence.State("alice"))
	})

	t.Run("it should not sweep a room another tab still sits in", func(t *testing.T) {
		h := newHarness(t)
		h.connect(t, "a1", "alice")
		h.connect(t, "a2", "alice")
		h.connect(t, "b1", "bob")
		first, err := h.o.CreateRoom(ctx, "a1", domain.RoomSpec{Title: "first"})
		require.NoError(t, err)
		second, err := h.o.CreateRoom(ctx, "b1", domain.RoomSpec{Title: "second"})
		require.NoError(t, err)
		require.NoError(t, h.o.JoinRoom(ctx, "a2", second.ID))

		h.connect(t, "a3", "alice")
		require.NoError(t, h.o.JoinRoom(ctx, "a3", first.ID))
		h.o.Disconnect("a1")
		h.clock.Advance(grace)

		require.True(t, h.room(t, first.ID).IsActive)
		_, err = h.store.GetMembership(ctx, first.ID, "alice")
		require.NoError(t, err)
	})

	t.Run("it should close a room once when its last members leave together", func(t *testing.T) {
		h := newHarness(t)
		h.connect(t, "a1", "alice")
		h.connect(t, "b1", "bob")
		room, err := h.o.CreateRoom(ctx, "a1", domain.RoomSpec{Title: "t"})
		require.NoError(t, err)
		require.NoError(t, h.o.JoinRoom(ctx, "b1", room.ID))

		var wg sync.WaitGroup
		for _, sid := range []core.SessionID{"a1", "b1"} {
			wg.Add(1)
			go func(sid core.SessionID) {
				defer wg.Done()
				_ = h.o.LeaveRoom(ctx, sid, room.ID)
			}(sid)
		}
		wg.Wait()

		require.False(t, h.room(t, room.ID).IsActive)
		require.Equal(t, 1.0, h.emitted(orch.EvRoomClosed))
		require.Equal(t, 2.0, h.emitted(orch.EvUserLeft))
	})
}

func TestOrchestrator_Signal(t *testing.T) {
	ctx := context.Background()

	t.Run("it should relay offers to the target's connection", func(t *testing.T) {
		h := newHarness(t)
		h.connect(t, "a1", "alice")
		b := h.connect(t, "b1", "bob")

		offer := json.RawMessage(`{"type":"offer","sdp":"v=0"}`)
		require.NoError(t, h.o.Signal("a1", orch.SignalOffer, "r1", "bob", offer))

		var got orch.SignalRelay
		require.True(t, b.Last(orch.EvWebRTCOffer, &got))
		require.EqualValues(t, "alice", got.FromUserID)
		require.JSONEq(t, string(offer), string(got.Offer))
	})

	t.Run("it should report a disconnected target without delivering anything", func(t *testing.T) {
		h := newHarness(t)
		h.connect(t, "a1", "alice")
		b := h.connect(t, "b1", "bob")
		h.o.Disconnect("b1")
		b.Reset()

		err := h.o.Signal("a1", orch.SignalCandidate, "r1", "bob", json.RawMessage(`{"candidate":"x"}`))
		require.ErrorIs(t, err, domain.ErrTargetNotConnected)
		require.Empty(t, b.Events())
		require.Zero(t, h.emitted(orch.EvWebRTCICE))
	})

	t.Run("it should keep audio levels inside the room and away from the sender", func(t *testing.T) {
		h := newHarness(t)
		a := h.connect(t, "a1", "alice")
		b := h.connect(t, "b1", "bob")
		room, err := h.o.CreateRoom(ctx, "a1", domain.RoomSpec{Title: "t"})
		require.NoError(t, err)

		require.ErrorIs(t, h.o.AudioLevel("b1", room.ID, 0.5), domain.ErrNotMember)
		require.NoError(t, h.o.JoinRoom(ctx, "b1", room.ID))
		require.NoError(t, h.o.AudioLevel("b1", room.ID, 0.5))
		require.Equal(t, 1, a.Count(orch.EvUserAudioLevel))
		require.Zero(t, b.Count(orch.EvUserAudioLevel))
	})
}

func TestOrchestrator_Stage(t *testing.T) {
	ctx := context.Background()

	setup := func(t *testing.T) (*harness, domain.RoomID, *coretest.RecordingConn, *coretest.RecordingConn) {
		h := newHarness(t)
		a := h.connect(t, "a1", "alice")
		b := h.connect(t, "b1", "bob")
		room, err := h.o.CreateRoom(ctx, "a1", domain.RoomSpec{Title: "t"})
		require.NoError(t, err)
		require.NoError(t, h.o.JoinRoom(ctx, "b1", room.ID))
		return h, room.ID, a, b
	}

	t.Run("it should broadcast promotions to the whole room", func(t *testing.T) {
		h, room, a, b := setup(t)
		require.ErrorIs(t, h.o.Promote(ctx, "b1", room, "alice"), domain.ErrForbidden)
		require.NoError(t, h.o.Promote(ctx, "a1", room, "bob"))

		var changed orch.RoleChanged
		require.True(t, b.Last(orch.EvUserPromoted, &changed))
		require.Equal(t, domain.RoleSpeaker, changed.Role)
		require.Equal(t, 1, a.Count(orch.EvUserPromoted))
	})

	t.Run("it should fan out hands, mutes and emotions including the sender", func(t *testing.T) {
		h, room, a, b := setup(t)
		require.NoError(t, h.o.RaiseHand(ctx, "b1", room))
		require.NoError(t, h.o.ToggleMute(ctx, "a1", room, true))
		require.NoError(t, h.o.SendEmotion(ctx, "b1", room, "👏"))

		var hand orch.RaiseHand
		require.True(t, a.Last(orch.EvRaiseHand, &hand))
		require.EqualValues(t, "bob", hand.ID)
		require.Equal(t, 1, b.Count(orch.EvRaiseHand))

		var muted orch.UserMuted
		require.True(t, b.Last(orch.EvUserMuted, &muted))
		require.True(t, muted.IsMuted)
		m, err := h.store.GetMembership(ctx, room, "alice")
		require.NoError(t, err)
		require.True(t, m.IsMuted)

		var emo orch.Emotion
		require.True(t, a.Last(orch.EvEmotion, &emo))
		require.Equal(t, "bob", emo.Identity)
		require.Equal(t, 1, b.Count(orch.EvEmotion))
	})

	t.Run("it should refuse room indicators from outside the room", func(t *testing.T) {
		h, room, _, _ := setup(t)
		h.connect(t, "c1", "carol")
		require.ErrorIs(t, h.o.RaiseHand(ctx, "c1", room), domain.ErrNotMember)
		require.ErrorIs(t, h.o.SendEmotion(ctx, "c1", room, "x"), domain.ErrNotMember)
		require.ErrorIs(t, h.o.RequestPeers("c1", room), domain.ErrNotMember)
		require.ErrorIs(t, h.o.ToggleMute(ctx, "c1", room, false), domain.ErrNotMember)
	})

	t.Run("it should resend peers and list rooms on request", func(t *testing.T) {
		h, room, a, _ := setup(t)
		require.NoError(t, h.o.RequestPeers("a1", room))
		var peers orch.ExistingPeers
		require.True(t, a.Last(orch.EvExistingPeers, &peers))
		require.Equal(t, []domain.UserID{"bob"}, peers.Peers)

		lobby := h.connect(t, "l1", "")
		require.NoError(t, h.o.ListRooms(ctx, "l1"))
		var list orch.RoomsList
		require.True(t, lobby.Last(orch.EvRoomsList, &list))
		require.Len(t, list.Rooms, 1)
		require.Equal(t, room, list.Rooms[0].ID)
	})
}
