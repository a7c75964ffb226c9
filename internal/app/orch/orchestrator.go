package orch

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/dkeye/talkrooms/internal/app"
	"github.com/dkeye/talkrooms/internal/core"
	"github.com/dkeye/talkrooms/internal/domain"
	"github.com/pion/webrtc/v4"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog/log"
)

type Options struct {
	GracePeriod            time.Duration
	DefaultMaxParticipants int
	ICEServers             []webrtc.ICEServer
	Policy                 app.Policy
	// Registerer receives the metrics; nil keeps them private.
	Registerer prometheus.Registerer
}

// Orchestrator turns client events into registry, membership and relay
// operations. Every method is keyed by the connection that sent the event.
type Orchestrator struct {
	Registry *app.Registry
	Peers    *app.PeerDirectory
	Rooms    *app.RoomRegistry
	Members  *app.Coordinator
	Presence *app.Presence
	Relay    *app.Relay
	Metrics  *app.Metrics
	Store    core.Store
	Identity core.IdentityVerifier
	Clock    core.Clock

	ICEServers []webrtc.ICEServer
}

func New(store core.Store, identity core.IdentityVerifier, clock core.Clock, opts Options) *Orchestrator {
	if clock == nil {
		clock = core.RealClock()
	}
	metrics := app.NewMetrics(opts.Registerer)
	registry := app.NewRegistry(clock)
	rooms := app.NewRoomRegistry(store, clock, opts.DefaultMaxParticipants)
	o := &Orchestrator{
		Registry:   registry,
		Peers:      app.NewPeerDirectory(),
		Rooms:      rooms,
		Members:    app.NewCoordinator(rooms, store, app.NewRoomActors(), clock),
		Presence:   app.NewPresence(clock, opts.GracePeriod),
		Relay:      app.NewRelay(registry, opts.Policy, metrics),
		Metrics:    metrics,
		Store:      store,
		Identity:   identity,
		Clock:      clock,
		ICEServers: opts.ICEServers,
	}
	o.Presence.OnOffline(o.onOffline)
	return o
}

// Connect registers a fresh, unauthenticated connection.
func (o *Orchestrator) Connect(sid core.SessionID, conn core.SignalConnection, cancel context.CancelFunc) {
	o.Registry.BindSignal(sid, conn, cancel)
	o.Metrics.Connections.Inc()
}

// Authenticate verifies the token and binds the identity to the connection.
func (o *Orchestrator) Authenticate(ctx context.Context, sid core.SessionID, token string, hints domain.ProfileHints) error {
	ident, err := o.Identity.Verify(ctx, token)
	if err != nil {
		return err
	}
	if ident.UserID == "" {
		return fmt.Errorf("%w: token has no subject", domain.ErrAuthentication)
	}
	if !o.Registry.BindUser(sid, ident.UserID) {
		return fmt.Errorf("%w: connection already bound to another user", domain.ErrAuthentication)
	}
	resumed := o.Presence.Connected(ident.UserID)

	profile := domain.NewProfile(ident.UserID, hints, o.Clock.Now())
	if saved, err := o.Store.UpsertProfile(ctx, profile); err != nil {
		log.Warn().Err(err).Str("module", "app.orch").Str("user", string(ident.UserID)).Msg("profile sync failed")
	} else {
		profile = saved
	}

	reply := AuthSuccess{
		UserID:     ident.UserID,
		Email:      ident.Email,
		Profile:    profile.User(),
		ICEServers: o.ICEServers,
		Resumed:    resumed,
	}
	if resumed {
		reply.RoomID = o.Presence.RoomOf(ident.UserID)
	}
	log.Info().Str("module", "app.orch").Str("sid", string(sid)).Str("user", string(ident.UserID)).Bool("resumed", resumed).Msg("authenticated")
	return o.Relay.ToSession(sid, EvAuthSuccess, reply)
}

// Disconnect forgets the connection. Departure from the room is deferred
// to the presence grace timer.
func (o *Orchestrator) Disconnect(sid core.SessionID) {
	snap, ok := o.Registry.Unbind(sid)
	if !ok {
		return
	}
	o.Metrics.Connections.Dec()
	if snap.User == "" {
		return
	}
	if snap.RoomID != "" {
		o.Peers.RemovePeerHandle(snap.RoomID, snap.User, sid)
		if o.orphaned(snap.User, snap.RoomID) {
			o.Clock.AfterFunc(o.Presence.Grace(), func() { o.sweepRoom(snap.User, snap.RoomID) })
		}
	}
	o.Presence.Disconnected(snap.User, o.Registry.HasUser(snap.User))
}

// orphaned reports a room the user still holds a membership in while none of
// their connections sits in it and presence tracks a different room. Presence
// expiry departs only the room it tracks, so such rooms are swept separately.
func (o *Orchestrator) orphaned(user domain.UserID, room domain.RoomID) bool {
	if o.Presence.RoomOf(user) == room {
		return false
	}
	for _, c := range o.Registry.ConnsOfUser(user) {
		if c.RoomID == room {
			return false
		}
	}
	return true
}

func (o *Orchestrator) sweepRoom(user domain.UserID, room domain.RoomID) {
	if !o.orphaned(user, room) {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	log.Info().Str("module", "app.orch").Str("user", string(user)).Str("room", string(room)).Msg("sweeping room left behind by a closed tab")
	if err := o.depart(ctx, user, room); err != nil {
		log.Error().Err(err).Str("module", "app.orch").Str("user", string(user)).Str("room", string(room)).Msg("sweep failed")
		return
	}
	// Remaining tabs are no longer in the room group; tell them directly.
	o.Relay.ToUser(user, EvUserLeft, UserLeft{RoomID: room, User: o.profile(ctx, user)})
}

func (o *Orchestrator) onOffline(ctx context.Context, user domain.UserID, room domain.RoomID) {
	if err := o.Store.SetOnline(ctx, user, false, o.Clock.Now()); err != nil {
		log.Warn().Err(err).Str("module", "app.orch").Str("user", string(user)).Msg("set offline failed")
	}
	if room == "" {
		return
	}
	if err := o.depart(ctx, user, room); err != nil {
		log.Error().Err(err).Str("module", "app.orch").Str("user", string(user)).Str("room", string(room)).Msg("departure failed")
	}
}

// UserOf returns the authenticated user of the connection.
func (o *Orchestrator) UserOf(sid core.SessionID) (domain.UserID, error) {
	user, ok := o.Registry.UserOf(sid)
	if !ok {
		return "", domain.ErrNotAuthenticated
	}
	return user, nil
}

func (o *Orchestrator) profile(ctx context.Context, user domain.UserID) domain.User {
	p, err := o.Store.GetProfile(ctx, user)
	if err != nil {
		if !errors.Is(err, domain.ErrNotFound) {
			log.Warn().Err(err).Str("module", "app.orch").Str("user", string(user)).Msg("profile lookup failed")
		}
		return domain.User{ID: user, Username: domain.FallbackUsername(user)}
	}
	return p.User()
}

// inRoom checks that the connection currently sits in the room group.
func (o *Orchestrator) inRoom(sid core.SessionID, room domain.RoomID) error {
	cur, ok := o.Registry.RoomOf(sid)
	if !ok || cur != room {
		return domain.ErrNotMember
	}
	return nil
}
