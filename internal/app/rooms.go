package app

import (
	"context"
	"errors"
	"fmt"

	"github.com/dkeye/talkrooms/internal/core"
	"github.com/dkeye/talkrooms/internal/domain"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

// ActiveListLimit caps rooms-list responses.
const ActiveListLimit = 50

func persistErr(op string, err error) error {
	return fmt.Errorf("%s: %w: %w", op, domain.ErrPersistence, err)
}

// RoomRegistry owns room records: creation, lookup, closing and the
// participant counter.
type RoomRegistry struct {
	store         core.Store
	clock         core.Clock
	defaultMaxCap int
}

func NewRoomRegistry(store core.Store, clock core.Clock, defaultMax int) *RoomRegistry {
	if clock == nil {
		clock = core.RealClock()
	}
	if defaultMax <= 0 {
		defaultMax = domain.DefaultMaxParticipants
	}
	return &RoomRegistry{store: store, clock: clock, defaultMaxCap: defaultMax}
}

// Create persists a new active room with its creator as the first speaker.
func (r *RoomRegistry) Create(ctx context.Context, creator domain.UserID, spec domain.RoomSpec) (domain.Room, error) {
	if spec.MaxParticipants <= 0 {
		spec.MaxParticipants = r.defaultMaxCap
	}
	spec, err := spec.Normalize()
	if err != nil {
		return domain.Room{}, err
	}
	now := r.clock.Now()
	room := domain.Room{
		ID:                  domain.RoomID(uuid.NewString()),
		Title:               spec.Title,
		Description:         spec.Description,
		CreatorID:           creator,
		MaxParticipants:     spec.MaxParticipants,
		CurrentParticipants: 1,
		LanguageLevel:       spec.LanguageLevel,
		IsActive:            true,
		CreatedAt:           now,
	}
	if err := r.store.InsertRoom(ctx, room); err != nil {
		return domain.Room{}, persistErr("insert room", err)
	}
	if err := r.store.InsertMembership(ctx, domain.NewSpeaker(room.ID, creator, now)); err != nil {
		return domain.Room{}, persistErr("insert creator membership", err)
	}
	log.Info().Str("module", "app.rooms").Str("room", string(room.ID)).Str("creator", string(creator)).Msg("room created")
	return room, nil
}

// Lookup returns the room if it exists and is active.
func (r *RoomRegistry) Lookup(ctx context.Context, id domain.RoomID) (domain.Room, error) {
	room, err := r.store.GetRoom(ctx, id)
	if errors.Is(err, domain.ErrNotFound) {
		return domain.Room{}, domain.ErrRoomNotFound
	}
	if err != nil {
		return domain.Room{}, persistErr("get room", err)
	}
	if !room.IsActive {
		return room, domain.ErrRoomClosed
	}
	return room, nil
}

// Active is Lookup that folds both missing and closed rooms into nil.
func (r *RoomRegistry) Active(ctx context.Context, id domain.RoomID) (*domain.Room, error) {
	room, err := r.Lookup(ctx, id)
	if errors.Is(err, domain.ErrRoomNotFound) || errors.Is(err, domain.ErrRoomClosed) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &room, nil
}

// GetDetails returns the active room with creator and participant
// projections, or nil when the room is missing or closed.
func (r *RoomRegistry) GetDetails(ctx context.Context, id domain.RoomID) (*domain.RoomDetails, error) {
	room, err := r.Active(ctx, id)
	if err != nil || room == nil {
		return nil, err
	}
	members, err := r.store.ListMemberships(ctx, id)
	if err != nil {
		return nil, persistErr("list memberships", err)
	}
	ids := make([]domain.UserID, 0, len(members)+1)
	ids = append(ids, room.CreatorID)
	for _, m := range members {
		ids = append(ids, m.UserID)
	}
	profiles, err := r.store.GetProfiles(ctx, ids)
	if err != nil {
		return nil, persistErr("get profiles", err)
	}

	details := &domain.RoomDetails{
		Room:         *room,
		Creator:      projection(profiles, room.CreatorID),
		Participants: make([]domain.Participant, 0, len(members)),
	}
	for _, m := range members {
		u := projection(profiles, m.UserID)
		details.Participants = append(details.Participants, domain.Participant{
			UserID:    m.UserID,
			Role:      m.Role,
			IsMuted:   m.IsMuted,
			Username:  u.Username,
			AvatarURL: u.AvatarURL,
		})
	}
	return details, nil
}

// Close deactivates the room and drops its memberships. It reports whether
// this call performed the transition.
func (r *RoomRegistry) Close(ctx context.Context, id domain.RoomID) (bool, error) {
	room, err := r.store.GetRoom(ctx, id)
	if errors.Is(err, domain.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, persistErr("get room", err)
	}
	if !room.IsActive {
		return false, nil
	}
	if err := r.store.CloseRoom(ctx, id); err != nil {
		return false, persistErr("close room", err)
	}
	log.Info().Str("module", "app.rooms").Str("room", string(id)).Msg("room closed")
	return true, nil
}

// ReconcileCount recomputes the participant counter from memberships.
func (r *RoomRegistry) ReconcileCount(ctx context.Context, id domain.RoomID) (int, error) {
	members, err := r.store.ListMemberships(ctx, id)
	if err != nil {
		return 0, persistErr("list memberships", err)
	}
	if err := r.store.SetParticipantCount(ctx, id, len(members)); err != nil {
		return 0, persistErr("set participant count", err)
	}
	return len(members), nil
}

// ListActive returns the newest active rooms with creator projections.
func (r *RoomRegistry) ListActive(ctx context.Context) ([]domain.RoomSummary, error) {
	rooms, err := r.store.ListActiveRooms(ctx, ActiveListLimit)
	if err != nil {
		return nil, persistErr("list rooms", err)
	}
	ids := make([]domain.UserID, 0, len(rooms))
	for _, room := range rooms {
		ids = append(ids, room.CreatorID)
	}
	profiles, err := r.store.GetProfiles(ctx, ids)
	if err != nil {
		return nil, persistErr("get profiles", err)
	}
	out := make([]domain.RoomSummary, 0, len(rooms))
	for _, room := range rooms {
		out = append(out, domain.RoomSummary{Room: room, Creator: projection(profiles, room.CreatorID)})
	}
	return out, nil
}

func projection(profiles map[domain.UserID]domain.Profile, id domain.UserID) domain.User {
	if p, ok := profiles[id]; ok {
		return p.User()
	}
	return domain.User{ID: id, Username: domain.FallbackUsername(id)}
}
