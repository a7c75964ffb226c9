package core

import (
	"context"
	"time"

	"github.com/dkeye/talkrooms/internal/domain"
)

// RoomStore persists room rows. Lookups of missing rows return domain.ErrNotFound.
type RoomStore interface {
	InsertRoom(ctx context.Context, room domain.Room) error
	GetRoom(ctx context.Context, id domain.RoomID) (domain.Room, error)
	ListActiveRooms(ctx context.Context, limit int) ([]domain.Room, error)
	SetParticipantCount(ctx context.Context, id domain.RoomID, n int) error
	// CloseRoom deletes every membership of the room and deactivates it.
	CloseRoom(ctx context.Context, id domain.RoomID) error
}

type MembershipStore interface {
	InsertMembership(ctx context.Context, m domain.Membership) error
	GetMembership(ctx context.Context, room domain.RoomID, user domain.UserID) (domain.Membership, error)
	ListMemberships(ctx context.Context, room domain.RoomID) ([]domain.Membership, error)
	// UpdateRole sets role and mute flag together; domain.ErrNotFound if absent.
	UpdateRole(ctx context.Context, room domain.RoomID, user domain.UserID, role domain.Role, muted bool) error
	SetMuted(ctx context.Context, room domain.RoomID, user domain.UserID, muted bool) error
	// DeleteMembership reports whether a row was removed.
	DeleteMembership(ctx context.Context, room domain.RoomID, user domain.UserID) (bool, error)
}

type ProfileStore interface {
	// UpsertProfile inserts or atomically replaces the profile row.
	UpsertProfile(ctx context.Context, p domain.Profile) (domain.Profile, error)
	GetProfile(ctx context.Context, id domain.UserID) (domain.Profile, error)
	GetProfiles(ctx context.Context, ids []domain.UserID) (map[domain.UserID]domain.Profile, error)
	SetOnline(ctx context.Context, id domain.UserID, online bool, at time.Time) error
}

type MessageStore interface {
	InsertMessage(ctx context.Context, m domain.Message) error
}

// Store is the relational collaborator as a whole.
type Store interface {
	RoomStore
	MembershipStore
	ProfileStore
	MessageStore
}
