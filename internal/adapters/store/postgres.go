package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"

	"github.com/dkeye/talkrooms/internal/core"
	"github.com/dkeye/talkrooms/internal/domain"
)

type roomRow struct {
	ID                  string `gorm:"primaryKey;type:uuid"`
	Title               string `gorm:"not null"`
	Description         string
	CreatorID           string `gorm:"not null;index"`
	MaxParticipants     int    `gorm:"not null"`
	CurrentParticipants int    `gorm:"not null"`
	LanguageLevel       string
	IsActive            bool      `gorm:"not null;index"`
	CreatedAt           time.Time `gorm:"index"`
}

func (roomRow) TableName() string { return "rooms" }

type participantRow struct {
	RoomID   string `gorm:"primaryKey;type:uuid"`
	UserID   string `gorm:"primaryKey"`
	Role     string `gorm:"not null"`
	IsMuted  bool   `gorm:"not null"`
	JoinedAt time.Time
}

func (participantRow) TableName() string { return "room_participants" }

type profileRow struct {
	ID           string `gorm:"primaryKey"`
	Username     string `gorm:"not null"`
	AvatarURL    string
	Bio          string
	CurrentLevel int
	TotalPhrases int
	Online       bool
	LastSeen     time.Time
}

func (profileRow) TableName() string { return "profiles" }

type messageRow struct {
	ID          string `gorm:"primaryKey;type:uuid"`
	RoomID      string `gorm:"not null;index"`
	UserID      string `gorm:"not null"`
	Content     string
	MessageType string `gorm:"not null"`
	Metadata    []byte `gorm:"type:jsonb"`
	CreatedAt   time.Time
}

func (messageRow) TableName() string { return "room_messages" }

// Postgres is the relational core.Store backed by GORM.
type Postgres struct {
	db *gorm.DB
}

var _ core.Store = (*Postgres)(nil)

// OpenPostgres connects with the given DSN and migrates the schema.
func OpenPostgres(dsn string) (*Postgres, error) {
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Warn),
	})
	if err != nil {
		return nil, fmt.Errorf("gorm.Open: %w", err)
	}
	if err := db.AutoMigrate(&profileRow{}, &roomRow{}, &participantRow{}, &messageRow{}); err != nil {
		return nil, fmt.Errorf("auto migrate: %w", err)
	}
	log.Info().Str("module", "adapters.store").Msg("postgres store ready")
	return &Postgres{db: db}, nil
}

func NewPostgres(db *gorm.DB) *Postgres { return &Postgres{db: db} }

func (p *Postgres) Close() error {
	sqlDB, err := p.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

func notFound(err error) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return domain.ErrNotFound
	}
	return err
}

func (p *Postgres) InsertRoom(ctx context.Context, room domain.Room) error {
	row := toRoomRow(room)
	return p.db.WithContext(ctx).Create(&row).Error
}

func (p *Postgres) GetRoom(ctx context.Context, id domain.RoomID) (domain.Room, error) {
	var row roomRow
	if err := p.db.WithContext(ctx).First(&row, "id = ?", string(id)).Error; err != nil {
		return domain.Room{}, notFound(err)
	}
	return row.toDomain(), nil
}

func (p *Postgres) ListActiveRooms(ctx context.Context, limit int) ([]domain.Room, error) {
	var rows []roomRow
	q := p.db.WithContext(ctx).Where("is_active = ?", true).Order("created_at DESC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	if err := q.Find(&rows).Error; err != nil {
		return nil, err
	}
	out := make([]domain.Room, 0, len(rows))
	for _, r := range rows {
		out = append(out, r.toDomain())
	}
	return out, nil
}

func (p *Postgres) SetParticipantCount(ctx context.Context, id domain.RoomID, n int) error {
	res := p.db.WithContext(ctx).Model(&roomRow{}).
		Where("id = ?", string(id)).
		Update("current_participants", n)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return domain.ErrNotFound
	}
	return nil
}

func (p *Postgres) CloseRoom(ctx context.Context, id domain.RoomID) error {
	return p.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("room_id = ?", string(id)).Delete(&participantRow{}).Error; err != nil {
			return err
		}
		res := tx.Model(&roomRow{}).
			Where("id = ?", string(id)).
			Updates(map[string]any{"is_active": false, "current_participants": 0})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return domain.ErrNotFound
		}
		return nil
	})
}

func (p *Postgres) InsertMembership(ctx context.Context, m domain.Membership) error {
	row := participantRow{
		RoomID:   string(m.RoomID),
		UserID:   string(m.UserID),
		Role:     string(m.Role),
		IsMuted:  m.IsMuted,
		JoinedAt: m.JoinedAt,
	}
	return p.db.WithContext(ctx).
		Clauses(clause.OnConflict{DoNothing: true}).
		Create(&row).Error
}

func (p *Postgres) GetMembership(ctx context.Context, room domain.RoomID, user domain.UserID) (domain.Membership, error) {
	var row participantRow
	err := p.db.WithContext(ctx).
		Where("room_id = ? AND user_id = ?", string(room), string(user)).
		First(&row).Error
	if err != nil {
		return domain.Membership{}, notFound(err)
	}
	return row.toDomain(), nil
}

func (p *Postgres) ListMemberships(ctx context.Context, room domain.RoomID) ([]domain.Membership, error) {
	var rows []participantRow
	err := p.db.WithContext(ctx).
		Where("room_id = ?", string(room)).
		Order("joined_at ASC").
		Find(&rows).Error
	if err != nil {
		return nil, err
	}
	out := make([]domain.Membership, 0, len(rows))
	for _, r := range rows {
		out = append(out, r.toDomain())
	}
	return out, nil
}

func (p *Postgres) updateParticipant(ctx context.Context, room domain.RoomID, user domain.UserID, fields map[string]any) error {
	res := p.db.WithContext(ctx).Model(&participantRow{}).
		Where("room_id = ? AND user_id = ?", string(room), string(user)).
		Updates(fields)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return domain.ErrNotFound
	}
	return nil
}

func (p *Postgres) UpdateRole(ctx context.Context, room domain.RoomID, user domain.UserID, role domain.Role, muted bool) error {
	return p.updateParticipant(ctx, room, user, map[string]any{"role": string(role), "is_muted": muted})
}

func (p *Postgres) SetMuted(ctx context.Context, room domain.RoomID, user domain.UserID, muted bool) error {
	return p.updateParticipant(ctx, room, user, map[string]any{"is_muted": muted})
}

func (p *Postgres) DeleteMembership(ctx context.Context, room domain.RoomID, user domain.UserID) (bool, error) {
	res := p.db.WithContext(ctx).
		Where("room_id = ? AND user_id = ?", string(room), string(user)).
		Delete(&participantRow{})
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

func (p *Postgres) UpsertProfile(ctx context.Context, prof domain.Profile) (domain.Profile, error) {
	row := toProfileRow(prof)
	err := p.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns: []clause.Column{{Name: "id"}},
			DoUpdates: clause.AssignmentColumns([]string{
				"username", "avatar_url", "bio", "current_level", "total_phrases", "online", "last_seen",
			}),
		}).
		Create(&row).Error
	if err != nil {
		return domain.Profile{}, err
	}
	return row.toDomain(), nil
}

func (p *Postgres) GetProfile(ctx context.Context, id domain.UserID) (domain.Profile, error) {
	var row profileRow
	if err := p.db.WithContext(ctx).First(&row, "id = ?", string(id)).Error; err != nil {
		return domain.Profile{}, notFound(err)
	}
	return row.toDomain(), nil
}

func (p *Postgres) GetProfiles(ctx context.Context, ids []domain.UserID) (map[domain.UserID]domain.Profile, error) {
	out := make(map[domain.UserID]domain.Profile, len(ids))
	if len(ids) == 0 {
		return out, nil
	}
	keys := make([]string, 0, len(ids))
	for _, id := range ids {
		keys = append(keys, string(id))
	}
	var rows []profileRow
	if err := p.db.WithContext(ctx).Where("id IN ?", keys).Find(&rows).Error; err != nil {
		return nil, err
	}
	for _, r := range rows {
		out[domain.UserID(r.ID)] = r.toDomain()
	}
	return out, nil
}

func (p *Postgres) SetOnline(ctx context.Context, id domain.UserID, online bool, at time.Time) error {
	return p.db.WithContext(ctx).Model(&profileRow{}).
		Where("id = ?", string(id)).
		Updates(map[string]any{"online": online, "last_seen": at}).Error
}

func (p *Postgres) InsertMessage(ctx context.Context, m domain.Message) error {
	row := messageRow{
		ID:          m.ID,
		RoomID:      string(m.RoomID),
		UserID:      string(m.UserID),
		Content:     m.Content,
		MessageType: m.MessageType,
		Metadata:    m.Metadata,
		CreatedAt:   m.CreatedAt,
	}
	return p.db.WithContext(ctx).Create(&row).Error
}

func toRoomRow(r domain.Room) roomRow {
	return roomRow{
		ID:                  string(r.ID),
		Title:               r.Title,
		Description:         r.Description,
		CreatorID:           string(r.CreatorID),
		MaxParticipants:     r.MaxParticipants,
		CurrentParticipants: r.CurrentParticipants,
		LanguageLevel:       r.LanguageLevel,
		IsActive:            r.IsActive,
		CreatedAt:           r.CreatedAt,
	}
}

func (r roomRow) toDomain() domain.Room {
	return domain.Room{
		ID:                  domain.RoomID(r.ID),
		Title:               r.Title,
		Description:         r.Description,
		CreatorID:           domain.UserID(r.CreatorID),
		MaxParticipants:     r.MaxParticipants,
		CurrentParticipants: r.CurrentParticipants,
		LanguageLevel:       r.LanguageLevel,
		IsActive:            r.IsActive,
		CreatedAt:           r.CreatedAt,
	}
}

func (r participantRow) toDomain() domain.Membership {
	return domain.Membership{
		RoomID:   domain.RoomID(r.RoomID),
		UserID:   domain.UserID(r.UserID),
		Role:     domain.Role(r.Role),
		IsMuted:  r.IsMuted,
		JoinedAt: r.JoinedAt,
	}
}

func toProfileRow(p domain.Profile) profileRow {
	return profileRow{
		ID:           string(p.ID),
		Username:     p.Username,
		AvatarURL:    p.AvatarURL,
		Bio:          p.Bio,
		CurrentLevel: p.CurrentLevel,
		TotalPhrases: p.TotalPhrases,
		Online:       p.Online,
		LastSeen:     p.LastSeen,
	}
}

func (r profileRow) toDomain() domain.Profile {
	return domain.Profile{
		ID:           domain.UserID(r.ID),
		Username:     r.Username,
		AvatarURL:    r.AvatarURL,
		Bio:          r.Bio,
		CurrentLevel: r.CurrentLevel,
		TotalPhrases: r.TotalPhrases,
		Online:       r.Online,
		LastSeen:     r.LastSeen,
	}
}
