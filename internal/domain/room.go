package domain

import (
	"errors"
	"time"
)

const (
	MaxSpeakers            = 8
	DefaultMaxParticipants = 10
	DefaultLanguageLevel   = "beginner"
	MaxRoomTitleLen        = 120
)

var ErrRoomTitleEmpty = errors.New("room title empty")

type RoomID string

type Room struct {
	ID                  RoomID    `json:"id"`
	Title               string    `json:"title"`
	Description         string    `json:"description,omitempty"`
	CreatorID           UserID    `json:"creator_id"`
	MaxParticipants     int       `json:"max_participants"`
	CurrentParticipants int       `json:"current_participants"`
	LanguageLevel       string    `json:"language_level"`
	IsActive            bool      `json:"is_active"`
	CreatedAt           time.Time `json:"created_at"`
}

// RoomSpec is what a creator asks for; zero values get defaults.
type RoomSpec struct {
	Title           string `json:"title"`
	Description     string `json:"description"`
	MaxParticipants int    `json:"maxParticipants"`
	LanguageLevel   string `json:"languageLevel"`
}

func (s RoomSpec) Normalize() (RoomSpec, error) {
	if s.Title == "" {
		return s, ErrRoomTitleEmpty
	}
	s.Title = truncate(s.Title, MaxRoomTitleLen)
	if s.MaxParticipants <= 0 {
		s.MaxParticipants = DefaultMaxParticipants
	}
	if s.LanguageLevel == "" {
		s.LanguageLevel = DefaultLanguageLevel
	}
	return s, nil
}

// RoomSummary is a room row with its creator projection, as listed to clients.
type RoomSummary struct {
	Room
	Creator User `json:"creator"`
}

// RoomDetails is a room with its full membership roster.
type RoomDetails struct {
	Room
	Creator      User          `json:"creator"`
	Participants []Participant `json:"participants"`
}

func (d *RoomDetails) Participant(id UserID) (Participant, bool) {
	for _, p := range d.Participants {
		if p.UserID == id {
			return p, true
		}
	}
	return Participant{}, false
}
