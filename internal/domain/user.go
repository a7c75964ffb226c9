// Package domain contains entities without logic, just meta-data
package domain

import (
	"fmt"
	"time"
	"unicode/utf8"
)

const (
	MaxUserIDLen   = 128
	MaxUsernameLen = 36
)

type UserID string

// User is the read-only identity projection carried in events.
type User struct {
	ID        UserID `json:"userId"`
	Username  string `json:"username"`
	AvatarURL string `json:"avatar,omitempty"`
}

// Profile is the externally stored user record the core syncs on auth.
type Profile struct {
	ID           UserID    `json:"id"`
	Username     string    `json:"username"`
	AvatarURL    string    `json:"avatar_url,omitempty"`
	Bio          string    `json:"bio,omitempty"`
	CurrentLevel int       `json:"current_level"`
	TotalPhrases int       `json:"total_phrases"`
	Online       bool      `json:"online"`
	LastSeen     time.Time `json:"last_seen"`
}

// ProfileHints are the optional fields a client sends along with its token.
type ProfileHints struct {
	Username     string `json:"username,omitempty"`
	DisplayName  string `json:"displayName,omitempty"`
	PhotoURL     string `json:"photoURL,omitempty"`
	Bio          string `json:"bio,omitempty"`
	CurrentLevel int    `json:"currentLevel,omitempty"`
	TotalPhrases int    `json:"totalPhrases,omitempty"`
}

// NewProfile builds the profile row synced on authentication.
// The username falls back to the display name, then to a short id-based handle.
func NewProfile(id UserID, hints ProfileHints, now time.Time) Profile {
	username := hints.Username
	if username == "" {
		username = hints.DisplayName
	}
	if username == "" {
		username = FallbackUsername(id)
	}
	username = truncate(username, MaxUsernameLen)
	level := hints.CurrentLevel
	if level == 0 {
		level = 1
	}
	return Profile{
		ID:           id,
		Username:     username,
		AvatarURL:    hints.PhotoURL,
		Bio:          hints.Bio,
		CurrentLevel: level,
		TotalPhrases: hints.TotalPhrases,
		Online:       true,
		LastSeen:     now,
	}
}

// truncate keeps at most n runes of s.
func truncate(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	return string([]rune(s)[:n])
}

// FallbackUsername is the handle used when no name is known for id.
func FallbackUsername(id UserID) string {
	short := string(id)
	if len(short) > 8 {
		short = short[:8]
	}
	return fmt.Sprintf("user_%s", short)
}

func (p *Profile) User() User {
	if p == nil {
		return User{}
	}
	return User{ID: p.ID, Username: p.Username, AvatarURL: p.AvatarURL}
}
