package domain

import "time"

type Role string

const (
	RoleSpeaker  Role = "speaker"
	RoleListener Role = "listener"
)

// Membership is the persisted (room, user) pair.
// No transport or lifecycle logic here.
type Membership struct {
	RoomID   RoomID    `json:"room_id"`
	UserID   UserID    `json:"user_id"`
	Role     Role      `json:"role"`
	IsMuted  bool      `json:"is_muted"`
	JoinedAt time.Time `json:"joined_at"`
}

// NewListener is the default membership for a non-creator joiner.
func NewListener(room RoomID, user UserID, now time.Time) Membership {
	return Membership{RoomID: room, UserID: user, Role: RoleListener, IsMuted: true, JoinedAt: now}
}

// NewSpeaker is the creator's membership.
func NewSpeaker(room RoomID, user UserID, now time.Time) Membership {
	return Membership{RoomID: room, UserID: user, Role: RoleSpeaker, IsMuted: false, JoinedAt: now}
}

// Participant is a membership joined with the member's profile projection.
type Participant struct {
	UserID    UserID `json:"user_id"`
	Role      Role   `json:"role"`
	IsMuted   bool   `json:"is_muted"`
	Username  string `json:"username"`
	AvatarURL string `json:"avatar_url,omitempty"`
}
