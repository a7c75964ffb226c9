package domain

import (
	"encoding/json"
	"time"
)

const DefaultMessageType = "text"

type Message struct {
	ID          string          `json:"id"`
	RoomID      RoomID          `json:"room_id"`
	UserID      UserID          `json:"user_id"`
	Content     string          `json:"content"`
	MessageType string          `json:"message_type"`
	Metadata    json.RawMessage `json:"metadata,omitempty"`
	CreatedAt   time.Time       `json:"created_at"`
	Sender      User            `json:"sender"`
}
