package orch

import (
	"encoding/json"

	"github.com/dkeye/talkrooms/internal/domain"
	"github.com/pion/webrtc/v4"
)

// Outbound event names.
const (
	EvAuthSuccess    = "auth-success"
	EvAuthError      = "auth-error"
	EvRoomCreated    = "room-created"
	EvRoomsList      = "rooms-list"
	EvRoomJoined     = "room-joined"
	EvExistingPeers  = "existing-peers"
	EvUserJoined     = "user-joined"
	EvUserLeft       = "user-left"
	EvRoomClosed     = "room-closed"
	EvUserPromoted   = "user-promoted"
	EvUserDemoted    = "user-demoted"
	EvMessage        = "message"
	EvRaiseHand      = "raise-hand"
	EvUserMuted      = "user-muted"
	EvUserAudioLevel = "user-audio-level"
	EvEmotion        = "emotion"
	EvWebRTCOffer    = "webrtc-offer"
	EvWebRTCAnswer   = "webrtc-answer"
	EvWebRTCICE      = "webrtc-ice-candidate"
	EvWebRTCError    = "webrtc-error"
	EvRoomError      = "room-error"
	EvMessageError   = "message-error"
	EvError          = "error"
	EvPong           = "pong"
)

type AuthSuccess struct {
	UserID     domain.UserID      `json:"userId"`
	Email      string             `json:"email,omitempty"`
	Profile    domain.User        `json:"profile"`
	ICEServers []webrtc.ICEServer `json:"iceServers"`
	// Resumed is set when the connection picked up a session still inside
	// its grace period; RoomID is the room it was in.
	Resumed bool          `json:"resumed,omitempty"`
	RoomID  domain.RoomID `json:"roomId,omitempty"`
}

type RoomsList struct {
	Rooms []domain.RoomSummary `json:"rooms"`
}

type RoomJoined struct {
	Room       *domain.RoomDetails `json:"room"`
	Membership domain.Membership   `json:"membership"`
}

type ExistingPeers struct {
	RoomID domain.RoomID   `json:"roomId"`
	Peers  []domain.UserID `json:"peers"`
}

type UserJoined struct {
	RoomID domain.RoomID `json:"roomId"`
	domain.User
	Role    domain.Role `json:"role"`
	IsMuted bool        `json:"isMuted"`
}

type UserLeft struct {
	RoomID domain.RoomID `json:"roomId"`
	domain.User
}

type RoomClosed struct {
	RoomID domain.RoomID `json:"roomId"`
	Reason string        `json:"reason"`
}

type RoleChanged struct {
	RoomID  domain.RoomID `json:"roomId"`
	UserID  domain.UserID `json:"userId"`
	Role    domain.Role   `json:"role"`
	IsMuted bool          `json:"isMuted"`
}

type RaiseHand struct {
	RoomID domain.RoomID `json:"roomId"`
	domain.User
}

type UserMuted struct {
	RoomID  domain.RoomID `json:"roomId"`
	UserID  domain.UserID `json:"userId"`
	IsMuted bool          `json:"isMuted"`
}

type AudioLevel struct {
	RoomID domain.RoomID `json:"roomId"`
	UserID domain.UserID `json:"userId"`
	Level  float64       `json:"level"`
}

type Emotion struct {
	RoomID   domain.RoomID `json:"roomId"`
	UserID   domain.UserID `json:"userId"`
	Identity string        `json:"identity"`
	Emotion  string        `json:"emotion"`
}

// SignalKind selects which of offer, answer or candidate is relayed.
type SignalKind int

const (
	SignalOffer SignalKind = iota
	SignalAnswer
	SignalCandidate
)

func (k SignalKind) Event() string {
	switch k {
	case SignalAnswer:
		return EvWebRTCAnswer
	case SignalCandidate:
		return EvWebRTCICE
	default:
		return EvWebRTCOffer
	}
}

// SignalRelay carries an opaque SDP or ICE payload between two users.
type SignalRelay struct {
	RoomID     domain.RoomID   `json:"roomId,omitempty"`
	FromUserID domain.UserID   `json:"fromUserId"`
	Offer      json.RawMessage `json:"offer,omitempty"`
	Answer     json.RawMessage `json:"answer,omitempty"`
	Candidate  json.RawMessage `json:"candidate,omitempty"`
}

// ErrorEvent is the body of every *-error reply.
type ErrorEvent struct {
	Code         string        `json:"code"`
	Message      string        `json:"message"`
	Event        string        `json:"event,omitempty"`
	TargetUserID domain.UserID `json:"targetUserId,omitempty"`
}

func NewErrorEvent(event string, err error) ErrorEvent {
	return ErrorEvent{Code: domain.Code(err), Message: domain.Public(err), Event: event}
}
