package orch

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/dkeye/talkrooms/internal/core"
	"github.com/dkeye/talkrooms/internal/domain"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

// Signal relays an offer, answer or ICE candidate to the target user's
// latest connection. The payload is forwarded untouched.
func (o *Orchestrator) Signal(sid core.SessionID, kind SignalKind, roomID domain.RoomID, target domain.UserID, payload json.RawMessage) error {
	user, err := o.UserOf(sid)
	if err != nil {
		return err
	}
	msg := SignalRelay{RoomID: roomID, FromUserID: user}
	switch kind {
	case SignalAnswer:
		msg.Answer = payload
	case SignalCandidate:
		msg.Candidate = payload
	default:
		msg.Offer = payload
	}
	if err := o.Relay.Route(target, kind.Event(), msg); err != nil {
		log.Debug().Err(err).Str("module", "app.orch").Str("from", string(user)).Str("to", string(target)).Str("event", kind.Event()).Msg("signal not delivered")
		return err
	}
	return nil
}

func (o *Orchestrator) ToggleMute(ctx context.Context, sid core.SessionID, roomID domain.RoomID, muted bool) error {
	user, err := o.UserOf(sid)
	if err != nil {
		return err
	}
	if err := o.Members.SetMuted(ctx, roomID, user, muted); err != nil {
		return err
	}
	o.Relay.ToRoom(roomID, "", EvUserMuted, UserMuted{RoomID: roomID, UserID: user, IsMuted: muted})
	return nil
}

// AudioLevel fans a speaking indicator out to the rest of the room.
func (o *Orchestrator) AudioLevel(sid core.SessionID, roomID domain.RoomID, level float64) error {
	user, err := o.UserOf(sid)
	if err != nil {
		return err
	}
	if err := o.inRoom(sid, roomID); err != nil {
		return err
	}
	o.Relay.ToRoom(roomID, sid, EvUserAudioLevel, AudioLevel{RoomID: roomID, UserID: user, Level: level})
	return nil
}

func (o *Orchestrator) RaiseHand(ctx context.Context, sid core.SessionID, roomID domain.RoomID) error {
	user, err := o.UserOf(sid)
	if err != nil {
		return err
	}
	if err := o.inRoom(sid, roomID); err != nil {
		return err
	}
	o.Relay.ToRoom(roomID, "", EvRaiseHand, RaiseHand{RoomID: roomID, User: o.profile(ctx, user)})
	return nil
}

func (o *Orchestrator) SendEmotion(ctx context.Context, sid core.SessionID, roomID domain.RoomID, emotion string) error {
	user, err := o.UserOf(sid)
	if err != nil {
		return err
	}
	if err := o.inRoom(sid, roomID); err != nil {
		return err
	}
	o.Relay.ToRoom(roomID, "", EvEmotion, Emotion{
		RoomID:   roomID,
		UserID:   user,
		Identity: o.profile(ctx, user).Username,
		Emotion:  emotion,
	})
	return nil
}

// SendMessage persists a chat message and broadcasts it to the room,
// sender included.
func (o *Orchestrator) SendMessage(ctx context.Context, sid core.SessionID, roomID domain.RoomID, content, messageType string, metadata json.RawMessage) (domain.Message, error) {
	user, err := o.UserOf(sid)
	if err != nil {
		return domain.Message{}, err
	}
	if content == "" {
		return domain.Message{}, fmt.Errorf("%w: empty message", domain.ErrBadPayload)
	}
	if _, err := o.Rooms.Lookup(ctx, roomID); err != nil {
		return domain.Message{}, err
	}
	if err := o.inRoom(sid, roomID); err != nil {
		return domain.Message{}, err
	}
	if messageType == "" {
		messageType = domain.DefaultMessageType
	}
	msg := domain.Message{
		ID:          uuid.NewString(),
		RoomID:      roomID,
		UserID:      user,
		Content:     content,
		MessageType: messageType,
		Metadata:    metadata,
		CreatedAt:   o.Clock.Now(),
		Sender:      o.profile(ctx, user),
	}
	if err := o.Store.InsertMessage(ctx, msg); err != nil {
		return domain.Message{}, errors.Join(domain.ErrPersistence, err)
	}
	o.Relay.ToRoom(roomID, "", EvMessage, msg)
	return msg, nil
}
