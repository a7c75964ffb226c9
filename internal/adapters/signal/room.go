package signal

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/dkeye/talkrooms/internal/core"
	"github.com/dkeye/talkrooms/internal/domain"
	"github.com/rs/zerolog/log"
)

type roomPayload struct {
	RoomID domain.RoomID `json:"roomId"`
}

func (p roomPayload) validate() error {
	if p.RoomID == "" {
		return fmt.Errorf("%w: roomId required", domain.ErrBadPayload)
	}
	return nil
}

type targetPayload struct {
	RoomID       domain.RoomID `json:"roomId"`
	TargetUserID domain.UserID `json:"targetUserId"`
}

func (p targetPayload) validate() error {
	if p.RoomID == "" || p.TargetUserID == "" {
		return fmt.Errorf("%w: roomId and targetUserId required", domain.ErrBadPayload)
	}
	return nil
}

func decodeRoom(data json.RawMessage) (domain.RoomID, error) {
	var p roomPayload
	if err := decode(data, &p); err != nil {
		return "", err
	}
	return p.RoomID, p.validate()
}

func (ctl *SignalWSController) handleGetRooms(ctx context.Context, sid core.SessionID, _ json.RawMessage) error {
	return ctl.Orch.ListRooms(ctx, sid)
}

func (ctl *SignalWSController) handleCreateRoom(ctx context.Context, sid core.SessionID, data json.RawMessage) error {
	var spec domain.RoomSpec
	if err := decode(data, &spec); err != nil {
		return err
	}
	user, err := ctl.Orch.UserOf(sid)
	if err != nil {
		return err
	}
	if !ctl.Limiter.Allow(user) {
		return domain.ErrRateLimited
	}
	room, err := ctl.Orch.CreateRoom(ctx, sid, spec)
	if err != nil {
		return err
	}
	log.Info().Str("module", "signal").Str("sid", string(sid)).Str("room", string(room.ID)).Msg("room created")
	return nil
}

func (ctl *SignalWSController) handleJoinRoom(ctx context.Context, sid core.SessionID, data json.RawMessage) error {
	roomID, err := decodeRoom(data)
	if err != nil {
		return err
	}
	return ctl.Orch.JoinRoom(ctx, sid, roomID)
}

func (ctl *SignalWSController) handleLeaveRoom(ctx context.Context, sid core.SessionID, data json.RawMessage) error {
	roomID, err := decodeRoom(data)
	if err != nil {
		return err
	}
	return ctl.Orch.LeaveRoom(ctx, sid, roomID)
}

func (ctl *SignalWSController) handleRequestPeers(_ context.Context, sid core.SessionID, data json.RawMessage) error {
	roomID, err := decodeRoom(data)
	if err != nil {
		return err
	}
	return ctl.Orch.RequestPeers(sid, roomID)
}

func (ctl *SignalWSController) handlePromote(ctx context.Context, sid core.SessionID, data json.RawMessage) error {
	var p targetPayload
	if err := decode(data, &p); err != nil {
		return err
	}
	if err := p.validate(); err != nil {
		return err
	}
	return ctl.Orch.Promote(ctx, sid, p.RoomID, p.TargetUserID)
}

func (ctl *SignalWSController) handleDemote(ctx context.Context, sid core.SessionID, data json.RawMessage) error {
	var p targetPayload
	if err := decode(data, &p); err != nil {
		return err
	}
	if err := p.validate(); err != nil {
		return err
	}
	return ctl.Orch.Demote(ctx, sid, p.RoomID, p.TargetUserID)
}

func (ctl *SignalWSController) handleRoomMessage(ctx context.Context, sid core.SessionID, data json.RawMessage) error {
	var p struct {
		roomPayload
		Content     string          `json:"content"`
		MessageType string          `json:"messageType"`
		Metadata    json.RawMessage `json:"metadata"`
	}
	if err := decode(data, &p); err != nil {
		return err
	}
	if err := p.validate(); err != nil {
		return err
	}
	_, err := ctl.Orch.SendMessage(ctx, sid, p.RoomID, p.Content, p.MessageType, p.Metadata)
	return err
}

func (ctl *SignalWSController) handleRaiseHand(ctx context.Context, sid core.SessionID, data json.RawMessage) error {
	roomID, err := decodeRoom(data)
	if err != nil {
		return err
	}
	return ctl.Orch.RaiseHand(ctx, sid, roomID)
}

func (ctl *SignalWSController) handleToggleMute(ctx context.Context, sid core.SessionID, data json.RawMessage) error {
	var p struct {
		roomPayload
		Muted *bool `json:"muted"`
	}
	if err := decode(data, &p); err != nil {
		return err
	}
	if err := p.validate(); err != nil {
		return err
	}
	if p.Muted == nil {
		return fmt.Errorf("%w: muted required", domain.ErrBadPayload)
	}
	return ctl.Orch.ToggleMute(ctx, sid, p.RoomID, *p.Muted)
}

func (ctl *SignalWSController) handleEmotion(ctx context.Context, sid core.SessionID, data json.RawMessage) error {
	var p struct {
		roomPayload
		Emotion string `json:"emotion"`
	}
	if err := decode(data, &p); err != nil {
		return err
	}
	if err := p.validate(); err != nil {
		return err
	}
	if p.Emotion == "" {
		return fmt.Errorf("%w: emotion required", domain.ErrBadPayload)
	}
	return ctl.Orch.SendEmotion(ctx, sid, p.RoomID, p.Emotion)
}
