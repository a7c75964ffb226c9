package signal

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/dkeye/talkrooms/internal/app/orch"
	"github.com/dkeye/talkrooms/internal/core"
	"github.com/dkeye/talkrooms/internal/domain"
)

type signalPayload struct {
	RoomID       domain.RoomID   `json:"roomId"`
	TargetUserID domain.UserID   `json:"targetUserId"`
	Offer        json.RawMessage `json:"offer"`
	Answer       json.RawMessage `json:"answer"`
	Candidate    json.RawMessage `json:"candidate"`
}

func (p signalPayload) body(kind orch.SignalKind) json.RawMessage {
	switch kind {
	case orch.SignalAnswer:
		return p.Answer
	case orch.SignalCandidate:
		return p.Candidate
	default:
		return p.Offer
	}
}

// signalHandler relays SDP and ICE payloads without looking inside them.
// An offline target is reported back with its id so the caller can tear
// down the half-open peer connection.
func (ctl *SignalWSController) signalHandler(kind orch.SignalKind) handlerFunc {
	return func(_ context.Context, sid core.SessionID, data json.RawMessage) error {
		var p signalPayload
		if err := decode(data, &p); err != nil {
			return err
		}
		if p.TargetUserID == "" {
			return fmt.Errorf("%w: targetUserId required", domain.ErrBadPayload)
		}
		body := p.body(kind)
		if len(body) == 0 || string(body) == "null" {
			return fmt.Errorf("%w: empty %s", domain.ErrBadPayload, kind.Event())
		}

		err := ctl.Orch.Signal(sid, kind, p.RoomID, p.TargetUserID, body)
		if errors.Is(err, domain.ErrTargetNotConnected) {
			ev := orch.NewErrorEvent(kind.Event(), err)
			ev.TargetUserID = p.TargetUserID
			ctl.sendError(sid, orch.EvWebRTCError, ev, err)
			return nil
		}
		return err
	}
}

func (ctl *SignalWSController) handleAudioLevel(_ context.Context, sid core.SessionID, data json.RawMessage) error {
	var p struct {
		roomPayload
		Level float64 `json:"level"`
	}
	if err := decode(data, &p); err != nil {
		return err
	}
	if err := p.validate(); err != nil {
		return err
	}
	return ctl.Orch.AudioLevel(sid, p.RoomID, p.Level)
}
