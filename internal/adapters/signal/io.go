package signal

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/dkeye/talkrooms/internal/app/orch"
	"github.com/dkeye/talkrooms/internal/core"
	"github.com/dkeye/talkrooms/internal/domain"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
)

const (
	writeWait    = 5 * time.Second
	eventTimeout = 10 * time.Second
)

type handlerFunc func(ctx context.Context, sid core.SessionID, data json.RawMessage) error

type route struct {
	fn handlerFunc
	// public events are accepted before authentication.
	public   bool
	errEvent string
}

func (ctl *SignalWSController) routes() map[string]route {
	return map[string]route{
		"auth":                 {fn: ctl.handleAuth, public: true, errEvent: orch.EvAuthError},
		"ping":                 {fn: ctl.handlePing, public: true, errEvent: orch.EvError},
		"get-rooms":            {fn: ctl.handleGetRooms, public: true, errEvent: orch.EvRoomError},
		"create-room":          {fn: ctl.handleCreateRoom, errEvent: orch.EvRoomError},
		"join-room":            {fn: ctl.handleJoinRoom, errEvent: orch.EvRoomError},
		"leave-room":           {fn: ctl.handleLeaveRoom, errEvent: orch.EvRoomError},
		"promote-to-speaker":   {fn: ctl.handlePromote, errEvent: orch.EvRoomError},
		"demote-to-listener":   {fn: ctl.handleDemote, errEvent: orch.EvRoomError},
		"request-peers":        {fn: ctl.handleRequestPeers, errEvent: orch.EvRoomError},
		"room-message":         {fn: ctl.handleRoomMessage, errEvent: orch.EvMessageError},
		"raise-hand":           {fn: ctl.handleRaiseHand, errEvent: orch.EvRoomError},
		"toggle-mute":          {fn: ctl.handleToggleMute, errEvent: orch.EvRoomError},
		"send-emotion":         {fn: ctl.handleEmotion, errEvent: orch.EvRoomError},
		"audio-level":          {fn: ctl.handleAudioLevel, errEvent: orch.EvRoomError},
		"webrtc-offer":         {fn: ctl.signalHandler(orch.SignalOffer), errEvent: orch.EvWebRTCError},
		"webrtc-answer":        {fn: ctl.signalHandler(orch.SignalAnswer), errEvent: orch.EvWebRTCError},
		"webrtc-ice-candidate": {fn: ctl.signalHandler(orch.SignalCandidate), errEvent: orch.EvWebRTCError},
	}
}

func (ctl *SignalWSController) writePump(ctx context.Context, c *WsSignalConn) {
	ticker := time.NewTicker(ctl.opts.PingPeriod)
	defer func() {
		ticker.Stop()
		c.Close()
	}()
	for {
		select {
		case <-ctx.Done():
			log.Info().Str("module", "signal").Msg("writePump ctx done")
			return
		case data, ok := <-c.send:
			if !ok {
				log.Debug().Str("module", "signal").Msg("writePump channel closed")
				return
			}
			if err := c.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
				log.Error().Err(err).Str("module", "signal").Msg("writePump set deadline")
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				log.Error().Err(err).Str("module", "signal").Msg("writePump write error")
				return
			}
		case <-ticker.C:
			if err := c.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
				log.Warn().Err(err).Str("module", "signal").Msg("writePump ping failed")
				return
			}
		}
	}
}

func (ctl *SignalWSController) readPump(ctx context.Context, cancel context.CancelFunc, sid core.SessionID, c *WsSignalConn) {
	defer func() {
		log.Info().Str("module", "signal").Str("sid", string(sid)).Msg("readPump closing")
		cancel()
		ctl.Orch.Disconnect(sid)
		c.Close()
	}()

	pongWait := ctl.opts.PingPeriod * 10 / 9
	alive := func(string) error { return c.conn.SetReadDeadline(time.Now().Add(pongWait)) }
	_ = alive("")
	c.conn.SetPongHandler(alive)

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				log.Warn().Err(err).Str("module", "signal").Str("sid", string(sid)).Msg("readPump read error")
			}
			return
		}
		_ = alive("")
		ctl.handleSignal(ctx, sid, data)
	}
}

func (ctl *SignalWSController) handleSignal(ctx context.Context, sid core.SessionID, data []byte) {
	var env struct {
		Type string          `json:"type"`
		Data json.RawMessage `json:"data"`
	}
	if err := json.Unmarshal(data, &env); err != nil || env.Type == "" {
		log.Warn().Err(err).Str("module", "signal").Str("sid", string(sid)).Msg("bad json")
		ctl.replyError(sid, orch.EvError, "", domain.ErrBadPayload)
		return
	}

	r, ok := ctl.table[env.Type]
	if !ok {
		ctl.Orch.Metrics.Inbound.WithLabelValues("unknown").Inc()
		log.Warn().Str("module", "signal").Str("sid", string(sid)).Str("type", env.Type).Msg("unknown signal")
		return
	}
	ctl.Orch.Metrics.Inbound.WithLabelValues(env.Type).Inc()
	ctl.Orch.Registry.Touch(sid)

	if !r.public {
		if _, err := ctl.Orch.UserOf(sid); err != nil {
			ctl.replyError(sid, orch.EvRoomError, env.Type, err)
			return
		}
	}

	ctx, cancel := context.WithTimeout(ctx, eventTimeout)
	defer cancel()
	if err := r.fn(ctx, sid, env.Data); err != nil {
		ctl.replyError(sid, r.errEvent, env.Type, err)
	}
}

func (ctl *SignalWSController) replyError(sid core.SessionID, event, cause string, err error) {
	ctl.sendError(sid, event, orch.NewErrorEvent(cause, err), err)
}

func (ctl *SignalWSController) sendError(sid core.SessionID, event string, body orch.ErrorEvent, err error) {
	l := log.Info()
	if body.Code == "internal_error" || body.Code == "persistence_failure" {
		l = log.Error()
	}
	l.Err(err).Str("module", "signal").Str("sid", string(sid)).Str("event", body.Event).Str("code", body.Code).Msg("event failed")
	if err := ctl.Orch.Relay.ToSession(sid, event, body); err != nil && !errors.Is(err, core.ErrConnectionClosed) {
		log.Warn().Err(err).Str("module", "signal").Str("sid", string(sid)).Msg("error reply not delivered")
	}
}

func decode(data json.RawMessage, v any) error {
	if len(data) == 0 {
		return fmt.Errorf("%w: missing data", domain.ErrBadPayload)
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("%w: %v", domain.ErrBadPayload, err)
	}
	return nil
}
