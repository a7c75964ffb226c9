package app

import (
	"encoding/json"
	"fmt"

	"github.com/dkeye/talkrooms/internal/core"
	"github.com/dkeye/talkrooms/internal/domain"
	"github.com/rs/zerolog/log"
)

// Envelope is the frame layout for every event in both directions.
type Envelope struct {
	Type string `json:"type"`
	Data any    `json:"data,omitempty"`
}

func Encode(event string, data any) (core.Frame, error) {
	b, err := json.Marshal(Envelope{Type: event, Data: data})
	if err != nil {
		return nil, fmt.Errorf("encode %s: %w", event, err)
	}
	return b, nil
}

type PublishResult struct {
	SendTo  int
	Dropped []core.SessionID
}

// Relay delivers events to connections: one session, a user's latest
// connection, a room group, or everyone. Slow receivers are handed to the
// Policy.
type Relay struct {
	conns   *Registry
	policy  Policy
	metrics *Metrics
}

func NewRelay(conns *Registry, policy Policy, metrics *Metrics) *Relay {
	if policy == nil {
		policy = SimplePolicy{}
	}
	if metrics == nil {
		metrics = NewMetrics(nil)
	}
	return &Relay{conns: conns, policy: policy, metrics: metrics}
}

// ToSession replies to a single connection.
func (r *Relay) ToSession(sid core.SessionID, event string, data any) error {
	conn, ok := r.conns.Conn(sid)
	if !ok {
		return core.ErrConnectionClosed
	}
	frame, err := Encode(event, data)
	if err != nil {
		return err
	}
	r.metrics.Emitted.WithLabelValues(event).Inc()
	res := r.deliver([]ConnSnapshot{{SID: sid, Conn: conn}}, "", frame)
	r.handleDropped(res, event)
	if len(res.Dropped) > 0 {
		return core.ErrBackpressure
	}
	return nil
}

// Route sends a point-to-point event to the target user's most recent
// connection.
func (r *Relay) Route(target domain.UserID, event string, data any) error {
	snap, ok := r.conns.ConnOfUser(target)
	if !ok {
		return domain.ErrTargetNotConnected
	}
	frame, err := Encode(event, data)
	if err != nil {
		return err
	}
	r.metrics.Emitted.WithLabelValues(event).Inc()
	res := r.deliver([]ConnSnapshot{snap}, "", frame)
	r.handleDropped(res, event)
	return nil
}

// ToUser sends to every connection of the user.
func (r *Relay) ToUser(user domain.UserID, event string, data any) PublishResult {
	return r.publish(r.conns.ConnsOfUser(user), "", event, data)
}

// ToRoom broadcasts to the room group, skipping exclude when set.
func (r *Relay) ToRoom(room domain.RoomID, exclude core.SessionID, event string, data any) PublishResult {
	return r.publish(r.conns.MembersOfRoom(room), exclude, event, data)
}

// ToAll broadcasts to every live connection.
func (r *Relay) ToAll(event string, data any) PublishResult {
	return r.publish(r.conns.All(), "", event, data)
}

func (r *Relay) publish(targets []ConnSnapshot, exclude core.SessionID, event string, data any) PublishResult {
	frame, err := Encode(event, data)
	if err != nil {
		log.Error().Err(err).Str("module", "app.relay").Str("event", event).Msg("encode failed")
		return PublishResult{}
	}
	r.metrics.Emitted.WithLabelValues(event).Inc()
	res := r.deliver(targets, exclude, frame)
	r.handleDropped(res, event)
	log.Debug().Str("module", "app.relay").Str("event", event).Int("sent_to", res.SendTo).Int("dropped", len(res.Dropped)).Msg("broadcast result")
	return res
}

func (r *Relay) deliver(targets []ConnSnapshot, exclude core.SessionID, frame core.Frame) PublishResult {
	res := PublishResult{}
	for _, t := range targets {
		if t.SID == exclude || t.Conn == nil {
			continue
		}
		if err := t.Conn.TrySend(frame); err != nil {
			res.Dropped = append(res.Dropped, t.SID)
			r.metrics.Deliveries.WithLabelValues("dropped").Inc()
			continue
		}
		res.SendTo++
		r.metrics.Deliveries.WithLabelValues("sent").Inc()
	}
	return res
}

func (r *Relay) handleDropped(res PublishResult, event string) {
	for _, sid := range res.Dropped {
		switch r.policy.OnBackPressure(sid, event) {
		case KickConnection:
			r.Kick(sid)
		case DropFrame, NoAction:
		}
	}
}

// Kick closes the connection; the gateway's disconnect path does the rest.
func (r *Relay) Kick(sid core.SessionID) {
	r.metrics.Kicked.Inc()
	log.Warn().Str("module", "app.relay").Str("sid", string(sid)).Msg("kicking slow connection")
	if r.conns.Cancel(sid) {
		return
	}
	if conn, ok := r.conns.Conn(sid); ok {
		conn.Close()
	}
}
