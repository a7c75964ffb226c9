package coretest

import (
	"encoding/json"
	"sync"

	"github.com/dkeye/talkrooms/internal/core"
)

// Event is one decoded outbound frame.
type Event struct {
	Type string
	Data json.RawMessage
}

// RecordingConn is a core.SignalConnection that keeps every frame it is sent.
type RecordingConn struct {
	mu     sync.Mutex
	frames []core.Frame
	closed bool
	full   bool
}

func NewRecordingConn() *RecordingConn { return &RecordingConn{} }

func (c *RecordingConn) TrySend(f core.Frame) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return core.ErrConnectionClosed
	}
	if c.full {
		return core.ErrBackpressure
	}
	cp := make(core.Frame, len(f))
	copy(cp, f)
	c.frames = append(c.frames, cp)
	return nil
}

func (c *RecordingConn) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
}

func (c *RecordingConn) Closed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

// SetFull makes subsequent sends fail with backpressure.
func (c *RecordingConn) SetFull(full bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.full = full
}

func (c *RecordingConn) Events() []Event {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]Event, 0, len(c.frames))
	for _, f := range c.frames {
		var env struct {
			Type string          `json:"type"`
			Data json.RawMessage `json:"data"`
		}
		_ = json.Unmarshal(f, &env)
		out = append(out, Event{Type: env.Type, Data: env.Data})
	}
	return out
}

func (c *RecordingConn) Count(typ string) int {
	n := 0
	for _, e := range c.Events() {
		if e.Type == typ {
			n++
		}
	}
	return n
}

// Last decodes the data of the most recent event of the given type into v.
func (c *RecordingConn) Last(typ string, v any) bool {
	events := c.Events()
	for i := len(events) - 1; i >= 0; i-- {
		if events[i].Type == typ {
			return json.Unmarshal(events[i].Data, v) == nil
		}
	}
	return false
}

func (c *RecordingConn) Types() []string {
	events := c.Events()
	out := make([]string, 0, len(events))
	for _, e := range events {
		out = append(out, e.Type)
	}
	return out
}

func (c *RecordingConn) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.frames = nil
}
