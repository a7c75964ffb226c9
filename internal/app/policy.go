package app

import "github.com/dkeye/talkrooms/internal/core"

type BackpressureAction int

const (
	NoAction BackpressureAction = iota
	DropFrame
	KickConnection
)

func (a BackpressureAction) String() string {
	switch a {
	case DropFrame:
		return "drop"
	case KickConnection:
		return "kick"
	default:
		return "none"
	}
}

// Policy decides what happens to a connection whose send queue is full.
type Policy interface {
	OnBackPressure(sid core.SessionID, event string) BackpressureAction
}

// SimplePolicy kicks slow consumers, except for lossy high-rate events
// where losing a frame is harmless.
type SimplePolicy struct{}

func (SimplePolicy) OnBackPressure(_ core.SessionID, event string) BackpressureAction {
	if event == "user-audio-level" {
		return DropFrame
	}
	return KickConnection
}
