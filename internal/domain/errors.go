package domain

import "errors"

var (
	ErrAuthentication     = errors.New("authentication failed")
	ErrNotAuthenticated   = errors.New("not authenticated")
	ErrRoomNotFound       = errors.New("room not found or closed")
	ErrRoomClosed         = errors.New("room is closed")
	ErrRoomFull           = errors.New("room is full")
	ErrStageFull          = errors.New("stage is full (max 8 speakers)")
	ErrForbidden          = errors.New("only room creator can do this")
	ErrNotMember          = errors.New("user is not a member of this room")
	ErrTargetNotConnected = errors.New("target user not connected")
	ErrPersistence        = errors.New("persistence failure")
	ErrNotFound           = errors.New("record not found")
	ErrBadPayload         = errors.New("bad payload")
	ErrRateLimited        = errors.New("too many requests, slow down")
)

// Code maps an error to the stable code sent on the wire.
func Code(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrAuthentication):
		return "authentication_error"
	case errors.Is(err, ErrNotAuthenticated):
		return "not_authenticated"
	case errors.Is(err, ErrRoomNotFound):
		return "room_not_found"
	case errors.Is(err, ErrRoomClosed):
		return "room_closed"
	case errors.Is(err, ErrRoomFull):
		return "room_full"
	case errors.Is(err, ErrStageFull):
		return "stage_full"
	case errors.Is(err, ErrForbidden):
		return "forbidden"
	case errors.Is(err, ErrNotMember):
		return "not_member"
	case errors.Is(err, ErrTargetNotConnected):
		return "target_not_connected"
	case errors.Is(err, ErrBadPayload), errors.Is(err, ErrRoomTitleEmpty):
		return "bad_payload"
	case errors.Is(err, ErrRateLimited):
		return "rate_limited"
	case errors.Is(err, ErrPersistence):
		return "persistence_failure"
	default:
		return "internal_error"
	}
}

// Public hides persistence details from callers; known errors pass through.
func Public(err error) string {
	switch Code(err) {
	case "internal_error", "persistence_failure":
		return "operation failed"
	}
	return err.Error()
}
