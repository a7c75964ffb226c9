package coretest

import (
	"context"
	"fmt"
	"strings"

	"github.com/dkeye/talkrooms/internal/core"
	"github.com/dkeye/talkrooms/internal/domain"
)

// StaticVerifier accepts tokens of the form "token-<uid>" and nothing else.
type StaticVerifier struct{}

func (StaticVerifier) Verify(_ context.Context, token string) (core.Identity, error) {
	uid, ok := strings.CutPrefix(token, "token-")
	if !ok || uid == "" {
		return core.Identity{}, fmt.Errorf("%w: unknown token", domain.ErrAuthentication)
	}
	return core.Identity{UserID: domain.UserID(uid), Email: uid + "@example.com"}, nil
}

func Token(user domain.UserID) string { return "token-" + string(user) }
