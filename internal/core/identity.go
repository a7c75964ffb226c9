package core

import (
	"context"

	"github.com/dkeye/talkrooms/internal/domain"
)

// Identity is what the external identity provider vouches for.
type Identity struct {
	UserID domain.UserID
	Email  string
}

// IdentityVerifier checks an identity token issued by the external provider.
// Failures wrap domain.ErrAuthentication.
type IdentityVerifier interface {
	Verify(ctx context.Context, token string) (Identity, error)
}
