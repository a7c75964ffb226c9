// Package identity verifies ID tokens issued by the external identity
// provider (Firebase Auth) against its published JWK set.
package identity

import (
	"context"
	"fmt"
	"time"

	"github.com/lestrrat-go/jwx/v2/jwk"
	"github.com/lestrrat-go/jwx/v2/jws"
	"github.com/lestrrat-go/jwx/v2/jwt"
	"github.com/rs/zerolog/log"

	"github.com/dkeye/talkrooms/internal/core"
	"github.com/dkeye/talkrooms/internal/domain"
)

const acceptableSkew = 30 * time.Second

type Options struct {
	Issuer   string
	Audience string
	// Now overrides the validation clock.
	Now func() time.Time
}

// Verifier checks signature, issuer, audience and expiry of ID tokens.
type Verifier struct {
	keys jwk.Set
	opts Options
}

var _ core.IdentityVerifier = (*Verifier)(nil)

func NewVerifier(keys jwk.Set, opts Options) *Verifier {
	return &Verifier{keys: keys, opts: opts}
}

// NewRemoteVerifier fetches the JWK set from jwksURL and keeps it refreshed
// for as long as ctx lives.
func NewRemoteVerifier(ctx context.Context, jwksURL string, refresh time.Duration, opts Options) (*Verifier, error) {
	cache := jwk.NewCache(ctx)
	if err := cache.Register(jwksURL, jwk.WithMinRefreshInterval(refresh)); err != nil {
		return nil, fmt.Errorf("register jwks %s: %w", jwksURL, err)
	}
	if _, err := cache.Refresh(ctx, jwksURL); err != nil {
		return nil, fmt.Errorf("fetch jwks %s: %w", jwksURL, err)
	}
	log.Info().Str("module", "adapters.identity").Str("jwks", jwksURL).Dur("refresh", refresh).Msg("jwks cache ready")
	return NewVerifier(jwk.NewCachedSet(cache, jwksURL), opts), nil
}

func (v *Verifier) Verify(_ context.Context, token string) (core.Identity, error) {
	if token == "" {
		return core.Identity{}, fmt.Errorf("%w: missing token", domain.ErrAuthentication)
	}
	parseOpts := []jwt.ParseOption{
		jwt.WithKeySet(v.keys, jws.WithInferAlgorithmFromKey(true)),
		jwt.WithValidate(true),
		jwt.WithAcceptableSkew(acceptableSkew),
	}
	if v.opts.Issuer != "" {
		parseOpts = append(parseOpts, jwt.WithIssuer(v.opts.Issuer))
	}
	if v.opts.Audience != "" {
		parseOpts = append(parseOpts, jwt.WithAudience(v.opts.Audience))
	}
	if v.opts.Now != nil {
		parseOpts = append(parseOpts, jwt.WithClock(jwt.ClockFunc(v.opts.Now)))
	}

	tok, err := jwt.ParseString(token, parseOpts...)
	if err != nil {
		return core.Identity{}, fmt.Errorf("%w: %v", domain.ErrAuthentication, err)
	}
	sub := tok.Subject()
	if sub == "" || len(sub) > domain.MaxUserIDLen {
		return core.Identity{}, fmt.Errorf("%w: invalid subject", domain.ErrAuthentication)
	}

	ident := core.Identity{UserID: domain.UserID(sub)}
	if raw, ok := tok.Get("email"); ok {
		ident.Email, _ = raw.(string)
	}
	return ident, nil
}
