package app

import (
	"context"
	"crypto/rand"
	"crypto/subtle"
	"encoding/hex"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"camrelay/internal/core"
	"camrelay/internal/domain"
)

// Token is a short-lived bearer credential for one producer device.
// Immutable once issued; a device may hold several live tokens.
type Token struct {
	Value     string
	DeviceID  domain.DeviceID
	IssuedAt  time.Time
	ExpiresAt time.Time
}

// AuthGateway verifies the shared device secret and issues tokens for
// producers, and delegates viewer credential checks to the external
// identity provider.
//
// Expiry is decided lazily at VerifyToken time; PurgeExpired only
// reclaims memory and is never required for correctness.
type AuthGateway struct {
	clock    core.Clock
	secret   string
	ttl      time.Duration
	identity core.IdentityVerifier

	mu     sync.Mutex
	tokens map[string]Token

	tokenFactory func() (string, error)
}

func NewAuthGateway(clock core.Clock, secret string, ttl time.Duration, identity core.IdentityVerifier) *AuthGateway {
	if ttl <= 0 {
		ttl = time.Hour
	}
	return &AuthGateway{
		clock:        clock,
		secret:       secret,
		ttl:          ttl,
		identity:     identity,
		tokens:       make(map[string]Token),
		tokenFactory: generateToken,
	}
}

// IssueToken checks the presented secret and mints a bearer token.
// Fails closed with ErrServerMisconfigured when no reference secret is
// configured.
func (g *AuthGateway) IssueToken(deviceID domain.DeviceID, presentedSecret string) (Token, error) {
	if deviceID == "" || presentedSecret == "" {
		log.Warn().Str("module", "app.auth").Str("device", string(deviceID)).Msg("issue rejected, missing fields")
		return Token{}, ErrMissingFields
	}
	if g.secret == "" {
		log.Error().Str("module", "app.auth").Msg("issue rejected, no device secret configured")
		return Token{}, ErrServerMisconfigured
	}
	if subtle.ConstantTimeCompare([]byte(presentedSecret), []byte(g.secret)) != 1 {
		log.Warn().Str("module", "app.auth").Str("device", string(deviceID)).Msg("issue rejected, secret mismatch")
		return Token{}, ErrInvalidSecret
	}

	value, err := g.tokenFactory()
	if err != nil {
		return Token{}, err
	}
	now := g.clock.Now()
	t := Token{
		Value:     value,
		DeviceID:  deviceID,
		IssuedAt:  now,
		ExpiresAt: now.Add(g.ttl),
	}

	g.mu.Lock()
	g.tokens[t.Value] = t
	active := len(g.tokens)
	g.mu.Unlock()

	log.Info().Str("module", "app.auth").
		Str("device", string(deviceID)).
		Str("token", preview(t.Value)).
		Int("active_tokens", active).
		Msg("token issued")
	return t, nil
}

// VerifyToken resolves a token to its device id. The sole gate for
// producer connections. Expired tokens are removed here.
func (g *AuthGateway) VerifyToken(value string) (domain.DeviceID, error) {
	g.mu.Lock()
	t, ok := g.tokens[value]
	if ok && !g.clock.Now().Before(t.ExpiresAt) {
		delete(g.tokens, value)
		g.mu.Unlock()
		log.Warn().Str("module", "app.auth").Str("token", preview(value)).Msg("token expired")
		return "", ErrTokenExpired
	}
	g.mu.Unlock()

	if !ok {
		log.Warn().Str("module", "app.auth").Str("token", preview(value)).Msg("unknown token")
		return "", ErrTokenInvalid
	}
	log.Info().Str("module", "app.auth").Str("device", string(t.DeviceID)).Msg("token verified")
	return t.DeviceID, nil
}

// VerifyIdentity delegates entirely to the external identity provider.
// No token issuance, no caching of provider state.
func (g *AuthGateway) VerifyIdentity(ctx context.Context, credential string) (domain.ViewerIdentity, error) {
	if credential == "" || g.identity == nil {
		return domain.ViewerIdentity{}, ErrIdentityInvalid
	}
	id, err := g.identity.Verify(ctx, credential)
	if err != nil {
		log.Warn().Err(err).Str("module", "app.auth").Msg("identity verification failed")
		return domain.ViewerIdentity{}, ErrIdentityInvalid
	}
	log.Info().Str("module", "app.auth").Str("user", string(id.UserID)).Str("role", id.Role).Msg("viewer identity verified")
	return id, nil
}

// PurgeExpired drops expired tokens. Memory reclamation only; lazy
// checks in VerifyToken remain authoritative.
func (g *AuthGateway) PurgeExpired(now time.Time) int {
	g.mu.Lock()
	defer g.mu.Unlock()
	purged := 0
	for value, t := range g.tokens {
		if !now.Before(t.ExpiresAt) {
			delete(g.tokens, value)
			purged++
		}
	}
	if purged > 0 {
		log.Info().Str("module", "app.auth").Int("purged", purged).Msg("expired tokens purged")
	}
	return purged
}

// ActiveTokens reports the current token count for health output.
func (g *AuthGateway) ActiveTokens() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.tokens)
}

func generateToken() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}

// preview truncates secret material for logs.
func preview(s string) string {
	if len(s) <= 8 {
		return s
	}
	return s[:8] + "..."
}
