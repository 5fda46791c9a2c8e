// Package identity resolves the caller behind a mutating request.
//
// Callers present signed access grants (Ed25519 JWTs minted by the identity
// service). The verifier checks the signature, issuer, audience, and expiry
// and returns the caller identity the admission layer authorizes against.
package identity

import (
	"context"
	"crypto/ed25519"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/golang-jwt/jwt/v5"

	apperrors "github.com/louisbranch/atelier.space/internal/platform/errors"
)

// Environment variables for access grant verification.
const (
	EnvAccessGrantIssuer    = "ATELIER_SPACE_ACCESS_GRANT_ISSUER"
	EnvAccessGrantAudience  = "ATELIER_SPACE_ACCESS_GRANT_AUDIENCE"
	EnvAccessGrantPublicKey = "ATELIER_SPACE_ACCESS_GRANT_PUBLIC_KEY"
)

// Caller is the authenticated identity behind a request.
type Caller struct {
	UserID string
	Roles  []string
}

// Provider resolves an access grant into a caller identity.
type Provider interface {
	ResolveCaller(ctx context.Context, grant string) (Caller, error)
}

// accessGrantEnv holds raw env values before post-parse validation.
type accessGrantEnv struct {
	Issuer    string `env:"ATELIER_SPACE_ACCESS_GRANT_ISSUER"`
	Audience  string `env:"ATELIER_SPACE_ACCESS_GRANT_AUDIENCE"`
	PublicKey string `env:"ATELIER_SPACE_ACCESS_GRANT_PUBLIC_KEY"`
}

// Config defines how access grants are verified.
type Config struct {
	Issuer   string
	Audience string
	Key      ed25519.PublicKey
	Now      func() time.Time
}

// accessGrantClaims is the internal claims type used for JWT parsing.
type accessGrantClaims struct {
	jwt.RegisteredClaims
	UserID string   `json:"user_id"`
	Roles  []string `json:"roles"`
}

// LoadConfigFromEnv reads access grant verification configuration.
func LoadConfigFromEnv(now func() time.Time) (Config, error) {
	var raw accessGrantEnv
	if err := env.Parse(&raw); err != nil {
		return Config{}, fmt.Errorf("parse access grant env: %w", err)
	}
	issuer := strings.TrimSpace(raw.Issuer)
	audience := strings.TrimSpace(raw.Audience)
	publicKey := strings.TrimSpace(raw.PublicKey)
	if issuer == "" {
		return Config{}, fmt.Errorf("%s is required", EnvAccessGrantIssuer)
	}
	if audience == "" {
		return Config{}, fmt.Errorf("%s is required", EnvAccessGrantAudience)
	}
	if publicKey == "" {
		return Config{}, fmt.Errorf("%s is required", EnvAccessGrantPublicKey)
	}
	keyBytes, err := decodeBase64(publicKey)
	if err != nil {
		return Config{}, fmt.Errorf("decode access grant public key: %w", err)
	}
	if len(keyBytes) != ed25519.PublicKeySize {
		return Config{}, fmt.Errorf("access grant public key must be %d bytes", ed25519.PublicKeySize)
	}
	if now == nil {
		now = time.Now
	}
	return Config{
		Issuer:   issuer,
		Audience: audience,
		Key:      ed25519.PublicKey(keyBytes),
		Now:      now,
	}, nil
}

// Verifier validates Ed25519-signed access grants.
type Verifier struct {
	cfg Config
}

// NewVerifier creates a Verifier from the given configuration.
func NewVerifier(cfg Config) *Verifier {
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &Verifier{cfg: cfg}
}

// ResolveCaller verifies an access grant and returns the caller identity.
func (v *Verifier) ResolveCaller(_ context.Context, grant string) (Caller, error) {
	grant = strings.TrimSpace(grant)
	if grant == "" {
		return Caller{}, apperrors.New(apperrors.CodeIdentityGrantInvalid, "access grant is required")
	}
	if v == nil || v.cfg.Issuer == "" || v.cfg.Audience == "" || len(v.cfg.Key) != ed25519.PublicKeySize {
		return Caller{}, errors.New("access grant verifier is not configured")
	}

	var parsed accessGrantClaims
	_, err := jwt.ParseWithClaims(grant, &parsed, func(token *jwt.Token) (any, error) {
		return v.cfg.Key, nil
	},
		jwt.WithValidMethods([]string{"EdDSA"}),
		jwt.WithoutClaimsValidation(),
	)
	if err != nil {
		return Caller{}, mapJWTError(err)
	}

	if parsed.Issuer == "" || parsed.Issuer != v.cfg.Issuer {
		return Caller{}, apperrors.WithMetadata(
			apperrors.CodeIdentityGrantInvalid,
			"access grant issuer mismatch",
			map[string]string{"Field": "issuer"},
		)
	}
	if !audienceContains(parsed.Audience, v.cfg.Audience) {
		return Caller{}, apperrors.WithMetadata(
			apperrors.CodeIdentityGrantInvalid,
			"access grant audience mismatch",
			map[string]string{"Field": "audience"},
		)
	}
	if parsed.ExpiresAt == nil {
		return Caller{}, apperrors.New(apperrors.CodeIdentityGrantInvalid, "access grant exp is required")
	}

	now := v.cfg.Now().UTC()
	if !parsed.ExpiresAt.Time.UTC().After(now) {
		return Caller{}, apperrors.New(apperrors.CodeIdentityGrantExpired, "access grant is expired")
	}
	if parsed.NotBefore != nil && now.Before(parsed.NotBefore.Time.UTC()) {
		return Caller{}, apperrors.New(apperrors.CodeIdentityGrantInvalid, "access grant not active yet")
	}

	userID := strings.TrimSpace(parsed.UserID)
	if userID == "" {
		return Caller{}, apperrors.New(apperrors.CodeIdentityGrantInvalid, "access grant user_id is required")
	}
	return Caller{UserID: userID, Roles: parsed.Roles}, nil
}

// StaticProvider resolves grants from a fixed token-to-caller map. Used in
// tests and local development.
type StaticProvider struct {
	Callers map[string]Caller
}

// ResolveCaller looks up the grant in the static map.
func (p *StaticProvider) ResolveCaller(_ context.Context, grant string) (Caller, error) {
	if p != nil {
		if caller, ok := p.Callers[strings.TrimSpace(grant)]; ok {
			return caller, nil
		}
	}
	return Caller{}, apperrors.New(apperrors.CodeIdentityGrantInvalid, "access grant is invalid")
}

// mapJWTError translates jwt library errors to application errors.
func mapJWTError(err error) error {
	if errors.Is(err, jwt.ErrTokenSignatureInvalid) || errors.Is(err, jwt.ErrEd25519Verification) {
		return apperrors.New(apperrors.CodeIdentityGrantInvalid, "access grant signature is invalid")
	}
	if errors.Is(err, jwt.ErrTokenUnverifiable) {
		return apperrors.New(apperrors.CodeIdentityGrantInvalid, "access grant alg is invalid")
	}
	return apperrors.New(apperrors.CodeIdentityGrantInvalid, "access grant is invalid")
}

// audienceContains reports whether the audience list contains the given value.
func audienceContains(aud jwt.ClaimStrings, value string) bool {
	for _, item := range aud {
		if item == value {
			return true
		}
	}
	return false
}

func decodeBase64(value string) ([]byte, error) {
	if value == "" {
		return nil, errors.New("empty base64 value")
	}
	decoded, err := base64.RawStdEncoding.DecodeString(value)
	if err == nil {
		return decoded, nil
	}
	return base64.StdEncoding.DecodeString(value)
}
