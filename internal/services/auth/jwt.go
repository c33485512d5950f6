package auth

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/mcoot/tilerush/internal/dependencies/clock"
	"github.com/mcoot/tilerush/internal/model"
)

// Errors
var (
	ErrInvalidToken = errors.New("invalid token")
	ErrNoSecret     = errors.New("jwt secret must be set")
)

// Claims are the token claims the game server understands
type Claims struct {
	// Name is the player's display name; the subject is the username
	Name string `json:"name,omitempty"`
	jwt.RegisteredClaims
}

// Config holds token settings shared by the verifier and issuer
type Config struct {
	Secret   []byte
	Issuer   string
	TokenTTL time.Duration
	// Leeway tolerates clock drift between issuer and server
	Leeway time.Duration
}

// DefaultConfig returns default token configuration. Secret must still be set.
func DefaultConfig() Config {
	return Config{
		Issuer:   "tilerush",
		TokenTTL: 24 * time.Hour,
		Leeway:   30 * time.Second,
	}
}

// JWTVerifier validates HS256 tokens. It is stateless and safe for concurrent use.
type JWTVerifier struct {
	secret []byte
	parser *jwt.Parser
}

// NewJWTVerifier creates a verifier that checks signature, issuer and expiry
func NewJWTVerifier(cfg Config, clock clock.Clock) (*JWTVerifier, error) {
	if len(cfg.Secret) == 0 {
		return nil, ErrNoSecret
	}
	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithLeeway(cfg.Leeway),
		jwt.WithTimeFunc(clock.Now),
	}
	if cfg.Issuer != "" {
		opts = append(opts, jwt.WithIssuer(cfg.Issuer))
	}
	return &JWTVerifier{
		secret: cfg.Secret,
		parser: jwt.NewParser(opts...),
	}, nil
}

// Verify parses token and returns the identity it names
func (v *JWTVerifier) Verify(ctx context.Context, token string) (model.Identity, error) {
	if token == "" {
		return model.Identity{}, fmt.Errorf("%w: empty", ErrInvalidToken)
	}

	claims := &Claims{}
	_, err := v.parser.ParseWithClaims(token, claims, func(t *jwt.Token) (interface{}, error) {
		return v.secret, nil
	})
	if err != nil {
		return model.Identity{}, fmt.Errorf("%w: %w", ErrInvalidToken, err)
	}
	if claims.Subject == "" {
		return model.Identity{}, fmt.Errorf("%w: missing subject", ErrInvalidToken)
	}

	name := claims.Name
	if name == "" {
		name = claims.Subject
	}
	return model.Identity{Username: claims.Subject, DisplayName: name}, nil
}

// Issuer mints tokens. Registration lives elsewhere; this serves the CLI and tests.
type Issuer struct {
	cfg   Config
	clock clock.Clock
}

// NewIssuer creates a token Issuer
func NewIssuer(cfg Config, clock clock.Clock) (*Issuer, error) {
	if len(cfg.Secret) == 0 {
		return nil, ErrNoSecret
	}
	if cfg.TokenTTL <= 0 {
		cfg.TokenTTL = DefaultConfig().TokenTTL
	}
	return &Issuer{cfg: cfg, clock: clock}, nil
}

// Issue signs a token for identity
func (i *Issuer) Issue(identity model.Identity) (string, error) {
	now := i.clock.Now()
	claims := Claims{
		Name: identity.DisplayName,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   identity.Username,
			Issuer:    i.cfg.Issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(i.cfg.TokenTTL)),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(i.cfg.Secret)
}
