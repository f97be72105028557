package auth

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

var (
	// ErrInvalidToken is returned when the token is invalid
	ErrInvalidToken = errors.New("invalid token")

	// ErrTokenExpired is returned when the token has expired
	ErrTokenExpired = errors.New("token expired")

	// ErrInvalidIssuer is returned when the token issuer is invalid
	ErrInvalidIssuer = errors.New("invalid issuer")

	// ErrMissingClaim is returned when a required claim is missing
	ErrMissingClaim = errors.New("missing required claim")

	// ErrNotConfigured is returned by validators without a signing secret
	ErrNotConfigured = errors.New("authentication not configured")
)

// Claims represents the claims carried by an access token
type Claims struct {
	jwt.RegisteredClaims
	Email    string `json:"email"`
	Name     string `json:"name,omitempty"`
	OrgID    string `json:"org_id"`
	OrgSlug  string `json:"org_slug"`
	OrgName  string `json:"org_name,omitempty"`
	OrgEmail string `json:"org_email,omitempty"`
}

// ParsedClaims represents validated claims
type ParsedClaims struct {
	Sub       string
	Email     string
	Name      string
	OrgID     string
	OrgSlug   string
	OrgName   string
	OrgEmail  string
	IssuedAt  time.Time
	ExpiresAt time.Time
}

// Config holds configuration for Validator
type Config struct {
	Secret string
	Issuer string // optional; checked when set
	Leeway time.Duration
}

// Validator validates HS256 tokens signed with a shared secret
type Validator struct {
	secret []byte
	issuer string
	parser *jwt.Parser
}

// NewValidator creates a new token validator
func NewValidator(cfg Config) *Validator {
	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithLeeway(cfg.Leeway),
	}
	if cfg.Issuer != "" {
		opts = append(opts, jwt.WithIssuer(cfg.Issuer))
	}

	return &Validator{
		secret: []byte(cfg.Secret),
		issuer: cfg.Issuer,
		parser: jwt.NewParser(opts...),
	}
}

// ValidateToken validates a token and returns its parsed claims
func (v *Validator) ValidateToken(_ context.Context, tokenString string) (*ParsedClaims, error) {
	if len(v.secret) == 0 {
		return nil, ErrNotConfigured
	}

	claims := &Claims{}
	token, err := v.parser.ParseWithClaims(tokenString, claims, func(*jwt.Token) (interface{}, error) {
		return v.secret, nil
	})
	if err != nil {
		switch {
		case errors.Is(err, jwt.ErrTokenExpired):
			return nil, ErrTokenExpired
		case errors.Is(err, jwt.ErrTokenInvalidIssuer):
			return nil, fmt.Errorf("%w: expected %s", ErrInvalidIssuer, v.issuer)
		}
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	if !token.Valid {
		return nil, ErrInvalidToken
	}

	return parseClaims(claims)
}

// parseClaims checks the claims every tenant-scoped request needs
func parseClaims(claims *Claims) (*ParsedClaims, error) {
	if claims.Subject == "" {
		return nil, fmt.Errorf("%w: sub", ErrMissingClaim)
	}
	if claims.Email == "" {
		return nil, fmt.Errorf("%w: email", ErrMissingClaim)
	}
	if claims.OrgSlug == "" {
		return nil, fmt.Errorf("%w: org_slug", ErrMissingClaim)
	}

	parsed := &ParsedClaims{
		Sub:      claims.Subject,
		Email:    claims.Email,
		Name:     claims.Name,
		OrgID:    claims.OrgID,
		OrgSlug:  claims.OrgSlug,
		OrgName:  claims.OrgName,
		OrgEmail: claims.OrgEmail,
	}
	if claims.IssuedAt != nil {
		parsed.IssuedAt = claims.IssuedAt.Time
	}
	if claims.ExpiresAt != nil {
		parsed.ExpiresAt = claims.ExpiresAt.Time
	}
	return parsed, nil
}
