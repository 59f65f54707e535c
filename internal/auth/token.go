package auth

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// ErrTokenInvalid is returned by TokenCodec.Verify for any signature, expiry,
// issuer or audience failure.
var ErrTokenInvalid = errors.New("auth: invalid token")

const (
	AudienceAccess  = "access"
	AudienceRefresh = "refresh"
)

// Claims is the JWT body carried by access and refresh credentials.
type Claims struct {
	Email string   `json:"email"`
	Roles []string `json:"roles"`
	jwt.RegisteredClaims
}

// TokenCodec signs and verifies HS256 credentials for a single audience.
// It holds no secret; the caller passes one per call so access and refresh
// credentials are keyed independently.
type TokenCodec struct {
	issuer   string
	audience string
	now      func() time.Time
}

// NewTokenCodec builds a codec. A nil clock means time.Now.
func NewTokenCodec(issuer, audience string, now func() time.Time) *TokenCodec {
	if now == nil {
		now = time.Now
	}
	return &TokenCodec{
		issuer:   strings.TrimSpace(issuer),
		audience: audience,
		now:      now,
	}
}

// Sign encodes payload with an expiry ttl from now. A non-positive ttl
// produces a credential that is already expired.
func (c *TokenCodec) Sign(payload AccessPayload, secret []byte, ttl time.Duration) (string, time.Time, error) {
	if len(secret) == 0 {
		return "", time.Time{}, errors.New("auth: signing secret is empty")
	}
	if payload.UserID == "" {
		return "", time.Time{}, errors.New("auth: token subject is empty")
	}
	now := c.now()
	exp := now.Add(ttl)
	claims := Claims{
		Email: payload.Email,
		Roles: append([]string(nil), payload.Roles...),
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        uuid.NewString(),
			Subject:   payload.UserID,
			Issuer:    c.issuer,
			Audience:  jwt.ClaimStrings{c.audience},
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(exp),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(secret)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("auth: sign token: %w", err)
	}
	return signed, exp, nil
}

// Verify checks the signature and embedded expiry and returns the payload.
// It performs no I/O.
func (c *TokenCodec) Verify(raw string, secret []byte) (AccessPayload, error) {
	if raw == "" || len(secret) == 0 {
		return AccessPayload{}, ErrTokenInvalid
	}
	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithAudience(c.audience),
		jwt.WithTimeFunc(c.now),
	}
	if c.issuer != "" {
		opts = append(opts, jwt.WithIssuer(c.issuer))
	}
	claims := &Claims{}
	token, err := jwt.ParseWithClaims(raw, claims, func(*jwt.Token) (any, error) {
		return secret, nil
	}, opts...)
	if err != nil {
		return AccessPayload{}, fmt.Errorf("%w: %v", ErrTokenInvalid, err)
	}
	if !token.Valid || claims.Subject == "" {
		return AccessPayload{}, ErrTokenInvalid
	}
	return AccessPayload{
		UserID: claims.Subject,
		Email:  claims.Email,
		Roles:  claims.Roles,
	}, nil
}
