// Package auth resolves the calling user from a bearer token. Token issuance
// belongs to the identity provider; Issue exists for tooling and tests.
package auth

import (
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/groupspend/groupspend/internal/shared"
)

var (
	// ErrInvalidToken indicates a token that failed verification.
	ErrInvalidToken = fmt.Errorf("auth: invalid or expired token: %w", shared.ErrUnauthenticated)
	// ErrMissingToken indicates the request carried no bearer token.
	ErrMissingToken = fmt.Errorf("auth: bearer token required: %w", shared.ErrUnauthenticated)
)

// Claims carries the caller identity. Subject holds the user id; UserID is
// accepted for providers that use a custom claim.
type Claims struct {
	UserID string `json:"user_id,omitempty"`
	jwt.RegisteredClaims
}

// Caller returns the user id asserted by the token.
func (c *Claims) Caller() string {
	if c.UserID != "" {
		return c.UserID
	}
	return c.Subject
}

// Verifier validates HMAC signed tokens.
type Verifier struct {
	secret []byte
	issuer string
	now    func() time.Time
}

// NewVerifier builds a verifier. An empty issuer accepts any issuer.
func NewVerifier(secret, issuer string) *Verifier {
	return &Verifier{secret: []byte(secret), issuer: issuer, now: time.Now}
}

// Verify parses the token and returns its claims.
func (v *Verifier) Verify(token string) (*Claims, error) {
	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg(), jwt.SigningMethodHS384.Alg(), jwt.SigningMethodHS512.Alg()}),
		jwt.WithTimeFunc(v.now),
	}
	if v.issuer != "" {
		opts = append(opts, jwt.WithIssuer(v.issuer))
	}
	parsed, err := jwt.ParseWithClaims(token, &Claims{}, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return v.secret, nil
	}, opts...)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	claims, ok := parsed.Claims.(*Claims)
	if !ok || !parsed.Valid || claims.Caller() == "" {
		return nil, ErrInvalidToken
	}
	return claims, nil
}

// Issue signs a token for userID valid for ttl.
func (v *Verifier) Issue(userID string, ttl time.Duration) (string, error) {
	now := v.now()
	claims := &Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   userID,
			Issuer:    v.issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(v.secret)
	if err != nil {
		return "", fmt.Errorf("auth: sign token: %w", err)
	}
	return signed, nil
}
