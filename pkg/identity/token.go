package identity

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

const (
	// SessionTokenPrefix identifies portal session tokens
	SessionTokenPrefix = "tcs_"
	// tokenBytes is the amount of randomness in opaque tokens (256 bits)
	tokenBytes = 32
)

// Claims are the access token claims. Subject is the principal id.
type Claims struct {
	Email        string `json:"email"`
	DisplayName  string `json:"name,omitempty"`
	SessionToken string `json:"sid"`
	jwt.RegisteredClaims
}

// NewAccessToken signs an HS256 access token valid for ttl
func NewAccessToken(secret []byte, issuer string, ttl time.Duration, now time.Time, claims Claims) (string, time.Time, error) {
	if len(secret) == 0 {
		return "", time.Time{}, errors.New("jwt secret is empty")
	}
	expiresAt := now.Add(ttl)
	claims.RegisteredClaims.Issuer = issuer
	claims.RegisteredClaims.IssuedAt = jwt.NewNumericDate(now)
	claims.RegisteredClaims.NotBefore = jwt.NewNumericDate(now)
	claims.RegisteredClaims.ExpiresAt = jwt.NewNumericDate(expiresAt)

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(secret)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("failed to sign access token: %w", err)
	}
	return signed, expiresAt, nil
}

// ParseToken verifies an access token. leeway extends the expiry check and is
// zero for ordinary requests.
func ParseToken(secret []byte, issuer, tokenString string, leeway time.Duration, now time.Time) (*Claims, error) {
	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(func() time.Time { return now }),
	}
	if issuer != "" {
		opts = append(opts, jwt.WithIssuer(issuer))
	}
	if leeway > 0 {
		opts = append(opts, jwt.WithLeeway(leeway))
	}

	claims := &Claims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(t *jwt.Token) (interface{}, error) {
		return secret, nil
	}, opts...)
	if err != nil {
		return nil, err
	}
	if !token.Valid {
		return nil, jwt.ErrTokenInvalidClaims
	}
	if claims.Subject == "" || claims.SessionToken == "" {
		return nil, jwt.ErrTokenInvalidClaims
	}
	return claims, nil
}

// NewSessionToken returns a fresh opaque session token:
// tcs_<base64url(32 random bytes)>
func NewSessionToken() (string, error) {
	return newOpaqueToken(SessionTokenPrefix)
}

// ValidateSessionTokenFormat checks prefix and encoding
func ValidateSessionTokenFormat(token string) error {
	if !strings.HasPrefix(token, SessionTokenPrefix) {
		return fmt.Errorf("token must start with %q", SessionTokenPrefix)
	}
	encoded := strings.TrimPrefix(token, SessionTokenPrefix)
	if encoded == "" {
		return errors.New("token is too short")
	}
	if _, err := base64.RawURLEncoding.DecodeString(encoded); err != nil {
		return fmt.Errorf("invalid token encoding: %w", err)
	}
	return nil
}

// HashToken is the lookup key under which one-time tokens are kept
func HashToken(token string) string {
	sum := sha256.Sum256([]byte(token))
	return hex.EncodeToString(sum[:])
}

func newOpaqueToken(prefix string) (string, error) {
	b := make([]byte, tokenBytes)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("failed to generate random bytes: %w", err)
	}
	return prefix + base64.RawURLEncoding.EncodeToString(b), nil
}
