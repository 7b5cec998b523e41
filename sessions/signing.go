package sessions

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// ErrInvalidBearer indicates a bearer credential that fails signature or
// claim checks. Callers treat it the same as an unknown session: deny without
// explaining why.
var ErrInvalidBearer = errors.New("sessions: invalid bearer credential")

// Codec wraps raw session ids in HMAC-signed bearer tokens so that a forged
// or corrupted id is rejected before any store round trip. The session id is
// the "sid" claim; expiry mirrors the session TTL so a token never outlives
// the state it points at.
type Codec struct {
	secret []byte
	ttl    time.Duration
}

// NewCodec builds a Codec from a shared secret. ttl should match the session
// store's TTL; zero falls back to DefaultTTL.
func NewCodec(secret []byte, ttl time.Duration) (*Codec, error) {
	if len(secret) < 32 {
		return nil, fmt.Errorf("sessions: codec secret must be at least 32 bytes")
	}
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Codec{secret: secret, ttl: ttl}, nil
}

// Encode signs a session id into the bearer form handed to clients.
func (c *Codec) Encode(sessionID string) (string, error) {
	now := time.Now()
	tok := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"sid": sessionID,
		"iat": now.Unix(),
		"exp": now.Add(c.ttl).Unix(),
	})
	signed, err := tok.SignedString(c.secret)
	if err != nil {
		return "", fmt.Errorf("sessions: sign bearer: %w", err)
	}
	return signed, nil
}

// Decode verifies a bearer token and returns the embedded session id.
func (c *Codec) Decode(bearer string) (string, error) {
	tok, err := jwt.Parse(bearer, func(t *jwt.Token) (any, error) {
		return c.secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}), jwt.WithExpirationRequired())
	if err != nil || !tok.Valid {
		return "", ErrInvalidBearer
	}
	claims, ok := tok.Claims.(jwt.MapClaims)
	if !ok {
		return "", ErrInvalidBearer
	}
	sid, _ := claims["sid"].(string)
	if sid == "" {
		return "", ErrInvalidBearer
	}
	return sid, nil
}
