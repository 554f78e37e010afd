// Package auth mints and validates the bearer tokens sent with the event
// stream request.
package auth

import (
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// DefaultTTL is the lifetime of a minted token.
const DefaultTTL = time.Hour

// refreshMargin is how long before expiry a cached token is replaced
const refreshMargin = time.Minute

// Claims are the JWT claims carried by a stream token.
type Claims struct {
	ClientID string `json:"client_id"`
	jwt.RegisteredClaims
}

// Signer mints HS256 tokens for one client id and caches them until shortly
// before they expire. It is safe for concurrent use.
type Signer struct {
	clientID string
	secret   []byte
	ttl      time.Duration
	now      func() time.Time

	mu        sync.Mutex
	token     string
	expiresAt time.Time
}

// NewSigner creates a Signer. A zero ttl uses DefaultTTL.
func NewSigner(clientID, secret string, ttl time.Duration) (*Signer, error) {
	if clientID == "" {
		return nil, errors.New("clientID cannot be empty")
	}
	if secret == "" {
		return nil, errors.New("secret key cannot be empty")
	}
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Signer{
		clientID: clientID,
		secret:   []byte(secret),
		ttl:      ttl,
		now:      time.Now,
	}, nil
}

// Token returns a valid token, minting a new one when the cached token is
// close to expiry.
func (s *Signer) Token() (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	if s.token != "" && now.Add(refreshMargin).Before(s.expiresAt) {
		return s.token, nil
	}

	expiresAt := now.Add(s.ttl)
	claims := Claims{
		ClientID: s.clientID,
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        uuid.NewString(),
			Subject:   s.clientID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
		},
	}

	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.secret)
	if err != nil {
		return "", fmt.Errorf("failed to create token: %w", err)
	}
	s.token = token
	s.expiresAt = expiresAt
	return token, nil
}

// Validate parses a token signed with secret and returns its claims. A
// "Bearer " prefix is accepted.
func Validate(secret, tokenString string) (*Claims, error) {
	tokenString = strings.TrimPrefix(tokenString, "Bearer ")
	if tokenString == "" {
		return nil, errors.New("token cannot be empty")
	}

	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return []byte(secret), nil
	})
	if err != nil {
		return nil, fmt.Errorf("invalid token: %w", err)
	}

	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return nil, errors.New("token is not valid")
	}
	return claims, nil
}

// StaticToken is a fixed bearer token.
type StaticToken string

func (t StaticToken) Token() (string, error) {
	if t == "" {
		return "", errors.New("static token is empty")
	}
	return string(t), nil
}
