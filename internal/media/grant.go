// Package media issues join grants for the external SFU. The SFU itself is
// opaque: clients connect(url, token) and disconnect on their own.
package media

import (
	"context"
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

var ErrNotConfigured = errors.New("media: not configured")

// Grant is what a client needs to connect to the call's room.
type Grant struct {
	URL       string    `json:"url"`
	Room      string    `json:"room"`
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expires_at"`
}

// Rooms hands out SFU join grants.
type Rooms interface {
	Grant(ctx context.Context, room, identity string, video bool) (Grant, error)
}

// RoomGrant is the SFU-specific part of the token.
type RoomGrant struct {
	Room         string `json:"room"`
	RoomJoin     bool   `json:"roomJoin"`
	CanPublish   bool   `json:"canPublish"`
	CanSubscribe bool   `json:"canSubscribe"`
	Video        bool   `json:"video"`
}

type Claims struct {
	jwt.RegisteredClaims
	Grant RoomGrant `json:"video"`
}

type Config struct {
	URL       string
	APIKey    string
	APISecret string
	TTL       time.Duration
}

// TokenIssuer signs HS256 room tokens with the SFU's API key and secret.
type TokenIssuer struct {
	url    string
	key    string
	secret []byte
	ttl    time.Duration
	clock  func() time.Time
}

func NewTokenIssuer(cfg Config) (*TokenIssuer, error) {
	if cfg.URL == "" || cfg.APIKey == "" || cfg.APISecret == "" {
		return nil, ErrNotConfigured
	}
	ttl := cfg.TTL
	if ttl <= 0 {
		ttl = 6 * time.Hour
	}
	return &TokenIssuer{
		url:    cfg.URL,
		key:    cfg.APIKey,
		secret: []byte(cfg.APISecret),
		ttl:    ttl,
		clock:  time.Now,
	}, nil
}

func (t *TokenIssuer) Grant(ctx context.Context, room, identity string, video bool) (Grant, error) {
	if room == "" || identity == "" {
		return Grant{}, errors.New("media: room and identity are required")
	}
	now := t.clock().UTC()
	exp := now.Add(t.ttl)
	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    t.key,
			Subject:   identity,
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(exp),
			ID:        uuid.NewString(),
		},
		Grant: RoomGrant{
			Room:         room,
			RoomJoin:     true,
			CanPublish:   true,
			CanSubscribe: true,
			Video:        video,
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(t.secret)
	if err != nil {
		return Grant{}, err
	}
	return Grant{URL: t.url, Room: room, Token: signed, ExpiresAt: exp}, nil
}

// Parse verifies a token minted by this issuer and returns its claims.
func (t *TokenIssuer) Parse(token string) (Claims, error) {
	var claims Claims
	parser := jwt.NewParser(
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(t.key),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(t.clock),
	)
	if _, err := parser.ParseWithClaims(token, &claims, func(*jwt.Token) (any, error) {
		return t.secret, nil
	}); err != nil {
		return Claims{}, err
	}
	return claims, nil
}
