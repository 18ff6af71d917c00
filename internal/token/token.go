// Package token mints LiveKit room join tokens.
//
// LiveKit access tokens are HS256 JWTs signed with the project API secret.
// The issuer is the API key, the subject is the participant identity and the
// "video" claim carries the room grant.
package token

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Token errors.
var (
	ErrNotConfigured = errors.New("token: livekit credentials not configured")
	ErrInvalidToken  = errors.New("token: invalid token")
	ErrMissingField  = errors.New("token: missing required field")
)

// DefaultTTL is used when an [Issuer] is created with a zero TTL.
const DefaultTTL = 2 * time.Hour

// VideoGrant is the LiveKit room permission set.
type VideoGrant struct {
	RoomJoin       bool   `json:"roomJoin,omitempty"`
	Room           string `json:"room,omitempty"`
	CanPublish     *bool  `json:"canPublish,omitempty"`
	CanSubscribe   *bool  `json:"canSubscribe,omitempty"`
	CanPublishData *bool  `json:"canPublishData,omitempty"`
}

// Claims is the LiveKit JWT payload.
type Claims struct {
	jwt.RegisteredClaims
	Name     string      `json:"name,omitempty"`
	Video    *VideoGrant `json:"video,omitempty"`
	Metadata string      `json:"metadata,omitempty"`
}

// Request describes who joins which room.
type Request struct {
	Room        string
	Participant string

	// Metadata is attached to the participant, typically the caller's user id.
	Metadata string
}

// Issuer signs join tokens with one LiveKit API key pair.
type Issuer struct {
	apiKey    string
	apiSecret []byte
	ttl       time.Duration
	now       func() time.Time
}

// NewIssuer returns an Issuer. It fails with [ErrNotConfigured] when either
// credential is empty.
func NewIssuer(apiKey, apiSecret string, ttl time.Duration) (*Issuer, error) {
	if apiKey == "" || apiSecret == "" {
		return nil, ErrNotConfigured
	}
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Issuer{apiKey: apiKey, apiSecret: []byte(apiSecret), ttl: ttl, now: time.Now}, nil
}

// TTL returns the validity of issued tokens.
func (i *Issuer) TTL() time.Duration { return i.ttl }

// Issue signs a join token for req.
func (i *Issuer) Issue(req Request) (string, error) {
	if req.Room == "" {
		return "", fmt.Errorf("%w: room", ErrMissingField)
	}
	if req.Participant == "" {
		return "", fmt.Errorf("%w: participant", ErrMissingField)
	}

	now := i.now()
	allow := true
	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    i.apiKey,
			Subject:   req.Participant,
			NotBefore: jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(i.ttl)),
		},
		Name: req.Participant,
		Video: &VideoGrant{
			RoomJoin:       true,
			Room:           req.Room,
			CanPublish:     &allow,
			CanSubscribe:   &allow,
			CanPublishData: &allow,
		},
		Metadata: req.Metadata,
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(i.apiSecret)
	if err != nil {
		return "", fmt.Errorf("token: sign: %w", err)
	}
	return signed, nil
}

// Verify parses a token issued by this Issuer and returns its claims.
func (i *Issuer) Verify(tokenString string) (*Claims, error) {
	claims := &Claims{}
	tok, err := jwt.ParseWithClaims(tokenString, claims, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return i.apiSecret, nil
	}, jwt.WithIssuer(i.apiKey), jwt.WithTimeFunc(i.now))
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidToken, err)
	}
	if !tok.Valid {
		return nil, ErrInvalidToken
	}
	return claims, nil
}
