package auth

import (
	"errors"
	"fmt"
	"strings"

	"github.com/golang-jwt/jwt/v5"

	"github.com/agentfabric/gateway/pkg/models"
)

// JWTService signs and verifies bearer tokens bound to a principal id and a
// role snapshot.
type JWTService struct {
	secret []byte
}

// NewJWTService builds a JWT helper with the given signing secret.
func NewJWTService(secret string) *JWTService {
	return &JWTService{secret: []byte(secret)}
}

// Claims is the payload of an issued bearer token.
type Claims struct {
	Kind  string   `json:"kind,omitempty"`
	Roles []string `json:"roles,omitempty"`
	jwt.RegisteredClaims
}

// Generate issues a signed token for token.PrincipalID, valid until
// token.ExpiresAt.
func (s *JWTService) Generate(token models.BearerToken, kind string, roles []string) (string, error) {
	if s == nil || len(s.secret) == 0 {
		return "", ErrAuthDisabled
	}
	if strings.TrimSpace(token.PrincipalID) == "" {
		return "", errors.New("auth: principal id required")
	}

	claims := Claims{
		Kind:  kind,
		Roles: roles,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   token.PrincipalID,
			IssuedAt:  jwt.NewNumericDate(token.CreatedAt),
			ExpiresAt: jwt.NewNumericDate(token.ExpiresAt),
		},
	}

	signed := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return signed.SignedString(s.secret)
}

// Validate parses and validates a bearer token, returning the principal id
// and role snapshot it was issued for. Callers must still check the
// server-side revocation table (see Authenticator.AuthenticateBearer).
func (s *JWTService) Validate(token string) (principalID string, claims *Claims, err error) {
	if s == nil || len(s.secret) == 0 {
		return "", nil, ErrAuthDisabled
	}

	parsed, err := jwt.ParseWithClaims(token, &Claims{}, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("auth: unexpected signing method %v", t.Header["alg"])
		}
		return s.secret, nil
	})
	if err != nil {
		return "", nil, ErrInvalidToken
	}

	parsedClaims, ok := parsed.Claims.(*Claims)
	if !ok || !parsed.Valid || strings.TrimSpace(parsedClaims.Subject) == "" {
		return "", nil, ErrInvalidToken
	}
	return parsedClaims.Subject, parsedClaims, nil
}
