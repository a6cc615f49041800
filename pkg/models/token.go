package models

import "time"

// BearerToken is an opaque capability bound to a principal and a TTL,
// recorded server-side so every use can be checked for expiry/revocation.
type BearerToken struct {
	Token       string    `json:"-"`
	PrincipalID string    `json:"principal_id"`
	ExpiresAt   time.Time `json:"expires_at"`
	Revoked     bool      `json:"revoked"`
	CreatedAt   time.Time `json:"created_at"`
}

// Valid reports whether the token may still be used to authenticate.
func (t *BearerToken) Valid(now time.Time) bool {
	return t != nil && !t.Revoked && now.Before(t.ExpiresAt)
}
