package auth

import (
	"context"
	"encoding/hex"
	"errors"
	"strconv"
	"sync"
	"time"

	"github.com/agentfabric/gateway/internal/fingerprint"
	"github.com/agentfabric/gateway/internal/storage"
	"github.com/agentfabric/gateway/pkg/models"
)

var (
	ErrAuthDisabled     = errors.New("auth: disabled")
	ErrInvalidToken     = errors.New("auth: invalid token")
	ErrMissingMetadata  = errors.New("auth: missing auth metadata")
	ErrClockSkew        = errors.New("auth: timestamp outside allowed skew")
	ErrNonceReplayed    = errors.New("auth: nonce replayed")
	ErrUnknownPrincipal = errors.New("auth: unknown or unapproved principal")
	ErrSignatureInvalid = errors.New("auth: signature invalid")
)

// ClockSkew is the maximum allowed difference between a request's
// timestamp and the server's wall clock.
const ClockSkew = 5 * time.Minute

// NonceReplayWindow is how long a (fingerprint, nonce) pair is remembered
// to reject replays.
const NonceReplayWindow = 15 * time.Minute

// Authenticator verifies both of the gateway's inbound credential forms:
// SSH-signed challenges and bearer tokens, yielding a Principal on success.
type Authenticator struct {
	principals storage.PrincipalStore
	tokens     storage.TokenStore
	jwt        *JWTService

	mu     sync.Mutex
	nonces map[string]map[string]time.Time // fingerprint -> nonce -> seen at
}

// NewAuthenticator builds an Authenticator.
func NewAuthenticator(principals storage.PrincipalStore, tokens storage.TokenStore, jwt *JWTService) *Authenticator {
	return &Authenticator{
		principals: principals,
		tokens:     tokens,
		jwt:        jwt,
		nonces:     make(map[string]map[string]time.Time),
	}
}

// AuthenticateSSH verifies an SSH-signed challenge for method and resolves
// the signing key's fingerprint to an approved principal of kind.
func (a *Authenticator) AuthenticateSSH(ctx context.Context, kind models.PrincipalKind, pubkeyLine, nonceHex string, timestampUnix int64, sigRaw []byte, method string) (*models.Principal, error) {
	key, fp, err := fingerprint.ParseAuthorizedKey([]byte(pubkeyLine))
	if err != nil {
		return nil, ErrSignatureInvalid
	}

	now := time.Now()
	skew := now.Unix() - timestampUnix
	if skew > int64(ClockSkew.Seconds()) || skew < -int64(ClockSkew.Seconds()) {
		return nil, ErrClockSkew
	}

	nonce, err := hex.DecodeString(nonceHex)
	if err != nil || len(nonce) != 16 {
		return nil, ErrSignatureInvalid
	}
	if a.replayed(fp, nonceHex, now) {
		return nil, ErrNonceReplayed
	}

	sig, err := fingerprint.ParseSignature(sigRaw)
	if err != nil {
		return nil, ErrSignatureInvalid
	}
	if err := fingerprint.VerifySignature(key, method, nonce, timestampUnix, sig); err != nil {
		return nil, ErrSignatureInvalid
	}

	principal, err := a.principals.ResolveByFingerprint(ctx, kind, fp)
	if err != nil {
		return nil, err
	}
	if principal == nil || !principal.Approved() {
		return nil, ErrUnknownPrincipal
	}
	return principal, nil
}

// replayed records the (fingerprint, nonce) pair and reports whether it had
// already been seen within NonceReplayWindow. Old entries are pruned
// opportunistically on every call so the map never grows unbounded.
func (a *Authenticator) replayed(fingerprint, nonceHex string, now time.Time) bool {
	a.mu.Lock()
	defer a.mu.Unlock()

	seen, ok := a.nonces[fingerprint]
	if !ok {
		seen = make(map[string]time.Time)
		a.nonces[fingerprint] = seen
	}
	for n, at := range seen {
		if now.Sub(at) > NonceReplayWindow {
			delete(seen, n)
		}
	}
	if _, replayed := seen[nonceHex]; replayed {
		return true
	}
	seen[nonceHex] = now
	return false
}

// AuthenticateBearer validates a bearer token string (a signed JWT)
// against the JWT signature, the server-side revocation table, and the
// principal it names.
func (a *Authenticator) AuthenticateBearer(ctx context.Context, token string) (*models.Principal, error) {
	principalID, _, err := a.jwt.Validate(token)
	if err != nil {
		return nil, ErrInvalidToken
	}

	record, err := a.tokens.Get(ctx, token)
	if err != nil {
		return nil, err
	}
	if record == nil || !record.Valid(time.Now()) {
		return nil, ErrInvalidToken
	}
	if record.PrincipalID != principalID {
		return nil, ErrInvalidToken
	}

	principal, err := a.principals.Get(ctx, principalID)
	if err != nil {
		return nil, err
	}
	if principal == nil || !principal.Approved() {
		return nil, ErrUnknownPrincipal
	}
	return principal, nil
}

// ParseTimestamp parses the x-auth-timestamp metadata value.
func ParseTimestamp(raw string) (int64, error) {
	return strconv.ParseInt(raw, 10, 64)
}
