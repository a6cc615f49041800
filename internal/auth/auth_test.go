package auth

import (
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"encoding/hex"
	"sync"
	"testing"
	"time"

	"golang.org/x/crypto/ssh"

	"github.com/agentfabric/gateway/internal/fingerprint"
	"github.com/agentfabric/gateway/internal/principal"
	"github.com/agentfabric/gateway/pkg/models"
)

// memTokenStore is a hand-rolled storage.TokenStore for tests.
type memTokenStore struct {
	mu     sync.Mutex
	tokens map[string]*models.BearerToken
}

func newMemTokenStore() *memTokenStore {
	return &memTokenStore{tokens: make(map[string]*models.BearerToken)}
}

func (s *memTokenStore) Create(_ context.Context, t *models.BearerToken) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	clone := *t
	s.tokens[t.Token] = &clone
	return nil
}

func (s *memTokenStore) Get(_ context.Context, token string) (*models.BearerToken, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tokens[token]
	if !ok {
		return nil, nil
	}
	clone := *t
	return &clone, nil
}

func (s *memTokenStore) Revoke(_ context.Context, token string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if t, ok := s.tokens[token]; ok {
		t.Revoked = true
	}
	return nil
}

type testIdentity struct {
	pubkeyLine string
	fp         string
	signer     ssh.Signer
}

func newIdentity(t *testing.T) testIdentity {
	t.Helper()
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	signer, err := ssh.NewSignerFromKey(priv)
	if err != nil {
		t.Fatalf("signer: %v", err)
	}
	sshPub, err := ssh.NewPublicKey(pub)
	if err != nil {
		t.Fatalf("public key: %v", err)
	}
	return testIdentity{
		pubkeyLine: string(ssh.MarshalAuthorizedKey(sshPub)),
		fp:         fingerprint.Of(sshPub),
		signer:     signer,
	}
}

func (id testIdentity) sign(t *testing.T, method string, nonce []byte, ts int64) []byte {
	t.Helper()
	sig, err := id.signer.Sign(nil, fingerprint.CanonicalChallenge(method, nonce, ts))
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	return ssh.Marshal(sig)
}

func freshNonce(t *testing.T) ([]byte, string) {
	t.Helper()
	nonce := make([]byte, 16)
	if _, err := rand.Read(nonce); err != nil {
		t.Fatalf("nonce: %v", err)
	}
	return nonce, hex.EncodeToString(nonce)
}

const testMethod = "/agentfabric.gateway.v1.ClientService/GetMe"

func newTestAuthenticator(t *testing.T, id testIdentity, status models.PrincipalStatus) (*Authenticator, *principal.MemoryStore) {
	t.Helper()
	principals := principal.NewMemoryStore()
	p := &models.Principal{
		Kind:        models.PrincipalClient,
		DisplayName: "test-client",
		Fingerprint: id.fp,
		Status:      status,
	}
	if err := principals.Create(context.Background(), p); err != nil {
		t.Fatalf("seed principal: %v", err)
	}
	return NewAuthenticator(principals, newMemTokenStore(), NewJWTService("test-secret")), principals
}

func TestAuthenticateSSHResolvesApprovedPrincipal(t *testing.T) {
	id := newIdentity(t)
	a, _ := newTestAuthenticator(t, id, models.StatusApproved)

	nonce, nonceHex := freshNonce(t)
	ts := time.Now().Unix()
	p, err := a.AuthenticateSSH(context.Background(), models.PrincipalClient, id.pubkeyLine, nonceHex, ts, id.sign(t, testMethod, nonce, ts), testMethod)
	if err != nil {
		t.Fatalf("authenticate: %v", err)
	}
	if p.Fingerprint != id.fp || !p.Approved() {
		t.Fatalf("resolved the wrong principal: %+v", p)
	}
}

func TestAuthenticateSSHRejectsPendingPrincipal(t *testing.T) {
	id := newIdentity(t)
	a, _ := newTestAuthenticator(t, id, models.StatusPending)

	nonce, nonceHex := freshNonce(t)
	ts := time.Now().Unix()
	if _, err := a.AuthenticateSSH(context.Background(), models.PrincipalClient, id.pubkeyLine, nonceHex, ts, id.sign(t, testMethod, nonce, ts), testMethod); err != ErrUnknownPrincipal {
		t.Fatalf("expected ErrUnknownPrincipal for a pending principal, got %v", err)
	}
}

func TestAuthenticateSSHRejectsUnknownFingerprint(t *testing.T) {
	known := newIdentity(t)
	a, _ := newTestAuthenticator(t, known, models.StatusApproved)

	stranger := newIdentity(t)
	nonce, nonceHex := freshNonce(t)
	ts := time.Now().Unix()
	if _, err := a.AuthenticateSSH(context.Background(), models.PrincipalClient, stranger.pubkeyLine, nonceHex, ts, stranger.sign(t, testMethod, nonce, ts), testMethod); err != ErrUnknownPrincipal {
		t.Fatalf("expected ErrUnknownPrincipal for an unknown key, got %v", err)
	}
}

func TestAuthenticateSSHRejectsNonceReplay(t *testing.T) {
	id := newIdentity(t)
	a, _ := newTestAuthenticator(t, id, models.StatusApproved)

	nonce, nonceHex := freshNonce(t)
	ts := time.Now().Unix()
	sig := id.sign(t, testMethod, nonce, ts)

	if _, err := a.AuthenticateSSH(context.Background(), models.PrincipalClient, id.pubkeyLine, nonceHex, ts, sig, testMethod); err != nil {
		t.Fatalf("first use: %v", err)
	}
	if _, err := a.AuthenticateSSH(context.Background(), models.PrincipalClient, id.pubkeyLine, nonceHex, ts, sig, testMethod); err != ErrNonceReplayed {
		t.Fatalf("expected ErrNonceReplayed, got %v", err)
	}
}

func TestAuthenticateSSHClockSkewBoundary(t *testing.T) {
	id := newIdentity(t)
	a, _ := newTestAuthenticator(t, id, models.StatusApproved)

	// Offsets leave a one-second margin on the accept side so a wall-clock
	// tick between signing and verification cannot flip the verdict; the
	// boundary itself (exactly ClockSkew) is accepted per the comparison in
	// AuthenticateSSH.
	cases := []struct {
		name   string
		offset time.Duration
		ok     bool
	}{
		{"just inside past boundary", -(ClockSkew - time.Second), true},
		{"at future boundary", ClockSkew, true},
		{"beyond past boundary", -(ClockSkew + 2*time.Second), false},
		{"beyond future boundary", ClockSkew + 2*time.Second, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			nonce, nonceHex := freshNonce(t)
			ts := time.Now().Add(tc.offset).Unix()
			_, err := a.AuthenticateSSH(context.Background(), models.PrincipalClient, id.pubkeyLine, nonceHex, ts, id.sign(t, testMethod, nonce, ts), testMethod)
			if tc.ok && err != nil {
				t.Fatalf("expected acceptance, got %v", err)
			}
			if !tc.ok && err != ErrClockSkew {
				t.Fatalf("expected ErrClockSkew, got %v", err)
			}
		})
	}
}

func TestAuthenticateSSHRejectsWrongMethodSignature(t *testing.T) {
	id := newIdentity(t)
	a, _ := newTestAuthenticator(t, id, models.StatusApproved)

	nonce, nonceHex := freshNonce(t)
	ts := time.Now().Unix()
	sig := id.sign(t, "/agentfabric.gateway.v1.ClientService/SendMessage", nonce, ts)
	if _, err := a.AuthenticateSSH(context.Background(), models.PrincipalClient, id.pubkeyLine, nonceHex, ts, sig, testMethod); err != ErrSignatureInvalid {
		t.Fatalf("expected ErrSignatureInvalid for a signature over another method, got %v", err)
	}
}

func TestAuthenticateBearer(t *testing.T) {
	ctx := context.Background()
	principals := principal.NewMemoryStore()
	p := &models.Principal{Kind: models.PrincipalClient, DisplayName: "cli", Fingerprint: "fp", Status: models.StatusApproved}
	if err := principals.Create(ctx, p); err != nil {
		t.Fatalf("seed principal: %v", err)
	}

	tokens := newMemTokenStore()
	jwtSvc := NewJWTService("test-secret")
	a := NewAuthenticator(principals, tokens, jwtSvc)

	bt := models.BearerToken{PrincipalID: p.ID, CreatedAt: time.Now(), ExpiresAt: time.Now().Add(time.Hour)}
	signed, err := jwtSvc.Generate(bt, string(p.Kind), p.Roles)
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	bt.Token = signed
	if err := tokens.Create(ctx, &bt); err != nil {
		t.Fatalf("persist token: %v", err)
	}

	got, err := a.AuthenticateBearer(ctx, signed)
	if err != nil {
		t.Fatalf("authenticate bearer: %v", err)
	}
	if got.ID != p.ID {
		t.Fatalf("resolved wrong principal: %+v", got)
	}

	if err := tokens.Revoke(ctx, signed); err != nil {
		t.Fatalf("revoke: %v", err)
	}
	if _, err := a.AuthenticateBearer(ctx, signed); err != ErrInvalidToken {
		t.Fatalf("expected ErrInvalidToken after revocation, got %v", err)
	}
}

func TestAuthenticateBearerRejectsUnrecordedToken(t *testing.T) {
	ctx := context.Background()
	principals := principal.NewMemoryStore()
	p := &models.Principal{Kind: models.PrincipalClient, Fingerprint: "fp", Status: models.StatusApproved}
	if err := principals.Create(ctx, p); err != nil {
		t.Fatalf("seed principal: %v", err)
	}

	jwtSvc := NewJWTService("test-secret")
	a := NewAuthenticator(principals, newMemTokenStore(), jwtSvc)

	// Validly signed but never persisted server-side: still rejected.
	signed, err := jwtSvc.Generate(models.BearerToken{PrincipalID: p.ID, CreatedAt: time.Now(), ExpiresAt: time.Now().Add(time.Hour)}, string(p.Kind), nil)
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	if _, err := a.AuthenticateBearer(ctx, signed); err != ErrInvalidToken {
		t.Fatalf("expected ErrInvalidToken for an unrecorded token, got %v", err)
	}
}
