package fingerprint

import (
	"crypto/ecdsa"
	"crypto/ed25519"
	"crypto/elliptic"
	"crypto/rand"
	"testing"

	"golang.org/x/crypto/ssh"
)

func newKeypair(t *testing.T) (ssh.PublicKey, ssh.Signer) {
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
	return sshPub, signer
}

func TestFingerprintSurvivesAuthorizedKeyRoundTrip(t *testing.T) {
	pub, _ := newKeypair(t)
	line := ssh.MarshalAuthorizedKey(pub)

	parsed, fp, err := ParseAuthorizedKey(line)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if fp != Of(pub) {
		t.Fatalf("fingerprint changed across the wire: %s vs %s", fp, Of(pub))
	}
	if Of(parsed) != fp {
		t.Fatalf("re-fingerprinting the parsed key differs: %s vs %s", Of(parsed), fp)
	}
	if len(fp) != 64 {
		t.Fatalf("expected 64 hex chars, got %d (%s)", len(fp), fp)
	}
}

func TestParseAuthorizedKeyRejectsNonEd25519(t *testing.T) {
	priv, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		t.Fatalf("generate ecdsa key: %v", err)
	}
	pub, err := ssh.NewPublicKey(&priv.PublicKey)
	if err != nil {
		t.Fatalf("public key: %v", err)
	}

	if _, _, err := ParseAuthorizedKey(ssh.MarshalAuthorizedKey(pub)); err != ErrUnsupportedKeyType {
		t.Fatalf("expected ErrUnsupportedKeyType, got %v", err)
	}
}

func TestVerifySignatureAcceptsValidChallenge(t *testing.T) {
	pub, signer := newKeypair(t)
	nonce := []byte("0123456789abcdef")
	const method = "/agentfabric.gateway.v1.ClientService/GetMe"
	const ts = int64(1700000000)

	sig, err := signer.Sign(nil, CanonicalChallenge(method, nonce, ts))
	if err != nil {
		t.Fatalf("sign: %v", err)
	}

	parsed, err := ParseSignature(ssh.Marshal(sig))
	if err != nil {
		t.Fatalf("parse signature: %v", err)
	}
	if err := VerifySignature(pub, method, nonce, ts, parsed); err != nil {
		t.Fatalf("verify: %v", err)
	}
}

func TestVerifySignatureRejectsTamperedChallenge(t *testing.T) {
	pub, signer := newKeypair(t)
	nonce := []byte("0123456789abcdef")
	const method = "/agentfabric.gateway.v1.ClientService/GetMe"

	sig, err := signer.Sign(nil, CanonicalChallenge(method, nonce, 1700000000))
	if err != nil {
		t.Fatalf("sign: %v", err)
	}

	// Same signature, replayed against a different timestamp.
	if err := VerifySignature(pub, method, nonce, 1700000001, sig); err == nil {
		t.Fatalf("expected verification failure for a tampered timestamp")
	}
}
