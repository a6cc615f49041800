// Package fingerprint implements SSH public-key parsing, wire-format
// fingerprinting, and signed-challenge verification for the gateway's
// SSH-signature authentication path. Only ssh-ed25519 keys are accepted.
package fingerprint

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"

	"golang.org/x/crypto/ssh"
)

// ErrUnsupportedKeyType is returned for any key type other than ssh-ed25519.
var ErrUnsupportedKeyType = errors.New("fingerprint: only ssh-ed25519 keys are accepted")

// Of returns lower_hex(SHA-256(ssh_wire(key))), the canonical fingerprint
// used everywhere a principal is looked up by key.
func Of(key ssh.PublicKey) string {
	sum := sha256.Sum256(key.Marshal())
	return hex.EncodeToString(sum[:])
}

// ParseAuthorizedKey parses a single `ssh-ed25519 AAAA...` line (as sent in
// the x-auth-pubkey metadata header) and returns its fingerprint, rejecting
// anything but ed25519.
func ParseAuthorizedKey(line []byte) (ssh.PublicKey, string, error) {
	key, _, _, _, err := ssh.ParseAuthorizedKey(line)
	if err != nil {
		return nil, "", fmt.Errorf("fingerprint: parse authorized key: %w", err)
	}
	if key.Type() != ssh.KeyAlgoED25519 {
		return nil, "", ErrUnsupportedKeyType
	}
	return key, Of(key), nil
}

// CanonicalChallenge builds the exact byte sequence that must be signed:
// canonical(method) ∥ nonce ∥ timestamp_s.
func CanonicalChallenge(method string, nonce []byte, timestampUnix int64) []byte {
	out := make([]byte, 0, len(method)+len(nonce)+20)
	out = append(out, []byte(method)...)
	out = append(out, nonce...)
	out = append(out, []byte(fmt.Sprintf("%d", timestampUnix))...)
	return out
}

// VerifySignature checks that sig is a valid SSH signature by key over the
// canonical challenge for (method, nonce, timestamp).
func VerifySignature(key ssh.PublicKey, method string, nonce []byte, timestampUnix int64, sig *ssh.Signature) error {
	challenge := CanonicalChallenge(method, nonce, timestampUnix)
	if err := key.Verify(challenge, sig); err != nil {
		return fmt.Errorf("fingerprint: signature verification failed: %w", err)
	}
	return nil
}

// ParseSignature decodes the raw x-auth-signature metadata value (SSH wire
// format signature blob: 4-byte length-prefixed format string + 4-byte
// length-prefixed blob) into an *ssh.Signature.
func ParseSignature(raw []byte) (*ssh.Signature, error) {
	sig := new(ssh.Signature)
	if err := unmarshalSignature(raw, sig); err != nil {
		return nil, fmt.Errorf("fingerprint: parse signature: %w", err)
	}
	return sig, nil
}

func unmarshalSignature(raw []byte, sig *ssh.Signature) error {
	if err := ssh.Unmarshal(raw, sig); err != nil {
		return err
	}
	return nil
}
