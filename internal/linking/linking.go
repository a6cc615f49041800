// Package linking implements the one-time-code rendezvous that provisions a
// new principal: an unauthenticated device requests a code, an operator
// approves it out of band, and the device redeems it for a bearer token.
package linking

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/agentfabric/gateway/internal/auth"
	"github.com/agentfabric/gateway/internal/storage"
	"github.com/agentfabric/gateway/pkg/models"
)

const (
	// CodeLength is the length of a link code.
	CodeLength = 8
	// CodeAlphabet excludes visually ambiguous characters (0, O, 1, I).
	CodeAlphabet = "ABCDEFGHJKLMNPQRSTUVWXYZ23456789"
	// PendingTTL is how long a requested code stays pending before expiry.
	PendingTTL = 10 * time.Minute
	// TokenTTL is how long a bearer token issued at redemption remains valid.
	TokenTTL = 90 * 24 * time.Hour
)

var (
	ErrNotFound           = errors.New("linking: code not found")
	ErrExpiredOrConsumed  = errors.New("linking: code expired or already consumed")
	ErrUnsupportedKind    = errors.New("linking: kind must be agent or client")
)

// Service drives the LinkCode state machine against durable storage.
type Service struct {
	codes      storage.LinkCodeStore
	principals storage.PrincipalStore
	tokens     storage.TokenStore
	jwt        *auth.JWTService
}

// New builds a linking Service.
func New(codes storage.LinkCodeStore, principals storage.PrincipalStore, tokens storage.TokenStore, jwt *auth.JWTService) *Service {
	return &Service{codes: codes, principals: principals, tokens: tokens, jwt: jwt}
}

// Request creates a new pending LinkCode for an unauthenticated device.
func (s *Service) Request(ctx context.Context, fingerprint, deviceName string, kind models.PrincipalKind) (*models.LinkCode, error) {
	if kind != models.PrincipalAgent && kind != models.PrincipalClient {
		return nil, ErrUnsupportedKind
	}
	code, err := generateCode()
	if err != nil {
		return nil, fmt.Errorf("linking: generate code: %w", err)
	}

	l := &models.LinkCode{
		Code:        code,
		Fingerprint: strings.ToLower(strings.TrimSpace(fingerprint)),
		DeviceName:  strings.TrimSpace(deviceName),
		Kind:        kind,
		Status:      models.LinkPending,
		ExpiresAt:   time.Now().Add(PendingTTL),
	}
	// A fresh random 8-char code over a 32-symbol alphabet collides with
	// vanishing probability; on the rare clash, retry once with a new code
	// rather than failing the request outright.
	if err := s.codes.Create(ctx, l); err != nil {
		if errors.Is(err, storage.ErrAlreadyExists) {
			code2, genErr := generateCode()
			if genErr != nil {
				return nil, genErr
			}
			l.Code = code2
			if err := s.codes.Create(ctx, l); err != nil {
				return nil, fmt.Errorf("linking: create code: %w", err)
			}
		} else {
			return nil, fmt.Errorf("linking: create code: %w", err)
		}
	}
	return l, nil
}

// Status reports a code's current status. A pending code past its expiry is
// lazily flipped to expired. An approved code is delivered to the requester
// exactly once: the first successful Status call after approval also
// transitions the code to consumed.
func (s *Service) Status(ctx context.Context, code string) (*models.LinkCode, error) {
	l, err := s.lookup(ctx, code)
	if err != nil {
		return nil, err
	}

	switch l.Status {
	case models.LinkPending:
		if l.Expired(time.Now()) {
			l.Status = models.LinkExpired
			if err := s.codes.Update(ctx, l); err != nil {
				return nil, fmt.Errorf("linking: expire code: %w", err)
			}
		}
		return l, nil
	case models.LinkApproved:
		delivered := *l
		l.Status = models.LinkConsumed
		if err := s.codes.Update(ctx, l); err != nil {
			return nil, fmt.Errorf("linking: consume code: %w", err)
		}
		return &delivered, nil
	default:
		return l, nil
	}
}

// Approve is the operator action: it resolves or creates a principal for
// the code's fingerprint, issues a bearer token, and transitions the code
// to approved. Approving an already-terminal code is rejected.
func (s *Service) Approve(ctx context.Context, code string, displayName string) (*models.LinkCode, *models.Principal, error) {
	l, err := s.lookup(ctx, code)
	if err != nil {
		return nil, nil, err
	}
	if l.Status != models.LinkPending || l.Expired(time.Now()) {
		return nil, nil, ErrExpiredOrConsumed
	}

	p, err := s.principals.ResolveByFingerprint(ctx, l.Kind, l.Fingerprint)
	if err != nil {
		return nil, nil, fmt.Errorf("linking: resolve principal: %w", err)
	}
	if p == nil {
		name := displayName
		if name == "" {
			name = l.DeviceName
		}
		p = &models.Principal{
			ID:          uuid.New().String(),
			Kind:        l.Kind,
			DisplayName: name,
			Fingerprint: l.Fingerprint,
			Status:      models.StatusApproved,
		}
		if err := s.principals.Create(ctx, p); err != nil {
			return nil, nil, fmt.Errorf("linking: create principal: %w", err)
		}
	} else if p.Status != models.StatusApproved {
		p.Status = models.StatusApproved
		if err := s.principals.Update(ctx, p); err != nil {
			return nil, nil, fmt.Errorf("linking: approve principal: %w", err)
		}
	}

	bt := &models.BearerToken{PrincipalID: p.ID, CreatedAt: time.Now(), ExpiresAt: time.Now().Add(TokenTTL)}
	signed, err := s.jwt.Generate(*bt, string(p.Kind), p.Roles)
	if err != nil {
		return nil, nil, fmt.Errorf("linking: sign token: %w", err)
	}
	bt.Token = signed
	if err := s.tokens.Create(ctx, bt); err != nil {
		return nil, nil, fmt.Errorf("linking: persist token: %w", err)
	}

	l.Status = models.LinkApproved
	l.Token = signed
	l.PrincipalID = p.ID
	if err := s.codes.Update(ctx, l); err != nil {
		return nil, nil, fmt.Errorf("linking: approve code: %w", err)
	}
	return l, p, nil
}

func (s *Service) lookup(ctx context.Context, code string) (*models.LinkCode, error) {
	normalized := strings.ToUpper(strings.TrimSpace(code))
	l, err := s.codes.Get(ctx, normalized)
	if err != nil {
		return nil, fmt.Errorf("linking: get code: %w", err)
	}
	if l == nil {
		return nil, ErrNotFound
	}
	return l, nil
}

func generateCode() (string, error) {
	b := make([]byte, CodeLength)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	out := make([]byte, CodeLength)
	for i := range out {
		out[i] = CodeAlphabet[int(b[i])%len(CodeAlphabet)]
	}
	return string(out), nil
}
