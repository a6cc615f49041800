// Package storage provides the gateway's durable relational store:
// principals, bindings, bearer tokens, and link codes. The default backend
// is the pure-Go modernc.org/sqlite driver, a single embedded file with a
// single writer; an optional Postgres backend is available via lib/pq for
// operators who want a client-server database instead.
package storage

import (
	"context"
	"errors"

	"github.com/agentfabric/gateway/pkg/models"
)

var (
	ErrNotFound      = errors.New("storage: not found")
	ErrAlreadyExists = errors.New("storage: already exists")
)

// BindingStore persists durable (frontend, channel_id) -> agent_id mappings.
type BindingStore interface {
	Create(ctx context.Context, b *models.Binding) error
	Get(ctx context.Context, id string) (*models.Binding, error)
	List(ctx context.Context) ([]*models.Binding, error)
	Delete(ctx context.Context, id string) error
	ResolveByKey(ctx context.Context, frontend, channelID string) (*models.Binding, error)
	UpdateAgentForChannelPrefix(ctx context.Context, frontend, channelPrefix, agentID string) (int, error)
}

// TokenStore persists issued bearer tokens and their revocation state.
type TokenStore interface {
	Create(ctx context.Context, t *models.BearerToken) error
	Get(ctx context.Context, token string) (*models.BearerToken, error)
	Revoke(ctx context.Context, token string) error
}

// LinkCodeStore persists the one-time-code linking ritual's state.
type LinkCodeStore interface {
	Create(ctx context.Context, l *models.LinkCode) error
	Get(ctx context.Context, code string) (*models.LinkCode, error)
	Update(ctx context.Context, l *models.LinkCode) error
	DeleteExpired(ctx context.Context) (int, error)
}

// PrincipalStore persists the fingerprint -> Principal mapping.
type PrincipalStore interface {
	Create(ctx context.Context, p *models.Principal) error
	Get(ctx context.Context, id string) (*models.Principal, error)
	Update(ctx context.Context, p *models.Principal) error
	Delete(ctx context.Context, id string) error
	List(ctx context.Context) ([]*models.Principal, error)
	ResolveByFingerprint(ctx context.Context, kind models.PrincipalKind, fingerprint string) (*models.Principal, error)
}

// StoreSet groups every durable store the gateway depends on.
type StoreSet struct {
	Principals PrincipalStore
	Bindings   BindingStore
	Tokens     TokenStore
	LinkCodes  LinkCodeStore

	closer func() error
}

// Close releases any underlying resources (the open *sql.DB).
func (s StoreSet) Close() error {
	if s.closer == nil {
		return nil
	}
	return s.closer()
}
