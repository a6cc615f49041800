// Package principal provides the durable mapping of public-key fingerprint
// to Principal (agent, client, pack, or operator) that every other gateway
// subsystem authenticates against.
package principal

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/agentfabric/gateway/pkg/models"
)

// Store defines the interface for principal persistence. Implementations
// must enforce fingerprint uniqueness within a kind.
type Store interface {
	Create(ctx context.Context, p *models.Principal) error
	Get(ctx context.Context, id string) (*models.Principal, error)
	Update(ctx context.Context, p *models.Principal) error
	Delete(ctx context.Context, id string) error
	List(ctx context.Context) ([]*models.Principal, error)
	ResolveByFingerprint(ctx context.Context, kind models.PrincipalKind, fingerprint string) (*models.Principal, error)
}

// MemoryStore is an in-memory Store, used in tests as a drop-in for the
// SQL-backed stores in internal/storage.
type MemoryStore struct {
	mu sync.RWMutex

	byID          map[string]*models.Principal
	byFingerprint map[string]string // kind\x00fingerprint -> id
}

// NewMemoryStore creates a new in-memory principal store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		byID:          make(map[string]*models.Principal),
		byFingerprint: make(map[string]string),
	}
}

func fingerprintKey(kind models.PrincipalKind, fingerprint string) string {
	return string(kind) + "\x00" + fingerprint
}

// Create inserts a new principal, assigning an id if unset.
func (s *MemoryStore) Create(ctx context.Context, p *models.Principal) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if p.ID == "" {
		p.ID = uuid.New().String()
	}
	key := fingerprintKey(p.Kind, p.Fingerprint)
	if existing, ok := s.byFingerprint[key]; ok && existing != p.ID {
		return fmt.Errorf("principal: fingerprint already registered for kind %s", p.Kind)
	}

	now := time.Now()
	p.CreatedAt = now
	p.UpdatedAt = now

	clone := clonePrincipal(p)
	s.byID[p.ID] = clone
	s.byFingerprint[key] = p.ID
	return nil
}

// Get retrieves a principal by id.
func (s *MemoryStore) Get(ctx context.Context, id string) (*models.Principal, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	p, ok := s.byID[id]
	if !ok {
		return nil, nil
	}
	return clonePrincipal(p), nil
}

// Update replaces an existing principal record.
func (s *MemoryStore) Update(ctx context.Context, p *models.Principal) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	existing, ok := s.byID[p.ID]
	if !ok {
		return fmt.Errorf("principal: not found: %s", p.ID)
	}

	if existing.Fingerprint != p.Fingerprint || existing.Kind != p.Kind {
		delete(s.byFingerprint, fingerprintKey(existing.Kind, existing.Fingerprint))
		s.byFingerprint[fingerprintKey(p.Kind, p.Fingerprint)] = p.ID
	}

	p.CreatedAt = existing.CreatedAt
	p.UpdatedAt = time.Now()
	s.byID[p.ID] = clonePrincipal(p)
	return nil
}

// Delete removes a principal. Callers are responsible for checking that no
// binding still references it.
func (s *MemoryStore) Delete(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.byID[id]
	if !ok {
		return nil
	}
	delete(s.byFingerprint, fingerprintKey(p.Kind, p.Fingerprint))
	delete(s.byID, id)
	return nil
}

// List returns every known principal.
func (s *MemoryStore) List(ctx context.Context) ([]*models.Principal, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]*models.Principal, 0, len(s.byID))
	for _, p := range s.byID {
		out = append(out, clonePrincipal(p))
	}
	return out, nil
}

// ResolveByFingerprint looks up a principal by (kind, fingerprint), the
// lookup performed on every SSH-signed RPC.
func (s *MemoryStore) ResolveByFingerprint(ctx context.Context, kind models.PrincipalKind, fingerprint string) (*models.Principal, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	id, ok := s.byFingerprint[fingerprintKey(kind, fingerprint)]
	if !ok {
		return nil, nil
	}
	return clonePrincipal(s.byID[id]), nil
}

func clonePrincipal(p *models.Principal) *models.Principal {
	clone := *p
	clone.Roles = append([]string(nil), p.Roles...)
	return &clone
}
