// Package binding manages the durable (frontend, channel_id) -> agent_id
// mapping chat-platform bridges use to resolve "this chatroom" to the
// agent that serves it.
package binding

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/agentfabric/gateway/internal/storage"
	"github.com/agentfabric/gateway/pkg/models"
)

// Frontend identifies the external system a binding's channel_id is
// addressed in. The adapters themselves live outside the gateway; this set
// is the vocabulary admins use when creating bindings.
type Frontend string

const (
	FrontendCLI        Frontend = "cli"
	FrontendSlack      Frontend = "slack"
	FrontendDiscord    Frontend = "discord"
	FrontendTelegram   Frontend = "telegram"
	FrontendWhatsApp   Frontend = "whatsapp"
	FrontendMatrix     Frontend = "matrix"
	FrontendSignal     Frontend = "signal"
	FrontendTeams      Frontend = "teams"
	FrontendMattermost Frontend = "mattermost"
	FrontendWeb        Frontend = "web"
	FrontendAPI        Frontend = "api"
)

// KnownFrontends lists every frontend label the gateway accepts in a
// CreateBinding call. An operator pointing a bridge at a frontend outside
// this set almost certainly has a typo; reject it rather than silently
// creating an unaddressable binding.
var KnownFrontends = map[Frontend]bool{
	FrontendCLI: true, FrontendSlack: true, FrontendDiscord: true,
	FrontendTelegram: true, FrontendWhatsApp: true, FrontendMatrix: true,
	FrontendSignal: true, FrontendTeams: true, FrontendMattermost: true,
	FrontendWeb: true, FrontendAPI: true,
}

// ErrUnknownFrontend rejects a CreateBinding call naming a frontend outside
// KnownFrontends.
var ErrUnknownFrontend = errors.New("binding: unknown frontend")

// Service is the durable (frontend, channel_id) -> agent_id mapping used by
// both the admin surface and the router's binding resolution.
type Service struct {
	store storage.BindingStore
}

// New builds a binding Service over a durable BindingStore.
func New(store storage.BindingStore) *Service {
	return &Service{store: store}
}

// Create validates frontend against KnownFrontends and persists a new
// binding.
func (s *Service) Create(ctx context.Context, frontend Frontend, channelID, agentID string) (*models.Binding, error) {
	if !KnownFrontends[frontend] {
		return nil, fmt.Errorf("%w: %q", ErrUnknownFrontend, frontend)
	}
	b := &models.Binding{
		ID:        uuid.New().String(),
		Frontend:  string(frontend),
		ChannelID: channelID,
		AgentID:   agentID,
	}
	if err := s.store.Create(ctx, b); err != nil {
		return nil, fmt.Errorf("binding: create: %w", err)
	}
	return b, nil
}

// List returns every durable binding.
func (s *Service) List(ctx context.Context) ([]*models.Binding, error) {
	return s.store.List(ctx)
}

// Delete removes a binding by id.
func (s *Service) Delete(ctx context.Context, id string) error {
	return s.store.Delete(ctx, id)
}

// Resolve looks up the agent bound to (frontend, channelID).
func (s *Service) Resolve(ctx context.Context, frontend Frontend, channelID string) (*models.Binding, error) {
	return s.store.ResolveByKey(ctx, string(frontend), channelID)
}
