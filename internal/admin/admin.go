// Package admin implements the AdminService unary RPC surface: principal,
// binding, and token CRUD restricted to principals holding the "operator"
// role.
package admin

import (
	"context"
	"errors"
	"time"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/google/uuid"

	"github.com/agentfabric/gateway/internal/auth"
	"github.com/agentfabric/gateway/internal/binding"
	"github.com/agentfabric/gateway/internal/storage"
	"github.com/agentfabric/gateway/internal/wire"
	"github.com/agentfabric/gateway/pkg/models"
)

// Service implements wire.AdminServiceServer.
type Service struct {
	principals storage.PrincipalStore
	tokens     storage.TokenStore
	bindings   *binding.Service
	jwt        *auth.JWTService
}

// New builds the admin Service.
func New(principals storage.PrincipalStore, tokens storage.TokenStore, bindings *binding.Service, jwt *auth.JWTService) *Service {
	return &Service{principals: principals, tokens: tokens, bindings: bindings, jwt: jwt}
}

// requireOperator extracts the authenticated principal from ctx and checks
// it carries the "operator" role. Every admin method gates on it.
func requireOperator(ctx context.Context) (*models.Principal, error) {
	p, ok := auth.PrincipalFromContext(ctx)
	if !ok || p == nil {
		return nil, status.Error(codes.Unauthenticated, "admin: no authenticated principal")
	}
	if !p.HasRole("operator") {
		return nil, status.Error(codes.PermissionDenied, "admin: operator role required")
	}
	return p, nil
}

func toPrincipalWire(p *models.Principal) wire.PrincipalWire {
	return wire.PrincipalWire{
		ID:          p.ID,
		Kind:        string(p.Kind),
		DisplayName: p.DisplayName,
		Fingerprint: p.Fingerprint,
		Status:      string(p.Status),
		Roles:       p.Roles,
	}
}

func toBindingWire(b *models.Binding) wire.BindingWire {
	return wire.BindingWire{ID: b.ID, Frontend: b.Frontend, ChannelID: b.ChannelID, AgentID: b.AgentID}
}

// CreatePrincipal provisions a principal directly, bypassing the link-code
// ritual, for e.g. scripted pack onboarding.
func (s *Service) CreatePrincipal(ctx context.Context, req *wire.CreatePrincipalRequest) (*wire.CreatePrincipalResponse, error) {
	if _, err := requireOperator(ctx); err != nil {
		return nil, err
	}
	p := &models.Principal{
		ID:          uuid.New().String(),
		Kind:        models.PrincipalKind(req.Kind),
		DisplayName: req.DisplayName,
		Fingerprint: req.Fingerprint,
		Status:      models.StatusApproved,
		Roles:       req.Roles,
	}
	if err := s.principals.Create(ctx, p); err != nil {
		if errors.Is(err, storage.ErrAlreadyExists) {
			return nil, status.Error(codes.AlreadyExists, "admin: fingerprint already registered for this kind")
		}
		return nil, status.Errorf(codes.Internal, "admin: create principal: %v", err)
	}
	return &wire.CreatePrincipalResponse{Principal: toPrincipalWire(p)}, nil
}

// ListPrincipals returns every known principal.
func (s *Service) ListPrincipals(ctx context.Context, _ *wire.ListPrincipalsRequest) (*wire.ListPrincipalsResponse, error) {
	if _, err := requireOperator(ctx); err != nil {
		return nil, err
	}
	principals, err := s.principals.List(ctx)
	if err != nil {
		return nil, status.Errorf(codes.Internal, "admin: list principals: %v", err)
	}
	out := make([]wire.PrincipalWire, 0, len(principals))
	for _, p := range principals {
		out = append(out, toPrincipalWire(p))
	}
	return &wire.ListPrincipalsResponse{Principals: out}, nil
}

// DeletePrincipal removes a principal by id.
func (s *Service) DeletePrincipal(ctx context.Context, req *wire.DeletePrincipalRequest) (*wire.DeletePrincipalResponse, error) {
	if _, err := requireOperator(ctx); err != nil {
		return nil, err
	}
	if err := s.principals.Delete(ctx, req.PrincipalID); err != nil {
		return nil, status.Errorf(codes.Internal, "admin: delete principal: %v", err)
	}
	return &wire.DeletePrincipalResponse{}, nil
}

// CreateBinding durably maps an external address to an agent id.
func (s *Service) CreateBinding(ctx context.Context, req *wire.CreateBindingRequest) (*wire.CreateBindingResponse, error) {
	if _, err := requireOperator(ctx); err != nil {
		return nil, err
	}
	b, err := s.bindings.Create(ctx, binding.Frontend(req.Frontend), req.ChannelID, req.AgentID)
	if err != nil {
		if errors.Is(err, binding.ErrUnknownFrontend) {
			return nil, status.Error(codes.InvalidArgument, err.Error())
		}
		if errors.Is(err, storage.ErrAlreadyExists) {
			return nil, status.Error(codes.AlreadyExists, "admin: binding already exists for this channel")
		}
		return nil, status.Errorf(codes.Internal, "admin: create binding: %v", err)
	}
	return &wire.CreateBindingResponse{Binding: toBindingWire(b)}, nil
}

// ListBindings lists every durable binding.
func (s *Service) ListBindings(ctx context.Context, _ *wire.ListBindingsRequest) (*wire.ListBindingsResponse, error) {
	if _, err := requireOperator(ctx); err != nil {
		return nil, err
	}
	bindings, err := s.bindings.List(ctx)
	if err != nil {
		return nil, status.Errorf(codes.Internal, "admin: list bindings: %v", err)
	}
	out := make([]wire.BindingWire, 0, len(bindings))
	for _, b := range bindings {
		out = append(out, toBindingWire(b))
	}
	return &wire.ListBindingsResponse{Bindings: out}, nil
}

// DeleteBinding removes a binding by id.
func (s *Service) DeleteBinding(ctx context.Context, req *wire.DeleteBindingRequest) (*wire.DeleteBindingResponse, error) {
	if _, err := requireOperator(ctx); err != nil {
		return nil, err
	}
	if err := s.bindings.Delete(ctx, req.BindingID); err != nil {
		return nil, status.Errorf(codes.Internal, "admin: delete binding: %v", err)
	}
	return &wire.DeleteBindingResponse{}, nil
}

// CreateToken mints a bearer token for an existing principal.
func (s *Service) CreateToken(ctx context.Context, req *wire.CreateTokenRequest) (*wire.CreateTokenResponse, error) {
	if _, err := requireOperator(ctx); err != nil {
		return nil, err
	}
	p, err := s.principals.Get(ctx, req.PrincipalID)
	if err != nil {
		return nil, status.Errorf(codes.Internal, "admin: get principal: %v", err)
	}
	if p == nil {
		return nil, status.Error(codes.NotFound, "admin: unknown principal_id")
	}

	ttl := time.Duration(req.TTLSeconds) * time.Second
	if ttl <= 0 {
		ttl = 90 * 24 * time.Hour
	}
	bt := &models.BearerToken{PrincipalID: p.ID, CreatedAt: time.Now(), ExpiresAt: time.Now().Add(ttl)}
	signed, err := s.jwt.Generate(*bt, string(p.Kind), p.Roles)
	if err != nil {
		return nil, status.Errorf(codes.Internal, "admin: sign token: %v", err)
	}
	bt.Token = signed
	if err := s.tokens.Create(ctx, bt); err != nil {
		return nil, status.Errorf(codes.Internal, "admin: persist token: %v", err)
	}
	return &wire.CreateTokenResponse{Token: signed, ExpiresAt: bt.ExpiresAt.Unix()}, nil
}
