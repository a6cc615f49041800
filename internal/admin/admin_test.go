package admin

import (
	"context"
	"testing"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/agentfabric/gateway/internal/auth"
	"github.com/agentfabric/gateway/internal/binding"
	"github.com/agentfabric/gateway/internal/storage"
	"github.com/agentfabric/gateway/internal/wire"
	"github.com/agentfabric/gateway/pkg/models"
)

func newTestService(t *testing.T) *Service {
	t.Helper()
	stores, err := storage.Open(":memory:")
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { _ = stores.Close() })
	return New(stores.Principals, stores.Tokens, binding.New(stores.Bindings), auth.NewJWTService("test-secret"))
}

func operatorCtx() context.Context {
	return auth.WithPrincipal(context.Background(), &models.Principal{
		ID: "op-1", Kind: models.PrincipalOperator, Status: models.StatusApproved, Roles: []string{"operator"},
	})
}

func clientCtx() context.Context {
	return auth.WithPrincipal(context.Background(), &models.Principal{
		ID: "c-1", Kind: models.PrincipalClient, Status: models.StatusApproved,
	})
}

func wantCode(t *testing.T, err error, want codes.Code) {
	t.Helper()
	st, ok := status.FromError(err)
	if !ok {
		t.Fatalf("expected a status error, got %v", err)
	}
	if st.Code() != want {
		t.Fatalf("expected code %s, got %s (%v)", want, st.Code(), err)
	}
}

func TestAdminMethodsRequireOperatorRole(t *testing.T) {
	s := newTestService(t)

	_, err := s.ListPrincipals(clientCtx(), &wire.ListPrincipalsRequest{})
	wantCode(t, err, codes.PermissionDenied)

	_, err = s.CreateToken(context.Background(), &wire.CreateTokenRequest{PrincipalID: "x"})
	wantCode(t, err, codes.Unauthenticated)
}

func TestCreatePrincipalDuplicateFingerprint(t *testing.T) {
	s := newTestService(t)
	ctx := operatorCtx()

	req := &wire.CreatePrincipalRequest{Kind: "agent", DisplayName: "laptop", Fingerprint: "abc"}
	if _, err := s.CreatePrincipal(ctx, req); err != nil {
		t.Fatalf("first create: %v", err)
	}
	_, err := s.CreatePrincipal(ctx, req)
	wantCode(t, err, codes.AlreadyExists)
}

func TestCreateBindingValidation(t *testing.T) {
	s := newTestService(t)
	ctx := operatorCtx()

	_, err := s.CreateBinding(ctx, &wire.CreateBindingRequest{Frontend: "smoke-signal", ChannelID: "c1", AgentID: "a1"})
	wantCode(t, err, codes.InvalidArgument)

	if _, err := s.CreateBinding(ctx, &wire.CreateBindingRequest{Frontend: "slack", ChannelID: "c1", AgentID: "a1"}); err != nil {
		t.Fatalf("create binding: %v", err)
	}
	_, err = s.CreateBinding(ctx, &wire.CreateBindingRequest{Frontend: "slack", ChannelID: "c1", AgentID: "a2"})
	wantCode(t, err, codes.AlreadyExists)
}

func TestCreateTokenForKnownPrincipal(t *testing.T) {
	s := newTestService(t)
	ctx := operatorCtx()

	created, err := s.CreatePrincipal(ctx, &wire.CreatePrincipalRequest{Kind: "client", DisplayName: "cli", Fingerprint: "fp1"})
	if err != nil {
		t.Fatalf("create principal: %v", err)
	}

	resp, err := s.CreateToken(ctx, &wire.CreateTokenRequest{PrincipalID: created.Principal.ID, TTLSeconds: 3600})
	if err != nil {
		t.Fatalf("create token: %v", err)
	}
	if resp.Token == "" || resp.ExpiresAt == 0 {
		t.Fatalf("expected a signed token with expiry, got %+v", resp)
	}

	_, err = s.CreateToken(ctx, &wire.CreateTokenRequest{PrincipalID: "nope"})
	wantCode(t, err, codes.NotFound)
}
