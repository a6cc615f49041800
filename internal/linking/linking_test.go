package linking

import (
	"context"
	"testing"

	"github.com/agentfabric/gateway/internal/auth"
	"github.com/agentfabric/gateway/internal/storage"
	"github.com/agentfabric/gateway/pkg/models"
)

func newTestService(t *testing.T) (*Service, storage.StoreSet) {
	t.Helper()
	stores, err := storage.Open(":memory:")
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { _ = stores.Close() })
	svc := New(stores.LinkCodes, stores.Principals, stores.Tokens, auth.NewJWTService("test-secret"))
	return svc, stores
}

func TestRequestApproveRedeem(t *testing.T) {
	ctx := context.Background()
	svc, _ := newTestService(t)

	l, err := svc.Request(ctx, "AB:CD:EF", "laptop", models.PrincipalAgent)
	if err != nil {
		t.Fatalf("request: %v", err)
	}
	if l.Status != models.LinkPending {
		t.Fatalf("expected pending, got %s", l.Status)
	}

	status, err := svc.Status(ctx, l.Code)
	if err != nil || status.Status != models.LinkPending {
		t.Fatalf("status before approval: %+v, err %v", status, err)
	}

	approved, principal, err := svc.Approve(ctx, l.Code, "laptop")
	if err != nil {
		t.Fatalf("approve: %v", err)
	}
	if approved.Status != models.LinkApproved || approved.Token == "" {
		t.Fatalf("expected approved code with token, got %+v", approved)
	}
	if principal.Status != models.StatusApproved {
		t.Fatalf("expected approved principal, got %+v", principal)
	}

	delivered, err := svc.Status(ctx, l.Code)
	if err != nil {
		t.Fatalf("status after approval: %v", err)
	}
	if delivered.Token == "" || delivered.PrincipalID != principal.ID {
		t.Fatalf("expected token delivered on first poll, got %+v", delivered)
	}

	consumed, err := svc.Status(ctx, l.Code)
	if err != nil {
		t.Fatalf("status after delivery: %v", err)
	}
	if consumed.Status != models.LinkConsumed {
		t.Fatalf("expected consumed on second poll, got %s", consumed.Status)
	}
}

func TestApproveRejectsConsumedCode(t *testing.T) {
	ctx := context.Background()
	svc, _ := newTestService(t)

	l, _ := svc.Request(ctx, "11:22:33", "phone", models.PrincipalClient)
	if _, _, err := svc.Approve(ctx, l.Code, ""); err != nil {
		t.Fatalf("first approve: %v", err)
	}
	if _, _, err := svc.Approve(ctx, l.Code, ""); err != ErrExpiredOrConsumed {
		t.Fatalf("expected ErrExpiredOrConsumed on reapproval, got %v", err)
	}
}
