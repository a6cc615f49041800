package storage

import (
	"context"
	"testing"
	"time"

	"github.com/agentfabric/gateway/pkg/models"
)

func openTestStore(t *testing.T) StoreSet {
	t.Helper()
	stores, err := Open(":memory:")
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	t.Cleanup(func() { _ = stores.Close() })
	return stores
}

func TestPrincipalStoreFingerprintUniqueness(t *testing.T) {
	ctx := context.Background()
	stores := openTestStore(t)

	p := &models.Principal{ID: "p1", Kind: models.PrincipalAgent, Fingerprint: "abc", Status: models.StatusApproved}
	if err := stores.Principals.Create(ctx, p); err != nil {
		t.Fatalf("create: %v", err)
	}

	dup := &models.Principal{ID: "p2", Kind: models.PrincipalAgent, Fingerprint: "abc", Status: models.StatusApproved}
	if err := stores.Principals.Create(ctx, dup); err != ErrAlreadyExists {
		t.Fatalf("expected ErrAlreadyExists, got %v", err)
	}

	// Same fingerprint, different kind is fine.
	other := &models.Principal{ID: "p3", Kind: models.PrincipalClient, Fingerprint: "abc", Status: models.StatusApproved}
	if err := stores.Principals.Create(ctx, other); err != nil {
		t.Fatalf("create with different kind: %v", err)
	}

	found, err := stores.Principals.ResolveByFingerprint(ctx, models.PrincipalAgent, "abc")
	if err != nil || found == nil || found.ID != "p1" {
		t.Fatalf("resolve: got %+v, err %v", found, err)
	}
}

func TestBindingUpdateForChannelPrefix(t *testing.T) {
	ctx := context.Background()
	stores := openTestStore(t)

	b := &models.Binding{ID: "b1", Frontend: "slack", ChannelID: "ws-alpha-room1", AgentID: "agent-old"}
	if err := stores.Bindings.Create(ctx, b); err != nil {
		t.Fatalf("create binding: %v", err)
	}

	n, err := stores.Bindings.UpdateAgentForChannelPrefix(ctx, "slack", "ws-alpha", "agent-new")
	if err != nil {
		t.Fatalf("update: %v", err)
	}
	if n != 1 {
		t.Fatalf("expected 1 row updated, got %d", n)
	}

	got, err := stores.Bindings.ResolveByKey(ctx, "slack", "ws-alpha-room1")
	if err != nil || got == nil || got.AgentID != "agent-new" {
		t.Fatalf("resolve after update: got %+v, err %v", got, err)
	}
}

func TestLinkCodeLifecycle(t *testing.T) {
	ctx := context.Background()
	stores := openTestStore(t)

	l := &models.LinkCode{
		Code: "K4T29X1Q", Fingerprint: "fp1", DeviceName: "laptop",
		Kind: models.PrincipalAgent, Status: models.LinkPending,
		ExpiresAt: time.Now().Add(10 * time.Minute),
	}
	if err := stores.LinkCodes.Create(ctx, l); err != nil {
		t.Fatalf("create: %v", err)
	}

	l.Status = models.LinkApproved
	l.Token = "tok"
	l.PrincipalID = "agent-1"
	if err := stores.LinkCodes.Update(ctx, l); err != nil {
		t.Fatalf("update: %v", err)
	}

	got, err := stores.LinkCodes.Get(ctx, "K4T29X1Q")
	if err != nil || got == nil || got.Status != models.LinkApproved {
		t.Fatalf("get after approve: got %+v, err %v", got, err)
	}
}
