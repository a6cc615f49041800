package registry

import (
	"context"
	"testing"
	"time"

	"github.com/agentfabric/gateway/internal/storage"
	"github.com/agentfabric/gateway/pkg/models"
)

func newTestRegistry(t *testing.T) (*Registry, storage.StoreSet) {
	t.Helper()
	stores, err := storage.Open(":memory:")
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { _ = stores.Close() })

	cfg := DefaultConfig()
	cfg.SweepInterval = time.Hour // tests drive eviction manually
	r := New(cfg, stores.Bindings, stores.Principals, nil)
	t.Cleanup(r.Close)
	return r, stores
}

func TestRegisterAgentEvictsSuperseded(t *testing.T) {
	ctx := context.Background()
	r, _ := newTestRegistry(t)

	first, evicted := r.RegisterAgent(ctx, "principal-1", "agent-1", nil, models.AgentMetadata{}, func() {})
	if evicted {
		t.Fatalf("first registration should not evict anything")
	}

	second, evicted := r.RegisterAgent(ctx, "principal-1", "agent-1", nil, models.AgentMetadata{}, func() {})
	if !evicted {
		t.Fatalf("second registration for the same agent_id should evict the first")
	}

	select {
	case frame := <-first.Outbound:
		if frame.Kind != "shutdown" || frame.Shutdown == nil || frame.Shutdown.Reason != "superseded" {
			t.Fatalf("expected superseded shutdown frame, got %+v", frame)
		}
	default:
		t.Fatalf("expected a shutdown frame queued on the evicted session")
	}

	current, ok := r.Agent("agent-1")
	if !ok || current != second {
		t.Fatalf("registry should now hold the second session")
	}
}

func TestBindingAutoResolutionOnReconnect(t *testing.T) {
	ctx := context.Background()
	r, stores := newTestRegistry(t)

	b := &models.Binding{ID: "b1", Frontend: "cli", ChannelID: "acme/billing-service", AgentID: "agent-old"}
	if err := stores.Bindings.Create(ctx, b); err != nil {
		t.Fatalf("create binding: %v", err)
	}

	r.RegisterAgent(ctx, "principal-1", "agent-new", nil, models.AgentMetadata{Workspace: "acme/"}, func() {})

	resolved, err := stores.Bindings.ResolveByKey(ctx, "cli", "acme/billing-service")
	if err != nil {
		t.Fatalf("resolve binding: %v", err)
	}
	if resolved == nil || resolved.AgentID != "agent-new" {
		t.Fatalf("expected binding repointed at agent-new, got %+v", resolved)
	}
}

func TestSweepEvictsStaleAgent(t *testing.T) {
	ctx := context.Background()
	r, _ := newTestRegistry(t)
	r.config.HeartbeatTimeout = 0

	session, _ := r.RegisterAgent(ctx, "principal-1", "agent-1", nil, models.AgentMetadata{}, func() {})
	time.Sleep(time.Millisecond)

	r.sweepOnce()

	if _, ok := r.Agent("agent-1"); ok {
		t.Fatalf("expected stale agent to be evicted")
	}
	_ = session
}

func TestClientSubscriptionPublishAndLag(t *testing.T) {
	r, _ := newTestRegistry(t)
	sub := r.Subscribe("principal-1", "cli\x00general", func() {})
	defer r.Unsubscribe("cli\x00general", sub)

	r.Publish("cli\x00general", &models.Event{Kind: models.EventText, Text: "hi"})
	select {
	case evt := <-sub.Events:
		if evt.Text != "hi" {
			t.Fatalf("unexpected event: %+v", evt)
		}
	default:
		t.Fatalf("expected event delivered to subscriber")
	}
}

func TestRegisterPackEvictsSuperseded(t *testing.T) {
	ctx := context.Background()
	r, _ := newTestRegistry(t)
	_ = ctx

	manifest := models.PackManifest{PackID: "pack-1", Version: "1.0.0"}
	first, evicted := r.RegisterPack("principal-2", manifest, func() {})
	if evicted {
		t.Fatalf("first pack registration should not evict anything")
	}

	_, evicted = r.RegisterPack("principal-2", manifest, func() {})
	if !evicted {
		t.Fatalf("second registration for the same pack_id should evict the first")
	}
	_ = first
}
