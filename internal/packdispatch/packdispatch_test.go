package packdispatch

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/agentfabric/gateway/internal/registry"
	"github.com/agentfabric/gateway/internal/wire"
	"github.com/agentfabric/gateway/pkg/models"
)

func newTestDispatch(t *testing.T) (*Dispatch, *registry.Registry) {
	t.Helper()
	cfg := registry.DefaultConfig()
	cfg.SweepInterval = time.Hour
	reg := registry.New(cfg, nil, nil, nil)
	t.Cleanup(reg.Close)
	return New(reg, nil), reg
}

func TestRegisterRejectsCollidingToolName(t *testing.T) {
	d, _ := newTestDispatch(t)

	m1 := models.PackManifest{PackID: "pack-a", Tools: []models.ToolDefinition{{Name: "search"}}}
	_, rejected := d.Register("principal-a", m1, func() {})
	if len(rejected) != 0 {
		t.Fatalf("first registration should have no rejections, got %v", rejected)
	}

	m2 := models.PackManifest{PackID: "pack-b", Tools: []models.ToolDefinition{{Name: "search"}, {Name: "fetch"}}}
	_, rejected = d.Register("principal-b", m2, func() {})
	if len(rejected) != 1 || rejected[0] != "search" {
		t.Fatalf("expected \"search\" rejected for pack-b, got %v", rejected)
	}
}

func TestExecuteToolRoundTrips(t *testing.T) {
	ctx := context.Background()
	d, _ := newTestDispatch(t)

	manifest := models.PackManifest{PackID: "pack-a", Tools: []models.ToolDefinition{{Name: "search"}}}
	session, _ := d.Register("principal-a", manifest, func() {})

	go func() {
		frame := <-session.Outbound
		if frame.Kind != wire.PackFrameExecuteTool {
			t.Errorf("unexpected frame kind: %s", frame.Kind)
			return
		}
		out, _ := json.Marshal(map[string]string{"result": "ok"})
		d.HandleResult("pack-a", &wire.ExecuteToolResponseFrame{
			RequestID:  frame.ExecuteTool.RequestID,
			OutputJSON: out,
		})
	}()

	resp, err := d.ExecuteTool(ctx, "principal-x", "search", []byte(`{"q":"go"}`), time.Second)
	if err != nil {
		t.Fatalf("execute tool: %v", err)
	}
	if string(resp.OutputJSON) != `{"result":"ok"}` {
		t.Fatalf("unexpected output: %s", resp.OutputJSON)
	}
}

func TestExecuteToolUnknownNameFails(t *testing.T) {
	d, _ := newTestDispatch(t)
	if _, err := d.ExecuteTool(context.Background(), "principal-x", "missing", nil, time.Second); err != ErrToolNotFound {
		t.Fatalf("expected ErrToolNotFound, got %v", err)
	}
}

func TestUnregisterFailsWaitingRequests(t *testing.T) {
	ctx := context.Background()
	d, _ := newTestDispatch(t)

	manifest := models.PackManifest{PackID: "pack-a", Tools: []models.ToolDefinition{{Name: "search"}}}
	session, _ := d.Register("principal-a", manifest, func() {})

	go func() {
		<-session.Outbound // the request reaches the pack, which then dies
		d.Unregister("pack-a", session)
	}()

	resp, err := d.ExecuteTool(ctx, "principal-x", "search", nil, 5*time.Second)
	if err != nil {
		t.Fatalf("execute tool: %v", err)
	}
	if resp.Error != "pack disconnected" {
		t.Fatalf("expected pack disconnected error, got %+v", resp)
	}

	// The tool name is free again for the next pack.
	if _, err := d.ExecuteTool(ctx, "principal-x", "search", nil, time.Second); err != ErrToolNotFound {
		t.Fatalf("expected tool released after disconnect, got %v", err)
	}
	if _, rejected := d.Register("principal-b", models.PackManifest{PackID: "pack-b", Tools: []models.ToolDefinition{{Name: "search"}}}, func() {}); len(rejected) != 0 {
		t.Fatalf("expected re-registration of a released tool, rejected %v", rejected)
	}
}

func TestExecuteToolTimesOut(t *testing.T) {
	ctx := context.Background()
	d, _ := newTestDispatch(t)

	manifest := models.PackManifest{PackID: "pack-a", Tools: []models.ToolDefinition{{Name: "search"}}}
	session, _ := d.Register("principal-a", manifest, func() {})
	go func() { <-session.Outbound }() // drain but never reply

	_, err := d.ExecuteTool(ctx, "principal-x", "search", nil, 10*time.Millisecond)
	if err != ErrExecuteTimeout {
		t.Fatalf("expected ErrExecuteTimeout, got %v", err)
	}
}
