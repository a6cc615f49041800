package router

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/agentfabric/gateway/internal/registry"
	"github.com/agentfabric/gateway/internal/storage"
	"github.com/agentfabric/gateway/internal/wire"
	"github.com/agentfabric/gateway/pkg/models"
)

func newTestRouter(t *testing.T) (*Router, *registry.Registry, storage.StoreSet) {
	t.Helper()
	stores, err := storage.Open(":memory:")
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { _ = stores.Close() })

	cfg := registry.DefaultConfig()
	cfg.SweepInterval = time.Hour
	reg := registry.New(cfg, stores.Bindings, stores.Principals, nil)
	t.Cleanup(reg.Close)

	r := New(reg, stores.Bindings, nil)
	return r, reg, stores
}

func TestSendMessageForwardsToAgentSession(t *testing.T) {
	ctx := context.Background()
	r, reg, stores := newTestRouter(t)

	if err := stores.Bindings.Create(ctx, &models.Binding{ID: "b1", Frontend: "cli", ChannelID: "c1", AgentID: "agent-1"}); err != nil {
		t.Fatalf("create binding: %v", err)
	}
	session, _ := reg.RegisterAgent(ctx, "principal-1", "agent-1", nil, models.AgentMetadata{}, func() {})

	if status, err := r.SendMessage(ctx, "cli", "c1", "req-1", "user-1", "hello", nil); err != nil {
		t.Fatalf("send message: %v", err)
	} else if status != StatusAccepted {
		t.Fatalf("expected status %q, got %q", StatusAccepted, status)
	}

	select {
	case frame := <-session.Outbound:
		if frame.Kind != wire.AgentFrameSendMessage || frame.SendMessage.Content != "hello" {
			t.Fatalf("unexpected frame: %+v", frame)
		}
	default:
		t.Fatalf("expected a send_message frame queued on the agent session")
	}
}

func TestSendMessageDedupesRepeatedRequestID(t *testing.T) {
	ctx := context.Background()
	r, reg, stores := newTestRouter(t)

	stores.Bindings.Create(ctx, &models.Binding{ID: "b1", Frontend: "cli", ChannelID: "c1", AgentID: "agent-1"})
	session, _ := reg.RegisterAgent(ctx, "principal-1", "agent-1", nil, models.AgentMetadata{}, func() {})

	r.SendMessage(ctx, "cli", "c1", "req-1", "user-1", "hello", nil)
	<-session.Outbound

	status, err := r.SendMessage(ctx, "cli", "c1", "req-1", "user-1", "hello again", nil)
	if err != nil {
		t.Fatalf("dedup send should not error: %v", err)
	}
	if status != StatusAlreadyAccepted {
		t.Fatalf("expected status %q, got %q", StatusAlreadyAccepted, status)
	}
	select {
	case frame := <-session.Outbound:
		t.Fatalf("expected no frame for a deduped resend, got %+v", frame)
	default:
	}
}

func TestSendMessageNoBindingFails(t *testing.T) {
	ctx := context.Background()
	r, _, _ := newTestRouter(t)
	if _, err := r.SendMessage(ctx, "cli", "unbound", "req-1", "user-1", "hi", nil); err != ErrNoBinding {
		t.Fatalf("expected ErrNoBinding, got %v", err)
	}
}

func TestHandleAgentResponseFansOutAndSequences(t *testing.T) {
	ctx := context.Background()
	r, reg, stores := newTestRouter(t)

	stores.Bindings.Create(ctx, &models.Binding{ID: "b1", Frontend: "cli", ChannelID: "c1", AgentID: "agent-1"})
	reg.RegisterAgent(ctx, "principal-1", "agent-1", nil, models.AgentMetadata{}, func() {})
	r.SendMessage(ctx, "cli", "c1", "req-1", "user-1", "hello", nil)

	sub := reg.Subscribe("principal-2", "cli\x00c1", func() {})
	defer reg.Unsubscribe("cli\x00c1", sub)

	payload, _ := json.Marshal(models.Event{Text: "partial"})
	r.HandleAgentResponse(&wire.ResponseFrame{RequestID: "req-1", EventKind: string(models.EventText), Payload: payload})

	select {
	case evt := <-sub.Events:
		if evt.EventID != 1 || evt.Text != "partial" {
			t.Fatalf("unexpected event: %+v", evt)
		}
	default:
		t.Fatalf("expected event fanned out to subscriber")
	}

	payload2, _ := json.Marshal(models.Event{})
	r.HandleAgentResponse(&wire.ResponseFrame{RequestID: "req-1", EventKind: string(models.EventDone), Payload: payload2})
	<-sub.Events

	replay, gap := r.Replay("cli\x00c1", 0)
	if len(replay) != 2 {
		t.Fatalf("expected 2 replayed events, got %d", len(replay))
	}
	if gap {
		t.Fatalf("no events were evicted, so there should be no replay gap")
	}
}

func TestSendMessageDirectAgentIDWithoutBinding(t *testing.T) {
	ctx := context.Background()
	r, reg, _ := newTestRouter(t)

	session, _ := reg.RegisterAgent(ctx, "principal-1", "agent-1", nil, models.AgentMetadata{}, func() {})

	status, err := r.SendMessage(ctx, "api", "agent-1", "req-1", "user-1", "hello", nil)
	if err != nil {
		t.Fatalf("send to bare agent id: %v", err)
	}
	if status != StatusAccepted {
		t.Fatalf("expected status %q, got %q", StatusAccepted, status)
	}
	select {
	case frame := <-session.Outbound:
		if frame.Kind != wire.AgentFrameSendMessage {
			t.Fatalf("unexpected frame: %+v", frame)
		}
	default:
		t.Fatalf("expected a send_message frame queued without any binding")
	}
}

func TestReplayReportsGapBelowHorizon(t *testing.T) {
	ctx := context.Background()
	r, reg, stores := newTestRouter(t)

	stores.Bindings.Create(ctx, &models.Binding{ID: "b1", Frontend: "cli", ChannelID: "c1", AgentID: "agent-1"})
	reg.RegisterAgent(ctx, "principal-1", "agent-1", nil, models.AgentMetadata{}, func() {})
	r.SendMessage(ctx, "cli", "c1", "req-1", "user-1", "hello", nil)

	for i := 0; i < ReplayWindow+10; i++ {
		payload, _ := json.Marshal(models.Event{Text: "chunk"})
		r.HandleAgentResponse(&wire.ResponseFrame{RequestID: "req-1", EventKind: string(models.EventText), Payload: payload})
	}

	replay, gap := r.Replay("cli\x00c1", 0)
	if !gap {
		t.Fatalf("expected a replay gap once events fell off the buffer horizon")
	}
	if len(replay) != ReplayWindow {
		t.Fatalf("expected %d retained events, got %d", ReplayWindow, len(replay))
	}

	// Resuming from the current high-water mark replays nothing and is not
	// a gap.
	high := replay[len(replay)-1].EventID
	tail, gap := r.Replay("cli\x00c1", high)
	if gap || len(tail) != 0 {
		t.Fatalf("expected clean live join at high-water, got gap=%v len=%d", gap, len(tail))
	}
}

func TestHandleAgentResponseRejectsOversizedFile(t *testing.T) {
	ctx := context.Background()
	r, reg, stores := newTestRouter(t)

	stores.Bindings.Create(ctx, &models.Binding{ID: "b1", Frontend: "cli", ChannelID: "c1", AgentID: "agent-1"})
	reg.RegisterAgent(ctx, "principal-1", "agent-1", nil, models.AgentMetadata{}, func() {})
	r.SendMessage(ctx, "cli", "c1", "req-1", "user-1", "hello", nil)

	sub := reg.Subscribe("principal-2", "cli\x00c1", func() {})
	defer reg.Unsubscribe("cli\x00c1", sub)

	payload, _ := json.Marshal(models.Event{File: &models.File{
		Filename: "dump.bin",
		Bytes:    make([]byte, models.MaxFileBytes+1),
	}})
	r.HandleAgentResponse(&wire.ResponseFrame{RequestID: "req-1", EventKind: string(models.EventFile), Payload: payload})

	select {
	case evt := <-sub.Events:
		if evt.Kind != models.EventError {
			t.Fatalf("expected oversized file replaced with error event, got %+v", evt)
		}
	default:
		t.Fatalf("expected an error event fanned out")
	}

	// The request is still in flight; the real terminal event must still
	// route.
	done, _ := json.Marshal(models.Event{})
	r.HandleAgentResponse(&wire.ResponseFrame{RequestID: "req-1", EventKind: string(models.EventDone), Payload: done})
	select {
	case evt := <-sub.Events:
		if evt.Kind != models.EventDone {
			t.Fatalf("expected done event after rejected file, got %+v", evt)
		}
	default:
		t.Fatalf("expected the done event to still route after a rejected file")
	}
}

func TestFailSessionRequestsEmitsSingleTerminalError(t *testing.T) {
	ctx := context.Background()
	r, reg, stores := newTestRouter(t)

	stores.Bindings.Create(ctx, &models.Binding{ID: "b1", Frontend: "cli", ChannelID: "c1", AgentID: "agent-1"})
	session, _ := reg.RegisterAgent(ctx, "principal-1", "agent-1", nil, models.AgentMetadata{}, func() {})
	r.SendMessage(ctx, "cli", "c1", "req-1", "user-1", "hello", nil)

	sub := reg.Subscribe("principal-2", "cli\x00c1", func() {})
	defer reg.Unsubscribe("cli\x00c1", sub)

	if n := r.FailSessionRequests("agent-1", session.InstanceID, "agent reconnected"); n != 1 {
		t.Fatalf("expected 1 failed request, got %d", n)
	}

	select {
	case evt := <-sub.Events:
		if evt.Kind != models.EventError || evt.RequestID != "req-1" || evt.Message != "agent reconnected" {
			t.Fatalf("unexpected terminal event: %+v", evt)
		}
	default:
		t.Fatalf("expected a terminal error event for the orphaned request")
	}

	// A late response from the dead connection must not produce a second
	// terminal event.
	payload, _ := json.Marshal(models.Event{})
	r.HandleAgentResponse(&wire.ResponseFrame{RequestID: "req-1", EventKind: string(models.EventDone), Payload: payload})
	select {
	case evt := <-sub.Events:
		t.Fatalf("expected the stale response dropped, got %+v", evt)
	default:
	}
}

func TestFailSessionRequestsSparesNewerConnection(t *testing.T) {
	ctx := context.Background()
	r, reg, stores := newTestRouter(t)

	stores.Bindings.Create(ctx, &models.Binding{ID: "b1", Frontend: "cli", ChannelID: "c1", AgentID: "agent-1"})
	old, _ := reg.RegisterAgent(ctx, "principal-1", "agent-1", nil, models.AgentMetadata{}, func() {})
	_ = old
	fresh, _ := reg.RegisterAgent(ctx, "principal-1", "agent-1", nil, models.AgentMetadata{}, func() {})

	// The request below is served by the fresh connection; tearing down the
	// old one must not touch it.
	r.SendMessage(ctx, "cli", "c1", "req-1", "user-1", "hello", nil)
	<-fresh.Outbound

	if n := r.FailSessionRequests("agent-1", old.InstanceID, "agent reconnected"); n != 0 {
		t.Fatalf("expected no requests failed for the stale instance, got %d", n)
	}
	if _, ok := r.ConversationForRequest("req-1"); !ok {
		t.Fatalf("the fresh connection's request should still be in flight")
	}
}

func TestCancelForwardsToBoundAgent(t *testing.T) {
	ctx := context.Background()
	r, reg, stores := newTestRouter(t)

	stores.Bindings.Create(ctx, &models.Binding{ID: "b1", Frontend: "cli", ChannelID: "c1", AgentID: "agent-1"})
	session, _ := reg.RegisterAgent(ctx, "principal-1", "agent-1", nil, models.AgentMetadata{}, func() {})
	r.SendMessage(ctx, "cli", "c1", "req-1", "user-1", "hello", nil)
	<-session.Outbound

	if err := r.Cancel("req-1"); err != nil {
		t.Fatalf("cancel: %v", err)
	}
	select {
	case frame := <-session.Outbound:
		if frame.Kind != wire.AgentFrameCancelRequest || frame.CancelRequest.RequestID != "req-1" {
			t.Fatalf("unexpected frame: %+v", frame)
		}
	default:
		t.Fatalf("expected a cancel_request frame forwarded to the agent")
	}

	if err := r.Cancel("req-unknown"); err != ErrUnknownRequest {
		t.Fatalf("expected ErrUnknownRequest, got %v", err)
	}
}

func TestHandleAgentResponseAcceptsFileAtCeiling(t *testing.T) {
	ctx := context.Background()
	r, reg, stores := newTestRouter(t)

	stores.Bindings.Create(ctx, &models.Binding{ID: "b1", Frontend: "cli", ChannelID: "c1", AgentID: "agent-1"})
	reg.RegisterAgent(ctx, "principal-1", "agent-1", nil, models.AgentMetadata{}, func() {})
	r.SendMessage(ctx, "cli", "c1", "req-1", "user-1", "hello", nil)

	sub := reg.Subscribe("principal-2", "cli\x00c1", func() {})
	defer reg.Unsubscribe("cli\x00c1", sub)

	payload, _ := json.Marshal(models.Event{File: &models.File{
		Filename: "exact.bin",
		Bytes:    make([]byte, models.MaxFileBytes),
	}})
	r.HandleAgentResponse(&wire.ResponseFrame{RequestID: "req-1", EventKind: string(models.EventFile), Payload: payload})

	select {
	case evt := <-sub.Events:
		if evt.Kind != models.EventFile || evt.File == nil || len(evt.File.Bytes) != models.MaxFileBytes {
			t.Fatalf("expected the exactly-at-ceiling file delivered intact, got kind=%s", evt.Kind)
		}
	default:
		t.Fatalf("expected the file event fanned out")
	}
}
