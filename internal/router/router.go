// Package router implements the message-routing core: resolving a client's
// SendMessage to a bound agent, forwarding it over that agent's stream, and
// fanning the agent's response events back out to every client subscribed
// to the conversation. It owns the per-conversation event sequencing,
// inbound idempotency, and bounded replay buffer.
package router

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/agentfabric/gateway/internal/observability"
	"github.com/agentfabric/gateway/internal/registry"
	"github.com/agentfabric/gateway/internal/storage"
	"github.com/agentfabric/gateway/internal/wire"
	"github.com/agentfabric/gateway/pkg/models"
)

var (
	ErrNoBinding      = errors.New("router: no agent bound to this channel")
	ErrAgentOffline   = errors.New("router: bound agent is not connected")
	ErrQueueFull      = errors.New("router: agent outbound queue is full")
	ErrUnknownRequest = errors.New("router: unknown request_id")
)

// ReplayWindow bounds how many past events a conversation retains for
// StreamEvents catch-up, matching the subscriber backpressure ceiling.
const ReplayWindow = 256

// IdempotencyWindow is how long a client-submitted request_id is
// remembered to dedup retried SendMessage calls.
const IdempotencyWindow = 5 * time.Minute

// cursor is a conversation's sequencing and replay state.
type cursor struct {
	mu          sync.Mutex
	nextEventID uint64
	replay      []*models.Event
	seen        map[string]time.Time // request_id -> first-seen time, for idempotent resend
}

func newCursor() *cursor {
	return &cursor{seen: make(map[string]time.Time)}
}

func (c *cursor) allocate(evt *models.Event) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.nextEventID++
	evt.EventID = c.nextEventID
	c.replay = append(c.replay, evt)
	if len(c.replay) > ReplayWindow {
		c.replay = c.replay[len(c.replay)-ReplayWindow:]
	}
}

// since returns the buffered events after eventID and whether eventID has
// fallen below the buffer's horizon, meaning events between it and the
// oldest retained entry were already evicted and can never be replayed.
func (c *cursor) since(eventID uint64) (events []*models.Event, gap bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]*models.Event, 0, len(c.replay))
	for _, evt := range c.replay {
		if evt.EventID > eventID {
			out = append(out, evt)
		}
	}
	if len(c.replay) > 0 {
		gap = eventID+1 < c.replay[0].EventID
	} else {
		gap = eventID < c.nextEventID
	}
	return out, gap
}

// dedup reports whether request_id has already been seen within
// IdempotencyWindow, recording it if not. Stale entries are pruned
// opportunistically.
func (c *cursor) dedup(requestID string, now time.Time) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	for id, at := range c.seen {
		if now.Sub(at) > IdempotencyWindow {
			delete(c.seen, id)
		}
	}
	if _, ok := c.seen[requestID]; ok {
		return true
	}
	c.seen[requestID] = now
	return false
}

// Router resolves bindings, forwards client messages to agents, and routes
// agent responses back to subscribed clients.
type Router struct {
	reg      *registry.Registry
	bindings storage.BindingStore
	logger   *slog.Logger
	metrics  *observability.Metrics

	mu          sync.Mutex
	cursors     map[string]*cursor       // conversation key -> cursor
	requestConv map[string]requestRoute  // request_id -> where replies go, for routing agent responses back
}

// requestRoute records where an in-flight request's responses belong and
// which agent connection is serving it, so an eviction can fail exactly the
// requests that connection owned.
type requestRoute struct {
	convKey    string
	agentID    string
	instanceID string
}

// New builds a Router.
func New(reg *registry.Registry, bindings storage.BindingStore, logger *slog.Logger) *Router {
	if logger == nil {
		logger = slog.Default()
	}
	return &Router{
		reg:         reg,
		bindings:    bindings,
		logger:      logger.With("component", "router"),
		cursors:     make(map[string]*cursor),
		requestConv: make(map[string]requestRoute),
	}
}

// SetMetrics attaches a metrics sink for routing counters.
func (r *Router) SetMetrics(m *observability.Metrics) {
	r.mu.Lock()
	r.metrics = m
	r.mu.Unlock()
}

func (r *Router) cursorFor(convKey string) *cursor {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.cursors[convKey]
	if !ok {
		c = newCursor()
		r.cursors[convKey] = c
	}
	return c
}

// Status values SendMessage reports, mirroring wire.SendMessageResponse.Status.
const (
	StatusAccepted        = "accepted"
	StatusAlreadyAccepted = "already_accepted"
)

// SendMessage resolves the agent bound to (frontend, channelID), forwards
// the message over its stream, and returns once the frame is enqueued.
// Responses arrive asynchronously via HandleAgentResponse and are fanned
// out to every client subscribed to the resulting conversation key. A
// resend with the same requestID is deduplicated rather than forwarded
// twice; the returned status tells the caller which happened.
func (r *Router) SendMessage(ctx context.Context, frontend, channelID, requestID, sender, content string, attachments []string) (string, error) {
	agentID, convKey, err := r.resolveConversation(ctx, frontend, channelID)
	if err != nil {
		return "", err
	}

	session, ok := r.reg.Agent(agentID)
	if !ok {
		r.countRouted("offline")
		return "", ErrAgentOffline
	}

	cur := r.cursorFor(convKey)
	if cur.dedup(requestID, time.Now()) {
		r.logger.Debug("deduped repeated send_message", "request_id", requestID, "conversation", convKey)
		r.countRouted(StatusAlreadyAccepted)
		return StatusAlreadyAccepted, nil
	}

	r.mu.Lock()
	r.requestConv[requestID] = requestRoute{convKey: convKey, agentID: agentID, instanceID: session.InstanceID}
	r.mu.Unlock()

	frame := &wire.AgentFrame{
		Kind: wire.AgentFrameSendMessage,
		SendMessage: &wire.SendMessageFrame{
			RequestID:   requestID,
			Sender:      sender,
			Content:     content,
			Attachments: attachments,
		},
	}
	if !session.Send(frame) {
		r.countRouted("queue_full")
		return "", ErrQueueFull
	}
	r.countRouted(StatusAccepted)
	return StatusAccepted, nil
}

// resolveConversation maps a (frontend, channelID) address to the agent
// that should receive it and the conversation key its events flow under.
// A durable binding wins; absent one, a channelID that names a connected
// agent directly is its own conversation — the "conversation key equals
// agent id" addressing the ClientService exposes today, kept alongside
// bindings so a future (agent_id, thread_id) key shape slots in without a
// schema break.
func (r *Router) resolveConversation(ctx context.Context, frontend, channelID string) (agentID, convKey string, err error) {
	binding, err := r.bindings.ResolveByKey(ctx, frontend, channelID)
	if err != nil {
		return "", "", fmt.Errorf("router: resolve binding: %w", err)
	}
	if binding != nil {
		return binding.AgentID, binding.Key(), nil
	}
	if _, ok := r.reg.Agent(channelID); ok {
		direct := models.Binding{Frontend: frontend, ChannelID: channelID}
		return channelID, direct.Key(), nil
	}
	return "", "", ErrNoBinding
}

func (r *Router) countRouted(outcome string) {
	if r.metrics != nil {
		r.metrics.MessagesRouted.WithLabelValues(outcome).Inc()
	}
}

// Cancel forwards a cancellation request for requestID to the agent
// currently bound to its conversation. Cancellation is advisory: the agent
// may have already completed the request.
func (r *Router) Cancel(requestID string) error {
	r.mu.Lock()
	route, ok := r.requestConv[requestID]
	r.mu.Unlock()
	if !ok {
		return ErrUnknownRequest
	}
	convKey := route.convKey

	// Cancellation must reach whichever agent owns the conversation right
	// now, which may differ from whoever owned it when the request was
	// sent, so re-resolve rather than caching the agent session.
	frontend, channelID := splitConvKey(convKey)
	agentID, _, err := r.resolveConversation(context.Background(), frontend, channelID)
	if err != nil {
		return err
	}
	session, ok := r.reg.Agent(agentID)
	if !ok {
		return ErrAgentOffline
	}
	session.Send(&wire.AgentFrame{
		Kind:          wire.AgentFrameCancelRequest,
		CancelRequest: &wire.CancelRequestFrame{RequestID: requestID},
	})
	return nil
}

// HandleAgentResponse converts an agent's ResponseFrame into a sequenced
// Event and fans it out to every client subscribed to the owning
// conversation. Frames for an unknown request_id are dropped; this happens
// when a client disconnects mid-request or a stale agent replies after
// being superseded.
func (r *Router) HandleAgentResponse(frame *wire.ResponseFrame) {
	r.mu.Lock()
	route, ok := r.requestConv[frame.RequestID]
	r.mu.Unlock()
	if !ok {
		r.logger.Warn("response for unknown request_id, dropping", "request_id", frame.RequestID)
		return
	}
	convKey := route.convKey

	evt := &models.Event{}
	if len(frame.Payload) > 0 {
		if err := json.Unmarshal(frame.Payload, evt); err != nil {
			r.logger.Warn("failed to decode response payload", "request_id", frame.RequestID, "error", err)
			return
		}
	}
	evt.RequestID = frame.RequestID
	evt.Kind = models.EventKind(frame.EventKind)
	if evt.Kind == models.EventFile && evt.File != nil && len(evt.File.Bytes) > models.MaxFileBytes {
		oversized := len(evt.File.Bytes)
		evt = &models.Event{
			RequestID: frame.RequestID,
			Kind:      models.EventError,
			Message:   fmt.Sprintf("file %q exceeds the %d byte ceiling (%d bytes)", evt.File.Filename, models.MaxFileBytes, oversized),
		}
		r.Emit(convKey, evt)
		// The request itself is still in flight: the router replaces only
		// this one event, not the whole response, so the correlation entry
		// stays until a real terminal event arrives.
		return
	}
	r.Emit(convKey, evt)

	if isTerminalEvent(evt.Kind) {
		r.mu.Lock()
		delete(r.requestConv, frame.RequestID)
		r.mu.Unlock()
	}
}

// Emit sequences and fans out a synthetic event on convKey, the same way
// HandleAgentResponse does for agent-originated events. Used for events
// gatewaysvc generates on the agent's behalf, such as a tool-approval
// request raised before the agent's own response arrives.
func (r *Router) Emit(convKey string, evt *models.Event) {
	cur := r.cursorFor(convKey)
	cur.allocate(evt)
	r.reg.Publish(convKey, evt)
	if r.metrics != nil {
		r.metrics.EventsPublished.WithLabelValues(string(evt.Kind)).Inc()
	}
}

// ConversationForRequest looks up the conversation key a still-in-flight
// request_id belongs to. Used to resolve a side-channel request an agent
// raises while handling a SendMessage (e.g. ExecutePackTool) back to the
// conversation that should see the resulting event.
func (r *Router) ConversationForRequest(requestID string) (string, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	route, ok := r.requestConv[requestID]
	return route.convKey, ok
}

// FailSessionRequests terminates every in-flight request the given agent
// connection was serving with a single terminal error event, so a client
// watching the conversation sees exactly one terminal event when its agent
// disconnects or is superseded by a reconnect. Returns how many requests
// were failed.
func (r *Router) FailSessionRequests(agentID, instanceID, reason string) int {
	r.mu.Lock()
	var failed []requestFailure
	for requestID, route := range r.requestConv {
		if route.agentID == agentID && route.instanceID == instanceID {
			failed = append(failed, requestFailure{requestID: requestID, convKey: route.convKey})
			delete(r.requestConv, requestID)
		}
	}
	r.mu.Unlock()

	for _, f := range failed {
		r.Emit(f.convKey, &models.Event{
			RequestID: f.requestID,
			Kind:      models.EventError,
			Message:   reason,
		})
	}
	if len(failed) > 0 {
		r.logger.Info("failed in-flight requests for closed agent session",
			"agent_id", agentID, "instance_id", instanceID, "count", len(failed), "reason", reason)
	}
	return len(failed)
}

type requestFailure struct {
	requestID string
	convKey   string
}

// isTerminalEvent reports whether kind ends a request's event stream, so
// the request_id -> conversation correlation entry can be released.
func isTerminalEvent(kind models.EventKind) bool {
	return kind == models.EventDone || kind == models.EventError || kind == models.EventSessionOrphaned
}

// Replay returns every event after sinceEventID still held in the
// conversation's bounded replay buffer, for a client resuming StreamEvents
// after a reconnect. gap reports that sinceEventID predates the buffer's
// horizon; the caller surfaces that to the client as a single error event
// before the live join so it knows to refetch out of band.
func (r *Router) Replay(convKey string, sinceEventID uint64) (events []*models.Event, gap bool) {
	return r.cursorFor(convKey).since(sinceEventID)
}

func splitConvKey(convKey string) (string, string) {
	for i := 0; i < len(convKey); i++ {
		if convKey[i] == 0 {
			return convKey[:i], convKey[i+1:]
		}
	}
	return convKey, ""
}
