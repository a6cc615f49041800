// Package registry tracks the gateway's live in-memory connections: one
// AgentSession per connected agent, one ClientSubscription per client event
// stream, and one PackSession per connected tool pack. It is the runtime
// analogue of internal/storage: storage persists who is allowed to connect,
// registry tracks who is connected right now.
package registry

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/agentfabric/gateway/internal/observability"
	"github.com/agentfabric/gateway/internal/storage"
	"github.com/agentfabric/gateway/internal/wire"
	"github.com/agentfabric/gateway/pkg/models"
)

// AgentSession is a connected agent's live state: its outbound frame queue,
// in-flight request correlation table, and last-seen heartbeat.
type AgentSession struct {
	PrincipalID  string
	AgentID      string
	InstanceID   string
	Capabilities models.Capabilities
	Metadata     models.AgentMetadata

	Outbound chan *wire.AgentFrame

	mu            sync.Mutex
	lastHeartbeat time.Time
	inflight      map[string]chan *wire.ResponseFrame
	cancel        context.CancelFunc
}

func newAgentSession(principalID, agentID string, caps models.Capabilities, meta models.AgentMetadata, cancel context.CancelFunc) *AgentSession {
	return &AgentSession{
		PrincipalID:   principalID,
		AgentID:       agentID,
		InstanceID:    uuid.New().String()[:12],
		Capabilities:  caps,
		Metadata:      meta,
		Outbound:      make(chan *wire.AgentFrame, 64),
		lastHeartbeat: time.Now(),
		inflight:      make(map[string]chan *wire.ResponseFrame),
		cancel:        cancel,
	}
}

// Touch records a heartbeat.
func (s *AgentSession) Touch() {
	s.mu.Lock()
	s.lastHeartbeat = time.Now()
	s.mu.Unlock()
}

// LastHeartbeat returns the last recorded heartbeat time.
func (s *AgentSession) LastHeartbeat() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastHeartbeat
}

// AwaitResponse registers a correlation entry for requestID and returns the
// channel the response frame will be delivered on.
func (s *AgentSession) AwaitResponse(requestID string) chan *wire.ResponseFrame {
	ch := make(chan *wire.ResponseFrame, 1)
	s.mu.Lock()
	s.inflight[requestID] = ch
	s.mu.Unlock()
	return ch
}

// Resolve delivers a response frame to whoever is awaiting requestID, and
// reports whether anyone was waiting.
func (s *AgentSession) Resolve(requestID string, frame *wire.ResponseFrame) bool {
	s.mu.Lock()
	ch, ok := s.inflight[requestID]
	if ok {
		delete(s.inflight, requestID)
	}
	s.mu.Unlock()
	if !ok {
		return false
	}
	ch <- frame
	return true
}

// Abandon drops a correlation entry without resolving it, used when a
// request times out and the caller stops waiting.
func (s *AgentSession) Abandon(requestID string) {
	s.mu.Lock()
	delete(s.inflight, requestID)
	s.mu.Unlock()
}

// Send enqueues a frame for delivery, dropping it if the outbound queue is
// full rather than blocking the registry: a wedged connection loses
// frames, it never stalls the gateway.
func (s *AgentSession) Send(frame *wire.AgentFrame) bool {
	select {
	case s.Outbound <- frame:
		return true
	default:
		return false
	}
}

// Close cancels the session's connection context, unblocking its stream
// handler.
func (s *AgentSession) Close() {
	if s.cancel != nil {
		s.cancel()
	}
}

// ClientSubscription is a connected client's live event stream.
type ClientSubscription struct {
	ID              string
	PrincipalID     string
	ConversationKey string
	Events          chan *models.Event

	mu      sync.Mutex
	lagged  uint64
	cancel  context.CancelFunc
}

func newClientSubscription(principalID, convKey string, cancel context.CancelFunc) *ClientSubscription {
	return &ClientSubscription{
		ID:              uuid.New().String(),
		PrincipalID:     principalID,
		ConversationKey: convKey,
		Events:          make(chan *models.Event, 256),
		cancel:          cancel,
	}
}

// Publish enqueues an event. Past the 256-event backpressure ceiling the
// subscriber is considered lagged and the event is dropped rather than
// blocking the router.
func (c *ClientSubscription) Publish(evt *models.Event) {
	select {
	case c.Events <- evt:
	default:
		c.mu.Lock()
		c.lagged++
		c.mu.Unlock()
	}
}

// Lagged reports how many events this subscription has dropped.
func (c *ClientSubscription) Lagged() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lagged
}

// Close cancels the subscription's stream context.
func (c *ClientSubscription) Close() {
	if c.cancel != nil {
		c.cancel()
	}
}

// PackSession is a connected tool pack's live state.
type PackSession struct {
	PrincipalID string
	PackID      string
	Manifest    models.PackManifest

	Outbound chan *wire.PackFrame

	mu       sync.Mutex
	inflight map[string]chan *wire.ExecuteToolResponseFrame
	cancel   context.CancelFunc
}

func newPackSession(principalID string, manifest models.PackManifest, cancel context.CancelFunc) *PackSession {
	return &PackSession{
		PrincipalID: principalID,
		PackID:      manifest.PackID,
		Manifest:    manifest,
		Outbound:    make(chan *wire.PackFrame, 64),
		inflight:    make(map[string]chan *wire.ExecuteToolResponseFrame),
		cancel:      cancel,
	}
}

// AwaitResult registers a correlation entry for an in-flight tool call.
func (p *PackSession) AwaitResult(invocationID string) chan *wire.ExecuteToolResponseFrame {
	ch := make(chan *wire.ExecuteToolResponseFrame, 1)
	p.mu.Lock()
	p.inflight[invocationID] = ch
	p.mu.Unlock()
	return ch
}

// Resolve delivers a tool result to whoever is awaiting invocationID.
func (p *PackSession) Resolve(invocationID string, result *wire.ExecuteToolResponseFrame) bool {
	p.mu.Lock()
	ch, ok := p.inflight[invocationID]
	if ok {
		delete(p.inflight, invocationID)
	}
	p.mu.Unlock()
	if !ok {
		return false
	}
	ch <- result
	return true
}

// Abandon drops a correlation entry without resolving it.
func (p *PackSession) Abandon(invocationID string) {
	p.mu.Lock()
	delete(p.inflight, invocationID)
	p.mu.Unlock()
}

// FailAll resolves every in-flight correlation entry with the given error,
// releasing callers blocked on a pack that just went away.
func (p *PackSession) FailAll(errMsg string) {
	p.mu.Lock()
	entries := p.inflight
	p.inflight = make(map[string]chan *wire.ExecuteToolResponseFrame)
	p.mu.Unlock()
	for id, ch := range entries {
		ch <- &wire.ExecuteToolResponseFrame{RequestID: id, Error: errMsg}
	}
}

// Send enqueues a frame for delivery to the pack, dropping on a full queue.
func (p *PackSession) Send(frame *wire.PackFrame) bool {
	select {
	case p.Outbound <- frame:
		return true
	default:
		return false
	}
}

// Close cancels the pack session's connection context.
func (p *PackSession) Close() {
	if p.cancel != nil {
		p.cancel()
	}
}

// Config tunes the registry's heartbeat sweep and supplemented
// auto-resolution behaviors.
type Config struct {
	// HeartbeatInterval is how often agents are expected to ping.
	HeartbeatInterval time.Duration
	// HeartbeatTimeout is how long a silent agent is tolerated before
	// eviction, 3x HeartbeatInterval by convention.
	HeartbeatTimeout time.Duration
	// SweepInterval is how often the eviction sweep runs.
	SweepInterval time.Duration
}

// DefaultConfig mirrors the timings an edge daemon actually used in
// production: a 30s heartbeat with a 90s (3x) timeout.
func DefaultConfig() Config {
	return Config{
		HeartbeatInterval: 30 * time.Second,
		HeartbeatTimeout:  90 * time.Second,
		SweepInterval:     15 * time.Second,
	}
}

// Registry is the gateway's live connection table: one entry per connected
// agent, client subscription, and pack. All accessors are safe for
// concurrent use.
type Registry struct {
	config Config
	logger *slog.Logger

	bindings   storage.BindingStore
	principals storage.PrincipalStore
	metrics    *observability.Metrics

	mu           sync.RWMutex
	agentsByID   map[string]*AgentSession            // agent_id -> session
	clientsByKey map[string]map[string]*ClientSubscription // conversation key -> subscription id -> sub
	packsByID    map[string]*PackSession             // pack_id -> session

	stopSweep chan struct{}
}

// New builds a Registry. bindings and principals are optional (nil is
// valid); when set they back the binding-auto-resolution and
// leader-role-auto-grant behaviors triggered on agent (re)registration.
func New(config Config, bindings storage.BindingStore, principals storage.PrincipalStore, logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	r := &Registry{
		config:       config,
		logger:       logger.With("component", "registry"),
		bindings:     bindings,
		principals:   principals,
		agentsByID:   make(map[string]*AgentSession),
		clientsByKey: make(map[string]map[string]*ClientSubscription),
		packsByID:    make(map[string]*PackSession),
		stopSweep:    make(chan struct{}),
	}
	go r.sweepLoop()
	return r
}

// SetMetrics attaches a metrics sink; calls before this are simply not
// observed. Kept as a post-construction setter rather than a New() param
// so tests and callers that don't care about metrics aren't forced to
// thread a nil through every call site.
func (r *Registry) SetMetrics(m *observability.Metrics) {
	r.mu.Lock()
	r.metrics = m
	r.mu.Unlock()
}

// RegisterAgent admits a newly authenticated agent connection. If an agent
// with the same agent_id is already connected, the old session is evicted
// (sent a Shutdown frame with reason "superseded" and its context
// cancelled) before the new one takes its place. Reconnection also
// triggers two repairs: any binding still pointing at the agent's previous
// workspace prefix is repointed at this agent_id, and an agent
// reconnecting to a workspace it already led is re-granted the "leader"
// role if it had been dropped.
func (r *Registry) RegisterAgent(ctx context.Context, principalID, agentID string, caps models.Capabilities, meta models.AgentMetadata, cancel context.CancelFunc) (*AgentSession, bool) {
	session := newAgentSession(principalID, agentID, caps, meta, cancel)

	r.mu.Lock()
	old, evicted := r.agentsByID[agentID]
	r.agentsByID[agentID] = session
	r.mu.Unlock()

	if evicted {
		old.Send(&wire.AgentFrame{
			Kind:     wire.AgentFrameShutdown,
			Shutdown: &wire.ShutdownFrame{Reason: "superseded"},
		})
		old.Close()
		r.logger.Info("agent connection superseded", "agent_id", agentID)
	} else if r.metrics != nil {
		r.metrics.AgentSessions.Inc()
	}

	r.resolveBindingsForWorkspace(ctx, agentID, meta.Workspace)
	r.grantLeaderRoleIfHeld(ctx, principalID, meta.Workspace)

	return session, evicted
}

// resolveBindingsForWorkspace repoints any binding whose channel falls
// under the agent's workspace prefix at this agent_id, so a client chatting
// in a channel bound to a workspace keeps talking to whichever agent
// instance is currently serving it, without an operator re-running `bind`.
func (r *Registry) resolveBindingsForWorkspace(ctx context.Context, agentID, workspace string) {
	if r.bindings == nil || workspace == "" {
		return
	}
	for _, frontend := range []string{"cli", "slack", "discord"} {
		n, err := r.bindings.UpdateAgentForChannelPrefix(ctx, frontend, workspace, agentID)
		if err != nil {
			r.logger.Warn("binding auto-resolution failed", "frontend", frontend, "workspace", workspace, "error", err)
			continue
		}
		if n > 0 {
			r.logger.Info("binding auto-resolved on reconnect", "frontend", frontend, "workspace", workspace, "agent_id", agentID, "count", n)
		}
	}
}

// grantLeaderRoleIfHeld re-grants the "leader" role to a principal
// reconnecting to a workspace it has a binding for, if some earlier
// deregistration stripped the role. The leader role gates destructive
// admin operations scoped to that workspace; losing it on a transient
// disconnect would otherwise require operator intervention to restore.
func (r *Registry) grantLeaderRoleIfHeld(ctx context.Context, principalID, workspace string) {
	if r.principals == nil || workspace == "" {
		return
	}
	p, err := r.principals.Get(ctx, principalID)
	if err != nil || p == nil {
		return
	}
	if p.HasRole("leader") {
		return
	}
	if r.bindings == nil {
		return
	}
	bindings, err := r.bindings.List(ctx)
	if err != nil {
		return
	}
	for _, b := range bindings {
		if b.AgentID == p.ID {
			p.Roles = append(p.Roles, "leader")
			if err := r.principals.Update(ctx, p); err != nil {
				r.logger.Warn("leader role re-grant failed", "principal_id", principalID, "error", err)
			}
			return
		}
	}
}

// Agent looks up a connected agent by agent_id.
func (r *Registry) Agent(agentID string) (*AgentSession, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.agentsByID[agentID]
	return s, ok
}

// RemoveAgent removes an agent session if it is still the current holder
// of agentID (a superseding reconnect already removed the stale entry
// itself, so this guards against a late-firing disconnect handler
// clobbering a newer session).
func (r *Registry) RemoveAgent(agentID string, session *AgentSession) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if current, ok := r.agentsByID[agentID]; ok && current == session {
		delete(r.agentsByID, agentID)
		if r.metrics != nil {
			r.metrics.AgentSessions.Dec()
		}
	}
}

// ListAgents returns a snapshot of all connected agent sessions.
func (r *Registry) ListAgents() []*AgentSession {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*AgentSession, 0, len(r.agentsByID))
	for _, s := range r.agentsByID {
		out = append(out, s)
	}
	return out
}

// Subscribe registers a new client event subscription for a conversation
// key (frontend+channel, see models.Binding.Key) and returns it.
func (r *Registry) Subscribe(principalID, convKey string, cancel context.CancelFunc) *ClientSubscription {
	sub := newClientSubscription(principalID, convKey, cancel)
	r.mu.Lock()
	set, ok := r.clientsByKey[convKey]
	if !ok {
		set = make(map[string]*ClientSubscription)
		r.clientsByKey[convKey] = set
	}
	set[sub.ID] = sub
	r.mu.Unlock()
	if r.metrics != nil {
		r.metrics.ClientSubscriptions.Inc()
	}
	return sub
}

// Unsubscribe removes a client event subscription.
func (r *Registry) Unsubscribe(convKey string, sub *ClientSubscription) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if set, ok := r.clientsByKey[convKey]; ok {
		if _, existed := set[sub.ID]; existed {
			delete(set, sub.ID)
			if r.metrics != nil {
				r.metrics.ClientSubscriptions.Dec()
			}
		}
		if len(set) == 0 {
			delete(r.clientsByKey, convKey)
		}
	}
}

// Publish fans an event out to every subscriber of convKey, counting any
// subscriber whose buffer is already full as a lag drop.
func (r *Registry) Publish(convKey string, evt *models.Event) {
	r.mu.RLock()
	subs := make([]*ClientSubscription, 0, len(r.clientsByKey[convKey]))
	for _, s := range r.clientsByKey[convKey] {
		subs = append(subs, s)
	}
	r.mu.RUnlock()
	for _, s := range subs {
		before := s.Lagged()
		s.Publish(evt)
		if r.metrics != nil && s.Lagged() > before {
			r.metrics.SubscriberLagDrops.Inc()
		}
	}
}

// RegisterPack admits a newly authenticated pack connection, evicting any
// existing session for the same pack_id.
func (r *Registry) RegisterPack(principalID string, manifest models.PackManifest, cancel context.CancelFunc) (*PackSession, bool) {
	session := newPackSession(principalID, manifest, cancel)

	r.mu.Lock()
	old, evicted := r.packsByID[manifest.PackID]
	r.packsByID[manifest.PackID] = session
	r.mu.Unlock()

	if evicted {
		old.Close()
		r.logger.Info("pack connection superseded", "pack_id", manifest.PackID)
	} else if r.metrics != nil {
		r.metrics.PackSessions.Inc()
	}
	return session, evicted
}

// ListPacks returns a snapshot of all connected pack sessions.
func (r *Registry) ListPacks() []*PackSession {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*PackSession, 0, len(r.packsByID))
	for _, s := range r.packsByID {
		out = append(out, s)
	}
	return out
}

// Pack looks up a connected pack session by pack_id.
func (r *Registry) Pack(packID string) (*PackSession, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.packsByID[packID]
	return s, ok
}

// RemovePack removes a pack session if it is still the current holder.
func (r *Registry) RemovePack(packID string, session *PackSession) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if current, ok := r.packsByID[packID]; ok && current == session {
		delete(r.packsByID, packID)
		if r.metrics != nil {
			r.metrics.PackSessions.Dec()
		}
	}
}

// sweepLoop periodically evicts agents that have missed their heartbeat
// timeout.
func (r *Registry) sweepLoop() {
	ticker := time.NewTicker(r.config.SweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			r.sweepOnce()
		case <-r.stopSweep:
			return
		}
	}
}

func (r *Registry) sweepOnce() {
	now := time.Now()
	r.mu.RLock()
	stale := make([]*AgentSession, 0)
	for _, s := range r.agentsByID {
		if now.Sub(s.LastHeartbeat()) > r.config.HeartbeatTimeout {
			stale = append(stale, s)
		}
	}
	r.mu.RUnlock()

	for _, s := range stale {
		r.logger.Warn("agent heartbeat timeout, evicting", "agent_id", s.AgentID, "last_heartbeat", s.LastHeartbeat())
		r.RemoveAgent(s.AgentID, s)
		s.Close()
	}
}

// Close stops the registry's background sweep goroutine.
func (r *Registry) Close() {
	close(r.stopSweep)
}
