// Package approval drives a tool invocation through its lifecycle:
// Pending, then either straight to Running (an allow-listed tool) or
// AwaitingApproval (everything else), then to one of the terminal states
// Completed, Failed, Denied, Timeout, or Cancelled. Classification is a
// per-invocation decision keyed on the tool's declared name.
package approval

import (
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/agentfabric/gateway/internal/observability"
	"github.com/agentfabric/gateway/pkg/models"
)

var (
	ErrNotFound          = errors.New("approval: invocation not found")
	ErrNotAwaitingReview = errors.New("approval: invocation is not awaiting approval")
	ErrAlreadyTerminal   = errors.New("approval: invocation already reached a terminal state")
)

// DefaultTimeout is how long an invocation may sit in AwaitingApproval
// before it is timed out.
const DefaultTimeout = 10 * time.Minute

// Manager tracks in-flight tool invocations and their approval state. It
// holds no durable storage: an invocation that outlives the gateway
// process is simply gone.
type Manager struct {
	logger  *slog.Logger
	metrics *observability.Metrics

	mu         sync.Mutex
	byID       map[string]*models.ToolInvocation // (agent_id, tool_id) -> invocation
	approveAll map[string]bool                   // agent_id -> session-wide "approve all" granted by a client
}

// invocationKey scopes a tool id to its agent session: tool ids are
// agent-chosen and only unique within one session, so two agents may both
// use "t1" without colliding here.
func invocationKey(agentID, toolID string) string {
	return agentID + "\x00" + toolID
}

// New builds an approval Manager.
func New(logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{
		logger:     logger.With("component", "approval"),
		byID:       make(map[string]*models.ToolInvocation),
		approveAll: make(map[string]bool),
	}
}

// SetMetrics attaches a metrics sink for approval-FSM transition counters.
func (m *Manager) SetMetrics(metrics *observability.Metrics) {
	m.mu.Lock()
	m.metrics = metrics
	m.mu.Unlock()
}

func (m *Manager) countTransition(state models.ToolState) {
	if m.metrics != nil {
		m.metrics.ToolApprovalTransitions.WithLabelValues(string(state)).Inc()
	}
}

func (m *Manager) observeApprovalLatency(inv *models.ToolInvocation) {
	if m.metrics != nil {
		m.metrics.ToolApprovalLatency.Observe(time.Since(inv.CreatedAt).Seconds())
	}
}

// Classify starts tracking a new invocation and returns its starting state:
// Running if the tool is on the safe allow-list or the agent's session has
// a standing "approve all" grant, AwaitingApproval otherwise. toolID is the
// agent's own id for the call when it announced one (a tool_use event); an
// empty toolID gets a generated one (pack dispatch, where the gateway mints
// the correlation).
func (m *Manager) Classify(agentID, toolID, requestID, conversationKey, toolName string, input []byte) *models.ToolInvocation {
	packDispatched := toolID == ""
	if packDispatched {
		toolID = uuid.New().String()
	}
	now := time.Now()
	inv := &models.ToolInvocation{
		ID:              toolID,
		RequestID:       requestID,
		AgentID:         agentID,
		ConversationKey: conversationKey,
		ToolName:        toolName,
		InputJSON:       input,
		PackDispatched:  packDispatched,
		CreatedAt:       now,
		UpdatedAt:       now,
	}

	m.mu.Lock()
	granted := m.approveAll[agentID]
	m.mu.Unlock()

	if !models.RequiresApproval(toolName) || granted {
		inv.State = models.ToolRunning
	} else {
		inv.State = models.ToolAwaitingApproval
	}

	m.mu.Lock()
	m.byID[invocationKey(agentID, inv.ID)] = inv
	m.mu.Unlock()
	m.countTransition(inv.State)
	return inv
}

// Get looks up an invocation by its owning agent and tool id.
func (m *Manager) Get(agentID, toolID string) (*models.ToolInvocation, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	inv, ok := m.byID[invocationKey(agentID, toolID)]
	return inv, ok
}

// Approve transitions an AwaitingApproval invocation to Running. If
// approveAll is set, every subsequent tool call from the same agent
// session skips approval until the session ends.
func (m *Manager) Approve(agentID, toolID string, approveAll bool) (*models.ToolInvocation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	inv, ok := m.byID[invocationKey(agentID, toolID)]
	if !ok {
		return nil, ErrNotFound
	}
	if inv.State.Terminal() {
		return nil, ErrAlreadyTerminal
	}
	if inv.State != models.ToolAwaitingApproval {
		return nil, ErrNotAwaitingReview
	}

	inv.State = models.ToolRunning
	inv.ApproveAll = approveAll
	inv.UpdatedAt = time.Now()
	if approveAll {
		m.approveAll[inv.AgentID] = true
	}
	m.countTransition(inv.State)
	m.observeApprovalLatency(inv)
	return inv, nil
}

// Deny transitions an AwaitingApproval invocation to Denied.
func (m *Manager) Deny(agentID, toolID string) (*models.ToolInvocation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	inv, ok := m.byID[invocationKey(agentID, toolID)]
	if !ok {
		return nil, ErrNotFound
	}
	if inv.State.Terminal() {
		return nil, ErrAlreadyTerminal
	}
	if inv.State != models.ToolAwaitingApproval {
		return nil, ErrNotAwaitingReview
	}

	inv.State = models.ToolDenied
	inv.UpdatedAt = time.Now()
	m.countTransition(inv.State)
	m.observeApprovalLatency(inv)
	return inv, nil
}

// Complete transitions a Running invocation to Completed or Failed.
func (m *Manager) Complete(agentID, toolID string, output []byte, execErr string) (*models.ToolInvocation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	inv, ok := m.byID[invocationKey(agentID, toolID)]
	if !ok {
		return nil, ErrNotFound
	}
	if inv.State.Terminal() {
		return nil, ErrAlreadyTerminal
	}

	inv.OutputJSON = output
	inv.Error = execErr
	inv.UpdatedAt = time.Now()
	if execErr != "" {
		inv.State = models.ToolFailed
	} else {
		inv.State = models.ToolCompleted
	}
	m.countTransition(inv.State)
	return inv, nil
}

// Cancel transitions any non-terminal invocation to Cancelled.
func (m *Manager) Cancel(agentID, toolID string) (*models.ToolInvocation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	inv, ok := m.byID[invocationKey(agentID, toolID)]
	if !ok {
		return nil, ErrNotFound
	}
	if inv.State.Terminal() {
		return nil, ErrAlreadyTerminal
	}

	inv.State = models.ToolCancelled
	inv.UpdatedAt = time.Now()
	m.countTransition(inv.State)
	return inv, nil
}

// SweepTimeouts transitions every AwaitingApproval invocation older than
// timeout to Timeout, and returns the ones it changed so the caller can
// notify the agent.
func (m *Manager) SweepTimeouts(timeout time.Duration) []*models.ToolInvocation {
	now := time.Now()
	m.mu.Lock()
	defer m.mu.Unlock()

	var timedOut []*models.ToolInvocation
	for _, inv := range m.byID {
		if inv.State == models.ToolAwaitingApproval && now.Sub(inv.CreatedAt) > timeout {
			inv.State = models.ToolTimeout
			inv.UpdatedAt = now
			timedOut = append(timedOut, inv)
			m.countTransition(inv.State)
			m.observeApprovalLatency(inv)
		}
	}
	return timedOut
}

// ClearSession drops the "approve all" grant and every non-terminal tracked
// invocation for an agent session, called when the agent disconnects.
func (m *Manager) ClearSession(agentID string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	delete(m.approveAll, agentID)
	for id, inv := range m.byID {
		if inv.AgentID == agentID && !inv.State.Terminal() {
			delete(m.byID, id)
		}
	}
}
