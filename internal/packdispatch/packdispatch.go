// Package packdispatch owns tool-pack registration and routes agent tool
// calls to whichever pack currently provides the named tool. One owner per
// tool name; the first registrant wins a name collision.
package packdispatch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/agentfabric/gateway/internal/observability"
	"github.com/agentfabric/gateway/internal/registry"
	"github.com/agentfabric/gateway/internal/wire"
	"github.com/agentfabric/gateway/pkg/models"
)

var (
	ErrToolNotFound  = errors.New("packdispatch: tool not registered by any connected pack")
	ErrPackOffline   = errors.New("packdispatch: owning pack is not connected")
	ErrExecuteTimeout = errors.New("packdispatch: tool execution timed out")
)

// DefaultToolTimeout and MaxToolTimeout bound how long ExecuteTool waits
// for a pack's response.
const (
	DefaultToolTimeout = 60 * time.Second
	MaxToolTimeout     = 300 * time.Second
)

// Dispatch registers packs, resolves tool-name ownership, and correlates
// ExecuteTool requests with a pack's ExecuteToolResponse.
type Dispatch struct {
	reg     *registry.Registry
	logger  *slog.Logger
	metrics *observability.Metrics

	mu         sync.Mutex
	toolOwners map[string]string // tool name -> pack_id
}

// New builds a Dispatch.
func New(reg *registry.Registry, logger *slog.Logger) *Dispatch {
	if logger == nil {
		logger = slog.Default()
	}
	return &Dispatch{
		reg:        reg,
		logger:     logger.With("component", "packdispatch"),
		toolOwners: make(map[string]string),
	}
}

// SetMetrics attaches a metrics sink for ExecuteTool outcome counters.
func (d *Dispatch) SetMetrics(m *observability.Metrics) {
	d.mu.Lock()
	d.metrics = m
	d.mu.Unlock()
}

func (d *Dispatch) countExecution(outcome string) {
	if d.metrics != nil {
		d.metrics.PackToolExecutions.WithLabelValues(outcome).Inc()
	}
}

// Register admits a pack's manifest. Tool names already owned by a
// different, still-connected pack are rejected rather than reassigned; a
// reconnecting pack re-registering its own previously owned tools is not a
// collision. Returns the accepted pack session and the list of tool names
// rejected for collision, mirroring wire.RegisteredFrame.RejectedTools.
func (d *Dispatch) Register(principalID string, manifest models.PackManifest, cancel context.CancelFunc) (*registry.PackSession, []string) {
	d.mu.Lock()
	var rejected []string
	accepted := manifest.Tools[:0:0]
	for _, tool := range manifest.Tools {
		if owner, taken := d.toolOwners[tool.Name]; taken && owner != manifest.PackID {
			if _, stillConnected := d.reg.Pack(owner); stillConnected {
				rejected = append(rejected, tool.Name)
				continue
			}
		}
		accepted = append(accepted, tool)
	}
	manifest.Tools = accepted
	d.mu.Unlock()

	session, evicted := d.reg.RegisterPack(principalID, manifest, cancel)
	if evicted {
		d.releaseOwnedBy(manifest.PackID, nil)
	}

	d.mu.Lock()
	for _, tool := range accepted {
		d.toolOwners[tool.Name] = manifest.PackID
	}
	d.mu.Unlock()

	return session, rejected
}

// Unregister releases every tool this pack owns and terminates every
// request still waiting on it with error="pack disconnected", called when
// its connection closes. The released tool names become eligible for
// re-registration by a subsequent pack.
func (d *Dispatch) Unregister(packID string, session *registry.PackSession) {
	d.reg.RemovePack(packID, session)
	session.FailAll("pack disconnected")
	if current, ok := d.reg.Pack(packID); ok && current != session {
		// Superseded by a reconnect: the tool names belong to the new
		// session now and must survive this stale handler's teardown.
		return
	}
	d.releaseOwnedBy(packID, nil)
}

func (d *Dispatch) releaseOwnedBy(packID string, keep map[string]bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	for name, owner := range d.toolOwners {
		if owner == packID && !keep[name] {
			delete(d.toolOwners, name)
		}
	}
}

// ExecuteTool dispatches a tool call to its owning pack and blocks until
// the pack responds, the context is cancelled, or timeout elapses.
// A timeout of zero uses the tool's declared TimeoutSeconds, or
// DefaultToolTimeout when it declares none; timeouts above MaxToolTimeout
// are clamped.
func (d *Dispatch) ExecuteTool(ctx context.Context, invokerPrincipal, toolName string, input []byte, timeout time.Duration) (*wire.ExecuteToolResponseFrame, error) {
	d.mu.Lock()
	packID, ok := d.toolOwners[toolName]
	d.mu.Unlock()
	if !ok {
		d.countExecution("unknown_tool")
		return nil, ErrToolNotFound
	}

	session, ok := d.reg.Pack(packID)
	if !ok {
		d.countExecution("pack_offline")
		return nil, ErrPackOffline
	}

	if timeout <= 0 {
		timeout = DefaultToolTimeout
		for _, tool := range session.Manifest.Tools {
			if tool.Name == toolName && tool.TimeoutSeconds > 0 {
				timeout = time.Duration(tool.TimeoutSeconds) * time.Second
				break
			}
		}
	}
	if timeout > MaxToolTimeout {
		timeout = MaxToolTimeout
	}

	requestID := uuid.New().String()
	result := session.AwaitResult(requestID)

	if !session.Send(&wire.PackFrame{
		Kind: wire.PackFrameExecuteTool,
		ExecuteTool: &wire.ExecuteToolFrame{
			RequestID:        requestID,
			ToolName:         toolName,
			InputJSON:        input,
			InvokerPrincipal: invokerPrincipal,
		},
	}) {
		session.Abandon(requestID)
		return nil, fmt.Errorf("packdispatch: pack outbound queue full for tool %q", toolName)
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case resp := <-result:
		d.countExecution("completed")
		return resp, nil
	case <-timer.C:
		session.Abandon(requestID)
		d.countExecution("timeout")
		return nil, ErrExecuteTimeout
	case <-ctx.Done():
		session.Abandon(requestID)
		d.countExecution("cancelled")
		return nil, ctx.Err()
	}
}

// HandleResult delivers a pack's ExecuteToolResponseFrame to whichever
// ExecuteTool call is awaiting it.
func (d *Dispatch) HandleResult(packID string, frame *wire.ExecuteToolResponseFrame) {
	session, ok := d.reg.Pack(packID)
	if !ok {
		return
	}
	if !session.Resolve(frame.RequestID, frame) {
		d.logger.Warn("tool result for unknown request_id, dropping", "pack_id", packID, "request_id", frame.RequestID)
	}
}
