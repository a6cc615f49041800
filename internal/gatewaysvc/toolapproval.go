package gatewaysvc

import (
	"context"
	"encoding/json"

	"github.com/agentfabric/gateway/internal/packdispatch"
	"github.com/agentfabric/gateway/internal/registry"
	"github.com/agentfabric/gateway/internal/wire"
	"github.com/agentfabric/gateway/pkg/models"
)

// handleAgentEvent relays one response frame through the router, and runs
// tool_use events through the approval FSM on the way so the gateway's
// authoritative safe-list is honored even though the agent classifies
// first for latency. Matching tool_result events complete the tracked
// invocation, which also makes a late client approval a recorded no-op.
func (s *Server) handleAgentEvent(session *registry.AgentSession, frame *wire.ResponseFrame) {
	s.rt.HandleAgentResponse(frame)

	switch models.EventKind(frame.EventKind) {
	case models.EventToolUse:
		evt, ok := decodeToolEvent(frame.Payload)
		if !ok {
			return
		}
		convKey, _ := s.rt.ConversationForRequest(frame.RequestID)
		inv := s.appr.Classify(session.AgentID, evt.ToolID, frame.RequestID, convKey, evt.ToolName, evt.InputJSON)
		if inv.State == models.ToolAwaitingApproval {
			s.emitToolApprovalRequest(convKey, inv)
		}
	case models.EventToolResult:
		evt, ok := decodeToolEvent(frame.Payload)
		if !ok {
			return
		}
		execErr := ""
		if evt.IsError {
			execErr = evt.Detail
			if execErr == "" {
				execErr = "tool failed"
			}
		}
		// Results for pack-dispatched invocations (gateway-minted ids) and
		// already-terminal invocations come back ErrNotFound/ErrAlreadyTerminal
		// here; both are expected and dropped.
		if completed, err := s.appr.Complete(session.AgentID, evt.ToolID, evt.OutputJSON, execErr); err == nil {
			s.emitToolStateEvent(completed)
		}
	}
}

func decodeToolEvent(payload json.RawMessage) (*models.Event, bool) {
	if len(payload) == 0 {
		return nil, false
	}
	evt := new(models.Event)
	if err := json.Unmarshal(payload, evt); err != nil || evt.ToolID == "" {
		return nil, false
	}
	return evt, true
}

// emitToolApprovalRequest raises a tool_approval_request event for convKey
// followed by a tool_state event reflecting inv's AwaitingApproval state, so
// every subscribed client sees both the prompt and the state transition in
// order.
func (s *Server) emitToolApprovalRequest(convKey string, inv *models.ToolInvocation) {
	s.rt.Emit(convKey, &models.Event{
		RequestID: inv.RequestID,
		Kind:      models.EventToolApprovalRequest,
		ToolID:    inv.ID,
		ToolName:  inv.ToolName,
		InputJSON: inv.InputJSON,
	})
	s.emitToolStateEvent(inv)
}

// emitToolStateEvent fans a tool_state event reflecting inv's current state
// out to inv's conversation.
func (s *Server) emitToolStateEvent(inv *models.ToolInvocation) {
	s.rt.Emit(inv.ConversationKey, &models.Event{
		RequestID: inv.RequestID,
		Kind:      models.EventToolState,
		ToolID:    inv.ID,
		ToolName:  inv.ToolName,
		ToolState: inv.State,
	})
}

// notifyAgentOfDecision forwards a client's (or the timeout sweep's)
// approval decision to the agent that raised the tool call, if it is still
// connected. A disconnected agent simply never sees it; it already lost the
// invocation when its session was removed.
func (s *Server) notifyAgentOfDecision(agentID, toolID string, approved, approveAll bool) {
	session, ok := s.reg.Agent(agentID)
	if !ok {
		return
	}
	session.Send(&wire.AgentFrame{
		Kind: wire.AgentFrameToolApproval,
		ToolApproval: &wire.ToolApprovalFrame{
			ToolID:     toolID,
			Approved:   approved,
			ApproveAll: approveAll,
		},
	})
}

// runPackTool dispatches an approved (or safe-listed) invocation to its
// owning pack, completes it in the approval manager, returns the result to
// the requesting agent, and fans a tool_result/tool_state pair out to the
// conversation. Called both for tools that skip approval outright and for
// ones a client just approved, so it resolves the agent session fresh
// rather than trusting a session handle captured earlier.
func (s *Server) runPackTool(inv *models.ToolInvocation) {
	session, ok := s.reg.Agent(inv.AgentID)
	if !ok {
		completed, err := s.appr.Complete(inv.AgentID, inv.ID, nil, "agent disconnected before tool could run")
		if err == nil {
			s.emitToolStateEvent(completed)
		}
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), packdispatch.MaxToolTimeout)
	defer cancel()
	resp, err := s.dispatch.ExecuteTool(ctx, session.PrincipalID, inv.ToolName, inv.InputJSON, 0)

	var outputJSON []byte
	var execErr string
	if err != nil {
		execErr = err.Error()
	} else {
		outputJSON = resp.OutputJSON
		execErr = resp.Error
	}

	completed, err := s.appr.Complete(inv.AgentID, inv.ID, outputJSON, execErr)
	if err != nil {
		s.logger.Warn("tool completion rejected by approval manager", "tool_id", inv.ID, "error", err)
		return
	}

	if session, ok := s.reg.Agent(inv.AgentID); ok {
		session.Send(&wire.AgentFrame{
			Kind: wire.AgentFramePackToolResult,
			PackToolResult: &wire.PackToolResultFrame{
				RequestID:  inv.RequestID,
				OutputJSON: outputJSON,
				Error:      execErr,
			},
		})
	}

	s.rt.Emit(inv.ConversationKey, &models.Event{
		RequestID:  inv.RequestID,
		Kind:       models.EventToolResult,
		ToolID:     inv.ID,
		ToolName:   inv.ToolName,
		OutputJSON: outputJSON,
		IsError:    execErr != "",
		Detail:     execErr,
	})
	s.emitToolStateEvent(completed)
}
