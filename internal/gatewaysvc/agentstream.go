package gatewaysvc

import (
	"context"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/agentfabric/gateway/internal/auth"
	"github.com/agentfabric/gateway/internal/registry"
	"github.com/agentfabric/gateway/internal/wire"
	"github.com/agentfabric/gateway/pkg/models"
)

// agentControlServer implements wire.AgentControlServer over *Server.
type agentControlServer Server

// AgentStream handles one agent connection's bidirectional frame stream:
// registration, response relay, and pack-tool execution requests.
func (s *agentControlServer) AgentStream(stream wire.AgentControl_AgentStreamServer) error {
	srv := (*Server)(s)

	first, err := stream.Recv()
	if err != nil {
		return err
	}
	if first.Kind != wire.AgentFrameRegister || first.Register == nil || first.Register.AgentID == "" {
		stream.Send(&wire.AgentFrame{
			Kind:              wire.AgentFrameRegistrationErr,
			RegistrationError: &wire.RegistrationErrorFrame{Reason: "first frame must be register with a non-empty agent_id"},
		})
		return status.Error(codes.InvalidArgument, "agent stream: expected register frame")
	}

	principal, ok := auth.PrincipalFromContext(stream.Context())
	if !ok || principal.Kind != models.PrincipalAgent {
		return status.Error(codes.Unauthenticated, "agent stream: no authenticated agent principal")
	}

	req := first.Register
	caps := models.Capabilities(req.Capabilities)
	meta := models.AgentMetadata{
		WorkingDir: req.WorkingDir,
		Hostname:   req.Hostname,
		OS:         req.OS,
		Backend:    req.Backend,
		Workspace:  req.Workspace,
	}
	if req.GitBranch != "" || req.GitDirty {
		meta.Git = &models.GitStatus{Branch: req.GitBranch, Dirty: req.GitDirty}
	}

	ctx, cancel := context.WithCancel(stream.Context())
	defer cancel()
	session, _ := srv.reg.RegisterAgent(ctx, principal.ID, req.AgentID, caps, meta, cancel)

	if err := stream.Send(&wire.AgentFrame{
		Kind:    wire.AgentFrameWelcome,
		Welcome: &wire.WelcomeFrame{AgentID: req.AgentID, InstanceID: session.InstanceID},
	}); err != nil {
		srv.reg.RemoveAgent(req.AgentID, session)
		return err
	}

	writerDone := make(chan struct{})
	go func() {
		defer close(writerDone)
		for {
			select {
			case frame, ok := <-session.Outbound:
				if !ok {
					return
				}
				if err := stream.Send(frame); err != nil {
					return
				}
			case <-ctx.Done():
				return
			}
		}
	}()

	for {
		frame, err := stream.Recv()
		if err != nil {
			cancel()
			<-writerDone
			srv.reg.RemoveAgent(req.AgentID, session)

			// Requests this connection was serving get exactly one terminal
			// event. A superseding reconnect already holds the agent_id; the
			// approve-all grant and invocation table then belong to the new
			// connection and must not be cleared from here.
			reason := "session closed"
			if current, ok := srv.reg.Agent(req.AgentID); ok && current != session {
				reason = "agent reconnected"
			} else {
				srv.appr.ClearSession(req.AgentID)
			}
			srv.rt.FailSessionRequests(req.AgentID, session.InstanceID, reason)
			return nil
		}
		session.Touch()

		switch frame.Kind {
		case wire.AgentFrameResponse:
			if frame.Response != nil {
				srv.handleAgentEvent(session, frame.Response)
			}
		case wire.AgentFrameExecutePackTool:
			if frame.ExecutePackTool != nil {
				go s.handleExecutePackTool(session, frame.ExecutePackTool)
			}
		}
	}
}

// handleExecutePackTool classifies an agent's pack-tool call and either
// dispatches it immediately (safe tool, or a standing approve-all grant) or
// raises a tool_approval_request event for the conversation and waits for a
// client's ApproveTool decision to resume it.
//
// ExecutePackToolFrame.RequestID is assumed to be the request_id of the
// SendMessage turn the tool call happens within, the same correlation the
// agent's own ResponseFrame.RequestID carries; this lets ConversationForRequest
// resolve which conversation should see the approval prompt.
func (s *agentControlServer) handleExecutePackTool(session *registry.AgentSession, f *wire.ExecutePackToolFrame) {
	srv := (*Server)(s)
	convKey, _ := srv.rt.ConversationForRequest(f.RequestID)

	inv := srv.appr.Classify(session.AgentID, "", f.RequestID, convKey, f.ToolName, f.InputJSON)
	if inv.State == models.ToolAwaitingApproval {
		srv.emitToolApprovalRequest(convKey, inv)
		return
	}
	srv.runPackTool(inv)
}
