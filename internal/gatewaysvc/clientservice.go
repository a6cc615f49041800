package gatewaysvc

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/agentfabric/gateway/internal/approval"
	"github.com/agentfabric/gateway/internal/auth"
	"github.com/agentfabric/gateway/internal/router"
	"github.com/agentfabric/gateway/internal/wire"
	"github.com/agentfabric/gateway/pkg/models"
)

// clientServer implements wire.ClientServiceServer over *Server.
type clientServer Server

func principalFrom(ctx context.Context) (*models.Principal, error) {
	p, ok := auth.PrincipalFromContext(ctx)
	if !ok {
		return nil, status.Error(codes.Unauthenticated, "client service: no authenticated principal")
	}
	return p, nil
}

// GetMe describes the authenticated caller.
func (s *clientServer) GetMe(ctx context.Context, _ *wire.GetMeRequest) (*wire.GetMeResponse, error) {
	p, err := principalFrom(ctx)
	if err != nil {
		return nil, err
	}
	return &wire.GetMeResponse{
		PrincipalID: p.ID,
		Kind:        string(p.Kind),
		DisplayName: p.DisplayName,
		Roles:       p.Roles,
	}, nil
}

// RegisterClient sets the display name on an already-linked client
// principal, the fingerprint sanity-checking that the authenticated
// connection really is the principal the caller thinks it is.
func (s *clientServer) RegisterClient(ctx context.Context, req *wire.RegisterClientRequest) (*wire.RegisterReply, error) {
	return (*Server)(s).registerDisplayName(ctx, models.PrincipalClient, req.Fingerprint, req.DisplayName)
}

// RegisterAgent sets the display name on an already-linked agent principal.
func (s *clientServer) RegisterAgent(ctx context.Context, req *wire.RegisterAgentRequest) (*wire.RegisterReply, error) {
	return (*Server)(s).registerDisplayName(ctx, models.PrincipalAgent, req.Fingerprint, req.DisplayName)
}

func (srv *Server) registerDisplayName(ctx context.Context, kind models.PrincipalKind, fingerprint, displayName string) (*wire.RegisterReply, error) {
	p, err := principalFrom(ctx)
	if err != nil {
		return nil, err
	}
	if p.Kind != kind {
		return nil, status.Errorf(codes.PermissionDenied, "client service: principal is not a %s", kind)
	}
	if fingerprint != "" && fingerprint != p.Fingerprint {
		return nil, status.Error(codes.PermissionDenied, "client service: fingerprint does not match authenticated principal")
	}
	if displayName != "" && displayName != p.DisplayName {
		p.DisplayName = displayName
		if err := srv.stores.Principals.Update(ctx, p); err != nil {
			return nil, status.Errorf(codes.Internal, "client service: update display name: %v", err)
		}
	}
	return &wire.RegisterReply{PrincipalID: p.ID}, nil
}

// ListAgents lists agents currently connected to the gateway, optionally
// filtered by workspace tag. Only connected agents are addressable, so
// unlike principals.List this never reports a stale, offline entry.
func (s *clientServer) ListAgents(_ context.Context, req *wire.ListAgentsRequest) (*wire.ListAgentsResponse, error) {
	srv := (*Server)(s)
	out := &wire.ListAgentsResponse{}
	for _, session := range srv.reg.ListAgents() {
		if req.Workspace != "" && session.Metadata.Workspace != req.Workspace {
			continue
		}
		out.Agents = append(out.Agents, wire.AgentSummary{
			AgentID:    session.AgentID,
			InstanceID: session.InstanceID,
			Workspace:  session.Metadata.Workspace,
			Online:     true,
		})
	}
	return out, nil
}

// SendMessage resolves the client's conversation key to its bound agent and
// forwards the message, deriving a deterministic message id from the
// caller's idempotency key so a retried call collapses onto the router's
// own resend-dedup rather than being forwarded twice.
func (s *clientServer) SendMessage(ctx context.Context, req *wire.SendMessageRequest) (*wire.SendMessageResponse, error) {
	p, err := principalFrom(ctx)
	if err != nil {
		return nil, err
	}
	if req.ConversationKey == "" {
		return nil, status.Error(codes.InvalidArgument, "client service: conversation_key is required")
	}

	frontend, channelID := splitConversationKey(req.ConversationKey)
	messageID := uuid.New().String()
	if req.IdempotencyKey != "" {
		messageID = uuid.NewSHA1(uuid.NameSpaceOID, []byte(p.ID+"|"+req.ConversationKey+"|"+req.IdempotencyKey)).String()
	}

	sender := p.DisplayName
	if sender == "" {
		sender = p.ID
	}

	srv := (*Server)(s)
	outcome, err := srv.rt.SendMessage(ctx, frontend, channelID, messageID, sender, req.Content, req.Attachments)
	if err != nil {
		switch {
		case errors.Is(err, router.ErrNoBinding):
			return nil, status.Error(codes.FailedPrecondition, err.Error())
		case errors.Is(err, router.ErrAgentOffline):
			return nil, status.Error(codes.Unavailable, err.Error())
		case errors.Is(err, router.ErrQueueFull):
			return nil, status.Error(codes.ResourceExhausted, err.Error())
		default:
			return nil, status.Errorf(codes.Internal, "client service: send message: %v", err)
		}
	}
	return &wire.SendMessageResponse{MessageID: messageID, Status: outcome}, nil
}

// StreamEvents opens (or resumes) a client's subscription to a
// conversation's event stream, replaying buffered history since
// SinceEventID before switching to live delivery. A subscriber that falls
// more than the registry's backpressure ceiling behind is dropped with a
// terminal error event rather than left silently behind.
func (s *clientServer) StreamEvents(req *wire.StreamEventsRequest, stream wire.ClientService_StreamEventsServer) error {
	p, err := principalFrom(stream.Context())
	if err != nil {
		return err
	}
	if req.ConversationKey == "" {
		return status.Error(codes.InvalidArgument, "client service: conversation_key is required")
	}

	srv := (*Server)(s)
	frontend, channelID := splitConversationKey(req.ConversationKey)
	convKey := internalKey(frontend, channelID)

	var since uint64
	if req.SinceEventID != nil {
		since = *req.SinceEventID
	}

	ctx, cancel := context.WithCancel(stream.Context())
	defer cancel()
	sub := srv.reg.Subscribe(p.ID, convKey, cancel)
	defer srv.reg.Unsubscribe(convKey, sub)

	replay, gap := srv.rt.Replay(convKey, since)
	if gap {
		if err := stream.Send(&wire.EventFrame{Kind: string(models.EventError), Message: "replay gap"}); err != nil {
			return err
		}
	}
	for _, evt := range replay {
		if err := stream.Send(eventToFrame(evt)); err != nil {
			return err
		}
	}

	for {
		select {
		case evt, ok := <-sub.Events:
			if !ok {
				return nil
			}
			if sub.Lagged() > 0 {
				_ = stream.Send(&wire.EventFrame{Kind: string(models.EventError), Message: "subscriber lag, disconnecting"})
				return status.Error(codes.ResourceExhausted, "client service: subscriber fell behind")
			}
			if err := stream.Send(eventToFrame(evt)); err != nil {
				return err
			}
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

func eventToFrame(evt *models.Event) *wire.EventFrame {
	frame := &wire.EventFrame{
		EventID:      evt.EventID,
		RequestID:    evt.RequestID,
		Kind:         string(evt.Kind),
		Text:         evt.Text,
		SessionID:    evt.SessionID,
		Reason:       evt.Reason,
		ToolID:       evt.ToolID,
		ToolName:     evt.ToolName,
		InputJSON:    evt.InputJSON,
		OutputJSON:   evt.OutputJSON,
		IsError:      evt.IsError,
		ToolState:    string(evt.ToolState),
		Detail:       evt.Detail,
		Message:      evt.Message,
		FullResponse: evt.FullResponse,
	}
	if evt.Usage != nil {
		frame.Usage = &wire.UsageWire{
			Input:      evt.Usage.Input,
			Output:     evt.Usage.Output,
			CacheRead:  evt.Usage.CacheRead,
			CacheWrite: evt.Usage.CacheWrite,
			Thinking:   evt.Usage.Thinking,
		}
	}
	if evt.File != nil {
		frame.File = &wire.FileWire{Filename: evt.File.Filename, Mime: evt.File.Mime, Bytes: evt.File.Bytes}
	}
	return frame
}

// ApproveTool carries a client's tool-approval decision to the approval
// manager, forwards it to the owning agent, and for an approval runs the
// tool; for a denial it stops there. A decision that arrives after the
// invocation already resolved — a duplicate ApproveTool, an approval
// racing a fast tool result, or one beating the timeout sweep — is
// acknowledged but ignored.
func (s *clientServer) ApproveTool(ctx context.Context, req *wire.ApproveToolRequest) (*wire.ApproveToolResponse, error) {
	if _, err := principalFrom(ctx); err != nil {
		return nil, err
	}
	if req.AgentID == "" || req.ToolID == "" {
		return nil, status.Error(codes.InvalidArgument, "client service: agent_id and tool_id are required")
	}

	srv := (*Server)(s)
	if _, ok := srv.appr.Get(req.AgentID, req.ToolID); !ok {
		return nil, status.Error(codes.NotFound, "client service: unknown tool_id")
	}

	if req.Approved {
		approved, err := srv.appr.Approve(req.AgentID, req.ToolID, req.ApproveAll)
		if err != nil {
			return approvalDecisionOutcome(err)
		}
		srv.notifyAgentOfDecision(approved.AgentID, approved.ID, true, req.ApproveAll)
		srv.emitToolStateEvent(approved)
		// A pack-dispatched invocation is the gateway's to execute; an
		// agent-local tool resumes on the agent once it sees the approval
		// frame and completes via its own tool_result event.
		if approved.PackDispatched {
			go srv.runPackTool(approved)
		}
	} else {
		denied, err := srv.appr.Deny(req.AgentID, req.ToolID)
		if err != nil {
			return approvalDecisionOutcome(err)
		}
		srv.notifyAgentOfDecision(denied.AgentID, denied.ID, false, false)
		srv.emitToolStateEvent(denied)
	}

	return &wire.ApproveToolResponse{Acknowledged: true}, nil
}

// approvalDecisionOutcome maps a rejected state transition to the RPC
// result: a decision for an invocation that already moved on is a benign
// race and still acknowledged; anything else is a real failure.
func approvalDecisionOutcome(err error) (*wire.ApproveToolResponse, error) {
	if errors.Is(err, approval.ErrAlreadyTerminal) || errors.Is(err, approval.ErrNotAwaitingReview) {
		return &wire.ApproveToolResponse{Acknowledged: true}, nil
	}
	return nil, status.Error(codes.FailedPrecondition, err.Error())
}
