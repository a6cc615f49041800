package gatewaysvc

import (
	"context"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/agentfabric/gateway/internal/auth"
	"github.com/agentfabric/gateway/internal/wire"
	"github.com/agentfabric/gateway/pkg/models"
)

// packStreamServer implements wire.PackServer over *Server.
type packStreamServer Server

// PackStream handles one pack connection's bidirectional frame stream:
// manifest registration followed by a loop of ExecuteToolResponse frames
// answering the gateway's ExecuteTool requests.
func (s *packStreamServer) PackStream(stream wire.PackService_PackStreamServer) error {
	srv := (*Server)(s)

	first, err := stream.Recv()
	if err != nil {
		return err
	}
	if first.Kind != wire.PackFrameRegisterPack || first.RegisterPack == nil || first.RegisterPack.PackID == "" {
		return status.Error(codes.InvalidArgument, "pack stream: expected register_pack with a non-empty pack_id")
	}

	principal, ok := auth.PrincipalFromContext(stream.Context())
	if !ok || principal.Kind != models.PrincipalPack {
		return status.Error(codes.Unauthenticated, "pack stream: no authenticated pack principal")
	}

	req := first.RegisterPack
	tools := make([]models.ToolDefinition, len(req.Tools))
	for i, t := range req.Tools {
		tools[i] = models.ToolDefinition{
			Name:                 t.Name,
			Description:          t.Description,
			InputSchema:          t.InputSchema,
			RequiredCapabilities: t.RequiredCapabilities,
			TimeoutSeconds:       t.TimeoutSeconds,
		}
	}
	manifest := models.PackManifest{PackID: req.PackID, Version: req.Version, Tools: tools}

	ctx, cancel := context.WithCancel(stream.Context())
	defer cancel()
	session, rejected := srv.dispatch.Register(principal.ID, manifest, cancel)

	if err := stream.Send(&wire.PackFrame{
		Kind:       wire.PackFrameRegistered,
		Registered: &wire.RegisteredFrame{PackID: manifest.PackID, RejectedTools: rejected},
	}); err != nil {
		srv.dispatch.Unregister(manifest.PackID, session)
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
			srv.dispatch.Unregister(manifest.PackID, session)
			return nil
		}

		if frame.Kind == wire.PackFrameExecuteToolResponse && frame.ExecuteToolResponse != nil {
			srv.dispatch.HandleResult(manifest.PackID, frame.ExecuteToolResponse)
		}
	}
}
