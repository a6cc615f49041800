package wire

import (
	"context"

	"google.golang.org/grpc"
)

// AgentControlServer is the gateway side of the agent-facing bidirectional
// stream. Implementations receive AgentFrame values keyed by Kind and may
// send frames back at any time.
type AgentControlServer interface {
	AgentStream(AgentControl_AgentStreamServer) error
}

// AgentControl_AgentStreamServer is the server-side handle for one agent
// connection's bidirectional frame stream.
type AgentControl_AgentStreamServer interface {
	Send(*AgentFrame) error
	Recv() (*AgentFrame, error)
	grpc.ServerStream
}

type agentControlAgentStreamServer struct {
	grpc.ServerStream
}

func (x *agentControlAgentStreamServer) Send(f *AgentFrame) error { return x.ServerStream.SendMsg(f) }
func (x *agentControlAgentStreamServer) Recv() (*AgentFrame, error) {
	f := new(AgentFrame)
	if err := x.ServerStream.RecvMsg(f); err != nil {
		return nil, err
	}
	return f, nil
}

func agentControlAgentStreamHandler(srv interface{}, stream grpc.ServerStream) error {
	return srv.(AgentControlServer).AgentStream(&agentControlAgentStreamServer{stream})
}

// AgentControlServiceDesc is the hand-maintained equivalent of a
// protoc-gen-go-grpc _ServiceDesc for AgentControl.
var AgentControlServiceDesc = grpc.ServiceDesc{
	ServiceName: "agentfabric.gateway.v1.AgentControl",
	HandlerType: (*AgentControlServer)(nil),
	Methods:     []grpc.MethodDesc{},
	Streams: []grpc.StreamDesc{
		{
			StreamName:    "AgentStream",
			Handler:       agentControlAgentStreamHandler,
			ServerStreams: true,
			ClientStreams: true,
		},
	},
	Metadata: "agentfabric/gateway/v1/agent_control.proto",
}

// AgentControl_AgentStreamClient is the client-side handle used by test
// harnesses and the operator CLI's diagnostic commands.
type AgentControl_AgentStreamClient interface {
	Send(*AgentFrame) error
	Recv() (*AgentFrame, error)
	grpc.ClientStream
}

type agentControlAgentStreamClient struct {
	grpc.ClientStream
}

func (x *agentControlAgentStreamClient) Send(f *AgentFrame) error { return x.ClientStream.SendMsg(f) }
func (x *agentControlAgentStreamClient) Recv() (*AgentFrame, error) {
	f := new(AgentFrame)
	if err := x.ClientStream.RecvMsg(f); err != nil {
		return nil, err
	}
	return f, nil
}

// NewAgentControlClient dials the AgentStream RPC on an established conn.
func NewAgentControlClient(ctx context.Context, cc *grpc.ClientConn) (AgentControl_AgentStreamClient, error) {
	stream, err := cc.NewStream(ctx, &AgentControlServiceDesc.Streams[0], "/"+AgentControlServiceDesc.ServiceName+"/AgentStream")
	if err != nil {
		return nil, err
	}
	return &agentControlAgentStreamClient{stream}, nil
}

// PackServer is the gateway side of the pack-facing bidirectional stream.
type PackServer interface {
	PackStream(PackService_PackStreamServer) error
}

// PackService_PackStreamServer is the server-side handle for one pack
// connection's bidirectional frame stream.
type PackService_PackStreamServer interface {
	Send(*PackFrame) error
	Recv() (*PackFrame, error)
	grpc.ServerStream
}

type packServicePackStreamServer struct {
	grpc.ServerStream
}

func (x *packServicePackStreamServer) Send(f *PackFrame) error { return x.ServerStream.SendMsg(f) }
func (x *packServicePackStreamServer) Recv() (*PackFrame, error) {
	f := new(PackFrame)
	if err := x.ServerStream.RecvMsg(f); err != nil {
		return nil, err
	}
	return f, nil
}

func packServicePackStreamHandler(srv interface{}, stream grpc.ServerStream) error {
	return srv.(PackServer).PackStream(&packServicePackStreamServer{stream})
}

// PackServiceDesc is the hand-maintained equivalent of a
// protoc-gen-go-grpc _ServiceDesc for PackService.
var PackServiceDesc = grpc.ServiceDesc{
	ServiceName: "agentfabric.gateway.v1.PackService",
	HandlerType: (*PackServer)(nil),
	Methods:     []grpc.MethodDesc{},
	Streams: []grpc.StreamDesc{
		{
			StreamName:    "PackStream",
			Handler:       packServicePackStreamHandler,
			ServerStreams: true,
			ClientStreams: true,
		},
	},
	Metadata: "agentfabric/gateway/v1/pack_service.proto",
}

// ClientServiceServer is the unary + server-streaming client-facing surface.
type ClientServiceServer interface {
	GetMe(context.Context, *GetMeRequest) (*GetMeResponse, error)
	RegisterClient(context.Context, *RegisterClientRequest) (*RegisterReply, error)
	RegisterAgent(context.Context, *RegisterAgentRequest) (*RegisterReply, error)
	ListAgents(context.Context, *ListAgentsRequest) (*ListAgentsResponse, error)
	SendMessage(context.Context, *SendMessageRequest) (*SendMessageResponse, error)
	StreamEvents(*StreamEventsRequest, ClientService_StreamEventsServer) error
	ApproveTool(context.Context, *ApproveToolRequest) (*ApproveToolResponse, error)
}

// ClientService_StreamEventsServer is the server-streaming handle used to
// push Event frames (pkg/models.Event) to a subscribed client.
type ClientService_StreamEventsServer interface {
	Send(*EventFrame) error
	grpc.ServerStream
}

// EventFrame wraps one routed event for the wire; payload mirrors
// models.Event but is kept independent so the wire package has no import
// cycle back into pkg/models.
type EventFrame struct {
	EventID      uint64     `json:"event_id"`
	RequestID    string     `json:"request_id"`
	Kind         string     `json:"kind"`
	Text         string     `json:"text,omitempty"`
	SessionID    string     `json:"session_id,omitempty"`
	Reason       string     `json:"reason,omitempty"`
	ToolID       string     `json:"tool_id,omitempty"`
	ToolName     string     `json:"tool_name,omitempty"`
	InputJSON    []byte     `json:"input_json,omitempty"`
	OutputJSON   []byte     `json:"output_json,omitempty"`
	IsError      bool       `json:"is_error,omitempty"`
	ToolState    string     `json:"tool_state,omitempty"`
	Detail       string     `json:"detail,omitempty"`
	Usage        *UsageWire `json:"usage,omitempty"`
	File         *FileWire  `json:"file,omitempty"`
	Message      string     `json:"message,omitempty"`
	FullResponse string     `json:"full_response,omitempty"`
}

// UsageWire mirrors models.Usage for the wire.
type UsageWire struct {
	Input      int64 `json:"input"`
	Output     int64 `json:"output"`
	CacheRead  int64 `json:"cache_read"`
	CacheWrite int64 `json:"cache_write"`
	Thinking   int64 `json:"thinking"`
}

// FileWire mirrors models.File for the wire. The router has already
// enforced the size ceiling by the time a file event reaches a frame.
type FileWire struct {
	Filename string `json:"filename"`
	Mime     string `json:"mime"`
	Bytes    []byte `json:"bytes"`
}

type clientServiceStreamEventsServer struct {
	grpc.ServerStream
}

func (x *clientServiceStreamEventsServer) Send(f *EventFrame) error {
	return x.ServerStream.SendMsg(f)
}

func clientServiceStreamEventsHandler(srv interface{}, stream grpc.ServerStream) error {
	req := new(StreamEventsRequest)
	if err := stream.RecvMsg(req); err != nil {
		return err
	}
	return srv.(ClientServiceServer).StreamEvents(req, &clientServiceStreamEventsServer{stream})
}

func clientServiceGetMeHandler(srv interface{}, ctx context.Context, dec func(interface{}) error, _ grpc.UnaryServerInterceptor) (interface{}, error) {
	req := new(GetMeRequest)
	if err := dec(req); err != nil {
		return nil, err
	}
	return srv.(ClientServiceServer).GetMe(ctx, req)
}

func clientServiceSendMessageHandler(srv interface{}, ctx context.Context, dec func(interface{}) error, _ grpc.UnaryServerInterceptor) (interface{}, error) {
	req := new(SendMessageRequest)
	if err := dec(req); err != nil {
		return nil, err
	}
	return srv.(ClientServiceServer).SendMessage(ctx, req)
}

func clientServiceApproveToolHandler(srv interface{}, ctx context.Context, dec func(interface{}) error, _ grpc.UnaryServerInterceptor) (interface{}, error) {
	req := new(ApproveToolRequest)
	if err := dec(req); err != nil {
		return nil, err
	}
	return srv.(ClientServiceServer).ApproveTool(ctx, req)
}

func clientServiceListAgentsHandler(srv interface{}, ctx context.Context, dec func(interface{}) error, _ grpc.UnaryServerInterceptor) (interface{}, error) {
	req := new(ListAgentsRequest)
	if err := dec(req); err != nil {
		return nil, err
	}
	return srv.(ClientServiceServer).ListAgents(ctx, req)
}

func clientServiceRegisterClientHandler(srv interface{}, ctx context.Context, dec func(interface{}) error, _ grpc.UnaryServerInterceptor) (interface{}, error) {
	req := new(RegisterClientRequest)
	if err := dec(req); err != nil {
		return nil, err
	}
	return srv.(ClientServiceServer).RegisterClient(ctx, req)
}

func clientServiceRegisterAgentHandler(srv interface{}, ctx context.Context, dec func(interface{}) error, _ grpc.UnaryServerInterceptor) (interface{}, error) {
	req := new(RegisterAgentRequest)
	if err := dec(req); err != nil {
		return nil, err
	}
	return srv.(ClientServiceServer).RegisterAgent(ctx, req)
}

// ClientServiceDesc is the hand-maintained equivalent of a
// protoc-gen-go-grpc _ServiceDesc for ClientService.
var ClientServiceDesc = grpc.ServiceDesc{
	ServiceName: "agentfabric.gateway.v1.ClientService",
	HandlerType: (*ClientServiceServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "GetMe", Handler: clientServiceGetMeHandler},
		{MethodName: "RegisterClient", Handler: clientServiceRegisterClientHandler},
		{MethodName: "RegisterAgent", Handler: clientServiceRegisterAgentHandler},
		{MethodName: "ListAgents", Handler: clientServiceListAgentsHandler},
		{MethodName: "SendMessage", Handler: clientServiceSendMessageHandler},
		{MethodName: "ApproveTool", Handler: clientServiceApproveToolHandler},
	},
	Streams: []grpc.StreamDesc{
		{
			StreamName:    "StreamEvents",
			Handler:       clientServiceStreamEventsHandler,
			ServerStreams: true,
		},
	},
	Metadata: "agentfabric/gateway/v1/client_service.proto",
}

// AdminServiceServer is the operator-only unary CRUD surface.
type AdminServiceServer interface {
	CreatePrincipal(context.Context, *CreatePrincipalRequest) (*CreatePrincipalResponse, error)
	ListPrincipals(context.Context, *ListPrincipalsRequest) (*ListPrincipalsResponse, error)
	DeletePrincipal(context.Context, *DeletePrincipalRequest) (*DeletePrincipalResponse, error)
	CreateBinding(context.Context, *CreateBindingRequest) (*CreateBindingResponse, error)
	ListBindings(context.Context, *ListBindingsRequest) (*ListBindingsResponse, error)
	DeleteBinding(context.Context, *DeleteBindingRequest) (*DeleteBindingResponse, error)
	CreateToken(context.Context, *CreateTokenRequest) (*CreateTokenResponse, error)
}

func adminServiceHandler[Req any, Resp any](call func(context.Context, *Req) (*Resp, error)) func(interface{}, context.Context, func(interface{}) error, grpc.UnaryServerInterceptor) (interface{}, error) {
	return func(srv interface{}, ctx context.Context, dec func(interface{}) error, _ grpc.UnaryServerInterceptor) (interface{}, error) {
		req := new(Req)
		if err := dec(req); err != nil {
			return nil, err
		}
		return call(ctx, req)
	}
}

// NewAdminServiceDesc builds the hand-maintained equivalent of a
// protoc-gen-go-grpc _ServiceDesc for AdminService, binding each method
// handler directly to the matching method of impl.
func NewAdminServiceDesc(impl AdminServiceServer) grpc.ServiceDesc {
	return grpc.ServiceDesc{
		ServiceName: "agentfabric.gateway.v1.AdminService",
		HandlerType: (*AdminServiceServer)(nil),
		Methods: []grpc.MethodDesc{
			{MethodName: "CreatePrincipal", Handler: adminServiceHandler(impl.CreatePrincipal)},
			{MethodName: "ListPrincipals", Handler: adminServiceHandler(impl.ListPrincipals)},
			{MethodName: "DeletePrincipal", Handler: adminServiceHandler(impl.DeletePrincipal)},
			{MethodName: "CreateBinding", Handler: adminServiceHandler(impl.CreateBinding)},
			{MethodName: "ListBindings", Handler: adminServiceHandler(impl.ListBindings)},
			{MethodName: "DeleteBinding", Handler: adminServiceHandler(impl.DeleteBinding)},
			{MethodName: "CreateToken", Handler: adminServiceHandler(impl.CreateToken)},
		},
		Metadata: "agentfabric/gateway/v1/admin_service.proto",
	}
}
