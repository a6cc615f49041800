package wire

import (
	"context"

	"google.golang.org/grpc"
)

// ClientServiceClient is a thin hand-maintained client stub for
// ClientServiceDesc's unary methods, used by gatewayctl and integration
// tests. StreamEvents is invoked directly via cc.NewStream in callers that
// need it; the other methods go through cc.Invoke like a generated
// protoc-gen-go-grpc client would.
type ClientServiceClient struct {
	cc *grpc.ClientConn
}

// NewClientServiceClient wraps an established connection.
func NewClientServiceClient(cc *grpc.ClientConn) *ClientServiceClient {
	return &ClientServiceClient{cc: cc}
}

func (c *ClientServiceClient) method(name string) string {
	return "/" + ClientServiceDesc.ServiceName + "/" + name
}

func (c *ClientServiceClient) GetMe(ctx context.Context, req *GetMeRequest) (*GetMeResponse, error) {
	resp := new(GetMeResponse)
	if err := c.cc.Invoke(ctx, c.method("GetMe"), req, resp); err != nil {
		return nil, err
	}
	return resp, nil
}

func (c *ClientServiceClient) RegisterClient(ctx context.Context, req *RegisterClientRequest) (*RegisterReply, error) {
	resp := new(RegisterReply)
	if err := c.cc.Invoke(ctx, c.method("RegisterClient"), req, resp); err != nil {
		return nil, err
	}
	return resp, nil
}

func (c *ClientServiceClient) RegisterAgent(ctx context.Context, req *RegisterAgentRequest) (*RegisterReply, error) {
	resp := new(RegisterReply)
	if err := c.cc.Invoke(ctx, c.method("RegisterAgent"), req, resp); err != nil {
		return nil, err
	}
	return resp, nil
}

func (c *ClientServiceClient) ListAgents(ctx context.Context, req *ListAgentsRequest) (*ListAgentsResponse, error) {
	resp := new(ListAgentsResponse)
	if err := c.cc.Invoke(ctx, c.method("ListAgents"), req, resp); err != nil {
		return nil, err
	}
	return resp, nil
}

func (c *ClientServiceClient) SendMessage(ctx context.Context, req *SendMessageRequest) (*SendMessageResponse, error) {
	resp := new(SendMessageResponse)
	if err := c.cc.Invoke(ctx, c.method("SendMessage"), req, resp); err != nil {
		return nil, err
	}
	return resp, nil
}

func (c *ClientServiceClient) ApproveTool(ctx context.Context, req *ApproveToolRequest) (*ApproveToolResponse, error) {
	resp := new(ApproveToolResponse)
	if err := c.cc.Invoke(ctx, c.method("ApproveTool"), req, resp); err != nil {
		return nil, err
	}
	return resp, nil
}

// StreamEvents opens the server-streaming RPC and returns a receive-only
// handle for EventFrame values.
func (c *ClientServiceClient) StreamEvents(ctx context.Context, req *StreamEventsRequest) (ClientService_StreamEventsClient, error) {
	stream, err := c.cc.NewStream(ctx, &ClientServiceDesc.Streams[0], c.method("StreamEvents"))
	if err != nil {
		return nil, err
	}
	if err := stream.SendMsg(req); err != nil {
		return nil, err
	}
	if err := stream.CloseSend(); err != nil {
		return nil, err
	}
	return &clientServiceStreamEventsClient{stream}, nil
}

// ClientService_StreamEventsClient is the client-side handle for the
// StreamEvents server-streaming RPC.
type ClientService_StreamEventsClient interface {
	Recv() (*EventFrame, error)
	grpc.ClientStream
}

type clientServiceStreamEventsClient struct {
	grpc.ClientStream
}

func (x *clientServiceStreamEventsClient) Recv() (*EventFrame, error) {
	f := new(EventFrame)
	if err := x.ClientStream.RecvMsg(f); err != nil {
		return nil, err
	}
	return f, nil
}

// AdminServiceClient is a thin hand-maintained client stub for
// AdminService's unary methods (see NewAdminServiceDesc).
type AdminServiceClient struct {
	cc *grpc.ClientConn
}

// NewAdminServiceClient wraps an established connection.
func NewAdminServiceClient(cc *grpc.ClientConn) *AdminServiceClient {
	return &AdminServiceClient{cc: cc}
}

func (c *AdminServiceClient) method(name string) string {
	return "/agentfabric.gateway.v1.AdminService/" + name
}

func (c *AdminServiceClient) CreatePrincipal(ctx context.Context, req *CreatePrincipalRequest) (*CreatePrincipalResponse, error) {
	resp := new(CreatePrincipalResponse)
	if err := c.cc.Invoke(ctx, c.method("CreatePrincipal"), req, resp); err != nil {
		return nil, err
	}
	return resp, nil
}

func (c *AdminServiceClient) ListPrincipals(ctx context.Context, req *ListPrincipalsRequest) (*ListPrincipalsResponse, error) {
	resp := new(ListPrincipalsResponse)
	if err := c.cc.Invoke(ctx, c.method("ListPrincipals"), req, resp); err != nil {
		return nil, err
	}
	return resp, nil
}

func (c *AdminServiceClient) DeletePrincipal(ctx context.Context, req *DeletePrincipalRequest) (*DeletePrincipalResponse, error) {
	resp := new(DeletePrincipalResponse)
	if err := c.cc.Invoke(ctx, c.method("DeletePrincipal"), req, resp); err != nil {
		return nil, err
	}
	return resp, nil
}

func (c *AdminServiceClient) CreateBinding(ctx context.Context, req *CreateBindingRequest) (*CreateBindingResponse, error) {
	resp := new(CreateBindingResponse)
	if err := c.cc.Invoke(ctx, c.method("CreateBinding"), req, resp); err != nil {
		return nil, err
	}
	return resp, nil
}

func (c *AdminServiceClient) ListBindings(ctx context.Context, req *ListBindingsRequest) (*ListBindingsResponse, error) {
	resp := new(ListBindingsResponse)
	if err := c.cc.Invoke(ctx, c.method("ListBindings"), req, resp); err != nil {
		return nil, err
	}
	return resp, nil
}

func (c *AdminServiceClient) DeleteBinding(ctx context.Context, req *DeleteBindingRequest) (*DeleteBindingResponse, error) {
	resp := new(DeleteBindingResponse)
	if err := c.cc.Invoke(ctx, c.method("DeleteBinding"), req, resp); err != nil {
		return nil, err
	}
	return resp, nil
}

func (c *AdminServiceClient) CreateToken(ctx context.Context, req *CreateTokenRequest) (*CreateTokenResponse, error) {
	resp := new(CreateTokenResponse)
	if err := c.cc.Invoke(ctx, c.method("CreateToken"), req, resp); err != nil {
		return nil, err
	}
	return resp, nil
}
