// Package wire defines the framed messages exchanged on the four RPC
// surfaces (AgentControl, ClientService, PackService, AdminService) and the
// gRPC service descriptors that carry them. It plays the role normally
// filled by protoc-generated code; see codec.go for why these are plain
// Go structs dispatched by a JSON codec rather than protobuf wire types.
package wire

import "encoding/json"

// AgentFrameKind discriminates the oneof carried by an AgentFrame.
type AgentFrameKind string

const (
	AgentFrameRegister         AgentFrameKind = "register"
	AgentFrameResponse         AgentFrameKind = "response"
	AgentFrameExecutePackTool  AgentFrameKind = "execute_pack_tool"
	AgentFrameWelcome          AgentFrameKind = "welcome"
	AgentFrameRegistrationErr  AgentFrameKind = "registration_error"
	AgentFrameSendMessage      AgentFrameKind = "send_message"
	AgentFrameCancelRequest    AgentFrameKind = "cancel_request"
	AgentFrameInjectContext    AgentFrameKind = "inject_context"
	AgentFrameToolApproval     AgentFrameKind = "tool_approval"
	AgentFrameShutdown         AgentFrameKind = "shutdown"
	AgentFramePackToolResult   AgentFrameKind = "pack_tool_result"
)

// AgentFrame is the envelope exchanged in both directions on AgentStream.
// Exactly one of the typed fields is populated, selected by Kind.
type AgentFrame struct {
	Kind AgentFrameKind `json:"kind"`

	Register        *RegisterRequest      `json:"register,omitempty"`
	Response        *ResponseFrame        `json:"response,omitempty"`
	ExecutePackTool *ExecutePackToolFrame `json:"execute_pack_tool,omitempty"`

	Welcome           *WelcomeFrame          `json:"welcome,omitempty"`
	RegistrationError *RegistrationErrorFrame `json:"registration_error,omitempty"`
	SendMessage       *SendMessageFrame      `json:"send_message,omitempty"`
	CancelRequest     *CancelRequestFrame    `json:"cancel_request,omitempty"`
	InjectContext     *InjectContextFrame    `json:"inject_context,omitempty"`
	ToolApproval      *ToolApprovalFrame     `json:"tool_approval,omitempty"`
	Shutdown          *ShutdownFrame         `json:"shutdown,omitempty"`
	PackToolResult    *PackToolResultFrame   `json:"pack_tool_result,omitempty"`
}

// RegisterRequest is the agent's first frame on a new AgentStream.
type RegisterRequest struct {
	AgentID      string   `json:"agent_id"`
	Capabilities []string `json:"capabilities,omitempty"`
	WorkingDir   string   `json:"working_dir,omitempty"`
	Hostname     string   `json:"hostname,omitempty"`
	OS           string   `json:"os,omitempty"`
	Backend      string   `json:"backend,omitempty"`
	Workspace    string   `json:"workspace,omitempty"`
	GitBranch    string   `json:"git_branch,omitempty"`
	GitDirty     bool     `json:"git_dirty,omitempty"`
}

// ResponseFrame carries one event belonging to request_id.
type ResponseFrame struct {
	RequestID string          `json:"request_id"`
	EventKind string          `json:"event_kind"`
	Payload   json.RawMessage `json:"payload"`
}

// ExecutePackToolFrame is an agent's request to invoke a pack-provided tool.
type ExecutePackToolFrame struct {
	RequestID string          `json:"request_id"`
	ToolName  string          `json:"tool_name"`
	InputJSON json.RawMessage `json:"input_json"`
}

// WelcomeFrame confirms a successful AgentStream registration.
type WelcomeFrame struct {
	AgentID    string `json:"agent_id"`
	InstanceID string `json:"instance_id"`
}

// RegistrationErrorFrame rejects an AgentStream registration.
type RegistrationErrorFrame struct {
	Reason string `json:"reason"`
}

// SendMessageFrame forwards a client message to the agent.
type SendMessageFrame struct {
	RequestID   string   `json:"request_id"`
	Sender      string   `json:"sender"`
	Content     string   `json:"content"`
	Attachments []string `json:"attachments,omitempty"`
}

// CancelRequestFrame asks the agent to abort request_id, advisory only.
type CancelRequestFrame struct {
	RequestID string `json:"request_id"`
}

// InjectContextFrame pushes out-of-band text into the agent's context.
type InjectContextFrame struct {
	Text string `json:"text"`
}

// ToolApprovalFrame carries a client's approval decision to the agent.
type ToolApprovalFrame struct {
	ToolID      string `json:"tool_id"`
	Approved    bool   `json:"approved"`
	ApproveAll  bool   `json:"approve_all"`
}

// ShutdownFrame asks the agent to close its stream.
type ShutdownFrame struct {
	Reason string `json:"reason,omitempty"`
}

// PackToolResultFrame returns a pack's tool output to the requesting agent.
type PackToolResultFrame struct {
	RequestID  string          `json:"request_id"`
	OutputJSON json.RawMessage `json:"output_json,omitempty"`
	Error      string          `json:"error,omitempty"`
}

// PackFrameKind discriminates the oneof carried by a PackFrame.
type PackFrameKind string

const (
	PackFrameRegisterPack          PackFrameKind = "register_pack"
	PackFrameExecuteToolResponse   PackFrameKind = "execute_tool_response"
	PackFrameRegistered            PackFrameKind = "registered"
	PackFrameExecuteTool           PackFrameKind = "execute_tool"
	PackFrameClosing               PackFrameKind = "closing"
)

// PackFrame is the envelope exchanged in both directions on PackStream.
type PackFrame struct {
	Kind PackFrameKind `json:"kind"`

	RegisterPack        *RegisterPackFrame        `json:"register_pack,omitempty"`
	ExecuteToolResponse *ExecuteToolResponseFrame `json:"execute_tool_response,omitempty"`

	Registered   *RegisteredFrame   `json:"registered,omitempty"`
	ExecuteTool  *ExecuteToolFrame  `json:"execute_tool,omitempty"`
	Closing      *ClosingFrame      `json:"closing,omitempty"`
}

// RegisterPackFrame is a pack's manifest announcement.
type RegisterPackFrame struct {
	PackID  string               `json:"pack_id"`
	Version string               `json:"version"`
	Tools   []ToolDefinitionWire `json:"tools"`
}

// ToolDefinitionWire mirrors models.ToolDefinition for the wire.
type ToolDefinitionWire struct {
	Name                 string          `json:"name"`
	Description          string          `json:"description,omitempty"`
	InputSchema          json.RawMessage `json:"input_schema,omitempty"`
	RequiredCapabilities []string        `json:"required_capabilities,omitempty"`
	TimeoutSeconds       int             `json:"timeout_seconds,omitempty"`
}

// ExecuteToolResponseFrame is a pack's reply to ExecuteTool.
type ExecuteToolResponseFrame struct {
	RequestID  string          `json:"request_id"`
	OutputJSON json.RawMessage `json:"output_json,omitempty"`
	Error      string          `json:"error,omitempty"`
}

// RegisteredFrame acknowledges pack registration, naming any collisions.
type RegisteredFrame struct {
	PackID        string   `json:"pack_id"`
	RejectedTools []string `json:"rejected_tools,omitempty"`
}

// ExecuteToolFrame asks a pack to run one of its registered tools.
type ExecuteToolFrame struct {
	RequestID        string          `json:"request_id"`
	ToolName         string          `json:"tool_name"`
	InputJSON        json.RawMessage `json:"input_json"`
	InvokerPrincipal string          `json:"invoker_principal"`
}

// ClosingFrame tells a pack the gateway is tearing down its stream.
type ClosingFrame struct {
	Reason string `json:"reason,omitempty"`
}
