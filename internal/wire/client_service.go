package wire

// GetMeRequest has no fields; the caller's principal is taken from auth.
type GetMeRequest struct{}

// GetMeResponse describes the authenticated principal.
type GetMeResponse struct {
	PrincipalID string   `json:"principal_id"`
	Kind        string   `json:"kind"`
	DisplayName string   `json:"display_name"`
	Roles       []string `json:"roles,omitempty"`
}

// RegisterClientRequest registers an already-linked client's display name.
type RegisterClientRequest struct {
	DisplayName string `json:"display_name"`
	Fingerprint string `json:"fingerprint"`
}

// RegisterAgentRequest registers an already-linked agent's display name.
type RegisterAgentRequest struct {
	DisplayName string `json:"display_name"`
	Fingerprint string `json:"fingerprint"`
}

// RegisterReply returns the principal created or resolved by registration.
type RegisterReply struct {
	PrincipalID string `json:"principal_id"`
}

// ListAgentsRequest optionally filters by workspace tag.
type ListAgentsRequest struct {
	Workspace string `json:"workspace,omitempty"`
}

// AgentSummary is the externally visible shape of a connected agent.
type AgentSummary struct {
	AgentID    string `json:"agent_id"`
	InstanceID string `json:"instance_id"`
	Workspace  string `json:"workspace,omitempty"`
	Online     bool   `json:"online"`
}

// ListAgentsResponse lists currently known agents.
type ListAgentsResponse struct {
	Agents []AgentSummary `json:"agents"`
}

// SendMessageRequest is a client's outbound message to an agent.
type SendMessageRequest struct {
	ConversationKey string   `json:"conversation_key"`
	Content         string   `json:"content"`
	Attachments     []string `json:"attachments,omitempty"`
	IdempotencyKey  string   `json:"idempotency_key"`
}

// SendMessageResponse reports the assigned message id and its status.
type SendMessageResponse struct {
	MessageID string `json:"message_id"`
	Status    string `json:"status"` // "accepted" | "already_accepted"
}

// StreamEventsRequest opens (or resumes) a client's event subscription.
type StreamEventsRequest struct {
	ConversationKey string  `json:"conversation_key"`
	SinceEventID    *uint64 `json:"since_event_id,omitempty"`
}

// ApproveToolRequest carries a client's tool-approval decision.
type ApproveToolRequest struct {
	AgentID    string `json:"agent_id"`
	ToolID     string `json:"tool_id"`
	Approved   bool   `json:"approved"`
	ApproveAll bool   `json:"approve_all"`
}

// ApproveToolResponse acknowledges an approval decision.
type ApproveToolResponse struct {
	Acknowledged bool `json:"acknowledged"`
}
