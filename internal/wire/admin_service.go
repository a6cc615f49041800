package wire

// CreatePrincipalRequest provisions a principal directly (bypassing the
// link-code ritual); used by operators for e.g. scripted pack onboarding.
type CreatePrincipalRequest struct {
	Kind        string   `json:"kind"`
	DisplayName string   `json:"display_name"`
	Fingerprint string   `json:"fingerprint"`
	Roles       []string `json:"roles,omitempty"`
}

// PrincipalWire mirrors models.Principal for the admin wire surface.
type PrincipalWire struct {
	ID          string   `json:"id"`
	Kind        string   `json:"kind"`
	DisplayName string   `json:"display_name"`
	Fingerprint string   `json:"fingerprint"`
	Status      string   `json:"status"`
	Roles       []string `json:"roles,omitempty"`
}

// CreatePrincipalResponse returns the provisioned principal.
type CreatePrincipalResponse struct {
	Principal PrincipalWire `json:"principal"`
}

// ListPrincipalsRequest has no filters in the core surface.
type ListPrincipalsRequest struct{}

// ListPrincipalsResponse lists every known principal.
type ListPrincipalsResponse struct {
	Principals []PrincipalWire `json:"principals"`
}

// DeletePrincipalRequest removes a principal by id.
type DeletePrincipalRequest struct {
	PrincipalID string `json:"principal_id"`
}

// DeletePrincipalResponse acknowledges deletion.
type DeletePrincipalResponse struct{}

// CreateBindingRequest durably maps an external address to an agent.
type CreateBindingRequest struct {
	Frontend  string `json:"frontend"`
	ChannelID string `json:"channel_id"`
	AgentID   string `json:"agent_id"`
}

// BindingWire mirrors models.Binding for the admin wire surface.
type BindingWire struct {
	ID        string `json:"id"`
	Frontend  string `json:"frontend"`
	ChannelID string `json:"channel_id"`
	AgentID   string `json:"agent_id"`
}

// CreateBindingResponse returns the created binding.
type CreateBindingResponse struct {
	Binding BindingWire `json:"binding"`
}

// ListBindingsRequest has no filters in the core surface.
type ListBindingsRequest struct{}

// ListBindingsResponse lists every durable binding.
type ListBindingsResponse struct {
	Bindings []BindingWire `json:"bindings"`
}

// DeleteBindingRequest removes a binding by id.
type DeleteBindingRequest struct {
	BindingID string `json:"binding_id"`
}

// DeleteBindingResponse acknowledges deletion.
type DeleteBindingResponse struct{}

// CreateTokenRequest mints a bearer token for an existing principal.
type CreateTokenRequest struct {
	PrincipalID string `json:"principal_id"`
	TTLSeconds  int64  `json:"ttl_seconds"`
}

// CreateTokenResponse returns the minted token.
type CreateTokenResponse struct {
	Token     string `json:"token"`
	ExpiresAt int64  `json:"expires_at"` // unix seconds
}
