package models

import "time"

// Binding is a durable mapping from an external addressing triple to the
// agent id that owns it. Chat-platform bridges use it to resolve "this
// chatroom" to an agent.
type Binding struct {
	ID        string    `json:"id"`
	Frontend  string    `json:"frontend"`
	ChannelID string    `json:"channel_id"`
	AgentID   string    `json:"agent_id"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Key returns the (frontend, channel_id) identity used for lookups and
// uniqueness enforcement.
func (b *Binding) Key() string {
	return b.Frontend + "\x00" + b.ChannelID
}
