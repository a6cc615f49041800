package gatewaysvc

import (
	"strings"

	"github.com/agentfabric/gateway/pkg/models"
)

// conversationKey and splitConversationKey translate between the
// human-addressable conversation key a client names on the wire
// ("frontend:channel_id", e.g. "cli:alice-workspace") and the internal
// NUL-joined form models.Binding.Key/registry.Registry/router.Router key
// their maps on. A colon is forbidden from appearing in a channel_id itself
// by this choice; channel ids encountered in the wild (Slack channel IDs,
// Discord snowflakes, CLI workspace tags) are alphanumeric and never carry
// one, so the split is unambiguous in practice. The CLI's plain "agent-01"
// form used directly as a conversation key maps to frontend "api" by
// convention, i.e. "api:agent-01".
const defaultFrontend = "api"

func conversationKey(frontend, channelID string) string {
	return frontend + ":" + channelID
}

func splitConversationKey(key string) (frontend, channelID string) {
	if i := strings.IndexByte(key, ':'); i >= 0 {
		return key[:i], key[i+1:]
	}
	return defaultFrontend, key
}

// internalKey is the NUL-joined form models.Binding.Key, registry.Registry,
// and router.Router actually index on; it is never sent on the wire.
func internalKey(frontend, channelID string) string {
	b := models.Binding{Frontend: frontend, ChannelID: channelID}
	return b.Key()
}
