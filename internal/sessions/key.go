// Package sessions owns per-session routing state: canonical session keys,
// store path resolution and serialized load-modify-persist transactions.
//
// Session keys follow the canonical format:
//
//	agent:{agentId}:{rest}
//
// Where {rest} depends on the conversation:
//
//	DM:          {channel}:direct:{peerId}
//	Group:       {channel}:group:{groupId}
//	Forum topic: {channel}:group:{groupId}:topic:{topicId}
//
// Examples:
//
//	agent:default:telegram:direct:386246614
//	agent:default:discord:group:1203040506
//	agent:default:telegram:group:-100123456:topic:99
package sessions

import (
	"fmt"
	"strings"
)

// PeerKind distinguishes DM from group conversations.
type PeerKind string

const (
	PeerDirect PeerKind = "direct"
	PeerGroup  PeerKind = "group"
)

// DefaultAgentID is used when routing does not name an agent.
const DefaultAgentID = "default"

// NormalizeAgentID lowercases and trims an agent ID, falling back to "default".
func NormalizeAgentID(agentID string) string {
	id := strings.ToLower(strings.TrimSpace(agentID))
	if id == "" {
		return DefaultAgentID
	}
	return id
}

// BuildSessionKey builds the canonical agent session key for a channel conversation.
//
//	agent:{agentId}:{channel}:{kind}:{chatID}
func BuildSessionKey(agentID, channel string, kind PeerKind, chatID string) string {
	return fmt.Sprintf("agent:%s:%s:%s:%s", NormalizeAgentID(agentID), channel, kind, chatID)
}

// BuildGroupTopicSessionKey builds the session key for a forum group topic.
//
//	agent:{agentId}:{channel}:group:{chatID}:topic:{topicID}
func BuildGroupTopicSessionKey(agentID, channel, chatID, topicID string) string {
	return fmt.Sprintf("agent:%s:%s:group:%s:topic:%s", NormalizeAgentID(agentID), channel, chatID, topicID)
}

// BuildAgentMainSessionKey builds the shared "main" session key for an agent.
//
//	agent:{agentId}:{mainKey}
func BuildAgentMainSessionKey(agentID, mainKey string) string {
	if mainKey == "" {
		mainKey = "main"
	}
	return fmt.Sprintf("agent:%s:%s", NormalizeAgentID(agentID), mainKey)
}

// KeyScope selects how DMs map to sessions. Groups always get their own key.
type KeyScope struct {
	Scope     string // "global" or "per-sender" (default)
	DMScope   string // "main", "per-peer", "per-channel-peer" (default), "per-account-channel-peer"
	MainKey   string
	AccountID string
}

// BuildScopedSessionKey builds a session key based on scope config.
//
// dmScope (for DMs only):
//   - "main"                     → agent:{agentId}:{mainKey}
//   - "per-peer"                 → agent:{agentId}:direct:{peerId}
//   - "per-channel-peer"         → agent:{agentId}:{channel}:direct:{peerId}  (default)
//   - "per-account-channel-peer" → agent:{agentId}:{channel}:{accountId}:direct:{peerId}
func BuildScopedSessionKey(agentID, channel string, kind PeerKind, chatID string, scope KeyScope) string {
	if scope.Scope == "global" {
		return "global"
	}
	if kind == PeerGroup {
		return BuildSessionKey(agentID, channel, kind, chatID)
	}

	switch scope.DMScope {
	case "main":
		return BuildAgentMainSessionKey(agentID, scope.MainKey)
	case "per-peer":
		return fmt.Sprintf("agent:%s:direct:%s", NormalizeAgentID(agentID), chatID)
	case "per-account-channel-peer":
		if scope.AccountID != "" {
			return fmt.Sprintf("agent:%s:%s:%s:direct:%s", NormalizeAgentID(agentID), channel, scope.AccountID, chatID)
		}
		return BuildSessionKey(agentID, channel, kind, chatID)
	default:
		return BuildSessionKey(agentID, channel, kind, chatID)
	}
}

// ParseSessionKey extracts the agentID and rest from a canonical session key.
// Returns ("", "") if the key is not in the expected format.
func ParseSessionKey(key string) (agentID, rest string) {
	parts := strings.SplitN(key, ":", 3)
	if len(parts) < 3 || parts[0] != "agent" {
		return "", ""
	}
	return parts[1], parts[2]
}

// PeerKindFromGroup returns PeerGroup if isGroup is true, PeerDirect otherwise.
func PeerKindFromGroup(isGroup bool) PeerKind {
	if isGroup {
		return PeerGroup
	}
	return PeerDirect
}
