package sessions

import (
	"path/filepath"
	"testing"
)

func TestBuildScopedSessionKey(t *testing.T) {
	tests := []struct {
		name  string
		kind  PeerKind
		scope KeyScope
		want  string
	}{
		{"default dm", PeerDirect, KeyScope{}, "agent:default:telegram:direct:42"},
		{"group", PeerGroup, KeyScope{DMScope: "main"}, "agent:default:telegram:group:42"},
		{"main", PeerDirect, KeyScope{DMScope: "main"}, "agent:default:main"},
		{"custom main", PeerDirect, KeyScope{DMScope: "main", MainKey: "home"}, "agent:default:home"},
		{"per peer", PeerDirect, KeyScope{DMScope: "per-peer"}, "agent:default:direct:42"},
		{"per account", PeerDirect, KeyScope{DMScope: "per-account-channel-peer", AccountID: "bot2"}, "agent:default:telegram:bot2:direct:42"},
		{"global", PeerGroup, KeyScope{Scope: "global"}, "global"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := BuildScopedSessionKey("", "telegram", tt.kind, "42", tt.scope); got != tt.want {
				t.Fatalf("key = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestParseSessionKey(t *testing.T) {
	agent, rest := ParseSessionKey("agent:ops:discord:group:9:topic:1")
	if agent != "ops" || rest != "discord:group:9:topic:1" {
		t.Fatalf("parse = %q, %q", agent, rest)
	}
	if a, r := ParseSessionKey("global"); a != "" || r != "" {
		t.Fatalf("non-agent key parsed as %q, %q", a, r)
	}
	if got := BuildGroupTopicSessionKey("Ops", "telegram", "-100", "7"); got != "agent:ops:telegram:group:-100:topic:7" {
		t.Fatalf("topic key = %q", got)
	}
}

func TestResolveStorePath(t *testing.T) {
	state := filepath.FromSlash("/var/lib/clawrelay")
	tests := []struct {
		name     string
		template string
		agent    string
		want     string
	}{
		{"default", "", "", filepath.FromSlash("/var/lib/clawrelay/agents/default/sessions/sessions.json")},
		{"agent", "", "Support", filepath.FromSlash("/var/lib/clawrelay/agents/support/sessions/sessions.json")},
		{"absolute template", "/data/{agentId}/s.json", "ops", filepath.FromSlash("/data/ops/s.json")},
		{"relative template", "stores/{agentId}.json", "ops", filepath.FromSlash("/var/lib/clawrelay/stores/ops.json")},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := ResolveStorePath(tt.template, state, tt.agent)
			if got != tt.want {
				t.Fatalf("path = %q, want %q", got, tt.want)
			}
			if again := ResolveStorePath(tt.template, state, tt.agent); again != got {
				t.Fatalf("not deterministic: %q vs %q", got, again)
			}
		})
	}
}
