package sessions

import (
	"os"
	"path/filepath"
	"strings"
)

// ResolveStorePath returns the session store location for an agent.
//
// An empty template yields <stateDir>/agents/<agentId>/sessions/sessions.json.
// Otherwise "{agentId}" is substituted, a leading "~" expands to the home
// directory and relative results are anchored at stateDir. The same inputs
// always produce the same cleaned path.
func ResolveStorePath(template, stateDir, agentID string) string {
	agentID = NormalizeAgentID(agentID)
	template = strings.TrimSpace(template)
	if template == "" {
		return filepath.Join(stateDir, "agents", agentID, "sessions", "sessions.json")
	}

	p := strings.ReplaceAll(template, "{agentId}", agentID)
	if p == "~" || strings.HasPrefix(p, "~/") {
		if home, err := os.UserHomeDir(); err == nil {
			p = filepath.Join(home, strings.TrimPrefix(p[1:], "/"))
		}
	}
	if !filepath.IsAbs(p) {
		p = filepath.Join(stateDir, p)
	}
	return filepath.Clean(p)
}
