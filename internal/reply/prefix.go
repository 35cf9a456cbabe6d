package reply

import (
	"regexp"
	"strings"
	"sync/atomic"
)

// PrefixValues are the template variables available to a response prefix.
type PrefixValues struct {
	IdentityName  string
	Provider      string
	Model         string // short name, e.g. "claude-sonnet-4-5"
	ModelFull     string // "provider/model"
	ThinkingLevel string
}

// PrefixContext is the turn's current model identity. The dispatcher is its
// only writer; any goroutine may take a Snapshot. Every write replaces the
// whole value, so readers never observe a half-applied update.
type PrefixContext struct {
	v atomic.Pointer[PrefixValues]
}

// NewPrefixContext seeds the cell with the agent's identity name.
func NewPrefixContext(identityName string) *PrefixContext {
	p := &PrefixContext{}
	p.v.Store(&PrefixValues{IdentityName: identityName})
	return p
}

// Apply records a model selection. Last write wins.
func (p *PrefixContext) Apply(m ModelSelected) {
	next := p.Snapshot()
	next.Provider = m.Provider
	next.Model = ExtractShortModelName(m.Model)
	next.ModelFull = m.Provider + "/" + m.Model
	if m.Provider == "" {
		next.ModelFull = m.Model
	}
	next.ThinkingLevel = m.ThinkLevel
	if next.ThinkingLevel == "" {
		next.ThinkingLevel = "off"
	}
	p.v.Store(&next)
}

// Snapshot returns a copy of the current values.
func (p *PrefixContext) Snapshot() PrefixValues {
	if v := p.v.Load(); v != nil {
		return *v
	}
	return PrefixValues{}
}

var (
	dateSuffix     = regexp.MustCompile(`-\d{8}$`)
	templateVarRef = regexp.MustCompile(`\{([a-zA-Z][a-zA-Z0-9.]*)\}`)
)

// ExtractShortModelName drops the provider prefix and date or "-latest"
// suffixes: "anthropic/claude-3-5-sonnet-20241022" → "claude-3-5-sonnet".
func ExtractShortModelName(full string) string {
	name := full
	if i := strings.LastIndex(name, "/"); i >= 0 {
		name = name[i+1:]
	}
	name = dateSuffix.ReplaceAllString(name, "")
	return strings.TrimSuffix(name, "-latest")
}

// ResolvePrefixTemplate substitutes {model}, {modelFull}, {provider},
// {thinkingLevel} (alias {think}) and {identity.name} (alias
// {identityName}). Variable names are case-insensitive; unknown or unset
// variables are left as written.
func ResolvePrefixTemplate(template string, v PrefixValues) string {
	if template == "" || !strings.Contains(template, "{") {
		return template
	}
	return templateVarRef.ReplaceAllStringFunc(template, func(ref string) string {
		name := strings.ToLower(ref[1 : len(ref)-1])
		var val string
		switch name {
		case "model":
			val = v.Model
		case "modelfull":
			val = v.ModelFull
		case "provider":
			val = v.Provider
		case "thinkinglevel", "think":
			val = v.ThinkingLevel
		case "identity.name", "identityname":
			val = v.IdentityName
		}
		if val == "" {
			return ref
		}
		return val
	})
}
