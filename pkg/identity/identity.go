// Package identity implements the agent identity registry: declared
// per-agent tool bindings and data-tag clearance.
package identity

import (
	"fmt"
	"sort"
	"strings"

	"github.com/safeai-run/safeai/pkg/tagging"
)

// Identity is one agent's declared tool bindings and tag clearance.
type Identity struct {
	AgentID       string
	Description   string
	Tools         []string
	ClearanceTags []string
}

// ValidationResult is the outcome of checking an agent against a tool
// and/or a set of data tags.
type ValidationResult struct {
	Allowed          bool
	Reason           string
	UnauthorizedTags []string
	Identity         *Identity
}

// Registry is the runtime lookup table of declared agent identities,
// keyed by agent ID.
type Registry struct {
	identities map[string]Identity
}

// NewRegistry builds a registry from an already-normalized identity list.
func NewRegistry(identities []Identity) *Registry {
	r := &Registry{}
	r.Load(identities)
	return r
}

// Load replaces the registry's contents wholesale.
func (r *Registry) Load(identities []Identity) {
	m := make(map[string]Identity, len(identities))
	for _, id := range identities {
		m[id.AgentID] = id
	}
	r.identities = m
}

// Get returns the identity for agentID, or nil if undeclared.
func (r *Registry) Get(agentID string) *Identity {
	id, ok := r.identities[strings.TrimSpace(agentID)]
	if !ok {
		return nil
	}
	return &id
}

// Has reports whether agentID has a declared identity.
func (r *Registry) Has(agentID string) bool {
	return r.Get(agentID) != nil
}

// All returns every declared identity, in no particular order.
func (r *Registry) All() []Identity {
	out := make([]Identity, 0, len(r.identities))
	for _, id := range r.identities {
		out = append(out, id)
	}
	return out
}

// Validate checks agentID against an optional tool binding and an
// optional set of data tags. An empty registry is permissive (identity
// enforcement is opt-in): every agent passes when no identities are
// declared at all. Once any identity is declared, every agent must be
// declared too.
func (r *Registry) Validate(agentID, toolName string, dataTags []string) ValidationResult {
	token := strings.TrimSpace(agentID)
	if token == "" {
		return ValidationResult{
			Allowed:          false,
			Reason:           "agent identity is required",
			UnauthorizedTags: sortedLowerTags(dataTags),
		}
	}

	if len(r.identities) == 0 {
		return ValidationResult{
			Allowed: true,
			Reason:  "agent identity registry is not configured",
		}
	}

	id := r.Get(token)
	if id == nil {
		return ValidationResult{
			Allowed:          false,
			Reason:           fmt.Sprintf("agent %q is not declared", token),
			UnauthorizedTags: sortedLowerTags(dataTags),
		}
	}

	if toolName != "" && len(id.Tools) > 0 && !containsString(id.Tools, strings.TrimSpace(toolName)) {
		return ValidationResult{
			Allowed:  false,
			Reason:   fmt.Sprintf("agent %q is not bound to tool %q", token, toolName),
			Identity: id,
		}
	}

	unauthorized := findUnauthorizedTags(dataTags, id.ClearanceTags)
	if len(unauthorized) > 0 {
		return ValidationResult{
			Allowed:          false,
			Reason:           fmt.Sprintf("agent %q exceeds tag clearance: %s", token, strings.Join(unauthorized, ",")),
			UnauthorizedTags: unauthorized,
			Identity:         id,
		}
	}

	return ValidationResult{
		Allowed:  true,
		Reason:   "agent identity allows tool and data scope",
		Identity: id,
	}
}

// findUnauthorizedTags returns, from tags, every tag whose hierarchy does
// not intersect clearanceTags. An agent with no declared clearance tags
// has no tag restriction at all (declaring an identity only for its
// tool binding is valid).
func findUnauthorizedTags(tags []string, clearanceTags []string) []string {
	if len(tags) == 0 || len(clearanceTags) == 0 {
		return nil
	}
	accepted := tagging.Set(clearanceTags)
	seen := make(map[string]struct{})
	var out []string
	for _, raw := range tags {
		tag := tagging.Normalize(raw)
		if tag == "" {
			continue
		}
		authorized := false
		for ancestor := range tagging.Expand([]string{tag}) {
			if _, ok := accepted[ancestor]; ok {
				authorized = true
				break
			}
		}
		if authorized {
			continue
		}
		if _, dup := seen[tag]; dup {
			continue
		}
		seen[tag] = struct{}{}
		out = append(out, tag)
	}
	sort.Strings(out)
	return out
}

func sortedLowerTags(tags []string) []string {
	seen := make(map[string]struct{}, len(tags))
	var out []string
	for _, raw := range tags {
		tag := tagging.Normalize(raw)
		if tag == "" {
			continue
		}
		if _, ok := seen[tag]; ok {
			continue
		}
		seen[tag] = struct{}{}
		out = append(out, tag)
	}
	sort.Strings(out)
	return out
}

func containsString(haystack []string, needle string) bool {
	for _, item := range haystack {
		if item == needle {
			return true
		}
	}
	return false
}
