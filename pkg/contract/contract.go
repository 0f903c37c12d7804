// Package contract implements tool contracts: declared accept/emit/store
// surfaces per tool, and request validation against them.
package contract

import (
	"fmt"
	"sort"
	"strings"

	"github.com/safeai-run/safeai/pkg/tagging"
)

// SideEffects describes whether invoking a tool can be undone and whether
// it always requires human sign-off regardless of policy outcome.
type SideEffects struct {
	Reversible       bool
	RequiresApproval bool
	Description      string
}

// Contract is one tool's declared data-flow surface.
type Contract struct {
	ToolName       string
	Description    string
	AcceptsTags    []string
	AcceptsFields  []string
	EmitsTags      []string
	EmitsFields    []string
	StoresFields   []string
	StoresRetention string
	SideEffects    SideEffects
}

// ValidationResult is the outcome of checking a request's data tags
// against a tool's declared accepted tags.
type ValidationResult struct {
	Allowed            bool
	Reason             string
	UnauthorizedTags   []string
	Contract           *Contract
}

// Registry is the runtime lookup table of declared contracts, keyed by
// tool name.
type Registry struct {
	contracts map[string]Contract
}

// NewRegistry builds a registry from an already-normalized contract list.
func NewRegistry(contracts []Contract) *Registry {
	r := &Registry{}
	r.Load(contracts)
	return r
}

// Load replaces the registry's contents wholesale.
func (r *Registry) Load(contracts []Contract) {
	m := make(map[string]Contract, len(contracts))
	for _, c := range contracts {
		m[c.ToolName] = c
	}
	r.contracts = m
}

// Get returns the contract for tool name, or nil if undeclared.
func (r *Registry) Get(toolName string) *Contract {
	c, ok := r.contracts[strings.TrimSpace(toolName)]
	if !ok {
		return nil
	}
	return &c
}

// Has reports whether a contract is declared for toolName.
func (r *Registry) Has(toolName string) bool {
	return r.Get(toolName) != nil
}

// All returns every declared contract, in no particular order.
func (r *Registry) All() []Contract {
	out := make([]Contract, 0, len(r.contracts))
	for _, c := range r.contracts {
		out = append(out, c)
	}
	return out
}

// ValidateRequest checks whether toolName's contract accepts every tag in
// dataTags. A tool with no declared contract always fails closed. A
// request with no classified tags always passes (there is nothing to
// authorize).
func (r *Registry) ValidateRequest(toolName string, dataTags []string) ValidationResult {
	contract := r.Get(toolName)
	if contract == nil {
		return ValidationResult{
			Allowed:          false,
			Reason:           fmt.Sprintf("tool %q has no declared contract", toolName),
			UnauthorizedTags: sortedUnique(dataTags),
		}
	}

	if len(dataTags) == 0 {
		return ValidationResult{
			Allowed:  true,
			Reason:   "no classified data tags on request",
			Contract: contract,
		}
	}

	accepted := tagging.Set(contract.AcceptsTags)
	var unauthorized []string
	for _, raw := range dataTags {
		tag := tagging.Normalize(raw)
		if tag == "" {
			continue
		}
		if tagIntersectsAccepted(tag, accepted) {
			continue
		}
		unauthorized = append(unauthorized, tag)
	}

	if len(unauthorized) > 0 {
		unauthorized = sortedUnique(unauthorized)
		return ValidationResult{
			Allowed:          false,
			Reason:           fmt.Sprintf("tool %q does not accept data tags: %s", toolName, strings.Join(unauthorized, ",")),
			UnauthorizedTags: unauthorized,
			Contract:         contract,
		}
	}

	return ValidationResult{
		Allowed:  true,
		Reason:   "tool contract allows request tags",
		Contract: contract,
	}
}

func tagIntersectsAccepted(tag string, accepted map[string]struct{}) bool {
	for ancestor := range tagging.Expand([]string{tag}) {
		if _, ok := accepted[ancestor]; ok {
			return true
		}
	}
	return false
}

func sortedUnique(tags []string) []string {
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
