// Package audit implements the append-only JSONL audit log: a validated
// event schema, deterministic context hashing, and an in-process query
// surface over the file.
package audit

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sort"
	"time"
)

// Event is one immutable audit record. Boundary and Action are validated
// against the closed enums below; ContextHash is computed by the logger,
// never supplied by the caller.
type Event struct {
	EventID            string         `json:"event_id"`
	Timestamp          string         `json:"timestamp"`
	Boundary           string         `json:"boundary"`
	Action             string         `json:"action"`
	PolicyName         string         `json:"policy_name,omitempty"`
	Reason             string         `json:"reason"`
	DataTags           []string       `json:"data_tags"`
	AgentID            string         `json:"agent_id"`
	ToolName           string         `json:"tool_name,omitempty"`
	SessionID          string         `json:"session_id,omitempty"`
	SourceAgentID      string         `json:"source_agent_id,omitempty"`
	DestinationAgentID string         `json:"destination_agent_id,omitempty"`
	ContextHash        string         `json:"context_hash"`
	Metadata           map[string]any `json:"metadata,omitempty"`
}

// Boundaries and actions are closed enums; the system never invents a new
// value for either at runtime.
const (
	BoundaryInput  = "input"
	BoundaryAction = "action"
	BoundaryOutput = "output"
	BoundaryMemory = "memory"

	ActionAllow           = "allow"
	ActionRedact          = "redact"
	ActionBlock           = "block"
	ActionRequireApproval = "require_approval"
	ActionApprove         = "approve"
	ActionDeny            = "deny"
)

func validBoundary(b string) bool {
	switch b {
	case BoundaryInput, BoundaryAction, BoundaryOutput, BoundaryMemory:
		return true
	}
	return false
}

func validAction(a string) bool {
	switch a {
	case ActionAllow, ActionRedact, ActionBlock, ActionRequireApproval, ActionApprove, ActionDeny:
		return true
	}
	return false
}

// Validate checks the closed-enum and required-field invariants from the
// data model. It does not check event_id/context_hash prefixes — those are
// assigned by the logger itself and are always correct by construction.
func (e Event) Validate() error {
	if !validBoundary(e.Boundary) {
		return fmt.Errorf("audit: invalid boundary %q", e.Boundary)
	}
	if !validAction(e.Action) {
		return fmt.Errorf("audit: invalid action %q", e.Action)
	}
	if e.Reason == "" {
		return fmt.Errorf("audit: reason is required")
	}
	return nil
}

// ContextHash computes the deterministic "sha256:"-prefixed fingerprint of
// an event's identifying fields: everything except Timestamp and
// ContextHash itself. event_id is included, so two semantically identical
// events emitted at different times still hash differently.
func ContextHash(e Event) string {
	projection := map[string]any{
		"event_id":             e.EventID,
		"boundary":             e.Boundary,
		"action":               e.Action,
		"policy_name":          e.PolicyName,
		"reason":               e.Reason,
		"data_tags":            e.DataTags,
		"agent_id":             e.AgentID,
		"tool_name":            e.ToolName,
		"session_id":           e.SessionID,
		"source_agent_id":      e.SourceAgentID,
		"destination_agent_id": e.DestinationAgentID,
		"metadata":             e.Metadata,
	}
	canonical := canonicalJSON(projection)
	sum := sha256.Sum256(canonical)
	return "sha256:" + hex.EncodeToString(sum[:])
}

// canonicalJSON renders a value as compact, sort-keyed JSON: the same
// serialization discipline the Python reference uses for its hash input
// (sort_keys=True, separators=(",", ":")).
func canonicalJSON(value any) []byte {
	return marshalSorted(value)
}

func marshalSorted(value any) []byte {
	normalized := normalize(value)
	out, err := json.Marshal(normalized)
	if err != nil {
		// Every value reaching here came from json-marshalable audit
		// fields; a marshal failure indicates a programming error, not a
		// recoverable runtime condition.
		panic(fmt.Sprintf("audit: canonical JSON marshal failed: %v", err))
	}
	return out
}

// normalize converts maps into an order preserved via json.Marshal's
// natural key-sort for map[string]any, and recurses into slices/maps so
// nested structures are canonicalized too.
func normalize(value any) any {
	switch v := value.(type) {
	case map[string]any:
		out := make(map[string]any, len(v))
		keys := make([]string, 0, len(v))
		for k := range v {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			out[k] = normalize(v[k])
		}
		return out
	case []string:
		out := make([]string, len(v))
		copy(out, v)
		return out
	case []any:
		out := make([]any, len(v))
		for i, item := range v {
			out[i] = normalize(item)
		}
		return out
	default:
		return v
	}
}

// NowUTC returns the RFC3339 UTC timestamp used for Event.Timestamp.
func NowUTC(clock func() time.Time) string {
	return clock().UTC().Format(time.RFC3339Nano)
}
