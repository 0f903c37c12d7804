// Package sanitize strips ban-listed audit metadata keys before an
// event leaves the process toward any advisory backend. The advisory
// backend itself (the "intelligence" layer that forwards sanitized
// metadata to an external LLM) is an external collaborator; this
// package only implements the boundary that protects it from ever
// seeing raw protected values.
package sanitize

import "github.com/safeai-run/safeai/pkg/audit"

// bannedMetadataKeys never cross the sanitize boundary, regardless of
// their value: they either carry a raw value directly or identify a
// credential.
var bannedMetadataKeys = map[string]bool{
	"secret_key":          true,
	"capability_token_id": true,
	"matched_value":       true,
	"raw_content":         true,
	"raw_input":           true,
	"raw_output":          true,
}

// safeMetadataKeys is the allow-list of metadata keys known not to
// carry protected content. Anything outside both lists is dropped —
// unrecognized keys fail closed rather than passing through.
var safeMetadataKeys = map[string]bool{
	"phase":          true,
	"action_type":    true,
	"message_length": true,
	"filtered_length": true,
	"purged_count":   true,
	"resolution":     true,
	"encrypted":      true,
	"secret_backend": true,
	"result":         true,
	"fallback_used":  true,
	"destination_agent_id": true,
	"approval_request_id":  true,
}

// Event is the subset of an audit.Event safe to forward to an advisory
// backend: every identifying field, and only the allow-listed metadata
// keys.
type Event struct {
	EventID            string         `json:"event_id"`
	Timestamp          string         `json:"timestamp"`
	Boundary           string         `json:"boundary"`
	Action             string         `json:"action"`
	PolicyName         string         `json:"policy_name"`
	Reason             string         `json:"reason"`
	DataTags           []string       `json:"data_tags"`
	AgentID            string         `json:"agent_id"`
	ToolName           string         `json:"tool_name"`
	SessionID          string         `json:"session_id"`
	SourceAgentID      string         `json:"source_agent_id"`
	DestinationAgentID string         `json:"destination_agent_id"`
	SafeMetadata       map[string]any `json:"safe_metadata"`
}

// SanitizeEvent strips banned metadata keys from e and keeps only the
// allow-listed ones, passing through every identifying field unchanged.
func SanitizeEvent(e audit.Event) Event {
	safeMeta := make(map[string]any)
	for k, v := range e.Metadata {
		if bannedMetadataKeys[k] {
			continue
		}
		if safeMetadataKeys[k] {
			safeMeta[k] = v
		}
	}

	dataTags := e.DataTags
	if dataTags == nil {
		dataTags = []string{}
	}

	return Event{
		EventID:            e.EventID,
		Timestamp:          e.Timestamp,
		Boundary:           e.Boundary,
		Action:             e.Action,
		PolicyName:         e.PolicyName,
		Reason:             e.Reason,
		DataTags:           dataTags,
		AgentID:            e.AgentID,
		ToolName:           e.ToolName,
		SessionID:          e.SessionID,
		SourceAgentID:      e.SourceAgentID,
		DestinationAgentID: e.DestinationAgentID,
		SafeMetadata:       safeMeta,
	}
}
