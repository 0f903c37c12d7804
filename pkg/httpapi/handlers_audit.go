package httpapi

import (
	"net/http"
	"time"

	"github.com/safeai-run/safeai/pkg/audit"
)

type auditQueryRequest struct {
	Boundary           string    `json:"boundary"`
	Action             string    `json:"action"`
	PolicyName         string    `json:"policy_name"`
	AgentID            string    `json:"agent_id"`
	ToolName           string    `json:"tool_name"`
	DataTag            string    `json:"data_tag"`
	SessionID          string    `json:"session_id"`
	EventID            string    `json:"event_id"`
	SourceAgentID      string    `json:"source_agent_id"`
	DestinationAgentID string    `json:"destination_agent_id"`
	MetadataKey        string    `json:"metadata_key"`
	MetadataValue      any       `json:"metadata_value"`
	Since              time.Time `json:"since"`
	Until              time.Time `json:"until"`
	Last               string    `json:"last"`
	Limit              int       `json:"limit"`
}

func (s *Server) handleAuditQuery(w http.ResponseWriter, r *http.Request) {
	var req auditQueryRequest
	if err := decodeJSONBody(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	filter := audit.Filter{
		Boundary:           req.Boundary,
		Action:             req.Action,
		PolicyName:         req.PolicyName,
		AgentID:            req.AgentID,
		ToolName:           req.ToolName,
		DataTag:            req.DataTag,
		SessionID:          req.SessionID,
		EventID:            req.EventID,
		SourceAgentID:      req.SourceAgentID,
		DestinationAgentID: req.DestinationAgentID,
		MetadataKey:        req.MetadataKey,
		MetadataValue:      req.MetadataValue,
		Since:              req.Since,
		Until:              req.Until,
		Limit:              req.Limit,
	}
	if req.Last != "" {
		last, err := audit.ParseDuration(req.Last)
		if err != nil {
			writeError(w, http.StatusBadRequest, "last: "+err.Error())
			return
		}
		filter.Last = last
	}

	events, err := audit.Query(s.engine.Audit.Path(), filter)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"count": len(events), "events": events})
}
