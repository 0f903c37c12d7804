package httpapi

import (
	"net/http"

	"github.com/safeai-run/safeai/pkg/agentmsg"
	"github.com/safeai-run/safeai/pkg/interceptor"
)

type interceptToolRequest struct {
	Phase              string         `json:"phase"`
	ToolName           string         `json:"tool_name"`
	Parameters         map[string]any `json:"parameters"`
	Response           map[string]any `json:"response"`
	DataTags           []string       `json:"data_tags"`
	AgentID            string         `json:"agent_id"`
	SessionID          string         `json:"session_id"`
	SourceAgentID      string         `json:"source_agent_id"`
	DestinationAgentID string         `json:"destination_agent_id"`
	CapabilityTokenID  string         `json:"capability_token_id"`
	CapabilityAction   string         `json:"capability_action"`
	ApprovalRequestID  string         `json:"approval_request_id"`
}

func (s *Server) handleInterceptTool(w http.ResponseWriter, r *http.Request) {
	var req interceptToolRequest
	if err := decodeJSONBody(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if s.cfg.Mode == ModeGateway && (req.SourceAgentID == "" || req.DestinationAgentID == "") {
		writeError(w, http.StatusBadRequest, "gateway mode requires source_agent_id and destination_agent_id")
		return
	}

	call := interceptor.ToolCall{
		ToolName:           req.ToolName,
		AgentID:            req.AgentID,
		Parameters:         req.Parameters,
		DataTags:           req.DataTags,
		SessionID:          req.SessionID,
		SourceAgentID:      req.SourceAgentID,
		DestinationAgentID: req.DestinationAgentID,
		CapabilityTokenID:  req.CapabilityTokenID,
		CapabilityAction:   req.CapabilityAction,
		ApprovalRequestID:  req.ApprovalRequestID,
	}

	switch req.Phase {
	case "response":
		result := s.engine.Interceptor.InterceptResponse(call, req.Response)
		observeDecision("action", string(result.Decision.Action))
		writeJSON(w, http.StatusOK, result)
	default:
		result := s.engine.Interceptor.InterceptRequest(call)
		observeDecision("action", string(result.Decision.Action))
		writeJSON(w, http.StatusOK, result)
	}
}

type interceptAgentMessageRequest struct {
	Message            string   `json:"message"`
	SourceAgentID      string   `json:"source_agent_id"`
	DestinationAgentID string   `json:"destination_agent_id"`
	DataTags           []string `json:"data_tags"`
	SessionID          string   `json:"session_id"`
	ApprovalRequestID  string   `json:"approval_request_id"`
}

func (s *Server) handleInterceptAgentMessage(w http.ResponseWriter, r *http.Request) {
	var req interceptAgentMessageRequest
	if err := decodeJSONBody(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	result := s.engine.AgentMessages.Route(agentmsg.Message{
		SourceAgentID:      req.SourceAgentID,
		DestinationAgentID: req.DestinationAgentID,
		SessionID:          req.SessionID,
		Body:               req.Message,
		DataTags:           req.DataTags,
		ApprovalRequestID:  req.ApprovalRequestID,
	})
	observeDecision("action", string(result.Decision.Action))

	filtered := req.Message
	if !result.Delivered {
		filtered = ""
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"decision":            result.Decision,
		"data_tags":           result.DetectedTags,
		"filtered_message":    filtered,
		"approval_request_id": result.ApprovalRequestID,
	})
}
