package httpapi

import (
	"encoding/json"
	"net/http"
	"os"
)

type scanInputRequest struct {
	Text    string `json:"text"`
	AgentID string `json:"agent_id"`
}

func (s *Server) handleScanInput(w http.ResponseWriter, r *http.Request) {
	var req scanInputRequest
	if err := decodeJSONBody(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	result := s.engine.InputScanner.Scan(req.Text, req.AgentID)
	observeDecision("input", string(result.Decision.Action))
	writeJSON(w, http.StatusOK, result)
}

type scanStructuredRequest struct {
	Payload any    `json:"payload"`
	AgentID string `json:"agent_id"`
}

func (s *Server) handleScanStructured(w http.ResponseWriter, r *http.Request) {
	var req scanStructuredRequest
	if err := decodeJSONBody(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	result := s.engine.StructuredScanner.Scan(req.Payload, req.AgentID)
	observeDecision("input", string(result.Decision.Action))
	writeJSON(w, http.StatusOK, result)
}

type scanFileRequest struct {
	Path    string `json:"path"`
	AgentID string `json:"agent_id"`
}

// handleScanFile reads the file at Path and routes it to the structured
// scanner if it parses as JSON, the text scanner otherwise — the "mode"
// the response reports.
func (s *Server) handleScanFile(w http.ResponseWriter, r *http.Request) {
	var req scanFileRequest
	if err := decodeJSONBody(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	data, err := os.ReadFile(req.Path)
	if err != nil {
		writeError(w, http.StatusNotFound, err.Error())
		return
	}

	var payload any
	if json.Unmarshal(data, &payload) == nil {
		result := s.engine.StructuredScanner.Scan(payload, req.AgentID)
		observeDecision("input", string(result.Decision.Action))
		writeJSON(w, http.StatusOK, map[string]any{"mode": "structured", "result": result})
		return
	}

	result := s.engine.InputScanner.Scan(string(data), req.AgentID)
	observeDecision("input", string(result.Decision.Action))
	writeJSON(w, http.StatusOK, map[string]any{"mode": "text", "result": result})
}

type guardOutputRequest struct {
	Text    string `json:"text"`
	AgentID string `json:"agent_id"`
}

func (s *Server) handleGuardOutput(w http.ResponseWriter, r *http.Request) {
	var req guardOutputRequest
	if err := decodeJSONBody(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	result := s.engine.OutputGuard.Apply(req.Text, req.AgentID)
	observeDecision("output", string(result.Decision.Action))
	writeJSON(w, http.StatusOK, result)
}
