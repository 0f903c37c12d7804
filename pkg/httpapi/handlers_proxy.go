package httpapi

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"time"

	"github.com/safeai-run/safeai/pkg/policy"
)

type proxyForwardRequest struct {
	Method      string `json:"method"`
	UpstreamURL string `json:"upstream_url"`
	JSONBody    any    `json:"json_body"`
	TextBody    string `json:"text_body"`
	AgentID     string `json:"agent_id"`
}

var proxyHTTPClient = &http.Client{Timeout: 30 * time.Second}

func rateLimitKey(agentID string) string {
	if agentID == "" {
		return "unknown"
	}
	return agentID
}

// handleProxyForward input-scans the outbound body, forwards the request
// to upstream_url (or to UpstreamBaseURL, as-is, when upstream_url is
// empty), and output-guards the response body
// before returning it.
func (s *Server) handleProxyForward(w http.ResponseWriter, r *http.Request) {
	var req proxyForwardRequest
	if err := decodeJSONBody(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if !s.forwardRate.Allow(rateLimitKey(req.AgentID)) {
		writeError(w, http.StatusTooManyRequests, "rate limited")
		return
	}
	if req.Method == "" {
		req.Method = http.MethodGet
	}

	upstream := req.UpstreamURL
	if upstream == "" {
		upstream = s.cfg.UpstreamBaseURL
	}
	if upstream == "" {
		writeError(w, http.StatusBadRequest, "no upstream_url given and no UpstreamBaseURL configured")
		return
	}

	var outboundText string
	var bodyReader io.Reader
	switch {
	case req.JSONBody != nil:
		encoded, err := json.Marshal(req.JSONBody)
		if err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		outboundText = string(encoded)
		bodyReader = bytes.NewReader(encoded)
	case req.TextBody != "":
		outboundText = req.TextBody
		bodyReader = bytes.NewReader([]byte(req.TextBody))
	}

	if outboundText != "" {
		scanResult := s.engine.InputScanner.Scan(outboundText, req.AgentID)
		observeDecision("input", string(scanResult.Decision.Action))
		if scanResult.Decision.Action == policy.ActionBlock {
			writeJSON(w, http.StatusOK, map[string]any{
				"decision":    scanResult.Decision,
				"body":        "",
				"status_code": 0,
			})
			return
		}
		bodyReader = bytes.NewReader([]byte(scanResult.Filtered))
	}

	outReq, err := http.NewRequestWithContext(r.Context(), req.Method, upstream, bodyReader)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if req.JSONBody != nil {
		outReq.Header.Set("Content-Type", "application/json")
	}

	resp, err := proxyHTTPClient.Do(outReq)
	if err != nil {
		writeError(w, http.StatusBadGateway, err.Error())
		return
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		writeError(w, http.StatusBadGateway, err.Error())
		return
	}

	guardResult := s.engine.OutputGuard.Apply(string(respBody), req.AgentID)
	observeDecision("output", string(guardResult.Decision.Action))

	writeJSON(w, http.StatusOK, map[string]any{
		"decision":    guardResult.Decision,
		"body":        guardResult.SafeOutput,
		"status_code": resp.StatusCode,
	})
}
