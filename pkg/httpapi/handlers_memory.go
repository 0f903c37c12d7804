package httpapi

import "net/http"

type memoryWriteRequest struct {
	Schema  string `json:"schema"`
	Key     string `json:"key"`
	Value   any    `json:"value"`
	AgentID string `json:"agent_id"`
}

func (s *Server) handleMemoryWrite(w http.ResponseWriter, r *http.Request) {
	var req memoryWriteRequest
	if err := decodeJSONBody(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	ctrl := s.engine.Memory(req.Schema)
	if ctrl == nil {
		writeError(w, http.StatusNotFound, "unknown memory schema: "+req.Schema)
		return
	}
	ok := ctrl.Write(req.Key, req.Value, req.AgentID)
	writeJSON(w, http.StatusOK, map[string]any{"written": ok})
}

type memoryReadRequest struct {
	Schema  string `json:"schema"`
	Key     string `json:"key"`
	AgentID string `json:"agent_id"`
}

func (s *Server) handleMemoryRead(w http.ResponseWriter, r *http.Request) {
	var req memoryReadRequest
	if err := decodeJSONBody(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	ctrl := s.engine.Memory(req.Schema)
	if ctrl == nil {
		writeError(w, http.StatusNotFound, "unknown memory schema: "+req.Schema)
		return
	}
	value := ctrl.Read(req.Key, req.AgentID)
	writeJSON(w, http.StatusOK, map[string]any{"value": value})
}

type memoryResolveHandleRequest struct {
	Schema   string `json:"schema"`
	HandleID string `json:"handle_id"`
	AgentID  string `json:"agent_id"`
}

func (s *Server) handleMemoryResolveHandle(w http.ResponseWriter, r *http.Request) {
	var req memoryResolveHandleRequest
	if err := decodeJSONBody(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	ctrl := s.engine.Memory(req.Schema)
	if ctrl == nil {
		writeError(w, http.StatusNotFound, "unknown memory schema: "+req.Schema)
		return
	}
	value, ok := ctrl.ResolveHandle(req.HandleID, req.AgentID)
	if !ok {
		writeJSON(w, http.StatusOK, map[string]any{"resolved": false})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"resolved": true, "value": value})
}

type memoryPurgeExpiredRequest struct {
	Schema string `json:"schema"`
}

func (s *Server) handleMemoryPurgeExpired(w http.ResponseWriter, r *http.Request) {
	var req memoryPurgeExpiredRequest
	if err := decodeJSONBody(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if req.Schema != "" {
		ctrl := s.engine.Memory(req.Schema)
		if ctrl == nil {
			writeError(w, http.StatusNotFound, "unknown memory schema: "+req.Schema)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"purged": ctrl.PurgeExpired()})
		return
	}

	total := 0
	for _, name := range s.engine.MemorySchemaNames() {
		total += s.engine.Memory(name).PurgeExpired()
	}
	writeJSON(w, http.StatusOK, map[string]any{"purged": total})
}
