package httpapi

import (
	"embed"
	"net/http"
	"sort"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/safeai-run/safeai/pkg/classifier"
	"github.com/safeai-run/safeai/pkg/config"
)

//go:embed policytemplates/*.yaml
var policyTemplatesFS embed.FS

const policyTemplateDir = "policytemplates"

type policiesReloadRequest struct {
	Force bool `json:"force"`
}

func (s *Server) handlePoliciesReload(w http.ResponseWriter, r *http.Request) {
	var req policiesReloadRequest
	if err := decodeJSONBody(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if s.cfg.ConfigPath == "" {
		writeError(w, http.StatusBadRequest, "no config path configured for this server")
		return
	}

	bundle, err := config.Load(s.cfg.ConfigPath, s.cfg.FilePatterns)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	s.engine.Reload(bundle)
	writeJSON(w, http.StatusOK, map[string]any{"reloaded": true})
}

// handlePlugins lists the in-process pluggable surfaces: built-in
// classifier detectors and registered alert notification channels. The
// community template marketplace and per-framework adapters are external
// collaborators and have no entry here.
func (s *Server) handlePlugins(w http.ResponseWriter, r *http.Request) {
	detectors := make([]map[string]string, 0, len(classifier.BuiltinPatterns()))
	for _, p := range classifier.BuiltinPatterns() {
		detectors = append(detectors, map[string]string{"name": p.Name, "tag": p.Tag})
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"detectors":      detectors,
		"alert_channels": s.engine.Alerts.ChannelNames(),
	})
}

func (s *Server) handlePolicyTemplates(w http.ResponseWriter, r *http.Request) {
	entries, err := policyTemplatesFS.ReadDir(policyTemplateDir)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		names = append(names, strings.TrimSuffix(e.Name(), ".yaml"))
	}
	sort.Strings(names)
	writeJSON(w, http.StatusOK, map[string]any{"templates": names})
}

func (s *Server) handlePolicyTemplate(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	data, err := policyTemplatesFS.ReadFile(policyTemplateDir + "/" + name + ".yaml")
	if err != nil {
		writeError(w, http.StatusNotFound, "unknown policy template: "+name)
		return
	}
	w.Header().Set("Content-Type", "application/yaml")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(data)
}
