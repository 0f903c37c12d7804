// Package secretmgr resolves capability-gated secrets from pluggable
// backends, never returning a value without a valid capability token
// scoped to that exact secret key.
package secretmgr

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/safeai-run/safeai/pkg/capability"
)

// Backend resolves a single secret key to its value. Get must return
// ErrSecretNotFound (or wrap it) when key is absent.
type Backend interface {
	Get(key string) (string, error)
}

// ErrSecretNotFound is returned by a Backend when a key is absent.
var ErrSecretNotFound = errors.New("secret not found")

// AccessDeniedError reports a capability-validation failure; Reason is
// the capability manager's rejection reason.
type AccessDeniedError struct{ Reason string }

func (e *AccessDeniedError) Error() string { return e.Reason }

// NotFoundError wraps a backend miss with the key and backend name.
type NotFoundError struct {
	Key     string
	Backend string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("secret %q not found in backend %q", e.Key, e.Backend)
}

func (e *NotFoundError) Unwrap() error { return ErrSecretNotFound }

// BackendNotFoundError reports a resolve call against an unregistered
// backend name.
type BackendNotFoundError struct{ Name string }

func (e *BackendNotFoundError) Error() string {
	return fmt.Sprintf("secret backend %q is not registered", e.Name)
}

// ResolvedSecret is a secret payload released for one controlled tool
// invocation. String redacts Value so it never leaks into a log line or
// error message by accident.
type ResolvedSecret struct {
	Key       string
	Value     string
	Backend   string
	TokenID   string
	AgentID   string
	ToolName  string
	Action    string
	SessionID string
}

func (r ResolvedSecret) String() string {
	return fmt.Sprintf(
		"ResolvedSecret(key=%q, backend=%q, token_id=%q, agent_id=%q, tool_name=%q, action=%q, session_id=%q, value=***)",
		r.Key, r.Backend, r.TokenID, r.AgentID, r.ToolName, r.Action, r.SessionID,
	)
}

// Manager resolves secrets from registered backends, gated on capability
// validation. "env" is always preinstalled.
type Manager struct {
	capabilities *capability.Manager
	backends     map[string]Backend
}

// NewManager constructs a Manager with the env backend preinstalled.
func NewManager(capabilities *capability.Manager) *Manager {
	return &Manager{
		capabilities: capabilities,
		backends:     map[string]Backend{"env": EnvBackend{}},
	}
}

// RegisterBackend adds or replaces a named backend.
func (m *Manager) RegisterBackend(name string, backend Backend, replace bool) error {
	normalized, err := normalizeBackendName(name)
	if err != nil {
		return err
	}
	if _, exists := m.backends[normalized]; exists && !replace {
		return fmt.Errorf("secret backend %q is already registered", normalized)
	}
	m.backends[normalized] = backend
	return nil
}

// ListBackends returns every registered backend name, sorted.
func (m *Manager) ListBackends() []string {
	out := make([]string, 0, len(m.backends))
	for name := range m.backends {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// HasBackend reports whether name is registered.
func (m *Manager) HasBackend(name string) bool {
	normalized, err := normalizeBackendName(name)
	if err != nil {
		return false
	}
	_, ok := m.backends[normalized]
	return ok
}

// ResolveParams are the inputs to ResolveSecret/ResolveSecrets.
type ResolveParams struct {
	TokenID   string
	AgentID   string
	ToolName  string
	Action    string
	SessionID string
	Backend   string
}

// ResolveSecret validates the capability token, checks that its scope
// grants access to secretKey, and fetches it from the named backend.
func (m *Manager) ResolveSecret(secretKey string, p ResolveParams) (ResolvedSecret, error) {
	key, err := normalizeSecretKey(secretKey)
	if err != nil {
		return ResolvedSecret{}, err
	}

	backendName, err := normalizeBackendName(defaultString(p.Backend, "env"))
	if err != nil {
		return ResolvedSecret{}, err
	}
	backend, ok := m.backends[backendName]
	if !ok {
		return ResolvedSecret{}, &BackendNotFoundError{Name: backendName}
	}

	action := defaultString(p.Action, "invoke")
	validated := m.capabilities.Validate(capability.ValidateParams{
		TokenID:   p.TokenID,
		AgentID:   p.AgentID,
		ToolName:  p.ToolName,
		Action:    action,
		SessionID: p.SessionID,
	})
	if !validated.Allowed {
		return ResolvedSecret{}, &AccessDeniedError{Reason: validated.Reason}
	}
	token := validated.Token
	if token == nil {
		return ResolvedSecret{}, &AccessDeniedError{Reason: "capability token is unavailable for secret resolution"}
	}

	allowed := make(map[string]struct{}, len(token.Scope.SecretKeys))
	for _, k := range token.Scope.SecretKeys {
		allowed[k] = struct{}{}
	}
	if len(allowed) == 0 {
		return ResolvedSecret{}, &AccessDeniedError{Reason: "capability token does not grant secret-key access"}
	}
	if _, ok := allowed[key]; !ok {
		return ResolvedSecret{}, &AccessDeniedError{Reason: fmt.Sprintf("capability token does not allow secret key %q", key)}
	}

	value, err := backend.Get(key)
	if err != nil {
		return ResolvedSecret{}, &NotFoundError{Key: key, Backend: backendName}
	}

	return ResolvedSecret{
		Key:       key,
		Value:     value,
		Backend:   backendName,
		TokenID:   token.TokenID,
		AgentID:   token.AgentID,
		ToolName:  token.Scope.ToolName,
		Action:    strings.ToLower(strings.TrimSpace(action)),
		SessionID: token.SessionID,
	}, nil
}

// ResolveSecrets resolves every key in secretKeys, keyed by the resolved
// (normalized) key name. The first failure aborts the whole batch.
func (m *Manager) ResolveSecrets(secretKeys []string, p ResolveParams) (map[string]ResolvedSecret, error) {
	out := make(map[string]ResolvedSecret, len(secretKeys))
	for _, key := range secretKeys {
		resolved, err := m.ResolveSecret(key, p)
		if err != nil {
			return nil, err
		}
		out[resolved.Key] = resolved
	}
	return out, nil
}

func normalizeBackendName(value string) (string, error) {
	token := strings.ToLower(strings.TrimSpace(value))
	if token == "" {
		return "", fmt.Errorf("secretmgr: backend name must not be empty")
	}
	return token, nil
}

func normalizeSecretKey(value string) (string, error) {
	token := strings.TrimSpace(value)
	if token == "" {
		return "", fmt.Errorf("secretmgr: secret key must not be empty")
	}
	return token, nil
}

func defaultString(value, fallback string) string {
	if strings.TrimSpace(value) == "" {
		return fallback
	}
	return value
}
