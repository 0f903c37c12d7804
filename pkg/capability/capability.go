// Package capability implements scoped, TTL-bound capability tokens: the
// credential an agent presents to exercise a specific tool action, as
// distinct from the gateway's bearer-auth JWTs in pkg/httpapi.
package capability

import (
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/safeai-run/safeai/pkg/durationgrammar"
)

// Scope is the set of actions and secret keys a token authorizes for one
// tool.
type Scope struct {
	ToolName   string
	Actions    []string
	SecretKeys []string
}

// Token is one issued capability. RevokedAt is the zero time while the
// token is live.
type Token struct {
	TokenID   string
	AgentID   string
	IssuedAt  time.Time
	ExpiresAt time.Time
	SessionID string
	Scope     Scope
	Metadata  map[string]any
	RevokedAt time.Time
}

func (t Token) expired(now time.Time) bool {
	return !t.ExpiresAt.After(now)
}

func (t Token) revoked() bool {
	return !t.RevokedAt.IsZero()
}

// ValidationResult is the outcome of a Validate call.
type ValidationResult struct {
	Allowed bool
	Reason  string
	Token   *Token
}

// Manager issues and validates capability tokens in memory.
type Manager struct {
	mu     sync.RWMutex
	clock  func() time.Time
	tokens map[string]Token
}

// NewManager constructs a Manager. A nil clock defaults to time.Now.
func NewManager(clock func() time.Time) *Manager {
	if clock == nil {
		clock = time.Now
	}
	return &Manager{clock: clock, tokens: make(map[string]Token)}
}

// IssueParams are the inputs to Issue. TTL uses the shared duration
// grammar ("10m", "2h", ...); an empty TTL defaults to 10 minutes.
type IssueParams struct {
	AgentID    string
	ToolName   string
	Actions    []string
	TTL        string
	SecretKeys []string
	SessionID  string
	Metadata   map[string]any
}

// Issue mints a new token. Actions are lower-cased, trimmed, and
// deduped; SecretKeys are trimmed and deduped with their case kept.
// Issue fails if no action remains afterward.
func (m *Manager) Issue(p IssueParams) (Token, error) {
	ttl := p.TTL
	if ttl == "" {
		ttl = "10m"
	}
	dur, err := durationgrammar.Parse(ttl)
	if err != nil {
		return Token{}, fmt.Errorf("capability: %w", err)
	}

	actions := normalizeUnique(p.Actions, true)
	if len(actions) == 0 {
		return Token{}, fmt.Errorf("capability: at least one action is required")
	}

	issuedAt := m.clock()
	token := Token{
		TokenID:   "cap_" + newTokenEntropy(),
		AgentID:   p.AgentID,
		IssuedAt:  issuedAt,
		ExpiresAt: issuedAt.Add(dur),
		SessionID: p.SessionID,
		Scope: Scope{
			ToolName:   p.ToolName,
			Actions:    actions,
			SecretKeys: normalizeUnique(p.SecretKeys, false),
		},
		Metadata: p.Metadata,
	}

	m.mu.Lock()
	m.tokens[token.TokenID] = token
	m.mu.Unlock()
	return token, nil
}

// Get returns the live (non-revoked, non-expired) token for tokenID, or
// nil.
func (m *Manager) Get(tokenID string) *Token {
	m.mu.RLock()
	token, ok := m.tokens[strings.TrimSpace(tokenID)]
	now := m.clock()
	m.mu.RUnlock()

	if !ok || token.revoked() || token.expired(now) {
		return nil
	}
	return &token
}

// ValidateParams are the inputs to Validate.
type ValidateParams struct {
	TokenID   string
	AgentID   string
	ToolName  string
	Action    string
	SessionID string
}

// Validate checks a presented token ID against the binding it was issued
// with. Action defaults to "invoke" when empty.
func (m *Manager) Validate(p ValidateParams) ValidationResult {
	m.mu.RLock()
	token, ok := m.tokens[strings.TrimSpace(p.TokenID)]
	now := m.clock()
	m.mu.RUnlock()

	if !ok {
		return ValidationResult{Allowed: false, Reason: fmt.Sprintf("capability token %q not found", p.TokenID)}
	}
	if token.revoked() {
		return ValidationResult{Allowed: false, Reason: fmt.Sprintf("capability token %q is revoked", p.TokenID), Token: &token}
	}
	if token.expired(now) {
		return ValidationResult{Allowed: false, Reason: fmt.Sprintf("capability token %q is expired", p.TokenID), Token: &token}
	}
	if token.AgentID != strings.TrimSpace(p.AgentID) {
		return ValidationResult{Allowed: false, Reason: "capability token agent binding mismatch", Token: &token}
	}
	if token.Scope.ToolName != strings.TrimSpace(p.ToolName) {
		return ValidationResult{Allowed: false, Reason: "capability token tool binding mismatch", Token: &token}
	}

	action := p.Action
	if action == "" {
		action = "invoke"
	}
	action = strings.ToLower(strings.TrimSpace(action))
	if !containsString(token.Scope.Actions, action) {
		return ValidationResult{Allowed: false, Reason: fmt.Sprintf("capability token does not allow action %q", action), Token: &token}
	}

	requestedSession := strings.TrimSpace(p.SessionID)
	if token.SessionID != "" && token.SessionID != requestedSession {
		return ValidationResult{Allowed: false, Reason: "capability token session binding mismatch", Token: &token}
	}

	return ValidationResult{Allowed: true, Reason: "capability token valid", Token: &token}
}

// Revoke marks tokenID revoked. Returns false if the token does not
// exist or is already revoked.
func (m *Manager) Revoke(tokenID string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	token, ok := m.tokens[strings.TrimSpace(tokenID)]
	if !ok || token.revoked() {
		return false
	}
	token.RevokedAt = m.clock()
	m.tokens[token.TokenID] = token
	return true
}

// PurgeExpired removes every revoked or expired token and returns the
// count removed.
func (m *Manager) PurgeExpired() int {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.clock()
	purged := 0
	for id, token := range m.tokens {
		if token.revoked() || token.expired(now) {
			delete(m.tokens, id)
			purged++
		}
	}
	return purged
}

// ListActiveParams filters ListActive; empty fields mean "don't filter".
type ListActiveParams struct {
	AgentID  string
	ToolName string
}

// ListActive returns live tokens newest-issued first.
func (m *Manager) ListActive(p ListActiveParams) []Token {
	m.mu.RLock()
	defer m.mu.RUnlock()

	now := m.clock()
	var rows []Token
	for _, token := range m.tokens {
		if token.revoked() || token.expired(now) {
			continue
		}
		if p.AgentID != "" && token.AgentID != p.AgentID {
			continue
		}
		if p.ToolName != "" && token.Scope.ToolName != p.ToolName {
			continue
		}
		rows = append(rows, token)
	}
	sort.Slice(rows, func(i, j int) bool { return rows[i].IssuedAt.After(rows[j].IssuedAt) })
	return rows
}

// normalizeUnique trims, dedupes, and sorts, dropping empty entries;
// with lower set it also lower-cases, matching pkg/approval's
// sortedLowerUnique.
func normalizeUnique(values []string, lower bool) []string {
	seen := make(map[string]struct{}, len(values))
	var out []string
	for _, raw := range values {
		v := strings.TrimSpace(raw)
		if lower {
			v = strings.ToLower(v)
		}
		if v == "" {
			continue
		}
		if _, ok := seen[v]; ok {
			continue
		}
		seen[v] = struct{}{}
		out = append(out, v)
	}
	sort.Strings(out)
	return out
}

func containsString(haystack []string, needle string) bool {
	for _, item := range haystack {
		if item == needle {
			return true
		}
	}
	return false
}

// newTokenEntropy returns 24 random hex digits drawn from random UUIDs.
func newTokenEntropy() string {
	const want = 24
	hex := strings.ReplaceAll(uuid.New().String(), "-", "")
	for len(hex) < want {
		hex += strings.ReplaceAll(uuid.New().String(), "-", "")
	}
	return hex[:want]
}
