// Package approval implements the durable approval-request workflow: a
// JSONL-backed ledger of pending/approved/denied/expired requests with
// dedupe-by-key and lazy expiry on read.
package approval

import (
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/safeai-run/safeai/pkg/durationgrammar"
)

// Status is one of the four lifecycle states of an approval request.
type Status string

const (
	StatusPending  Status = "pending"
	StatusApproved Status = "approved"
	StatusDenied   Status = "denied"
	StatusExpired  Status = "expired"
)

// Request is one approval-gated action awaiting a human decision.
type Request struct {
	RequestID    string
	Status       Status
	Reason       string
	PolicyName   string
	AgentID      string
	ToolName     string
	SessionID    string
	ActionType   string
	DataTags     []string
	RequestedAt  time.Time
	ExpiresAt    time.Time
	DecidedAt    time.Time
	ApproverID   string
	DecisionNote string
	Metadata     map[string]any
	DedupeKey    string
}

func (r Request) isExpired(now time.Time) bool {
	return !r.ExpiresAt.After(now)
}

// ValidationResult is the outcome of checking a request ID against a
// tool/agent/session binding.
type ValidationResult struct {
	Allowed bool
	Reason  string
	Request *Request
}

// Store persists the request ledger. FileStore (store.go) is the
// production implementation; tests may substitute an in-memory one.
type Store interface {
	Load() (map[string]Request, error)
	Save(map[string]Request) error
	// ChangedSinceLoad reports whether the backing store was modified by
	// another process since the last Load/Save, gating a reload.
	ChangedSinceLoad() bool
}

// Manager is a stateful approval gate over a Store.
type Manager struct {
	mu         sync.Mutex
	clock      func() time.Time
	defaultTTL string
	store      Store
	requests   map[string]Request
}

// NewManager constructs a Manager. A nil clock defaults to time.Now; an
// empty defaultTTL defaults to "30m".
func NewManager(store Store, defaultTTL string, clock func() time.Time) (*Manager, error) {
	if clock == nil {
		clock = time.Now
	}
	if defaultTTL == "" {
		defaultTTL = "30m"
	}
	m := &Manager{clock: clock, defaultTTL: defaultTTL, store: store, requests: make(map[string]Request)}
	if store != nil {
		loaded, err := store.Load()
		if err != nil {
			return nil, fmt.Errorf("approval: initial load: %w", err)
		}
		m.requests = loaded
	}
	return m, nil
}

func (m *Manager) reloadIfChanged() {
	if m.store == nil || !m.store.ChangedSinceLoad() {
		return
	}
	loaded, err := m.store.Load()
	if err != nil {
		return
	}
	m.requests = loaded
}

func (m *Manager) persist() {
	if m.store == nil {
		return
	}
	_ = m.store.Save(m.requests)
}

// CreateParams are the inputs to CreateRequest.
type CreateParams struct {
	Reason     string
	PolicyName string
	AgentID    string
	ToolName   string
	SessionID  string
	ActionType string
	DataTags   []string
	Metadata   map[string]any
	TTL        string
	DedupeKey  string
}

// CreateRequest opens a new pending request, unless an unexpired pending
// request with the same dedupe key already exists, in which case that
// request is returned instead.
func (m *Manager) CreateRequest(p CreateParams) (Request, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.reloadIfChanged()

	now := m.clock()
	dedupe := strings.TrimSpace(p.DedupeKey)
	if dedupe != "" {
		if existing := m.findPendingByDedupe(dedupe, now); existing != nil {
			return *existing, nil
		}
	}

	agentID := strings.TrimSpace(p.AgentID)
	if agentID == "" {
		return Request{}, fmt.Errorf("approval: agent_id is required")
	}
	toolName := strings.TrimSpace(p.ToolName)
	if toolName == "" {
		return Request{}, fmt.Errorf("approval: tool_name is required")
	}

	ttl := p.TTL
	if ttl == "" {
		ttl = m.defaultTTL
	}
	dur, err := durationgrammar.Parse(ttl)
	if err != nil {
		return Request{}, fmt.Errorf("approval: %w", err)
	}

	actionType := strings.TrimSpace(p.ActionType)
	if actionType == "" {
		actionType = "tool_call"
	}

	req := Request{
		RequestID:   "apr_" + newEntropy(6),
		Status:      StatusPending,
		Reason:      strings.TrimSpace(p.Reason),
		PolicyName:  strings.TrimSpace(p.PolicyName),
		AgentID:     agentID,
		ToolName:    toolName,
		SessionID:   strings.TrimSpace(p.SessionID),
		ActionType:  actionType,
		DataTags:    sortedLowerUnique(p.DataTags),
		RequestedAt: now,
		ExpiresAt:   now.Add(dur),
		Metadata:    p.Metadata,
		DedupeKey:   dedupe,
	}
	m.requests[req.RequestID] = req
	m.persist()
	return req, nil
}

func (m *Manager) findPendingByDedupe(dedupe string, now time.Time) *Request {
	for _, r := range m.requests {
		if r.DedupeKey != dedupe || r.Status != StatusPending || r.isExpired(now) {
			continue
		}
		found := r
		return &found
	}
	return nil
}

// Get returns the request by ID, applying lazy pending->expired
// transition if its TTL has elapsed.
func (m *Manager) Get(requestID string) *Request {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.reloadIfChanged()
	return m.getLocked(requestID)
}

func (m *Manager) getLocked(requestID string) *Request {
	token := strings.TrimSpace(requestID)
	if token == "" {
		return nil
	}
	row, ok := m.requests[token]
	if !ok {
		return nil
	}
	if row.Status == StatusPending && row.isExpired(m.clock()) {
		row.Status = StatusExpired
		m.requests[row.RequestID] = row
		m.persist()
	}
	return &row
}

// ListParams filters ListRequests.
type ListParams struct {
	Status      Status
	AgentID     string
	ToolName    string
	NewestFirst bool
	Limit       int
}

// ListRequests returns matching requests, applying lazy expiry to every
// row visited, sorted by RequestedAt (oldest first unless NewestFirst is
// set).
func (m *Manager) ListRequests(p ListParams) []Request {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.reloadIfChanged()

	now := m.clock()
	changed := false
	var rows []Request
	for id, row := range m.requests {
		if row.Status == StatusPending && row.isExpired(now) {
			row.Status = StatusExpired
			m.requests[id] = row
			changed = true
		}
		if p.Status != "" && row.Status != p.Status {
			continue
		}
		if p.AgentID != "" && row.AgentID != p.AgentID {
			continue
		}
		if p.ToolName != "" && row.ToolName != p.ToolName {
			continue
		}
		rows = append(rows, row)
	}
	if changed {
		m.persist()
	}

	sort.Slice(rows, func(i, j int) bool {
		if p.NewestFirst {
			return rows[i].RequestedAt.After(rows[j].RequestedAt)
		}
		return rows[i].RequestedAt.Before(rows[j].RequestedAt)
	})
	if p.Limit > 0 && len(rows) > p.Limit {
		rows = rows[:p.Limit]
	}
	return rows
}

// Approve marks requestID approved. Returns false if the request does
// not exist, is not pending, or has expired.
func (m *Manager) Approve(requestID, approverID, note string) bool {
	return m.decide(requestID, StatusApproved, approverID, note)
}

// Deny marks requestID denied. Returns false if the request does not
// exist, is not pending, or has expired.
func (m *Manager) Deny(requestID, approverID, note string) bool {
	return m.decide(requestID, StatusDenied, approverID, note)
}

func (m *Manager) decide(requestID string, status Status, approverID, note string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.reloadIfChanged()

	token := strings.TrimSpace(requestID)
	row, ok := m.requests[token]
	if !ok {
		return false
	}
	if row.Status != StatusPending || row.isExpired(m.clock()) {
		return false
	}
	approver := strings.TrimSpace(approverID)
	if approver == "" {
		return false
	}
	row.Status = status
	row.ApproverID = approver
	row.DecisionNote = strings.TrimSpace(note)
	decidedAt := m.clock()
	row.DecidedAt = decidedAt
	m.requests[token] = row
	m.persist()
	return true
}

// Validate checks a request ID against the agent/tool/session it was
// issued for. Only a fully approved, still-matching request passes.
func (m *Manager) Validate(requestID, agentID, toolName, sessionID string) ValidationResult {
	row := m.Get(requestID)
	if row == nil {
		return ValidationResult{Allowed: false, Reason: fmt.Sprintf("approval request %q not found", requestID)}
	}
	switch row.Status {
	case StatusExpired:
		return ValidationResult{Allowed: false, Reason: fmt.Sprintf("approval request %q expired", requestID), Request: row}
	case StatusDenied:
		return ValidationResult{Allowed: false, Reason: fmt.Sprintf("approval request %q denied", requestID), Request: row}
	case StatusPending:
		return ValidationResult{Allowed: false, Reason: fmt.Sprintf("approval request %q pending", requestID), Request: row}
	}

	if row.AgentID != strings.TrimSpace(agentID) {
		return ValidationResult{Allowed: false, Reason: "approval request agent binding mismatch", Request: row}
	}
	if row.ToolName != strings.TrimSpace(toolName) {
		return ValidationResult{Allowed: false, Reason: "approval request tool binding mismatch", Request: row}
	}
	session := strings.TrimSpace(sessionID)
	if row.SessionID != "" && row.SessionID != session {
		return ValidationResult{Allowed: false, Reason: "approval request session binding mismatch", Request: row}
	}
	return ValidationResult{Allowed: true, Reason: "approval request approved", Request: row}
}

// PurgeExpired removes every pending request whose TTL has elapsed
// (requests already decided, or already marked expired, are left in
// place as history) and returns the count removed.
func (m *Manager) PurgeExpired() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.reloadIfChanged()

	now := m.clock()
	purged := 0
	for id, row := range m.requests {
		if row.Status == StatusPending && row.isExpired(now) {
			delete(m.requests, id)
			purged++
		}
	}
	if purged > 0 {
		m.persist()
	}
	return purged
}

func sortedLowerUnique(tags []string) []string {
	seen := make(map[string]struct{}, len(tags))
	var out []string
	for _, raw := range tags {
		t := strings.ToLower(strings.TrimSpace(raw))
		if t == "" {
			continue
		}
		if _, ok := seen[t]; ok {
			continue
		}
		seen[t] = struct{}{}
		out = append(out, t)
	}
	sort.Strings(out)
	return out
}

// newEntropy returns n*2 random hex digits drawn from a random UUID.
func newEntropy(n int) string {
	want := n * 2
	hex := strings.ReplaceAll(uuid.New().String(), "-", "")
	for len(hex) < want {
		hex += strings.ReplaceAll(uuid.New().String(), "-", "")
	}
	return hex[:want]
}
