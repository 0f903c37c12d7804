package approval

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// memStore is an in-memory Store for tests that don't exercise the file
// persistence path.
type memStore struct {
	rows    map[string]Request
	changed bool
}

func newMemStore() *memStore { return &memStore{rows: make(map[string]Request)} }

func (s *memStore) Load() (map[string]Request, error) {
	s.changed = false
	out := make(map[string]Request, len(s.rows))
	for k, v := range s.rows {
		out[k] = v
	}
	return out, nil
}

func (s *memStore) Save(rows map[string]Request) error {
	s.rows = rows
	return nil
}

func (s *memStore) ChangedSinceLoad() bool { return s.changed }

func fixedClock(t time.Time) func() time.Time {
	return func() time.Time { return t }
}

func TestCreateRequestDedupesPending(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	m, err := NewManager(newMemStore(), "30m", fixedClock(now))
	require.NoError(t, err)

	first, err := m.CreateRequest(CreateParams{AgentID: "a", ToolName: "t", Reason: "r", DedupeKey: "k1"})
	require.NoError(t, err)
	second, err := m.CreateRequest(CreateParams{AgentID: "a", ToolName: "t", Reason: "r2", DedupeKey: "k1"})
	require.NoError(t, err)
	assert.Equal(t, first.RequestID, second.RequestID)
}

func TestApproveThenValidateSucceeds(t *testing.T) {
	m, err := NewManager(newMemStore(), "30m", nil)
	require.NoError(t, err)

	req, err := m.CreateRequest(CreateParams{AgentID: "a", ToolName: "t", Reason: "r", SessionID: "s1"})
	require.NoError(t, err)

	assert.True(t, m.Approve(req.RequestID, "human-1", "looks fine"))
	result := m.Validate(req.RequestID, "a", "t", "s1")
	assert.True(t, result.Allowed)
}

func TestValidateRejectsPendingDeniedAndMismatch(t *testing.T) {
	m, err := NewManager(newMemStore(), "30m", nil)
	require.NoError(t, err)

	pending, err := m.CreateRequest(CreateParams{AgentID: "a", ToolName: "t", Reason: "r"})
	require.NoError(t, err)
	assert.False(t, m.Validate(pending.RequestID, "a", "t", "").Allowed)

	denied, err := m.CreateRequest(CreateParams{AgentID: "a", ToolName: "t", Reason: "r"})
	require.NoError(t, err)
	require.True(t, m.Deny(denied.RequestID, "human-1", ""))
	assert.False(t, m.Validate(denied.RequestID, "a", "t", "").Allowed)

	approved, err := m.CreateRequest(CreateParams{AgentID: "a", ToolName: "t", Reason: "r"})
	require.NoError(t, err)
	require.True(t, m.Approve(approved.RequestID, "human-1", ""))
	assert.False(t, m.Validate(approved.RequestID, "b", "t", "").Allowed)
}

func TestGetLazilyExpiresPendingRequests(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	current := now
	m, err := NewManager(newMemStore(), "1m", func() time.Time { return current })
	require.NoError(t, err)

	req, err := m.CreateRequest(CreateParams{AgentID: "a", ToolName: "t", Reason: "r"})
	require.NoError(t, err)

	current = now.Add(2 * time.Minute)
	row := m.Get(req.RequestID)
	require.NotNil(t, row)
	assert.Equal(t, StatusExpired, row.Status)
}

func TestApproveFailsOnExpiredRequest(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	current := now
	m, err := NewManager(newMemStore(), "1m", func() time.Time { return current })
	require.NoError(t, err)

	req, err := m.CreateRequest(CreateParams{AgentID: "a", ToolName: "t", Reason: "r"})
	require.NoError(t, err)

	current = now.Add(2 * time.Minute)
	assert.False(t, m.Approve(req.RequestID, "human-1", ""))
}

func TestPurgeExpiredRemovesOnlyStalePending(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	current := now
	m, err := NewManager(newMemStore(), "1m", func() time.Time { return current })
	require.NoError(t, err)

	_, err = m.CreateRequest(CreateParams{AgentID: "a", ToolName: "t", Reason: "r"})
	require.NoError(t, err)

	current = now.Add(2 * time.Minute)
	assert.Equal(t, 1, m.PurgeExpired())
	assert.Empty(t, m.ListRequests(ListParams{}))
}

func TestFileStoreRoundTripsThroughDisk(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "approvals.jsonl")

	store, err := NewFileStore(path)
	require.NoError(t, err)
	m, err := NewManager(store, "30m", nil)
	require.NoError(t, err)

	req, err := m.CreateRequest(CreateParams{AgentID: "a", ToolName: "t", Reason: "r"})
	require.NoError(t, err)

	store2, err := NewFileStore(path)
	require.NoError(t, err)
	m2, err := NewManager(store2, "30m", nil)
	require.NoError(t, err)

	reloaded := m2.Get(req.RequestID)
	require.NotNil(t, reloaded)
	assert.Equal(t, req.AgentID, reloaded.AgentID)
}
