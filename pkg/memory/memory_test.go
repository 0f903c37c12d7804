package memory

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/safeai-run/safeai/pkg/audit"
	"github.com/safeai-run/safeai/pkg/policy"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testLogger(t *testing.T) *audit.Logger {
	t.Helper()
	return audit.NewLogger(filepath.Join(t.TempDir(), "audit.jsonl"))
}

func fixedClock(t time.Time) func() time.Time {
	return func() time.Time { return t }
}

func sampleSchema() Schema {
	return Schema{
		Name:  "profile",
		Scope: "user",
		Fields: []Field{
			{Name: "nickname", Type: "string", Tag: "personal.preference", Retention: "1h"},
			{Name: "api_key", Type: "string", Tag: "secret.credential", Retention: "1h", Encrypted: true},
		},
		MaxEntries:       2,
		DefaultRetention: "24h",
	}
}

func TestWriteAndReadPlainField(t *testing.T) {
	c := NewController(sampleSchema(), nil, nil, fixedClock(time.Unix(0, 0)))
	require.True(t, c.Write("nickname", "fox", "agent-a"))
	assert.Equal(t, "fox", c.Read("nickname", "agent-a"))
}

func TestWriteRejectsUndeclaredKeyAndWrongType(t *testing.T) {
	c := NewController(sampleSchema(), nil, nil, fixedClock(time.Unix(0, 0)))
	assert.False(t, c.Write("unknown", "x", "agent-a"))
	assert.False(t, c.Write("nickname", 42, "agent-a"))
}

func TestWriteRejectsNewKeyAtCapacity(t *testing.T) {
	schema := sampleSchema()
	schema.MaxEntries = 1
	c := NewController(schema, nil, nil, fixedClock(time.Unix(0, 0)))
	require.True(t, c.Write("nickname", "fox", "agent-a"))
	assert.False(t, c.Write("api_key", "sk-x", "agent-a"))
	// overwriting the existing key still succeeds
	assert.True(t, c.Write("nickname", "wolf", "agent-a"))
}

func TestReadReturnsNilForExpiredEntryAndPurgesIt(t *testing.T) {
	now := time.Unix(0, 0)
	clock := &movableClock{now: now}
	c := NewController(sampleSchema(), nil, nil, clock.get)
	require.True(t, c.Write("nickname", "fox", "agent-a"))

	clock.now = now.Add(2 * time.Hour)
	assert.Nil(t, c.Read("nickname", "agent-a"))
	assert.Equal(t, 0, c.Purge("agent-a"))
}

func TestEncryptedFieldReadReturnsHandleNotPlaintext(t *testing.T) {
	engine := policy.NewEngine([]policy.Rule{
		{Name: "allow-secrets", Boundary: []string{"action"}, Action: policy.ActionAllow, Reason: "ok", Condition: policy.Condition{DataTags: []string{"secret"}}},
	})
	logger := testLogger(t)
	c := NewController(sampleSchema(), engine, logger, fixedClock(time.Unix(0, 0)))
	require.True(t, c.Write("api_key", "sk-live-abc", "agent-a"))

	handle := c.Read("api_key", "agent-a")
	handleID, ok := handle.(string)
	require.True(t, ok)
	assert.NotEqual(t, "sk-live-abc", handleID)

	value, resolved := c.ResolveHandle(handleID, "agent-a")
	require.True(t, resolved)
	assert.Equal(t, "sk-live-abc", value)
}

func TestResolveHandleDeniesWrongOwner(t *testing.T) {
	engine := policy.NewEngine([]policy.Rule{
		{Name: "allow-secrets", Boundary: []string{"action"}, Action: policy.ActionAllow, Reason: "ok", Condition: policy.Condition{DataTags: []string{"secret"}}},
	})
	c := NewController(sampleSchema(), engine, testLogger(t), fixedClock(time.Unix(0, 0)))
	require.True(t, c.Write("api_key", "sk-live-abc", "agent-a"))
	handleID := c.Read("api_key", "agent-a").(string)

	_, ok := c.ResolveHandle(handleID, "agent-b")
	assert.False(t, ok)
}

func TestResolveHandleDeniedByPolicy(t *testing.T) {
	engine := policy.NewEngine(nil) // default-deny
	c := NewController(sampleSchema(), engine, testLogger(t), fixedClock(time.Unix(0, 0)))
	require.True(t, c.Write("api_key", "sk-live-abc", "agent-a"))
	handleID := c.Read("api_key", "agent-a").(string)

	_, ok := c.ResolveHandle(handleID, "agent-a")
	assert.False(t, ok)
}

func TestPurgeExpiredRemovesEntriesAndHandlesAtomically(t *testing.T) {
	now := time.Unix(0, 0)
	clock := &movableClock{now: now}
	engine := policy.NewEngine([]policy.Rule{
		{Name: "allow-secrets", Boundary: []string{"action"}, Action: policy.ActionAllow, Reason: "ok", Condition: policy.Condition{DataTags: []string{"secret"}}},
	})
	c := NewController(sampleSchema(), engine, testLogger(t), clock.get)
	require.True(t, c.Write("api_key", "sk-live-abc", "agent-a"))
	handleID := c.Read("api_key", "agent-a").(string)

	clock.now = now.Add(2 * time.Hour)
	assert.Equal(t, 1, c.PurgeExpired())

	_, ok := c.ResolveHandle(handleID, "agent-a")
	assert.False(t, ok)
}

type movableClock struct {
	now time.Time
}

func (m *movableClock) get() time.Time {
	return m.now
}
