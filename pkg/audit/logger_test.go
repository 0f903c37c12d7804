package audit

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testLogger(t *testing.T) (*Logger, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "audit.jsonl")
	l := NewLogger(path)
	return l, path
}

func TestEmitAssignsIDsAndAppendsJSONL(t *testing.T) {
	l, path := testLogger(t)

	e, err := l.Emit(Event{
		Boundary: BoundaryInput,
		Action:   ActionAllow,
		Reason:   "looks fine",
		AgentID:  "agent-a",
		DataTags: []string{"personal.pii"},
	})
	require.NoError(t, err)
	assert.Regexp(t, `^evt_[0-9a-f]{12}$`, e.EventID)
	assert.Regexp(t, `^sha256:[0-9a-f]{64}$`, e.ContextHash)

	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(raw), e.EventID)
	assert.Contains(t, string(raw), "\n")
}

func TestEmitRejectsInvalidBoundaryOrAction(t *testing.T) {
	l, _ := testLogger(t)
	_, err := l.Emit(Event{Boundary: "nowhere", Action: ActionAllow, Reason: "x", AgentID: "a"})
	require.Error(t, err)

	_, err = l.Emit(Event{Boundary: BoundaryInput, Action: "nonsense", Reason: "x", AgentID: "a"})
	require.Error(t, err)
}

func TestContextHashIsDeterministicAndTimestampIndependent(t *testing.T) {
	base := Event{
		EventID:  "evt_000000000001",
		Boundary: BoundaryAction,
		Action:   ActionBlock,
		Reason:   "blocked",
		AgentID:  "agent-a",
		DataTags: []string{"secret.credential"},
	}
	h1 := ContextHash(base)

	withTime := base
	withTime.Timestamp = time.Now().Format(time.RFC3339Nano)
	h2 := ContextHash(withTime)
	assert.Equal(t, h1, h2)

	different := base
	different.EventID = "evt_000000000002"
	h3 := ContextHash(different)
	assert.NotEqual(t, h1, h3)
}

func TestOnEmitCallbackFiresAfterWriteAndPanicIsIsolated(t *testing.T) {
	l, _ := testLogger(t)
	var seen []string
	l.OnEmit(func(e Event) { seen = append(seen, e.EventID) })
	l.OnEmit(func(Event) { panic("boom") })

	e, err := l.Emit(Event{Boundary: BoundaryInput, Action: ActionAllow, Reason: "x", AgentID: "a"})
	require.NoError(t, err)
	assert.Equal(t, []string{e.EventID}, seen)
}

func TestQueryFiltersByBoundaryActionAndTag(t *testing.T) {
	l, path := testLogger(t)
	_, err := l.Emit(Event{Boundary: BoundaryInput, Action: ActionBlock, Reason: "r", AgentID: "a", DataTags: []string{"secret.credential"}})
	require.NoError(t, err)
	_, err = l.Emit(Event{Boundary: BoundaryOutput, Action: ActionAllow, Reason: "r", AgentID: "a", DataTags: []string{"personal.pii"}})
	require.NoError(t, err)

	results, err := Query(path, Filter{Boundary: BoundaryInput})
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, ActionBlock, results[0].Action)

	results, err = Query(path, Filter{DataTag: "secret"})
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, []string{"secret.credential"}, results[0].DataTags)
}

func TestQueryDataTagMatchingIsOneDirectional(t *testing.T) {
	l, path := testLogger(t)
	_, err := l.Emit(Event{Boundary: BoundaryInput, Action: ActionBlock, Reason: "r", AgentID: "a", DataTags: []string{"secret"}})
	require.NoError(t, err)

	// The query tag matches an event carrying exactly that tag.
	results, err := Query(path, Filter{DataTag: "secret"})
	require.NoError(t, err)
	require.Len(t, results, 1)

	// A narrower query tag must not match an event tagged only with the
	// broader ancestor.
	results, err = Query(path, Filter{DataTag: "secret.credential"})
	require.NoError(t, err)
	assert.Empty(t, results)
}

func TestQueryOrdersNewestFirstAndRespectsLimit(t *testing.T) {
	l, path := testLogger(t)
	for i := 0; i < 3; i++ {
		_, err := l.Emit(Event{Boundary: BoundaryInput, Action: ActionAllow, Reason: "r", AgentID: "a"})
		require.NoError(t, err)
		time.Sleep(time.Millisecond)
	}

	results, err := Query(path, Filter{Limit: 2})
	require.NoError(t, err)
	require.Len(t, results, 2)
	assert.True(t, results[0].Timestamp >= results[1].Timestamp)
}

func TestQueryToleratesMalformedLinesAndMissingFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "audit.jsonl")

	results, err := Query(path, Filter{})
	require.NoError(t, err)
	assert.Empty(t, results)

	l := NewLogger(path)
	_, err = l.Emit(Event{Boundary: BoundaryInput, Action: ActionAllow, Reason: "r", AgentID: "a"})
	require.NoError(t, err)

	f, err := os.OpenFile(path, os.O_APPEND|os.O_WRONLY, 0o644)
	require.NoError(t, err)
	_, err = f.WriteString("not json\n")
	require.NoError(t, err)
	require.NoError(t, f.Close())

	results, err = Query(path, Filter{})
	require.NoError(t, err)
	assert.Len(t, results, 1)
}

func TestParseDurationGrammar(t *testing.T) {
	d, err := ParseDuration("30m")
	require.NoError(t, err)
	assert.Equal(t, 30*time.Minute, d)

	_, err = ParseDuration("30 minutes")
	require.Error(t, err)
}
