package alert

import (
	"fmt"
	"testing"
	"time"

	"github.com/safeai-run/safeai/pkg/audit"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type movableClock struct{ now time.Time }

func (m *movableClock) get() time.Time { return m.now }

type recordingChannel struct {
	name     string
	sent     []Alert
	failNext bool
}

func (r *recordingChannel) Name() string { return r.name }

func (r *recordingChannel) Send(a Alert) error {
	if r.failNext {
		r.failNext = false
		return fmt.Errorf("boom")
	}
	r.sent = append(r.sent, a)
	return nil
}

func blockEvent(id string, tags ...string) audit.Event {
	return audit.Event{
		EventID:  id,
		Boundary: audit.BoundaryAction,
		Action:   audit.ActionBlock,
		DataTags: tags,
		AgentID:  "agent-a",
	}
}

func TestEvaluateFiresAtThreshold(t *testing.T) {
	clock := &movableClock{now: time.Unix(0, 0)}
	e := NewEvaluator(clock.get)
	require.NoError(t, e.AddRule(Rule{
		RuleID: "r1", Name: "too many blocks", Window: "1m", Threshold: 3,
		Channels: []string{"test"},
		Filters:  Filters{Boundaries: []string{"action"}},
	}))
	ch := &recordingChannel{name: "test"}
	e.RegisterChannel(ch)

	assert.Empty(t, e.Evaluate(blockEvent("e1")))
	assert.Empty(t, e.Evaluate(blockEvent("e2")))
	results := e.Evaluate(blockEvent("e3"))
	require.Len(t, results, 1)
	assert.Equal(t, 3, results[0].Alert.Count)
	assert.True(t, results[0].Results["test"])
	require.Len(t, ch.sent, 1)
}

func TestEvaluateRespectsCooldown(t *testing.T) {
	clock := &movableClock{now: time.Unix(0, 0)}
	e := NewEvaluator(clock.get)
	require.NoError(t, e.AddRule(Rule{
		RuleID: "r1", Name: "rule", Window: "1m", Threshold: 1, Cooldown: "1h",
		Channels: []string{"test"},
	}))
	e.RegisterChannel(&recordingChannel{name: "test"})

	require.Len(t, e.Evaluate(blockEvent("e1")), 1)
	// still within cooldown
	assert.Empty(t, e.Evaluate(blockEvent("e2")))

	clock.now = clock.now.Add(2 * time.Hour)
	assert.Len(t, e.Evaluate(blockEvent("e3")), 1)
}

func TestEvaluateDropsEventsOutsideWindow(t *testing.T) {
	clock := &movableClock{now: time.Unix(0, 0)}
	e := NewEvaluator(clock.get)
	require.NoError(t, e.AddRule(Rule{RuleID: "r1", Name: "rule", Window: "1m", Threshold: 2, Channels: []string{"test"}}))
	e.RegisterChannel(&recordingChannel{name: "test"})

	require.Empty(t, e.Evaluate(blockEvent("e1")))
	clock.now = clock.now.Add(2 * time.Minute)
	// e1 fell out of the window, so this single new event shouldn't fire
	assert.Empty(t, e.Evaluate(blockEvent("e2")))
}

func TestMatchesRuleTagFilterUsesPlainIntersection(t *testing.T) {
	f := Filters{Tags: []string{"financial"}}
	assert.True(t, matchesRule(blockEvent("e1", "financial.account"), f) == false)
	assert.True(t, matchesRule(blockEvent("e1", "financial"), f))
}

func TestMatchesRuleEmptyFiltersMatchAnything(t *testing.T) {
	assert.True(t, matchesRule(blockEvent("e1"), Filters{}))
}

func TestDispatchIsolatesChannelFailures(t *testing.T) {
	clock := &movableClock{now: time.Unix(0, 0)}
	e := NewEvaluator(clock.get)
	require.NoError(t, e.AddRule(Rule{RuleID: "r1", Name: "rule", Window: "1m", Threshold: 1, Channels: []string{"good", "bad", "missing"}}))
	e.RegisterChannel(&recordingChannel{name: "good"})
	e.RegisterChannel(&recordingChannel{name: "bad", failNext: true})

	results := e.Evaluate(blockEvent("e1"))
	require.Len(t, results, 1)
	assert.True(t, results[0].Results["good"])
	assert.False(t, results[0].Results["bad"])
	assert.False(t, results[0].Results["missing"])
}

func TestBuildAlertCapsSampleEventIDsAtTwenty(t *testing.T) {
	clock := &movableClock{now: time.Unix(0, 0)}
	e := NewEvaluator(clock.get)
	require.NoError(t, e.AddRule(Rule{RuleID: "r1", Name: "rule", Window: "1h", Threshold: 25, Channels: []string{"test"}}))
	e.RegisterChannel(&recordingChannel{name: "test"})

	var results []DispatchResult
	for i := 0; i < 25; i++ {
		results = e.Evaluate(blockEvent(fmt.Sprintf("e%d", i)))
	}
	require.Len(t, results, 1)
	assert.Len(t, results[0].Alert.SampleEventIDs, 20)
}
