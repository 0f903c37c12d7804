package policy

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEvaluateFirstMatchAndDefaultDeny(t *testing.T) {
	engine := NewEngine([]Rule{
		{
			Name:      "block-secret",
			Boundary:  []string{"input"},
			Action:    ActionBlock,
			Reason:    "secret detected",
			Condition: Condition{DataTags: []string{"secret"}},
			Priority:  10,
		},
		{
			Name:     "default-allow-input",
			Boundary: []string{"input"},
			Action:   ActionAllow,
			Reason:   "default allow",
			Priority: 1000,
		},
	})

	decision := engine.Evaluate(Context{Boundary: "input", DataTags: []string{"secret.credential"}})
	assert.Equal(t, ActionBlock, decision.Action)
	assert.Equal(t, "block-secret", decision.PolicyName)

	decision = engine.Evaluate(Context{Boundary: "input", DataTags: []string{"internal"}})
	assert.Equal(t, ActionAllow, decision.Action)

	decision = engine.Evaluate(Context{Boundary: "output", DataTags: []string{"secret.credential"}})
	assert.Equal(t, DefaultDenyDecision(), decision)
}

func TestEvaluateToolAndAgentConditions(t *testing.T) {
	engine := NewEngine([]Rule{
		{
			Name:      "restricted-tool",
			Boundary:  []string{"action"},
			Action:    ActionRequireApproval,
			Reason:    "sensitive tool",
			Condition: Condition{Tools: []string{"send_email"}, Agents: []string{"agent-a"}},
			Priority:  5,
		},
	})

	decision := engine.Evaluate(Context{Boundary: "action", ToolName: "send_email", AgentID: "agent-a"})
	assert.Equal(t, ActionRequireApproval, decision.Action)

	decision = engine.Evaluate(Context{Boundary: "action", ToolName: "send_email", AgentID: "agent-b"})
	assert.Equal(t, DefaultDenyDecision(), decision)
}

func TestTieBreaksByInsertionOrder(t *testing.T) {
	engine := NewEngine([]Rule{
		{Name: "first", Boundary: []string{"input"}, Action: ActionAllow, Reason: "r", Priority: 10},
		{Name: "second", Boundary: []string{"input"}, Action: ActionBlock, Reason: "r", Priority: 10},
	})
	decision := engine.Evaluate(Context{Boundary: "input"})
	assert.Equal(t, "first", decision.PolicyName)
}

func TestReloadOnMtimeChange(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "rules.yaml")
	require.NoError(t, os.WriteFile(path, []byte("v1"), 0o644))

	engine := NewEngine(nil)
	calls := 0
	engine.RegisterReload([]string{path}, func() ([]Rule, error) {
		calls++
		return []Rule{{Name: "r", Boundary: []string{"input"}, Action: ActionAllow, Reason: "r"}}, nil
	})

	changed, err := engine.ReloadIfChanged()
	require.NoError(t, err)
	assert.False(t, changed)
	assert.Equal(t, 0, calls)

	time.Sleep(10 * time.Millisecond)
	require.NoError(t, os.WriteFile(path, []byte("v2"), 0o644))

	changed, err = engine.ReloadIfChanged()
	require.NoError(t, err)
	assert.True(t, changed)
	assert.Equal(t, 1, calls)
	assert.Len(t, engine.Rules(), 1)
}

func TestReloadFailureKeepsPriorRules(t *testing.T) {
	engine := NewEngine([]Rule{{Name: "keep", Boundary: []string{"input"}, Action: ActionAllow, Reason: "r"}})
	engine.RegisterReload([]string{"/nonexistent/file"}, func() ([]Rule, error) {
		return nil, assertErr
	})
	err := engine.Reload()
	require.Error(t, err)
	require.Len(t, engine.Rules(), 1)
	assert.Equal(t, "keep", engine.Rules()[0].Name)
}

var assertErr = &loaderError{"boom"}

type loaderError struct{ msg string }

func (e *loaderError) Error() string { return e.msg }
