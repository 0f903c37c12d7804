package hook

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/safeai-run/safeai/pkg/policy"
	"github.com/safeai-run/safeai/pkg/safeai"
)

func testEngine(t *testing.T) *safeai.Engine {
	t.Helper()
	engine, err := safeai.New(safeai.Options{AuditLogPath: t.TempDir() + "/audit.jsonl", Clock: time.Now})
	require.NoError(t, err)
	return engine
}

func TestRunPreToolUseAllowsCleanCommand(t *testing.T) {
	engine := testEngine(t)
	engine.Policy.Load([]policy.Rule{
		{Name: "default-allow", Boundary: []string{"input", "action", "output"}, Action: policy.ActionAllow, Reason: "default allow", Priority: 1000},
	})
	envelope := `{"event":"pre_tool_use","tool_name":"Bash","tool_input":{"command":"ls -la"},"agent_id":"a1","agent_profile":"claude-code"}`

	result := Run(engine, strings.NewReader(envelope))
	assert.Equal(t, ExitAllow, result.ExitCode)
}

func TestRunPreToolUseFlagsDangerousCommand(t *testing.T) {
	engine := testEngine(t)
	engine.Policy.Load([]policy.Rule{
		{Name: "block-dangerous", Boundary: []string{"action"}, Action: policy.ActionBlock, Reason: "dangerous command", Condition: policy.Condition{DataTags: []string{"dangerous.command"}}, Priority: 10},
		{Name: "default-allow", Boundary: []string{"input", "action", "output"}, Action: policy.ActionAllow, Reason: "default allow", Priority: 1000},
	})
	envelope := `{"event":"pre_tool_use","tool_name":"Bash","tool_input":{"command":"rm -rf /"},"agent_id":"a1","agent_profile":"claude-code"}`

	result := Run(engine, strings.NewReader(envelope))
	assert.Equal(t, ExitBlock, result.ExitCode)
	assert.Contains(t, result.Message, "BLOCKED")
}

func TestRunPostToolUseGuardsOutput(t *testing.T) {
	engine := testEngine(t)
	engine.Policy.Load([]policy.Rule{
		{Name: "block-secret-output", Boundary: []string{"output"}, Action: policy.ActionBlock, Reason: "secret in output", Condition: policy.Condition{DataTags: []string{"secret"}}, Priority: 10},
	})
	envelope := `{"event":"post_tool_use","tool_name":"Bash","tool_output":"token=sk-ABCDEF1234567890ABCDEF","agent_id":"a1"}`

	result := Run(engine, strings.NewReader(envelope))
	assert.Equal(t, ExitBlock, result.ExitCode)
}

func TestRunRejectsMissingEvent(t *testing.T) {
	engine := testEngine(t)
	result := Run(engine, strings.NewReader(`{"tool_name":"Bash"}`))
	assert.Equal(t, ExitError, result.ExitCode)
}

func TestExtractTextPicksCategorySpecificField(t *testing.T) {
	profile := ResolveProfile("claude-code")
	assert.Equal(t, "ls -la", extractText("Bash", map[string]any{"command": "ls -la"}, profile))
	assert.Equal(t, "hello", extractText("Write", map[string]any{"content": "hello"}, profile))
}
