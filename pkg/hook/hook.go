package hook

import (
	"encoding/json"
	"fmt"
	"io"

	"github.com/safeai-run/safeai/pkg/audit"
	"github.com/safeai-run/safeai/pkg/classifier"
	"github.com/safeai-run/safeai/pkg/policy"
	"github.com/safeai-run/safeai/pkg/safeai"
)

// Exit codes the Run caller should pass to os.Exit.
const (
	ExitAllow = 0
	ExitBlock = 1
	ExitError = 2
)

// Envelope is the one JSON object read from stdin.
type Envelope struct {
	Event        string          `json:"event"`
	ToolName     string          `json:"tool_name"`
	ToolInput    json.RawMessage `json:"tool_input"`
	ToolOutput   string          `json:"tool_output"`
	AgentID      string          `json:"agent_id"`
	SessionID    string          `json:"session_id"`
	AgentProfile string          `json:"agent_profile"`
}

// Result is what Run decided, for the caller to render and turn into
// an exit code.
type Result struct {
	ExitCode int
	Message  string
}

// Run reads one envelope from r and enforces the matching boundary
// against engine, returning the exit code and any message to print.
func Run(engine *safeai.Engine, r io.Reader) Result {
	raw, err := io.ReadAll(r)
	if err != nil {
		return Result{ExitError, fmt.Sprintf("ERROR: reading stdin: %v", err)}
	}

	var env Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return Result{ExitError, fmt.Sprintf("ERROR: invalid JSON on stdin: %v", err)}
	}
	if env.Event == "" {
		return Result{ExitError, "ERROR: no event specified in stdin JSON"}
	}
	if env.AgentID == "" {
		env.AgentID = "agent"
	}

	profile := ResolveProfile(env.AgentProfile)

	switch env.Event {
	case "pre_tool_use":
		return runPreToolUse(engine, env, profile)
	case "post_tool_use":
		return runPostToolUse(engine, env)
	default:
		return Result{ExitError, fmt.Sprintf("ERROR: unknown event %q", env.Event)}
	}
}

func decodeToolInput(raw json.RawMessage) map[string]any {
	if len(raw) == 0 {
		return nil
	}
	var asString string
	if err := json.Unmarshal(raw, &asString); err == nil {
		return map[string]any{"command": asString, "content": asString, "text": asString}
	}
	var asMap map[string]any
	if err := json.Unmarshal(raw, &asMap); err == nil {
		return asMap
	}
	return nil
}

func runPreToolUse(engine *safeai.Engine, env Envelope, profile Profile) Result {
	text := extractText(env.ToolName, decodeToolInput(env.ToolInput), profile)

	scan := engine.InputScanner.Scan(text, env.AgentID)
	if scan.Decision.Action == policy.ActionBlock {
		return Result{ExitBlock, "BLOCKED: " + scan.Decision.Reason}
	}

	dataTags := append([]string(nil), classifier.Tags(scan.Detections)...)

	category := ToolCategory(env.ToolName, profile)
	if isShellCategory(category, env.ToolName) {
		if reason := classifyDangerousCommand(text); reason != "" {
			dataTags = append(dataTags, "dangerous.command")
		}
	}

	if len(dataTags) > 0 {
		decision := engine.Policy.Evaluate(policy.Context{
			Boundary: audit.BoundaryAction,
			DataTags: dataTags,
			AgentID:  env.AgentID,
			ToolName: category,
		})
		if decision.Action == policy.ActionBlock {
			return Result{ExitBlock, "BLOCKED: " + decision.Reason}
		}
	}

	return Result{ExitAllow, ""}
}

func runPostToolUse(engine *safeai.Engine, env Envelope) Result {
	if env.ToolOutput == "" {
		return Result{ExitAllow, ""}
	}
	result := engine.OutputGuard.Apply(env.ToolOutput, env.AgentID)
	if result.Decision.Action == policy.ActionBlock {
		return Result{ExitBlock, "BLOCKED: " + result.Decision.Reason}
	}
	return Result{ExitAllow, ""}
}
