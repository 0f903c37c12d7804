// Package guard implements the output boundary guard: classify, evaluate
// output policy, redact/block, and optionally render a fallback template
// in place of the raw redacted text.
package guard

import (
	"sort"
	"strconv"
	"strings"

	"github.com/safeai-run/safeai/pkg/audit"
	"github.com/safeai-run/safeai/pkg/classifier"
	"github.com/safeai-run/safeai/pkg/policy"
)

// Result is the outcome of guarding one piece of model output.
type Result struct {
	Original     string
	SafeOutput   string
	Detections   []classifier.Detection
	Decision     policy.Decision
	FallbackUsed bool
}

// Guard classifies output at the output boundary, evaluates policy, and
// applies the resulting action, optionally substituting a rule's
// fallback template in place of the mechanically redacted text.
type Guard struct {
	classifier *classifier.Classifier
	engine     *policy.Engine
	logger     *audit.Logger
}

// New wires a classifier, policy engine, and audit logger.
func New(c *classifier.Classifier, e *policy.Engine, l *audit.Logger) *Guard {
	return &Guard{classifier: c, engine: e, logger: l}
}

// Apply classifies data, evaluates the output-boundary policy, and
// returns the safe-to-emit text.
func (g *Guard) Apply(data, agentID string) Result {
	if agentID == "" {
		agentID = "unknown"
	}
	detections := g.classifier.Classify(data)
	tags := classifier.Tags(detections)

	decision := g.engine.Evaluate(policy.Context{Boundary: audit.BoundaryOutput, DataTags: tags, AgentID: agentID})
	redacted := applyOutputTextAction(data, detections, decision.Action)
	safeOutput, fallbackUsed := applyOutputFallback(data, redacted, detections, tags, agentID, decision)

	if g.logger != nil {
		_, _ = g.logger.Emit(audit.Event{
			Boundary:   audit.BoundaryOutput,
			Action:     string(decision.Action),
			PolicyName: decision.PolicyName,
			Reason:     decision.Reason,
			DataTags:   tags,
			AgentID:    agentID,
			Metadata:   map[string]any{"fallback_used": fallbackUsed},
		})
	}

	return Result{Original: data, SafeOutput: safeOutput, Detections: detections, Decision: decision, FallbackUsed: fallbackUsed}
}

// applyOutputTextAction matches the plain text scanner's semantics
// (require_approval passes text through unchanged; the approval-gating
// stage, not the guard, decides the final outcome).
func applyOutputTextAction(text string, detections []classifier.Detection, action policy.DecisionAction) string {
	switch action {
	case policy.ActionAllow:
		return text
	case policy.ActionBlock:
		return ""
	case policy.ActionRedact:
		if len(detections) == 0 {
			return text
		}
		// Overlapping detections are merged into one span first, so each
		// right-to-left splice still uses offsets valid in the original text.
		ordered := append([]classifier.Detection{}, detections...)
		sort.Slice(ordered, func(i, j int) bool { return ordered[i].Start < ordered[j].Start })
		spans := make([][2]int, 0, len(ordered))
		for _, d := range ordered {
			if n := len(spans); n > 0 && d.Start < spans[n-1][1] {
				if d.End > spans[n-1][1] {
					spans[n-1][1] = d.End
				}
				continue
			}
			spans = append(spans, [2]int{d.Start, d.End})
		}
		out := text
		for i := len(spans) - 1; i >= 0; i-- {
			out = out[:spans[i][0]] + "[REDACTED]" + out[spans[i][1]:]
		}
		return out
	default:
		return text
	}
}

// applyOutputFallback renders decision.FallbackTemplate in place of the
// mechanically redacted text, for block/redact decisions only. An empty
// template leaves redacted untouched; a malformed one is returned
// literally, unrendered.
func applyOutputFallback(original, redacted string, detections []classifier.Detection, tags []string, agentID string, decision policy.Decision) (string, bool) {
	if decision.Action != policy.ActionBlock && decision.Action != policy.ActionRedact {
		return redacted, false
	}
	template := strings.TrimSpace(decision.FallbackTemplate)
	if template == "" {
		return redacted, false
	}

	policyName := decision.PolicyName
	if policyName == "" {
		policyName = "default-deny"
	}
	fields := map[string]string{
		"original":    original,
		"redacted":    redacted,
		"reason":      decision.Reason,
		"policy_name": policyName,
		"action":      string(decision.Action),
		"agent_id":    agentID,
		"data_tags":   strings.Join(tags, ","),
		"detections":  strconv.Itoa(len(detections)),
	}

	rendered, ok := renderTemplate(template, fields)
	if !ok {
		return template, true
	}
	return rendered, true
}
