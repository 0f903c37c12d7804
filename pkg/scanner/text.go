// Package scanner implements the input-boundary text and structured
// payload scanners: classify, evaluate policy, apply the resulting
// action, audit.
package scanner

import (
	"sort"

	"github.com/safeai-run/safeai/pkg/audit"
	"github.com/safeai-run/safeai/pkg/classifier"
	"github.com/safeai-run/safeai/pkg/policy"
)

// TextResult is the outcome of scanning a single string.
type TextResult struct {
	Original   string
	Filtered   string
	Detections []classifier.Detection
	Decision   policy.Decision
}

// TextScanner classifies free text at the input boundary, evaluates
// policy over the detected tags, and applies the resulting action.
type TextScanner struct {
	classifier *classifier.Classifier
	engine     *policy.Engine
	logger     *audit.Logger
}

// NewTextScanner wires a classifier, policy engine, and audit logger.
func NewTextScanner(c *classifier.Classifier, e *policy.Engine, l *audit.Logger) *TextScanner {
	return &TextScanner{classifier: c, engine: e, logger: l}
}

// Scan classifies data, evaluates the input-boundary policy, applies the
// resulting action to produce Filtered, and emits one audit event.
func (s *TextScanner) Scan(data, agentID string) TextResult {
	if agentID == "" {
		agentID = "unknown"
	}
	detections := s.classifier.Classify(data)
	tags := classifier.Tags(detections)

	decision := s.engine.Evaluate(policy.Context{Boundary: audit.BoundaryInput, DataTags: tags, AgentID: agentID})
	filtered := applyTextAction(data, detections, decision.Action)

	if s.logger != nil {
		_, _ = s.logger.Emit(audit.Event{
			Boundary:   audit.BoundaryInput,
			Action:     string(decision.Action),
			PolicyName: decision.PolicyName,
			Reason:     decision.Reason,
			DataTags:   tags,
			AgentID:    agentID,
		})
	}

	return TextResult{Original: data, Filtered: filtered, Detections: detections, Decision: decision}
}

// applyTextAction renders the filtered text for one action decision.
// Redaction merges overlapping detections into one span, then applies
// right-to-left by span start so earlier offsets stay valid as later
// spans are replaced.
func applyTextAction(text string, detections []classifier.Detection, action policy.DecisionAction) string {
	switch action {
	case policy.ActionAllow:
		return text
	case policy.ActionBlock:
		return ""
	case policy.ActionRedact:
		if len(detections) == 0 {
			return text
		}
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
