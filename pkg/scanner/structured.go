package scanner

import (
	"fmt"
	"regexp"
	"sort"
	"strconv"

	"github.com/safeai-run/safeai/pkg/audit"
	"github.com/safeai-run/safeai/pkg/classifier"
	"github.com/safeai-run/safeai/pkg/policy"
)

var identifierPattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// StructuredDetection locates a classifier match inside a nested payload
// by its JSONPath-like string address.
type StructuredDetection struct {
	Path     string
	Detector string
	Tag      string
	Start    int
	End      int
	Value    string
}

// StructuredResult is the outcome of scanning a nested payload.
type StructuredResult struct {
	Original   any
	Filtered   any
	Detections []StructuredDetection
	Decision   policy.Decision
}

// StructuredScanner walks nested map/slice/string payloads (as produced
// by decoding JSON into `any`), classifying every string leaf.
type StructuredScanner struct {
	classifier *classifier.Classifier
	engine     *policy.Engine
	logger     *audit.Logger
}

// NewStructuredScanner wires a classifier, policy engine, and audit logger.
func NewStructuredScanner(c *classifier.Classifier, e *policy.Engine, l *audit.Logger) *StructuredScanner {
	return &StructuredScanner{classifier: c, engine: e, logger: l}
}

// Scan walks payload, classifies every string leaf, evaluates the
// input-boundary policy over the union of detected tags, and applies the
// resulting action to every leaf independently.
func (s *StructuredScanner) Scan(payload any, agentID string) StructuredResult {
	if agentID == "" {
		agentID = "unknown"
	}

	detections, pathMap, nodesScanned := s.collectDetections(payload)
	tags := uniqueSortedTags(detections)

	decision := s.engine.Evaluate(policy.Context{Boundary: audit.BoundaryInput, DataTags: tags, AgentID: agentID})
	filtered := applyPayloadAction(payload, pathMap, decision.Action)

	if s.logger != nil {
		_, _ = s.logger.Emit(audit.Event{
			Boundary:   audit.BoundaryInput,
			Action:     string(decision.Action),
			PolicyName: decision.PolicyName,
			Reason:     decision.Reason,
			DataTags:   tags,
			AgentID:    agentID,
			Metadata: map[string]any{
				"phase":         "structured_scan",
				"nodes_scanned": nodesScanned,
				"detections":    len(detections),
			},
		})
	}

	return StructuredResult{Original: payload, Filtered: filtered, Detections: detections, Decision: decision}
}

func (s *StructuredScanner) collectDetections(payload any) ([]StructuredDetection, map[string][]classifier.Detection, int) {
	var rows []StructuredDetection
	pathMap := make(map[string][]classifier.Detection)
	nodesScanned := 0

	walkStrings(payload, "$", func(path, text string) {
		nodesScanned++
		matched := s.classifier.Classify(text)
		if len(matched) == 0 {
			return
		}
		pathMap[path] = matched
		for _, d := range matched {
			rows = append(rows, StructuredDetection{
				Path: path, Detector: d.Detector, Tag: d.Tag, Start: d.Start, End: d.End, Value: d.Value,
			})
		}
	})

	sort.Slice(rows, func(i, j int) bool {
		if rows[i].Path != rows[j].Path {
			return rows[i].Path < rows[j].Path
		}
		if rows[i].Start != rows[j].Start {
			return rows[i].Start < rows[j].Start
		}
		return rows[i].End < rows[j].End
	})
	return rows, pathMap, nodesScanned
}

// walkStrings recurses through map[string]any / []any / string leaves,
// invoking visit(path, text) for every string found. Non-string scalars
// (numbers, bools, nil) are not classifiable and are skipped, matching
// the Python reference walking only str/dict/list/tuple nodes.
func walkStrings(value any, path string, visit func(path, text string)) {
	switch v := value.(type) {
	case string:
		visit(path, v)
	case map[string]any:
		keys := make([]string, 0, len(v))
		for k := range v {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			walkStrings(v[k], childPath(path, k), visit)
		}
	case []any:
		for i, item := range v {
			walkStrings(item, fmt.Sprintf("%s[%d]", path, i), visit)
		}
	}
}

func childPath(base, key string) string {
	if isIdentifier(key) {
		return base + "." + key
	}
	return fmt.Sprintf("%s[%s]", base, strconv.Quote(key))
}

func isIdentifier(s string) bool {
	return identifierPattern.MatchString(s)
}

func uniqueSortedTags(detections []StructuredDetection) []string {
	seen := make(map[string]struct{})
	var out []string
	for _, d := range detections {
		if _, ok := seen[d.Tag]; ok {
			continue
		}
		seen[d.Tag] = struct{}{}
		out = append(out, d.Tag)
	}
	sort.Strings(out)
	return out
}

// applyPayloadAction implements the structured scanner's stricter
// equivalence: require_approval is treated like block when rewriting the
// returned payload (the whole payload is withheld pending approval), not
// like allow.
func applyPayloadAction(payload any, pathMap map[string][]classifier.Detection, action policy.DecisionAction) any {
	if action == policy.ActionBlock || action == policy.ActionRequireApproval {
		return nil
	}
	return applyByPath(payload, pathMap, action, "$")
}

func applyByPath(value any, pathMap map[string][]classifier.Detection, action policy.DecisionAction, path string) any {
	switch v := value.(type) {
	case string:
		return applyStructuredTextAction(v, pathMap[path], action)
	case map[string]any:
		out := make(map[string]any, len(v))
		for k, item := range v {
			out[k] = applyByPath(item, pathMap, action, childPath(path, k))
		}
		return out
	case []any:
		out := make([]any, len(v))
		for i, item := range v {
			out[i] = applyByPath(item, pathMap, action, fmt.Sprintf("%s[%d]", path, i))
		}
		return out
	default:
		return value
	}
}

// applyStructuredTextAction mirrors structured.py's `_apply_text_action`:
// unlike the plain text scanner, require_approval withholds the value
// (empty string) rather than passing it through.
func applyStructuredTextAction(text string, detections []classifier.Detection, action policy.DecisionAction) string {
	switch action {
	case policy.ActionAllow:
		return text
	case policy.ActionBlock, policy.ActionRequireApproval:
		return ""
	case policy.ActionRedact:
		if len(detections) == 0 {
			return text
		}
		ordered := append([]classifier.Detection{}, detections...)
		sort.Slice(ordered, func(i, j int) bool { return ordered[i].Start > ordered[j].Start })
		out := text
		for _, d := range ordered {
			out = out[:d.Start] + "[REDACTED]" + out[d.End:]
		}
		return out
	default:
		return text
	}
}
