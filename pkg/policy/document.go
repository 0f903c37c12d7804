package policy

import (
	"fmt"
	"sort"
	"strings"
)

// RuleDocument is the on-disk (YAML) shape of a single policy rule, before
// normalization into a Rule.
type RuleDocument struct {
	Name             string         `yaml:"name"`
	Boundary         yamlStringList `yaml:"boundary"`
	Action           string         `yaml:"action"`
	Reason           string         `yaml:"reason"`
	Condition        map[string]any `yaml:"condition"`
	Priority         int            `yaml:"priority"`
	FallbackTemplate string         `yaml:"fallback_template"`
}

// Document is the top-level YAML document: either a single `policy` rule
// or a list under `policies`.
type Document struct {
	Version  string         `yaml:"version"`
	Policy   *RuleDocument  `yaml:"policy"`
	Policies []RuleDocument `yaml:"policies"`
}

// NormalizeDocuments validates and flattens a set of parsed YAML documents
// into a sorted Rule list. A malformed document is a fatal configuration
// error returned to the caller — no partial rule set is ever installed.
func NormalizeDocuments(docs []Document) ([]Rule, error) {
	var raw []RuleDocument
	for _, doc := range docs {
		if doc.Policy != nil {
			raw = append(raw, *doc.Policy)
		}
		raw = append(raw, doc.Policies...)
	}
	return NormalizeRules(raw)
}

// NormalizeRules converts raw rule documents into validated, sorted rules.
func NormalizeRules(raw []RuleDocument) ([]Rule, error) {
	rules := make([]Rule, 0, len(raw))
	for _, item := range raw {
		rule, err := normalizeRule(item)
		if err != nil {
			return nil, err
		}
		rules = append(rules, rule)
	}
	seq := 0
	return sortRules(rules, &seq), nil
}

func normalizeRule(item RuleDocument) (Rule, error) {
	name := strings.TrimSpace(item.Name)
	if name == "" {
		return Rule{}, fmt.Errorf("policy: rule name is required")
	}
	if len(item.Boundary) == 0 {
		return Rule{}, fmt.Errorf("policy: rule %q must declare at least one boundary", name)
	}
	for _, b := range item.Boundary {
		switch b {
		case "input", "action", "output":
		default:
			return Rule{}, fmt.Errorf("policy: rule %q has invalid boundary %q", name, b)
		}
	}

	action := DecisionAction(strings.TrimSpace(item.Action))
	switch action {
	case ActionAllow, ActionRedact, ActionBlock, ActionRequireApproval:
	default:
		return Rule{}, fmt.Errorf("policy: rule %q has invalid action %q", name, item.Action)
	}

	reason := strings.TrimSpace(item.Reason)
	if reason == "" {
		return Rule{}, fmt.Errorf("policy: rule %q requires a reason", name)
	}

	if item.Priority < 0 {
		return Rule{}, fmt.Errorf("policy: rule %q priority must be non-negative", name)
	}
	// YAML omission and an explicit 0 are indistinguishable at this layer;
	// both default to 100, matching the documented default priority.
	priority := item.Priority
	if priority == 0 {
		priority = 100
	}

	condition := Condition{
		DataTags: coerceStrings(item.Condition["data_tags"]),
		Tools:    mergeCoerced(item.Condition["tools"], item.Condition["tool"]),
		Agents:   mergeCoerced(item.Condition["agents"], item.Condition["agent"]),
	}

	return Rule{
		Name:             name,
		Boundary:         []string(item.Boundary),
		Action:           action,
		Reason:           reason,
		Condition:        condition,
		Priority:         priority,
		FallbackTemplate: strings.TrimSpace(item.FallbackTemplate),
	}, nil
}

// yamlStringList accepts either a bare string or a list of strings in YAML,
// matching the reference normalizer's "string or list" condition values.
type yamlStringList []string

func (l *yamlStringList) UnmarshalYAML(unmarshal func(any) error) error {
	var multi []string
	if err := unmarshal(&multi); err == nil {
		*l = multi
		return nil
	}
	var single string
	if err := unmarshal(&single); err != nil {
		return err
	}
	*l = []string{single}
	return nil
}

func coerceStrings(value any) []string {
	switch v := value.(type) {
	case nil:
		return nil
	case string:
		return []string{v}
	case []string:
		return v
	case []any:
		out := make([]string, 0, len(v))
		for _, item := range v {
			out = append(out, fmt.Sprintf("%v", item))
		}
		return out
	default:
		return []string{fmt.Sprintf("%v", v)}
	}
}

func mergeCoerced(values ...any) []string {
	var out []string
	seen := make(map[string]struct{})
	for _, value := range values {
		for _, s := range coerceStrings(value) {
			trimmed := strings.TrimSpace(s)
			if trimmed == "" {
				continue
			}
			if _, ok := seen[trimmed]; ok {
				continue
			}
			seen[trimmed] = struct{}{}
			out = append(out, trimmed)
		}
	}
	sort.Strings(out)
	return out
}
