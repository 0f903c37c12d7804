package alert

import "fmt"

// FiltersDoc is the on-disk shape of one rule's filters.
type FiltersDoc struct {
	Boundaries []string `yaml:"boundaries"`
	Actions    []string `yaml:"actions"`
	Policies   []string `yaml:"policies"`
	Agents     []string `yaml:"agents"`
	Tags       []string `yaml:"tags"`
}

// RuleDoc is the on-disk shape of one alert rule.
type RuleDoc struct {
	RuleID    string     `yaml:"rule_id"`
	Name      string     `yaml:"name"`
	Window    string     `yaml:"window"`
	Threshold int        `yaml:"threshold"`
	Cooldown  string     `yaml:"cooldown"`
	Channels  []string   `yaml:"channels"`
	Filters   FiltersDoc `yaml:"filters"`
}

// Document is the top-level YAML document: either a single `rule` or a
// list under `rules`.
type Document struct {
	Rule  *RuleDoc  `yaml:"rule"`
	Rules []RuleDoc `yaml:"rules"`
}

// NormalizeDocuments flattens parsed YAML documents into validated rules.
func NormalizeDocuments(docs []Document) ([]Rule, error) {
	var raw []RuleDoc
	for _, doc := range docs {
		if doc.Rule != nil {
			raw = append(raw, *doc.Rule)
		}
		raw = append(raw, doc.Rules...)
	}
	return NormalizeRules(raw)
}

// NormalizeRules converts raw rule documents into runtime rules.
func NormalizeRules(raw []RuleDoc) ([]Rule, error) {
	rules := make([]Rule, 0, len(raw))
	seen := make(map[string]struct{}, len(raw))

	for _, doc := range raw {
		if doc.RuleID == "" {
			return nil, fmt.Errorf("alert: rule_id is required")
		}
		if _, dup := seen[doc.RuleID]; dup {
			return nil, fmt.Errorf("alert: duplicate rule_id: %s", doc.RuleID)
		}
		seen[doc.RuleID] = struct{}{}

		if doc.Window == "" {
			return nil, fmt.Errorf("alert: rule %q requires a window", doc.RuleID)
		}
		if doc.Threshold <= 0 {
			return nil, fmt.Errorf("alert: rule %q requires a positive threshold", doc.RuleID)
		}

		rules = append(rules, Rule{
			RuleID:    doc.RuleID,
			Name:      defaultString(doc.Name, doc.RuleID),
			Window:    doc.Window,
			Threshold: doc.Threshold,
			Cooldown:  doc.Cooldown,
			Channels:  doc.Channels,
			Filters: Filters{
				Boundaries: doc.Filters.Boundaries,
				Actions:    doc.Filters.Actions,
				Policies:   doc.Filters.Policies,
				Agents:     doc.Filters.Agents,
				Tags:       doc.Filters.Tags,
			},
		})
	}
	return rules, nil
}

func defaultString(value, fallback string) string {
	if value == "" {
		return fallback
	}
	return value
}
