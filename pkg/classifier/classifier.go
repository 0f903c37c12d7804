// Package classifier runs regex-based detectors over text and emits
// hierarchically-tagged detections (personal.pii, secret.credential, ...).
package classifier

import (
	"fmt"
	"regexp"
	"sort"
)

// Detection is a single regex match tagged with the detector that found it.
type Detection struct {
	Detector string `json:"detector"`
	Tag      string `json:"tag"`
	Start    int    `json:"start"`
	End      int    `json:"end"`
	Value    string `json:"value"`
}

// Pattern is a (name, tag, regex) detector definition as loaded from the
// built-in catalog or from user/plugin configuration.
type Pattern struct {
	Name    string
	Tag     string
	Pattern string
}

type compiledPattern struct {
	name string
	tag  string
	re   *regexp.Regexp
}

// Classifier runs a fixed set of compiled detectors against text.
type Classifier struct {
	patterns []compiledPattern
}

// New compiles patterns into a Classifier. An invalid regex is a fatal
// configuration error — it is returned, never swallowed.
func New(patterns []Pattern) (*Classifier, error) {
	compiled := make([]compiledPattern, 0, len(patterns))
	for _, p := range patterns {
		re, err := regexp.Compile("(?i)" + p.Pattern)
		if err != nil {
			return nil, fmt.Errorf("classifier: invalid pattern %q (%s): %w", p.Name, p.Pattern, err)
		}
		compiled = append(compiled, compiledPattern{name: p.Name, tag: p.Tag, re: re})
	}
	return &Classifier{patterns: compiled}, nil
}

// NewDefault builds a Classifier over the built-in detector catalog plus any
// supplied custom patterns.
func NewDefault(custom []Pattern) (*Classifier, error) {
	all := append(append([]Pattern{}, BuiltinPatterns()...), custom...)
	return New(all)
}

// Classify runs every detector against text and returns all detections,
// ordered by (start, end). Detectors are not deduplicated against each
// other: overlapping matches from different detectors (e.g. the generic
// token detector and the OpenAI key detector) are both reported; callers
// that need tag sets should union them, not count detections.
func (c *Classifier) Classify(text string) []Detection {
	if c == nil {
		return nil
	}
	var detections []Detection
	for _, p := range c.patterns {
		matches := p.re.FindAllStringIndex(text, -1)
		for _, m := range matches {
			detections = append(detections, Detection{
				Detector: p.name,
				Tag:      p.tag,
				Start:    m[0],
				End:      m[1],
				Value:    text[m[0]:m[1]],
			})
		}
	}
	sort.Slice(detections, func(i, j int) bool {
		if detections[i].Start != detections[j].Start {
			return detections[i].Start < detections[j].Start
		}
		return detections[i].End < detections[j].End
	})
	return detections
}

// Tags returns the sorted, deduplicated set of tags present across
// detections.
func Tags(detections []Detection) []string {
	seen := make(map[string]struct{})
	for _, d := range detections {
		seen[d.Tag] = struct{}{}
	}
	out := make([]string, 0, len(seen))
	for tag := range seen {
		out = append(out, tag)
	}
	sort.Strings(out)
	return out
}
