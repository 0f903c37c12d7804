// Package tagging implements dotted hierarchical data tags: normalization
// and ancestor-prefix expansion shared by the classifier, policy engine,
// tool contracts, and agent identity registry.
package tagging

import (
	"sort"
	"strings"
)

// Normalize trims, lower-cases, and strips empty dot segments from a tag,
// e.g. "  A..B " -> "a.b".
func Normalize(tag string) string {
	lowered := strings.ToLower(strings.TrimSpace(tag))
	if lowered == "" {
		return ""
	}
	parts := strings.Split(lowered, ".")
	kept := parts[:0]
	for _, part := range parts {
		if part != "" {
			kept = append(kept, part)
		}
	}
	return strings.Join(kept, ".")
}

// Expand returns the union of every dot-prefix ancestor of each normalized
// tag in tags, e.g. {"personal.pii"} -> {"personal", "personal.pii"}.
func Expand(tags []string) map[string]struct{} {
	expanded := make(map[string]struct{})
	for _, raw := range tags {
		tag := Normalize(raw)
		if tag == "" {
			continue
		}
		parts := strings.Split(tag, ".")
		for i := 1; i <= len(parts); i++ {
			expanded[strings.Join(parts[:i], ".")] = struct{}{}
		}
	}
	return expanded
}

// Intersects reports whether any element of policyTags (already normalized
// or not) is present in the expanded ancestor set of contextTags.
func Intersects(policyTags []string, contextTags []string) bool {
	if len(policyTags) == 0 {
		return false
	}
	expanded := Expand(contextTags)
	for _, raw := range policyTags {
		if _, ok := expanded[Normalize(raw)]; ok {
			return true
		}
	}
	return false
}

// Unauthorized returns, from requested (normalized), every tag whose full
// ancestor expansion does not intersect accepted — i.e. no ancestor of the
// requested tag (including itself) is present in accepted. Results are
// deduplicated and sorted.
func Unauthorized(requested []string, accepted map[string]struct{}) []string {
	if len(requested) == 0 || len(accepted) == 0 {
		return nil
	}
	seen := make(map[string]struct{})
	var out []string
	for _, raw := range requested {
		tag := Normalize(raw)
		if tag == "" {
			continue
		}
		authorized := false
		for ancestor := range Expand([]string{tag}) {
			if _, ok := accepted[ancestor]; ok {
				authorized = true
				break
			}
		}
		if authorized {
			continue
		}
		if _, dup := seen[tag]; dup {
			continue
		}
		seen[tag] = struct{}{}
		out = append(out, tag)
	}
	sort.Strings(out)
	return out
}

// Set lower-cases and normalizes a list of tags into a deduplicated set.
func Set(tags []string) map[string]struct{} {
	out := make(map[string]struct{}, len(tags))
	for _, raw := range tags {
		tag := Normalize(raw)
		if tag != "" {
			out[tag] = struct{}{}
		}
	}
	return out
}
