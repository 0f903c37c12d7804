package hook

import "regexp"

type dangerousPattern struct {
	pattern *regexp.Regexp
	reason  string
}

// dangerousCommandPatterns flags shell commands whose blast radius
// warrants the "dangerous.command" tag regardless of what the classifier
// itself detects in the command text.
var dangerousCommandPatterns = []dangerousPattern{
	{regexp.MustCompile(`rm\s+-[^\s]*r[^\s]*f[^\s]*\s+[/~.](\s|$)`), "recursive delete of root/home/cwd"},
	{regexp.MustCompile(`rm\s+-[^\s]*f[^\s]*r[^\s]*\s+[/~.](\s|$)`), "recursive delete of root/home/cwd"},
	{regexp.MustCompile(`(?i)\bDROP\s+(TABLE|DATABASE)\b`), "DROP TABLE/DATABASE"},
	{regexp.MustCompile(`(?i)\bTRUNCATE\b`), "TRUNCATE"},
	{regexp.MustCompile(`\bmkfs\b`), "mkfs (format filesystem)"},
	{regexp.MustCompile(`\bdd\s+if=`), "dd (raw disk write)"},
	{regexp.MustCompile(`>\s*/dev/sd[a-z]`), "write to raw disk device"},
	{regexp.MustCompile(`chmod\s+(-R\s+)?777\b`), "chmod 777"},
	{regexp.MustCompile(`:\(\)\s*\{\s*:\s*\|\s*:\s*&\s*\}\s*;\s*:`), "fork bomb"},
	{regexp.MustCompile(`git\s+push\s+--force\b.*\b(main|master)\b`), "force push to main/master"},
	{regexp.MustCompile(`git\s+push\b.*\b(main|master)\b.*--force\b`), "force push to main/master"},
	{regexp.MustCompile(`curl\s+.*\|\s*(sh|bash)\b`), "pipe-to-shell (curl)"},
	{regexp.MustCompile(`wget\s+.*\|\s*(sh|bash)\b`), "pipe-to-shell (wget)"},
}

// classifyDangerousCommand returns the matched reason, or "" if cmd
// trips no known dangerous pattern.
func classifyDangerousCommand(cmd string) string {
	for _, dp := range dangerousCommandPatterns {
		if dp.pattern.MatchString(cmd) {
			return dp.reason
		}
	}
	return ""
}

// extractText picks the scannable payload out of a tool call's input,
// based on the resolved tool category.
func extractText(toolName string, toolInput map[string]any, profile Profile) string {
	if toolInput == nil {
		return ""
	}
	category := ToolCategory(toolName, profile)

	switch {
	case isShellCategory(category, toolName):
		return firstString(toolInput, "command", "cmd")
	case category == "file_write" || category == "file_edit":
		return firstString(toolInput, "content", "new_string", "text")
	case category == "search":
		return firstString(toolInput, "pattern", "query")
	case category == "web":
		return firstString(toolInput, "url", "query")
	default:
		var parts []string
		for _, v := range toolInput {
			if s, ok := v.(string); ok {
				parts = append(parts, s)
			}
		}
		return joinStrings(parts)
	}
}

func firstString(m map[string]any, keys ...string) string {
	for _, k := range keys {
		if v, ok := m[k]; ok {
			if s, ok := v.(string); ok {
				return s
			}
		}
	}
	return ""
}

func joinStrings(parts []string) string {
	out := ""
	for i, p := range parts {
		if i > 0 {
			out += " "
		}
		out += p
	}
	return out
}
