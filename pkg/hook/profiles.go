// Package hook implements the stdio hook adapter: one JSON envelope in
// on stdin, an allow/block decision out via exit code, for coding
// agents that invoke an external command around every tool call.
package hook

import "sort"

// Profile maps one coding agent's tool names to the engine's generic
// tool categories (shell, file_write, file_edit, file_read, search, web,
// agent_dispatch). Tool names absent from Map pass through unchanged.
type Profile struct {
	Name string
	Map  map[string]string
}

var builtinProfiles = map[string]Profile{
	"claude-code": {
		Name: "claude-code",
		Map: map[string]string{
			"Bash":      "shell",
			"Write":     "file_write",
			"Edit":      "file_edit",
			"Read":      "file_read",
			"Glob":      "search",
			"Grep":      "search",
			"WebFetch":  "web",
			"WebSearch": "web",
			"Task":      "agent_dispatch",
		},
	},
	"cursor": {
		Name: "cursor",
		Map: map[string]string{
			"run_command":  "shell",
			"write_file":   "file_write",
			"edit_file":    "file_edit",
			"read_file":    "file_read",
			"search_files": "search",
			"web_search":   "web",
		},
	},
	"generic": {
		Name: "generic",
		Map:  map[string]string{},
	},
}

// ResolveProfile looks up a built-in profile by name. The zero Profile
// (empty Map) is returned for an unknown name, which makes every tool
// name pass through as its own category.
func ResolveProfile(name string) Profile {
	if p, ok := builtinProfiles[name]; ok {
		return p
	}
	return Profile{Name: name}
}

// ProfileNames lists the built-in profile names, sorted.
func ProfileNames() []string {
	names := make([]string, 0, len(builtinProfiles))
	for name := range builtinProfiles {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// ToolCategory maps toolName through profile's table, defaulting to
// toolName itself when unmapped.
func ToolCategory(toolName string, profile Profile) string {
	if cat, ok := profile.Map[toolName]; ok {
		return cat
	}
	return toolName
}

var shellCategories = map[string]bool{"shell": true, "Bash": true, "run_command": true}

func isShellCategory(category, toolName string) bool {
	return shellCategories[category] || shellCategories[toolName]
}
