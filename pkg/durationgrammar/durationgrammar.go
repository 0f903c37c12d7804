// Package durationgrammar parses the "^\d+[smhdw]$" shorthand shared by
// capability TTLs, approval TTLs, memory retention, and alert windows.
package durationgrammar

import (
	"fmt"
	"regexp"
	"strconv"
	"time"
)

var grammar = regexp.MustCompile(`^(\d+)([smhdw])$`)

// Parse parses strings like "30s", "15m", "2h", "7d", "1w".
func Parse(s string) (time.Duration, error) {
	m := grammar.FindStringSubmatch(s)
	if m == nil {
		return 0, fmt.Errorf("invalid duration %q: use forms like 30s, 15m, 2h, 7d, 1w", s)
	}
	n, err := strconv.Atoi(m[1])
	if err != nil {
		return 0, fmt.Errorf("invalid duration %q: %w", s, err)
	}
	unit := map[string]time.Duration{
		"s": time.Second,
		"m": time.Minute,
		"h": time.Hour,
		"d": 24 * time.Hour,
		"w": 7 * 24 * time.Hour,
	}[m[2]]
	return time.Duration(n) * unit, nil
}
