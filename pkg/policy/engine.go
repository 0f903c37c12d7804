// Package policy implements the deterministic first-match policy evaluator:
// sorted rule list, default-deny fallback, and mtime-snapshot hot reload.
package policy

import (
	"os"
	"sort"
	"sync"

	"github.com/safeai-run/safeai/pkg/tagging"
)

// RuleLoader produces a fresh, validated rule list on reload.
type RuleLoader func() ([]Rule, error)

// Engine evaluates a Context against a sorted rule list. Reads take a
// short read lock and evaluate lock-free against a snapshot; reload takes
// a write lock only to swap the slice header, so no evaluation ever
// observes a partially-replaced list.
type Engine struct {
	mu           sync.RWMutex
	rules        []Rule
	loader       RuleLoader
	watchedFiles []string
	fileMtimes   map[string]int64
	nextSeq      int
}

// NewEngine constructs an Engine over an already-sorted (or unsorted, it
// will be sorted) initial rule list.
func NewEngine(rules []Rule) *Engine {
	e := &Engine{}
	e.Load(rules)
	return e
}

// Load replaces the active rule list, re-sorting by priority with
// insertion-order tie-break.
func (e *Engine) Load(rules []Rule) {
	sorted := sortRules(rules, &e.nextSeq)
	e.mu.Lock()
	e.rules = sorted
	e.mu.Unlock()
}

func sortRules(rules []Rule, seqCounter *int) []Rule {
	out := make([]Rule, len(rules))
	copy(out, rules)
	for i := range out {
		out[i].seq = *seqCounter
		*seqCounter++
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Priority != out[j].Priority {
			return out[i].Priority < out[j].Priority
		}
		return out[i].seq < out[j].seq
	})
	return out
}

// Evaluate runs the first-match evaluator. If no rule matches, the
// default-deny decision is returned.
func (e *Engine) Evaluate(ctx Context) Decision {
	e.mu.RLock()
	rules := e.rules
	e.mu.RUnlock()

	for _, rule := range rules {
		if matches(rule, ctx) {
			return Decision{
				Action:           rule.Action,
				PolicyName:       rule.Name,
				Reason:           rule.Reason,
				FallbackTemplate: rule.FallbackTemplate,
			}
		}
	}
	return DefaultDenyDecision()
}

func matches(rule Rule, ctx Context) bool {
	if !containsString(rule.Boundary, ctx.Boundary) {
		return false
	}

	if len(rule.Condition.DataTags) > 0 && !tagging.Intersects(rule.Condition.DataTags, ctx.DataTags) {
		return false
	}

	if len(rule.Condition.Tools) > 0 && !containsString(rule.Condition.Tools, ctx.ToolName) {
		return false
	}

	if len(rule.Condition.Agents) > 0 && !containsString(rule.Condition.Agents, ctx.AgentID) {
		return false
	}

	return true
}

func containsString(haystack []string, needle string) bool {
	for _, item := range haystack {
		if item == needle {
			return true
		}
	}
	return false
}

// RegisterReload wires a loader callback and the set of files whose mtimes
// gate reload. It snapshots current mtimes immediately.
func (e *Engine) RegisterReload(files []string, loader RuleLoader) {
	e.mu.Lock()
	e.loader = loader
	e.watchedFiles = append([]string{}, files...)
	e.fileMtimes = snapshotMtimes(e.watchedFiles)
	e.mu.Unlock()
}

// ReloadIfChanged compares current file mtimes against the last snapshot
// and reloads only if something changed (including a watched file going
// missing, encoded as mtime -1). Returns whether a reload occurred, and
// any error from the loader (in which case the prior rule list is kept
// installed).
func (e *Engine) ReloadIfChanged() (bool, error) {
	e.mu.RLock()
	watched := e.watchedFiles
	previous := e.fileMtimes
	loader := e.loader
	e.mu.RUnlock()

	if loader == nil || len(watched) == 0 {
		return false, nil
	}

	current := snapshotMtimes(watched)
	if mtimesEqual(current, previous) {
		return false, nil
	}

	if err := e.Reload(); err != nil {
		return false, err
	}
	return true, nil
}

// Reload always invokes the loader callback. A loader error leaves the
// previously-installed rule list untouched and is returned to the caller.
func (e *Engine) Reload() error {
	e.mu.RLock()
	loader := e.loader
	watched := e.watchedFiles
	e.mu.RUnlock()

	if loader == nil {
		return nil
	}

	fresh, err := loader()
	if err != nil {
		return err
	}
	sorted := sortRules(fresh, &e.nextSeq)
	freshMtimes := snapshotMtimes(watched)

	e.mu.Lock()
	e.rules = sorted
	e.fileMtimes = freshMtimes
	e.mu.Unlock()
	return nil
}

// Rules returns a snapshot of the currently active rule list.
func (e *Engine) Rules() []Rule {
	e.mu.RLock()
	defer e.mu.RUnlock()
	out := make([]Rule, len(e.rules))
	copy(out, e.rules)
	return out
}

func snapshotMtimes(files []string) map[string]int64 {
	mtimes := make(map[string]int64, len(files))
	for _, path := range files {
		info, err := os.Stat(path)
		if err != nil {
			mtimes[path] = -1
			continue
		}
		mtimes[path] = info.ModTime().UnixNano()
	}
	return mtimes
}

func mtimesEqual(a, b map[string]int64) bool {
	if len(a) != len(b) {
		return false
	}
	for k, v := range a {
		if bv, ok := b[k]; !ok || bv != v {
			return false
		}
	}
	return true
}
