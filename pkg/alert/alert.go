// Package alert implements the sliding-window alert evaluator: per-rule
// ring buffers of matching audit-event timestamps, threshold+cooldown
// dedup, and dispatch to pluggable notification channels.
package alert

import (
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/safeai-run/safeai/pkg/audit"
	"github.com/safeai-run/safeai/pkg/durationgrammar"
)

// Filters describes a rule's match predicates. A missing/empty field
// matches anything.
type Filters struct {
	Boundaries []string
	Actions    []string
	Policies   []string
	Agents     []string
	Tags       []string
}

// Rule is one alert definition: a window, a threshold, a cooldown, the
// channels to notify, and the filters an event must satisfy to count.
type Rule struct {
	RuleID    string
	Name      string
	Window    string
	Threshold int
	Cooldown  string
	Channels  []string
	Filters   Filters
}

// Alert is one fired notification.
type Alert struct {
	AlertID        string
	RuleID         string
	RuleName       string
	Threshold      int
	Window         string
	Count          int
	Channels       []string
	TenantIDs      []string
	SampleEventIDs []string
	Timestamp      time.Time
}

// Channel delivers a fired alert to one notification destination.
type Channel interface {
	Name() string
	Send(Alert) error
}

// DispatchResult is the outcome of firing one rule: the alert plus a
// per-channel success map. A channel that errors or is unregistered is
// recorded as false without affecting any other channel.
type DispatchResult struct {
	Alert   Alert
	Results map[string]bool
}

type bufferedEvent struct {
	timestamp time.Time
	eventID   string
	tenantID  string
}

type ruleState struct {
	rule        Rule
	window      time.Duration
	cooldown    time.Duration
	buffer      []bufferedEvent
	lastFiredAt time.Time
}

// Evaluator holds one ring buffer per registered rule, guarded by a
// single lock. Adding an event and checking the threshold happen
// atomically; channel dispatch happens outside the lock.
type Evaluator struct {
	mu       sync.Mutex
	clock    func() time.Time
	rules    map[string]*ruleState
	channels map[string]Channel
}

// NewEvaluator constructs an Evaluator. A nil clock defaults to time.Now.
func NewEvaluator(clock func() time.Time) *Evaluator {
	if clock == nil {
		clock = time.Now
	}
	return &Evaluator{clock: clock, rules: make(map[string]*ruleState), channels: make(map[string]Channel)}
}

// AddRule registers a rule, parsing its window and cooldown durations
// up front so a malformed grammar fails at registration, not at
// evaluation time.
func (e *Evaluator) AddRule(r Rule) error {
	window, err := durationgrammar.Parse(r.Window)
	if err != nil {
		return fmt.Errorf("alert: rule %q window: %w", r.RuleID, err)
	}
	cooldown := time.Duration(0)
	if r.Cooldown != "" {
		cooldown, err = durationgrammar.Parse(r.Cooldown)
		if err != nil {
			return fmt.Errorf("alert: rule %q cooldown: %w", r.RuleID, err)
		}
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	e.rules[r.RuleID] = &ruleState{rule: r, window: window, cooldown: cooldown}
	return nil
}

// RegisterChannel wires a named delivery channel. A later registration
// under the same name replaces the earlier one.
func (e *Evaluator) RegisterChannel(c Channel) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.channels[strings.ToLower(c.Name())] = c
}

// ChannelNames returns the registered channel names, sorted.
func (e *Evaluator) ChannelNames() []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	names := make([]string, 0, len(e.channels))
	for name := range e.channels {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Evaluate processes one audit event against every registered rule,
// firing and dispatching any rule whose buffer crosses its threshold
// outside its cooldown window.
func (e *Evaluator) Evaluate(event audit.Event) []DispatchResult {
	now := e.clock()
	var toFire []*ruleState

	e.mu.Lock()
	for _, state := range e.rules {
		cutoff := now.Add(-state.window)
		state.buffer = dropOlderThan(state.buffer, cutoff)

		if !matchesRule(event, state.rule.Filters) {
			continue
		}
		state.buffer = append(state.buffer, bufferedEvent{
			timestamp: now,
			eventID:   event.EventID,
			tenantID:  tenantFromMetadata(event.Metadata),
		})

		if len(state.buffer) >= state.rule.Threshold && (state.lastFiredAt.IsZero() || now.Sub(state.lastFiredAt) > state.cooldown) {
			state.lastFiredAt = now
			toFire = append(toFire, state)
		}
	}

	var fired []Alert
	for _, state := range toFire {
		fired = append(fired, buildAlert(state, now))
	}
	channels := make(map[string]Channel, len(e.channels))
	for k, v := range e.channels {
		channels[k] = v
	}
	e.mu.Unlock()

	results := make([]DispatchResult, 0, len(fired))
	for _, a := range fired {
		results = append(results, DispatchResult{Alert: a, Results: dispatch(a, channels)})
	}
	return results
}

func buildAlert(state *ruleState, now time.Time) Alert {
	tenantSet := make(map[string]struct{})
	sampleIDs := make([]string, 0, len(state.buffer))
	for _, ev := range state.buffer {
		if ev.tenantID != "" {
			tenantSet[ev.tenantID] = struct{}{}
		}
		if len(sampleIDs) < 20 {
			sampleIDs = append(sampleIDs, ev.eventID)
		}
	}
	tenants := make([]string, 0, len(tenantSet))
	for t := range tenantSet {
		tenants = append(tenants, t)
	}
	sort.Strings(tenants)

	return Alert{
		AlertID:        "alr_" + newEntropy(),
		RuleID:         state.rule.RuleID,
		RuleName:       state.rule.Name,
		Threshold:      state.rule.Threshold,
		Window:         state.rule.Window,
		Count:          len(state.buffer),
		Channels:       append([]string{}, state.rule.Channels...),
		TenantIDs:      tenants,
		SampleEventIDs: sampleIDs,
		Timestamp:      now,
	}
}

// dispatch sends alert to every channel the rule names. A missing
// channel, or one whose Send errors, is recorded false without
// affecting any other channel.
func dispatch(a Alert, channels map[string]Channel) map[string]bool {
	results := make(map[string]bool, len(a.Channels))
	for _, name := range a.Channels {
		key := strings.ToLower(name)
		ch, ok := channels[key]
		if !ok {
			results[name] = false
			continue
		}
		results[name] = sendSafely(ch, a)
	}
	return results
}

func sendSafely(ch Channel, a Alert) (ok bool) {
	defer func() {
		if recover() != nil {
			ok = false
		}
	}()
	return ch.Send(a) == nil
}

func dropOlderThan(buffer []bufferedEvent, cutoff time.Time) []bufferedEvent {
	kept := buffer[:0]
	for _, ev := range buffer {
		if ev.timestamp.After(cutoff) {
			kept = append(kept, ev)
		}
	}
	return kept
}

// matchesRule reimplements the dashboard's event/filter predicate: a
// missing filter set matches anything; the tag filter passes when the
// event's tag set intersects the filter's tag set.
func matchesRule(event audit.Event, f Filters) bool {
	if len(f.Boundaries) > 0 && !containsFold(f.Boundaries, event.Boundary) {
		return false
	}
	if len(f.Actions) > 0 && !containsFold(f.Actions, event.Action) {
		return false
	}
	if len(f.Policies) > 0 && !containsFold(f.Policies, event.PolicyName) {
		return false
	}
	if len(f.Agents) > 0 && !containsFold(f.Agents, event.AgentID) {
		return false
	}
	if len(f.Tags) > 0 && !tagsIntersect(f.Tags, event.DataTags) {
		return false
	}
	return true
}

func containsFold(haystack []string, needle string) bool {
	needle = strings.ToLower(strings.TrimSpace(needle))
	for _, item := range haystack {
		if strings.ToLower(strings.TrimSpace(item)) == needle {
			return true
		}
	}
	return false
}

func tagsIntersect(filterTags, eventTags []string) bool {
	want := make(map[string]struct{}, len(filterTags))
	for _, t := range filterTags {
		want[strings.ToLower(strings.TrimSpace(t))] = struct{}{}
	}
	for _, t := range eventTags {
		if _, ok := want[strings.ToLower(strings.TrimSpace(t))]; ok {
			return true
		}
	}
	return false
}

func tenantFromMetadata(metadata map[string]any) string {
	if metadata == nil {
		return ""
	}
	v, ok := metadata["tenant_id"]
	if !ok {
		return ""
	}
	s, _ := v.(string)
	return strings.TrimSpace(s)
}

// newEntropy returns 16 random hex digits drawn from a random UUID.
func newEntropy() string {
	const want = 16
	hex := strings.ReplaceAll(uuid.New().String(), "-", "")
	return hex[:want]
}
