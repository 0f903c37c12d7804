package audit

import (
	"sort"
	"time"

	"github.com/safeai-run/safeai/pkg/tagging"
)

// Filter narrows a Query. Zero-value fields are treated as "don't filter
// on this". Since/Until bound Timestamp inclusively; Last is an
// alternative to Since expressed as a duration ending now.
type Filter struct {
	Boundary            string
	Action              string
	PolicyName          string
	AgentID             string
	ToolName            string
	DataTag             string
	SessionID           string
	EventID             string
	SourceAgentID       string
	DestinationAgentID  string
	MetadataKey         string
	MetadataValue       any
	Since               time.Time
	Until               time.Time
	Last                time.Duration
	Limit               int
}

// Query reads the log file and returns matching events, newest first,
// bounded by Filter.Limit (0 means unbounded).
func Query(path string, f Filter) ([]Event, error) {
	events, err := readAll(path)
	if err != nil {
		return nil, err
	}

	since := f.Since
	if f.Last > 0 {
		since = time.Now().Add(-f.Last)
	}

	wantedTag := tagging.Normalize(f.DataTag)

	matched := make([]Event, 0, len(events))
	for _, e := range events {
		if f.Boundary != "" && e.Boundary != f.Boundary {
			continue
		}
		if f.Action != "" && e.Action != f.Action {
			continue
		}
		if f.PolicyName != "" && e.PolicyName != f.PolicyName {
			continue
		}
		if f.AgentID != "" && e.AgentID != f.AgentID {
			continue
		}
		if f.ToolName != "" && e.ToolName != f.ToolName {
			continue
		}
		if f.SessionID != "" && e.SessionID != f.SessionID {
			continue
		}
		if f.EventID != "" && e.EventID != f.EventID {
			continue
		}
		if f.SourceAgentID != "" && e.SourceAgentID != f.SourceAgentID {
			continue
		}
		if f.DestinationAgentID != "" && e.DestinationAgentID != f.DestinationAgentID {
			continue
		}
		if wantedTag != "" && !eventHasTag(e, wantedTag) {
			continue
		}
		if f.MetadataKey != "" {
			v, ok := e.Metadata[f.MetadataKey]
			if !ok {
				continue
			}
			if f.MetadataValue != nil && v != f.MetadataValue {
				continue
			}
		}
		ts, err := time.Parse(time.RFC3339Nano, e.Timestamp)
		if err != nil {
			continue
		}
		if !since.IsZero() && ts.Before(since) {
			continue
		}
		if !f.Until.IsZero() && ts.After(f.Until) {
			continue
		}
		matched = append(matched, e)
	}

	sort.SliceStable(matched, func(i, j int) bool {
		// Compare parsed times: RFC3339Nano drops trailing zero digits, so
		// the strings do not sort chronologically. Both parsed above.
		ti, _ := time.Parse(time.RFC3339Nano, matched[i].Timestamp)
		tj, _ := time.Parse(time.RFC3339Nano, matched[j].Timestamp)
		return ti.After(tj)
	})

	if f.Limit > 0 && len(matched) > f.Limit {
		matched = matched[:f.Limit]
	}
	return matched, nil
}

// eventHasTag reports whether wanted (already normalized) is a member of
// the event's own hierarchy-expanded tags: one-directional, so a query
// for "secret" matches an event tagged "secret.credential", but a query
// for "secret.credential" does not match an event tagged only "secret".
func eventHasTag(e Event, wanted string) bool {
	_, ok := tagging.Expand(e.DataTags)[wanted]
	return ok
}
