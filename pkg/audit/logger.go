package audit

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/safeai-run/safeai/pkg/durationgrammar"
)

// EmitCallback observes every successfully written event. A panicking
// callback is recovered and never propagates to Emit's caller, and never
// blocks the write that already happened.
type EmitCallback func(Event)

// Logger appends validated events to a JSONL file and serves filtered
// queries over it. One Logger owns one file; the write lock keeps
// concurrent Emit calls from interleaving partial lines.
type Logger struct {
	mu        sync.Mutex
	path      string
	clock     func() time.Time
	callbacks []EmitCallback
}

// NewLogger returns a Logger for the JSONL file at path. The file is not
// opened here; each Emit opens it for append, creating it if necessary.
func NewLogger(path string) *Logger {
	return &Logger{path: path, clock: time.Now}
}

// Path returns the JSONL file this Logger appends to, for callers that
// need to Query it directly.
func (l *Logger) Path() string { return l.path }

// OnEmit registers a callback invoked after every successful write.
func (l *Logger) OnEmit(cb EmitCallback) {
	l.mu.Lock()
	l.callbacks = append(l.callbacks, cb)
	l.mu.Unlock()
}

// Emit assigns EventID/Timestamp/ContextHash if unset, validates the
// event, appends it as one JSON line, and fans it out to callbacks.
func (l *Logger) Emit(e Event) (Event, error) {
	if e.EventID == "" {
		e.EventID = NewEventID()
	}
	if e.Timestamp == "" {
		e.Timestamp = NowUTC(l.clock)
	}
	if err := e.Validate(); err != nil {
		return Event{}, err
	}
	e.ContextHash = ContextHash(e)

	line, err := json.Marshal(e)
	if err != nil {
		return Event{}, fmt.Errorf("audit: marshal event: %w", err)
	}

	l.mu.Lock()
	f, err := os.OpenFile(l.path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		l.mu.Unlock()
		return Event{}, fmt.Errorf("audit: open log: %w", err)
	}
	_, writeErr := f.Write(append(line, '\n'))
	closeErr := f.Close()
	callbacks := append([]EmitCallback{}, l.callbacks...)
	l.mu.Unlock()

	if writeErr != nil {
		return Event{}, fmt.Errorf("audit: write event: %w", writeErr)
	}
	if closeErr != nil {
		return Event{}, fmt.Errorf("audit: close log: %w", closeErr)
	}

	for _, cb := range callbacks {
		invokeSafely(cb, e)
	}
	return e, nil
}

func invokeSafely(cb EmitCallback, e Event) {
	defer func() { _ = recover() }()
	cb(e)
}

// NewEventID returns an "evt_"-prefixed 12-hex-digit identifier, drawn
// from a random UUID's hex digits.
func NewEventID() string {
	return "evt_" + uuidHex(12)
}

func uuidHex(n int) string {
	hex := strings.ReplaceAll(uuid.New().String(), "-", "")
	for len(hex) < n {
		hex += strings.ReplaceAll(uuid.New().String(), "-", "")
	}
	return hex[:n]
}

// ParseDuration parses the "^\d+[smhdw]$" grammar shared by capability
// TTLs, approval TTLs, memory retention, and alert windows.
func ParseDuration(s string) (time.Duration, error) {
	d, err := durationgrammar.Parse(s)
	if err != nil {
		return 0, fmt.Errorf("audit: %w", err)
	}
	return d, nil
}

// readAll tolerantly parses the JSONL file: malformed lines are skipped
// rather than aborting the whole read, and a missing file yields no
// events instead of an error.
func readAll(path string) ([]Event, error) {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("audit: open log: %w", err)
	}
	defer f.Close()

	var events []Event
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var e Event
		if err := json.Unmarshal(line, &e); err != nil {
			continue
		}
		events = append(events, e)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("audit: scan log: %w", err)
	}
	return events, nil
}
