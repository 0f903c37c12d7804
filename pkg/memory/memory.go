// Package memory implements the schema-bound memory controller: typed
// per-agent buckets with retention, scope-based key namespacing, and
// opaque handles standing in for encrypted field values.
package memory

import (
	"crypto/rand"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/safeai-run/safeai/pkg/audit"
	"github.com/safeai-run/safeai/pkg/durationgrammar"
	"github.com/safeai-run/safeai/pkg/policy"
)

// Field is one declared, typed slot in a memory schema.
type Field struct {
	Name      string
	Type      string // string|integer|number|boolean|list|object
	Tag       string
	Retention string
	Encrypted bool
	Required  bool
}

// Schema is one memory definition: its declared fields, scope, and
// retention/capacity defaults.
type Schema struct {
	Name             string
	Scope            string // session|user|global
	Fields           []Field
	MaxEntries       int
	DefaultRetention string
}

func (s Schema) field(key string) *Field {
	for i := range s.Fields {
		if s.Fields[i].Name == key {
			return &s.Fields[i]
		}
	}
	return nil
}

type entry struct {
	value     any
	expiresAt time.Time
	tag       string
	encrypted bool
}

func (e entry) expired(now time.Time) bool {
	return !e.expiresAt.After(now)
}

type handle struct {
	handleID  string
	agentID   string
	bucketKey string
	key       string
	tag       string
}

// Controller is a schema-enforced memory store with field-level
// retention and encrypted-field handle indirection. NewController
// returns nil when schema has no declared fields, mirroring this
// codebase's "NewX returns nil on missing deps" constructor idiom.
type Controller struct {
	mu      sync.Mutex
	schema  Schema
	clock   func() time.Time
	policy  *policy.Engine
	audit   *audit.Logger
	buckets map[string]map[string]entry
	handles map[string]handle
}

// NewController constructs a Controller. A nil clock defaults to
// time.Now. policyEngine/auditLogger may be nil for schemas that never
// declare an encrypted field (ResolveHandle is the only user of the
// policy engine; PurgeExpired also emits through the audit logger, and
// skips that when it is nil).
func NewController(schema Schema, policyEngine *policy.Engine, auditLogger *audit.Logger, clock func() time.Time) *Controller {
	if len(schema.Fields) == 0 {
		return nil
	}
	if clock == nil {
		clock = time.Now
	}
	return &Controller{
		schema:  schema,
		clock:   clock,
		policy:  policyEngine,
		audit:   auditLogger,
		buckets: make(map[string]map[string]entry),
		handles: make(map[string]handle),
	}
}

// bucketKey maps an agent ID to the storage bucket key for this
// schema's scope: "global" schemas share one bucket across every
// agent; "session"/"user" schemas get one bucket per agent.
func (c *Controller) bucketKey(agentID string) string {
	if c.schema.Scope == "global" {
		return "global"
	}
	return c.schema.Scope + ":" + agentID
}

// Write upserts key=value for agentID. Returns false when key is
// undeclared, value's runtime type doesn't match the field's declared
// type, or the bucket is at max_entries and key is new.
func (c *Controller) Write(key string, value any, agentID string) bool {
	fieldSpec := c.schema.field(key)
	if fieldSpec == nil {
		return false
	}
	if !matchesDeclaredType(value, fieldSpec.Type) {
		return false
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	bucketKey := c.bucketKey(agentID)
	bucket, ok := c.buckets[bucketKey]
	if !ok {
		bucket = make(map[string]entry)
		c.buckets[bucketKey] = bucket
	}

	_, exists := bucket[key]
	if !exists && len(bucket) >= effectiveMaxEntries(c.schema.MaxEntries) {
		return false
	}

	retention := fieldSpec.Retention
	if retention == "" {
		retention = c.schema.DefaultRetention
	}
	dur, err := durationgrammar.Parse(retention)
	if err != nil {
		return false
	}

	bucket[key] = entry{
		value:     value,
		expiresAt: c.clock().Add(dur),
		tag:       fieldSpec.Tag,
		encrypted: fieldSpec.Encrypted,
	}
	return true
}

// Read returns the value stored at key for agentID, or nil if missing
// or expired (an expired entry is purged as a side effect). For
// encrypted fields, Read returns a fresh opaque handle ID instead of
// the plaintext; call ResolveHandle to retrieve the value.
func (c *Controller) Read(key, agentID string) any {
	c.mu.Lock()
	defer c.mu.Unlock()

	bucketKey := c.bucketKey(agentID)
	bucket, ok := c.buckets[bucketKey]
	if !ok {
		return nil
	}
	row, ok := bucket[key]
	if !ok {
		return nil
	}
	if row.expired(c.clock()) {
		delete(bucket, key)
		c.dropHandlesForLocked(bucketKey, key)
		return nil
	}

	if !row.encrypted {
		return row.value
	}

	id := "hdl_" + newHandleEntropy()
	c.handles[id] = handle{handleID: id, agentID: agentID, bucketKey: bucketKey, key: key, tag: row.tag}
	return id
}

// ResolveHandle returns the plaintext behind handleID, provided agentID
// matches the handle's owner, the underlying entry has not expired, and
// an action-boundary policy evaluation over the handle's tag allows it.
// Every call emits one memory-boundary audit event.
func (c *Controller) ResolveHandle(handleID, agentID string) (any, bool) {
	c.mu.Lock()
	h, ok := c.handles[handleID]
	if !ok || h.agentID != agentID {
		c.mu.Unlock()
		return nil, false
	}

	bucket := c.buckets[h.bucketKey]
	row, ok := bucket[h.key]
	if !ok || row.expired(c.clock()) {
		if ok {
			delete(bucket, h.key)
		}
		delete(c.handles, handleID)
		c.mu.Unlock()
		return nil, false
	}

	decision := policy.DefaultDenyDecision()
	if c.policy != nil {
		decision = c.policy.Evaluate(policy.Context{Boundary: audit.BoundaryAction, DataTags: []string{h.tag}, AgentID: agentID})
	}
	value := row.value
	c.mu.Unlock()

	c.emitHandleResolution(h, agentID, decision)

	if decision.Action != policy.ActionAllow {
		return nil, false
	}
	return value, true
}

func (c *Controller) emitHandleResolution(h handle, agentID string, decision policy.Decision) {
	if c.audit == nil {
		return
	}
	_, _ = c.audit.Emit(audit.Event{
		Boundary:   audit.BoundaryMemory,
		Action:     string(decision.Action),
		PolicyName: decision.PolicyName,
		Reason:     decision.Reason,
		DataTags:   []string{h.tag},
		AgentID:    agentID,
		Metadata:   map[string]any{"phase": "resolve_handle", "handle_id": h.handleID, "key": h.key},
	})
}

// Purge removes every entry for agentID (or, when agentID is empty,
// every entry in every bucket) and returns the count removed.
func (c *Controller) Purge(agentID string) int {
	c.mu.Lock()
	defer c.mu.Unlock()

	if agentID == "" {
		count := 0
		for _, bucket := range c.buckets {
			count += len(bucket)
		}
		c.buckets = make(map[string]map[string]entry)
		c.handles = make(map[string]handle)
		return count
	}

	bucketKey := c.bucketKey(agentID)
	removed := len(c.buckets[bucketKey])
	delete(c.buckets, bucketKey)
	c.dropHandlesForBucketLocked(bucketKey)
	return removed
}

// PurgeExpired removes every expired entry (and its handles) across
// every bucket atomically, emitting one "memory-retention" audit event
// if any entry was removed.
func (c *Controller) PurgeExpired() int {
	c.mu.Lock()
	now := c.clock()
	purged := 0
	for bucketKey, bucket := range c.buckets {
		for key, row := range bucket {
			if row.expired(now) {
				delete(bucket, key)
				c.dropHandlesForLocked(bucketKey, key)
				purged++
			}
		}
		if len(bucket) == 0 {
			delete(c.buckets, bucketKey)
		}
	}
	c.mu.Unlock()

	if purged > 0 && c.audit != nil {
		_, _ = c.audit.Emit(audit.Event{
			Boundary: audit.BoundaryMemory,
			Action:   audit.ActionAllow,
			Reason:   "memory-retention",
			AgentID:  "system",
			Metadata: map[string]any{"phase": "memory-retention", "purged_count": purged, "schema": c.schema.Name},
		})
	}
	return purged
}

func (c *Controller) dropHandlesForLocked(bucketKey, key string) {
	for id, h := range c.handles {
		if h.bucketKey == bucketKey && h.key == key {
			delete(c.handles, id)
		}
	}
}

func (c *Controller) dropHandlesForBucketLocked(bucketKey string) {
	for id, h := range c.handles {
		if h.bucketKey == bucketKey {
			delete(c.handles, id)
		}
	}
}

func effectiveMaxEntries(max int) int {
	if max <= 0 {
		return 100
	}
	return max
}

func matchesDeclaredType(value any, declared string) bool {
	switch declared {
	case "string":
		_, ok := value.(string)
		return ok
	case "integer":
		switch value.(type) {
		case int, int32, int64:
			return true
		case float64:
			f := value.(float64)
			return f == float64(int64(f))
		}
		return false
	case "number":
		switch value.(type) {
		case int, int32, int64, float32, float64:
			return true
		}
		return false
	case "boolean":
		_, ok := value.(bool)
		return ok
	case "list":
		_, ok := value.([]any)
		return ok
	case "object":
		_, ok := value.(map[string]any)
		return ok
	default:
		return false
	}
}

func newHandleEntropy() string {
	buf := make([]byte, 12)
	if _, err := rand.Read(buf); err != nil {
		panic(fmt.Sprintf("memory: crypto/rand failed: %v", err))
	}
	const hexdigits = "0123456789abcdef"
	out := make([]byte, len(buf)*2)
	for i, v := range buf {
		out[i*2] = hexdigits[v>>4]
		out[i*2+1] = hexdigits[v&0x0f]
	}
	return strings.ToLower(string(out))
}
