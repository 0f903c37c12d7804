// Package safeai is the composition root: it constructs every registry
// and component the engine needs and wires them together by
// dependency injection, mirroring an SDK facade. No package under
// pkg/ imports this one, and this package holds no back-references
// into the components it wires — each component is constructed from
// plain data (rules, contracts, identities, schemas) the caller loads
// separately, usually via pkg/config.
package safeai

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/safeai-run/safeai/pkg/agentmsg"
	"github.com/safeai-run/safeai/pkg/alert"
	"github.com/safeai-run/safeai/pkg/approval"
	"github.com/safeai-run/safeai/pkg/audit"
	"github.com/safeai-run/safeai/pkg/capability"
	"github.com/safeai-run/safeai/pkg/classifier"
	"github.com/safeai-run/safeai/pkg/config"
	"github.com/safeai-run/safeai/pkg/contract"
	"github.com/safeai-run/safeai/pkg/guard"
	"github.com/safeai-run/safeai/pkg/identity"
	"github.com/safeai-run/safeai/pkg/interceptor"
	"github.com/safeai-run/safeai/pkg/memory"
	"github.com/safeai-run/safeai/pkg/policy"
	"github.com/safeai-run/safeai/pkg/scanner"
	"github.com/safeai-run/safeai/pkg/secretmgr"
)

// Options configures Engine construction. AuditLogPath is required;
// everything else has a safe zero value.
type Options struct {
	AuditLogPath     string
	Clock            func() time.Time
	ClassifierExtras []classifier.Pattern
}

// Engine is the fully wired runtime: one shared policy engine (rules
// carry their own boundary set, so input/action/output/memory
// decisions all flow through the same evaluator), one audit logger,
// and every boundary/registry component built on top of them.
type Engine struct {
	Policy       *policy.Engine
	Audit        *audit.Logger
	Classifier   *classifier.Classifier
	Contracts    *contract.Registry
	Identities   *identity.Registry
	Capabilities *capability.Manager
	Approvals    *approval.Manager
	Secrets      *secretmgr.Manager

	InputScanner      *scanner.TextScanner
	StructuredScanner *scanner.StructuredScanner
	OutputGuard       *guard.Guard
	Interceptor       *interceptor.Interceptor
	AgentMessages     *agentmsg.Pipeline
	Alerts            *alert.Evaluator

	mu     sync.RWMutex
	memory map[string]*memory.Controller
	clock  func() time.Time
}

// New constructs an Engine with an empty rule set and no loaded
// documents; call Reload to install a config.Bundle.
func New(opts Options) (*Engine, error) {
	if opts.AuditLogPath == "" {
		return nil, fmt.Errorf("safeai: AuditLogPath is required")
	}
	clock := opts.Clock
	if clock == nil {
		clock = time.Now
	}

	cls, err := classifier.NewDefault(opts.ClassifierExtras)
	if err != nil {
		return nil, fmt.Errorf("safeai: building classifier: %w", err)
	}

	policyEngine := policy.NewEngine(nil)
	auditLogger := audit.NewLogger(opts.AuditLogPath)
	contracts := contract.NewRegistry(nil)
	identities := identity.NewRegistry(nil)
	capabilities := capability.NewManager(clock)
	approvals, err := approval.NewManager(nil, "30m", clock)
	if err != nil {
		return nil, fmt.Errorf("safeai: building approval manager: %w", err)
	}
	secrets := secretmgr.NewManager(capabilities)

	e := &Engine{
		Policy:       policyEngine,
		Audit:        auditLogger,
		Classifier:   cls,
		Contracts:    contracts,
		Identities:   identities,
		Capabilities: capabilities,
		Approvals:    approvals,
		Secrets:      secrets,

		InputScanner:      scanner.NewTextScanner(cls, policyEngine, auditLogger),
		StructuredScanner: scanner.NewStructuredScanner(cls, policyEngine, auditLogger),
		OutputGuard:       guard.New(cls, policyEngine, auditLogger),
		Interceptor:       interceptor.New(policyEngine, auditLogger, contracts, identities, capabilities, approvals, cls),
		AgentMessages:     agentmsg.New(policyEngine, auditLogger, cls, approvals),
		Alerts:            alert.NewEvaluator(clock),

		memory: make(map[string]*memory.Controller),
		clock:  clock,
	}
	return e, nil
}

// Reload installs a freshly loaded config.Bundle: the policy rule list,
// the contract/identity registries, and the memory controller set are
// all swapped atomically relative to each other's own lock, matching
// spec.md §7's "no partial state is installed" rule — Load already
// validates every document before Reload is ever called, so this step
// cannot itself fail.
func (e *Engine) Reload(bundle config.Bundle) {
	e.Policy.Load(bundle.Rules)
	e.Contracts.Load(bundle.Contracts)
	e.Identities.Load(bundle.Identites)

	e.Alerts = alert.NewEvaluator(e.clock)
	for _, rule := range bundle.Alerts {
		_ = e.Alerts.AddRule(rule)
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	e.memory = make(map[string]*memory.Controller, len(bundle.Memories))
	for _, schema := range bundle.Memories {
		if ctrl := memory.NewController(schema, e.Policy, e.Audit, e.clock); ctrl != nil {
			e.memory[schema.Name] = ctrl
		}
	}
}

// Memory returns the controller for a loaded memory schema, or nil if
// no schema by that name has been loaded.
func (e *Engine) Memory(schemaName string) *memory.Controller {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.memory[schemaName]
}

// MemorySchemaNames lists every loaded memory schema, sorted.
func (e *Engine) MemorySchemaNames() []string {
	e.mu.RLock()
	defer e.mu.RUnlock()
	names := make([]string, 0, len(e.memory))
	for name := range e.memory {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
