// Package agentmsg implements the agent-to-agent message pipeline: a
// classifier pass over the message body, an action-boundary policy
// evaluation keyed to the detected tags, and the same approval-gating
// pattern the action interceptor uses for tool calls.
package agentmsg

import (
	"github.com/safeai-run/safeai/pkg/approval"
	"github.com/safeai-run/safeai/pkg/audit"
	"github.com/safeai-run/safeai/pkg/classifier"
	"github.com/safeai-run/safeai/pkg/policy"
)

// Message is one agent-to-agent payload awaiting delivery.
type Message struct {
	SourceAgentID      string
	DestinationAgentID string
	SessionID          string
	Body               string
	// DataTags, when non-empty, are unioned with the classifier's own
	// detections instead of replacing them.
	DataTags []string
	// ApprovalRequestID, when set, is validated instead of opening a new
	// approval request (mirrors the interceptor's request-reuse path).
	ApprovalRequestID string
}

// Result is the outcome of routing a Message through the pipeline.
type Result struct {
	Decision          policy.Decision
	DetectedTags      []string
	ApprovalRequestID string
	Delivered         bool
}

// Pipeline routes inter-agent messages through classification, policy,
// and approval. It holds no back-reference to any other registry.
type Pipeline struct {
	policyEngine *policy.Engine
	audit        *audit.Logger
	classifier   *classifier.Classifier
	approvals    *approval.Manager
}

// New constructs a Pipeline. A nil classifier defaults to an empty one
// (no patterns, so Classify never matches).
func New(policyEngine *policy.Engine, auditLogger *audit.Logger, cls *classifier.Classifier, approvals *approval.Manager) *Pipeline {
	if cls == nil {
		cls, _ = classifier.New(nil)
	}
	return &Pipeline{policyEngine: policyEngine, audit: auditLogger, classifier: cls, approvals: approvals}
}

// Route classifies msg.Body, evaluates policy over the union of
// detected and caller-supplied tags, and gates on approval when the
// decision requires one. It always emits one action-boundary audit
// event before returning.
func (p *Pipeline) Route(msg Message) Result {
	detections := p.classifier.Classify(msg.Body)
	detectedTags := classifier.Tags(detections)
	tags := unionTags(detectedTags, msg.DataTags)

	decision := policy.DefaultDenyDecision()
	if p.policyEngine != nil {
		decision = p.policyEngine.Evaluate(policy.Context{
			Boundary:   audit.BoundaryAction,
			DataTags:   tags,
			AgentID:    msg.SourceAgentID,
			ActionType: "agent_message",
		})
	}

	approvalRequestID := msg.ApprovalRequestID
	if decision.Action == policy.ActionRequireApproval {
		decision, approvalRequestID = p.gateApproval(msg, decision, tags)
	}

	p.emit(msg, decision, tags, approvalRequestID)

	return Result{
		Decision:          decision,
		DetectedTags:      tags,
		ApprovalRequestID: approvalRequestID,
		Delivered:         decision.Action == policy.ActionAllow,
	}
}

func (p *Pipeline) gateApproval(msg Message, decision policy.Decision, tags []string) (policy.Decision, string) {
	if p.approvals == nil {
		return decision, msg.ApprovalRequestID
	}

	if msg.ApprovalRequestID != "" {
		result := p.approvals.Validate(msg.ApprovalRequestID, msg.SourceAgentID, "agent_message", msg.SessionID)
		if result.Allowed {
			return policy.Decision{Action: policy.ActionAllow, PolicyName: decision.PolicyName, Reason: "approval granted"}, msg.ApprovalRequestID
		}
		if result.Request != nil && result.Request.Status == approval.StatusDenied {
			return policy.Decision{Action: policy.ActionBlock, PolicyName: decision.PolicyName, Reason: "approval denied"}, msg.ApprovalRequestID
		}
		return decision, msg.ApprovalRequestID
	}

	req, err := p.approvals.CreateRequest(approval.CreateParams{
		AgentID:   msg.SourceAgentID,
		ToolName:  "agent_message",
		SessionID: msg.SessionID,
		DataTags:  tags,
		Reason:    decision.Reason,
		DedupeKey: msg.SourceAgentID + "|" + msg.DestinationAgentID + "|" + msg.SessionID,
		Metadata: map[string]any{
			"destination_agent_id": msg.DestinationAgentID,
		},
	})
	if err != nil {
		return decision, ""
	}
	return decision, req.RequestID
}

func (p *Pipeline) emit(msg Message, decision policy.Decision, tags []string, approvalRequestID string) {
	if p.audit == nil {
		return
	}
	_, _ = p.audit.Emit(audit.Event{
		Boundary:           audit.BoundaryAction,
		Action:             string(decision.Action),
		PolicyName:         decision.PolicyName,
		Reason:             decision.Reason,
		DataTags:           tags,
		AgentID:            msg.SourceAgentID,
		SessionID:          msg.SessionID,
		SourceAgentID:      msg.SourceAgentID,
		DestinationAgentID: msg.DestinationAgentID,
		Metadata: map[string]any{
			"phase":               "agent_message",
			"approval_request_id": approvalRequestID,
		},
	})
}

func unionTags(a, b []string) []string {
	seen := make(map[string]struct{}, len(a)+len(b))
	out := make([]string, 0, len(a)+len(b))
	for _, list := range [][]string{a, b} {
		for _, t := range list {
			if t == "" {
				continue
			}
			if _, ok := seen[t]; ok {
				continue
			}
			seen[t] = struct{}{}
			out = append(out, t)
		}
	}
	return out
}
