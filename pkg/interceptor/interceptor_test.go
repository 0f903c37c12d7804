package interceptor

import (
	"path/filepath"
	"testing"

	"github.com/safeai-run/safeai/pkg/approval"
	"github.com/safeai-run/safeai/pkg/audit"
	"github.com/safeai-run/safeai/pkg/capability"
	"github.com/safeai-run/safeai/pkg/classifier"
	"github.com/safeai-run/safeai/pkg/contract"
	"github.com/safeai-run/safeai/pkg/identity"
	"github.com/safeai-run/safeai/pkg/policy"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testLogger(t *testing.T) *audit.Logger {
	t.Helper()
	return audit.NewLogger(filepath.Join(t.TempDir(), "audit.jsonl"))
}

func testClassifier(t *testing.T) *classifier.Classifier {
	t.Helper()
	c, err := classifier.NewDefault(nil)
	require.NoError(t, err)
	return c
}

func testApprovals(t *testing.T) *approval.Manager {
	t.Helper()
	m, err := approval.NewManager(nil, "30m", nil)
	require.NoError(t, err)
	return m
}

func sampleContract() contract.Contract {
	return contract.Contract{
		ToolName:      "send_email",
		AcceptsTags:   []string{"personal"},
		AcceptsFields: []string{"to", "body"},
		EmitsTags:     []string{"personal"},
		EmitsFields:   []string{"status", "secret"},
	}
}

func TestInterceptRequestAllowsDeclaredTool(t *testing.T) {
	contracts := contract.NewRegistry([]contract.Contract{sampleContract()})
	identities := identity.NewRegistry(nil)
	engine := policy.NewEngine([]policy.Rule{
		{Name: "allow-personal", Boundary: []string{"action"}, Action: policy.ActionAllow, Reason: "ok", Condition: policy.Condition{DataTags: []string{"personal"}}},
	})
	ic := New(engine, testLogger(t), contracts, identities, capability.NewManager(nil), testApprovals(t), testClassifier(t))

	result := ic.InterceptRequest(ToolCall{
		ToolName:   "send_email",
		AgentID:    "agent-a",
		Parameters: map[string]any{"to": "a@b.com", "body": "hi", "extra": "drop-me"},
		DataTags:   []string{"personal"},
	})

	assert.Equal(t, policy.ActionAllow, result.Decision.Action)
	assert.Equal(t, map[string]any{"to": "a@b.com", "body": "hi"}, result.FilteredParams)
	assert.ElementsMatch(t, []string{"extra"}, result.StrippedFields)
}

func TestInterceptRequestBlocksUndeclaredTool(t *testing.T) {
	contracts := contract.NewRegistry(nil)
	ic := New(policy.NewEngine(nil), testLogger(t), contracts, identity.NewRegistry(nil), capability.NewManager(nil), testApprovals(t), testClassifier(t))

	result := ic.InterceptRequest(ToolCall{ToolName: "mystery_tool", AgentID: "agent-a", Parameters: map[string]any{"x": 1}})
	assert.Equal(t, policy.ActionBlock, result.Decision.Action)
	assert.Equal(t, "tool-contract", result.Decision.PolicyName)
	assert.Equal(t, map[string]any{}, result.FilteredParams)
	assert.Equal(t, []string{"x"}, result.StrippedFields)
}

func TestInterceptRequestBlocksOnBadCapabilityToken(t *testing.T) {
	contracts := contract.NewRegistry([]contract.Contract{sampleContract()})
	caps := capability.NewManager(nil)
	ic := New(policy.NewEngine(nil), testLogger(t), contracts, identity.NewRegistry(nil), caps, testApprovals(t), testClassifier(t))

	result := ic.InterceptRequest(ToolCall{
		ToolName:          "send_email",
		AgentID:           "agent-a",
		Parameters:        map[string]any{"to": "a@b.com"},
		CapabilityTokenID: "cap_nonexistent",
	})
	assert.Equal(t, policy.ActionBlock, result.Decision.Action)
	assert.Equal(t, "capability-token", result.Decision.PolicyName)
}

func TestInterceptRequestBlocksUndeclaredIdentity(t *testing.T) {
	contracts := contract.NewRegistry([]contract.Contract{sampleContract()})
	identities := identity.NewRegistry([]identity.Identity{{AgentID: "agent-known"}})
	ic := New(policy.NewEngine(nil), testLogger(t), contracts, identities, capability.NewManager(nil), testApprovals(t), testClassifier(t))

	result := ic.InterceptRequest(ToolCall{ToolName: "send_email", AgentID: "agent-unknown", Parameters: map[string]any{"to": "x"}})
	assert.Equal(t, policy.ActionBlock, result.Decision.Action)
	assert.Equal(t, "agent-identity", result.Decision.PolicyName)
}

func TestInterceptRequestOpensApprovalOnRequireApproval(t *testing.T) {
	contracts := contract.NewRegistry([]contract.Contract{sampleContract()})
	engine := policy.NewEngine([]policy.Rule{
		{Name: "gate", Boundary: []string{"action"}, Action: policy.ActionRequireApproval, Reason: "needs human", Condition: policy.Condition{DataTags: []string{"personal"}}},
	})
	approvals := testApprovals(t)
	ic := New(engine, testLogger(t), contracts, identity.NewRegistry(nil), capability.NewManager(nil), approvals, testClassifier(t))

	result := ic.InterceptRequest(ToolCall{ToolName: "send_email", AgentID: "agent-a", Parameters: map[string]any{"to": "x"}, DataTags: []string{"personal"}})
	assert.Equal(t, policy.ActionRequireApproval, result.Decision.Action)
	assert.Equal(t, map[string]any{}, result.FilteredParams)

	pending := approvals.ListRequests(approval.ListParams{AgentID: "agent-a"})
	require.Len(t, pending, 1)
	assert.Equal(t, approval.StatusPending, pending[0].Status)
}

func TestInterceptRequestHonorsApprovedRequest(t *testing.T) {
	contracts := contract.NewRegistry([]contract.Contract{sampleContract()})
	engine := policy.NewEngine([]policy.Rule{
		{Name: "gate", Boundary: []string{"action"}, Action: policy.ActionRequireApproval, Reason: "needs human", Condition: policy.Condition{DataTags: []string{"personal"}}},
	})
	approvals := testApprovals(t)
	req, err := approvals.CreateRequest(approval.CreateParams{AgentID: "agent-a", ToolName: "send_email", Reason: "needs human"})
	require.NoError(t, err)
	require.True(t, approvals.Approve(req.RequestID, "admin", "looks fine"))

	ic := New(engine, testLogger(t), contracts, identity.NewRegistry(nil), capability.NewManager(nil), approvals, testClassifier(t))
	result := ic.InterceptRequest(ToolCall{
		ToolName: "send_email", AgentID: "agent-a", Parameters: map[string]any{"to": "x"},
		DataTags: []string{"personal"}, ApprovalRequestID: req.RequestID,
	})
	assert.Equal(t, policy.ActionAllow, result.Decision.Action)
	assert.Equal(t, map[string]any{"to": "x"}, result.FilteredParams)
}

func TestInterceptResponseFiltersFieldsByEmitsAndTags(t *testing.T) {
	contracts := contract.NewRegistry([]contract.Contract{sampleContract()})
	engine := policy.NewEngine([]policy.Rule{
		{Name: "allow-all-action", Boundary: []string{"action"}, Action: policy.ActionAllow, Reason: "ok"},
	})
	ic := New(engine, testLogger(t), contracts, identity.NewRegistry(nil), capability.NewManager(nil), testApprovals(t), testClassifier(t))

	result := ic.InterceptResponse(ToolCall{ToolName: "send_email", AgentID: "agent-a"}, map[string]any{
		"status":    "sent",
		"secret":    "sk-aaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa",
		"not_emitted": "dropped because field not in emits.fields",
	})

	assert.Equal(t, "sent", result.FilteredResponse["status"])
	assert.Contains(t, result.StrippedFields, "not_emitted")
}

func TestInterceptResponseBlocksUndeclaredTool(t *testing.T) {
	contracts := contract.NewRegistry(nil)
	ic := New(policy.NewEngine(nil), testLogger(t), contracts, identity.NewRegistry(nil), capability.NewManager(nil), testApprovals(t), testClassifier(t))

	result := ic.InterceptResponse(ToolCall{ToolName: "mystery", AgentID: "agent-a"}, map[string]any{"a": 1})
	assert.Equal(t, policy.ActionBlock, result.Decision.Action)
	assert.Equal(t, []string{"a"}, result.StrippedFields)
}

func TestApprovalDedupeKeyIsStableAcrossParamOrder(t *testing.T) {
	call := ToolCall{AgentID: "a", ToolName: "t", DataTags: []string{"z", "a"}, Parameters: map[string]any{"b": 1, "a": 2}}
	reordered := ToolCall{AgentID: "a", ToolName: "t", DataTags: []string{"a", "z"}, Parameters: map[string]any{"a": 2, "b": 1}}
	assert.Equal(t, approvalDedupeKey(call, "policy"), approvalDedupeKey(reordered, "policy"))
}
