package agentmsg

import (
	"path/filepath"
	"testing"

	"github.com/safeai-run/safeai/pkg/approval"
	"github.com/safeai-run/safeai/pkg/audit"
	"github.com/safeai-run/safeai/pkg/classifier"
	"github.com/safeai-run/safeai/pkg/policy"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testLogger(t *testing.T) *audit.Logger {
	t.Helper()
	return audit.NewLogger(filepath.Join(t.TempDir(), "audit.jsonl"))
}

func testApprovals(t *testing.T) *approval.Manager {
	t.Helper()
	m, err := approval.NewManager(nil, "1h", nil)
	require.NoError(t, err)
	return m
}

func TestRouteAllowsCleanMessage(t *testing.T) {
	engine := policy.NewEngine([]policy.Rule{
		{Name: "default-allow", Boundary: []string{"action"}, Action: policy.ActionAllow, Reason: "ok"},
	})
	p := New(engine, testLogger(t), nil, nil)

	result := p.Route(Message{SourceAgentID: "agent-a", DestinationAgentID: "agent-b", Body: "hello there"})
	assert.True(t, result.Delivered)
	assert.Equal(t, policy.ActionAllow, result.Decision.Action)
}

func TestRouteBlocksOnDefaultDeny(t *testing.T) {
	engine := policy.NewEngine(nil)
	p := New(engine, testLogger(t), nil, nil)

	result := p.Route(Message{SourceAgentID: "agent-a", DestinationAgentID: "agent-b", Body: "plain text"})
	assert.False(t, result.Delivered)
	assert.Equal(t, policy.ActionBlock, result.Decision.Action)
}

func TestRouteUnionsDetectedAndSuppliedTags(t *testing.T) {
	cls, err := classifier.New([]classifier.Pattern{
		{Name: "ssn", Tag: "pii.ssn", Pattern: `\d{3}-\d{2}-\d{4}`},
	})
	require.NoError(t, err)
	engine := policy.NewEngine([]policy.Rule{
		{Name: "pii", Boundary: []string{"action"}, Action: policy.ActionBlock, Reason: "pii", Condition: policy.Condition{DataTags: []string{"pii.ssn"}}},
	})
	p := New(engine, testLogger(t), cls, nil)

	result := p.Route(Message{SourceAgentID: "agent-a", DestinationAgentID: "agent-b", Body: "ssn is 123-45-6789"})
	assert.Contains(t, result.DetectedTags, "pii.ssn")
	assert.Equal(t, policy.ActionBlock, result.Decision.Action)
}

func TestRouteOpensApprovalRequestOnRequireApproval(t *testing.T) {
	engine := policy.NewEngine([]policy.Rule{
		{Name: "needs-approval", Boundary: []string{"action"}, Action: policy.ActionRequireApproval, Reason: "sensitive"},
	})
	p := New(engine, testLogger(t), nil, testApprovals(t))

	result := p.Route(Message{SourceAgentID: "agent-a", DestinationAgentID: "agent-b", SessionID: "sess-1", Body: "wire the funds"})
	assert.False(t, result.Delivered)
	assert.NotEmpty(t, result.ApprovalRequestID)
}

func TestRouteHonorsApprovedRequest(t *testing.T) {
	engine := policy.NewEngine([]policy.Rule{
		{Name: "needs-approval", Boundary: []string{"action"}, Action: policy.ActionRequireApproval, Reason: "sensitive"},
	})
	approvals := testApprovals(t)
	p := New(engine, testLogger(t), nil, approvals)

	first := p.Route(Message{SourceAgentID: "agent-a", DestinationAgentID: "agent-b", SessionID: "sess-1", Body: "wire the funds"})
	require.NotEmpty(t, first.ApprovalRequestID)
	require.True(t, approvals.Approve(first.ApprovalRequestID, "human-1", "looks fine"))

	second := p.Route(Message{
		SourceAgentID: "agent-a", DestinationAgentID: "agent-b", SessionID: "sess-1",
		Body: "wire the funds", ApprovalRequestID: first.ApprovalRequestID,
	})
	assert.True(t, second.Delivered)
}
