package capability

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fixedClock(t time.Time) func() time.Time {
	return func() time.Time { return t }
}

func TestIssueAndValidateHappyPath(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	m := NewManager(fixedClock(now))

	token, err := m.Issue(IssueParams{
		AgentID:  "agent-a",
		ToolName: "send_email",
		Actions:  []string{"invoke"},
		TTL:      "10m",
	})
	require.NoError(t, err)
	assert.Regexp(t, `^cap_[0-9a-f]{24}$`, token.TokenID)

	result := m.Validate(ValidateParams{
		TokenID:  token.TokenID,
		AgentID:  "agent-a",
		ToolName: "send_email",
		Action:   "invoke",
	})
	assert.True(t, result.Allowed)
}

func TestIssueNormalizesActionsAndSecretKeys(t *testing.T) {
	m := NewManager(nil)
	token, err := m.Issue(IssueParams{
		AgentID:    "a",
		ToolName:   "t",
		Actions:    []string{"Invoke", "READ", "invoke", " read "},
		SecretKeys: []string{"API_KEY", "api_key", " db-password "},
	})
	require.NoError(t, err)

	assert.Equal(t, []string{"invoke", "read"}, token.Scope.Actions)
	assert.Equal(t, []string{"API_KEY", "api_key", "db-password"}, token.Scope.SecretKeys)
}

func TestIssueRejectsEmptyActions(t *testing.T) {
	m := NewManager(nil)
	_, err := m.Issue(IssueParams{AgentID: "a", ToolName: "t", Actions: []string{"  ", ""}})
	assert.Error(t, err)

	_, err = m.Issue(IssueParams{AgentID: "a", ToolName: "t"})
	assert.Error(t, err)
}

func TestValidateRejectsExpiredToken(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	current := now
	m := NewManager(func() time.Time { return current })

	token, err := m.Issue(IssueParams{AgentID: "a", ToolName: "t", Actions: []string{"invoke"}, TTL: "1m"})
	require.NoError(t, err)

	current = now.Add(2 * time.Minute)
	result := m.Validate(ValidateParams{TokenID: token.TokenID, AgentID: "a", ToolName: "t", Action: "invoke"})
	assert.False(t, result.Allowed)
}

func TestValidateRejectsMismatchedBindings(t *testing.T) {
	m := NewManager(nil)
	token, err := m.Issue(IssueParams{AgentID: "a", ToolName: "t", Actions: []string{"invoke"}, SessionID: "s1"})
	require.NoError(t, err)

	assert.False(t, m.Validate(ValidateParams{TokenID: token.TokenID, AgentID: "b", ToolName: "t", Action: "invoke", SessionID: "s1"}).Allowed)
	assert.False(t, m.Validate(ValidateParams{TokenID: token.TokenID, AgentID: "a", ToolName: "other", Action: "invoke", SessionID: "s1"}).Allowed)
	assert.False(t, m.Validate(ValidateParams{TokenID: token.TokenID, AgentID: "a", ToolName: "t", Action: "delete", SessionID: "s1"}).Allowed)
	assert.False(t, m.Validate(ValidateParams{TokenID: token.TokenID, AgentID: "a", ToolName: "t", Action: "invoke", SessionID: "s2"}).Allowed)
}

func TestRevokeIsIdempotentAndExcludesFromListActive(t *testing.T) {
	m := NewManager(nil)
	token, err := m.Issue(IssueParams{AgentID: "a", ToolName: "t", Actions: []string{"invoke"}})
	require.NoError(t, err)

	assert.True(t, m.Revoke(token.TokenID))
	assert.False(t, m.Revoke(token.TokenID))

	result := m.Validate(ValidateParams{TokenID: token.TokenID, AgentID: "a", ToolName: "t", Action: "invoke"})
	assert.False(t, result.Allowed)
	assert.Empty(t, m.ListActive(ListActiveParams{AgentID: "a"}))
}

func TestPurgeExpiredRemovesDeadTokens(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	current := now
	m := NewManager(func() time.Time { return current })

	_, err := m.Issue(IssueParams{AgentID: "a", ToolName: "t", Actions: []string{"invoke"}, TTL: "1m"})
	require.NoError(t, err)

	current = now.Add(2 * time.Minute)
	assert.Equal(t, 1, m.PurgeExpired())
	assert.Equal(t, 0, m.PurgeExpired())
}

func TestListActiveOrdersNewestFirst(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	current := now
	m := NewManager(func() time.Time { return current })

	first, err := m.Issue(IssueParams{AgentID: "a", ToolName: "t", Actions: []string{"invoke"}})
	require.NoError(t, err)
	current = now.Add(time.Second)
	second, err := m.Issue(IssueParams{AgentID: "a", ToolName: "t", Actions: []string{"invoke"}})
	require.NoError(t, err)

	active := m.ListActive(ListActiveParams{AgentID: "a"})
	require.Len(t, active, 2)
	assert.Equal(t, second.TokenID, active[0].TokenID)
	assert.Equal(t, first.TokenID, active[1].TokenID)
}
