package safeai

import (
	"path/filepath"
	"testing"

	"github.com/safeai-run/safeai/pkg/config"
	"github.com/safeai-run/safeai/pkg/memory"
	"github.com/safeai-run/safeai/pkg/policy"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewRequiresAuditLogPath(t *testing.T) {
	_, err := New(Options{})
	assert.Error(t, err)
}

func TestNewWiresDefaultDenyEngine(t *testing.T) {
	e, err := New(Options{AuditLogPath: filepath.Join(t.TempDir(), "audit.jsonl")})
	require.NoError(t, err)

	result := e.InputScanner.Scan("nothing sensitive here", "agent-a")
	assert.Equal(t, policy.ActionBlock, result.Decision.Action)
}

func TestReloadInstallsRulesAndMemorySchemas(t *testing.T) {
	e, err := New(Options{AuditLogPath: filepath.Join(t.TempDir(), "audit.jsonl")})
	require.NoError(t, err)

	e.Reload(config.Bundle{
		Rules: []policy.Rule{
			{Name: "allow-all", Boundary: []string{"input"}, Action: policy.ActionAllow, Reason: "ok"},
		},
		Memories: []memory.Schema{
			{Name: "profile", Scope: "user", Fields: []memory.Field{{Name: "nickname", Type: "string", Retention: "1h"}}, DefaultRetention: "1h"},
		},
	})

	result := e.InputScanner.Scan("hello", "agent-a")
	assert.Equal(t, policy.ActionAllow, result.Decision.Action)

	assert.Contains(t, e.MemorySchemaNames(), "profile")
	require.NotNil(t, e.Memory("profile"))
	assert.True(t, e.Memory("profile").Write("nickname", "fox", "agent-a"))
}
