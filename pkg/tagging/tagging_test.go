package tagging

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNormalize(t *testing.T) {
	cases := map[string]string{
		"  A..B ":      "a.b",
		"Personal.PII": "personal.pii",
		"...":          "",
		"":             "",
		"already.low":  "already.low",
	}
	for in, want := range cases {
		assert.Equal(t, want, Normalize(in), "input %q", in)
	}
}

func TestExpand(t *testing.T) {
	expanded := Expand([]string{"personal.pii"})
	require.Len(t, expanded, 2)
	assert.Contains(t, expanded, "personal")
	assert.Contains(t, expanded, "personal.pii")
}

func TestIntersects(t *testing.T) {
	assert.True(t, Intersects([]string{"personal"}, []string{"personal.pii"}))
	assert.False(t, Intersects([]string{"secret"}, []string{"personal.pii"}))
	assert.False(t, Intersects(nil, []string{"personal.pii"}))
}

func TestUnauthorized(t *testing.T) {
	accepted := Set([]string{"internal"})
	got := Unauthorized([]string{"internal.notes", "secret.credential", "secret.credential"}, accepted)
	assert.Equal(t, []string{"secret.credential"}, got)
}
