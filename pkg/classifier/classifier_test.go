package classifier

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestClassifyOrdersByPosition(t *testing.T) {
	c, err := NewDefault(nil)
	require.NoError(t, err)

	detections := c.Classify("contact alice@example.com, token=sk-ABCDEF1234567890ABCDEF")
	require.NotEmpty(t, detections)
	for i := 1; i < len(detections); i++ {
		require.LessOrEqual(t, detections[i-1].Start, detections[i].Start)
	}
}

func TestClassifyEmitsOverlappingDetectors(t *testing.T) {
	c, err := NewDefault(nil)
	require.NoError(t, err)

	detections := c.Classify("token=sk-ABCDEF1234567890ABCDEF")
	names := map[string]bool{}
	for _, d := range detections {
		names[d.Detector] = true
	}
	require.True(t, names["openai_key"])
	require.True(t, names["generic_token"])
}

func TestClassifyInvalidPatternFails(t *testing.T) {
	_, err := New([]Pattern{{Name: "bad", Tag: "x", Pattern: "("}})
	require.Error(t, err)
}

func TestTagsDeduplicatesAndSorts(t *testing.T) {
	detections := []Detection{{Tag: "secret.token"}, {Tag: "personal.pii"}, {Tag: "secret.token"}}
	require.Equal(t, []string{"personal.pii", "secret.token"}, Tags(detections))
}
