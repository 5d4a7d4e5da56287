package schemas

import (
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func entry(reply string) TranscriptEntry {
	return TranscriptEntry{Prompt: "p", Reply: reply, CreatedAt: time.Unix(0, 0).UTC()}
}

func TestDefaultState(t *testing.T) {
	s := DefaultState()
	assert.True(t, s.Done, "a fresh install must not start a loop")
	assert.Empty(t, s.UserRequest)
	assert.NotNil(t, s.DescriptionHistory)
	assert.NotNil(t, s.PreviousCode)
	assert.NotNil(t, s.Transcript)
	assert.True(t, s.Consistent())
}

func TestNewRequestState(t *testing.T) {
	now := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	s := NewRequestState("open the settings page", now)
	assert.False(t, s.Done)
	assert.Equal(t, "open the settings page", s.UserRequest)
	assert.Equal(t, now, s.UpdatedAt)
	assert.Zero(t, s.Len())
}

func TestAppendKeepsLogsParallel(t *testing.T) {
	s := NewRequestState("req", time.Time{})
	for i := 0; i < 5; i++ {
		s.Append("desc", "", entry("r"))
		require.True(t, s.Consistent())
	}
	assert.Equal(t, 5, s.Len())
}

func TestTrimEvictsOldestTogether(t *testing.T) {
	s := NewRequestState("req", time.Time{})
	s.Append("a", "codeA", entry("ra"))
	s.Append("b", "codeB", entry("rb"))
	s.Append("c", "codeC", entry("rc"))

	dropped := s.Trim(2)
	assert.Equal(t, 1, dropped)
	assert.Equal(t, []string{"b", "c"}, s.DescriptionHistory)
	assert.Equal(t, []string{"codeB", "codeC"}, s.PreviousCode)
	assert.Equal(t, "rb", s.Transcript[0].Reply)
	assert.True(t, s.Consistent())

	assert.Zero(t, s.Trim(0), "non-positive cap disables trimming")
	assert.Zero(t, s.Trim(10))
}

func TestNormalizeRepairsDrift(t *testing.T) {
	s := ActionLoopState{
		DescriptionHistory: []string{"a", "b", "c"},
		PreviousCode:       []string{"x", "y"},
	}
	s.Normalize()
	assert.True(t, s.Consistent())
	assert.Zero(t, s.Len())
	assert.NotNil(t, s.Transcript)
}

func TestCloneIsDeep(t *testing.T) {
	s := NewRequestState("req", time.Time{})
	s.Append("a", "code", entry("r"))
	c := s.Clone()
	require.Empty(t, cmp.Diff(s, c))

	c.DescriptionHistory[0] = "mutated"
	assert.Equal(t, "a", s.DescriptionHistory[0])
}

func TestGeneratedActionEmpty(t *testing.T) {
	assert.True(t, GeneratedAction{}.Empty())
	assert.False(t, GeneratedAction{Done: true}.Empty())
	assert.False(t, GeneratedAction{Code: "$('a').click()"}.Empty())
}
