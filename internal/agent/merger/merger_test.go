package merger

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Chative-core-poc-v1/advisor/internal/agent/conversations"
	"github.com/Chative-core-poc-v1/advisor/internal/agent/model"
	errx "github.com/Chative-core-poc-v1/advisor/internal/core/error"
)

func TestMerger_SeamlessRewritesSameMessage(t *testing.T) {
	log := conversations.NewLog()
	m := New(log, 1, conversations.Always, model.MergeSeamless)

	draft, err := m.Start("The timetable starts at T+0 with the announce")
	require.NoError(t, err)
	require.NoError(t, m.Append(draft, "ment and ends at T+20.", 2))

	require.Equal(t, 1, log.Len())
	msg, ok := log.Get(draft.MessageID)
	require.True(t, ok)
	assert.Equal(t, "The timetable starts at T+0 with the announcement and ends at T+20.", msg.Content)
	assert.Equal(t, 2, msg.Batches)
	assert.Equal(t, model.MergeSeamless, draft.Mode)
	assert.True(t, draft.ModeFixed)
}

func TestMerger_LabeledStripsTokensAndNumbersParts(t *testing.T) {
	log := conversations.NewLog()
	m := New(log, 1, conversations.Always, model.MergeLabeled)

	draft, err := m.Start("Part one text")
	require.NoError(t, err)
	require.NoError(t, m.Append(draft, "[CONTINUATION batch 2/4] second", 2))
	require.NoError(t, m.Append(draft, "third", 3))

	msg, _ := log.Get(draft.MessageID)
	assert.Equal(t, "Part one text\n\n[Part 2]\nsecond\n\n[Part 3]\nthird", msg.Content)
	assert.Equal(t, 1, log.Len())
}

func TestMerger_AppendIsIdempotent(t *testing.T) {
	log := conversations.NewLog()
	m := New(log, 1, conversations.Always, model.MergeSeamless)

	draft, err := m.Start("abc")
	require.NoError(t, err)
	require.NoError(t, m.Append(draft, "def", 2))

	err = m.Append(draft, "def", 2)
	require.Error(t, err)
	assert.True(t, errors.Is(err, errx.ErrBatchOutOfOrder))

	err = m.Append(draft, "xyz", 4)
	assert.True(t, errors.Is(err, errx.ErrBatchOutOfOrder))

	msg, _ := log.Get(draft.MessageID)
	assert.Equal(t, "abcdef", msg.Content)
	assert.Len(t, draft.Fragments, 2)
}

func TestMerger_SealFreezes(t *testing.T) {
	log := conversations.NewLog()
	m := New(log, 1, conversations.Always, model.MergeSeamless)

	draft, err := m.Start("abc")
	require.NoError(t, err)
	require.NoError(t, m.Seal(draft, true))
	require.NoError(t, m.Seal(draft, false))

	msg, _ := log.Get(draft.MessageID)
	assert.True(t, msg.IsTruncated)
	assert.True(t, draft.IsTruncated)

	err = m.Append(draft, "def", 2)
	assert.True(t, errors.Is(err, errx.ErrDraftSealed))
	assert.True(t, errors.Is(m.Hold(draft), errx.ErrDraftSealed))
}

func TestMerger_HoldKeepsDraftOpen(t *testing.T) {
	log := conversations.NewLog()
	m := New(log, 1, conversations.Always, model.MergeSeamless)

	draft, err := m.Start("abc")
	require.NoError(t, err)
	require.NoError(t, m.Hold(draft))
	require.NoError(t, m.Append(draft, "def", 2))
	require.NoError(t, m.Seal(draft, false))

	msg, _ := log.Get(draft.MessageID)
	assert.False(t, msg.IsTruncated)
	assert.Equal(t, "abcdef", msg.Content)
}

func TestMerger_StaleGuardLeavesDraftUntouched(t *testing.T) {
	log := conversations.NewLog()
	current := true
	m := New(log, 1, func() bool { return current }, model.MergeSeamless)

	draft, err := m.Start("abc")
	require.NoError(t, err)

	current = false
	err = m.Append(draft, "def", 2)
	assert.True(t, errors.Is(err, errx.ErrStaleQuery))
	assert.Len(t, draft.Fragments, 1)
	assert.False(t, draft.ModeFixed)

	_, err = m.Fail("boom")
	assert.True(t, errors.Is(err, errx.ErrStaleQuery))
	assert.Equal(t, 1, log.Len())
}

func TestMerger_FailWritesErrorMessage(t *testing.T) {
	log := conversations.NewLog()
	m := New(log, 7, nil, "bogus")

	msg, err := m.Fail("Sorry, the advisor could not answer.")
	require.NoError(t, err)
	assert.True(t, msg.IsError)
	assert.Equal(t, uint64(7), msg.QueryID)
	assert.Equal(t, model.RoleAssistant, msg.Role)
}

func TestMerger_WarnAnnotatesMessage(t *testing.T) {
	log := conversations.NewLog()
	m := New(log, 1, nil, model.MergeSeamless)

	draft, err := m.Start("Based on your query about rights issues, here is a summary.", "degraded")
	require.NoError(t, err)
	require.NoError(t, m.Warn(draft, "second"))

	msg, _ := log.Get(draft.MessageID)
	assert.Equal(t, []string{"degraded", "second"}, msg.Warnings)
}
