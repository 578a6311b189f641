// Package merger accumulates the batches of one query into a single
// assistant message in the conversation log.
package merger

import (
	"fmt"

	"github.com/Chative-core-poc-v1/advisor/internal/agent/conversations"
	"github.com/Chative-core-poc-v1/advisor/internal/agent/model"
	"github.com/Chative-core-poc-v1/advisor/internal/agent/prompts"
	errx "github.com/Chative-core-poc-v1/advisor/internal/core/error"
	logx "github.com/Chative-core-poc-v1/advisor/pkg/logger"
)

// Merger is bound to one query. Every log write goes through the query's
// guard, so a superseded query cannot touch the log.
type Merger struct {
	log     *conversations.Log
	guard   conversations.Guard
	queryID uint64
	mode    model.MergeMode
}

func New(log *conversations.Log, queryID uint64, guard conversations.Guard, mode model.MergeMode) *Merger {
	if !mode.Valid() {
		mode = model.MergeSeamless
	}
	if guard == nil {
		guard = conversations.Always
	}
	return &Merger{log: log, guard: guard, queryID: queryID, mode: mode}
}

// Start creates the draft and its assistant entry from the first attempt.
func (m *Merger) Start(text string, warnings ...string) (*model.ResponseDraft, error) {
	msg, err := m.log.Append(m.guard, model.Message{
		QueryID:  m.queryID,
		Role:     model.RoleAssistant,
		Content:  text,
		Warnings: warnings,
		Batches:  1,
	})
	if err != nil {
		return nil, err
	}
	return &model.ResponseDraft{
		QueryID:   m.queryID,
		MessageID: msg.ID,
		Fragments: []model.Fragment{{Batch: 1, Content: text}},
		Mode:      model.MergeSeamless,
		Warnings:  append([]string(nil), warnings...),
	}, nil
}

// Append merges the text of continuation batch into the draft. batch must be
// exactly the draft's next batch number; anything else, including a repeat
// of the last batch, is rejected without touching the draft or the log.
func (m *Merger) Append(draft *model.ResponseDraft, text string, batch int) error {
	if draft.Sealed {
		return errx.Contract(errx.ErrDraftSealed, "append batch %d to query %d", batch, draft.QueryID)
	}
	if want := draft.NextBatch(); batch != want {
		return errx.Contract(errx.ErrBatchOutOfOrder, "got batch %d, want %d", batch, want)
	}

	mode := draft.Mode
	if !draft.ModeFixed {
		mode = m.mode
	}

	fragment := model.Fragment{Batch: batch, Content: text}
	if mode == model.MergeLabeled {
		fragment.Content = fmt.Sprintf("\n\n[Part %d]\n%s", batch, prompts.StripInternalTokens(text))
	}

	content := draft.Content() + fragment.Content
	if _, err := m.log.Rewrite(m.guard, draft.MessageID, func(msg *model.Message) {
		msg.Content = content
		msg.Batches = batch
	}); err != nil {
		return err
	}

	draft.Mode, draft.ModeFixed = mode, true
	draft.Fragments = append(draft.Fragments, fragment)
	logx.Debug().
		Uint64("query_id", draft.QueryID).
		Int("batch", batch).
		Str("mode", string(mode)).
		Int("content_len", len(content)).
		Msg("merged continuation batch")
	return nil
}

// Warn attaches a warning to the draft's message.
func (m *Merger) Warn(draft *model.ResponseDraft, warning string) error {
	if _, err := m.log.Rewrite(m.guard, draft.MessageID, func(msg *model.Message) {
		msg.Warnings = append(msg.Warnings, warning)
	}); err != nil {
		return err
	}
	draft.Warnings = append(draft.Warnings, warning)
	return nil
}

// Hold marks the draft truncated while a manual continuation is on offer.
// The draft stays open for the next batch.
func (m *Merger) Hold(draft *model.ResponseDraft) error {
	if draft.Sealed {
		return errx.Contract(errx.ErrDraftSealed, "hold query %d", draft.QueryID)
	}
	if _, err := m.log.Rewrite(m.guard, draft.MessageID, func(msg *model.Message) {
		msg.IsTruncated = true
	}); err != nil {
		return err
	}
	draft.IsTruncated = true
	return nil
}

// Seal freezes the draft. truncated records that the answer is still
// incomplete.
func (m *Merger) Seal(draft *model.ResponseDraft, truncated bool) error {
	if draft.Sealed {
		return nil
	}
	if _, err := m.log.Rewrite(m.guard, draft.MessageID, func(msg *model.Message) {
		msg.IsTruncated = truncated
	}); err != nil {
		return err
	}
	draft.IsTruncated = truncated
	draft.Sealed = true
	return nil
}

// Fail writes the error-flagged terminal message of a query whose first
// attempt could not produce an answer.
func (m *Merger) Fail(message string) (model.Message, error) {
	return m.log.Append(m.guard, model.Message{
		QueryID: m.queryID,
		Role:    model.RoleAssistant,
		Content: message,
		IsError: true,
	})
}
