package observers

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"testing"

	einocb "github.com/cloudwego/eino/callbacks"
	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type tokens struct {
	model              string
	prompt, completion int
}

func (t *tokens) ObserveTokens(m string, p, c int) {
	t.model, t.prompt, t.completion = m, p, c
}

func TestModelHandler_LogsAndRecordsUsage(t *testing.T) {
	var buf bytes.Buffer
	logger := zerolog.New(&buf).Level(zerolog.DebugLevel)
	rec := &tokens{}
	h := newModelHandler(logger, rec)
	info := &einocb.RunInfo{Name: "gemini"}

	h.OnStart(context.Background(), info, &model.CallbackInput{
		Messages: []*schema.Message{schema.SystemMessage("sys"), schema.UserMessage("what is a rights issue")},
		Config:   &model.Config{Model: "gemini-2.5-flash", MaxTokens: 4096},
	})
	h.OnEnd(context.Background(), info, &model.CallbackOutput{
		Message:    &schema.Message{Role: schema.Assistant, Content: "answer", ResponseMeta: &schema.ResponseMeta{FinishReason: "STOP"}},
		Config:     &model.Config{Model: "gemini-2.5-flash"},
		TokenUsage: &model.TokenUsage{PromptTokens: 10, CompletionTokens: 20, TotalTokens: 30},
	})
	h.OnError(context.Background(), info, errors.New("boom"))

	out := buf.String()
	assert.Contains(t, out, `"user":"what is a rights issue"`)
	assert.Contains(t, out, `"finish_reason":"STOP"`)
	assert.Contains(t, out, `"total_tokens":30`)
	assert.Contains(t, out, `"error":"boom"`)
	assert.Equal(t, &tokens{model: "gemini-2.5-flash", prompt: 10, completion: 20}, rec)
}

func TestModelHandler_FallsBackToRunInfoName(t *testing.T) {
	rec := &tokens{}
	h := newModelHandler(zerolog.Nop(), rec)
	h.OnEnd(context.Background(), &einocb.RunInfo{Name: "fake"}, &model.CallbackOutput{
		TokenUsage: &model.TokenUsage{PromptTokens: 1},
	})
	assert.Equal(t, "fake", rec.model)
}

func TestPreview(t *testing.T) {
	assert.Equal(t, "a b", preview(" a \n b "))
	long := strings.Repeat("x", previewChars+10)
	got := preview(long)
	require.True(t, strings.HasSuffix(got, "…"))
	assert.Len(t, []rune(got), previewChars+1)
}

func TestNewAllCallbacks(t *testing.T) {
	assert.NotNil(t, NewAllCallbacks(zerolog.Nop(), nil))
}
