package observers

import (
	"context"
	"strings"

	einocb "github.com/cloudwego/eino/callbacks"
	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"
	callbackHelper "github.com/cloudwego/eino/utils/callbacks"
	"github.com/rs/zerolog"
)

const previewChars = 160

// newModelHandler builds a typed ModelCallbackHandler that logs the last user
// message, the reply and token usage around every model call.
func newModelHandler(logger zerolog.Logger, rec TokenRecorder) *callbackHelper.ModelCallbackHandler {
	return &callbackHelper.ModelCallbackHandler{
		OnStart: func(ctx context.Context, info *einocb.RunInfo, input *model.CallbackInput) context.Context {
			ev := logger.Debug().Str("callback", "model").Str("name", info.Name)
			if input != nil {
				ev = ev.Int("messages", len(input.Messages)).Str("user", preview(lastUserContent(input.Messages)))
				if input.Config != nil {
					ev = ev.Str("model", input.Config.Model).
						Int("max_tokens", input.Config.MaxTokens).
						Float32("temperature", input.Config.Temperature)
				}
			}
			ev.Msg("model call start")
			return ctx
		},
		OnEnd: func(ctx context.Context, info *einocb.RunInfo, output *model.CallbackOutput) context.Context {
			ev := logger.Debug().Str("callback", "model").Str("name", info.Name)
			if output == nil {
				ev.Msg("model call end")
				return ctx
			}
			if output.Message != nil {
				ev = ev.Str("assistant", preview(output.Message.Content))
				if output.Message.ResponseMeta != nil {
					ev = ev.Str("finish_reason", output.Message.ResponseMeta.FinishReason)
				}
			}
			if u := output.TokenUsage; u != nil {
				ev = ev.Int("prompt_tokens", u.PromptTokens).
					Int("completion_tokens", u.CompletionTokens).
					Int("total_tokens", u.TotalTokens)
				if rec != nil {
					rec.ObserveTokens(modelName(info, output.Config), u.PromptTokens, u.CompletionTokens)
				}
			}
			ev.Msg("model call end")
			return ctx
		},
		OnError: func(ctx context.Context, info *einocb.RunInfo, err error) context.Context {
			logger.Warn().Err(err).Str("callback", "model").Str("name", info.Name).Msg("model call failed")
			return ctx
		},
	}
}

func modelName(info *einocb.RunInfo, cfg *model.Config) string {
	if cfg != nil && cfg.Model != "" {
		return cfg.Model
	}
	return info.Name
}

func lastUserContent(msgs []*schema.Message) string {
	for i := len(msgs) - 1; i >= 0; i-- {
		m := msgs[i]
		if m == nil {
			continue
		}
		if m.Role == schema.User {
			return strings.TrimSpace(m.Content)
		}
	}
	return ""
}

func preview(s string) string {
	s = strings.Join(strings.Fields(s), " ")
	r := []rune(s)
	if len(r) <= previewChars {
		return s
	}
	return string(r[:previewChars]) + "…"
}
