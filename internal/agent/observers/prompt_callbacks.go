package observers

import (
	"context"

	einocb "github.com/cloudwego/eino/callbacks"
	"github.com/cloudwego/eino/components/prompt"
	callbackHelper "github.com/cloudwego/eino/utils/callbacks"
	"github.com/rs/zerolog"
)

func newPromptHandler(logger zerolog.Logger) *callbackHelper.PromptCallbackHandler {
	return &callbackHelper.PromptCallbackHandler{
		OnStart: func(ctx context.Context, info *einocb.RunInfo, input *prompt.CallbackInput) context.Context {
			ev := logger.Trace().Str("callback", "prompt").Str("name", info.Name)
			if input != nil {
				ev = ev.Int("variables", len(input.Variables))
			}
			ev.Msg("prompt render start")
			return ctx
		},
		OnEnd: func(ctx context.Context, info *einocb.RunInfo, output *prompt.CallbackOutput) context.Context {
			ev := logger.Trace().Str("callback", "prompt").Str("name", info.Name)
			if output != nil {
				ev = ev.Int("messages", len(output.Result))
				if n := len(output.Result); n > 0 && output.Result[n-1] != nil {
					ev = ev.Str("rendered", preview(output.Result[n-1].Content))
				}
			}
			ev.Msg("prompt render end")
			return ctx
		},
		OnError: func(ctx context.Context, info *einocb.RunInfo, err error) context.Context {
			logger.Warn().Err(err).Str("callback", "prompt").Str("name", info.Name).Msg("prompt render failed")
			return ctx
		},
	}
}
