package observers

import (
	einocb "github.com/cloudwego/eino/callbacks"
	callbackHelper "github.com/cloudwego/eino/utils/callbacks"
	"github.com/rs/zerolog"
)

// TokenRecorder receives the token usage reported by every model call.
type TokenRecorder interface {
	ObserveTokens(model string, promptTokens, completionTokens int)
}

// NewAllCallbacks aggregates the prompt and model observers into one
// callbacks.Handler. rec may be nil.
func NewAllCallbacks(logger zerolog.Logger, rec TokenRecorder) einocb.Handler {
	return callbackHelper.NewHandlerHelper().
		ChatModel(newModelHandler(logger, rec)).
		Prompt(newPromptHandler(logger)).
		Handler()
}
