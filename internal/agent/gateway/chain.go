package gateway

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	einocb "github.com/cloudwego/eino/callbacks"
	einomodel "github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/compose"
	"github.com/cloudwego/eino/schema"
	"google.golang.org/genai"

	"github.com/Chative-core-poc-v1/advisor/internal/agent/model"
	"github.com/Chative-core-poc-v1/advisor/internal/agent/prompts"
	errx "github.com/Chative-core-poc-v1/advisor/internal/core/error"
	logx "github.com/Chative-core-poc-v1/advisor/pkg/logger"
)

// extra keys a chat model may set on its reply
const (
	ExtraBackupResponse = "is_backup_response"
	ExtraCompleteness   = "response_completeness"
)

// ChainGateway runs the compiled chat template -> chat model chain.
type ChainGateway struct {
	runnable  compose.Runnable[map[string]any, *schema.Message]
	modelName string
	timeout   time.Duration
	handlers  []einocb.Handler
}

// NewChainGateway compiles the generation chain around cm. handlers receive
// the prompt and model callbacks of every call.
func NewChainGateway(ctx context.Context, cm einomodel.BaseChatModel, cfg model.GatewayConfig, handlers ...einocb.Handler) (*ChainGateway, error) {
	if cm == nil {
		return nil, fmt.Errorf("chat model is nil")
	}
	runnable, err := compose.NewChain[map[string]any, *schema.Message]().
		AppendChatTemplate(prompts.NewChatTemplate()).
		AppendChatModel(cm).
		Compile(ctx)
	if err != nil {
		return nil, fmt.Errorf("compile generation chain: %w", err)
	}
	return &ChainGateway{
		runnable:  runnable,
		modelName: cfg.Model,
		timeout:   cfg.Timeout,
		handlers:  handlers,
	}, nil
}

func (g *ChainGateway) Generate(ctx context.Context, req Request) (*Response, error) {
	if g.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, g.timeout)
		defer cancel()
	}

	opts := []compose.Option{
		compose.WithChatModelOption(
			einomodel.WithTemperature(req.Temperature),
			einomodel.WithMaxTokens(req.MaxTokens),
		),
	}
	if len(g.handlers) > 0 {
		opts = append(opts, compose.WithCallbacks(g.handlers...))
	}

	out, err := g.runnable.Invoke(ctx, prompts.Vars(req.Prompt, req.Language, req.Format), opts...)
	if err != nil {
		return nil, errx.WrapGateway(withStatus(err))
	}
	if out == nil {
		return nil, errx.WrapGateway(fmt.Errorf("model returned no message"))
	}

	resp := &Response{
		Text:     out.Content,
		Metadata: metadataOf(out),
	}
	if out.ResponseMeta != nil && out.ResponseMeta.Usage != nil {
		resp.Usage = out.ResponseMeta.Usage
		resp.Cost = model.ComputeCost(g.modelName, out.ResponseMeta.Usage)
		logx.Debug().
			Str("model", g.modelName).
			Int("prompt_tokens", resp.Cost.PromptTokens).
			Int("completion_tokens", resp.Cost.CompletionTokens).
			Float64("input_cost_usd", resp.Cost.InputUSD).
			Float64("output_cost_usd", resp.Cost.OutputUSD).
			Float64("total_cost_usd", resp.Cost.TotalUSD).
			Msg("LLM usage")
	}
	return resp, nil
}

// truncating finish reasons across providers
var lengthFinishReasons = map[string]bool{
	"max_tokens": true,
	"length":     true,
}

// metadataOf derives the completeness metadata from the finish reason and
// any extras the model attached. nil when the reply carries neither.
func metadataOf(msg *schema.Message) *model.ResponseMetadata {
	var md model.ResponseMetadata
	found := false

	if msg.ResponseMeta != nil && msg.ResponseMeta.FinishReason != "" {
		found = true
		md.FinishReason = msg.ResponseMeta.FinishReason
		if lengthFinishReasons[strings.ToLower(md.FinishReason)] {
			md.ResponseCompleteness = &model.Completeness{
				IsComplete: false,
				Confidence: string(model.ConfidenceHigh),
				Reasons:    []string{"finish reason " + md.FinishReason},
			}
		}
	}
	if v, ok := msg.Extra[ExtraBackupResponse].(bool); ok {
		found = true
		md.IsBackupResponse = v
	}
	if c, ok := msg.Extra[ExtraCompleteness].(*model.Completeness); ok && c != nil && md.ResponseCompleteness == nil {
		found = true
		md.ResponseCompleteness = c
	}
	if !found {
		return nil
	}
	return &md
}

type statusError struct {
	status int
	err    error
}

func (e *statusError) Error() string   { return e.err.Error() }
func (e *statusError) Unwrap() error   { return e.err }
func (e *statusError) StatusCode() int { return e.status }

// withStatus exposes the HTTP code of a genai API error to errx.WrapGateway.
func withStatus(err error) error {
	var apiErr genai.APIError
	if errors.As(err, &apiErr) && apiErr.Code > 0 {
		return &statusError{status: apiErr.Code, err: err}
	}
	var apiErrPtr *genai.APIError
	if errors.As(err, &apiErrPtr) && apiErrPtr != nil && apiErrPtr.Code > 0 {
		return &statusError{status: apiErrPtr.Code, err: err}
	}
	return err
}
