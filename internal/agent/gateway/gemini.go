package gateway

import (
	"context"
	"fmt"

	"github.com/cloudwego/eino-ext/components/model/gemini"
	"google.golang.org/genai"

	"github.com/Chative-core-poc-v1/advisor/internal/agent/model"
	logx "github.com/Chative-core-poc-v1/advisor/pkg/logger"
)

// GeminiConfig holds the provider credentials.
type GeminiConfig struct {
	APIKey  string `envconfig:"GEMINI_API_KEY"`
	BaseURL string `envconfig:"GEMINI_BASE_URL"`
}

// NewGeminiChatModel creates the production chat model. Per-attempt
// temperature and token budget are passed as call options and override
// the defaults set here.
func NewGeminiChatModel(ctx context.Context, creds GeminiConfig, cfg model.GatewayConfig) (*gemini.ChatModel, error) {
	if creds.APIKey == "" {
		return nil, fmt.Errorf("GEMINI_API_KEY is not set")
	}
	clientCfg := &genai.ClientConfig{
		APIKey:  creds.APIKey,
		Backend: genai.BackendGeminiAPI,
	}
	if creds.BaseURL != "" {
		clientCfg.HTTPOptions.BaseURL = creds.BaseURL
	}

	client, err := genai.NewClient(ctx, clientCfg)
	if err != nil {
		logx.Error().Err(err).Msg("Error creating Gemini client")
		return nil, fmt.Errorf("error creating Gemini client: %w", err)
	}

	gc := &gemini.Config{
		Client:      client,
		Model:       cfg.Model,
		Temperature: &cfg.Temperature,
		MaxTokens:   &cfg.MaxTokens,
	}
	if cfg.ThinkingBudget > 0 {
		gc.ThinkingConfig = &genai.ThinkingConfig{
			IncludeThoughts: false,
			ThinkingBudget:  genai.Ptr(cfg.ThinkingBudget),
		}
	}

	cm, err := gemini.NewChatModel(ctx, gc)
	if err != nil {
		logx.Error().Err(err).Msg("Error creating response model")
		return nil, fmt.Errorf("error creating response model: %w", err)
	}
	return cm, nil
}
