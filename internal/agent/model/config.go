package model

import "time"

// ================ Config ================
type GatewayConfig struct {
	Model          string        `envconfig:"RESPONSE_MODEL" default:"gemini-2.5-flash"`
	MaxTokens      int           `envconfig:"RESPONSE_MAX_TOKENS" default:"4096"`
	Temperature    float32       `envconfig:"RESPONSE_TEMPERATURE" default:"0.7"`
	ThinkingBudget int32         `envconfig:"RESPONSE_THINKING_BUDGET" default:"0"`
	Timeout        time.Duration `envconfig:"RESPONSE_TIMEOUT" default:"90s"`
}

type OrchestratorConfig struct {
	AutoBatch             bool      `envconfig:"AUTO_BATCH" default:"true"`
	MaxAutoBatches        int       `envconfig:"MAX_AUTO_BATCHES" default:"4"`
	MergeMode             MergeMode `envconfig:"MERGE_MODE" default:"seamless"`
	InitialRetries        int       `envconfig:"INITIAL_RETRIES" default:"2"`
	ContinuationTailChars int       `envconfig:"CONTINUATION_TAIL_CHARS" default:"600"`
	PrioritizeFAQ         bool      `envconfig:"PRIORITIZE_FAQ" default:"true"`
	EventBuffer           int       `envconfig:"EVENT_BUFFER" default:"64"`
}

// RetryConfig holds the escalation constants. MaxTokensCeiling is the single
// absolute clamp applied to every attempt regardless of query shape.
type RetryConfig struct {
	BaseTemperature  float32 `envconfig:"RETRY_BASE_TEMPERATURE" default:"0.7"`
	FloorTemperature float32 `envconfig:"RETRY_FLOOR_TEMPERATURE" default:"0.1"`
	TemperatureStep  float32 `envconfig:"RETRY_TEMPERATURE_STEP" default:"0.2"`
	BaseMaxTokens    int     `envconfig:"RETRY_BASE_MAX_TOKENS" default:"4096"`
	TokenFactor      float64 `envconfig:"RETRY_TOKEN_FACTOR" default:"1.5"`
	MaxTokensCeiling int     `envconfig:"RETRY_MAX_TOKENS_CEILING" default:"16384"`
}

type RetrievalConfig struct {
	KnowledgeBasePath string        `envconfig:"KNOWLEDGE_BASE_PATH"`
	LiveSearchURL     string        `envconfig:"LIVE_SEARCH_URL"`
	LiveSearchTimeout time.Duration `envconfig:"LIVE_SEARCH_TIMEOUT" default:"8s"`
	SearchLimit       int           `envconfig:"SEARCH_LIMIT" default:"5"`
	MaxContextChars   int           `envconfig:"MAX_CONTEXT_CHARS" default:"6000"`
	CacheTTL          time.Duration `envconfig:"CONTEXT_CACHE_TTL" default:"30m"`
}

type MetricsConfig struct {
	Addr string `envconfig:"METRICS_ADDR"`
}

// DefaultRetryConfig mirrors the envconfig defaults for callers that build
// components without the environment.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		BaseTemperature:  0.7,
		FloorTemperature: 0.1,
		TemperatureStep:  0.2,
		BaseMaxTokens:    4096,
		TokenFactor:      1.5,
		MaxTokensCeiling: 16384,
	}
}

func DefaultOrchestratorConfig() OrchestratorConfig {
	return OrchestratorConfig{
		AutoBatch:             true,
		MaxAutoBatches:        4,
		MergeMode:             MergeSeamless,
		InitialRetries:        2,
		ContinuationTailChars: 600,
		PrioritizeFAQ:         true,
		EventBuffer:           64,
	}
}
