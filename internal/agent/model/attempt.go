package model

import "time"

// Format is the output format hint sent with a generation request.
type Format string

const (
	FormatText Format = "text"
	FormatJSON Format = "json"
)

// AttemptParams are the requested parameters of one gateway call.
// BasePrompt is the unmarked prompt that every escalation starts from.
type AttemptParams struct {
	Index       int     `json:"index"`
	Shape       Shape   `json:"shape,omitempty"`
	BasePrompt  string  `json:"-"`
	Prompt      string  `json:"prompt"`
	Temperature float32 `json:"temperature"`
	MaxTokens   int     `json:"max_tokens"`
	Format      Format  `json:"format,omitempty"`
	RetryMarker string  `json:"retry_marker,omitempty"`
}

type Confidence string

const (
	ConfidenceLow    Confidence = "low"
	ConfidenceMedium Confidence = "medium"
	ConfidenceHigh   Confidence = "high"
)

// TruncationVerdict is the completeness judgment for one attempt's text.
// Reasons may be non-empty on a complete verdict (soft notes).
type TruncationVerdict struct {
	IsComplete bool       `json:"is_complete"`
	Reasons    []string   `json:"reasons"`
	Confidence Confidence `json:"confidence"`
}

// Completeness is the gateway's own view of whether its answer is whole.
type Completeness struct {
	IsComplete bool     `json:"isComplete"`
	Confidence string   `json:"confidence"`
	Reasons    []string `json:"reasons,omitempty"`
}

// ResponseMetadata is the optional metadata block of a gateway response.
type ResponseMetadata struct {
	IsBackupResponse     bool          `json:"isBackupResponse,omitempty"`
	ResponseCompleteness *Completeness `json:"responseCompleteness,omitempty"`
	FinishReason         string        `json:"finishReason,omitempty"`
}

// Attempt is one request/response round trip with the gateway.
type Attempt struct {
	Params     AttemptParams     `json:"params"`
	Text       string            `json:"text"`
	Elapsed    time.Duration     `json:"elapsed"`
	Verdict    TruncationVerdict `json:"verdict"`
	Metadata   *ResponseMetadata `json:"metadata,omitempty"`
	IsFallback bool              `json:"is_fallback"`
	CostUSD    float64           `json:"cost_usd"`
	Err        error             `json:"-"`
}

// Failed reports whether the gateway call itself failed.
func (a *Attempt) Failed() bool {
	return a != nil && a.Err != nil
}
