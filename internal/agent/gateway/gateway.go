// Package gateway sends one generation request to the model and reports
// the text, the completeness metadata and the cost of the call.
package gateway

import (
	"context"

	"github.com/cloudwego/eino/schema"

	"github.com/Chative-core-poc-v1/advisor/internal/agent/model"
)

// Request is one generation call. MaxTokens and Temperature are the values
// the retry policy chose for this attempt.
type Request struct {
	Prompt      string
	Language    string
	Temperature float32
	MaxTokens   int
	Format      model.Format
}

type Response struct {
	Text     string
	Metadata *model.ResponseMetadata
	Usage    *schema.TokenUsage
	Cost     model.Cost
}

type Gateway interface {
	Generate(ctx context.Context, req Request) (*Response, error)
}
