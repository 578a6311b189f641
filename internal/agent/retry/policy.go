// Package retry computes the parameters of follow-up attempts. Escalation is
// a pure function of the attempt index: later attempts are cooler, get a
// larger token budget (up to one absolute ceiling) and carry a retry marker.
package retry

import (
	"fmt"
	"math"
	"strings"

	"github.com/Chative-core-poc-v1/advisor/internal/agent/model"
	errx "github.com/Chative-core-poc-v1/advisor/internal/core/error"
)

// InitialRetryMarker prefixes a query re-issued by the user.
const InitialRetryMarker = "[RETRY]"

var shapeInstructions = map[model.Shape]string{
	model.ShapeRightsIssueTimetable: "Include a complete timetable with every key date (T+N), the applicable percentage thresholds, " +
		"an explicit statement of whether shareholders' approval is or is not required, and a short summary.",
	model.ShapeConnectedTransaction: "State the applicable percentage ratio thresholds, conclude explicitly whether independent " +
		"shareholders' approval is or is not required, and finish with a summary.",
	model.ShapeNotifiableTransaction: "Work through each percentage ratio against its threshold, state the resulting classification, " +
		"conclude explicitly whether shareholders' approval is or is not required, and finish with a summary.",
}

const generalInstruction = "Provide the complete answer and end with a concluding sentence."

type Policy struct {
	cfg model.RetryConfig
}

// New normalizes cfg so the policy's monotonicity guarantees hold even for
// odd configurations.
func New(cfg model.RetryConfig) *Policy {
	if cfg.BaseTemperature < 0 {
		cfg.BaseTemperature = 0
	}
	if cfg.BaseTemperature > 1 {
		cfg.BaseTemperature = 1
	}
	if cfg.FloorTemperature < 0 {
		cfg.FloorTemperature = 0
	}
	if cfg.FloorTemperature > cfg.BaseTemperature {
		cfg.FloorTemperature = cfg.BaseTemperature
	}
	if cfg.TemperatureStep < 0 {
		cfg.TemperatureStep = 0
	}
	if cfg.TokenFactor < 1 {
		cfg.TokenFactor = 1
	}
	if cfg.BaseMaxTokens <= 0 {
		cfg.BaseMaxTokens = 1024
	}
	if cfg.MaxTokensCeiling < cfg.BaseMaxTokens {
		cfg.MaxTokensCeiling = cfg.BaseMaxTokens
	}
	return &Policy{cfg: cfg}
}

// Ceiling is the absolute token budget no attempt exceeds.
func (p *Policy) Ceiling() int {
	return p.cfg.MaxTokensCeiling
}

// Temperature for attempt i (1-based): linear decay down to the floor.
func (p *Policy) Temperature(i int) float32 {
	if i < 1 {
		i = 1
	}
	t := p.cfg.BaseTemperature - p.cfg.TemperatureStep*float32(i-1)
	if t < p.cfg.FloorTemperature {
		t = p.cfg.FloorTemperature
	}
	return t
}

// MaxTokens for attempt i (1-based): geometric growth clamped at the ceiling.
func (p *Policy) MaxTokens(i int) int {
	if i < 1 {
		i = 1
	}
	n := float64(p.cfg.BaseMaxTokens) * math.Pow(p.cfg.TokenFactor, float64(i-1))
	if n >= float64(p.cfg.MaxTokensCeiling) || math.IsInf(n, 1) {
		return p.cfg.MaxTokensCeiling
	}
	return int(math.Round(n))
}

// Initial returns the parameters of a query's first attempt. A retried query
// carries InitialRetryMarker and the shape's targeted instruction.
func (p *Policy) Initial(prompt string, shape model.Shape, retried bool) model.AttemptParams {
	params := model.AttemptParams{
		Index:       1,
		Shape:       shape,
		BasePrompt:  prompt,
		Prompt:      prompt,
		Temperature: p.Temperature(1),
		MaxTokens:   p.MaxTokens(1),
		Format:      model.FormatText,
	}
	if retried {
		params.RetryMarker = InitialRetryMarker
		params.Prompt = compose(InitialRetryMarker, Instruction(shape), prompt)
	}
	return params
}

// Next computes the parameters of attempt attemptIndex out of cap. Indices
// outside [1, cap] break the caller's contract and return ErrAttemptOutOfRange.
func (p *Policy) Next(previous model.Attempt, attemptIndex, cap int) (model.AttemptParams, error) {
	if cap < 1 || attemptIndex < 1 || attemptIndex > cap {
		return model.AttemptParams{}, errx.Contract(errx.ErrAttemptOutOfRange, "attempt %d with cap %d", attemptIndex, cap)
	}

	base := previous.Params.BasePrompt
	if base == "" {
		base = previous.Params.Prompt
	}
	format := previous.Params.Format
	if format == "" {
		format = model.FormatText
	}

	params := model.AttemptParams{
		Index:       attemptIndex,
		Shape:       previous.Params.Shape,
		BasePrompt:  base,
		Prompt:      base,
		Temperature: p.Temperature(attemptIndex),
		MaxTokens:   p.MaxTokens(attemptIndex),
		Format:      format,
	}
	if attemptIndex > 1 {
		params.RetryMarker = Marker(attemptIndex, cap)
		params.Prompt = compose(params.RetryMarker, Instruction(params.Shape), base)
	}
	return params, nil
}

// Marker is the visible retry marker of attempt i out of cap.
func Marker(i, cap int) string {
	return fmt.Sprintf("[RETRY %d/%d]", i, cap)
}

// Instruction returns the targeted completion instruction for shape.
func Instruction(shape model.Shape) string {
	if s, ok := shapeInstructions[shape]; ok {
		return s
	}
	return generalInstruction
}

func compose(marker, instruction, prompt string) string {
	var b strings.Builder
	b.WriteString(marker)
	b.WriteString(" ")
	b.WriteString(instruction)
	b.WriteString("\n\n")
	b.WriteString(prompt)
	return b.String()
}
