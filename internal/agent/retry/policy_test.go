package retry

import (
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Chative-core-poc-v1/advisor/internal/agent/model"
	errx "github.com/Chative-core-poc-v1/advisor/internal/core/error"
)

func firstAttempt(p *Policy, shape model.Shape) model.Attempt {
	return model.Attempt{Params: p.Initial("Explain the rights issue timetable.", shape, false)}
}

func TestPolicy_MonotonicAndClamped(t *testing.T) {
	p := New(model.DefaultRetryConfig())
	const cap = 8
	prev := firstAttempt(p, model.ShapeGeneral)

	var params []model.AttemptParams
	for i := 1; i <= cap; i++ {
		got, err := p.Next(prev, i, cap)
		require.NoError(t, err)
		params = append(params, got)
	}

	for i := 0; i < len(params); i++ {
		assert.LessOrEqual(t, params[i].MaxTokens, p.Ceiling())
		assert.GreaterOrEqual(t, params[i].Temperature, float32(0.1))
		for j := i + 1; j < len(params); j++ {
			assert.LessOrEqual(t, params[j].Temperature, params[i].Temperature, "temperature %d vs %d", j+1, i+1)
			assert.GreaterOrEqual(t, params[j].MaxTokens, params[i].MaxTokens, "tokens %d vs %d", j+1, i+1)
		}
	}
	assert.Equal(t, p.Ceiling(), params[cap-1].MaxTokens)
	assert.InDelta(t, 0.1, params[cap-1].Temperature, 1e-6)
}

func TestPolicy_PureInAttemptIndex(t *testing.T) {
	p := New(model.DefaultRetryConfig())
	prev := firstAttempt(p, model.ShapeRightsIssueTimetable)

	a, err := p.Next(prev, 3, 4)
	require.NoError(t, err)

	// a different previous attempt built from the same base prompt must not matter
	prev.Text = "something else entirely"
	prev.Params.Temperature = 0.99
	prev.Params.Prompt = "[RETRY 2/4] noise"
	b, err := p.Next(prev, 3, 4)
	require.NoError(t, err)
	assert.Equal(t, a, b)
}

func TestPolicy_RetryMarkerAndShapeInstruction(t *testing.T) {
	p := New(model.DefaultRetryConfig())
	prev := firstAttempt(p, model.ShapeRightsIssueTimetable)

	got, err := p.Next(prev, 2, 4)
	require.NoError(t, err)

	assert.Equal(t, "[RETRY 2/4]", got.RetryMarker)
	assert.True(t, strings.HasPrefix(got.Prompt, "[RETRY 2/4] Include a complete timetable"), got.Prompt)
	assert.True(t, strings.HasSuffix(got.Prompt, "Explain the rights issue timetable."))
	assert.Equal(t, "Explain the rights issue timetable.", got.BasePrompt)
	assert.Equal(t, model.ShapeRightsIssueTimetable, got.Shape)
}

func TestPolicy_FirstIndexHasNoMarker(t *testing.T) {
	p := New(model.DefaultRetryConfig())
	got, err := p.Next(firstAttempt(p, model.ShapeGeneral), 1, 3)
	require.NoError(t, err)
	assert.Empty(t, got.RetryMarker)
	assert.Equal(t, got.BasePrompt, got.Prompt)
	assert.Equal(t, 4096, got.MaxTokens)
	assert.InDelta(t, 0.7, got.Temperature, 1e-6)
}

func TestPolicy_OutOfRangeIsContractViolation(t *testing.T) {
	p := New(model.DefaultRetryConfig())
	prev := firstAttempt(p, model.ShapeGeneral)

	for _, idx := range []int{0, 5, -1} {
		_, err := p.Next(prev, idx, 4)
		require.Error(t, err)
		assert.True(t, errors.Is(err, errx.ErrAttemptOutOfRange))
		assert.Equal(t, errx.KindContract, errx.KindOf(err))
	}
}

func TestPolicy_InitialRetryCarriesMarker(t *testing.T) {
	p := New(model.DefaultRetryConfig())

	plain := p.Initial("What is a connected transaction?", model.ShapeConnectedTransaction, false)
	assert.Empty(t, plain.RetryMarker)
	assert.Equal(t, "What is a connected transaction?", plain.Prompt)

	retried := p.Initial("What is a connected transaction?", model.ShapeConnectedTransaction, true)
	assert.Equal(t, InitialRetryMarker, retried.RetryMarker)
	assert.True(t, strings.HasPrefix(retried.Prompt, "[RETRY] State the applicable percentage ratio thresholds"))
}

func TestNew_NormalizesConfig(t *testing.T) {
	p := New(model.RetryConfig{
		BaseTemperature:  0.5,
		FloorTemperature: 0.9,
		TemperatureStep:  -1,
		BaseMaxTokens:    2000,
		TokenFactor:      0.5,
		MaxTokensCeiling: 100,
	})

	assert.Equal(t, 2000, p.Ceiling())
	assert.Equal(t, 2000, p.MaxTokens(5))
	assert.InDelta(t, 0.5, p.Temperature(5), 1e-6)
}
