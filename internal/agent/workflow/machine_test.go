package workflow

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Chative-core-poc-v1/advisor/internal/agent/model"
)

type fakeClock struct{ t time.Time }

func (c *fakeClock) Now() time.Time { return c.t }

func (c *fakeClock) Add(d time.Duration) { c.t = c.t.Add(d) }

func newClock() *fakeClock {
	return &fakeClock{t: time.Date(2026, 1, 1, 9, 0, 0, 0, time.UTC)}
}

func TestMachine_Start(t *testing.T) {
	m := New()
	m.Start()

	s := m.Snapshot()
	assert.Equal(t, model.PhaseAnalysis, s.Phase)
	assert.Equal(t, 5, s.Progress)
	assert.False(t, s.IsOptimized)
	assert.Equal(t, "Analyzing your question", s.CurrentMessage)
}

func TestMachine_ForwardTransitions(t *testing.T) {
	m := New()
	m.Start()

	steps := []struct {
		signal string
		want   model.Phase
	}{
		{"gathering context", model.PhaseContextGathering},
		{"intelligent processing of retrieved context", model.PhaseIntelligentProcessing},
		{"generating response", model.PhaseResponseGeneration},
		{"validating completeness", model.PhaseValidation},
	}
	prev := m.Snapshot().Progress
	for _, st := range steps {
		assert.True(t, m.Advance(st.signal), st.signal)
		s := m.Snapshot()
		assert.Equal(t, st.want, s.Phase)
		assert.Greater(t, s.Progress, prev)
		assert.Equal(t, st.signal, s.CurrentMessage)
		prev = s.Progress
	}

	m.Complete()
	s := m.Snapshot()
	assert.Equal(t, model.PhaseComplete, s.Phase)
	assert.Equal(t, 100, s.Progress)
	assert.Zero(t, s.EstimatedTimeRemaining)
}

func TestMachine_NeverMovesBackward(t *testing.T) {
	m := New()
	m.Start()
	m.Advance("generating response")

	assert.False(t, m.Advance("gathering more context"))
	assert.Equal(t, model.PhaseResponseGeneration, m.Phase())
}

func TestMachine_SkipsToFurthestMatch(t *testing.T) {
	m := New()
	m.Start()
	assert.True(t, m.Advance("gathering done, now validating"))
	assert.Equal(t, model.PhaseValidation, m.Phase())
}

func TestMachine_UnmatchedSignalIsNotAnError(t *testing.T) {
	m := New()
	m.Start()
	before := m.Snapshot()

	assert.False(t, m.Advance("tokenizing input"))
	after := m.Snapshot()
	assert.Equal(t, before.Phase, after.Phase)
	assert.GreaterOrEqual(t, after.Progress, before.Progress)
}

func TestMachine_OptimizationWithoutTransition(t *testing.T) {
	m := New()
	m.Start()
	m.Advance("gathering context")
	base := m.Snapshot().Progress

	assert.False(t, m.Advance("cache hit for local index"))
	s := m.Snapshot()
	assert.Equal(t, model.PhaseContextGathering, s.Phase)
	assert.True(t, s.IsOptimized)
	assert.Greater(t, s.Progress, base)
	assert.LessOrEqual(t, s.Progress, int(float64(base+maxSubstateBonus)*1.2)+1)
}

func TestMachine_OptimizationIsSticky(t *testing.T) {
	m := New()
	m.Start()
	m.Advance("parallel search started")
	m.Advance("generating response")
	m.Advance("validating completeness")

	assert.True(t, m.Snapshot().IsOptimized)
}

func TestMachine_ProgressCappedBeforeComplete(t *testing.T) {
	m := New()
	m.Start()
	m.Advance("validating completeness, fast path")
	for i := 0; i < 10; i++ {
		m.Advance("checking completeness of part")
	}
	s := m.Snapshot()
	assert.Equal(t, 95, s.Progress)
	assert.Equal(t, model.PhaseValidation, s.Phase)
}

func TestMachine_AdvanceAfterCompleteIsIgnored(t *testing.T) {
	m := New()
	m.Start()
	m.Complete()

	assert.False(t, m.Advance("generating response"))
	assert.Equal(t, model.PhaseComplete, m.Phase())
	assert.Equal(t, 100, m.Snapshot().Progress)
}

func TestMachine_TimeEstimates(t *testing.T) {
	clock := newClock()
	m := New(WithClock(clock.Now))
	m.Start()

	s := m.Snapshot()
	assert.Equal(t, 17*time.Second, s.EstimatedTimeRemaining)

	clock.Add(500 * time.Millisecond)
	s = m.Snapshot()
	assert.Equal(t, 500*time.Millisecond, s.Elapsed)
	assert.Equal(t, 16500*time.Millisecond, s.EstimatedTimeRemaining)

	m.Advance("generating response")
	clock.Add(4 * time.Second)
	s = m.Snapshot()
	assert.Equal(t, 7*time.Second, s.EstimatedTimeRemaining)

	m.Advance("fast path")
	s = m.Snapshot()
	assert.Equal(t, time.Duration(float64(7*time.Second)*0.6), s.EstimatedTimeRemaining)
}

func TestMachine_ObserverReceivesEveryChange(t *testing.T) {
	var seen []model.WorkflowSnapshot
	m := New(WithQueryID(42), WithObserver(func(s model.WorkflowSnapshot) { seen = append(seen, s) }))

	m.Start()
	m.Advance("gathering context")
	m.Complete()

	require.Len(t, seen, 3)
	assert.Equal(t, uint64(42), seen[0].QueryID)
	assert.Equal(t, model.PhaseAnalysis, seen[0].Phase)
	assert.Equal(t, model.PhaseContextGathering, seen[1].Phase)
	assert.Equal(t, model.PhaseComplete, seen[2].Phase)
}

func TestMatch_RulesTable(t *testing.T) {
	tests := []struct {
		signal  string
		current model.Phase
		want    model.Phase
		ok      bool
	}{
		{"Gathering context", model.PhaseAnalysis, model.PhaseContextGathering, true},
		{"GENERATING continuation batch 2/4", model.PhaseValidation, model.PhaseValidation, false},
		{"generating continuation batch 2/4", model.PhaseValidation - 1, model.PhaseValidation - 1, false},
		{"requesting continuation", model.PhaseContextGathering, model.PhaseResponseGeneration, true},
		{"nothing relevant", model.PhaseAnalysis, model.PhaseAnalysis, false},
		{"complete", model.PhaseValidation, model.PhaseValidation, false},
	}
	for _, tt := range tests {
		got, ok := Match(DefaultRules, tt.signal, tt.current)
		assert.Equal(t, tt.ok, ok, tt.signal)
		assert.Equal(t, tt.want, got, tt.signal)
	}
}

func TestIsOptimizationSignal(t *testing.T) {
	assert.True(t, IsOptimizationSignal(DefaultOptimizationKeywords, "Cache hit"))
	assert.True(t, IsOptimizationSignal(DefaultOptimizationKeywords, "using the fast path"))
	assert.False(t, IsOptimizationSignal(DefaultOptimizationKeywords, "generating response"))
}
