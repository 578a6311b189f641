// Package workflow tracks which conceptual phase a query is in, independent
// of how many attempts or batches run underneath, and derives the progress
// and time estimates shown to the caller.
package workflow

import (
	"math"
	"strings"
	"sync"
	"time"

	"github.com/Chative-core-poc-v1/advisor/internal/agent/model"
)

const (
	startProgress      = 5
	maxActiveProgress  = 95
	substateBonus      = 2
	maxSubstateBonus   = 8
	optimizationFactor = 1.2
	optimizedTimeScale = 0.6
)

var phaseBaseProgress = map[model.Phase]int{
	model.PhaseAnalysis:              startProgress,
	model.PhaseContextGathering:      20,
	model.PhaseIntelligentProcessing: 40,
	model.PhaseResponseGeneration:    60,
	model.PhaseValidation:            85,
	model.PhaseComplete:              100,
}

var phaseMessages = map[model.Phase]string{
	model.PhaseAnalysis:              "Analyzing your question",
	model.PhaseContextGathering:      "Gathering background context",
	model.PhaseIntelligentProcessing: "Processing context",
	model.PhaseResponseGeneration:    "Generating response",
	model.PhaseValidation:            "Validating completeness",
	model.PhaseComplete:              "Complete",
}

// DefaultDurations are the expected time spent in each active phase.
var DefaultDurations = map[model.Phase]time.Duration{
	model.PhaseAnalysis:              time.Second,
	model.PhaseContextGathering:      3 * time.Second,
	model.PhaseIntelligentProcessing: 2 * time.Second,
	model.PhaseResponseGeneration:    10 * time.Second,
	model.PhaseValidation:            time.Second,
}

type Option func(*Machine)

func WithQueryID(id uint64) Option {
	return func(m *Machine) { m.queryID = id }
}

func WithClock(now func() time.Time) Option {
	return func(m *Machine) { m.now = now }
}

func WithRules(rules []Rule) Option {
	return func(m *Machine) { m.rules = rules }
}

func WithDurations(d map[model.Phase]time.Duration) Option {
	return func(m *Machine) { m.durations = d }
}

// WithObserver registers a callback that receives a snapshot after every
// state change. Observers run on the writer's goroutine and must not block.
func WithObserver(fn func(model.WorkflowSnapshot)) Option {
	return func(m *Machine) { m.observers = append(m.observers, fn) }
}

// Machine is the per-query workflow state. It has a single writer (the
// query's controller); Snapshot may be called from any goroutine.
type Machine struct {
	mu sync.RWMutex

	queryID   uint64
	rules     []Rule
	optimize  []string
	durations map[model.Phase]time.Duration
	now       func() time.Time
	observers []func(model.WorkflowSnapshot)

	phase          model.Phase
	progress       int
	optimized      bool
	substates      int
	message        string
	startedAt      time.Time
	phaseStartedAt time.Time
}

func New(opts ...Option) *Machine {
	m := &Machine{
		rules:     DefaultRules,
		optimize:  DefaultOptimizationKeywords,
		durations: DefaultDurations,
		now:       time.Now,
	}
	for _, o := range opts {
		o(m)
	}
	m.reset()
	return m
}

func (m *Machine) reset() {
	t := m.now()
	m.phase = model.PhaseAnalysis
	m.progress = startProgress
	m.optimized = false
	m.substates = 0
	m.message = phaseMessages[model.PhaseAnalysis]
	m.startedAt = t
	m.phaseStartedAt = t
}

// Start (re)initializes the workflow at Analysis with progress 5.
func (m *Machine) Start() {
	m.mu.Lock()
	m.reset()
	snap := m.snapshotLocked()
	m.mu.Unlock()
	m.notify(snap)
}

// Advance applies a free-text progress signal. It moves the phase forward
// when a rule matches, flags optimization when an optimization keyword is
// present, and otherwise only counts the signal as a processing substate.
// It reports whether the phase changed.
func (m *Machine) Advance(signal string) bool {
	signal = strings.TrimSpace(signal)

	m.mu.Lock()
	if m.phase == model.PhaseComplete {
		m.mu.Unlock()
		return false
	}

	next, moved := Match(m.rules, signal, m.phase)
	if moved {
		m.phase = next
		m.substates = 0
		m.phaseStartedAt = m.now()
	} else if signal != "" {
		m.substates++
	}
	if IsOptimizationSignal(m.optimize, signal) {
		m.optimized = true
	}
	if signal != "" {
		m.message = signal
	} else if moved {
		m.message = phaseMessages[m.phase]
	}
	m.recomputeLocked()
	snap := m.snapshotLocked()
	m.mu.Unlock()

	m.notify(snap)
	return moved
}

// Complete forces the terminal phase.
func (m *Machine) Complete() {
	m.mu.Lock()
	if m.phase == model.PhaseComplete {
		m.mu.Unlock()
		return
	}
	m.phase = model.PhaseComplete
	m.progress = 100
	m.message = phaseMessages[model.PhaseComplete]
	m.phaseStartedAt = m.now()
	snap := m.snapshotLocked()
	m.mu.Unlock()
	m.notify(snap)
}

// Phase returns the current phase.
func (m *Machine) Phase() model.Phase {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.phase
}

func (m *Machine) Snapshot() model.WorkflowSnapshot {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.snapshotLocked()
}

func (m *Machine) recomputeLocked() {
	bonus := m.substates * substateBonus
	if bonus > maxSubstateBonus {
		bonus = maxSubstateBonus
	}
	p := float64(phaseBaseProgress[m.phase] + bonus)
	if m.optimized {
		p = math.Round(p * optimizationFactor)
	}
	next := int(p)
	if next > maxActiveProgress {
		next = maxActiveProgress
	}
	// progress shown to the user never goes backwards
	if next > m.progress {
		m.progress = next
	}
}

func (m *Machine) snapshotLocked() model.WorkflowSnapshot {
	now := m.now()
	return model.WorkflowSnapshot{
		QueryID:                m.queryID,
		Phase:                  m.phase,
		Progress:               m.progress,
		IsOptimized:            m.optimized,
		Elapsed:                now.Sub(m.startedAt),
		EstimatedTimeRemaining: m.remainingLocked(now),
		CurrentMessage:         m.message,
	}
}

func (m *Machine) remainingLocked(now time.Time) time.Duration {
	if m.phase == model.PhaseComplete {
		return 0
	}
	left := m.durations[m.phase] - now.Sub(m.phaseStartedAt)
	if left < 0 {
		left = 0
	}
	for p := m.phase + 1; p < model.PhaseComplete; p++ {
		left += m.durations[p]
	}
	if m.optimized {
		left = time.Duration(float64(left) * optimizedTimeScale)
	}
	return left
}

func (m *Machine) notify(s model.WorkflowSnapshot) {
	for _, fn := range m.observers {
		fn(s)
	}
}
