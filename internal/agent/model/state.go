package model

import "time"

// Phase is a conceptual step of one query's workflow. Phases are ordered and
// only ever move forward.
type Phase int

const (
	PhaseAnalysis Phase = iota
	PhaseContextGathering
	PhaseIntelligentProcessing
	PhaseResponseGeneration
	PhaseValidation
	PhaseComplete
)

var phaseNames = [...]string{
	"analysis",
	"context_gathering",
	"intelligent_processing",
	"response_generation",
	"validation",
	"complete",
}

func (p Phase) String() string {
	if p < 0 || int(p) >= len(phaseNames) {
		return "unknown"
	}
	return phaseNames[p]
}

// WorkflowSnapshot is an immutable copy of a workflow state.
type WorkflowSnapshot struct {
	QueryID                uint64        `json:"query_id"`
	Phase                  Phase         `json:"phase"`
	Progress               int           `json:"progress"`
	IsOptimized            bool          `json:"is_optimized"`
	Elapsed                time.Duration `json:"elapsed"`
	EstimatedTimeRemaining time.Duration `json:"estimated_time_remaining"`
	CurrentMessage         string        `json:"current_message"`
}

// BatchState tracks continuation batches of a single query.
// Number never exceeds MaxAutoBatches; IsBatching is true only while a
// continuation is pending or offered to the caller.
type BatchState struct {
	Number           int  `json:"number"`
	IsBatching       bool `json:"is_batching"`
	AutoBatchEnabled bool `json:"auto_batch_enabled"`
	MaxAutoBatches   int  `json:"max_auto_batches"`
}

// CanContinue reports whether another batch fits under the bound.
func (b BatchState) CanContinue() bool {
	return b.Number < b.MaxAutoBatches
}
