package stream

import "github.com/Chative-core-poc-v1/advisor/internal/agent/model"

type Kind string

const (
	// KindPhase carries a workflow snapshot after every state change.
	KindPhase Kind = "phase"
	// KindDelta carries text appended to the assistant message.
	KindDelta Kind = "delta"
	// KindOffer is published when a manual continuation is available.
	KindOffer Kind = "continue_offered"
	// KindComplete terminates a query that produced an answer.
	KindComplete Kind = "complete"
	// KindError terminates a query whose first attempt failed.
	KindError Kind = "error"
)

// Event is one item of the session stream. Only the fields relevant to Kind
// are set.
type Event struct {
	Kind      Kind                    `json:"kind"`
	QueryID   uint64                  `json:"query_id"`
	MessageID string                  `json:"message_id,omitempty"`
	Batch     int                     `json:"batch,omitempty"`
	Delta     string                  `json:"delta,omitempty"`
	Content   string                  `json:"content,omitempty"`
	Workflow  *model.WorkflowSnapshot `json:"workflow,omitempty"`
	Warnings  []string                `json:"warnings,omitempty"`
	Truncated bool                    `json:"truncated,omitempty"`
	Err       error                   `json:"-"`
}

// Terminal reports whether e ends its query's part of the stream.
func (e Event) Terminal() bool {
	return e.Kind == KindComplete || e.Kind == KindError
}
