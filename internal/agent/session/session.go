// Package session is the caller-facing surface of the orchestration core:
// it accepts queries, runs at most one current query at a time and
// publishes progress and content events.
package session

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/Chative-core-poc-v1/advisor/internal/agent/batch"
	"github.com/Chative-core-poc-v1/advisor/internal/agent/classifier"
	"github.com/Chative-core-poc-v1/advisor/internal/agent/conversations"
	"github.com/Chative-core-poc-v1/advisor/internal/agent/gateway"
	"github.com/Chative-core-poc-v1/advisor/internal/agent/merger"
	"github.com/Chative-core-poc-v1/advisor/internal/agent/metrics"
	"github.com/Chative-core-poc-v1/advisor/internal/agent/model"
	"github.com/Chative-core-poc-v1/advisor/internal/agent/prompts"
	"github.com/Chative-core-poc-v1/advisor/internal/agent/retrieval"
	"github.com/Chative-core-poc-v1/advisor/internal/agent/retry"
	"github.com/Chative-core-poc-v1/advisor/internal/agent/stream"
	"github.com/Chative-core-poc-v1/advisor/internal/agent/workflow"
	errx "github.com/Chative-core-poc-v1/advisor/internal/core/error"
	logx "github.com/Chative-core-poc-v1/advisor/pkg/logger"
)

// ErrClosed is returned by operations on a closed session.
var ErrClosed = errors.New("session closed")

const defaultHistoryTurns = 6

// Gatherer supplies reference context for a query. retrieval.Coordinator
// implements it.
type Gatherer interface {
	Gather(ctx context.Context, query string, prioritizeExact bool, progress retrieval.Progress) model.ContextResult
}

type Deps struct {
	Gateway      gateway.Gateway
	Retrieval    Gatherer
	Metrics      *metrics.Metrics
	Orchestrator model.OrchestratorConfig
	Retry        model.RetryConfig
	// HistoryTurns is how many earlier log entries go into the prompt.
	HistoryTurns int
	// Clock drives workflow timing; nil means time.Now.
	Clock func() time.Time
}

// Snapshot is the observable state of the current query.
type Snapshot struct {
	QueryID         uint64
	IsLoading       bool
	ProcessingStage string
	Phase           model.Phase
	IsBatching      bool
	BatchNumber     int
	Workflow        model.WorkflowSnapshot
}

// run is one query. Mutable fields are guarded by Session.mu.
type run struct {
	query  model.Query
	ctx    context.Context
	cancel context.CancelFunc
	flow   *workflow.Machine

	ctrl    *batch.Controller
	loading bool
	stage   string
	done    chan struct{}
}

type Session struct {
	deps   Deps
	policy *retry.Policy
	log    *conversations.Log
	events *stream.Broadcaster

	nextID  atomic.Uint64
	current atomic.Uint64

	mu        sync.Mutex
	active    *run
	lastQuery string
	closed    bool
	wg        sync.WaitGroup
}

func New(deps Deps) *Session {
	if deps.HistoryTurns == 0 {
		deps.HistoryTurns = defaultHistoryTurns
	}
	if deps.Clock == nil {
		deps.Clock = time.Now
	}
	if !deps.Orchestrator.MergeMode.Valid() {
		deps.Orchestrator.MergeMode = model.MergeSeamless
	}
	s := &Session{
		deps:   deps,
		policy: retry.New(deps.Retry),
		log:    conversations.NewLog(),
		events: stream.NewBroadcaster(deps.Orchestrator.EventBuffer),
	}
	s.log.Subscribe(s.onLogChange)
	return s
}

// SubmitQuery starts a new query and returns its ID without waiting. A query
// still in flight is cancelled and becomes stale.
func (s *Session) SubmitQuery(text string) (uint64, error) {
	return s.submit(text, false)
}

// RetryLastQuery re-issues the most recent query with a retry marker and a
// fresh batch state.
func (s *Session) RetryLastQuery() (uint64, error) {
	s.mu.Lock()
	last := s.lastQuery
	s.mu.Unlock()
	if last == "" {
		return 0, errx.Contract(errx.ErrEmptyQuery, "no query to retry")
	}
	return s.submit(last, true)
}

func (s *Session) submit(text string, retried bool) (uint64, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return 0, errx.Contract(errx.ErrEmptyQuery, "submit")
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return 0, ErrClosed
	}

	if prev := s.active; prev != nil {
		prev.cancel()
	}

	id := s.nextID.Add(1)
	s.current.Store(id)
	q := model.Query{
		ID:          id,
		Text:        text,
		Language:    model.DetectLanguage(text),
		Shape:       classifier.DetectShape(text),
		Retry:       retried,
		SubmittedAt: s.deps.Clock(),
	}

	if _, err := s.log.Append(s.guard(id), model.Message{QueryID: id, Role: model.RoleUser, Content: text}); err != nil {
		return 0, err
	}

	ctx, cancel := context.WithCancel(context.Background())
	r := &run{
		query:   q,
		ctx:     ctx,
		cancel:  cancel,
		loading: true,
		done:    make(chan struct{}),
	}
	r.flow = workflow.New(
		workflow.WithQueryID(id),
		workflow.WithClock(s.deps.Clock),
		workflow.WithObserver(func(snap model.WorkflowSnapshot) { s.onPhase(r, snap) }),
	)
	r.stage = r.flow.Snapshot().CurrentMessage
	s.active = r
	s.lastQuery = text

	logx.Info().Uint64("query_id", id).Str("language", q.Language).Str("shape", string(q.Shape)).Bool("retry", retried).Msg("query submitted")

	s.wg.Add(1)
	go s.execute(r, r.done)
	return id, nil
}

// ContinueBatch runs exactly one more attempt when the current query offers
// a manual continuation.
func (s *Session) ContinueBatch() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	r := s.active
	if r == nil || r.loading || r.ctrl == nil || !r.ctrl.State().IsBatching {
		return errx.Contract(errx.ErrNothingToContinue, "continue batch")
	}

	r.loading = true
	r.stage = "Requesting continuation"
	r.done = make(chan struct{})
	s.wg.Add(1)
	go s.resume(r, r.done)
	return nil
}

func (s *Session) execute(r *run, done chan struct{}) {
	defer s.wg.Done()
	defer close(done)

	q := r.query
	r.flow.Start()

	var contextText string
	if s.deps.Retrieval != nil {
		res := s.deps.Retrieval.Gather(r.ctx, q.Text, s.deps.Orchestrator.PrioritizeFAQ, func(signal string) { r.flow.Advance(signal) })
		contextText = res.Text
		logx.Debug().Uint64("query_id", q.ID).Str("strategy", res.Strategy).Str("reasoning", res.Reasoning).Msg("context gathered")
	}
	if r.ctx.Err() != nil {
		s.settle(r, nil, errx.Wrap(errx.ErrStaleQuery, r.ctx.Err()))
		return
	}
	r.flow.Advance("processing context")

	prompt := prompts.BuildQueryPrompt(q.Text, contextText, s.log.BuildHistoryContext(q.ID, s.deps.HistoryTurns))
	ctrl := batch.New(q, prompt, batch.Deps{
		Gateway:  s.deps.Gateway,
		Policy:   s.policy,
		Merger:   merger.New(s.log, q.ID, s.guard(q.ID), s.deps.Orchestrator.MergeMode),
		Workflow: r.flow,
		Metrics:  s.deps.Metrics,
		Config:   s.deps.Orchestrator,
	})
	s.mu.Lock()
	r.ctrl = ctrl
	s.mu.Unlock()

	draft, err := s.safeRun(q.ID, func() (*model.ResponseDraft, error) { return ctrl.Run(r.ctx) })
	s.settle(r, draft, err)
}

func (s *Session) resume(r *run, done chan struct{}) {
	defer s.wg.Done()
	defer close(done)

	draft, err := s.safeRun(r.query.ID, func() (*model.ResponseDraft, error) { return r.ctrl.Continue(r.ctx) })
	s.settle(r, draft, err)
}

// safeRun turns a panic escaping the controller into an unrecoverable
// failure. The error message is only written when the query has no
// assistant message yet.
func (s *Session) safeRun(id uint64, fn func() (*model.ResponseDraft, error)) (draft *model.ResponseDraft, err error) {
	defer func() {
		if p := recover(); p != nil {
			logx.Error().Interface("panic", p).Uint64("query_id", id).Msg("query run panicked")
			draft, err = nil, errx.Wrap(errx.ErrFirstAttemptFailed, fmt.Errorf("panic: %v", p))
			if s.lastAssistant(id).ID != "" {
				return
			}
			if _, ferr := s.log.Append(s.guard(id), model.Message{
				QueryID: id,
				Role:    model.RoleAssistant,
				Content: batch.FailureMessage,
				IsError: true,
			}); ferr != nil {
				err = ferr
			}
		}
	}()
	return fn()
}

// settle publishes the outcome of a Run or Continue. Stale runs publish
// nothing.
func (s *Session) settle(r *run, draft *model.ResponseDraft, err error) {
	s.mu.Lock()
	r.loading = false
	ctrl := r.ctrl
	s.mu.Unlock()

	id := r.query.ID
	if !s.isCurrent(id) || errors.Is(err, errx.ErrStaleQuery) {
		return
	}
	if err != nil {
		r.flow.Complete()
		msg := s.lastAssistant(id)
		s.events.Publish(stream.Event{Kind: stream.KindError, QueryID: id, MessageID: msg.ID, Content: msg.Content, Err: err})
		return
	}

	msg, _ := s.log.Get(draft.MessageID)
	ev := stream.Event{
		Kind:      stream.KindComplete,
		QueryID:   id,
		MessageID: draft.MessageID,
		Batch:     ctrl.State().Number,
		Content:   msg.Content,
		Warnings:  msg.Warnings,
		Truncated: msg.IsTruncated,
	}
	stage := r.flow.Snapshot().CurrentMessage
	if ctrl.State().IsBatching {
		ev.Kind = stream.KindOffer
		stage = "Answer is incomplete; continue to get the rest"
	}
	s.mu.Lock()
	r.stage = stage
	s.mu.Unlock()
	s.events.Publish(ev)
}

func (s *Session) lastAssistant(id uint64) model.Message {
	msgs := s.log.Messages()
	for i := len(msgs) - 1; i >= 0; i-- {
		if msgs[i].QueryID == id && msgs[i].Role == model.RoleAssistant {
			return msgs[i]
		}
	}
	return model.Message{}
}

func (s *Session) guard(id uint64) conversations.Guard {
	return func() bool { return s.isCurrent(id) }
}

func (s *Session) isCurrent(id uint64) bool {
	return s.current.Load() == id
}

// onPhase runs on the query's goroutine after every workflow change.
func (s *Session) onPhase(r *run, snap model.WorkflowSnapshot) {
	if !s.isCurrent(r.query.ID) {
		return
	}
	s.mu.Lock()
	r.stage = snap.CurrentMessage
	s.mu.Unlock()
	s.events.Publish(stream.Event{Kind: stream.KindPhase, QueryID: r.query.ID, Workflow: &snap})
}

// onLogChange runs under the log lock; it only publishes.
func (s *Session) onLogChange(c conversations.Change) {
	if c.Message.Role != model.RoleAssistant || c.Delta == "" {
		return
	}
	s.events.Publish(stream.Event{
		Kind:      stream.KindDelta,
		QueryID:   c.Message.QueryID,
		MessageID: c.Message.ID,
		Batch:     c.Message.Batches,
		Delta:     c.Delta,
	})
}

func (s *Session) Snapshot() Snapshot {
	s.mu.Lock()
	r := s.active
	if r == nil {
		s.mu.Unlock()
		return Snapshot{}
	}
	snap := Snapshot{
		QueryID:         r.query.ID,
		IsLoading:       r.loading,
		ProcessingStage: r.stage,
		BatchNumber:     1,
	}
	ctrl := r.ctrl
	s.mu.Unlock()

	snap.Workflow = r.flow.Snapshot()
	snap.Phase = snap.Workflow.Phase
	if ctrl != nil {
		st := ctrl.State()
		snap.IsBatching = st.IsBatching
		snap.BatchNumber = st.Number
	}
	return snap
}

// Subscribe returns the event stream and a function that detaches it.
func (s *Session) Subscribe() (<-chan stream.Event, func()) {
	return s.events.Subscribe()
}

// Messages returns a copy of the conversation log.
func (s *Session) Messages() []model.Message {
	return s.log.Messages()
}

// Wait blocks until the current query's run or continuation finishes.
func (s *Session) Wait(ctx context.Context) error {
	s.mu.Lock()
	var done chan struct{}
	if s.active != nil {
		done = s.active.done
	}
	s.mu.Unlock()
	if done == nil {
		return nil
	}
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close cancels the current query, waits for every run goroutine and closes
// the event stream.
func (s *Session) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	if s.active != nil {
		s.active.cancel()
	}
	s.current.Store(0)
	s.mu.Unlock()

	s.wg.Wait()
	s.events.Close()
}
