// Package batch runs one query against the gateway: the first attempt with
// its retries, then continuation batches until the answer is complete, the
// batch bound is reached or the caller has to ask for more.
package batch

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/Chative-core-poc-v1/advisor/internal/agent/classifier"
	"github.com/Chative-core-poc-v1/advisor/internal/agent/gateway"
	"github.com/Chative-core-poc-v1/advisor/internal/agent/merger"
	"github.com/Chative-core-poc-v1/advisor/internal/agent/metrics"
	"github.com/Chative-core-poc-v1/advisor/internal/agent/model"
	"github.com/Chative-core-poc-v1/advisor/internal/agent/prompts"
	"github.com/Chative-core-poc-v1/advisor/internal/agent/retry"
	"github.com/Chative-core-poc-v1/advisor/internal/agent/workflow"
	errx "github.com/Chative-core-poc-v1/advisor/internal/core/error"
	logx "github.com/Chative-core-poc-v1/advisor/pkg/logger"
)

// FailureMessage is the terminal message of a query whose first attempt failed.
const FailureMessage = "Sorry, I could not generate an answer right now. Please try again."

// InterruptedWarning is attached to a partial answer whose run broke down
// after the first attempt.
const InterruptedWarning = "The answer was interrupted by an internal error and may be incomplete."

// attempt kinds reported to metrics
const (
	kindInitial      = "initial"
	kindRetry        = "retry"
	kindContinuation = "continuation"
)

// Outcome is how a run or continuation left the query.
type Outcome string

const (
	OutcomeComplete  Outcome = "complete"
	OutcomeTruncated Outcome = "truncated"
	OutcomeOffered   Outcome = "offered"
	OutcomeFailed    Outcome = "failed"
	OutcomeStale     Outcome = "stale"
)

type Deps struct {
	Gateway  gateway.Gateway
	Policy   *retry.Policy
	Merger   *merger.Merger
	Workflow *workflow.Machine
	Metrics  *metrics.Metrics
	Config   model.OrchestratorConfig
}

// Controller owns the BatchState and the draft of a single query. Run and
// Continue must not overlap; state readers may call from any goroutine.
type Controller struct {
	query  model.Query
	prompt string
	deps   Deps

	mu       sync.Mutex
	state    model.BatchState
	draft    *model.ResponseDraft
	last     model.Attempt
	verdict  model.TruncationVerdict
	attempts []model.Attempt
	costUSD  float64
	outcome  Outcome
}

// New prepares a controller for q. prompt is the rendered user prompt of the
// first attempt.
func New(q model.Query, prompt string, deps Deps) *Controller {
	if deps.Config.MaxAutoBatches < 1 {
		deps.Config.MaxAutoBatches = 1
	}
	if deps.Config.InitialRetries < 0 {
		deps.Config.InitialRetries = 0
	}
	return &Controller{
		query:  q,
		prompt: prompt,
		deps:   deps,
		state: model.BatchState{
			Number:           1,
			AutoBatchEnabled: deps.Config.AutoBatch,
			MaxAutoBatches:   deps.Config.MaxAutoBatches,
		},
	}
}

// Run executes the query. It returns the draft, or an error when the query
// went stale (ErrStaleQuery) or its first attempt failed
// (ErrFirstAttemptFailed, after the error message was written).
func (c *Controller) Run(ctx context.Context) (out *model.ResponseDraft, err error) {
	defer c.recoverPanic(ctx, &out, &err)
	flow := c.deps.Workflow
	flow.Advance("generating response")

	first, err := c.firstAttempt(ctx)
	if err != nil {
		return nil, c.fail(ctx, err)
	}

	flow.Advance("validating completeness")
	verdict := c.classify(&first, "")

	var warnings []string
	if first.IsFallback {
		warnings = append(warnings, classifier.FallbackWarning)
	}
	draft, err := c.deps.Merger.Start(first.Text, warnings...)
	if err != nil {
		return nil, c.stale(err)
	}

	c.mu.Lock()
	c.draft, c.last, c.verdict = draft, first, verdict
	c.mu.Unlock()

	for !verdict.IsComplete && c.State().CanContinue() && c.State().AutoBatchEnabled {
		merged, err := c.step(ctx)
		if err != nil {
			return draft, c.stale(err)
		}
		if !merged {
			break
		}
		verdict = c.Verdict()
	}

	if err := c.settle(); err != nil {
		return draft, c.stale(err)
	}
	flow.Complete()
	return draft, nil
}

// Continue issues exactly one more attempt while a manual continuation is
// on offer.
func (c *Controller) Continue(ctx context.Context) (out *model.ResponseDraft, err error) {
	defer c.recoverPanic(ctx, &out, &err)
	c.mu.Lock()
	offered := c.state.IsBatching && c.draft != nil && !c.draft.Sealed && c.state.CanContinue()
	draft := c.draft
	c.mu.Unlock()
	if !offered {
		return nil, errx.Contract(errx.ErrNothingToContinue, "query %d", c.query.ID)
	}

	merged, err := c.step(ctx)
	if err != nil {
		return draft, c.stale(err)
	}
	if !merged {
		// the offer stands; the caller may try again
		return draft, nil
	}
	if err := c.settle(); err != nil {
		return draft, c.stale(err)
	}
	return draft, nil
}

// settle decides between offering a manual continuation and sealing the
// draft once the automatic loop is done.
func (c *Controller) settle() error {
	c.mu.Lock()
	draft, verdict, state := c.draft, c.verdict, c.state
	c.mu.Unlock()

	if !verdict.IsComplete && !state.AutoBatchEnabled && state.CanContinue() {
		if err := c.deps.Merger.Hold(draft); err != nil {
			return err
		}
		c.mu.Lock()
		c.state.IsBatching = true
		c.outcome = OutcomeOffered
		c.mu.Unlock()
		c.deps.Metrics.ObserveQuery(string(OutcomeOffered))
		logx.Debug().Uint64("query_id", c.query.ID).Int("batch", state.Number).Msg("continuation offered")
		return nil
	}

	truncated := !verdict.IsComplete
	if err := c.deps.Merger.Seal(draft, truncated); err != nil {
		return err
	}
	outcome := OutcomeComplete
	if truncated {
		outcome = OutcomeTruncated
	}
	c.mu.Lock()
	c.state.IsBatching = false
	c.outcome = outcome
	c.mu.Unlock()

	c.deps.Metrics.ObserveBatches(state.Number)
	c.deps.Metrics.ObserveQuery(string(outcome))
	logx.Info().
		Uint64("query_id", c.query.ID).
		Int("batches", state.Number).
		Bool("truncated", truncated).
		Float64("total_cost_usd", c.CostUSD()).
		Msg("query finished")
	return nil
}

// firstAttempt retries transient failures and fallback answers with
// escalated parameters. A fallback that survives every retry is accepted.
func (c *Controller) firstAttempt(ctx context.Context) (model.Attempt, error) {
	policy := c.deps.Policy
	retries := c.deps.Config.InitialRetries
	params := policy.Initial(c.prompt, c.query.Shape, c.query.Retry)
	kind := kindInitial

	for i := 0; ; i++ {
		if err := ctx.Err(); err != nil {
			return model.Attempt{}, err
		}
		a := c.call(ctx, params, kind)
		switch {
		case a.Failed():
			if ctx.Err() != nil {
				return a, ctx.Err()
			}
			if !errx.IsTransient(a.Err) || i >= retries {
				return a, a.Err
			}
			logx.Warn().Err(a.Err).Uint64("query_id", c.query.ID).Int("attempt", i+1).Msg("transient gateway failure, retrying")
		case a.IsFallback:
			c.deps.Metrics.IncFallback()
			if i >= retries {
				logx.Warn().Uint64("query_id", c.query.ID).Msg("accepting fallback answer after retries")
				return a, nil
			}
			logx.Warn().Uint64("query_id", c.query.ID).Int("attempt", i+1).Msg("fallback answer, retrying")
		default:
			return a, nil
		}

		next, err := policy.Next(a, i+2, retries+1)
		if err != nil {
			return a, err
		}
		params, kind = next, kindRetry
	}
}

// step runs one continuation batch. merged is false when the gateway failed;
// the error is swallowed and the draft keeps its content. err is only set
// when the query went stale.
func (c *Controller) step(ctx context.Context) (merged bool, err error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}

	c.mu.Lock()
	draft, last, number := c.draft, c.last, c.state.Number
	c.state.IsBatching = true
	c.mu.Unlock()

	limit := c.deps.Config.MaxAutoBatches
	next := number + 1
	params, err := c.deps.Policy.Next(last, next, limit)
	if err != nil {
		return false, err
	}
	params.Prompt = prompts.BuildContinuationPrompt(params.Prompt, draft.Content(), next, limit, c.deps.Config.ContinuationTailChars)

	c.deps.Workflow.Advance(fmt.Sprintf("requesting continuation batch %d/%d", next, limit))
	a := c.call(ctx, params, kindContinuation)
	if a.Failed() {
		if ctx.Err() != nil {
			return false, ctx.Err()
		}
		logx.Warn().Err(a.Err).Uint64("query_id", c.query.ID).Int("batch", next).Msg("continuation failed, keeping best draft")
		return false, nil
	}

	verdict := c.classify(&a, draft.Content()+a.Text)
	if err := c.deps.Merger.Append(draft, a.Text, next); err != nil {
		return false, err
	}

	c.mu.Lock()
	c.state.Number = next
	c.last, c.verdict = a, verdict
	c.mu.Unlock()
	return true, nil
}

func (c *Controller) call(ctx context.Context, params model.AttemptParams, kind string) model.Attempt {
	start := time.Now()
	resp, err := c.deps.Gateway.Generate(ctx, gateway.Request{
		Prompt:      params.Prompt,
		Language:    c.query.Language,
		Temperature: params.Temperature,
		MaxTokens:   params.MaxTokens,
		Format:      params.Format,
	})
	if err == nil && resp == nil {
		err = errx.WrapGateway(errors.New("gateway returned no response"))
	}
	a := model.Attempt{Params: params, Elapsed: time.Since(start), Err: err}

	outcome := "ok"
	if err != nil {
		outcome = "error"
	} else {
		a.Text = resp.Text
		a.Metadata = resp.Metadata
		a.CostUSD = resp.Cost.TotalUSD
		a.IsFallback = classifier.IsFallbackResponse(resp.Text) || (resp.Metadata != nil && resp.Metadata.IsBackupResponse)
		if a.IsFallback {
			outcome = "fallback"
		}
	}
	c.deps.Metrics.ObserveAttempt(kind, outcome, a.Elapsed)
	c.deps.Metrics.AddCost(a.CostUSD)

	c.mu.Lock()
	c.attempts = append(c.attempts, a)
	c.costUSD += a.CostUSD
	c.mu.Unlock()

	logx.Debug().
		Uint64("query_id", c.query.ID).
		Int("attempt", params.Index).
		Str("kind", kind).
		Float32("temperature", params.Temperature).
		Int("max_tokens", params.MaxTokens).
		Dur("elapsed", a.Elapsed).
		Str("outcome", outcome).
		Msg("gateway attempt")
	return a
}

// classify judges a and stores the verdict on it and on its recorded copy,
// which is always the latest attempt.
func (c *Controller) classify(a *model.Attempt, answer string) model.TruncationVerdict {
	v := classifier.Classify(classifier.Input{
		Text:     a.Text,
		Answer:   answer,
		Shape:    c.query.Shape,
		Query:    c.query.Text,
		Metadata: a.Metadata,
	})
	a.Verdict = v
	c.mu.Lock()
	if n := len(c.attempts); n > 0 {
		c.attempts[n-1].Verdict = v
	}
	c.mu.Unlock()
	c.deps.Metrics.ObserveVerdict(v.IsComplete, string(v.Confidence))
	if !v.IsComplete {
		logx.Debug().Uint64("query_id", c.query.ID).Strs("reasons", v.Reasons).Msg("answer judged incomplete")
	}
	return v
}

// fail handles an unrecoverable first attempt: the error message goes to the
// log and the workflow completes. Stale queries write nothing.
func (c *Controller) fail(ctx context.Context, cause error) error {
	if ctx.Err() != nil || errors.Is(cause, context.Canceled) {
		return c.stale(cause)
	}
	logx.Error().Err(cause).Uint64("query_id", c.query.ID).Msg("first attempt failed")
	if _, err := c.deps.Merger.Fail(FailureMessage); err != nil {
		return c.stale(err)
	}
	c.mu.Lock()
	c.outcome = OutcomeFailed
	c.mu.Unlock()
	c.deps.Metrics.ObserveQuery(string(OutcomeFailed))
	c.deps.Workflow.Complete()
	return errx.Wrap(errx.ErrFirstAttemptFailed, cause)
}

// recoverPanic turns a panic inside Run or Continue into a regular ending.
// Before any answer exists it behaves like a failed first attempt; after
// that the partial answer is sealed as truncated with a warning, so the
// query still has exactly one assistant message.
func (c *Controller) recoverPanic(ctx context.Context, out **model.ResponseDraft, errp *error) {
	p := recover()
	if p == nil {
		return
	}
	cause := fmt.Errorf("panic: %v", p)
	logx.Error().Err(cause).Uint64("query_id", c.query.ID).Msg("query run panicked")

	c.mu.Lock()
	draft := c.draft
	c.mu.Unlock()
	if draft == nil {
		*out, *errp = nil, c.fail(ctx, cause)
		return
	}

	*out = draft
	if !draft.Sealed {
		if err := c.deps.Merger.Warn(draft, InterruptedWarning); err != nil {
			*errp = c.stale(err)
			return
		}
		if err := c.deps.Merger.Seal(draft, true); err != nil {
			*errp = c.stale(err)
			return
		}
	}
	c.mu.Lock()
	c.state.IsBatching = false
	c.outcome = OutcomeTruncated
	c.mu.Unlock()
	c.deps.Metrics.ObserveQuery(string(OutcomeTruncated))
	c.deps.Workflow.Complete()
	*errp = nil
}

// stale converts cancellation into ErrStaleQuery. Nothing is rolled back.
func (c *Controller) stale(cause error) error {
	if errors.Is(cause, errx.ErrStaleQuery) || errors.Is(cause, context.Canceled) {
		c.mu.Lock()
		c.outcome = OutcomeStale
		c.mu.Unlock()
		c.deps.Metrics.ObserveQuery(string(OutcomeStale))
		logx.Debug().Uint64("query_id", c.query.ID).Msg("query superseded, abandoning")
		if errors.Is(cause, errx.ErrStaleQuery) {
			return cause
		}
		return errx.Wrap(errx.ErrStaleQuery, cause)
	}
	return cause
}

func (c *Controller) State() model.BatchState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

func (c *Controller) Verdict() model.TruncationVerdict {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.verdict
}

// Attempts returns every gateway attempt made so far, in order.
func (c *Controller) Attempts() []model.Attempt {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]model.Attempt(nil), c.attempts...)
}

func (c *Controller) CostUSD() float64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.costUSD
}

func (c *Controller) Outcome() Outcome {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.outcome
}

func (c *Controller) Query() model.Query {
	return c.query
}
