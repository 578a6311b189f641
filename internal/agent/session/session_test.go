package session

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/Chative-core-poc-v1/advisor/internal/agent/batch"
	"github.com/Chative-core-poc-v1/advisor/internal/agent/gateway"
	"github.com/Chative-core-poc-v1/advisor/internal/agent/model"
	"github.com/Chative-core-poc-v1/advisor/internal/agent/retrieval"
	"github.com/Chative-core-poc-v1/advisor/internal/agent/stream"
	errx "github.com/Chative-core-poc-v1/advisor/internal/core/error"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m,
		goleak.IgnoreTopFunction("github.com/blevesearch/bleve_index_api.AnalysisWorker"),
		goleak.IgnoreTopFunction("go.opencensus.io/stats/view.(*worker).start"),
	)
}

const (
	incomplete = "A rights issue has several stages, and the next steps will be outlined in Part 2"
	complete   = "A rights issue is an offer of new shares to existing shareholders."
)

type reply func(ctx context.Context, req gateway.Request) (*gateway.Response, error)

func text(s string) reply {
	return func(context.Context, gateway.Request) (*gateway.Response, error) {
		return &gateway.Response{Text: s}, nil
	}
}

// blockUntilCancel signals started and waits for the query to be superseded.
func blockUntilCancel(started chan<- struct{}) reply {
	return func(ctx context.Context, _ gateway.Request) (*gateway.Response, error) {
		close(started)
		<-ctx.Done()
		return nil, errx.WrapGateway(ctx.Err())
	}
}

type scriptedGateway struct {
	mu       sync.Mutex
	replies  []reply
	requests []gateway.Request
}

func (g *scriptedGateway) Generate(ctx context.Context, req gateway.Request) (*gateway.Response, error) {
	g.mu.Lock()
	i := len(g.requests)
	g.requests = append(g.requests, req)
	r := g.replies[len(g.replies)-1]
	if i < len(g.replies) {
		r = g.replies[i]
	}
	g.mu.Unlock()
	return r(ctx, req)
}

func (g *scriptedGateway) prompts() []string {
	g.mu.Lock()
	defer g.mu.Unlock()
	out := make([]string, 0, len(g.requests))
	for _, r := range g.requests {
		out = append(out, r.Prompt)
	}
	return out
}

type staticGatherer struct {
	result model.ContextResult
}

func (g staticGatherer) Gather(_ context.Context, _ string, _ bool, progress retrieval.Progress) model.ContextResult {
	progress("searching local index and live sources in parallel")
	return g.result
}

func newSession(t *testing.T, cfg model.OrchestratorConfig, replies ...reply) (*Session, *scriptedGateway) {
	t.Helper()
	gw := &scriptedGateway{replies: replies}
	s := New(Deps{
		Gateway:      gw,
		Orchestrator: cfg,
		Retry:        model.DefaultRetryConfig(),
	})
	t.Cleanup(s.Close)
	return s, gw
}

func wait(t *testing.T, s *Session) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, s.Wait(ctx))
}

// collect closes the session and returns every event it published.
func collect(t *testing.T, s *Session, events <-chan stream.Event) []stream.Event {
	t.Helper()
	s.Close()
	var out []stream.Event
	for ev := range events {
		out = append(out, ev)
	}
	return out
}

func terminals(events []stream.Event) []stream.Event {
	var out []stream.Event
	for _, ev := range events {
		if ev.Terminal() || ev.Kind == stream.KindOffer {
			out = append(out, ev)
		}
	}
	return out
}

func manualConfig() model.OrchestratorConfig {
	cfg := model.DefaultOrchestratorConfig()
	cfg.AutoBatch = false
	return cfg
}

func TestSubmitQuery_CompletesAndPublishes(t *testing.T) {
	s, _ := newSession(t, model.DefaultOrchestratorConfig(), text(complete))
	events, _ := s.Subscribe()

	id, err := s.SubmitQuery("  What is a rights issue?  ")
	require.NoError(t, err)
	assert.Equal(t, uint64(1), id)
	wait(t, s)

	snap := s.Snapshot()
	assert.Equal(t, id, snap.QueryID)
	assert.False(t, snap.IsLoading)
	assert.Equal(t, model.PhaseComplete, snap.Phase)
	assert.Equal(t, 100, snap.Workflow.Progress)
	assert.False(t, snap.IsBatching)

	msgs := s.Messages()
	require.Len(t, msgs, 2)
	assert.Equal(t, model.RoleUser, msgs[0].Role)
	assert.Equal(t, "What is a rights issue?", msgs[0].Content)
	assert.Equal(t, model.RoleAssistant, msgs[1].Role)
	assert.Equal(t, complete, msgs[1].Content)

	all := collect(t, s, events)
	final := terminals(all)
	require.Len(t, final, 1)
	assert.Equal(t, stream.KindComplete, final[0].Kind)
	assert.Equal(t, complete, final[0].Content)
	assert.Equal(t, msgs[1].ID, final[0].MessageID)

	var phases, deltas int
	for _, ev := range all {
		switch ev.Kind {
		case stream.KindPhase:
			phases++
		case stream.KindDelta:
			deltas++
		}
	}
	assert.Positive(t, phases)
	assert.Equal(t, 1, deltas)
}

func TestSubmitQuery_RejectsEmptyText(t *testing.T) {
	s, _ := newSession(t, model.DefaultOrchestratorConfig(), text(complete))

	_, err := s.SubmitQuery("   ")
	require.Error(t, err)
	assert.True(t, errors.Is(err, errx.ErrEmptyQuery))
	assert.Empty(t, s.Messages())
}

func TestSubmitQuery_UsesGatheredContext(t *testing.T) {
	gw := &scriptedGateway{replies: []reply{text(complete)}}
	s := New(Deps{
		Gateway:      gw,
		Retrieval:    staticGatherer{result: model.ContextResult{Text: "[1] Rights issue timetable (FAQ)", Strategy: retrieval.StrategyLocalOnly}},
		Orchestrator: model.DefaultOrchestratorConfig(),
		Retry:        model.DefaultRetryConfig(),
	})
	defer s.Close()

	_, err := s.SubmitQuery("What is a rights issue?")
	require.NoError(t, err)
	wait(t, s)

	prompts := gw.prompts()
	require.Len(t, prompts, 1)
	assert.Contains(t, prompts[0], "<retrieved_context>")
	assert.Contains(t, prompts[0], "Rights issue timetable")
	assert.Contains(t, prompts[0], "Question: What is a rights issue?")
}

func TestSubmitQuery_NewerQuerySupersedesOlder(t *testing.T) {
	started := make(chan struct{})
	s, _ := newSession(t, model.DefaultOrchestratorConfig(), blockUntilCancel(started), text(complete))
	events, _ := s.Subscribe()

	first, err := s.SubmitQuery("first question")
	require.NoError(t, err)
	<-started

	second, err := s.SubmitQuery("second question")
	require.NoError(t, err)
	wait(t, s)

	all := collect(t, s, events)
	for _, ev := range terminals(all) {
		assert.Equal(t, second, ev.QueryID, "stale query published a terminal event")
	}

	var assistants []model.Message
	for _, m := range s.Messages() {
		if m.Role == model.RoleAssistant {
			assistants = append(assistants, m)
		}
	}
	require.Len(t, assistants, 1)
	assert.Equal(t, second, assistants[0].QueryID)
	assert.NotEqual(t, first, second)
}

func TestContinueBatch_ManualFlow(t *testing.T) {
	s, gw := newSession(t, manualConfig(), text(incomplete), text(" "+complete))
	events, _ := s.Subscribe()

	_, err := s.SubmitQuery("What is a rights issue?")
	require.NoError(t, err)
	wait(t, s)

	snap := s.Snapshot()
	assert.True(t, snap.IsBatching)
	assert.Equal(t, 1, snap.BatchNumber)
	assert.False(t, snap.IsLoading)

	require.NoError(t, s.ContinueBatch())
	wait(t, s)

	snap = s.Snapshot()
	assert.False(t, snap.IsBatching)
	assert.Equal(t, 2, snap.BatchNumber)

	prompts := gw.prompts()
	require.Len(t, prompts, 2)
	assert.True(t, strings.HasPrefix(prompts[1], "[CONTINUATION batch 2/4]"))

	msgs := s.Messages()
	require.Len(t, msgs, 2)
	assert.Equal(t, incomplete+" "+complete, msgs[1].Content)
	assert.Equal(t, 2, msgs[1].Batches)

	err = s.ContinueBatch()
	assert.True(t, errors.Is(err, errx.ErrNothingToContinue))

	final := terminals(collect(t, s, events))
	require.Len(t, final, 2)
	assert.Equal(t, stream.KindOffer, final[0].Kind)
	assert.True(t, final[0].Truncated)
	assert.Equal(t, stream.KindComplete, final[1].Kind)
	assert.False(t, final[1].Truncated)
}

func TestContinueBatch_NothingOffered(t *testing.T) {
	s, _ := newSession(t, model.DefaultOrchestratorConfig(), text(complete))

	err := s.ContinueBatch()
	assert.True(t, errors.Is(err, errx.ErrNothingToContinue))

	_, err = s.SubmitQuery("What is a rights issue?")
	require.NoError(t, err)
	wait(t, s)

	err = s.ContinueBatch()
	assert.True(t, errors.Is(err, errx.ErrNothingToContinue))
}

func TestRetryLastQuery(t *testing.T) {
	s, gw := newSession(t, model.DefaultOrchestratorConfig(), text(complete))

	_, err := s.RetryLastQuery()
	assert.True(t, errors.Is(err, errx.ErrEmptyQuery))

	first, err := s.SubmitQuery("What is a rights issue?")
	require.NoError(t, err)
	wait(t, s)

	second, err := s.RetryLastQuery()
	require.NoError(t, err)
	assert.Greater(t, second, first)
	wait(t, s)

	prompts := gw.prompts()
	require.Len(t, prompts, 2)
	assert.False(t, strings.HasPrefix(prompts[0], "[RETRY]"))
	assert.True(t, strings.HasPrefix(prompts[1], "[RETRY]"))

	msgs := s.Messages()
	require.Len(t, msgs, 4)
	assert.Equal(t, msgs[0].Content, msgs[2].Content)
	assert.Equal(t, second, msgs[3].QueryID)
}

func TestSubmitQuery_FailureWritesErrorMessage(t *testing.T) {
	fail := func(context.Context, gateway.Request) (*gateway.Response, error) {
		return nil, errx.WrapGateway(errors.New("invalid api key"))
	}
	s, _ := newSession(t, model.DefaultOrchestratorConfig(), fail)
	events, _ := s.Subscribe()

	_, err := s.SubmitQuery("What is a rights issue?")
	require.NoError(t, err)
	wait(t, s)

	msgs := s.Messages()
	require.Len(t, msgs, 2)
	assert.True(t, msgs[1].IsError)
	assert.Equal(t, model.PhaseComplete, s.Snapshot().Phase)

	final := terminals(collect(t, s, events))
	require.Len(t, final, 1)
	assert.Equal(t, stream.KindError, final[0].Kind)
	assert.True(t, errors.Is(final[0].Err, errx.ErrFirstAttemptFailed))
	assert.Equal(t, msgs[1].ID, final[0].MessageID)
}

// Every submitted query that is not superseded ends with exactly one
// assistant message, whatever its outcome.
func TestSubmitQuery_OneAssistantMessagePerQuery(t *testing.T) {
	route := func(_ context.Context, req gateway.Request) (*gateway.Response, error) {
		switch {
		case strings.Contains(req.Prompt, "Question: two"):
			return nil, errx.WrapGateway(errors.New("invalid api key"))
		case strings.Contains(req.Prompt, "Question: three") && !strings.HasPrefix(req.Prompt, "[CONTINUATION"):
			return &gateway.Response{Text: incomplete}, nil
		case strings.Contains(req.Prompt, "Question: three"):
			return &gateway.Response{Text: " " + complete}, nil
		}
		return &gateway.Response{Text: complete}, nil
	}
	s, _ := newSession(t, model.DefaultOrchestratorConfig(), route)

	for _, q := range []string{"one", "two", "three"} {
		_, err := s.SubmitQuery(q)
		require.NoError(t, err)
		wait(t, s)
	}

	msgs := s.Messages()
	var users, assistants int
	for _, m := range msgs {
		switch m.Role {
		case model.RoleUser:
			users++
		case model.RoleAssistant:
			assistants++
		}
	}
	assert.Equal(t, 3, users)
	assert.Equal(t, 3, assistants)
}

func TestClose(t *testing.T) {
	started := make(chan struct{})
	s, _ := newSession(t, model.DefaultOrchestratorConfig(), blockUntilCancel(started))
	events, _ := s.Subscribe()

	_, err := s.SubmitQuery("What is a rights issue?")
	require.NoError(t, err)
	<-started

	s.Close()
	s.Close()

	for range events {
	}
	_, ok := <-events
	assert.False(t, ok)

	_, err = s.SubmitQuery("again")
	assert.ErrorIs(t, err, ErrClosed)
	assert.ErrorIs(t, s.ContinueBatch(), ErrClosed)
}

func TestSubmitQuery_PanicAfterFirstAnswerKeepsOneMessage(t *testing.T) {
	boom := func(context.Context, gateway.Request) (*gateway.Response, error) {
		panic("boom")
	}
	s, gw := newSession(t, model.DefaultOrchestratorConfig(), text(incomplete), boom)
	events, _ := s.Subscribe()

	id, err := s.SubmitQuery("What is a rights issue?")
	require.NoError(t, err)
	wait(t, s)

	require.Len(t, gw.prompts(), 2)

	var assistants []model.Message
	for _, m := range s.Messages() {
		if m.Role == model.RoleAssistant && m.QueryID == id {
			assistants = append(assistants, m)
		}
	}
	require.Len(t, assistants, 1)
	assert.Equal(t, incomplete, assistants[0].Content)
	assert.True(t, assistants[0].IsTruncated)
	assert.False(t, assistants[0].IsError)
	assert.Contains(t, assistants[0].Warnings, batch.InterruptedWarning)

	snap := s.Snapshot()
	assert.False(t, snap.IsBatching)
	assert.Equal(t, model.PhaseComplete, snap.Phase)

	final := terminals(collect(t, s, events))
	require.Len(t, final, 1)
	assert.Equal(t, stream.KindComplete, final[0].Kind)
	assert.True(t, final[0].Truncated)
}

func TestSubmitQuery_NilGatewayResponseFails(t *testing.T) {
	empty := func(context.Context, gateway.Request) (*gateway.Response, error) {
		return nil, nil
	}
	s, _ := newSession(t, model.DefaultOrchestratorConfig(), empty)

	_, err := s.SubmitQuery("What is a rights issue?")
	require.NoError(t, err)
	wait(t, s)

	msgs := s.Messages()
	require.Len(t, msgs, 2)
	assert.True(t, msgs[1].IsError)
	assert.Equal(t, batch.FailureMessage, msgs[1].Content)
}
