// Package retrieval gathers reference context for a query from the local
// knowledge base, an optional live search endpoint and the context cache.
package retrieval

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	"golang.org/x/sync/errgroup"

	"github.com/Chative-core-poc-v1/advisor/internal/agent/model"
	"github.com/Chative-core-poc-v1/advisor/internal/agent/repo"
	logx "github.com/Chative-core-poc-v1/advisor/pkg/logger"
)

// Strategy labels of a context result.
const (
	StrategyLocalOnly   = "local_only"
	StrategyLiveOnly    = "live_only"
	StrategyHybrid      = "hybrid"
	StrategyNoResults   = "no_results"
	StrategyCachedIndex = "cached_index"
	StrategyFailed      = "failed"
)

// progress signals understood by the workflow rules
const (
	signalGathering = "gathering context"
	signalParallel  = "searching local index and live sources in parallel"
	signalCacheHit  = "context cache hit"
)

// Progress receives human-readable progress signals.
type Progress func(signal string)

// MetricsRecorder is the subset of metrics the coordinator reports.
type MetricsRecorder interface {
	ObserveStrategy(strategy string)
}

type Coordinator struct {
	local    Searcher
	live     Searcher
	cache    model.ContextCache
	limit    int
	maxChars int
	metrics  MetricsRecorder
}

type Option func(*Coordinator)

// WithLive enables the hybrid strategy for queries that need fresh data.
func WithLive(s Searcher) Option {
	return func(c *Coordinator) { c.live = s }
}

func WithCache(cache model.ContextCache) Option {
	return func(c *Coordinator) { c.cache = cache }
}

func WithMetrics(m MetricsRecorder) Option {
	return func(c *Coordinator) { c.metrics = m }
}

func NewCoordinator(local Searcher, cfg model.RetrievalConfig, opts ...Option) *Coordinator {
	c := &Coordinator{
		local:    local,
		limit:    cfg.SearchLimit,
		maxChars: cfg.MaxContextChars,
	}
	if c.limit <= 0 {
		c.limit = 5
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

var (
	recencyWords = []string{"latest", "recent", "recently", "current", "currently", "today", "this year", "this week", "now", "new rule", "amendment", "amended", "update", "news"}
	yearPattern  = regexp.MustCompile(`\b20[2-9]\d\b`)
)

// NeedsFresh reports whether the query asks for time-sensitive information.
func NeedsFresh(query string) bool {
	q := strings.ToLower(query)
	for _, w := range recencyWords {
		if containsWord(q, w) {
			return true
		}
	}
	return yearPattern.MatchString(q)
}

func containsWord(s, w string) bool {
	for i := 0; ; {
		j := strings.Index(s[i:], w)
		if j < 0 {
			return false
		}
		start, end := i+j, i+j+len(w)
		if (start == 0 || !isWordByte(s[start-1])) && (end == len(s) || !isWordByte(s[end])) {
			return true
		}
		i = start + 1
	}
}

func isWordByte(b byte) bool {
	return b == '_' || b >= '0' && b <= '9' || b >= 'a' && b <= 'z'
}

// Gather never fails: lookup errors degrade to a local-only or empty
// result, and a panic in a source is recovered as StrategyFailed.
func (c *Coordinator) Gather(ctx context.Context, query string, prioritizeExact bool, progress Progress) (res model.ContextResult) {
	if progress == nil {
		progress = func(string) {}
	}
	defer func() {
		if r := recover(); r != nil {
			logx.Error().Interface("panic", r).Str("query", query).Msg("context gathering panicked")
			res = model.ContextResult{Strategy: StrategyFailed, Reasoning: "context lookup failed"}
		}
		if c.metrics != nil {
			c.metrics.ObserveStrategy(res.Strategy)
		}
	}()

	progress(signalGathering)
	if c.live != nil && NeedsFresh(query) {
		progress(signalParallel)
		return c.hybrid(ctx, query, prioritizeExact)
	}
	return c.cachedIndex(ctx, query, prioritizeExact, progress)
}

func (c *Coordinator) hybrid(ctx context.Context, query string, prioritizeExact bool) model.ContextResult {
	var local, live []model.Passage
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		local, err = c.local.Search(gctx, query, c.limit, prioritizeExact)
		return err
	})
	g.Go(func() error {
		var err error
		live, err = c.live.Search(gctx, query, c.limit, prioritizeExact)
		return err
	})

	if err := g.Wait(); err != nil {
		logx.Warn().Err(err).Str("query", query).Msg("hybrid context lookup failed, falling back to local index")
		return c.localOnly(ctx, query, prioritizeExact)
	}

	passages := append(append([]model.Passage(nil), local...), live...)
	res := model.ContextResult{
		Text:      c.render(passages),
		Reasoning: fmt.Sprintf("local index returned %d passages; live search returned %d", len(local), len(live)),
	}
	switch {
	case len(local) > 0 && len(live) > 0:
		res.Strategy = StrategyHybrid
	case len(local) > 0:
		res.Strategy = StrategyLocalOnly
	case len(live) > 0:
		res.Strategy = StrategyLiveOnly
	default:
		res.Strategy = StrategyNoResults
	}
	return res
}

func (c *Coordinator) localOnly(ctx context.Context, query string, prioritizeExact bool) model.ContextResult {
	passages, err := c.local.Search(ctx, query, c.limit, prioritizeExact)
	if err != nil {
		logx.Error().Err(err).Str("query", query).Msg("local context lookup failed")
		return model.ContextResult{Strategy: StrategyFailed, Reasoning: "context lookup failed"}
	}
	return model.ContextResult{
		Text:      c.render(passages),
		Reasoning: fmt.Sprintf("local index returned %d passages", len(passages)),
		Strategy:  StrategyLocalOnly,
	}
}

func (c *Coordinator) cachedIndex(ctx context.Context, query string, prioritizeExact bool, progress Progress) model.ContextResult {
	key := repo.CacheKey(query, prioritizeExact)
	if c.cache != nil {
		hit, found, err := c.cache.Get(ctx, key)
		switch {
		case err != nil:
			logx.Warn().Err(err).Msg("context cache read failed")
		case found:
			progress(signalCacheHit)
			res := *hit
			res.Strategy = StrategyCachedIndex
			return res
		}
	}

	res := c.localOnly(ctx, query, prioritizeExact)
	if res.Strategy == StrategyLocalOnly && res.Text == "" {
		res.Strategy = StrategyNoResults
	}
	if c.cache != nil && res.Text != "" {
		if err := c.cache.Set(ctx, key, res); err != nil {
			logx.Warn().Err(err).Msg("context cache write failed")
		}
	}
	return res
}

// render formats passages as numbered references, cut at maxChars runes.
func (c *Coordinator) render(passages []model.Passage) string {
	var b strings.Builder
	for i, p := range passages {
		if i > 0 {
			b.WriteString("\n\n")
		}
		fmt.Fprintf(&b, "[%d] %s", i+1, p.Title)
		if p.Source != "" {
			fmt.Fprintf(&b, " (%s)", p.Source)
		}
		if p.URL != "" {
			fmt.Fprintf(&b, " <%s>", p.URL)
		}
		b.WriteString("\n")
		b.WriteString(strings.TrimSpace(p.Snippet))
	}
	out := b.String()
	if c.maxChars > 0 {
		if r := []rune(out); len(r) > c.maxChars {
			out = string(r[:c.maxChars])
		}
	}
	return out
}
