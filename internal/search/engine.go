package search

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/seanblong/meetsearch/internal/ai"
	"github.com/seanblong/meetsearch/internal/store"
	"github.com/seanblong/meetsearch/pkg/models"
)

// Embedder produces query vectors. Embed returns nil when no vector is
// available; it never fails the search.
type Embedder interface {
	Embed(ctx context.Context, text string) []float32
	Enabled() bool
	Status() ai.Status
}

// Observer receives per-search measurements.
type Observer interface {
	ObserveSearch(scope string, embeddingUsed bool, d time.Duration)
	ObserveMeetingsSearched(n int)
}

// Search scopes passed to the Observer.
const (
	ScopeMeeting = "meeting"
	ScopeProject = "project"
)

// Engine answers single-meeting and project-wide hybrid searches.
type Engine struct {
	store     store.SegmentReader
	embedder  Embedder
	retriever *CandidateRetriever
	ranker    HybridRanker
	cfg       Config
	observer  Observer
}

// Option configures an Engine.
type Option func(*Engine)

// WithObserver reports search timings to o.
func WithObserver(o Observer) Option {
	return func(e *Engine) {
		e.observer = o
	}
}

// NewEngine creates an Engine. A nil embedder runs every search in
// keyword-only mode.
func NewEngine(s store.SegmentReader, embedder Embedder, cfg Config, opts ...Option) *Engine {
	cfg = cfg.withDefaults()
	e := &Engine{
		store:     s,
		embedder:  embedder,
		retriever: NewCandidateRetriever(s, cfg.CandidateThreshold),
		ranker:    HybridRanker{VectorWeight: cfg.VectorWeight, KeywordWeight: cfg.KeywordWeight},
		cfg:       cfg,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Config returns the effective configuration.
func (e *Engine) Config() Config { return e.cfg }

// IsEmbeddingEnabled reports whether searches may use vector similarity.
func (e *Engine) IsEmbeddingEnabled() bool {
	return e.embedder != nil && e.embedder.Enabled()
}

// EmbeddingConfig describes the embedding provider for status reporting.
func (e *Engine) EmbeddingConfig() ai.Status {
	if e.embedder == nil {
		return ai.Status{Provider: string(ai.ProviderNone)}
	}
	return e.embedder.Status()
}

// Search ranks the segments of one meeting against sq.
func (e *Engine) Search(ctx context.Context, meetingID string, sq SearchQuery) (models.SearchResultPage, error) {
	start := time.Now()
	q, err := e.cfg.resolve(sq, e.cfg.DefaultLimit)
	if err != nil {
		return models.SearchResultPage{}, err
	}

	_, found, err := e.store.GetMeeting(ctx, meetingID)
	if err != nil {
		return models.SearchResultPage{}, err
	}
	if !found {
		return models.SearchResultPage{}, fmt.Errorf("meeting %s: %w", meetingID, ErrNotFound)
	}

	vec := e.queryVector(ctx, q)
	ranked, err := e.rankMeeting(ctx, meetingID, vec, q)
	if err != nil {
		return models.SearchResultPage{}, err
	}

	page := models.SearchResultPage{
		Results:       paginate(ranked, q.page, q.limit),
		Pagination:    models.Pagination{Page: q.page, Limit: q.limit, Total: len(ranked)},
		EmbeddingUsed: vec != nil,
	}

	e.observeSearch(ScopeMeeting, page.EmbeddingUsed, start)
	log.Debug().
		Str("meeting", meetingID).
		Str("query", ai.Preview(q.text, 40)).
		Bool("embedding", page.EmbeddingUsed).
		Int("total", page.Pagination.Total).
		Dur("took", time.Since(start)).
		Msg("meeting search")
	return page, nil
}

// queryVector embeds the query text unless the query or engine is
// keyword-only. The call runs under embeddingBudget so a slow provider
// degrades to keyword ranking instead of consuming the request deadline.
func (e *Engine) queryVector(ctx context.Context, q query) []float32 {
	if !q.hybrid || !e.IsEmbeddingEnabled() {
		return nil
	}
	ectx, cancel := context.WithTimeout(ctx, e.embeddingBudget(ctx))
	defer cancel()

	vec := e.embedder.Embed(ectx, q.text)
	if vec == nil {
		log.Info().Str("query", ai.Preview(q.text, 40)).Msg("query embedding unavailable, using keyword-only ranking")
	}
	return vec
}

// embeddingBudget is the configured budget, capped to half of the time left
// before ctx's deadline.
func (e *Engine) embeddingBudget(ctx context.Context) time.Duration {
	budget := e.cfg.EmbeddingBudget
	if deadline, ok := ctx.Deadline(); ok {
		if half := time.Until(deadline) / 2; half < budget {
			budget = half
		}
	}
	return budget
}

// rankMeeting runs the per-meeting pipeline and returns every qualifying
// result in rank order.
func (e *Engine) rankMeeting(ctx context.Context, meetingID string, vec []float32, q query) ([]models.ScoredResult, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	pool, err := e.retriever.retrieve(ctx, meetingID, vec, q.terms, q.candidateLimit(e.cfg), q.segments)
	if err != nil {
		return nil, err
	}
	return e.ranker.Rank(pool, q.threshold, q.segments), nil
}

func (e *Engine) observeSearch(scope string, embeddingUsed bool, start time.Time) {
	if e.observer != nil {
		e.observer.ObserveSearch(scope, embeddingUsed, time.Since(start))
	}
}
