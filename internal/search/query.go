package search

import (
	"strings"
	"time"
	"unicode/utf8"

	"github.com/seanblong/meetsearch/internal/store"
)

// SearchQuery is a caller's request. Zero values and nil pointers take the
// engine defaults.
type SearchQuery struct {
	Text           string
	ScoreThreshold *float64
	Page           int
	Limit          int
	Speaker        string
	PersonID       string
	UserID         string // restricts cross-meeting search to this owner
	DateFrom       *time.Time
	DateTo         *time.Time
	Hybrid         *bool
	GroupByMeeting *bool
}

// Config holds the ranking constants and query bounds of an Engine.
type Config struct {
	ScoreThreshold      float64
	VectorWeight        float64
	KeywordWeight       float64
	CandidateThreshold  float64
	CandidateMultiplier int
	MaxCandidates       int
	DefaultLimit        int
	DefaultProjectLimit int
	MaxLimit            int
	MaxQueryLength      int
	FanoutConcurrency   int
	// EmbeddingBudget bounds the whole query embedding phase, retries
	// included. It is further capped to half of the caller's remaining
	// deadline so keyword ranking always has time to run.
	EmbeddingBudget time.Duration
}

// DefaultConfig returns the production ranking configuration.
func DefaultConfig() Config {
	return Config{
		ScoreThreshold:      0.7,
		VectorWeight:        0.6,
		KeywordWeight:       0.4,
		CandidateThreshold:  0.2,
		CandidateMultiplier: 10,
		MaxCandidates:       500,
		DefaultLimit:        50,
		DefaultProjectLimit: 20,
		MaxLimit:            100,
		MaxQueryLength:      200,
		FanoutConcurrency:   8,
		EmbeddingBudget:     5 * time.Second,
	}
}

// withDefaults replaces unset or nonsensical fields with DefaultConfig values.
func (c Config) withDefaults() Config {
	def := DefaultConfig()
	if c.ScoreThreshold < 0 || c.ScoreThreshold > 1 {
		c.ScoreThreshold = def.ScoreThreshold
	}
	if c.VectorWeight < 0 || c.KeywordWeight < 0 || c.VectorWeight+c.KeywordWeight == 0 {
		c.VectorWeight, c.KeywordWeight = def.VectorWeight, def.KeywordWeight
	}
	if c.CandidateThreshold < 0 || c.CandidateThreshold > 1 {
		c.CandidateThreshold = def.CandidateThreshold
	}
	if c.CandidateMultiplier < 1 {
		c.CandidateMultiplier = def.CandidateMultiplier
	}
	if c.MaxLimit < 1 {
		c.MaxLimit = def.MaxLimit
	}
	if c.MaxCandidates < c.MaxLimit {
		c.MaxCandidates = max(def.MaxCandidates, c.MaxLimit)
	}
	if c.DefaultLimit < 1 || c.DefaultLimit > c.MaxLimit {
		c.DefaultLimit = min(def.DefaultLimit, c.MaxLimit)
	}
	if c.DefaultProjectLimit < 1 || c.DefaultProjectLimit > c.MaxLimit {
		c.DefaultProjectLimit = min(def.DefaultProjectLimit, c.MaxLimit)
	}
	if c.MaxQueryLength < 1 {
		c.MaxQueryLength = def.MaxQueryLength
	}
	if c.FanoutConcurrency < 1 {
		c.FanoutConcurrency = def.FanoutConcurrency
	}
	if c.EmbeddingBudget <= 0 {
		c.EmbeddingBudget = def.EmbeddingBudget
	}
	return c
}

// query is a validated SearchQuery with every default resolved.
type query struct {
	text      string
	terms     []string
	threshold float64
	page      int
	limit     int
	segments  store.SegmentFilter
	meetings  store.MeetingFilter
	hybrid    bool
	group     bool
}

// candidateLimit is the per-meeting candidate pool size. It depends on limit
// only, so every page of a query ranks the same pool.
func (q query) candidateLimit(c Config) int {
	k := q.limit * c.CandidateMultiplier
	if k > c.MaxCandidates {
		k = c.MaxCandidates
	}
	if k < q.limit {
		k = q.limit
	}
	return k
}

// resolve validates sq and fills defaults. defaultLimit differs between
// single-meeting and project-wide searches.
func (c Config) resolve(sq SearchQuery, defaultLimit int) (query, error) {
	text := strings.TrimSpace(sq.Text)
	if text == "" {
		return query{}, invalid("q", "query text is required")
	}
	if n := utf8.RuneCountInString(text); n > c.MaxQueryLength {
		return query{}, invalid("q", "query text is %d characters, maximum is %d", n, c.MaxQueryLength)
	}

	q := query{
		text:      text,
		terms:     QueryTerms(text),
		threshold: c.ScoreThreshold,
		page:      sq.Page,
		limit:     sq.Limit,
		segments:  store.SegmentFilter{Speaker: strings.TrimSpace(sq.Speaker), PersonID: strings.TrimSpace(sq.PersonID)},
		meetings:  store.MeetingFilter{UserID: sq.UserID, From: sq.DateFrom, To: sq.DateTo},
		hybrid:    true,
		group:     true,
	}

	if sq.ScoreThreshold != nil {
		t := *sq.ScoreThreshold
		if t < 0 || t > 1 {
			return query{}, invalid("threshold", "must be between 0 and 1, got %g", t)
		}
		q.threshold = t
	}
	switch {
	case q.page == 0:
		q.page = 1
	case q.page < 0:
		return query{}, invalid("page", "must be at least 1, got %d", q.page)
	}
	switch {
	case q.limit == 0:
		q.limit = defaultLimit
	case q.limit < 0 || q.limit > c.MaxLimit:
		return query{}, invalid("limit", "must be between 1 and %d, got %d", c.MaxLimit, q.limit)
	}
	if sq.DateFrom != nil && sq.DateTo != nil && sq.DateFrom.After(*sq.DateTo) {
		return query{}, invalid("from", "must not be after to")
	}
	if sq.Hybrid != nil {
		q.hybrid = *sq.Hybrid
	}
	if sq.GroupByMeeting != nil {
		q.group = *sq.GroupByMeeting
	}
	return q, nil
}
