package search

import (
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestResolve_Defaults(t *testing.T) {
	c := DefaultConfig()

	q, err := c.resolve(SearchQuery{Text: "  roadmap  "}, c.DefaultLimit)
	require.NoError(t, err)
	assert.Equal(t, "roadmap", q.text)
	assert.Equal(t, 1, q.page)
	assert.Equal(t, 50, q.limit)
	assert.Equal(t, 0.7, q.threshold)
	assert.True(t, q.hybrid)
	assert.True(t, q.group)

	q, err = c.resolve(SearchQuery{Text: "roadmap"}, c.DefaultProjectLimit)
	require.NoError(t, err)
	assert.Equal(t, 20, q.limit)

	q, err = c.resolve(SearchQuery{
		Text:           "roadmap",
		ScoreThreshold: ptr(0.0),
		Page:           3,
		Limit:          100,
		Speaker:        " Speaker 2 ",
		Hybrid:         ptr(false),
		GroupByMeeting: ptr(false),
	}, c.DefaultLimit)
	require.NoError(t, err)
	assert.Equal(t, 0.0, q.threshold)
	assert.Equal(t, 3, q.page)
	assert.Equal(t, 100, q.limit)
	assert.Equal(t, "Speaker 2", q.segments.Speaker)
	assert.False(t, q.hybrid)
	assert.False(t, q.group)
}

func TestResolve_Validation(t *testing.T) {
	c := DefaultConfig()
	from := time.Date(2024, 5, 2, 0, 0, 0, 0, time.UTC)
	to := from.Add(-time.Hour)

	tests := []struct {
		name  string
		query SearchQuery
		field string
	}{
		{"empty text", SearchQuery{}, "q"},
		{"whitespace text", SearchQuery{Text: " \t\n"}, "q"},
		{"text too long", SearchQuery{Text: strings.Repeat("ü", 201)}, "q"},
		{"negative page", SearchQuery{Text: "x", Page: -1}, "page"},
		{"negative limit", SearchQuery{Text: "x", Limit: -5}, "limit"},
		{"limit above max", SearchQuery{Text: "x", Limit: 101}, "limit"},
		{"threshold above one", SearchQuery{Text: "x", ScoreThreshold: ptr(1.5)}, "threshold"},
		{"negative threshold", SearchQuery{Text: "x", ScoreThreshold: ptr(-0.1)}, "threshold"},
		{"inverted date range", SearchQuery{Text: "x", DateFrom: &from, DateTo: &to}, "from"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := c.resolve(tt.query, c.DefaultLimit)
			require.Error(t, err)
			assert.True(t, errors.Is(err, ErrValidation))

			var ve *ValidationError
			require.True(t, errors.As(err, &ve))
			assert.Equal(t, tt.field, ve.Field)
		})
	}

	_, err := c.resolve(SearchQuery{Text: strings.Repeat("ü", 200)}, c.DefaultLimit)
	assert.NoError(t, err, "200 runes is within bounds")
}

func TestCandidateLimit(t *testing.T) {
	c := DefaultConfig()
	assert.Equal(t, 100, query{limit: 10}.candidateLimit(c))
	assert.Equal(t, 500, query{limit: 50}.candidateLimit(c))
	assert.Equal(t, 500, query{limit: 100}.candidateLimit(c))

	c.MaxCandidates = 30
	assert.Equal(t, 50, query{limit: 50}.candidateLimit(c), "never smaller than the page")

	// Independent of page.
	assert.Equal(t, query{limit: 10, page: 1}.candidateLimit(c), query{limit: 10, page: 7}.candidateLimit(c))
}

func TestConfig_WithDefaults(t *testing.T) {
	def := DefaultConfig()
	c := Config{}.withDefaults()
	assert.Equal(t, def.VectorWeight, c.VectorWeight)
	assert.Equal(t, def.KeywordWeight, c.KeywordWeight)
	assert.Equal(t, def.CandidateMultiplier, c.CandidateMultiplier)
	assert.Equal(t, def.MaxCandidates, c.MaxCandidates)
	assert.Equal(t, def.DefaultLimit, c.DefaultLimit)
	assert.Equal(t, def.DefaultProjectLimit, c.DefaultProjectLimit)
	assert.Equal(t, def.MaxLimit, c.MaxLimit)
	assert.Equal(t, def.MaxQueryLength, c.MaxQueryLength)
	assert.Equal(t, def.FanoutConcurrency, c.FanoutConcurrency)

	c = Config{ScoreThreshold: 2, CandidateThreshold: -1}.withDefaults()
	assert.Equal(t, def.ScoreThreshold, c.ScoreThreshold)
	assert.Equal(t, def.CandidateThreshold, c.CandidateThreshold)

	c = Config{VectorWeight: 1, KeywordWeight: 0, MaxLimit: 10, ScoreThreshold: 0.5}.withDefaults()
	assert.Equal(t, 1.0, c.VectorWeight)
	assert.Equal(t, 0.0, c.KeywordWeight)
	assert.Equal(t, 0.5, c.ScoreThreshold)
	assert.Equal(t, 10, c.DefaultLimit)
	assert.Equal(t, 10, c.DefaultProjectLimit)
}
