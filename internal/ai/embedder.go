package ai

import (
	"context"
	"crypto/sha1"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/rs/zerolog/log"
	"github.com/sony/gobreaker"
	"golang.org/x/time/rate"
)

// Embedding request outcomes reported to the observer.
const (
	OutcomeOK          = "ok"
	OutcomeRetry       = "retry"
	OutcomeFailed      = "failed"
	OutcomeBreakerOpen = "breaker_open"
	OutcomeDisabled    = "disabled"
	OutcomeCacheHit    = "cache_hit"
)

// EmbedderConfig is the retry/batching policy of an EmbeddingClient.
type EmbedderConfig struct {
	Enabled         bool
	Timeout         time.Duration // per provider call, independent of the request deadline
	MaxAttempts     int
	BaseDelay       time.Duration
	BatchSize       int
	RPS             float64 // 0 disables rate limiting
	BreakerFailures uint32
	BreakerTimeout  time.Duration
}

// DefaultEmbedderConfig returns the production retry policy: 3 attempts,
// 1s doubling backoff, 100 texts per provider call.
func DefaultEmbedderConfig() EmbedderConfig {
	return EmbedderConfig{
		Enabled:         true,
		Timeout:         10 * time.Second,
		MaxAttempts:     3,
		BaseDelay:       time.Second,
		BatchSize:       100,
		BreakerFailures: 5,
		BreakerTimeout:  30 * time.Second,
	}
}

// VectorCache stores query embeddings between requests.
type VectorCache interface {
	Get(ctx context.Context, key string) ([]float32, bool)
	Set(ctx context.Context, key string, vec []float32)
}

// Status describes the embedding configuration for health reporting.
type Status struct {
	Provider   string `json:"provider"`
	Model      string `json:"model"`
	Dimensions int    `json:"dimensions"`
	Enabled    bool   `json:"enabled"`
}

// EmbeddingClient wraps an EmbeddingProvider. Its methods never return errors:
// any failure degrades to a nil vector so callers can fall back to keyword
// scoring.
type EmbeddingClient struct {
	provider EmbeddingProvider
	cfg      EmbedderConfig
	breaker  *gobreaker.CircuitBreaker
	limiter  *rate.Limiter
	cache    VectorCache
	observe  func(outcome string)
}

// Option configures an EmbeddingClient.
type Option func(*EmbeddingClient)

// WithCache sets the query vector cache used by Embed.
func WithCache(cache VectorCache) Option {
	return func(c *EmbeddingClient) {
		c.cache = cache
	}
}

// WithObserver registers a callback receiving one outcome per provider call.
func WithObserver(fn func(outcome string)) Option {
	return func(c *EmbeddingClient) {
		if fn != nil {
			c.observe = fn
		}
	}
}

// NewEmbeddingClient creates a client around provider. A nil provider or
// cfg.Enabled == false produces a disabled client.
func NewEmbeddingClient(provider EmbeddingProvider, cfg EmbedderConfig, opts ...Option) *EmbeddingClient {
	def := DefaultEmbedderConfig()
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = def.MaxAttempts
	}
	if cfg.BaseDelay <= 0 {
		cfg.BaseDelay = def.BaseDelay
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = def.Timeout
	}
	if cfg.BatchSize <= 0 || cfg.BatchSize > def.BatchSize {
		cfg.BatchSize = def.BatchSize
	}
	if cfg.BreakerFailures == 0 {
		cfg.BreakerFailures = def.BreakerFailures
	}
	if cfg.BreakerTimeout <= 0 {
		cfg.BreakerTimeout = def.BreakerTimeout
	}
	if provider == nil {
		cfg.Enabled = false
	}

	limit := rate.Inf
	if cfg.RPS > 0 {
		limit = rate.Limit(cfg.RPS)
	}

	c := &EmbeddingClient{
		provider: provider,
		cfg:      cfg,
		limiter:  rate.NewLimiter(limit, 1),
		observe:  func(string) {},
	}

	name := "embedding"
	if provider != nil {
		name = "embedding-" + string(provider.Name())
	}
	failures := cfg.BreakerFailures
	c.breaker = gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        name,
		MaxRequests: 1,
		Timeout:     cfg.BreakerTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= failures
		},
		// A caller giving up is not the provider's fault.
		IsSuccessful: func(err error) bool {
			return err == nil || errors.Is(err, context.Canceled)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			log.Warn().Str("breaker", name).Str("from", from.String()).Str("to", to.String()).Msg("embedding circuit breaker state changed")
		},
	})

	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Enabled reports whether calls reach a provider at all.
func (c *EmbeddingClient) Enabled() bool {
	return c.cfg.Enabled && c.provider != nil
}

// Status returns the provider configuration for status endpoints.
func (c *EmbeddingClient) Status() Status {
	if c.provider == nil {
		return Status{Provider: string(ProviderNone), Enabled: false}
	}
	return Status{
		Provider:   string(c.provider.Name()),
		Model:      c.provider.Model(),
		Dimensions: c.provider.Dim(),
		Enabled:    c.Enabled(),
	}
}

// Embed returns the vector for text, or nil when text is blank, the client is
// disabled, or the provider failed after retries.
func (c *EmbeddingClient) Embed(ctx context.Context, text string) []float32 {
	if !c.Enabled() {
		c.observe(OutcomeDisabled)
		return nil
	}
	text, ok := c.normalize(text)
	if !ok {
		return nil
	}

	key := c.cacheKey(text)
	if c.cache != nil {
		if v, hit := c.cache.Get(ctx, key); hit {
			c.observe(OutcomeCacheHit)
			return v
		}
	}

	vecs := c.embedChunk(ctx, []string{text}, TaskQuery)
	if vecs == nil {
		return nil
	}
	if c.cache != nil {
		c.cache.Set(ctx, key, vecs[0])
	}
	return vecs[0]
}

// EmbedBatch returns one entry per input text, in input order. Blank texts and
// texts in a failed chunk map to nil; other chunks are unaffected.
func (c *EmbeddingClient) EmbedBatch(ctx context.Context, texts []string) [][]float32 {
	out := make([][]float32, len(texts))
	if !c.Enabled() {
		c.observe(OutcomeDisabled)
		return out
	}

	idx := make([]int, 0, len(texts))
	inputs := make([]string, 0, len(texts))
	for i, t := range texts {
		if n, ok := c.normalize(t); ok {
			idx = append(idx, i)
			inputs = append(inputs, n)
		}
	}

	for start := 0; start < len(inputs); start += c.cfg.BatchSize {
		end := start + c.cfg.BatchSize
		if end > len(inputs) {
			end = len(inputs)
		}
		vecs := c.embedChunk(ctx, inputs[start:end], TaskDocument)
		if vecs == nil {
			log.Warn().Int("chunk_start", start).Int("chunk_size", end-start).Msg("embedding chunk failed")
			continue
		}
		for j, v := range vecs {
			out[idx[start+j]] = v
		}
	}
	return out
}

// embedChunk performs one breaker-guarded, retried provider call. It returns
// nil on any failure.
func (c *EmbeddingClient) embedChunk(ctx context.Context, texts []string, task Task) [][]float32 {
	var result [][]float32
	attempts := 0

	_, err := c.breaker.Execute(func() (interface{}, error) {
		return nil, RetryWithBackoff(ctx, c.cfg.MaxAttempts, c.cfg.BaseDelay, func(ctx context.Context) error {
			attempts++
			if attempts > 1 {
				c.observe(OutcomeRetry)
			}
			if err := c.limiter.Wait(ctx); err != nil {
				return err
			}

			actx, cancel := context.WithTimeout(ctx, c.cfg.Timeout)
			defer cancel()

			vecs, err := c.provider.EmbedTexts(actx, texts, task)
			if err != nil {
				// The attempt deadline expired while the caller is still waiting.
				if ctx.Err() == nil && errors.Is(actx.Err(), context.DeadlineExceeded) {
					return &ProviderError{Provider: c.provider.Name(), Retryable: true, Err: err}
				}
				return err
			}
			if len(vecs) != len(texts) {
				return &ProviderError{
					Provider: c.provider.Name(),
					Err:      fmt.Errorf("expected %d embeddings, got %d", len(texts), len(vecs)),
				}
			}
			result = vecs
			return nil
		})
	})

	switch {
	case err == nil:
		c.observe(OutcomeOK)
		return result
	case errors.Is(err, gobreaker.ErrOpenState), errors.Is(err, gobreaker.ErrTooManyRequests):
		c.observe(OutcomeBreakerOpen)
		log.Debug().Msg("embedding circuit breaker open, skipping provider call")
	default:
		c.observe(OutcomeFailed)
		log.Warn().Err(err).Int("attempts", attempts).Int("texts", len(texts)).Msg("embedding failed, degrading to keyword search")
	}
	return nil
}

// normalize trims text and truncates it to the provider's input cap on a rune
// boundary. ok is false for blank input.
func (c *EmbeddingClient) normalize(text string) (string, bool) {
	text = strings.TrimSpace(text)
	if text == "" {
		return "", false
	}
	max := c.provider.MaxInputChars()
	if max > 0 && utf8.RuneCountInString(text) > max {
		text = string([]rune(text)[:max])
	}
	return text, true
}

func (c *EmbeddingClient) cacheKey(text string) string {
	h := sha1.Sum([]byte(fmt.Sprintf("%s|%s|%d|%s", c.provider.Name(), c.provider.Model(), c.provider.Dim(), text)))
	return hex.EncodeToString(h[:])
}

// Preview shortens s for log fields.
func Preview(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	return string([]rune(s)[:n]) + "…"
}
