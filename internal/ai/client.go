package ai

import (
	"context"
	"errors"
	"hash/fnv"
	"math"
	"strings"
	"unicode"

	"github.com/rs/zerolog/log"
)

// EmbeddingProvider is a remote (or local) backend that turns texts into
// fixed-dimension vectors. The returned slice is index-aligned with texts.
type EmbeddingProvider interface {
	EmbedTexts(ctx context.Context, texts []string, task Task) ([][]float32, error)
	Name() Provider
	Model() string
	Dim() int
	// MaxInputChars is the per-text cap; longer input is truncated by the caller.
	MaxInputChars() int
}

// Provider is enumeration of supported AI providers
type Provider string

const (
	ProviderOpenAI   Provider = "openai"
	ProviderVertexAI Provider = "vertexai"
	ProviderStub     Provider = "stub"
	ProviderNone     Provider = "none"
)

// Task tells asymmetric embedding models which side of a retrieval the
// texts are on.
type Task string

const (
	TaskQuery    Task = "query"
	TaskDocument Task = "document"
)

// ErrMissingCredentials is returned when a provider that needs an API key has none.
var ErrMissingCredentials = errors.New("embedding provider credentials missing")

// ClientConfig holds configuration for embedding providers
type ClientConfig struct {
	APIKey     string
	EmbedModel string
	Dim        int
	ProjectID  string
	Provider   Provider
	Location   string
	BaseURL    string
}

// ParseProvider maps a configured provider name onto a Provider. Unknown names
// are returned unchanged so NewProvider can reject them.
func ParseProvider(name string) Provider {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "openai":
		return ProviderOpenAI
	case "vertexai", "google":
		return ProviderVertexAI
	case "stub":
		return ProviderStub
	case "", "none", "disabled":
		return ProviderNone
	default:
		return Provider(strings.ToLower(name))
	}
}

// NewProvider creates an embedding provider based on configuration.
// ProviderNone yields a nil provider and no error.
func NewProvider(config *ClientConfig) (EmbeddingProvider, error) {
	if config == nil {
		return nil, errors.New("client config is required")
	}

	ctx := context.Background()
	switch config.Provider {
	case ProviderOpenAI:
		if strings.TrimSpace(config.APIKey) == "" {
			return nil, ErrMissingCredentials
		}
		return NewOpenAIProvider(config), nil
	case ProviderVertexAI:
		return NewVertexAIProvider(ctx, config)
	case ProviderStub:
		return NewStubProvider(config.Dim), nil
	case ProviderNone:
		return nil, nil
	default:
		return nil, errors.New("unsupported provider: " + string(config.Provider))
	}
}

// OpenProvider is NewProvider for service startup: a provider whose
// credentials are missing is logged and disabled instead of failing, so the
// service still answers keyword-only searches.
func OpenProvider(config *ClientConfig) (EmbeddingProvider, error) {
	p, err := NewProvider(config)
	if errors.Is(err, ErrMissingCredentials) {
		log.Warn().Str("provider", string(config.Provider)).Msg("embedding provider has no credentials, embeddings disabled")
		return nil, nil
	}
	return p, err
}

// DefaultSchemaDim sizes the embedding column when neither the provider nor
// the configuration names a dimension.
const DefaultSchemaDim = 768

// SchemaDim picks the embedding column size: the provider's dimension, else
// the configured one, else DefaultSchemaDim.
func SchemaDim(p EmbeddingProvider, configured int) int {
	if p != nil && p.Dim() > 0 {
		return p.Dim()
	}
	if configured > 0 {
		return configured
	}
	return DefaultSchemaDim
}

// StubProvider produces deterministic feature-hashed embeddings. Texts that
// share words end up with a positive cosine similarity.
type StubProvider struct {
	dim int
}

// NewStubProvider creates a new StubProvider
func NewStubProvider(dim int) *StubProvider {
	if dim <= 0 {
		dim = 64
	}
	return &StubProvider{dim: dim}
}

func (s *StubProvider) EmbedTexts(ctx context.Context, texts []string, _ Task) ([][]float32, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	out := make([][]float32, len(texts))
	for i, t := range texts {
		out[i] = s.vector(t)
	}
	return out, nil
}

func (s *StubProvider) vector(text string) []float32 {
	v := make([]float32, s.dim)
	words := strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsNumber(r)
	})
	for _, w := range words {
		h := fnv.New32a()
		_, _ = h.Write([]byte(w))
		v[int(h.Sum32()%uint32(s.dim))] += 1
	}
	var norm float64
	for _, x := range v {
		norm += float64(x) * float64(x)
	}
	if norm == 0 {
		return v
	}
	n := float32(math.Sqrt(norm))
	for i := range v {
		v[i] /= n
	}
	return v
}

func (s *StubProvider) Name() Provider     { return ProviderStub }
func (s *StubProvider) Model() string      { return "stub-hash" }
func (s *StubProvider) Dim() int           { return s.dim }
func (s *StubProvider) MaxInputChars() int { return 8000 }
