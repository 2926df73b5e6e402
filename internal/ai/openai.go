package ai

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
)

const defaultOpenAIBaseURL = "https://api.openai.com/v1"

// OpenAIProvider talks to an OpenAI-compatible /embeddings endpoint.
type OpenAIProvider struct {
	config *ClientConfig
	http   *http.Client
}

func NewOpenAIProvider(config *ClientConfig) *OpenAIProvider {
	// Set default model if not provided
	if config.EmbedModel == "" {
		config.EmbedModel = "text-embedding-3-small"
	}
	if config.BaseURL == "" {
		config.BaseURL = defaultOpenAIBaseURL
	}
	config.BaseURL = strings.TrimRight(config.BaseURL, "/")
	if config.Dim == 0 {
		// Set default dimensions based on the embedding model
		switch config.EmbedModel {
		case "text-embedding-3-small":
			config.Dim = 1536
		case "text-embedding-3-large":
			config.Dim = 3072
		case "text-embedding-ada-002":
			config.Dim = 1536
		default:
			// Default to text-embedding-3-small dimensions
			config.Dim = 1536
		}
	}

	// Create HTTP client with optional TLS skip verification
	transport := &http.Transport{}

	// Check for environment variable to skip TLS verification (for corporate proxies, etc.)
	if skipTLS, _ := strconv.ParseBool(os.Getenv("MEETSEARCH_SKIP_TLS_VERIFY")); skipTLS {
		transport.TLSClientConfig = &tls.Config{
			InsecureSkipVerify: true,
		}
	}

	// The per-attempt deadline comes from the caller's context; this is a
	// backstop for callers that pass none.
	httpClient := &http.Client{
		Timeout:   60 * time.Second,
		Transport: transport,
	}

	return &OpenAIProvider{
		config: config,
		http:   httpClient,
	}
}

type openAIEmbeddingRequest struct {
	Input      []string `json:"input"`
	Model      string   `json:"model"`
	Dimensions int      `json:"dimensions,omitempty"`
}

type openAIEmbeddingResponse struct {
	Data []struct {
		Index     int       `json:"index"`
		Embedding []float32 `json:"embedding"`
	} `json:"data"`
}

// EmbedTexts embeds texts in a single request. OpenAI models are symmetric,
// so task is ignored.
func (c *OpenAIProvider) EmbedTexts(ctx context.Context, texts []string, _ Task) ([][]float32, error) {
	if c.config.APIKey == "" {
		return nil, &ProviderError{Provider: ProviderOpenAI, Err: ErrMissingCredentials}
	}
	if len(texts) == 0 {
		return [][]float32{}, nil
	}

	payload := openAIEmbeddingRequest{Input: texts, Model: c.config.EmbedModel}
	// Only the text-embedding-3 family accepts a dimensions override.
	if strings.HasPrefix(c.config.EmbedModel, "text-embedding-3") {
		payload.Dimensions = c.config.Dim
	}

	b, err := json.Marshal(payload)
	if err != nil {
		return nil, &ProviderError{Provider: ProviderOpenAI, Err: err}
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.config.BaseURL+"/embeddings", bytes.NewReader(b))
	if err != nil {
		return nil, &ProviderError{Provider: ProviderOpenAI, Err: err}
	}

	c.setHeaders(req)

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, classifyTransportError(ProviderOpenAI, err)
	}
	defer func() {
		if err := resp.Body.Close(); err != nil {
			log.Warn().Err(err).Msg("failed to close response body")
		}
	}()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		var e struct{ Error struct{ Message string } }
		_ = json.NewDecoder(resp.Body).Decode(&e)
		msg := e.Error.Message
		if msg == "" {
			msg = resp.Status
		}
		return nil, &ProviderError{
			Provider:   ProviderOpenAI,
			StatusCode: resp.StatusCode,
			Retryable:  retryableStatus(resp.StatusCode),
			Err:        errors.New(msg),
		}
	}

	var out openAIEmbeddingResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, classifyTransportError(ProviderOpenAI, fmt.Errorf("decode embeddings: %w", err))
	}
	if len(out.Data) != len(texts) {
		return nil, &ProviderError{
			Provider: ProviderOpenAI,
			Err:      fmt.Errorf("expected %d embeddings, got %d", len(texts), len(out.Data)),
		}
	}

	sort.Slice(out.Data, func(i, j int) bool { return out.Data[i].Index < out.Data[j].Index })
	vecs := make([][]float32, len(out.Data))
	for i, d := range out.Data {
		vecs[i] = d.Embedding
	}
	return vecs, nil
}

func (c *OpenAIProvider) Name() Provider     { return ProviderOpenAI }
func (c *OpenAIProvider) Model() string      { return c.config.EmbedModel }
func (c *OpenAIProvider) Dim() int           { return c.config.Dim }
func (c *OpenAIProvider) MaxInputChars() int { return 8000 }

// setHeaders sets common headers for OpenAI requests
func (c *OpenAIProvider) setHeaders(req *http.Request) {
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.config.APIKey)

	if strings.HasPrefix(c.config.APIKey, "sk-proj-") && c.config.ProjectID != "" {
		req.Header.Set("OpenAI-Project", c.config.ProjectID)
	}
}
