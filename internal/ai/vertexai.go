package ai

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"google.golang.org/genai"
)

type VertexAIProvider struct {
	config *ClientConfig
	client *genai.Client
}

// NewVertexAIProvider creates a new embedding provider for Vertex AI / Gemini.
func NewVertexAIProvider(ctx context.Context, config *ClientConfig) (*VertexAIProvider, error) {
	if config == nil {
		return nil, errors.New("config cannot be nil")
	}

	// Defaults for Gemini API
	if config.EmbedModel == "" {
		config.EmbedModel = "text-embedding-005"
	}
	if config.Dim == 0 {
		config.Dim = 768
	}
	if config.Location == "" && strings.TrimSpace(config.APIKey) == "" {
		config.Location = "us-central1"
	}

	cc := genai.ClientConfig{
		Backend: genai.BackendVertexAI,
	}

	if strings.TrimSpace(config.APIKey) != "" {
		cc.APIKey = config.APIKey
	}
	if strings.TrimSpace(config.ProjectID) != "" {
		cc.Project = config.ProjectID
	}
	if strings.TrimSpace(config.Location) != "" {
		cc.Location = config.Location
	}

	client, err := genai.NewClient(ctx, &cc)
	if err != nil {
		return nil, fmt.Errorf("failed to create Gemini client: %w", err)
	}

	return &VertexAIProvider{
		config: config,
		client: client,
	}, nil
}

// EmbedTexts sends one Content per text in a single EmbedContent call.
func (c *VertexAIProvider) EmbedTexts(ctx context.Context, texts []string, task Task) ([][]float32, error) {
	if len(texts) == 0 {
		return [][]float32{}, nil
	}

	contents := make([]*genai.Content, 0, len(texts))
	for _, t := range texts {
		contents = append(contents, genai.NewContentFromText(t, genai.RoleUser))
	}

	cfg := genai.EmbedContentConfig{
		TaskType: vertexTaskType(task),
	}
	if c.config.Dim > 0 {
		cfg.OutputDimensionality = genai.Ptr(int32(c.config.Dim))
	}

	res, err := c.client.Models.EmbedContent(ctx, c.config.EmbedModel, contents, &cfg)
	if err != nil {
		return nil, classifyVertexError(err)
	}

	if res == nil || len(res.Embeddings) != len(texts) {
		return nil, &ProviderError{Provider: ProviderVertexAI, Err: errors.New("embedding count mismatch")}
	}

	vecs := make([][]float32, len(res.Embeddings))
	for i, e := range res.Embeddings {
		if e == nil {
			return nil, &ProviderError{Provider: ProviderVertexAI, Err: fmt.Errorf("no embedding returned for item %d", i)}
		}
		vecs[i] = e.Values
	}
	return vecs, nil
}

func vertexTaskType(task Task) string {
	if task == TaskDocument {
		return "RETRIEVAL_DOCUMENT"
	}
	return "RETRIEVAL_QUERY"
}

func classifyVertexError(err error) error {
	var apiErr genai.APIError
	if errors.As(err, &apiErr) {
		return &ProviderError{
			Provider:   ProviderVertexAI,
			StatusCode: apiErr.Code,
			Retryable:  retryableStatus(apiErr.Code),
			Err:        err,
		}
	}
	var apiErrPtr *genai.APIError
	if errors.As(err, &apiErrPtr) {
		return &ProviderError{
			Provider:   ProviderVertexAI,
			StatusCode: apiErrPtr.Code,
			Retryable:  retryableStatus(apiErrPtr.Code),
			Err:        err,
		}
	}
	return classifyTransportError(ProviderVertexAI, err)
}

func (c *VertexAIProvider) Name() Provider     { return ProviderVertexAI }
func (c *VertexAIProvider) Model() string      { return c.config.EmbedModel }
func (c *VertexAIProvider) Dim() int           { return c.config.Dim }
func (c *VertexAIProvider) MaxInputChars() int { return 8000 }
