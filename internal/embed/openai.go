package embed

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	openai "github.com/sashabaranov/go-openai"

	rerrors "github.com/Aman-CERP/regsearch/internal/errors"
)

// OpenAIConfig holds settings for an OpenAI-compatible embeddings endpoint.
type OpenAIConfig struct {
	APIKey     string
	BaseURL    string
	Model      string
	Dimensions int
}

// OpenAIEmbedder calls an OpenAI-compatible /embeddings API.
type OpenAIEmbedder struct {
	client     *openai.Client
	model      openai.EmbeddingModel
	dimensions int
	// batchRetry applies to EmbedBatch only. Query embeddings run inside a
	// tier deadline and are retried by the orchestrator.
	batchRetry rerrors.RetryConfig
}

// NewOpenAIEmbedder creates an embedder for cfg. BaseURL may point at any
// compatible provider.
func NewOpenAIEmbedder(cfg OpenAIConfig) *OpenAIEmbedder {
	clientCfg := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		clientCfg.BaseURL = cfg.BaseURL
	}
	retry := rerrors.DefaultRetryConfig()
	retry.Jitter = true
	retry.ShouldRetry = rerrors.IsRetryable
	return &OpenAIEmbedder{
		client:     openai.NewClientWithConfig(clientCfg),
		model:      openai.EmbeddingModel(cfg.Model),
		dimensions: cfg.Dimensions,
		batchRetry: retry,
	}
}

// Embed makes a single attempt.
func (e *OpenAIEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	vecs, err := e.create(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vecs[0], nil
}

// EmbedBatch sends all texts in one request and returns vectors in input
// order. Transient failures are retried with backoff.
func (e *OpenAIEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return [][]float32{}, nil
	}
	return rerrors.RetryWithResult(ctx, e.batchRetry, func() ([][]float32, error) {
		return e.create(ctx, texts)
	})
}

func (e *OpenAIEmbedder) create(ctx context.Context, texts []string) ([][]float32, error) {
	req := openai.EmbeddingRequest{
		Input:          texts,
		Model:          e.model,
		EncodingFormat: openai.EmbeddingEncodingFormatFloat,
	}
	if e.dimensions > 0 {
		req.Dimensions = e.dimensions
	}

	start := time.Now()
	resp, err := e.client.CreateEmbeddings(ctx, req)
	if err != nil {
		return nil, classifyAPIError(err)
	}
	if len(resp.Data) != len(texts) {
		return nil, rerrors.New(rerrors.ErrCodeEmbeddingFailed,
			fmt.Sprintf("embedding response has %d vectors for %d inputs", len(resp.Data), len(texts)), nil)
	}

	out := make([][]float32, len(texts))
	for _, d := range resp.Data {
		if d.Index < 0 || d.Index >= len(out) {
			return nil, rerrors.New(rerrors.ErrCodeEmbeddingFailed, fmt.Sprintf("embedding index %d out of range", d.Index), nil)
		}
		out[d.Index] = normalizeVector(d.Embedding)
	}

	slog.Debug("embeddings created",
		slog.String("model", string(e.model)),
		slog.Int("inputs", len(texts)),
		slog.Int("total_tokens", resp.Usage.TotalTokens),
		slog.Duration("duration", time.Since(start)))
	return out, nil
}

// Dimensions returns the requested dimension, or 0 when the model default is used.
func (e *OpenAIEmbedder) Dimensions() int {
	return e.dimensions
}

// ModelName returns the model identifier.
func (e *OpenAIEmbedder) ModelName() string {
	return string(e.model)
}

// Close is a no-op; the HTTP client has no resources to release.
func (e *OpenAIEmbedder) Close() error {
	return nil
}

// classifyAPIError marks 5xx and 429 responses as transient transport failures.
func classifyAPIError(err error) error {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return err
	}

	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		return statusError(apiErr.HTTPStatusCode, apiErr.Message, err)
	}
	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) {
		msg := extractDetail(reqErr.Body)
		if msg == "" {
			msg = string(reqErr.Body)
		}
		return statusError(reqErr.HTTPStatusCode, msg, err)
	}
	return rerrors.New(rerrors.ErrCodeTierTransport, "embedding request failed: "+err.Error(), err)
}

func statusError(status int, msg string, cause error) error {
	text := fmt.Sprintf("embedding API error %d: %s", status, msg)
	if status >= http.StatusInternalServerError || status == http.StatusTooManyRequests {
		return rerrors.New(rerrors.ErrCodeTierTransport, text, cause)
	}
	return rerrors.New(rerrors.ErrCodeEmbeddingFailed, text, cause)
}

// extractDetail reads the "detail" field some compatible providers use.
func extractDetail(body []byte) string {
	var parsed struct {
		Detail string `json:"detail"`
	}
	if json.Unmarshal(body, &parsed) == nil {
		return parsed.Detail
	}
	return ""
}
