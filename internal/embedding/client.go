// Package embedding provides embedding generation against an
// OpenAI-compatible embeddings endpoint.
package embedding

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"hash/fnv"
	"io"
	"math"
	"net/http"
	"strconv"
	"strings"
	"time"
)

// MaxBatchSize is the hard upper bound on texts per request. The provider
// rejects larger payloads, so it caps any configured batch size.
const MaxBatchSize = 128

var (
	// ErrQuotaExhausted means the provider refused the request for quota or
	// billing reasons. Retrying cannot help; callers abort and record where
	// they stopped.
	ErrQuotaExhausted = errors.New("embedding quota exhausted")

	// ErrBatchTooLarge means a single Embed call exceeded the batch cap.
	ErrBatchTooLarge = errors.New("embedding batch too large")
)

// Client generates embeddings over HTTP.
type Client struct {
	httpClient *http.Client
	limiter    *RateLimiter
	baseURL    string
	apiKey     string
	model      string
	dimension  int
	batchSize  int
	maxRetries int
}

// Config holds embedding client configuration.
type Config struct {
	APIKey    string
	Model     string // e.g. "text-embedding-3-small"
	BaseURL   string // Default: https://api.openai.com/v1
	Dimension int    // Default: 1536
	BatchSize int    // Default and maximum: 128
	Timeout   time.Duration
	// RequestsPerSecond <= 0 disables client-side pacing.
	RequestsPerSecond float64
	Burst             int
	// MaxRetries bounds retries of transient failures per request.
	MaxRetries int
}

// NewClient creates a new embedding client.
func NewClient(cfg Config) (*Client, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("API key is required")
	}

	if cfg.BaseURL == "" {
		cfg.BaseURL = "https://api.openai.com/v1"
	}
	if cfg.Model == "" {
		cfg.Model = "text-embedding-3-small"
	}
	if cfg.Dimension <= 0 {
		cfg.Dimension = 1536
	}
	if cfg.BatchSize <= 0 || cfg.BatchSize > MaxBatchSize {
		cfg.BatchSize = MaxBatchSize
	}

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}

	maxRetries := cfg.MaxRetries
	if maxRetries < 0 {
		maxRetries = 0
	} else if maxRetries == 0 {
		maxRetries = 2
	}

	var limiter *RateLimiter
	if cfg.RequestsPerSecond > 0 {
		limiter = NewRateLimiter(RateLimitConfig{
			RequestsPerSecond: cfg.RequestsPerSecond,
			BurstSize:         cfg.Burst,
		})
	}

	return &Client{
		httpClient: &http.Client{Timeout: timeout},
		limiter:    limiter,
		baseURL:    strings.TrimRight(cfg.BaseURL, "/"),
		apiKey:     cfg.APIKey,
		model:      cfg.Model,
		dimension:  cfg.Dimension,
		batchSize:  cfg.BatchSize,
		maxRetries: maxRetries,
	}, nil
}

// EmbeddingRequest represents a request to generate embeddings.
type EmbeddingRequest struct {
	Input []string `json:"input"`
	Model string   `json:"model"`
}

// EmbeddingResponse represents the API response.
type EmbeddingResponse struct {
	Object string          `json:"object"`
	Data   []EmbeddingData `json:"data"`
	Model  string          `json:"model"`
	Usage  EmbeddingUsage  `json:"usage"`
	Error  *EmbeddingError `json:"error,omitempty"`
}

// EmbeddingData contains one embedding vector.
type EmbeddingData struct {
	Object    string    `json:"object"`
	Embedding []float32 `json:"embedding"`
	Index     int       `json:"index"`
}

// EmbeddingUsage contains token usage information.
type EmbeddingUsage struct {
	PromptTokens int `json:"prompt_tokens"`
	TotalTokens  int `json:"total_tokens"`
}

// EmbeddingError represents an API error payload.
type EmbeddingError struct {
	Message string `json:"message"`
	Type    string `json:"type"`
	Code    string `json:"code"`
}

// Embed generates embeddings for the given texts in one request, retrying
// transient failures up to MaxRetries. Quota exhaustion is never retried.
func (c *Client) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}
	if len(texts) > c.batchSize {
		return nil, fmt.Errorf("%w: %d texts, limit %d", ErrBatchTooLarge, len(texts), c.batchSize)
	}

	var lastErr error
	for attempt := 0; attempt <= c.maxRetries; attempt++ {
		if c.limiter != nil {
			if err := c.limiter.Wait(ctx); err != nil {
				return nil, err
			}
		}

		embeddings, retryAfter, transient, err := c.post(ctx, texts)
		if err == nil {
			return embeddings, nil
		}
		if !transient {
			return nil, err
		}

		lastErr = err
		if retryAfter > 0 && c.limiter != nil {
			c.limiter.RecordRateLimitError(retryAfter)
		}
		if attempt < c.maxRetries {
			backoff := time.Duration(1<<attempt) * 500 * time.Millisecond
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(backoff):
			}
		}
	}

	return nil, fmt.Errorf("after %d attempts: %w", c.maxRetries+1, lastErr)
}

// post sends one embeddings request. The transient flag marks failures worth
// retrying; retryAfter carries the server's Retry-After seconds when present.
func (c *Client) post(ctx context.Context, texts []string) (embeddings [][]float32, retryAfter int, transient bool, err error) {
	jsonBody, err := json.Marshal(EmbeddingRequest{Input: texts, Model: c.model})
	if err != nil {
		return nil, 0, false, fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/embeddings", bytes.NewReader(jsonBody))
	if err != nil {
		return nil, 0, false, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, 0, false, ctx.Err()
		}
		return nil, 0, true, fmt.Errorf("send request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, 0, true, fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		apiErr := parseAPIError(body)

		switch {
		case isQuotaError(resp.StatusCode, apiErr):
			return nil, 0, false, fmt.Errorf("%w: %s", ErrQuotaExhausted, errMessage(resp.StatusCode, apiErr, body))
		case resp.StatusCode == http.StatusTooManyRequests:
			return nil, parseRetryAfter(resp), true, fmt.Errorf("rate limited: %s", errMessage(resp.StatusCode, apiErr, body))
		case resp.StatusCode >= 500:
			return nil, 0, true, fmt.Errorf("API error: %s", errMessage(resp.StatusCode, apiErr, body))
		default:
			return nil, 0, false, fmt.Errorf("API error: %s", errMessage(resp.StatusCode, apiErr, body))
		}
	}

	var embResp EmbeddingResponse
	if err := json.Unmarshal(body, &embResp); err != nil {
		return nil, 0, false, fmt.Errorf("unmarshal response: %w", err)
	}

	// Reassemble by index; the provider may return data out of order.
	embeddings = make([][]float32, len(texts))
	for _, data := range embResp.Data {
		if data.Index < 0 || data.Index >= len(embeddings) {
			return nil, 0, false, fmt.Errorf("embedding index %d out of range for %d texts", data.Index, len(texts))
		}
		embeddings[data.Index] = data.Embedding
	}
	for i, emb := range embeddings {
		if emb == nil {
			return nil, 0, false, fmt.Errorf("no embedding returned for input %d", i)
		}
		if len(emb) != c.dimension {
			return nil, 0, false, fmt.Errorf("embedding dimension %d, want %d", len(emb), c.dimension)
		}
	}

	return embeddings, 0, false, nil
}

func parseAPIError(body []byte) *EmbeddingError {
	var errResp EmbeddingResponse
	if err := json.Unmarshal(body, &errResp); err == nil && errResp.Error != nil {
		return errResp.Error
	}
	return nil
}

// isQuotaError recognizes quota and billing refusals, which must abort the
// caller instead of being retried.
func isQuotaError(status int, apiErr *EmbeddingError) bool {
	if status == http.StatusPaymentRequired {
		return true
	}
	if apiErr == nil {
		return false
	}
	if apiErr.Code == "insufficient_quota" || apiErr.Type == "insufficient_quota" {
		return true
	}
	return status == http.StatusTooManyRequests && strings.Contains(strings.ToLower(apiErr.Message), "quota")
}

func errMessage(status int, apiErr *EmbeddingError, body []byte) string {
	if apiErr != nil {
		return fmt.Sprintf("%s (type: %s)", apiErr.Message, apiErr.Type)
	}
	return fmt.Sprintf("status %d, body: %s", status, string(body))
}

func parseRetryAfter(resp *http.Response) int {
	if v := resp.Header.Get("Retry-After"); v != "" {
		if secs, err := strconv.Atoi(v); err == nil {
			return secs
		}
	}
	return 0
}

// EmbedSingle generates an embedding for a single text.
func (c *Client) EmbedSingle(ctx context.Context, text string) ([]float32, error) {
	embeddings, err := c.Embed(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	if len(embeddings) == 0 {
		return nil, fmt.Errorf("no embedding returned")
	}
	return embeddings[0], nil
}

// EmbedBatch generates embeddings for texts in batches of at most the
// configured batch size.
func (c *Client) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	embeddings := make([][]float32, 0, len(texts))

	for i := 0; i < len(texts); i += c.batchSize {
		end := i + c.batchSize
		if end > len(texts) {
			end = len(texts)
		}

		batchEmbeddings, err := c.Embed(ctx, texts[i:end])
		if err != nil {
			return nil, fmt.Errorf("batch %d-%d: %w", i, end, err)
		}
		embeddings = append(embeddings, batchEmbeddings...)
	}

	return embeddings, nil
}

// Model returns the model being used.
func (c *Client) Model() string {
	return c.model
}

// Dimension returns the embedding dimension.
func (c *Client) Dimension() int {
	return c.dimension
}

// BatchSize returns the effective batch cap.
func (c *Client) BatchSize() int {
	return c.batchSize
}

// MockClient is a deterministic in-process embedder for tests and demos.
// Vectors are token-frequency hashes, so texts sharing words score higher
// cosine similarity than unrelated texts.
type MockClient struct {
	dimension int
}

// NewMockClient creates a mock embedder with the given dimension.
func NewMockClient(dimension int) *MockClient {
	if dimension <= 0 {
		dimension = 1536
	}
	return &MockClient{dimension: dimension}
}

// Embed generates deterministic embeddings for the given texts.
func (c *MockClient) Embed(_ context.Context, texts []string) ([][]float32, error) {
	embeddings := make([][]float32, len(texts))
	for i, text := range texts {
		v := make([]float32, c.dimension)
		for _, tok := range strings.Fields(strings.ToLower(text)) {
			h := fnv.New32a()
			h.Write([]byte(tok))
			v[int(h.Sum32())%c.dimension]++
		}
		embeddings[i] = mockNormalize(v)
	}
	return embeddings, nil
}

// EmbedSingle generates a deterministic embedding for a single text.
func (c *MockClient) EmbedSingle(ctx context.Context, text string) ([]float32, error) {
	embeddings, err := c.Embed(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return embeddings[0], nil
}

// Model returns the mock model name.
func (c *MockClient) Model() string {
	return "mock-embedding-model"
}

// Dimension returns the embedding dimension.
func (c *MockClient) Dimension() int {
	return c.dimension
}

func mockNormalize(v []float32) []float32 {
	var sum float64
	for _, x := range v {
		sum += float64(x) * float64(x)
	}
	if sum == 0 {
		return v
	}
	norm := float32(1.0 / math.Sqrt(sum))
	for i := range v {
		v[i] *= norm
	}
	return v
}

// Embedder defines the interface for embedding generation.
type Embedder interface {
	Embed(ctx context.Context, texts []string) ([][]float32, error)
	EmbedSingle(ctx context.Context, text string) ([]float32, error)
	Model() string
	Dimension() int
}

// Ensure implementations satisfy the interface.
var (
	_ Embedder = (*Client)(nil)
	_ Embedder = (*MockClient)(nil)
)
