package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"golang.org/x/time/rate"

	"github.com/brunobiangulo/mindforge/metrics"
)

const (
	defaultTimeout   = 120 * time.Second
	defaultRateLimit = 5.0 // requests per second
	defaultBurst     = 5

	maxRetries        = 6
	baseRetryDelay    = 2 * time.Second
	minRateLimitDelay = 5 * time.Second
)

// APIError is a non-2xx response from the provider.
type APIError struct {
	StatusCode int
	Body       string
	retryAfter time.Duration
}

func (e *APIError) Error() string {
	return fmt.Sprintf("LLM API error %d: %s", e.StatusCode, e.Body)
}

// Temporary reports whether the request may succeed when retried.
func (e *APIError) Temporary() bool {
	switch e.StatusCode {
	case http.StatusTooManyRequests, http.StatusBadGateway,
		http.StatusServiceUnavailable, http.StatusGatewayTimeout:
		return true
	}
	return false
}

// apiClient speaks the OpenAI chat/embeddings wire format. Every provider
// in this package is an apiClient pointed at a different endpoint.
type apiClient struct {
	cfg     Config
	name    string // provider label for metrics and logs
	http    *http.Client
	limiter *rate.Limiter

	// nativeEmbed switches Embed to Ollama's batched /api/embed route.
	nativeEmbed bool

	maxRetries     int
	retryDelay     time.Duration
	rateLimitDelay time.Duration
}

func newAPIClient(name string, cfg Config) *apiClient {
	timeout := defaultTimeout
	if cfg.TimeoutSeconds > 0 {
		timeout = time.Duration(cfg.TimeoutSeconds) * time.Second
	}
	rps := cfg.RequestsPerSecond
	if rps <= 0 {
		rps = defaultRateLimit
	}
	burst := cfg.Burst
	if burst <= 0 {
		burst = defaultBurst
	}
	return &apiClient{
		cfg:            cfg,
		name:           name,
		http:           &http.Client{Timeout: timeout},
		limiter:        rate.NewLimiter(rate.Limit(rps), burst),
		maxRetries:     maxRetries,
		retryDelay:     baseRetryDelay,
		rateLimitDelay: minRateLimitDelay,
	}
}

// --- wire types ---

type completionBody struct {
	Model          string          `json:"model"`
	Messages       json.RawMessage `json:"messages"`
	Temperature    float64         `json:"temperature,omitempty"`
	MaxTokens      int             `json:"max_tokens,omitempty"`
	ResponseFormat *responseFormat `json:"response_format,omitempty"`
}

type responseFormat struct {
	Type string `json:"type"`
}

type completionReply struct {
	Model   string `json:"model"`
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
		FinishReason string `json:"finish_reason"`
	} `json:"choices"`
	Usage struct {
		PromptTokens     int `json:"prompt_tokens"`
		CompletionTokens int `json:"completion_tokens"`
		TotalTokens      int `json:"total_tokens"`
	} `json:"usage"`
}

type embedBody struct {
	Model string   `json:"model"`
	Input []string `json:"input"`
}

type embedReply struct {
	Data []struct {
		Index     int       `json:"index"`
		Embedding []float32 `json:"embedding"`
	} `json:"data"`
}

type nativeEmbedReply struct {
	Embeddings [][]float64 `json:"embeddings"`
}

// --- Provider ---

func (c *apiClient) Chat(ctx context.Context, req ChatRequest) (*ChatResponse, error) {
	body, err := c.completion(req.Model, req.Messages, req.Temperature, req.MaxTokens)
	if err != nil {
		return nil, err
	}
	if req.ResponseFormat == "json_object" {
		body.ResponseFormat = &responseFormat{Type: "json_object"}
	}
	return c.complete(ctx, body)
}

func (c *apiClient) ChatWithImages(ctx context.Context, req VisionChatRequest) (*ChatResponse, error) {
	body, err := c.completion(req.Model, req.Messages, req.Temperature, req.MaxTokens)
	if err != nil {
		return nil, err
	}
	return c.complete(ctx, body)
}

func (c *apiClient) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	if c.nativeEmbed {
		return c.embedNative(ctx, texts)
	}

	data, err := c.post(ctx, "/v1/embeddings", embedBody{Model: c.cfg.Model, Input: texts})
	if err != nil {
		return nil, err
	}
	var reply embedReply
	if err := json.Unmarshal(data, &reply); err != nil {
		return nil, fmt.Errorf("decoding embedding response: %w", err)
	}

	// Providers may return data out of order; index is authoritative.
	out := make([][]float32, len(texts))
	for _, d := range reply.Data {
		if d.Index >= 0 && d.Index < len(out) {
			out[d.Index] = d.Embedding
		}
	}
	return out, nil
}

func (c *apiClient) embedNative(ctx context.Context, texts []string) ([][]float32, error) {
	data, err := c.post(ctx, "/api/embed", embedBody{Model: c.cfg.Model, Input: texts})
	if err != nil {
		return nil, fmt.Errorf("%s embed: %w", c.name, err)
	}
	var reply nativeEmbedReply
	if err := json.Unmarshal(data, &reply); err != nil {
		return nil, fmt.Errorf("decoding %s embed response: %w", c.name, err)
	}

	out := make([][]float32, len(reply.Embeddings))
	for i, emb := range reply.Embeddings {
		v := make([]float32, len(emb))
		for j, x := range emb {
			v[j] = float32(x)
		}
		out[i] = v
	}
	return out, nil
}

func (c *apiClient) completion(model string, messages interface{}, temperature float64, maxTokens int) (completionBody, error) {
	raw, err := json.Marshal(messages)
	if err != nil {
		return completionBody{}, err
	}
	if model == "" {
		model = c.cfg.Model
	}
	return completionBody{
		Model:       model,
		Messages:    raw,
		Temperature: temperature,
		MaxTokens:   maxTokens,
	}, nil
}

func (c *apiClient) complete(ctx context.Context, body completionBody) (*ChatResponse, error) {
	data, err := c.post(ctx, "/v1/chat/completions", body)
	if err != nil {
		return nil, err
	}

	var reply completionReply
	if err := json.Unmarshal(data, &reply); err != nil {
		return nil, fmt.Errorf("decoding chat response: %w", err)
	}
	if len(reply.Choices) == 0 {
		return nil, fmt.Errorf("no choices in response")
	}

	choice := reply.Choices[0]
	return &ChatResponse{
		Content:          choice.Message.Content,
		Model:            reply.Model,
		FinishReason:     choice.FinishReason,
		PromptTokens:     reply.Usage.PromptTokens,
		CompletionTokens: reply.Usage.CompletionTokens,
		TotalTokens:      reply.Usage.TotalTokens,
	}, nil
}

// --- transport ---

// post sends body as JSON and returns the 200 response body. Transient
// statuses and network errors are retried with exponential backoff; 429
// waits at least rateLimitDelay (or Retry-After when longer).
func (c *apiClient) post(ctx context.Context, path string, body interface{}) ([]byte, error) {
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, err
	}
	url := c.cfg.BaseURL + path

	var lastErr error
	for attempt := 0; attempt <= c.maxRetries; attempt++ {
		if attempt > 0 {
			delay := c.backoff(attempt, lastErr)
			slog.Warn("llm: retrying request",
				"provider", c.name,
				"url", url,
				"attempt", attempt,
				"delay", delay,
				"error", lastErr,
			)
			if err := sleepCtx(ctx, delay); err != nil {
				return nil, err
			}
		}

		data, err := c.send(ctx, url, payload)
		if err == nil {
			return data, nil
		}
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		var apiErr *APIError
		if errors.As(err, &apiErr) && !apiErr.Temporary() {
			return nil, err
		}
		lastErr = err
	}
	return nil, fmt.Errorf("max retries exceeded: %w", lastErr)
}

// backoff returns the wait before the given retry attempt.
func (c *apiClient) backoff(attempt int, lastErr error) time.Duration {
	delay := c.retryDelay * time.Duration(1<<(attempt-1))
	var apiErr *APIError
	if errors.As(lastErr, &apiErr) && apiErr.StatusCode == http.StatusTooManyRequests {
		limited := c.rateLimitDelay * time.Duration(1<<(attempt-1))
		if apiErr.retryAfter > limited {
			limited = apiErr.retryAfter
		}
		delay += limited
	}
	return delay
}

// send performs one rate-limited request.
func (c *apiClient) send(ctx context.Context, url string, payload []byte) ([]byte, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("rate limiter: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	if c.cfg.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)
	}

	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		metrics.ObserveLLM(c.name, 0, time.Since(start))
		return nil, fmt.Errorf("request to %s failed: %w", url, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	metrics.ObserveLLM(c.name, resp.StatusCode, time.Since(start))
	if err != nil {
		return nil, fmt.Errorf("reading response body: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, &APIError{
			StatusCode: resp.StatusCode,
			Body:       string(data),
			retryAfter: retryAfter(resp.Header),
		}
	}
	return data, nil
}

// retryAfter parses a Retry-After header given in seconds.
func retryAfter(h http.Header) time.Duration {
	seconds, err := strconv.Atoi(h.Get("Retry-After"))
	if err != nil || seconds <= 0 {
		return 0
	}
	return time.Duration(seconds) * time.Second
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
