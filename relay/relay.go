// Package relay forwards chat and usage calls to the hosted chat backend on
// behalf of a user, attaching the user's bearer token.
//
// The backend answers 503 while it loads a model, with a body such as
// {"error": "Model is currently loading", "estimated_time": 20.0}. The relay
// waits for the estimated time and retries exactly once.
package relay

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/sony/gobreaker"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/clientcredentials"

	"github.com/brunobiangulo/mindforge/metrics"
)

var (
	// ErrModelLoading is returned when the backend still reports the model as
	// loading after the single retry.
	ErrModelLoading = errors.New("relay: model is loading")

	// ErrUnauthorized is returned for 401/403 backend responses.
	ErrUnauthorized = errors.New("relay: unauthorized")

	// ErrNoToken is returned when neither a user token nor a service
	// credential is available.
	ErrNoToken = errors.New("relay: no bearer token")

	// ErrUnavailable is returned while the circuit breaker is open.
	ErrUnavailable = errors.New("relay: backend unavailable")
)

// StatusError is a non-2xx backend response not covered by a sentinel.
type StatusError struct {
	Code int
	Body string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("relay: backend returned %d: %s", e.Code, e.Body)
}

// Config configures the relay client.
type Config struct {
	BaseURL   string `json:"base_url" yaml:"base_url" koanf:"base_url"`
	ChatPath  string `json:"chat_path" yaml:"chat_path" koanf:"chat_path"`
	UsagePath string `json:"usage_path" yaml:"usage_path" koanf:"usage_path"`

	TimeoutSeconds int `json:"timeout_seconds" yaml:"timeout_seconds" koanf:"timeout_seconds"`

	// DefaultRetryDelay is used when a model-loading response carries no
	// estimate. Estimates are clamped to [1s, MaxRetryDelay].
	DefaultRetryDelay time.Duration `json:"default_retry_delay" yaml:"default_retry_delay" koanf:"default_retry_delay"`
	MaxRetryDelay     time.Duration `json:"max_retry_delay" yaml:"max_retry_delay" koanf:"max_retry_delay"`

	// Service credentials for calls made without a user session.
	ClientID     string   `json:"client_id" yaml:"client_id" koanf:"client_id"`
	ClientSecret string   `json:"-" yaml:"client_secret" koanf:"client_secret"`
	TokenURL     string   `json:"token_url" yaml:"token_url" koanf:"token_url"`
	Scopes       []string `json:"scopes" yaml:"scopes" koanf:"scopes"`

	Breaker BreakerConfig `json:"breaker" yaml:"breaker" koanf:"breaker"`
}

// BreakerConfig tunes the circuit breaker around backend calls.
type BreakerConfig struct {
	MaxRequests      uint32        `json:"max_requests" yaml:"max_requests" koanf:"max_requests"`
	Interval         time.Duration `json:"interval" yaml:"interval" koanf:"interval"`
	Timeout          time.Duration `json:"timeout" yaml:"timeout" koanf:"timeout"`
	FailureThreshold float64       `json:"failure_threshold" yaml:"failure_threshold" koanf:"failure_threshold"`
	MinRequests      uint32        `json:"min_requests" yaml:"min_requests" koanf:"min_requests"`
}

// DefaultConfig returns relay defaults. BaseURL has no default.
func DefaultConfig() Config {
	return Config{
		ChatPath:          "/api/chat/",
		UsagePath:         "/api/usage/",
		TimeoutSeconds:    120,
		DefaultRetryDelay: 10 * time.Second,
		MaxRetryDelay:     60 * time.Second,
		Breaker: BreakerConfig{
			MaxRequests:      5,
			Interval:         30 * time.Second,
			Timeout:          60 * time.Second,
			FailureThreshold: 0.8,
			MinRequests:      5,
		},
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.ChatPath == "" {
		c.ChatPath = d.ChatPath
	}
	if c.UsagePath == "" {
		c.UsagePath = d.UsagePath
	}
	if c.TimeoutSeconds <= 0 {
		c.TimeoutSeconds = d.TimeoutSeconds
	}
	if c.DefaultRetryDelay <= 0 {
		c.DefaultRetryDelay = d.DefaultRetryDelay
	}
	if c.MaxRetryDelay <= 0 {
		c.MaxRetryDelay = d.MaxRetryDelay
	}
	if c.Breaker.MaxRequests == 0 {
		c.Breaker.MaxRequests = d.Breaker.MaxRequests
	}
	if c.Breaker.Interval <= 0 {
		c.Breaker.Interval = d.Breaker.Interval
	}
	if c.Breaker.Timeout <= 0 {
		c.Breaker.Timeout = d.Breaker.Timeout
	}
	if c.Breaker.FailureThreshold <= 0 {
		c.Breaker.FailureThreshold = d.Breaker.FailureThreshold
	}
	if c.Breaker.MinRequests == 0 {
		c.Breaker.MinRequests = d.Breaker.MinRequests
	}
	return c
}

// Message is one turn of a conversation.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// ChatRequest is forwarded to the backend chat endpoint.
type ChatRequest struct {
	Message        string    `json:"message"`
	ConversationID string    `json:"conversation_id,omitempty"`
	Model          string    `json:"model,omitempty"`
	History        []Message `json:"history,omitempty"`
}

// ChatResponse is the backend reply.
type ChatResponse struct {
	Response       string `json:"response"`
	ConversationID string `json:"conversation_id,omitempty"`
	TokensUsed     int    `json:"tokens_used,omitempty"`
}

// Usage is the backend's metering summary for the caller.
type Usage struct {
	Plan         string `json:"plan,omitempty"`
	TokensUsed   int64  `json:"tokens_used"`
	TokensLimit  int64  `json:"tokens_limit,omitempty"`
	RequestCount int64  `json:"request_count"`
	PeriodStart  string `json:"period_start,omitempty"`
	PeriodEnd    string `json:"period_end,omitempty"`
}

// Client talks to the chat backend.
type Client struct {
	cfg     Config
	http    *http.Client
	breaker *gobreaker.CircuitBreaker
	service oauth2.TokenSource
	sleep   func(ctx context.Context, d time.Duration) error
}

// New creates a relay client. When service credentials are configured, calls
// without a user token authenticate with the client-credentials grant.
func New(cfg Config) *Client {
	cfg = cfg.withDefaults()
	c := &Client{
		cfg:   cfg,
		http:  &http.Client{Timeout: time.Duration(cfg.TimeoutSeconds) * time.Second},
		sleep: sleepCtx,
	}

	if cfg.ClientID != "" && cfg.TokenURL != "" {
		cc := &clientcredentials.Config{
			ClientID:     cfg.ClientID,
			ClientSecret: cfg.ClientSecret,
			TokenURL:     cfg.TokenURL,
			Scopes:       cfg.Scopes,
		}
		ctx := context.WithValue(context.Background(), oauth2.HTTPClient, c.http)
		c.service = cc.TokenSource(ctx)
	}

	b := cfg.Breaker
	c.breaker = gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "relay",
		MaxRequests: b.MaxRequests,
		Interval:    b.Interval,
		Timeout:     b.Timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			if counts.Requests < b.MinRequests {
				return false
			}
			return float64(counts.TotalFailures)/float64(counts.Requests) >= b.FailureThreshold
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			slog.Warn("relay: circuit breaker state changed", "name", name, "from", from.String(), "to", to.String())
			metrics.BreakerState.WithLabelValues(name).Set(float64(to))
		},
	})
	return c
}

// Chat forwards req to the backend using the caller's bearer token. An
// empty token falls back to the service credentials when configured.
func (c *Client) Chat(ctx context.Context, token string, req ChatRequest) (*ChatResponse, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return nil, err
	}

	data, err := c.call(ctx, token, http.MethodPost, c.cfg.ChatPath, body)
	if err != nil {
		return nil, err
	}

	var resp ChatResponse
	if err := json.Unmarshal(data, &resp); err != nil {
		return nil, fmt.Errorf("relay: decoding chat response: %w", err)
	}
	return &resp, nil
}

// Usage fetches the caller's metering summary from the backend.
func (c *Client) Usage(ctx context.Context, token string) (*Usage, error) {
	data, err := c.call(ctx, token, http.MethodGet, c.cfg.UsagePath, nil)
	if err != nil {
		return nil, err
	}

	var u Usage
	if err := json.Unmarshal(data, &u); err != nil {
		return nil, fmt.Errorf("relay: decoding usage response: %w", err)
	}
	return &u, nil
}

func (c *Client) tokenSource(token string) (oauth2.TokenSource, error) {
	if token != "" {
		return oauth2.StaticTokenSource(&oauth2.Token{AccessToken: token, TokenType: "Bearer"}), nil
	}
	if c.service != nil {
		return c.service, nil
	}
	return nil, ErrNoToken
}

// call performs one request, retrying once if the backend reports the model
// as loading.
func (c *Client) call(ctx context.Context, token, method, path string, body []byte) ([]byte, error) {
	ts, err := c.tokenSource(token)
	if err != nil {
		return nil, err
	}

	res, err := c.attempt(ctx, ts, method, path, body)
	if err != nil {
		return nil, err
	}
	if res.status == http.StatusServiceUnavailable {
		if wait, ok := c.loadingDelay(res.body); ok {
			metrics.RelayRetries.Inc()
			slog.Info("relay: model loading, retrying once", "path", path, "delay", wait)
			if err := c.sleep(ctx, wait); err != nil {
				return nil, err
			}
			res, err = c.attempt(ctx, ts, method, path, body)
			if err != nil {
				return nil, err
			}
			if res.status == http.StatusServiceUnavailable {
				if _, stillLoading := c.loadingDelay(res.body); stillLoading {
					return nil, ErrModelLoading
				}
			}
		}
	}
	return res.result()
}

type response struct {
	status int
	body   []byte
}

func (r *response) result() ([]byte, error) {
	switch {
	case r.status >= 200 && r.status < 300:
		return r.body, nil
	case r.status == http.StatusUnauthorized || r.status == http.StatusForbidden:
		return nil, ErrUnauthorized
	default:
		return nil, &StatusError{Code: r.status, Body: strings.TrimSpace(string(r.body))}
	}
}

// attempt sends a single request through the circuit breaker. A 5xx reply
// counts as a breaker failure but is still returned to the caller.
func (c *Client) attempt(ctx context.Context, ts oauth2.TokenSource, method, path string, body []byte) (*response, error) {
	tok, err := ts.Token()
	if err != nil {
		return nil, fmt.Errorf("relay: obtaining token: %w", err)
	}

	out, err := c.breaker.Execute(func() (interface{}, error) {
		var rd io.Reader
		if body != nil {
			rd = bytes.NewReader(body)
		}
		req, err := http.NewRequestWithContext(ctx, method, c.cfg.BaseURL+path, rd)
		if err != nil {
			return nil, err
		}
		if body != nil {
			req.Header.Set("Content-Type", "application/json")
		}
		req.Header.Set("Accept", "application/json")
		tok.SetAuthHeader(req)

		resp, err := c.http.Do(req)
		if err != nil {
			return nil, fmt.Errorf("relay: request to %s failed: %w", path, err)
		}
		defer resp.Body.Close()

		data, err := io.ReadAll(resp.Body)
		if err != nil {
			return nil, fmt.Errorf("relay: reading response: %w", err)
		}
		r := &response{status: resp.StatusCode, body: data}
		if resp.StatusCode >= 500 {
			return r, &StatusError{Code: resp.StatusCode}
		}
		return r, nil
	})

	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return nil, ErrUnavailable
	}
	if r, ok := out.(*response); ok && r != nil {
		return r, nil
	}
	return nil, err
}

type loadingBody struct {
	Error         string   `json:"error"`
	Detail        string   `json:"detail"`
	EstimatedTime *float64 `json:"estimated_time"`
}

// loadingDelay reports whether a 503 body says the model is loading and how
// long to wait before retrying.
func (c *Client) loadingDelay(body []byte) (time.Duration, bool) {
	var lb loadingBody
	if err := json.Unmarshal(body, &lb); err != nil {
		return 0, false
	}
	msg := strings.ToLower(lb.Error + " " + lb.Detail)
	if lb.EstimatedTime == nil && !strings.Contains(msg, "loading") {
		return 0, false
	}
	if lb.EstimatedTime == nil {
		return c.clamp(c.cfg.DefaultRetryDelay), true
	}
	return c.clamp(time.Duration(*lb.EstimatedTime * float64(time.Second))), true
}

func (c *Client) clamp(d time.Duration) time.Duration {
	if d < time.Second {
		return time.Second
	}
	if d > c.cfg.MaxRetryDelay {
		return c.cfg.MaxRetryDelay
	}
	return d
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
