package llm

import (
	"net/http"
	"testing"
	"time"
)

// baseOf returns the client behind a provider built by NewProvider.
func baseOf(t *testing.T, p Provider) *apiClient {
	t.Helper()
	c, ok := p.(*apiClient)
	if !ok {
		t.Fatalf("unexpected provider type %T", p)
	}
	return c
}

func TestNewProvider(t *testing.T) {
	for _, provider := range []string{"mistral", "together", "openai", "ollama", "custom"} {
		t.Run(provider, func(t *testing.T) {
			p, err := NewProvider(Config{Provider: provider, Model: "test-model"})
			if err != nil {
				t.Fatalf("NewProvider(%q) returned error: %v", provider, err)
			}
			if _, ok := p.(VisionProvider); !ok {
				t.Errorf("provider %q does not accept images", provider)
			}
			if got, want := baseOf(t, p).nativeEmbed, provider == "ollama"; got != want {
				t.Errorf("nativeEmbed = %v, want %v", got, want)
			}
		})
	}
}

func TestNewProviderErrors(t *testing.T) {
	tests := []struct {
		provider string
		want     string
	}{
		{"doesnotexist", "unknown llm provider: doesnotexist"},
		{"", "llm provider not specified"},
	}
	for _, tt := range tests {
		_, err := NewProvider(Config{Provider: tt.provider})
		if err == nil {
			t.Fatalf("NewProvider(%q): expected error, got nil", tt.provider)
		}
		if err.Error() != tt.want {
			t.Errorf("error = %q, want %q", err.Error(), tt.want)
		}
	}

	if _, err := NewVisionProvider(Config{Provider: "nope"}); err == nil {
		t.Error("NewVisionProvider: expected error for unknown provider")
	}
}

// TestDefaults verifies the base URL and model each constructor fills in
// when the config leaves them empty.
func TestDefaults(t *testing.T) {
	tests := []struct {
		provider  string
		wantURL   string
		wantModel string
	}{
		{"mistral", "https://api.mistral.ai", "mistral-small-latest"},
		{"together", "https://api.together.xyz", "meta-llama/Llama-3.2-90B-Vision-Instruct-Turbo"},
		{"openai", "https://api.openai.com", "gpt-4o-mini"},
		{"ollama", "http://localhost:11434", ""},
		{"custom", "", ""},
	}

	for _, tt := range tests {
		t.Run(tt.provider, func(t *testing.T) {
			p, err := NewProvider(Config{Provider: tt.provider})
			if err != nil {
				t.Fatalf("NewProvider(%q): %v", tt.provider, err)
			}
			base := baseOf(t, p)
			if base.cfg.BaseURL != tt.wantURL {
				t.Errorf("default BaseURL = %q, want %q", base.cfg.BaseURL, tt.wantURL)
			}
			if base.cfg.Model != tt.wantModel {
				t.Errorf("default Model = %q, want %q", base.cfg.Model, tt.wantModel)
			}
			if base.name != tt.provider {
				t.Errorf("metrics name = %q, want %q", base.name, tt.provider)
			}
		})
	}
}

// TestExplicitConfigPreserved verifies that user-supplied values are not
// overwritten by defaults.
func TestExplicitConfigPreserved(t *testing.T) {
	for _, provider := range []string{"mistral", "together", "openai", "ollama", "custom"} {
		t.Run(provider, func(t *testing.T) {
			cfg := Config{
				Provider: provider,
				Model:    "my-model",
				BaseURL:  "http://my-server:9999",
				APIKey:   "sk-test-key-123",
			}
			p, err := NewProvider(cfg)
			if err != nil {
				t.Fatalf("NewProvider(%q): %v", provider, err)
			}
			base := baseOf(t, p)
			if base.cfg.BaseURL != cfg.BaseURL {
				t.Errorf("BaseURL = %q, want %q", base.cfg.BaseURL, cfg.BaseURL)
			}
			if base.cfg.Model != cfg.Model {
				t.Errorf("Model = %q, want %q", base.cfg.Model, cfg.Model)
			}
			if base.cfg.APIKey != cfg.APIKey {
				t.Errorf("APIKey = %q, want %q", base.cfg.APIKey, cfg.APIKey)
			}
		})
	}
}

func TestRateLimitConfig(t *testing.T) {
	p, _ := NewProvider(Config{Provider: "mistral"})
	base := baseOf(t, p)
	if got := float64(base.limiter.Limit()); got != defaultRateLimit {
		t.Errorf("default limit = %v, want %v", got, defaultRateLimit)
	}
	if got := base.limiter.Burst(); got != defaultBurst {
		t.Errorf("default burst = %d, want %d", got, defaultBurst)
	}

	p, _ = NewProvider(Config{Provider: "mistral", RequestsPerSecond: 0.5, Burst: 1, TimeoutSeconds: 7})
	base = baseOf(t, p)
	if got := float64(base.limiter.Limit()); got != 0.5 {
		t.Errorf("limit = %v, want 0.5", got)
	}
	if got := base.limiter.Burst(); got != 1 {
		t.Errorf("burst = %d, want 1", got)
	}
	if got := base.http.Timeout.Seconds(); got != 7 {
		t.Errorf("timeout = %vs, want 7s", got)
	}
}

func TestBackoff(t *testing.T) {
	c := newAPIClient("test", Config{})
	c.retryDelay = time.Second
	c.rateLimitDelay = 5 * time.Second

	if got := c.backoff(1, &APIError{StatusCode: http.StatusBadGateway}); got != time.Second {
		t.Errorf("502 backoff = %v, want 1s", got)
	}
	if got := c.backoff(3, &APIError{StatusCode: http.StatusServiceUnavailable}); got != 4*time.Second {
		t.Errorf("503 attempt 3 backoff = %v, want 4s", got)
	}
	if got := c.backoff(1, &APIError{StatusCode: http.StatusTooManyRequests}); got != 6*time.Second {
		t.Errorf("429 backoff = %v, want 6s", got)
	}
	if got := c.backoff(1, &APIError{StatusCode: http.StatusTooManyRequests, retryAfter: time.Minute}); got != 61*time.Second {
		t.Errorf("429 with Retry-After backoff = %v, want 61s", got)
	}
}

func TestAPIErrorTemporary(t *testing.T) {
	for code, want := range map[int]bool{
		http.StatusTooManyRequests:     true,
		http.StatusBadGateway:          true,
		http.StatusServiceUnavailable:  true,
		http.StatusGatewayTimeout:      true,
		http.StatusBadRequest:          false,
		http.StatusUnauthorized:        false,
		http.StatusInternalServerError: false,
	} {
		if got := (&APIError{StatusCode: code}).Temporary(); got != want {
			t.Errorf("Temporary(%d) = %v, want %v", code, got, want)
		}
	}
}
