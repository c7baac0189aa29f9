// Package transcribe turns audio into text through the AssemblyAI REST API.
package transcribe

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"
)

var (
	// ErrTranscriptionFailed is returned when AssemblyAI reports status
	// "error" for the transcript.
	ErrTranscriptionFailed = errors.New("transcribe: transcription failed")

	// ErrTimeout is returned when the transcript is not ready after MaxPolls.
	ErrTimeout = errors.New("transcribe: transcript not ready")

	// ErrEmptyAudio is returned for zero-length uploads.
	ErrEmptyAudio = errors.New("transcribe: empty audio")
)

// Config configures the AssemblyAI client.
type Config struct {
	APIKey       string        `json:"-" yaml:"api_key" koanf:"api_key"`
	BaseURL      string        `json:"base_url" yaml:"base_url" koanf:"base_url"`
	PollInterval time.Duration `json:"poll_interval" yaml:"poll_interval" koanf:"poll_interval"`
	MaxPolls     int           `json:"max_polls" yaml:"max_polls" koanf:"max_polls"`
	// LanguageCode forces a language ("fr", "en"); empty enables detection.
	LanguageCode string `json:"language_code" yaml:"language_code" koanf:"language_code"`
}

// DefaultConfig returns the AssemblyAI defaults.
func DefaultConfig() Config {
	return Config{
		BaseURL:      "https://api.assemblyai.com",
		PollInterval: 3 * time.Second,
		MaxPolls:     200,
	}
}

// Options tune a single transcription.
type Options struct {
	LanguageCode string `json:"language_code,omitempty"`
}

// Transcript is a finished transcription.
type Transcript struct {
	ID           string  `json:"id"`
	Status       string  `json:"status"`
	Text         string  `json:"text"`
	LanguageCode string  `json:"language_code,omitempty"`
	Confidence   float64 `json:"confidence,omitempty"`
	AudioSeconds float64 `json:"audio_duration,omitempty"`
	Error        string  `json:"error,omitempty"`
}

// Client talks to AssemblyAI.
type Client struct {
	cfg  Config
	http *http.Client
}

// New creates an AssemblyAI client.
func New(cfg Config) *Client {
	d := DefaultConfig()
	if cfg.BaseURL == "" {
		cfg.BaseURL = d.BaseURL
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = d.PollInterval
	}
	if cfg.MaxPolls <= 0 {
		cfg.MaxPolls = d.MaxPolls
	}
	return &Client{cfg: cfg, http: &http.Client{Timeout: 5 * time.Minute}}
}

// Transcribe uploads audio, creates a transcript and polls until it
// completes or fails.
func (c *Client) Transcribe(ctx context.Context, audio io.Reader, opts Options) (*Transcript, error) {
	uploadURL, err := c.Upload(ctx, audio)
	if err != nil {
		return nil, err
	}
	id, err := c.Create(ctx, uploadURL, opts)
	if err != nil {
		return nil, err
	}
	slog.Info("transcribe: transcript queued", "id", id)
	return c.Wait(ctx, id)
}

// Upload sends raw audio bytes and returns the private upload URL.
func (c *Client) Upload(ctx context.Context, audio io.Reader) (string, error) {
	data, err := io.ReadAll(audio)
	if err != nil {
		return "", fmt.Errorf("transcribe: reading audio: %w", err)
	}
	if len(data) == 0 {
		return "", ErrEmptyAudio
	}

	var resp struct {
		UploadURL string `json:"upload_url"`
	}
	if err := c.do(ctx, http.MethodPost, "/v2/upload", "application/octet-stream", data, &resp); err != nil {
		return "", fmt.Errorf("transcribe: upload: %w", err)
	}
	if resp.UploadURL == "" {
		return "", fmt.Errorf("transcribe: upload returned no url")
	}
	return resp.UploadURL, nil
}

type createRequest struct {
	AudioURL          string `json:"audio_url"`
	LanguageCode      string `json:"language_code,omitempty"`
	LanguageDetection bool   `json:"language_detection,omitempty"`
	Punctuate         bool   `json:"punctuate"`
	FormatText        bool   `json:"format_text"`
}

// Create queues a transcript for audioURL and returns its ID.
func (c *Client) Create(ctx context.Context, audioURL string, opts Options) (string, error) {
	lang := opts.LanguageCode
	if lang == "" {
		lang = c.cfg.LanguageCode
	}
	req := createRequest{
		AudioURL:          audioURL,
		LanguageCode:      lang,
		LanguageDetection: lang == "",
		Punctuate:         true,
		FormatText:        true,
	}
	body, err := json.Marshal(req)
	if err != nil {
		return "", err
	}

	var t Transcript
	if err := c.do(ctx, http.MethodPost, "/v2/transcript", "application/json", body, &t); err != nil {
		return "", fmt.Errorf("transcribe: create: %w", err)
	}
	if t.ID == "" {
		return "", fmt.Errorf("transcribe: create returned no id")
	}
	return t.ID, nil
}

// Wait polls the transcript until it is completed or errored.
func (c *Client) Wait(ctx context.Context, id string) (*Transcript, error) {
	for i := 0; i < c.cfg.MaxPolls; i++ {
		var t Transcript
		if err := c.do(ctx, http.MethodGet, "/v2/transcript/"+id, "", nil, &t); err != nil {
			return nil, fmt.Errorf("transcribe: poll: %w", err)
		}
		switch t.Status {
		case "completed":
			return &t, nil
		case "error":
			return nil, fmt.Errorf("%w: %s", ErrTranscriptionFailed, t.Error)
		}

		timer := time.NewTimer(c.cfg.PollInterval)
		select {
		case <-timer.C:
		case <-ctx.Done():
			timer.Stop()
			return nil, ctx.Err()
		}
	}
	return nil, fmt.Errorf("%w after %d polls", ErrTimeout, c.cfg.MaxPolls)
}

func (c *Client) do(ctx context.Context, method, path, contentType string, body []byte, out interface{}) error {
	var rd io.Reader
	if body != nil {
		rd = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.cfg.BaseURL+path, rd)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", c.cfg.APIKey)
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("reading response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("assemblyai error %d: %s", resp.StatusCode, string(data))
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("decoding response: %w", err)
	}
	return nil
}
