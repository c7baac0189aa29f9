package mindforge

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/rawbytes"
	"github.com/knadh/koanf/v2"

	"github.com/brunobiangulo/mindforge/auth"
	"github.com/brunobiangulo/mindforge/cache"
	"github.com/brunobiangulo/mindforge/llm"
	"github.com/brunobiangulo/mindforge/mindmap"
	"github.com/brunobiangulo/mindforge/relay"
	"github.com/brunobiangulo/mindforge/transcribe"
)

// EnvPrefix prefixes environment overrides: MINDFORGE_CHAT_API_KEY sets
// chat.api_key.
const EnvPrefix = "MINDFORGE_"

// Config holds all configuration for the mindforge engine and server.
type Config struct {
	Server ServerConfig `json:"server" yaml:"server" koanf:"server"`
	Store  StoreConfig  `json:"store" yaml:"store" koanf:"store"`

	// LLM providers. Embedding and Vision are optional: without them
	// semantic search and OCR are unavailable.
	Chat      llm.Config `json:"chat" yaml:"chat" koanf:"chat"`
	Embedding llm.Config `json:"embedding" yaml:"embedding" koanf:"embedding"`
	Vision    llm.Config `json:"vision" yaml:"vision" koanf:"vision"`

	// Backend is the hosted chat/usage service. Without a base URL chat
	// goes straight to the Chat provider.
	Backend    relay.Config      `json:"backend" yaml:"backend" koanf:"backend"`
	Auth       auth.Config       `json:"auth" yaml:"auth" koanf:"auth"`
	AssemblyAI transcribe.Config `json:"assemblyai" yaml:"assemblyai" koanf:"assemblyai"`
	Cache      cache.Config      `json:"cache" yaml:"cache" koanf:"cache"`

	Mindmap  MindmapConfig  `json:"mindmap" yaml:"mindmap" koanf:"mindmap"`
	Analysis AnalysisConfig `json:"analysis" yaml:"analysis" koanf:"analysis"`
}

// ServerConfig configures the HTTP API.
type ServerConfig struct {
	Addr            string        `json:"addr" yaml:"addr" koanf:"addr"`
	AllowedOrigins  []string      `json:"allowed_origins" yaml:"allowed_origins" koanf:"allowed_origins"`
	MaxUploadMB     int64         `json:"max_upload_mb" yaml:"max_upload_mb" koanf:"max_upload_mb"`
	ShutdownTimeout time.Duration `json:"shutdown_timeout" yaml:"shutdown_timeout" koanf:"shutdown_timeout"`
	LogLevel        string        `json:"log_level" yaml:"log_level" koanf:"log_level"`
}

// StoreConfig locates the SQLite database.
type StoreConfig struct {
	// Path is the full path to the database file. If empty, the file is
	// <Name>.db inside Dir.
	Path string `json:"path" yaml:"path" koanf:"path"`
	Name string `json:"name" yaml:"name" koanf:"name"`
	// Dir is "home" (~/.mindforge/) or "local" (working directory).
	Dir string `json:"dir" yaml:"dir" koanf:"dir"`

	// EmbeddingDim must match the embedding model.
	EmbeddingDim int `json:"embedding_dim" yaml:"embedding_dim" koanf:"embedding_dim"`
}

// MindmapConfig controls generation and layout.
type MindmapConfig struct {
	// Layout is "radial" or "chained", IDScheme "composite" or
	// "sequential", Shape "json" or "bullets".
	Layout   string `json:"layout" yaml:"layout" koanf:"layout"`
	IDScheme string `json:"id_scheme" yaml:"id_scheme" koanf:"id_scheme"`
	Shape    string `json:"shape" yaml:"shape" koanf:"shape"`

	Temperature float64 `json:"temperature" yaml:"temperature" koanf:"temperature"`
	MaxTokens   int     `json:"max_tokens" yaml:"max_tokens" koanf:"max_tokens"`
}

// AnalysisConfig controls document analysis.
type AnalysisConfig struct {
	// MaxChars truncates document text before it is sent to the model.
	MaxChars  int `json:"max_chars" yaml:"max_chars" koanf:"max_chars"`
	MaxTokens int `json:"max_tokens" yaml:"max_tokens" koanf:"max_tokens"`
}

// DefaultConfig returns a Config that talks to Mistral for chat and
// embeddings and to Together for vision. API keys come from the
// environment or the config file.
func DefaultConfig() Config {
	return Config{
		Server: ServerConfig{
			Addr:            ":8080",
			AllowedOrigins:  []string{"http://localhost:3000"},
			MaxUploadMB:     25,
			ShutdownTimeout: 15 * time.Second,
			LogLevel:        "info",
		},
		Store: StoreConfig{
			Name:         "mindforge",
			Dir:          "home",
			EmbeddingDim: 1024,
		},
		Chat: llm.Config{
			Provider: "mistral",
			Model:    "mistral-small-latest",
		},
		Embedding: llm.Config{
			Provider: "mistral",
			Model:    "mistral-embed",
		},
		Vision: llm.Config{
			Provider: "together",
			Model:    "meta-llama/Llama-3.2-90B-Vision-Instruct-Turbo",
		},
		Backend:    relay.DefaultConfig(),
		AssemblyAI: transcribe.DefaultConfig(),
		Cache:      cache.DefaultConfig(),
		Mindmap: MindmapConfig{
			Layout:      string(mindmap.LayoutRadial),
			IDScheme:    string(mindmap.IDComposite),
			Shape:       string(mindmap.ShapeJSON),
			Temperature: 0.3,
			MaxTokens:   1024,
		},
		Analysis: AnalysisConfig{
			MaxChars:  24000,
			MaxTokens: 2048,
		},
	}
}

// LoadConfig reads the YAML file at path (optional; empty path or a
// missing file is fine), applies MINDFORGE_* environment overrides and
// fills the remaining fields from DefaultConfig.
func LoadConfig(path string) (Config, error) {
	k := koanf.New(".")

	if path != "" {
		content, err := os.ReadFile(path)
		switch {
		case err == nil:
			if err := k.Load(rawbytes.Provider(content), yaml.Parser()); err != nil {
				return Config{}, fmt.Errorf("loading config file %s: %w", path, err)
			}
		case os.IsNotExist(err):
		default:
			return Config{}, fmt.Errorf("reading config file: %w", err)
		}
	}

	// MINDFORGE_SECTION_FIELD_NAME -> section.field_name
	if err := k.Load(env.Provider(EnvPrefix, ".", func(s string) string {
		lower := strings.ToLower(strings.TrimPrefix(s, EnvPrefix))
		section, field, ok := strings.Cut(lower, "_")
		if !ok {
			return lower
		}
		return section + "." + field
	}), nil); err != nil {
		return Config{}, fmt.Errorf("loading environment: %w", err)
	}

	cfg := DefaultConfig()
	if err := k.Unmarshal("", &cfg); err != nil {
		return Config{}, fmt.Errorf("decoding config: %w", err)
	}
	cfg.applyDefaults()

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// applyDefaults fills zero values left by a partial config.
func (c *Config) applyDefaults() {
	d := DefaultConfig()
	if c.Server.Addr == "" {
		c.Server.Addr = d.Server.Addr
	}
	if c.Server.MaxUploadMB <= 0 {
		c.Server.MaxUploadMB = d.Server.MaxUploadMB
	}
	if c.Server.ShutdownTimeout <= 0 {
		c.Server.ShutdownTimeout = d.Server.ShutdownTimeout
	}
	if c.Store.EmbeddingDim <= 0 {
		c.Store.EmbeddingDim = d.Store.EmbeddingDim
	}
	if c.Mindmap.MaxTokens <= 0 {
		c.Mindmap.MaxTokens = d.Mindmap.MaxTokens
	}
	if c.Analysis.MaxChars <= 0 {
		c.Analysis.MaxChars = d.Analysis.MaxChars
	}
	if c.Analysis.MaxTokens <= 0 {
		c.Analysis.MaxTokens = d.Analysis.MaxTokens
	}
}

// Validate checks values that would otherwise fail late.
func (c *Config) Validate() error {
	if c.Chat.Provider == "" {
		return fmt.Errorf("%w: chat provider is required", ErrInvalidConfig)
	}
	if _, err := mindmap.ParseLayout(c.Mindmap.Layout); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}
	if _, err := mindmap.ParseIDScheme(c.Mindmap.IDScheme); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}
	if _, err := mindmap.ParseShape(c.Mindmap.Shape); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}
	if c.Store.EmbeddingDim <= 0 {
		return fmt.Errorf("%w: embedding dimension must be positive", ErrInvalidConfig)
	}
	switch strings.ToLower(c.Cache.Backend) {
	case "", "memory", "redis", "none":
	default:
		return fmt.Errorf("%w: unknown cache backend %q", ErrInvalidConfig, c.Cache.Backend)
	}
	if c.Backend.ClientID != "" && c.Backend.TokenURL == "" {
		return fmt.Errorf("%w: backend token_url is required with client_id", ErrInvalidConfig)
	}
	return nil
}

// mindmapOptions converts the mindmap section to builder options. The
// values were checked by Validate.
func (c *Config) mindmapOptions() mindmap.Options {
	opts := mindmap.DefaultOptions()
	if l, err := mindmap.ParseLayout(c.Mindmap.Layout); err == nil {
		opts.Layout = l
	}
	if s, err := mindmap.ParseIDScheme(c.Mindmap.IDScheme); err == nil {
		opts.IDScheme = s
	}
	return opts
}

// resolveDBPath computes the final database path from config fields.
func (c *Config) resolveDBPath() string {
	if c.Store.Path != "" {
		return c.Store.Path
	}

	name := c.Store.Name
	if name == "" {
		name = "mindforge"
	}

	switch c.Store.Dir {
	case "local", "cwd":
		return name + ".db"
	default: // "home" or empty
		home, err := os.UserHomeDir()
		if err != nil {
			return name + ".db" // fallback to cwd
		}
		return filepath.Join(home, ".mindforge", name+".db")
	}
}
