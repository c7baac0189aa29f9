// Package cache stores LLM completions so that regenerating the same
// mindmap does not hit the provider again.
package cache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

// Cache maps a request key to a completion text.
type Cache interface {
	Get(ctx context.Context, key string) (string, bool)
	Set(ctx context.Context, key, value string)
	Close() error
}

// Config selects and tunes the cache backend.
type Config struct {
	// Backend is "memory", "redis" or "none".
	Backend    string        `json:"backend" yaml:"backend" koanf:"backend"`
	TTL        time.Duration `json:"ttl" yaml:"ttl" koanf:"ttl"`
	MaxEntries int           `json:"max_entries" yaml:"max_entries" koanf:"max_entries"`

	RedisAddr     string `json:"redis_addr" yaml:"redis_addr" koanf:"redis_addr"`
	RedisPassword string `json:"-" yaml:"redis_password" koanf:"redis_password"`
	RedisDB       int    `json:"redis_db" yaml:"redis_db" koanf:"redis_db"`
	Prefix        string `json:"prefix" yaml:"prefix" koanf:"prefix"`
}

// DefaultConfig returns an in-memory cache holding entries for a day.
func DefaultConfig() Config {
	return Config{
		Backend:    "memory",
		TTL:        24 * time.Hour,
		MaxEntries: 1000,
		Prefix:     "mindforge:completion:",
	}
}

// New builds the configured cache. The redis backend is pinged once.
func New(ctx context.Context, cfg Config) (Cache, error) {
	d := DefaultConfig()
	if cfg.TTL <= 0 {
		cfg.TTL = d.TTL
	}
	if cfg.MaxEntries <= 0 {
		cfg.MaxEntries = d.MaxEntries
	}
	if cfg.Prefix == "" {
		cfg.Prefix = d.Prefix
	}

	switch strings.ToLower(cfg.Backend) {
	case "", "memory":
		return NewMemory(cfg.MaxEntries, cfg.TTL), nil
	case "redis":
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		})
		if err := client.Ping(ctx).Err(); err != nil {
			client.Close()
			return nil, fmt.Errorf("cache: connecting to redis at %s: %w", cfg.RedisAddr, err)
		}
		return NewRedis(client, cfg.Prefix, cfg.TTL), nil
	case "none":
		return Nop{}, nil
	default:
		return nil, fmt.Errorf("cache: unknown backend: %s", cfg.Backend)
	}
}

// Key derives a cache key from the parts of a request (provider, model,
// prompt). Parts are separated so ("ab","c") and ("a","bc") differ.
func Key(parts ...string) string {
	h := sha256.New()
	for _, p := range parts {
		h.Write([]byte(p))
		h.Write([]byte{0})
	}
	return hex.EncodeToString(h.Sum(nil))
}

// Nop never stores anything.
type Nop struct{}

func (Nop) Get(context.Context, string) (string, bool) { return "", false }
func (Nop) Set(context.Context, string, string)        {}
func (Nop) Close() error                               { return nil }
