package config

import (
	_ "embed"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/kozaktomas/reunite/internal/constants"
	"github.com/kozaktomas/reunite/internal/matching"
)

//go:embed matching.yaml
var matchingYAML []byte

type Config struct {
	Database  DatabaseConfig
	Embedding EmbeddingConfig
	Matching  MatchingConfig
	Web       WebConfig
	Log       LogConfig
}

type DatabaseConfig struct {
	URL          string // PostgreSQL connection URL
	MaxOpenConns int    // Maximum open connections (default 25)
	MaxIdleConns int    // Maximum idle connections (default 5)
}

type EmbeddingConfig struct {
	URL string // Face embedding server, defaults to http://localhost:8000
	Dim int    // defaults to 512
}

type MatchingConfig struct {
	matching.Thresholds `yaml:",inline"`

	Workers       int `yaml:"workers"`
	RetryAttempts int `yaml:"retry_attempts"`
}

type WebConfig struct {
	AllowedOrigins []string // CORS origins in addition to localhost
	OperatorToken  string   // Bearer token for operator endpoints, empty disables them
}

type LogConfig struct {
	Level  string // debug, info, warn, error
	Format string // text or json
}

// envInt reads an environment variable and parses it as a positive integer.
// Returns the default value if the env var is unset, empty, or invalid.
func envInt(key string, defaultVal int) int {
	s := os.Getenv(key)
	if s == "" {
		return defaultVal
	}
	if n, err := strconv.Atoi(s); err == nil && n > 0 {
		return n
	}
	return defaultVal
}

// envFloat reads an environment variable and parses it as a non-negative float.
func envFloat(key string, defaultVal float64) float64 {
	s := os.Getenv(key)
	if s == "" {
		return defaultVal
	}
	if f, err := strconv.ParseFloat(s, 64); err == nil && f >= 0 {
		return f
	}
	return defaultVal
}

func envList(key string) []string {
	var out []string
	for _, part := range strings.Split(os.Getenv(key), ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

// loadMatching parses the embedded defaults, then the optional MATCHING_CONFIG file on top.
func loadMatching() (MatchingConfig, error) {
	var mc MatchingConfig
	if err := yaml.Unmarshal(matchingYAML, &mc); err != nil {
		// This is an embedded file so this error should never happen in practice
		panic("failed to unmarshal embedded matching.yaml: " + err.Error())
	}

	if path := os.Getenv("MATCHING_CONFIG"); path != "" {
		data, err := os.ReadFile(path) //nolint:gosec // path is from trusted config
		if err != nil {
			return mc, fmt.Errorf("read matching config: %w", err)
		}
		if err := yaml.Unmarshal(data, &mc); err != nil {
			return mc, fmt.Errorf("parse matching config %s: %w", path, err)
		}
	}

	mc.MaxDistance = envFloat("MATCH_MAX_DISTANCE", mc.MaxDistance)
	mc.StrongConfidence = envFloat("MATCH_STRONG_CONFIDENCE", mc.StrongConfidence)
	mc.PotentialConfidence = envFloat("MATCH_POTENTIAL_CONFIDENCE", mc.PotentialConfidence)
	mc.Workers = envInt("MATCH_WORKERS", mc.Workers)
	mc.RetryAttempts = envInt("MATCH_RETRY_ATTEMPTS", mc.RetryAttempts)
	return mc, nil
}

func Load() (*Config, error) {
	mc, err := loadMatching()
	if err != nil {
		return nil, err
	}

	cfg := &Config{
		Database: DatabaseConfig{
			URL:          os.Getenv("DATABASE_URL"),
			MaxOpenConns: envInt("DATABASE_MAX_OPEN_CONNS", 25),
			MaxIdleConns: envInt("DATABASE_MAX_IDLE_CONNS", 5),
		},
		Embedding: EmbeddingConfig{
			URL: os.Getenv("EMBEDDING_URL"),
			Dim: envInt("EMBEDDING_DIM", constants.DefaultEmbeddingDim),
		},
		Matching: mc,
		Web: WebConfig{
			AllowedOrigins: envList("WEB_ALLOWED_ORIGINS"),
			OperatorToken:  os.Getenv("OPERATOR_TOKEN"),
		},
		Log: LogConfig{
			Level:  os.Getenv("LOG_LEVEL"),
			Format: os.Getenv("LOG_FORMAT"),
		},
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks values that would make matching meaningless.
func (c *Config) Validate() error {
	if err := c.Matching.Thresholds.Validate(); err != nil {
		return fmt.Errorf("matching thresholds: %w", err)
	}
	if c.Matching.Workers <= 0 {
		return errors.New("matching workers must be positive")
	}
	if c.Matching.RetryAttempts <= 0 {
		return errors.New("matching retry attempts must be positive")
	}
	if c.Embedding.Dim <= 0 {
		return errors.New("embedding dimension must be positive")
	}
	if _, err := parseLevel(c.Log.Level); err != nil {
		return err
	}
	return nil
}

func parseLevel(s string) (slog.Level, error) {
	switch strings.ToLower(s) {
	case "", "info":
		return slog.LevelInfo, nil
	case "debug":
		return slog.LevelDebug, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	}
	return slog.LevelInfo, fmt.Errorf("unknown log level %q", s)
}

// NewLogger builds the structured logger used by the matching engine.
func (c *LogConfig) NewLogger(w io.Writer) *slog.Logger {
	level, _ := parseLevel(c.Level)
	opts := &slog.HandlerOptions{Level: level}
	if strings.EqualFold(c.Format, "json") {
		return slog.New(slog.NewJSONHandler(w, opts))
	}
	return slog.New(slog.NewTextHandler(w, opts))
}
