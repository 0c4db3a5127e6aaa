package config

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestLoad_Defaults(t *testing.T) {
	for _, key := range []string{
		"MATCHING_CONFIG", "MATCH_MAX_DISTANCE", "MATCH_STRONG_CONFIDENCE", "MATCH_POTENTIAL_CONFIDENCE",
		"MATCH_WORKERS", "MATCH_RETRY_ATTEMPTS", "EMBEDDING_DIM", "LOG_LEVEL", "WEB_ALLOWED_ORIGINS",
	} {
		t.Setenv(key, "")
	}

	cfg, err := Load()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if cfg.Matching.MaxDistance != 0.60 {
		t.Errorf("expected max distance 0.60, got %v", cfg.Matching.MaxDistance)
	}
	if cfg.Matching.StrongConfidence != 80 || cfg.Matching.PotentialConfidence != 60 {
		t.Errorf("expected 80/60 tiers, got %v/%v", cfg.Matching.StrongConfidence, cfg.Matching.PotentialConfidence)
	}
	if cfg.Matching.Workers != 8 {
		t.Errorf("expected 8 workers, got %d", cfg.Matching.Workers)
	}
	if cfg.Matching.RetryAttempts != 3 {
		t.Errorf("expected 3 retry attempts, got %d", cfg.Matching.RetryAttempts)
	}
	if cfg.Embedding.Dim != 512 {
		t.Errorf("expected dim 512, got %d", cfg.Embedding.Dim)
	}
	if cfg.Web.AllowedOrigins != nil {
		t.Errorf("expected no origins, got %v", cfg.Web.AllowedOrigins)
	}
}

func TestLoad_EnvOverrides(t *testing.T) {
	t.Setenv("MATCHING_CONFIG", "")
	t.Setenv("MATCH_MAX_DISTANCE", "0.45")
	t.Setenv("MATCH_STRONG_CONFIDENCE", "85")
	t.Setenv("MATCH_WORKERS", "2")
	t.Setenv("EMBEDDING_DIM", "128")
	t.Setenv("WEB_ALLOWED_ORIGINS", "https://a.example, https://b.example ,")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if cfg.Matching.MaxDistance != 0.45 {
		t.Errorf("expected 0.45, got %v", cfg.Matching.MaxDistance)
	}
	if cfg.Matching.StrongConfidence != 85 {
		t.Errorf("expected 85, got %v", cfg.Matching.StrongConfidence)
	}
	if cfg.Matching.Workers != 2 {
		t.Errorf("expected 2 workers, got %d", cfg.Matching.Workers)
	}
	if cfg.Embedding.Dim != 128 {
		t.Errorf("expected dim 128, got %d", cfg.Embedding.Dim)
	}
	if len(cfg.Web.AllowedOrigins) != 2 || cfg.Web.AllowedOrigins[1] != "https://b.example" {
		t.Errorf("unexpected origins %v", cfg.Web.AllowedOrigins)
	}
}

func TestLoad_InvalidEnvFallsBack(t *testing.T) {
	t.Setenv("MATCHING_CONFIG", "")
	t.Setenv("MATCH_MAX_DISTANCE", "not-a-number")
	t.Setenv("MATCH_WORKERS", "-3")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Matching.MaxDistance != 0.60 {
		t.Errorf("expected fallback 0.60, got %v", cfg.Matching.MaxDistance)
	}
	if cfg.Matching.Workers != 8 {
		t.Errorf("expected fallback 8, got %d", cfg.Matching.Workers)
	}
}

func TestLoad_MatchingFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "matching.yaml")
	content := "max_distance: 0.5\nstrong_confidence: 90\nworkers: 4\n"
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatal(err)
	}
	t.Setenv("MATCHING_CONFIG", path)
	t.Setenv("MATCH_MAX_DISTANCE", "")
	t.Setenv("MATCH_STRONG_CONFIDENCE", "")
	t.Setenv("MATCH_WORKERS", "")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Matching.MaxDistance != 0.5 || cfg.Matching.StrongConfidence != 90 || cfg.Matching.Workers != 4 {
		t.Errorf("file values not applied: %+v", cfg.Matching)
	}
	// Keys missing from the file keep the embedded defaults.
	if cfg.Matching.PotentialConfidence != 60 {
		t.Errorf("expected potential 60, got %v", cfg.Matching.PotentialConfidence)
	}
}

func TestLoad_InvalidThresholds(t *testing.T) {
	t.Setenv("MATCHING_CONFIG", "")
	t.Setenv("MATCH_STRONG_CONFIDENCE", "50")
	t.Setenv("MATCH_POTENTIAL_CONFIDENCE", "70")

	if _, err := Load(); err == nil {
		t.Error("expected error for potential above strong")
	}
}

func TestLoad_MissingMatchingFile(t *testing.T) {
	t.Setenv("MATCHING_CONFIG", filepath.Join(t.TempDir(), "nope.yaml"))

	if _, err := Load(); err == nil {
		t.Error("expected error for missing file")
	}
}

func TestValidate_LogLevel(t *testing.T) {
	cfg := &Config{
		Embedding: EmbeddingConfig{Dim: 512},
		Log:       LogConfig{Level: "verbose"},
	}
	cfg.Matching.MaxDistance = 0.6
	cfg.Matching.StrongConfidence = 80
	cfg.Matching.PotentialConfidence = 60
	cfg.Matching.Workers = 1
	cfg.Matching.RetryAttempts = 1

	if err := cfg.Validate(); err == nil || !strings.Contains(err.Error(), "verbose") {
		t.Errorf("expected log level error, got %v", err)
	}
	cfg.Log.Level = "DEBUG"
	if err := cfg.Validate(); err != nil {
		t.Errorf("unexpected error: %v", err)
	}
}

func TestNewLogger(t *testing.T) {
	var buf bytes.Buffer
	lc := LogConfig{Level: "warn", Format: "json"}
	logger := lc.NewLogger(&buf)

	logger.Info("hidden")
	logger.Warn("shown", "record_id", "abc")

	out := buf.String()
	if strings.Contains(out, "hidden") {
		t.Error("info message should be filtered at warn level")
	}
	if !strings.Contains(out, `"record_id":"abc"`) {
		t.Errorf("expected JSON output, got %q", out)
	}
}
