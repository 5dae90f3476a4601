package config

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()
	if cfg == nil {
		t.Fatal("DefaultConfig returned nil")
	}
	if cfg.Storage.Structured != DefaultStructuredBackend {
		t.Errorf("structured = %q, want %q", cfg.Storage.Structured, DefaultStructuredBackend)
	}
	if cfg.Storage.HotCache != DefaultHotCacheBackend {
		t.Errorf("hotCache = %q, want %q", cfg.Storage.HotCache, DefaultHotCacheBackend)
	}
	if cfg.Storage.Semantic != DefaultSemanticBackend {
		t.Errorf("semantic = %q, want %q", cfg.Storage.Semantic, DefaultSemanticBackend)
	}
	if cfg.Tiers.PromotionThreshold != DefaultPromotionThreshold {
		t.Errorf("promotionThreshold = %v, want %v", cfg.Tiers.PromotionThreshold, DefaultPromotionThreshold)
	}
	if cfg.Tiers.DemotionThreshold != DefaultDemotionThreshold {
		t.Errorf("demotionThreshold = %v, want %v", cfg.Tiers.DemotionThreshold, DefaultDemotionThreshold)
	}
	if cfg.Tiers.EvictionThreshold != DefaultEvictionThreshold {
		t.Errorf("evictionThreshold = %v, want %v", cfg.Tiers.EvictionThreshold, DefaultEvictionThreshold)
	}
	if sum := cfg.Tiers.RecencyWeight + cfg.Tiers.RelevanceWeight + cfg.Tiers.EmotionalWeight; sum != 1.0 {
		t.Errorf("score weights sum = %v, want 1.0", sum)
	}
	if cfg.Feedback.MaxAdjustmentsPerDay != DefaultMaxAdjustmentsPerDay {
		t.Errorf("maxAdjustmentsPerDay = %d, want %d", cfg.Feedback.MaxAdjustmentsPerDay, DefaultMaxAdjustmentsPerDay)
	}
	if cfg.Storage.DBPath == "" {
		t.Error("dbPath should not be empty")
	}
	if len(cfg.Profile.Defaults) == 0 {
		t.Error("profile defaults should not be empty")
	}
}

func TestLoadConfig_NoFile(t *testing.T) {
	tmpDir := t.TempDir()
	origHome := os.Getenv("HOME")
	t.Setenv("HOME", tmpDir)
	defer os.Setenv("HOME", origHome)

	cfg, err := LoadConfig()
	if err != nil {
		t.Fatalf("LoadConfig error: %v", err)
	}
	if cfg.Storage.Structured != DefaultStructuredBackend {
		t.Errorf("expected default backend %q, got %q", DefaultStructuredBackend, cfg.Storage.Structured)
	}
	if cfg.Maintenance.RebalanceInterval != DefaultRebalanceInterval {
		t.Errorf("rebalanceInterval = %q, want %q", cfg.Maintenance.RebalanceInterval, DefaultRebalanceInterval)
	}
}

func TestLoadConfig_FromFile(t *testing.T) {
	tmpDir := t.TempDir()
	origHome := os.Getenv("HOME")
	t.Setenv("HOME", tmpDir)
	defer os.Setenv("HOME", origHome)

	cfgDir := filepath.Join(tmpDir, ".mnemo")
	os.MkdirAll(cfgDir, 0755)

	testCfg := map[string]any{
		"storage": map[string]any{
			"structured":  "postgres",
			"postgresDsn": "postgres://localhost/mnemo",
		},
		"tiers": map[string]any{
			"promotionThreshold": 0.8,
		},
	}
	data, _ := json.MarshalIndent(testCfg, "", "  ")
	os.WriteFile(filepath.Join(cfgDir, "config.json"), data, 0644)

	cfg, err := LoadConfig()
	if err != nil {
		t.Fatalf("LoadConfig error: %v", err)
	}
	if cfg.Storage.Structured != "postgres" {
		t.Errorf("structured = %q, want postgres", cfg.Storage.Structured)
	}
	if cfg.Storage.PostgresDSN != "postgres://localhost/mnemo" {
		t.Errorf("postgresDsn = %q", cfg.Storage.PostgresDSN)
	}
	if cfg.Tiers.PromotionThreshold != 0.8 {
		t.Errorf("promotionThreshold = %v, want 0.8", cfg.Tiers.PromotionThreshold)
	}
}

func TestLoadConfig_EnvOverrides(t *testing.T) {
	tmpDir := t.TempDir()
	origHome := os.Getenv("HOME")
	t.Setenv("HOME", tmpDir)
	defer os.Setenv("HOME", origHome)

	t.Setenv("MNEMO_STRUCTURED_BACKEND", "postgres")
	t.Setenv("MNEMO_POSTGRES_DSN", "postgres://env/mnemo")
	t.Setenv("MNEMO_HOT_CACHE", "none")
	t.Setenv("MNEMO_SEMANTIC_INDEX", "pgvector")
	t.Setenv("MNEMO_DB_PATH", "/tmp/mnemo-test.db")
	t.Setenv("MNEMO_EMBEDDING_PROVIDER", "ollama")
	t.Setenv("MNEMO_EMBEDDING_MODEL", "nomic-embed-text")
	t.Setenv("MNEMO_REBALANCE_INTERVAL", "5m")
	t.Setenv("MNEMO_MAX_ADJUSTMENTS_PER_DAY", "5")
	t.Setenv("MNEMO_ADJUSTMENT_THRESHOLD", "0.9")

	cfg, err := LoadConfig()
	if err != nil {
		t.Fatalf("LoadConfig error: %v", err)
	}
	if cfg.Storage.Structured != "postgres" {
		t.Errorf("structured = %q, want postgres", cfg.Storage.Structured)
	}
	if cfg.Storage.PostgresDSN != "postgres://env/mnemo" {
		t.Errorf("postgresDsn = %q", cfg.Storage.PostgresDSN)
	}
	if cfg.Storage.HotCache != "none" {
		t.Errorf("hotCache = %q, want none", cfg.Storage.HotCache)
	}
	if cfg.Storage.Semantic != "pgvector" {
		t.Errorf("semantic = %q, want pgvector", cfg.Storage.Semantic)
	}
	if cfg.Storage.DBPath != "/tmp/mnemo-test.db" {
		t.Errorf("dbPath = %q", cfg.Storage.DBPath)
	}
	if cfg.Storage.Embedding.Provider != "ollama" {
		t.Errorf("embedding provider = %q", cfg.Storage.Embedding.Provider)
	}
	if cfg.Storage.Embedding.Model != "nomic-embed-text" {
		t.Errorf("embedding model = %q", cfg.Storage.Embedding.Model)
	}
	if cfg.Maintenance.RebalanceInterval != "5m" {
		t.Errorf("rebalanceInterval = %q, want 5m", cfg.Maintenance.RebalanceInterval)
	}
	if cfg.Feedback.MaxAdjustmentsPerDay != 5 {
		t.Errorf("maxAdjustmentsPerDay = %d, want 5", cfg.Feedback.MaxAdjustmentsPerDay)
	}
	if cfg.Feedback.AdjustmentThreshold != 0.9 {
		t.Errorf("adjustmentThreshold = %v, want 0.9", cfg.Feedback.AdjustmentThreshold)
	}
}

func TestLoadConfig_InvalidJSON(t *testing.T) {
	tmpDir := t.TempDir()
	origHome := os.Getenv("HOME")
	t.Setenv("HOME", tmpDir)
	defer os.Setenv("HOME", origHome)

	cfgDir := filepath.Join(tmpDir, ".mnemo")
	os.MkdirAll(cfgDir, 0755)
	os.WriteFile(filepath.Join(cfgDir, "config.json"), []byte("invalid json"), 0644)

	_, err := LoadConfig()
	if err == nil {
		t.Error("expected error for invalid JSON")
	}
}

func TestLoadConfig_Fallbacks(t *testing.T) {
	tmpDir := t.TempDir()
	origHome := os.Getenv("HOME")
	t.Setenv("HOME", tmpDir)
	defer os.Setenv("HOME", origHome)

	cfgDir := filepath.Join(tmpDir, ".mnemo")
	os.MkdirAll(cfgDir, 0755)

	// Config with zeroed required values - should fall back to defaults
	testCfg := map[string]any{
		"storage": map[string]any{
			"structured": "",
			"dbPath":     "",
		},
		"feedback": map[string]any{
			"maxAdjustmentsPerDay": 0,
		},
	}
	data, _ := json.MarshalIndent(testCfg, "", "  ")
	os.WriteFile(filepath.Join(cfgDir, "config.json"), data, 0644)

	cfg, err := LoadConfig()
	if err != nil {
		t.Fatalf("LoadConfig error: %v", err)
	}
	if cfg.Storage.Structured != DefaultStructuredBackend {
		t.Errorf("structured = %q, want fallback %q", cfg.Storage.Structured, DefaultStructuredBackend)
	}
	if cfg.Storage.DBPath == "" {
		t.Error("dbPath should fall back to default")
	}
	if cfg.Feedback.MaxAdjustmentsPerDay != DefaultMaxAdjustmentsPerDay {
		t.Errorf("maxAdjustmentsPerDay = %d, want fallback %d", cfg.Feedback.MaxAdjustmentsPerDay, DefaultMaxAdjustmentsPerDay)
	}
	if cfg.Emotion.HalfLife != DefaultEmotionHalfLife {
		t.Errorf("halfLife = %q, want fallback %q", cfg.Emotion.HalfLife, DefaultEmotionHalfLife)
	}
}

func TestSaveConfig(t *testing.T) {
	tmpDir := t.TempDir()
	origHome := os.Getenv("HOME")
	t.Setenv("HOME", tmpDir)
	defer os.Setenv("HOME", origHome)

	cfg := DefaultConfig()
	cfg.Storage.PostgresDSN = "postgres://saved/mnemo"

	if err := SaveConfig(cfg); err != nil {
		t.Fatalf("SaveConfig error: %v", err)
	}

	data, err := os.ReadFile(filepath.Join(tmpDir, ".mnemo", "config.json"))
	if err != nil {
		t.Fatalf("read saved config: %v", err)
	}

	var loaded Config
	if err := json.Unmarshal(data, &loaded); err != nil {
		t.Fatalf("unmarshal saved config: %v", err)
	}
	if loaded.Storage.PostgresDSN != "postgres://saved/mnemo" {
		t.Errorf("saved postgresDsn = %q, want postgres://saved/mnemo", loaded.Storage.PostgresDSN)
	}
}
