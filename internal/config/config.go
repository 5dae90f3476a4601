package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
)

const (
	DefaultStructuredBackend = "sqlite"
	DefaultHotCacheBackend   = "ristretto"
	DefaultSemanticBackend   = "chromem"

	DefaultPromotionThreshold = 0.7
	DefaultDemotionThreshold  = 0.3
	DefaultEvictionThreshold  = 0.1
	DefaultRecencyWeight      = 0.4
	DefaultRelevanceWeight    = 0.4
	DefaultEmotionalWeight    = 0.2

	DefaultRebalanceInterval = "30m"
	DefaultCleanupInterval   = "60m"
	DefaultSnapshotInterval  = "24h"
	DefaultRetentionDays     = 90
	DefaultStorageTimeoutMs  = 5000

	DefaultHotCapacity      = 10000
	DefaultWarmCapacity     = 100000
	DefaultSemanticCapacity = 1000000
	DefaultHotMaxAge        = "24h"
	DefaultWarmMaxAge       = "168h"
	DefaultSemanticMaxAge   = "720h"

	DefaultEmotionHalfLife    = "48h"
	DefaultDetectionThreshold = 0.1
	DefaultWeightMultiplier   = 1.5

	DefaultAdjustmentThreshold  = 0.7
	DefaultMaxAdjustmentsPerDay = 3
	DefaultMinFeedbackLength    = 10

	DefaultEmbeddingProvider  = "none"
	DefaultEmbeddingBatchSize = 32
	DefaultEmbeddingTimeoutMs = 15000
)

type Config struct {
	Storage     StorageConfig     `json:"storage"`
	Tiers       TiersConfig       `json:"tiers"`
	Emotion     EmotionConfig     `json:"emotion"`
	Feedback    FeedbackConfig    `json:"feedback"`
	Profile     ProfileConfig     `json:"profile"`
	Maintenance MaintenanceConfig `json:"maintenance"`
}

type StorageConfig struct {
	Structured  string          `json:"structured"`
	HotCache    string          `json:"hotCache"`
	Semantic    string          `json:"semantic"`
	DBPath      string          `json:"dbPath,omitempty"`
	PostgresDSN string          `json:"postgresDsn,omitempty"`
	IndexPath   string          `json:"indexPath,omitempty"`
	TimeoutMs   int             `json:"timeoutMs,omitempty"`
	Embedding   EmbeddingConfig `json:"embedding"`
}

type EmbeddingConfig struct {
	Provider  string `json:"provider,omitempty"` // "api", "ollama" or "none"
	BaseURL   string `json:"baseUrl,omitempty"`
	APIKey    string `json:"apiKey,omitempty"`
	Model     string `json:"model,omitempty"`
	Dimension int    `json:"dimension,omitempty"`
	BatchSize int    `json:"batchSize,omitempty"`
	TimeoutMs int    `json:"timeoutMs,omitempty"`
}

type TiersConfig struct {
	PromotionThreshold float64       `json:"promotionThreshold"`
	DemotionThreshold  float64       `json:"demotionThreshold"`
	EvictionThreshold  float64       `json:"evictionThreshold"`
	RecencyWeight      float64       `json:"recencyWeight"`
	RelevanceWeight    float64       `json:"relevanceWeight"`
	EmotionalWeight    float64       `json:"emotionalWeight"`
	HotCapacity        int           `json:"hotCapacity"`
	WarmCapacity       int           `json:"warmCapacity"`
	SemanticCapacity   int           `json:"semanticCapacity"`
	MaxAge             TierAgeConfig `json:"maxAge"`
}

type TierAgeConfig struct {
	Hot      string `json:"hot,omitempty"`
	Warm     string `json:"warm,omitempty"`
	Semantic string `json:"semantic,omitempty"`
}

type EmotionConfig struct {
	HalfLife           string            `json:"halfLife,omitempty"`
	HalfLives          map[string]string `json:"halfLives,omitempty"`
	LexiconPath        string            `json:"lexiconPath,omitempty"`
	DetectionThreshold float64           `json:"detectionThreshold"`
	WeightMultiplier   float64           `json:"weightMultiplier"`
}

type FeedbackConfig struct {
	AdjustmentThreshold  float64 `json:"adjustmentThreshold"`
	MaxAdjustmentsPerDay int     `json:"maxAdjustmentsPerDay"`
	MinFeedbackLength    int     `json:"minFeedbackLength"`
}

type ProfileConfig struct {
	Defaults map[string]string `json:"defaults,omitempty"`
}

type MaintenanceConfig struct {
	RebalanceInterval string `json:"rebalanceInterval,omitempty"`
	CleanupInterval   string `json:"cleanupInterval,omitempty"`
	SnapshotInterval  string `json:"snapshotInterval,omitempty"`
	RetentionDays     int    `json:"retentionDays"`
}

func DefaultProfileFields() map[string]string {
	return map[string]string{
		"tone":        "professional",
		"temperature": "0.7",
		"max_tokens":  "2048",
		"verbosity":   "balanced",
		"traits":      "",
	}
}

func DefaultConfig() *Config {
	return &Config{
		Storage: StorageConfig{
			Structured: DefaultStructuredBackend,
			HotCache:   DefaultHotCacheBackend,
			Semantic:   DefaultSemanticBackend,
			DBPath:     filepath.Join(ConfigDir(), "mnemo.db"),
			IndexPath:  filepath.Join(ConfigDir(), "semantic"),
			TimeoutMs:  DefaultStorageTimeoutMs,
			Embedding: EmbeddingConfig{
				Provider:  DefaultEmbeddingProvider,
				BatchSize: DefaultEmbeddingBatchSize,
				TimeoutMs: DefaultEmbeddingTimeoutMs,
			},
		},
		Tiers: TiersConfig{
			PromotionThreshold: DefaultPromotionThreshold,
			DemotionThreshold:  DefaultDemotionThreshold,
			EvictionThreshold:  DefaultEvictionThreshold,
			RecencyWeight:      DefaultRecencyWeight,
			RelevanceWeight:    DefaultRelevanceWeight,
			EmotionalWeight:    DefaultEmotionalWeight,
			HotCapacity:        DefaultHotCapacity,
			WarmCapacity:       DefaultWarmCapacity,
			SemanticCapacity:   DefaultSemanticCapacity,
			MaxAge: TierAgeConfig{
				Hot:      DefaultHotMaxAge,
				Warm:     DefaultWarmMaxAge,
				Semantic: DefaultSemanticMaxAge,
			},
		},
		Emotion: EmotionConfig{
			HalfLife:           DefaultEmotionHalfLife,
			DetectionThreshold: DefaultDetectionThreshold,
			WeightMultiplier:   DefaultWeightMultiplier,
		},
		Feedback: FeedbackConfig{
			AdjustmentThreshold:  DefaultAdjustmentThreshold,
			MaxAdjustmentsPerDay: DefaultMaxAdjustmentsPerDay,
			MinFeedbackLength:    DefaultMinFeedbackLength,
		},
		Profile: ProfileConfig{
			Defaults: DefaultProfileFields(),
		},
		Maintenance: MaintenanceConfig{
			RebalanceInterval: DefaultRebalanceInterval,
			CleanupInterval:   DefaultCleanupInterval,
			SnapshotInterval:  DefaultSnapshotInterval,
			RetentionDays:     DefaultRetentionDays,
		},
	}
}

func ConfigDir() string {
	home := os.Getenv("HOME")
	if home == "" {
		home, _ = os.UserHomeDir()
	}
	return filepath.Join(home, ".mnemo")
}

func ConfigPath() string {
	return filepath.Join(ConfigDir(), "config.json")
}

func LoadConfig() (*Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(ConfigPath())
	if err != nil {
		if !os.IsNotExist(err) {
			return nil, fmt.Errorf("read config: %w", err)
		}
	} else {
		if err := json.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config: %w", err)
		}
	}

	// Environment variable overrides
	if backend := os.Getenv("MNEMO_STRUCTURED_BACKEND"); backend != "" {
		cfg.Storage.Structured = backend
	}
	if backend := os.Getenv("MNEMO_HOT_CACHE"); backend != "" {
		cfg.Storage.HotCache = backend
	}
	if backend := os.Getenv("MNEMO_SEMANTIC_INDEX"); backend != "" {
		cfg.Storage.Semantic = backend
	}
	if dbPath := os.Getenv("MNEMO_DB_PATH"); dbPath != "" {
		cfg.Storage.DBPath = dbPath
	}
	if dsn := os.Getenv("MNEMO_POSTGRES_DSN"); dsn != "" {
		cfg.Storage.PostgresDSN = dsn
	}
	if indexPath := os.Getenv("MNEMO_INDEX_PATH"); indexPath != "" {
		cfg.Storage.IndexPath = indexPath
	}
	if provider := os.Getenv("MNEMO_EMBEDDING_PROVIDER"); provider != "" {
		cfg.Storage.Embedding.Provider = provider
	}
	if key := os.Getenv("MNEMO_EMBEDDING_API_KEY"); key != "" {
		cfg.Storage.Embedding.APIKey = key
	}
	if url := os.Getenv("MNEMO_EMBEDDING_BASE_URL"); url != "" {
		cfg.Storage.Embedding.BaseURL = url
	}
	if model := os.Getenv("MNEMO_EMBEDDING_MODEL"); model != "" {
		cfg.Storage.Embedding.Model = model
	}
	if lexicon := os.Getenv("MNEMO_LEXICON_PATH"); lexicon != "" {
		cfg.Emotion.LexiconPath = lexicon
	}
	if interval := os.Getenv("MNEMO_REBALANCE_INTERVAL"); interval != "" {
		cfg.Maintenance.RebalanceInterval = interval
	}
	if interval := os.Getenv("MNEMO_CLEANUP_INTERVAL"); interval != "" {
		cfg.Maintenance.CleanupInterval = interval
	}
	if limit := os.Getenv("MNEMO_MAX_ADJUSTMENTS_PER_DAY"); limit != "" {
		if parsed, err := strconv.Atoi(limit); err == nil {
			cfg.Feedback.MaxAdjustmentsPerDay = parsed
		}
	}
	if threshold := os.Getenv("MNEMO_ADJUSTMENT_THRESHOLD"); threshold != "" {
		if parsed, err := strconv.ParseFloat(threshold, 64); err == nil {
			cfg.Feedback.AdjustmentThreshold = parsed
		}
	}

	applyFallbacks(cfg)

	return cfg, nil
}

// applyFallbacks restores required values that a hand-edited config file may
// have zeroed out.
func applyFallbacks(cfg *Config) {
	def := DefaultConfig()

	if cfg.Storage.Structured == "" {
		cfg.Storage.Structured = def.Storage.Structured
	}
	if cfg.Storage.HotCache == "" {
		cfg.Storage.HotCache = def.Storage.HotCache
	}
	if cfg.Storage.Semantic == "" {
		cfg.Storage.Semantic = def.Storage.Semantic
	}
	if cfg.Storage.DBPath == "" {
		cfg.Storage.DBPath = def.Storage.DBPath
	}
	if cfg.Storage.TimeoutMs <= 0 {
		cfg.Storage.TimeoutMs = DefaultStorageTimeoutMs
	}
	if cfg.Tiers.RecencyWeight <= 0 && cfg.Tiers.RelevanceWeight <= 0 && cfg.Tiers.EmotionalWeight <= 0 {
		cfg.Tiers.RecencyWeight = DefaultRecencyWeight
		cfg.Tiers.RelevanceWeight = DefaultRelevanceWeight
		cfg.Tiers.EmotionalWeight = DefaultEmotionalWeight
	}
	if cfg.Tiers.PromotionThreshold <= 0 {
		cfg.Tiers.PromotionThreshold = DefaultPromotionThreshold
	}
	if cfg.Tiers.HotCapacity <= 0 {
		cfg.Tiers.HotCapacity = DefaultHotCapacity
	}
	if cfg.Tiers.WarmCapacity <= 0 {
		cfg.Tiers.WarmCapacity = DefaultWarmCapacity
	}
	if cfg.Tiers.SemanticCapacity <= 0 {
		cfg.Tiers.SemanticCapacity = DefaultSemanticCapacity
	}
	if cfg.Tiers.MaxAge.Hot == "" {
		cfg.Tiers.MaxAge.Hot = DefaultHotMaxAge
	}
	if cfg.Tiers.MaxAge.Warm == "" {
		cfg.Tiers.MaxAge.Warm = DefaultWarmMaxAge
	}
	if cfg.Tiers.MaxAge.Semantic == "" {
		cfg.Tiers.MaxAge.Semantic = DefaultSemanticMaxAge
	}
	if cfg.Emotion.HalfLife == "" {
		cfg.Emotion.HalfLife = DefaultEmotionHalfLife
	}
	if cfg.Emotion.DetectionThreshold <= 0 {
		cfg.Emotion.DetectionThreshold = DefaultDetectionThreshold
	}
	if cfg.Emotion.WeightMultiplier <= 0 {
		cfg.Emotion.WeightMultiplier = DefaultWeightMultiplier
	}
	if cfg.Feedback.AdjustmentThreshold <= 0 {
		cfg.Feedback.AdjustmentThreshold = DefaultAdjustmentThreshold
	}
	if cfg.Feedback.MaxAdjustmentsPerDay <= 0 {
		cfg.Feedback.MaxAdjustmentsPerDay = DefaultMaxAdjustmentsPerDay
	}
	if cfg.Feedback.MinFeedbackLength <= 0 {
		cfg.Feedback.MinFeedbackLength = DefaultMinFeedbackLength
	}
	if len(cfg.Profile.Defaults) == 0 {
		cfg.Profile.Defaults = DefaultProfileFields()
	}
	if cfg.Maintenance.RebalanceInterval == "" {
		cfg.Maintenance.RebalanceInterval = DefaultRebalanceInterval
	}
	if cfg.Maintenance.CleanupInterval == "" {
		cfg.Maintenance.CleanupInterval = DefaultCleanupInterval
	}
	if cfg.Maintenance.SnapshotInterval == "" {
		cfg.Maintenance.SnapshotInterval = DefaultSnapshotInterval
	}
	if cfg.Maintenance.RetentionDays <= 0 {
		cfg.Maintenance.RetentionDays = DefaultRetentionDays
	}
	if cfg.Storage.Embedding.Provider == "" {
		cfg.Storage.Embedding.Provider = DefaultEmbeddingProvider
	}
	if cfg.Storage.Embedding.BatchSize <= 0 {
		cfg.Storage.Embedding.BatchSize = DefaultEmbeddingBatchSize
	}
	if cfg.Storage.Embedding.TimeoutMs <= 0 {
		cfg.Storage.Embedding.TimeoutMs = DefaultEmbeddingTimeoutMs
	}
}

func SaveConfig(cfg *Config) error {
	dir := ConfigDir()
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("create config dir: %w", err)
	}

	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}

	return os.WriteFile(ConfigPath(), data, 0644)
}
