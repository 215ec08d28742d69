package core

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/joho/godotenv"
	"github.com/supplyetl/core/llm"
)

// Config is the process-wide configuration for both the Courier and
// Intelligence binaries, constructed once at startup and passed by
// reference (spec §9 "global singletons" note: no module-level state).
type Config struct {
	DBPath     string `json:"db_path"`
	SharedRoot string `json:"shared_root"`

	Chat      llm.Config `json:"chat"`
	Embedding llm.Config `json:"embedding"`

	// Chunker (spec §6.4, §4.4)
	ChunkSizeRows    int `json:"chunk_size_rows"`
	ChunkOverlapRows int `json:"chunk_overlap_rows"`

	// LLM Extractor (spec §6.4, §4.5)
	LLMTemperature       float64 `json:"llm_temperature"`
	ExtractorConcurrency int     `json:"extractor_concurrency"`
	ExtractMaxRetries    int     `json:"extract_max_retries"`
	ExtractChunkTimeoutS int     `json:"extract_chunk_timeout_s"`
	ChunkErrorRateCeiling float64 `json:"chunk_error_rate_ceiling"`

	// Category Normalizer (spec §6.4, §4.6)
	FuzzyMatchThreshold float64 `json:"fuzzy_match_threshold"`
	CategoryCacheTTLS   int     `json:"category_cache_ttl_s"`

	// Matcher (spec §6.4, §4.10)
	EmbeddingDim         int     `json:"embedding_dim"`
	MatchAutoThreshold   float64 `json:"match_auto_threshold"`
	MatchReviewThreshold float64 `json:"match_review_threshold"`
	MatchTopK            int     `json:"match_top_k"`

	// Courier (spec §6.4, §4.1)
	MaxFileSizeMB     int     `json:"max_file_size_mb"`
	PollIntervalS     int     `json:"poll_interval_s"`
	StallTimeoutS     int     `json:"stall_timeout_s"`
	CleanupTTLH       int     `json:"cleanup_ttl_h"`
	CleanupIntervalH  int     `json:"cleanup_interval_h"`
	MaxRetries        int     `json:"max_retries"`
	RetryBackoffBaseS int     `json:"retry_backoff_base_s"`
	PartialSuccessRatio float64 `json:"partial_success_ratio"`
	MaxPendingJobs    int     `json:"max_pending_jobs"`

	// Wire protocol (SPEC_FULL.md §6.1)
	IntelligenceBaseURL string `json:"intelligence_base_url"`
	ServiceTokenSecret  string `json:"service_token_secret"`

	// Redis-backed advisory locking / job queue (SPEC_FULL.md §4.1)
	RedisAddr string `json:"redis_addr"`
}

// DefaultConfig returns a Config with every default named in spec §4/§6.4.
func DefaultConfig() Config {
	return Config{
		DBPath:     "./supplyetl.db",
		SharedRoot: "./shared",

		Chat:      llm.Config{Provider: "openai", Model: "gpt-4o-mini"},
		Embedding: llm.Config{Provider: "openai", Model: "text-embedding-3-small"},

		ChunkSizeRows:    250,
		ChunkOverlapRows: 40,

		LLMTemperature:        0.2,
		ExtractorConcurrency:  2,
		ExtractMaxRetries:     2,
		ExtractChunkTimeoutS:  60,
		ChunkErrorRateCeiling: 0.50,

		FuzzyMatchThreshold: 85,
		CategoryCacheTTLS:   300,

		EmbeddingDim:         768,
		MatchAutoThreshold:   0.90,
		MatchReviewThreshold: 0.70,
		MatchTopK:            5,

		MaxFileSizeMB:       50,
		PollIntervalS:       7,
		StallTimeoutS:       1800,
		CleanupTTLH:         24,
		CleanupIntervalH:    6,
		MaxRetries:          3,
		RetryBackoffBaseS:   30,
		PartialSuccessRatio: 0.80,
		MaxPendingJobs:      200,

		IntelligenceBaseURL: "http://localhost:8081",

		RedisAddr: "localhost:6379",
	}
}

// LoadConfig layers a JSON config file, then a .env file, then environment
// variables over DefaultConfig(), mirroring the teacher's
// cmd/server/main.go layering (file -> env) with .env support added per
// codeready-toolchain-tarsy's use of github.com/joho/godotenv.
func LoadConfig(path string) (Config, error) {
	cfg := DefaultConfig()

	if path != "" {
		f, err := os.Open(path)
		if err != nil {
			return cfg, fmt.Errorf("opening config %s: %w", path, err)
		}
		defer f.Close()
		if err := json.NewDecoder(f).Decode(&cfg); err != nil {
			return cfg, fmt.Errorf("parsing config %s: %w", path, err)
		}
	}

	// .env is optional; a missing file is not an error.
	_ = godotenv.Load()

	applyEnvOverrides(&cfg)

	cfg.DBPath = resolveDBPath(cfg.DBPath)
	return cfg, nil
}

func applyEnvOverrides(cfg *Config) {
	str := func(key string, dst *string) {
		if v := os.Getenv(key); v != "" {
			*dst = v
		}
	}
	str("SUPPLYETL_DB_PATH", &cfg.DBPath)
	str("SUPPLYETL_SHARED_ROOT", &cfg.SharedRoot)
	str("SUPPLYETL_CHAT_BASE_URL", &cfg.Chat.BaseURL)
	str("SUPPLYETL_CHAT_MODEL", &cfg.Chat.Model)
	str("SUPPLYETL_CHAT_PROVIDER", &cfg.Chat.Provider)
	str("SUPPLYETL_CHAT_API_KEY", &cfg.Chat.APIKey)
	str("SUPPLYETL_EMBED_BASE_URL", &cfg.Embedding.BaseURL)
	str("SUPPLYETL_EMBED_MODEL", &cfg.Embedding.Model)
	str("SUPPLYETL_EMBED_PROVIDER", &cfg.Embedding.Provider)
	str("SUPPLYETL_EMBED_API_KEY", &cfg.Embedding.APIKey)
	str("SUPPLYETL_INTELLIGENCE_BASE_URL", &cfg.IntelligenceBaseURL)
	str("SUPPLYETL_SERVICE_TOKEN_SECRET", &cfg.ServiceTokenSecret)
	str("SUPPLYETL_REDIS_ADDR", &cfg.RedisAddr)

	if cfg.Chat.APIKey == "" && cfg.Chat.Provider == "openai" {
		cfg.Chat.APIKey = os.Getenv("OPENAI_API_KEY")
	}
	if cfg.Embedding.APIKey == "" && cfg.Embedding.Provider == "openai" {
		cfg.Embedding.APIKey = os.Getenv("OPENAI_API_KEY")
	}
}

// resolveDBPath expands a relative sqlite path against the working
// directory, matching the teacher's resolveDBPath behavior.
func resolveDBPath(p string) string {
	if p == "" || p == ":memory:" {
		return p
	}
	if filepath.IsAbs(p) {
		return p
	}
	abs, err := filepath.Abs(p)
	if err != nil {
		return p
	}
	return abs
}
