package main

import (
	"context"
	"flag"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	core "github.com/supplyetl/core"
	"github.com/supplyetl/core/auth"
	"github.com/supplyetl/core/intelligence"
	"github.com/supplyetl/core/intelligence/category"
	"github.com/supplyetl/core/intelligence/chunk"
	"github.com/supplyetl/core/intelligence/extract"
	"github.com/supplyetl/core/intelligence/match"
	"github.com/supplyetl/core/intelligence/persist"
	"github.com/supplyetl/core/llm"
	"github.com/supplyetl/core/store"
)

func main() {
	configPath := flag.String("config", "", "Path to config file (JSON)")
	addr := flag.String("addr", ":8081", "Listen address")
	flag.Parse()

	slog.SetDefault(slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	})))

	cfg, err := core.LoadConfig(*configPath)
	if err != nil {
		slog.Error("loading config", "error", err)
		os.Exit(1)
	}

	st, err := store.New(cfg)
	if err != nil {
		slog.Error("opening store", "error", err)
		os.Exit(1)
	}
	defer st.Close()

	chatProvider, err := llm.NewProvider(cfg.Chat)
	if err != nil {
		slog.Error("creating chat provider", "error", err)
		os.Exit(1)
	}
	embeddingCfg := cfg.Embedding
	embeddingCfg.EmbeddingDim = cfg.EmbeddingDim
	embedProvider, err := llm.NewProvider(embeddingCfg)
	if err != nil {
		slog.Error("creating embedding provider", "error", err)
		os.Exit(1)
	}

	extractor := extract.New(chatProvider, cfg.Chat.Model, extract.Config{
		Temperature:  cfg.LLMTemperature,
		Concurrency:  cfg.ExtractorConcurrency,
		MaxRetries:   cfg.ExtractMaxRetries,
		ChunkTimeout: time.Duration(cfg.ExtractChunkTimeoutS) * time.Second,
	})

	catNormalizer := category.New(func(ctx context.Context, supplierID int64) ([]core.Category, error) {
		return st.ListActiveCategories(ctx, supplierID)
	}, category.Config{
		FuzzyThreshold: cfg.FuzzyMatchThreshold,
		CacheTTL:       time.Duration(cfg.CategoryCacheTTLS) * time.Second,
	})

	persister := persist.New(st, persist.Config{PartialSuccessRatio: cfg.PartialSuccessRatio})

	var matcher *match.Matcher
	if cfg.MatchTopK > 0 {
		matcher = match.New(embedProvider, chatProvider, cfg.Chat.Model, st, match.Config{
			TopK:            cfg.MatchTopK,
			AutoThreshold:   cfg.MatchAutoThreshold,
			ReviewThreshold: cfg.MatchReviewThreshold,
		})
	}

	engine := intelligence.New(st, extractor, catNormalizer, persister, matcher, chunk.Config{
		SizeRows:    cfg.ChunkSizeRows,
		OverlapRows: cfg.ChunkOverlapRows,
	}, cfg.ChunkErrorRateCeiling)

	var issuer *auth.Issuer
	if cfg.ServiceTokenSecret != "" {
		issuer = auth.NewIssuer(cfg.ServiceTokenSecret, 5*time.Minute)
	}

	h := newHandler(engine)
	mux := http.NewServeMux()

	mux.HandleFunc("POST /analyze/file", h.handleAnalyzeFile)
	mux.HandleFunc("GET /analyze/status/{id}", h.handleStatus)
	mux.HandleFunc("POST /analyze/vision", h.handleVision)
	mux.HandleFunc("GET /health", h.handleHealth)

	// Middleware chain: recovery -> cors -> auth -> logging -> mux
	var handler http.Handler = mux
	handler = logMiddleware(handler)
	handler = authMiddleware(issuer, handler)
	handler = corsMiddleware(os.Getenv("SUPPLYETL_CORS_ORIGINS"), handler)
	handler = recoveryMiddleware(handler)

	srv := &http.Server{
		Addr:         *addr,
		Handler:      handler,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 0, // streaming/long-running analyze calls
		IdleTimeout:  120 * time.Second,
	}

	done := make(chan os.Signal, 1)
	signal.Notify(done, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		slog.Info("intelligence server starting", "addr", *addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	<-done
	slog.Info("shutting down intelligence server...")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		slog.Error("server shutdown error", "error", err)
	}

	slog.Info("intelligence server stopped")
}
