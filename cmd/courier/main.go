package main

import (
	"context"
	"flag"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"

	core "github.com/supplyetl/core"
	"github.com/supplyetl/core/auth"
	"github.com/supplyetl/core/courier"
	"github.com/supplyetl/core/jobstate"
	"github.com/supplyetl/core/store"
)

func main() {
	configPath := flag.String("config", "", "Path to config file (JSON)")
	addr := flag.String("addr", ":8080", "Listen address")
	watchDir := flag.String("watch-dir", "", "Optional intake directory to watch for dropped files")
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

	jobs := jobstate.NewSQL(st)

	redisClient := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
	defer redisClient.Close()

	lock := courier.NewJobLock(redisClient)
	pending := courier.NewPendingDepth(redisClient)

	var issuer *auth.Issuer
	if cfg.ServiceTokenSecret != "" {
		issuer = auth.NewIssuer(cfg.ServiceTokenSecret, 5*time.Minute)
	}
	intelClient := courier.NewIntelligenceClient(cfg.IntelligenceBaseURL, issuer)

	acquirer := &courier.Acquirer{
		SharedRoot:    cfg.SharedRoot,
		MaxFileSizeMB: cfg.MaxFileSizeMB,
		Fetcher:       courier.HTTPFetcher{},
	}

	cr := &courier.Courier{
		Suppliers:      st,
		Jobs:           jobs,
		Lock:           lock,
		Pending:        pending,
		MaxPendingJobs: cfg.MaxPendingJobs,
	}

	worker := courier.NewWorker(jobs, acquirer, intelClient, pending)
	poller := courier.NewPoller(jobs, intelClient, time.Duration(cfg.StallTimeoutS)*time.Second)
	cleaner := courier.NewCleaner(jobs, time.Duration(cfg.CleanupTTLH)*time.Hour)
	retrier := courier.NewRetrier(jobs, cfg.MaxRetries)

	downloadQueue := make(chan downloadTask, 1000)

	h := newHandler(cr, st, retrier, downloadQueue)
	mux := http.NewServeMux()
	mux.HandleFunc("POST /enqueue", h.handleEnqueue)
	mux.HandleFunc("POST /retry/{id}", h.handleRetry)
	mux.HandleFunc("GET /health", h.handleHealth)

	var handler http.Handler = mux
	handler = logMiddleware(handler)
	handler = recoveryMiddleware(handler)

	srv := &http.Server{
		Addr:         *addr,
		Handler:      handler,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		runDownloadWorkers(ctx, worker, downloadQueue, lock)
	}()

	wg.Add(1)
	go func() {
		defer wg.Done()
		runPollLoop(ctx, st, poller, time.Duration(cfg.PollIntervalS)*time.Second)
	}()

	wg.Add(1)
	go func() {
		defer wg.Done()
		runCleanupLoop(ctx, cleaner, time.Duration(cfg.CleanupIntervalH)*time.Hour)
	}()

	var watcher *courier.SourceWatcher
	if *watchDir != "" {
		watcher, err = courier.NewSourceWatcher(*watchDir, func(path string) {
			slog.Info("courier: watcher observed file", "path", path)
		})
		if err != nil {
			slog.Error("starting source watcher", "error", err)
		} else {
			wg.Add(1)
			go func() {
				defer wg.Done()
				watcher.Run(ctx)
			}()
		}
	}

	done := make(chan os.Signal, 1)
	signal.Notify(done, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		slog.Info("courier starting", "addr", *addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	<-done
	slog.Info("shutting down courier...")

	cancel()
	if watcher != nil {
		_ = watcher.Close()
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("server shutdown error", "error", err)
	}

	wg.Wait()
	slog.Info("courier stopped")
}
