// Command rerank-worker consumes the "sourcing-rerank" queue: for each
// coalesced job it recomputes one request's ranking from its existing
// assembly (§4.K), following the same load-config/wire/signal.NotifyContext
// shape as cmd/sourcing-worker.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"

	"github.com/puneetrinity/signal-sourcing/internal/config"
	"github.com/puneetrinity/signal-sourcing/internal/logging"
	"github.com/puneetrinity/signal-sourcing/internal/queue"
	"github.com/puneetrinity/signal-sourcing/internal/rerank"
	"github.com/puneetrinity/signal-sourcing/internal/store"
)

func main() {
	if err := run(); err != nil {
		log.Fatal().Err(err).Msg("rerank_worker")
	}
}

func run() error {
	cfg := config.Load()
	logging.Init(cfg.LogLevel)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	pool, err := store.OpenPool(ctx, cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("open database pool: %w", err)
	}
	defer pool.Close()

	baseStore := store.New(pool)
	requests := store.NewRequestStore(baseStore)
	candidates := store.NewCandidateStore(baseStore)
	sourcingCandidates := store.NewSourcingCandidateStore(baseStore)

	opts, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		return fmt.Errorf("parse redis url: %w", err)
	}
	rdb := redis.NewClient(opts)
	defer rdb.Close()

	rerankWorker := rerank.NewWorker(cfg, requests, sourcingCandidates, sourcingCandidates, candidates)
	rerankQueue := queue.New(rdb, "sourcing-rerank")

	handler := func(jobCtx context.Context, job queue.Job) error {
		return processRerankJob(jobCtx, job, rerankWorker)
	}

	worker := queue.NewWorker(rerankQueue, cfg.RerankWorkerConcurrency)

	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", healthHandler(cfg))
	healthSrv := &http.Server{Addr: ":" + cfg.RerankWorkerPort, Handler: mux}
	go func() {
		if err := healthSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error().Err(err).Msg("health_server_failed")
		}
	}()

	worker.Run(ctx, handler)

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	_ = healthSrv.Shutdown(shutdownCtx)

	log.Info().Msg("rerank_worker_stopped")
	return nil
}

func healthHandler(cfg config.Config) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		body, _ := json.Marshal(map[string]any{
			"status":      "ok",
			"concurrency": cfg.RerankWorkerConcurrency,
		})
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write(body)
	}
}

func processRerankJob(ctx context.Context, job queue.Job, w *rerank.Worker) error {
	var payload struct {
		RequestID string `json:"requestId"`
	}
	if err := json.Unmarshal(job.Data, &payload); err != nil {
		return fmt.Errorf("unmarshal rerank job payload: %w", err)
	}
	return w.Process(ctx, payload.RequestID)
}
