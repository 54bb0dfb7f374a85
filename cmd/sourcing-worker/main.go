// Command sourcing-worker consumes the "sourcing" queue: for each job it
// loads a SourcingRequest, runs the full §4.H orchestration pipeline, and
// always attempts a callback, following the teacher's cmd/orchestrator
// main.go shape (load config, wire collaborators, signal.NotifyContext for
// graceful shutdown).
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

	"github.com/puneetrinity/signal-sourcing/internal/budget"
	"github.com/puneetrinity/signal-sourcing/internal/callback"
	"github.com/puneetrinity/signal-sourcing/internal/config"
	"github.com/puneetrinity/signal-sourcing/internal/enrichment"
	"github.com/puneetrinity/signal-sourcing/internal/llm"
	"github.com/puneetrinity/signal-sourcing/internal/logging"
	"github.com/puneetrinity/signal-sourcing/internal/model"
	"github.com/puneetrinity/signal-sourcing/internal/orchestrator"
	"github.com/puneetrinity/signal-sourcing/internal/queue"
	"github.com/puneetrinity/signal-sourcing/internal/rerank"
	"github.com/puneetrinity/signal-sourcing/internal/requirements"
	"github.com/puneetrinity/signal-sourcing/internal/serp"
	"github.com/puneetrinity/signal-sourcing/internal/store"
	"github.com/puneetrinity/signal-sourcing/internal/track"
)

func main() {
	if err := run(); err != nil {
		log.Fatal().Err(err).Msg("sourcing_worker")
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
	novelty := store.NewNoveltyStore(baseStore)

	opts, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		return fmt.Errorf("parse redis url: %w", err)
	}
	rdb := redis.NewClient(opts)
	defer rdb.Close()

	guard := budget.New(rdb)
	serpProvider := serp.NewSerperClient(cfg.SerperAPIKey)
	var generator llm.ObjectGenerator
	if cfg.GroqAPIKey != "" {
		generator = llm.NewGroqClient(cfg.GroqAPIKey, "", "")
	}
	classifier := track.New(cfg, rdb, generator)
	enrichClient := enrichment.NewClient(cfg.EnrichmentServiceURL)

	orch := orchestrator.New(cfg, candidates, sourcingCandidates, novelty, enrichClient, candidates, serpProvider, guard, generator)

	sourcingQueue := queue.New(rdb, "sourcing")
	rerankQueue := queue.New(rdb, "sourcing-rerank")
	rerankScheduler := rerank.NewScheduler(rerankQueue, cfg.RerankDelayMs)

	signer := callback.NewSigner(cfg.SignalJWTPrivateKey, cfg.SignalJWTActiveKid)
	dispatcher := callback.NewDispatcher(signer, requests)

	if cfg.CallbackRedeliveryEnabled {
		sweeper := callback.NewSweeper(requests,
			dispatcher,
			time.Duration(cfg.CallbackRedeliveryIntervalMinutes)*time.Minute,
			time.Duration(cfg.CallbackRedeliveryMaxAgeMinutes)*time.Minute,
			cfg.CallbackRedeliveryBatchSize,
		)
		go sweeper.Run(ctx)
	}

	handler := func(jobCtx context.Context, job queue.Job) error {
		return processSourcingJob(jobCtx, job, cfg, requests, classifier, orch, dispatcher)
	}

	worker := queue.NewWorker(sourcingQueue, cfg.WorkerConcurrency)

	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", healthHandler(cfg))
	mux.HandleFunc("/enrichment-completed", enrichmentCompletedHandler(sourcingCandidates, rerankScheduler))
	healthSrv := &http.Server{Addr: ":" + cfg.Port, Handler: mux}
	go func() {
		if err := healthSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error().Err(err).Msg("health_server_failed")
		}
	}()

	worker.Run(ctx, handler)

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	_ = healthSrv.Shutdown(shutdownCtx)

	log.Info().Msg("sourcing_worker_stopped")
	return nil
}

func healthHandler(cfg config.Config) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		body, _ := json.Marshal(map[string]any{
			"status":      "ok",
			"concurrency": cfg.WorkerConcurrency,
		})
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write(body)
	}
}

// enrichmentCompletedHandler is the inbound surface the external enrichment
// subsystem calls when enrichment finishes for (tenantId, candidateId)
// (§4.K trigger): it finds every complete request containing that
// candidate and schedules a coalescing rerank for each.
func enrichmentCompletedHandler(sourcingCandidates *store.SourcingCandidateStore, scheduler *rerank.Scheduler) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var body struct {
			CandidateID string `json:"candidateId"`
		}
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil || body.CandidateID == "" {
			http.Error(w, "candidateId required", http.StatusBadRequest)
			return
		}

		requestIDs, err := sourcingCandidates.ListRequestIDsForCandidate(r.Context(), body.CandidateID)
		if err != nil {
			log.Error().Err(err).Str("candidate_id", body.CandidateID).Msg("enrichment_completed_lookup_failed")
			http.Error(w, "lookup failed", http.StatusInternalServerError)
			return
		}

		for _, requestID := range requestIDs {
			if err := scheduler.Schedule(r.Context(), requestID); err != nil {
				log.Warn().Err(err).Str("request_id", requestID).Msg("rerank_schedule_failed")
			}
		}
		w.WriteHeader(http.StatusAccepted)
	}
}

// processSourcingJob runs the strictly-sequential §4.H → enqueue enrichment
// → callback pipeline for one request, always attempting a callback even on
// orchestration failure (§4.I steps 1-3, §7).
func processSourcingJob(ctx context.Context, job queue.Job, cfg config.Config, requests *store.RequestStore,
	classifier *track.Classifier, orch *orchestrator.Orchestrator, dispatcher *callback.Dispatcher) error {

	var payload struct {
		RequestID string `json:"requestId"`
	}
	if err := json.Unmarshal(job.Data, &payload); err != nil {
		return fmt.Errorf("unmarshal sourcing job payload: %w", err)
	}

	req, err := requests.Get(ctx, payload.RequestID)
	if err != nil {
		return fmt.Errorf("load sourcing request %s: %w", payload.RequestID, err)
	}

	if err := requests.TransitionStatus(ctx, req.ID, model.RequestProcessing); err != nil {
		return fmt.Errorf("transition request to processing: %w", err)
	}

	reqModel := requirements.Build(req.JobContext)
	trackDecision := classifier.Classify(ctx, req.JobContext, reqModel, req.JobContext.TrackHint)
	trackRaw, _ := json.Marshal(trackDecision)

	result, runErr := orch.Run(ctx, req.ID, req.TenantID, req.JobContext, trackDecision)

	var callbackPayload callback.Payload
	if runErr != nil {
		log.Error().Err(runErr).Str("request_id", req.ID).Msg("orchestration_failed")
		mergeDiag := map[string]json.RawMessage{"trackDecision": trackRaw}
		if tErr := requests.TransitionStatusWithDiagnostics(ctx, req.ID, model.RequestFailed, mergeDiag); tErr != nil {
			log.Warn().Err(tErr).Str("request_id", req.ID).Msg("transition_to_failed_persist_failed")
		}
		callbackPayload = callback.Payload{
			Version:       1,
			RequestID:     req.ID,
			ExternalJobID: req.ExternalJobID,
			Status:        "failed",
			Error:         runErr.Error(),
		}
	} else {
		orchDiag := result
		orchDiag.Rows = nil
		orchRaw, _ := json.Marshal(orchDiag)
		mergeDiag := map[string]json.RawMessage{"trackDecision": trackRaw, "orchestrator": orchRaw}
		if err := requests.CompleteWithDiagnostics(ctx, req.ID, result.ResultCount, result.QueriesExecuted, mergeDiag); err != nil {
			log.Error().Err(err).Str("request_id", req.ID).Msg("complete_with_diagnostics_failed")
		}
		status := "complete"
		if result.ResultCount < cfg.MinGoodEnough {
			status = "partial"
		}
		callbackPayload = callback.Payload{
			Version:        1,
			RequestID:      req.ID,
			ExternalJobID:  req.ExternalJobID,
			Status:         status,
			CandidateCount: result.ResultCount,
		}
	}

	if err := dispatcher.Deliver(ctx, req.TenantID, req.ID, req.CallbackURL, callbackPayload); err != nil {
		log.Warn().Err(err).Str("request_id", req.ID).Msg("callback_delivery_failed")
	}

	return nil
}
