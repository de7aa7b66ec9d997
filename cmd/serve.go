package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/cors"
	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/cardmint/scan-cli/internal/model"
	"github.com/cardmint/scan-cli/internal/monitoring"
	"github.com/cardmint/scan-cli/internal/pipeline"
	"github.com/cardmint/scan-cli/internal/queue"
	"github.com/cardmint/scan-cli/pkg/vision"
)

var servePort int

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the intake HTTP server",
	Long:  "Accepts card identification requests over HTTP, queues them, and drains the queue through the decision pipeline in the background.",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		env, err := initPipeline(ctx)
		if err != nil {
			return err
		}
		defer env.Close()

		q := queue.New(cfg.Batch.QueueCapacity)

		shadow, err := initShadow(env)
		if err != nil {
			return err
		}

		orch := pipeline.NewOrchestrator(pipeline.OrchestratorConfig{
			ChunkSize:        cfg.Batch.ChunkSize,
			Concurrency:      cfg.Batch.Concurrency,
			MaxRetries:       cfg.Batch.MaxRetries,
			RetryBackoffBase: time.Duration(cfg.Batch.RetryBackoffSecs) * time.Second,
			ChunksPerSecond:  cfg.Batch.ChunksPerSecond,
		}, q, env.Pipeline, shadow)

		// Drain the queue continuously in the background.
		go drainLoop(ctx, orch, q)

		collector := monitoring.NewCollector(env.Store, env.Resilience, q)
		collector.Approval = env.Approver

		// Background alerting needs a webhook to be useful.
		if cfg.Monitoring.WebhookURL != "" {
			checker := monitoring.NewChecker(collector, monitoring.NewAlerter(cfg.Monitoring), cfg.Monitoring)
			go checker.Run(ctx)
		}

		router := buildRouter(q, collector, env.Vision, cfg.Monitoring.LookbackWindowHours)

		port := servePort
		if port == 0 {
			port = cfg.Server.Port
		}

		srv := &http.Server{
			Addr:    fmt.Sprintf(":%d", port),
			Handler: router,
		}

		// Graceful shutdown
		go func() {
			<-ctx.Done()
			zap.L().Info("shutting down server")
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			_ = srv.Shutdown(shutdownCtx)
		}()

		zap.L().Info("starting server", zap.Int("port", port))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return eris.Wrap(err, "server listen")
		}

		return nil
	},
}

func init() {
	serveCmd.Flags().IntVar(&servePort, "port", 0, "server port (default from config)")
	rootCmd.AddCommand(serveCmd)
}

// drainLoop runs the orchestrator whenever queued items appear. Run returns
// once the queue is empty, so the loop polls between batches.
func drainLoop(ctx context.Context, orch *pipeline.Orchestrator, q *queue.Queue) {
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if q.Len() == 0 {
				continue
			}
			stats, err := orch.Run(ctx)
			if err != nil {
				zap.L().Error("queue drain failed", zap.Error(err))
				continue
			}
			zap.L().Info("queue drained",
				zap.Int("processed", stats.Processed),
				zap.Int("approved", stats.Approved),
				zap.Int("review", stats.Review),
				zap.Int("failed", stats.Failed),
			)
		}
	}
}

// buildRouter assembles the intake API. vc may be nil, which skips the
// vision liveness probe on /health.
func buildRouter(q *queue.Queue, collector *monitoring.Collector, vc vision.Client, lookbackHours int) http.Handler {
	r := chi.NewRouter()
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{http.MethodGet, http.MethodPost},
		AllowedHeaders: []string{"Accept", "Content-Type"},
	}))

	r.Get("/health", func(w http.ResponseWriter, req *http.Request) {
		status := "ok"
		code := http.StatusOK
		if vc != nil {
			probeCtx, cancel := context.WithTimeout(req.Context(), 2*time.Second)
			defer cancel()
			if err := vc.Health(probeCtx); err != nil {
				zap.L().Warn("vision liveness probe failed", zap.Error(err))
				status = "degraded"
				code = http.StatusServiceUnavailable
			}
		}
		writeJSON(w, code, map[string]string{"status": status})
	})

	r.Post("/items", func(w http.ResponseWriter, req *http.Request) {
		var body struct {
			ID         string         `json:"id"`
			SourcePath string         `json:"source_path"`
			Tier       model.Tier     `json:"tier"`
			Priority   model.Priority `json:"priority"`
			Hints      model.Hints    `json:"hints"`
		}
		if err := json.NewDecoder(req.Body).Decode(&body); err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid request body"})
			return
		}
		if body.SourcePath == "" {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "source_path is required"})
			return
		}
		if body.Tier == "" {
			body.Tier = model.TierCommon
		}
		if !body.Tier.Valid() {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": fmt.Sprintf("invalid tier %q", body.Tier)})
			return
		}
		if body.ID == "" {
			body.ID = uuid.NewString()
		}
		if body.Priority == "" {
			body.Priority = model.PriorityNormal
		}

		item := model.WorkItem{
			ID:         body.ID,
			SourcePath: body.SourcePath,
			Priority:   body.Priority,
			Tier:       body.Tier,
			Hints:      body.Hints,
			CreatedAt:  time.Now().UTC(),
		}

		if err := q.Enqueue(item); err != nil {
			if errors.Is(err, queue.ErrQueueFull) {
				writeJSON(w, http.StatusTooManyRequests, map[string]string{"error": "queue is full"})
				return
			}
			writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "enqueue failed"})
			return
		}

		writeJSON(w, http.StatusAccepted, map[string]string{
			"status":  "queued",
			"item_id": item.ID,
		})
	})

	r.Get("/metrics", func(w http.ResponseWriter, req *http.Request) {
		snap, err := collector.Collect(req.Context(), lookbackHours)
		if err != nil {
			zap.L().Error("metrics collection failed", zap.Error(err))
			writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "metrics collection failed"})
			return
		}
		writeJSON(w, http.StatusOK, snap)
	})

	return r
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}
