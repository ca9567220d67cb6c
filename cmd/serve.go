package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/insight-cli/internal/model"
	"github.com/sells-group/insight-cli/internal/monitoring"
	"github.com/sells-group/insight-cli/internal/pipeline"
	"github.com/sells-group/insight-cli/internal/resilience"
	"github.com/sells-group/insight-cli/internal/store"
)

const (
	maxBodyBytes   = 1 << 20
	requestTimeout = 5 * time.Minute
)

var servePort int

// analyzer is the pipeline surface the API needs.
type analyzer interface {
	Analyze(ctx context.Context, q model.Query) *model.AnalysisResult
	Stats() pipeline.Stats
}

type sourceLister interface {
	ListSources(ctx context.Context, scope string) ([]model.SourceDescriptor, error)
}

type breakerReporter interface {
	Breakers() []resilience.Snapshot
}

type runReader interface {
	GetRun(ctx context.Context, id string) (*model.Run, error)
	ListRuns(ctx context.Context, filter store.RunFilter) ([]model.Run, error)
}

// apiDeps are the collaborators behind the HTTP routes. Nil members make
// their routes answer 503.
type apiDeps struct {
	Analyzer    analyzer
	Sources     sourceLister
	Runs        runReader
	Breakers    breakerReporter
	Metrics     http.Handler
	CORSOrigins []string
}

type analyzeRequest struct {
	Query     string            `json:"query"`
	Depth     string            `json:"depth"`
	Workspace string            `json:"workspace"`
	Hints     map[string]string `json:"hints"`
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP analysis API",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		env, err := initPipeline(ctx, "serve")
		if err != nil {
			return err
		}
		defer env.Close()

		if cfg.Monitoring.Enabled() {
			checker := monitoring.NewChecker(
				monitoring.NewCollector(env.Store),
				monitoring.NewAlerter(cfg.Monitoring),
				cfg.Monitoring,
				monitoring.WithBreakerSource(env.Catalog),
			)
			go checker.Run(ctx)
		}

		router := newRouter(apiDeps{
			Analyzer:    env.Pipeline,
			Sources:     env.Catalog,
			Runs:        env.Store,
			Breakers:    env.Catalog,
			Metrics:     env.Metrics.Handler(),
			CORSOrigins: cfg.Server.CORSOrigins,
		})

		port := servePort
		if port == 0 {
			port = cfg.Server.Port
		}

		srv := &http.Server{
			Addr:              fmt.Sprintf(":%d", port),
			Handler:           router,
			ReadHeaderTimeout: 10 * time.Second,
		}

		// Graceful shutdown
		go func() {
			<-ctx.Done()
			zap.L().Info("shutting down server")
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
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

// newRouter builds the API routes.
func newRouter(d apiDeps) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(requestLogger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(requestTimeout))

	origins := d.CORSOrigins
	if len(origins) == 0 {
		origins = []string{"*"}
	}
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: origins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders: []string{"Accept", "Content-Type", "X-Request-ID"},
		MaxAge:         300,
	}))

	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	if d.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", d.Metrics)
	}

	r.Route("/api/v1", func(r chi.Router) {
		r.Post("/analyze", d.handleAnalyze)
		r.Get("/sources", d.handleSources)
		r.Get("/runs", d.handleListRuns)
		r.Get("/runs/{id}", d.handleGetRun)
		r.Get("/stats", d.handleStats)
		r.Get("/breakers", d.handleBreakers)
	})

	return r
}

func (d apiDeps) handleAnalyze(w http.ResponseWriter, r *http.Request) {
	if d.Analyzer == nil {
		writeError(w, http.StatusServiceUnavailable, "analysis is not configured")
		return
	}

	var req analyzeRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	q, msg := req.toQuery()
	if msg != "" {
		writeError(w, http.StatusBadRequest, msg)
		return
	}

	res := d.Analyzer.Analyze(r.Context(), q)
	writeJSON(w, http.StatusOK, res)
}

// toQuery validates the request. A non-empty message describes why it was
// rejected.
func (req analyzeRequest) toQuery() (model.Query, string) {
	text := strings.TrimSpace(req.Query)
	if text == "" {
		return model.Query{}, "query is required"
	}

	var depth model.Depth
	if req.Depth != "" {
		d, ok := model.ParseDepth(req.Depth)
		if !ok {
			return model.Query{}, fmt.Sprintf("unknown depth %q", req.Depth)
		}
		depth = d
	}

	hints := req.Hints
	if req.Workspace != "" {
		if hints == nil {
			hints = make(map[string]string, 1)
		}
		hints[model.HintWorkspace] = req.Workspace
	}
	return model.NewQuery(text, depth, hints), ""
}

func (d apiDeps) handleSources(w http.ResponseWriter, r *http.Request) {
	if d.Sources == nil {
		writeError(w, http.StatusServiceUnavailable, "catalog is not configured")
		return
	}
	sources, err := d.Sources.ListSources(r.Context(), r.URL.Query().Get("workspace"))
	if err != nil {
		zap.L().Warn("serve: list sources failed", zap.Error(err))
		writeError(w, http.StatusBadGateway, "catalog unavailable")
		return
	}
	if sources == nil {
		sources = []model.SourceDescriptor{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"sources": sources, "count": len(sources)})
}

func (d apiDeps) handleListRuns(w http.ResponseWriter, r *http.Request) {
	if d.Runs == nil {
		writeError(w, http.StatusServiceUnavailable, "run history is not configured")
		return
	}

	filter := store.RunFilter{
		Status: model.RunStatus(r.URL.Query().Get("status")),
		Intent: model.Intent(r.URL.Query().Get("intent")),
	}
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			writeError(w, http.StatusBadRequest, "limit must be a non-negative integer")
			return
		}
		filter.Limit = n
	}
	if v := r.URL.Query().Get("offset"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			writeError(w, http.StatusBadRequest, "offset must be a non-negative integer")
			return
		}
		filter.Offset = n
	}

	runs, err := d.Runs.ListRuns(r.Context(), filter)
	if err != nil {
		zap.L().Error("serve: list runs failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to list runs")
		return
	}
	if runs == nil {
		runs = []model.Run{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"runs": runs, "count": len(runs)})
}

func (d apiDeps) handleGetRun(w http.ResponseWriter, r *http.Request) {
	if d.Runs == nil {
		writeError(w, http.StatusServiceUnavailable, "run history is not configured")
		return
	}
	id := chi.URLParam(r, "id")
	run, err := d.Runs.GetRun(r.Context(), id)
	if errors.Is(err, store.ErrNotFound) {
		writeError(w, http.StatusNotFound, "run not found")
		return
	}
	if err != nil {
		zap.L().Error("serve: get run failed", zap.String("run_id", id), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to load run")
		return
	}
	writeJSON(w, http.StatusOK, run)
}

func (d apiDeps) handleStats(w http.ResponseWriter, _ *http.Request) {
	if d.Analyzer == nil {
		writeError(w, http.StatusServiceUnavailable, "analysis is not configured")
		return
	}
	writeJSON(w, http.StatusOK, d.Analyzer.Stats())
}

func (d apiDeps) handleBreakers(w http.ResponseWriter, _ *http.Request) {
	var snaps []resilience.Snapshot
	if d.Breakers != nil {
		snaps = d.Breakers.Breakers()
	}
	if snaps == nil {
		snaps = []resilience.Snapshot{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"breakers": snaps})
}

func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		zap.L().Debug("serve: request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", ww.Status()),
			zap.String("request_id", middleware.GetReqID(r.Context())),
			zap.Int64("duration_ms", time.Since(start).Milliseconds()),
		)
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		zap.L().Debug("serve: encode response", zap.Error(err))
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
