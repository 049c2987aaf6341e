package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"github.com/comigor/chatvault/internal/enrich"
	"github.com/comigor/chatvault/internal/history"
	"github.com/comigor/chatvault/internal/ingest"
	"github.com/comigor/chatvault/internal/logger"
)

type ingestRunner interface {
	Run(ctx context.Context, path string) (ingest.Summary, error)
}

type enrichRunner interface {
	Run(ctx context.Context) (enrich.Report, error)
}

type conversationLister interface {
	ListAll(ctx context.Context) ([]history.Conversation, error)
}

// server exposes ingestion and enrichment over HTTP. Enrichment runs in the
// background; at most one run is active.
type server struct {
	ingester ingestRunner
	enricher enrichRunner
	store    conversationLister

	// base is the lifetime of background runs.
	base context.Context

	enrichMu sync.Mutex
	wg       sync.WaitGroup

	stateMu    sync.Mutex
	running    bool
	lastReport *enrich.Report
	lastErr    string
}

type enrichStatus struct {
	Running bool           `json:"running"`
	Report  *enrich.Report `json:"report,omitempty"`
	Error   string         `json:"error,omitempty"`
}

func (s *server) routes() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /ingest", s.handleIngest)
	mux.HandleFunc("POST /enrich", s.handleEnrichStart)
	mux.HandleFunc("GET /enrich", s.handleEnrichStatus)
	mux.HandleFunc("GET /conversations", s.handleConversations)
	mux.Handle("GET /metrics", promhttp.Handler())
	return mux
}

func (s *server) handleIngest(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Path string `json:"path"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil || body.Path == "" {
		http.Error(w, `expected {"path": "<export.zip>"}`, http.StatusBadRequest)
		return
	}
	logger.L.Info("ingest request", "path", body.Path)

	sum, err := s.ingester.Run(r.Context(), body.Path)
	if err != nil {
		logger.L.Error("ingest error", "err", err, "path", body.Path)
		http.Error(w, err.Error(), http.StatusUnprocessableEntity)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"run_id":        sum.RunID,
		"total":         sum.Total,
		"skipped":       sum.Skipped,
		"earliest_year": sum.EarliestYear,
		"latest_year":   sum.LatestYear,
	})
}

func (s *server) handleEnrichStart(w http.ResponseWriter, r *http.Request) {
	if !s.enrichMu.TryLock() {
		http.Error(w, enrich.ErrRunInProgress.Error(), http.StatusConflict)
		return
	}
	s.stateMu.Lock()
	s.running = true
	s.lastErr = ""
	s.stateMu.Unlock()

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer s.enrichMu.Unlock()

		report, err := s.enricher.Run(s.base)

		s.stateMu.Lock()
		defer s.stateMu.Unlock()
		s.running = false
		s.lastReport = &report
		if err != nil {
			logger.L.Error("enrichment failed", "err", err)
			s.lastErr = err.Error()
		}
	}()

	writeJSON(w, http.StatusAccepted, enrichStatus{Running: true})
}

func (s *server) handleEnrichStatus(w http.ResponseWriter, r *http.Request) {
	s.stateMu.Lock()
	status := enrichStatus{Running: s.running, Report: s.lastReport, Error: s.lastErr}
	s.stateMu.Unlock()
	writeJSON(w, http.StatusOK, status)
}

func (s *server) handleConversations(w http.ResponseWriter, r *http.Request) {
	convs, err := s.store.ListAll(r.Context())
	if err != nil {
		logger.L.Error("list error", "err", err)
		http.Error(w, "failed to list conversations", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, filterByLabel(convs, r.URL.Query().Get("label")))
}

// wait blocks until a background run started by this server has returned.
func (s *server) wait() {
	s.wg.Wait()
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logger.L.Warn("write response error", "err", err)
	}
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve ingestion, enrichment and metrics over HTTP",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		a, err := openApp(cfg)
		if err != nil {
			return err
		}
		defer a.Close()

		s := &server{
			ingester: a.ingester(),
			enricher: a.orchestrator(),
			store:    a.store,
			base:     ctx,
		}

		serverAddr := fmt.Sprintf("%s:%s", cfg.Server.Host, cfg.Server.Port)
		srv := &http.Server{
			Addr:              serverAddr,
			Handler:           s.routes(),
			ReadHeaderTimeout: 10 * time.Second,
		}

		errCh := make(chan error, 1)
		go func() {
			logger.L.Info("starting server", "address", serverAddr)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				errCh <- err
			}
			close(errCh)
		}()

		select {
		case err := <-errCh:
			if err != nil {
				return fmt.Errorf("failed to start server: %w", err)
			}
		case <-ctx.Done():
		}

		logger.L.Info("shutting down server")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		err = srv.Shutdown(shutdownCtx)
		s.wait()
		return err
	},
}

func init() {
	rootCmd.AddCommand(serveCmd)
}
