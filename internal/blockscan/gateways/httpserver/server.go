package httpserver

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/haukened/rr-blockscan/internal/blockscan/common/clock"
	"github.com/haukened/rr-blockscan/internal/blockscan/common/log"
	"github.com/haukened/rr-blockscan/internal/blockscan/domain"
)

const shutdownTimeout = 5 * time.Second

// SnapshotSource exposes the stored snapshot for health reporting.
type SnapshotSource interface {
	Snapshot(ctx context.Context) (domain.Snapshot, bool, error)
}

// Server serves /metrics and /healthz.
type Server struct {
	source SnapshotSource
	clock  clock.Clock
	logger log.Logger
	server *http.Server
}

type healthResponse struct {
	Status     string  `json:"status"`
	Revision   string  `json:"revision,omitempty"`
	FilterHash string  `json:"filterHash,omitempty"`
	AgeSeconds float64 `json:"ageSeconds,omitempty"`
	Error      string  `json:"error,omitempty"`
}

// New builds a server for addr. collectors are served on /metrics next to the
// process-wide default registry.
func New(addr string, source SnapshotSource, clk clock.Clock, logger log.Logger, collectors ...prometheus.Collector) *Server {
	if clk == nil {
		clk = clock.RealClock{}
	}
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors...)
	gatherers := prometheus.Gatherers{prometheus.DefaultGatherer, reg}

	mux := http.NewServeMux()
	s := &Server{
		source: source,
		clock:  clk,
		logger: log.OrNoop(logger),
		server: &http.Server{
			Addr:              addr,
			Handler:           mux,
			ReadHeaderTimeout: 5 * time.Second,
		},
	}
	mux.HandleFunc("/healthz", s.handleHealth)
	mux.Handle("/metrics", promhttp.HandlerFor(gatherers, promhttp.HandlerOpts{}))
	return s
}

// Handler returns the routing handler, for tests and embedding.
func (s *Server) Handler() http.Handler {
	return s.server.Handler
}

// Run serves until ctx is done, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		s.logger.Info(map[string]any{"address": s.server.Addr}, "metrics server listening")
		errCh <- s.server.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := s.server.Shutdown(shutdownCtx); err != nil {
		return err
	}
	if err := <-errCh; err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// handleHealth is healthy once a snapshot is stored.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	resp := healthResponse{Status: "ok"}
	status := http.StatusOK

	snap, ok, err := s.source.Snapshot(r.Context())
	switch {
	case err != nil:
		resp = healthResponse{Status: "error", Error: err.Error()}
		status = http.StatusServiceUnavailable
	case !ok:
		resp = healthResponse{Status: "missing"}
		status = http.StatusServiceUnavailable
	default:
		resp.Revision = snap.Revision
		resp.FilterHash = snap.FilterHash()
		resp.AgeSeconds = snap.Age(s.clock.Now()).Seconds()
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(resp); err != nil {
		s.logger.Warn(map[string]any{"error": err}, "failed to write health response")
	}
}
