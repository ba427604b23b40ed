// Package web exposes read-only HTTP status endpoints for strategies
// and pool snapshots.
package web

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/pkg/errors"
	"go.uber.org/zap"

	"tidepool/internal/domain"
)

type strategyReader interface {
	Strategies() []*domain.DCAStrategy
	Records(strategyID string) []domain.ExecutionRecord
}

type poolReader interface {
	State(ctx context.Context, id domain.PoolID) (*domain.Pool, error)
}

// Server serves JSON status endpoints. It is read-only: mutations go
// through the services, never through HTTP.
type Server struct {
	addr       string
	strategies strategyReader
	pools      poolReader
	l          *zap.Logger
}

// NewServer creates a status server.
func NewServer(addr string, strategies strategyReader, pools poolReader, l *zap.Logger) *Server {
	if l == nil {
		l = zap.NewNop()
	}
	return &Server{addr: addr, strategies: strategies, pools: pools, l: l}
}

// Start runs the HTTP server and shuts it down when ctx is cancelled.
func (s *Server) Start(ctx context.Context) error {
	mux := http.NewServeMux()
	mux.HandleFunc("/strategies", s.handleStrategies)
	mux.HandleFunc("/executions", s.handleExecutions)
	mux.HandleFunc("/pool", s.handlePool)

	server := &http.Server{
		Addr:              s.addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = server.Shutdown(shutdownCtx)
	}()

	s.l.Info("status server listening", zap.String("addr", s.addr))
	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Server) handleStrategies(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.strategies.Strategies())
}

func (s *Server) handleExecutions(w http.ResponseWriter, r *http.Request) {
	id := r.URL.Query().Get("strategy")
	if id == "" {
		http.Error(w, "strategy query parameter is required", http.StatusBadRequest)
		return
	}
	writeJSON(w, http.StatusOK, s.strategies.Records(id))
}

func (s *Server) handlePool(w http.ResponseWriter, r *http.Request) {
	id := r.URL.Query().Get("id")
	if id == "" {
		http.Error(w, "id query parameter is required", http.StatusBadRequest)
		return
	}
	pool, err := s.pools.State(r.Context(), domain.PoolID(id))
	if err != nil {
		if errors.Is(err, domain.ErrPoolNotFound) {
			http.Error(w, "pool not found", http.StatusNotFound)
			return
		}
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, pool)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
