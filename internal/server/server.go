package server

import (
	"context"
	"net"
	"net/http"
	"time"

	"github.com/bytedance/sonic"

	"github.com/brianpgerson/claude-moneymaker/internal/logger"
	"github.com/brianpgerson/claude-moneymaker/internal/model"
)

// StatusSource is the read-only view the status endpoints expose.
type StatusSource interface {
	LastSummary() model.CycleSummary
}

// AllocationSource reports per-strategy capital weights.
type AllocationSource interface {
	Allocations() map[string]float64
}

// OrderSource reads recent orders from the persistent store.
type OrderSource interface {
	OrderHistory(ctx context.Context, strategyName string, limit int) ([]model.Order, error)
}

type HTTPServer struct {
	s *http.Server
}

func NewHTTPServer(ctx context.Context, port string, handler http.Handler) *HTTPServer {
	return &HTTPServer{
		s: &http.Server{
			Handler:           handler,
			Addr:              ":" + port,
			ReadHeaderTimeout: 10 * time.Second,
			BaseContext: func(listener net.Listener) context.Context {
				return ctx
			},
		},
	}
}

func (s *HTTPServer) Start() error {
	return s.s.ListenAndServe()
}

func (s *HTTPServer) Shutdown(ctx context.Context) error {
	return s.s.Shutdown(ctx)
}

func (s *HTTPServer) Run(ctx context.Context) error {
	errCh := make(chan error)
	go func() {
		errCh <- s.Start()
	}()
	select {
	case <-ctx.Done():
		return s.Shutdown(ctx)
	case err := <-errCh:
		return err
	}
}

const _orderHistoryLimit = 100

// NewStatusHandler serves the bot's observable state as JSON.
func NewStatusHandler(status StatusSource, allocations AllocationSource, orders OrderSource, logger logger.Logger) http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	mux.HandleFunc("GET /api/status", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, status.LastSummary(), logger)
	})

	mux.HandleFunc("GET /api/portfolio", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, status.LastSummary().Portfolio, logger)
	})

	mux.HandleFunc("GET /api/strategies", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, allocations.Allocations(), logger)
	})

	mux.HandleFunc("GET /api/orders", func(w http.ResponseWriter, r *http.Request) {
		history, err := orders.OrderHistory(r.Context(), r.URL.Query().Get("strategy"), _orderHistoryLimit)
		if err != nil {
			logger.Errorf("%s: can't load order history", err)
			http.Error(w, "internal error", http.StatusInternalServerError)
			return
		}
		writeJSON(w, history, logger)
	})

	return mux
}

func writeJSON(w http.ResponseWriter, v any, logger logger.Logger) {
	body, err := sonic.Marshal(v)
	if err != nil {
		logger.Errorf("%s: can't marshal response", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	if _, err := w.Write(body); err != nil {
		logger.Warnf("%s: can't write response", err)
	}
}
