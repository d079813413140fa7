package web

import (
	"context"
	"fmt"
	"net/http"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/omnex/crypto_trade_engine/internal/domain"
	"github.com/omnex/crypto_trade_engine/internal/usecase"
)

// Server exposes the read-only status surface: engine snapshot, positions,
// ledger, trade history, health and prometheus metrics.
type Server struct {
	router    *http.ServeMux
	server    *http.Server
	engine    *usecase.Engine
	tradeRepo domain.TradeRepository
	logger    *zap.Logger
}

func NewServer(port int, engine *usecase.Engine, tradeRepo domain.TradeRepository, logger *zap.Logger) *Server {
	s := &Server{
		router:    http.NewServeMux(),
		engine:    engine,
		tradeRepo: tradeRepo,
		logger:    logger,
	}
	s.routes()
	s.server = &http.Server{
		Addr:    fmt.Sprintf(":%d", port),
		Handler: s.router,
	}
	return s
}

func (s *Server) routes() {
	s.router.HandleFunc("GET /api/status", s.handleStatus)
	s.router.HandleFunc("GET /api/positions", s.handlePositions)
	s.router.HandleFunc("GET /api/ledger", s.handleLedger)
	s.router.HandleFunc("GET /api/history", s.handleHistory)
	s.router.HandleFunc("GET /healthz", s.handleHealthz)
	s.router.Handle("GET /metrics", promhttp.Handler())
}

// Handler exposes the route table for embedding and tests.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) Start() error {
	s.logger.Info("starting status server", zap.String("addr", s.server.Addr))
	if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.server.Shutdown(ctx)
}
