// Package api exposes the custody service over HTTP: wallet
// assignment, balances and history for users, and the withdrawal
// review queue plus operational status for admins.
package api

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"trc20-custody-go/internal/database"
	"trc20-custody-go/internal/models"
	"trc20-custody-go/internal/scanner"
	"trc20-custody-go/internal/sweep"
	"trc20-custody-go/internal/wallet"
	"trc20-custody-go/internal/withdrawal"
)

type Server struct {
	db        *database.Service
	pool      *wallet.Pool
	scanner   *scanner.Scanner
	sweeper   *sweep.Sweeper
	workflow  *withdrawal.Workflow
	decimals  int
	jwtSecret string

	httpServer *http.Server
}

func NewServer(cfg models.APIConfig, db *database.Service, pool *wallet.Pool,
	sc *scanner.Scanner, sw *sweep.Sweeper, wf *withdrawal.Workflow, decimals int) *Server {

	s := &Server{
		db:        db,
		pool:      pool,
		scanner:   sc,
		sweeper:   sw,
		workflow:  wf,
		decimals:  decimals,
		jwtSecret: cfg.JWTSecret,
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(cfg.RequestTimeout))
	r.Use(requestLogger)

	r.Get("/healthz", s.handleHealth)

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(s.authenticate)

		r.Post("/wallet/address", s.handleAssignAddress)
		r.Get("/balance", s.handleBalance)
		r.Get("/transactions", s.handleTransactions)
		r.Post("/withdrawals", s.handleRequestWithdrawal)
		r.Get("/withdrawals", s.handleUserWithdrawals)

		r.Route("/admin", func(r chi.Router) {
			r.Use(s.requireAdmin)

			r.Get("/withdrawals/pending", s.handlePendingWithdrawals)
			r.Post("/withdrawals/{id}/approve", s.handleApproveWithdrawal)
			r.Post("/withdrawals/{id}/reject", s.handleRejectWithdrawal)
			r.Get("/scanner/status", s.handleScannerStatus)
			r.Get("/sweep/stats", s.handleSweepStats)
		})
	})

	s.httpServer = &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

func (s *Server) Start() error {
	zap.L().Info("HTTP server listening", zap.String("addr", s.httpServer.Addr))
	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

// Handler exposes the router for tests.
func (s *Server) Handler() http.Handler {
	return s.httpServer.Handler
}

func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		zap.L().Info("Request handled",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", ww.Status()),
			zap.Duration("duration", time.Since(start)))
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeSuccess(w, http.StatusOK, map[string]string{"status": "ok"})
}
