package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"trc20-custody-go/internal/api"
	"trc20-custody-go/internal/common"
	"trc20-custody-go/internal/config"
	"trc20-custody-go/internal/scanner"
	"trc20-custody-go/internal/sweep"
	"trc20-custody-go/internal/wallet"
	"trc20-custody-go/internal/withdrawal"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		_, _ = zap.NewProduction()
		zap.L().Fatal("Failed to load configuration", zap.Error(err))
	}

	_, loggerCleanup := common.InitializeLogger()
	defer loggerCleanup()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	zap.L().Info("Starting custody server")

	services, err := common.InitializeServices(ctx, *cfg)
	if err != nil {
		zap.L().Fatal("Failed to initialize services", zap.Error(err))
	}
	defer services.Close()

	pool := wallet.NewPool(services.DB, services.Vault, cfg.Vault)
	if err := pool.EnsureSeeded(ctx); err != nil {
		zap.L().Fatal("Failed to seed wallet pool", zap.Error(err))
	}

	sc := scanner.New(services.DB, services.Chain, services.Redis, cfg.Scanner, cfg.Token.ContractAddress)
	if err := sc.Start(ctx); err != nil {
		zap.L().Fatal("Failed to start deposit scanner", zap.Error(err))
	}
	defer sc.Stop()

	sw := sweep.New(services.DB, services.Chain, services.Vault, cfg.Sweep, cfg.Token.ContractAddress)
	sw.Start(ctx)
	defer sw.Stop()

	// Nudge the sweeper as deposits confirm instead of waiting for
	// its ticker.
	go func() {
		for range sc.Confirmed() {
			sw.Trigger()
		}
	}()

	wf := withdrawal.New(services.DB, services.Chain, services.Vault, cfg.Withdrawal, cfg.Token.ContractAddress)
	if _, err := wf.RecoverInFlight(ctx); err != nil {
		zap.L().Error("Failed to check for in-flight withdrawals", zap.Error(err))
	}

	server := api.NewServer(cfg.API, services.DB, pool, sc, sw, wf, cfg.Token.Decimals)

	errCh := make(chan error, 1)
	go func() { errCh <- server.Start() }()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		zap.L().Info("Shutdown signal received", zap.String("signal", sig.String()))
	case err := <-errCh:
		if err != nil {
			zap.L().Error("HTTP server failed", zap.Error(err))
		}
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer shutdownCancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		zap.L().Warn("HTTP shutdown incomplete", zap.Error(err))
	}

	zap.L().Info("Custody server stopped")
}
