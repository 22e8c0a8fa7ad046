// Command balances prints every user's points balance and verifies
// each aggregate against its ledger entries.
package main

import (
	"context"
	"flag"
	"fmt"

	"go.uber.org/zap"

	"trc20-custody-go/internal/common"
	"trc20-custody-go/internal/config"
)

func main() {
	reconcile := flag.Bool("reconcile", false, "Recompute every balance from the ledger and flag mismatches")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		_, _ = zap.NewProduction()
		zap.L().Fatal("Failed to load configuration", zap.Error(err))
	}

	_, loggerCleanup := common.InitializeLogger()
	defer loggerCleanup()

	ctx := context.Background()
	services, err := common.InitializeServices(ctx, *cfg)
	if err != nil {
		zap.L().Fatal("Failed to initialize services", zap.Error(err))
	}
	defer services.Close()

	users, err := services.DB.GetAllUsers(ctx)
	if err != nil {
		zap.L().Fatal("Failed to list users", zap.Error(err))
	}

	decimals := cfg.Token.Decimals
	mismatches := 0
	for _, u := range users {
		balance, err := services.DB.GetBalance(ctx, u.Id)
		if err != nil {
			zap.L().Fatal("Failed to read balance", zap.String("user_id", u.Id), zap.Error(err))
		}

		status := ""
		if *reconcile {
			if _, err := services.DB.ReconcileBalance(ctx, u.Id); err != nil {
				status = "  MISMATCH: " + err.Error()
				mismatches++
			} else {
				status = "  ok"
			}
		}

		address := u.WalletAddress
		if address == "" {
			address = "unassigned"
		}
		fmt.Printf("%-36s %-34s %16s (v%d)%s\n",
			u.Id, address,
			common.FormatRawAmount(balance.Balance, decimals),
			balance.Version, status)
	}

	total, err := services.DB.TotalBalance(ctx)
	if err != nil {
		zap.L().Fatal("Failed to sum balances", zap.Error(err))
	}
	fmt.Printf("\nUsers: %d  Total points: %s\n", len(users), common.FormatRawAmount(total, decimals))

	if *reconcile && mismatches > 0 {
		zap.L().Fatal("Ledger reconciliation found mismatches", zap.Int("count", mismatches))
	}
}
