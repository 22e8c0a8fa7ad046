// Package sweep consolidates confirmed deposits from child addresses
// into the master wallet.
package sweep

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"trc20-custody-go/internal/chain"
	"trc20-custody-go/internal/database"
	"trc20-custody-go/internal/keyvault"
	"trc20-custody-go/internal/models"
)

// Sweeper moves confirmed deposits to the master address and credits
// the user's points ledger. Each deposit is handled independently: a
// failure leaves it CONFIRMED for the next pass, and the ledger credit
// is keyed on the deposit id so a replay can never double-credit.
type Sweeper struct {
	db       *database.Service
	client   chain.Client
	vault    *keyvault.Vault
	cfg      models.SweepConfig
	contract string

	trigger chan struct{}

	completed   atomic.Int64
	sweptAmount atomic.Int64

	stopOnce sync.Once
	stop     chan struct{}
	done     chan struct{}
}

func New(db *database.Service, client chain.Client, vault *keyvault.Vault, cfg models.SweepConfig, contract string) *Sweeper {
	return &Sweeper{
		db:       db,
		client:   client,
		vault:    vault,
		cfg:      cfg,
		contract: contract,
		trigger:  make(chan struct{}, 1),
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
	}
}

// Start runs the sweep loop until Stop or context cancellation.
func (s *Sweeper) Start(ctx context.Context) {
	go s.run(ctx)
}

func (s *Sweeper) Stop() {
	s.stopOnce.Do(func() { close(s.stop) })
	<-s.done
}

// Trigger requests an immediate pass, coalescing with any already
// queued. The scanner calls this when a deposit confirms.
func (s *Sweeper) Trigger() {
	select {
	case s.trigger <- struct{}{}:
	default:
	}
}

func (s *Sweeper) run(ctx context.Context) {
	defer close(s.done)

	ticker := time.NewTicker(s.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-s.stop:
			return
		case <-ticker.C:
		case <-s.trigger:
		}

		if err := s.SweepOnce(ctx); err != nil {
			zap.L().Error("Sweep pass failed", zap.Error(err))
		}
	}
}

// SweepOnce processes one batch of confirmed, unswept deposits.
func (s *Sweeper) SweepOnce(ctx context.Context) error {
	deposits, err := s.db.ConfirmedUnswept(ctx, s.cfg.BatchSize)
	if err != nil {
		return err
	}

	for _, d := range deposits {
		if err := s.sweepDeposit(ctx, d); err != nil {
			zap.L().Error("Unable to sweep deposit",
				zap.String("deposit_id", d.Id),
				zap.String("address", d.ToAddress),
				zap.Error(err))
			continue
		}
	}
	return nil
}

// sweepDeposit tops up gas if needed, transfers the exact deposited
// amount to the master address, then marks the deposit SWEPT and
// credits the user in one database transaction. The status guard on
// the mark and the deposit-id reference on the credit keep both
// single-shot under replays.
func (s *Sweeper) sweepDeposit(ctx context.Context, d models.DepositRecord) error {
	wallet, err := s.db.GetWalletByAddress(ctx, d.ToAddress)
	if err != nil {
		return fmt.Errorf("unknown sweep source %s: %w", d.ToAddress, err)
	}

	if err := s.ensureGas(ctx, d.ToAddress); err != nil {
		return err
	}

	child, err := s.vault.DeriveChild(uint32(wallet.DerivationIndex))
	if err != nil {
		return err
	}
	defer child.Zero()

	sweepTx, err := s.client.SendToken(ctx, child.PrivateKey, s.vault.MasterAddress(), d.RawAmount, s.contract)
	if err != nil {
		return fmt.Errorf("token transfer failed: %w", err)
	}

	if err := s.db.SettleSweptDeposit(ctx, d.Id, sweepTx); err != nil {
		if errors.Is(err, database.ErrInvalidState) {
			// Another pass already claimed it.
			return nil
		}
		return fmt.Errorf("settlement failed after sweep %s: %w", sweepTx, err)
	}

	s.completed.Add(1)
	s.sweptAmount.Add(d.RawAmount)

	zap.L().Info("Deposit swept",
		zap.String("deposit_id", d.Id),
		zap.String("sweep_tx", sweepTx),
		zap.String("user_id", d.UserId),
		zap.Int64("raw_amount", d.RawAmount))
	return nil
}

// ensureGas funds the child address with TRX for the token transfer's
// energy and bandwidth, waiting until the top-up is visible.
func (s *Sweeper) ensureGas(ctx context.Context, address string) error {
	balance, err := s.client.NativeBalance(ctx, address)
	if err != nil {
		return err
	}
	if balance >= s.cfg.MinGasSun {
		return nil
	}

	master, err := s.vault.MasterKey()
	if err != nil {
		return err
	}
	defer master.Zero()

	topupTx, err := s.client.SendNative(ctx, master.PrivateKey, address, s.cfg.GasTopupSun)
	if err != nil {
		return fmt.Errorf("gas top-up failed: %w", err)
	}

	zap.L().Info("Gas top-up sent",
		zap.String("address", address),
		zap.Int64("amount_sun", s.cfg.GasTopupSun),
		zap.String("tx_hash", topupTx))

	deadline := time.After(s.cfg.GasWaitTimeout)
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-deadline:
			return fmt.Errorf("gas top-up %s not visible after %v", topupTx, s.cfg.GasWaitTimeout)
		case <-time.After(s.cfg.GasPollInterval):
		}

		balance, err := s.client.NativeBalance(ctx, address)
		if err != nil {
			if chain.IsTransient(err) {
				continue
			}
			return err
		}
		if balance >= s.cfg.MinGasSun {
			return nil
		}
	}
}

// Stats reports sweep progress since process start plus the current
// backlog.
func (s *Sweeper) Stats(ctx context.Context) (*models.SweepStats, error) {
	pending, err := s.db.ConfirmedUnswept(ctx, 1000)
	if err != nil {
		return nil, err
	}
	return &models.SweepStats{
		PendingSweeps:    int64(len(pending)),
		CompletedSweeps:  s.completed.Load(),
		TotalSweptAmount: s.sweptAmount.Load(),
	}, nil
}
