// Package withdrawal implements the admin-approved flow that moves
// points back on chain from the master wallet.
package withdrawal

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"trc20-custody-go/internal/chain"
	"trc20-custody-go/internal/database"
	"trc20-custody-go/internal/keyvault"
	"trc20-custody-go/internal/models"
)

// ErrValidation marks rejections of the request itself: bad address,
// amount below the minimum. Callers map it to a 400.
var ErrValidation = errors.New("invalid withdrawal request")

type Workflow struct {
	db       *database.Service
	client   chain.Client
	vault    *keyvault.Vault
	cfg      models.WithdrawalConfig
	contract string
}

func New(db *database.Service, client chain.Client, vault *keyvault.Vault, cfg models.WithdrawalConfig, contract string) *Workflow {
	return &Workflow{
		db:       db,
		client:   client,
		vault:    vault,
		cfg:      cfg,
		contract: contract,
	}
}

// Request validates and records a withdrawal, locking the points up
// front. Insufficient balance surfaces as database.ErrInsufficientBalance.
func (w *Workflow) Request(ctx context.Context, userId string, rawAmount int64, toAddress string) (*models.WithdrawalRequest, error) {
	if rawAmount < w.cfg.MinAmount {
		return nil, fmt.Errorf("%w: amount %d below minimum %d", ErrValidation, rawAmount, w.cfg.MinAmount)
	}
	canonical, err := keyvault.NormalizeAddress(toAddress)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrValidation, err)
	}
	if canonical == w.vault.MasterAddress() {
		return nil, fmt.Errorf("%w: cannot withdraw to the custody wallet", ErrValidation)
	}

	return w.db.CreateWithdrawal(ctx, userId, rawAmount, canonical)
}

// Approve broadcasts an admin-approved withdrawal. The request is
// moved to BROADCASTING before the transfer leaves the process, so a
// crash mid-broadcast is visible on restart instead of silently
// re-sending. An ambiguous broadcast error leaves the request in
// BROADCASTING for operator review; only a verified failure refunds.
func (w *Workflow) Approve(ctx context.Context, withdrawalId, adminId string) (*models.WithdrawalRequest, error) {
	req, err := w.db.GetWithdrawal(ctx, withdrawalId)
	if err != nil {
		return nil, err
	}

	if err := w.db.MarkWithdrawalBroadcasting(ctx, withdrawalId, adminId); err != nil {
		return nil, err
	}

	master, err := w.vault.MasterKey()
	if err != nil {
		// Nothing went on chain; safe to fail and refund.
		if failErr := w.db.FailWithdrawal(ctx, withdrawalId, "key unavailable"); failErr != nil {
			zap.L().Error("Unable to fail withdrawal after key error",
				zap.String("withdrawal_id", withdrawalId), zap.Error(failErr))
		}
		return nil, err
	}
	defer master.Zero()

	txHash, err := w.client.SendToken(ctx, master.PrivateKey, req.ToAddress, req.RawAmount, w.contract)
	if err != nil {
		if chain.IsTransient(err) {
			zap.L().Error("Withdrawal broadcast outcome unknown, leaving in BROADCASTING",
				zap.String("withdrawal_id", withdrawalId),
				zap.Error(err))
			return nil, err
		}
		// The node rejected the transaction before accepting it.
		if failErr := w.db.FailWithdrawal(ctx, withdrawalId, err.Error()); failErr != nil {
			zap.L().Error("Unable to fail rejected withdrawal",
				zap.String("withdrawal_id", withdrawalId), zap.Error(failErr))
		}
		return nil, err
	}

	if err := w.db.ApproveWithdrawal(ctx, withdrawalId, txHash); err != nil {
		return nil, err
	}
	if err := w.db.CompleteWithdrawal(ctx, withdrawalId); err != nil {
		return nil, err
	}

	zap.L().Info("Withdrawal completed",
		zap.String("withdrawal_id", withdrawalId),
		zap.String("user_id", req.UserId),
		zap.String("tx_hash", txHash),
		zap.Int64("raw_amount", req.RawAmount))

	return w.db.GetWithdrawal(ctx, withdrawalId)
}

// Reject declines a PENDING request and refunds the locked points.
func (w *Workflow) Reject(ctx context.Context, withdrawalId, adminId, reason string) (*models.WithdrawalRequest, error) {
	if err := w.db.RejectWithdrawal(ctx, withdrawalId, adminId, reason); err != nil {
		return nil, err
	}

	zap.L().Info("Withdrawal rejected",
		zap.String("withdrawal_id", withdrawalId),
		zap.String("admin_id", adminId),
		zap.String("reason", reason))

	return w.db.GetWithdrawal(ctx, withdrawalId)
}

// RecoverInFlight reports withdrawals left in BROADCASTING by a crash.
// They need an operator to check the chain before refunding or
// completing; no automatic action is taken.
func (w *Workflow) RecoverInFlight(ctx context.Context) ([]models.WithdrawalRequest, error) {
	stuck, err := w.db.InFlightWithdrawals(ctx)
	if err != nil {
		return nil, err
	}
	for _, req := range stuck {
		zap.L().Warn("Withdrawal stuck in BROADCASTING, needs manual review",
			zap.String("withdrawal_id", req.Id),
			zap.String("user_id", req.UserId),
			zap.Int64("raw_amount", req.RawAmount))
	}
	return stuck, nil
}

// ResolveInFlight settles a stuck withdrawal after an operator has
// checked the chain: completed=true records the hash and finishes it,
// completed=false refunds.
func (w *Workflow) ResolveInFlight(ctx context.Context, withdrawalId, txHash string, completed bool) error {
	if completed {
		if txHash == "" {
			return fmt.Errorf("%w: completion requires the transaction hash", ErrValidation)
		}
		if err := w.db.ApproveWithdrawal(ctx, withdrawalId, txHash); err != nil {
			return err
		}
		return w.db.CompleteWithdrawal(ctx, withdrawalId)
	}
	return w.db.FailWithdrawal(ctx, withdrawalId, "broadcast not found on chain")
}
