package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"trc20-custody-go/internal/models"
)

// CreateWithdrawal locks the user's points and records the request in
// one transaction: the WITHDRAWAL debit and the PENDING row commit
// together or not at all.
func (s *Service) CreateWithdrawal(ctx context.Context, userId string, rawAmount int64, toAddress string) (*models.WithdrawalRequest, error) {
	if rawAmount <= 0 {
		return nil, fmt.Errorf("withdrawal amount must be positive, got %d", rawAmount)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	withdrawalId := uuid.New().String()
	if _, err := tx.ExecContext(ctx, queryInsertWithdrawal,
		withdrawalId, userId, rawAmount, toAddress); err != nil {
		return nil, fmt.Errorf("failed to insert withdrawal: %w", err)
	}

	_, err = s.applyEntry(ctx, tx, LedgerParams{
		UserId:      userId,
		EntryType:   models.EntryWithdrawal,
		Amount:      -rawAmount,
		ReferenceId: withdrawalId,
		Description: "withdrawal to " + toAddress,
	})
	if err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit withdrawal: %w", err)
	}

	zap.L().Info("Withdrawal requested",
		zap.String("withdrawal_id", withdrawalId),
		zap.String("user_id", userId),
		zap.Int64("raw_amount", rawAmount),
		zap.String("to_address", toAddress))

	return s.GetWithdrawal(ctx, withdrawalId)
}

func (s *Service) GetWithdrawal(ctx context.Context, id string) (*models.WithdrawalRequest, error) {
	var w models.WithdrawalRequest
	err := s.db.QueryRowContext(ctx, queryGetWithdrawalById, id).Scan(
		&w.Id, &w.UserId, &w.RawAmount, &w.ToAddress, &w.Status, &w.TxHash,
		&w.ApprovedBy, &w.RejectReason, &w.RequestedAt, &w.ProcessedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get withdrawal %s: %w", id, err)
	}
	return &w, nil
}

func (s *Service) PendingWithdrawals(ctx context.Context) ([]models.WithdrawalRequest, error) {
	return s.queryWithdrawals(ctx, queryWithdrawalsByStatus, models.WithdrawalPending)
}

// InFlightWithdrawals returns requests stuck in BROADCASTING, meaning
// the process may have died between broadcast and settlement.
func (s *Service) InFlightWithdrawals(ctx context.Context) ([]models.WithdrawalRequest, error) {
	return s.queryWithdrawals(ctx, queryWithdrawalsByStatus, models.WithdrawalBroadcasting)
}

func (s *Service) UserWithdrawals(ctx context.Context, userId string, limit, offset int) ([]models.WithdrawalRequest, error) {
	return s.queryWithdrawals(ctx, queryUserWithdrawals, userId, limit, offset)
}

// MarkWithdrawalBroadcasting claims a PENDING request for broadcast.
// The guard on status makes the claim exclusive: a second approver
// gets ErrInvalidState.
func (s *Service) MarkWithdrawalBroadcasting(ctx context.Context, id, adminId string) error {
	return s.transition(ctx, queryMarkWithdrawalBroadcasting, adminId, id)
}

// ApproveWithdrawal records the broadcast transaction hash.
func (s *Service) ApproveWithdrawal(ctx context.Context, id, txHash string) error {
	return s.transition(ctx, queryApproveWithdrawal, txHash, id)
}

func (s *Service) CompleteWithdrawal(ctx context.Context, id string) error {
	return s.transition(ctx, queryCompleteWithdrawal, id)
}

// FailWithdrawal marks a broadcast-phase request FAILED and refunds the
// locked points, atomically. Only call after the transfer is known not
// to have settled on chain.
func (s *Service) FailWithdrawal(ctx context.Context, id, reason string) error {
	return s.settleWithRefund(ctx, id, func(tx *sql.Tx) (sql.Result, error) {
		return tx.ExecContext(ctx, queryFailWithdrawal, reason, id)
	})
}

// RejectWithdrawal declines a PENDING request and refunds the locked
// points, atomically.
func (s *Service) RejectWithdrawal(ctx context.Context, id, adminId, reason string) error {
	return s.settleWithRefund(ctx, id, func(tx *sql.Tx) (sql.Result, error) {
		return tx.ExecContext(ctx, queryRejectWithdrawal, adminId, reason, id)
	})
}

func (s *Service) settleWithRefund(ctx context.Context, id string, update func(*sql.Tx) (sql.Result, error)) error {
	w, err := s.GetWithdrawal(ctx, id)
	if err != nil {
		return err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	res, err := update(tx)
	if err != nil {
		return fmt.Errorf("failed to update withdrawal %s: %w", id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrInvalidState
	}

	_, err = s.applyEntry(ctx, tx, LedgerParams{
		UserId:      w.UserId,
		EntryType:   models.EntryRefund,
		Amount:      w.RawAmount,
		ReferenceId: w.Id,
		Description: "refund for withdrawal " + w.Id,
	})
	if err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit withdrawal settlement: %w", err)
	}

	zap.L().Info("Withdrawal settled with refund",
		zap.String("withdrawal_id", id),
		zap.String("user_id", w.UserId),
		zap.Int64("refunded", w.RawAmount))
	return nil
}

func (s *Service) transition(ctx context.Context, query string, args ...any) error {
	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("failed to update withdrawal: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrInvalidState
	}
	return nil
}

func (s *Service) queryWithdrawals(ctx context.Context, query string, args ...any) ([]models.WithdrawalRequest, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query withdrawals: %w", err)
	}
	defer rows.Close()

	var withdrawals []models.WithdrawalRequest
	for rows.Next() {
		var w models.WithdrawalRequest
		if err := rows.Scan(&w.Id, &w.UserId, &w.RawAmount, &w.ToAddress,
			&w.Status, &w.TxHash, &w.ApprovedBy, &w.RejectReason,
			&w.RequestedAt, &w.ProcessedAt); err != nil {
			return nil, fmt.Errorf("failed to scan withdrawal row: %w", err)
		}
		withdrawals = append(withdrawals, w)
	}
	return withdrawals, rows.Err()
}
