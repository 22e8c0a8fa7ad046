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

// LedgerParams describes one points movement. Amount is signed: a
// credit is positive, a debit negative. ReferenceId, when set, is the
// idempotency key for the (EntryType, ReferenceId) pair.
type LedgerParams struct {
	UserId         string
	EntryType      models.EntryType
	Amount         int64
	ReferenceId    string
	CounterpartyId string
	Description    string
}

// Credit adds points to a user's balance.
func (s *Service) Credit(ctx context.Context, params LedgerParams) (*models.LedgerEntry, error) {
	if params.Amount <= 0 {
		return nil, fmt.Errorf("credit amount must be positive, got %d", params.Amount)
	}
	return s.applySingle(ctx, params)
}

// Debit removes points from a user's balance. The amount passed in is
// positive; the stored entry carries it negated.
func (s *Service) Debit(ctx context.Context, params LedgerParams) (*models.LedgerEntry, error) {
	if params.Amount <= 0 {
		return nil, fmt.Errorf("debit amount must be positive, got %d", params.Amount)
	}
	params.Amount = -params.Amount
	return s.applySingle(ctx, params)
}

func (s *Service) applySingle(ctx context.Context, params LedgerParams) (*models.LedgerEntry, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	entry, err := s.applyEntry(ctx, tx, params)
	if err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit transaction: %w", err)
	}

	zap.L().Info("Ledger entry applied",
		zap.String("entry_id", entry.Id),
		zap.String("user_id", entry.UserId),
		zap.String("type", string(entry.EntryType)),
		zap.Int64("amount", entry.Amount),
		zap.Int64("balance_after", entry.BalanceAfter))
	return entry, nil
}

// P2PTransfer moves points between two users atomically: the sender's
// debit and the receiver's credit either both land or neither does.
func (s *Service) P2PTransfer(ctx context.Context, fromUserId, toUserId string, amount int64, description string) error {
	if amount <= 0 {
		return fmt.Errorf("transfer amount must be positive, got %d", amount)
	}
	if fromUserId == toUserId {
		return fmt.Errorf("cannot transfer to self")
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	transferId := uuid.New().String()
	sendEntry, err := s.applyEntry(ctx, tx, LedgerParams{
		UserId:         fromUserId,
		EntryType:      models.EntryP2PSend,
		Amount:         -amount,
		ReferenceId:    transferId,
		CounterpartyId: toUserId,
		Description:    description,
	})
	if err != nil {
		return err
	}
	_, err = s.applyEntry(ctx, tx, LedgerParams{
		UserId:         toUserId,
		EntryType:      models.EntryP2PReceive,
		Amount:         amount,
		ReferenceId:    transferId,
		CounterpartyId: fromUserId,
		Description:    description,
	})
	if err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transfer: %w", err)
	}

	zap.L().Info("P2P transfer completed",
		zap.String("transfer_id", transferId),
		zap.String("from_user", fromUserId),
		zap.String("to_user", toUserId),
		zap.Int64("amount", amount),
		zap.Int64("sender_balance", sendEntry.BalanceAfter))
	return nil
}

// Purchase burns points against an order reference. A retried order id
// reports ErrDuplicateEntry without a second burn.
func (s *Service) Purchase(ctx context.Context, userId string, amount int64, orderId, description string) (*models.LedgerEntry, error) {
	if orderId == "" {
		return nil, fmt.Errorf("purchase requires an order id")
	}
	return s.Debit(ctx, LedgerParams{
		UserId:      userId,
		EntryType:   models.EntryPurchase,
		Amount:      amount,
		ReferenceId: orderId,
		Description: description,
	})
}

// applyEntry appends one ledger entry and moves the balance aggregate
// inside the caller's transaction. All statements run on tx: with a
// single SQLite connection a stray s.db call here would deadlock.
func (s *Service) applyEntry(ctx context.Context, tx *sql.Tx, params LedgerParams) (*models.LedgerEntry, error) {
	if params.UserId == "" {
		return nil, fmt.Errorf("ledger entry requires a user id")
	}

	if params.ReferenceId != "" {
		var existingId string
		err := tx.QueryRowContext(ctx, queryCheckDuplicateReference,
			params.EntryType, params.ReferenceId).Scan(&existingId)
		if err == nil {
			zap.L().Warn("Duplicate ledger reference detected, skipping",
				zap.String("entry_type", string(params.EntryType)),
				zap.String("reference_id", params.ReferenceId),
				zap.String("existing_entry_id", existingId))
			return nil, fmt.Errorf("%w: %s/%s", ErrDuplicateEntry, params.EntryType, params.ReferenceId)
		} else if !errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("failed to check for duplicate entry: %w", err)
		}
	}

	if _, err := tx.ExecContext(ctx, queryInsertBalanceRow, params.UserId); err != nil {
		return nil, fmt.Errorf("failed to ensure balance row: %w", err)
	}

	var balance models.UserBalance
	err := tx.QueryRowContext(ctx, queryGetBalanceRow, params.UserId).Scan(
		&balance.UserId, &balance.Balance, &balance.LastEntryId,
		&balance.Version, &balance.UpdatedAt)
	if err != nil {
		return nil, fmt.Errorf("failed to get current balance: %w", err)
	}

	newBalance := balance.Balance + params.Amount
	if newBalance < 0 {
		return nil, fmt.Errorf("%w: balance %d, requested %d",
			ErrInsufficientBalance, balance.Balance, -params.Amount)
	}

	entry := &models.LedgerEntry{
		Id:             uuid.New().String(),
		UserId:         params.UserId,
		EntryType:      params.EntryType,
		Amount:         params.Amount,
		BalanceBefore:  balance.Balance,
		BalanceAfter:   newBalance,
		ReferenceId:    params.ReferenceId,
		CounterpartyId: params.CounterpartyId,
		Description:    params.Description,
	}

	_, err = tx.ExecContext(ctx, queryInsertLedgerEntry,
		entry.Id, entry.UserId, entry.EntryType, entry.Amount,
		entry.BalanceBefore, entry.BalanceAfter,
		entry.ReferenceId, entry.CounterpartyId, entry.Description)
	if err != nil {
		return nil, fmt.Errorf("failed to insert ledger entry: %w", err)
	}

	result, err := tx.ExecContext(ctx, queryUpdateBalanceRow,
		newBalance, entry.Id, params.UserId, balance.Version)
	if err != nil {
		return nil, fmt.Errorf("failed to update balance: %w", err)
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return nil, fmt.Errorf("failed to check rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return nil, fmt.Errorf("balance update failed - %w", ErrConcurrentModification)
	}

	return entry, nil
}

// GetBalance returns the user's balance aggregate, a zero-valued row
// if the user has no entries yet.
func (s *Service) GetBalance(ctx context.Context, userId string) (*models.UserBalance, error) {
	var balance models.UserBalance
	err := s.db.QueryRowContext(ctx, queryGetBalanceRow, userId).Scan(
		&balance.UserId, &balance.Balance, &balance.LastEntryId,
		&balance.Version, &balance.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return &models.UserBalance{UserId: userId}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get balance for %s: %w", userId, err)
	}
	return &balance, nil
}

func (s *Service) GetLedgerHistory(ctx context.Context, userId string, limit, offset int) ([]models.LedgerEntry, error) {
	rows, err := s.db.QueryContext(ctx, queryLedgerHistory, userId, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to query ledger history: %w", err)
	}
	defer rows.Close()

	var entries []models.LedgerEntry
	for rows.Next() {
		var e models.LedgerEntry
		if err := rows.Scan(&e.Id, &e.UserId, &e.EntryType, &e.Amount,
			&e.BalanceBefore, &e.BalanceAfter, &e.ReferenceId,
			&e.CounterpartyId, &e.Description, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan ledger row: %w", err)
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// ReconcileBalance recomputes a user's balance from the entry log and
// compares it with the aggregate. A mismatch indicates corruption and
// is returned as an error.
func (s *Service) ReconcileBalance(ctx context.Context, userId string) (int64, error) {
	var calculated int64
	if err := s.db.QueryRowContext(ctx, queryReconcileBalance, userId).Scan(&calculated); err != nil {
		return 0, fmt.Errorf("failed to sum ledger entries: %w", err)
	}

	stored, err := s.GetBalance(ctx, userId)
	if err != nil {
		return 0, err
	}
	if stored.Balance != calculated {
		return calculated, fmt.Errorf("balance mismatch for %s: aggregate %d, ledger sum %d",
			userId, stored.Balance, calculated)
	}
	return calculated, nil
}

// TotalBalance sums every user aggregate, for operational monitoring.
func (s *Service) TotalBalance(ctx context.Context) (int64, error) {
	var total int64
	if err := s.db.QueryRowContext(ctx, queryTotalLedgerBalance).Scan(&total); err != nil {
		return 0, fmt.Errorf("failed to sum balances: %w", err)
	}
	return total, nil
}
