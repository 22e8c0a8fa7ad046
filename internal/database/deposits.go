package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"trc20-custody-go/internal/models"
)

// InsertDepositIfAbsent records an observed transfer exactly once. The
// (tx_hash, log_index, direction) key absorbs rescans of the same block
// range: a replayed event reports ErrDuplicateDeposit and changes
// nothing.
func (s *Service) InsertDepositIfAbsent(ctx context.Context, d *models.DepositRecord) (string, error) {
	id := d.Id
	if id == "" {
		id = uuid.New().String()
	}
	res, err := s.db.ExecContext(ctx, queryInsertDeposit,
		id, d.TxHash, d.LogIndex, d.Direction, d.UserId, d.ToAddress,
		d.RawAmount, d.BlockHeight, d.ContractAddress)
	if err != nil {
		return "", fmt.Errorf("unable to insert deposit %s: %w", d.TxHash, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return "", fmt.Errorf("unable to read insert result: %w", err)
	}
	if n == 0 {
		return "", ErrDuplicateDeposit
	}
	return id, nil
}

func (s *Service) GetDeposit(ctx context.Context, id string) (*models.DepositRecord, error) {
	var d models.DepositRecord
	err := scanDeposit(s.db.QueryRowContext(ctx, queryGetDepositById, id), &d)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("unable to get deposit %s: %w", id, err)
	}
	return &d, nil
}

func (s *Service) PendingDeposits(ctx context.Context) ([]models.DepositRecord, error) {
	return s.queryDeposits(ctx, queryPendingDeposits)
}

// UpdateConfirmations raises the stored confirmation count for a
// PENDING deposit. The count never decreases, even if the chain head
// briefly reorgs backwards.
func (s *Service) UpdateConfirmations(ctx context.Context, id string, confirmations int64) error {
	_, err := s.db.ExecContext(ctx, queryUpdateConfirmations, confirmations, id)
	if err != nil {
		return fmt.Errorf("unable to update confirmations for %s: %w", id, err)
	}
	return nil
}

// ConfirmDeposit promotes a PENDING deposit to CONFIRMED. Applying it
// to a deposit in any other state is a no-op reported as ErrInvalidState.
func (s *Service) ConfirmDeposit(ctx context.Context, id string, confirmations int64) error {
	res, err := s.db.ExecContext(ctx, queryConfirmDeposit, confirmations, id)
	if err != nil {
		return fmt.Errorf("unable to confirm deposit %s: %w", id, err)
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

func (s *Service) ConfirmedUnswept(ctx context.Context, limit int) ([]models.DepositRecord, error) {
	return s.queryDeposits(ctx, queryConfirmedUnswept, limit)
}

// MarkDepositSwept promotes CONFIRMED to SWEPT, recording the
// consolidation transaction. Guarded the same way as ConfirmDeposit so
// two sweepers cannot both claim the deposit.
func (s *Service) MarkDepositSwept(ctx context.Context, id, sweepTxHash string) error {
	res, err := s.db.ExecContext(ctx, queryMarkDepositSwept, sweepTxHash, id)
	if err != nil {
		return fmt.Errorf("unable to mark deposit %s swept: %w", id, err)
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

// SettleSweptDeposit marks a CONFIRMED deposit SWEPT and credits the
// user's points in one transaction, so a crash cannot leave the deposit
// swept with the credit missing. The status guard keeps the transition
// single-shot across concurrent sweepers.
func (s *Service) SettleSweptDeposit(ctx context.Context, id, sweepTxHash string) error {
	d, err := s.GetDeposit(ctx, id)
	if err != nil {
		return err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	res, err := tx.ExecContext(ctx, queryMarkDepositSwept, sweepTxHash, id)
	if err != nil {
		return fmt.Errorf("unable to mark deposit %s swept: %w", id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrInvalidState
	}

	_, err = s.applyEntry(ctx, tx, LedgerParams{
		UserId:      d.UserId,
		EntryType:   models.EntryDeposit,
		Amount:      d.RawAmount,
		ReferenceId: d.Id,
		Description: "deposit " + d.TxHash,
	})
	if err != nil && !errors.Is(err, ErrDuplicateEntry) {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit sweep settlement: %w", err)
	}
	return nil
}

func (s *Service) DepositHistory(ctx context.Context, userId string, limit, offset int) ([]models.DepositRecord, error) {
	return s.queryDeposits(ctx, queryDepositHistory, userId, limit, offset)
}

func (s *Service) queryDeposits(ctx context.Context, query string, args ...any) ([]models.DepositRecord, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("unable to query deposits: %w", err)
	}
	defer rows.Close()

	var deposits []models.DepositRecord
	for rows.Next() {
		var d models.DepositRecord
		if err := scanDeposit(rows, &d); err != nil {
			return nil, fmt.Errorf("unable to scan deposit row: %w", err)
		}
		deposits = append(deposits, d)
	}
	return deposits, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanDeposit(row rowScanner, d *models.DepositRecord) error {
	return row.Scan(
		&d.Id, &d.TxHash, &d.LogIndex, &d.Direction, &d.UserId, &d.ToAddress,
		&d.RawAmount, &d.BlockHeight, &d.Confirmations, &d.Status,
		&d.ContractAddress, &d.SweepTxHash, &d.CreatedAt, &d.ConfirmedAt, &d.SweptAt)
}
