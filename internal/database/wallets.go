package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"trc20-custody-go/internal/models"
)

// AssignWallet atomically claims the lowest-index FREE wallet for the
// user. If the user already holds a wallet that one is returned; the
// one-wallet-per-user unique index makes that hold even when two
// assigns for the same user race past the existence check. Returns
// ErrPoolExhausted when no FREE wallet remains.
func (s *Service) AssignWallet(ctx context.Context, userId string) (*models.ChildWallet, error) {
	if existing, err := s.GetWalletByUser(ctx, userId); err == nil {
		return existing, nil
	} else if !errors.Is(err, ErrNotFound) {
		return nil, err
	}

	var w models.ChildWallet
	err := s.db.QueryRowContext(ctx, queryClaimFreeWallet, userId).Scan(
		&w.Id, &w.DerivationIndex, &w.Address, &w.Status, &w.UserId,
		&w.AssignedAt, &w.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrPoolExhausted
	}
	if err != nil {
		// A losing racer's claim fails on the unique index; the winner's
		// row is the answer and the FREE row it targeted is untouched.
		if existing, lookupErr := s.GetWalletByUser(ctx, userId); lookupErr == nil {
			return existing, nil
		}
		return nil, fmt.Errorf("unable to claim free wallet: %w", err)
	}
	return &w, nil
}

func (s *Service) GetWalletByUser(ctx context.Context, userId string) (*models.ChildWallet, error) {
	var w models.ChildWallet
	err := s.db.QueryRowContext(ctx, queryGetWalletByUser, userId).Scan(
		&w.Id, &w.DerivationIndex, &w.Address, &w.Status, &w.UserId,
		&w.AssignedAt, &w.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("unable to get wallet for user %s: %w", userId, err)
	}
	return &w, nil
}

func (s *Service) GetWalletByAddress(ctx context.Context, address string) (*models.ChildWallet, error) {
	var w models.ChildWallet
	err := s.db.QueryRowContext(ctx, queryGetWalletByAddress, address).Scan(
		&w.Id, &w.DerivationIndex, &w.Address, &w.Status, &w.UserId,
		&w.AssignedAt, &w.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("unable to get wallet %s: %w", address, err)
	}
	return &w, nil
}

// InsertChildWallets adds a batch of pre-derived addresses as FREE.
// All rows land in one transaction so a partial batch never persists.
func (s *Service) InsertChildWallets(ctx context.Context, wallets []models.ChildWallet) error {
	if len(wallets) == 0 {
		return nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("unable to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	stmt, err := tx.PrepareContext(ctx, queryInsertChildWallet)
	if err != nil {
		return fmt.Errorf("unable to prepare wallet insert: %w", err)
	}
	defer stmt.Close()

	for _, w := range wallets {
		id := w.Id
		if id == "" {
			id = uuid.New().String()
		}
		if _, err := stmt.ExecContext(ctx, id, w.DerivationIndex, w.Address); err != nil {
			return fmt.Errorf("unable to insert wallet index %d: %w", w.DerivationIndex, err)
		}
	}

	return tx.Commit()
}

func (s *Service) CountFreeWallets(ctx context.Context) (int64, error) {
	var n int64
	if err := s.db.QueryRowContext(ctx, queryCountFreeWallets).Scan(&n); err != nil {
		return 0, fmt.Errorf("unable to count free wallets: %w", err)
	}
	return n, nil
}

// MaxDerivationIndex returns the highest index ever derived, zero when
// the pool is empty. Index 0 is reserved for the master address and is
// never pooled, so zero always means "start at 1".
func (s *Service) MaxDerivationIndex(ctx context.Context) (int64, error) {
	var n int64
	if err := s.db.QueryRowContext(ctx, queryMaxDerivationIndex).Scan(&n); err != nil {
		return 0, fmt.Errorf("unable to get max derivation index: %w", err)
	}
	return n, nil
}

// AssignedAddresses returns every address currently assigned to a user.
// The scanner seeds its watch cache from this set.
func (s *Service) AssignedAddresses(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, queryAssignedAddresses)
	if err != nil {
		return nil, fmt.Errorf("unable to query assigned addresses: %w", err)
	}
	defer rows.Close()

	var addresses []string
	for rows.Next() {
		var a string
		if err := rows.Scan(&a); err != nil {
			return nil, fmt.Errorf("unable to scan address row: %w", err)
		}
		addresses = append(addresses, a)
	}
	return addresses, rows.Err()
}
