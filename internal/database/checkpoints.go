package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"trc20-custody-go/internal/models"
)

// LoadOrCreateCheckpoint returns the named checkpoint, seeding it at
// seedBlock on first sight. The seed insert is idempotent, so two
// racing starters agree on one row.
func (s *Service) LoadOrCreateCheckpoint(ctx context.Context, name string, seedBlock int64) (*models.ScannerCheckpoint, error) {
	if _, err := s.db.ExecContext(ctx, querySeedCheckpoint, name, seedBlock); err != nil {
		return nil, fmt.Errorf("unable to seed checkpoint %s: %w", name, err)
	}
	return s.GetCheckpoint(ctx, name)
}

func (s *Service) GetCheckpoint(ctx context.Context, name string) (*models.ScannerCheckpoint, error) {
	var cp models.ScannerCheckpoint
	err := s.db.QueryRowContext(ctx, queryGetCheckpoint, name).Scan(
		&cp.ScannerName, &cp.LastProcessedBlock, &cp.IsRunning, &cp.ErrorCount,
		&cp.LastError, &cp.LastScanAt, &cp.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("unable to get checkpoint %s: %w", name, err)
	}
	return &cp, nil
}

// AdvanceCheckpoint moves the checkpoint forward to block. Moves
// backwards are silently ignored, keeping progress monotonic.
func (s *Service) AdvanceCheckpoint(ctx context.Context, name string, block int64) error {
	_, err := s.db.ExecContext(ctx, queryAdvanceCheckpoint, block, name, block)
	if err != nil {
		return fmt.Errorf("unable to advance checkpoint %s: %w", name, err)
	}
	return nil
}

// ForceCheckpoint sets the checkpoint unconditionally, including
// backwards. Rescanning a range is safe because deposit ingestion is
// idempotent; this is the operator's tool for re-processing after an
// indexer outage.
func (s *Service) ForceCheckpoint(ctx context.Context, name string, block int64) error {
	_, err := s.db.ExecContext(ctx, queryForceCheckpoint, block, name)
	if err != nil {
		return fmt.Errorf("unable to force checkpoint %s: %w", name, err)
	}
	return nil
}

func (s *Service) RecordCheckpointError(ctx context.Context, name, message string) error {
	_, err := s.db.ExecContext(ctx, queryRecordCheckpointError, message, name)
	if err != nil {
		return fmt.Errorf("unable to record checkpoint error for %s: %w", name, err)
	}
	return nil
}

func (s *Service) SetCheckpointRunning(ctx context.Context, name string, running bool) error {
	_, err := s.db.ExecContext(ctx, querySetCheckpointRunning, running, name)
	if err != nil {
		return fmt.Errorf("unable to update checkpoint %s: %w", name, err)
	}
	return nil
}
