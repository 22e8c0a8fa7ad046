package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"trc20-custody-go/internal/models"
)

// CreateUser inserts a user if the id is not already taken.
func (s *Service) CreateUser(ctx context.Context, id, email, role string) error {
	if role != models.RoleUser && role != models.RoleAdmin {
		return fmt.Errorf("unknown role %q", role)
	}
	_, err := s.db.ExecContext(ctx, queryInsertUser, id, email, role)
	if err != nil {
		return fmt.Errorf("unable to insert user: %w", err)
	}
	return nil
}

func (s *Service) GetUser(ctx context.Context, id string) (*models.User, error) {
	var u models.User
	err := s.db.QueryRowContext(ctx, queryGetUserById, id).Scan(
		&u.Id, &u.Email, &u.Role, &u.WalletAddress, &u.DerivationIndex,
		&u.CreatedAt, &u.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("unable to get user %s: %w", id, err)
	}
	return &u, nil
}

func (s *Service) GetAllUsers(ctx context.Context) ([]models.User, error) {
	rows, err := s.db.QueryContext(ctx, queryGetAllUsers)
	if err != nil {
		return nil, fmt.Errorf("unable to query users: %w", err)
	}
	defer rows.Close()

	var users []models.User
	for rows.Next() {
		var u models.User
		if err := rows.Scan(&u.Id, &u.Email, &u.Role, &u.WalletAddress,
			&u.DerivationIndex, &u.CreatedAt, &u.UpdatedAt); err != nil {
			return nil, fmt.Errorf("unable to scan user row: %w", err)
		}
		users = append(users, u)
	}
	return users, rows.Err()
}
