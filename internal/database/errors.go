package database

import "errors"

var (
	// ErrNotFound is returned when a lookup matches no row.
	ErrNotFound = errors.New("record not found")

	// ErrDuplicateDeposit is returned when a deposit with the same
	// (tx_hash, log_index, direction) has already been recorded.
	ErrDuplicateDeposit = errors.New("deposit already recorded")

	// ErrDuplicateEntry is returned when a ledger entry with the same
	// entry type and reference has already been applied.
	ErrDuplicateEntry = errors.New("ledger entry already applied")

	// ErrInsufficientBalance is returned when a debit would take a
	// user's balance below zero.
	ErrInsufficientBalance = errors.New("insufficient balance")

	// ErrPoolExhausted is returned when no FREE wallet is available.
	ErrPoolExhausted = errors.New("wallet pool exhausted")

	// ErrConcurrentModification is returned when an optimistic version
	// check fails after retries.
	ErrConcurrentModification = errors.New("concurrent modification detected")

	// ErrInvalidState is returned when a status transition is applied
	// to a record not in the expected state.
	ErrInvalidState = errors.New("record not in expected state")
)
