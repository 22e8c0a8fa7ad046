package models

import (
	"database/sql"
	"time"
)

// WalletStatus is the lifecycle state of a pooled deposit address.
type WalletStatus string

const (
	WalletFree     WalletStatus = "FREE"
	WalletAssigned WalletStatus = "ASSIGNED"
)

// Direction of a chain transfer relative to our wallets.
type Direction string

const (
	DirectionIn  Direction = "IN"
	DirectionOut Direction = "OUT"
)

// DepositStatus tracks a deposit from first sighting to consolidation.
// Transitions are monotonic: PENDING -> CONFIRMED -> SWEPT.
type DepositStatus string

const (
	DepositPending   DepositStatus = "PENDING"
	DepositConfirmed DepositStatus = "CONFIRMED"
	DepositSwept     DepositStatus = "SWEPT"
	DepositFailed    DepositStatus = "FAILED"
)

// EntryType classifies a points ledger entry.
type EntryType string

const (
	EntryDeposit    EntryType = "DEPOSIT"
	EntryP2PSend    EntryType = "P2P_SEND"
	EntryP2PReceive EntryType = "P2P_RECEIVE"
	EntryPurchase   EntryType = "PURCHASE"
	EntryWithdrawal EntryType = "WITHDRAWAL"
	EntryRefund     EntryType = "REFUND"
)

// WithdrawalStatus tracks an on-chain withdrawal request.
// PENDING -> {BROADCASTING -> APPROVED -> {COMPLETED, FAILED}, REJECTED}.
// BROADCASTING is persisted before the transfer is submitted so a crash
// between broadcast and settlement is detectable on restart.
type WithdrawalStatus string

const (
	WithdrawalPending      WithdrawalStatus = "PENDING"
	WithdrawalBroadcasting WithdrawalStatus = "BROADCASTING"
	WithdrawalApproved     WithdrawalStatus = "APPROVED"
	WithdrawalRejected     WithdrawalStatus = "REJECTED"
	WithdrawalCompleted    WithdrawalStatus = "COMPLETED"
	WithdrawalFailed       WithdrawalStatus = "FAILED"
)

// Roles recognised by the HTTP layer.
const (
	RoleUser  = "USER"
	RoleAdmin = "ADMIN"
)

// User represents an account holder.
type User struct {
	Id              string    `db:"id"`
	Email           string    `db:"email"`
	Role            string    `db:"role"`
	WalletAddress   string    `db:"wallet_address"`
	DerivationIndex int64     `db:"derivation_index"`
	CreatedAt       time.Time `db:"created_at"`
	UpdatedAt       time.Time `db:"updated_at"`
}

// ChildWallet is a pre-derived deposit address. Each derivation index and
// address is unique and assigned to at most one user, ever.
type ChildWallet struct {
	Id              string       `db:"id"`
	DerivationIndex int64        `db:"derivation_index"`
	Address         string       `db:"address"`
	Status          WalletStatus `db:"status"`
	UserId          string       `db:"user_id"`
	AssignedAt      sql.NullTime `db:"assigned_at"`
	CreatedAt       time.Time    `db:"created_at"`
}

// ScannerCheckpoint persists the last block a scanning task has fully
// processed, enabling safe resumption after a crash.
type ScannerCheckpoint struct {
	ScannerName        string       `db:"scanner_name"`
	LastProcessedBlock int64        `db:"last_processed_block"`
	IsRunning          bool         `db:"is_running"`
	ErrorCount         int64        `db:"error_count"`
	LastError          string       `db:"last_error"`
	LastScanAt         sql.NullTime `db:"last_scan_at"`
	UpdatedAt          time.Time    `db:"updated_at"`
}

// DepositRecord is one observed token transfer into a pooled address.
// The natural key (tx_hash, log_index, direction) enforces exactly-once
// ingestion. RawAmount is in smallest token units, never a float.
type DepositRecord struct {
	Id              string        `db:"id"`
	TxHash          string        `db:"tx_hash"`
	LogIndex        int64         `db:"log_index"`
	Direction       Direction     `db:"direction"`
	UserId          string        `db:"user_id"`
	ToAddress       string        `db:"to_address"`
	RawAmount       int64         `db:"raw_amount"`
	BlockHeight     int64         `db:"block_height"`
	Confirmations   int64         `db:"confirmations"`
	Status          DepositStatus `db:"status"`
	ContractAddress string        `db:"contract_address"`
	SweepTxHash     string        `db:"sweep_tx_hash"`
	CreatedAt       time.Time     `db:"created_at"`
	ConfirmedAt     sql.NullTime  `db:"confirmed_at"`
	SweptAt         sql.NullTime  `db:"swept_at"`
}

// LedgerEntry is an immutable, append-only points movement. Amount is
// signed: credits positive, debits negative.
type LedgerEntry struct {
	Id             string    `db:"id"`
	UserId         string    `db:"user_id"`
	EntryType      EntryType `db:"entry_type"`
	Amount         int64     `db:"amount"`
	BalanceBefore  int64     `db:"balance_before"`
	BalanceAfter   int64     `db:"balance_after"`
	ReferenceId    string    `db:"reference_id"`
	CounterpartyId string    `db:"counterparty_id"`
	Description    string    `db:"description"`
	CreatedAt      time.Time `db:"created_at"`
}

// UserBalance is the single authoritative balance aggregate. It is only
// mutated in the same transaction that appends a LedgerEntry, so
// balance == sum(entries.amount) holds at every observable point.
type UserBalance struct {
	UserId      string    `db:"user_id"`
	Balance     int64     `db:"balance"`
	LastEntryId string    `db:"last_entry_id"`
	Version     int64     `db:"version"`
	UpdatedAt   time.Time `db:"updated_at"`
}

// WithdrawalRequest is a user request to move points back on chain.
// Points are debited (locked) at creation and restored only by an
// explicit REFUND entry on rejection or verified failure.
type WithdrawalRequest struct {
	Id           string           `db:"id"`
	UserId       string           `db:"user_id"`
	RawAmount    int64            `db:"raw_amount"`
	ToAddress    string           `db:"to_address"`
	Status       WithdrawalStatus `db:"status"`
	TxHash       string           `db:"tx_hash"`
	ApprovedBy   string           `db:"approved_by"`
	RejectReason string           `db:"reject_reason"`
	RequestedAt  time.Time        `db:"requested_at"`
	ProcessedAt  sql.NullTime     `db:"processed_at"`
}
