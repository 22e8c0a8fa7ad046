package database

import (
	"context"
	"database/sql"
	"errors"
	"testing"

	_ "github.com/mattn/go-sqlite3"

	"trc20-custody-go/internal/models"
)

func setupTestDB(t *testing.T) (*Service, func()) {
	t.Helper()

	db, err := sql.Open("sqlite3", ":memory:")
	if err != nil {
		t.Fatalf("Failed to open test database: %v", err)
	}
	// Each connection gets its own in-memory database, so keep one.
	db.SetMaxOpenConns(1)

	service, err := NewServiceFromDB(db)
	if err != nil {
		t.Fatalf("Failed to initialize schema: %v", err)
	}

	ctx := context.Background()
	for _, u := range []struct{ id, email, role string }{
		{"user1", "one@example.com", models.RoleUser},
		{"user2", "two@example.com", models.RoleUser},
		{"admin1", "admin@example.com", models.RoleAdmin},
	} {
		if err := service.CreateUser(ctx, u.id, u.email, u.role); err != nil {
			t.Fatalf("Failed to insert test user %s: %v", u.id, err)
		}
	}

	return service, func() { db.Close() }
}

func TestCreditAndDebit(t *testing.T) {
	service, cleanup := setupTestDB(t)
	defer cleanup()
	ctx := context.Background()

	entry, err := service.Credit(ctx, LedgerParams{
		UserId:      "user1",
		EntryType:   models.EntryDeposit,
		Amount:      1_000_000,
		ReferenceId: "dep-1",
	})
	if err != nil {
		t.Fatalf("Credit failed: %v", err)
	}
	if entry.BalanceBefore != 0 || entry.BalanceAfter != 1_000_000 {
		t.Errorf("Expected balance 0 -> 1000000, got %d -> %d", entry.BalanceBefore, entry.BalanceAfter)
	}

	entry, err = service.Debit(ctx, LedgerParams{
		UserId:    "user1",
		EntryType: models.EntryPurchase,
		Amount:    400_000,
	})
	if err != nil {
		t.Fatalf("Debit failed: %v", err)
	}
	if entry.Amount != -400_000 {
		t.Errorf("Expected stored debit amount -400000, got %d", entry.Amount)
	}

	balance, err := service.GetBalance(ctx, "user1")
	if err != nil {
		t.Fatalf("GetBalance failed: %v", err)
	}
	if balance.Balance != 600_000 {
		t.Errorf("Expected balance 600000, got %d", balance.Balance)
	}
	if balance.Version != 2 {
		t.Errorf("Expected version 2 after two entries, got %d", balance.Version)
	}
}

func TestDebitInsufficientBalance(t *testing.T) {
	service, cleanup := setupTestDB(t)
	defer cleanup()
	ctx := context.Background()

	if _, err := service.Credit(ctx, LedgerParams{
		UserId: "user1", EntryType: models.EntryDeposit, Amount: 100,
	}); err != nil {
		t.Fatalf("Credit failed: %v", err)
	}

	_, err := service.Debit(ctx, LedgerParams{
		UserId: "user1", EntryType: models.EntryPurchase, Amount: 101,
	})
	if !errors.Is(err, ErrInsufficientBalance) {
		t.Fatalf("Expected ErrInsufficientBalance, got %v", err)
	}

	// The failed debit must leave no trace.
	balance, err := service.GetBalance(ctx, "user1")
	if err != nil {
		t.Fatalf("GetBalance failed: %v", err)
	}
	if balance.Balance != 100 {
		t.Errorf("Expected balance 100 after rejected debit, got %d", balance.Balance)
	}
	entries, err := service.GetLedgerHistory(ctx, "user1", 10, 0)
	if err != nil {
		t.Fatalf("GetLedgerHistory failed: %v", err)
	}
	if len(entries) != 1 {
		t.Errorf("Expected 1 ledger entry, got %d", len(entries))
	}
}

func TestCreditIdempotentByReference(t *testing.T) {
	service, cleanup := setupTestDB(t)
	defer cleanup()
	ctx := context.Background()

	params := LedgerParams{
		UserId:      "user1",
		EntryType:   models.EntryDeposit,
		Amount:      500,
		ReferenceId: "deposit-abc",
	}
	if _, err := service.Credit(ctx, params); err != nil {
		t.Fatalf("First credit failed: %v", err)
	}

	_, err := service.Credit(ctx, params)
	if !errors.Is(err, ErrDuplicateEntry) {
		t.Fatalf("Expected ErrDuplicateEntry on replay, got %v", err)
	}

	balance, _ := service.GetBalance(ctx, "user1")
	if balance.Balance != 500 {
		t.Errorf("Expected balance 500 after replayed credit, got %d", balance.Balance)
	}
}

func TestP2PTransfer(t *testing.T) {
	service, cleanup := setupTestDB(t)
	defer cleanup()
	ctx := context.Background()

	if _, err := service.Credit(ctx, LedgerParams{
		UserId: "user1", EntryType: models.EntryDeposit, Amount: 1000,
	}); err != nil {
		t.Fatalf("Credit failed: %v", err)
	}

	if err := service.P2PTransfer(ctx, "user1", "user2", 300, "gift"); err != nil {
		t.Fatalf("P2PTransfer failed: %v", err)
	}

	b1, _ := service.GetBalance(ctx, "user1")
	b2, _ := service.GetBalance(ctx, "user2")
	if b1.Balance != 700 || b2.Balance != 300 {
		t.Errorf("Expected 700/300 after transfer, got %d/%d", b1.Balance, b2.Balance)
	}

	// Sender without funds: transfer must fail whole.
	err := service.P2PTransfer(ctx, "user2", "user1", 999, "too much")
	if !errors.Is(err, ErrInsufficientBalance) {
		t.Fatalf("Expected ErrInsufficientBalance, got %v", err)
	}
	b2, _ = service.GetBalance(ctx, "user2")
	if b2.Balance != 300 {
		t.Errorf("Expected unchanged balance 300, got %d", b2.Balance)
	}

	if err := service.P2PTransfer(ctx, "user1", "user1", 10, "self"); err == nil {
		t.Error("Expected self-transfer to be rejected")
	}
}

func TestPurchaseIdempotentByOrder(t *testing.T) {
	service, cleanup := setupTestDB(t)
	defer cleanup()
	ctx := context.Background()

	if _, err := service.Credit(ctx, LedgerParams{
		UserId: "user1", EntryType: models.EntryDeposit, Amount: 1000,
	}); err != nil {
		t.Fatalf("Credit failed: %v", err)
	}

	if _, err := service.Purchase(ctx, "user1", 250, "order-7", "sticker pack"); err != nil {
		t.Fatalf("Purchase failed: %v", err)
	}
	_, err := service.Purchase(ctx, "user1", 250, "order-7", "sticker pack")
	if !errors.Is(err, ErrDuplicateEntry) {
		t.Fatalf("Expected ErrDuplicateEntry on retried order, got %v", err)
	}

	balance, _ := service.GetBalance(ctx, "user1")
	if balance.Balance != 750 {
		t.Errorf("Expected single burn, balance 750, got %d", balance.Balance)
	}
}

func TestReconcileBalanceMatchesLedger(t *testing.T) {
	service, cleanup := setupTestDB(t)
	defer cleanup()
	ctx := context.Background()

	moves := []struct {
		credit bool
		amount int64
	}{
		{true, 1000}, {false, 200}, {true, 50}, {false, 349},
	}
	for i, m := range moves {
		var err error
		if m.credit {
			_, err = service.Credit(ctx, LedgerParams{
				UserId: "user1", EntryType: models.EntryDeposit, Amount: m.amount,
			})
		} else {
			_, err = service.Debit(ctx, LedgerParams{
				UserId: "user1", EntryType: models.EntryPurchase, Amount: m.amount,
			})
		}
		if err != nil {
			t.Fatalf("Move %d failed: %v", i, err)
		}
	}

	calculated, err := service.ReconcileBalance(ctx, "user1")
	if err != nil {
		t.Fatalf("ReconcileBalance failed: %v", err)
	}
	if calculated != 501 {
		t.Errorf("Expected reconciled balance 501, got %d", calculated)
	}

	total, err := service.TotalBalance(ctx)
	if err != nil {
		t.Fatalf("TotalBalance failed: %v", err)
	}
	if total != 501 {
		t.Errorf("Expected total 501, got %d", total)
	}
}
