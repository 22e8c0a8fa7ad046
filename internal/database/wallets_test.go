package database

import (
	"context"
	"errors"
	"sync"
	"testing"

	"trc20-custody-go/internal/models"
)

func TestAssignWalletClaimsLowestIndex(t *testing.T) {
	service, cleanup := setupTestDB(t)
	defer cleanup()
	ctx := context.Background()

	wallets := []models.ChildWallet{
		{DerivationIndex: 3, Address: "TAddr3"},
		{DerivationIndex: 1, Address: "TAddr1"},
		{DerivationIndex: 2, Address: "TAddr2"},
	}
	if err := service.InsertChildWallets(ctx, wallets); err != nil {
		t.Fatalf("InsertChildWallets failed: %v", err)
	}

	w, err := service.AssignWallet(ctx, "user1")
	if err != nil {
		t.Fatalf("AssignWallet failed: %v", err)
	}
	if w.DerivationIndex != 1 {
		t.Errorf("Expected lowest index 1 first, got %d", w.DerivationIndex)
	}
	if w.Status != models.WalletAssigned {
		t.Errorf("Expected status ASSIGNED, got %s", w.Status)
	}

	// A second call returns the same wallet, not a new one.
	again, err := service.AssignWallet(ctx, "user1")
	if err != nil {
		t.Fatalf("Repeat AssignWallet failed: %v", err)
	}
	if again.Id != w.Id {
		t.Errorf("Expected same wallet on repeat assignment, got %s and %s", w.Id, again.Id)
	}

	free, err := service.CountFreeWallets(ctx)
	if err != nil {
		t.Fatalf("CountFreeWallets failed: %v", err)
	}
	if free != 2 {
		t.Errorf("Expected 2 free wallets, got %d", free)
	}
}

func TestAssignWalletConcurrentSingleFree(t *testing.T) {
	service, cleanup := setupTestDB(t)
	defer cleanup()
	ctx := context.Background()

	if err := service.InsertChildWallets(ctx, []models.ChildWallet{
		{DerivationIndex: 1, Address: "TOnlyAddr"},
	}); err != nil {
		t.Fatalf("InsertChildWallets failed: %v", err)
	}

	var wg sync.WaitGroup
	results := make([]error, 2)
	users := []string{"user1", "user2"}
	for i := range users {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, results[i] = service.AssignWallet(ctx, users[i])
		}(i)
	}
	wg.Wait()

	var won, exhausted int
	for _, err := range results {
		switch {
		case err == nil:
			won++
		case errors.Is(err, ErrPoolExhausted):
			exhausted++
		default:
			t.Fatalf("Unexpected error: %v", err)
		}
	}
	if won != 1 || exhausted != 1 {
		t.Errorf("Expected exactly one winner, got %d winners and %d exhausted", won, exhausted)
	}

	w, err := service.GetWalletByAddress(ctx, "TOnlyAddr")
	if err != nil {
		t.Fatalf("GetWalletByAddress failed: %v", err)
	}
	if w.UserId != "user1" && w.UserId != "user2" {
		t.Errorf("Wallet assigned to unexpected user %q", w.UserId)
	}
}

func TestAssignWalletOnePerUser(t *testing.T) {
	service, cleanup := setupTestDB(t)
	defer cleanup()
	ctx := context.Background()

	if err := service.InsertChildWallets(ctx, []models.ChildWallet{
		{DerivationIndex: 1, Address: "TA"},
		{DerivationIndex: 2, Address: "TB"},
	}); err != nil {
		t.Fatalf("InsertChildWallets failed: %v", err)
	}

	w, err := service.AssignWallet(ctx, "user1")
	if err != nil {
		t.Fatalf("AssignWallet failed: %v", err)
	}

	// Drive the claim statement directly, as a concurrent assign would
	// after observing no existing wallet. The one-wallet-per-user index
	// must refuse the second claim and leave its target row FREE.
	var dup models.ChildWallet
	err = service.db.QueryRowContext(ctx, queryClaimFreeWallet, "user1").Scan(
		&dup.Id, &dup.DerivationIndex, &dup.Address, &dup.Status, &dup.UserId,
		&dup.AssignedAt, &dup.CreatedAt)
	if err == nil {
		t.Fatalf("Expected second claim for user1 to be refused, got wallet %s", dup.Address)
	}

	free, _ := service.CountFreeWallets(ctx)
	if free != 1 {
		t.Errorf("Expected refused claim to leave 1 free wallet, got %d", free)
	}

	// AssignWallet still resolves to the wallet the user already holds.
	again, err := service.AssignWallet(ctx, "user1")
	if err != nil {
		t.Fatalf("Repeat AssignWallet failed: %v", err)
	}
	if again.Id != w.Id {
		t.Errorf("Expected the original wallet %s, got %s", w.Id, again.Id)
	}
}

func TestMaxDerivationIndexAndAssignedAddresses(t *testing.T) {
	service, cleanup := setupTestDB(t)
	defer cleanup()
	ctx := context.Background()

	maxIdx, err := service.MaxDerivationIndex(ctx)
	if err != nil {
		t.Fatalf("MaxDerivationIndex failed: %v", err)
	}
	if maxIdx != 0 {
		t.Errorf("Expected 0 on empty pool, got %d", maxIdx)
	}

	if err := service.InsertChildWallets(ctx, []models.ChildWallet{
		{DerivationIndex: 1, Address: "TA"},
		{DerivationIndex: 2, Address: "TB"},
	}); err != nil {
		t.Fatalf("InsertChildWallets failed: %v", err)
	}

	maxIdx, _ = service.MaxDerivationIndex(ctx)
	if maxIdx != 2 {
		t.Errorf("Expected max index 2, got %d", maxIdx)
	}

	if _, err := service.AssignWallet(ctx, "user1"); err != nil {
		t.Fatalf("AssignWallet failed: %v", err)
	}
	assigned, err := service.AssignedAddresses(ctx)
	if err != nil {
		t.Fatalf("AssignedAddresses failed: %v", err)
	}
	if len(assigned) != 1 || assigned[0] != "TA" {
		t.Errorf("Expected assigned [TA], got %v", assigned)
	}
}

func TestInsertChildWalletsRejectsDuplicateIndex(t *testing.T) {
	service, cleanup := setupTestDB(t)
	defer cleanup()
	ctx := context.Background()

	if err := service.InsertChildWallets(ctx, []models.ChildWallet{
		{DerivationIndex: 1, Address: "TA"},
	}); err != nil {
		t.Fatalf("InsertChildWallets failed: %v", err)
	}

	err := service.InsertChildWallets(ctx, []models.ChildWallet{
		{DerivationIndex: 2, Address: "TB"},
		{DerivationIndex: 1, Address: "TC"},
	})
	if err == nil {
		t.Fatal("Expected duplicate index to fail the batch")
	}

	// The failed batch must not have inserted its first row.
	free, _ := service.CountFreeWallets(ctx)
	if free != 1 {
		t.Errorf("Expected 1 wallet after rolled-back batch, got %d", free)
	}
}
