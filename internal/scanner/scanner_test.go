package scanner

import (
	"context"
	"database/sql"
	"errors"
	"testing"

	_ "github.com/mattn/go-sqlite3"

	"trc20-custody-go/internal/database"
	"trc20-custody-go/internal/models"
)

const (
	testContract = "TR7NHqjeKQxGTCi8q8ZY4pL8otSzgjLj6t"
	testAddress  = "TJRabPrwbZy45sbavfcjinPJC18kjpRTv8"
)

// fakeChain is a scripted chain.Client. Only the read methods are used
// by the scanner.
type fakeChain struct {
	height    int64
	events    []models.TransferEvent
	heightErr error
	eventsErr error
}

func (f *fakeChain) CurrentBlockHeight(ctx context.Context) (int64, error) {
	return f.height, f.heightErr
}

func (f *fakeChain) BlockTimestamp(ctx context.Context, height int64) (int64, error) {
	return height * 3000, nil
}

func (f *fakeChain) TokenTransferEvents(ctx context.Context, contract string, fromBlock, toBlock int64) ([]models.TransferEvent, error) {
	if f.eventsErr != nil {
		return nil, f.eventsErr
	}
	var out []models.TransferEvent
	for _, ev := range f.events {
		if ev.BlockNumber > fromBlock && ev.BlockNumber <= toBlock {
			out = append(out, ev)
		}
	}
	return out, nil
}

func (f *fakeChain) NativeBalance(ctx context.Context, address string) (int64, error) {
	return 0, nil
}

func (f *fakeChain) TokenBalance(ctx context.Context, address, contract string) (int64, error) {
	return 0, nil
}

func (f *fakeChain) SendNative(ctx context.Context, privateKey []byte, to string, amountSun int64) (string, error) {
	return "", errors.New("not supported")
}

func (f *fakeChain) SendToken(ctx context.Context, privateKey []byte, to string, rawAmount int64, contract string) (string, error) {
	return "", errors.New("not supported")
}

func setupScannerTest(t *testing.T, chain *fakeChain) (*Scanner, *database.Service, func()) {
	t.Helper()

	db, err := sql.Open("sqlite3", ":memory:")
	if err != nil {
		t.Fatalf("Failed to open test database: %v", err)
	}
	db.SetMaxOpenConns(1)

	service, err := database.NewServiceFromDB(db)
	if err != nil {
		t.Fatalf("Failed to initialize schema: %v", err)
	}

	ctx := context.Background()
	if err := service.CreateUser(ctx, "user1", "one@example.com", models.RoleUser); err != nil {
		t.Fatalf("Failed to create user: %v", err)
	}
	if err := service.InsertChildWallets(ctx, []models.ChildWallet{
		{DerivationIndex: 1, Address: testAddress},
	}); err != nil {
		t.Fatalf("Failed to insert wallet: %v", err)
	}
	if _, err := service.AssignWallet(ctx, "user1"); err != nil {
		t.Fatalf("Failed to assign wallet: %v", err)
	}

	cfg := models.ScannerConfig{
		Name:                  "usdt-scanner",
		BatchSize:             10,
		SeedLag:               100,
		RequiredConfirmations: 3,
	}
	sc := New(service, chain, nil, cfg, testContract)

	if _, err := service.LoadOrCreateCheckpoint(ctx, cfg.Name, chain.height-cfg.SeedLag); err != nil {
		t.Fatalf("Failed to seed checkpoint: %v", err)
	}
	if err := sc.refreshCache(ctx); err != nil {
		t.Fatalf("Failed to load address cache: %v", err)
	}

	return sc, service, func() { db.Close() }
}

// scanToHead runs scan passes until the checkpoint reaches the fake
// chain's head.
func scanToHead(t *testing.T, sc *Scanner, db *database.Service, head int64) {
	t.Helper()
	ctx := context.Background()
	for i := 0; i < 100; i++ {
		cp, err := db.GetCheckpoint(ctx, sc.cfg.Name)
		if err != nil {
			t.Fatalf("GetCheckpoint failed: %v", err)
		}
		if cp.LastProcessedBlock >= head {
			return
		}
		if err := sc.ScanOnce(ctx); err != nil {
			t.Fatalf("ScanOnce failed: %v", err)
		}
	}
	t.Fatal("Scanner did not reach head")
}

func transferTo(to string, block int64, amount int64, txHash string) models.TransferEvent {
	return models.TransferEvent{
		TxHash:      txHash,
		LogIndex:    0,
		BlockNumber: block,
		From:        "TSenderAddressXXXXXXXXXXXXXXXXXXXX",
		To:          to,
		RawValue:    amount,
	}
}

func TestScanRecordsDepositsForWatchedAddresses(t *testing.T) {
	chain := &fakeChain{
		height: 1005,
		events: []models.TransferEvent{
			transferTo(testAddress, 1001, 7_000_000, "tx-watched"),
			transferTo("TUnrelatedAddress1111111111111111", 1002, 9_000_000, "tx-other"),
		},
	}
	sc, db, cleanup := setupScannerTest(t, chain)
	defer cleanup()
	ctx := context.Background()

	scanToHead(t, sc, db, chain.height)

	pending, err := db.PendingDeposits(ctx)
	if err != nil {
		t.Fatalf("PendingDeposits failed: %v", err)
	}
	if len(pending) != 1 {
		t.Fatalf("Expected 1 deposit, got %d", len(pending))
	}
	d := pending[0]
	if d.TxHash != "tx-watched" || d.UserId != "user1" || d.RawAmount != 7_000_000 {
		t.Errorf("Unexpected deposit recorded: %+v", d)
	}

	cp, _ := db.GetCheckpoint(ctx, "usdt-scanner")
	if cp.LastProcessedBlock != 1005 {
		t.Errorf("Expected checkpoint at head 1005, got %d", cp.LastProcessedBlock)
	}
}

func TestScanReplayIsIdempotent(t *testing.T) {
	chain := &fakeChain{
		height: 1005,
		events: []models.TransferEvent{
			transferTo(testAddress, 1001, 7_000_000, "tx-1"),
		},
	}
	sc, db, cleanup := setupScannerTest(t, chain)
	defer cleanup()
	ctx := context.Background()

	scanToHead(t, sc, db, chain.height)

	// Rewind the checkpoint, simulating a crash before it advanced,
	// and replay the same range.
	if err := db.ForceCheckpoint(ctx, "usdt-scanner", 1000); err != nil {
		t.Fatalf("Failed to rewind checkpoint: %v", err)
	}
	if err := sc.ScanOnce(ctx); err != nil {
		t.Fatalf("Replay scan failed: %v", err)
	}

	pending, _ := db.PendingDeposits(ctx)
	if len(pending) != 1 {
		t.Errorf("Expected replay to record nothing new, got %d deposits", len(pending))
	}
}

func TestScanErrorLeavesCheckpoint(t *testing.T) {
	chain := &fakeChain{
		height:    1005,
		eventsErr: errors.New("indexer unavailable"),
	}
	sc, db, cleanup := setupScannerTest(t, chain)
	defer cleanup()
	ctx := context.Background()

	if err := sc.ScanOnce(ctx); err == nil {
		t.Fatal("Expected scan to report the indexer error")
	}

	cp, _ := db.GetCheckpoint(ctx, "usdt-scanner")
	if cp.LastProcessedBlock != 905 {
		t.Errorf("Expected checkpoint untouched at 905, got %d", cp.LastProcessedBlock)
	}
	if cp.ErrorCount == 0 || cp.LastError == "" {
		t.Errorf("Expected error recorded on checkpoint, got count=%d error=%q", cp.ErrorCount, cp.LastError)
	}
}

func TestConfirmPromotesAtThreshold(t *testing.T) {
	chain := &fakeChain{
		height: 1005,
		events: []models.TransferEvent{
			transferTo(testAddress, 1003, 7_000_000, "tx-young"),
		},
	}
	sc, db, cleanup := setupScannerTest(t, chain)
	defer cleanup()
	ctx := context.Background()

	scanToHead(t, sc, db, chain.height)

	// Height 1005, deposit at 1003: head minus block is 2, below threshold.
	if err := sc.ConfirmOnce(ctx); err != nil {
		t.Fatalf("ConfirmOnce failed: %v", err)
	}
	pending, _ := db.PendingDeposits(ctx)
	if len(pending) != 1 || pending[0].Confirmations != 2 {
		t.Fatalf("Expected still pending with 2 confirmations, got %+v", pending)
	}

	chain.height = 1006
	if err := sc.ConfirmOnce(ctx); err != nil {
		t.Fatalf("ConfirmOnce failed: %v", err)
	}
	pending, _ = db.PendingDeposits(ctx)
	if len(pending) != 0 {
		t.Fatalf("Expected deposit confirmed, still pending: %+v", pending)
	}

	select {
	case d := <-sc.Confirmed():
		if d.TxHash != "tx-young" || d.Status != models.DepositConfirmed {
			t.Errorf("Unexpected confirmed deposit: %+v", d)
		}
	default:
		t.Error("Expected confirmation announced on channel")
	}

	// A second confirm pass announces nothing.
	if err := sc.ConfirmOnce(ctx); err != nil {
		t.Fatalf("Repeat ConfirmOnce failed: %v", err)
	}
	select {
	case d := <-sc.Confirmed():
		t.Errorf("Unexpected duplicate announcement: %+v", d)
	default:
	}
}

func TestScanBatchIsBounded(t *testing.T) {
	chain := &fakeChain{height: 2000}
	sc, db, cleanup := setupScannerTest(t, chain)
	defer cleanup()
	ctx := context.Background()

	if err := sc.ScanOnce(ctx); err != nil {
		t.Fatalf("ScanOnce failed: %v", err)
	}

	// Seeded at 1900; one pass advances by at most BatchSize blocks.
	cp, _ := db.GetCheckpoint(ctx, "usdt-scanner")
	if cp.LastProcessedBlock != 1910 {
		t.Errorf("Expected checkpoint 1910 after one batch, got %d", cp.LastProcessedBlock)
	}
}
