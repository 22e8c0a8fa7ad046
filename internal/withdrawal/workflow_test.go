package withdrawal

import (
	"context"
	"database/sql"
	"errors"
	"testing"

	_ "github.com/mattn/go-sqlite3"

	"trc20-custody-go/internal/chain"
	"trc20-custody-go/internal/database"
	"trc20-custody-go/internal/keyvault"
	"trc20-custody-go/internal/models"
)

const (
	testMnemonic = "abandon abandon abandon abandon abandon abandon abandon abandon abandon abandon abandon about"
	testKeyHex   = "000102030405060708090a0b0c0d0e0f101112131415161718191a1b1c1d1e1f"
	testContract = "TR7NHqjeKQxGTCi8q8ZY4pL8otSzgjLj6t"
	destAddress  = "TJRabPrwbZy45sbavfcjinPJC18kjpRTv8"
)

type fakeChain struct {
	sendTokenErr error
	sends        int
}

func (f *fakeChain) CurrentBlockHeight(ctx context.Context) (int64, error) { return 1000, nil }
func (f *fakeChain) BlockTimestamp(ctx context.Context, h int64) (int64, error) {
	return h * 3000, nil
}
func (f *fakeChain) TokenTransferEvents(ctx context.Context, c string, from, to int64) ([]models.TransferEvent, error) {
	return nil, nil
}
func (f *fakeChain) NativeBalance(ctx context.Context, address string) (int64, error) {
	return 0, nil
}
func (f *fakeChain) TokenBalance(ctx context.Context, address, contract string) (int64, error) {
	return 0, nil
}
func (f *fakeChain) SendNative(ctx context.Context, pk []byte, to string, amount int64) (string, error) {
	return "", errors.New("not supported")
}
func (f *fakeChain) SendToken(ctx context.Context, pk []byte, to string, amount int64, contract string) (string, error) {
	if f.sendTokenErr != nil {
		return "", f.sendTokenErr
	}
	f.sends++
	return "withdrawal-tx", nil
}

func setupWorkflowTest(t *testing.T, fc *fakeChain) (*Workflow, *database.Service, func()) {
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
	if _, err := service.Credit(ctx, database.LedgerParams{
		UserId: "user1", EntryType: models.EntryDeposit, Amount: 100_000_000,
	}); err != nil {
		t.Fatalf("Failed to fund user: %v", err)
	}

	blob, err := keyvault.EncryptMnemonic(testMnemonic, testKeyHex)
	if err != nil {
		t.Fatalf("Failed to encrypt test mnemonic: %v", err)
	}
	vault, err := keyvault.New(blob, testKeyHex)
	if err != nil {
		t.Fatalf("Failed to open test vault: %v", err)
	}

	wf := New(service, fc, vault, models.WithdrawalConfig{MinAmount: 20_000_000}, testContract)
	return wf, service, func() { db.Close() }
}

func TestRequestValidation(t *testing.T) {
	wf, _, cleanup := setupWorkflowTest(t, &fakeChain{})
	defer cleanup()
	ctx := context.Background()

	if _, err := wf.Request(ctx, "user1", 19_999_999, destAddress); !errors.Is(err, ErrValidation) {
		t.Errorf("Expected ErrValidation below minimum, got %v", err)
	}
	if _, err := wf.Request(ctx, "user1", 20_000_000, "not-an-address"); !errors.Is(err, ErrValidation) {
		t.Errorf("Expected ErrValidation for bad address, got %v", err)
	}

	req, err := wf.Request(ctx, "user1", 20_000_000, destAddress)
	if err != nil {
		t.Fatalf("Request failed: %v", err)
	}
	if req.Status != models.WithdrawalPending {
		t.Errorf("Expected PENDING, got %s", req.Status)
	}
}

func TestApproveSettlesExactlyOnce(t *testing.T) {
	fc := &fakeChain{}
	wf, service, cleanup := setupWorkflowTest(t, fc)
	defer cleanup()
	ctx := context.Background()

	req, err := wf.Request(ctx, "user1", 30_000_000, destAddress)
	if err != nil {
		t.Fatalf("Request failed: %v", err)
	}

	approved, err := wf.Approve(ctx, req.Id, "admin1")
	if err != nil {
		t.Fatalf("Approve failed: %v", err)
	}
	if approved.Status != models.WithdrawalCompleted || approved.TxHash != "withdrawal-tx" {
		t.Errorf("Expected COMPLETED with tx hash, got %s / %s", approved.Status, approved.TxHash)
	}
	if fc.sends != 1 {
		t.Errorf("Expected one on-chain send, got %d", fc.sends)
	}

	// A concurrent or repeated approval must not broadcast again.
	if _, err := wf.Approve(ctx, req.Id, "admin2"); !errors.Is(err, database.ErrInvalidState) {
		t.Fatalf("Expected ErrInvalidState on repeat approval, got %v", err)
	}
	if fc.sends != 1 {
		t.Errorf("Expected still one on-chain send, got %d", fc.sends)
	}

	balance, _ := service.GetBalance(ctx, "user1")
	if balance.Balance != 70_000_000 {
		t.Errorf("Expected balance 70000000 after settlement, got %d", balance.Balance)
	}
}

func TestApproveTransientErrorLeavesBroadcasting(t *testing.T) {
	fc := &fakeChain{sendTokenErr: &chain.TransientError{Op: "broadcast", Err: errors.New("timeout")}}
	wf, service, cleanup := setupWorkflowTest(t, fc)
	defer cleanup()
	ctx := context.Background()

	req, err := wf.Request(ctx, "user1", 30_000_000, destAddress)
	if err != nil {
		t.Fatalf("Request failed: %v", err)
	}

	if _, err := wf.Approve(ctx, req.Id, "admin1"); err == nil {
		t.Fatal("Expected approve to surface the broadcast error")
	}

	// Outcome unknown: no refund, state holds for operator review.
	got, _ := service.GetWithdrawal(ctx, req.Id)
	if got.Status != models.WithdrawalBroadcasting {
		t.Errorf("Expected BROADCASTING after ambiguous failure, got %s", got.Status)
	}
	balance, _ := service.GetBalance(ctx, "user1")
	if balance.Balance != 70_000_000 {
		t.Errorf("Expected points to stay locked, balance %d", balance.Balance)
	}

	stuck, err := wf.RecoverInFlight(ctx)
	if err != nil {
		t.Fatalf("RecoverInFlight failed: %v", err)
	}
	if len(stuck) != 1 || stuck[0].Id != req.Id {
		t.Errorf("Expected the stuck request reported, got %v", stuck)
	}

	// Operator verified it never landed: refund.
	if err := wf.ResolveInFlight(ctx, req.Id, "", false); err != nil {
		t.Fatalf("ResolveInFlight failed: %v", err)
	}
	balance, _ = service.GetBalance(ctx, "user1")
	if balance.Balance != 100_000_000 {
		t.Errorf("Expected full refund, got %d", balance.Balance)
	}
}

func TestApproveNodeRejectionRefunds(t *testing.T) {
	fc := &fakeChain{sendTokenErr: errors.New("broadcast rejected: CONTRACT_VALIDATE_ERROR")}
	wf, service, cleanup := setupWorkflowTest(t, fc)
	defer cleanup()
	ctx := context.Background()

	req, err := wf.Request(ctx, "user1", 30_000_000, destAddress)
	if err != nil {
		t.Fatalf("Request failed: %v", err)
	}

	if _, err := wf.Approve(ctx, req.Id, "admin1"); err == nil {
		t.Fatal("Expected approve to surface the rejection")
	}

	got, _ := service.GetWithdrawal(ctx, req.Id)
	if got.Status != models.WithdrawalFailed {
		t.Errorf("Expected FAILED after definitive rejection, got %s", got.Status)
	}
	balance, _ := service.GetBalance(ctx, "user1")
	if balance.Balance != 100_000_000 {
		t.Errorf("Expected refund after rejection, got %d", balance.Balance)
	}
}

func TestRejectRefunds(t *testing.T) {
	wf, service, cleanup := setupWorkflowTest(t, &fakeChain{})
	defer cleanup()
	ctx := context.Background()

	req, err := wf.Request(ctx, "user1", 40_000_000, destAddress)
	if err != nil {
		t.Fatalf("Request failed: %v", err)
	}

	rejected, err := wf.Reject(ctx, req.Id, "admin1", "kyc incomplete")
	if err != nil {
		t.Fatalf("Reject failed: %v", err)
	}
	if rejected.Status != models.WithdrawalRejected {
		t.Errorf("Expected REJECTED, got %s", rejected.Status)
	}

	balance, _ := service.GetBalance(ctx, "user1")
	if balance.Balance != 100_000_000 {
		t.Errorf("Expected full refund, got %d", balance.Balance)
	}
}
