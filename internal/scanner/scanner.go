// Package scanner watches the chain for token transfers into pooled
// deposit addresses and drives deposits from first sighting to
// confirmation.
package scanner

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"trc20-custody-go/internal/chain"
	"trc20-custody-go/internal/database"
	"trc20-custody-go/internal/keyvault"
	"trc20-custody-go/internal/models"
)

const depositConfirmedChannel = "deposit-confirmed"

// Scanner polls the chain in checkpointed batches. Each batch is
// processed idempotently: deposits are keyed by (tx_hash, log_index,
// direction), so a crash before the checkpoint advances just replays
// the same range. A separate loop promotes PENDING deposits once they
// are buried deep enough.
type Scanner struct {
	db       *database.Service
	client   chain.Client
	redis    *redis.Client
	cfg      models.ScannerConfig
	contract string

	cache     *addressCache
	scanGuard atomic.Bool

	confirmed chan models.DepositRecord

	stopOnce sync.Once
	stop     chan struct{}
	done     chan struct{}
}

func New(db *database.Service, client chain.Client, rdb *redis.Client, cfg models.ScannerConfig, contract string) *Scanner {
	return &Scanner{
		db:        db,
		client:    client,
		redis:     rdb,
		cfg:       cfg,
		contract:  contract,
		cache:     newAddressCache(rdb),
		confirmed: make(chan models.DepositRecord, 64),
		stop:      make(chan struct{}),
		done:      make(chan struct{}),
	}
}

// Confirmed delivers deposits as they reach the confirmation
// threshold. The channel is buffered; the sweeper drains it.
func (s *Scanner) Confirmed() <-chan models.DepositRecord {
	return s.confirmed
}

// WatchAddress adds an address to the scan set immediately.
func (s *Scanner) WatchAddress(ctx context.Context, address string) {
	s.cache.Add(ctx, address)
}

// Start seeds the checkpoint and cache, then runs the scan, confirm
// and cache-refresh loops until Stop or context cancellation.
func (s *Scanner) Start(ctx context.Context) error {
	head, err := s.client.CurrentBlockHeight(ctx)
	if err != nil {
		return fmt.Errorf("unable to read chain head: %w", err)
	}
	seed := head - s.cfg.SeedLag
	if seed < 0 {
		seed = 0
	}

	cp, err := s.db.LoadOrCreateCheckpoint(ctx, s.cfg.Name, seed)
	if err != nil {
		return err
	}
	if err := s.refreshCache(ctx); err != nil {
		return err
	}
	if err := s.db.SetCheckpointRunning(ctx, s.cfg.Name, true); err != nil {
		return err
	}

	zap.L().Info("Deposit scanner started",
		zap.String("scanner", s.cfg.Name),
		zap.Int64("checkpoint", cp.LastProcessedBlock),
		zap.Int64("head", head),
		zap.Int("watched_addresses", s.cache.Len()))

	go s.run(ctx)
	return nil
}

func (s *Scanner) Stop() {
	s.stopOnce.Do(func() { close(s.stop) })
	<-s.done
}

func (s *Scanner) run(ctx context.Context) {
	defer close(s.done)
	defer func() {
		stopCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
		defer cancel()
		if err := s.db.SetCheckpointRunning(stopCtx, s.cfg.Name, false); err != nil {
			zap.L().Warn("Unable to mark scanner stopped", zap.Error(err))
		}
	}()

	scanTicker := time.NewTicker(s.cfg.ScanInterval)
	defer scanTicker.Stop()
	confirmTicker := time.NewTicker(s.cfg.ConfirmInterval)
	defer confirmTicker.Stop()
	cacheTicker := time.NewTicker(s.cfg.CacheRefreshInterval)
	defer cacheTicker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-s.stop:
			return
		case <-scanTicker.C:
			if err := s.ScanOnce(ctx); err != nil {
				zap.L().Error("Scan pass failed", zap.Error(err))
				s.backoff(ctx)
			}
		case <-confirmTicker.C:
			if err := s.ConfirmOnce(ctx); err != nil {
				zap.L().Error("Confirmation pass failed", zap.Error(err))
			}
		case <-cacheTicker.C:
			if err := s.refreshCache(ctx); err != nil {
				zap.L().Warn("Address cache refresh failed", zap.Error(err))
			}
		}
	}
}

func (s *Scanner) backoff(ctx context.Context) {
	select {
	case <-ctx.Done():
	case <-s.stop:
	case <-time.After(s.cfg.ErrorBackoff):
	}
}

// ScanOnce processes at most one batch of blocks past the checkpoint.
// The checkpoint advances only after every event in the batch has been
// recorded; an error leaves it untouched so the batch replays whole.
func (s *Scanner) ScanOnce(ctx context.Context) error {
	if !s.scanGuard.CompareAndSwap(false, true) {
		return nil
	}
	defer s.scanGuard.Store(false)

	cp, err := s.db.GetCheckpoint(ctx, s.cfg.Name)
	if err != nil {
		return err
	}
	head, err := s.client.CurrentBlockHeight(ctx)
	if err != nil {
		return s.recordError(ctx, err)
	}
	if head <= cp.LastProcessedBlock {
		return nil
	}

	from := cp.LastProcessedBlock
	to := from + s.cfg.BatchSize
	if to > head {
		to = head
	}

	events, err := s.client.TokenTransferEvents(ctx, s.contract, from, to)
	if err != nil {
		return s.recordError(ctx, err)
	}

	recorded := 0
	for _, ev := range events {
		ok, err := s.recordEvent(ctx, ev)
		if err != nil {
			return s.recordError(ctx, err)
		}
		if ok {
			recorded++
		}
	}

	if err := s.db.AdvanceCheckpoint(ctx, s.cfg.Name, to); err != nil {
		return err
	}

	if recorded > 0 || to-from > 1 {
		zap.L().Debug("Scan batch processed",
			zap.Int64("from", from+1),
			zap.Int64("to", to),
			zap.Int("events", len(events)),
			zap.Int("new_deposits", recorded))
	}
	return nil
}

// recordEvent stores a transfer event touching a watched address.
// Returns true when a new deposit row was created.
func (s *Scanner) recordEvent(ctx context.Context, ev models.TransferEvent) (bool, error) {
	if ev.RawValue <= 0 {
		return false, nil
	}
	to, err := keyvault.NormalizeAddress(ev.To)
	if err != nil {
		zap.L().Warn("Skipping event with bad recipient",
			zap.String("tx_hash", ev.TxHash), zap.Error(err))
		return false, nil
	}
	if !s.cache.Contains(to) {
		return false, nil
	}

	wallet, err := s.db.GetWalletByAddress(ctx, to)
	if err != nil {
		if errors.Is(err, database.ErrNotFound) {
			// Cache ahead of the database; drop and let the
			// refresh reconcile.
			return false, nil
		}
		return false, err
	}

	_, err = s.db.InsertDepositIfAbsent(ctx, &models.DepositRecord{
		TxHash:          ev.TxHash,
		LogIndex:        ev.LogIndex,
		Direction:       models.DirectionIn,
		UserId:          wallet.UserId,
		ToAddress:       to,
		RawAmount:       ev.RawValue,
		BlockHeight:     ev.BlockNumber,
		ContractAddress: s.contract,
	})
	if errors.Is(err, database.ErrDuplicateDeposit) {
		return false, nil
	}
	if err != nil {
		return false, err
	}

	zap.L().Info("Deposit detected",
		zap.String("tx_hash", ev.TxHash),
		zap.String("user_id", wallet.UserId),
		zap.String("address", to),
		zap.Int64("raw_amount", ev.RawValue),
		zap.Int64("block", ev.BlockNumber))
	return true, nil
}

// ConfirmOnce updates confirmation counts for PENDING deposits and
// promotes those past the threshold. Confirmed deposits are announced
// on the Confirmed channel and, when configured, published to Redis.
func (s *Scanner) ConfirmOnce(ctx context.Context) error {
	pending, err := s.db.PendingDeposits(ctx)
	if err != nil {
		return err
	}
	if len(pending) == 0 {
		return nil
	}

	head, err := s.client.CurrentBlockHeight(ctx)
	if err != nil {
		return s.recordError(ctx, err)
	}

	for _, d := range pending {
		confirmations := head - d.BlockHeight
		if confirmations < 0 {
			confirmations = 0
		}
		if confirmations < s.cfg.RequiredConfirmations {
			if err := s.db.UpdateConfirmations(ctx, d.Id, confirmations); err != nil {
				return err
			}
			continue
		}

		if err := s.db.ConfirmDeposit(ctx, d.Id, confirmations); err != nil {
			if errors.Is(err, database.ErrInvalidState) {
				continue
			}
			return err
		}

		d.Status = models.DepositConfirmed
		d.Confirmations = confirmations
		s.announce(ctx, d)

		zap.L().Info("Deposit confirmed",
			zap.String("deposit_id", d.Id),
			zap.String("tx_hash", d.TxHash),
			zap.String("user_id", d.UserId),
			zap.Int64("confirmations", confirmations))
	}
	return nil
}

func (s *Scanner) announce(ctx context.Context, d models.DepositRecord) {
	select {
	case s.confirmed <- d:
	default:
		zap.L().Warn("Confirmed-deposit channel full, dropping notification",
			zap.String("deposit_id", d.Id))
	}

	if s.redis != nil {
		payload := fmt.Sprintf(`{"deposit_id":%q,"tx_hash":%q,"user_id":%q,"raw_amount":%d}`,
			d.Id, d.TxHash, d.UserId, d.RawAmount)
		if err := s.redis.Publish(ctx, depositConfirmedChannel, payload).Err(); err != nil {
			zap.L().Warn("Unable to publish deposit confirmation", zap.Error(err))
		}
	}
}

func (s *Scanner) refreshCache(ctx context.Context) error {
	addresses, err := s.db.AssignedAddresses(ctx)
	if err != nil {
		return err
	}
	s.cache.Replace(ctx, addresses)
	return nil
}

func (s *Scanner) recordError(ctx context.Context, cause error) error {
	if err := s.db.RecordCheckpointError(ctx, s.cfg.Name, cause.Error()); err != nil {
		zap.L().Warn("Unable to persist scanner error", zap.Error(err))
	}
	if chain.IsTransient(cause) {
		zap.L().Warn("Transient chain error, will retry", zap.Error(cause))
	}
	return cause
}

// Status reports the scanner's current position relative to the chain.
func (s *Scanner) Status(ctx context.Context) (*models.ScannerStatus, error) {
	cp, err := s.db.GetCheckpoint(ctx, s.cfg.Name)
	if err != nil {
		return nil, err
	}

	status := &models.ScannerStatus{
		ScannerName:        cp.ScannerName,
		IsRunning:          cp.IsRunning,
		LastProcessedBlock: cp.LastProcessedBlock,
		ErrorCount:         cp.ErrorCount,
		LastError:          cp.LastError,
		CachedWallets:      s.cache.Len(),
	}

	head, err := s.client.CurrentBlockHeight(ctx)
	if err == nil {
		status.CurrentBlock = head
		if behind := head - cp.LastProcessedBlock; behind > 0 {
			status.BlocksBehind = behind
		}
	}
	return status, nil
}
