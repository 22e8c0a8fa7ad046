// Package wallet maintains the pool of pre-derived deposit addresses.
package wallet

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"trc20-custody-go/internal/database"
	"trc20-custody-go/internal/keyvault"
	"trc20-custody-go/internal/models"
)

// Pool hands out FREE addresses and tops the pool up from the vault
// when it runs low. Addresses are derived ahead of time so assignment
// never touches key material.
type Pool struct {
	db        *database.Service
	vault     *keyvault.Vault
	threshold int64
	batchSize int64
}

func NewPool(db *database.Service, vault *keyvault.Vault, cfg models.VaultConfig) *Pool {
	return &Pool{
		db:        db,
		vault:     vault,
		threshold: int64(cfg.PoolThreshold),
		batchSize: int64(cfg.PoolBatchSize),
	}
}

// Assign gives the user a deposit address, reusing the one they
// already hold. After a successful claim the pool is refilled in the
// background if it dropped below the threshold.
func (p *Pool) Assign(ctx context.Context, userId string) (*models.ChildWallet, error) {
	w, err := p.db.AssignWallet(ctx, userId)
	if errors.Is(err, database.ErrPoolExhausted) {
		// Refill synchronously and retry once.
		if refillErr := p.Refill(ctx); refillErr != nil {
			return nil, fmt.Errorf("pool exhausted and refill failed: %w", refillErr)
		}
		w, err = p.db.AssignWallet(ctx, userId)
	}
	if err != nil {
		return nil, err
	}

	go p.refillIfLow(context.WithoutCancel(ctx))

	zap.L().Info("Wallet assigned",
		zap.String("user_id", userId),
		zap.String("address", w.Address),
		zap.Int64("derivation_index", w.DerivationIndex))
	return w, nil
}

func (p *Pool) refillIfLow(ctx context.Context) {
	free, err := p.db.CountFreeWallets(ctx)
	if err != nil {
		zap.L().Warn("Unable to check pool level", zap.Error(err))
		return
	}
	if free >= p.threshold {
		return
	}
	if err := p.Refill(ctx); err != nil {
		zap.L().Error("Background pool refill failed", zap.Error(err))
	}
}

// Refill derives the next batch of child addresses and inserts them as
// FREE. Derivation starts after the highest index ever used; index 0
// belongs to the master wallet and is skipped.
func (p *Pool) Refill(ctx context.Context) error {
	maxIndex, err := p.db.MaxDerivationIndex(ctx)
	if err != nil {
		return err
	}
	start := maxIndex + 1

	wallets := make([]models.ChildWallet, 0, p.batchSize)
	for i := int64(0); i < p.batchSize; i++ {
		index := start + i
		child, err := p.vault.DeriveChild(uint32(index))
		if err != nil {
			return fmt.Errorf("derivation failed at index %d: %w", index, err)
		}
		wallets = append(wallets, models.ChildWallet{
			DerivationIndex: index,
			Address:         child.Address,
			Status:          models.WalletFree,
		})
		child.Zero()
	}

	if err := p.db.InsertChildWallets(ctx, wallets); err != nil {
		return err
	}

	zap.L().Info("Wallet pool refilled",
		zap.Int64("from_index", start),
		zap.Int64("count", p.batchSize))
	return nil
}

// EnsureSeeded fills an empty pool at startup.
func (p *Pool) EnsureSeeded(ctx context.Context) error {
	free, err := p.db.CountFreeWallets(ctx)
	if err != nil {
		return err
	}
	if free >= p.threshold {
		return nil
	}
	return p.Refill(ctx)
}
