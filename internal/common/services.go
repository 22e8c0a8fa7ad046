package common

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"trc20-custody-go/internal/chain"
	"trc20-custody-go/internal/database"
	"trc20-custody-go/internal/keyvault"
	"trc20-custody-go/internal/models"
)

// Services bundles the shared backends every binary needs: the
// database, the key vault, the chain client and the optional Redis
// mirror.
type Services struct {
	Config models.Config
	DB     *database.Service
	Vault  *keyvault.Vault
	Chain  chain.Client
	Redis  *redis.Client
}

func InitializeServices(ctx context.Context, cfg models.Config) (*Services, error) {
	db, err := database.NewService(ctx, cfg.Database)
	if err != nil {
		return nil, fmt.Errorf("database init failed: %w", err)
	}

	vault, err := keyvault.New(cfg.Vault.EncryptedMnemonic, cfg.Vault.EncryptionKeyHex)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("vault init failed: %w", err)
	}

	var rdb *redis.Client
	if cfg.Redis.Enabled {
		opts, err := redis.ParseURL(cfg.Redis.URL)
		if err != nil {
			db.Close()
			return nil, fmt.Errorf("bad redis url: %w", err)
		}
		rdb = redis.NewClient(opts)
		if err := rdb.Ping(ctx).Err(); err != nil {
			zap.L().Warn("Redis unreachable, continuing without it", zap.Error(err))
			rdb = nil
		}
	}

	zap.L().Info("Services initialized",
		zap.String("master_address", vault.MasterAddress()),
		zap.String("token_contract", cfg.Token.ContractAddress),
		zap.Bool("redis", rdb != nil))

	return &Services{
		Config: cfg,
		DB:     db,
		Vault:  vault,
		Chain:  chain.NewTronGrid(cfg.Chain),
		Redis:  rdb,
	}, nil
}

func (s *Services) Close() {
	if s.Redis != nil {
		if err := s.Redis.Close(); err != nil {
			zap.L().Warn("Failed to close redis client", zap.Error(err))
		}
	}
	s.DB.Close()
}
