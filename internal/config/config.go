package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"trc20-custody-go/internal/models"
)

// Well-known USDT contract addresses, selected by network when no
// explicit contract is configured.
const (
	mainnetUSDTContract = "TR7NHqjeKQxGTCi8q8ZY4pL8otSzgjLj6t"
	nileUSDTContract    = "TXYZopYRdj2D9XRtbG411XZZ3kMAeBf"
)

func Load() (*models.Config, error) {
	connMaxLifetime, err := getEnvDuration("DB_CONN_MAX_LIFETIME", 5*time.Minute)
	if err != nil {
		return nil, err
	}
	connMaxIdleTime, err := getEnvDuration("DB_CONN_MAX_IDLE_TIME", 30*time.Second)
	if err != nil {
		return nil, err
	}
	pingTimeout, err := getEnvDuration("DB_PING_TIMEOUT", 5*time.Second)
	if err != nil {
		return nil, err
	}
	chainTimeout, err := getEnvDuration("TRON_REQUEST_TIMEOUT", 15*time.Second)
	if err != nil {
		return nil, err
	}
	scanInterval, err := getEnvDuration("SCANNER_INTERVAL", 20*time.Second)
	if err != nil {
		return nil, err
	}
	confirmInterval, err := getEnvDuration("CONFIRMATION_INTERVAL", 20*time.Second)
	if err != nil {
		return nil, err
	}
	cacheRefreshInterval, err := getEnvDuration("WALLET_CACHE_REFRESH_INTERVAL", 5*time.Minute)
	if err != nil {
		return nil, err
	}
	errorBackoff, err := getEnvDuration("SCANNER_ERROR_BACKOFF", time.Minute)
	if err != nil {
		return nil, err
	}
	sweepInterval, err := getEnvDuration("SWEEP_INTERVAL", 30*time.Second)
	if err != nil {
		return nil, err
	}
	gasWaitTimeout, err := getEnvDuration("GAS_WAIT_TIMEOUT", 90*time.Second)
	if err != nil {
		return nil, err
	}
	gasPollInterval, err := getEnvDuration("GAS_POLL_INTERVAL", 5*time.Second)
	if err != nil {
		return nil, err
	}
	apiTimeout, err := getEnvDuration("API_REQUEST_TIMEOUT", 60*time.Second)
	if err != nil {
		return nil, err
	}

	fullNode := getEnvString("TRON_FULL_NODE", "https://nile.trongrid.io")

	token := models.TokenConfig{
		ContractAddress: getEnvString("USDT_CONTRACT_ADDRESS", ""),
		Decimals:        getEnvInt("TOKEN_DECIMALS", 6),
		File:            getEnvString("TOKEN_CONFIG_FILE", ""),
	}
	if token.File != "" {
		fileToken, err := LoadTokenFile(token.File)
		if err != nil {
			return nil, err
		}
		if fileToken.ContractAddress != "" {
			token.ContractAddress = fileToken.ContractAddress
		}
		if fileToken.Decimals > 0 {
			token.Decimals = fileToken.Decimals
		}
	}
	if token.ContractAddress == "" {
		token.ContractAddress = defaultContractForNode(fullNode)
	}

	return &models.Config{
		Database: models.DatabaseConfig{
			Path:            getEnvString("DATABASE_PATH", "custody.db"),
			MaxOpenConns:    getEnvInt("DB_MAX_OPEN_CONNS", 25),
			MaxIdleConns:    getEnvInt("DB_MAX_IDLE_CONNS", 5),
			ConnMaxLifetime: connMaxLifetime,
			ConnMaxIdleTime: connMaxIdleTime,
			PingTimeout:     pingTimeout,
		},
		Chain: models.ChainConfig{
			FullNodeURL:    fullNode,
			APIKey:         getEnvString("TRON_GRID_API_KEY", ""),
			RequestTimeout: chainTimeout,
		},
		Token: token,
		Scanner: models.ScannerConfig{
			Name:                  getEnvString("SCANNER_NAME", "deposit-scanner"),
			BatchSize:             getEnvInt64("SCANNER_BATCH_SIZE", 10),
			SeedLag:               getEnvInt64("SCANNER_SEED_LAG", 100),
			RequiredConfirmations: getEnvInt64("REQUIRED_CONFIRMATIONS", 3),
			ScanInterval:          scanInterval,
			ConfirmInterval:       confirmInterval,
			CacheRefreshInterval:  cacheRefreshInterval,
			ErrorBackoff:          errorBackoff,
		},
		Sweep: models.SweepConfig{
			Interval:        sweepInterval,
			BatchSize:       getEnvInt("SWEEP_BATCH_SIZE", 10),
			MinGasSun:       getEnvInt64("SWEEP_MIN_GAS_SUN", 10_000_000),
			GasTopupSun:     getEnvInt64("SWEEP_GAS_TOPUP_SUN", 10_000_000),
			GasWaitTimeout:  gasWaitTimeout,
			GasPollInterval: gasPollInterval,
		},
		Withdrawal: models.WithdrawalConfig{
			MinAmount: getEnvInt64("MIN_WITHDRAWAL_RAW", 20_000_000),
		},
		API: models.APIConfig{
			ListenAddr:     getEnvString("API_LISTEN_ADDR", ":8080"),
			JWTSecret:      getEnvString("JWT_SECRET", ""),
			RequestTimeout: apiTimeout,
		},
		Vault: models.VaultConfig{
			EncryptedMnemonic: getEnvString("MASTER_WALLET_MNEMONIC", ""),
			EncryptionKeyHex:  getEnvString("ENCRYPTION_KEY", ""),
			PoolThreshold:     getEnvInt("DERIVATION_POOL_THRESHOLD", 200),
			PoolBatchSize:     getEnvInt("DERIVATION_POOL_BATCH", 1000),
		},
		Redis: models.RedisConfig{
			URL:     getEnvString("REDIS_URL", ""),
			Enabled: getEnvBool("REDIS_ENABLED", false),
		},
	}, nil
}

func defaultContractForNode(fullNode string) string {
	if strings.Contains(fullNode, "nile") {
		return nileUSDTContract
	}
	return mainnetUSDTContract
}

func getEnvString(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) (time.Duration, error) {
	if value := os.Getenv(key); value != "" {
		duration, err := time.ParseDuration(value)
		if err != nil {
			return 0, fmt.Errorf("invalid duration for %s: %q (%w)", key, value, err)
		}
		return duration, nil
	}
	return defaultValue, nil
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getEnvInt64(key string, defaultValue int64) int64 {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.ParseInt(value, 10, 64); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolValue, err := strconv.ParseBool(value); err == nil {
			return boolValue
		}
	}
	return defaultValue
}
