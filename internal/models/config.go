package models

import "time"

// Config represents the application configuration
type Config struct {
	Database   DatabaseConfig
	Chain      ChainConfig
	Token      TokenConfig
	Scanner    ScannerConfig
	Sweep      SweepConfig
	Withdrawal WithdrawalConfig
	API        APIConfig
	Vault      VaultConfig
	Redis      RedisConfig
}

// DatabaseConfig holds database connection settings
type DatabaseConfig struct {
	Path            string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	ConnMaxIdleTime time.Duration
	PingTimeout     time.Duration
}

// ChainConfig holds chain RPC/indexer settings
type ChainConfig struct {
	FullNodeURL    string
	APIKey         string
	RequestTimeout time.Duration
}

// TokenConfig describes the monitored TRC20 token.
type TokenConfig struct {
	ContractAddress string
	Decimals        int
	File            string
}

// ScannerConfig holds deposit scanner settings
type ScannerConfig struct {
	Name                  string
	BatchSize             int64
	SeedLag               int64
	RequiredConfirmations int64
	ScanInterval          time.Duration
	ConfirmInterval       time.Duration
	CacheRefreshInterval  time.Duration
	ErrorBackoff          time.Duration
}

// SweepConfig holds sweep orchestrator settings. Gas amounts are in sun
// (smallest native unit).
type SweepConfig struct {
	Interval        time.Duration
	BatchSize       int
	MinGasSun       int64
	GasTopupSun     int64
	GasWaitTimeout  time.Duration
	GasPollInterval time.Duration
}

// WithdrawalConfig holds withdrawal workflow settings. MinAmount is in
// raw token units.
type WithdrawalConfig struct {
	MinAmount int64
}

// APIConfig holds HTTP server settings
type APIConfig struct {
	ListenAddr     string
	JWTSecret      string
	RequestTimeout time.Duration
}

// VaultConfig holds the encrypted master seed material. The mnemonic is
// the opaque ivHex:authTagHex:cipherHex blob produced by the setup tool.
type VaultConfig struct {
	EncryptedMnemonic string
	EncryptionKeyHex  string
	PoolThreshold     int
	PoolBatchSize     int
}

// RedisConfig holds the optional Redis mirror for the scanner's address
// cache and its deposit-confirmed publications.
type RedisConfig struct {
	URL     string
	Enabled bool
}
