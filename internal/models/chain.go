package models

// TransferEvent is one token Transfer log as reported by the chain
// indexer. Addresses may arrive in hex, 0x-prefixed hex, or Base58 form;
// consumers must normalize before comparing. RawValue is in smallest
// token units.
type TransferEvent struct {
	TxHash         string
	LogIndex       int64
	BlockNumber    int64
	BlockTimestamp int64
	From           string
	To             string
	RawValue       int64
}

// ScannerStatus is a point-in-time snapshot of the deposit scanner.
type ScannerStatus struct {
	ScannerName        string `json:"scanner_name"`
	IsRunning          bool   `json:"is_running"`
	CurrentBlock       int64  `json:"current_block"`
	LastProcessedBlock int64  `json:"last_processed_block"`
	BlocksBehind       int64  `json:"blocks_behind"`
	ErrorCount         int64  `json:"error_count"`
	LastError          string `json:"last_error,omitempty"`
	CachedWallets      int    `json:"cached_wallets"`
}

// SweepStats summarises sweep progress.
type SweepStats struct {
	PendingSweeps    int64 `json:"pending_sweeps"`
	CompletedSweeps  int64 `json:"completed_sweeps"`
	TotalSweptAmount int64 `json:"total_swept_amount"`
}
