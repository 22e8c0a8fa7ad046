package chain

import (
	"context"

	"trc20-custody-go/internal/models"
)

// Client is the chain-data/RPC collaborator. Implementations make no
// ordering or exactly-once guarantees for TokenTransferEvents; callers
// must deduplicate on (tx hash, log index).
type Client interface {
	// CurrentBlockHeight returns the chain head block number.
	CurrentBlockHeight(ctx context.Context) (int64, error)

	// BlockTimestamp returns the millisecond timestamp of a block.
	BlockTimestamp(ctx context.Context, height int64) (int64, error)

	// TokenTransferEvents returns Transfer logs for the contract in
	// (fromBlock, toBlock], both bounds as block numbers.
	TokenTransferEvents(ctx context.Context, contract string, fromBlock, toBlock int64) ([]models.TransferEvent, error)

	// NativeBalance returns the native-coin balance in sun.
	NativeBalance(ctx context.Context, address string) (int64, error)

	// TokenBalance returns the token balance in raw units.
	TokenBalance(ctx context.Context, address, contract string) (int64, error)

	// SendNative signs and broadcasts a native transfer, returning the
	// transaction hash on broadcast acceptance.
	SendNative(ctx context.Context, privateKey []byte, to string, amountSun int64) (string, error)

	// SendToken signs and broadcasts a token transfer of rawAmount
	// smallest units, returning the transaction hash.
	SendToken(ctx context.Context, privateKey []byte, to string, rawAmount int64, contract string) (string, error)
}
