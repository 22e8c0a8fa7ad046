package chain

import (
	"bytes"
	"context"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcec/v2/ecdsa"
	"go.uber.org/zap"

	"trc20-custody-go/internal/keyvault"
	"trc20-custody-go/internal/models"
)

const (
	apiKeyHeader = "TRON-PRO-API-KEY"

	// Fee limit for token transfers, in sun (100 TRX).
	tokenFeeLimit = 100_000_000

	eventsPageLimit = 200
	maxEventPages   = 10
)

// TronGrid implements Client against the TronGrid HTTP API: the full
// node endpoints for blocks/balances/transactions and the v1 event
// indexer for Transfer logs.
type TronGrid struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
}

var _ Client = (*TronGrid)(nil)

func NewTronGrid(cfg models.ChainConfig) *TronGrid {
	return &TronGrid{
		baseURL: strings.TrimRight(cfg.FullNodeURL, "/"),
		apiKey:  cfg.APIKey,
		httpClient: &http.Client{
			Timeout: cfg.RequestTimeout,
		},
	}
}

type blockHeader struct {
	RawData struct {
		Number    int64 `json:"number"`
		Timestamp int64 `json:"timestamp"`
	} `json:"raw_data"`
}

type blockResponse struct {
	BlockHeader blockHeader `json:"block_header"`
}

func (c *TronGrid) CurrentBlockHeight(ctx context.Context) (int64, error) {
	var resp blockResponse
	if err := c.post(ctx, "/wallet/getnowblock", map[string]any{}, &resp); err != nil {
		return 0, err
	}
	if resp.BlockHeader.RawData.Number == 0 {
		return 0, transient("getnowblock", fmt.Errorf("empty block header"))
	}
	return resp.BlockHeader.RawData.Number, nil
}

func (c *TronGrid) BlockTimestamp(ctx context.Context, height int64) (int64, error) {
	var resp blockResponse
	if err := c.post(ctx, "/wallet/getblockbynum", map[string]any{"num": height}, &resp); err != nil {
		return 0, err
	}
	if resp.BlockHeader.RawData.Timestamp == 0 {
		return 0, fmt.Errorf("block %d has no timestamp", height)
	}
	return resp.BlockHeader.RawData.Timestamp, nil
}

type eventEntry struct {
	TransactionId  string            `json:"transaction_id"`
	BlockNumber    int64             `json:"block_number"`
	BlockTimestamp int64             `json:"block_timestamp"`
	EventIndex     int64             `json:"event_index"`
	Result         map[string]string `json:"result"`
}

type eventsResponse struct {
	Data []eventEntry `json:"data"`
	Meta struct {
		Fingerprint string `json:"fingerprint"`
	} `json:"meta"`
}

// TokenTransferEvents queries the event indexer for Transfer logs in
// (fromBlock, toBlock]. The indexer is keyed by block timestamps, so
// the block numbers are resolved to timestamps first; results outside
// the requested block range are filtered out again after the fetch.
func (c *TronGrid) TokenTransferEvents(ctx context.Context, contract string, fromBlock, toBlock int64) ([]models.TransferEvent, error) {
	minTs, err := c.BlockTimestamp(ctx, fromBlock)
	if err != nil {
		return nil, err
	}
	maxTs, err := c.BlockTimestamp(ctx, toBlock)
	if err != nil {
		return nil, err
	}

	var events []models.TransferEvent
	fingerprint := ""
	for page := 0; page < maxEventPages; page++ {
		q := url.Values{}
		q.Set("only_confirmed", "true")
		q.Set("event_name", "Transfer")
		q.Set("min_block_timestamp", strconv.FormatInt(minTs, 10))
		q.Set("max_block_timestamp", strconv.FormatInt(maxTs, 10))
		q.Set("order_by", "block_timestamp,asc")
		q.Set("limit", strconv.Itoa(eventsPageLimit))
		if fingerprint != "" {
			q.Set("fingerprint", fingerprint)
		}

		var resp eventsResponse
		path := fmt.Sprintf("/v1/contracts/%s/events?%s", contract, q.Encode())
		if err := c.get(ctx, path, &resp); err != nil {
			return nil, err
		}

		for _, entry := range resp.Data {
			if entry.BlockNumber <= fromBlock || entry.BlockNumber > toBlock {
				continue
			}
			ev, err := entry.toTransferEvent()
			if err != nil {
				zap.L().Warn("Skipping malformed transfer event",
					zap.String("tx_hash", entry.TransactionId),
					zap.Int64("block", entry.BlockNumber),
					zap.Error(err))
				continue
			}
			events = append(events, ev)
		}

		fingerprint = resp.Meta.Fingerprint
		if fingerprint == "" || len(resp.Data) < eventsPageLimit {
			break
		}
	}

	return events, nil
}

func (e eventEntry) toTransferEvent() (models.TransferEvent, error) {
	if e.TransactionId == "" {
		return models.TransferEvent{}, fmt.Errorf("missing transaction id")
	}
	to, ok := e.Result["to"]
	if !ok || to == "" {
		return models.TransferEvent{}, fmt.Errorf("missing recipient")
	}
	value, err := parseEventValue(e.Result["value"])
	if err != nil {
		return models.TransferEvent{}, fmt.Errorf("bad value: %w", err)
	}

	return models.TransferEvent{
		TxHash:         e.TransactionId,
		LogIndex:       e.EventIndex,
		BlockNumber:    e.BlockNumber,
		BlockTimestamp: e.BlockTimestamp,
		From:           e.Result["from"],
		To:             to,
		RawValue:       value,
	}, nil
}

// parseEventValue accepts both decimal and 0x-hex encodings, as the
// indexer emits either depending on version.
func parseEventValue(s string) (int64, error) {
	if s == "" {
		return 0, fmt.Errorf("empty value")
	}
	if strings.HasPrefix(s, "0x") || strings.HasPrefix(s, "0X") {
		v, err := strconv.ParseInt(s[2:], 16, 64)
		if err != nil {
			return 0, err
		}
		return v, nil
	}
	return strconv.ParseInt(s, 10, 64)
}

type accountResponse struct {
	Balance int64 `json:"balance"`
}

func (c *TronGrid) NativeBalance(ctx context.Context, address string) (int64, error) {
	var resp accountResponse
	err := c.post(ctx, "/wallet/getaccount", map[string]any{
		"address": address,
		"visible": true,
	}, &resp)
	if err != nil {
		return 0, err
	}
	// Unactivated accounts come back empty; their balance is zero.
	return resp.Balance, nil
}

type constantResult struct {
	ConstantResult []string `json:"constant_result"`
	Result         struct {
		Result  bool   `json:"result"`
		Message string `json:"message"`
	} `json:"result"`
}

func (c *TronGrid) TokenBalance(ctx context.Context, address, contract string) (int64, error) {
	param, err := encodeAddressParam(address)
	if err != nil {
		return 0, err
	}

	var resp constantResult
	err = c.post(ctx, "/wallet/triggerconstantcontract", map[string]any{
		"owner_address":     address,
		"contract_address":  contract,
		"function_selector": "balanceOf(address)",
		"parameter":         param,
		"visible":           true,
	}, &resp)
	if err != nil {
		return 0, err
	}
	if len(resp.ConstantResult) == 0 {
		return 0, fmt.Errorf("balanceOf returned no result: %s", resp.Result.Message)
	}

	v, err := strconv.ParseInt(strings.TrimLeft(resp.ConstantResult[0], "0"), 16, 64)
	if err != nil {
		if strings.Trim(resp.ConstantResult[0], "0") == "" {
			return 0, nil
		}
		return 0, fmt.Errorf("unparseable balanceOf result %q: %w", resp.ConstantResult[0], err)
	}
	return v, nil
}

func (c *TronGrid) SendNative(ctx context.Context, privateKey []byte, to string, amountSun int64) (string, error) {
	from, err := keyvault.AddressFromPrivateKey(privateKey)
	if err != nil {
		return "", err
	}

	var tx map[string]json.RawMessage
	err = c.post(ctx, "/wallet/createtransaction", map[string]any{
		"owner_address": from,
		"to_address":    to,
		"amount":        amountSun,
		"visible":       true,
	}, &tx)
	if err != nil {
		return "", err
	}

	return c.signAndBroadcast(ctx, tx, privateKey)
}

type triggerResponse struct {
	Result struct {
		Result  bool   `json:"result"`
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"result"`
	Transaction map[string]json.RawMessage `json:"transaction"`
}

func (c *TronGrid) SendToken(ctx context.Context, privateKey []byte, to string, rawAmount int64, contract string) (string, error) {
	from, err := keyvault.AddressFromPrivateKey(privateKey)
	if err != nil {
		return "", err
	}
	param, err := encodeTransferParams(to, rawAmount)
	if err != nil {
		return "", err
	}

	var resp triggerResponse
	err = c.post(ctx, "/wallet/triggersmartcontract", map[string]any{
		"owner_address":     from,
		"contract_address":  contract,
		"function_selector": "transfer(address,uint256)",
		"parameter":         param,
		"fee_limit":         tokenFeeLimit,
		"call_value":        0,
		"visible":           true,
	}, &resp)
	if err != nil {
		return "", err
	}
	if !resp.Result.Result {
		return "", fmt.Errorf("triggersmartcontract rejected: %s %s", resp.Result.Code, resp.Result.Message)
	}

	return c.signAndBroadcast(ctx, resp.Transaction, privateKey)
}

type broadcastResponse struct {
	Result  bool   `json:"result"`
	TxId    string `json:"txid"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

// signAndBroadcast signs the prepared transaction locally and submits
// it. The transaction id is the SHA256 of the raw transaction, so the
// signature is computed over the txID bytes.
func (c *TronGrid) signAndBroadcast(ctx context.Context, tx map[string]json.RawMessage, privateKey []byte) (string, error) {
	if len(tx) == 0 {
		return "", fmt.Errorf("empty transaction from node")
	}
	if raw, ok := tx["Error"]; ok {
		return "", fmt.Errorf("node rejected transaction: %s", string(raw))
	}

	var txID string
	if raw, ok := tx["txID"]; ok {
		if err := json.Unmarshal(raw, &txID); err != nil {
			return "", fmt.Errorf("bad txID in transaction: %w", err)
		}
	}
	if txID == "" {
		return "", fmt.Errorf("transaction missing txID")
	}

	sig, err := signTxID(txID, privateKey)
	if err != nil {
		return "", err
	}
	sigJSON, err := json.Marshal([]string{sig})
	if err != nil {
		return "", err
	}
	tx["signature"] = sigJSON

	var resp broadcastResponse
	if err := c.post(ctx, "/wallet/broadcasttransaction", tx, &resp); err != nil {
		return "", err
	}
	if !resp.Result {
		return "", fmt.Errorf("broadcast rejected: %s %s", resp.Code, resp.Message)
	}
	if resp.TxId != "" {
		return resp.TxId, nil
	}
	return txID, nil
}

// signTxID produces the 65-byte r||s||recid signature Tron expects.
func signTxID(txID string, privateKey []byte) (string, error) {
	hash, err := hex.DecodeString(txID)
	if err != nil || len(hash) != 32 {
		return "", fmt.Errorf("txID is not a 32-byte hash: %q", txID)
	}

	priv, _ := btcec.PrivKeyFromBytes(privateKey)
	compact := ecdsa.SignCompact(priv, hash, false)

	// SignCompact returns header||r||s with header = 27 + recid;
	// rearrange to r||s||recid.
	sig := make([]byte, 65)
	copy(sig, compact[1:])
	sig[64] = compact[0] - 27

	return hex.EncodeToString(sig), nil
}

// encodeTransferParams ABI-encodes (address,uint256) for transfer().
func encodeTransferParams(to string, rawAmount int64) (string, error) {
	addrParam, err := encodeAddressParam(to)
	if err != nil {
		return "", err
	}
	return addrParam + fmt.Sprintf("%064x", uint64(rawAmount)), nil
}

// encodeAddressParam left-pads the 20-byte account body to 32 bytes.
func encodeAddressParam(addr string) (string, error) {
	canonical, err := keyvault.NormalizeAddress(addr)
	if err != nil {
		return "", err
	}
	payload, err := keyvault.AddressPayload(canonical)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%064s", hex.EncodeToString(payload)), nil
}

// --- HTTP plumbing ---

func (c *TronGrid) post(ctx context.Context, path string, body any, out any) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("marshal request for %s: %w", path, err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	return c.do(req, path, out)
}

func (c *TronGrid) get(ctx context.Context, path string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return err
	}
	return c.do(req, path, out)
}

func (c *TronGrid) do(req *http.Request, op string, out any) error {
	if c.apiKey != "" {
		req.Header.Set(apiKeyHeader, c.apiKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return transient(op, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return transient(op, err)
	}

	if resp.StatusCode != http.StatusOK {
		err := fmt.Errorf("%s returned %d: %s", op, resp.StatusCode, truncate(string(body), 200))
		if retryableStatus(resp.StatusCode) {
			return transient(op, err)
		}
		return err
	}

	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("decode %s response: %w", op, err)
	}
	return nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
