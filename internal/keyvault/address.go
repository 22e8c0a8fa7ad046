package keyvault

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcutil/base58"
	"golang.org/x/crypto/sha3"
)

// Tron addresses are Base58Check(0x41 + Keccak256(pubKey)[12:]).
// The same ECDSA secp256k1 curve as Ethereum, different encoding.
const (
	addressPrefix byte = 0x41
	addressLength      = 34
)

// AddressFromPrivateKey derives the Base58Check Tron address for a
// 32-byte secp256k1 private key.
func AddressFromPrivateKey(privateKey []byte) (string, error) {
	if len(privateKey) != 32 {
		return "", fmt.Errorf("%w: private key must be 32 bytes, got %d", ErrCrypto, len(privateKey))
	}

	_, pubKey := btcec.PrivKeyFromBytes(privateKey)
	pubBytes := pubKey.SerializeUncompressed()

	// Keccak256 of the key body (skip the 0x04 encoding prefix), last 20 bytes.
	hash := keccak256(pubBytes[1:])
	return base58CheckEncode(addressPrefix, hash[12:]), nil
}

// NormalizeAddress maps any encoding the chain may hand us - plain hex
// (41...), 0x-prefixed hex, or Base58 - to the single canonical Base58
// form. All address comparisons in the system go through this first.
func NormalizeAddress(addr string) (string, error) {
	addr = strings.TrimSpace(addr)
	if addr == "" {
		return "", fmt.Errorf("empty address")
	}

	if strings.HasPrefix(addr, "T") && len(addr) == addressLength {
		if !ValidateAddress(addr) {
			return "", fmt.Errorf("invalid address checksum: %s", addr)
		}
		return addr, nil
	}

	raw, err := hex.DecodeString(strings.TrimPrefix(addr, "0x"))
	if err != nil {
		return "", fmt.Errorf("unrecognized address %q: %w", addr, err)
	}
	switch {
	case len(raw) == 21 && raw[0] == addressPrefix:
		return base58CheckEncode(raw[0], raw[1:]), nil
	case len(raw) == 20:
		return base58CheckEncode(addressPrefix, raw), nil
	}
	return "", fmt.Errorf("unrecognized address %q", addr)
}

// ValidateAddress reports whether addr is a well-formed Base58Check
// Tron address.
func ValidateAddress(addr string) bool {
	if len(addr) != addressLength || !strings.HasPrefix(addr, "T") {
		return false
	}
	_, err := AddressPayload(addr)
	return err == nil
}

// AddressPayload returns the 20-byte account body of a Base58Check
// address, verifying version byte and checksum.
func AddressPayload(addr string) ([]byte, error) {
	decoded := base58.Decode(addr)
	if len(decoded) != 25 {
		return nil, fmt.Errorf("invalid address length: %s", addr)
	}
	if decoded[0] != addressPrefix {
		return nil, fmt.Errorf("invalid address version byte: %s", addr)
	}

	body, checksum := decoded[:21], decoded[21:]
	expected := doubleSHA256(body)[:4]
	if !bytes.Equal(checksum, expected) {
		return nil, fmt.Errorf("invalid address checksum: %s", addr)
	}
	return body[1:], nil
}

func base58CheckEncode(version byte, payload []byte) string {
	data := make([]byte, 0, 1+len(payload)+4)
	data = append(data, version)
	data = append(data, payload...)

	checksum := doubleSHA256(data)
	data = append(data, checksum[:4]...)

	return base58.Encode(data)
}

func doubleSHA256(data []byte) []byte {
	first := sha256.Sum256(data)
	second := sha256.Sum256(first[:])
	return second[:]
}

func keccak256(data []byte) []byte {
	h := sha3.NewLegacyKeccak256()
	h.Write(data)
	return h.Sum(nil)
}
