package keyvault

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"

	"github.com/tyler-smith/go-bip32"
	"github.com/tyler-smith/go-bip39"
	"go.uber.org/zap"
)

// ErrCrypto is returned for any key-material failure: wrong key length,
// authentication-tag mismatch on decrypt, malformed seed blob. The
// operation that hit it must abort; key buffers are zeroed regardless.
var ErrCrypto = errors.New("crypto operation failed")

const (
	encryptionKeyLength = 32
	ivLength            = 16

	// Additional authenticated data bound into the GCM seal.
	seedAAD = "trc20-custody-mnemonic"

	// BIP44 coin type for Tron.
	tronCoinType uint32 = 195
)

// Vault holds the encrypted master mnemonic and the symmetric key used
// to unseal it. The mnemonic is decrypted per operation and overwritten
// immediately after the derive-and-use call; it is never cached, logged,
// or included in error payloads.
type Vault struct {
	encryptedMnemonic string
	key               []byte
	masterAddress     string
}

// ChildKey is one derived key pair. Callers must call Zero before
// returning on every path, success or failure.
type ChildKey struct {
	PrivateKey []byte
	Address    string
	Path       string
}

// Zero overwrites the private key material.
func (k *ChildKey) Zero() {
	if k == nil {
		return
	}
	zeroBytes(k.PrivateKey)
}

// New validates the key length, proves the blob decrypts, and records
// the master (index 0) address. Fails fast with ErrCrypto so a
// misconfigured deployment never reaches the sweep or withdrawal paths.
func New(encryptedMnemonic, encryptionKeyHex string) (*Vault, error) {
	key, err := hex.DecodeString(encryptionKeyHex)
	if err != nil {
		return nil, fmt.Errorf("%w: encryption key is not valid hex", ErrCrypto)
	}
	if len(key) != encryptionKeyLength {
		return nil, fmt.Errorf("%w: encryption key must be %d bytes, got %d", ErrCrypto, encryptionKeyLength, len(key))
	}
	if encryptedMnemonic == "" {
		return nil, fmt.Errorf("%w: encrypted mnemonic is empty", ErrCrypto)
	}

	v := &Vault{encryptedMnemonic: encryptedMnemonic, key: key}

	master, err := v.DeriveChild(0)
	if err != nil {
		return nil, err
	}
	defer master.Zero()
	v.masterAddress = master.Address

	return v, nil
}

// MasterAddress returns the index-0 address funds are swept to.
func (v *Vault) MasterAddress() string {
	return v.masterAddress
}

// MasterKey derives the master signing key (index 0).
func (v *Vault) MasterKey() (*ChildKey, error) {
	return v.DeriveChild(0)
}

// DeriveChild decrypts the mnemonic, derives m/44'/195'/0'/0/{index},
// and returns the key pair. All intermediate buffers are overwritten
// before return on every exit path.
func (v *Vault) DeriveChild(index uint32) (*ChildKey, error) {
	zap.L().Info("audit: master seed accessed",
		zap.String("operation", "derive_child"),
		zap.Uint32("derivation_index", index))

	mnemonic, err := v.decryptMnemonic()
	if err != nil {
		return nil, err
	}
	defer zeroBytes(mnemonic)

	// bip39 takes the mnemonic as an immutable string; the byte buffer
	// we control is still scrubbed above.
	seed := bip39.NewSeed(string(mnemonic), "")
	defer zeroBytes(seed)

	privateKey, err := deriveChildKey(seed, index)
	if err != nil {
		return nil, fmt.Errorf("%w: derivation at index %d: %v", ErrCrypto, index, err)
	}

	address, err := AddressFromPrivateKey(privateKey)
	if err != nil {
		zeroBytes(privateKey)
		return nil, err
	}

	return &ChildKey{
		PrivateKey: privateKey,
		Address:    address,
		Path:       fmt.Sprintf("m/44'/%d'/0'/0/%d", tronCoinType, index),
	}, nil
}

// deriveChildKey walks m/44'/195'/0'/0/{index}, zeroing every
// intermediate extended key.
func deriveChildKey(seed []byte, index uint32) ([]byte, error) {
	masterKey, err := bip32.NewMasterKey(seed)
	if err != nil {
		return nil, fmt.Errorf("master key: %w", err)
	}
	defer zeroBytes(masterKey.Key)

	purpose, err := masterKey.NewChildKey(bip32.FirstHardenedChild + 44)
	if err != nil {
		return nil, fmt.Errorf("derive purpose: %w", err)
	}
	defer zeroBytes(purpose.Key)

	coin, err := purpose.NewChildKey(bip32.FirstHardenedChild + tronCoinType)
	if err != nil {
		return nil, fmt.Errorf("derive coin: %w", err)
	}
	defer zeroBytes(coin.Key)

	account, err := coin.NewChildKey(bip32.FirstHardenedChild + 0)
	if err != nil {
		return nil, fmt.Errorf("derive account: %w", err)
	}
	defer zeroBytes(account.Key)

	change, err := account.NewChildKey(0)
	if err != nil {
		return nil, fmt.Errorf("derive change: %w", err)
	}
	defer zeroBytes(change.Key)

	child, err := change.NewChildKey(index)
	if err != nil {
		return nil, fmt.Errorf("derive child: %w", err)
	}

	privateKey := make([]byte, len(child.Key))
	copy(privateKey, child.Key)
	zeroBytes(child.Key)

	return privateKey, nil
}

// decryptMnemonic unseals the ivHex:authTagHex:cipherHex blob with
// AES-256-GCM. Any parse or authentication failure maps to ErrCrypto
// without echoing the blob or key.
func (v *Vault) decryptMnemonic() ([]byte, error) {
	parts := strings.Split(v.encryptedMnemonic, ":")
	if len(parts) != 3 {
		return nil, fmt.Errorf("%w: encrypted mnemonic must be iv:tag:cipher", ErrCrypto)
	}

	iv, err := hex.DecodeString(parts[0])
	if err != nil || len(iv) == 0 {
		return nil, fmt.Errorf("%w: malformed iv", ErrCrypto)
	}
	tag, err := hex.DecodeString(parts[1])
	if err != nil {
		return nil, fmt.Errorf("%w: malformed auth tag", ErrCrypto)
	}
	ciphertext, err := hex.DecodeString(parts[2])
	if err != nil {
		return nil, fmt.Errorf("%w: malformed ciphertext", ErrCrypto)
	}

	block, err := aes.NewCipher(v.key)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCrypto, err)
	}
	gcm, err := cipher.NewGCMWithNonceSize(block, len(iv))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCrypto, err)
	}

	sealed := append(ciphertext, tag...) //nolint:gocritic // GCM expects cipher||tag
	plaintext, err := gcm.Open(nil, iv, sealed, []byte(seedAAD))
	if err != nil {
		zap.L().Error("audit: mnemonic authentication failed",
			zap.String("operation", "decrypt_mnemonic"))
		return nil, fmt.Errorf("%w: authentication failed", ErrCrypto)
	}
	return plaintext, nil
}

// EncryptMnemonic seals a mnemonic into the ivHex:authTagHex:cipherHex
// layout. Used by the setup tool; the running service only decrypts.
func EncryptMnemonic(mnemonic, encryptionKeyHex string) (string, error) {
	key, err := hex.DecodeString(encryptionKeyHex)
	if err != nil {
		return "", fmt.Errorf("%w: encryption key is not valid hex", ErrCrypto)
	}
	if len(key) != encryptionKeyLength {
		return "", fmt.Errorf("%w: encryption key must be %d bytes, got %d", ErrCrypto, encryptionKeyLength, len(key))
	}

	iv := make([]byte, ivLength)
	if _, err := rand.Read(iv); err != nil {
		return "", fmt.Errorf("%w: %v", ErrCrypto, err)
	}

	block, err := aes.NewCipher(key)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrCrypto, err)
	}
	gcm, err := cipher.NewGCMWithNonceSize(block, ivLength)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrCrypto, err)
	}

	sealed := gcm.Seal(nil, iv, []byte(mnemonic), []byte(seedAAD))
	ciphertext := sealed[:len(sealed)-gcm.Overhead()]
	tag := sealed[len(sealed)-gcm.Overhead():]

	return fmt.Sprintf("%s:%s:%s",
		hex.EncodeToString(iv),
		hex.EncodeToString(tag),
		hex.EncodeToString(ciphertext)), nil
}

// GenerateMnemonic produces a fresh 12-word BIP39 mnemonic.
func GenerateMnemonic() (string, error) {
	entropy, err := bip39.NewEntropy(128)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrCrypto, err)
	}
	mnemonic, err := bip39.NewMnemonic(entropy)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrCrypto, err)
	}
	return mnemonic, nil
}

// ValidateMnemonic reports whether the phrase is a valid BIP39 mnemonic.
func ValidateMnemonic(mnemonic string) bool {
	return bip39.IsMnemonicValid(mnemonic)
}

// GenerateEncryptionKey produces a random 32-byte key, hex encoded.
func GenerateEncryptionKey() (string, error) {
	key := make([]byte, encryptionKeyLength)
	if _, err := rand.Read(key); err != nil {
		return "", fmt.Errorf("%w: %v", ErrCrypto, err)
	}
	return hex.EncodeToString(key), nil
}

func zeroBytes(b []byte) {
	for i := range b {
		b[i] = 0
	}
}
