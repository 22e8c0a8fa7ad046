// Command setup provisions the custody wallet: it generates (or
// imports) the master mnemonic, encrypts it, pre-derives the initial
// address pool and registers any initial users.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"strings"

	"go.uber.org/zap"

	"trc20-custody-go/internal/common"
	"trc20-custody-go/internal/config"
	"trc20-custody-go/internal/keyvault"
	"trc20-custody-go/internal/wallet"
)

func main() {
	generate := flag.Bool("generate", false, "Generate a new mnemonic and encryption key, print the env values and exit")
	importMnemonic := flag.String("import", "", "Encrypt an existing BIP39 mnemonic with a freshly generated key, print the env values and exit")
	seedPool := flag.Bool("seed-pool", false, "Derive the initial address pool using the configured vault")
	addUser := flag.String("add-user", "", "Register a user as id:email[:role]")
	flag.Parse()

	if *generate || *importMnemonic != "" {
		if err := provision(*importMnemonic); err != nil {
			fmt.Fprintf(os.Stderr, "setup failed: %v\n", err)
			os.Exit(1)
		}
		return
	}

	cfg, err := config.Load()
	if err != nil {
		_, _ = zap.NewProduction()
		zap.L().Fatal("Failed to load configuration", zap.Error(err))
	}

	_, loggerCleanup := common.InitializeLogger()
	defer loggerCleanup()

	ctx := context.Background()
	services, err := common.InitializeServices(ctx, *cfg)
	if err != nil {
		zap.L().Fatal("Failed to initialize services", zap.Error(err))
	}
	defer services.Close()

	fmt.Printf("Master address: %s\n", services.Vault.MasterAddress())

	if *seedPool {
		pool := wallet.NewPool(services.DB, services.Vault, cfg.Vault)
		if err := pool.EnsureSeeded(ctx); err != nil {
			zap.L().Fatal("Failed to seed wallet pool", zap.Error(err))
		}
		free, err := services.DB.CountFreeWallets(ctx)
		if err != nil {
			zap.L().Fatal("Failed to count pool", zap.Error(err))
		}
		fmt.Printf("Address pool ready: %d free addresses\n", free)
	}

	if *addUser != "" {
		id, email, role, err := parseUserArg(*addUser)
		if err != nil {
			zap.L().Fatal("Bad -add-user value", zap.Error(err))
		}
		if err := services.DB.CreateUser(ctx, id, email, role); err != nil {
			zap.L().Fatal("Failed to create user", zap.Error(err))
		}
		fmt.Printf("User registered: %s (%s, %s)\n", id, email, role)
	}
}

// provision creates the encrypted seed material. The mnemonic itself
// is printed once, to stdout only, and never logged.
func provision(existingMnemonic string) error {
	mnemonic := existingMnemonic
	if mnemonic == "" {
		var err error
		mnemonic, err = keyvault.GenerateMnemonic()
		if err != nil {
			return err
		}
	} else if !keyvault.ValidateMnemonic(mnemonic) {
		return fmt.Errorf("provided mnemonic fails BIP39 checksum")
	}

	keyHex, err := keyvault.GenerateEncryptionKey()
	if err != nil {
		return err
	}
	blob, err := keyvault.EncryptMnemonic(mnemonic, keyHex)
	if err != nil {
		return err
	}

	if existingMnemonic == "" {
		fmt.Println("Write the mnemonic down and store it offline. It is not recoverable from the encrypted blob without the key.")
		fmt.Printf("\nMnemonic: %s\n\n", mnemonic)
	}
	fmt.Printf("MASTER_WALLET_MNEMONIC=%s\n", blob)
	fmt.Printf("ENCRYPTION_KEY=%s\n", keyHex)
	return nil
}

func parseUserArg(arg string) (id, email, role string, err error) {
	parts := strings.SplitN(arg, ":", 3)
	switch len(parts) {
	case 2:
		return parts[0], parts[1], "USER", nil
	case 3:
		return parts[0], parts[1], parts[2], nil
	default:
		return "", "", "", fmt.Errorf("expected id:email[:role], got %q", arg)
	}
}
