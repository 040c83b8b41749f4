// cmd/security/key_gen.go
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"

	"custody-service/internal/security"

	"github.com/joho/godotenv"
	"go.uber.org/zap"
)

func main() {
	store := flag.Bool("store", false, "write the key to the file vault (FILE_VAULT_DIR, FILE_VAULT_KEY)")
	flag.Parse()

	key, err := security.GenerateMasterKey()
	if err != nil {
		log.Fatal(err)
	}

	if *store {
		if err := storeInFileVault(key); err != nil {
			log.Fatal(err)
		}
		fmt.Println("Master key stored under " + security.MasterKeyPath)
		return
	}

	fmt.Println("==============================================")
	fmt.Println("Generated AES-256 Master Key:")
	fmt.Println("==============================================")
	fmt.Println(key)
	fmt.Println("==============================================")
	fmt.Println("Add this to your .env file as:")
	fmt.Println("CRYPTO_MASTER_KEY=" + key)
	fmt.Println("or rerun with -store to write it to the file vault")
	fmt.Println("==============================================")
	fmt.Println("KEEP THIS KEY SECURE. DO NOT COMMIT IT.")
	fmt.Println("==============================================")
}

// storeInFileVault refuses to replace an existing master key: wallets
// wrapped under it would become unreadable.
func storeInFileVault(key string) error {
	_ = godotenv.Load()

	dir := os.Getenv("FILE_VAULT_DIR")
	if dir == "" {
		dir = "./vault"
	}
	provider, err := security.NewFileVaultProvider(dir, os.Getenv("FILE_VAULT_KEY"))
	if err != nil {
		return fmt.Errorf("file vault: %w", err)
	}

	ctx := context.Background()
	vault := security.NewVault(provider, zap.NewNop())
	if _, err := vault.GetMasterKey(ctx); err == nil {
		return fmt.Errorf("a master key already exists under %s", security.MasterKeyPath)
	}
	return vault.StoreMasterKey(ctx, key)
}
