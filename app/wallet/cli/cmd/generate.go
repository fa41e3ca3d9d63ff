package cmd

import (
	"errors"
	"fmt"
	"io/fs"
	"log"
	"os"
	"path/filepath"

	"github.com/ardanlabs/powledger/foundation/blockchain/database"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/spf13/cobra"
)

var generateCmd = &cobra.Command{
	Use:   "generate",
	Short: "Generate new key pair",
	Run:   generateRun,
}

func init() {
	rootCmd.AddCommand(generateCmd)
}

func generateRun(cmd *cobra.Command, args []string) {
	address, err := generate(getPrivateKeyPath())
	if err != nil {
		log.Fatal(err)
	}

	fmt.Println(address)
}

// generate writes a new private key to the path and returns its address. An
// existing key is never overwritten.
func generate(path string) (string, error) {
	if _, err := os.Stat(path); !errors.Is(err, fs.ErrNotExist) {
		return "", fmt.Errorf("key file %s already exists", path)
	}

	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return "", err
	}

	wallet, err := database.NewWallet()
	if err != nil {
		return "", err
	}

	if err := crypto.SaveECDSA(path, wallet.PrivateKey); err != nil {
		return "", err
	}

	return wallet.Address, nil
}
