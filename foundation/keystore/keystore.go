// Package keystore holds the wallets a node can sign transactions for. Wallets
// are either generated on request and identified by a random id, or loaded
// from the .ecdsa key files in a folder and identified by the file name.
package keystore

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/ardanlabs/powledger/foundation/blockchain/database"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/google/uuid"
)

// Set of errors returned by the keystore.
var (
	ErrNotFound = errors.New("wallet not found")
	ErrExists   = errors.New("wallet id already exists")
)

// Info is the public view of a wallet. The private key is never part of it.
type Info struct {
	ID        string        `json:"wallet_id"`
	Address   string        `json:"address"`
	PublicKey hexutil.Bytes `json:"public_key"`
}

// Keystore maintains the set of wallets and a name lookup for addresses.
type Keystore struct {
	mu      sync.RWMutex
	wallets map[string]database.Wallet
	names   map[string]string
}

// New constructs an empty keystore.
func New() *Keystore {
	return &Keystore{
		wallets: make(map[string]database.Wallet),
		names:   make(map[string]string),
	}
}

// Load constructs a keystore with a wallet for every .ecdsa file found
// under the root folder. A missing folder yields an empty keystore.
func Load(root string) (*Keystore, error) {
	ks := New()

	if _, err := os.Stat(root); errors.Is(err, fs.ErrNotExist) {
		return ks, nil
	}

	fn := func(fileName string, d fs.DirEntry, err error) error {
		if err != nil {
			return fmt.Errorf("walkdir failure: %w", err)
		}

		if d.IsDir() || filepath.Ext(fileName) != ".ecdsa" {
			return nil
		}

		privateKey, err := crypto.LoadECDSA(fileName)
		if err != nil {
			return fmt.Errorf("loading %s: %w", fileName, err)
		}

		name := strings.TrimSuffix(filepath.Base(fileName), ".ecdsa")
		if err := ks.Add(name, database.WalletFromKey(privateKey)); err != nil {
			return err
		}

		return nil
	}

	if err := filepath.WalkDir(root, fn); err != nil {
		return nil, fmt.Errorf("walking directory: %w", err)
	}

	return ks, nil
}

// Add stores the wallet under the specified id.
func (ks *Keystore) Add(id string, wallet database.Wallet) error {
	ks.mu.Lock()
	defer ks.mu.Unlock()

	if _, exists := ks.wallets[id]; exists {
		return fmt.Errorf("%s: %w", id, ErrExists)
	}

	ks.wallets[id] = wallet
	ks.names[wallet.Address] = id

	return nil
}

// Generate creates a new wallet and stores it under a random id.
func (ks *Keystore) Generate() (Info, error) {
	wallet, err := database.NewWallet()
	if err != nil {
		return Info{}, fmt.Errorf("generating key: %w", err)
	}

	id := uuid.NewString()
	if err := ks.Add(id, wallet); err != nil {
		return Info{}, err
	}

	return info(id, wallet), nil
}

// Wallet returns the wallet stored under the id.
func (ks *Keystore) Wallet(id string) (database.Wallet, error) {
	ks.mu.RLock()
	defer ks.mu.RUnlock()

	wallet, exists := ks.wallets[id]
	if !exists {
		return database.Wallet{}, fmt.Errorf("%s: %w", id, ErrNotFound)
	}

	return wallet, nil
}

// Info returns the public view of the wallet stored under the id.
func (ks *Keystore) Info(id string) (Info, error) {
	wallet, err := ks.Wallet(id)
	if err != nil {
		return Info{}, err
	}

	return info(id, wallet), nil
}

// Lookup returns the name for the specified address. An unknown address
// is returned as is.
func (ks *Keystore) Lookup(address string) string {
	ks.mu.RLock()
	defer ks.mu.RUnlock()

	name, exists := ks.names[address]
	if !exists {
		return address
	}
	return name
}

// Copy returns a copy of the map of addresses and names.
func (ks *Keystore) Copy() map[string]string {
	ks.mu.RLock()
	defer ks.mu.RUnlock()

	cpy := make(map[string]string, len(ks.names))
	for address, name := range ks.names {
		cpy[address] = name
	}
	return cpy
}

func info(id string, wallet database.Wallet) Info {
	return Info{
		ID:        id,
		Address:   wallet.Address,
		PublicKey: wallet.PublicKey(),
	}
}
