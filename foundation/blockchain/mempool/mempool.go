// Package mempool maintains the mempool for the blockchain.
package mempool

import (
	"errors"
	"sync"

	"github.com/ardanlabs/powledger/foundation/blockchain/database"
)

// ErrDuplicate is returned when a transaction with the same content hash
// is already waiting in the pool.
var ErrDuplicate = errors.New("transaction already in mempool")

// Mempool represents a cache of transactions waiting to be mined. The
// transactions are indexed by content hash and kept in insertion order
// since that is the order they are mined into a block.
type Mempool struct {
	mu    sync.RWMutex
	order []string
	pool  map[string]database.Tx
}

// New constructs a new, empty mempool.
func New() *Mempool {
	return &Mempool{
		pool: make(map[string]database.Tx),
	}
}

// Count returns the current number of transactions in the pool.
func (mp *Mempool) Count() int {
	mp.mu.RLock()
	defer mp.mu.RUnlock()

	return len(mp.pool)
}

// Add appends a transaction to the end of the pool. The same transaction
// can't be added twice.
func (mp *Mempool) Add(tx database.Tx) (int, error) {
	mp.mu.Lock()
	defer mp.mu.Unlock()

	key := tx.Hash()
	if _, exists := mp.pool[key]; exists {
		return len(mp.pool), ErrDuplicate
	}

	mp.pool[key] = tx.Clone()
	mp.order = append(mp.order, key)

	return len(mp.pool), nil
}

// Lookup finds a pending transaction by its content hash.
func (mp *Mempool) Lookup(hash string) (database.Tx, bool) {
	mp.mu.RLock()
	defer mp.mu.RUnlock()

	tx, exists := mp.pool[hash]
	if !exists {
		return database.Tx{}, false
	}

	return tx.Clone(), true
}

// Delete removes the specified transactions from the pool.
func (mp *Mempool) Delete(trans ...database.Tx) {
	mp.mu.Lock()
	defer mp.mu.Unlock()

	removed := false
	for _, tx := range trans {
		key := tx.Hash()
		if _, exists := mp.pool[key]; exists {
			delete(mp.pool, key)
			removed = true
		}
	}

	if !removed {
		return
	}

	order := mp.order[:0]
	for _, key := range mp.order {
		if _, exists := mp.pool[key]; exists {
			order = append(order, key)
		}
	}
	mp.order = order
}

// Copy returns the pending transactions in insertion order.
func (mp *Mempool) Copy() []database.Tx {
	mp.mu.RLock()
	defer mp.mu.RUnlock()

	trans := make([]database.Tx, 0, len(mp.order))
	for _, key := range mp.order {
		trans = append(trans, mp.pool[key].Clone())
	}

	return trans
}
