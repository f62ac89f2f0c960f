// Package mempool maintains the pool of accepted transactions waiting to be
// included in a block.
package mempool

import (
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/ledgercore/node/foundation/blockchain/mempool/selector"
	"github.com/ledgercore/node/foundation/blockchain/storage"
)

// Set of errors returned by the mempool.
var (
	ErrDuplicate = errors.New("transaction already in mempool")
	ErrFull      = errors.New("mempool is full")
	ErrConflict  = errors.New("transaction spends an output claimed in mempool")
)

// Entry is a transaction held by the mempool.
type Entry struct {
	Tx      storage.Tx `json:"tx"`
	AddedAt time.Time  `json:"added_at"`
}

// Config represents the limits of the mempool. A zero Expiry keeps entries
// until they are removed.
type Config struct {
	MaxSize  int
	Expiry   time.Duration
	Strategy string
}

// Mempool represents a cache of transactions keyed by transaction id.
type Mempool struct {
	mu       sync.RWMutex
	pool     map[string]Entry
	spends   map[string]string
	maxSize  int
	expiry   time.Duration
	selectFn selector.Func
	now      func() time.Time
}

// WithClock replaces the time source used to stamp and expire entries.
func WithClock(now func() time.Time) func(mp *Mempool) {
	return func(mp *Mempool) {
		mp.now = now
	}
}

// New constructs a new mempool with the specified limits and select strategy.
// An empty strategy selects by fee.
func New(cfg Config, options ...func(mp *Mempool)) (*Mempool, error) {
	if cfg.Strategy == "" {
		cfg.Strategy = selector.StrategyFee
	}

	selectFn, err := selector.Retrieve(cfg.Strategy)
	if err != nil {
		return nil, err
	}

	mp := Mempool{
		pool:     make(map[string]Entry),
		spends:   make(map[string]string),
		maxSize:  cfg.MaxSize,
		expiry:   cfg.Expiry,
		selectFn: selectFn,
		now:      time.Now,
	}

	for _, option := range options {
		option(&mp)
	}

	return &mp, nil
}

// Count returns the current number of transactions in the pool.
func (mp *Mempool) Count() int {
	mp.mu.RLock()
	defer mp.mu.RUnlock()

	return len(mp.pool)
}

// Add admits the transaction. When the pool is at capacity expired entries
// are evicted first and then the oldest entries. The ids of evicted entries
// are returned.
func (mp *Mempool) Add(tx storage.Tx) ([]string, error) {
	mp.mu.Lock()
	defer mp.mu.Unlock()

	if _, exists := mp.pool[tx.ID]; exists {
		return nil, ErrDuplicate
	}

	if mp.maxSize <= 0 {
		return nil, ErrFull
	}

	for _, in := range tx.Inputs {
		key := outPoint(in)
		if owner, claimed := mp.spends[key]; claimed {
			return nil, fmt.Errorf("%s claimed by %s: %w", key, owner, ErrConflict)
		}
	}

	var evicted []string
	if len(mp.pool) >= mp.maxSize {
		evicted = mp.sweep()
	}

	for len(mp.pool) >= mp.maxSize {
		id := mp.oldest()
		mp.remove(id)
		evicted = append(evicted, id)
	}

	mp.pool[tx.ID] = Entry{
		Tx:      tx.Clone(),
		AddedAt: mp.now(),
	}
	for _, in := range tx.Inputs {
		mp.spends[outPoint(in)] = tx.ID
	}

	return evicted, nil
}

// Delete removes a transaction from the mempool and reports whether it was
// present.
func (mp *Mempool) Delete(id string) bool {
	mp.mu.Lock()
	defer mp.mu.Unlock()

	if _, exists := mp.pool[id]; !exists {
		return false
	}
	mp.remove(id)

	return true
}

// Conflicts returns the ids of the entries, other than the transaction
// itself, that spend any of the inputs of the transaction.
func (mp *Mempool) Conflicts(tx storage.Tx) []string {
	mp.mu.RLock()
	defer mp.mu.RUnlock()

	var ids []string
	seen := make(map[string]bool)
	for _, in := range tx.Inputs {
		owner, claimed := mp.spends[outPoint(in)]
		if !claimed || owner == tx.ID || seen[owner] {
			continue
		}
		seen[owner] = true
		ids = append(ids, owner)
	}
	sort.Strings(ids)

	return ids
}

// Get returns the entry for the transaction id.
func (mp *Mempool) Get(id string) (Entry, bool) {
	mp.mu.RLock()
	defer mp.mu.RUnlock()

	entry, exists := mp.pool[id]
	if !exists {
		return Entry{}, false
	}
	entry.Tx = entry.Tx.Clone()

	return entry, true
}

// Entries returns a copy of the pool ordered by admission time.
func (mp *Mempool) Entries() []Entry {
	mp.mu.RLock()
	entries := make([]Entry, 0, len(mp.pool))
	for _, entry := range mp.pool {
		entry.Tx = entry.Tx.Clone()
		entries = append(entries, entry)
	}
	mp.mu.RUnlock()

	sort.Slice(entries, func(i, j int) bool {
		if entries[i].AddedAt.Equal(entries[j].AddedAt) {
			return entries[i].Tx.ID < entries[j].Tx.ID
		}
		return entries[i].AddedAt.Before(entries[j].AddedAt)
	})

	return entries
}

// Sweep removes every expired entry and returns their ids.
func (mp *Mempool) Sweep() []string {
	mp.mu.Lock()
	defer mp.mu.Unlock()

	return mp.sweep()
}

// Truncate clears all the transactions from the pool.
func (mp *Mempool) Truncate() {
	mp.mu.Lock()
	defer mp.mu.Unlock()

	mp.pool = make(map[string]Entry)
	mp.spends = make(map[string]string)
}

// PickBest uses the configured select strategy to return the next set of
// transactions for the next block. Pass -1 for all the transactions.
func (mp *Mempool) PickBest(howMany int) []storage.Tx {
	mp.mu.RLock()
	txs := make([]storage.Tx, 0, len(mp.pool))
	for _, entry := range mp.pool {
		txs = append(txs, entry.Tx.Clone())
	}
	mp.mu.RUnlock()

	// Map iteration order is random, give the strategies a stable input.
	sort.Slice(txs, func(i, j int) bool { return txs[i].ID < txs[j].ID })

	return mp.selectFn(txs, howMany)
}

// =============================================================================

// sweep must be called with the lock held.
func (mp *Mempool) sweep() []string {
	if mp.expiry <= 0 {
		return nil
	}

	cutoff := mp.now().Add(-mp.expiry)

	var expired []string
	for id, entry := range mp.pool {
		if entry.AddedAt.Before(cutoff) {
			mp.remove(id)
			expired = append(expired, id)
		}
	}
	sort.Strings(expired)

	return expired
}

// remove must be called with the lock held.
func (mp *Mempool) remove(id string) {
	entry, exists := mp.pool[id]
	if !exists {
		return
	}
	for _, in := range entry.Tx.Inputs {
		key := outPoint(in)
		if mp.spends[key] == id {
			delete(mp.spends, key)
		}
	}
	delete(mp.pool, id)
}

func outPoint(in storage.Input) string {
	return storage.OutPoint{TxHash: in.TxHash, Index: in.Index}.String()
}

// oldest must be called with the lock held on a non-empty pool.
func (mp *Mempool) oldest() string {
	var id string
	var at time.Time
	for key, entry := range mp.pool {
		if id == "" || entry.AddedAt.Before(at) || (entry.AddedAt.Equal(at) && key < id) {
			id = key
			at = entry.AddedAt
		}
	}
	return id
}
