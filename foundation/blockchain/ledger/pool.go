package ledger

import (
	"errors"
	"fmt"

	"github.com/ledgercore/node/foundation/blockchain/mempool"
	"github.com/ledgercore/node/foundation/blockchain/storage"
)

// AddToMempool admits a transaction learned from a peer. The transaction is
// checked against the output set without being applied and is recorded as
// PENDING if the ledger has not seen it before.
func (l *Ledger) AddToMempool(tx storage.Tx) error {
	if tx.Type == storage.TypeCoinbase {
		return l.fail("AddToMempool", fmt.Errorf("%s: %w", tx.ID, ErrCoinbase))
	}

	if tx.ID == "" {
		return l.fail("AddToMempool", fmt.Errorf("missing id: %w", ErrInvalidTransaction))
	}

	if err := l.ValidateTransaction(tx); err != nil {
		return l.fail("AddToMempool", err)
	}

	l.mu.Lock()

	if !l.initialized {
		l.mu.Unlock()
		return l.fail("AddToMempool", ErrNotInitialized)
	}

	rec, known := l.txs[tx.ID]
	if !known || !rec.applied {
		if err := l.validateUTXOs(tx); err != nil {
			l.mu.Unlock()
			return l.fail("AddToMempool", err)
		}
	}

	evicted, err := l.mempool.Add(tx)
	if err != nil {
		l.mu.Unlock()
		return l.fail("AddToMempool", admitError(tx.ID, err))
	}

	if !known {
		tx = tx.Clone()
		tx.Status = storage.StatusPending
		if tx.CreatedAt.IsZero() {
			tx.CreatedAt = l.now()
		}
		tx.UpdatedAt = l.now()
		l.txs[tx.ID] = &record{tx: tx}
	}

	l.mu.Unlock()

	for _, id := range evicted {
		l.evHandler("ledger: AddToMempool: evicted[%s]", id)
	}
	l.evHandler("ledger: AddToMempool: id[%s] known[%t]", tx.ID, known)

	return nil
}

// RemoveFromMempool drops the transaction from the mempool. It reports
// whether the transaction was present.
func (l *Ledger) RemoveFromMempool(id string) bool {
	l.mu.RLock()
	defer l.mu.RUnlock()

	if l.mempool == nil {
		return false
	}

	return l.mempool.Delete(id)
}

// Mempool returns the entries in the mempool ordered by admission time.
func (l *Ledger) Mempool() []mempool.Entry {
	l.mu.RLock()
	defer l.mu.RUnlock()

	if l.mempool == nil {
		return nil
	}

	return l.mempool.Entries()
}

// MempoolSize returns the number of transactions in the mempool.
func (l *Ledger) MempoolSize() int {
	l.mu.RLock()
	defer l.mu.RUnlock()

	if l.mempool == nil {
		return 0
	}

	return l.mempool.Count()
}

// SweepMempool removes expired entries and returns their ids.
func (l *Ledger) SweepMempool() []string {
	l.mu.RLock()
	defer l.mu.RUnlock()

	if l.mempool == nil {
		return nil
	}

	ids := l.mempool.Sweep()
	if len(ids) > 0 {
		l.evHandler("ledger: SweepMempool: expired[%d]", len(ids))
	}

	return ids
}

// PickBest returns up to howMany transactions from the mempool ordered by
// the configured select strategy. A negative value returns all of them.
func (l *Ledger) PickBest(howMany int) []storage.Tx {
	l.mu.RLock()
	defer l.mu.RUnlock()

	if l.mempool == nil {
		return nil
	}

	return l.mempool.PickBest(howMany)
}

// ConfirmBlock records the inclusion of the transactions of a block and
// notifies the error and transaction callbacks. It returns the number of
// transactions confirmed.
func (l *Ledger) ConfirmBlock(blockHash string, height uint64, txHashes []string) int {
	txs, failures := l.ApplyBlock(blockHash, height, txHashes)
	l.ReportFailures("ApplyBlock", failures)
	l.NotifyTxs(txs)

	return len(txs)
}

// ApplyBlock records the inclusion of the transactions of a block without
// running any callback, so a caller holding its own lock can report and
// notify after releasing it. The tip moves to the block height and
// transactions the ledger does not know are ignored. A known transaction
// that cannot be applied is skipped and its error returned.
func (l *Ledger) ApplyBlock(blockHash string, height uint64, txHashes []string) ([]storage.Tx, []error) {
	var txs []storage.Tx
	var failures []error

	l.mu.Lock()
	{
		l.tip = max(l.tip, height)

		for _, id := range txHashes {
			if _, known := l.txs[id]; !known {
				continue
			}

			tx, err := l.confirm(id, blockHash, height)
			if err != nil {
				failures = append(failures, fmt.Errorf("%s: %w", id, err))
				continue
			}
			txs = append(txs, tx)
		}
	}
	l.mu.Unlock()

	l.evHandler("ledger: ApplyBlock: block[%s] height[%d] confirmed[%d/%d]", blockHash, height, len(txs), len(txHashes))

	return txs, failures
}

// ReportFailures records each error and hands it to the error callbacks.
// It must be called without holding any lock a callback may need.
func (l *Ledger) ReportFailures(op string, errs []error) {
	for _, err := range errs {
		l.fail(op, err)
	}
}

// NotifyTxs hands the transactions to the transaction callbacks. It must be
// called without holding any lock a callback may need.
func (l *Ledger) NotifyTxs(txs []storage.Tx) {
	for _, tx := range txs {
		l.notifyTx(tx)
	}
}

// admitError maps a mempool rejection to the ledger error set.
func admitError(id string, err error) error {
	if errors.Is(err, mempool.ErrConflict) {
		return fmt.Errorf("%s: %w: %w", id, ErrUTXOSpent, err)
	}
	return fmt.Errorf("%s: %w", id, err)
}
