package ledger

import (
	"fmt"
	"sort"

	"github.com/ledgercore/node/foundation/blockchain/storage"
)

// AddUTXO inserts an unspent output, typically a genesis allocation or a
// coinbase output learned from a block.
func (l *Ledger) AddUTXO(u storage.UTXO) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	op := u.OutPoint()
	if _, exists := l.utxos[op]; exists {
		return fmt.Errorf("%s: %w", op, ErrUTXOExists)
	}

	u.Spent = false
	u.SpentBy = ""
	l.utxos[op] = &u

	return nil
}

// UTXO returns the output identified by the transaction hash and index.
func (l *Ledger) UTXO(txHash string, index uint32) (storage.UTXO, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	u, exists := l.utxos[storage.OutPoint{TxHash: txHash, Index: index}]
	if !exists {
		return storage.UTXO{}, ErrUTXONotFound
	}

	return *u, nil
}

// IsSpent reports whether the output exists and has been spent.
func (l *Ledger) IsSpent(txHash string, index uint32) bool {
	l.mu.RLock()
	defer l.mu.RUnlock()

	u, exists := l.utxos[storage.OutPoint{TxHash: txHash, Index: index}]
	return exists && u.Spent
}

// UTXOs returns the unspent outputs owned by the address ordered by
// transaction hash and index.
func (l *Ledger) UTXOs(address string) []storage.UTXO {
	l.mu.RLock()
	defer l.mu.RUnlock()

	return l.unspent(address)
}

// Balance returns the sum of the unspent outputs owned by the address.
func (l *Ledger) Balance(address string) uint64 {
	l.mu.RLock()
	defer l.mu.RUnlock()

	var total uint64
	for _, u := range l.utxos {
		if !u.Spent && u.Address == address {
			total += u.Amount
		}
	}

	return total
}

// UTXOsForAmount selects unspent outputs of the address largest first until
// the amount is covered. The selection is greedy and does not minimize the
// number of inputs.
func (l *Ledger) UTXOsForAmount(address string, amount uint64) ([]storage.UTXO, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	utxos := l.unspent(address)
	sort.SliceStable(utxos, func(i, j int) bool {
		return utxos[i].Amount > utxos[j].Amount
	})

	var selected []storage.UTXO
	var total uint64
	for _, u := range utxos {
		if total >= amount && len(selected) > 0 {
			break
		}
		selected = append(selected, u)
		total += u.Amount
	}

	if total < amount {
		return nil, fmt.Errorf("address %s has %d, need %d: %w", address, total, amount, ErrInsufficientFunds)
	}

	return selected, nil
}

// ValidateUTXOs performs the ledger level check of the transaction: every
// input must reference an existing unspent output whose address and amount
// match, and the outputs plus fee must not exceed the inputs.
func (l *Ledger) ValidateUTXOs(tx storage.Tx) error {
	l.mu.RLock()
	defer l.mu.RUnlock()

	return l.validateUTXOs(tx)
}

// UpdateUTXOs validates the transaction against the output set and applies
// it: inputs are marked spent and one output is created per transaction
// output. Either every change is made or none is. Applying a transaction
// that has already been applied is a no-op.
func (l *Ledger) UpdateUTXOs(tx storage.Tx) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.isApplied(tx) {
		return nil
	}

	if err := l.validateUTXOs(tx); err != nil {
		return err
	}

	l.applyUTXOs(tx, 0)

	if rec, exists := l.txs[tx.ID]; exists {
		rec.applied = true
	}

	return nil
}

// =============================================================================

// unspent must be called with the lock held.
func (l *Ledger) unspent(address string) []storage.UTXO {
	var utxos []storage.UTXO
	for _, u := range l.utxos {
		if !u.Spent && u.Address == address {
			utxos = append(utxos, *u)
		}
	}

	sort.Slice(utxos, func(i, j int) bool {
		if utxos[i].TxHash != utxos[j].TxHash {
			return utxos[i].TxHash < utxos[j].TxHash
		}
		return utxos[i].Index < utxos[j].Index
	})

	return utxos
}

// isApplied reports whether the transaction's effects are already in the
// output set. It must be called with the lock held.
func (l *Ledger) isApplied(tx storage.Tx) bool {
	if rec, exists := l.txs[tx.ID]; exists && rec.applied {
		return true
	}

	if len(tx.Outputs) == 0 {
		return false
	}

	if _, exists := l.utxos[storage.OutPoint{TxHash: tx.ID, Index: 0}]; !exists {
		return false
	}

	for _, in := range tx.Inputs {
		u, exists := l.utxos[storage.OutPoint{TxHash: in.TxHash, Index: in.Index}]
		if !exists || u.SpentBy != tx.ID {
			return false
		}
	}

	return true
}

// validateUTXOs must be called with the lock held.
func (l *Ledger) validateUTXOs(tx storage.Tx) error {
	for i, out := range tx.Outputs {
		if out.Amount == 0 {
			return fmt.Errorf("output %d has zero amount: %w", i, ErrInvalidTransaction)
		}

		op := storage.OutPoint{TxHash: tx.ID, Index: uint32(i)}
		if _, exists := l.utxos[op]; exists {
			return fmt.Errorf("%s: %w", op, ErrUTXOExists)
		}
	}

	if tx.Type == storage.TypeCoinbase {
		return nil
	}

	if len(tx.Inputs) == 0 {
		return fmt.Errorf("no inputs: %w", ErrInvalidTransaction)
	}

	seen := make(map[storage.OutPoint]struct{}, len(tx.Inputs))
	for _, in := range tx.Inputs {
		op := storage.OutPoint{TxHash: in.TxHash, Index: in.Index}

		if _, dup := seen[op]; dup {
			return fmt.Errorf("%s: %w", op, ErrDuplicateInput)
		}
		seen[op] = struct{}{}

		u, exists := l.utxos[op]
		switch {
		case !exists:
			return fmt.Errorf("%s: %w", op, ErrUTXONotFound)
		case u.Spent:
			return fmt.Errorf("%s spent by %s: %w", op, u.SpentBy, ErrUTXOSpent)
		case u.Address != in.Address:
			return fmt.Errorf("%s address %s, input claims %s: %w", op, u.Address, in.Address, ErrUTXOMismatch)
		case u.Amount != in.Amount:
			return fmt.Errorf("%s amount %d, input claims %d: %w", op, u.Amount, in.Amount, ErrUTXOMismatch)
		}
	}

	in, ok := tx.InputSum()
	if !ok {
		return fmt.Errorf("input sum overflows: %w", ErrInvalidTransaction)
	}

	out, ok := tx.OutputSum()
	if !ok || out > ^uint64(0)-tx.Fee {
		return fmt.Errorf("output sum overflows: %w", ErrInvalidTransaction)
	}

	if out+tx.Fee > in {
		return fmt.Errorf("outputs %d plus fee %d exceed inputs %d: %w", out, tx.Fee, in, ErrInsufficientFunds)
	}

	return nil
}

// applyUTXOs must be called with the lock held after the transaction has
// been validated.
func (l *Ledger) applyUTXOs(tx storage.Tx, height uint64) {
	for _, in := range tx.Inputs {
		u := l.utxos[storage.OutPoint{TxHash: in.TxHash, Index: in.Index}]
		u.Spent = true
		u.SpentBy = tx.ID
	}

	for i, out := range tx.Outputs {
		op := storage.OutPoint{TxHash: tx.ID, Index: uint32(i)}
		l.utxos[op] = &storage.UTXO{
			TxHash:  tx.ID,
			Index:   uint32(i),
			Amount:  out.Amount,
			Address: out.Address,
			Script:  out.Script,
			Height:  height,
		}
	}
}
