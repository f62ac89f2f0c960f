// Package selector provides different transaction selecting algorithms.
package selector

import (
	"fmt"
	"sort"

	"github.com/ledgercore/node/foundation/blockchain/storage"
)

// List of different select strategies.
const (
	StrategyFee      = "fee"
	StrategyPriority = "priority"
	StrategyAge      = "age"
)

// Map of different select strategies with functions.
var strategies = map[string]Func{
	StrategyFee:      feeSelect,
	StrategyPriority: prioritySelect,
	StrategyAge:      ageSelect,
}

// Func defines a function that takes the pending transactions and selects
// howMany of them in an order based on the functions strategy. Receiving -1
// for howMany must return all the transactions in the strategies ordering.
// Implementations may reorder the slice they are given.
type Func func(transactions []storage.Tx, howMany int) []storage.Tx

// Retrieve returns the specified select strategy function.
func Retrieve(strategy string) (Func, error) {
	fn, exists := strategies[strategy]
	if !exists {
		return nil, fmt.Errorf("strategy %q does not exist", strategy)
	}
	return fn, nil
}

// =============================================================================

// feeSelect returns the transactions paying the highest fee first. Equal
// fees are ordered by age so older transactions win.
var feeSelect = func(txs []storage.Tx, howMany int) []storage.Tx {
	sort.SliceStable(txs, func(i, j int) bool {
		if txs[i].Fee != txs[j].Fee {
			return txs[i].Fee > txs[j].Fee
		}
		return txs[i].CreatedAt.Before(txs[j].CreatedAt)
	})

	return take(txs, howMany)
}

// prioritySelect returns the most urgent transactions first, then falls back
// to the fee ordering within a priority.
var prioritySelect = func(txs []storage.Tx, howMany int) []storage.Tx {
	sort.SliceStable(txs, func(i, j int) bool {
		if txs[i].Priority != txs[j].Priority {
			return txs[i].Priority > txs[j].Priority
		}
		if txs[i].Fee != txs[j].Fee {
			return txs[i].Fee > txs[j].Fee
		}
		return txs[i].CreatedAt.Before(txs[j].CreatedAt)
	})

	return take(txs, howMany)
}

// ageSelect returns the transactions in the order they were created.
var ageSelect = func(txs []storage.Tx, howMany int) []storage.Tx {
	sort.SliceStable(txs, func(i, j int) bool {
		return txs[i].CreatedAt.Before(txs[j].CreatedAt)
	})

	return take(txs, howMany)
}

func take(txs []storage.Tx, howMany int) []storage.Tx {
	if howMany < 0 || howMany > len(txs) {
		howMany = len(txs)
	}
	return txs[:howMany]
}
