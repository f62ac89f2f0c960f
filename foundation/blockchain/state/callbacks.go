package state

import (
	"github.com/ledgercore/node/foundation/blockchain/storage"
)

// StateCallback is notified on every state machine transition.
type StateCallback func(from Status, to Status)

// BlockCallback is notified when a block is accepted.
type BlockCallback func(block storage.Block)

// TxCallback is notified when an accepted block confirms a transaction.
type TxCallback func(tx storage.Tx)

// ErrorCallback is notified when an operation of the chain or its ledger
// fails.
type ErrorCallback func(op string, err error)

// RegisterStateCallback adds a state callback and returns its id.
func (s *State) RegisterStateCallback(fn StateCallback) int {
	s.cbMu.Lock()
	defer s.cbMu.Unlock()

	s.nextCB++
	s.stateCallbacks[s.nextCB] = fn
	return s.nextCB
}

// UnregisterStateCallback removes a state callback.
func (s *State) UnregisterStateCallback(id int) {
	s.cbMu.Lock()
	defer s.cbMu.Unlock()

	delete(s.stateCallbacks, id)
}

// RegisterBlockCallback adds a block callback and returns its id.
func (s *State) RegisterBlockCallback(fn BlockCallback) int {
	s.cbMu.Lock()
	defer s.cbMu.Unlock()

	s.nextCB++
	s.blockCallbacks[s.nextCB] = fn
	return s.nextCB
}

// UnregisterBlockCallback removes a block callback.
func (s *State) UnregisterBlockCallback(id int) {
	s.cbMu.Lock()
	defer s.cbMu.Unlock()

	delete(s.blockCallbacks, id)
}

// RegisterTxCallback adds a transaction callback and returns its id.
func (s *State) RegisterTxCallback(fn TxCallback) int {
	s.cbMu.Lock()
	defer s.cbMu.Unlock()

	s.nextCB++
	s.txCallbacks[s.nextCB] = fn
	return s.nextCB
}

// UnregisterTxCallback removes a transaction callback.
func (s *State) UnregisterTxCallback(id int) {
	s.cbMu.Lock()
	defer s.cbMu.Unlock()

	delete(s.txCallbacks, id)
}

// RegisterErrorCallback adds an error callback and returns its id.
func (s *State) RegisterErrorCallback(fn ErrorCallback) int {
	s.cbMu.Lock()
	defer s.cbMu.Unlock()

	s.nextCB++
	s.errCallbacks[s.nextCB] = fn
	return s.nextCB
}

// UnregisterErrorCallback removes an error callback.
func (s *State) UnregisterErrorCallback(id int) {
	s.cbMu.Lock()
	defer s.cbMu.Unlock()

	delete(s.errCallbacks, id)
}

// =============================================================================
// The notify functions snapshot the callbacks and must be called without the
// chain lock held.

func (s *State) notifyState(from Status, to Status) {
	s.cbMu.RLock()
	fns := make([]StateCallback, 0, len(s.stateCallbacks))
	for _, fn := range s.stateCallbacks {
		fns = append(fns, fn)
	}
	s.cbMu.RUnlock()

	for _, fn := range fns {
		s.safe("state", func() { fn(from, to) })
	}
}

func (s *State) notifyBlock(block storage.Block, txs []storage.Tx) {
	s.cbMu.RLock()
	blockFns := make([]BlockCallback, 0, len(s.blockCallbacks))
	for _, fn := range s.blockCallbacks {
		blockFns = append(blockFns, fn)
	}
	txFns := make([]TxCallback, 0, len(s.txCallbacks))
	for _, fn := range s.txCallbacks {
		txFns = append(txFns, fn)
	}
	s.cbMu.RUnlock()

	for _, fn := range blockFns {
		s.safe("block", func() { fn(block) })
	}

	for _, tx := range txs {
		for _, fn := range txFns {
			s.safe("tx", func() { fn(tx.Clone()) })
		}
	}
}

func (s *State) notifyError(op string, err error) {
	s.cbMu.RLock()
	fns := make([]ErrorCallback, 0, len(s.errCallbacks))
	for _, fn := range s.errCallbacks {
		fns = append(fns, fn)
	}
	s.cbMu.RUnlock()

	for _, fn := range fns {
		s.safe("error", func() { fn(op, err) })
	}
}

// fail logs the error and notifies the error callbacks.
func (s *State) fail(op string, err error) error {
	s.evHandler("state: %s: ERROR: %s", op, err)
	s.notifyError(op, err)
	return err
}

// safe runs a callback, recovering a panic so the remaining callbacks are
// still notified.
func (s *State) safe(kind string, fn func()) {
	defer func() {
		if r := recover(); r != nil {
			s.evHandler("state: %s callback: PANIC: %v", kind, r)
		}
	}()

	fn()
}
