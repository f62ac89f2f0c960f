// Package ledger owns the unspent output set, the transaction table and the
// mempool. It implements the transaction lifecycle from creation through
// signing, validation, submission and relay.
package ledger

import (
	"errors"
	"sync"
	"time"

	"github.com/ledgercore/node/foundation/blockchain/mempool"
	"github.com/ledgercore/node/foundation/blockchain/storage"
	"github.com/ledgercore/node/foundation/blockchain/wire"
)

// Set of errors returned by the ledger.
var (
	ErrNotInitialized     = errors.New("ledger not initialized")
	ErrAlreadyInitialized = errors.New("ledger already initialized")
	ErrNotFound           = errors.New("transaction not found")
	ErrInvalidTransaction = errors.New("invalid transaction")
	ErrNotPending         = errors.New("transaction is not pending")
	ErrNotActive          = errors.New("transaction is not active")
	ErrNotCommitted       = errors.New("transaction has not been committed")
	ErrAlreadyApplied     = errors.New("transaction already applied")
	ErrUnsigned           = errors.New("transaction is not signed")
	ErrBadSignature       = errors.New("signature verification failed")
	ErrCoinbase           = errors.New("coinbase transactions are only accepted in blocks")
	ErrUTXONotFound       = errors.New("utxo not found")
	ErrUTXOSpent          = errors.New("utxo already spent")
	ErrUTXOExists         = errors.New("utxo already exists")
	ErrUTXOMismatch       = errors.New("utxo does not match input")
	ErrDuplicateInput     = errors.New("duplicate input")
	ErrInsufficientFunds  = errors.New("insufficient funds")
	ErrRelayFailed        = errors.New("relay failed")
	ErrNoRelayer          = errors.New("no relayer configured")
)

// EventHandler defines a function that is called when events occur in the
// processing of transactions.
type EventHandler func(v string, args ...any)

// Signer represents the signature capability used to sign and verify
// transactions. It is agnostic to the algorithm family.
type Signer interface {
	Sign(data []byte, privateKey []byte) ([]byte, error)
	Verify(data []byte, sig []byte, publicKey []byte) error
	PublicKey(privateKey []byte) ([]byte, error)
}

// Relayer hands a framed message to the peers of the node.
type Relayer interface {
	Broadcast(msg wire.Message) error
}

// TxCallback is notified when a transaction changes status.
type TxCallback func(tx storage.Tx)

// ErrorCallback is notified when an operation fails.
type ErrorCallback func(op string, err error)

// =============================================================================

// Config represents the limits and fee parameters of the ledger. The script
// size bounds the unlocking data of a transaction, its signature and public
// key together.
type Config struct {
	MaxTxSize      int
	MaxScriptSize  int
	MaxInputs      int
	MaxOutputs     int
	MinFee         uint64
	MaxFee         uint64
	FeeRate        uint64
	MempoolSize    int
	MempoolExpiry  time.Duration
	SelectStrategy string
	Magic          uint32
	EvHandler      EventHandler
}

// Stats summarizes the transaction table.
type Stats struct {
	Total     int    `json:"total"`
	Pending   int    `json:"pending"`
	Active    int    `json:"active"`
	Completed int    `json:"completed"`
	Failed    int    `json:"failed"`
	Cancelled int    `json:"cancelled"`
	Volume    uint64 `json:"volume"`
	Fees      uint64 `json:"fees"`
	UTXOs     int    `json:"utxos"`
	Mempool   int    `json:"mempool"`
}

// record is the ledger's view of a transaction.
type record struct {
	tx      storage.Tx
	applied bool
}

// Ledger manages the unspent outputs and the transactions spending them.
type Ledger struct {
	cfg       Config
	signer    Signer
	relayer   Relayer
	codec     wire.Codec
	evHandler EventHandler
	now       func() time.Time

	mu          sync.RWMutex
	initialized bool
	utxos       map[storage.OutPoint]*storage.UTXO
	txs         map[string]*record
	feeRate     uint64
	tip         uint64
	lastErr     error
	mempool     *mempool.Mempool

	cbMu         sync.RWMutex
	nextCB       int
	txCallbacks  map[int]TxCallback
	errCallbacks map[int]ErrorCallback
}

// WithClock replaces the time source of the ledger and its mempool.
func WithClock(now func() time.Time) func(l *Ledger) {
	return func(l *Ledger) {
		l.now = now
	}
}

// New constructs a ledger. The relayer may be nil when transactions are
// never broadcast.
func New(cfg Config, signer Signer, relayer Relayer, options ...func(l *Ledger)) *Ledger {

	// Build a safe event handler function for use.
	ev := func(v string, args ...any) {
		if cfg.EvHandler != nil {
			cfg.EvHandler(v, args...)
		}
	}

	l := Ledger{
		cfg:          cfg,
		signer:       signer,
		relayer:      relayer,
		codec:        wire.NewCodec(cfg.Magic, 0),
		evHandler:    ev,
		now:          time.Now,
		utxos:        make(map[storage.OutPoint]*storage.UTXO),
		txs:          make(map[string]*record),
		feeRate:      cfg.FeeRate,
		txCallbacks:  make(map[int]TxCallback),
		errCallbacks: make(map[int]ErrorCallback),
	}

	for _, option := range options {
		option(&l)
	}

	return &l
}

// Initialize prepares the ledger for use.
func (l *Ledger) Initialize() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.initialized {
		return ErrAlreadyInitialized
	}

	mp, err := mempool.New(mempool.Config{
		MaxSize:  l.cfg.MempoolSize,
		Expiry:   l.cfg.MempoolExpiry,
		Strategy: l.cfg.SelectStrategy,
	}, mempool.WithClock(l.now))
	if err != nil {
		return err
	}

	l.mempool = mp
	l.initialized = true

	l.evHandler("ledger: Initialize: mempool[%d] expiry[%v] feeRate[%d]", l.cfg.MempoolSize, l.cfg.MempoolExpiry, l.feeRate)

	return nil
}

// Shutdown clears the ledger state. It is safe to call more than once.
func (l *Ledger) Shutdown() {
	l.mu.Lock()
	{
		if l.mempool != nil {
			l.mempool.Truncate()
		}
		l.utxos = make(map[storage.OutPoint]*storage.UTXO)
		l.txs = make(map[string]*record)
		l.initialized = false
	}
	l.mu.Unlock()

	l.cbMu.Lock()
	{
		l.txCallbacks = make(map[int]TxCallback)
		l.errCallbacks = make(map[int]ErrorCallback)
	}
	l.cbMu.Unlock()

	l.evHandler("ledger: Shutdown: completed")
}

// LastError returns the error of the most recent failed operation.
func (l *Ledger) LastError() error {
	l.mu.RLock()
	defer l.mu.RUnlock()

	return l.lastErr
}

// Stats returns a summary of the transaction table.
func (l *Ledger) Stats() Stats {
	l.mu.RLock()
	defer l.mu.RUnlock()

	st := Stats{
		Total: len(l.txs),
		UTXOs: len(l.utxos),
	}

	for _, rec := range l.txs {
		switch rec.tx.Status {
		case storage.StatusPending:
			st.Pending++
		case storage.StatusActive:
			st.Active++
		case storage.StatusCompleted:
			st.Completed++
		case storage.StatusFailed:
			st.Failed++
		case storage.StatusCancelled:
			st.Cancelled++
		}

		if rec.applied {
			out, _ := rec.tx.OutputSum()
			st.Volume += out
			st.Fees += rec.tx.Fee
		}
	}

	if l.mempool != nil {
		st.Mempool = l.mempool.Count()
	}

	return st
}

// =============================================================================

// RegisterTxCallback adds a callback notified on transaction status changes.
// The returned id is used to unregister it.
func (l *Ledger) RegisterTxCallback(fn TxCallback) int {
	l.cbMu.Lock()
	defer l.cbMu.Unlock()

	l.nextCB++
	l.txCallbacks[l.nextCB] = fn
	return l.nextCB
}

// UnregisterTxCallback removes a transaction callback.
func (l *Ledger) UnregisterTxCallback(id int) {
	l.cbMu.Lock()
	defer l.cbMu.Unlock()

	delete(l.txCallbacks, id)
}

// RegisterErrorCallback adds a callback notified when an operation fails.
func (l *Ledger) RegisterErrorCallback(fn ErrorCallback) int {
	l.cbMu.Lock()
	defer l.cbMu.Unlock()

	l.nextCB++
	l.errCallbacks[l.nextCB] = fn
	return l.nextCB
}

// UnregisterErrorCallback removes an error callback.
func (l *Ledger) UnregisterErrorCallback(id int) {
	l.cbMu.Lock()
	defer l.cbMu.Unlock()

	delete(l.errCallbacks, id)
}

// notifyTx must be called without the ledger lock held.
func (l *Ledger) notifyTx(tx storage.Tx) {
	l.cbMu.RLock()
	fns := make([]TxCallback, 0, len(l.txCallbacks))
	for _, fn := range l.txCallbacks {
		fns = append(fns, fn)
	}
	l.cbMu.RUnlock()

	for _, fn := range fns {
		func() {
			defer func() {
				if r := recover(); r != nil {
					l.evHandler("ledger: notifyTx: PANIC: %v", r)
				}
			}()
			fn(tx.Clone())
		}()
	}
}

// fail records the error and notifies the error callbacks. It must be
// called without the ledger lock held.
func (l *Ledger) fail(op string, err error) error {
	l.mu.Lock()
	l.lastErr = err
	l.mu.Unlock()

	l.evHandler("ledger: %s: ERROR: %s", op, err)

	l.cbMu.RLock()
	fns := make([]ErrorCallback, 0, len(l.errCallbacks))
	for _, fn := range l.errCallbacks {
		fns = append(fns, fn)
	}
	l.cbMu.RUnlock()

	for _, fn := range fns {
		func() {
			defer func() {
				if r := recover(); r != nil {
					l.evHandler("ledger: fail: PANIC: %v", r)
				}
			}()
			fn(op, err)
		}()
	}

	return err
}
