package ledger

import (
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"time"

	"github.com/ledgercore/node/foundation/blockchain/storage"
	"github.com/ledgercore/node/foundation/blockchain/wire"
)

// NewTx is the information required to create a transaction.
type NewTx struct {
	Type     storage.TxType   `json:"type"`
	Priority storage.Priority `json:"priority"`
	Inputs   []storage.Input  `json:"inputs"`
	Outputs  []storage.Output `json:"outputs"`
	Fee      uint64           `json:"fee"`
	Metadata json.RawMessage  `json:"metadata,omitempty"`
}

// NewID generates a transaction id from the current time in milliseconds
// followed by 16 random bytes, all hex encoded.
func NewID(now time.Time) (string, error) {
	var b [16]byte
	if _, err := rand.Read(b[:]); err != nil {
		return "", err
	}

	return strconv.FormatInt(now.UnixMilli(), 16) + hex.EncodeToString(b[:]), nil
}

// =============================================================================

// CreateTransaction allocates a PENDING transaction. A zero fee is replaced
// by the estimate for the number of inputs and outputs.
func (l *Ledger) CreateTransaction(nt NewTx) (storage.Tx, error) {
	if nt.Type == "" {
		nt.Type = storage.TypeTransfer
	}

	now := l.now()

	id, err := NewID(now)
	if err != nil {
		return storage.Tx{}, l.fail("CreateTransaction", err)
	}

	l.mu.Lock()

	if !l.initialized {
		l.mu.Unlock()
		return storage.Tx{}, l.fail("CreateTransaction", ErrNotInitialized)
	}

	if nt.Fee == 0 && nt.Type != storage.TypeCoinbase {
		nt.Fee = l.estimateFee(len(nt.Inputs), len(nt.Outputs)).EstimatedFee
	}

	tx := storage.Tx{
		ID:        id,
		Type:      nt.Type,
		Priority:  nt.Priority,
		Inputs:    append([]storage.Input(nil), nt.Inputs...),
		Outputs:   append([]storage.Output(nil), nt.Outputs...),
		Fee:       nt.Fee,
		Metadata:  append(json.RawMessage(nil), nt.Metadata...),
		Status:    storage.StatusPending,
		CreatedAt: now,
		UpdatedAt: now,
	}

	l.txs[id] = &record{tx: tx}

	l.mu.Unlock()

	l.evHandler("ledger: CreateTransaction: id[%s] type[%s] inputs[%d] outputs[%d] fee[%d]", id, tx.Type, len(tx.Inputs), len(tx.Outputs), tx.Fee)
	l.notifyTx(tx)

	return tx.Clone(), nil
}

// SignTransaction signs the stable fields of a PENDING transaction and
// stores the signature and public key.
func (l *Ledger) SignTransaction(id string, privateKey []byte) (storage.Tx, error) {
	l.mu.Lock()

	rec, err := l.record(id)
	if err != nil {
		l.mu.Unlock()
		return storage.Tx{}, l.fail("SignTransaction", err)
	}

	if rec.tx.Status != storage.StatusPending {
		l.mu.Unlock()
		return storage.Tx{}, l.fail("SignTransaction", fmt.Errorf("%s is %s: %w", id, rec.tx.Status, ErrNotPending))
	}

	sig, err := l.signer.Sign(rec.tx.SigningBytes(), privateKey)
	if err != nil {
		l.mu.Unlock()
		return storage.Tx{}, l.fail("SignTransaction", err)
	}

	pub, err := l.signer.PublicKey(privateKey)
	if err != nil {
		l.mu.Unlock()
		return storage.Tx{}, l.fail("SignTransaction", err)
	}

	rec.tx.Signature = sig
	rec.tx.PublicKey = pub
	rec.tx.UpdatedAt = l.now()
	tx := rec.tx.Clone()

	l.mu.Unlock()

	l.evHandler("ledger: SignTransaction: id[%s]", id)

	return tx, nil
}

// SubmitTransaction verifies and validates a signed PENDING transaction,
// applies it to the output set, admits it to the mempool and marks it
// COMPLETED.
func (l *Ledger) SubmitTransaction(id string) (storage.Tx, error) {
	tx, err := l.submit(id, storage.StatusPending)
	if err != nil {
		return storage.Tx{}, l.fail("SubmitTransaction", err)
	}

	l.evHandler("ledger: SubmitTransaction: id[%s] status[%s]", id, tx.Status)
	l.notifyTx(tx)

	return tx, nil
}

// BroadcastTransaction submits the transaction and then relays it to the
// peers as a tx message. A relay failure leaves the submission in place and
// is reported with ErrRelayFailed so it can be retried with RelayTransaction.
func (l *Ledger) BroadcastTransaction(id string) (storage.Tx, error) {
	tx, err := l.submit(id, storage.StatusPending)
	if err != nil {
		return storage.Tx{}, l.fail("BroadcastTransaction", err)
	}

	l.notifyTx(tx)

	if err := l.relay(tx); err != nil {
		return tx, l.fail("BroadcastTransaction", err)
	}

	l.evHandler("ledger: BroadcastTransaction: id[%s] relayed", id)

	return tx, nil
}

// RelayTransaction relays an already applied transaction to the peers
// without touching the output set.
func (l *Ledger) RelayTransaction(id string) error {
	l.mu.RLock()
	rec, err := l.record(id)
	if err != nil {
		l.mu.RUnlock()
		return l.fail("RelayTransaction", err)
	}
	applied := rec.applied
	tx := rec.tx.Clone()
	l.mu.RUnlock()

	if !applied {
		return l.fail("RelayTransaction", fmt.Errorf("%s: %w", id, ErrNotCommitted))
	}

	if err := l.relay(tx); err != nil {
		return l.fail("RelayTransaction", err)
	}

	l.evHandler("ledger: RelayTransaction: id[%s] relayed", id)

	return nil
}

// =============================================================================

// StartTransaction moves a PENDING transaction to ACTIVE.
func (l *Ledger) StartTransaction(id string) (storage.Tx, error) {
	tx, err := l.transition(id, func(rec *record, now time.Time) error {
		if rec.tx.Status != storage.StatusPending {
			return fmt.Errorf("%s is %s: %w", id, rec.tx.Status, ErrNotPending)
		}
		rec.tx.Status = storage.StatusActive
		rec.tx.StartedAt = now
		return nil
	})
	if err != nil {
		return storage.Tx{}, l.fail("StartTransaction", err)
	}

	return tx, nil
}

// CommitTransaction applies an ACTIVE transaction to the output set and
// admits it to the mempool. The transaction stays ACTIVE until it is
// completed. Committing an already applied transaction is a no-op.
func (l *Ledger) CommitTransaction(id string) (storage.Tx, error) {
	tx, err := l.submit(id, storage.StatusActive)
	if err != nil {
		return storage.Tx{}, l.fail("CommitTransaction", err)
	}

	l.evHandler("ledger: CommitTransaction: id[%s]", id)

	return tx, nil
}

// CompleteTransaction moves an ACTIVE transaction to COMPLETED and records
// the result document.
func (l *Ledger) CompleteTransaction(id string, result json.RawMessage) (storage.Tx, error) {
	tx, err := l.transition(id, func(rec *record, now time.Time) error {
		if rec.tx.Status != storage.StatusActive {
			return fmt.Errorf("%s is %s: %w", id, rec.tx.Status, ErrNotActive)
		}
		rec.tx.Status = storage.StatusCompleted
		rec.tx.Result = append(json.RawMessage(nil), result...)
		rec.tx.FinishedAt = now
		return nil
	})
	if err != nil {
		return storage.Tx{}, l.fail("CompleteTransaction", err)
	}

	return tx, nil
}

// FailTransaction moves a PENDING or ACTIVE transaction to FAILED and
// records the cause. Applied effects on the output set are kept.
func (l *Ledger) FailTransaction(id string, cause error) (storage.Tx, error) {
	tx, err := l.transition(id, func(rec *record, now time.Time) error {
		if rec.tx.Status.Terminal() {
			return fmt.Errorf("%s is %s: %w", id, rec.tx.Status, ErrNotActive)
		}
		rec.tx.Status = storage.StatusFailed
		if cause != nil {
			rec.tx.Error = cause.Error()
		}
		rec.tx.FinishedAt = now
		return nil
	})
	if err != nil {
		return storage.Tx{}, l.fail("FailTransaction", err)
	}

	return tx, nil
}

// CancelTransaction moves a PENDING or ACTIVE transaction that has not been
// applied to CANCELLED.
func (l *Ledger) CancelTransaction(id string) (storage.Tx, error) {
	tx, err := l.transition(id, func(rec *record, now time.Time) error {
		if rec.tx.Status.Terminal() {
			return fmt.Errorf("%s is %s: %w", id, rec.tx.Status, ErrNotActive)
		}
		if rec.applied {
			return fmt.Errorf("%s: %w", id, ErrAlreadyApplied)
		}
		rec.tx.Status = storage.StatusCancelled
		rec.tx.FinishedAt = now
		return nil
	})
	if err != nil {
		return storage.Tx{}, l.fail("CancelTransaction", err)
	}

	return tx, nil
}

// =============================================================================

// Transaction returns the transaction with the specified id.
func (l *Ledger) Transaction(id string) (storage.Tx, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	rec, err := l.record(id)
	if err != nil {
		return storage.Tx{}, err
	}

	return l.view(rec), nil
}

// IsApplied reports whether the transaction's effects are in the output set.
func (l *Ledger) IsApplied(id string) bool {
	l.mu.RLock()
	defer l.mu.RUnlock()

	rec, exists := l.txs[id]
	return exists && rec.applied
}

// Transactions returns the transactions with the specified status ordered
// by creation time. An empty status returns every transaction.
func (l *Ledger) Transactions(status storage.TxStatus) []storage.Tx {
	return l.query(func(tx storage.Tx) bool {
		return status == "" || tx.Status == status
	})
}

// TransactionsByAddress returns the transactions with an input or output
// for the address ordered by creation time.
func (l *Ledger) TransactionsByAddress(address string) []storage.Tx {
	return l.query(func(tx storage.Tx) bool {
		return tx.Involves(address)
	})
}

// PurgeTransactions removes terminal transactions last updated more than
// maxAge ago and returns the number removed.
func (l *Ledger) PurgeTransactions(maxAge time.Duration) int {
	l.mu.Lock()
	defer l.mu.Unlock()

	cutoff := l.now().Add(-maxAge)

	var n int
	for id, rec := range l.txs {
		if rec.tx.Status.Terminal() && rec.tx.UpdatedAt.Before(cutoff) {
			delete(l.txs, id)
			n++
		}
	}

	if n > 0 {
		l.evHandler("ledger: PurgeTransactions: removed[%d]", n)
	}

	return n
}

// ConfirmTransaction records that the transaction was included in a block.
// A transaction that has not been applied yet is validated and applied at
// the block height. A non terminal transaction is completed and the
// transaction leaves the mempool.
func (l *Ledger) ConfirmTransaction(id string, blockHash string, height uint64) error {
	l.mu.Lock()
	tx, err := l.confirm(id, blockHash, height)
	l.mu.Unlock()

	if err != nil {
		return l.fail("ConfirmTransaction", err)
	}

	l.evHandler("ledger: ConfirmTransaction: id[%s] block[%s] height[%d]", id, blockHash, height)
	l.notifyTx(tx)

	return nil
}

// SetTip records the height of the best block so confirmations can be
// derived for transactions included in earlier blocks.
func (l *Ledger) SetTip(height uint64) {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.tip = max(l.tip, height)
}

// =============================================================================

// record must be called with the lock held.
func (l *Ledger) record(id string) (*record, error) {
	if !l.initialized {
		return nil, ErrNotInitialized
	}

	rec, exists := l.txs[id]
	if !exists {
		return nil, fmt.Errorf("%s: %w", id, ErrNotFound)
	}

	return rec, nil
}

// view returns a copy of the transaction with the confirmations derived from
// the current tip. It must be called with the lock held.
func (l *Ledger) view(rec *record) storage.Tx {
	tx := rec.tx.Clone()
	if tx.BlockHash != "" && l.tip >= tx.BlockHeight {
		tx.Confirmations = l.tip - tx.BlockHeight + 1
	}
	return tx
}

func (l *Ledger) query(match func(tx storage.Tx) bool) []storage.Tx {
	l.mu.RLock()
	txs := make([]storage.Tx, 0, len(l.txs))
	for _, rec := range l.txs {
		if match(rec.tx) {
			txs = append(txs, l.view(rec))
		}
	}
	l.mu.RUnlock()

	sort.Slice(txs, func(i, j int) bool {
		if txs[i].CreatedAt.Equal(txs[j].CreatedAt) {
			return txs[i].ID < txs[j].ID
		}
		return txs[i].CreatedAt.Before(txs[j].CreatedAt)
	})

	return txs
}

// transition applies a status change under the lock and notifies the
// transaction callbacks after release.
func (l *Ledger) transition(id string, fn func(rec *record, now time.Time) error) (storage.Tx, error) {
	l.mu.Lock()

	rec, err := l.record(id)
	if err != nil {
		l.mu.Unlock()
		return storage.Tx{}, err
	}

	now := l.now()
	if err := fn(rec, now); err != nil {
		l.mu.Unlock()
		return storage.Tx{}, err
	}
	rec.tx.UpdatedAt = now
	tx := l.view(rec)

	l.mu.Unlock()

	l.evHandler("ledger: transition: id[%s] status[%s]", id, tx.Status)
	l.notifyTx(tx)

	return tx, nil
}

// submit runs the acceptance path for a transaction in the expected status.
// For PENDING transactions the status moves to COMPLETED, ACTIVE
// transactions stay ACTIVE. Callbacks are left to the caller.
func (l *Ledger) submit(id string, expected storage.TxStatus) (storage.Tx, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	rec, err := l.record(id)
	if err != nil {
		return storage.Tx{}, err
	}

	if rec.tx.Status != expected {
		if expected == storage.StatusPending {
			return storage.Tx{}, fmt.Errorf("%s is %s: %w", id, rec.tx.Status, ErrNotPending)
		}
		return storage.Tx{}, fmt.Errorf("%s is %s: %w", id, rec.tx.Status, ErrNotActive)
	}

	if rec.applied {
		if expected == storage.StatusActive {
			return l.view(rec), nil
		}
		return storage.Tx{}, fmt.Errorf("%s: %w", id, ErrAlreadyApplied)
	}

	tx := rec.tx

	if tx.Type == storage.TypeCoinbase {
		return storage.Tx{}, fmt.Errorf("%s: %w", id, ErrCoinbase)
	}

	if len(tx.Signature) == 0 {
		return storage.Tx{}, fmt.Errorf("%s: %w", id, ErrUnsigned)
	}

	if err := l.signer.Verify(tx.SigningBytes(), tx.Signature, tx.PublicKey); err != nil {
		return storage.Tx{}, fmt.Errorf("%s: %w: %w", id, ErrBadSignature, err)
	}

	if err := l.ValidateTransaction(tx); err != nil {
		return storage.Tx{}, err
	}

	if err := l.validateUTXOs(tx); err != nil {
		return storage.Tx{}, err
	}

	evicted, err := l.mempool.Add(tx)
	if err != nil {
		return storage.Tx{}, admitError(id, err)
	}
	for _, ev := range evicted {
		l.evHandler("ledger: submit: mempool evicted[%s]", ev)
	}

	l.applyUTXOs(tx, 0)
	rec.applied = true

	now := l.now()
	rec.tx.UpdatedAt = now
	if expected == storage.StatusPending {
		rec.tx.Status = storage.StatusCompleted
		rec.tx.FinishedAt = now
	}

	return l.view(rec), nil
}

// confirm must be called with the lock held.
func (l *Ledger) confirm(id string, blockHash string, height uint64) (storage.Tx, error) {
	rec, err := l.record(id)
	if err != nil {
		return storage.Tx{}, err
	}

	if !rec.applied && !l.isApplied(rec.tx) {
		if err := l.validateUTXOs(rec.tx); err != nil {
			return storage.Tx{}, err
		}
		l.applyUTXOs(rec.tx, height)
	}
	rec.applied = true

	now := l.now()
	rec.tx.BlockHash = blockHash
	rec.tx.BlockHeight = height
	rec.tx.UpdatedAt = now
	if !rec.tx.Status.Terminal() {
		rec.tx.Status = storage.StatusCompleted
		rec.tx.FinishedAt = now
	}
	l.tip = max(l.tip, height)

	if l.mempool != nil {
		l.mempool.Delete(id)
		l.dropConflicts(rec.tx, now)
	}

	return l.view(rec), nil
}

// dropConflicts removes the mempool entries that spend an input of the
// confirmed transaction. Their records move to FAILED. It must be called
// with the lock held.
func (l *Ledger) dropConflicts(winner storage.Tx, now time.Time) {
	for _, id := range l.mempool.Conflicts(winner) {
		l.mempool.Delete(id)

		rec, exists := l.txs[id]
		if !exists || rec.applied || rec.tx.Status.Terminal() {
			continue
		}
		rec.tx.Status = storage.StatusFailed
		rec.tx.Error = fmt.Errorf("inputs spent by %s: %w", winner.ID, ErrUTXOSpent).Error()
		rec.tx.UpdatedAt = now
		rec.tx.FinishedAt = now
	}
}

// relay encodes the transaction as a tx message and hands it to the relayer.
func (l *Ledger) relay(tx storage.Tx) error {
	if l.relayer == nil {
		return fmt.Errorf("%w: %w", ErrRelayFailed, ErrNoRelayer)
	}

	payload, err := json.Marshal(tx)
	if err != nil {
		return err
	}

	msg, err := l.codec.NewMessage(wire.CmdTx, payload)
	if err != nil {
		return err
	}

	if err := l.relayer.Broadcast(msg); err != nil {
		return fmt.Errorf("%w: %w", ErrRelayFailed, err)
	}

	return nil
}

// DecodeTx decodes the payload of a tx message.
func DecodeTx(msg wire.Message) (storage.Tx, error) {
	if msg.Command != wire.CmdTx {
		return storage.Tx{}, fmt.Errorf("command %q: %w", msg.Command, errors.ErrUnsupported)
	}

	var tx storage.Tx
	if err := json.Unmarshal(msg.Payload, &tx); err != nil {
		return storage.Tx{}, fmt.Errorf("decoding tx: %w", err)
	}

	return tx, nil
}
