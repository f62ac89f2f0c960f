package worker

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Set of errors returned by the recovery log.
var (
	ErrOpNotFound        = errors.New("recovery operation not found")
	ErrPermanentlyFailed = errors.New("recovery operation permanently failed")
	ErrInProgress        = errors.New("recovery operation in progress")
	ErrNoHandler         = errors.New("no handler for recovery operation kind")
)

// Kind classifies the operation that failed.
type Kind string

// Set of recoverable operation kinds.
const (
	KindValidation    Kind = "validation"
	KindSigning       Kind = "signing"
	KindBroadcast     Kind = "broadcast"
	KindUTXOUpdate    Kind = "utxo-update"
	KindMempoolUpdate Kind = "mempool-update"
	KindCacheUpdate   Kind = "cache-update"
)

// OpStatus is the outcome of a recovery operation.
type OpStatus string

// Set of recovery operation statuses.
const (
	OpPending           OpStatus = "pending"
	OpRecovered         OpStatus = "recovered"
	OpFailedPermanently OpStatus = "failed-permanently"
)

// RecoveryOp is a failed operation awaiting another attempt.
type RecoveryOp struct {
	ID          string         `json:"id"`
	Kind        Kind           `json:"kind"`
	TxID        string         `json:"tx_id"`
	Timestamp   time.Time      `json:"timestamp"`
	LastAttempt time.Time      `json:"last_attempt,omitzero"`
	LastError   string         `json:"last_error"`
	Attempts    int            `json:"attempts"`
	Context     map[string]any `json:"context,omitempty"`
	Status      OpStatus       `json:"status"`
}

// Handler re-attempts the operation. A nil error means it succeeded.
type Handler func(ctx context.Context, op RecoveryOp) error

// FailureCallback is notified when an operation will not be retried again.
type FailureCallback func(op RecoveryOp, err error)

// RecoveryConfig represents the retry bounds of the recovery log.
type RecoveryConfig struct {
	MaxAttempts int
	RetryDelay  time.Duration
	Timeout     time.Duration
}

type entry struct {
	op       RecoveryOp
	inFlight bool
}

// Recovery records failed operations and retries them with bounded attempts.
// Operations leave the log when they succeed or run out of attempts, only
// their final status is remembered.
type Recovery struct {
	cfg RecoveryConfig
	log *zap.SugaredLogger
	now func() time.Time

	mu       sync.Mutex
	ops      map[string]*entry
	done     map[string]OpStatus
	handlers map[Kind]Handler

	cbMu      sync.RWMutex
	nextCB    int
	callbacks map[int]FailureCallback
}

// NewRecovery constructs an empty recovery log. A MaxAttempts of zero or
// less allows a single attempt.
func NewRecovery(cfg RecoveryConfig, log *zap.SugaredLogger) *Recovery {
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 1
	}

	return &Recovery{
		cfg:       cfg,
		log:       log,
		now:       time.Now,
		ops:       make(map[string]*entry),
		done:      make(map[string]OpStatus),
		handlers:  make(map[Kind]Handler),
		callbacks: make(map[int]FailureCallback),
	}
}

// Handle sets the handler used to re-attempt operations of the kind.
func (r *Recovery) Handle(kind Kind, fn Handler) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.handlers[kind] = fn
}

// RegisterErrorCallback adds a callback notified on permanent failure.
func (r *Recovery) RegisterErrorCallback(fn FailureCallback) int {
	r.cbMu.Lock()
	defer r.cbMu.Unlock()

	r.nextCB++
	r.callbacks[r.nextCB] = fn
	return r.nextCB
}

// UnregisterErrorCallback removes a failure callback.
func (r *Recovery) UnregisterErrorCallback(id int) {
	r.cbMu.Lock()
	defer r.cbMu.Unlock()

	delete(r.callbacks, id)
}

// Record logs the failure of an operation. A pending operation of the same
// kind for the same transaction is updated instead of duplicated.
func (r *Recovery) Record(kind Kind, txID string, cause error, opCtx map[string]any) RecoveryOp {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, e := range r.ops {
		if e.op.Kind == kind && e.op.TxID == txID {
			e.op.LastError = errString(cause)
			return clone(e.op)
		}
	}

	op := RecoveryOp{
		ID:        uuid.NewString(),
		Kind:      kind,
		TxID:      txID,
		Timestamp: r.now(),
		LastError: errString(cause),
		Context:   opCtx,
		Status:    OpPending,
	}
	r.ops[op.ID] = &entry{op: op}

	r.log.Infow("recovery: recorded", "id", op.ID, "kind", kind, "tx", txID, "ERROR", op.LastError)

	return clone(op)
}

// Op returns the pending operation with the specified id.
func (r *Recovery) Op(id string) (RecoveryOp, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, exists := r.ops[id]
	if !exists {
		return RecoveryOp{}, ErrOpNotFound
	}

	return clone(e.op), nil
}

// Ops returns the pending operations ordered by the time they were recorded.
func (r *Recovery) Ops() []RecoveryOp {
	r.mu.Lock()
	ops := make([]RecoveryOp, 0, len(r.ops))
	for _, e := range r.ops {
		ops = append(ops, clone(e.op))
	}
	r.mu.Unlock()

	sort.Slice(ops, func(i, j int) bool {
		if ops[i].Timestamp.Equal(ops[j].Timestamp) {
			return ops[i].ID < ops[j].ID
		}
		return ops[i].Timestamp.Before(ops[j].Timestamp)
	})

	return ops
}

// Status returns the status of an operation, pending or finished.
func (r *Recovery) Status(id string) (OpStatus, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.ops[id]; exists {
		return OpPending, nil
	}

	if status, exists := r.done[id]; exists {
		return status, nil
	}

	return "", ErrOpNotFound
}

// RecoverFromError re-attempts the operation. Recovering an operation that
// already succeeded is a no-op. An operation that has used its last attempt
// leaves the log, is reported to the failure callbacks and is never
// attempted again.
func (r *Recovery) RecoverFromError(ctx context.Context, id string) error {
	r.mu.Lock()

	e, exists := r.ops[id]
	if !exists {
		status := r.done[id]
		r.mu.Unlock()

		switch status {
		case OpRecovered:
			return nil
		case OpFailedPermanently:
			return fmt.Errorf("%s: %w", id, ErrPermanentlyFailed)
		}
		return fmt.Errorf("%s: %w", id, ErrOpNotFound)
	}

	if e.inFlight {
		r.mu.Unlock()
		return fmt.Errorf("%s: %w", id, ErrInProgress)
	}

	handler, exists := r.handlers[e.op.Kind]
	e.inFlight = true
	e.op.Attempts++
	e.op.LastAttempt = r.now()
	op := clone(e.op)

	r.mu.Unlock()

	var err error
	switch {
	case !exists:
		err = fmt.Errorf("%s: %w", op.Kind, ErrNoHandler)
	default:
		err = r.attempt(ctx, handler, op)
	}

	r.mu.Lock()

	e.inFlight = false

	if err == nil {
		delete(r.ops, id)
		r.done[id] = OpRecovered
		r.mu.Unlock()

		r.log.Infow("recovery: recovered", "id", id, "kind", op.Kind, "tx", op.TxID, "attempts", op.Attempts)
		return nil
	}

	e.op.LastError = err.Error()

	if e.op.Attempts < r.cfg.MaxAttempts {
		r.mu.Unlock()

		r.log.Infow("recovery: attempt failed", "id", id, "kind", op.Kind, "attempts", op.Attempts, "ERROR", err)
		return err
	}

	delete(r.ops, id)
	r.done[id] = OpFailedPermanently
	e.op.Status = OpFailedPermanently
	op = clone(e.op)

	r.mu.Unlock()

	r.log.Infow("recovery: permanently failed", "id", id, "kind", op.Kind, "tx", op.TxID, "attempts", op.Attempts, "ERROR", err)
	r.notify(op, err)

	return fmt.Errorf("%s: %w: %w", id, ErrPermanentlyFailed, err)
}

// RecoverAll re-attempts every pending operation whose retry delay has
// elapsed and returns the number recovered and permanently failed.
func (r *Recovery) RecoverAll(ctx context.Context) (recovered int, failed int) {
	now := r.now()

	for _, op := range r.Ops() {
		if ctx.Err() != nil {
			return recovered, failed
		}

		if !op.LastAttempt.IsZero() && now.Sub(op.LastAttempt) < r.cfg.RetryDelay {
			continue
		}

		err := r.RecoverFromError(ctx, op.ID)
		switch {
		case err == nil:
			recovered++
		case errors.Is(err, ErrPermanentlyFailed):
			failed++
		}
	}

	return recovered, failed
}

// =============================================================================

// attempt runs the handler under the recovery timeout, converting a panic
// into an error.
func (r *Recovery) attempt(ctx context.Context, handler Handler, op RecoveryOp) (err error) {
	if r.cfg.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.cfg.Timeout)
		defer cancel()
	}

	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("handler panic: %v", rec)
		}
	}()

	return handler(ctx, op)
}

func (r *Recovery) notify(op RecoveryOp, err error) {
	r.cbMu.RLock()
	fns := make([]FailureCallback, 0, len(r.callbacks))
	for _, fn := range r.callbacks {
		fns = append(fns, fn)
	}
	r.cbMu.RUnlock()

	for _, fn := range fns {
		func() {
			defer func() {
				if rec := recover(); rec != nil {
					r.log.Infow("recovery: notify: PANIC", "panic", rec)
				}
			}()
			fn(clone(op), err)
		}()
	}
}

func clone(op RecoveryOp) RecoveryOp {
	if op.Context != nil {
		c := make(map[string]any, len(op.Context))
		for k, v := range op.Context {
			c[k] = v
		}
		op.Context = c
	}
	return op
}

func errString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}
