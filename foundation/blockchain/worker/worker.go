// Package worker implements the background processing of ledger transactions
// and the recovery of operations that failed along the way.
package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/ledgercore/node/foundation/blockchain/ledger"
	"github.com/ledgercore/node/foundation/blockchain/mempool"
	"go.uber.org/ratelimit"
	"go.uber.org/zap"
)

// Set of errors returned by the pool.
var (
	ErrShutdown  = errors.New("worker pool is shut down")
	ErrQueueFull = errors.New("worker queue is full")
)

// Task is a unit of work executed by one of the workers.
type Task func(ctx context.Context) error

// Config represents the processing and recovery settings of the pool.
type Config struct {
	EnableAsync      bool
	Threads          int
	BatchSize        int
	BatchRate        int // Batch flushes per second, zero is unlimited.
	QueueSize        int // Queued tasks and transactions, zero is unbounded.
	Broadcast        bool
	MaxRetryAttempts int
	RetryDelay       time.Duration
	RecoveryTimeout  time.Duration
	AutoRecovery     bool
}

// Pool manages a fixed set of goroutines draining a FIFO task queue.
type Pool struct {
	cfg      Config
	ledger   *ledger.Ledger
	log      *zap.SugaredLogger
	limiter  ratelimit.Limiter
	recovery *Recovery

	mu      sync.Mutex
	cond    *sync.Cond
	tasks   []Task
	pending []string
	running bool
	shut    bool

	wg     sync.WaitGroup
	ctx    context.Context
	cancel context.CancelFunc
}

// New constructs a pool operating on the specified ledger. Workers are not
// running until Start is called.
func New(cfg Config, l *ledger.Ledger, log *zap.SugaredLogger) *Pool {
	if cfg.Threads <= 0 {
		cfg.Threads = 1
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 1
	}

	limiter := ratelimit.NewUnlimited()
	if cfg.BatchRate > 0 {
		limiter = ratelimit.New(cfg.BatchRate)
	}

	ctx, cancel := context.WithCancel(context.Background())

	p := Pool{
		cfg:     cfg,
		ledger:  l,
		log:     log,
		limiter: limiter,
		ctx:     ctx,
		cancel:  cancel,
	}
	p.cond = sync.NewCond(&p.mu)
	p.recovery = NewRecovery(RecoveryConfig{
		MaxAttempts: cfg.MaxRetryAttempts,
		RetryDelay:  cfg.RetryDelay,
		Timeout:     cfg.RecoveryTimeout,
	}, log)

	p.registerHandlers()
	p.recovery.RegisterErrorCallback(p.permanentFailure)

	return &p
}

// Recovery returns the recovery log used by the pool.
func (p *Pool) Recovery() *Recovery {
	return p.recovery
}

// Start launches the workers when async processing is enabled, along with
// the recovery sweep when auto recovery is enabled. It does not return
// until every goroutine is running.
func (p *Pool) Start() {
	p.mu.Lock()
	if !p.cfg.EnableAsync || p.running || p.shut {
		p.mu.Unlock()
		return
	}
	p.running = true
	p.mu.Unlock()

	operations := make([]func(), 0, p.cfg.Threads+1)
	for i := range p.cfg.Threads {
		operations = append(operations, func() { p.work(i) })
	}
	if p.cfg.AutoRecovery && p.cfg.RetryDelay > 0 {
		operations = append(operations, p.recoveryOperations)
	}

	g := len(operations)
	p.wg.Add(g)

	hasStarted := make(chan bool)

	for _, op := range operations {
		go func() {
			defer p.wg.Done()
			hasStarted <- true
			op()
		}()
	}

	for range g {
		<-hasStarted
	}

	p.log.Infow("worker: started", "threads", p.cfg.Threads, "autoRecovery", p.cfg.AutoRecovery)
}

// Shutdown stops the workers and waits for them to return. Queued tasks
// that have not started are run with a cancelled context. It is safe to call on a pool that was
// never started and to call more than once.
func (p *Pool) Shutdown() {
	p.mu.Lock()
	if p.shut {
		p.mu.Unlock()
		return
	}
	p.shut = true
	dropped := p.tasks
	p.tasks = nil
	p.cond.Broadcast()
	p.mu.Unlock()

	p.cancel()
	p.wg.Wait()

	// Dropped tasks see a cancelled context and return without doing work.
	for _, task := range dropped {
		p.run(task)
	}

	p.log.Infow("worker: shutdown", "dropped", len(dropped))
}

// AddTask enqueues the task and wakes one worker. When async processing is
// disabled the task runs on the calling goroutine.
func (p *Pool) AddTask(task Task) error {
	p.mu.Lock()

	if p.shut {
		p.mu.Unlock()
		return ErrShutdown
	}

	if !p.running {
		p.mu.Unlock()
		return p.run(task)
	}

	if p.cfg.QueueSize > 0 && len(p.tasks) >= p.cfg.QueueSize {
		p.mu.Unlock()
		return ErrQueueFull
	}

	p.tasks = append(p.tasks, task)
	p.cond.Signal()
	p.mu.Unlock()

	return nil
}

// SubmitAsync enqueues the processing of a PENDING transaction.
func (p *Pool) SubmitAsync(txID string) error {
	return p.AddTask(func(ctx context.Context) error {
		return p.Process(ctx, txID)
	})
}

// QueueLen returns the number of tasks waiting for a worker.
func (p *Pool) QueueLen() int {
	p.mu.Lock()
	defer p.mu.Unlock()

	return len(p.tasks)
}

// =============================================================================

// Process runs a transaction through start, commit and completion. A commit
// failure leaves the transaction ACTIVE and records a recovery operation
// that resumes it. A relay failure after commit is recorded separately and
// does not fail the transaction.
func (p *Pool) Process(ctx context.Context, txID string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	if _, err := p.ledger.StartTransaction(txID); err != nil {
		return err
	}

	if _, err := p.ledger.CommitTransaction(txID); err != nil {
		op := p.recovery.Record(classify(err), txID, err, map[string]any{"stage": "commit"})
		p.log.Infow("worker: process: commit failed", "tx", txID, "recovery", op.ID, "kind", op.Kind, "ERROR", err)
		return err
	}

	return p.finish(txID)
}

// finish relays when configured and completes a committed transaction.
func (p *Pool) finish(txID string) error {
	if p.cfg.Broadcast {
		if err := p.ledger.RelayTransaction(txID); err != nil {
			op := p.recovery.Record(KindBroadcast, txID, err, nil)
			p.log.Infow("worker: process: relay failed", "tx", txID, "recovery", op.ID, "ERROR", err)
		}
	}

	result, err := json.Marshal(map[string]any{
		"processed_at": time.Now().UTC(),
	})
	if err != nil {
		return err
	}

	if _, err := p.ledger.CompleteTransaction(txID, result); err != nil {
		return err
	}

	return nil
}

// classify maps a commit failure to the kind of operation that failed.
func classify(err error) Kind {
	switch {
	case errors.Is(err, ledger.ErrUnsigned), errors.Is(err, ledger.ErrBadSignature):
		return KindSigning
	case errors.Is(err, mempool.ErrFull), errors.Is(err, mempool.ErrDuplicate):
		return KindMempoolUpdate
	case ledger.IsValidationError(err):
		return KindValidation
	default:
		return KindUTXOUpdate
	}
}

// permanentFailure fails the transaction behind an operation that will not
// be retried again.
func (p *Pool) permanentFailure(op RecoveryOp, err error) {
	tx, terr := p.ledger.Transaction(op.TxID)
	if terr != nil || tx.Status.Terminal() {
		return
	}

	if _, ferr := p.ledger.FailTransaction(op.TxID, fmt.Errorf("%s: %w", op.Kind, err)); ferr != nil {
		p.log.Infow("worker: permanentFailure", "tx", op.TxID, "ERROR", ferr)
	}
}

// =============================================================================

// work is the loop executed by each worker goroutine.
func (p *Pool) work(id int) {
	p.log.Infow("worker: G started", "worker", id)
	defer p.log.Infow("worker: G completed", "worker", id)

	for {
		p.mu.Lock()
		for len(p.tasks) == 0 && !p.shut {
			p.cond.Wait()
		}
		if p.shut {
			p.mu.Unlock()
			return
		}
		task := p.tasks[0]
		p.tasks[0] = nil
		p.tasks = p.tasks[1:]
		p.mu.Unlock()

		if err := p.run(task); err != nil {
			p.log.Infow("worker: task failed", "worker", id, "ERROR", err)
		}
	}
}

// run executes a task, converting a panic into an error.
func (p *Pool) run(task Task) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("task panic: %v", r)
		}
	}()

	return task(p.ctx)
}

// recoveryOperations periodically retries the pending recovery operations.
func (p *Pool) recoveryOperations() {
	p.log.Infow("worker: recoveryOperations: G started")
	defer p.log.Infow("worker: recoveryOperations: G completed")

	ticker := time.NewTicker(p.cfg.RetryDelay)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			recovered, failed := p.recovery.RecoverAll(p.ctx)
			if recovered+failed > 0 {
				p.log.Infow("worker: recoveryOperations", "recovered", recovered, "failed", failed)
			}
		case <-p.ctx.Done():
			return
		}
	}
}
