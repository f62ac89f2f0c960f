package worker_test

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/ledgercore/node/foundation/blockchain/ledger"
	"github.com/ledgercore/node/foundation/blockchain/signature"
	"github.com/ledgercore/node/foundation/blockchain/storage"
	"github.com/ledgercore/node/foundation/blockchain/wire"
	"github.com/ledgercore/node/foundation/blockchain/worker"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// Success and failure markers.
const (
	success = "✓"
	failed  = "✗"
)

const (
	alice = "0xalice"
	bob   = "0xbob"
	seed  = "00000000000000000000000000000000000000000000000000000000000000aa"
)

type relayer struct {
	mu   sync.Mutex
	msgs int
	err  error
}

func (r *relayer) Broadcast(msg wire.Message) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.err != nil {
		return r.err
	}
	r.msgs++
	return nil
}

func (r *relayer) set(err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.err = err
}

func (r *relayer) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.msgs
}

// newLedger constructs a ledger where alice owns n outputs of 100000.
func newLedger(t *testing.T, n int, rl ledger.Relayer) *ledger.Ledger {
	t.Helper()

	l := ledger.New(ledger.Config{
		MaxTxSize:     1024 * 1024,
		MaxInputs:     1000,
		MaxOutputs:    1000,
		MinFee:        1000,
		MaxFee:        1000000,
		FeeRate:       100,
		MempoolSize:   1000,
		MempoolExpiry: time.Hour,
		Magic:         wire.MagicRegTest,
	}, signature.Secp256k1{}, rl)
	require.NoError(t, l.Initialize())
	t.Cleanup(l.Shutdown)

	for i := range n {
		require.NoError(t, l.AddUTXO(storage.UTXO{TxHash: seed, Index: uint32(i), Amount: 100000, Address: alice}))
	}

	return l
}

// newTx creates a transaction spending output idx, signed when sign is set.
func newTx(t *testing.T, l *ledger.Ledger, idx uint32, sign bool) string {
	t.Helper()

	tx, err := l.CreateTransaction(ledger.NewTx{
		Inputs:  []storage.Input{{TxHash: seed, Index: idx, Amount: 100000, Address: alice}},
		Outputs: []storage.Output{{Address: bob, Amount: 90000}},
		Fee:     10000,
	})
	require.NoError(t, err)

	if sign {
		pk, err := signature.GenerateKey()
		require.NoError(t, err)
		_, err = l.SignTransaction(tx.ID, pk)
		require.NoError(t, err)
	}

	return tx.ID
}

func status(t *testing.T, l *ledger.Ledger, id string) storage.TxStatus {
	t.Helper()

	tx, err := l.Transaction(id)
	require.NoError(t, err)
	return tx.Status
}

// =============================================================================

func Test_AsyncProcessing(t *testing.T) {
	const n = 40

	l := newLedger(t, n, nil)
	pool := worker.New(worker.Config{EnableAsync: true, Threads: 4, BatchSize: 10}, l, zap.NewNop().Sugar())

	pool.Start()
	defer pool.Shutdown()

	t.Log("Given the need to process transactions in the background.")
	{
		ids := make([]string, n)
		for i := range ids {
			ids[i] = newTx(t, l, uint32(i), true)
			require.NoError(t, pool.SubmitAsync(ids[i]))
		}

		require.Eventually(t, func() bool {
			return len(l.Transactions(storage.StatusCompleted)) == n
		}, 5*time.Second, 10*time.Millisecond)
		t.Logf("\t%s\tShould complete every submitted transaction.", success)

		require.Equal(t, uint64(n*90000), l.Balance(bob))
		require.Equal(t, n, l.MempoolSize())
		require.Empty(t, pool.Recovery().Ops())
		t.Logf("\t%s\tShould apply each transaction exactly once.", success)
	}
}

func Test_Shutdown(t *testing.T) {
	l := newLedger(t, 1, nil)

	t.Log("Given the need to stop a pool that never started.")
	{
		pool := worker.New(worker.Config{EnableAsync: true, Threads: 2}, l, zap.NewNop().Sugar())
		pool.Shutdown()
		pool.Shutdown()
		require.ErrorIs(t, pool.AddTask(func(ctx context.Context) error { return nil }), worker.ErrShutdown)
		require.ErrorIs(t, pool.Queue("x"), worker.ErrShutdown)
		t.Logf("\t%s\tShould shut down safely and refuse new work.", success)
	}

	t.Log("Given the need to stop a running pool.")
	{
		pool := worker.New(worker.Config{EnableAsync: true, Threads: 3}, l, zap.NewNop().Sugar())
		pool.Start()

		var mu sync.Mutex
		var ran int
		for range 10 {
			err := pool.AddTask(func(ctx context.Context) error {
				mu.Lock()
				ran++
				mu.Unlock()
				return nil
			})
			require.NoError(t, err)
		}

		require.NoError(t, pool.AddTask(func(ctx context.Context) error { panic("task") }))

		require.Eventually(t, func() bool {
			mu.Lock()
			defer mu.Unlock()
			return ran == 10
		}, 5*time.Second, 10*time.Millisecond)

		pool.Shutdown()
		require.Equal(t, 0, pool.QueueLen())
		t.Logf("\t%s\tShould drain tasks, survive a panic and join the workers.", success)
	}
}

func Test_ProcessBatch(t *testing.T) {
	for _, async := range []bool{false, true} {
		f := func(t *testing.T) {
			l := newLedger(t, 5, nil)
			pool := worker.New(worker.Config{
				EnableAsync:      async,
				Threads:          3,
				BatchSize:        2,
				BatchRate:        1000,
				MaxRetryAttempts: 2,
			}, l, zap.NewNop().Sugar())
			pool.Start()
			defer pool.Shutdown()

			ids := make([]string, 5)
			for i := range ids {
				ids[i] = newTx(t, l, uint32(i), i != 3)
				require.NoError(t, pool.Queue(ids[i]))
			}
			require.Equal(t, 5, pool.Pending())

			res, err := pool.ProcessBatch(context.Background())
			require.NoError(t, err)
			require.Equal(t, worker.BatchResult{Batches: 3, Processed: 4, Failed: 1}, res)
			require.Equal(t, 0, pool.Pending())
			t.Logf("\t%s\tShould process every item independently of its batch.", success)

			ops := pool.Recovery().Ops()
			require.Len(t, ops, 1)
			require.Equal(t, worker.KindSigning, ops[0].Kind)
			require.Equal(t, ids[3], ops[0].TxID)
			require.Equal(t, storage.StatusActive, status(t, l, ids[3]))
			t.Logf("\t%s\tShould record the unsigned transaction for recovery.", success)

			ctx := context.Background()
			require.ErrorIs(t, pool.Recovery().RecoverFromError(ctx, ops[0].ID), ledger.ErrUnsigned)
			require.ErrorIs(t, pool.Recovery().RecoverFromError(ctx, ops[0].ID), worker.ErrPermanentlyFailed)
			require.ErrorIs(t, pool.Recovery().RecoverFromError(ctx, ops[0].ID), worker.ErrPermanentlyFailed)
			require.Equal(t, storage.StatusFailed, status(t, l, ids[3]))
			require.False(t, l.IsSpent(seed, 3))
			t.Logf("\t%s\tShould fail the transaction once the attempts run out.", success)
		}

		t.Run(fmt.Sprintf("async-%t", async), f)
	}
}

func Test_ProcessBatchCancelled(t *testing.T) {
	l := newLedger(t, 2, nil)
	pool := worker.New(worker.Config{BatchSize: 1}, l, zap.NewNop().Sugar())

	require.NoError(t, pool.Queue(newTx(t, l, 0, true)))
	require.NoError(t, pool.Queue(newTx(t, l, 1, true)))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := pool.ProcessBatch(ctx)
	require.ErrorIs(t, err, context.Canceled)
	require.Equal(t, 2, pool.Pending())
}

func Test_RecoverBroadcast(t *testing.T) {
	rl := relayer{err: errors.New("no peers")}
	l := newLedger(t, 1, &rl)
	pool := worker.New(worker.Config{Broadcast: true, MaxRetryAttempts: 3}, l, zap.NewNop().Sugar())
	defer pool.Shutdown()

	id := newTx(t, l, 0, true)
	require.NoError(t, pool.SubmitAsync(id))
	require.Equal(t, storage.StatusCompleted, status(t, l, id))

	ops := pool.Recovery().Ops()
	require.Len(t, ops, 1)
	require.Equal(t, worker.KindBroadcast, ops[0].Kind)
	t.Logf("\t%s\tShould complete the transaction and record the relay failure.", success)

	ctx := context.Background()
	require.ErrorIs(t, pool.Recovery().RecoverFromError(ctx, ops[0].ID), ledger.ErrRelayFailed)

	rl.set(nil)
	require.NoError(t, pool.Recovery().RecoverFromError(ctx, ops[0].ID))
	require.NoError(t, pool.Recovery().RecoverFromError(ctx, ops[0].ID))
	require.Equal(t, 1, rl.count())

	st, err := pool.Recovery().Status(ops[0].ID)
	require.NoError(t, err)
	require.Equal(t, worker.OpRecovered, st)
	require.Equal(t, uint64(90000), l.Balance(bob))
	t.Logf("\t%s\tShould relay once and leave the output set untouched.", success)
}

func Test_RecoverCommitIdempotent(t *testing.T) {
	l := newLedger(t, 1, nil)
	pool := worker.New(worker.Config{MaxRetryAttempts: 3}, l, zap.NewNop().Sugar())
	defer pool.Shutdown()

	id := newTx(t, l, 0, true)
	_, err := l.StartTransaction(id)
	require.NoError(t, err)
	_, err = l.CommitTransaction(id)
	require.NoError(t, err)

	op := pool.Recovery().Record(worker.KindUTXOUpdate, id, errors.New("crashed before completion"), nil)
	same := pool.Recovery().Record(worker.KindUTXOUpdate, id, errors.New("again"), nil)
	require.Equal(t, op.ID, same.ID)

	recovered, failed := pool.Recovery().RecoverAll(context.Background())
	require.Equal(t, 1, recovered)
	require.Equal(t, 0, failed)

	require.Equal(t, storage.StatusCompleted, status(t, l, id))
	require.Equal(t, uint64(90000), l.Balance(bob))
	require.Len(t, l.UTXOs(bob), 1)
	t.Logf("\t%s\tShould resume an applied transaction without applying it twice.", success)
}
