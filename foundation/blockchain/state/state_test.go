package state_test

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/ledgercore/node/foundation/blockchain/genesis"
	"github.com/ledgercore/node/foundation/blockchain/ledger"
	"github.com/ledgercore/node/foundation/blockchain/merkle"
	"github.com/ledgercore/node/foundation/blockchain/signature"
	"github.com/ledgercore/node/foundation/blockchain/state"
	"github.com/ledgercore/node/foundation/blockchain/storage"
	"github.com/ledgercore/node/foundation/blockchain/storage/disk"
	"github.com/ledgercore/node/foundation/blockchain/storage/memory"
	"github.com/ledgercore/node/foundation/blockchain/wire"
	"github.com/stretchr/testify/require"
)

// Success and failure markers.
const (
	success = "✓"
	failed  = "✗"
)

const (
	alice = "0xalice"
	bob   = "0xbob"
)

func testGenesis() genesis.Genesis {
	g := genesis.Default("regtest")
	g.Balances = map[string]uint64{alice: 100000}
	return g
}

func newLedger(t *testing.T) *ledger.Ledger {
	t.Helper()

	cfg := ledger.Config{
		MaxTxSize:     1024 * 1024,
		MaxInputs:     1000,
		MaxOutputs:    1000,
		MinFee:        1000,
		MaxFee:        1000000,
		FeeRate:       100,
		MempoolSize:   100,
		MempoolExpiry: time.Hour,
		Magic:         wire.MagicRegTest,
	}

	l := ledger.New(cfg, signature.Secp256k1{}, nil)
	require.NoError(t, l.Initialize())
	t.Cleanup(l.Shutdown)

	return l
}

func newState(t *testing.T, cfg state.Config) *state.State {
	t.Helper()

	s := state.New(cfg)
	require.NoError(t, s.Initialize(context.Background()))
	t.Cleanup(func() { s.Shutdown() })

	return s
}

// child builds a sealed empty block on top of prev at the given height.
func child(t *testing.T, prev storage.Block, height uint64, timestamp uint64, bits uint32) storage.Block {
	t.Helper()

	block := storage.Block{
		PrevHash:   prev.Hash,
		MerkleRoot: merkle.RootOf(nil),
		Height:     height,
		Timestamp:  timestamp,
		Bits:       bits,
		Version:    storage.BlockVersion,
	}

	block, err := block.Seal()
	require.NoError(t, err)

	return block
}

// =============================================================================

func Test_Lifecycle(t *testing.T) {
	t.Log("Given the need to drive the chain state machine.")
	{
		s := state.New(state.Config{Genesis: testGenesis()})

		var mu sync.Mutex
		var seen []string
		s.RegisterStateCallback(func(from state.Status, to state.Status) {
			mu.Lock()
			defer mu.Unlock()
			seen = append(seen, fmt.Sprintf("%s->%s", from, to))
		})

		require.Equal(t, state.StatusUninitialized, s.Status())
		require.ErrorIs(t, s.Connect(), state.ErrNotInitialized)
		t.Logf("\t%s\tShould refuse to connect before initialization.", success)

		require.NoError(t, s.Initialize(context.Background()))
		require.Equal(t, state.StatusInitialized, s.Status())
		require.ErrorIs(t, s.Initialize(context.Background()), state.ErrAlreadyInitialized)
		t.Logf("\t%s\tShould initialize exactly once.", success)

		require.False(t, s.IsConnected())
		require.ErrorIs(t, s.MarkSynced(), state.ErrNotConnected)
		require.NoError(t, s.Connect())
		require.True(t, s.IsConnected())
		require.ErrorIs(t, s.Connect(), state.ErrAlreadyConnected)
		t.Logf("\t%s\tShould connect once.", success)

		require.NoError(t, s.MarkSynced())
		require.Equal(t, state.StatusSynced, s.Status())
		require.True(t, s.IsConnected())
		t.Logf("\t%s\tShould stay connected once synced.", success)

		require.NoError(t, s.Disconnect())
		require.False(t, s.IsConnected())
		require.ErrorIs(t, s.Disconnect(), state.ErrNotConnected)
		t.Logf("\t%s\tShould disconnect.", success)

		require.NoError(t, s.Shutdown())
		require.NoError(t, s.Shutdown())
		require.Equal(t, state.StatusShutdown, s.Status())
		require.ErrorIs(t, s.Connect(), state.ErrShutdown)
		require.Empty(t, s.Blocks(0, state.QueryLatest))
		t.Logf("\t%s\tShould shut down idempotently and clear the index.", success)

		mu.Lock()
		defer mu.Unlock()
		exp := []string{
			"UNINITIALIZED->INITIALIZING",
			"INITIALIZING->INITIALIZED",
			"INITIALIZED->CONNECTING",
			"CONNECTING->CONNECTED",
			"CONNECTED->SYNCED",
			"SYNCED->DISCONNECTED",
			"DISCONNECTED->SHUTDOWN",
		}
		require.Equal(t, exp, seen)
		t.Logf("\t%s\tShould notify every transition in order.", success)
	}
}

func Test_Genesis(t *testing.T) {
	l := newLedger(t)
	g := testGenesis()
	s := newState(t, state.Config{Genesis: g, Ledger: l})

	t.Log("Given the need to bootstrap the chain from a genesis.")
	{
		gen, err := s.BlockByHeight(0)
		require.NoError(t, err)
		require.Equal(t, wire.ZeroHash, gen.PrevHash)
		require.Equal(t, []string{g.CoinbaseID()}, gen.TxHashes)
		require.Equal(t, gen.Hash, s.BestBlockHash())
		require.Equal(t, uint64(0), s.CurrentHeight())
		t.Logf("\t%s\tShould build the genesis block at height 0.", success)

		exp, err := state.GenesisBlock(g)
		require.NoError(t, err)
		require.Equal(t, exp, gen)
		t.Logf("\t%s\tShould build the same genesis for the same document.", success)

		require.Equal(t, uint64(100000), l.Balance(alice))
		u, err := l.UTXO(g.CoinbaseID(), 0)
		require.NoError(t, err)
		require.Equal(t, alice, u.Address)
		t.Logf("\t%s\tShould pay the genesis allocations into the ledger.", success)
	}
}

func Test_AddBlock(t *testing.T) {
	s := newState(t, state.Config{Genesis: testGenesis(), EnableStats: true})
	gen, err := s.BlockByHeight(0)
	require.NoError(t, err)

	ts := gen.Timestamp

	t.Log("Given the need to reject blocks that do not fit the index.")
	{
		b1 := child(t, gen, 1, ts+60, gen.Bits)
		require.NoError(t, s.AddBlock(b1))
		t.Logf("\t%s\tShould accept a block on a known parent.", success)

		badHash := b1
		badHash.Nonce++

		badMerkle := child(t, b1, 2, ts+120, gen.Bits)
		badMerkle.TxHashes = []string{"tx"}

		orphan := child(t, storage.Block{Hash: strings.Repeat("ab", 32)}, 2, ts+120, gen.Bits)

		sameHeight := child(t, gen, 1, ts+61, gen.Bits)

		tooLate := child(t, b1, 2, math.MaxUint32+1, gen.Bits)

		backwards := child(t, b1, 0, ts+120, gen.Bits)
		behind := child(t, child(t, b1, 9, ts+90, gen.Bits), 5, ts+120, gen.Bits)

		tt := []struct {
			name  string
			block storage.Block
			err   error
		}{
			{"duplicate", b1, state.ErrBlockExists},
			{"hash", badHash, state.ErrHashMismatch},
			{"merkle", badMerkle, state.ErrMerkleMismatch},
			{"orphan", orphan, state.ErrUnknownParent},
			{"height-taken", sameHeight, state.ErrHeightTaken},
			{"height-zero", backwards, state.ErrHeightTaken},
			{"unknown-gap-parent", behind, state.ErrUnknownParent},
			{"timestamp-range", tooLate, state.ErrBadTimestamp},
		}

		for _, tst := range tt {
			f := func(t *testing.T) {
				err := s.AddBlock(tst.block)
				if !errors.Is(err, tst.err) {
					t.Fatalf("\t%s\tShould reject with %v: got %v", failed, tst.err, err)
				}
				t.Logf("\t%s\tShould reject with %v.", success, tst.err)
			}
			t.Run(tst.name, f)
		}

		b9 := child(t, b1, 9, ts+90, gen.Bits)
		require.NoError(t, s.AddBlock(b9))
		require.ErrorIs(t, s.AddBlock(child(t, b9, 5, ts+120, gen.Bits)), state.ErrBadHeight)
		t.Logf("\t%s\tShould reject a height below its parent.", success)

		stats := s.Stats()
		require.Equal(t, uint64(2), stats.BlocksAccepted)
		require.Equal(t, uint64(len(tt)+1), stats.BlocksRejected)
		require.Equal(t, uint64(9), stats.LastBlockHeight)
		t.Logf("\t%s\tShould count accepted and rejected blocks.", success)
	}

	t.Log("Given a chain that has not been initialized.")
	{
		s := state.New(state.Config{Genesis: testGenesis()})
		require.ErrorIs(t, s.AddBlock(storage.Block{}), state.ErrNotInitialized)
		t.Logf("\t%s\tShould refuse blocks.", success)
	}
}

func Test_Blocks(t *testing.T) {
	s := newState(t, state.Config{Genesis: testGenesis()})

	gen, err := s.BlockByHeight(0)
	require.NoError(t, err)

	t.Log("Given a chain with blocks at heights 5, 10, 15, 20 and 25.")
	{
		prev := gen
		for _, h := range []uint64{5, 10, 15, 20, 25} {
			block := child(t, prev, h, gen.Timestamp+h*60, gen.Bits)
			require.NoError(t, s.AddBlock(block))
			prev = block
		}

		var heights []uint64
		for _, b := range s.Blocks(10, 20) {
			heights = append(heights, b.Height)
		}
		require.Equal(t, []uint64{10, 15, 20}, heights)
		t.Logf("\t%s\tShould return the blocks in the inclusive range in order.", success)

		require.Empty(t, s.Blocks(21, 24))
		require.Empty(t, s.Blocks(20, 10))
		require.Len(t, s.Blocks(0, state.QueryLatest), 6)
		t.Logf("\t%s\tShould handle empty and open ranges.", success)

		require.Equal(t, uint64(25), s.CurrentHeight())
		require.Equal(t, prev.Hash, s.BestBlockHash())

		latest, err := s.BlockByHeight(state.QueryLatest)
		require.NoError(t, err)
		require.Equal(t, prev, latest)

		byHash, err := s.BlockByHash(prev.Hash)
		require.NoError(t, err)
		require.Equal(t, prev, byHash)
		t.Logf("\t%s\tShould look blocks up by height and hash.", success)

		_, err = s.BlockByHeight(7)
		require.ErrorIs(t, err, state.ErrBlockNotFound)
		_, err = s.BlockByHash("missing")
		require.ErrorIs(t, err, state.ErrBlockNotFound)
		t.Logf("\t%s\tShould report missing blocks.", success)
	}
}

func Test_Confirm(t *testing.T) {
	l := newLedger(t)
	g := testGenesis()
	s := newState(t, state.Config{Genesis: g, Ledger: l, EnableStats: true})

	pk, err := signature.GenerateKey()
	require.NoError(t, err)

	t.Log("Given the need to confirm mempool transactions in a block.")
	{
		_, err := s.CreateBlock(10, 0)
		require.ErrorIs(t, err, state.ErrNoTransactions)
		t.Logf("\t%s\tShould refuse to build a block from an empty mempool.", success)

		nt := ledger.NewTx{
			Inputs: []storage.Input{
				{TxHash: g.CoinbaseID(), Index: 0, Amount: 100000, Address: alice},
			},
			Outputs: []storage.Output{
				{Address: bob, Amount: 40000},
				{Address: alice, Amount: 50000},
			},
			Fee: 10000,
		}

		tx, err := l.CreateTransaction(nt)
		require.NoError(t, err)
		_, err = l.SignTransaction(tx.ID, pk)
		require.NoError(t, err)
		_, err = l.SubmitTransaction(tx.ID)
		require.NoError(t, err)
		require.Equal(t, 1, l.MempoolSize())

		var mu sync.Mutex
		var blocks []storage.Block
		var txs []storage.Tx
		s.RegisterBlockCallback(func(block storage.Block) {
			panic("callback failure")
		})
		s.RegisterBlockCallback(func(block storage.Block) {
			mu.Lock()
			defer mu.Unlock()
			blocks = append(blocks, block)
		})
		s.RegisterTxCallback(func(tx storage.Tx) {
			mu.Lock()
			defer mu.Unlock()
			txs = append(txs, tx)
		})

		gen, err := s.BlockByHeight(0)
		require.NoError(t, err)

		block, err := s.CreateBlock(10, gen.Timestamp+60)
		require.NoError(t, err)
		require.Equal(t, uint64(1), block.Height)
		require.Equal(t, []string{tx.ID}, block.TxHashes)
		t.Logf("\t%s\tShould build a block from the mempool.", success)

		got, err := l.Transaction(tx.ID)
		require.NoError(t, err)
		require.Equal(t, block.Hash, got.BlockHash)
		require.Equal(t, uint64(1), got.BlockHeight)
		require.Equal(t, uint64(1), got.Confirmations)
		require.Equal(t, 0, l.MempoolSize())
		t.Logf("\t%s\tShould confirm the transaction in the ledger.", success)

		mu.Lock()
		require.Len(t, blocks, 1)
		require.Len(t, txs, 1)
		require.Equal(t, tx.ID, txs[0].ID)
		mu.Unlock()
		t.Logf("\t%s\tShould notify callbacks past a panicking callback.", success)

		require.Equal(t, uint64(1), s.Stats().TxsConfirmed)

		info := s.Info()
		require.Equal(t, "regtest", info.Network)
		require.Equal(t, uint64(1), info.Height)
		require.Equal(t, block.Hash, info.BestBlockHash)
		require.Equal(t, uint64(1), info.Difficulty)
		require.Equal(t, 0, info.MempoolSize)
		require.Equal(t, block.Timestamp, info.LastBlockTime)
		t.Logf("\t%s\tShould summarize the chain.", success)
	}
}

func Test_Errors(t *testing.T) {
	l := newLedger(t)
	s := newState(t, state.Config{Genesis: testGenesis(), Ledger: l})

	var mu sync.Mutex
	ops := make(map[string]error)
	s.RegisterErrorCallback(func(op string, err error) {
		mu.Lock()
		defer mu.Unlock()
		ops[op] = err
	})

	t.Log("Given the need to observe failures of the chain and its ledger.")
	{
		require.Error(t, s.AddBlock(storage.Block{Hash: "bad"}))

		_, err := l.SubmitTransaction("missing")
		require.ErrorIs(t, err, ledger.ErrNotFound)

		mu.Lock()
		defer mu.Unlock()
		require.Contains(t, ops, "AddBlock")
		require.Contains(t, ops, "ledger.SubmitTransaction")
		require.ErrorIs(t, ops["ledger.SubmitTransaction"], ledger.ErrNotFound)
		t.Logf("\t%s\tShould forward chain and ledger errors.", success)
	}
}

func Test_ErrorCallbackReadsChain(t *testing.T) {
	l := newLedger(t)
	g := testGenesis()
	s := newState(t, state.Config{Genesis: g, Ledger: l})

	gen, err := s.BlockByHeight(0)
	require.NoError(t, err)

	funding := storage.Input{TxHash: g.CoinbaseID(), Index: 0, Amount: 100000, Address: alice}

	peerTx := storage.Tx{
		ID:      "peer-tx",
		Type:    storage.TypeTransfer,
		Fee:     5000,
		Inputs:  []storage.Input{funding},
		Outputs: []storage.Output{{Address: bob, Amount: 95000}},
	}
	require.NoError(t, l.AddToMempool(peerTx))

	// Spend the same output outside the mempool so the peer transaction
	// can no longer be applied when a block includes it.
	require.NoError(t, l.UpdateUTXOs(storage.Tx{
		ID:      "direct-tx",
		Type:    storage.TypeTransfer,
		Fee:     5000,
		Inputs:  []storage.Input{funding},
		Outputs: []storage.Output{{Address: alice, Amount: 95000}},
	}))

	heights := make(chan uint64, 10)
	s.RegisterErrorCallback(func(op string, err error) {
		heights <- s.CurrentHeight()
	})

	block, err := state.NewBlock(gen, []string{peerTx.ID}, gen.Timestamp+60, gen.Bits, 0)
	require.NoError(t, err)

	t.Log("Given an error callback that reads the chain while a block is added.")
	{
		done := make(chan error, 1)
		go func() {
			done <- s.AddBlock(block)
		}()

		select {
		case err := <-done:
			require.NoError(t, err)
		case <-time.After(5 * time.Second):
			t.Fatalf("\t%s\tShould add the block without blocking the callback.", failed)
		}
		t.Logf("\t%s\tShould add the block without blocking the callback.", success)

		select {
		case h := <-heights:
			require.Equal(t, uint64(1), h)
		default:
			t.Fatalf("\t%s\tShould report the transaction that could not be applied.", failed)
		}
		t.Logf("\t%s\tShould report the transaction that could not be applied.", success)
	}
}

func Test_StorageGaps(t *testing.T) {
	d, err := disk.New(t.TempDir())
	require.NoError(t, err)
	g := testGenesis()

	t.Log("Given a chain stored on disk with a gap in its heights.")
	{
		s := state.New(state.Config{Genesis: g, Storage: d})
		require.NoError(t, s.Initialize(context.Background()))

		gen, err := s.BlockByHeight(0)
		require.NoError(t, err)

		b5 := child(t, gen, 5, gen.Timestamp+60, gen.Bits)
		require.NoError(t, s.AddBlock(b5))
		require.NoError(t, s.Shutdown())

		reloaded := newState(t, state.Config{Genesis: g, Storage: d})
		require.Equal(t, uint64(5), reloaded.CurrentHeight())
		require.Equal(t, b5.Hash, reloaded.BestBlockHash())
		t.Logf("\t%s\tShould load the blocks past the gap.", success)
	}
}

func Test_Storage(t *testing.T) {
	mem := memory.New()
	g := testGenesis()

	var gen, last storage.Block

	t.Log("Given the need to persist accepted blocks.")
	{
		s := state.New(state.Config{Genesis: g, Storage: mem})
		require.NoError(t, s.Initialize(context.Background()))
		require.Equal(t, 1, mem.Len())
		t.Logf("\t%s\tShould write the genesis block to empty storage.", success)

		var err error
		gen, err = s.BlockByHeight(0)
		require.NoError(t, err)

		b1 := child(t, gen, 1, gen.Timestamp+60, gen.Bits)
		last = child(t, b1, 2, gen.Timestamp+120, gen.Bits)
		require.NoError(t, s.AddBlock(b1))
		require.NoError(t, s.AddBlock(last))
		require.Equal(t, 3, mem.Len())

		require.Error(t, s.AddBlock(child(t, last, 7, gen.Timestamp+180, gen.Bits)))
		require.Equal(t, uint64(2), s.CurrentHeight())
		t.Logf("\t%s\tShould reject a block the storage refuses.", success)

		require.NoError(t, s.Shutdown())
	}

	t.Log("Given the need to reload the chain from storage.")
	{
		s := newState(t, state.Config{Genesis: g, Storage: mem})
		require.Equal(t, uint64(2), s.CurrentHeight())
		require.Equal(t, last.Hash, s.BestBlockHash())
		require.Equal(t, 3, mem.Len())
		t.Logf("\t%s\tShould load the stored blocks.", success)
	}

	t.Log("Given storage written for another network.")
	{
		s := state.New(state.Config{Genesis: genesis.Default("mainnet"), Storage: mem})
		err := s.Initialize(context.Background())
		require.ErrorIs(t, err, state.ErrGenesisMismatch)
		require.Equal(t, state.StatusError, s.Status())
		t.Logf("\t%s\tShould refuse a mismatched genesis.", success)
	}
}

func Test_Events(t *testing.T) {
	var mu sync.Mutex
	var events []string
	ev := func(v string, args ...any) {
		mu.Lock()
		defer mu.Unlock()
		events = append(events, fmt.Sprintf(v, args...))
	}

	s := newState(t, state.Config{Genesis: testGenesis(), EvHandler: ev})
	gen, err := s.BlockByHeight(0)
	require.NoError(t, err)

	t.Log("Given the need to stream accepted blocks to viewers.")
	{
		block := child(t, gen, 1, gen.Timestamp+60, gen.Bits)
		require.NoError(t, s.AddBlock(block))

		mu.Lock()
		defer mu.Unlock()

		var found bool
		for _, e := range events {
			if strings.HasPrefix(e, "viewer: block:") && strings.Contains(e, block.Hash) {
				found = true
			}
		}
		require.True(t, found)
		t.Logf("\t%s\tShould emit a viewer block event.", success)
	}
}
