package state

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"

	"github.com/ledgercore/node/foundation/blockchain/genesis"
	"github.com/ledgercore/node/foundation/blockchain/merkle"
	"github.com/ledgercore/node/foundation/blockchain/storage"
	"github.com/ledgercore/node/foundation/blockchain/wire"
)

// ErrNoTransactions is returned when a block is requested to be created
// and there are no transactions in the mempool.
var ErrNoTransactions = errors.New("no transactions in mempool")

// GenesisBlock builds the height 0 block committing to the genesis coinbase.
func GenesisBlock(g genesis.Genesis) (storage.Block, error) {
	txHashes := []string{g.CoinbaseID()}

	block := storage.Block{
		PrevHash:   wire.ZeroHash,
		MerkleRoot: merkle.RootOf(txHashes),
		Height:     0,
		Timestamp:  uint64(g.Date.Unix()),
		Bits:       g.Bits,
		Nonce:      g.Nonce,
		Version:    storage.BlockVersion,
		TxHashes:   txHashes,
	}

	return block.Seal()
}

// NewBlock builds and seals the block following prev at the next height.
func NewBlock(prev storage.Block, txHashes []string, timestamp uint64, bits uint32, nonce uint32) (storage.Block, error) {
	block := storage.Block{
		PrevHash:   prev.Hash,
		MerkleRoot: merkle.RootOf(txHashes),
		Height:     prev.Height + 1,
		Timestamp:  timestamp,
		Bits:       bits,
		Nonce:      nonce,
		Version:    storage.BlockVersion,
		TxHashes:   append([]string(nil), txHashes...),
	}

	return block.Seal()
}

// =============================================================================

// AddBlock validates the block against the index, inserts it, persists it
// and confirms its transactions in the ledger. The block must reference a
// known previous block at a lower height and its hash and merkle root must
// match its contents. Callbacks fire after the chain lock is released.
func (s *State) AddBlock(block storage.Block) error {
	s.evHandler("state: AddBlock: started: prevBlk[%s] newBlk[%s] numTrans[%d]", block.PrevHash, block.Hash, len(block.TxHashes))
	defer s.evHandler("state: AddBlock: completed: newBlk[%s]", block.Hash)

	s.mu.Lock()

	if s.status == StatusUninitialized || s.status == StatusInitializing || s.status == StatusShutdown {
		s.mu.Unlock()
		return s.fail("AddBlock", ErrNotInitialized)
	}

	if err := s.validate(block); err != nil {
		if s.enableStats {
			s.stats.BlocksRejected++
		}
		s.mu.Unlock()
		return s.fail("AddBlock", err)
	}

	if s.storage != nil {
		if err := s.storage.Write(block); err != nil {
			if s.enableStats {
				s.stats.BlocksRejected++
			}
			s.mu.Unlock()
			return s.fail("AddBlock", fmt.Errorf("persisting block %d: %w", block.Height, err))
		}
	}

	s.insert(block)

	// The ledger lock is taken while the chain lock is held, never the
	// other way around.
	var txs []storage.Tx
	var failures []error
	if s.ledger != nil {
		txs, failures = s.ledger.ApplyBlock(block.Hash, block.Height, block.TxHashes)
	}

	if s.enableStats {
		s.stats.BlocksAccepted++
		s.stats.TxsConfirmed += uint64(len(txs))
		s.stats.LastBlockHeight = max(s.stats.LastBlockHeight, block.Height)
	}

	s.mu.Unlock()

	if s.ledger != nil {
		s.ledger.ReportFailures("ApplyBlock", failures)
		s.ledger.NotifyTxs(txs)
	}

	s.blockEvent(block)
	s.notifyBlock(block, txs)

	return nil
}

// CreateBlock builds a block on top of the best block from up to howMany
// transactions picked from the mempool and adds it to the chain. The block
// reuses the bits of the best block.
func (s *State) CreateBlock(howMany int, timestamp uint64) (storage.Block, error) {
	if s.ledger == nil || s.ledger.MempoolSize() == 0 {
		return storage.Block{}, ErrNoTransactions
	}

	txs := s.ledger.PickBest(howMany)
	if len(txs) == 0 {
		return storage.Block{}, ErrNoTransactions
	}

	txHashes := make([]string, len(txs))
	for i, tx := range txs {
		txHashes[i] = tx.ID
	}

	s.mu.RLock()
	best, exists := s.best()
	s.mu.RUnlock()

	if !exists {
		return storage.Block{}, s.fail("CreateBlock", ErrNotInitialized)
	}

	block, err := NewBlock(best, txHashes, max(timestamp, best.Timestamp), best.Bits, 0)
	if err != nil {
		return storage.Block{}, s.fail("CreateBlock", err)
	}

	if err := s.AddBlock(block); err != nil {
		return storage.Block{}, err
	}

	return block, nil
}

// =============================================================================

// validate must be called with the lock held.
func (s *State) validate(block storage.Block) error {
	if block.Hash == "" {
		return fmt.Errorf("missing hash: %w", ErrHashMismatch)
	}

	if block.Timestamp > math.MaxUint32 {
		return fmt.Errorf("%d: %w", block.Timestamp, ErrBadTimestamp)
	}

	hash, err := block.ComputeHash()
	if err != nil {
		return err
	}
	if hash != block.Hash {
		return fmt.Errorf("got %s, header hashes to %s: %w", block.Hash, hash, ErrHashMismatch)
	}

	if root := merkle.RootOf(block.TxHashes); root != block.MerkleRoot {
		return fmt.Errorf("got %s, transactions give %s: %w", block.MerkleRoot, root, ErrMerkleMismatch)
	}

	if _, exists := s.blocks[block.Hash]; exists {
		return fmt.Errorf("%s: %w", block.Hash, ErrBlockExists)
	}

	if _, exists := s.byHeight[block.Height]; exists {
		return fmt.Errorf("%d: %w", block.Height, ErrHeightTaken)
	}

	prev, exists := s.blocks[block.PrevHash]
	if !exists {
		return fmt.Errorf("%s: %w", block.PrevHash, ErrUnknownParent)
	}

	if block.Height <= prev.Height {
		return fmt.Errorf("height %d after %d: %w", block.Height, prev.Height, ErrBadHeight)
	}

	return nil
}

// best returns the block at the highest height. It must be called with the
// lock held.
func (s *State) best() (storage.Block, bool) {
	if len(s.heights) == 0 {
		return storage.Block{}, false
	}

	block, exists := s.blocks[s.byHeight[s.heights[len(s.heights)-1]]]
	return block, exists
}

// blockEvent provides a specific event about a new block in the chain for
// application specific support.
func (s *State) blockEvent(block storage.Block) {
	blockJSON, err := json.Marshal(block)
	if err != nil {
		blockJSON = fmt.Appendf(nil, "%q", err.Error())
	}

	s.evHandler(`viewer: block: {"hash":%q,"height":%d,"block":%s}`, block.Hash, block.Height, string(blockJSON))
}
