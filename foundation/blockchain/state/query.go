package state

import (
	"fmt"
	"sort"

	"github.com/ledgercore/node/foundation/blockchain/storage"
)

// QueryLatest represents to query the latest block in the chain.
const QueryLatest = ^uint64(0) >> 1

// Info summarizes the chain for reporting.
type Info struct {
	Network         string  `json:"network"`
	Status          Status  `json:"status"`
	Height          uint64  `json:"height"`
	BestBlockHash   string  `json:"best_block_hash"`
	Difficulty      uint64  `json:"difficulty"`
	NetworkHashRate float64 `json:"network_hash_rate"`
	MempoolSize     int     `json:"mempool_size"`
	LastBlockTime   uint64  `json:"last_block_time"`
	Stats           Stats   `json:"stats"`
}

// BlockByHash returns the accepted block with the specified hash.
func (s *State) BlockByHash(hash string) (storage.Block, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	block, exists := s.blocks[hash]
	if !exists {
		return storage.Block{}, fmt.Errorf("hash %s: %w", hash, ErrBlockNotFound)
	}

	return block, nil
}

// BlockByHeight returns the accepted block at the specified height. Passing
// QueryLatest returns the best block.
func (s *State) BlockByHeight(height uint64) (storage.Block, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if height == QueryLatest {
		block, exists := s.best()
		if !exists {
			return storage.Block{}, ErrBlockNotFound
		}
		return block, nil
	}

	hash, exists := s.byHeight[height]
	if !exists {
		return storage.Block{}, fmt.Errorf("height %d: %w", height, ErrBlockNotFound)
	}

	return s.blocks[hash], nil
}

// Blocks returns the accepted blocks with heights in [start, end] in
// ascending height order. Heights with no block are skipped.
func (s *State) Blocks(start uint64, end uint64) []storage.Block {
	if end == QueryLatest {
		end = s.CurrentHeight()
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	if start > end {
		return nil
	}

	i := sort.Search(len(s.heights), func(i int) bool { return s.heights[i] >= start })

	var out []storage.Block
	for ; i < len(s.heights) && s.heights[i] <= end; i++ {
		out = append(out, s.blocks[s.byHeight[s.heights[i]]])
	}

	return out
}

// CurrentHeight returns the largest accepted height, 0 when there are no
// blocks.
func (s *State) CurrentHeight() uint64 {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if len(s.heights) == 0 {
		return 0
	}

	return s.heights[len(s.heights)-1]
}

// BestBlockHash returns the hash of the block at the current height.
func (s *State) BestBlockHash() string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	block, _ := s.best()
	return block.Hash
}

// Info returns a snapshot of the chain.
func (s *State) Info() Info {
	s.mu.RLock()
	best, _ := s.best()
	info := Info{
		Network:       s.genesis.Network,
		Status:        s.status,
		Height:        best.Height,
		BestBlockHash: best.Hash,
		Difficulty:    s.difficulty(),
		LastBlockTime: best.Timestamp,
		Stats:         s.stats,
	}
	s.mu.RUnlock()

	info.NetworkHashRate = hashRate(info.Difficulty)
	if s.ledger != nil {
		info.MempoolSize = s.ledger.MempoolSize()
	}

	return info
}
