// Package memory implements the ability to read and write blocks to memory
// using a slice.
package memory

import (
	"fmt"
	"sync"

	"github.com/ledgercore/node/foundation/blockchain/storage"
)

// Memory represents the serialization implementation for reading and storing
// blocks in memory using a slice. This implements the storage.Serializer
// interface.
type Memory struct {
	mu     sync.RWMutex
	blocks []storage.Block
}

// New constructs a Memory value for use.
func New() *Memory {
	return &Memory{}
}

// Close in this implementation has nothing to do since everything
// is in memory.
func (m *Memory) Close() error {
	return nil
}

// Write takes the specified block and stores it in memory. Blocks must be
// written in height order starting at zero.
func (m *Memory) Write(block storage.Block) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if uint64(len(m.blocks)) != block.Height {
		return fmt.Errorf("block %d is out of order, next is %d", block.Height, len(m.blocks))
	}

	m.blocks = append(m.blocks, block)

	return nil
}

// GetBlock searches the blockchain to locate and return the contents of
// the specified block by height.
func (m *Memory) GetBlock(height uint64) (storage.Block, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if height >= uint64(len(m.blocks)) {
		return storage.Block{}, fmt.Errorf("block %d does not exist", height)
	}

	return m.blocks[height], nil
}

// Len returns the number of blocks stored.
func (m *Memory) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()

	return len(m.blocks)
}

// ForEach returns an iterator to walk through all the blocks
// starting with the genesis block.
func (m *Memory) ForEach() storage.Iterator {
	return &memoryIterator{storage: m}
}

// Reset will clear out the blockchain in memory.
func (m *Memory) Reset() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.blocks = nil
	return nil
}

// =============================================================================

// memoryIterator represents the iteration implementation for walking
// through the blocks in memory.
type memoryIterator struct {
	storage *Memory // Access to the storage API.
	current uint64  // Current block height being iterated over.
	eoc     bool    // Represents the iterator is at the end of the chain.
}

// Next retrieves the next block.
func (mi *memoryIterator) Next() (storage.Block, error) {
	if mi.eoc {
		return storage.Block{}, storage.ErrEndOfChain
	}

	if mi.current >= uint64(mi.storage.Len()) {
		mi.eoc = true
		return storage.Block{}, storage.ErrEndOfChain
	}

	block, err := mi.storage.GetBlock(mi.current)
	if err != nil {
		mi.eoc = true
		return storage.Block{}, err
	}

	mi.current++

	return block, nil
}

// Done returns the end of chain value.
func (mi *memoryIterator) Done() bool {
	return mi.eoc
}
