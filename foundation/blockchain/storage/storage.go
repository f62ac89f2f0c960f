// Package storage holds the models persisted by the node along with the
// behavior required of any package that stores blocks.
package storage

import "errors"

// ErrEndOfChain is returned by an iterator once every block has been read.
var ErrEndOfChain = errors.New("end of chain")

// Serializer interface represents the behavior required to be implemented by
// any package providing support for storing and reading the blockchain.
type Serializer interface {
	Write(block Block) error
	GetBlock(height uint64) (Block, error)
	ForEach() Iterator
	Close() error
	Reset() error
}

// Iterator interface represents the behavior required to be implemented by any
// package providing support to iterate over the blocks in height order.
type Iterator interface {
	Next() (Block, error)
	Done() bool
}
