package storage

import (
	"fmt"

	"github.com/ledgercore/node/foundation/blockchain/wire"
)

// BlockVersion is the header version written into new blocks.
const BlockVersion uint32 = 1

// Block represents a block accepted into the chain. Hashes are stored in
// their display form.
type Block struct {
	Hash       string   `json:"hash"`        // Double SHA-256 of the header.
	PrevHash   string   `json:"prev_hash"`   // Hash of the previous block in the chain.
	MerkleRoot string   `json:"merkle_root"` // Root of the merkle tree over TxHashes.
	Height     uint64   `json:"height"`      // Block number in the chain.
	Timestamp  uint64   `json:"timestamp"`   // Time the block was produced, in seconds.
	Bits       uint32   `json:"bits"`        // Compact form of the target.
	Nonce      uint32   `json:"nonce"`       // Value committed by the producer.
	Version    uint32   `json:"version"`     // Header version.
	TxHashes   []string `json:"tx_hashes"`   // Transactions included, in order.
}

// Header returns the wire header committed to by the block hash.
func (b Block) Header() (wire.BlockHeader, error) {
	prev, err := wire.ParseHash(b.PrevHash)
	if err != nil {
		return wire.BlockHeader{}, fmt.Errorf("prev hash: %w", err)
	}

	merkle, err := wire.ParseHash(b.MerkleRoot)
	if err != nil {
		return wire.BlockHeader{}, fmt.Errorf("merkle root: %w", err)
	}

	bh := wire.BlockHeader{
		Version:    b.Version,
		PrevBlock:  prev,
		MerkleRoot: merkle,
		Timestamp:  uint32(b.Timestamp),
		Bits:       b.Bits,
		Nonce:      b.Nonce,
	}

	return bh, nil
}

// ComputeHash returns the hash of the block header.
func (b Block) ComputeHash() (string, error) {
	bh, err := b.Header()
	if err != nil {
		return "", err
	}

	return bh.Hash().String(), nil
}

// Seal fills in the block hash when it has not been provided.
func (b Block) Seal() (Block, error) {
	if b.Hash != "" {
		return b, nil
	}

	hash, err := b.ComputeHash()
	if err != nil {
		return Block{}, err
	}
	b.Hash = hash

	return b, nil
}
