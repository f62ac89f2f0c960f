// Package commands contains the functionality for the admin commands.
package commands

import (
	"errors"
	"fmt"

	"github.com/ledgercore/node/foundation/blockchain/merkle"
	"github.com/ledgercore/node/foundation/blockchain/storage"
	"github.com/ledgercore/node/foundation/blockchain/storage/disk"
)

const defaultBlocks = "zblock/mainnet/blocks"

// Blocks prints the header fields of every stored block.
func Blocks(args []string) error {
	blocks, err := load(args)
	if err != nil {
		return err
	}

	for _, b := range blocks {
		fmt.Printf("%6d  %s  prev[%s]  txs[%d]  bits[%#08x]\n", b.Height, b.Hash, b.PrevHash, len(b.TxHashes), b.Bits)
	}

	return nil
}

// Verify recomputes the hash and merkle root of every stored block and
// checks each block links to the one before it.
func Verify(args []string) error {
	blocks, err := load(args)
	if err != nil {
		return err
	}

	var failures int
	for i, b := range blocks {
		if err := check(b); err != nil {
			fmt.Printf("block %d: %s\n", b.Height, err)
			failures++
			continue
		}

		if i > 0 && b.PrevHash != blocks[i-1].Hash {
			fmt.Printf("block %d: prev hash %s does not match %s\n", b.Height, b.PrevHash, blocks[i-1].Hash)
			failures++
		}
	}

	fmt.Printf("verified %d blocks, %d failures\n", len(blocks), failures)

	if failures > 0 {
		return errors.New("chain verification failed")
	}

	return nil
}

// =============================================================================

func check(b storage.Block) error {
	hash, err := b.ComputeHash()
	if err != nil {
		return err
	}

	if hash != b.Hash {
		return fmt.Errorf("hash %s, computed %s", b.Hash, hash)
	}

	if root := merkle.RootOf(b.TxHashes); root != b.MerkleRoot {
		return fmt.Errorf("merkle root %s, computed %s", b.MerkleRoot, root)
	}

	return nil
}

func load(args []string) ([]storage.Block, error) {
	path := defaultBlocks
	if len(args) > 2 {
		path = args[2]
	}

	d, err := disk.New(path)
	if err != nil {
		return nil, err
	}
	defer d.Close()

	var blocks []storage.Block
	iter := d.ForEach()
	for {
		b, err := iter.Next()
		if errors.Is(err, storage.ErrEndOfChain) {
			break
		}
		if err != nil {
			return nil, err
		}
		blocks = append(blocks, b)
	}

	return blocks, nil
}
