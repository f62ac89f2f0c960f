// Package disk implements the ability to read and write blocks to disk with
// each block stored in its own file.
package disk

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"slices"
	"strconv"
	"strings"

	"github.com/ledgercore/node/foundation/blockchain/storage"
)

// Disk represents the serialization implementation for reading and storing
// blocks in their own separate files on disk. This implements the
// storage.Serializer interface.
type Disk struct {
	dbPath string
}

// New constructs a Disk value for use.
func New(dbPath string) (*Disk, error) {
	if err := os.MkdirAll(dbPath, 0755); err != nil {
		return nil, err
	}

	return &Disk{dbPath: dbPath}, nil
}

// Close in this implementation has nothing to do since a new file is
// written to disk for each new block and then immediately closed.
func (d *Disk) Close() error {
	return nil
}

// Write takes the specified block and stores it on disk in a file labeled
// with the block height.
func (d *Disk) Write(block storage.Block) error {

	// Marshal the block for writing to disk in a more human readable format.
	data, err := json.MarshalIndent(block, "", "  ")
	if err != nil {
		return err
	}

	// Write to a temporary file and rename so a crash never leaves a
	// partially written block behind.
	tmp := d.getPath(block.Height) + ".tmp"
	if err := os.WriteFile(tmp, data, 0600); err != nil {
		return err
	}

	return os.Rename(tmp, d.getPath(block.Height))
}

// GetBlock locates and returns the contents of the specified block by height.
func (d *Disk) GetBlock(height uint64) (storage.Block, error) {
	f, err := os.Open(d.getPath(height))
	if err != nil {
		return storage.Block{}, err
	}
	defer f.Close()

	var block storage.Block
	if err := json.NewDecoder(f).Decode(&block); err != nil {
		return storage.Block{}, fmt.Errorf("decoding block %d: %w", height, err)
	}

	return block, nil
}

// ForEach returns an iterator to walk through all the blocks on disk in
// height order starting with the genesis block. Heights without a block
// file are skipped.
func (d *Disk) ForEach() storage.Iterator {
	return &diskIterator{disk: d}
}

// Reset will clear out the blockchain on disk.
func (d *Disk) Reset() error {
	if err := os.RemoveAll(d.dbPath); err != nil {
		return err
	}

	return os.MkdirAll(d.dbPath, 0755)
}

// heights returns the heights of the block files on disk in ascending
// order. Files that are not named after a height are ignored.
func (d *Disk) heights() ([]uint64, error) {
	entries, err := os.ReadDir(d.dbPath)
	if err != nil {
		return nil, err
	}

	var heights []uint64
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}

		name, ok := strings.CutSuffix(entry.Name(), ".json")
		if !ok {
			continue
		}

		height, err := strconv.ParseUint(name, 10, 64)
		if err != nil {
			continue
		}
		heights = append(heights, height)
	}
	slices.Sort(heights)

	return heights, nil
}

// getPath forms the path to the specified block.
func (d *Disk) getPath(height uint64) string {
	name := strconv.FormatUint(height, 10)
	return filepath.Join(d.dbPath, fmt.Sprintf("%s.json", name))
}

// =============================================================================

// diskIterator represents the iteration implementation for walking
// through and reading blocks on disk.
type diskIterator struct {
	disk    *Disk    // Access to the disk storage API.
	heights []uint64 // Heights of the block files, read on the first call.
	loaded  bool     // Represents the heights have been read.
	eoc     bool     // Represents the iterator is at the end of the chain.
}

// Next retrieves the next block from disk.
func (di *diskIterator) Next() (storage.Block, error) {
	if di.eoc {
		return storage.Block{}, storage.ErrEndOfChain
	}

	if !di.loaded {
		heights, err := di.disk.heights()
		if err != nil {
			di.eoc = true
			return storage.Block{}, err
		}
		di.heights = heights
		di.loaded = true
	}

	for len(di.heights) > 0 {
		height := di.heights[0]
		di.heights = di.heights[1:]

		block, err := di.disk.GetBlock(height)
		if errors.Is(err, fs.ErrNotExist) {
			continue
		}
		if err != nil {
			di.eoc = true
			return storage.Block{}, err
		}

		return block, nil
	}

	di.eoc = true
	return storage.Block{}, storage.ErrEndOfChain
}

// Done returns the end of chain value.
func (di *diskIterator) Done() bool {
	return di.eoc
}
