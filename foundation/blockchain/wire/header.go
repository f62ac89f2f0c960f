package wire

import (
	"bytes"
	"encoding/binary"
	"fmt"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
)

// BlockHeaderSize is the number of bytes hashed to produce a block hash.
const BlockHeaderSize = 4 + chainhash.HashSize + chainhash.HashSize + 4 + 4 + 4

// ZeroHash is the string form of the all zero hash. Genesis blocks carry it
// as their previous hash.
var ZeroHash = chainhash.Hash{}.String()

// BlockHeader holds the fields committed to by a block hash.
type BlockHeader struct {
	Version    uint32
	PrevBlock  chainhash.Hash
	MerkleRoot chainhash.Hash
	Timestamp  uint32
	Bits       uint32
	Nonce      uint32
}

// Serialize writes the fixed size header in little-endian field order.
func (bh BlockHeader) Serialize() []byte {
	var buf bytes.Buffer
	buf.Grow(BlockHeaderSize)

	binary.Write(&buf, binary.LittleEndian, bh.Version)
	buf.Write(bh.PrevBlock[:])
	buf.Write(bh.MerkleRoot[:])
	binary.Write(&buf, binary.LittleEndian, bh.Timestamp)
	binary.Write(&buf, binary.LittleEndian, bh.Bits)
	binary.Write(&buf, binary.LittleEndian, bh.Nonce)

	return buf.Bytes()
}

// Hash returns the double SHA-256 of the serialized header.
func (bh BlockHeader) Hash() chainhash.Hash {
	return chainhash.DoubleHashH(bh.Serialize())
}

// ParseHash converts the string form of a hash back into a chainhash. The
// empty string parses as the zero hash.
func ParseHash(s string) (chainhash.Hash, error) {
	if s == "" {
		return chainhash.Hash{}, nil
	}

	h, err := chainhash.NewHashFromStr(s)
	if err != nil {
		return chainhash.Hash{}, fmt.Errorf("parse hash %q: %w", s, err)
	}

	return *h, nil
}
