package merkle

import (
	"encoding/hex"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
)

// TxHash is a transaction identifier used as a merkle leaf. The leaf hash is
// the double SHA-256 of the identifier text.
type TxHash string

// Hash implements the Hashable interface.
func (h TxHash) Hash() ([]byte, error) {
	return chainhash.DoubleHashB([]byte(h)), nil
}

// Equals implements the Hashable interface.
func (h TxHash) Equals(other TxHash) bool {
	return h == other
}

// RootOf returns the merkle root string for the ordered transaction hashes.
// A block without transactions commits to the zero hash.
func RootOf(txHashes []string) string {
	if len(txHashes) == 0 {
		return chainhash.Hash{}.String()
	}

	leafs := make([]TxHash, len(txHashes))
	for i, h := range txHashes {
		leafs[i] = TxHash(h)
	}

	// NewTree only fails on empty input or a failing leaf hash, neither of
	// which can happen here.
	tree, _ := NewTree(leafs)
	return tree.RootHex()
}

// TxProof shows that a transaction is committed to by a merkle root. Each
// hash is hex encoded in internal byte order and the order says on which
// side of the running hash it is concatenated.
type TxProof struct {
	TxHash string   `json:"tx_hash"`
	Root   string   `json:"merkle_root"`
	Hashes []string `json:"hashes"`
	Order  []int64  `json:"order"`
}

// ProofOf builds the inclusion proof of the transaction in the ordered
// transaction hashes of a block.
func ProofOf(txHashes []string, txHash string) (TxProof, error) {
	if len(txHashes) == 0 {
		return TxProof{}, ErrNotFound
	}

	leafs := make([]TxHash, len(txHashes))
	for i, h := range txHashes {
		leafs[i] = TxHash(h)
	}

	tree, err := NewTree(leafs)
	if err != nil {
		return TxProof{}, err
	}

	if err := tree.Verify(); err != nil {
		return TxProof{}, err
	}

	hashes, order, err := tree.Proof(TxHash(txHash))
	if err != nil {
		return TxProof{}, err
	}

	proof := TxProof{
		TxHash: txHash,
		Root:   tree.RootHex(),
		Hashes: make([]string, len(hashes)),
		Order:  order,
	}
	for i, h := range hashes {
		proof.Hashes[i] = hex.EncodeToString(h)
	}

	return proof, nil
}

// VerifyTxProof reports whether the proof folds the transaction hash into
// the merkle root it carries.
func VerifyTxProof(proof TxProof) (bool, error) {
	root, err := chainhash.NewHashFromStr(proof.Root)
	if err != nil {
		return false, err
	}

	hashes := make([][]byte, len(proof.Hashes))
	for i, h := range proof.Hashes {
		b, err := hex.DecodeString(h)
		if err != nil {
			return false, err
		}
		hashes[i] = b
	}

	leaf, err := TxHash(proof.TxHash).Hash()
	if err != nil {
		return false, err
	}

	tree := Tree[TxHash]{hashFunc: chainhash.DoubleHashB}

	return tree.VerifyProof(leaf, hashes, proof.Order, root[:]), nil
}
