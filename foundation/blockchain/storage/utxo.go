package storage

import "fmt"

// OutPoint identifies an output by the transaction that created it and its
// position in that transaction.
type OutPoint struct {
	TxHash string `json:"tx_hash"`
	Index  uint32 `json:"index"`
}

// String returns the txhash:index form used as a map key.
func (op OutPoint) String() string {
	return fmt.Sprintf("%s:%d", op.TxHash, op.Index)
}

// UTXO is an output of a transaction. Spent outputs are kept with the
// spending transaction recorded.
type UTXO struct {
	TxHash  string `json:"tx_hash"`
	Index   uint32 `json:"index"`
	Amount  uint64 `json:"amount"`
	Address string `json:"address"`
	Script  string `json:"script,omitempty"`
	Height  uint64 `json:"height"`
	Spent   bool   `json:"spent"`
	SpentBy string `json:"spent_by,omitempty"`
}

// OutPoint returns the key of the output.
func (u UTXO) OutPoint() OutPoint {
	return OutPoint{TxHash: u.TxHash, Index: u.Index}
}
