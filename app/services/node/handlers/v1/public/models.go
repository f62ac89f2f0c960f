package public

import (
	"github.com/ledgercore/node/foundation/blockchain/ledger"
	"github.com/ledgercore/node/foundation/blockchain/merkle"
	"github.com/ledgercore/node/foundation/blockchain/storage"
	"github.com/shopspring/decimal"
)

type balance struct {
	Address string          `json:"address"`
	Name    string          `json:"name"`
	Units   uint64          `json:"units"`
	Coins   decimal.Decimal `json:"coins"`
	UTXOs   []storage.UTXO  `json:"utxos"`
}

type txProof struct {
	merkle.TxProof
	BlockHash string `json:"block_hash"`
	Height    uint64 `json:"height"`
	Verified  bool   `json:"verified"`
}

type feeEstimate struct {
	ledger.FeeEstimate
	EstimatedCoins decimal.Decimal `json:"estimated_coins"`
}

type tx struct {
	storage.Tx
	FeeCoins    decimal.Decimal `json:"fee_coins"`
	OutputCoins decimal.Decimal `json:"output_coins"`
}

func toTx(t storage.Tx) tx {
	var out uint64
	for _, o := range t.Outputs {
		out += o.Amount
	}

	return tx{
		Tx:          t,
		FeeCoins:    ledger.ToCoins(t.Fee),
		OutputCoins: ledger.ToCoins(out),
	}
}

func toTxs(txs []storage.Tx) []tx {
	out := make([]tx, len(txs))
	for i, t := range txs {
		out[i] = toTx(t)
	}
	return out
}

// signRequest carries the key signing a PENDING transaction.
type signRequest struct {
	PrivateKey string `json:"private_key" validate:"required,hexadecimal"`
}

// sendRequest describes a payment built from the sender's unspent outputs.
type sendRequest struct {
	From       string `json:"from" validate:"required"`
	To         string `json:"to" validate:"required"`
	Amount     string `json:"amount" validate:"required"`
	PrivateKey string `json:"private_key" validate:"required,hexadecimal"`
	Broadcast  bool   `json:"broadcast"`
}
