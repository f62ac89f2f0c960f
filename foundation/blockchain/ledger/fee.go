package ledger

import (
	"github.com/ledgercore/node/foundation/blockchain/storage"
)

// Field sizes used when estimating the size of a transaction that has not
// been built yet.
const (
	estimateBaseSize   = 32 + 32 + 32 + 8 + 32 + 64 + 8 + 32
	estimateInputSize  = 32 + 8 + 32 + 32 + 4
	estimateOutputSize = 32 + 8 + 32
)

// FeeEstimate describes the fee expected for a transaction shape.
type FeeEstimate struct {
	FeeRate       uint64 `json:"fee_rate"`
	EstimatedSize uint64 `json:"estimated_size"`
	EstimatedFee  uint64 `json:"estimated_fee"`
	Confidence    uint32 `json:"confidence"`
}

// Size returns the byte size used for fee and size limit checks: the sum of
// the lengths of the variable fields plus the width of the fixed ones.
func Size(tx storage.Tx) uint64 {
	size := len(tx.ID) + len(tx.Type) + 8 + len(tx.Signature) + len(tx.PublicKey) + 8 + len(tx.Metadata)

	for _, in := range tx.Inputs {
		size += len(in.TxHash) + 4 + 8 + len(in.Address)
	}

	for _, out := range tx.Outputs {
		size += len(out.Address) + 8 + len(out.Script)
	}

	return uint64(size)
}

// CalculateFee returns the fee for the transaction at the current rate.
func (l *Ledger) CalculateFee(tx storage.Tx) uint64 {
	l.mu.RLock()
	defer l.mu.RUnlock()

	return Size(tx) * l.feeRate
}

// EstimateFee returns the expected fee for a transaction with the specified
// number of inputs and outputs. Confidence drops as the mempool fills since
// admission then depends on evicting older entries.
func (l *Ledger) EstimateFee(inputs int, outputs int) FeeEstimate {
	l.mu.RLock()
	defer l.mu.RUnlock()

	return l.estimateFee(inputs, outputs)
}

// SetFeeRate changes the per byte fee rate.
func (l *Ledger) SetFeeRate(rate uint64) {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.feeRate = rate
	l.evHandler("ledger: SetFeeRate: rate[%d]", rate)
}

// FeeRate returns the per byte fee rate.
func (l *Ledger) FeeRate() uint64 {
	l.mu.RLock()
	defer l.mu.RUnlock()

	return l.feeRate
}

// estimateFee must be called with the lock held.
func (l *Ledger) estimateFee(inputs int, outputs int) FeeEstimate {
	inputs, outputs = max(inputs, 0), max(outputs, 0)
	size := uint64(estimateBaseSize + inputs*estimateInputSize + outputs*estimateOutputSize)

	confidence := uint32(95)
	if l.mempool != nil && l.cfg.MempoolSize > 0 {
		switch fill := l.mempool.Count() * 100 / l.cfg.MempoolSize; {
		case fill >= 90:
			confidence = 60
		case fill >= 50:
			confidence = 80
		}
	}

	return FeeEstimate{
		FeeRate:       l.feeRate,
		EstimatedSize: size,
		EstimatedFee:  size * l.feeRate,
		Confidence:    confidence,
	}
}
