package storage

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"math/bits"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common/hexutil"
)

// TxStatus represents where a transaction is in its lifecycle.
type TxStatus string

// Set of transaction statuses.
const (
	StatusPending   TxStatus = "PENDING"
	StatusActive    TxStatus = "ACTIVE"
	StatusCompleted TxStatus = "COMPLETED"
	StatusFailed    TxStatus = "FAILED"
	StatusCancelled TxStatus = "CANCELLED"
)

// Terminal reports whether no further transition is possible.
func (s TxStatus) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed || s == StatusCancelled
}

// ParseStatus converts the text form of a status, ignoring case.
func ParseStatus(s string) (TxStatus, error) {
	status := TxStatus(strings.ToUpper(s))
	switch status {
	case StatusPending, StatusActive, StatusCompleted, StatusFailed, StatusCancelled:
		return status, nil
	}
	return "", fmt.Errorf("unknown status %q", s)
}

// =============================================================================

// Priority orders work competing for the same resources.
type Priority int

// Set of priorities.
const (
	PriorityLow Priority = iota
	PriorityNormal
	PriorityHigh
	PriorityCritical
)

var priorityNames = [...]string{"LOW", "NORMAL", "HIGH", "CRITICAL"}

// String implements the fmt.Stringer interface.
func (p Priority) String() string {
	if p < PriorityLow || p > PriorityCritical {
		return fmt.Sprintf("Priority(%d)", int(p))
	}
	return priorityNames[p]
}

// MarshalText implements the encoding.TextMarshaler interface.
func (p Priority) MarshalText() ([]byte, error) {
	return []byte(p.String()), nil
}

// UnmarshalText implements the encoding.TextUnmarshaler interface.
func (p *Priority) UnmarshalText(text []byte) error {
	for i, name := range priorityNames {
		if strings.EqualFold(name, string(text)) {
			*p = Priority(i)
			return nil
		}
	}
	return fmt.Errorf("unknown priority %q", text)
}

// =============================================================================

// TxType classifies a transaction.
type TxType string

// Set of transaction types.
const (
	TypeTransfer TxType = "transfer"
	TypeCoinbase TxType = "coinbase"
)

// Input spends a previously created output.
type Input struct {
	TxHash  string `json:"tx_hash" validate:"required"` // Transaction that created the output.
	Index   uint32 `json:"index"`                       // Output position in that transaction.
	Amount  uint64 `json:"amount" validate:"gt=0"`      // Amount the spender claims the output holds.
	Address string `json:"address" validate:"required"` // Address the spender claims owns the output.
}

// Output creates a new spendable amount for an address.
type Output struct {
	Address string `json:"address" validate:"required"`
	Amount  uint64 `json:"amount" validate:"gt=0"`
	Script  string `json:"script,omitempty" validate:"omitempty,oneof=p2pkh p2sh p2wpkh p2wsh asset"`
}

// Tx is a ledger transaction and its processing record.
type Tx struct {
	ID            string          `json:"id"`
	Type          TxType          `json:"type" validate:"required,oneof=transfer coinbase"`
	Priority      Priority        `json:"priority"`
	Inputs        []Input         `json:"inputs" validate:"required_unless=Type coinbase,dive"`
	Outputs       []Output        `json:"outputs" validate:"required,min=1,dive"`
	Fee           uint64          `json:"fee"`
	Signature     hexutil.Bytes   `json:"signature,omitempty"`
	PublicKey     hexutil.Bytes   `json:"public_key,omitempty"`
	Status        TxStatus        `json:"status"`
	Confirmations uint64          `json:"confirmations"`
	BlockHash     string          `json:"block_hash,omitempty"`
	BlockHeight   uint64          `json:"block_height,omitempty"`
	Metadata      json.RawMessage `json:"metadata,omitempty"`
	Result        json.RawMessage `json:"result,omitempty"`
	Error         string          `json:"error,omitempty"`
	CreatedAt     time.Time       `json:"created_at"`
	UpdatedAt     time.Time       `json:"updated_at"`
	StartedAt     time.Time       `json:"started_at,omitzero"`
	FinishedAt    time.Time       `json:"finished_at,omitzero"`
}

// SigningBytes returns the canonical encoding of the fields covered by the
// signature. Each field is length prefixed so no two transactions share an
// encoding.
func (tx Tx) SigningBytes() []byte {
	var b []byte

	str := func(s string) {
		b = binary.AppendUvarint(b, uint64(len(s)))
		b = append(b, s...)
	}
	num := func(n uint64) {
		b = binary.BigEndian.AppendUint64(b, n)
	}

	str(tx.ID)
	str(string(tx.Type))

	num(uint64(len(tx.Inputs)))
	for _, in := range tx.Inputs {
		str(in.TxHash)
		num(uint64(in.Index))
		num(in.Amount)
		str(in.Address)
	}

	num(uint64(len(tx.Outputs)))
	for _, out := range tx.Outputs {
		str(out.Address)
		num(out.Amount)
		str(out.Script)
	}

	num(tx.Fee)
	num(uint64(tx.CreatedAt.UnixNano()))

	return b
}

// InputSum returns the total claimed by the inputs. The second return is
// false if the total overflows.
func (tx Tx) InputSum() (uint64, bool) {
	var sum, carry uint64
	for _, in := range tx.Inputs {
		sum, carry = bits.Add64(sum, in.Amount, 0)
		if carry != 0 {
			return 0, false
		}
	}
	return sum, true
}

// OutputSum returns the total paid by the outputs. The second return is
// false if the total overflows.
func (tx Tx) OutputSum() (uint64, bool) {
	var sum, carry uint64
	for _, out := range tx.Outputs {
		sum, carry = bits.Add64(sum, out.Amount, 0)
		if carry != 0 {
			return 0, false
		}
	}
	return sum, true
}

// Involves reports whether the address appears in any input or output.
func (tx Tx) Involves(address string) bool {
	for _, in := range tx.Inputs {
		if in.Address == address {
			return true
		}
	}
	for _, out := range tx.Outputs {
		if out.Address == address {
			return true
		}
	}
	return false
}

// Clone returns a copy that shares no slices with the original.
func (tx Tx) Clone() Tx {
	tx.Inputs = append([]Input(nil), tx.Inputs...)
	tx.Outputs = append([]Output(nil), tx.Outputs...)
	tx.Signature = append(hexutil.Bytes(nil), tx.Signature...)
	tx.PublicKey = append(hexutil.Bytes(nil), tx.PublicKey...)
	tx.Metadata = append(json.RawMessage(nil), tx.Metadata...)
	tx.Result = append(json.RawMessage(nil), tx.Result...)
	return tx
}

// String implements the fmt.Stringer interface for logging.
func (tx Tx) String() string {
	return fmt.Sprintf("%s:%s:%s", tx.ID, tx.Type, tx.Status)
}
