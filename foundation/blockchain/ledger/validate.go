package ledger

import (
	"errors"
	"fmt"

	"github.com/ledgercore/node/foundation/blockchain/storage"
	"github.com/ledgercore/node/foundation/validate"
)

// ValidateTransaction checks the structure of the transaction without
// consulting the output set: addresses and amounts, script kinds, counts,
// sizes and fee bounds.
func (l *Ledger) ValidateTransaction(tx storage.Tx) error {
	if err := validate.Check(tx); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidTransaction, err)
	}

	var fields validate.FieldErrors

	if tx.Type != storage.TypeCoinbase && len(tx.Inputs) == 0 {
		fields = append(fields, validate.FieldError{Field: "inputs", Err: "inputs is a required field"})
	}

	if l.cfg.MaxInputs > 0 && len(tx.Inputs) > l.cfg.MaxInputs {
		fields = append(fields, validate.FieldError{Field: "inputs", Err: fmt.Sprintf("inputs must contain at most %d items", l.cfg.MaxInputs)})
	}

	if l.cfg.MaxOutputs > 0 && len(tx.Outputs) > l.cfg.MaxOutputs {
		fields = append(fields, validate.FieldError{Field: "outputs", Err: fmt.Sprintf("outputs must contain at most %d items", l.cfg.MaxOutputs)})
	}

	if size := Size(tx); l.cfg.MaxTxSize > 0 && size > uint64(l.cfg.MaxTxSize) {
		fields = append(fields, validate.FieldError{Field: "size", Err: fmt.Sprintf("size %d exceeds %d bytes", size, l.cfg.MaxTxSize)})
	}

	if script := len(tx.Signature) + len(tx.PublicKey); l.cfg.MaxScriptSize > 0 && script > l.cfg.MaxScriptSize {
		fields = append(fields, validate.FieldError{Field: "script", Err: fmt.Sprintf("script %d exceeds %d bytes", script, l.cfg.MaxScriptSize)})
	}

	if tx.Type != storage.TypeCoinbase {
		if tx.Fee < l.cfg.MinFee {
			fields = append(fields, validate.FieldError{Field: "fee", Err: fmt.Sprintf("fee must be at least %d", l.cfg.MinFee)})
		}
		if l.cfg.MaxFee > 0 && tx.Fee > l.cfg.MaxFee {
			fields = append(fields, validate.FieldError{Field: "fee", Err: fmt.Sprintf("fee must be at most %d", l.cfg.MaxFee)})
		}
	}

	if len(fields) > 0 {
		return fmt.Errorf("%w: %w", ErrInvalidTransaction, fields)
	}

	return nil
}

// IsValidationError reports whether the error was caused by the structure
// or ledger state of a transaction rather than by the environment.
func IsValidationError(err error) bool {
	for _, target := range []error{
		ErrInvalidTransaction, ErrUTXONotFound, ErrUTXOSpent, ErrUTXOExists,
		ErrUTXOMismatch, ErrDuplicateInput, ErrInsufficientFunds, ErrBadSignature,
		ErrUnsigned, ErrCoinbase,
	} {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}
