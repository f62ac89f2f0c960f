package worker

import (
	"context"
	"errors"

	"github.com/ledgercore/node/foundation/blockchain/ledger"
	"github.com/ledgercore/node/foundation/blockchain/mempool"
	"github.com/ledgercore/node/foundation/blockchain/storage"
)

// registerHandlers binds every recoverable kind to the ledger operation it
// re-attempts. Each handler is safe to run against a transaction whose
// effects are already applied.
func (p *Pool) registerHandlers() {
	p.recovery.Handle(KindValidation, p.recoverValidation)
	p.recovery.Handle(KindSigning, p.recoverSigning)
	p.recovery.Handle(KindUTXOUpdate, p.recoverCommit)
	p.recovery.Handle(KindMempoolUpdate, p.recoverCommit)
	p.recovery.Handle(KindBroadcast, p.recoverBroadcast)
	p.recovery.Handle(KindCacheUpdate, p.recoverCache)
}

// recoverValidation re-checks the transaction before resuming the commit.
func (p *Pool) recoverValidation(ctx context.Context, op RecoveryOp) error {
	tx, err := p.ledger.Transaction(op.TxID)
	if err != nil {
		return err
	}

	if err := p.ledger.ValidateTransaction(tx); err != nil {
		return err
	}

	if !p.ledger.IsApplied(tx.ID) {
		if err := p.ledger.ValidateUTXOs(tx); err != nil {
			return err
		}
	}

	return p.recoverCommit(ctx, op)
}

// recoverSigning resumes the commit once the transaction carries a
// signature.
func (p *Pool) recoverSigning(ctx context.Context, op RecoveryOp) error {
	tx, err := p.ledger.Transaction(op.TxID)
	if err != nil {
		return err
	}

	if len(tx.Signature) == 0 {
		return ledger.ErrUnsigned
	}

	return p.recoverCommit(ctx, op)
}

// recoverCommit re-attempts the commit of an ACTIVE transaction. Committing
// an applied transaction is a no-op, so an update is never applied twice.
func (p *Pool) recoverCommit(ctx context.Context, op RecoveryOp) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	tx, err := p.ledger.Transaction(op.TxID)
	if err != nil {
		return err
	}

	switch tx.Status {
	case storage.StatusCompleted:
		return nil
	case storage.StatusActive:
	default:
		return errors.New("transaction is " + string(tx.Status))
	}

	if _, err := p.ledger.CommitTransaction(op.TxID); err != nil {
		if !errors.Is(err, mempool.ErrDuplicate) || !p.ledger.IsApplied(op.TxID) {
			return err
		}
	}

	return p.finish(op.TxID)
}

// recoverBroadcast relays the committed transaction again.
func (p *Pool) recoverBroadcast(ctx context.Context, op RecoveryOp) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	return p.ledger.RelayTransaction(op.TxID)
}

// recoverCache confirms the transaction record can be read back from the
// ledger. The ledger table is the only record store, so there is no cache
// to rebuild.
func (p *Pool) recoverCache(ctx context.Context, op RecoveryOp) error {
	_, err := p.ledger.Transaction(op.TxID)
	return err
}
