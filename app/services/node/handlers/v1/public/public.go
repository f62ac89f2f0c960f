// Package public maintains the group of handlers for public access.
package public

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	v1 "github.com/ledgercore/node/business/web/v1"
	"github.com/ledgercore/node/foundation/blockchain/ledger"
	"github.com/ledgercore/node/foundation/blockchain/merkle"
	"github.com/ledgercore/node/foundation/blockchain/signature"
	"github.com/ledgercore/node/foundation/blockchain/state"
	"github.com/ledgercore/node/foundation/blockchain/storage"
	"github.com/ledgercore/node/foundation/blockchain/worker"
	"github.com/ledgercore/node/foundation/events"
	"github.com/ledgercore/node/foundation/nameservice"
	"github.com/ledgercore/node/foundation/web"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

// Handlers manages the set of public node endpoints.
type Handlers struct {
	Log    *zap.SugaredLogger
	State  *state.State
	Ledger *ledger.Ledger
	Pool   *worker.Pool
	NS     *nameservice.NameService
	WS     websocket.Upgrader
	Evts   *events.Events
}

// Events handles a web socket to provide events to a client.
func (h Handlers) Events(ctx context.Context, w http.ResponseWriter, r *http.Request) error {
	v, err := web.GetValues(ctx)
	if err != nil {
		return web.NewShutdownError("web value missing from context")
	}

	h.WS.CheckOrigin = func(r *http.Request) bool { return true }

	c, err := h.WS.Upgrade(w, r, nil)
	if err != nil {
		return err
	}
	defer c.Close()

	ch := h.Evts.Acquire(v.TraceID)
	defer h.Evts.Release(v.TraceID)

	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()

	for {
		select {
		case msg, wd := <-ch:
			if !wd {
				return nil
			}

			if err := c.WriteMessage(websocket.TextMessage, []byte(msg)); err != nil {
				return err
			}

		case <-ticker.C:
			if err := c.WriteMessage(websocket.PingMessage, []byte("ping")); err != nil {
				return nil
			}
		}
	}
}

// Info returns a summary of the chain.
func (h Handlers) Info(ctx context.Context, w http.ResponseWriter, r *http.Request) error {
	resp := struct {
		state.Info
		FeeRate uint64 `json:"fee_rate"`
	}{
		Info:    h.State.Info(),
		FeeRate: h.Ledger.FeeRate(),
	}

	return web.Respond(ctx, w, resp, http.StatusOK)
}

// BlocksByHeight returns the blocks in the inclusive height range.
func (h Handlers) BlocksByHeight(ctx context.Context, w http.ResponseWriter, r *http.Request) error {
	from, err := height(web.Param(r, "from"))
	if err != nil {
		return v1.NewRequestError(err, http.StatusBadRequest)
	}

	to, err := height(web.Param(r, "to"))
	if err != nil {
		return v1.NewRequestError(err, http.StatusBadRequest)
	}

	if from > to {
		return v1.NewRequestError(errors.New("from greater than to"), http.StatusBadRequest)
	}

	blocks := h.State.Blocks(from, to)
	if len(blocks) == 0 {
		return web.Respond(ctx, w, nil, http.StatusNoContent)
	}

	return web.Respond(ctx, w, blocks, http.StatusOK)
}

// BlockByHash returns the block with the specified hash.
func (h Handlers) BlockByHash(ctx context.Context, w http.ResponseWriter, r *http.Request) error {
	block, err := h.State.BlockByHash(web.Param(r, "hash"))
	if err != nil {
		return err
	}

	return web.Respond(ctx, w, block, http.StatusOK)
}

// BlockProof returns the merkle proof that a transaction is included in the
// block with the specified hash.
func (h Handlers) BlockProof(ctx context.Context, w http.ResponseWriter, r *http.Request) error {
	block, err := h.State.BlockByHash(web.Param(r, "hash"))
	if err != nil {
		return err
	}

	proof, err := merkle.ProofOf(block.TxHashes, web.Param(r, "tx"))
	if err != nil {
		return err
	}

	verified, err := merkle.VerifyTxProof(proof)
	if err != nil {
		return err
	}

	resp := txProof{
		TxProof:   proof,
		BlockHash: block.Hash,
		Height:    block.Height,
		Verified:  verified,
	}

	return web.Respond(ctx, w, resp, http.StatusOK)
}

// BlockByHeight returns the block at the specified height.
func (h Handlers) BlockByHeight(ctx context.Context, w http.ResponseWriter, r *http.Request) error {
	num, err := height(web.Param(r, "height"))
	if err != nil {
		return v1.NewRequestError(err, http.StatusBadRequest)
	}

	block, err := h.State.BlockByHeight(num)
	if err != nil {
		return err
	}

	return web.Respond(ctx, w, block, http.StatusOK)
}

// Balance returns the unspent outputs and balance of an address.
func (h Handlers) Balance(ctx context.Context, w http.ResponseWriter, r *http.Request) error {
	address := web.Param(r, "address")
	units := h.Ledger.Balance(address)

	resp := balance{
		Address: address,
		Name:    h.NS.Lookup(address),
		Units:   units,
		Coins:   ledger.ToCoins(units),
		UTXOs:   h.Ledger.UTXOs(address),
	}

	return web.Respond(ctx, w, resp, http.StatusOK)
}

// EstimateFee returns the fee expected for a transaction shape.
func (h Handlers) EstimateFee(ctx context.Context, w http.ResponseWriter, r *http.Request) error {
	inputs, err := strconv.Atoi(web.Param(r, "inputs"))
	if err != nil || inputs < 0 {
		return v1.NewRequestError(fmt.Errorf("invalid inputs %q", web.Param(r, "inputs")), http.StatusBadRequest)
	}

	outputs, err := strconv.Atoi(web.Param(r, "outputs"))
	if err != nil || outputs < 1 {
		return v1.NewRequestError(fmt.Errorf("invalid outputs %q", web.Param(r, "outputs")), http.StatusBadRequest)
	}

	est := h.Ledger.EstimateFee(inputs, outputs)
	resp := feeEstimate{
		FeeEstimate:    est,
		EstimatedCoins: ledger.ToCoins(est.EstimatedFee),
	}

	return web.Respond(ctx, w, resp, http.StatusOK)
}

// Mempool returns the transactions waiting for a block.
func (h Handlers) Mempool(ctx context.Context, w http.ResponseWriter, r *http.Request) error {
	return web.Respond(ctx, w, h.Ledger.Mempool(), http.StatusOK)
}

// =============================================================================

// Transaction returns the transaction with the specified id.
func (h Handlers) Transaction(ctx context.Context, w http.ResponseWriter, r *http.Request) error {
	t, err := h.Ledger.Transaction(web.Param(r, "id"))
	if err != nil {
		return err
	}

	return web.Respond(ctx, w, toTx(t), http.StatusOK)
}

// Transactions returns the transactions with the status given as a
// parameter, or all of them.
func (h Handlers) Transactions(ctx context.Context, w http.ResponseWriter, r *http.Request) error {
	var status storage.TxStatus
	if s := web.Param(r, "status"); s != "" {
		var err error
		if status, err = storage.ParseStatus(s); err != nil {
			return v1.NewRequestError(err, http.StatusBadRequest)
		}
	}

	return web.Respond(ctx, w, toTxs(h.Ledger.Transactions(status)), http.StatusOK)
}

// TransactionsByAddress returns the transactions touching an address.
func (h Handlers) TransactionsByAddress(ctx context.Context, w http.ResponseWriter, r *http.Request) error {
	return web.Respond(ctx, w, toTxs(h.Ledger.TransactionsByAddress(web.Param(r, "address"))), http.StatusOK)
}

// CreateTransaction records a new PENDING transaction.
func (h Handlers) CreateTransaction(ctx context.Context, w http.ResponseWriter, r *http.Request) error {
	var nt ledger.NewTx
	if err := web.Decode(r, &nt); err != nil {
		return fmt.Errorf("unable to decode payload: %w", err)
	}

	t, err := h.Ledger.CreateTransaction(nt)
	if err != nil {
		return requestError(err)
	}

	h.Log.Infow("create tran", "traceid", web.GetTraceID(ctx), "id", t.ID, "inputs", len(t.Inputs), "outputs", len(t.Outputs), "fee", t.Fee)

	return web.Respond(ctx, w, toTx(t), http.StatusCreated)
}

// SignTransaction signs a PENDING transaction.
func (h Handlers) SignTransaction(ctx context.Context, w http.ResponseWriter, r *http.Request) error {
	var req signRequest
	if err := web.Decode(r, &req); err != nil {
		return fmt.Errorf("unable to decode payload: %w", err)
	}

	key, err := signature.LoadKey(req.PrivateKey)
	if err != nil {
		return v1.NewRequestError(err, http.StatusBadRequest)
	}

	t, err := h.Ledger.SignTransaction(web.Param(r, "id"), key)
	if err != nil {
		return requestError(err)
	}

	return web.Respond(ctx, w, toTx(t), http.StatusOK)
}

// SubmitTransaction applies a signed transaction to the ledger. With
// relay=true the transaction is also relayed to the peers.
func (h Handlers) SubmitTransaction(ctx context.Context, w http.ResponseWriter, r *http.Request) error {
	id := web.Param(r, "id")

	submit := h.Ledger.SubmitTransaction
	if r.URL.Query().Get("relay") == "true" {
		submit = h.Ledger.BroadcastTransaction
	}

	t, err := submit(id)
	switch {
	case errors.Is(err, ledger.ErrRelayFailed):
		h.Pool.Recovery().Record(worker.KindBroadcast, id, err, nil)
		h.Log.Infow("submit tran", "traceid", web.GetTraceID(ctx), "id", id, "relay", "deferred", "ERROR", err)

		if t, err = h.Ledger.Transaction(id); err != nil {
			return err
		}

	case err != nil:
		return requestError(err)
	}

	return web.Respond(ctx, w, toTx(t), http.StatusOK)
}

// ProcessTransaction hands a signed PENDING transaction to the worker pool.
// With batch=true it waits for the next batch run instead.
func (h Handlers) ProcessTransaction(ctx context.Context, w http.ResponseWriter, r *http.Request) error {
	id := web.Param(r, "id")

	if _, err := h.Ledger.Transaction(id); err != nil {
		return err
	}

	queue := h.Pool.SubmitAsync
	if r.URL.Query().Get("batch") == "true" {
		queue = h.Pool.Queue
	}

	if err := queue(id); err != nil {
		return v1.NewRequestError(err, http.StatusServiceUnavailable)
	}

	resp := struct {
		ID     string `json:"id"`
		Status string `json:"status"`
	}{
		ID:     id,
		Status: "queued",
	}

	return web.Respond(ctx, w, resp, http.StatusAccepted)
}

// CancelTransaction cancels a transaction not yet applied to the ledger.
func (h Handlers) CancelTransaction(ctx context.Context, w http.ResponseWriter, r *http.Request) error {
	t, err := h.Ledger.CancelTransaction(web.Param(r, "id"))
	if err != nil {
		return requestError(err)
	}

	return web.Respond(ctx, w, toTx(t), http.StatusOK)
}

// Send builds, signs and submits a payment from the sender's unspent
// outputs, returning change to the sender.
func (h Handlers) Send(ctx context.Context, w http.ResponseWriter, r *http.Request) error {
	var req sendRequest
	if err := web.Decode(r, &req); err != nil {
		return fmt.Errorf("unable to decode payload: %w", err)
	}

	amount, err := ledger.ParseCoins(req.Amount)
	if err != nil || amount == 0 {
		return v1.NewRequestError(fmt.Errorf("amount %q: %w", req.Amount, ledger.ErrInvalidAmount), http.StatusBadRequest)
	}

	key, err := signature.LoadKey(req.PrivateKey)
	if err != nil {
		return v1.NewRequestError(err, http.StatusBadRequest)
	}

	// Two outputs: the payment and the change.
	fee := h.Ledger.EstimateFee(1, 2).EstimatedFee
	utxos, err := h.Ledger.UTXOsForAmount(req.From, amount+fee)
	if err != nil {
		return requestError(err)
	}

	fee = h.Ledger.EstimateFee(len(utxos), 2).EstimatedFee
	nt := ledger.NewTx{
		Fee:     fee,
		Outputs: []storage.Output{{Address: req.To, Amount: amount}},
	}

	var total uint64
	for _, u := range utxos {
		nt.Inputs = append(nt.Inputs, storage.Input{TxHash: u.TxHash, Index: u.Index, Amount: u.Amount, Address: u.Address})
		total += u.Amount
	}

	if total < amount+fee {
		return v1.NewRequestError(ledger.ErrInsufficientFunds, http.StatusBadRequest)
	}
	if change := total - amount - fee; change > 0 {
		nt.Outputs = append(nt.Outputs, storage.Output{Address: req.From, Amount: change})
	}

	t, err := h.Ledger.CreateTransaction(nt)
	if err != nil {
		return requestError(err)
	}

	if _, err := h.Ledger.SignTransaction(t.ID, key); err != nil {
		return requestError(err)
	}

	submit := h.Ledger.SubmitTransaction
	if req.Broadcast {
		submit = h.Ledger.BroadcastTransaction
	}

	t, err = submit(t.ID)
	switch {
	case errors.Is(err, ledger.ErrRelayFailed):
		h.Pool.Recovery().Record(worker.KindBroadcast, t.ID, err, nil)

	case err != nil:
		return requestError(err)
	}

	h.Log.Infow("send", "traceid", web.GetTraceID(ctx), "from", req.From, "to", req.To, "amount", req.Amount, "fee", fee)

	return web.Respond(ctx, w, toTx(t), http.StatusOK)
}

// =============================================================================

// height parses a height parameter where "latest" or an empty value means
// the best block.
func height(s string) (uint64, error) {
	if s == "" || s == "latest" {
		return state.QueryLatest, nil
	}

	return strconv.ParseUint(s, 10, 64)
}

// requestError marks the ledger errors caused by the request as client
// errors. A missing transaction passes through to be rendered as not found.
func requestError(err error) error {
	if errors.Is(err, ledger.ErrNotFound) {
		return err
	}

	return v1.NewRequestError(err, http.StatusBadRequest)
}
