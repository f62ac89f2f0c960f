// Package private maintains the group of handlers for node to node access.
package private

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"time"

	v1 "github.com/ledgercore/node/business/web/v1"
	"github.com/ledgercore/node/foundation/blockchain/ledger"
	"github.com/ledgercore/node/foundation/blockchain/peer"
	"github.com/ledgercore/node/foundation/blockchain/state"
	"github.com/ledgercore/node/foundation/blockchain/storage"
	"github.com/ledgercore/node/foundation/blockchain/wire"
	"github.com/ledgercore/node/foundation/blockchain/worker"
	"github.com/ledgercore/node/foundation/web"
	"go.uber.org/zap"
)

// Handlers manages the set of node to node endpoints.
type Handlers struct {
	Log       *zap.SugaredLogger
	State     *state.State
	Ledger    *ledger.Ledger
	Pool      *worker.Pool
	Peers     *peer.Directory
	Codec     wire.Codec
	BlockSize int
	TxMaxAge  time.Duration
}

// Status returns the current state of the node.
func (h Handlers) Status(ctx context.Context, w http.ResponseWriter, r *http.Request) error {
	resp := struct {
		Chain    state.Info   `json:"chain"`
		Ledger   ledger.Stats `json:"ledger"`
		Peers    peer.Stats   `json:"peers"`
		Pending  int          `json:"pending"`
		Queued   int          `json:"queued"`
		Recovery int          `json:"recovery"`
	}{
		Chain:    h.State.Info(),
		Ledger:   h.Ledger.Stats(),
		Peers:    h.Peers.Stats(),
		Pending:  h.Pool.Pending(),
		Queued:   h.Pool.QueueLen(),
		Recovery: len(h.Pool.Recovery().Ops()),
	}

	return web.Respond(ctx, w, resp, http.StatusOK)
}

// =============================================================================

// ListPeers returns the connected peers.
func (h Handlers) ListPeers(ctx context.Context, w http.ResponseWriter, r *http.Request) error {
	return web.Respond(ctx, w, h.Peers.Peers(), http.StatusOK)
}

// ConnectPeer adds an outbound peer to the directory.
func (h Handlers) ConnectPeer(ctx context.Context, w http.ResponseWriter, r *http.Request) error {
	var req struct {
		Address     string `json:"address" validate:"required"`
		Port        uint16 `json:"port" validate:"required"`
		Whitelisted bool   `json:"whitelisted"`
	}
	if err := web.Decode(r, &req); err != nil {
		return fmt.Errorf("unable to decode payload: %w", err)
	}

	if err := h.Peers.Connect(req.Address, req.Port, false); err != nil {
		return v1.NewRequestError(err, http.StatusConflict)
	}

	if req.Whitelisted {
		if err := h.Peers.Whitelist(req.Address, true); err != nil {
			return err
		}
	}

	rec, err := h.Peers.Peer(req.Address)
	if err != nil {
		return err
	}

	return web.Respond(ctx, w, rec, http.StatusCreated)
}

// DisconnectPeer removes a peer from the directory.
func (h Handlers) DisconnectPeer(ctx context.Context, w http.ResponseWriter, r *http.Request) error {
	if err := h.Peers.Disconnect(web.Param(r, "address")); err != nil {
		return err
	}

	return web.Respond(ctx, w, nil, http.StatusNoContent)
}

// SweepPeers disconnects the peers that have been silent too long.
func (h Handlers) SweepPeers(ctx context.Context, w http.ResponseWriter, r *http.Request) error {
	resp := struct {
		Disconnected []string `json:"disconnected"`
	}{
		Disconnected: h.Peers.Sweep(),
	}

	return web.Respond(ctx, w, resp, http.StatusOK)
}

// =============================================================================

// Wire accepts a framed message from a peer. Transactions enter the mempool,
// blocks are validated and added to the chain, and a version message
// registers the sender as an inbound peer. Other commands are accepted and
// ignored.
func (h Handlers) Wire(ctx context.Context, w http.ResponseWriter, r *http.Request) error {
	data, err := io.ReadAll(r.Body)
	if err != nil {
		return fmt.Errorf("reading frame: %w", err)
	}

	msg, err := h.Codec.Deserialize(data)
	if err != nil {
		return v1.NewRequestError(err, http.StatusBadRequest)
	}

	address := remoteHost(r)
	if err := h.Peers.RecordReceived(address, len(data)); err != nil && !errors.Is(err, peer.ErrNotConnected) {
		return err
	}

	traceID := web.GetTraceID(ctx)

	switch msg.Command {
	case wire.CmdTx:
		tx, err := ledger.DecodeTx(msg)
		if err != nil {
			return v1.NewRequestError(err, http.StatusBadRequest)
		}

		h.Log.Infow("wire tx", "traceid", traceID, "peer", address, "id", tx.ID)
		if err := h.Ledger.AddToMempool(tx); err != nil {
			return v1.NewRequestError(err, http.StatusNotAcceptable)
		}

	case wire.CmdBlock:
		var block storage.Block
		if err := json.Unmarshal(msg.Payload, &block); err != nil {
			return v1.NewRequestError(fmt.Errorf("decoding block: %w", err), http.StatusBadRequest)
		}

		h.Log.Infow("wire block", "traceid", traceID, "peer", address, "height", block.Height, "hash", block.Hash)
		if err := h.State.AddBlock(block); err != nil {
			return v1.NewRequestError(err, http.StatusNotAcceptable)
		}

	case wire.CmdVersion:
		vm, err := wire.DeserializeVersion(msg.Payload)
		if err != nil {
			return v1.NewRequestError(err, http.StatusBadRequest)
		}

		h.Log.Infow("wire version", "traceid", traceID, "peer", address, "version", vm.Version, "agent", vm.UserAgent, "height", vm.StartHeight)
		err = h.Peers.Connect(address, vm.From.Port, true)
		if err != nil && !errors.Is(err, peer.ErrAlreadyConnected) {
			return v1.NewRequestError(err, http.StatusServiceUnavailable)
		}

	default:
		h.Log.Infow("wire ignored", "traceid", traceID, "peer", address, "command", msg.Command)
	}

	return web.Respond(ctx, w, nil, http.StatusNoContent)
}

// =============================================================================

// NextBlock assembles the best mempool transactions into a new block and
// relays it to the peers.
func (h Handlers) NextBlock(ctx context.Context, w http.ResponseWriter, r *http.Request) error {
	block, err := h.State.CreateBlock(h.BlockSize, uint64(time.Now().Unix()))
	if err != nil {
		if errors.Is(err, state.ErrNoTransactions) {
			return v1.NewRequestError(err, http.StatusConflict)
		}
		return err
	}

	payload, err := json.Marshal(block)
	if err != nil {
		return err
	}

	msg, err := h.Codec.NewMessage(wire.CmdBlock, payload)
	if err != nil {
		return err
	}

	if err := h.Peers.Broadcast(msg); err != nil && !errors.Is(err, peer.ErrNoPeers) {
		h.Log.Infow("next block", "traceid", web.GetTraceID(ctx), "height", block.Height, "relay", "failed", "ERROR", err)
	}

	return web.Respond(ctx, w, block, http.StatusCreated)
}

// ProcessBatch flushes the transactions queued for batch processing.
func (h Handlers) ProcessBatch(ctx context.Context, w http.ResponseWriter, r *http.Request) error {
	res, err := h.Pool.ProcessBatch(ctx)
	if err != nil {
		return err
	}

	return web.Respond(ctx, w, res, http.StatusOK)
}

// Sweep drops expired mempool entries and forgets old finished transactions.
func (h Handlers) Sweep(ctx context.Context, w http.ResponseWriter, r *http.Request) error {
	resp := struct {
		Expired []string `json:"expired"`
		Purged  int      `json:"purged"`
	}{
		Expired: h.Ledger.SweepMempool(),
		Purged:  h.Ledger.PurgeTransactions(h.TxMaxAge),
	}

	return web.Respond(ctx, w, resp, http.StatusOK)
}

// =============================================================================

// RecoveryOps returns the failed operations known to the recovery store.
func (h Handlers) RecoveryOps(ctx context.Context, w http.ResponseWriter, r *http.Request) error {
	return web.Respond(ctx, w, h.Pool.Recovery().Ops(), http.StatusOK)
}

// RecoverAll retries every pending recovery operation.
func (h Handlers) RecoverAll(ctx context.Context, w http.ResponseWriter, r *http.Request) error {
	recovered, failed := h.Pool.Recovery().RecoverAll(ctx)

	resp := struct {
		Recovered int `json:"recovered"`
		Failed    int `json:"failed"`
	}{
		Recovered: recovered,
		Failed:    failed,
	}

	return web.Respond(ctx, w, resp, http.StatusOK)
}

// Recover retries the specified recovery operation.
func (h Handlers) Recover(ctx context.Context, w http.ResponseWriter, r *http.Request) error {
	id := web.Param(r, "id")

	if err := h.Pool.Recovery().RecoverFromError(ctx, id); err != nil {
		if errors.Is(err, worker.ErrOpNotFound) {
			return v1.NewRequestError(err, http.StatusNotFound)
		}
		return v1.NewRequestError(err, http.StatusConflict)
	}

	op, err := h.Pool.Recovery().Op(id)
	if err != nil {
		return err
	}

	return web.Respond(ctx, w, op, http.StatusOK)
}

// =============================================================================

func remoteHost(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
