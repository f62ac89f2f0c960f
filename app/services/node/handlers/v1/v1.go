// Package v1 contains the full set of handler functions and routes
// supported by the v1 web api.
package v1

import (
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"github.com/ledgercore/node/app/services/node/handlers/v1/private"
	"github.com/ledgercore/node/app/services/node/handlers/v1/public"
	"github.com/ledgercore/node/foundation/blockchain/ledger"
	"github.com/ledgercore/node/foundation/blockchain/peer"
	"github.com/ledgercore/node/foundation/blockchain/state"
	"github.com/ledgercore/node/foundation/blockchain/wire"
	"github.com/ledgercore/node/foundation/blockchain/worker"
	"github.com/ledgercore/node/foundation/events"
	"github.com/ledgercore/node/foundation/nameservice"
	"github.com/ledgercore/node/foundation/web"
	"go.uber.org/zap"
)

const version = "v1"

// Config contains all the mandatory systems required by handlers.
type Config struct {
	Log       *zap.SugaredLogger
	State     *state.State
	Ledger    *ledger.Ledger
	Pool      *worker.Pool
	Peers     *peer.Directory
	NS        *nameservice.NameService
	Evts      *events.Events
	Codec     wire.Codec
	BlockSize int
	TxMaxAge  time.Duration
}

// PublicRoutes binds all the version 1 public routes.
func PublicRoutes(app *web.App, cfg Config) {
	pbl := public.Handlers{
		Log:    cfg.Log,
		State:  cfg.State,
		Ledger: cfg.Ledger,
		Pool:   cfg.Pool,
		NS:     cfg.NS,
		WS:     websocket.Upgrader{},
		Evts:   cfg.Evts,
	}

	app.Handle(http.MethodGet, version, "/events", pbl.Events)
	app.Handle(http.MethodGet, version, "/chain/info", pbl.Info)
	app.Handle(http.MethodGet, version, "/blocks/list/:from/:to", pbl.BlocksByHeight)
	app.Handle(http.MethodGet, version, "/blocks/hash/:hash", pbl.BlockByHash)
	app.Handle(http.MethodGet, version, "/blocks/height/:height", pbl.BlockByHeight)
	app.Handle(http.MethodGet, version, "/blocks/proof/:hash/:tx", pbl.BlockProof)
	app.Handle(http.MethodGet, version, "/balances/:address", pbl.Balance)
	app.Handle(http.MethodGet, version, "/fees/estimate/:inputs/:outputs", pbl.EstimateFee)
	app.Handle(http.MethodGet, version, "/mempool", pbl.Mempool)
	app.Handle(http.MethodGet, version, "/tx/list", pbl.Transactions)
	app.Handle(http.MethodGet, version, "/tx/list/:status", pbl.Transactions)
	app.Handle(http.MethodGet, version, "/tx/address/:address", pbl.TransactionsByAddress)
	app.Handle(http.MethodGet, version, "/tx/id/:id", pbl.Transaction)
	app.Handle(http.MethodPost, version, "/tx/create", pbl.CreateTransaction)
	app.Handle(http.MethodPost, version, "/tx/sign/:id", pbl.SignTransaction)
	app.Handle(http.MethodPost, version, "/tx/submit/:id", pbl.SubmitTransaction)
	app.Handle(http.MethodPost, version, "/tx/process/:id", pbl.ProcessTransaction)
	app.Handle(http.MethodPost, version, "/tx/cancel/:id", pbl.CancelTransaction)
	app.Handle(http.MethodPost, version, "/tx/send", pbl.Send)
}

// PrivateRoutes binds all the version 1 private routes.
func PrivateRoutes(app *web.App, cfg Config) {
	prv := private.Handlers{
		Log:       cfg.Log,
		State:     cfg.State,
		Ledger:    cfg.Ledger,
		Pool:      cfg.Pool,
		Peers:     cfg.Peers,
		Codec:     cfg.Codec,
		BlockSize: cfg.BlockSize,
		TxMaxAge:  cfg.TxMaxAge,
	}

	app.Handle(http.MethodGet, version, "/node/status", prv.Status)
	app.Handle(http.MethodGet, version, "/node/peers", prv.ListPeers)
	app.Handle(http.MethodPost, version, "/node/peers", prv.ConnectPeer)
	app.Handle(http.MethodDelete, version, "/node/peers/:address", prv.DisconnectPeer)
	app.Handle(http.MethodPost, version, "/node/peers/sweep", prv.SweepPeers)
	app.Handle(http.MethodPost, version, "/node/wire", prv.Wire)
	app.Handle(http.MethodPost, version, "/node/block/next", prv.NextBlock)
	app.Handle(http.MethodPost, version, "/node/batch", prv.ProcessBatch)
	app.Handle(http.MethodPost, version, "/node/sweep", prv.Sweep)
	app.Handle(http.MethodGet, version, "/node/recovery", prv.RecoveryOps)
	app.Handle(http.MethodPost, version, "/node/recovery", prv.RecoverAll)
	app.Handle(http.MethodPost, version, "/node/recovery/:id", prv.Recover)
}
