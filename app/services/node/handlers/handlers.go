// Package handlers manages the different versions of the API.
package handlers

import (
	"context"
	"expvar"
	"net/http"
	"net/http/pprof"
	"os"
	"time"

	"github.com/ledgercore/node/app/services/node/handlers/debug/checkgrp"
	v1 "github.com/ledgercore/node/app/services/node/handlers/v1"
	"github.com/ledgercore/node/business/web/v1/mid"
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

// MuxConfig contains all the mandatory systems required by handlers.
type MuxConfig struct {
	Shutdown  chan os.Signal
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

func (cfg MuxConfig) routes() v1.Config {
	return v1.Config{
		Log:       cfg.Log,
		State:     cfg.State,
		Ledger:    cfg.Ledger,
		Pool:      cfg.Pool,
		Peers:     cfg.Peers,
		NS:        cfg.NS,
		Evts:      cfg.Evts,
		Codec:     cfg.Codec,
		BlockSize: cfg.BlockSize,
		TxMaxAge:  cfg.TxMaxAge,
	}
}

// PublicMux constructs a http.Handler with all application routes defined.
func PublicMux(cfg MuxConfig) http.Handler {

	// Construct the web.App which holds all routes as well as common Middleware.
	app := web.NewApp(
		cfg.Shutdown,
		mid.Logger(cfg.Log),
		mid.Errors(cfg.Log),
		mid.Cors("*"),
		mid.Panics(),
	)

	// Accept CORS 'OPTIONS' preflight requests.
	h := func(ctx context.Context, w http.ResponseWriter, r *http.Request) error {
		return nil
	}
	app.Handle(http.MethodOptions, "", "/*", h, mid.Cors("*"))

	v1.PublicRoutes(app, cfg.routes())

	return app
}

// PrivateMux constructs a http.Handler with the node to node routes defined.
func PrivateMux(cfg MuxConfig) http.Handler {
	app := web.NewApp(
		cfg.Shutdown,
		mid.Logger(cfg.Log),
		mid.Errors(cfg.Log),
		mid.Panics(),
	)

	v1.PrivateRoutes(app, cfg.routes())

	return app
}

// DebugStandardLibraryMux registers all the debug routes from the standard library
// into a new mux bypassing the use of the DefaultServerMux. Using the
// DefaultServerMux would be a security risk since a dependency could inject a
// handler into our service without us knowing it.
func DebugStandardLibraryMux() *http.ServeMux {
	mux := http.NewServeMux()

	// Register all the standard library debug endpoints.
	mux.HandleFunc("/debug/pprof/", pprof.Index)
	mux.HandleFunc("/debug/pprof/cmdline", pprof.Cmdline)
	mux.HandleFunc("/debug/pprof/profile", pprof.Profile)
	mux.HandleFunc("/debug/pprof/symbol", pprof.Symbol)
	mux.HandleFunc("/debug/pprof/trace", pprof.Trace)
	mux.Handle("/debug/vars", expvar.Handler())

	return mux
}

// DebugMux registers all the debug standard library routes and then custom
// debug application routes for the service.
func DebugMux(build string, log *zap.SugaredLogger, st *state.State) http.Handler {
	mux := DebugStandardLibraryMux()

	// Register debug check endpoints.
	cgh := checkgrp.Handlers{
		Build: build,
		Log:   log,
		State: st,
	}
	mux.HandleFunc("/debug/readiness", cgh.Readiness)
	mux.HandleFunc("/debug/liveness", cgh.Liveness)

	return mux
}
