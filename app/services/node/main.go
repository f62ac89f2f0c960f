package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/netip"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"syscall"
	"time"

	"github.com/ardanlabs/conf/v3"
	"github.com/ledgercore/node/app/services/node/handlers"
	"github.com/ledgercore/node/foundation/blockchain/config"
	"github.com/ledgercore/node/foundation/blockchain/genesis"
	"github.com/ledgercore/node/foundation/blockchain/ledger"
	"github.com/ledgercore/node/foundation/blockchain/peer"
	"github.com/ledgercore/node/foundation/blockchain/signature"
	"github.com/ledgercore/node/foundation/blockchain/state"
	"github.com/ledgercore/node/foundation/blockchain/storage/disk"
	"github.com/ledgercore/node/foundation/blockchain/wire"
	"github.com/ledgercore/node/foundation/blockchain/worker"
	"github.com/ledgercore/node/foundation/events"
	"github.com/ledgercore/node/foundation/logger"
	"github.com/ledgercore/node/foundation/nameservice"
	"go.uber.org/zap"
)

// build is the git version of this program. It is set using build flags in the makefile.
var build = "develop"

func main() {

	// Construct the application logger.
	log, err := logger.New("NODE")
	if err != nil {
		fmt.Println(err)
		os.Exit(1)
	}
	defer log.Sync()

	// Perform the startup and shutdown sequence.
	if err := run(log); err != nil {
		log.Errorw("startup", "ERROR", err)
		log.Sync()
		os.Exit(1)
	}
}

func run(log *zap.SugaredLogger) error {

	// =========================================================================
	// Configuration

	// The process settings come from flags and the environment. The node core
	// settings come from the optional configuration document.
	cfg := struct {
		conf.Version
		Web struct {
			ReadTimeout     time.Duration `conf:"default:5s"`
			WriteTimeout    time.Duration `conf:"default:10s"`
			IdleTimeout     time.Duration `conf:"default:120s"`
			ShutdownTimeout time.Duration `conf:"default:20s"`
			DebugHost       string        `conf:"default:0.0.0.0:7080"`
			PublicHost      string        `conf:"default:0.0.0.0:8080"`
			PrivateHost     string        `conf:"default:0.0.0.0:9080"`
		}
		Node struct {
			ConfigFile    string        `conf:"default:zblock/node.yaml"`
			GenesisFile   string        `conf:"default:zblock/genesis.json"`
			KnownPeers    []string      `conf:"default:0.0.0.0:9180"`
			BlockSize     int           `conf:"default:1000"`
			SweepInterval time.Duration `conf:"default:1m"`
			TxMaxAge      time.Duration `conf:"default:24h"`
			Wallets       string        `conf:"default:zblock/wallets/"`
		}
	}{
		Version: conf.Version{
			Build: build,
			Desc:  "utxo ledger node",
		},
	}

	const prefix = "NODE"
	help, err := conf.Parse(prefix, &cfg)
	if err != nil {
		if errors.Is(err, conf.ErrHelpWanted) {
			fmt.Println(help)
			return nil
		}
		return fmt.Errorf("parsing config: %w", err)
	}

	var docs []string
	if _, err := os.Stat(cfg.Node.ConfigFile); err == nil {
		docs = append(docs, cfg.Node.ConfigFile)
	}

	core, err := config.Load(docs...)
	if err != nil {
		return err
	}

	// With a log file configured the logger also writes to a rotated file.
	if core.Log.File != "" {
		log = logger.NewWithRotation("NODE", logger.Rotation{
			Filename:   core.Log.File,
			MaxSizeMB:  core.Log.MaxSizeMB,
			MaxBackups: core.Log.MaxBackups,
			MaxAgeDays: core.Log.MaxAgeDays,
			Compress:   core.Log.Compress,
		})
		defer log.Sync()
	}

	// =========================================================================
	// App Starting

	log.Infow("starting service", "version", build, "network", core.Network)
	defer log.Infow("shutdown complete")

	out, err := conf.String(&cfg)
	if err != nil {
		return fmt.Errorf("generating config for output: %w", err)
	}
	log.Infow("startup", "config", out, "documents", docs)

	// =========================================================================
	// Name Service Support

	// The nameservice package provides name resolution for the addresses of
	// the wallet keys found in the wallets folder.
	ns, err := nameservice.New(cfg.Node.Wallets)
	if err != nil {
		return fmt.Errorf("unable to load account name service: %w", err)
	}

	for address, name := range ns.Copy() {
		log.Infow("startup", "status", "nameservice", "name", name, "address", address)
	}

	// =========================================================================
	// Blockchain Support

	gen := genesis.Default(core.Network)
	if _, err := os.Stat(cfg.Node.GenesisFile); err == nil {
		if gen, err = genesis.Load(cfg.Node.GenesisFile); err != nil {
			return fmt.Errorf("loading genesis: %w", err)
		}
	}

	// The blockchain packages accept a function of this signature to allow the
	// application to log. Messages marked for the viewer are also sent to any
	// websocket client connected through the events package.
	evts := events.New()
	viewer := evts.Viewer()
	ev := func(v string, args ...any) {
		log.Infow(fmt.Sprintf(v, args...), "traceid", "00000000-0000-0000-0000-000000000000")
		viewer(v, args...)
	}

	// The peer directory relays transactions and blocks by posting framed
	// messages to the private API of each peer.
	transport := peer.HTTPTransport{
		Client:  &http.Client{},
		Timeout: time.Duration(core.Timeouts.ConnectionSec) * time.Second,
	}
	dir := peer.NewDirectory(core.Peer(transport, ev))
	defer dir.Shutdown()

	led := ledger.New(core.Ledger(ev), signature.Secp256k1{}, dir)
	if err := led.Initialize(); err != nil {
		return fmt.Errorf("initializing ledger: %w", err)
	}
	defer led.Shutdown()

	store, err := disk.New(core.BlocksPath())
	if err != nil {
		return fmt.Errorf("opening block storage %s: %w", filepath.Clean(core.BlocksPath()), err)
	}

	chain := state.New(state.Config{
		Genesis:     gen,
		Storage:     store,
		Ledger:      led,
		EnableStats: core.Features.EnableStats,
		EvHandler:   ev,
	})
	defer chain.Shutdown()

	ctx, cancel := context.WithTimeout(context.Background(), time.Duration(core.Recovery.TimeoutSec)*time.Second)
	err = chain.Initialize(ctx)
	cancel()
	if err != nil {
		return fmt.Errorf("initializing chain: %w", err)
	}

	if err := chain.Connect(); err != nil {
		return fmt.Errorf("connecting chain: %w", err)
	}

	pool := worker.New(core.Worker(), led, log)
	pool.Start()
	defer pool.Shutdown()

	codec := wire.NewCodec(core.Magic(), uint32(core.Limits.MaxBlockSize))

	for _, host := range cfg.Node.KnownPeers {
		if err := greet(dir, codec, chain, host, cfg.Web.PrivateHost); err != nil {
			log.Infow("startup", "status", "peer unavailable", "host", host, "ERROR", err)
		}
	}

	// The sweep drops expired mempool entries and silent peers.
	sweepDone := make(chan struct{})
	defer close(sweepDone)

	go func() {
		ticker := time.NewTicker(cfg.Node.SweepInterval)
		defer ticker.Stop()

		for {
			select {
			case <-ticker.C:
				expired := led.SweepMempool()
				silent := dir.Sweep()
				purged := led.PurgeTransactions(cfg.Node.TxMaxAge)
				if len(expired) > 0 || len(silent) > 0 || purged > 0 {
					log.Infow("sweep", "expired", len(expired), "peers", len(silent), "purged", purged)
				}

			case <-sweepDone:
				return
			}
		}
	}()

	// =========================================================================
	// Start Debug Service

	log.Infow("startup", "status", "debug v1 router started", "host", cfg.Web.DebugHost)

	debugMux := handlers.DebugMux(build, log, chain)

	// Not concerned with shutting this down with load shedding.
	go func() {
		if err := http.ListenAndServe(cfg.Web.DebugHost, debugMux); err != nil {
			log.Errorw("shutdown", "status", "debug v1 router closed", "host", cfg.Web.DebugHost, "ERROR", err)
		}
	}()

	// =========================================================================
	// Service Start/Stop Support

	// Make a channel to listen for an interrupt or terminate signal from the OS.
	// Use a buffered channel because the signal package requires it.
	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, syscall.SIGINT, syscall.SIGTERM)

	// Make a channel to listen for errors coming from the listener. Use a
	// buffered channel so the goroutine can exit if we don't collect this error.
	serverErrors := make(chan error, 1)

	muxCfg := handlers.MuxConfig{
		Shutdown:  shutdown,
		Log:       log,
		State:     chain,
		Ledger:    led,
		Pool:      pool,
		Peers:     dir,
		NS:        ns,
		Evts:      evts,
		Codec:     codec,
		BlockSize: cfg.Node.BlockSize,
		TxMaxAge:  cfg.Node.TxMaxAge,
	}

	// =========================================================================
	// Start Public Service

	log.Infow("startup", "status", "initializing V1 public API support")

	public := http.Server{
		Addr:         cfg.Web.PublicHost,
		Handler:      handlers.PublicMux(muxCfg),
		ReadTimeout:  cfg.Web.ReadTimeout,
		WriteTimeout: cfg.Web.WriteTimeout,
		IdleTimeout:  cfg.Web.IdleTimeout,
		ErrorLog:     zap.NewStdLog(log.Desugar()),
	}

	go func() {
		log.Infow("startup", "status", "public api router started", "host", public.Addr)
		serverErrors <- public.ListenAndServe()
	}()

	// =========================================================================
	// Start Private Service

	log.Infow("startup", "status", "initializing V1 private API support")

	private := http.Server{
		Addr:         cfg.Web.PrivateHost,
		Handler:      handlers.PrivateMux(muxCfg),
		ReadTimeout:  cfg.Web.ReadTimeout,
		WriteTimeout: cfg.Web.WriteTimeout,
		IdleTimeout:  cfg.Web.IdleTimeout,
		ErrorLog:     zap.NewStdLog(log.Desugar()),
	}

	go func() {
		log.Infow("startup", "status", "private api router started", "host", private.Addr)
		serverErrors <- private.ListenAndServe()
	}()

	// =========================================================================
	// Shutdown

	select {
	case err := <-serverErrors:
		return fmt.Errorf("server error: %w", err)

	case sig := <-shutdown:
		log.Infow("shutdown", "status", "shutdown started", "signal", sig)
		defer log.Infow("shutdown", "status", "shutdown complete", "signal", sig)

		// Release any web sockets that are currently active.
		log.Infow("shutdown", "status", "shutdown web socket channels")
		evts.Shutdown()

		ctx, cancelPri := context.WithTimeout(context.Background(), cfg.Web.ShutdownTimeout)
		defer cancelPri()

		log.Infow("shutdown", "status", "shutdown private API started")
		if err := private.Shutdown(ctx); err != nil {
			private.Close()
			return fmt.Errorf("could not stop private service gracefully: %w", err)
		}

		ctx, cancelPub := context.WithTimeout(context.Background(), cfg.Web.ShutdownTimeout)
		defer cancelPub()

		log.Infow("shutdown", "status", "shutdown public API started")
		if err := public.Shutdown(ctx); err != nil {
			public.Close()
			return fmt.Errorf("could not stop public service gracefully: %w", err)
		}
	}

	return nil
}

// greet connects an outbound peer and sends it our version message within
// the handshake timeout.
func greet(dir *peer.Directory, codec wire.Codec, chain *state.State, host string, self string) error {
	address, port, err := splitHost(host)
	if err != nil {
		return err
	}

	if err := dir.Connect(address, port, false); err != nil {
		return err
	}

	recv := wire.NetAddress{Port: port}
	if ip, err := netip.ParseAddr(address); err == nil {
		recv.IP = ip
	}

	var from wire.NetAddress
	if _, selfPort, err := splitHost(self); err == nil {
		from.Port = selfPort
	}

	height := chain.CurrentHeight()
	if height > uint64(^uint32(0)>>1) {
		height = uint64(^uint32(0) >> 1)
	}

	vm, err := wire.NewVersionMessage(0, recv, from, "/ledgercore:"+build+"/", int32(height), true)
	if err != nil {
		return err
	}

	payload, err := vm.Serialize()
	if err != nil {
		return err
	}

	msg, err := codec.NewMessage(wire.CmdVersion, payload)
	if err != nil {
		return err
	}

	data, err := codec.Serialize(msg)
	if err != nil {
		return err
	}

	return dir.Handshake(address, data)
}

func splitHost(host string) (string, uint16, error) {
	address, p, err := net.SplitHostPort(host)
	if err != nil {
		return "", 0, err
	}

	port, err := strconv.ParseUint(p, 10, 16)
	if err != nil {
		return "", 0, fmt.Errorf("port %q: %w", p, err)
	}

	return address, uint16(port), nil
}
