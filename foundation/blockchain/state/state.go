// Package state is the core API for the blockchain. It owns the block index,
// drives the chain state machine and hands accepted blocks to the ledger.
package state

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/ledgercore/node/foundation/blockchain/genesis"
	"github.com/ledgercore/node/foundation/blockchain/ledger"
	"github.com/ledgercore/node/foundation/blockchain/storage"
)

// Set of errors returned by the chain state.
var (
	ErrNotInitialized     = errors.New("chain not initialized")
	ErrAlreadyInitialized = errors.New("chain already initialized")
	ErrAlreadyConnected   = errors.New("chain already connected")
	ErrNotConnected       = errors.New("chain not connected")
	ErrShutdown           = errors.New("chain is shut down")
	ErrBlockNotFound      = errors.New("block not found")
	ErrBlockExists        = errors.New("block already exists")
	ErrHeightTaken        = errors.New("height already taken")
	ErrUnknownParent      = errors.New("previous block not found")
	ErrBadHeight          = errors.New("height does not follow previous block")
	ErrHashMismatch       = errors.New("block hash does not match header")
	ErrMerkleMismatch     = errors.New("merkle root does not match transactions")
	ErrGenesisMismatch    = errors.New("stored genesis does not match configuration")
	ErrBadTimestamp       = errors.New("block timestamp out of range")
)

// EventHandler defines a function that is called when events
// occur in the processing of blocks.
type EventHandler func(v string, args ...any)

// Status is a position in the chain state machine.
type Status int

// Set of chain statuses.
const (
	StatusUninitialized Status = iota
	StatusInitializing
	StatusInitialized
	StatusConnecting
	StatusConnected
	StatusDisconnected
	StatusSynced
	StatusError
	StatusShutdown
)

var statusNames = [...]string{
	"UNINITIALIZED", "INITIALIZING", "INITIALIZED", "CONNECTING", "CONNECTED",
	"DISCONNECTED", "SYNCED", "ERROR", "SHUTDOWN",
}

// String implements the fmt.Stringer interface.
func (s Status) String() string {
	if s < 0 || int(s) >= len(statusNames) {
		return fmt.Sprintf("Status(%d)", int(s))
	}
	return statusNames[s]
}

// MarshalText implements the encoding.TextMarshaler interface.
func (s Status) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// =============================================================================

// Config represents the configuration required to start the chain. Storage
// and Ledger are optional: without storage blocks only live in memory and
// without a ledger blocks carry no transaction effects.
type Config struct {
	Genesis     genesis.Genesis
	Storage     storage.Serializer
	Ledger      *ledger.Ledger
	EnableStats bool
	EvHandler   EventHandler
}

// Stats counts the work performed by the chain.
type Stats struct {
	BlocksAccepted  uint64 `json:"blocks_accepted"`
	BlocksRejected  uint64 `json:"blocks_rejected"`
	TxsConfirmed    uint64 `json:"txs_confirmed"`
	LastBlockHeight uint64 `json:"last_block_height"`
}

// State manages the block index and the chain state machine.
type State struct {
	genesis     genesis.Genesis
	storage     storage.Serializer
	ledger      *ledger.Ledger
	enableStats bool
	evHandler   EventHandler

	mu       sync.RWMutex
	status   Status
	blocks   map[string]storage.Block
	byHeight map[uint64]string
	heights  []uint64
	stats    Stats
	ledgerCB int

	cbMu           sync.RWMutex
	nextCB         int
	stateCallbacks map[int]StateCallback
	blockCallbacks map[int]BlockCallback
	txCallbacks    map[int]TxCallback
	errCallbacks   map[int]ErrorCallback
}

// New constructs the chain state. Nothing is loaded until Initialize.
func New(cfg Config) *State {

	// Build a safe event handler function for use.
	ev := func(v string, args ...any) {
		if cfg.EvHandler != nil {
			cfg.EvHandler(v, args...)
		}
	}

	if cfg.Genesis.Bits == 0 {
		cfg.Genesis.Bits = genesis.DefaultBits
	}

	return &State{
		genesis:        cfg.Genesis,
		storage:        cfg.Storage,
		ledger:         cfg.Ledger,
		enableStats:    cfg.EnableStats,
		evHandler:      ev,
		blocks:         make(map[string]storage.Block),
		byHeight:       make(map[uint64]string),
		stateCallbacks: make(map[int]StateCallback),
		blockCallbacks: make(map[int]BlockCallback),
		txCallbacks:    make(map[int]TxCallback),
		errCallbacks:   make(map[int]ErrorCallback),
	}
}

// Initialize builds the genesis block, pays the genesis allocations into the
// ledger and loads the blocks already persisted by the storage.
func (s *State) Initialize(ctx context.Context) error {
	s.mu.Lock()
	if s.status != StatusUninitialized {
		s.mu.Unlock()
		return s.fail("Initialize", ErrAlreadyInitialized)
	}
	s.status = StatusInitializing
	s.mu.Unlock()

	s.notifyState(StatusUninitialized, StatusInitializing)

	loaded, failures, err := s.load(ctx)
	if err != nil {
		s.transition(StatusError)
		return s.fail("Initialize", err)
	}

	if s.ledger != nil {
		id := s.ledger.RegisterErrorCallback(func(op string, err error) {
			s.notifyError("ledger."+op, err)
		})

		s.mu.Lock()
		s.ledgerCB = id
		s.mu.Unlock()

		s.ledger.ReportFailures("ApplyBlock", failures)
	}

	s.transition(StatusInitialized)

	s.evHandler("state: Initialize: network[%s] blocks[%d] height[%d]", s.genesis.Network, loaded, s.CurrentHeight())

	return nil
}

// load must be called while the state is INITIALIZING. Blocks whose
// transactions the ledger could not apply are still loaded and the ledger
// errors are returned for reporting once the chain lock is released.
func (s *State) load(ctx context.Context) (int, []error, error) {
	gen, err := GenesisBlock(s.genesis)
	if err != nil {
		return 0, nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	var stored []storage.Block
	var failures []error
	if s.storage != nil {
		iter := s.storage.ForEach()
		for {
			block, err := iter.Next()
			if errors.Is(err, storage.ErrEndOfChain) {
				break
			}
			if err != nil {
				return 0, nil, err
			}
			if err := ctx.Err(); err != nil {
				return 0, nil, err
			}
			stored = append(stored, block)
		}
	}

	switch {
	case len(stored) == 0:
		if s.storage != nil {
			if err := s.storage.Write(gen); err != nil {
				return 0, nil, fmt.Errorf("writing genesis: %w", err)
			}
		}
		stored = []storage.Block{gen}

	case stored[0].Hash != gen.Hash:
		return 0, nil, fmt.Errorf("stored %s, configured %s: %w", stored[0].Hash, gen.Hash, ErrGenesisMismatch)
	}

	s.insert(gen)

	if s.ledger != nil {
		id := s.genesis.CoinbaseID()
		for _, alloc := range s.genesis.Allocations() {
			u := storage.UTXO{
				TxHash:  id,
				Index:   alloc.Index,
				Amount:  alloc.Amount,
				Address: alloc.Address,
			}
			if err := s.ledger.AddUTXO(u); err != nil && !errors.Is(err, ledger.ErrUTXOExists) {
				return 0, nil, fmt.Errorf("genesis allocation %s: %w", alloc.Address, err)
			}
		}
	}

	for _, block := range stored[1:] {
		if err := s.validate(block); err != nil {
			return 0, nil, fmt.Errorf("stored block %d: %w", block.Height, err)
		}
		s.insert(block)

		if s.ledger != nil {
			_, errs := s.ledger.ApplyBlock(block.Hash, block.Height, block.TxHashes)
			failures = append(failures, errs...)
		}
	}

	return len(stored), failures, nil
}

// Connect moves the chain through CONNECTING to CONNECTED.
func (s *State) Connect() error {
	s.mu.RLock()
	status := s.status
	s.mu.RUnlock()

	switch status {
	case StatusUninitialized, StatusInitializing:
		return s.fail("Connect", ErrNotInitialized)
	case StatusShutdown:
		return s.fail("Connect", ErrShutdown)
	case StatusConnected, StatusSynced:
		return s.fail("Connect", ErrAlreadyConnected)
	}

	s.transition(StatusConnecting)
	s.transition(StatusConnected)

	return nil
}

// Disconnect moves a connected chain to DISCONNECTED.
func (s *State) Disconnect() error {
	if !s.IsConnected() {
		return s.fail("Disconnect", ErrNotConnected)
	}

	s.transition(StatusDisconnected)

	return nil
}

// MarkSynced records that the chain has caught up with its peers.
func (s *State) MarkSynced() error {
	if !s.IsConnected() {
		return s.fail("MarkSynced", ErrNotConnected)
	}

	s.transition(StatusSynced)

	return nil
}

// IsConnected reports whether the chain is CONNECTED or SYNCED.
func (s *State) IsConnected() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.status == StatusConnected || s.status == StatusSynced
}

// Status returns the current position in the state machine.
func (s *State) Status() Status {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.status
}

// Stats returns the chain counters. They only move when stats are enabled.
func (s *State) Stats() Stats {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.stats
}

// Shutdown clears the block index and the callbacks and closes the storage.
// It is safe to call more than once.
func (s *State) Shutdown() error {
	s.mu.Lock()
	if s.status == StatusShutdown {
		s.mu.Unlock()
		return nil
	}

	old := s.status
	s.status = StatusShutdown
	s.blocks = make(map[string]storage.Block)
	s.byHeight = make(map[uint64]string)
	s.heights = nil
	ledgerCB := s.ledgerCB
	s.mu.Unlock()

	if s.ledger != nil && ledgerCB != 0 {
		s.ledger.UnregisterErrorCallback(ledgerCB)
	}

	s.cbMu.Lock()
	stateCallbacks := s.stateCallbacks
	s.stateCallbacks = make(map[int]StateCallback)
	s.blockCallbacks = make(map[int]BlockCallback)
	s.txCallbacks = make(map[int]TxCallback)
	s.errCallbacks = make(map[int]ErrorCallback)
	s.cbMu.Unlock()

	for _, fn := range stateCallbacks {
		s.safe("state", func() { fn(old, StatusShutdown) })
	}

	var err error
	if s.storage != nil {
		err = s.storage.Close()
	}

	s.evHandler("state: Shutdown: completed")

	return err
}

// =============================================================================

// transition moves the state machine and notifies the state callbacks.
func (s *State) transition(to Status) {
	s.mu.Lock()
	from := s.status
	s.status = to
	s.mu.Unlock()

	s.evHandler("state: transition: %s -> %s", from, to)
	s.notifyState(from, to)
}

// insert adds a validated block to both indexes. It must be called with the
// lock held.
func (s *State) insert(block storage.Block) {
	s.blocks[block.Hash] = block
	s.byHeight[block.Height] = block.Hash

	i := sort.Search(len(s.heights), func(i int) bool { return s.heights[i] >= block.Height })
	s.heights = append(s.heights, 0)
	copy(s.heights[i+1:], s.heights[i:])
	s.heights[i] = block.Height
}
