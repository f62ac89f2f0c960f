package peer

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/ledgercore/node/foundation/blockchain/wire"
)

// Config represents the limits of the directory. A zero limit means no
// limit and a zero InactivityTimeout disables Sweep. HandshakeTimeout bounds
// the first message sent to a peer when the transport honors a context.
type Config struct {
	MaxConnections    int
	MaxInbound        int
	MaxOutbound       int
	InactivityTimeout time.Duration
	HandshakeTimeout  time.Duration
	Magic             uint32
	Transport         Transport
	EvHandler         EventHandler
}

// Directory owns the records of the connected peers.
type Directory struct {
	cfg       Config
	codec     wire.Codec
	evHandler EventHandler
	now       func() time.Time

	mu      sync.RWMutex
	peers   map[string]*Record
	closing map[string]bool
	stats   Stats

	cbMu      sync.RWMutex
	nextCB    int
	callbacks map[int]Callback
}

// WithClock replaces the time source of the directory.
func WithClock(now func() time.Time) func(d *Directory) {
	return func(d *Directory) {
		d.now = now
	}
}

// NewDirectory constructs an empty peer directory.
func NewDirectory(cfg Config, options ...func(d *Directory)) *Directory {

	// Build a safe event handler function for use.
	ev := func(v string, args ...any) {
		if cfg.EvHandler != nil {
			cfg.EvHandler(v, args...)
		}
	}

	d := Directory{
		cfg:       cfg,
		codec:     wire.NewCodec(cfg.Magic, 0),
		evHandler: ev,
		now:       time.Now,
		peers:     make(map[string]*Record),
		closing:   make(map[string]bool),
		callbacks: make(map[int]Callback),
	}

	for _, option := range options {
		option(&d)
	}

	return &d
}

// RegisterCallback adds a connection callback and returns its id.
func (d *Directory) RegisterCallback(fn Callback) int {
	d.cbMu.Lock()
	defer d.cbMu.Unlock()

	d.nextCB++
	d.callbacks[d.nextCB] = fn
	return d.nextCB
}

// UnregisterCallback removes a connection callback.
func (d *Directory) UnregisterCallback(id int) {
	d.cbMu.Lock()
	defer d.cbMu.Unlock()

	delete(d.callbacks, id)
}

// =============================================================================

// Connect inserts a record for the peer and notifies the callbacks.
func (d *Directory) Connect(address string, port uint16, inbound bool) error {
	if address == "" {
		return ErrInvalidAddress
	}

	if err := d.connect(address, port, inbound); err != nil {
		d.evHandler("peer: Connect: address[%s] port[%d] inbound[%t]: ERROR: %s", address, port, inbound, err)
		return err
	}

	d.evHandler("peer: Connect: address[%s] port[%d] inbound[%t]", address, port, inbound)
	d.notify(address, true)

	return nil
}

func (d *Directory) connect(address string, port uint16, inbound bool) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if _, exists := d.peers[address]; exists {
		return fmt.Errorf("%s: %w", address, ErrAlreadyConnected)
	}

	var in, out int
	for _, rec := range d.peers {
		if rec.Inbound {
			in++
			continue
		}
		out++
	}

	var err error
	switch {
	case d.cfg.MaxConnections > 0 && len(d.peers) >= d.cfg.MaxConnections:
		err = ErrMaxConnections
	case inbound && d.cfg.MaxInbound > 0 && in >= d.cfg.MaxInbound:
		err = ErrMaxInbound
	case !inbound && d.cfg.MaxOutbound > 0 && out >= d.cfg.MaxOutbound:
		err = ErrMaxOutbound
	}
	if err != nil {
		d.stats.FailedConnections++
		return err
	}

	now := d.now()
	d.peers[address] = &Record{
		Address:     address,
		Port:        port,
		Inbound:     inbound,
		LastSeen:    now,
		ConnectedAt: now,
	}
	d.stats.TotalConnections++

	return nil
}

// Disconnect notifies the callbacks and then removes the peer. The record
// can still be read from inside the callbacks.
func (d *Directory) Disconnect(address string) error {
	d.mu.Lock()
	if _, exists := d.peers[address]; !exists || d.closing[address] {
		d.mu.Unlock()
		return fmt.Errorf("%s: %w", address, ErrNotConnected)
	}
	d.closing[address] = true
	d.mu.Unlock()

	d.notify(address, false)

	d.mu.Lock()
	delete(d.peers, address)
	delete(d.closing, address)
	d.mu.Unlock()

	d.evHandler("peer: Disconnect: address[%s]", address)

	return nil
}

// SendMessage hands the bytes to the transport and counts them against the
// peer and the directory.
func (d *Directory) SendMessage(address string, data []byte) error {
	return d.send(context.Background(), address, data)
}

// Handshake sends the opening message to a peer within the handshake
// timeout. A peer that cannot be greeted is disconnected.
func (d *Directory) Handshake(address string, data []byte) error {
	ctx := context.Background()
	if d.cfg.HandshakeTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, d.cfg.HandshakeTimeout)
		defer cancel()
	}

	if err := d.send(ctx, address, data); err != nil {
		d.Disconnect(address)
		return fmt.Errorf("handshake: %w", err)
	}

	d.evHandler("peer: Handshake: address[%s] bytes[%d]", address, len(data))

	return nil
}

func (d *Directory) send(ctx context.Context, address string, data []byte) error {
	d.mu.RLock()
	rec, exists := d.peers[address]
	closing := d.closing[address]
	var port uint16
	if exists {
		port = rec.Port
	}
	d.mu.RUnlock()

	if !exists || closing {
		return fmt.Errorf("%s: %w", address, ErrNotConnected)
	}

	if d.cfg.Transport != nil {
		var err error
		switch tr := d.cfg.Transport.(type) {
		case ContextTransport:
			err = tr.SendContext(ctx, address, port, data)
		default:
			err = tr.Send(address, port, data)
		}
		if err != nil {
			d.mu.Lock()
			d.stats.SendFailures++
			d.mu.Unlock()

			return fmt.Errorf("%s: %w: %w", address, ErrSendFailed, err)
		}
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	if rec, exists := d.peers[address]; exists {
		rec.BytesSent += uint64(len(data))
	}
	d.stats.BytesSent += uint64(len(data))
	d.stats.MessagesSent++

	return nil
}

// Broadcast serializes the message once and sends it to every connected
// peer. It implements the relayer used by the ledger.
func (d *Directory) Broadcast(msg wire.Message) error {
	data, err := d.codec.Serialize(msg)
	if err != nil {
		return err
	}

	addrs := d.addresses()
	if len(addrs) == 0 {
		return ErrNoPeers
	}

	var errs []error
	for _, addr := range addrs {
		if err := d.SendMessage(addr, data); err != nil {
			errs = append(errs, err)
		}
	}

	d.evHandler("peer: Broadcast: command[%s] bytes[%d] peers[%d] failed[%d]", msg.Command, len(data), len(addrs), len(errs))

	if len(errs) == len(addrs) {
		return errors.Join(errs...)
	}

	return nil
}

// RecordReceived counts bytes received from the peer and marks it seen.
func (d *Directory) RecordReceived(address string, n int) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	rec, exists := d.peers[address]
	if !exists {
		return fmt.Errorf("%s: %w", address, ErrNotConnected)
	}

	rec.BytesRecv += uint64(n)
	rec.LastSeen = d.now()
	d.stats.BytesRecv += uint64(n)

	return nil
}

// Touch marks the peer as seen.
func (d *Directory) Touch(address string) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	rec, exists := d.peers[address]
	if !exists {
		return fmt.Errorf("%s: %w", address, ErrNotConnected)
	}

	rec.LastSeen = d.now()

	return nil
}

// Whitelist sets whether the peer is exempt from inactivity sweeps.
func (d *Directory) Whitelist(address string, whitelisted bool) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	rec, exists := d.peers[address]
	if !exists {
		return fmt.Errorf("%s: %w", address, ErrNotConnected)
	}

	rec.Whitelisted = whitelisted

	return nil
}

// Sweep disconnects every peer not seen within the inactivity timeout,
// except whitelisted peers, and returns their addresses.
func (d *Directory) Sweep() []string {
	if d.cfg.InactivityTimeout <= 0 {
		return nil
	}

	cutoff := d.now().Add(-d.cfg.InactivityTimeout)

	d.mu.RLock()
	var stale []string
	for addr, rec := range d.peers {
		if !rec.Whitelisted && rec.LastSeen.Before(cutoff) {
			stale = append(stale, addr)
		}
	}
	d.mu.RUnlock()

	sort.Strings(stale)

	var removed []string
	for _, addr := range stale {
		if err := d.Disconnect(addr); err == nil {
			removed = append(removed, addr)
		}
	}

	if len(removed) > 0 {
		d.evHandler("peer: Sweep: removed[%d]", len(removed))
	}

	return removed
}

// Shutdown disconnects every peer.
func (d *Directory) Shutdown() {
	for _, addr := range d.addresses() {
		d.Disconnect(addr)
	}
}

// =============================================================================

// Peer returns a copy of the record of the peer.
func (d *Directory) Peer(address string) (Record, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	rec, exists := d.peers[address]
	if !exists {
		return Record{}, fmt.Errorf("%s: %w", address, ErrNotConnected)
	}

	return *rec, nil
}

// Peers returns copies of the records of the connected peers ordered by
// address.
func (d *Directory) Peers() []Record {
	d.mu.RLock()
	defer d.mu.RUnlock()

	peers := make([]Record, 0, len(d.peers))
	for _, rec := range d.peers {
		peers = append(peers, *rec)
	}

	sort.Slice(peers, func(i, j int) bool {
		return peers[i].Address < peers[j].Address
	})

	return peers
}

// IsConnected reports whether the peer is in the directory.
func (d *Directory) IsConnected(address string) bool {
	d.mu.RLock()
	defer d.mu.RUnlock()

	_, exists := d.peers[address]
	return exists
}

// Count returns the number of connected peers.
func (d *Directory) Count() int {
	d.mu.RLock()
	defer d.mu.RUnlock()

	return len(d.peers)
}

// Stats returns the directory counters.
func (d *Directory) Stats() Stats {
	d.mu.RLock()
	defer d.mu.RUnlock()

	stats := d.stats
	stats.Connected = len(d.peers)
	for _, rec := range d.peers {
		if rec.Inbound {
			stats.Inbound++
			continue
		}
		stats.Outbound++
	}

	return stats
}

// =============================================================================

func (d *Directory) addresses() []string {
	d.mu.RLock()
	defer d.mu.RUnlock()

	addrs := make([]string, 0, len(d.peers))
	for addr := range d.peers {
		if d.closing[addr] {
			continue
		}
		addrs = append(addrs, addr)
	}
	sort.Strings(addrs)

	return addrs
}

// notify must be called without the lock held.
func (d *Directory) notify(address string, connected bool) {
	d.cbMu.RLock()
	fns := make([]Callback, 0, len(d.callbacks))
	for _, fn := range d.callbacks {
		fns = append(fns, fn)
	}
	d.cbMu.RUnlock()

	for _, fn := range fns {
		func() {
			defer func() {
				if r := recover(); r != nil {
					d.evHandler("peer: callback: PANIC: %v", r)
				}
			}()
			fn(address, connected)
		}()
	}
}
