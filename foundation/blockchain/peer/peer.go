// Package peer maintains the peer related information such as the set
// of connected peers, their traffic and their activity.
package peer

import (
	"context"
	"errors"
	"net"
	"strconv"
	"time"
)

// Set of errors returned by the peer directory.
var (
	ErrNotConnected     = errors.New("peer not connected")
	ErrAlreadyConnected = errors.New("peer already connected")
	ErrInvalidAddress   = errors.New("invalid peer address")
	ErrMaxConnections   = errors.New("connection limit reached")
	ErrMaxInbound       = errors.New("inbound connection limit reached")
	ErrMaxOutbound      = errors.New("outbound connection limit reached")
	ErrNoPeers          = errors.New("no connected peers")
	ErrSendFailed       = errors.New("send failed")
)

// EventHandler defines a function that is called when events
// occur in the peer directory.
type EventHandler func(v string, args ...any)

// Transport delivers framed bytes to a peer. Backpressure and retries are
// the transport's concern.
type Transport interface {
	Send(address string, port uint16, data []byte) error
}

// ContextTransport is a Transport that can bound a single send with a
// context.
type ContextTransport interface {
	Transport
	SendContext(ctx context.Context, address string, port uint16, data []byte) error
}

// Callback is notified with true when a peer connects and with false before
// a peer is removed.
type Callback func(address string, connected bool)

// =============================================================================

// Record represents information about a connected peer.
type Record struct {
	Address     string    `json:"address"`
	Port        uint16    `json:"port"`
	Inbound     bool      `json:"inbound"`
	Whitelisted bool      `json:"whitelisted"`
	BytesSent   uint64    `json:"bytes_sent"`
	BytesRecv   uint64    `json:"bytes_recv"`
	LastSeen    time.Time `json:"last_seen"`
	ConnectedAt time.Time `json:"connected_at"`
}

// Host returns the host:port form of the peer.
func (r Record) Host() string {
	return net.JoinHostPort(r.Address, strconv.Itoa(int(r.Port)))
}

// Match validates if the specified host matches this peer.
func (r Record) Match(host string) bool {
	return r.Address == host || r.Host() == host
}

// Stats represents the traffic of the directory since it was constructed.
type Stats struct {
	Connected         int    `json:"connected"`
	Inbound           int    `json:"inbound"`
	Outbound          int    `json:"outbound"`
	TotalConnections  uint64 `json:"total_connections"`
	FailedConnections uint64 `json:"failed_connections"`
	BytesSent         uint64 `json:"bytes_sent"`
	BytesRecv         uint64 `json:"bytes_recv"`
	MessagesSent      uint64 `json:"messages_sent"`
	SendFailures      uint64 `json:"send_failures"`
}
