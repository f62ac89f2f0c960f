package wire

import (
	"bytes"
	"crypto/rand"
	"encoding/binary"
	"fmt"
	"net/netip"
	"time"
)

// ProtocolVersion is the version announced by this node.
const ProtocolVersion int32 = 70016

// Service bits advertised in the version handshake.
const (
	ServiceNetwork uint64 = 1 << 0
	ServiceBloom   uint64 = 1 << 2
	ServiceWitness uint64 = 1 << 3
)

// versionFixedSize is the number of bytes in a version payload excluding the
// user agent text: every fixed field plus the one byte user agent length.
const versionFixedSize = 4 + 8 + 8 + netAddressSize + netAddressSize + 8 + 1 + 4 + 1

const netAddressSize = 8 + 16 + 2

// MaxUserAgentLen is the largest user agent a one byte length prefix allows.
const MaxUserAgentLen = 255

// NetAddress describes a peer endpoint inside the version payload.
type NetAddress struct {
	Services uint64
	IP       netip.Addr
	Port     uint16
}

// VersionMessage is the first message a peer sends to negotiate the
// protocol capabilities of the connection.
type VersionMessage struct {
	Version     int32
	Services    uint64
	Timestamp   int64
	Recv        NetAddress
	From        NetAddress
	Nonce       uint64
	UserAgent   string
	StartHeight int32
	Relay       bool
}

// NewVersionMessage constructs a version message stamped with the current
// time and a random nonce.
func NewVersionMessage(services uint64, recv NetAddress, from NetAddress, userAgent string, startHeight int32, relay bool) (VersionMessage, error) {
	var nonce [8]byte
	if _, err := rand.Read(nonce[:]); err != nil {
		return VersionMessage{}, fmt.Errorf("generating nonce: %w", err)
	}

	vm := VersionMessage{
		Version:     ProtocolVersion,
		Services:    services,
		Timestamp:   time.Now().Unix(),
		Recv:        recv,
		From:        from,
		Nonce:       binary.LittleEndian.Uint64(nonce[:]),
		UserAgent:   userAgent,
		StartHeight: startHeight,
		Relay:       relay,
	}

	return vm, nil
}

// Serialize encodes the version payload in protocol field order.
func (vm VersionMessage) Serialize() ([]byte, error) {
	if len(vm.UserAgent) > MaxUserAgentLen {
		return nil, fmt.Errorf("%d bytes: %w", len(vm.UserAgent), ErrUserAgentTooLong)
	}

	var buf bytes.Buffer
	buf.Grow(versionFixedSize + len(vm.UserAgent))

	binary.Write(&buf, binary.LittleEndian, vm.Version)
	binary.Write(&buf, binary.LittleEndian, vm.Services)
	binary.Write(&buf, binary.LittleEndian, vm.Timestamp)
	writeNetAddress(&buf, vm.Recv)
	writeNetAddress(&buf, vm.From)
	binary.Write(&buf, binary.LittleEndian, vm.Nonce)
	buf.WriteByte(byte(len(vm.UserAgent)))
	buf.WriteString(vm.UserAgent)
	binary.Write(&buf, binary.LittleEndian, vm.StartHeight)

	var relay byte
	if vm.Relay {
		relay = 1
	}
	buf.WriteByte(relay)

	return buf.Bytes(), nil
}

// DeserializeVersion decodes a version payload. The payload must hold every
// fixed field before the variable length user agent is read.
func DeserializeVersion(data []byte) (VersionMessage, error) {
	if len(data) < versionFixedSize {
		return VersionMessage{}, fmt.Errorf("got %d bytes, min %d: %w", len(data), versionFixedSize, ErrVersionTooShort)
	}

	var vm VersionMessage
	r := reader{data: data}

	vm.Version = int32(r.uint32())
	vm.Services = r.uint64()
	vm.Timestamp = int64(r.uint64())
	vm.Recv = r.netAddress()
	vm.From = r.netAddress()
	vm.Nonce = r.uint64()

	uaLen := int(r.byte())
	if r.remaining() < uaLen+4+1 {
		return VersionMessage{}, fmt.Errorf("declared %d bytes, %d remain: %w", uaLen, r.remaining()-5, ErrUserAgentTruncated)
	}
	vm.UserAgent = string(r.bytes(uaLen))

	vm.StartHeight = int32(r.uint32())
	vm.Relay = r.byte() != 0

	return vm, nil
}

// =============================================================================

// writeNetAddress writes services, the 16 byte address and the port. IPv4
// addresses are written in their IPv4-mapped IPv6 form (::ffff:a.b.c.d).
func writeNetAddress(buf *bytes.Buffer, na NetAddress) {
	binary.Write(buf, binary.LittleEndian, na.Services)

	var ip [16]byte
	if na.IP.IsValid() {
		ip = na.IP.As16()
	}
	buf.Write(ip[:])

	binary.Write(buf, binary.LittleEndian, na.Port)
}

// reader walks a byte slice whose length has already been checked.
type reader struct {
	data []byte
	off  int
}

func (r *reader) remaining() int {
	return len(r.data) - r.off
}

func (r *reader) bytes(n int) []byte {
	b := r.data[r.off : r.off+n]
	r.off += n
	return b
}

func (r *reader) byte() byte {
	return r.bytes(1)[0]
}

func (r *reader) uint16() uint16 {
	return binary.LittleEndian.Uint16(r.bytes(2))
}

func (r *reader) uint32() uint32 {
	return binary.LittleEndian.Uint32(r.bytes(4))
}

func (r *reader) uint64() uint64 {
	return binary.LittleEndian.Uint64(r.bytes(8))
}

func (r *reader) netAddress() NetAddress {
	var na NetAddress
	na.Services = r.uint64()

	var raw [16]byte
	copy(raw[:], r.bytes(16))
	if raw != [16]byte{} {
		na.IP = netip.AddrFrom16(raw).Unmap()
	}

	na.Port = r.uint16()
	return na
}
