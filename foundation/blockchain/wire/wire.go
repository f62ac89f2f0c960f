// Package wire implements the binary message envelope peers use to exchange
// blocks and transactions, along with the version handshake payload.
package wire

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
)

// Magic values identifying the network a message belongs to.
const (
	MagicMainNet uint32 = 0x52415645
	MagicTestNet uint32 = 0x54534554
	MagicRegTest uint32 = 0x47455252
)

// Sizes of the fixed envelope fields.
const (
	CommandSize  = 12
	ChecksumSize = 4
	HeaderSize   = 4 + CommandSize + 4 + ChecksumSize
)

// MaxPayloadSize is the largest payload accepted when no other limit has
// been configured on the codec.
const MaxPayloadSize = 32 * 1024 * 1024

// Set of errors returned by the codec. Each decode failure is distinct so
// callers can tell a corrupted frame from a semantically invalid message.
var (
	ErrMessageTooShort    = errors.New("message shorter than envelope header")
	ErrInvalidMagic       = errors.New("invalid magic")
	ErrPayloadTruncated   = errors.New("payload truncated")
	ErrChecksumMismatch   = errors.New("checksum mismatch")
	ErrPayloadTooLarge    = errors.New("payload too large")
	ErrCommandTooLong     = errors.New("command too long")
	ErrMalformedCommand   = errors.New("malformed command")
	ErrVersionTooShort    = errors.New("version payload too short")
	ErrUserAgentTooLong   = errors.New("user agent too long")
	ErrUserAgentTruncated = errors.New("user agent truncated")
)

// Magic returns the magic value for the named network. Unknown names map
// to the main network.
func Magic(network string) uint32 {
	switch network {
	case "testnet":
		return MagicTestNet
	case "regtest":
		return MagicRegTest
	default:
		return MagicMainNet
	}
}

// =============================================================================

// Message represents a single framed peer message.
type Message struct {
	Magic    uint32
	Command  Command
	Length   uint32
	Checksum [ChecksumSize]byte
	Payload  []byte
}

// Checksum returns the first four bytes of the double SHA-256 of the payload.
func Checksum(payload []byte) [ChecksumSize]byte {
	var sum [ChecksumSize]byte
	copy(sum[:], chainhash.DoubleHashB(payload))
	return sum
}

// =============================================================================

// Codec frames and unframes messages for one network.
type Codec struct {
	magic      uint32
	maxPayload uint32
}

// NewCodec constructs a codec for the specified magic. A maxPayload of zero
// selects MaxPayloadSize.
func NewCodec(magic uint32, maxPayload uint32) Codec {
	if maxPayload == 0 {
		maxPayload = MaxPayloadSize
	}

	return Codec{
		magic:      magic,
		maxPayload: maxPayload,
	}
}

// Magic returns the network magic this codec writes and accepts.
func (c Codec) Magic() uint32 {
	return c.magic
}

// NewMessage constructs a message for the command and payload with the
// length and checksum already computed.
func (c Codec) NewMessage(cmd Command, payload []byte) (Message, error) {
	if len(cmd) > CommandSize {
		return Message{}, fmt.Errorf("%q: %w", cmd, ErrCommandTooLong)
	}

	if uint64(len(payload)) > uint64(c.maxPayload) {
		return Message{}, fmt.Errorf("%d bytes, max %d: %w", len(payload), c.maxPayload, ErrPayloadTooLarge)
	}

	if payload == nil {
		payload = []byte{}
	}

	msg := Message{
		Magic:    c.magic,
		Command:  cmd,
		Length:   uint32(len(payload)),
		Checksum: Checksum(payload),
		Payload:  payload,
	}

	return msg, nil
}

// Serialize produces the byte representation of the message.
func (c Codec) Serialize(msg Message) ([]byte, error) {
	var buf bytes.Buffer
	buf.Grow(HeaderSize + len(msg.Payload))

	if err := c.write(&buf, msg); err != nil {
		return nil, err
	}

	return buf.Bytes(), nil
}

// Deserialize parses a complete message from data. The data may carry bytes
// beyond the declared payload length; they are ignored.
func (c Codec) Deserialize(data []byte) (Message, error) {
	if len(data) < HeaderSize {
		return Message{}, fmt.Errorf("got %d bytes: %w", len(data), ErrMessageTooShort)
	}

	msg, err := c.parseHeader(data[:HeaderSize])
	if err != nil {
		return Message{}, err
	}

	end := uint64(HeaderSize) + uint64(msg.Length)
	if uint64(len(data)) < end {
		return Message{}, fmt.Errorf("declared %d bytes, got %d: %w", msg.Length, len(data)-HeaderSize, ErrPayloadTruncated)
	}

	msg.Payload = make([]byte, msg.Length)
	copy(msg.Payload, data[HeaderSize:end])

	if err := verify(msg); err != nil {
		return Message{}, err
	}

	return msg, nil
}

// WriteMessage writes the serialized message to w.
func (c Codec) WriteMessage(w io.Writer, msg Message) error {
	var buf bytes.Buffer
	if err := c.write(&buf, msg); err != nil {
		return err
	}

	_, err := w.Write(buf.Bytes())
	return err
}

// ReadMessage reads exactly one message from r.
func (c Codec) ReadMessage(r io.Reader) (Message, error) {
	header := make([]byte, HeaderSize)
	if _, err := io.ReadFull(r, header); err != nil {
		if errors.Is(err, io.ErrUnexpectedEOF) {
			return Message{}, fmt.Errorf("reading header: %w", ErrMessageTooShort)
		}
		return Message{}, err
	}

	msg, err := c.parseHeader(header)
	if err != nil {
		return Message{}, err
	}

	msg.Payload = make([]byte, msg.Length)
	if _, err := io.ReadFull(r, msg.Payload); err != nil {
		if errors.Is(err, io.ErrUnexpectedEOF) || errors.Is(err, io.EOF) {
			return Message{}, fmt.Errorf("reading payload: %w", ErrPayloadTruncated)
		}
		return Message{}, err
	}

	if err := verify(msg); err != nil {
		return Message{}, err
	}

	return msg, nil
}

// =============================================================================

func (c Codec) write(buf *bytes.Buffer, msg Message) error {
	if len(msg.Command) > CommandSize {
		return fmt.Errorf("%q: %w", msg.Command, ErrCommandTooLong)
	}

	if uint64(len(msg.Payload)) > uint64(c.maxPayload) {
		return fmt.Errorf("%d bytes, max %d: %w", len(msg.Payload), c.maxPayload, ErrPayloadTooLarge)
	}

	var cmd [CommandSize]byte
	copy(cmd[:], msg.Command)

	binary.Write(buf, binary.LittleEndian, msg.Magic)
	buf.Write(cmd[:])
	binary.Write(buf, binary.LittleEndian, uint32(len(msg.Payload)))
	buf.Write(msg.Checksum[:])
	buf.Write(msg.Payload)

	return nil
}

func (c Codec) parseHeader(header []byte) (Message, error) {
	var msg Message

	msg.Magic = binary.LittleEndian.Uint32(header[0:4])
	if msg.Magic != c.magic {
		return Message{}, fmt.Errorf("got %#08x, exp %#08x: %w", msg.Magic, c.magic, ErrInvalidMagic)
	}

	cmd, err := parseCommand(header[4 : 4+CommandSize])
	if err != nil {
		return Message{}, err
	}
	msg.Command = cmd

	msg.Length = binary.LittleEndian.Uint32(header[4+CommandSize : 8+CommandSize])
	if msg.Length > c.maxPayload {
		return Message{}, fmt.Errorf("declared %d bytes, max %d: %w", msg.Length, c.maxPayload, ErrPayloadTooLarge)
	}

	copy(msg.Checksum[:], header[8+CommandSize:HeaderSize])

	return msg, nil
}

func verify(msg Message) error {
	if sum := Checksum(msg.Payload); sum != msg.Checksum {
		return fmt.Errorf("got %x, exp %x: %w", msg.Checksum, sum, ErrChecksumMismatch)
	}
	return nil
}

// parseCommand reads a zero padded ASCII command. Bytes after the first zero
// must also be zero.
func parseCommand(raw []byte) (Command, error) {
	n := bytes.IndexByte(raw, 0)
	if n == -1 {
		n = len(raw)
	}

	for _, b := range raw[n:] {
		if b != 0 {
			return "", fmt.Errorf("non zero padding: %w", ErrMalformedCommand)
		}
	}

	for _, b := range raw[:n] {
		if b < 0x20 || b > 0x7e {
			return "", fmt.Errorf("non printable byte %#02x: %w", b, ErrMalformedCommand)
		}
	}

	return Command(raw[:n]), nil
}
