package wire_test

import (
	"bytes"
	"strings"
	"testing"

	"github.com/ledgercore/node/foundation/blockchain/wire"
	"github.com/stretchr/testify/require"
)

// Success and failure markers.
const (
	success = "\u2713"
	failed  = "\u2717"
)

// =============================================================================

func Test_RoundTrip(t *testing.T) {
	type table struct {
		name    string
		cmd     wire.Command
		payload []byte
	}

	tt := []table{
		{name: "empty", cmd: wire.CmdVerAck, payload: nil},
		{name: "ping", cmd: wire.CmdPing, payload: []byte{1, 2, 3, 4, 5, 6, 7, 8}},
		{name: "tx", cmd: wire.CmdTx, payload: bytes.Repeat([]byte{0xab}, 1024)},
		{name: "twelve", cmd: wire.CmdGetCFCheckpt, payload: []byte("checkpoint")},
		{name: "unknown", cmd: wire.Command("custom"), payload: []byte{0}},
	}

	codec := wire.NewCodec(wire.MagicMainNet, 0)

	t.Log("Given the need to frame and unframe peer messages.")
	{
		for testID, tst := range tt {
			f := func(t *testing.T) {
				msg, err := codec.NewMessage(tst.cmd, tst.payload)
				require.NoError(t, err)

				data, err := codec.Serialize(msg)
				require.NoError(t, err)
				require.Len(t, data, wire.HeaderSize+len(tst.payload))

				got, err := codec.Deserialize(data)
				require.NoError(t, err)
				require.Equal(t, msg, got)

				t.Logf("\t%s\tTest %d:\tShould be able to round trip %q.", success, testID, tst.cmd)
			}

			t.Run(tst.name, f)
		}
	}
}

func Test_Layout(t *testing.T) {
	codec := wire.NewCodec(wire.MagicMainNet, 0)

	msg, err := codec.NewMessage(wire.CmdVersion, []byte("hello"))
	require.NoError(t, err)

	data, err := codec.Serialize(msg)
	require.NoError(t, err)

	require.Equal(t, []byte{0x45, 0x56, 0x41, 0x52}, data[0:4], "magic is little-endian")
	require.Equal(t, append([]byte("version"), 0, 0, 0, 0, 0), data[4:16], "command is zero padded")
	require.Equal(t, []byte{5, 0, 0, 0}, data[16:20], "length is little-endian")

	sum := wire.Checksum([]byte("hello"))
	require.Equal(t, sum[:], data[20:24])
	require.Equal(t, []byte("hello"), data[24:])

	// Double SHA-256 of the empty payload starts with 5df6e0e2.
	empty := wire.Checksum(nil)
	require.Equal(t, []byte{0x5d, 0xf6, 0xe0, 0xe2}, empty[:])
}

func Test_DecodeFailures(t *testing.T) {
	codec := wire.NewCodec(wire.MagicMainNet, 0)

	msg, err := codec.NewMessage(wire.CmdTx, []byte("transaction bytes"))
	require.NoError(t, err)

	good, err := codec.Serialize(msg)
	require.NoError(t, err)

	mutate := func(f func(b []byte) []byte) []byte {
		b := make([]byte, len(good))
		copy(b, good)
		return f(b)
	}

	type table struct {
		name string
		data []byte
		err  error
	}

	tt := []table{
		{
			name: "short",
			data: good[:wire.HeaderSize-1],
			err:  wire.ErrMessageTooShort,
		},
		{
			name: "magic",
			data: mutate(func(b []byte) []byte { b[0] ^= 0xff; return b }),
			err:  wire.ErrInvalidMagic,
		},
		{
			name: "truncated",
			data: good[:len(good)-1],
			err:  wire.ErrPayloadTruncated,
		},
		{
			name: "checksum",
			data: mutate(func(b []byte) []byte { b[20] ^= 0x01; return b }),
			err:  wire.ErrChecksumMismatch,
		},
		{
			name: "padding",
			data: mutate(func(b []byte) []byte { b[15] = 'x'; return b }),
			err:  wire.ErrMalformedCommand,
		},
		{
			name: "nonprintable",
			data: mutate(func(b []byte) []byte { b[4] = 0x01; return b }),
			err:  wire.ErrMalformedCommand,
		},
	}

	t.Log("Given the need to reject corrupted frames.")
	{
		for testID, tst := range tt {
			f := func(t *testing.T) {
				_, err := codec.Deserialize(tst.data)
				require.ErrorIs(t, err, tst.err)

				t.Logf("\t%s\tTest %d:\tShould reject a %s frame.", success, testID, tst.name)
			}

			t.Run(tst.name, f)
		}
	}
}

func Test_PayloadBitFlip(t *testing.T) {
	codec := wire.NewCodec(wire.MagicMainNet, 0)

	msg, err := codec.NewMessage(wire.CmdBlock, []byte("a block payload of some length"))
	require.NoError(t, err)

	good, err := codec.Serialize(msg)
	require.NoError(t, err)

	for i := wire.HeaderSize; i < len(good); i++ {
		data := make([]byte, len(good))
		copy(data, good)
		data[i] ^= 0x80

		_, err := codec.Deserialize(data)
		if err == nil {
			t.Fatalf("\t%s\tShould detect a flipped byte at offset %d.", failed, i)
		}
		require.ErrorIs(t, err, wire.ErrChecksumMismatch)
	}
	t.Logf("\t%s\tShould detect every single byte flip in the payload.", success)
}

func Test_Limits(t *testing.T) {
	codec := wire.NewCodec(wire.MagicRegTest, 16)

	_, err := codec.NewMessage(wire.CmdTx, make([]byte, 17))
	require.ErrorIs(t, err, wire.ErrPayloadTooLarge)

	_, err = codec.NewMessage(wire.Command("thirteenbytes"), nil)
	require.ErrorIs(t, err, wire.ErrCommandTooLong)

	big := wire.NewCodec(wire.MagicRegTest, 0)
	msg, err := big.NewMessage(wire.CmdTx, make([]byte, 32))
	require.NoError(t, err)

	data, err := big.Serialize(msg)
	require.NoError(t, err)

	_, err = codec.Deserialize(data)
	require.ErrorIs(t, err, wire.ErrPayloadTooLarge)

	_, err = wire.NewCodec(wire.MagicTestNet, 0).Deserialize(data)
	require.ErrorIs(t, err, wire.ErrInvalidMagic)
}

func Test_Stream(t *testing.T) {
	codec := wire.NewCodec(wire.MagicTestNet, 0)

	var buf bytes.Buffer
	cmds := []wire.Command{wire.CmdVersion, wire.CmdVerAck, wire.CmdPing}
	for i, cmd := range cmds {
		msg, err := codec.NewMessage(cmd, bytes.Repeat([]byte{byte(i)}, i*10))
		require.NoError(t, err)
		require.NoError(t, codec.WriteMessage(&buf, msg))
	}

	for i, cmd := range cmds {
		msg, err := codec.ReadMessage(&buf)
		require.NoError(t, err)
		require.Equal(t, cmd, msg.Command)
		require.Len(t, msg.Payload, i*10)
	}

	msg, err := codec.NewMessage(wire.CmdPong, []byte("12345678"))
	require.NoError(t, err)
	data, err := codec.Serialize(msg)
	require.NoError(t, err)

	_, err = codec.ReadMessage(bytes.NewReader(data[:len(data)-2]))
	require.ErrorIs(t, err, wire.ErrPayloadTruncated)

	_, err = codec.ReadMessage(bytes.NewReader(data[:10]))
	require.ErrorIs(t, err, wire.ErrMessageTooShort)
}

func Test_Commands(t *testing.T) {
	require.True(t, wire.CmdWTxIDRelay.Known())
	require.True(t, wire.CmdAlert.Known())
	require.False(t, wire.Command("custom").Known())

	for _, name := range strings.Fields("version verack inv getdata block tx getblocks getheaders headers ping pong reject mempool") {
		require.Truef(t, wire.Command(name).Known(), "command %s", name)
	}

	require.Equal(t, wire.MagicTestNet, wire.Magic("testnet"))
	require.Equal(t, wire.MagicRegTest, wire.Magic("regtest"))
	require.Equal(t, wire.MagicMainNet, wire.Magic("mainnet"))
}
