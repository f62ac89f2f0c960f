package wire_test

import (
	"encoding/binary"
	"net/netip"
	"strings"
	"testing"

	"github.com/ledgercore/node/foundation/blockchain/wire"
	"github.com/stretchr/testify/require"
)

func Test_Version(t *testing.T) {
	recv := wire.NetAddress{
		Services: wire.ServiceNetwork,
		IP:       netip.MustParseAddr("192.168.1.5"),
		Port:     8667,
	}
	from := wire.NetAddress{
		Services: wire.ServiceNetwork | wire.ServiceWitness,
		IP:       netip.MustParseAddr("2001:db8::1"),
		Port:     18667,
	}

	vm, err := wire.NewVersionMessage(wire.ServiceNetwork, recv, from, "/node:1.0/", 120, true)
	require.NoError(t, err)

	t.Log("Given the need to exchange version handshakes.")
	{
		data, err := vm.Serialize()
		require.NoError(t, err)
		require.Len(t, data, 86+len("/node:1.0/"))
		t.Logf("\t%s\tShould serialize the version payload.", success)

		// The receiver address starts after version, services and timestamp
		// and its own services field.
		ip := data[28:44]
		require.Equal(t, make([]byte, 10), ip[:10])
		require.Equal(t, []byte{0xff, 0xff}, ip[10:12])
		require.Equal(t, []byte{192, 168, 1, 5}, ip[12:16])
		require.Equal(t, uint16(8667), binary.LittleEndian.Uint16(data[44:46]))
		t.Logf("\t%s\tShould map the IPv4 address into the 16 byte field.", success)

		got, err := wire.DeserializeVersion(data)
		require.NoError(t, err)
		require.Equal(t, vm, got)
		t.Logf("\t%s\tShould reconstruct every field.", success)
	}
}

func Test_VersionZeroAddress(t *testing.T) {
	vm := wire.VersionMessage{
		Version:   wire.ProtocolVersion,
		Timestamp: 1700000000,
	}

	data, err := vm.Serialize()
	require.NoError(t, err)
	require.Len(t, data, 86)

	got, err := wire.DeserializeVersion(data)
	require.NoError(t, err)
	require.False(t, got.Recv.IP.IsValid())
	require.Equal(t, vm, got)
}

func Test_VersionFailures(t *testing.T) {
	vm := wire.VersionMessage{
		Version:   wire.ProtocolVersion,
		UserAgent: "/node:1.0/",
		Recv:      wire.NetAddress{IP: netip.MustParseAddr("10.0.0.1"), Port: 8667},
	}

	data, err := vm.Serialize()
	require.NoError(t, err)

	type table struct {
		name string
		data []byte
		err  error
	}

	tt := []table{
		{name: "empty", data: nil, err: wire.ErrVersionTooShort},
		{name: "fixed", data: data[:85], err: wire.ErrVersionTooShort},
		{name: "useragent", data: data[:len(data)-3], err: wire.ErrUserAgentTruncated},
	}

	t.Log("Given the need to reject malformed version payloads.")
	{
		for testID, tst := range tt {
			f := func(t *testing.T) {
				_, err := wire.DeserializeVersion(tst.data)
				require.ErrorIs(t, err, tst.err)

				t.Logf("\t%s\tTest %d:\tShould reject the %s payload.", success, testID, tst.name)
			}

			t.Run(tst.name, f)
		}
	}

	vm.UserAgent = strings.Repeat("a", wire.MaxUserAgentLen+1)
	_, err = vm.Serialize()
	require.ErrorIs(t, err, wire.ErrUserAgentTooLong)
}

func Test_BlockHeaderHash(t *testing.T) {
	merkle, err := wire.ParseHash("4a5e1e4baab89f3a32518a88c31bc87f618f76673e2cc77ab2127b7afdeda33b")
	require.NoError(t, err)

	prev, err := wire.ParseHash(wire.ZeroHash)
	require.NoError(t, err)

	bh := wire.BlockHeader{
		Version:    1,
		PrevBlock:  prev,
		MerkleRoot: merkle,
		Timestamp:  1231006505,
		Bits:       0x1d00ffff,
		Nonce:      2083236893,
	}

	require.Len(t, bh.Serialize(), wire.BlockHeaderSize)
	require.Equal(t, "000000000019d6689c085ae165831e934ff763ae46a2a6c172b3f1b60a8ce26f", bh.Hash().String())

	_, err = wire.ParseHash("zz")
	require.Error(t, err)

	empty, err := wire.ParseHash("")
	require.NoError(t, err)
	require.Equal(t, wire.ZeroHash, empty.String())
}
