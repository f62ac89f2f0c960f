package commands

import (
	"encoding/hex"
	"errors"
	"fmt"
	"os"

	"github.com/ledgercore/node/foundation/blockchain/wire"
)

// Encode frames a payload read from a file for the named network and prints
// the frame as hex.
//
//	admin encode <network> <command> <payload file>
func Encode(args []string) error {
	if len(args) < 5 {
		return errors.New("usage: admin encode <network> <command> <payload file>")
	}

	payload, err := os.ReadFile(args[4])
	if err != nil {
		return err
	}

	codec := wire.NewCodec(wire.Magic(args[2]), 0)

	msg, err := codec.NewMessage(wire.Command(args[3]), payload)
	if err != nil {
		return err
	}

	data, err := codec.Serialize(msg)
	if err != nil {
		return err
	}

	fmt.Println(hex.EncodeToString(data))

	return nil
}

// Decode parses a hex frame for the named network and prints its header
// and payload.
//
//	admin decode <network> <hex frame>
func Decode(args []string) error {
	if len(args) < 4 {
		return errors.New("usage: admin decode <network> <hex frame>")
	}

	data, err := hex.DecodeString(args[3])
	if err != nil {
		return fmt.Errorf("frame: %w", err)
	}

	msg, err := wire.NewCodec(wire.Magic(args[2]), 0).Deserialize(data)
	if err != nil {
		return err
	}

	fmt.Printf("magic[%#08x] command[%s] length[%d] checksum[%x]\n", msg.Magic, msg.Command, msg.Length, msg.Checksum)

	if msg.Command == wire.CmdVersion {
		vm, err := wire.DeserializeVersion(msg.Payload)
		if err != nil {
			return err
		}
		fmt.Printf("%+v\n", vm)
		return nil
	}

	fmt.Println(string(msg.Payload))

	return nil
}
