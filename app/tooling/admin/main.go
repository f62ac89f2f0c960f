// This program performs administrative tasks against the block files of a
// node and the wire format it speaks.
package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/ledgercore/node/app/tooling/admin/commands"
	"github.com/ledgercore/node/foundation/logger"
	"go.uber.org/zap"
)

// build is the git version of this program. It is set using build flags in the makefile.
var build = "develop"

func main() {

	// Construct the application logger.
	log, err := logger.New("ADMIN")
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
	log.Infow("startup", "version", build)

	return processCommands(os.Args)
}

// processCommands handles the execution of the commands specified on
// the command line.
func processCommands(args []string) error {
	if len(args) < 2 {
		return errors.New("usage: admin blocks|verify|encode|decode ...")
	}

	switch args[1] {
	case "blocks":
		if err := commands.Blocks(args); err != nil {
			return fmt.Errorf("listing blocks: %w", err)
		}
	case "verify":
		if err := commands.Verify(args); err != nil {
			return fmt.Errorf("verifying blocks: %w", err)
		}
	case "encode":
		if err := commands.Encode(args); err != nil {
			return fmt.Errorf("encoding message: %w", err)
		}
	case "decode":
		if err := commands.Decode(args); err != nil {
			return fmt.Errorf("decoding message: %w", err)
		}
	default:
		return fmt.Errorf("unknown command %q", args[1])
	}

	return nil
}
