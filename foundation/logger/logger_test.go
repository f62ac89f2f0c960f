package logger_test

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/ledgercore/node/foundation/logger"
	"github.com/stretchr/testify/require"
)

// Success and failure markers.
const (
	success = "✓"
	failed  = "✗"
)

func Test_Logger(t *testing.T) {
	t.Log("Given the need to write structured logs to a file.")
	{
		path := filepath.Join(t.TempDir(), "node.log")

		log, err := logger.New("TEST", path)
		require.NoError(t, err)

		log.Infow("startup", "status", "ok")
		log.Sync()

		data, err := os.ReadFile(path)
		require.NoError(t, err)
		require.Contains(t, string(data), `"service":"TEST"`)
		require.Contains(t, string(data), `"status":"ok"`)
		t.Logf("\t%s\tShould write JSON lines with the service field.", success)
	}

	t.Log("Given the need to rotate log files.")
	{
		path := filepath.Join(t.TempDir(), "rotated.log")

		log := logger.NewWithRotation("TEST", logger.Rotation{Filename: path, MaxSizeMB: 1, MaxBackups: 2})
		log.Infow("block", "height", 7)
		log.Sync()

		data, err := os.ReadFile(path)
		require.NoError(t, err)
		if !strings.Contains(string(data), `"height":7`) {
			t.Fatalf("\t%s\tShould write to the rotated file: %s", failed, data)
		}
		t.Logf("\t%s\tShould write to the rotated file.", success)
	}
}
