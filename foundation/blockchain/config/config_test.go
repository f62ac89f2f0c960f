package config_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/ledgercore/node/foundation/blockchain/config"
	"github.com/ledgercore/node/foundation/blockchain/wire"
	"github.com/ledgercore/node/foundation/validate"
	"github.com/stretchr/testify/require"
)

// Success and failure markers.
const (
	success = "✓"
	failed  = "✗"
)

func write(t *testing.T, name string, doc string) string {
	t.Helper()

	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(doc), 0600))
	return path
}

func Test_Load(t *testing.T) {
	t.Log("Given the need to load the node configuration.")
	{
		cfg, err := config.Load()
		require.NoError(t, err)
		require.Equal(t, "mainnet", cfg.Network)
		require.Equal(t, 125, cfg.Peers.MaxConnections)
		require.Equal(t, "fee", cfg.Mempool.Strategy)
		require.Equal(t, wire.MagicMainNet, cfg.Magic())
		t.Logf("\t%s\tShould apply the defaults without a document.", success)

		doc := `
network: regtest
data_dir: /tmp/ledger
peers:
  max_connections: 10
mempool:
  size: 50
  expiry_hours: 2
  strategy: priority
features:
  enable_async: true
  worker_threads: 2
recovery:
  max_retries: 5
  retry_delay_ms: 250
`
		cfg, err = config.Load(write(t, "node.yaml", doc))
		require.NoError(t, err)
		require.Equal(t, wire.MagicRegTest, cfg.Magic())
		require.Equal(t, filepath.Join("/tmp/ledger", "regtest", "blocks"), cfg.BlocksPath())
		t.Logf("\t%s\tShould read a YAML document.", success)

		lcfg := cfg.Ledger(nil)
		require.Equal(t, 50, lcfg.MempoolSize)
		require.Equal(t, 2*time.Hour, lcfg.MempoolExpiry)
		require.Equal(t, "priority", lcfg.SelectStrategy)
		require.Equal(t, uint64(1000), lcfg.MinFee)
		require.Equal(t, 10000, lcfg.MaxScriptSize)

		wcfg := cfg.Worker()
		require.True(t, wcfg.EnableAsync)
		require.Equal(t, 2, wcfg.Threads)
		require.Equal(t, 5, wcfg.MaxRetryAttempts)
		require.Equal(t, 250*time.Millisecond, wcfg.RetryDelay)

		pcfg := cfg.Peer(nil, nil)
		require.Equal(t, 10, pcfg.MaxConnections)
		require.Equal(t, 20*time.Minute, pcfg.InactivityTimeout)
		require.Equal(t, 10*time.Second, pcfg.HandshakeTimeout)
		t.Logf("\t%s\tShould map the document onto the component settings.", success)
	}

	t.Log("Given an invalid configuration document.")
	{
		_, err := config.Load(write(t, "bad.yaml", "network: moonnet\n"))
		if !validate.IsFieldErrors(err) {
			t.Fatalf("\t%s\tShould reject an unknown network: %v", failed, err)
		}
		require.Contains(t, validate.GetFieldErrors(err).Fields(), "network")
		t.Logf("\t%s\tShould reject an unknown network.", success)

		_, err = config.Load(write(t, "fees.json", `{"fees": {"min": 500, "max": 100}}`))
		require.True(t, validate.IsFieldErrors(err))
		t.Logf("\t%s\tShould reject a fee ceiling below the floor.", success)

		_, err = config.Load(write(t, "typo.yaml", "netwrok: regtest\n"))
		require.Error(t, err)
		t.Logf("\t%s\tShould reject unknown keys.", success)
	}
}
