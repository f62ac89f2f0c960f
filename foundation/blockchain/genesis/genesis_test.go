package genesis_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/ledgercore/node/foundation/blockchain/genesis"
)

// Success and failure markers.
const (
	success = "✓"
	failed  = "✗"
)

func Test_Load(t *testing.T) {
	doc := `{
		"date": "2024-01-01T00:00:00Z",
		"network": "regtest",
		"balances": {"bob": 50, "alice": 100}
	}`

	path := filepath.Join(t.TempDir(), "genesis.json")
	if err := os.WriteFile(path, []byte(doc), 0600); err != nil {
		t.Fatalf("\t%s\tShould be able to write the genesis file: %s", failed, err)
	}

	t.Log("Given the need to bootstrap a chain from a genesis file.")
	{
		g, err := genesis.Load(path)
		if err != nil {
			t.Fatalf("\t%s\tShould be able to load the genesis file: %s", failed, err)
		}
		t.Logf("\t%s\tShould be able to load the genesis file.", success)

		if g.Bits != genesis.DefaultBits {
			t.Fatalf("\t%s\tShould default the bits: got %#x", failed, g.Bits)
		}
		t.Logf("\t%s\tShould default the bits.", success)

		allocs := g.Allocations()
		if len(allocs) != 2 || allocs[0].Address != "alice" || allocs[0].Index != 0 || allocs[1].Amount != 50 {
			t.Fatalf("\t%s\tShould order allocations by address: %+v", failed, allocs)
		}
		t.Logf("\t%s\tShould order allocations by address.", success)

		if g.CoinbaseID() != g.CoinbaseID() || g.CoinbaseID() == genesis.Default("mainnet").CoinbaseID() {
			t.Fatalf("\t%s\tShould derive a stable per network coinbase id.", failed)
		}
		t.Logf("\t%s\tShould derive a stable per network coinbase id.", success)
	}

	if _, err := genesis.Load(filepath.Join(t.TempDir(), "missing.json")); err == nil {
		t.Fatalf("\t%s\tShould fail on a missing file.", failed)
	}
}
