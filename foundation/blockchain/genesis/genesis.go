// Package genesis maintains access to the genesis file.
package genesis

import (
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"time"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
)

// DefaultBits is the compact target of the easiest allowed difficulty.
const DefaultBits uint32 = 0x1d00ffff

// Genesis represents the genesis file.
type Genesis struct {
	Date     time.Time         `json:"date"`
	Network  string            `json:"network"`  // Network the chain belongs to.
	Bits     uint32            `json:"bits"`     // Compact target of the genesis block.
	Nonce    uint32            `json:"nonce"`    // Nonce committed in the genesis header.
	Balances map[string]uint64 `json:"balances"` // Initial allocations paid by the genesis coinbase.
}

// Allocation is one output of the genesis coinbase.
type Allocation struct {
	Index   uint32
	Address string
	Amount  uint64
}

// =============================================================================

// Load opens and consumes the genesis file.
func Load(path string) (Genesis, error) {
	content, err := os.ReadFile(path)
	if err != nil {
		return Genesis{}, err
	}

	var genesis Genesis
	if err := json.Unmarshal(content, &genesis); err != nil {
		return Genesis{}, fmt.Errorf("decoding %s: %w", path, err)
	}

	if genesis.Bits == 0 {
		genesis.Bits = DefaultBits
	}

	return genesis, nil
}

// Default returns a genesis with no allocations for the named network.
func Default(network string) Genesis {
	return Genesis{
		Date:    time.Date(2024, time.January, 1, 0, 0, 0, 0, time.UTC),
		Network: network,
		Bits:    DefaultBits,
	}
}

// CoinbaseID returns the identifier of the transaction paying the initial
// allocations. It is stable for a given network.
func (g Genesis) CoinbaseID() string {
	return chainhash.DoubleHashH([]byte("genesis:" + g.Network)).String()
}

// Allocations returns the initial balances as coinbase outputs ordered by
// address so output indexes are reproducible.
func (g Genesis) Allocations() []Allocation {
	addrs := make([]string, 0, len(g.Balances))
	for addr := range g.Balances {
		addrs = append(addrs, addr)
	}
	sort.Strings(addrs)

	allocs := make([]Allocation, len(addrs))
	for i, addr := range addrs {
		allocs[i] = Allocation{
			Index:   uint32(i),
			Address: addr,
			Amount:  g.Balances[addr],
		}
	}

	return allocs
}
