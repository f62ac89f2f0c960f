package state

import (
	"math"
	"math/big"
	"sort"

	"github.com/btcsuite/btcd/blockchain"
	"github.com/ledgercore/node/foundation/blockchain/genesis"
	"github.com/ledgercore/node/foundation/blockchain/storage"
)

// Retargeting parameters.
const (
	RetargetInterval = 2016
	TargetTimespan   = 14 * 24 * 60 * 60 // Seconds.
	TargetBlockTime  = 60                // Seconds.
)

// powLimit is the target of the easiest allowed difficulty.
var powLimit = blockchain.CompactToBig(genesis.DefaultBits)

// Difficulty returns the chain difficulty retargeted over the last
// RetargetInterval heights. Chains shorter than the interval run at 1.
func (s *State) Difficulty() uint64 {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.difficulty()
}

// NetworkHashRate estimates the hashes per second needed to produce blocks
// at the current difficulty every TargetBlockTime seconds.
func (s *State) NetworkHashRate() float64 {
	return hashRate(s.Difficulty())
}

func hashRate(difficulty uint64) float64 {
	return float64(difficulty) * math.Exp2(32) / TargetBlockTime
}

// difficulty must be called with the lock held.
func (s *State) difficulty() uint64 {
	cur, exists := s.best()
	if !exists {
		return 0
	}

	if cur.Height < RetargetInterval {
		return 1
	}

	old, exists := s.floor(cur.Height - RetargetInterval)
	if !exists {
		return 1
	}

	span := int64(1)
	if cur.Timestamp > old.Timestamp {
		span = int64(cur.Timestamp - old.Timestamp)
	}

	bits := old.Bits
	if bits == 0 {
		bits = genesis.DefaultBits
	}
	oldTarget := blockchain.CompactToBig(bits)
	if oldTarget.Sign() <= 0 {
		return 1
	}

	newTarget := new(big.Int).Mul(oldTarget, big.NewInt(TargetTimespan))
	newTarget.Quo(newTarget, big.NewInt(span))

	upper := new(big.Int).Mul(oldTarget, big.NewInt(4))
	lower := new(big.Int).Quo(oldTarget, big.NewInt(4))
	switch {
	case newTarget.Cmp(upper) > 0:
		newTarget = upper
	case newTarget.Cmp(lower) < 0:
		newTarget = lower
	}

	if newTarget.Sign() == 0 {
		return math.MaxUint64
	}

	diff := new(big.Int).Quo(powLimit, newTarget)
	switch {
	case diff.Sign() == 0:
		return 1
	case !diff.IsUint64():
		return math.MaxUint64
	}

	return diff.Uint64()
}

// floor returns the block at the largest height not above height. It must
// be called with the lock held.
func (s *State) floor(height uint64) (storage.Block, bool) {
	i := sort.Search(len(s.heights), func(i int) bool { return s.heights[i] > height })
	if i == 0 {
		return storage.Block{}, false
	}

	block, exists := s.blocks[s.byHeight[s.heights[i-1]]]
	return block, exists
}
