package ledger_test

import (
	"testing"

	"github.com/ledgercore/node/foundation/blockchain/ledger"
	"github.com/stretchr/testify/require"
)

func Test_Coins(t *testing.T) {
	tt := []struct {
		coins string
		units uint64
		ok    bool
	}{
		{"1", 100_000_000, true},
		{"0.00000001", 1, true},
		{"1.5", 150_000_000, true},
		{"184467440737.09551615", 18446744073709551615, true},
		{"184467440737.09551616", 0, false},
		{"0.000000001", 0, false},
		{"-1", 0, false},
		{"abc", 0, false},
	}

	t.Log("Given the need to render amounts in coins.")
	{
		for _, tst := range tt {
			f := func(t *testing.T) {
				units, err := ledger.ParseCoins(tst.coins)
				if !tst.ok {
					require.ErrorIs(t, err, ledger.ErrInvalidAmount)
					t.Logf("\t%s\tShould reject %s.", success, tst.coins)
					return
				}

				require.NoError(t, err)
				require.Equal(t, tst.units, units)
				require.Equal(t, tst.coins, ledger.ToCoins(units).String())
				t.Logf("\t%s\tShould convert %s both ways.", success, tst.coins)
			}
			t.Run(tst.coins, f)
		}
	}
}
