package selector_test

import (
	"testing"
	"time"

	"github.com/ledgercore/node/foundation/blockchain/mempool/selector"
	"github.com/ledgercore/node/foundation/blockchain/storage"
)

// Success and failure markers.
const (
	success = "\u2713"
	failed  = "\u2717"
)

func Test_Strategies(t *testing.T) {
	base := time.Unix(1700000000, 0)

	txs := func() []storage.Tx {
		return []storage.Tx{
			{ID: "a", Fee: 100, Priority: storage.PriorityNormal, CreatedAt: base.Add(3 * time.Second)},
			{ID: "b", Fee: 500, Priority: storage.PriorityLow, CreatedAt: base.Add(2 * time.Second)},
			{ID: "c", Fee: 100, Priority: storage.PriorityCritical, CreatedAt: base.Add(1 * time.Second)},
			{ID: "d", Fee: 250, Priority: storage.PriorityNormal, CreatedAt: base},
		}
	}

	type table struct {
		strategy string
		howMany  int
		exp      []string
	}

	tt := []table{
		{strategy: selector.StrategyFee, howMany: -1, exp: []string{"b", "d", "c", "a"}},
		{strategy: selector.StrategyFee, howMany: 2, exp: []string{"b", "d"}},
		{strategy: selector.StrategyPriority, howMany: -1, exp: []string{"c", "d", "a", "b"}},
		{strategy: selector.StrategyAge, howMany: 3, exp: []string{"d", "c", "b"}},
		{strategy: selector.StrategyAge, howMany: 10, exp: []string{"d", "c", "b", "a"}},
	}

	t.Log("Given the need to select transactions for a block.")
	{
		for testID, tst := range tt {
			f := func(t *testing.T) {
				fn, err := selector.Retrieve(tst.strategy)
				if err != nil {
					t.Fatalf("\t%s\tTest %d:\tShould retrieve the strategy: %s", failed, testID, err)
				}

				got := fn(txs(), tst.howMany)
				if len(got) != len(tst.exp) {
					t.Fatalf("\t%s\tTest %d:\tShould select %d transactions, got %d.", failed, testID, len(tst.exp), len(got))
				}
				for i := range got {
					if got[i].ID != tst.exp[i] {
						t.Logf("\t\tgot: %s", got[i].ID)
						t.Logf("\t\texp: %s", tst.exp[i])
						t.Fatalf("\t%s\tTest %d:\tShould order position %d correctly.", failed, testID, i)
					}
				}
				t.Logf("\t%s\tTest %d:\tShould order by %s.", success, testID, tst.strategy)
			}

			t.Run(tst.strategy, f)
		}
	}

	if _, err := selector.Retrieve("tip"); err == nil {
		t.Fatalf("\t%s\tShould reject an unknown strategy.", failed)
	}
}
