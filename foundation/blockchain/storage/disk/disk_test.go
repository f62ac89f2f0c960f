package disk_test

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/ledgercore/node/foundation/blockchain/storage"
	"github.com/ledgercore/node/foundation/blockchain/storage/disk"
	"github.com/ledgercore/node/foundation/blockchain/storage/memory"
)

// Success and failure markers.
const (
	success = "\u2713"
	failed  = "\u2717"
)

func Test_Serializers(t *testing.T) {
	d, err := disk.New(t.TempDir())
	if err != nil {
		t.Fatalf("\t%s\tShould be able to open the disk storage: %s", failed, err)
	}

	type table struct {
		name string
		ser  storage.Serializer
	}

	tt := []table{
		{name: "disk", ser: d},
		{name: "memory", ser: memory.New()},
	}

	t.Log("Given the need to persist blocks in height order.")
	{
		for testID, tst := range tt {
			f := func(t *testing.T) {
				for h := uint64(0); h < 3; h++ {
					block := storage.Block{Height: h, Hash: string(rune('a' + h)), TxHashes: []string{"tx"}}
					if err := tst.ser.Write(block); err != nil {
						t.Fatalf("\t%s\tTest %d:\tShould be able to write block %d: %s", failed, testID, h, err)
					}
				}
				t.Logf("\t%s\tTest %d:\tShould be able to write blocks.", success, testID)

				block, err := tst.ser.GetBlock(1)
				if err != nil || block.Hash != "b" {
					t.Fatalf("\t%s\tTest %d:\tShould read block 1: %v %v", failed, testID, block.Hash, err)
				}

				var n int
				iter := tst.ser.ForEach()
				for {
					block, err := iter.Next()
					if errors.Is(err, storage.ErrEndOfChain) {
						break
					}
					if err != nil {
						t.Fatalf("\t%s\tTest %d:\tShould iterate: %s", failed, testID, err)
					}
					if block.Height != uint64(n) {
						t.Fatalf("\t%s\tTest %d:\tShould iterate in order: got %d", failed, testID, block.Height)
					}
					n++
				}
				if n != 3 || !iter.Done() {
					t.Fatalf("\t%s\tTest %d:\tShould iterate all blocks: got %d", failed, testID, n)
				}
				t.Logf("\t%s\tTest %d:\tShould iterate all blocks.", success, testID)

				if err := tst.ser.Reset(); err != nil {
					t.Fatalf("\t%s\tTest %d:\tShould reset: %s", failed, testID, err)
				}
				if _, err := tst.ser.ForEach().Next(); !errors.Is(err, storage.ErrEndOfChain) {
					t.Fatalf("\t%s\tTest %d:\tShould be empty after reset: %v", failed, testID, err)
				}
				t.Logf("\t%s\tTest %d:\tShould be empty after reset.", success, testID)
			}

			t.Run(tst.name, f)
		}
	}
}

func Test_MemoryOrder(t *testing.T) {
	m := memory.New()
	if err := m.Write(storage.Block{Height: 1}); err == nil {
		t.Fatalf("\t%s\tShould reject an out of order block.", failed)
	}
	t.Logf("\t%s\tShould reject an out of order block.", success)
}

func Test_DiskGaps(t *testing.T) {
	dir := t.TempDir()
	d, err := disk.New(dir)
	if err != nil {
		t.Fatalf("\t%s\tShould be able to open the disk storage: %s", failed, err)
	}

	t.Log("Given blocks stored at heights 0, 5 and 12.")
	{
		for _, h := range []uint64{12, 0, 5} {
			if err := d.Write(storage.Block{Height: h, Hash: fmt.Sprintf("block-%d", h)}); err != nil {
				t.Fatalf("\t%s\tShould be able to write block %d: %s", failed, h, err)
			}
		}
		if err := os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("x"), 0600); err != nil {
			t.Fatalf("\t%s\tShould be able to write a stray file: %s", failed, err)
		}
		if err := os.WriteFile(filepath.Join(dir, "7.json.tmp"), []byte("{"), 0600); err != nil {
			t.Fatalf("\t%s\tShould be able to write a stray file: %s", failed, err)
		}

		var got []uint64
		iter := d.ForEach()
		for {
			block, err := iter.Next()
			if errors.Is(err, storage.ErrEndOfChain) {
				break
			}
			if err != nil {
				t.Fatalf("\t%s\tShould iterate: %s", failed, err)
			}
			got = append(got, block.Height)
		}

		if len(got) != 3 || got[0] != 0 || got[1] != 5 || got[2] != 12 {
			t.Fatalf("\t%s\tShould iterate every stored height in order: got %v", failed, got)
		}
		t.Logf("\t%s\tShould iterate every stored height in order.", success)
	}
}
