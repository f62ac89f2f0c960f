package cmd

import (
	"fmt"
	"log"
	"net/http"

	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"
)

type balance struct {
	Address string          `json:"address"`
	Units   uint64          `json:"units"`
	Coins   decimal.Decimal `json:"coins"`
	UTXOs   []struct {
		TxHash string `json:"tx_hash"`
		Index  uint32 `json:"index"`
		Amount uint64 `json:"amount"`
	} `json:"utxos"`
}

// balanceCmd represents the balance command
var balanceCmd = &cobra.Command{
	Use:   "balance",
	Short: "Print your balance.",
	Run: func(cmd *cobra.Command, args []string) {
		_, address, err := loadWallet()
		if err != nil {
			log.Fatal(err)
		}
		fmt.Println("For Account:", address)

		resp, err := http.Get(fmt.Sprintf("%s/v1/balances/%s", url, address))
		if err != nil {
			log.Fatal(err)
		}

		var bal balance
		if err := decode(resp, &bal); err != nil {
			log.Fatal(err)
		}

		fmt.Println(bal.Coins.StringFixed(8))
		for _, u := range bal.UTXOs {
			fmt.Printf("  %s:%d  %d\n", u.TxHash, u.Index, u.Amount)
		}
	},
}

func init() {
	rootCmd.AddCommand(balanceCmd)
}
