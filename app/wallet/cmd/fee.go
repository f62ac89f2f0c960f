package cmd

import (
	"fmt"
	"log"
	"net/http"

	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"
)

var (
	inputs  int
	outputs int
)

// feeCmd represents the fee command
var feeCmd = &cobra.Command{
	Use:   "fee",
	Short: "Estimate the fee of a transaction",
	Run: func(cmd *cobra.Command, args []string) {
		resp, err := http.Get(fmt.Sprintf("%s/v1/fees/estimate/%d/%d", url, inputs, outputs))
		if err != nil {
			log.Fatal(err)
		}

		var est struct {
			FeeRate        uint64          `json:"fee_rate"`
			EstimatedSize  uint64          `json:"estimated_size"`
			EstimatedCoins decimal.Decimal `json:"estimated_coins"`
			Confidence     uint32          `json:"confidence"`
		}
		if err := decode(resp, &est); err != nil {
			log.Fatal(err)
		}

		fmt.Printf("size %d bytes at %d/byte: %s (confidence %d)\n", est.EstimatedSize, est.FeeRate, est.EstimatedCoins.StringFixed(8), est.Confidence)
	},
}

func init() {
	rootCmd.AddCommand(feeCmd)
	feeCmd.Flags().IntVarP(&inputs, "inputs", "i", 1, "Number of inputs.")
	feeCmd.Flags().IntVarP(&outputs, "outputs", "o", 2, "Number of outputs.")
}
