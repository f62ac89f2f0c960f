package cmd

import (
	"bytes"
	"encoding/json"
	"fmt"
	"log"
	"net/http"

	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ledgercore/node/foundation/blockchain/ledger"
	"github.com/ledgercore/node/foundation/blockchain/signature"
	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"
)

var (
	to        string
	amount    string
	broadcast bool
)

// sendCmd represents the send command
var sendCmd = &cobra.Command{
	Use:   "send",
	Short: "Send coins to an address",
	Run: func(cmd *cobra.Command, args []string) {
		privateKey, address, err := loadWallet()
		if err != nil {
			log.Fatal(err)
		}

		// Reject malformed amounts before asking the node.
		if _, err := ledger.ParseCoins(amount); err != nil {
			log.Fatal(err)
		}

		req := struct {
			From       string `json:"from"`
			To         string `json:"to"`
			Amount     string `json:"amount"`
			PrivateKey string `json:"private_key"`
			Broadcast  bool   `json:"broadcast"`
		}{
			From:       address,
			To:         to,
			Amount:     amount,
			PrivateKey: signature.Encode(crypto.FromECDSA(privateKey)),
			Broadcast:  broadcast,
		}

		data, err := json.Marshal(req)
		if err != nil {
			log.Fatal(err)
		}

		resp, err := http.Post(fmt.Sprintf("%s/v1/tx/send", url), "application/json", bytes.NewBuffer(data))
		if err != nil {
			log.Fatal(err)
		}

		var tx struct {
			ID       string          `json:"id"`
			Status   string          `json:"status"`
			FeeCoins decimal.Decimal `json:"fee_coins"`
		}
		if err := decode(resp, &tx); err != nil {
			log.Fatal(err)
		}

		fmt.Printf("%s %s fee %s\n", tx.ID, tx.Status, tx.FeeCoins.StringFixed(8))
	},
}

func init() {
	rootCmd.AddCommand(sendCmd)
	sendCmd.Flags().StringVarP(&to, "to", "t", "", "Address to send to.")
	sendCmd.MarkFlagRequired("to")
	sendCmd.Flags().StringVarP(&amount, "amount", "a", "", "Amount in coins, up to 8 decimals.")
	sendCmd.MarkFlagRequired("amount")
	sendCmd.Flags().BoolVarP(&broadcast, "broadcast", "b", false, "Relay the transaction to the peers.")
}
