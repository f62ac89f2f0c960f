package cmd

import (
	"fmt"
	"log"

	"github.com/spf13/cobra"
)

// addressCmd represents the address command
var addressCmd = &cobra.Command{
	Use:   "address",
	Short: "Print address for the specific wallet",
	Run: func(cmd *cobra.Command, args []string) {
		_, address, err := loadWallet()
		if err != nil {
			log.Fatal(err)
		}
		fmt.Println(address)
	},
}

func init() {
	rootCmd.AddCommand(addressCmd)
}
