package cmd

import (
	"fmt"
	"log"
	"os"

	"github.com/ethereum/go-ethereum/crypto"
	"github.com/spf13/cobra"
)

// generateCmd represents the generate command
var generateCmd = &cobra.Command{
	Use:   "generate",
	Short: "Generate new key pair",
	Run: func(cmd *cobra.Command, args []string) {
		if err := os.MkdirAll(walletPath, 0700); err != nil {
			log.Fatal(err)
		}

		path := getPrivateKeyPath()
		if _, err := os.Stat(path); err == nil {
			log.Fatalf("%s already exists", path)
		}

		privateKey, err := crypto.GenerateKey()
		if err != nil {
			log.Fatal(err)
		}
		if err := crypto.SaveECDSA(path, privateKey); err != nil {
			log.Fatal(err)
		}

		_, address, err := loadWallet()
		if err != nil {
			log.Fatal(err)
		}
		fmt.Println(address)
	},
}

func init() {
	rootCmd.AddCommand(generateCmd)
}
