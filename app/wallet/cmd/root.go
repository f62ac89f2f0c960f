// Package cmd contains wallet app
package cmd

import (
	"crypto/ecdsa"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/ethereum/go-ethereum/crypto"
	v1 "github.com/ledgercore/node/business/web/v1"
	"github.com/ledgercore/node/foundation/blockchain/signature"
	"github.com/spf13/cobra"
)

var (
	privateKeyName string
	walletPath     string
	url            string
)

const (
	keyExtenstion = ".ecdsa"
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "wallet",
	Short: "Simple wallet for a ledger node",
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the rootCmd.
func Execute() {
	err := rootCmd.Execute()
	if err != nil {
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&privateKeyName, "wallet", "w", "private.ecdsa", "Path to the private key.")
	rootCmd.PersistentFlags().StringVarP(&walletPath, "wallet-path", "p", "zblock/wallets/", "Path to the directory with private keys.")
	rootCmd.PersistentFlags().StringVarP(&url, "url", "u", "http://localhost:8080", "Url of the node.")
}

func getPrivateKeyPath() string {
	if !strings.HasSuffix(privateKeyName, keyExtenstion) {
		privateKeyName += keyExtenstion
	}
	return filepath.Join(walletPath, privateKeyName)
}

// loadWallet reads the private key and derives its address.
func loadWallet() (*ecdsa.PrivateKey, string, error) {
	privateKey, err := crypto.LoadECDSA(getPrivateKeyPath())
	if err != nil {
		return nil, "", err
	}

	address, err := signature.Address(crypto.CompressPubkey(&privateKey.PublicKey))
	if err != nil {
		return nil, "", err
	}

	return privateKey, address, nil
}

// decode reads a node response into v, turning error documents into errors.
func decode(resp *http.Response, v any) error {
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusBadRequest {
		var er v1.ErrorResponse
		body, _ := io.ReadAll(resp.Body)
		if err := json.Unmarshal(body, &er); err != nil || er.Error == "" {
			return fmt.Errorf("node: %s: %s", resp.Status, body)
		}
		if len(er.Fields) > 0 {
			return fmt.Errorf("node: %s: %v", er.Error, er.Fields)
		}
		return fmt.Errorf("node: %s", er.Error)
	}

	return json.NewDecoder(resp.Body).Decode(v)
}
