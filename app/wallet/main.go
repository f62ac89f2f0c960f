package main

import "github.com/ledgercore/node/app/wallet/cmd"

func main() {
	cmd.Execute()
}
