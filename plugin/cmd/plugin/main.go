package main

import (
	"log"
	"os"

	"github.com/openbao/openbao/sdk/v2/plugin"

	"github.com/Bidon15/btcvault/plugin/wallet"
)

func main() {
	if err := plugin.Serve(&plugin.ServeOpts{
		BackendFactoryFunc: wallet.Factory,
	}); err != nil {
		log.Printf("plugin shutting down: %v", err)
		os.Exit(1)
	}
}
