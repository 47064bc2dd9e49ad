package main

import (
	"encoding/hex"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/Bidon15/btcvault"
)

var addressCmd = &cobra.Command{
	Use:   "address <public-key-hex>",
	Short: "Derive the P2PKH address of a public key",
	Long: `Derive the Base58Check P2PKH address of a secp256k1 public key. Compressed
keys are expanded first, so both encodings of a key give the same address.

Examples:
  btcvault address 0279be667ef9dcbbac55a06295ce870b07029bfcdb2dce28d959f2815b16f81798
  btcvault address --network testnet3 04...`,
	Args: cobra.ExactArgs(1),
	RunE: runAddress,
}

func init() {
	addressCmd.Flags().String("network", "", "network (mainnet, testnet3, regtest, signet); defaults to keystore.network")
}

func runAddress(cmd *cobra.Command, args []string) error {
	network, _ := cmd.Flags().GetString("network")
	if network == "" {
		network = cfg.KeyStore.Network
	}

	version, err := btcvault.NetworkVersion(network)
	if err != nil {
		return err
	}

	pub, err := hex.DecodeString(args[0])
	if err != nil {
		return fmt.Errorf("public key is not valid hex: %w", err)
	}

	addr, err := btcvault.NewAddressDerivation(version).DeriveFromBytes(pub)
	if err != nil {
		return err
	}

	fmt.Fprintln(cmd.OutOrStdout(), string(addr))
	return nil
}
