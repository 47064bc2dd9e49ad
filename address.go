package btcvault

import (
	"fmt"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcutil/base58"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"golang.org/x/crypto/ripemd160" //nolint:staticcheck // Required for Bitcoin address derivation
)

const (
	hash160Size   = ripemd160.Size
	checksumSize  = 4
	addressBinLen = 1 + hash160Size + checksumSize
)

var networks = map[string]*chaincfg.Params{
	chaincfg.MainNetParams.Name:       &chaincfg.MainNetParams,
	chaincfg.TestNet3Params.Name:      &chaincfg.TestNet3Params,
	chaincfg.RegressionNetParams.Name: &chaincfg.RegressionNetParams,
	chaincfg.SigNetParams.Name:        &chaincfg.SigNetParams,
}

// NetworkParams returns the chain parameters registered under name.
func NetworkParams(name string) (*chaincfg.Params, error) {
	params, ok := networks[name]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownNetwork, name)
	}
	return params, nil
}

// NetworkVersion returns the pay-to-pubkey-hash version byte for name.
func NetworkVersion(name string) (byte, error) {
	params, err := NetworkParams(name)
	if err != nil {
		return 0, err
	}
	return params.PubKeyHashAddrID, nil
}

// AddressDerivation turns public keys into base58check P2PKH addresses.
type AddressDerivation struct {
	version byte
}

// NewAddressDerivation returns a derivation for the given version byte.
func NewAddressDerivation(version byte) AddressDerivation {
	return AddressDerivation{version: version}
}

// Version returns the network version byte prepended to the hash.
func (d AddressDerivation) Version() byte { return d.version }

// Derive returns the address of pubKey. The key is hashed in its uncompressed
// form: SHA-256, then RIPEMD-160, version prefix, double SHA-256 checksum,
// base58 with leading zero bytes kept as '1'.
func (d AddressDerivation) Derive(pubKey *btcec.PublicKey) ([]byte, error) {
	if pubKey == nil {
		return nil, ErrInvalidPublicKey
	}

	payload := make([]byte, 0, addressBinLen)
	payload = append(payload, d.version)
	payload = append(payload, hash160(pubKey.SerializeUncompressed())...)

	checksum := chainhash.DoubleHashB(payload)
	payload = append(payload, checksum[:checksumSize]...)

	return []byte(base58.Encode(payload)), nil
}

// DeriveFromBytes parses a serialized public key (33 or 65 bytes) and derives its address.
func (d AddressDerivation) DeriveFromBytes(pubKey []byte) ([]byte, error) {
	pk, err := ParsePublicKey(pubKey)
	if err != nil {
		return nil, err
	}
	return d.Derive(pk)
}

// hash160 computes RIPEMD160(SHA256(data)).
func hash160(data []byte) []byte {
	sha := chainhash.HashB(data)
	rip := ripemd160.New()
	rip.Write(sha)
	return rip.Sum(nil)
}
