// Package btcvault provides a fixed-capacity Bitcoin key vault that keeps
// secp256k1 private keys encrypted at rest, derives base58check addresses and
// produces ECDSA signatures without releasing raw keys to callers.
package btcvault

import (
	"fmt"
	"io"
	"log/slog"

	"github.com/prometheus/client_golang/prometheus"
)

// Size limits
const (
	MaxCapacity         = 254
	MaxAddressLength    = 254
	PrivateKeySize      = 32
	CiphertextSize      = 32
	DigestSize          = 32
	MinBitcoinAddrLen   = 26
	MaxBitcoinAddrLen   = 35
	UncompressedKeySize = 65
)

// NoSlots as Config.Capacity builds a store with zero slots, which is
// always full. A zero Capacity means DefaultCapacity.
const NoSlots = -1

// Defaults applied by Config.WithDefaults.
const (
	DefaultCapacity         = 16
	DefaultAddressMaxLength = MaxBitcoinAddrLen
	DefaultNetwork          = "mainnet"
)

// SignatureFormat selects the encoding of produced signatures.
type SignatureFormat string

// Signature formats
const (
	FormatDER     SignatureFormat = "der"
	FormatCompact SignatureFormat = "compact"
)

// Config holds configuration for KeyStore construction.
type Config struct {
	Capacity         int             // Number of key slots (max 254, NoSlots for none)
	AddressMaxLength int             // Bytes reserved per address slot (35..254)
	Network          string          // mainnet, testnet3, regtest or signet
	Prehash          bool            // SHA-256 the sign input before signing
	SignatureFormat  SignatureFormat // der (default) or compact
	Logger           *slog.Logger    // Optional: defaults to a discard logger
	Registerer       prometheus.Registerer
	Rand             io.Reader // Optional: entropy for the at-rest key, crypto/rand by default
}

// WithDefaults returns Config with default values applied.
func (c Config) WithDefaults() Config {
	if c.Capacity == 0 {
		c.Capacity = DefaultCapacity
	}
	if c.AddressMaxLength == 0 {
		c.AddressMaxLength = DefaultAddressMaxLength
	}
	if c.Network == "" {
		c.Network = DefaultNetwork
	}
	if c.SignatureFormat == "" {
		c.SignatureFormat = FormatDER
	}
	if c.Logger == nil {
		c.Logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return c
}

// Validate checks construction parameters.
func (c *Config) Validate() error {
	if c.Capacity != NoSlots && (c.Capacity < 0 || c.Capacity > MaxCapacity) {
		return fmt.Errorf("%w: capacity %d", ErrInvalidLength, c.Capacity)
	}
	if c.AddressMaxLength < 0 || c.AddressMaxLength > MaxAddressLength {
		return fmt.Errorf("%w: address max length %d", ErrInvalidLength, c.AddressMaxLength)
	}
	// Smaller slots could not hold every generated or importable address.
	if c.AddressMaxLength != 0 && c.AddressMaxLength < MaxBitcoinAddrLen {
		return fmt.Errorf("%w: address max length %d is below %d", ErrInvalidLength,
			c.AddressMaxLength, MaxBitcoinAddrLen)
	}
	if _, err := NetworkVersion(c.Network); err != nil {
		return err
	}
	switch c.SignatureFormat {
	case FormatDER, FormatCompact, "":
	default:
		return fmt.Errorf("btcvault: unsupported signature format %q", c.SignatureFormat)
	}
	return nil
}

// slots returns the number of slots to reserve.
func (c Config) slots() int {
	if c.Capacity == NoSlots {
		return 0
	}
	return c.Capacity
}

// SlotIndex is a position in the slot arrays, in [0, capacity).
type SlotIndex uint8

// GeneratedKey is the result of KeyStore.GenerateKeyPair.
type GeneratedKey struct {
	Slot      SlotIndex
	PublicKey []byte // 65-byte uncompressed point (0x04 || X || Y)
	Address   string // base58check P2PKH address stored in the slot
}

// Status summarises slot usage.
type Status struct {
	Capacity  int
	Keys      int
	Remaining int
	Full      bool
}
