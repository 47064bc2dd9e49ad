package btcvault

import (
	"errors"
	"fmt"
)

// Sentinel errors - Construction
var (
	ErrInvalidLength  = errors.New("btcvault: capacity or address length out of range")
	ErrUnknownNetwork = errors.New("btcvault: unknown network")
	ErrStoreClosed    = errors.New("btcvault: key store is closed")
)

// Sentinel errors - Keys
var (
	ErrInvalidAddressLength = errors.New("btcvault: invalid address length")
	ErrInvalidKeyLength     = errors.New("btcvault: invalid private key length")
	ErrInvalidPrivateKey    = errors.New("btcvault: private key out of range")
	ErrKeyNotFound          = errors.New("btcvault: key not found")
	ErrKeyAlreadyExists     = errors.New("btcvault: key already exists")
	ErrKeyStoreFull         = errors.New("btcvault: key store is full")
)

// Sentinel errors - Signing
var (
	ErrNoKeySelected       = errors.New("btcvault: no key selected for signing")
	ErrInvalidDigestLength = errors.New("btcvault: invalid digest length")
	ErrInvalidPublicKey    = errors.New("btcvault: invalid public key")
	ErrInvalidSignature    = errors.New("btcvault: invalid signature")
)

// Wire codes returned by ErrorCode.
const (
	CodeOK                   = "OK"
	CodeInvalidLength        = "INVALID_LENGTH"
	CodeInvalidAddressLength = "INVALID_ADDRESS_LENGTH"
	CodeInvalidKeyLength     = "INVALID_KEY_LENGTH"
	CodeInvalidPrivateKey    = "INVALID_PRIVATE_KEY"
	CodeKeyNotFound          = "KEY_NOT_FOUND"
	CodeKeyAlreadyExists     = "KEY_ALREADY_EXISTS"
	CodeKeyStoreFull         = "KEYSTORE_FULL"
	CodeNoKeySelected        = "NO_KEY_SELECTED"
	CodeInvalidDigestLength  = "INVALID_DIGEST_LENGTH"
	CodeInvalidPublicKey     = "INVALID_PUBLIC_KEY"
	CodeInvalidSignature     = "INVALID_SIGNATURE"
	CodeUnknownNetwork       = "UNKNOWN_NETWORK"
	CodeStoreClosed          = "STORE_CLOSED"
	CodeInternal             = "INTERNAL_ERROR"
)

var errorCodes = []struct {
	err  error
	code string
}{
	{ErrInvalidLength, CodeInvalidLength},
	{ErrInvalidAddressLength, CodeInvalidAddressLength},
	{ErrInvalidKeyLength, CodeInvalidKeyLength},
	{ErrInvalidPrivateKey, CodeInvalidPrivateKey},
	{ErrKeyNotFound, CodeKeyNotFound},
	{ErrKeyAlreadyExists, CodeKeyAlreadyExists},
	{ErrKeyStoreFull, CodeKeyStoreFull},
	{ErrNoKeySelected, CodeNoKeySelected},
	{ErrInvalidDigestLength, CodeInvalidDigestLength},
	{ErrInvalidPublicKey, CodeInvalidPublicKey},
	{ErrInvalidSignature, CodeInvalidSignature},
	{ErrUnknownNetwork, CodeUnknownNetwork},
	{ErrStoreClosed, CodeStoreClosed},
}

// ErrorCode maps err to a stable code for command dispatchers.
// A nil error maps to CodeOK; anything unrecognised maps to CodeInternal.
func ErrorCode(err error) string {
	if err == nil {
		return CodeOK
	}
	for _, ec := range errorCodes {
		if errors.Is(err, ec.err) {
			return ec.code
		}
	}
	return CodeInternal
}

// SlotError wraps an error with the operation and address it concerns.
type SlotError struct {
	Op      string
	Address string
	Err     error
}

// Error implements the error interface.
func (e *SlotError) Error() string {
	if e.Address == "" {
		return fmt.Sprintf("%s: %v", e.Op, e.Err)
	}
	return fmt.Sprintf("%s %q: %v", e.Op, e.Address, e.Err)
}

// Unwrap implements the errors.Unwrap interface for error chaining.
func (e *SlotError) Unwrap() error {
	return e.Err
}

// wrapSlotError wraps err with operation context.
// Returns nil if the provided error is nil.
func wrapSlotError(op string, address []byte, err error) error {
	if err == nil {
		return nil
	}
	return &SlotError{
		Op:      op,
		Address: printableAddress(address),
		Err:     err,
	}
}

// printableAddress renders address bytes for error text. Addresses that are
// not plain base58 text are shown as a length only.
func printableAddress(address []byte) string {
	for _, c := range address {
		if c < 0x21 || c > 0x7e {
			return fmt.Sprintf("<%d bytes>", len(address))
		}
	}
	return string(address)
}
