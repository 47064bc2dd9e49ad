package btcvault

import (
	"bytes"
	"fmt"
)

// fixedBuffer is a byte buffer whose capacity is reserved once and never grows.
type fixedBuffer struct {
	data   []byte
	length int
	inUse  bool
}

func newFixedBuffer(capacity int) fixedBuffer {
	return fixedBuffer{data: make([]byte, capacity)}
}

func (f *fixedBuffer) set(src []byte) error {
	if len(src) > len(f.data) {
		return fmt.Errorf("value of %d bytes exceeds slot capacity %d", len(src), len(f.data))
	}
	secureZero(f.data)
	copy(f.data, src)
	f.length = len(src)
	f.inUse = true
	return nil
}

// bytes returns a copy of the stored value.
func (f *fixedBuffer) bytes() []byte {
	out := make([]byte, f.length)
	copy(out, f.data[:f.length])
	return out
}

func (f *fixedBuffer) clear() {
	secureZero(f.data)
	f.length = 0
	f.inUse = false
}

// AddressSlot holds one variable-length address.
type AddressSlot struct {
	fixedBuffer
}

// NewAddressSlot reserves an unused slot able to hold capacity bytes.
func NewAddressSlot(capacity int) AddressSlot {
	return AddressSlot{newFixedBuffer(capacity)}
}

// SetAddress stores address and marks the slot used.
func (s *AddressSlot) SetAddress(address []byte) error {
	return s.set(address)
}

// Address returns a copy of the stored address.
func (s *AddressSlot) Address() []byte {
	return s.bytes()
}

// Equals reports whether the slot holds exactly address.
func (s *AddressSlot) Equals(address []byte) bool {
	return s.length == len(address) && bytes.Equal(s.data[:s.length], address)
}

// InUse reports whether the slot is occupied.
func (s *AddressSlot) InUse() bool { return s.inUse }

// Len returns the stored address length.
func (s *AddressSlot) Len() int { return s.length }

// Delete wipes the address and frees the slot.
func (s *AddressSlot) Delete() { s.clear() }

// EncryptedKeySlot holds one ciphertext blob.
type EncryptedKeySlot struct {
	fixedBuffer
}

// NewEncryptedKeySlot reserves an unused slot able to hold capacity bytes.
func NewEncryptedKeySlot(capacity int) EncryptedKeySlot {
	return EncryptedKeySlot{newFixedBuffer(capacity)}
}

// SetKey stores ciphertext and marks the slot used.
func (s *EncryptedKeySlot) SetKey(ciphertext []byte) error {
	return s.set(ciphertext)
}

// Key returns a copy of the stored ciphertext.
func (s *EncryptedKeySlot) Key() []byte {
	return s.bytes()
}

// InUse reports whether the slot is occupied.
func (s *EncryptedKeySlot) InUse() bool { return s.inUse }

// Clear wipes the ciphertext and frees the slot.
func (s *EncryptedKeySlot) Clear() { s.clear() }

