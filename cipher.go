package btcvault

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"fmt"
	"io"
)

// AESKeySize is the length of the at-rest key (AES-128).
const AESKeySize = 16

// zeroIV is the fixed CBC initialisation vector. Ciphertext is stored as a
// single 32-byte blob per slot, so there is no room for a per-key IV.
var zeroIV = make([]byte, aes.BlockSize)

// PrivateKeyCipher encrypts 32-byte private scalars with AES-128-CBC and no
// padding under a key that exists only inside this instance.
type PrivateKeyCipher struct {
	key   []byte
	block cipher.Block
}

// NewPrivateKeyCipher generates a fresh random key from rnd
// (crypto/rand.Reader when nil).
func NewPrivateKeyCipher(rnd io.Reader) (*PrivateKeyCipher, error) {
	if rnd == nil {
		rnd = rand.Reader
	}
	key := make([]byte, AESKeySize)
	if _, err := io.ReadFull(rnd, key); err != nil {
		return nil, fmt.Errorf("generate encryption key: %w", err)
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		secureZero(key)
		return nil, fmt.Errorf("init cipher: %w", err)
	}
	return &PrivateKeyCipher{key: key, block: block}, nil
}

// Encrypt returns the ciphertext of a 32-byte scalar.
func (c *PrivateKeyCipher) Encrypt(scalar []byte) ([]byte, error) {
	if c.block == nil {
		return nil, ErrStoreClosed
	}
	if len(scalar) != PrivateKeySize {
		return nil, fmt.Errorf("%w: got %d bytes", ErrInvalidKeyLength, len(scalar))
	}
	out := make([]byte, CiphertextSize)
	cipher.NewCBCEncrypter(c.block, zeroIV).CryptBlocks(out, scalar)
	return out, nil
}

// Decrypt returns the 32-byte scalar for ciphertext. Callers must wipe the
// result with secureZero once done.
func (c *PrivateKeyCipher) Decrypt(ciphertext []byte) ([]byte, error) {
	if c.block == nil {
		return nil, ErrStoreClosed
	}
	if len(ciphertext) != CiphertextSize {
		return nil, fmt.Errorf("%w: ciphertext is %d bytes", ErrInvalidKeyLength, len(ciphertext))
	}
	out := make([]byte, PrivateKeySize)
	cipher.NewCBCDecrypter(c.block, zeroIV).CryptBlocks(out, ciphertext)
	return out, nil
}

// Destroy wipes the key. Further calls fail with ErrStoreClosed.
func (c *PrivateKeyCipher) Destroy() {
	secureZero(c.key)
	c.block = nil
}
