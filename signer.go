package btcvault

import (
	"fmt"
	"runtime"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcec/v2/ecdsa"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
)

// SigningEngine produces and checks secp256k1 ECDSA signatures.
//
// With Prehash false the input must be a 32-byte digest and is signed as
// is. With Prehash true the input is hashed once with SHA-256 first, which is
// what a device-side ECDSA_SHA_256 signer does.
type SigningEngine struct {
	Prehash bool
	Format  SignatureFormat
}

// GenerateKey creates a new secp256k1 keypair using btcec.
func GenerateKey() (*btcec.PrivateKey, error) {
	privKey, err := btcec.NewPrivateKey()
	if err != nil {
		return nil, fmt.Errorf("failed to generate private key: %w", err)
	}
	return privKey, nil
}

// ParsePublicKey deserializes a public key from compressed or uncompressed format.
func ParsePublicKey(data []byte) (*btcec.PublicKey, error) {
	if len(data) == 0 {
		return nil, fmt.Errorf("%w: empty", ErrInvalidPublicKey)
	}
	pubKey, err := btcec.ParsePubKey(data)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidPublicKey, err)
	}
	return pubKey, nil
}

// digest applies the signing contract to input.
func (e SigningEngine) digest(input []byte) ([]byte, error) {
	if e.Prehash {
		if len(input) == 0 {
			return nil, fmt.Errorf("%w: empty message", ErrInvalidDigestLength)
		}
		return chainhash.HashB(input), nil
	}
	if len(input) != DigestSize {
		return nil, fmt.Errorf("%w: digest must be %d bytes, got %d", ErrInvalidDigestLength, DigestSize, len(input))
	}
	return input, nil
}

// Sign loads scalar into a fresh private key, signs input and wipes the key
// before returning. The scalar slice itself is left to the caller.
func (e SigningEngine) Sign(scalar, input []byte) ([]byte, error) {
	if len(scalar) != PrivateKeySize {
		return nil, fmt.Errorf("%w: got %d bytes", ErrInvalidKeyLength, len(scalar))
	}
	hash, err := e.digest(input)
	if err != nil {
		return nil, err
	}

	if err := checkScalar(scalar); err != nil {
		return nil, err
	}

	privKey, _ := btcec.PrivKeyFromBytes(scalar)
	defer privKey.Zero()

	sig := ecdsa.Sign(privKey, hash)
	switch e.Format {
	case FormatCompact:
		return compactSignature(sig), nil
	case FormatDER, "":
		return sig.Serialize(), nil
	default:
		return nil, fmt.Errorf("btcvault: unsupported signature format %q", e.Format)
	}
}

// checkScalar rejects a 32-byte private key that is zero or not below the
// curve order. ecdsa.Sign never returns for d = 0 with a zero digest.
func checkScalar(scalar []byte) error {
	if len(scalar) != PrivateKeySize {
		return fmt.Errorf("%w: got %d bytes", ErrInvalidKeyLength, len(scalar))
	}
	var d btcec.ModNScalar
	overflow := d.SetByteSlice(scalar)
	zero := d.IsZero()
	d.Zero()
	if overflow {
		return fmt.Errorf("%w: not below the curve order", ErrInvalidPrivateKey)
	}
	if zero {
		return fmt.Errorf("%w: zero", ErrInvalidPrivateKey)
	}
	return nil
}

// Verify checks sig over input against pubKey under the same contract as Sign.
// Both DER and 64-byte compact signatures are accepted.
func (e SigningEngine) Verify(pubKey *btcec.PublicKey, input, sig []byte) (bool, error) {
	if pubKey == nil {
		return false, ErrInvalidPublicKey
	}
	hash, err := e.digest(input)
	if err != nil {
		return false, err
	}
	parsed, err := parseSignature(sig)
	if err != nil {
		return false, err
	}
	return parsed.Verify(hash, pubKey), nil
}

// compactSignature formats as R||S (64 bytes) with low-S normalization.
func compactSignature(sig *ecdsa.Signature) []byte {
	r, s := extractRSFromDER(sig.Serialize())
	if s.IsOverHalfOrder() {
		s.Negate()
	}

	result := make([]byte, 64)
	r.PutBytesUnchecked(result[:32])
	s.PutBytesUnchecked(result[32:])
	return result
}

// extractRSFromDER extracts R and S values from a DER-encoded ECDSA signature
// produced by Serialize: 0x30 len 0x02 rlen r 0x02 slen s.
func extractRSFromDER(der []byte) (*btcec.ModNScalar, *btcec.ModNScalar) {
	offset := 3
	rLen := int(der[offset])
	offset++
	rBytes := der[offset : offset+rLen]
	offset += rLen

	offset++
	sLen := int(der[offset])
	offset++
	sBytes := der[offset : offset+sLen]

	return scalarFromInt(rBytes), scalarFromInt(sBytes)
}

// scalarFromInt converts a big-endian DER integer (possibly with a leading
// sign byte) into a ModNScalar.
func scalarFromInt(b []byte) *btcec.ModNScalar {
	if len(b) == 33 && b[0] == 0 {
		b = b[1:]
	}
	padded := make([]byte, 32)
	copy(padded[32-len(b):], b)

	var v btcec.ModNScalar
	v.SetByteSlice(padded)
	return &v
}

// parseSignature accepts either a 64-byte R||S signature or DER.
func parseSignature(sigBytes []byte) (*ecdsa.Signature, error) {
	if len(sigBytes) != 64 {
		sig, err := ecdsa.ParseDERSignature(sigBytes)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidSignature, err)
		}
		return sig, nil
	}

	r := new(btcec.ModNScalar)
	s := new(btcec.ModNScalar)
	if overflow := r.SetByteSlice(sigBytes[:32]); overflow {
		return nil, fmt.Errorf("%w: r value overflows", ErrInvalidSignature)
	}
	if overflow := s.SetByteSlice(sigBytes[32:]); overflow {
		return nil, fmt.Errorf("%w: s value overflows", ErrInvalidSignature)
	}
	if r.IsZero() || s.IsZero() {
		return nil, fmt.Errorf("%w: R or S is zero", ErrInvalidSignature)
	}
	return ecdsa.NewSignature(r, s), nil
}

// secureZero wipes sensitive data from memory.
func secureZero(b []byte) {
	for i := range b {
		b[i] = 0
	}
	runtime.KeepAlive(b)
}
