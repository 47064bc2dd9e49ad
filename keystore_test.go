package btcvault

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// testAddress is a syntactically valid 34-character mainnet address.
const testAddress = "1BoatSLRHtKNngkdXEeobR76b53LETtpyT"

func newTestStore(t *testing.T, capacity int) *KeyStore {
	t.Helper()
	ks, err := New(Config{Capacity: capacity})
	require.NoError(t, err)
	t.Cleanup(func() { _ = ks.Close() })
	return ks
}

func randomScalar(t *testing.T) []byte {
	t.Helper()
	priv, err := GenerateKey()
	require.NoError(t, err)
	return priv.Serialize()
}

func snapshot(ks *KeyStore) ([]string, []int) {
	ks.mu.Lock()
	defer ks.mu.Unlock()
	var addrs []string
	var lens []int
	for i := range ks.addresses {
		addrs = append(addrs, string(ks.addresses[i].Address()))
		lens = append(lens, ks.keys[i].length)
	}
	return addrs, lens
}

func TestNew(t *testing.T) {
	t.Run("rejects oversized parameters", func(t *testing.T) {
		_, err := New(Config{Capacity: 255})
		assert.ErrorIs(t, err, ErrInvalidLength)

		_, err = New(Config{AddressMaxLength: 255})
		assert.ErrorIs(t, err, ErrInvalidLength)
	})

	t.Run("all slots start unused", func(t *testing.T) {
		ks := newTestStore(t, 4)
		assert.Equal(t, 4, ks.Capacity())
		assert.Equal(t, 0, ks.NumberOfKeys())
		assert.Equal(t, 4, ks.NumberOfKeysRemaining())
		assert.False(t, ks.IsFull())
		_, selected := ks.Selected()
		assert.False(t, selected)
	})

	t.Run("address slot too short for a bitcoin address", func(t *testing.T) {
		_, err := New(Config{Capacity: 1, AddressMaxLength: 30})
		assert.ErrorIs(t, err, ErrInvalidLength)
	})

	t.Run("zero slots is always full", func(t *testing.T) {
		ks := newTestStore(t, NoSlots)
		assert.Equal(t, 0, ks.Capacity())
		assert.True(t, ks.IsFull())
		assert.Equal(t, 0, ks.NumberOfKeysRemaining())

		_, err := ks.GenerateKeyPair()
		assert.ErrorIs(t, err, ErrKeyStoreFull)
		var slotErr *SlotError
		require.ErrorAs(t, err, &slotErr)
		assert.Equal(t, OpGenerate, slotErr.Op)
		err = ks.ImportPrivateKey([]byte(testAddress), randomScalar(t))
		assert.ErrorIs(t, err, ErrKeyStoreFull)
	})

	t.Run("zero capacity means default", func(t *testing.T) {
		ks := newTestStore(t, 0)
		assert.Equal(t, DefaultCapacity, ks.Capacity())
	})

	t.Run("entropy failure", func(t *testing.T) {
		_, err := New(Config{Rand: failingReader{}})
		assert.Error(t, err)
	})
}

func TestKeyStore_GenerateKeyPair(t *testing.T) {
	ks := newTestStore(t, 2)

	gk, err := ks.GenerateKeyPair()
	require.NoError(t, err)
	assert.Equal(t, SlotIndex(0), gk.Slot)
	require.Len(t, gk.PublicKey, UncompressedKeySize)
	assert.Equal(t, byte(0x04), gk.PublicKey[0])

	t.Run("stored address matches the public key", func(t *testing.T) {
		addr, err := ks.Address(gk.PublicKey)
		require.NoError(t, err)
		assert.Equal(t, gk.Address, addr)
		assert.Equal(t, []string{gk.Address}, ks.Addresses())
	})

	t.Run("stored ciphertext decrypts to a key for that public key", func(t *testing.T) {
		ct, err := ks.GetEncryptedPrivateKey([]byte(gk.Address))
		require.NoError(t, err)
		scalar, err := ks.cipher.Decrypt(ct)
		require.NoError(t, err)
		_, pub := btcec.PrivKeyFromBytes(scalar)
		assert.Equal(t, gk.PublicKey, pub.SerializeUncompressed())
	})
}

func TestKeyStore_FillDeleteRefill(t *testing.T) {
	ks := newTestStore(t, 2)

	first, err := ks.GenerateKeyPair()
	require.NoError(t, err)
	second, err := ks.GenerateKeyPair()
	require.NoError(t, err)
	assert.Equal(t, SlotIndex(0), first.Slot)
	assert.Equal(t, SlotIndex(1), second.Slot)
	assert.True(t, ks.IsFull())

	_, err = ks.GenerateKeyPair()
	assert.ErrorIs(t, err, ErrKeyStoreFull)
	assert.Equal(t, 2, ks.NumberOfKeys())

	require.NoError(t, ks.DeletePrivateKey([]byte(first.Address)))
	assert.False(t, ks.IsFull())

	third, err := ks.GenerateKeyPair()
	require.NoError(t, err)
	assert.Equal(t, SlotIndex(0), third.Slot)
	assert.True(t, ks.IsFull())
}

func TestKeyStore_CountsAlwaysSumToCapacity(t *testing.T) {
	ks := newTestStore(t, 5)
	check := func() {
		assert.Equal(t, ks.Capacity(), ks.NumberOfKeys()+ks.NumberOfKeysRemaining())
		st := ks.Status()
		assert.Equal(t, st.Capacity, st.Keys+st.Remaining)
	}

	check()
	var addrs []string
	for i := 0; i < 5; i++ {
		gk, err := ks.GenerateKeyPair()
		require.NoError(t, err)
		addrs = append(addrs, gk.Address)
		check()
	}
	for _, a := range addrs[:3] {
		require.NoError(t, ks.DeletePrivateKey([]byte(a)))
		check()
	}
}

func TestKeyStore_ImportPrivateKey(t *testing.T) {
	t.Run("import then export round trips through decrypt", func(t *testing.T) {
		ks := newTestStore(t, 2)
		raw := randomScalar(t)

		require.NoError(t, ks.ImportPrivateKey([]byte(testAddress), raw))

		ct, err := ks.GetEncryptedPrivateKey([]byte(testAddress))
		require.NoError(t, err)
		assert.Len(t, ct, CiphertextSize)
		assert.NotEqual(t, raw, ct)

		pt, err := ks.cipher.Decrypt(ct)
		require.NoError(t, err)
		assert.Equal(t, raw, pt)
	})

	t.Run("caller buffer is not retained", func(t *testing.T) {
		ks := newTestStore(t, 1)
		raw := randomScalar(t)
		want := append([]byte(nil), raw...)

		require.NoError(t, ks.ImportPrivateKey([]byte(testAddress), raw))
		for i := range raw {
			raw[i] = 0
		}

		ct, err := ks.GetEncryptedPrivateKey([]byte(testAddress))
		require.NoError(t, err)
		pt, err := ks.cipher.Decrypt(ct)
		require.NoError(t, err)
		assert.Equal(t, want, pt)
	})

	t.Run("duplicate address", func(t *testing.T) {
		ks := newTestStore(t, 2)
		require.NoError(t, ks.ImportPrivateKey([]byte(testAddress), randomScalar(t)))

		err := ks.ImportPrivateKey([]byte(testAddress), randomScalar(t))
		assert.ErrorIs(t, err, ErrKeyAlreadyExists)
		assert.Equal(t, 1, ks.NumberOfKeys())
	})

	t.Run("full store", func(t *testing.T) {
		ks := newTestStore(t, 1)
		_, err := ks.GenerateKeyPair()
		require.NoError(t, err)

		err = ks.ImportPrivateKey([]byte(testAddress), randomScalar(t))
		assert.ErrorIs(t, err, ErrKeyStoreFull)
	})

	t.Run("duplicate wins over full", func(t *testing.T) {
		ks := newTestStore(t, 1)
		require.NoError(t, ks.ImportPrivateKey([]byte(testAddress), randomScalar(t)))

		err := ks.ImportPrivateKey([]byte(testAddress), randomScalar(t))
		assert.ErrorIs(t, err, ErrKeyAlreadyExists)
	})

	t.Run("short address leaves store untouched", func(t *testing.T) {
		ks := newTestStore(t, 2)
		_, err := ks.GenerateKeyPair()
		require.NoError(t, err)
		beforeAddrs, beforeLens := snapshot(ks)

		err = ks.ImportPrivateKey(bytes.Repeat([]byte{'1'}, 20), randomScalar(t))
		assert.ErrorIs(t, err, ErrInvalidAddressLength)

		afterAddrs, afterLens := snapshot(ks)
		assert.Equal(t, beforeAddrs, afterAddrs)
		assert.Equal(t, beforeLens, afterLens)
		assert.Equal(t, 1, ks.NumberOfKeys())
	})

	t.Run("address length bounds", func(t *testing.T) {
		ks := newTestStore(t, 4)
		for _, n := range []int{0, 25, 36, 64} {
			err := ks.ImportPrivateKey(bytes.Repeat([]byte{'1'}, n), randomScalar(t))
			assert.ErrorIs(t, err, ErrInvalidAddressLength, "length %d", n)
		}
		for i, n := range []int{26, 35} {
			addr := bytes.Repeat([]byte{byte('A' + i)}, n)
			assert.NoError(t, ks.ImportPrivateKey(addr, randomScalar(t)), "length %d", n)
		}
	})

	t.Run("out of range scalar leaves store untouched", func(t *testing.T) {
		ks := newTestStore(t, 2)
		for name, raw := range invalidScalars() {
			err := ks.ImportPrivateKey([]byte(testAddress), raw)
			assert.ErrorIs(t, err, ErrInvalidPrivateKey, name)
			assert.Equal(t, CodeInvalidPrivateKey, ErrorCode(err), name)
		}
		assert.Equal(t, 0, ks.NumberOfKeys())
		assert.Empty(t, ks.Addresses())
	})

	t.Run("largest valid scalar is accepted", func(t *testing.T) {
		ks := newTestStore(t, 1)
		nMinusOne, err := hex.DecodeString(curveOrderHex)
		require.NoError(t, err)
		nMinusOne[31]--
		assert.NoError(t, ks.ImportPrivateKey([]byte(testAddress), nMinusOne))
	})

	t.Run("key length must be 32", func(t *testing.T) {
		ks := newTestStore(t, 1)
		for _, n := range []int{0, 31, 33} {
			err := ks.ImportPrivateKey([]byte(testAddress), make([]byte, n))
			assert.ErrorIs(t, err, ErrInvalidKeyLength, "length %d", n)
		}
		assert.Equal(t, 0, ks.NumberOfKeys())
	})
}

// curveOrderHex is the secp256k1 group order N.
const curveOrderHex = "fffffffffffffffffffffffffffffffebaaedce6af48a03bbfd25e8cd0364141"

// invalidScalars returns 32-byte values that are not valid private keys.
func invalidScalars() map[string][]byte {
	n, _ := hex.DecodeString(curveOrderHex)
	nPlusOne := append([]byte(nil), n...)
	nPlusOne[31]++
	return map[string][]byte{
		"zero":        make([]byte, PrivateKeySize),
		"curve order": n,
		"above order": nPlusOne,
		"all ones":    bytes.Repeat([]byte{0xff}, PrivateKeySize),
	}
}

func TestKeyStore_SignWithOutOfRangeEncryptedKey(t *testing.T) {
	for name, raw := range invalidScalars() {
		t.Run(name, func(t *testing.T) {
			ks := newTestStore(t, 1)

			// The store cannot inspect a blob on import; only its own cipher
			// can produce one that decrypts to raw.
			blob, err := ks.cipher.Encrypt(raw)
			require.NoError(t, err)
			require.NoError(t, ks.ImportEncryptedPrivateKey([]byte(testAddress), blob))
			require.NoError(t, ks.SelectKeyForSignature([]byte(testAddress)))

			done := make(chan error, 1)
			go func() {
				_, err := ks.SignMessage(make([]byte, DigestSize))
				done <- err
			}()
			select {
			case err := <-done:
				assert.ErrorIs(t, err, ErrInvalidPrivateKey)
			case <-time.After(5 * time.Second):
				t.Fatal("SignMessage did not return")
			}

			digest := sha256.Sum256([]byte("any"))
			_, err = ks.SignMessage(digest[:])
			assert.ErrorIs(t, err, ErrInvalidPrivateKey)

			assert.Equal(t, 1, ks.NumberOfKeys())
			require.NoError(t, ks.DeletePrivateKey([]byte(testAddress)))
		})
	}
}

func TestKeyStore_ImportEncryptedPrivateKey(t *testing.T) {
	t.Run("restores backup into the same instance", func(t *testing.T) {
		ks := newTestStore(t, 2)
		gk, err := ks.GenerateKeyPair()
		require.NoError(t, err)

		backup, err := ks.GetEncryptedPrivateKey([]byte(gk.Address))
		require.NoError(t, err)
		require.NoError(t, ks.DeletePrivateKey([]byte(gk.Address)))

		require.NoError(t, ks.ImportEncryptedPrivateKey([]byte(gk.Address), backup))
		require.NoError(t, ks.SelectKeyForSignature([]byte(gk.Address)))

		digest := sha256.Sum256([]byte("restored"))
		sig, err := ks.SignMessage(digest[:])
		require.NoError(t, err)
		ok, err := ks.VerifySignature(gk.PublicKey, digest[:], sig)
		require.NoError(t, err)
		assert.True(t, ok)
	})

	t.Run("stored verbatim", func(t *testing.T) {
		ks := newTestStore(t, 1)
		blob := bytes.Repeat([]byte{0x5a}, CiphertextSize)
		require.NoError(t, ks.ImportEncryptedPrivateKey([]byte(testAddress), blob))

		got, err := ks.GetEncryptedPrivateKey([]byte(testAddress))
		require.NoError(t, err)
		assert.Equal(t, blob, got)
	})

	t.Run("blob from another instance does not produce the same key", func(t *testing.T) {
		src := newTestStore(t, 1)
		dst := newTestStore(t, 1)
		raw := randomScalar(t)

		require.NoError(t, src.ImportPrivateKey([]byte(testAddress), raw))
		blob, err := src.GetEncryptedPrivateKey([]byte(testAddress))
		require.NoError(t, err)

		require.NoError(t, dst.ImportEncryptedPrivateKey([]byte(testAddress), blob))
		pt, err := dst.cipher.Decrypt(blob)
		require.NoError(t, err)
		assert.NotEqual(t, raw, pt)
	})

	t.Run("same preconditions as raw import", func(t *testing.T) {
		ks := newTestStore(t, 1)
		err := ks.ImportEncryptedPrivateKey([]byte("short"), make([]byte, CiphertextSize))
		assert.ErrorIs(t, err, ErrInvalidAddressLength)

		err = ks.ImportEncryptedPrivateKey([]byte(testAddress), make([]byte, 16))
		assert.ErrorIs(t, err, ErrInvalidKeyLength)

		require.NoError(t, ks.ImportEncryptedPrivateKey([]byte(testAddress), make([]byte, CiphertextSize)))
		err = ks.ImportEncryptedPrivateKey([]byte(testAddress), make([]byte, CiphertextSize))
		assert.ErrorIs(t, err, ErrKeyAlreadyExists)

		other := []byte("1EHNa6Q4Jz2uvNExL497mE43ikXhwF6kZm")
		err = ks.ImportEncryptedPrivateKey(other, make([]byte, CiphertextSize))
		assert.ErrorIs(t, err, ErrKeyStoreFull)
	})
}

func TestKeyStore_GetEncryptedPrivateKey(t *testing.T) {
	ks := newTestStore(t, 1)

	_, err := ks.GetEncryptedPrivateKey([]byte("1abc"))
	assert.ErrorIs(t, err, ErrInvalidAddressLength)

	_, err = ks.GetEncryptedPrivateKey([]byte(testAddress))
	assert.ErrorIs(t, err, ErrKeyNotFound)
}

func TestKeyStore_DeletePrivateKey(t *testing.T) {
	t.Run("then select fails", func(t *testing.T) {
		ks := newTestStore(t, 2)
		gk, err := ks.GenerateKeyPair()
		require.NoError(t, err)

		require.NoError(t, ks.DeletePrivateKey([]byte(gk.Address)))
		err = ks.SelectKeyForSignature([]byte(gk.Address))
		assert.ErrorIs(t, err, ErrKeyNotFound)
	})

	t.Run("wipes both slots", func(t *testing.T) {
		ks := newTestStore(t, 1)
		require.NoError(t, ks.ImportPrivateKey([]byte(testAddress), randomScalar(t)))
		require.NoError(t, ks.DeletePrivateKey([]byte(testAddress)))

		ks.mu.Lock()
		defer ks.mu.Unlock()
		assert.False(t, ks.addresses[0].InUse())
		assert.False(t, ks.keys[0].InUse())
		assert.Equal(t, make([]byte, CiphertextSize), ks.keys[0].data)
		assert.Equal(t, make([]byte, DefaultAddressMaxLength), ks.addresses[0].data)
	})

	t.Run("clears selection of the deleted key", func(t *testing.T) {
		ks := newTestStore(t, 1)
		gk, err := ks.GenerateKeyPair()
		require.NoError(t, err)
		require.NoError(t, ks.SelectKeyForSignature([]byte(gk.Address)))
		require.NoError(t, ks.DeletePrivateKey([]byte(gk.Address)))

		digest := sha256.Sum256([]byte("x"))
		_, err = ks.SignMessage(digest[:])
		assert.ErrorIs(t, err, ErrNoKeySelected)
	})

	t.Run("errors", func(t *testing.T) {
		ks := newTestStore(t, 1)
		assert.ErrorIs(t, ks.DeletePrivateKey(nil), ErrInvalidAddressLength)
		assert.ErrorIs(t, ks.DeletePrivateKey([]byte(testAddress)), ErrKeyNotFound)
	})
}

func TestKeyStore_SelectAndSign(t *testing.T) {
	ks := newTestStore(t, 3)
	a, err := ks.GenerateKeyPair()
	require.NoError(t, err)
	b, err := ks.GenerateKeyPair()
	require.NoError(t, err)
	digest := sha256.Sum256([]byte("transaction"))

	t.Run("sign without selection", func(t *testing.T) {
		_, err := ks.SignMessage(digest[:])
		assert.ErrorIs(t, err, ErrNoKeySelected)
	})

	t.Run("signature verifies against selected key only", func(t *testing.T) {
		require.NoError(t, ks.SelectKeyForSignature([]byte(b.Address)))
		addr, ok := ks.Selected()
		require.True(t, ok)
		assert.Equal(t, b.Address, addr)

		sig, err := ks.SignMessage(digest[:])
		require.NoError(t, err)

		ok, err = ks.VerifySignature(b.PublicKey, digest[:], sig)
		require.NoError(t, err)
		assert.True(t, ok)

		ok, err = ks.VerifySignature(a.PublicKey, digest[:], sig)
		require.NoError(t, err)
		assert.False(t, ok)
	})

	t.Run("selection persists across calls", func(t *testing.T) {
		for i := 0; i < 3; i++ {
			sig, err := ks.SignMessage(digest[:])
			require.NoError(t, err)
			ok, err := ks.VerifySignature(b.PublicKey, digest[:], sig)
			require.NoError(t, err)
			assert.True(t, ok)
		}
	})

	t.Run("failed select clears selection", func(t *testing.T) {
		err := ks.SelectKeyForSignature([]byte(testAddress))
		assert.ErrorIs(t, err, ErrKeyNotFound)

		_, err = ks.SignMessage(digest[:])
		assert.ErrorIs(t, err, ErrNoKeySelected)
	})

	t.Run("empty address never matches a free slot", func(t *testing.T) {
		err := ks.SelectKeyForSignature(nil)
		assert.ErrorIs(t, err, ErrKeyNotFound)
	})

	t.Run("wrong digest length", func(t *testing.T) {
		require.NoError(t, ks.SelectKeyForSignature([]byte(a.Address)))
		_, err := ks.SignMessage([]byte("not a digest"))
		assert.ErrorIs(t, err, ErrInvalidDigestLength)
	})
}

func TestKeyStore_SignImportedKey(t *testing.T) {
	ks, err := New(Config{Capacity: 1, Prehash: true, SignatureFormat: FormatCompact})
	require.NoError(t, err)

	priv, err := GenerateKey()
	require.NoError(t, err)
	addr, err := ks.Address(priv.PubKey().SerializeUncompressed())
	require.NoError(t, err)

	require.NoError(t, ks.ImportPrivateKey([]byte(addr), priv.Serialize()))
	require.NoError(t, ks.SelectKeyForSignature([]byte(addr)))

	msg := []byte("message hashed inside the store")
	sig, err := ks.SignMessage(msg)
	require.NoError(t, err)
	assert.Len(t, sig, 64)

	ok, err := ks.VerifySignature(priv.PubKey().SerializeCompressed(), msg, sig)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestKeyStore_Close(t *testing.T) {
	ks, err := New(Config{Capacity: 2})
	require.NoError(t, err)
	gk, err := ks.GenerateKeyPair()
	require.NoError(t, err)
	require.NoError(t, ks.SelectKeyForSignature([]byte(gk.Address)))

	require.NoError(t, ks.Close())
	require.NoError(t, ks.Close())

	assert.Equal(t, 0, ks.NumberOfKeys())
	assert.Empty(t, ks.Addresses())
	_, selected := ks.Selected()
	assert.False(t, selected)

	_, err = ks.GenerateKeyPair()
	assert.ErrorIs(t, err, ErrStoreClosed)
	_, err = ks.SignMessage(make([]byte, DigestSize))
	assert.ErrorIs(t, err, ErrStoreClosed)
	assert.ErrorIs(t, ks.ImportPrivateKey([]byte(testAddress), randomScalar(t)), ErrStoreClosed)
	assert.ErrorIs(t, ks.SelectKeyForSignature([]byte(gk.Address)), ErrStoreClosed)
}

func TestKeyStore_Metrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	ks, err := New(Config{Capacity: 1, Registerer: reg})
	require.NoError(t, err)

	_, err = ks.GenerateKeyPair()
	require.NoError(t, err)
	_, err = ks.GenerateKeyPair()
	require.ErrorIs(t, err, ErrKeyStoreFull)

	assert.Equal(t, 1.0, testutil.ToFloat64(ks.metrics.operations.WithLabelValues(OpGenerate, CodeOK)))
	assert.Equal(t, 1.0, testutil.ToFloat64(ks.metrics.operations.WithLabelValues(OpGenerate, CodeKeyStoreFull)))
	assert.Equal(t, 1.0, testutil.ToFloat64(ks.metrics.slotsInUse))
	assert.Equal(t, 1.0, testutil.ToFloat64(ks.metrics.slotsTotal))
}

func TestKeyStore_ConcurrentCallsSerialize(t *testing.T) {
	ks := newTestStore(t, 32)

	var wg sync.WaitGroup
	errs := make(chan error, 40)
	for i := 0; i < 40; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := ks.GenerateKeyPair()
			errs <- err
		}()
	}
	wg.Wait()
	close(errs)

	var ok, full int
	for err := range errs {
		switch {
		case err == nil:
			ok++
		case errors.Is(err, ErrKeyStoreFull):
			full++
		default:
			t.Errorf("unexpected error: %v", err)
		}
	}
	assert.Equal(t, 32, ok)
	assert.Equal(t, 8, full)
	assert.True(t, ks.IsFull())
	assert.Len(t, ks.Addresses(), 32)
}
