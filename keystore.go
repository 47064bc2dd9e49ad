package btcvault

import (
	"fmt"
	"log/slog"
	"sync"
)

// KeyStore maps Bitcoin addresses to encrypted private keys held in two
// parallel, fixed-size slot arrays. Index i of addresses and keys forms one
// record; both are occupied and freed together.
//
// Raw private keys exist only inside a single method call and are wiped
// before it returns. The AES key is generated at construction and never
// leaves the instance, so exported ciphertext can only be re-imported into
// the same KeyStore.
//
// All methods are safe for concurrent use; calls are serialized.
type KeyStore struct {
	mu sync.Mutex

	cfg        Config
	addresses  []AddressSlot
	keys       []EncryptedKeySlot
	cipher     *PrivateKeyCipher
	derivation AddressDerivation
	signer     SigningEngine

	selected    SlotIndex
	hasSelected bool
	closed      bool

	logger  *slog.Logger
	metrics *metrics
}

// New validates cfg, generates the at-rest key and reserves all slots.
func New(cfg Config) (*KeyStore, error) {
	cfg = cfg.WithDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	version, err := NetworkVersion(cfg.Network)
	if err != nil {
		return nil, err
	}

	c, err := NewPrivateKeyCipher(cfg.Rand)
	if err != nil {
		return nil, err
	}

	ks := &KeyStore{
		cfg:        cfg,
		addresses:  make([]AddressSlot, cfg.slots()),
		keys:       make([]EncryptedKeySlot, cfg.slots()),
		cipher:     c,
		derivation: NewAddressDerivation(version),
		signer: SigningEngine{
			Prehash: cfg.Prehash,
			Format:  cfg.SignatureFormat,
		},
		logger:  cfg.Logger,
		metrics: newMetrics(cfg.Registerer),
	}
	for i := range ks.addresses {
		ks.addresses[i] = NewAddressSlot(cfg.AddressMaxLength)
		ks.keys[i] = NewEncryptedKeySlot(CiphertextSize)
	}
	ks.metrics.setSlots(0, len(ks.keys))

	ks.logger.Info("key store initialised",
		slog.Int("capacity", len(ks.keys)),
		slog.Int("address_max_length", cfg.AddressMaxLength),
		slog.String("network", cfg.Network),
	)
	return ks, nil
}

// Capacity returns the number of slots.
func (ks *KeyStore) Capacity() int {
	return len(ks.keys)
}

// findByAddress returns the index of the occupied slot holding address.
func (ks *KeyStore) findByAddress(address []byte) (SlotIndex, bool) {
	for i := range ks.addresses {
		if ks.addresses[i].InUse() && ks.addresses[i].Equals(address) {
			return SlotIndex(i), true
		}
	}
	return 0, false
}

// findFreeSlot returns the first index whose key slot is unused.
func (ks *KeyStore) findFreeSlot() (SlotIndex, bool) {
	for i := range ks.keys {
		if !ks.keys[i].InUse() {
			return SlotIndex(i), true
		}
	}
	return 0, false
}

// validateAddress checks the Bitcoin address length bounds and the slot size.
func (ks *KeyStore) validateAddress(address []byte) error {
	if len(address) < MinBitcoinAddrLen || len(address) > MaxBitcoinAddrLen {
		return fmt.Errorf("%w: %d bytes, want %d..%d", ErrInvalidAddressLength,
			len(address), MinBitcoinAddrLen, MaxBitcoinAddrLen)
	}
	if len(address) > ks.cfg.AddressMaxLength {
		return fmt.Errorf("%w: %d bytes exceeds slot size %d", ErrInvalidAddressLength,
			len(address), ks.cfg.AddressMaxLength)
	}
	return nil
}

// store writes one record. Callers validate lengths first so neither set can fail.
func (ks *KeyStore) store(idx SlotIndex, address, ciphertext []byte) error {
	if err := ks.addresses[idx].SetAddress(address); err != nil {
		return err
	}
	if err := ks.keys[idx].SetKey(ciphertext); err != nil {
		ks.addresses[idx].Delete()
		return err
	}
	ks.metrics.setSlots(ks.countLocked(), len(ks.keys))
	return nil
}

func (ks *KeyStore) checkOpen() error {
	if ks.closed {
		return ErrStoreClosed
	}
	return nil
}

// SelectKeyForSignature chooses the key used by SignMessage. The selection
// persists until changed, deleted or the store is closed. A failed lookup
// clears any previous selection.
func (ks *KeyStore) SelectKeyForSignature(address []byte) (err error) {
	ks.mu.Lock()
	defer ks.mu.Unlock()
	defer func() { ks.metrics.observe(OpSelect, err) }()

	if err := ks.checkOpen(); err != nil {
		return err
	}

	idx, ok := ks.findByAddress(address)
	ks.selected, ks.hasSelected = idx, ok
	if !ok {
		return wrapSlotError(OpSelect, address, ErrKeyNotFound)
	}

	ks.logger.Debug("key selected for signature", slog.Int("slot", int(idx)))
	return nil
}

// Selected returns the address of the selected key, if any.
func (ks *KeyStore) Selected() (string, bool) {
	ks.mu.Lock()
	defer ks.mu.Unlock()

	if !ks.hasSelected || ks.closed {
		return "", false
	}
	return string(ks.addresses[ks.selected].Address()), true
}

// SignMessage signs input with the selected key. Depending on
// Config.Prehash, input is a 32-byte digest signed directly or a message
// hashed once with SHA-256.
func (ks *KeyStore) SignMessage(input []byte) (sig []byte, err error) {
	ks.mu.Lock()
	defer ks.mu.Unlock()
	defer func() { ks.metrics.observe(OpSign, err) }()

	if err := ks.checkOpen(); err != nil {
		return nil, err
	}
	if !ks.hasSelected {
		return nil, wrapSlotError(OpSign, nil, ErrNoKeySelected)
	}

	scalar, err := ks.cipher.Decrypt(ks.keys[ks.selected].Key())
	if err != nil {
		return nil, wrapSlotError(OpSign, nil, err)
	}
	defer secureZero(scalar)

	sig, err = ks.signer.Sign(scalar, input)
	if err != nil {
		return nil, wrapSlotError(OpSign, nil, err)
	}

	ks.logger.Debug("message signed", slog.Int("slot", int(ks.selected)))
	return sig, nil
}

// VerifySignature checks sig over input against a serialized public key
// using the store's signing contract.
func (ks *KeyStore) VerifySignature(publicKey, input, sig []byte) (bool, error) {
	pubKey, err := ParsePublicKey(publicKey)
	if err != nil {
		return false, err
	}
	return ks.signer.Verify(pubKey, input, sig)
}

// GenerateKeyPair creates a key pair in the first free slot and returns
// its uncompressed public key and address. It is the only way new key
// material comes into existence.
func (ks *KeyStore) GenerateKeyPair() (gk *GeneratedKey, err error) {
	ks.mu.Lock()
	defer ks.mu.Unlock()
	defer func() { ks.metrics.observe(OpGenerate, err) }()

	if err := ks.checkOpen(); err != nil {
		return nil, err
	}

	idx, ok := ks.findFreeSlot()
	if !ok {
		return nil, wrapSlotError(OpGenerate, nil, ErrKeyStoreFull)
	}

	working, err := GenerateKey()
	if err != nil {
		return nil, wrapSlotError(OpGenerate, nil, err)
	}
	defer working.Zero()

	pubKey := working.PubKey()
	address, err := ks.derivation.Derive(pubKey)
	if err != nil {
		return nil, wrapSlotError(OpGenerate, nil, err)
	}
	if len(address) > ks.cfg.AddressMaxLength {
		return nil, wrapSlotError(OpGenerate, address, fmt.Errorf("%w: %d bytes exceeds slot size %d",
			ErrInvalidAddressLength, len(address), ks.cfg.AddressMaxLength))
	}
	if _, exists := ks.findByAddress(address); exists {
		return nil, wrapSlotError(OpGenerate, address, ErrKeyAlreadyExists)
	}

	scalar := working.Serialize()
	ciphertext, err := ks.cipher.Encrypt(scalar)
	secureZero(scalar)
	if err != nil {
		return nil, wrapSlotError(OpGenerate, address, err)
	}

	if err := ks.store(idx, address, ciphertext); err != nil {
		return nil, wrapSlotError(OpGenerate, address, err)
	}

	ks.logger.Info("key pair generated",
		slog.Int("slot", int(idx)),
		slog.String("address", string(address)),
	)
	return &GeneratedKey{
		Slot:      idx,
		PublicKey: pubKey.SerializeUncompressed(),
		Address:   string(address),
	}, nil
}

// preImport runs the checks shared by both import paths and returns the
// target slot. Nothing is modified.
func (ks *KeyStore) preImport(op string, address, blob []byte) (SlotIndex, error) {
	if err := ks.checkOpen(); err != nil {
		return 0, err
	}
	if _, exists := ks.findByAddress(address); exists {
		return 0, wrapSlotError(op, address, ErrKeyAlreadyExists)
	}
	idx, ok := ks.findFreeSlot()
	if !ok {
		return 0, wrapSlotError(op, address, ErrKeyStoreFull)
	}
	if err := ks.validateAddress(address); err != nil {
		return 0, wrapSlotError(op, address, err)
	}
	if len(blob) != PrivateKeySize {
		return 0, wrapSlotError(op, address, fmt.Errorf("%w: got %d bytes", ErrInvalidKeyLength, len(blob)))
	}
	return idx, nil
}

// ImportPrivateKey encrypts a raw 32-byte scalar and stores it under address.
// The address is not checked against the key; that correspondence is the
// caller's responsibility.
func (ks *KeyStore) ImportPrivateKey(address, rawKey []byte) (err error) {
	ks.mu.Lock()
	defer ks.mu.Unlock()
	defer func() { ks.metrics.observe(OpImport, err) }()

	idx, err := ks.preImport(OpImport, address, rawKey)
	if err != nil {
		return err
	}
	if err := checkScalar(rawKey); err != nil {
		return wrapSlotError(OpImport, address, err)
	}

	scalar := make([]byte, PrivateKeySize)
	copy(scalar, rawKey)
	ciphertext, err := ks.cipher.Encrypt(scalar)
	secureZero(scalar)
	if err != nil {
		return wrapSlotError(OpImport, address, err)
	}

	if err := ks.store(idx, address, ciphertext); err != nil {
		return wrapSlotError(OpImport, address, err)
	}

	ks.logger.Info("private key imported",
		slog.Int("slot", int(idx)),
		slog.String("address", printableAddress(address)),
	)
	return nil
}

// ImportEncryptedPrivateKey stores ciphertext verbatim under address. It only
// round-trips when the blob came from GetEncryptedPrivateKey on this same
// instance.
func (ks *KeyStore) ImportEncryptedPrivateKey(address, ciphertext []byte) (err error) {
	ks.mu.Lock()
	defer ks.mu.Unlock()
	defer func() { ks.metrics.observe(OpImportEncrypted, err) }()

	idx, err := ks.preImport(OpImportEncrypted, address, ciphertext)
	if err != nil {
		return err
	}

	if err := ks.store(idx, address, ciphertext); err != nil {
		return wrapSlotError(OpImportEncrypted, address, err)
	}

	ks.logger.Info("encrypted private key imported",
		slog.Int("slot", int(idx)),
		slog.String("address", printableAddress(address)),
	)
	return nil
}

// GetEncryptedPrivateKey returns the stored ciphertext for address, for backup.
func (ks *KeyStore) GetEncryptedPrivateKey(address []byte) (ciphertext []byte, err error) {
	ks.mu.Lock()
	defer ks.mu.Unlock()
	defer func() { ks.metrics.observe(OpExportEncrypted, err) }()

	if err := ks.checkOpen(); err != nil {
		return nil, err
	}
	if err := ks.validateAddress(address); err != nil {
		return nil, wrapSlotError(OpExportEncrypted, address, err)
	}
	idx, ok := ks.findByAddress(address)
	if !ok {
		return nil, wrapSlotError(OpExportEncrypted, address, ErrKeyNotFound)
	}
	return ks.keys[idx].Key(), nil
}

// DeletePrivateKey wipes and frees the record for address. Deleting the
// selected key clears the selection.
func (ks *KeyStore) DeletePrivateKey(address []byte) (err error) {
	ks.mu.Lock()
	defer ks.mu.Unlock()
	defer func() { ks.metrics.observe(OpDelete, err) }()

	if err := ks.checkOpen(); err != nil {
		return err
	}
	if err := ks.validateAddress(address); err != nil {
		return wrapSlotError(OpDelete, address, err)
	}
	idx, ok := ks.findByAddress(address)
	if !ok {
		return wrapSlotError(OpDelete, address, ErrKeyNotFound)
	}

	ks.addresses[idx].Delete()
	ks.keys[idx].Clear()
	if ks.hasSelected && ks.selected == idx {
		ks.hasSelected = false
	}
	ks.metrics.setSlots(ks.countLocked(), len(ks.keys))

	ks.logger.Info("private key deleted",
		slog.Int("slot", int(idx)),
		slog.String("address", printableAddress(address)),
	)
	return nil
}

// countLocked scans the in-use flags; no counter is cached across mutations.
func (ks *KeyStore) countLocked() int {
	n := 0
	for i := range ks.keys {
		if ks.keys[i].InUse() {
			n++
		}
	}
	return n
}

// NumberOfKeys returns the number of occupied slots.
func (ks *KeyStore) NumberOfKeys() int {
	ks.mu.Lock()
	defer ks.mu.Unlock()
	return ks.countLocked()
}

// NumberOfKeysRemaining returns the number of free slots.
func (ks *KeyStore) NumberOfKeysRemaining() int {
	ks.mu.Lock()
	defer ks.mu.Unlock()
	return len(ks.keys) - ks.countLocked()
}

// IsFull reports whether every slot is occupied.
func (ks *KeyStore) IsFull() bool {
	ks.mu.Lock()
	defer ks.mu.Unlock()
	return ks.countLocked() == len(ks.keys)
}

// Status returns capacity and usage in one consistent snapshot.
func (ks *KeyStore) Status() Status {
	ks.mu.Lock()
	defer ks.mu.Unlock()

	n := ks.countLocked()
	return Status{
		Capacity:  len(ks.keys),
		Keys:      n,
		Remaining: len(ks.keys) - n,
		Full:      n == len(ks.keys),
	}
}

// Addresses lists stored addresses in slot order.
func (ks *KeyStore) Addresses() []string {
	ks.mu.Lock()
	defer ks.mu.Unlock()

	out := make([]string, 0, len(ks.addresses))
	for i := range ks.addresses {
		if ks.addresses[i].InUse() {
			out = append(out, string(ks.addresses[i].Address()))
		}
	}
	return out
}

// Address derives the address of a serialized public key on the store's network.
func (ks *KeyStore) Address(publicKey []byte) (string, error) {
	addr, err := ks.derivation.DeriveFromBytes(publicKey)
	if err != nil {
		return "", err
	}
	return string(addr), nil
}

// Close wipes the at-rest key and every slot. Later calls fail with ErrStoreClosed.
func (ks *KeyStore) Close() error {
	ks.mu.Lock()
	defer ks.mu.Unlock()

	if ks.closed {
		return nil
	}
	for i := range ks.keys {
		ks.addresses[i].Delete()
		ks.keys[i].Clear()
	}
	ks.cipher.Destroy()
	ks.hasSelected = false
	ks.closed = true
	ks.metrics.setSlots(0, len(ks.keys))

	ks.logger.Info("key store closed")
	return nil
}
