package wallet

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"sync"

	"github.com/openbao/openbao/sdk/v2/framework"
	"github.com/openbao/openbao/sdk/v2/logical"

	"github.com/Bidon15/btcvault"
)

// Backend config keys read from the mount configuration.
const (
	confCapacity         = "capacity"
	confAddressMaxLength = "address_max_length"
	confNetwork          = "network"
	confPrehash          = "prehash"
	confSignatureFormat  = "signature_format"
)

// Factory creates a new Bitcoin wallet secrets engine backend.
// This is the entry point called by OpenBao when the plugin is loaded.
func Factory(ctx context.Context, conf *logical.BackendConfig) (logical.Backend, error) {
	cfg, err := storeConfig(conf.Config)
	if err != nil {
		return nil, err
	}

	store, err := btcvault.New(cfg)
	if err != nil {
		return nil, fmt.Errorf("creating key store: %w", err)
	}

	b := &backend{store: store}

	b.Backend = &framework.Backend{
		Help:        strings.TrimSpace(backendHelp),
		BackendType: logical.TypeLogical,
		Paths: framework.PathAppend(
			pathKeys(b),
			pathSelect(b),
			pathSign(b),
			pathVerify(b),
			pathImport(b),
			pathExport(b),
		),
		Clean: b.cleanup,
	}

	if err := b.Setup(ctx, conf); err != nil {
		_ = store.Close()
		return nil, err
	}

	b.Logger().Info("wallet backend ready",
		"capacity", store.Capacity(),
		"network", cfg.Network,
	)
	return b, nil
}

// backend serves one in-memory KeyStore. The at-rest AES key lives only in
// this process, so nothing is written to plugin storage.
type backend struct {
	*framework.Backend

	// mu serializes request handling so multi-step requests such as
	// select-then-sign observe a consistent selection.
	mu    sync.Mutex
	store *btcvault.KeyStore
}

// cleanup is called when the backend is being shut down.
// It wipes every slot and the at-rest key.
func (b *backend) cleanup(ctx context.Context) {
	b.mu.Lock()
	defer b.mu.Unlock()
	_ = b.store.Close()
}

// storeConfig builds a key store config from the mount config map.
// Missing keys keep the library defaults.
func storeConfig(conf map[string]string) (btcvault.Config, error) {
	var cfg btcvault.Config

	if v, ok := conf[confCapacity]; ok && v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return cfg, fmt.Errorf("invalid %s %q: %w", confCapacity, v, err)
		}
		cfg.Capacity = n
	}
	if v, ok := conf[confAddressMaxLength]; ok && v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return cfg, fmt.Errorf("invalid %s %q: %w", confAddressMaxLength, v, err)
		}
		cfg.AddressMaxLength = n
	}
	if v, ok := conf[confPrehash]; ok && v != "" {
		p, err := strconv.ParseBool(v)
		if err != nil {
			return cfg, fmt.Errorf("invalid %s %q: %w", confPrehash, v, err)
		}
		cfg.Prehash = p
	}
	cfg.Network = conf[confNetwork]
	cfg.SignatureFormat = btcvault.SignatureFormat(conf[confSignatureFormat])

	return cfg, nil
}

// errorResponse turns a key store error into a client error carrying its
// wire code. Unclassified errors are returned as internal errors.
func errorResponse(err error) (*logical.Response, error) {
	code := btcvault.ErrorCode(err)
	if code == btcvault.CodeInternal {
		return nil, err
	}
	resp := logical.ErrorResponse(err.Error())
	resp.Data["code"] = code
	return resp, nil
}

const backendHelp = `
The wallet secrets engine is a fixed-capacity Bitcoin key store.

Each slot pairs a Base58Check P2PKH address with a private key encrypted
under an AES-128 key that is generated when the backend starts and never
leaves it. Keys are used by address: select one, then sign 32-byte
digests with secp256k1 ECDSA.

Paths:
  keys/              - List stored addresses, or generate a new key pair
  keys/status        - Capacity, used and remaining slots
  keys/:address      - Delete a key
  select/:address    - Select the key used for signing
  sign               - Sign with the selected key
  verify             - Verify a signature against a public key
  import/:address    - Import a raw or encrypted private key
  export/:address    - Export the encrypted private key for backup
`
