package wallet

import (
	"context"
	"encoding/hex"

	"github.com/openbao/openbao/sdk/v2/framework"
	"github.com/openbao/openbao/sdk/v2/logical"
)

// pathKeys returns the path definitions for key lifecycle operations.
func pathKeys(b *backend) []*framework.Path {
	return []*framework.Path{
		{
			Pattern: "keys/?$",
			Operations: map[logical.Operation]framework.OperationHandler{
				logical.ListOperation: &framework.PathOperation{
					Callback: b.pathKeysList,
					Summary:  "List stored addresses",
				},
				logical.UpdateOperation: &framework.PathOperation{
					Callback:    b.pathKeysGenerate,
					Summary:     "Generate a key pair",
					Description: "Generates a secp256k1 key pair in the first free slot.",
				},
			},
			HelpSynopsis:    pathKeysHelpSyn,
			HelpDescription: pathKeysHelpDesc,
		},
		{
			Pattern: "keys/status$",
			Operations: map[logical.Operation]framework.OperationHandler{
				logical.ReadOperation: &framework.PathOperation{
					Callback: b.pathKeysStatus,
					Summary:  "Report slot usage",
				},
			},
			HelpSynopsis: "Report capacity and slot usage",
		},
		{
			Pattern: "keys/" + framework.GenericNameRegex("address"),
			Fields: map[string]*framework.FieldSchema{
				"address": {
					Type:        framework.TypeString,
					Description: "Address of the key",
					Required:    true,
				},
			},
			Operations: map[logical.Operation]framework.OperationHandler{
				logical.DeleteOperation: &framework.PathOperation{
					Callback:    b.pathKeysDelete,
					Summary:     "Delete a key",
					Description: "Wipes the address and encrypted key and frees the slot.",
				},
			},
			HelpSynopsis: "Delete a key by address",
		},
	}
}

// pathKeysList lists stored addresses in slot order.
func (b *backend) pathKeysList(ctx context.Context, req *logical.Request, data *framework.FieldData) (*logical.Response, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	return logical.ListResponse(b.store.Addresses()), nil
}

// pathKeysGenerate creates a new key pair.
func (b *backend) pathKeysGenerate(ctx context.Context, req *logical.Request, data *framework.FieldData) (*logical.Response, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	gk, err := b.store.GenerateKeyPair()
	if err != nil {
		return errorResponse(err)
	}

	b.Logger().Info("key pair generated", "slot", gk.Slot, "address", gk.Address)

	return &logical.Response{
		Data: map[string]interface{}{
			"address":    gk.Address,
			"public_key": hex.EncodeToString(gk.PublicKey),
			"slot":       int(gk.Slot),
		},
	}, nil
}

// pathKeysStatus reports capacity and usage.
func (b *backend) pathKeysStatus(ctx context.Context, req *logical.Request, data *framework.FieldData) (*logical.Response, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	st := b.store.Status()
	resp := &logical.Response{
		Data: map[string]interface{}{
			"capacity":  st.Capacity,
			"keys":      st.Keys,
			"remaining": st.Remaining,
			"full":      st.Full,
		},
	}
	if addr, ok := b.store.Selected(); ok {
		resp.Data["selected"] = addr
	}
	return resp, nil
}

// pathKeysDelete removes a key.
func (b *backend) pathKeysDelete(ctx context.Context, req *logical.Request, data *framework.FieldData) (*logical.Response, error) {
	address := data.Get("address").(string)
	if address == "" {
		return logical.ErrorResponse("missing address"), nil
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if err := b.store.DeletePrivateKey([]byte(address)); err != nil {
		return errorResponse(err)
	}

	b.Logger().Info("key deleted", "address", address)
	return nil, nil
}

const pathKeysHelpSyn = `Manage Bitcoin keys`

const pathKeysHelpDesc = `
LIST returns every stored address in slot order.

A write generates a new secp256k1 key pair in the first free slot and
stores it under its P2PKH address. The private key is encrypted before it
is stored and is never returned.

Example:
  $ bao write -f wallet/keys

Response:
  address    - Base58Check address of the new key
  public_key - Hex-encoded uncompressed public key (65 bytes)
  slot       - Slot index the key was stored in
`
