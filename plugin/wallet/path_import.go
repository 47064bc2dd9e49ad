package wallet

import (
	"context"
	"encoding/hex"

	"github.com/openbao/openbao/sdk/v2/framework"
	"github.com/openbao/openbao/sdk/v2/logical"
)

// pathImport returns the path definitions for key import.
func pathImport(b *backend) []*framework.Path {
	return []*framework.Path{
		{
			Pattern: "import/" + framework.GenericNameRegex("address"),
			Fields: map[string]*framework.FieldSchema{
				"address": {
					Type:        framework.TypeString,
					Description: "Address to store the key under",
					Required:    true,
				},
				"private_key": {
					Type:        framework.TypeString,
					Description: "Hex-encoded raw 32-byte private key",
				},
				"ciphertext": {
					Type:        framework.TypeString,
					Description: "Hex-encoded 32-byte ciphertext previously exported from this mount",
				},
			},
			Operations: map[logical.Operation]framework.OperationHandler{
				logical.UpdateOperation: &framework.PathOperation{
					Callback:    b.pathImportWrite,
					Summary:     "Import a private key",
					Description: "Stores a raw or encrypted private key under an address.",
				},
			},
			HelpSynopsis:    pathImportHelpSyn,
			HelpDescription: pathImportHelpDesc,
		},
	}
}

// pathImportWrite handles both raw and encrypted imports.
func (b *backend) pathImportWrite(ctx context.Context, req *logical.Request, data *framework.FieldData) (*logical.Response, error) {
	address := data.Get("address").(string)
	if address == "" {
		return logical.ErrorResponse("missing address"), nil
	}

	rawHex := data.Get("private_key").(string)
	ctHex := data.Get("ciphertext").(string)
	switch {
	case rawHex == "" && ctHex == "":
		return logical.ErrorResponse("one of private_key or ciphertext is required"), nil
	case rawHex != "" && ctHex != "":
		return logical.ErrorResponse("private_key and ciphertext are mutually exclusive"), nil
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	encrypted := ctHex != ""
	if encrypted {
		ct, err := hex.DecodeString(ctHex)
		if err != nil {
			return logical.ErrorResponse("invalid ciphertext: not valid hex"), nil
		}
		if err := b.store.ImportEncryptedPrivateKey([]byte(address), ct); err != nil {
			return errorResponse(err)
		}
	} else {
		raw, err := hex.DecodeString(rawHex)
		if err != nil {
			return logical.ErrorResponse("invalid private_key: not valid hex"), nil
		}
		err = b.store.ImportPrivateKey([]byte(address), raw)
		for i := range raw {
			raw[i] = 0
		}
		if err != nil {
			return errorResponse(err)
		}
	}

	b.Logger().Info("key imported", "address", address, "encrypted", encrypted)

	return &logical.Response{
		Data: map[string]interface{}{
			"address":   address,
			"encrypted": encrypted,
		},
	}, nil
}

const pathImportHelpSyn = `Import a private key`

const pathImportHelpDesc = `
Stores a private key under the given address. Provide exactly one of:

  private_key - Hex-encoded raw 32-byte secp256k1 scalar. It is encrypted
                before being stored.
  ciphertext  - Hex-encoded 32-byte blob from export/:address on this same
                mount. Blobs from another mount import but cannot sign.

The address is not checked against the key. It must be 26 to 35
characters long and not already stored.

Example:
  $ bao write wallet/import/1BoatSLRHtKNngkdXEeobR76b53LETtpyT private_key=<hex>
`
