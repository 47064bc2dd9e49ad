package wallet

import (
	"context"
	"encoding/hex"

	"github.com/openbao/openbao/sdk/v2/framework"
	"github.com/openbao/openbao/sdk/v2/logical"
)

func pathExport(b *backend) []*framework.Path {
	return []*framework.Path{
		{
			Pattern: "export/" + framework.GenericNameRegex("address"),
			Fields: map[string]*framework.FieldSchema{
				"address": {
					Type:        framework.TypeString,
					Description: "Address of the key to export",
					Required:    true,
				},
			},
			Operations: map[logical.Operation]framework.OperationHandler{
				logical.ReadOperation: &framework.PathOperation{
					Callback:    b.pathExportRead,
					Summary:     "Export an encrypted private key",
					Description: "Returns the stored ciphertext. The raw key is never exported.",
				},
			},
			HelpSynopsis: "Export the encrypted private key for backup",
		},
	}
}

func (b *backend) pathExportRead(ctx context.Context, req *logical.Request, data *framework.FieldData) (*logical.Response, error) {
	address := data.Get("address").(string)
	if address == "" {
		return logical.ErrorResponse("missing address"), nil
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	ct, err := b.store.GetEncryptedPrivateKey([]byte(address))
	if err != nil {
		return errorResponse(err)
	}

	return &logical.Response{
		Data: map[string]interface{}{
			"address":    address,
			"ciphertext": hex.EncodeToString(ct),
		},
	}, nil
}
