package wallet

import (
	"context"

	"github.com/openbao/openbao/sdk/v2/framework"
	"github.com/openbao/openbao/sdk/v2/logical"
)

func pathSelect(b *backend) []*framework.Path {
	return []*framework.Path{
		{
			Pattern: "select/" + framework.GenericNameRegex("address"),
			Fields: map[string]*framework.FieldSchema{
				"address": {
					Type:        framework.TypeString,
					Description: "Address of the key to sign with",
					Required:    true,
				},
			},
			Operations: map[logical.Operation]framework.OperationHandler{
				logical.UpdateOperation: &framework.PathOperation{
					Callback:    b.pathSelectWrite,
					Summary:     "Select the signing key",
					Description: "Selects the key used by later sign requests. A failed lookup clears the selection.",
				},
			},
			HelpSynopsis: "Select the key used for signing",
		},
	}
}

func (b *backend) pathSelectWrite(ctx context.Context, req *logical.Request, data *framework.FieldData) (*logical.Response, error) {
	address := data.Get("address").(string)
	if address == "" {
		return logical.ErrorResponse("missing address"), nil
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if err := b.store.SelectKeyForSignature([]byte(address)); err != nil {
		return errorResponse(err)
	}

	return &logical.Response{
		Data: map[string]interface{}{
			"selected": address,
		},
	}, nil
}
