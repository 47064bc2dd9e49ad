package wallet

import (
	"context"
	"encoding/base64"

	"github.com/openbao/openbao/sdk/v2/framework"
	"github.com/openbao/openbao/sdk/v2/logical"
)

// pathSign returns the path definitions for signing operations.
func pathSign(b *backend) []*framework.Path {
	return []*framework.Path{
		{
			Pattern: "sign$",
			Fields: map[string]*framework.FieldSchema{
				"input": {
					Type:        framework.TypeString,
					Description: "Base64-encoded 32-byte digest, or message when the mount hashes input",
					Required:    true,
				},
				"address": {
					Type:        framework.TypeString,
					Description: "Optional address to select before signing",
				},
			},
			Operations: map[logical.Operation]framework.OperationHandler{
				logical.UpdateOperation: &framework.PathOperation{
					Callback:    b.pathSignWrite,
					Summary:     "Sign with the selected key",
					Description: "Signs the input with the selected key, optionally selecting one first.",
				},
			},
			HelpSynopsis:    pathSignHelpSyn,
			HelpDescription: pathSignHelpDesc,
		},
	}
}

// pathSignWrite handles the sign operation.
func (b *backend) pathSignWrite(ctx context.Context, req *logical.Request, data *framework.FieldData) (*logical.Response, error) {
	inputB64 := data.Get("input").(string)
	if inputB64 == "" {
		return logical.ErrorResponse("missing input"), nil
	}

	input, err := base64.StdEncoding.DecodeString(inputB64)
	if err != nil {
		return logical.ErrorResponse("invalid input: not valid base64"), nil
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if address := data.Get("address").(string); address != "" {
		if err := b.store.SelectKeyForSignature([]byte(address)); err != nil {
			return errorResponse(err)
		}
	}

	sig, err := b.store.SignMessage(input)
	if err != nil {
		return errorResponse(err)
	}

	selected, _ := b.store.Selected()
	return &logical.Response{
		Data: map[string]interface{}{
			"signature": base64.StdEncoding.EncodeToString(sig),
			"address":   selected,
		},
	}, nil
}

const pathSignHelpSyn = `Sign a digest with the selected key`

const pathSignHelpDesc = `
This endpoint signs input with the key chosen through select/:address, or
with the key named by the optional address parameter.

By default input must be a 32-byte digest and is signed as is. When the
mount is configured with prehash=true, input of any length is hashed once
with SHA-256 before signing.

Parameters:
  input   - Base64-encoded digest or message
  address - Address to select first (optional)

Example:
  $ bao write wallet/sign address=1BoatSLRHtKNngkdXEeobR76b53LETtpyT input="<base64-digest>"

Response:
  signature - Base64-encoded signature (DER, or 64-byte R||S when signature_format=compact)
  address   - Address of the key that signed
`
