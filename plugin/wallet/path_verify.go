package wallet

import (
	"context"
	"encoding/base64"
	"encoding/hex"
	"errors"

	"github.com/openbao/openbao/sdk/v2/framework"
	"github.com/openbao/openbao/sdk/v2/logical"

	"github.com/Bidon15/btcvault"
)

// pathVerify returns the path definitions for signature verification.
func pathVerify(b *backend) []*framework.Path {
	return []*framework.Path{
		{
			Pattern: "verify$",
			Fields: map[string]*framework.FieldSchema{
				"public_key": {
					Type:        framework.TypeString,
					Description: "Hex-encoded compressed or uncompressed public key",
					Required:    true,
				},
				"input": {
					Type:        framework.TypeString,
					Description: "Base64-encoded data that was signed",
					Required:    true,
				},
				"signature": {
					Type:        framework.TypeString,
					Description: "Base64-encoded DER or 64-byte R||S signature",
					Required:    true,
				},
			},
			Operations: map[logical.Operation]framework.OperationHandler{
				logical.UpdateOperation: &framework.PathOperation{
					Callback:    b.pathVerifyWrite,
					Summary:     "Verify a signature",
					Description: "Verifies a signature against a public key using the mount's signing contract.",
				},
			},
			HelpSynopsis:    pathVerifyHelpSyn,
			HelpDescription: pathVerifyHelpDesc,
		},
	}
}

// pathVerifyWrite handles the verify operation.
func (b *backend) pathVerifyWrite(ctx context.Context, req *logical.Request, data *framework.FieldData) (*logical.Response, error) {
	pubHex := data.Get("public_key").(string)
	if pubHex == "" {
		return logical.ErrorResponse("missing public_key"), nil
	}

	inputB64 := data.Get("input").(string)
	if inputB64 == "" {
		return logical.ErrorResponse("missing input"), nil
	}

	sigB64 := data.Get("signature").(string)
	if sigB64 == "" {
		return logical.ErrorResponse("missing signature"), nil
	}

	pub, err := hex.DecodeString(pubHex)
	if err != nil {
		return logical.ErrorResponse("invalid public_key: not valid hex"), nil
	}

	input, err := base64.StdEncoding.DecodeString(inputB64)
	if err != nil {
		return logical.ErrorResponse("invalid input: not valid base64"), nil
	}

	sig, err := base64.StdEncoding.DecodeString(sigB64)
	if err != nil {
		return logical.ErrorResponse("invalid signature: not valid base64"), nil
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	valid, err := b.store.VerifySignature(pub, input, sig)
	if err != nil && !errors.Is(err, btcvault.ErrInvalidSignature) {
		return errorResponse(err)
	}

	address, err := b.store.Address(pub)
	if err != nil {
		return errorResponse(err)
	}

	return &logical.Response{
		Data: map[string]interface{}{
			"valid":   valid,
			"address": address,
		},
	}, nil
}

const pathVerifyHelpSyn = `Verify a signature against a public key`

const pathVerifyHelpDesc = `
This endpoint verifies a signature using the same input rule as sign: a
32-byte digest by default, or a message hashed with SHA-256 when the mount
is configured with prehash=true. A malformed signature verifies as false.

Parameters:
  public_key - Hex-encoded public key (33 or 65 bytes)
  input      - Base64-encoded digest or message
  signature  - Base64-encoded signature, DER or 64-byte R||S

Response:
  valid   - true if the signature is valid, false otherwise
  address - Address derived from public_key on the mount's network
`
