package session

// Operation names accepted in Request.Op.
const (
	OpGenerate        = "generate"
	OpSelect          = "select"
	OpSign            = "sign"
	OpImport          = "import"
	OpImportEncrypted = "import_encrypted"
	OpExportEncrypted = "export_encrypted"
	OpDelete          = "delete"
	OpCount           = "count"
	OpRemaining       = "remaining"
	OpIsFull          = "is_full"
	OpList            = "list"
	OpVerify          = "verify"
)

// Codes for failures that happen before the key store is reached.
const (
	CodeBadRequest   = "BAD_REQUEST"
	CodeUnknownOp    = "UNKNOWN_OP"
	CodeShuttingDown = "SHUTTING_DOWN"
)

// Request is one command line. Binary fields are hex encoded.
type Request struct {
	ID         string `json:"id,omitempty"`
	Op         string `json:"op"`
	Address    string `json:"address,omitempty"`
	Key        string `json:"key,omitempty"`
	Ciphertext string `json:"ciphertext,omitempty"`
	Digest     string `json:"digest,omitempty"`
	PublicKey  string `json:"public_key,omitempty"`
	Signature  string `json:"signature,omitempty"`
}

// Response answers one Request. Status is "OK" or an error code.
type Response struct {
	ID     string `json:"id"`
	Op     string `json:"op"`
	Status string `json:"status"`
	Error  string `json:"error,omitempty"`

	Address    string   `json:"address,omitempty"`
	PublicKey  string   `json:"public_key,omitempty"`
	Slot       *int     `json:"slot,omitempty"`
	Signature  string   `json:"signature,omitempty"`
	Ciphertext string   `json:"ciphertext,omitempty"`
	Count      *int     `json:"count,omitempty"`
	Full       *bool    `json:"full,omitempty"`
	Valid      *bool    `json:"valid,omitempty"`
	Addresses  []string `json:"addresses,omitempty"`
}
