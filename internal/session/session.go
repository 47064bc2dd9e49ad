// Package session runs key store commands from a JSON-lines stream through
// a single worker, so commands execute one at a time in arrival order.
package session

import (
	"bufio"
	"context"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"

	"github.com/google/uuid"

	"github.com/Bidon15/btcvault"
)

// maxLineSize bounds a single request line.
const maxLineSize = 64 * 1024

// ErrStopped is returned by Submit once the worker has exited.
var ErrStopped = errors.New("session: worker stopped")

// KeyStore is the set of key store operations a session dispatches to.
type KeyStore interface {
	GenerateKeyPair() (*btcvault.GeneratedKey, error)
	SelectKeyForSignature(address []byte) error
	Selected() (string, bool)
	SignMessage(input []byte) ([]byte, error)
	VerifySignature(publicKey, input, sig []byte) (bool, error)
	ImportPrivateKey(address, rawKey []byte) error
	ImportEncryptedPrivateKey(address, ciphertext []byte) error
	GetEncryptedPrivateKey(address []byte) ([]byte, error)
	DeletePrivateKey(address []byte) error
	NumberOfKeys() int
	NumberOfKeysRemaining() int
	IsFull() bool
	Addresses() []string
}

type job struct {
	req   Request
	reply chan Response
}

// Session owns the worker queue in front of a KeyStore.
type Session struct {
	store  KeyStore
	logger *slog.Logger
	jobs   chan job
	done   chan struct{}
}

// New creates a session. Call Run to start the worker.
func New(store KeyStore, logger *slog.Logger) *Session {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Session{
		store:  store,
		logger: logger,
		jobs:   make(chan job),
		done:   make(chan struct{}),
	}
}

// Run executes submitted requests until ctx is cancelled.
func (s *Session) Run(ctx context.Context) error {
	defer close(s.done)
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case j := <-s.jobs:
			j.reply <- s.execute(j.req)
		}
	}
}

// Submit queues req and waits for its response.
func (s *Session) Submit(ctx context.Context, req Request) (Response, error) {
	if req.ID == "" {
		req.ID = uuid.NewString()
	}
	j := job{req: req, reply: make(chan Response, 1)}

	select {
	case s.jobs <- j:
	case <-s.done:
		return Response{}, ErrStopped
	case <-ctx.Done():
		return Response{}, ctx.Err()
	}

	select {
	case resp := <-j.reply:
		return resp, nil
	case <-ctx.Done():
		return Response{}, ctx.Err()
	}
}

// Serve reads one JSON request per line from r and writes one JSON
// response per line to w, in the same order. It returns when r is
// exhausted, ctx is cancelled or the worker stops.
func (s *Session) Serve(ctx context.Context, r io.Reader, w io.Writer) error {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 4096), maxLineSize)
	enc := json.NewEncoder(w)

	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}

		var req Request
		if err := json.Unmarshal(line, &req); err != nil {
			resp := Response{
				ID:     uuid.NewString(),
				Status: CodeBadRequest,
				Error:  fmt.Sprintf("malformed request: %v", err),
			}
			if err := enc.Encode(resp); err != nil {
				return fmt.Errorf("writing response: %w", err)
			}
			continue
		}

		resp, err := s.Submit(ctx, req)
		if errors.Is(err, ErrStopped) {
			resp = Response{ID: req.ID, Op: req.Op, Status: CodeShuttingDown, Error: err.Error()}
			_ = enc.Encode(resp)
			return err
		}
		if err != nil {
			return err
		}
		if err := enc.Encode(resp); err != nil {
			return fmt.Errorf("writing response: %w", err)
		}
	}
	return scanner.Err()
}

// execute runs one request against the store. It is only called by the worker.
func (s *Session) execute(req Request) Response {
	resp := Response{ID: req.ID, Op: req.Op, Status: btcvault.CodeOK}

	err := s.dispatch(req, &resp)
	if err != nil {
		resp.Status, resp.Error = statusOf(err), err.Error()
	}

	level := slog.LevelDebug
	if resp.Status == btcvault.CodeInternal {
		level = slog.LevelWarn
	}
	s.logger.Log(context.Background(), level, "request handled",
		slog.String("id", req.ID),
		slog.String("op", req.Op),
		slog.String("status", resp.Status),
	)
	return resp
}

func (s *Session) dispatch(req Request, resp *Response) error {
	address := []byte(req.Address)

	switch req.Op {
	case OpGenerate:
		gk, err := s.store.GenerateKeyPair()
		if err != nil {
			return err
		}
		slot := int(gk.Slot)
		resp.Address = gk.Address
		resp.PublicKey = hex.EncodeToString(gk.PublicKey)
		resp.Slot = &slot

	case OpSelect:
		if err := s.store.SelectKeyForSignature(address); err != nil {
			return err
		}
		resp.Address = req.Address

	case OpSign:
		digest, err := decodeHex("digest", req.Digest)
		if err != nil {
			return err
		}
		sig, err := s.store.SignMessage(digest)
		if err != nil {
			return err
		}
		resp.Signature = hex.EncodeToString(sig)
		resp.Address, _ = s.store.Selected()

	case OpVerify:
		pub, err := decodeHex("public_key", req.PublicKey)
		if err != nil {
			return err
		}
		digest, err := decodeHex("digest", req.Digest)
		if err != nil {
			return err
		}
		sig, err := decodeHex("signature", req.Signature)
		if err != nil {
			return err
		}
		valid, err := s.store.VerifySignature(pub, digest, sig)
		if err != nil && !errors.Is(err, btcvault.ErrInvalidSignature) {
			return err
		}
		resp.Valid = &valid

	case OpImport:
		key, err := decodeHex("key", req.Key)
		if err != nil {
			return err
		}
		err = s.store.ImportPrivateKey(address, key)
		for i := range key {
			key[i] = 0
		}
		if err != nil {
			return err
		}
		resp.Address = req.Address

	case OpImportEncrypted:
		ct, err := decodeHex("ciphertext", req.Ciphertext)
		if err != nil {
			return err
		}
		if err := s.store.ImportEncryptedPrivateKey(address, ct); err != nil {
			return err
		}
		resp.Address = req.Address

	case OpExportEncrypted:
		ct, err := s.store.GetEncryptedPrivateKey(address)
		if err != nil {
			return err
		}
		resp.Address = req.Address
		resp.Ciphertext = hex.EncodeToString(ct)

	case OpDelete:
		if err := s.store.DeletePrivateKey(address); err != nil {
			return err
		}
		resp.Address = req.Address

	case OpCount:
		n := s.store.NumberOfKeys()
		resp.Count = &n

	case OpRemaining:
		n := s.store.NumberOfKeysRemaining()
		resp.Count = &n

	case OpIsFull:
		full := s.store.IsFull()
		resp.Full = &full

	case OpList:
		resp.Addresses = s.store.Addresses()

	default:
		return &requestError{code: CodeUnknownOp, msg: fmt.Sprintf("unknown op %q", req.Op)}
	}
	return nil
}

// requestError is a failure detected before the store is called.
type requestError struct {
	code string
	msg  string
}

func (e *requestError) Error() string { return e.msg }

func decodeHex(field, s string) ([]byte, error) {
	b, err := hex.DecodeString(s)
	if err != nil {
		return nil, &requestError{code: CodeBadRequest, msg: fmt.Sprintf("%s: invalid hex: %v", field, err)}
	}
	return b, nil
}

func statusOf(err error) string {
	var re *requestError
	if errors.As(err, &re) {
		return re.code
	}
	return btcvault.ErrorCode(err)
}
