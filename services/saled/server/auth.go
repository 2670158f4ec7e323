package server

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"cratsale/crypto"
	"cratsale/observability/logging"
	"cratsale/services/saled/storage"
)

// MaxBodyForSignature bounds the request body hashed into a signature.
const MaxBodyForSignature = 64 << 10

const maxNonceLength = 128

// NonceStore records consumed request nonces.
type NonceStore interface {
	UseNonce(ctx context.Context, address, nonce string, seen time.Time) error
}

type callerContextKey struct{}

// CallerFromContext returns the address that signed the request.
func CallerFromContext(ctx context.Context) (common.Address, bool) {
	if ctx == nil {
		return common.Address{}, false
	}
	caller, ok := ctx.Value(callerContextKey{}).(common.Address)
	return caller, ok
}

var (
	errBodyTooLarge       = errors.New("request body exceeds signature limit")
	errMissingCredentials = errors.New("missing signature headers")
	errStaleTimestamp     = errors.New("timestamp outside allowed skew")
	errSignerMismatch     = errors.New("signature does not match address")
)

// SignatureAuthenticator identifies callers by a secp256k1 signature over the
// canonical request and rejects replayed nonces.
type SignatureAuthenticator struct {
	nonces  NonceStore
	skew    time.Duration
	nowFunc func() time.Time
	logger  *slog.Logger
}

// NewSignatureAuthenticator builds an authenticator. A non-positive skew
// defaults to five minutes.
func NewSignatureAuthenticator(nonces NonceStore, skew time.Duration, nowFunc func() time.Time) (*SignatureAuthenticator, error) {
	if nonces == nil {
		return nil, fmt.Errorf("nonce store required")
	}
	if skew <= 0 {
		skew = 5 * time.Minute
	}
	if nowFunc == nil {
		nowFunc = time.Now
	}
	return &SignatureAuthenticator{nonces: nonces, skew: skew, nowFunc: nowFunc, logger: slog.Default()}, nil
}

// SetLogger overrides the structured logger. Nil restores slog.Default.
func (a *SignatureAuthenticator) SetLogger(logger *slog.Logger) {
	if logger == nil {
		logger = slog.Default()
	}
	a.logger = logger
}

// Middleware authenticates the request and stores the caller in its context.
func (a *SignatureAuthenticator) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if a == nil {
			http.Error(w, "authentication unavailable", http.StatusInternalServerError)
			return
		}
		body, err := readRequestBody(r)
		if err != nil {
			status := http.StatusBadRequest
			if errors.Is(err, errBodyTooLarge) {
				status = http.StatusRequestEntityTooLarge
			}
			http.Error(w, err.Error(), status)
			return
		}
		caller, err := a.Authenticate(r, body)
		if err != nil {
			status := http.StatusUnauthorized
			if errors.Is(err, storage.ErrNonceReplayed) {
				status = http.StatusConflict
			}
			http.Error(w, err.Error(), status)
			return
		}
		ctx := context.WithValue(r.Context(), callerContextKey{}, caller)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// Authenticate verifies the signature headers against body and consumes the
// nonce.
func (a *SignatureAuthenticator) Authenticate(r *http.Request, body []byte) (common.Address, error) {
	claimed := strings.TrimSpace(r.Header.Get(crypto.HeaderAddress))
	nonce := strings.TrimSpace(r.Header.Get(crypto.HeaderNonce))
	rawTS := strings.TrimSpace(r.Header.Get(crypto.HeaderTimestamp))
	signature := strings.TrimSpace(r.Header.Get(crypto.HeaderSignature))
	if claimed == "" || nonce == "" || rawTS == "" || signature == "" {
		return common.Address{}, errMissingCredentials
	}
	if len(nonce) > maxNonceLength {
		return common.Address{}, fmt.Errorf("nonce exceeds %d characters", maxNonceLength)
	}
	address, err := crypto.ParseAddress(claimed)
	if err != nil {
		return common.Address{}, err
	}
	ts, err := strconv.ParseInt(rawTS, 10, 64)
	if err != nil {
		return common.Address{}, fmt.Errorf("invalid timestamp: %w", err)
	}
	now := a.nowFunc()
	if delta := now.Sub(time.Unix(ts, 0)); delta > a.skew || delta < -a.skew {
		return common.Address{}, errStaleTimestamp
	}
	req := crypto.SignedRequest{
		Method:    r.Method,
		Path:      r.URL.Path,
		Nonce:     nonce,
		Timestamp: ts,
		Body:      body,
	}
	signer, err := req.Signer(signature)
	if err != nil {
		return common.Address{}, err
	}
	if signer != address {
		return common.Address{}, errSignerMismatch
	}
	if err := a.nonces.UseNonce(r.Context(), signer.Hex(), nonce, now); err != nil {
		if !errors.Is(err, storage.ErrNonceReplayed) {
			a.logger.Error("saled: record nonce",
				slog.String("caller", signer.Hex()),
				logging.MaskField("signature", signature),
				slog.Any("error", err))
		}
		return common.Address{}, err
	}
	return signer, nil
}

func readRequestBody(r *http.Request) ([]byte, error) {
	if r == nil || r.Body == nil {
		return nil, nil
	}
	original := r.Body
	data, err := io.ReadAll(io.LimitReader(original, MaxBodyForSignature+1))
	original.Close()
	if err != nil {
		return nil, fmt.Errorf("read request body: %w", err)
	}
	if len(data) > MaxBodyForSignature {
		return nil, errBodyTooLarge
	}
	r.Body = io.NopCloser(bytes.NewReader(data))
	return data, nil
}
