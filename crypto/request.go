package crypto

import (
	"strconv"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	ethcrypto "github.com/ethereum/go-ethereum/crypto"
)

// Headers carried by every signed API request.
const (
	HeaderAddress   = "X-Sale-Address"
	HeaderNonce     = "X-Sale-Nonce"
	HeaderTimestamp = "X-Sale-Timestamp"
	HeaderSignature = "X-Sale-Signature"
)

const requestDomain = "cratsale-request-v1"

// SignedRequest is the canonical description of one API call.
type SignedRequest struct {
	Method    string
	Path      string
	Nonce     string
	Timestamp int64
	Body      []byte
}

// Digest hashes the request into the 32 bytes that get signed. The body is
// committed by its own hash so large payloads stay cheap to canonicalise.
func (r SignedRequest) Digest() []byte {
	bodyHash := ethcrypto.Keccak256(r.Body)
	canonical := strings.Join([]string{
		requestDomain,
		strings.ToUpper(r.Method),
		r.Path,
		r.Nonce,
		strconv.FormatInt(r.Timestamp, 10),
		hexutil.Encode(bodyHash),
	}, "\n")
	return ethcrypto.Keccak256([]byte(canonical))
}

// Sign returns the hex signature for r.
func (r SignedRequest) Sign(key *PrivateKey) (string, error) {
	sig, err := key.Sign(r.Digest())
	if err != nil {
		return "", err
	}
	return hexutil.Encode(sig), nil
}

// Signer recovers the address that produced signature over r.
func (r SignedRequest) Signer(signature string) (common.Address, error) {
	sig, err := DecodeSignature(signature)
	if err != nil {
		return common.Address{}, err
	}
	return Recover(r.Digest(), sig)
}
