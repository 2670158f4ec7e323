package crypto

import (
	"errors"
	"path/filepath"
	"testing"

	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/stretchr/testify/require"
)

func TestSignedRequestRoundTrip(t *testing.T) {
	key, err := GeneratePrivateKey()
	require.NoError(t, err)

	req := SignedRequest{Method: "post", Path: "/v1/buy", Nonce: "n-1", Timestamp: 1_700_000_000, Body: []byte(`{"amount":"400"}`)}
	sig, err := req.Sign(key)
	require.NoError(t, err)

	signer, err := req.Signer(sig)
	require.NoError(t, err)
	require.Equal(t, key.Address(), signer)

	tampered := req
	tampered.Body = []byte(`{"amount":"401"}`)
	other, err := tampered.Signer(sig)
	require.NoError(t, err)
	require.NotEqual(t, key.Address(), other)

	upper := req
	upper.Method = "POST"
	require.Equal(t, req.Digest(), upper.Digest())
}

func TestRecoverAcceptsLegacyV(t *testing.T) {
	key, err := GeneratePrivateKey()
	require.NoError(t, err)
	digest := SignedRequest{Method: "GET", Path: "/v1/state"}.Digest()
	sig, err := key.Sign(digest)
	require.NoError(t, err)
	sig[64] += 27
	signer, err := Recover(digest, sig)
	require.NoError(t, err)
	require.Equal(t, key.Address(), signer)

	_, err = Recover(digest, sig[:10])
	require.True(t, errors.Is(err, ErrInvalidSignature))
	_, err = DecodeSignature("0xzz")
	require.ErrorIs(t, err, ErrInvalidSignature)
}

func TestParseAddress(t *testing.T) {
	addr, err := ParseAddress(" 0x1100000000000000000000000000000000000001 ")
	require.NoError(t, err)
	require.Equal(t, "0x1100000000000000000000000000000000000001", addr.Hex())

	_, err = ParseAddress("0x1234")
	require.ErrorIs(t, err, ErrInvalidAddress)
}

func TestKeystoreRoundTrip(t *testing.T) {
	key, err := PrivateKeyFromHex("0x4c0883a69102937d6231471b5dbb6204fe5129617082792ae468d01a3f362318")
	require.NoError(t, err)
	path := filepath.Join(t.TempDir(), "keys", "operator.json")

	require.NoError(t, SaveKeystore(path, key, "correct horse", LightKDF))
	loaded, err := LoadKeystore(path, "correct horse")
	require.NoError(t, err)
	require.Equal(t, hexutil.Encode(key.Bytes()), hexutil.Encode(loaded.Bytes()))

	_, err = LoadKeystore(path, "wrong")
	require.Error(t, err)

	// Overwrite in place.
	fresh, err := GeneratePrivateKey()
	require.NoError(t, err)
	require.NoError(t, SaveKeystore(path, fresh, "pw", LightKDF))
	loaded, err = LoadKeystore(path, "pw")
	require.NoError(t, err)
	require.Equal(t, fresh.Address(), loaded.Address())
}
