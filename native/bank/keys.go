package bank

import "github.com/ethereum/go-ethereum/common"

var (
	tokenPrefix     = []byte("bank/token/")
	balancePrefix   = []byte("bank/balance/")
	allowancePrefix = []byte("bank/allowance/")
)

type balanceKey struct {
	token common.Address
	owner common.Address
}

type allowanceKey struct {
	token   common.Address
	owner   common.Address
	spender common.Address
}

func tokenKey(token common.Address) []byte {
	buf := make([]byte, 0, len(tokenPrefix)+common.AddressLength)
	buf = append(buf, tokenPrefix...)
	return append(buf, token.Bytes()...)
}

func (k balanceKey) bytes() []byte {
	buf := make([]byte, 0, len(balancePrefix)+2*common.AddressLength)
	buf = append(buf, balancePrefix...)
	buf = append(buf, k.token.Bytes()...)
	return append(buf, k.owner.Bytes()...)
}

func (k allowanceKey) bytes() []byte {
	buf := make([]byte, 0, len(allowancePrefix)+3*common.AddressLength)
	buf = append(buf, allowancePrefix...)
	buf = append(buf, k.token.Bytes()...)
	buf = append(buf, k.owner.Bytes()...)
	return append(buf, k.spender.Bytes()...)
}
