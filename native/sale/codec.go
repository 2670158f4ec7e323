package sale

import (
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	"cratsale/storage"
)

var (
	stateKey      = []byte("sale/state")
	accountPrefix = []byte("sale/account/")
)

func accountKey(addr common.Address) []byte {
	buf := make([]byte, 0, len(accountPrefix)+common.AddressLength)
	buf = append(buf, accountPrefix...)
	return append(buf, addr.Bytes()...)
}

type storedState struct {
	Owner            common.Address
	TotalFundsRaised *big.Int
	TokensSold       *big.Int
	CurrentPrice     *big.Int
	ReferralRateBps  uint64
	Phase            uint8
}

type storedAccount struct {
	TotalSpend          *big.Int
	BonusTokensReceived *big.Int
	ReferralReceived    *big.Int
	ReferralFather      common.Address
}

func putState(w storage.Writer, s State) error {
	return storage.KVPut(w, stateKey, storedState{
		Owner:            s.Owner,
		TotalFundsRaised: cloneBig(s.TotalFundsRaised),
		TokensSold:       cloneBig(s.TokensSold),
		CurrentPrice:     cloneBig(s.CurrentPrice),
		ReferralRateBps:  s.ReferralRateBps,
		Phase:            uint8(s.Phase),
	})
}

func getState(r storage.Reader) (State, bool, error) {
	var stored storedState
	ok, err := storage.KVGet(r, stateKey, &stored)
	if err != nil || !ok {
		return State{}, ok, err
	}
	phase := Phase(stored.Phase)
	if phase != PhaseActive && phase != PhasePaused {
		return State{}, false, fmt.Errorf("sale: stored phase %d unknown", stored.Phase)
	}
	return State{
		Owner:            stored.Owner,
		TotalFundsRaised: cloneBig(stored.TotalFundsRaised),
		TokensSold:       cloneBig(stored.TokensSold),
		CurrentPrice:     cloneBig(stored.CurrentPrice),
		ReferralRateBps:  stored.ReferralRateBps,
		Phase:            phase,
	}, true, nil
}

func putAccount(w storage.Writer, addr common.Address, a *Account) error {
	return storage.KVPut(w, accountKey(addr), storedAccount{
		TotalSpend:          cloneBig(a.TotalSpend),
		BonusTokensReceived: cloneBig(a.BonusTokensReceived),
		ReferralReceived:    cloneBig(a.ReferralReceived),
		ReferralFather:      a.ReferralFather,
	})
}

func getAccount(r storage.Reader, addr common.Address) (*Account, bool, error) {
	var stored storedAccount
	ok, err := storage.KVGet(r, accountKey(addr), &stored)
	if err != nil || !ok {
		return nil, ok, err
	}
	return &Account{
		TotalSpend:          cloneBig(stored.TotalSpend),
		BonusTokensReceived: cloneBig(stored.BonusTokensReceived),
		ReferralReceived:    cloneBig(stored.ReferralReceived),
		ReferralFather:      stored.ReferralFather,
	}, true, nil
}
