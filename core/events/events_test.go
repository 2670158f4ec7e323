package events

import (
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
)

func TestSalePurchasedEvent(t *testing.T) {
	buyer := common.HexToAddress("0x00000000000000000000000000000000000000b1")
	evt := SalePurchased{
		Buyer:       buyer,
		Amount:      big.NewInt(100),
		BaseTokens:  big.NewInt(500),
		BonusTokens: nil,
	}.Event()
	if evt.Type != TypeSalePurchased {
		t.Fatalf("unexpected type: %s", evt.Type)
	}
	if evt.Attributes["buyer"] != buyer.Hex() {
		t.Fatalf("unexpected buyer attr: %s", evt.Attributes["buyer"])
	}
	if evt.Attributes["bonusTokens"] != "0" || evt.Attributes["baseTokens"] != "500" {
		t.Fatalf("unexpected attrs: %+v", evt.Attributes)
	}
	if evt.Attributes["referrer"] != "" {
		t.Fatalf("expected empty referrer, got %q", evt.Attributes["referrer"])
	}
}

func TestSalePhaseChangedType(t *testing.T) {
	if got := (SalePhaseChanged{Paused: true}).EventType(); got != TypeSalePaused {
		t.Fatalf("unexpected paused type %s", got)
	}
	if got := (SalePhaseChanged{}).Event().Type; got != TypeSaleUnpaused {
		t.Fatalf("unexpected unpaused type %s", got)
	}
}

func TestRecorderFiltersByType(t *testing.T) {
	rec := &Recorder{}
	emitter := Multi{rec, nil, NoopEmitter{}}
	emitter.Emit(TokenTransfer{Amount: big.NewInt(1)})
	emitter.Emit(SaleReferralRateChanged{Previous: 1000, Current: 0})
	emitter.Emit(TokenTransfer{Amount: big.NewInt(2)})

	if len(rec.Events()) != 3 {
		t.Fatalf("expected 3 events, got %d", len(rec.Events()))
	}
	transfers := rec.OfType(TypeTokenTransfer)
	if len(transfers) != 2 || transfers[1].Attributes["amount"] != "2" {
		t.Fatalf("unexpected transfers: %+v", transfers)
	}
	rates := rec.OfType(TypeSaleReferralRateChanged)
	if len(rates) != 1 || rates[0].Attributes["currentBps"] != "0" || rates[0].Attributes["previousBps"] != "1000" {
		t.Fatalf("unexpected rate events: %+v", rates)
	}
	rec.Reset()
	if len(rec.Events()) != 0 {
		t.Fatalf("expected reset recorder")
	}
}

func TestBoundedRecorderKeepsMostRecent(t *testing.T) {
	rec := NewRecorder(2)
	for i := int64(1); i <= 3; i++ {
		rec.Emit(TokenTransfer{Amount: big.NewInt(i)})
	}
	transfers := rec.OfType(TypeTokenTransfer)
	if len(transfers) != 2 {
		t.Fatalf("expected 2 retained events, got %d", len(transfers))
	}
	if transfers[0].Attributes["amount"] != "2" || transfers[1].Attributes["amount"] != "3" {
		t.Fatalf("unexpected retained events: %+v", transfers)
	}
}
