package observability

import (
	"errors"
	"math/big"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"

	"cratsale/core/events"
)

func TestSaleMetricsRecordPurchaseAndState(t *testing.T) {
	m := Sale()
	unit := new(big.Int).Exp(big.NewInt(10), big.NewInt(18), nil)
	amount := new(big.Int).Mul(big.NewInt(400), unit)
	rebate := new(big.Int).Mul(big.NewInt(40), unit)

	before := testutil.ToFloat64(m.PurchaseVolume().WithLabelValues("USDT"))
	m.RecordPurchase("usdt", amount, rebate)
	if got := testutil.ToFloat64(m.PurchaseVolume().WithLabelValues("USDT")) - before; got != 400 {
		t.Fatalf("volume delta = %v", got)
	}

	price := new(big.Int).Div(unit, big.NewInt(4))
	m.RecordState(amount, amount, price, 1000, true)
	if got := testutil.ToFloat64(m.Paused()); got != 1 {
		t.Fatalf("paused gauge = %v", got)
	}
	if got := testutil.ToFloat64(m.Price()); got != 0.25 {
		t.Fatalf("price gauge = %v", got)
	}
	m.RecordState(amount, amount, price, 1000, false)
	if got := testutil.ToFloat64(m.Paused()); got != 0 {
		t.Fatalf("paused gauge after resume = %v", got)
	}
}

func TestSaleMetricsObserve(t *testing.T) {
	m := Sale()
	before := testutil.ToFloat64(m.Operations().WithLabelValues("buy", "error"))
	m.Observe("buy", time.Millisecond, errors.New("sale: paused"))
	m.Observe("buy", time.Millisecond, nil)
	if got := testutil.ToFloat64(m.Operations().WithLabelValues("buy", "error")) - before; got != 1 {
		t.Fatalf("error delta = %v", got)
	}
	var nilMetrics *SaleMetrics
	nilMetrics.Observe("buy", time.Second, nil)
}

func TestEventMetricsCountsByType(t *testing.T) {
	m := Events()
	before := testutil.ToFloat64(m.Emitted().WithLabelValues(events.TypeSalePaused))
	emitter := events.Multi{m, &events.Recorder{}}
	emitter.Emit(events.SalePhaseChanged{Paused: true})
	emitter.Emit(events.SalePhaseChanged{Paused: false})
	if got := testutil.ToFloat64(m.Emitted().WithLabelValues(events.TypeSalePaused)) - before; got != 1 {
		t.Fatalf("paused events delta = %v", got)
	}
}

func TestHTTPMetricsThrottle(t *testing.T) {
	m := HTTP()
	before := testutil.ToFloat64(m.Throttles().WithLabelValues("/v1/buy"))
	m.RecordThrottle("/v1/buy")
	m.Observe("/v1/buy", 429, time.Millisecond)
	if got := testutil.ToFloat64(m.Throttles().WithLabelValues("/v1/buy")) - before; got != 1 {
		t.Fatalf("throttle delta = %v", got)
	}
	if statusClass(503) != "5xx" || statusClass(201) != "2xx" {
		t.Fatalf("unexpected status classes")
	}
}
