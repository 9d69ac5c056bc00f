package main

import (
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/perifinance/peri-finance-sub001/core/events"
)

func TestEmitterDrivesProtocolMetrics(t *testing.T) {
	em := &logEmitter{log: slog.New(slog.NewTextHandler(io.Discard, nil))}

	em.Emit(events.ExchangeExecuted{Src: "pUSD", Dest: "pETH"})
	em.Emit(events.ExchangeSettled{Key: "pETH", Entries: 2})
	em.Emit(events.PynthSuspended{Key: "pBTC", Reason: "price deviation"})
	em.Emit(events.FeePeriodClosed{})
	em.Emit(events.FeesClaimed{})
	em.Emit(events.LoanCreated{Engine: "CollateralEth"})
	em.Emit(events.LoanLiquidated{Engine: "CollateralShort"})

	rec := httptest.NewRecorder()
	promhttp.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	body := rec.Body.String()
	for _, want := range []string{
		`peri_exchanges_total{dest="pETH",src="pUSD"} 1`,
		`peri_settlements_total 2`,
		`peri_circuit_breaker_trips_total{currency="pBTC"} 1`,
		`peri_fee_periods_closed_total 1`,
		`peri_fees_claimed_total 1`,
		`peri_loans_opened_total{engine="CollateralEth"} 1`,
		`peri_loans_liquidated_total{engine="CollateralShort"} 1`,
	} {
		if !strings.Contains(body, want) {
			t.Fatalf("metrics exposition missing %q", want)
		}
	}
}
