// Package metrics exposes the daemon's Prometheus instrumentation.
package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

type ProtocolMetrics struct {
	ratesUpdated       prometheus.Counter
	exchangesExecuted  *prometheus.CounterVec
	settlementsSettled prometheus.Counter
	circuitBreakerHits *prometheus.CounterVec
	feePeriodsClosed   prometheus.Counter
	feesClaimed        prometheus.Counter
	loansOpened        *prometheus.CounterVec
	loansLiquidated    *prometheus.CounterVec
	cachedDebt         prometheus.Gauge
	debtSnapshotAge    prometheus.Gauge
	debtCacheInvalid   prometheus.Gauge
}

var (
	protocolOnce     sync.Once
	protocolRegistry *ProtocolMetrics
)

func Protocol() *ProtocolMetrics {
	protocolOnce.Do(func() {
		protocolRegistry = &ProtocolMetrics{
			ratesUpdated: prometheus.NewCounter(prometheus.CounterOpts{
				Name: "peri_rates_updated_total",
				Help: "Count of accepted oracle rate batches.",
			}),
			exchangesExecuted: prometheus.NewCounterVec(prometheus.CounterOpts{
				Name: "peri_exchanges_total",
				Help: "Count of executed pynth exchanges by source and destination.",
			}, []string{"src", "dest"}),
			settlementsSettled: prometheus.NewCounter(prometheus.CounterOpts{
				Name: "peri_settlements_total",
				Help: "Count of settled exchange entries.",
			}),
			circuitBreakerHits: prometheus.NewCounterVec(prometheus.CounterOpts{
				Name: "peri_circuit_breaker_trips_total",
				Help: "Count of exchanges suppressed by the price deviation breaker.",
			}, []string{"currency"}),
			feePeriodsClosed: prometheus.NewCounter(prometheus.CounterOpts{
				Name: "peri_fee_periods_closed_total",
				Help: "Count of closed fee periods.",
			}),
			feesClaimed: prometheus.NewCounter(prometheus.CounterOpts{
				Name: "peri_fees_claimed_total",
				Help: "Count of successful fee claims.",
			}),
			loansOpened: prometheus.NewCounterVec(prometheus.CounterOpts{
				Name: "peri_loans_opened_total",
				Help: "Count of opened collateral loans by engine.",
			}, []string{"engine"}),
			loansLiquidated: prometheus.NewCounterVec(prometheus.CounterOpts{
				Name: "peri_loans_liquidated_total",
				Help: "Count of loan liquidations by engine.",
			}, []string{"engine"}),
			cachedDebt: prometheus.NewGauge(prometheus.GaugeOpts{
				Name: "peri_cached_debt",
				Help: "Cached total system debt in quote currency units.",
			}),
			debtSnapshotAge: prometheus.NewGauge(prometheus.GaugeOpts{
				Name: "peri_debt_snapshot_age_seconds",
				Help: "Age of the last debt snapshot.",
			}),
			debtCacheInvalid: prometheus.NewGauge(prometheus.GaugeOpts{
				Name: "peri_debt_cache_invalid",
				Help: "Whether the debt cache is flagged invalid (1) or valid (0).",
			}),
		}
		prometheus.MustRegister(
			protocolRegistry.ratesUpdated,
			protocolRegistry.exchangesExecuted,
			protocolRegistry.settlementsSettled,
			protocolRegistry.circuitBreakerHits,
			protocolRegistry.feePeriodsClosed,
			protocolRegistry.feesClaimed,
			protocolRegistry.loansOpened,
			protocolRegistry.loansLiquidated,
			protocolRegistry.cachedDebt,
			protocolRegistry.debtSnapshotAge,
			protocolRegistry.debtCacheInvalid,
		)
	})
	return protocolRegistry
}

func (m *ProtocolMetrics) ObserveRatesUpdated() {
	if m == nil {
		return
	}
	m.ratesUpdated.Inc()
}

func (m *ProtocolMetrics) ObserveExchange(src, dest string) {
	if m == nil {
		return
	}
	m.exchangesExecuted.WithLabelValues(src, dest).Inc()
}

func (m *ProtocolMetrics) ObserveSettlement(entries int) {
	if m == nil || entries <= 0 {
		return
	}
	m.settlementsSettled.Add(float64(entries))
}

func (m *ProtocolMetrics) ObserveCircuitBreaker(currency string) {
	if m == nil {
		return
	}
	if currency == "" {
		currency = "unknown"
	}
	m.circuitBreakerHits.WithLabelValues(currency).Inc()
}

func (m *ProtocolMetrics) ObserveFeePeriodClosed() {
	if m == nil {
		return
	}
	m.feePeriodsClosed.Inc()
}

func (m *ProtocolMetrics) ObserveFeesClaimed() {
	if m == nil {
		return
	}
	m.feesClaimed.Inc()
}

func (m *ProtocolMetrics) ObserveLoanOpened(engine string) {
	if m == nil {
		return
	}
	m.loansOpened.WithLabelValues(engine).Inc()
}

func (m *ProtocolMetrics) ObserveLoanLiquidated(engine string) {
	if m == nil {
		return
	}
	m.loansLiquidated.WithLabelValues(engine).Inc()
}

func (m *ProtocolMetrics) SetCachedDebt(debt float64) {
	if m == nil {
		return
	}
	m.cachedDebt.Set(debt)
}

func (m *ProtocolMetrics) SetDebtSnapshotAge(seconds float64) {
	if m == nil {
		return
	}
	m.debtSnapshotAge.Set(seconds)
}

func (m *ProtocolMetrics) SetDebtCacheInvalid(invalid bool) {
	if m == nil {
		return
	}
	if invalid {
		m.debtCacheInvalid.Set(1)
		return
	}
	m.debtCacheInvalid.Set(0)
}
