package observability

import (
	"math"
	"math/big"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// VaultMetrics records vault operation activity and headline accounting gauges.
type VaultMetrics struct {
	operations *prometheus.CounterVec
	errors     *prometheus.CounterVec
	latency    *prometheus.HistogramVec

	totalAssets prometheus.Gauge
	totalIdle   prometheus.Gauge
	totalDebt   prometheus.Gauge
	totalSupply prometheus.Gauge
}

var (
	vaultMetricsOnce sync.Once
	vaultRegistry    *VaultMetrics
)

// Metrics returns the lazily-initialised vault metrics registry.
func Metrics() *VaultMetrics {
	vaultMetricsOnce.Do(func() {
		vaultRegistry = &VaultMetrics{
			operations: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "stratvault",
				Subsystem: "vault",
				Name:      "operations_total",
				Help:      "Total vault operations segmented by operation and outcome.",
			}, []string{"operation", "outcome"}),
			errors: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "stratvault",
				Subsystem: "vault",
				Name:      "errors_total",
				Help:      "Total vault operation errors segmented by operation.",
			}, []string{"operation"}),
			latency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
				Namespace: "stratvault",
				Subsystem: "vault",
				Name:      "operation_duration_seconds",
				Help:      "Latency distribution for vault operations.",
				Buckets:   prometheus.DefBuckets,
			}, []string{"operation"}),
			totalAssets: prometheus.NewGauge(prometheus.GaugeOpts{
				Namespace: "stratvault",
				Subsystem: "vault",
				Name:      "total_assets",
				Help:      "Vault-wide valuation in asset units.",
			}),
			totalIdle: prometheus.NewGauge(prometheus.GaugeOpts{
				Namespace: "stratvault",
				Subsystem: "vault",
				Name:      "total_idle",
				Help:      "Assets held directly by the vault.",
			}),
			totalDebt: prometheus.NewGauge(prometheus.GaugeOpts{
				Namespace: "stratvault",
				Subsystem: "vault",
				Name:      "total_debt",
				Help:      "Assets allocated across strategies.",
			}),
			totalSupply: prometheus.NewGauge(prometheus.GaugeOpts{
				Namespace: "stratvault",
				Subsystem: "vault",
				Name:      "total_supply",
				Help:      "All minted shares including locked shares.",
			}),
		}
		prometheus.MustRegister(
			vaultRegistry.operations,
			vaultRegistry.errors,
			vaultRegistry.latency,
			vaultRegistry.totalAssets,
			vaultRegistry.totalIdle,
			vaultRegistry.totalDebt,
			vaultRegistry.totalSupply,
		)
	})
	return vaultRegistry
}

// ObserveOperation records one vault operation with its latency and outcome.
func (m *VaultMetrics) ObserveOperation(operation string, duration time.Duration, err error) {
	if m == nil {
		return
	}
	outcome := "ok"
	if err != nil {
		outcome = "error"
		m.errors.WithLabelValues(operation).Inc()
	}
	m.operations.WithLabelValues(operation, outcome).Inc()
	m.latency.WithLabelValues(operation).Observe(duration.Seconds())
}

// SetAccounting refreshes the headline accounting gauges. Values beyond float64
// range saturate rather than wrap.
func (m *VaultMetrics) SetAccounting(totalAssets, totalIdle, totalDebt, totalSupply *big.Int) {
	if m == nil {
		return
	}
	m.totalAssets.Set(bigToFloat(totalAssets))
	m.totalIdle.Set(bigToFloat(totalIdle))
	m.totalDebt.Set(bigToFloat(totalDebt))
	m.totalSupply.Set(bigToFloat(totalSupply))
}

func bigToFloat(v *big.Int) float64 {
	if v == nil {
		return 0
	}
	f, _ := new(big.Float).SetInt(v).Float64()
	if math.IsInf(f, 0) {
		return math.MaxFloat64
	}
	return f
}
