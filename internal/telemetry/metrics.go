// Package telemetry exports run metrics in the Prometheus text format for a
// node-exporter textfile collector.
package telemetry

import (
	"fmt"

	"github.com/prometheus/client_golang/prometheus"

	"wheel-trader/internal/trading"
)

const namespace = "wheel"

// Metrics holds the collectors of one CLI invocation.
type Metrics struct {
	registry *prometheus.Registry

	ScansTotal     *prometheus.CounterVec
	ScanDuration   *prometheus.HistogramVec
	Selections     *prometheus.CounterVec
	Rejections     *prometheus.CounterVec
	MidFallbacks   prometheus.Counter
	SymbolFailures *prometheus.CounterVec
	LastScan       *prometheus.GaugeVec

	LadderBuyingPower prometheus.Gauge
	LadderDeployed    prometheus.Gauge
	LadderGap         *prometheus.GaugeVec

	PremiumNet *prometheus.GaugeVec

	OrdersTotal *prometheus.CounterVec
}

// New creates the collectors on a private registry.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),

		ScansTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "scans_total",
			Help:      "Completed opportunity scans",
		}, []string{"strategy"}),
		ScanDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "scan_duration_seconds",
			Help:      "Wall time of an opportunity scan",
			Buckets:   []float64{0.25, 0.5, 1, 2.5, 5, 10, 30, 60},
		}, []string{"strategy"}),
		Selections: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "selections_total",
			Help:      "Contracts selected by scans",
		}, []string{"strategy", "stage"}),
		Rejections: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "contract_rejections_total",
			Help:      "Chain entries rejected during normalization",
		}, []string{"reason"}),
		MidFallbacks: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "mid_fallbacks_total",
			Help:      "Contracts priced at mid because the bid was missing",
		}),
		SymbolFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "symbol_failures_total",
			Help:      "Underlyings whose chain could not be fetched",
		}, []string{"strategy"}),
		LastScan: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "last_scan_timestamp_seconds",
			Help:      "Start time of the most recent scan",
		}, []string{"strategy"}),

		LadderBuyingPower: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "ladder",
			Name:      "buying_power_dollars",
			Help:      "Option buying power at the last ladder plan",
		}),
		LadderDeployed: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "ladder",
			Name:      "deployed_dollars",
			Help:      "Collateral deployed in short puts",
		}),
		LadderGap: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "ladder",
			Name:      "gap_dollars",
			Help:      "Undeployed capital per weekly tranche",
		}, []string{"week"}),

		PremiumNet: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "premium",
			Name:      "net_dollars",
			Help:      "Net premium per month and strategy",
		}, []string{"month", "strategy"}),

		OrdersTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "orders_total",
			Help:      "Order submissions by outcome",
		}, []string{"outcome", "paper"}),
	}

	m.registry.MustRegister(
		m.ScansTotal, m.ScanDuration, m.Selections, m.Rejections, m.MidFallbacks,
		m.SymbolFailures, m.LastScan,
		m.LadderBuyingPower, m.LadderDeployed, m.LadderGap,
		m.PremiumNet, m.OrdersTotal,
	)
	return m
}

// Registry returns the private registry.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// ObserveScan records a completed scan.
func (m *Metrics) ObserveScan(res *trading.ScanResult) {
	strategy := string(res.Strategy)
	m.ScansTotal.WithLabelValues(strategy).Inc()
	m.ScanDuration.WithLabelValues(strategy).Observe(res.Duration.Seconds())
	m.LastScan.WithLabelValues(strategy).Set(float64(res.StartedAt.Unix()))

	for _, sel := range res.Selections {
		m.Selections.WithLabelValues(strategy, string(sel.Stage)).Inc()
	}
	for reason, n := range res.Stats.ByReason {
		m.Rejections.WithLabelValues(string(reason)).Add(float64(n))
	}
	m.MidFallbacks.Add(float64(res.Stats.MidFallbacks))
	m.SymbolFailures.WithLabelValues(strategy).Add(float64(len(res.Failed)))
}

// ObserveLadder records a ladder plan.
func (m *Metrics) ObserveLadder(l trading.Ladder) {
	m.LadderBuyingPower.Set(l.BuyingPower.InexactFloat64())
	m.LadderDeployed.Set(l.TotalDeployed.InexactFloat64())
	for _, t := range l.Tranches {
		m.LadderGap.WithLabelValues(fmt.Sprintf("%d", t.Week)).Set(t.Gap.InexactFloat64())
	}
}

// ObservePremium records the monthly premium trend.
func (m *Metrics) ObservePremium(months []trading.MonthlyPremium) {
	for _, mp := range months {
		key := fmt.Sprintf("%04d-%02d", mp.Month.Year, int(mp.Month.Month))
		m.PremiumNet.WithLabelValues(key, "csp").Set(mp.CSPNet.InexactFloat64())
		m.PremiumNet.WithLabelValues(key, "cc").Set(mp.CCNet.InexactFloat64())
	}
}

// ObserveOrder counts an order submission.
func (m *Metrics) ObserveOrder(success, paper bool) {
	outcome := "accepted"
	if !success {
		outcome = "rejected"
	}
	m.OrdersTotal.WithLabelValues(outcome, fmt.Sprintf("%t", paper)).Inc()
}

// WriteTextfile writes all metrics to path atomically.
func (m *Metrics) WriteTextfile(path string) error {
	if err := prometheus.WriteToTextfile(path, m.registry); err != nil {
		return fmt.Errorf("writing metrics textfile: %w", err)
	}
	return nil
}
