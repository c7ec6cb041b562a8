package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const promNamespace = "hl_grid_bot"

type Prometheus struct {
	Metrics *Metrics

	registry *prometheus.Registry
}

func NewPrometheus() *Prometheus {
	registry := prometheus.NewRegistry()
	counter := func(name, help string) prometheus.Counter {
		c := prometheus.NewCounter(prometheus.CounterOpts{Namespace: promNamespace, Name: name, Help: help})
		registry.MustRegister(c)
		return c
	}
	gauge := func(name, help string) prometheus.Gauge {
		g := prometheus.NewGauge(prometheus.GaugeOpts{Namespace: promNamespace, Name: name, Help: help})
		registry.MustRegister(g)
		return g
	}

	m := &Metrics{
		OrdersSubmitted:   counter("orders_submitted_total", "Total number of orders sent in bulk requests."),
		OrdersResting:     counter("orders_resting_total", "Total number of orders acknowledged as resting."),
		OrdersFailed:      counter("orders_failed_total", "Total number of orders rejected or cancelled without a fill."),
		OrdersFilled:      counter("orders_filled_total", "Total number of orders that reached the fill threshold."),
		CancelsSubmitted:  counter("cancels_submitted_total", "Total number of cancels sent in bulk requests."),
		BatchFailures:     counter("batch_failures_total", "Total number of bulk requests that failed as a whole."),
		FillsObserved:     counter("fills_observed_total", "Total number of fills applied to pending orders."),
		ReconcileQueries:  counter("reconcile_queries_total", "Total number of order status queries made by reconciliation."),
		ReconcileRecovers: counter("reconcile_recovered_total", "Total number of orders resolved by reconciliation."),
		FillsIgnored:      counter("fills_ignored_total", "Total number of duplicate or foreign fills skipped."),
		ActiveOrders:      gauge("active_orders", "Resting grid orders tracked by the strategy."),
		PendingOrders:     gauge("pending_orders", "Orders the engine is tracking toward completion."),
		Inventory:         gauge("inventory", "Net base inventory held by the grid."),
		RealizedPnL:       gauge("realized_pnl", "Realized profit in quote currency."),
		TotalFees:         gauge("total_fees", "Fees paid in quote currency."),
		LastPrice:         gauge("last_price", "Last mid price observed for the grid market."),
	}
	return &Prometheus{Metrics: m, registry: registry}
}

func (p *Prometheus) Handler() http.Handler {
	return promhttp.HandlerFor(p.registry, promhttp.HandlerOpts{})
}
