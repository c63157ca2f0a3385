package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

var (
	// Registry is the dedicated Prometheus registry for the monitor.
	Registry = prometheus.NewRegistry()
	// Polls counts poll cycles by resulting status.
	Polls = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "tokomon_polls_total", Help: "Poll cycles by resulting status."},
		[]string{"status"},
	)
	// PollDuration records full poll-cycle durations in seconds.
	PollDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{Name: "tokomon_poll_duration_seconds", Help: "Poll cycle duration in seconds.", Buckets: prometheus.DefBuckets},
	)
	// Deliveries counts delivery attempts by outcome.
	Deliveries = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "tokomon_deliveries_total", Help: "Delivery attempts by outcome."},
		[]string{"outcome"},
	)
	// NewOrders counts orders first seen after priming.
	NewOrders = prometheus.NewCounter(
		prometheus.CounterOpts{Name: "tokomon_new_orders_total", Help: "Orders detected as new."},
	)
	// Alerts counts operator alerts by kind; throttled alerts count once per incident.
	Alerts = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "tokomon_alerts_total", Help: "Operator alerts by kind."},
		[]string{"kind"},
	)
)

// RegisterDefault registers collectors to the monitor registry.
func RegisterDefault() {
	regOnce.Do(func() {
		Registry.MustRegister(Polls)
		Registry.MustRegister(PollDuration)
		Registry.MustRegister(Deliveries)
		Registry.MustRegister(NewOrders)
		Registry.MustRegister(Alerts)
		// Go/process collectors on our registry
		Registry.MustRegister(collectors.NewGoCollector())
		Registry.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	})
}

var regOnce sync.Once
