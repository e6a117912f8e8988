package observability

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	registerOnce sync.Once

	datagrams = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "wapgw",
			Subsystem: "wdp",
			Name:      "datagrams_total",
			Help:      "UDP datagrams by direction.",
		},
		[]string{"direction"},
	)
	pdus = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "wapgw",
			Subsystem: "wtp",
			Name:      "pdus_total",
			Help:      "WTP PDUs by direction and type.",
		},
		[]string{"direction", "type"},
	)
	transactions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "wapgw",
			Subsystem: "wtp",
			Name:      "transactions_total",
			Help:      "WTP transactions started, by role and class.",
		},
		[]string{"role", "class"},
	)
	retransmits = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "wapgw",
			Subsystem: "wtp",
			Name:      "retransmits_total",
			Help:      "WTP PDU retransmissions.",
		},
	)
	aborts = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "wapgw",
			Subsystem: "wtp",
			Name:      "aborts_total",
			Help:      "WTP transaction aborts by reason.",
		},
		[]string{"reason"},
	)
	sessions = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "wapgw",
			Subsystem: "wsp",
			Name:      "sessions_live",
			Help:      "Connected WSP sessions.",
		},
	)
	methodDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "wapgw",
			Subsystem: "wsp",
			Name:      "method_duration_seconds",
			Help:      "WSP method transaction duration in seconds.",
			Buckets:   prometheus.DefBuckets,
		},
	)
	pushes = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "wapgw",
			Subsystem: "ppg",
			Name:      "pushes_total",
			Help:      "Push events by outcome.",
		},
		[]string{"outcome"},
	)
)

func RegisterMetrics() {
	registerOnce.Do(func() {
		prometheus.MustRegister(
			datagrams, pdus, transactions, retransmits, aborts,
			sessions, methodDuration, pushes,
		)
	})
}

func RecordDatagram(direction string) {
	RegisterMetrics()
	datagrams.WithLabelValues(direction).Inc()
}

func RecordPDU(direction, pduType string) {
	RegisterMetrics()
	pdus.WithLabelValues(direction, pduType).Inc()
}

func RecordTransaction(role, class string) {
	RegisterMetrics()
	transactions.WithLabelValues(role, class).Inc()
}

func RecordRetransmit() {
	RegisterMetrics()
	retransmits.Inc()
}

func RecordAbort(reason string) {
	RegisterMetrics()
	aborts.WithLabelValues(reason).Inc()
}

func SessionOpened() {
	RegisterMetrics()
	sessions.Inc()
}

func SessionClosed() {
	RegisterMetrics()
	sessions.Dec()
}

func RecordMethodDuration(d time.Duration) {
	RegisterMetrics()
	methodDuration.Observe(d.Seconds())
}

func RecordPush(outcome string) {
	RegisterMetrics()
	pushes.WithLabelValues(outcome).Inc()
}
