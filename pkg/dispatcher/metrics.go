package dispatcher

import (
	"errors"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds the Prometheus collectors of a dispatcher. A nil *Metrics records nothing.
type Metrics struct {
	calls    *prometheus.CounterVec
	duration *prometheus.HistogramVec
	inFlight *prometheus.GaugeVec
}

// NewMetrics creates the dispatcher collectors and registers them on registerer
// (prometheus.DefaultRegisterer when nil). Collectors already registered by another
// dispatcher in the same process are reused.
func NewMetrics(registerer prometheus.Registerer) (*Metrics, error) {
	if registerer == nil {
		registerer = prometheus.DefaultRegisterer
	}

	calls := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "onbbu",
		Subsystem: "dispatcher",
		Name:      "calls_total",
		Help:      "Contract calls handled, by subject, contract and resulting status",
	}, []string{"subject", "contract", "status"})
	duration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "onbbu",
		Subsystem: "dispatcher",
		Name:      "pipeline_seconds",
		Help:      "Time spent decoding, running and classifying a contract call",
		Buckets:   prometheus.DefBuckets,
	}, []string{"subject", "contract"})
	inFlight := prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "onbbu",
		Subsystem: "dispatcher",
		Name:      "in_flight",
		Help:      "Contract calls currently being processed",
	}, []string{"subject"})

	m := &Metrics{}
	var err error
	if m.calls, err = register(registerer, calls); err != nil {
		return nil, err
	}
	if m.duration, err = register(registerer, duration); err != nil {
		return nil, err
	}
	if m.inFlight, err = register(registerer, inFlight); err != nil {
		return nil, err
	}
	return m, nil
}

func register[C prometheus.Collector](registerer prometheus.Registerer, c C) (C, error) {
	if err := registerer.Register(c); err != nil {
		var already prometheus.AlreadyRegisteredError
		if errors.As(err, &already) {
			if existing, ok := already.ExistingCollector.(C); ok {
				return existing, nil
			}
		}
		return c, err
	}
	return c, nil
}

func (m *Metrics) begin(subject string) {
	if m == nil {
		return
	}
	m.inFlight.WithLabelValues(subject).Inc()
}

func (m *Metrics) end(subject, contract, status string, started time.Time) {
	if m == nil {
		return
	}
	m.inFlight.WithLabelValues(subject).Dec()
	m.calls.WithLabelValues(subject, contract, status).Inc()
	m.duration.WithLabelValues(subject, contract).Observe(time.Since(started).Seconds())
}
