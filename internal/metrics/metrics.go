// Package metrics exposes coordinator state and event counters in the
// Prometheus text format.
package metrics

import (
	"context"
	"net/http"
	"time"

	"github.com/matheus3301/pulse/internal/bus"
	"github.com/matheus3301/pulse/internal/fault"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

const namespace = "pulse"

// Source reports the live sizes sampled at scrape time.
type Source struct {
	Sessions      func() int
	Users         func() int
	Channels      func() int
	Conversations func() int
	BusDropped    func() uint64
}

// Metrics owns a private registry so tests can build as many as they like.
type Metrics struct {
	reg      *prometheus.Registry
	bus      *bus.Bus
	logger   *zap.Logger
	dispatch *prometheus.CounterVec
	latency  *prometheus.HistogramVec
	events   *prometheus.CounterVec
	cancel   context.CancelFunc
	done     chan struct{}
}

func New(src Source, b *bus.Bus, logger *zap.Logger) *Metrics {
	m := &Metrics{
		reg:    prometheus.NewRegistry(),
		bus:    b,
		logger: logger.Named("metrics"),
		dispatch: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "dispatch_total",
			Help:      "Inbound events handled, by kind and outcome.",
		}, []string{"kind", "outcome"}),
		latency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "dispatch_duration_seconds",
			Help:      "Time spent handling inbound events.",
			Buckets:   prometheus.ExponentialBuckets(0.0005, 4, 8),
		}, []string{"kind"}),
		events: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "events_total",
			Help:      "Domain events published on the internal bus.",
		}, []string{"kind"}),
	}

	m.reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.dispatch, m.latency, m.events,
	)
	gauge := func(name, help string, fn func() int) {
		if fn == nil {
			return
		}
		m.reg.MustRegister(prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: namespace, Name: name, Help: help,
		}, func() float64 { return float64(fn()) }))
	}
	gauge("sessions", "Open transport sessions.", src.Sessions)
	gauge("online_users", "Users with at least one registered session.", src.Users)
	gauge("channels", "Group channels with at least one live member.", src.Channels)
	gauge("active_conversations", "Users with an open conversation.", src.Conversations)
	if src.BusDropped != nil {
		m.reg.MustRegister(prometheus.NewCounterFunc(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "bus_dropped_total",
			Help:      "Bus deliveries skipped because a subscriber was full.",
		}, func() float64 { return float64(src.BusDropped()) }))
	}
	return m
}

// ObserveDispatch records one handled inbound event.
func (m *Metrics) ObserveDispatch(kind string, err error, elapsed time.Duration) {
	outcome := "ok"
	if err != nil {
		outcome = fault.KindOf(err).String()
		if fault.KindOf(err) == 0 {
			outcome = fault.Upstream.String()
		}
	}
	m.dispatch.WithLabelValues(kind, outcome).Inc()
	m.latency.WithLabelValues(kind).Observe(elapsed.Seconds())
}

// Start counts bus events until Stop.
func (m *Metrics) Start(ctx context.Context) {
	if m.bus == nil {
		return
	}
	ctx, m.cancel = context.WithCancel(ctx)
	m.done = make(chan struct{})
	ch, unsub := m.bus.Subscribe("", 256)
	go func() {
		defer close(m.done)
		defer unsub()
		for {
			select {
			case evt := <-ch:
				m.events.WithLabelValues(evt.Kind).Inc()
			case <-ctx.Done():
				return
			}
		}
	}()
}

func (m *Metrics) Stop() {
	if m.cancel != nil {
		m.cancel()
		<-m.done
	}
}

// Handler serves the registry.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.reg, promhttp.HandlerOpts{ErrorLog: zap.NewStdLog(m.logger)})
}

// Registry exposes the underlying registry for tests and extra collectors.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.reg
}
