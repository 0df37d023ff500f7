// Package metrics defines the agent's Prometheus collectors.
//
// Naming follows Prometheus conventions: printagent_ prefix, _total suffix
// for counters, _seconds suffix for duration histograms. All methods are
// safe on a nil *Metrics so callers never need to check whether metrics
// are enabled.
package metrics

import (
	"context"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the agent collectors and their registry.
type Metrics struct {
	registry *prometheus.Registry

	connected       prometheus.Gauge
	reconnects      prometheus.Counter
	heartbeats      prometheus.Counter
	messages        *prometheus.CounterVec
	protocolErrors  *prometheus.CounterVec
	commands        *prometheus.CounterVec
	commandDuration *prometheus.HistogramVec
	printJobs       *prometheus.CounterVec
	printers        prometheus.Gauge
	queueDepth      prometheus.Gauge
}

// New creates the collectors on a private registry, plus the Go runtime and
// process collectors.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		connected: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "printagent_connected",
			Help: "1 while the control channel is connected.",
		}),
		reconnects: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "printagent_reconnects_total",
			Help: "Successful connections to the dispatch server.",
		}),
		heartbeats: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "printagent_heartbeats_total",
			Help: "Heartbeats sent.",
		}),
		messages: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "printagent_messages_total",
			Help: "Protocol messages by direction and action.",
		}, []string{"direction", "action"}),
		protocolErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "printagent_protocol_errors_total",
			Help: "Dropped frames or messages by reason.",
		}, []string{"reason"}),
		commands: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "printagent_commands_total",
			Help: "Handled commands by action and outcome.",
		}, []string{"action", "result"}),
		commandDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "printagent_command_duration_seconds",
			Help:    "Command handling time.",
			Buckets: []float64{0.05, 0.1, 0.5, 1, 2, 5, 10, 30, 60, 120},
		}, []string{"action"}),
		printJobs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "printagent_print_jobs_total",
			Help: "Print jobs by outcome.",
		}, []string{"result"}),
		printers: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "printagent_printers",
			Help: "Queues in the last announced inventory.",
		}),
		queueDepth: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "printagent_command_queue_depth",
			Help: "Commands waiting for the worker.",
		}),
	}
	m.registry.MustRegister(
		m.connected, m.reconnects, m.heartbeats, m.messages, m.protocolErrors,
		m.commands, m.commandDuration, m.printJobs, m.printers, m.queueDepth,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

// Registry exposes the registry, mainly for tests.
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

func (m *Metrics) SetConnected(up bool) {
	if m == nil {
		return
	}
	if up {
		m.connected.Set(1)
	} else {
		m.connected.Set(0)
	}
}

func (m *Metrics) Reconnect() {
	if m != nil {
		m.reconnects.Inc()
	}
}

func (m *Metrics) Heartbeat() {
	if m != nil {
		m.heartbeats.Inc()
	}
}

func (m *Metrics) MessageIn(action string) {
	if m != nil {
		m.messages.WithLabelValues("in", action).Inc()
	}
}

func (m *Metrics) MessageOut(action string) {
	if m != nil {
		m.messages.WithLabelValues("out", action).Inc()
	}
}

func (m *Metrics) ProtocolError(reason string) {
	if m != nil {
		m.protocolErrors.WithLabelValues(reason).Inc()
	}
}

// Command records one handled command.
func (m *Metrics) Command(action string, ok bool, d time.Duration) {
	if m == nil {
		return
	}
	m.commands.WithLabelValues(action, outcome(ok)).Inc()
	m.commandDuration.WithLabelValues(action).Observe(d.Seconds())
}

func (m *Metrics) PrintJob(ok bool) {
	if m != nil {
		m.printJobs.WithLabelValues(outcome(ok)).Inc()
	}
}

func (m *Metrics) SetPrinters(n int) {
	if m != nil {
		m.printers.Set(float64(n))
	}
}

func (m *Metrics) SetQueueDepth(n int) {
	if m != nil {
		m.queueDepth.Set(float64(n))
	}
}

func outcome(ok bool) string {
	if ok {
		return "success"
	}
	return "failure"
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{EnableOpenMetrics: true})
}

// Serve listens on addr and serves /metrics until ctx is done.
func (m *Metrics) Serve(ctx context.Context, addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	return m.ServeListener(ctx, ln)
}

// ServeListener serves /metrics on ln until ctx is done.
func (m *Metrics) ServeListener(ctx context.Context, ln net.Listener) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", m.Handler())
	srv := &http.Server{Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		srv.Shutdown(shutdownCtx)
	}()

	if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
