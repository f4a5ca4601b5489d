package metrics

import (
	"context"
	"errors"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/moo-gh/Ping-Success/internal/history"
	"github.com/moo-gh/Ping-Success/internal/monitor"
)

// Source provides the session views the collector reads at scrape time.
type Source interface {
	Snapshot() history.AggregateView
	Status() monitor.Status
}

// Collector translates the aggregate view and run status into Prometheus
// metrics. Values are read at scrape time, so the collector holds no state
// of its own.
type Collector struct {
	source Source

	successRatio  *prometheus.Desc
	windowSamples *prometheus.Desc
	probesTotal   *prometheus.Desc
	lastRTT       *prometheus.Desc
	clockSkews    *prometheus.Desc
	permWarning   *prometheus.Desc
	running       *prometheus.Desc
}

// NewCollector constructs a collector over a session. The host label is
// taken from the status at every scrape so live reconfiguration shows up.
func NewCollector(source Source) *Collector {
	hostLabel := []string{"host"}
	return &Collector{
		source: source,
		successRatio: prometheus.NewDesc(
			"pingmon_success_ratio",
			"Probe success ratio over the retention window, 0 to 1. Absent while the window is empty.",
			hostLabel, nil,
		),
		windowSamples: prometheus.NewDesc(
			"pingmon_window_samples",
			"Number of samples currently inside the retention window.",
			hostLabel, nil,
		),
		probesTotal: prometheus.NewDesc(
			"pingmon_probes_total",
			"Probes executed since process start, by result.",
			[]string{"host", "result"}, nil,
		),
		lastRTT: prometheus.NewDesc(
			"pingmon_last_rtt_seconds",
			"Round-trip time of the most recent successful probe.",
			hostLabel, nil,
		),
		clockSkews: prometheus.NewDesc(
			"pingmon_clock_skew_events_total",
			"Regressive sample timestamps clamped by the recorder.",
			hostLabel, nil,
		),
		permWarning: prometheus.NewDesc(
			"pingmon_permission_warning",
			"1 while the session carries a probe permission warning.",
			hostLabel, nil,
		),
		running: prometheus.NewDesc(
			"pingmon_running",
			"1 while the probe loop is running.",
			hostLabel, nil,
		),
	}
}

// Describe implements prometheus.Collector.
func (c *Collector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.successRatio
	ch <- c.windowSamples
	ch <- c.probesTotal
	ch <- c.lastRTT
	ch <- c.clockSkews
	ch <- c.permWarning
	ch <- c.running
}

// Collect implements prometheus.Collector.
func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	view := c.source.Snapshot()
	status := c.source.Status()
	host := status.Host

	if view.HasData {
		ch <- prometheus.MustNewConstMetric(c.successRatio, prometheus.GaugeValue,
			view.SuccessPercentage/100, host)
	}
	ch <- prometheus.MustNewConstMetric(c.windowSamples, prometheus.GaugeValue,
		float64(view.SampleCount), host)
	ch <- prometheus.MustNewConstMetric(c.probesTotal, prometheus.CounterValue,
		float64(status.TotalSuccess), host, "success")
	ch <- prometheus.MustNewConstMetric(c.probesTotal, prometheus.CounterValue,
		float64(status.TotalFailure), host, "failure")
	if status.LastRTT > 0 {
		ch <- prometheus.MustNewConstMetric(c.lastRTT, prometheus.GaugeValue,
			status.LastRTT.Seconds(), host)
	}
	ch <- prometheus.MustNewConstMetric(c.clockSkews, prometheus.CounterValue,
		float64(status.ClockSkews), host)
	ch <- prometheus.MustNewConstMetric(c.permWarning, prometheus.GaugeValue,
		boolValue(status.Warning != ""), host)
	ch <- prometheus.MustNewConstMetric(c.running, prometheus.GaugeValue,
		boolValue(status.State == monitor.StateRunning), host)
}

func boolValue(b bool) float64 {
	if b {
		return 1
	}
	return 0
}

// Handler returns the exposition handler for a fresh registry holding the
// collector.
func Handler(collector prometheus.Collector) (http.Handler, error) {
	registry := prometheus.NewRegistry()
	if err := registry.Register(collector); err != nil {
		return nil, err
	}
	return promhttp.HandlerFor(registry, promhttp.HandlerOpts{}), nil
}

// Serve starts the exposition HTTP server and blocks until context
// cancellation.
func Serve(ctx context.Context, addr string, collector prometheus.Collector) error {
	handler, err := Handler(collector)
	if err != nil {
		return err
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", handler)
	server := &http.Server{
		Addr:    addr,
		Handler: mux,
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- server.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		_ = server.Shutdown(context.Background())
		return ctx.Err()
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return context.Canceled
		}
		return err
	}
}
