package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/moo-gh/Ping-Success/internal/cli"
	"github.com/moo-gh/Ping-Success/internal/config"
	"github.com/moo-gh/Ping-Success/internal/feed"
	"github.com/moo-gh/Ping-Success/internal/ipinfo"
	"github.com/moo-gh/Ping-Success/internal/log"
	"github.com/moo-gh/Ping-Success/internal/metrics"
	"github.com/moo-gh/Ping-Success/internal/monitor"
	"github.com/moo-gh/Ping-Success/internal/probe"
	"github.com/moo-gh/Ping-Success/internal/ui"
)

const version = "0.1.0"

func main() {
	var (
		flagHost          cli.OptionalString
		flagInterval      cli.OptionalDuration
		flagTimeout       cli.OptionalDuration
		flagPackets       cli.OptionalInt
		flagRetention     cli.OptionalDuration
		flagFailureCount  cli.OptionalInt
		flagBackend       cli.OptionalBackend
		flagMetricsListen cli.OptionalString
		flagFeedListen    cli.OptionalString
		flagNoUI          cli.OptionalBool
		flagIPLookup      cli.OptionalBool
		flagLogLevel      cli.OptionalString
		flagConfig        string
		flagVersion       bool
		flagVersionShort  bool
	)

	flag.Var(&flagHost, "host", "host to monitor (override config)")
	flag.Var(&flagInterval, "interval", "probe interval (override config)")
	flag.Var(&flagInterval, "i", "probe interval (override config)")
	flag.Var(&flagTimeout, "timeout", "probe timeout (override config)")
	flag.Var(&flagTimeout, "t", "probe timeout (override config)")
	flag.Var(&flagPackets, "packets", "packets per probe burst (override config)")
	flag.Var(&flagRetention, "retention", "sample retention window (override config)")
	flag.Var(&flagFailureCount, "failure-count", "recent failures to display (override config)")
	flag.Var(&flagBackend, "backend", "probe backend: auto|icmp|udp|exec")
	flag.Var(&flagMetricsListen, "metrics-listen", "metrics listen address (e.g. :9100)")
	flag.Var(&flagFeedListen, "feed-listen", "WebSocket feed listen address (e.g. :8081)")
	flag.Var(&flagNoUI, "no-ui", "disable TUI (log only)")
	flag.Var(&flagIPLookup, "ip-lookup", "look up the public IP for the footer")
	flag.Var(&flagLogLevel, "log-level", "log level: debug|info|warn|error")
	flag.StringVar(&flagConfig, "config", "", "path to YAML config file")
	flag.BoolVar(&flagVersion, "version", false, "show version")
	flag.BoolVar(&flagVersionShort, "v", false, "show version")

	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "usage: %s [options]\n\n", os.Args[0])
		fmt.Fprintln(os.Stderr, "Options:")
		flag.PrintDefaults()
	}

	flag.Parse()

	if flagVersion || flagVersionShort {
		fmt.Fprintf(os.Stdout, "pingmon version %s\n", version)
		return
	}

	if flag.NArg() > 0 {
		flag.Usage()
		os.Exit(1)
	}

	overrides := buildOverrides(
		flagHost, flagInterval, flagTimeout, flagPackets, flagRetention,
		flagFailureCount, flagBackend, flagMetricsListen, flagFeedListen,
		flagNoUI, flagIPLookup, flagLogLevel,
	)

	cfg, err := config.Load(flagConfig, overrides)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	logger := log.NewLogger(log.ParseLevel(cfg.LogLevel))
	if flagConfig != "" {
		logger.LogConfigLoad(true, flagConfig, nil)
	}

	ctx, cancel := signalContext()
	defer cancel()

	session := monitor.New(cfg, buildProber(cfg.Backend, cfg.Packets), logger)
	if err := session.Start(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "failed to start monitoring: %v\n", err)
		os.Exit(1)
	}

	if flagConfig != "" {
		go func() {
			err := config.Watch(ctx, flagConfig, overrides, logger, func(opts config.Options) {
				if err := session.Reconfigure(opts); err != nil {
					logger.Error("reconfigure failed", map[string]interface{}{"error": err.Error()})
				}
			})
			if err != nil && !errors.Is(err, context.Canceled) {
				logger.Error("config watch stopped", map[string]interface{}{"error": err.Error()})
			}
		}()
	}

	if cfg.MetricsListen != "" {
		logger.Info("metrics listening", map[string]interface{}{"addr": cfg.MetricsListen})
		go func() {
			if err := metrics.Serve(ctx, cfg.MetricsListen, metrics.NewCollector(session)); err != nil && !errors.Is(err, context.Canceled) {
				logger.Error("metrics server stopped", map[string]interface{}{"error": err.Error()})
			}
		}()
	}

	if cfg.FeedListen != "" {
		logger.Info("feed listening", map[string]interface{}{"addr": cfg.FeedListen})
		go func() {
			if err := feed.Serve(ctx, cfg.FeedListen, feed.New(session)); err != nil && !errors.Is(err, context.Canceled) {
				logger.Error("feed server stopped", map[string]interface{}{"error": err.Error()})
			}
		}()
	}

	var fetcher *ipinfo.Fetcher
	if cfg.LookupIP() {
		fetcher = ipinfo.NewFetcher(logger)
		go fetcher.Run(ctx)
	}

	if cfg.UIDisable {
		<-ctx.Done()
	} else {
		var ipSource ui.IPSource
		if fetcher != nil {
			ipSource = fetcher
		}
		if err := ui.New(session, ipSource).Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			logger.Error("ui stopped", map[string]interface{}{"error": err.Error()})
		}
		// 'q' stops the whole process, not just the view.
		cancel()
	}

	session.Stop()
	logger.Info("shutdown complete", nil)
}

// buildProber selects the probe backend. auto starts with raw ICMP and
// downgrades permanently to unprivileged UDP when the OS denies raw sockets.
func buildProber(backend config.Backend, packets int) probe.Prober {
	switch backend {
	case config.BackendICMP:
		return probe.NewICMPProber(packets)
	case config.BackendUDP:
		return probe.NewUDPProber(packets)
	case config.BackendExec:
		return probe.NewExecProber(packets)
	default:
		return probe.NewFallbackProber(probe.NewICMPProber(packets), probe.NewUDPProber(packets))
	}
}

// signalContext returns a context cancelled by SIGINT or SIGTERM.
func signalContext() (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(context.Background())
	ch := make(chan os.Signal, 1)
	signal.Notify(ch, os.Interrupt, syscall.SIGTERM)
	go func() {
		select {
		case <-ch:
			cancel()
		case <-ctx.Done():
		}
		signal.Stop(ch)
	}()
	return ctx, cancel
}

func buildOverrides(
	host cli.OptionalString,
	interval cli.OptionalDuration,
	timeout cli.OptionalDuration,
	packets cli.OptionalInt,
	retention cli.OptionalDuration,
	failureCount cli.OptionalInt,
	backend cli.OptionalBackend,
	metricsListen cli.OptionalString,
	feedListen cli.OptionalString,
	noUI cli.OptionalBool,
	ipLookup cli.OptionalBool,
	logLevel cli.OptionalString,
) config.Overrides {
	overrides := config.Overrides{}

	if v, ok := host.Value(); ok && v != "" {
		value := v
		overrides.Host = &value
	}
	if v, ok := interval.Value(); ok {
		value := v
		overrides.Interval = &value
	}
	if v, ok := timeout.Value(); ok {
		value := v
		overrides.Timeout = &value
	}
	if v, ok := packets.Value(); ok {
		value := v
		overrides.Packets = &value
	}
	if v, ok := retention.Value(); ok {
		value := v
		overrides.Retention = &value
	}
	if v, ok := failureCount.Value(); ok {
		value := v
		overrides.FailureCount = &value
	}
	if v, ok := backend.Value(); ok {
		value := v
		overrides.Backend = &value
	}
	if v, ok := metricsListen.Value(); ok && v != "" {
		value := v
		overrides.MetricsListen = &value
	}
	if v, ok := feedListen.Value(); ok && v != "" {
		value := v
		overrides.FeedListen = &value
	}
	if v, ok := noUI.Value(); ok {
		value := v
		overrides.UIDisable = &value
	}
	if v, ok := ipLookup.Value(); ok {
		value := v
		overrides.IPLookup = &value
	}
	if v, ok := logLevel.Value(); ok && v != "" {
		value := v
		overrides.LogLevel = &value
	}

	return overrides
}
