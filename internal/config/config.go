package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Backend selects how probes are sent.
type Backend string

const (
	// BackendAuto tries raw ICMP and falls back to unprivileged UDP on
	// permission errors.
	BackendAuto Backend = "auto"
	// BackendICMP uses raw ICMP sockets only.
	BackendICMP Backend = "icmp"
	// BackendUDP uses unprivileged UDP datagram pings only.
	BackendUDP Backend = "udp"
	// BackendExec shells out to the system ping binary.
	BackendExec Backend = "exec"
)

// ParseBackend validates a backend name.
func ParseBackend(s string) (Backend, error) {
	switch Backend(s) {
	case BackendAuto, BackendICMP, BackendUDP, BackendExec:
		return Backend(s), nil
	default:
		return "", fmt.Errorf("invalid probe backend: %q (valid values: auto, icmp, udp, exec)", s)
	}
}

// Options holds every recognized option of the monitor. The sampler reads
// Host, Interval, Timeout, Packets, Retention and FailureCount; the rest
// belongs to the host process.
type Options struct {
	Host         string        `yaml:"host"`
	Interval     time.Duration `yaml:"interval"`
	Timeout      time.Duration `yaml:"timeout"`
	Packets      int           `yaml:"packets"`
	Retention    time.Duration `yaml:"retention"`
	FailureCount int           `yaml:"failure_count"`
	Backend      Backend       `yaml:"backend"`

	MetricsListen string `yaml:"metrics_listen"`
	FeedListen    string `yaml:"feed_listen"`
	UIDisable     bool   `yaml:"no_ui"`
	IPLookup      *bool  `yaml:"ip_lookup"`
	LogLevel      string `yaml:"log_level"`
}

// Default returns the built-in options: probe a well-known public resolver
// once a second with a five packet burst, keep fifteen minutes of samples.
func Default() Options {
	lookup := true
	return Options{
		Host:         "8.8.8.8",
		Interval:     time.Second,
		Timeout:      time.Second,
		Packets:      5,
		Retention:    15 * time.Minute,
		FailureCount: 10,
		Backend:      BackendAuto,
		IPLookup:     &lookup,
		LogLevel:     "info",
	}
}

// Overrides carries command line values that take precedence over the file.
// Nil fields were not set on the command line.
type Overrides struct {
	Host          *string
	Interval      *time.Duration
	Timeout       *time.Duration
	Packets       *int
	Retention     *time.Duration
	FailureCount  *int
	Backend       *Backend
	MetricsListen *string
	FeedListen    *string
	UIDisable     *bool
	IPLookup      *bool
	LogLevel      *string
}

// Load reads options from a YAML file, fills unset fields from Default,
// applies overrides and validates the result. An empty path skips the file
// and yields defaults plus overrides.
func Load(path string, overrides Overrides) (Options, error) {
	opts := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return Options{}, fmt.Errorf("read config: %w", err)
		}
		if err := yaml.Unmarshal(data, &opts); err != nil {
			return Options{}, fmt.Errorf("parse config %s: %w", path, err)
		}
		opts.fillDefaults()
	}

	opts.apply(overrides)

	if err := opts.Validate(); err != nil {
		return Options{}, err
	}
	return opts, nil
}

// fillDefaults replaces zero values left by a partial YAML document.
func (o *Options) fillDefaults() {
	def := Default()
	if o.Host == "" {
		o.Host = def.Host
	}
	if o.Interval <= 0 {
		o.Interval = def.Interval
	}
	if o.Timeout <= 0 {
		o.Timeout = def.Timeout
	}
	if o.Packets <= 0 {
		o.Packets = def.Packets
	}
	if o.Retention <= 0 {
		o.Retention = def.Retention
	}
	if o.FailureCount <= 0 {
		o.FailureCount = def.FailureCount
	}
	if o.Backend == "" {
		o.Backend = def.Backend
	}
	if o.IPLookup == nil {
		o.IPLookup = def.IPLookup
	}
	if o.LogLevel == "" {
		o.LogLevel = def.LogLevel
	}
}

func (o *Options) apply(ov Overrides) {
	if ov.Host != nil {
		o.Host = *ov.Host
	}
	if ov.Interval != nil {
		o.Interval = *ov.Interval
	}
	if ov.Timeout != nil {
		o.Timeout = *ov.Timeout
	}
	if ov.Packets != nil {
		o.Packets = *ov.Packets
	}
	if ov.Retention != nil {
		o.Retention = *ov.Retention
	}
	if ov.FailureCount != nil {
		o.FailureCount = *ov.FailureCount
	}
	if ov.Backend != nil {
		o.Backend = *ov.Backend
	}
	if ov.MetricsListen != nil {
		o.MetricsListen = *ov.MetricsListen
	}
	if ov.FeedListen != nil {
		o.FeedListen = *ov.FeedListen
	}
	if ov.UIDisable != nil {
		o.UIDisable = *ov.UIDisable
	}
	if ov.IPLookup != nil {
		v := *ov.IPLookup
		o.IPLookup = &v
	}
	if ov.LogLevel != nil {
		o.LogLevel = *ov.LogLevel
	}
}

// Validate rejects option combinations the sampler cannot run with.
func (o Options) Validate() error {
	if o.Host == "" {
		return fmt.Errorf("host must not be empty")
	}
	if o.Interval <= 0 {
		return fmt.Errorf("interval must be positive, got %v", o.Interval)
	}
	if o.Timeout <= 0 {
		return fmt.Errorf("timeout must be positive, got %v", o.Timeout)
	}
	if o.Packets < 1 {
		return fmt.Errorf("packets must be at least 1, got %d", o.Packets)
	}
	if o.Retention < o.Interval {
		return fmt.Errorf("retention %v must be at least the interval %v", o.Retention, o.Interval)
	}
	if o.FailureCount < 1 {
		return fmt.Errorf("failure_count must be at least 1, got %d", o.FailureCount)
	}
	if _, err := ParseBackend(string(o.Backend)); err != nil {
		return err
	}
	return nil
}

// LookupIP reports whether the public IP collaborator should run.
func (o Options) LookupIP() bool {
	return o.IPLookup == nil || *o.IPLookup
}
