package monitor

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/moo-gh/Ping-Success/internal/config"
	"github.com/moo-gh/Ping-Success/internal/history"
	"github.com/moo-gh/Ping-Success/internal/log"
	"github.com/moo-gh/Ping-Success/internal/probe"
)

// State represents the session lifecycle.
type State string

const (
	StateIdle     State = "IDLE"
	StateRunning  State = "RUNNING"
	StateStopping State = "STOPPING"
	StateStopped  State = "STOPPED"
)

// ErrAlreadyRunning is returned by Start while a run loop is active.
var ErrAlreadyRunning = errors.New("session already running")

// Status is a point-in-time view of the session run state for footers,
// metrics and the feed.
type Status struct {
	State        State
	Host         string
	Interval     time.Duration
	Timeout      time.Duration
	Packets      int
	Retention    time.Duration
	StartedAt    time.Time
	Warning      string
	TotalSuccess uint64
	TotalFailure uint64
	ClockSkews   uint64
	LastRTT      time.Duration
	LastError    string
}

// downgrader is implemented by probers that can permanently switch to a
// less privileged backend.
type downgrader interface {
	Downgraded() bool
}

// Session drives periodic probes against one host and feeds the sample
// window. Consumers either poll Snapshot/Series/Status or register with
// Subscribe for a signal per completed probe cycle.
type Session struct {
	mu           sync.Mutex
	cfg          config.Options
	prober       probe.Prober
	logger       *log.Logger
	window       *history.Window
	state        State
	startedAt    time.Time
	warning      string
	totalSuccess uint64
	totalFailure uint64
	lastRTT      time.Duration
	lastError    string
	stopCh       chan struct{}
	doneCh       chan struct{}
	subscribers  map[uuid.UUID]chan struct{}
	now          func() time.Time
}

// New constructs an idle session. Probe backend and packet count are fixed
// for the session lifetime; the remaining options can change via Reconfigure.
func New(cfg config.Options, prober probe.Prober, logger *log.Logger) *Session {
	return &Session{
		cfg:         cfg,
		prober:      prober,
		logger:      logger,
		window:      history.NewWindow(cfg.Retention, cfg.FailureCount),
		state:       StateIdle,
		subscribers: make(map[uuid.UUID]chan struct{}),
		now:         time.Now,
	}
}

// Start validates the configuration and launches the run loop. It fails with
// ErrAlreadyRunning while a previous loop is still active.
func (s *Session) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state == StateRunning || s.state == StateStopping {
		return ErrAlreadyRunning
	}
	if err := s.cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	stopCh := make(chan struct{})
	doneCh := make(chan struct{})
	s.stopCh = stopCh
	s.doneCh = doneCh
	s.state = StateRunning
	s.startedAt = s.now()

	s.logger.Info("monitoring started", map[string]interface{}{
		"host":     s.cfg.Host,
		"interval": s.cfg.Interval.String(),
	})

	go s.run(ctx, stopCh, doneCh)
	return nil
}

// Stop ends the run loop and blocks until it has drained. An in-flight probe
// finishes and its outcome is recorded before the loop exits. Stop is
// idempotent; stopping an idle or stopped session is a no-op.
func (s *Session) Stop() {
	s.mu.Lock()
	switch s.state {
	case StateRunning:
		s.state = StateStopping
		close(s.stopCh)
	case StateStopping:
		// Another Stop is already draining the same run.
	default:
		s.mu.Unlock()
		return
	}
	doneCh := s.doneCh
	s.mu.Unlock()

	<-doneCh
}

// run owns the probe timer. Each cycle waits for the tick, probes, records
// the outcome and reschedules relative to completion so a slow probe never
// compounds into a backlog.
func (s *Session) run(ctx context.Context, stopCh, doneCh chan struct{}) {
	defer close(doneCh)
	defer s.finish()

	timer := time.NewTimer(s.interval())
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-stopCh:
			return
		case <-timer.C:
		}

		s.probeOnce()

		select {
		case <-ctx.Done():
			return
		case <-stopCh:
			return
		default:
		}

		timer.Reset(s.interval())
	}
}

// probeOnce runs a single probe and absorbs its outcome. The probe context
// is detached from the run context so that shutdown cannot interrupt a
// probe whose result is about to be recorded.
func (s *Session) probeOnce() {
	s.mu.Lock()
	host := s.cfg.Host
	timeout := s.cfg.Timeout
	s.mu.Unlock()

	probeCtx, cancel := context.WithTimeout(context.Background(), timeout)
	result := s.prober.Probe(probeCtx, host, timeout)
	cancel()

	s.absorb(host, result)
}

// absorb records the probe outcome into the window, updates counters and the
// permission warning, then signals subscribers.
func (s *Session) absorb(host string, result probe.Result) {
	now := s.now()
	s.window.Record(history.Sample{
		Timestamp: now,
		Success:   result.Success,
		RTT:       result.RTT,
		Detail:    result.Detail(),
	})
	s.window.EvictExpired(now)

	s.mu.Lock()
	if result.Success {
		s.totalSuccess++
		s.lastRTT = result.RTT
		s.lastError = ""
	} else {
		s.totalFailure++
		s.lastError = result.Detail()
	}
	if s.warning == "" {
		if d, ok := s.prober.(downgrader); ok && d.Downgraded() {
			s.warning = "ICMP not permitted, probing over unprivileged UDP"
		} else if result.Kind == probe.KindPermissionDenied {
			s.warning = "probe permission denied, run with elevated privileges or switch backend"
		}
	}
	for _, ch := range s.subscribers {
		select {
		case ch <- struct{}{}:
		default:
		}
	}
	s.mu.Unlock()

	s.logger.LogProbeResult(host, result.Success, result.RTT, result.Detail())
}

func (s *Session) finish() {
	s.mu.Lock()
	s.state = StateStopped
	s.mu.Unlock()

	s.logger.Info("monitoring stopped", nil)
}

func (s *Session) interval() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cfg.Interval
}

// Snapshot returns the current aggregate view over the live window.
func (s *Session) Snapshot() history.AggregateView {
	return s.window.Snapshot(s.now())
}

// Series returns a copy of the live samples oldest-first for chart plotting.
func (s *Session) Series() []history.Sample {
	return s.window.Series(s.now())
}

// Status reports the run state, totals and warning banner.
func (s *Session) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Status{
		State:        s.state,
		Host:         s.cfg.Host,
		Interval:     s.cfg.Interval,
		Timeout:      s.cfg.Timeout,
		Packets:      s.cfg.Packets,
		Retention:    s.cfg.Retention,
		StartedAt:    s.startedAt,
		Warning:      s.warning,
		TotalSuccess: s.totalSuccess,
		TotalFailure: s.totalFailure,
		ClockSkews:   s.window.ClockSkews(),
		LastRTT:      s.lastRTT,
		LastError:    s.lastError,
	}
}

// Subscribe registers for a signal after each completed probe cycle.
// Notifications coalesce in a one-slot buffer, so a slow consumer never
// blocks the run loop. The returned cancel unsubscribes and closes the
// channel.
func (s *Session) Subscribe() (<-chan struct{}, func()) {
	id := uuid.New()
	ch := make(chan struct{}, 1)

	s.mu.Lock()
	s.subscribers[id] = ch
	s.mu.Unlock()

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			s.mu.Lock()
			delete(s.subscribers, id)
			close(ch)
			s.mu.Unlock()
		})
	}
	return ch, cancel
}

// Reconfigure live-applies host, interval, timeout, retention and the
// failure display cap; the next tick picks them up. Probe backend and packet
// count stay as constructed.
func (s *Session) Reconfigure(opts config.Options) error {
	if err := opts.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	s.mu.Lock()
	opts.Backend = s.cfg.Backend
	opts.Packets = s.cfg.Packets
	s.cfg = opts
	s.mu.Unlock()

	s.window.SetRetention(opts.Retention)
	s.window.SetFailureLimit(opts.FailureCount)
	return nil
}
