package probe

import (
	"context"
	"fmt"
	"os/exec"
	"regexp"
	"runtime"
	"strconv"
	"time"
)

// ExecProber shells out to the system ping binary. The setuid binary works
// where neither raw ICMP nor UDP datagram sockets are permitted, at the cost
// of parsing its output.
type ExecProber struct {
	packets int
}

// NewExecProber returns a prober invoking the platform ping command with the
// given packet count per probe.
func NewExecProber(packets int) *ExecProber {
	if packets < 1 {
		packets = 1
	}
	return &ExecProber{packets: packets}
}

var (
	summaryPattern = regexp.MustCompile(`(\d+) packets transmitted, (\d+)(?: packets)? received`)
	avgRTTPattern  = regexp.MustCompile(`(?:rtt|round-trip) min/avg/max[^=]*= *[0-9.]+/([0-9.]+)/`)
)

// Probe runs one burst through the ping command and succeeds only when the
// summary reports every packet answered.
func (p *ExecProber) Probe(ctx context.Context, host string, timeout time.Duration) Result {
	if err := ctx.Err(); err != nil {
		return failure(err)
	}

	runCtx, cancel := context.WithTimeout(ctx, timeout+time.Second)
	defer cancel()

	args := pingArgs(runtime.GOOS, host, p.packets, timeout)
	out, err := exec.CommandContext(runCtx, "ping", args...).CombinedOutput()
	if ctxErr := runCtx.Err(); ctxErr != nil {
		return failure(ctxErr)
	}

	sent, received, parseErr := parseSummary(string(out))
	if parseErr != nil {
		if err != nil {
			return failure(fmt.Errorf("ping command: %w", err))
		}
		return failure(parseErr)
	}
	if received < sent {
		return Result{
			Success: false,
			Kind:    KindTimeout,
			Err:     fmt.Errorf("no reply to %d of %d packets", sent-received, sent),
		}
	}

	rtt, rttErr := parseAvgRTT(string(out))
	if rttErr != nil {
		return failure(rttErr)
	}
	return Result{Success: true, RTT: rtt}
}

// pingArgs builds the platform argument list. The deadline flag covers the
// whole burst so the command cannot outlive the probe budget.
func pingArgs(goos, host string, packets int, timeout time.Duration) []string {
	count := strconv.Itoa(packets)
	secs := strconv.Itoa(maxInt(1, int(timeout.Round(time.Second)/time.Second)))
	switch goos {
	case "darwin":
		return []string{"-n", "-q", "-c", count, "-t", secs, host}
	default:
		return []string{"-n", "-q", "-c", count, "-w", secs, host}
	}
}

// parseSummary extracts transmitted and received counts from the ping
// summary line.
func parseSummary(out string) (sent, received int, err error) {
	matches := summaryPattern.FindStringSubmatch(out)
	if matches == nil {
		return 0, 0, fmt.Errorf("no packet summary in ping output")
	}
	sent, err = strconv.Atoi(matches[1])
	if err != nil {
		return 0, 0, fmt.Errorf("parse transmitted count: %w", err)
	}
	received, err = strconv.Atoi(matches[2])
	if err != nil {
		return 0, 0, fmt.Errorf("parse received count: %w", err)
	}
	return sent, received, nil
}

// parseAvgRTT extracts the average round-trip time from the ping statistics
// line. Linux prints "rtt min/avg/max/mdev", BSD and macOS print
// "round-trip min/avg/max/stddev".
func parseAvgRTT(out string) (time.Duration, error) {
	matches := avgRTTPattern.FindStringSubmatch(out)
	if matches == nil {
		return 0, fmt.Errorf("no rtt statistics in ping output")
	}
	ms, err := strconv.ParseFloat(matches[1], 64)
	if err != nil {
		return 0, fmt.Errorf("parse avg rtt: %w", err)
	}
	return time.Duration(ms * float64(time.Millisecond)), nil
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}
