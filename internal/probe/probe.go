package probe

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"strings"
	"syscall"
	"time"
)

// ErrorKind classifies probe failures.
type ErrorKind string

const (
	// KindUnreachable is a network-level failure: resolution, routing or
	// socket errors.
	KindUnreachable ErrorKind = "unreachable"
	// KindTimeout means no (complete) response arrived within the budget.
	KindTimeout ErrorKind = "timeout"
	// KindPermissionDenied means the process lacks the privileges for the
	// probe, typically raw ICMP sockets.
	KindPermissionDenied ErrorKind = "permission_denied"
)

// Result is the outcome of one probe: a reachability verdict with the
// measured round-trip time on success, or a classified cause on failure.
type Result struct {
	RTT     time.Duration
	Success bool
	Kind    ErrorKind // set when Success is false
	Err     error     // underlying cause, nil on success
}

// Detail renders a failure for recording, e.g. "timeout: no reply to 2 of 5
// packets". Empty for successful results.
func (r Result) Detail() string {
	if r.Success {
		return ""
	}
	if r.Err == nil {
		return string(r.Kind)
	}
	return fmt.Sprintf("%s: %v", r.Kind, r.Err)
}

// Prober issues a single reachability check against a host, blocking up to
// timeout. One check may comprise several packets; it succeeds only if every
// packet is answered. Probers never retry — the caller's next tick is the
// retry.
type Prober interface {
	Probe(ctx context.Context, host string, timeout time.Duration) Result
}

// Classify maps an error to its failure kind.
func Classify(err error) ErrorKind {
	switch {
	case err == nil:
		return ""
	case isPermissionError(err):
		return KindPermissionDenied
	case isTimeoutError(err):
		return KindTimeout
	default:
		return KindUnreachable
	}
}

// failure builds a failed result with the kind derived from err.
func failure(err error) Result {
	return Result{Success: false, Kind: Classify(err), Err: err}
}

func isPermissionError(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, os.ErrPermission) || errors.Is(err, syscall.EPERM) {
		return true
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "operation not permitted") || strings.Contains(msg, "permission denied")
}

func isTimeoutError(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "timeout") || strings.Contains(msg, "timed out")
}
