package probe

import (
	"context"
	"errors"
	"net"
	"os"
	"strings"
	"syscall"
	"testing"
	"time"
)

type stubProber struct {
	result Result
	calls  int
}

func (s *stubProber) Probe(ctx context.Context, host string, timeout time.Duration) Result {
	s.calls++
	return s.result
}

type timeoutNetError struct{}

func (timeoutNetError) Error() string   { return "i/o deadline reached" }
func (timeoutNetError) Timeout() bool   { return true }
func (timeoutNetError) Temporary() bool { return true }

func TestClassify(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want ErrorKind
	}{
		{"nil error", nil, ""},
		{"os.ErrPermission", os.ErrPermission, KindPermissionDenied},
		{"syscall.EPERM", syscall.EPERM, KindPermissionDenied},
		{"operation not permitted string", errors.New("operation not permitted"), KindPermissionDenied},
		{"context deadline", context.DeadlineExceeded, KindTimeout},
		{"net timeout", timeoutNetError{}, KindTimeout},
		{"timeout string", errors.New("read timeout"), KindTimeout},
		{"timed out string", errors.New("connection timed out"), KindTimeout},
		{"resolution failure", errors.New("no such host"), KindUnreachable},
		{"network down", errors.New("network is unreachable"), KindUnreachable},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := Classify(tc.err); got != tc.want {
				t.Fatalf("Classify(%v) = %q, want %q", tc.err, got, tc.want)
			}
		})
	}
}

func TestResultDetail(t *testing.T) {
	success := Result{Success: true, RTT: 10 * time.Millisecond}
	if detail := success.Detail(); detail != "" {
		t.Fatalf("expected empty detail for success, got %q", detail)
	}

	failed := failure(errors.New("no such host"))
	if detail := failed.Detail(); detail != "unreachable: no such host" {
		t.Fatalf("unexpected failure detail: %q", detail)
	}

	bare := Result{Success: false, Kind: KindTimeout}
	if detail := bare.Detail(); detail != "timeout" {
		t.Fatalf("expected kind-only detail, got %q", detail)
	}
}

func TestFailureDerivesKind(t *testing.T) {
	result := failure(context.DeadlineExceeded)
	if result.Success {
		t.Fatalf("expected failure result")
	}
	if result.Kind != KindTimeout {
		t.Fatalf("expected timeout kind, got %q", result.Kind)
	}
	if result.Err == nil {
		t.Fatalf("expected underlying error to be kept")
	}
}

func TestIsPermissionError(t *testing.T) {
	cases := []struct {
		err  error
		want bool
	}{
		{err: nil, want: false},
		{err: os.ErrPermission, want: true},
		{err: syscall.EPERM, want: true},
		{err: errors.New("operation not permitted"), want: true},
		{err: errors.New("permission denied"), want: true},
		{err: errors.New("Operation Not Permitted"), want: true},
		{err: errors.New("other failure"), want: false},
	}

	for _, tc := range cases {
		if got := isPermissionError(tc.err); got != tc.want {
			t.Fatalf("isPermissionError(%v) = %v, want %v", tc.err, got, tc.want)
		}
	}
}

func TestIsTimeoutError(t *testing.T) {
	cases := []struct {
		err  error
		want bool
	}{
		{err: nil, want: false},
		{err: context.DeadlineExceeded, want: true},
		{err: timeoutNetError{}, want: true},
		{err: errors.New("request timed out"), want: true},
		{err: errors.New("permission denied"), want: false},
		{err: errors.New("no such host"), want: false},
	}

	for _, tc := range cases {
		if got := isTimeoutError(tc.err); got != tc.want {
			t.Fatalf("isTimeoutError(%v) = %v, want %v", tc.err, got, tc.want)
		}
	}
}

// Fallback Prober unit tests

func TestFallbackProberUsesPrimaryOnSuccess(t *testing.T) {
	primary := &stubProber{result: Result{Success: true, RTT: 10 * time.Millisecond}}
	secondary := &stubProber{result: Result{Success: true, RTT: 20 * time.Millisecond}}
	prober := NewFallbackProber(primary, secondary)

	result := prober.Probe(context.Background(), "127.0.0.1", time.Second)
	if !result.Success {
		t.Fatalf("expected success result")
	}
	if result.RTT != 10*time.Millisecond {
		t.Fatalf("expected primary RTT, got %v", result.RTT)
	}
	if primary.calls != 1 || secondary.calls != 0 {
		t.Fatalf("expected primary called once and secondary not called, got %d/%d", primary.calls, secondary.calls)
	}
	if prober.Downgraded() {
		t.Fatalf("expected prober not downgraded after success")
	}
}

func TestFallbackProberSwitchesOnPermissionError(t *testing.T) {
	primary := &stubProber{result: failure(os.ErrPermission)}
	secondary := &stubProber{result: Result{Success: true, RTT: 15 * time.Millisecond}}
	prober := NewFallbackProber(primary, secondary)

	result := prober.Probe(context.Background(), "127.0.0.1", time.Second)
	if !result.Success {
		t.Fatalf("expected fallback success result")
	}
	if primary.calls != 1 || secondary.calls != 1 {
		t.Fatalf("expected both probers called, got %d/%d", primary.calls, secondary.calls)
	}
	if !prober.Downgraded() {
		t.Fatalf("expected prober downgraded after permission error")
	}
}

func TestFallbackProberStaysDowngraded(t *testing.T) {
	primary := &stubProber{result: failure(os.ErrPermission)}
	secondary := &stubProber{result: Result{Success: true, RTT: 15 * time.Millisecond}}
	prober := NewFallbackProber(primary, secondary)

	for i := 0; i < 3; i++ {
		result := prober.Probe(context.Background(), "127.0.0.1", time.Second)
		if !result.Success {
			t.Fatalf("expected success on attempt %d", i+1)
		}
	}

	// The primary must not be retried after the first permission failure.
	if primary.calls != 1 {
		t.Fatalf("expected primary called exactly once, got %d", primary.calls)
	}
	if secondary.calls != 3 {
		t.Fatalf("expected secondary called three times, got %d", secondary.calls)
	}
}

func TestFallbackProberSkipsFallbackOnOtherErrors(t *testing.T) {
	primary := &stubProber{result: failure(errors.New("network is unreachable"))}
	secondary := &stubProber{result: Result{Success: true}}
	prober := NewFallbackProber(primary, secondary)

	result := prober.Probe(context.Background(), "127.0.0.1", time.Second)
	if result.Success {
		t.Fatalf("expected primary error result")
	}
	if result.Kind != KindUnreachable {
		t.Fatalf("expected unreachable kind, got %q", result.Kind)
	}
	if primary.calls != 1 || secondary.calls != 0 {
		t.Fatalf("expected only primary called, got %d/%d", primary.calls, secondary.calls)
	}
	if prober.Downgraded() {
		t.Fatalf("expected prober not downgraded on non-permission error")
	}
}

func TestFallbackProberWithBothFailing(t *testing.T) {
	secondaryErr := errors.New("udp socket refused")
	primary := &stubProber{result: failure(syscall.EPERM)}
	secondary := &stubProber{result: failure(secondaryErr)}
	prober := NewFallbackProber(primary, secondary)

	result := prober.Probe(context.Background(), "127.0.0.1", time.Second)
	if result.Success {
		t.Fatalf("expected failure result")
	}
	if !errors.Is(result.Err, secondaryErr) {
		t.Fatalf("expected secondary error, got %v", result.Err)
	}
	if primary.calls != 1 || secondary.calls != 1 {
		t.Fatalf("expected both probers called, got %d/%d", primary.calls, secondary.calls)
	}
}

// ICMP Prober unit tests

func TestNewICMPProber(t *testing.T) {
	prober := NewICMPProber(5)
	if prober == nil {
		t.Fatalf("expected non-nil prober")
	}
	if prober.id == 0 {
		t.Fatalf("expected non-zero echo identifier")
	}
	if prober.packets != 5 {
		t.Fatalf("expected 5 packets, got %d", prober.packets)
	}
}

func TestNewICMPProberClampsPackets(t *testing.T) {
	prober := NewICMPProber(0)
	if prober.packets != 1 {
		t.Fatalf("expected packet count clamped to 1, got %d", prober.packets)
	}
}

func TestResolveIPValid(t *testing.T) {
	ipAddr, ip, err := resolveIP("127.0.0.1")
	if err != nil {
		t.Fatalf("expected valid IP, got error: %v", err)
	}
	if ipAddr == nil || ip == nil {
		t.Fatalf("expected resolved IP address, got nil")
	}
	if ip.To4() == nil {
		t.Fatalf("expected IPv4 address, got %v", ip)
	}
}

func TestResolveIPInvalid(t *testing.T) {
	_, _, err := resolveIP("invalid@@")
	if err == nil {
		t.Fatalf("expected error for invalid address")
	}
}

func TestICMPSettings(t *testing.T) {
	ipv4Addr := net.ParseIP("127.0.0.1")
	network, _, _, _ := icmpSettings(ipv4Addr)
	if network != "ip4:icmp" {
		t.Fatalf("expected ipv4 network, got %q", network)
	}

	ipv6Addr := net.ParseIP("2001:db8::1")
	network, _, _, _ = icmpSettings(ipv6Addr)
	if network != "ip6:ipv6-icmp" {
		t.Fatalf("expected ipv6 network, got %q", network)
	}
}

func TestEffectiveDeadlineUsesContextDeadline(t *testing.T) {
	ctxDeadline := time.Now().Add(50 * time.Millisecond)
	ctx, cancel := context.WithDeadline(context.Background(), ctxDeadline)
	defer cancel()

	deadline := effectiveDeadline(ctx, time.Second)
	if !deadline.Equal(ctxDeadline) {
		t.Fatalf("expected context deadline %v, got %v", ctxDeadline, deadline)
	}
}

func TestEffectiveDeadlineUsesTimeout(t *testing.T) {
	start := time.Now()
	deadline := effectiveDeadline(context.Background(), 25*time.Millisecond)
	if deadline.Before(start) {
		t.Fatalf("expected deadline after start, got %v", deadline)
	}
	if deadline.After(start.Add(75 * time.Millisecond)) {
		t.Fatalf("expected deadline within timeout window, got %v", deadline)
	}
}

func TestICMPProberContextCancellation(t *testing.T) {
	prober := NewICMPProber(1)

	ctx, cancel := context.WithCancel(context.Background())
	cancel() // Cancel immediately

	result := prober.Probe(ctx, "127.0.0.1", time.Second)
	if result.Success {
		t.Fatalf("expected failure due to cancelled context")
	}
	if result.Err == nil {
		t.Fatalf("expected error due to cancelled context")
	}
}

func TestICMPProberInvalidAddress(t *testing.T) {
	prober := NewICMPProber(1)

	testCases := []string{
		"invalid@@address",
		"",
		"999.999.999.999",
		"not.a.real.domain.example.invalid",
	}

	for _, addr := range testCases {
		result := prober.Probe(context.Background(), addr, 100*time.Millisecond)
		if result.Success {
			t.Fatalf("expected failure for invalid address %q", addr)
		}
		if result.Err == nil {
			t.Fatalf("expected error for invalid address %q", addr)
		}
	}
}

func TestICMPProberLocalhost(t *testing.T) {
	prober := NewICMPProber(1)

	result := prober.Probe(context.Background(), "127.0.0.1", time.Second)
	if result.Kind == KindPermissionDenied {
		t.Skipf("skipping ICMP test: raw sockets not permitted: %v", result.Err)
	}

	if result.Success {
		if result.RTT <= 0 {
			t.Fatalf("expected positive RTT for successful probe, got %v", result.RTT)
		}
		t.Logf("Successful probe to localhost: RTT=%v", result.RTT)
	} else {
		t.Logf("Probe failed (may be expected): %v", result.Err)
	}
}

// UDP Prober unit tests

func TestNewUDPProberClampsPackets(t *testing.T) {
	prober := NewUDPProber(-3)
	if prober.packets != 1 {
		t.Fatalf("expected packet count clamped to 1, got %d", prober.packets)
	}
}

func TestBuildPinger(t *testing.T) {
	pinger, err := buildPinger("127.0.0.1", 5, time.Second)
	if err != nil {
		t.Fatalf("expected pinger for localhost, got error: %v", err)
	}
	if pinger.Privileged() {
		t.Fatalf("expected unprivileged pinger")
	}
	if pinger.Count != 5 {
		t.Fatalf("expected count 5, got %d", pinger.Count)
	}
	if pinger.Timeout != time.Second {
		t.Fatalf("expected timeout 1s, got %v", pinger.Timeout)
	}
	expectedInterval := time.Second / 6
	if pinger.Interval != expectedInterval {
		t.Fatalf("expected interval %v, got %v", expectedInterval, pinger.Interval)
	}
}

func TestBuildPingerMinimumInterval(t *testing.T) {
	pinger, err := buildPinger("127.0.0.1", 10, 20*time.Millisecond)
	if err != nil {
		t.Fatalf("expected pinger for localhost, got error: %v", err)
	}
	if pinger.Interval != 10*time.Millisecond {
		t.Fatalf("expected interval floor of 10ms, got %v", pinger.Interval)
	}
}

func TestBuildPingerInvalidHost(t *testing.T) {
	_, err := buildPinger("not.a.real.domain.example.invalid", 1, time.Second)
	if err == nil {
		t.Fatalf("expected error for unresolvable host")
	}
}

func TestUDPProberContextCancellation(t *testing.T) {
	prober := NewUDPProber(1)

	ctx, cancel := context.WithCancel(context.Background())
	cancel() // Cancel immediately

	result := prober.Probe(ctx, "127.0.0.1", time.Second)
	if result.Success {
		t.Fatalf("expected failure due to cancelled context")
	}
	if result.Err == nil {
		t.Fatalf("expected error due to cancelled context")
	}
}

func TestUDPProberMissedReplies(t *testing.T) {
	prober := NewUDPProber(2)

	// RFC 5737 TEST-NET-1 addresses are reserved and never answer.
	ctx, cancel := context.WithTimeout(context.Background(), 500*time.Millisecond)
	defer cancel()

	result := prober.Probe(ctx, "192.0.2.1", 200*time.Millisecond)
	if result.Success {
		t.Skipf("unexpected reply from reserved test address")
	}
	if result.Err == nil {
		t.Fatalf("expected error for unanswered probe")
	}
	if result.Kind != KindTimeout && !strings.Contains(strings.ToLower(result.Err.Error()), "permitted") {
		t.Logf("Probe failed with kind %q: %v", result.Kind, result.Err)
	}
}
