package probe

import (
	"context"
	"fmt"
	"time"

	goping "github.com/go-ping/ping"
)

// UDPProber probes with unprivileged UDP datagram pings via the go-ping
// library, for environments where raw sockets are unavailable. Linux hosts
// may additionally need net.ipv4.ping_group_range to include the process
// group.
type UDPProber struct {
	packets int
}

// NewUDPProber returns a prober sending the given number of packets per
// probe in unprivileged mode.
func NewUDPProber(packets int) *UDPProber {
	if packets < 1 {
		packets = 1
	}
	return &UDPProber{packets: packets}
}

// Probe runs the burst and succeeds only when every packet is answered
// within timeout.
func (p *UDPProber) Probe(ctx context.Context, host string, timeout time.Duration) Result {
	if err := ctx.Err(); err != nil {
		return failure(err)
	}

	pinger, err := buildPinger(host, p.packets, timeout)
	if err != nil {
		return failure(fmt.Errorf("resolve %s: %w", host, err))
	}

	// Interrupt the run when the context ends first.
	watchDone := make(chan struct{})
	go func() {
		select {
		case <-ctx.Done():
			pinger.Stop()
		case <-watchDone:
		}
	}()

	err = pinger.Run()
	close(watchDone)
	if err != nil {
		return failure(err)
	}

	stats := pinger.Statistics()
	if stats.PacketsRecv < p.packets {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return failure(ctxErr)
		}
		return Result{
			Success: false,
			Kind:    KindTimeout,
			Err:     fmt.Errorf("no reply to %d of %d packets", p.packets-stats.PacketsRecv, p.packets),
		}
	}

	return Result{Success: true, RTT: stats.AvgRtt}
}

// buildPinger configures an unprivileged pinger whose burst fits inside the
// whole-probe budget.
func buildPinger(host string, packets int, timeout time.Duration) (*goping.Pinger, error) {
	pinger, err := goping.NewPinger(host)
	if err != nil {
		return nil, err
	}
	pinger.SetPrivileged(false)
	pinger.Count = packets
	pinger.Timeout = timeout

	interval := timeout / time.Duration(packets+1)
	if interval < 10*time.Millisecond {
		interval = 10 * time.Millisecond
	}
	pinger.Interval = interval
	return pinger, nil
}
