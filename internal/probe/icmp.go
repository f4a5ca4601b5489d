package probe

import (
	"context"
	"fmt"
	"net"
	"os"
	"sync/atomic"
	"time"

	"golang.org/x/net/icmp"
	"golang.org/x/net/ipv4"
	"golang.org/x/net/ipv6"
)

const echoData = "ping-success"

// ICMPProber sends ICMP echo requests over raw sockets. Each probe is a
// burst of packets sharing one deadline; every packet must be answered for
// the probe to succeed. Raw sockets usually require elevated privileges —
// permission failures classify as KindPermissionDenied so callers can fall
// back.
type ICMPProber struct {
	id      int
	packets int
	seq     uint32
}

// NewICMPProber initializes a prober with a process-scoped echo identifier
// sending the given number of packets per probe.
func NewICMPProber(packets int) *ICMPProber {
	if packets < 1 {
		packets = 1
	}
	return &ICMPProber{id: os.Getpid() & 0xffff, packets: packets}
}

// Probe sends the burst and waits for every reply within timeout.
func (p *ICMPProber) Probe(ctx context.Context, host string, timeout time.Duration) Result {
	if err := ctx.Err(); err != nil {
		return failure(err)
	}

	addr, ip, err := resolveIP(host)
	if err != nil {
		return failure(err)
	}

	network, protocol, requestType, replyType := icmpSettings(ip)
	conn, err := icmp.ListenPacket(network, "")
	if err != nil {
		return failure(err)
	}
	defer conn.Close()

	deadline := effectiveDeadline(ctx, timeout)
	if err := conn.SetDeadline(deadline); err != nil {
		return failure(err)
	}

	var total time.Duration
	for i := 0; i < p.packets; i++ {
		rtt, err := p.exchange(ctx, conn, addr, protocol, requestType, replyType)
		if err != nil {
			return failure(fmt.Errorf("packet %d of %d: %w", i+1, p.packets, err))
		}
		total += rtt
	}

	return Result{Success: true, RTT: total / time.Duration(p.packets)}
}

// exchange sends one echo request and waits for its matching reply.
func (p *ICMPProber) exchange(ctx context.Context, conn *icmp.PacketConn, addr *net.IPAddr, protocol int, requestType, replyType icmp.Type) (time.Duration, error) {
	seq := int(atomic.AddUint32(&p.seq, 1) & 0xffff)
	msg := icmp.Message{
		Type: requestType,
		Code: 0,
		Body: &icmp.Echo{
			ID:   p.id,
			Seq:  seq,
			Data: []byte(echoData),
		},
	}

	payload, err := msg.Marshal(nil)
	if err != nil {
		return 0, err
	}

	start := time.Now()
	if _, err := conn.WriteTo(payload, addr); err != nil {
		return 0, err
	}

	buf := make([]byte, 1500)
	for {
		if err := ctx.Err(); err != nil {
			return 0, err
		}

		n, peer, err := conn.ReadFrom(buf)
		if err != nil {
			if netErr, ok := err.(net.Error); ok && netErr.Timeout() {
				return 0, fmt.Errorf("no echo reply: %w", err)
			}
			return 0, err
		}
		if peer == nil {
			continue
		}

		reply, err := icmp.ParseMessage(protocol, buf[:n])
		if err != nil {
			continue
		}
		if reply.Type != replyType {
			continue
		}
		body, ok := reply.Body.(*icmp.Echo)
		if !ok {
			continue
		}
		// Skip replies belonging to other processes or stale sequences.
		if body.ID != p.id || body.Seq != seq {
			continue
		}

		return time.Since(start), nil
	}
}

func resolveIP(host string) (*net.IPAddr, net.IP, error) {
	ipAddr, err := net.ResolveIPAddr("ip", host)
	if err != nil {
		return nil, nil, err
	}
	if ipAddr.IP == nil {
		return nil, nil, fmt.Errorf("invalid IP address: %s", host)
	}
	return ipAddr, ipAddr.IP, nil
}

func icmpSettings(ip net.IP) (network string, protocol int, requestType icmp.Type, replyType icmp.Type) {
	if ip.To4() != nil {
		return "ip4:icmp", ipv4.ICMPTypeEcho.Protocol(), ipv4.ICMPTypeEcho, ipv4.ICMPTypeEchoReply
	}
	return "ip6:ipv6-icmp", ipv6.ICMPTypeEchoRequest.Protocol(), ipv6.ICMPTypeEchoRequest, ipv6.ICMPTypeEchoReply
}

func effectiveDeadline(ctx context.Context, timeout time.Duration) time.Time {
	deadline := time.Now().Add(timeout)
	if ctxDeadline, ok := ctx.Deadline(); ok && ctxDeadline.Before(deadline) {
		return ctxDeadline
	}
	return deadline
}
