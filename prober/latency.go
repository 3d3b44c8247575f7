// Package prober implements the two active probes (C8): ICMP latency and
// UDP throughput. Both run in their own execution context, independent of
// the capture path.
package prober

import (
	"context"
	"fmt"
	"math"
	"net"
	"os"
	"time"

	"golang.org/x/net/icmp"
	"golang.org/x/net/ipv4"
)

// PingResult is one streamed latency sample.
type PingResult struct {
	Seq     int     `json:"seq"`
	Success bool    `json:"success"`
	RTTMs   float64 `json:"rtt_ms,omitempty"`
	Error   string  `json:"error,omitempty"`
}

// PingSummary is the final latency-probe event.
type PingSummary struct {
	MinMs       float64 `json:"min_ms"`
	AvgMs       float64 `json:"avg_ms"`
	MaxMs       float64 `json:"max_ms"`
	LossPercent float64 `json:"loss_percent"`
	JitterMs    float64 `json:"jitter_ms"`
}

// RunLatency sends count ICMP echoes to target at the given interval,
// invoking onResult for each and returning the final summary. It respects
// ctx cancellation within one interval (subscriber disconnect).
func RunLatency(ctx context.Context, target string, count int, interval time.Duration, onResult func(PingResult)) (PingSummary, error) {
	conn, err := icmp.ListenPacket("udp4", "0.0.0.0")
	if err != nil {
		return PingSummary{}, fmt.Errorf("probe socket failed: %w", err)
	}
	defer conn.Close()

	resolved, err := net.ResolveIPAddr("ip4", target)
	if err != nil {
		return PingSummary{}, fmt.Errorf("target unresolved: %w", err)
	}
	// A datagram ("udp4") ICMP socket takes a *net.UDPAddr destination.
	dst := &net.UDPAddr{IP: resolved.IP}

	id := os.Getpid() & 0xffff
	var rtts []float64
	var successes, failures int

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for seq := 1; seq <= count; seq++ {
		select {
		case <-ctx.Done():
			return summarize(rtts, successes, failures), ctx.Err()
		default:
		}

		rtt, err := pingOnce(conn, dst, id, seq)
		if err != nil {
			failures++
			onResult(PingResult{Seq: seq, Success: false, Error: err.Error()})
		} else {
			successes++
			rtts = append(rtts, rtt)
			onResult(PingResult{Seq: seq, Success: true, RTTMs: rtt})
		}

		if seq < count {
			select {
			case <-ticker.C:
			case <-ctx.Done():
				return summarize(rtts, successes, failures), ctx.Err()
			}
		}
	}

	return summarize(rtts, successes, failures), nil
}

func pingOnce(conn *icmp.PacketConn, dst net.Addr, id, seq int) (float64, error) {
	payload := make([]byte, 16)
	msg := icmp.Message{
		Type: ipv4.ICMPTypeEcho, Code: 0,
		Body: &icmp.Echo{ID: id, Seq: seq, Data: payload},
	}
	wb, err := msg.Marshal(nil)
	if err != nil {
		return 0, err
	}

	start := time.Now()
	if _, err := conn.WriteTo(wb, dst); err != nil {
		return 0, fmt.Errorf("send: %w", err)
	}

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	rb := make([]byte, 1500)
	for {
		n, _, err := conn.ReadFrom(rb)
		if err != nil {
			return 0, fmt.Errorf("no reply: %w", err)
		}
		reply, err := icmp.ParseMessage(1, rb[:n]) // 1 = ICMPv4 protocol number
		if err != nil {
			continue
		}
		// The kernel may rewrite the echo identifier on a datagram ICMP
		// socket, so replies are matched by sequence number.
		echo, ok := reply.Body.(*icmp.Echo)
		if !ok || echo.Seq != seq {
			continue
		}
		return time.Since(start).Seconds() * 1000, nil
	}
}

// summarize computes min/avg/max/loss/jitter. Jitter is the mean of
// |rtt[i]-rtt[i-1]| over successful samples, per spec.md §4.8.
func summarize(rtts []float64, successes, failures int) PingSummary {
	total := successes + failures
	if len(rtts) == 0 {
		loss := 100.0
		if total == 0 {
			loss = 0
		}
		return PingSummary{LossPercent: loss}
	}

	min, max, sum := rtts[0], rtts[0], 0.0
	for _, v := range rtts {
		if v < min {
			min = v
		}
		if v > max {
			max = v
		}
		sum += v
	}
	avg := sum / float64(len(rtts))

	var jitterSum float64
	for i := 1; i < len(rtts); i++ {
		jitterSum += math.Abs(rtts[i] - rtts[i-1])
	}
	jitter := 0.0
	if len(rtts) > 1 {
		jitter = jitterSum / float64(len(rtts)-1)
	}

	loss := 0.0
	if total > 0 {
		loss = float64(failures) / float64(total) * 100
	}

	return PingSummary{MinMs: min, AvgMs: avg, MaxMs: max, LossPercent: loss, JitterMs: jitter}
}
