package prober

import (
	"context"
	"encoding/binary"
	"fmt"
	"net"
	"time"
)

// defaultPayloadBytes is the UDP datagram payload size, per spec.md §4.8.
const defaultPayloadBytes = 1400

// ThroughputSample is one streamed per-second throughput measurement.
type ThroughputSample struct {
	Sec           int     `json:"sec"`
	BandwidthMbps float64 `json:"bandwidth_mbps"`
	TotalPackets  uint64  `json:"total_packets"`
}

// ThroughputSummary is the final throughput-probe event.
type ThroughputSummary struct {
	AvgBandwidthMbps float64 `json:"avg_bandwidth_mbps"`
	TotalPackets     uint64  `json:"total_packets"`
}

// RunThroughput sends fixed-size UDP datagrams to target for duration,
// paced with a token bucket to approximate bandwidthMbps. One-way UDP; loss
// is not measured.
func RunThroughput(ctx context.Context, target string, duration time.Duration, bandwidthMbps float64, onSample func(ThroughputSample)) (ThroughputSummary, error) {
	conn, err := net.Dial("udp", target)
	if err != nil {
		return ThroughputSummary{}, fmt.Errorf("probe socket failed: %w", err)
	}
	defer conn.Close()

	packetBits := float64(defaultPayloadBytes * 8)
	targetPPS := bandwidthMbps * 1_000_000 / packetBits

	bucket := newTokenBucket(targetPPS)
	payload := make([]byte, defaultPayloadBytes)

	var seq uint64
	var totalPackets uint64
	secondTicker := time.NewTicker(time.Second)
	defer secondTicker.Stop()

	deadline := time.Now().Add(duration)
	sec := 0
	packetsThisSecond := uint64(0)

	for time.Now().Before(deadline) {
		select {
		case <-ctx.Done():
			return finalSummary(totalPackets, sec), ctx.Err()
		case <-secondTicker.C:
			sec++
			mbps := float64(packetsThisSecond) * packetBits / 1_000_000
			onSample(ThroughputSample{Sec: sec, BandwidthMbps: mbps, TotalPackets: totalPackets})
			packetsThisSecond = 0
			continue
		default:
		}

		if !bucket.Take() {
			time.Sleep(time.Millisecond)
			continue
		}

		binary.BigEndian.PutUint64(payload[0:8], seq)
		binary.BigEndian.PutUint64(payload[8:16], uint64(time.Now().UnixNano()))
		if _, err := conn.Write(payload); err != nil {
			continue
		}
		seq++
		totalPackets++
		packetsThisSecond++
	}

	return finalSummary(totalPackets, sec+1), nil
}

func finalSummary(totalPackets uint64, seconds int) ThroughputSummary {
	if seconds <= 0 {
		seconds = 1
	}
	avgMbps := float64(totalPackets) * defaultPayloadBytes * 8 / 1_000_000 / float64(seconds)
	return ThroughputSummary{AvgBandwidthMbps: avgMbps, TotalPackets: totalPackets}
}

// tokenBucket paces packet sends to approximate a target rate. Capacity is
// one burst-interval's worth of tokens, refilled continuously.
type tokenBucket struct {
	ratePerSec float64
	capacity   float64
	tokens     float64
	last       time.Time
}

func newTokenBucket(ratePerSec float64) *tokenBucket {
	if ratePerSec <= 0 {
		ratePerSec = 1
	}
	return &tokenBucket{
		ratePerSec: ratePerSec,
		capacity:   ratePerSec / 10, // one 100ms burst
		tokens:     0,
		last:       time.Now(),
	}
}

func (b *tokenBucket) Take() bool {
	now := time.Now()
	elapsed := now.Sub(b.last).Seconds()
	b.last = now
	b.tokens += elapsed * b.ratePerSec
	if b.tokens > b.capacity {
		b.tokens = b.capacity
	}
	if b.tokens < 1 {
		return false
	}
	b.tokens--
	return true
}
