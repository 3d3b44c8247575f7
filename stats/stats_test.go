package stats

import (
	"testing"
	"time"

	"netscope/dissect"
)

func udpRecord(srcIP, dstIP string, dstPort uint16, length int) *dissect.Record {
	return &dissect.Record{
		Timestamp: time.Now(),
		Length:    length,
		Dissected: dissect.Dissected{
			HasL3: true, SrcIP: srcIP, DstIP: dstIP,
			HasL4: true, L4Proto: "UDP", DstPort: dstPort,
		},
	}
}

func newTestAggregator() *Aggregator {
	a := New()
	a.Close() // stop the real-time ticker; tests sample synchronously
	return a
}

func TestCountersNeverDecrementExceptClear(t *testing.T) {
	a := newTestAggregator()
	a.Observe(udpRecord("10.0.0.1", "10.0.0.2", 9999, 100))
	a.Observe(udpRecord("10.0.0.1", "10.0.0.2", 9999, 100))
	snap := a.Snapshot()
	if snap.ProtocolCounts["UDP"] != 2 {
		t.Fatalf("want 2 UDP packets, got %d", snap.ProtocolCounts["UDP"])
	}
	a.Clear()
	snap2 := a.Snapshot()
	if snap2.ProtocolCounts["UDP"] != 0 {
		t.Fatalf("want 0 after clear, got %d", snap2.ProtocolCounts["UDP"])
	}
}

func TestHistogramBuckets(t *testing.T) {
	a := newTestAggregator()
	a.Observe(udpRecord("1.1.1.1", "2.2.2.2", 1, 50))
	a.Observe(udpRecord("1.1.1.1", "2.2.2.2", 1, 2000))
	snap := a.Snapshot()
	if snap.SizeHistogram[0] != 1 {
		t.Fatalf("want 1 record in <=64 bucket, got %d", snap.SizeHistogram[0])
	}
	if snap.SizeHistogram[6] != 1 {
		t.Fatalf("want 1 record in >1518 bucket, got %d", snap.SizeHistogram[6])
	}
}

func TestConversationAggregation(t *testing.T) {
	a := newTestAggregator()
	a.Observe(udpRecord("10.0.0.1", "10.0.0.2", 9999, 64))
	a.Observe(udpRecord("10.0.0.2", "10.0.0.1", 9999, 64))
	snap := a.Snapshot()
	if len(snap.TopConversations) != 1 {
		t.Fatalf("want 1 conversation for the unordered pair, got %d", len(snap.TopConversations))
	}
	if snap.TopConversations[0].Packets != 2 {
		t.Fatalf("want 2 packets aggregated, got %d", snap.TopConversations[0].Packets)
	}
}
