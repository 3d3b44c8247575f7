package engine

import (
	"testing"
	"time"

	"netscope/config"
	"netscope/dissect"
)

func testEngine(t *testing.T) *Engine {
	eng := New(config.Default())
	t.Cleanup(eng.Shutdown)
	return eng
}

func TestCounterSinkAccumulatesPacketsAndBytes(t *testing.T) {
	eng := testEngine(t)
	rec := &dissect.Record{Length: 64}

	counterSink{eng}.Observe(rec)
	counterSink{eng}.Observe(rec)

	st := eng.Status()
	if st.PacketsCaptured != 2 {
		t.Fatalf("want 2 packets, got %d", st.PacketsCaptured)
	}
	if st.BytesCaptured != 128 {
		t.Fatalf("want 128 bytes, got %d", st.BytesCaptured)
	}
}

func TestClearResetsRingStatsTopologyAndCounters(t *testing.T) {
	eng := testEngine(t)
	rec := dissect.Record{
		Timestamp: time.Now(),
		Length:    64,
		Dissected: dissect.Dissected{
			HasL3: true, SrcIP: "10.0.0.1", DstIP: "10.0.0.2",
			HasL4: true, L4Proto: "UDP",
		},
	}

	eng.pushAndCount(rec)
	eng.Topology.Observe(&rec)
	eng.Stats.Observe(&rec)
	counterSink{eng}.Observe(&rec)

	if eng.Ring.Len() != 1 {
		t.Fatalf("want 1 record in ring before clear, got %d", eng.Ring.Len())
	}

	eng.Clear()

	if eng.Ring.Len() != 0 {
		t.Fatalf("want empty ring after clear, got %d", eng.Ring.Len())
	}
	if len(eng.Topology.Nodes()) != 0 {
		t.Fatalf("want empty topology after clear")
	}
	st := eng.Status()
	if st.PacketsCaptured != 0 || st.BytesCaptured != 0 {
		t.Fatalf("want zeroed counters after clear, got %+v", st)
	}
}

func TestBusSinkPublishesToSubscribers(t *testing.T) {
	eng := testEngine(t)
	sub := eng.Bus.Subscribe()
	defer eng.Bus.Unsubscribe(sub.ID)

	rec := &dissect.Record{Length: 32}
	busSink{eng.Bus}.Observe(rec)

	select {
	case ev := <-sub.Recv():
		if ev.Record != rec {
			t.Fatalf("want the published record delivered unchanged")
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for published event")
	}
}
