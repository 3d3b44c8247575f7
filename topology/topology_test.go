package topology

import (
	"sort"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"netscope/dissect"
)

func arpReplyRecord(ip, mac string) *dissect.Record {
	return &dissect.Record{
		Timestamp: time.Now(),
		Length:    42,
		Dissected: dissect.Dissected{
			SrcMAC: mac,
			HasARP: true,
			ARP: dissect.ARP{
				Operation: 2,
				SenderMAC: mac,
				SenderIP:  ip,
			},
			SrcIP:  ip,
			HasL3:  true,
			Classification: dissect.ClassARP,
		},
	}
}

func ipv4Record(srcMAC, srcIP, dstMAC, dstIP string) *dissect.Record {
	return &dissect.Record{
		Timestamp: time.Now(),
		Length:    100,
		Dissected: dissect.Dissected{
			SrcMAC: srcMAC,
			DstMAC: dstMAC,
			SrcIP:  srcIP,
			DstIP:  dstIP,
			HasL3:  true,
		},
	}
}

func TestARPThenIPv4CreatesNodesAndLink(t *testing.T) {
	m := New(nil)
	m.Observe(arpReplyRecord("10.0.0.1", "aa:bb:cc:dd:ee:01"))
	m.Observe(arpReplyRecord("10.0.0.2", "aa:bb:cc:dd:ee:02"))
	m.Observe(ipv4Record("aa:bb:cc:dd:ee:01", "10.0.0.1", "aa:bb:cc:dd:ee:02", "10.0.0.2"))

	nodes := m.Nodes()
	var gotIDs []string
	for _, n := range nodes {
		gotIDs = append(gotIDs, n.NodeID)
	}
	sort.Strings(gotIDs)
	wantIDs := []string{"mac:aa:bb:cc:dd:ee:01", "mac:aa:bb:cc:dd:ee:02"}
	if diff := cmp.Diff(wantIDs, gotIDs); diff != "" {
		t.Fatalf("node ids mismatch (-want +got):\n%s", diff)
	}

	links := m.Links()
	if len(links) != 1 {
		t.Fatalf("want 1 link, got %d", len(links))
	}
	gotLink := struct{ NodeA, NodeB string }{links[0].NodeA, links[0].NodeB}
	wantLink := struct{ NodeA, NodeB string }{"mac:aa:bb:cc:dd:ee:01", "mac:aa:bb:cc:dd:ee:02"}
	if diff := cmp.Diff(wantLink, gotLink); diff != "" {
		t.Fatalf("link endpoints mismatch (-want +got):\n%s", diff)
	}
	if links[0].Packets < 1 {
		t.Fatalf("want link packets >= 1")
	}
}

func TestIPOnlyNodeMergesWhenMACAppears(t *testing.T) {
	m := New(nil)
	// IP-only observation first (e.g. an IP packet with a MAC we drop).
	rec := &dissect.Record{
		Timestamp: time.Now(),
		Dissected: dissect.Dissected{SrcIP: "10.0.0.9", HasL3: true},
	}
	m.Observe(rec)

	if len(m.Nodes()) != 1 {
		t.Fatalf("want 1 ip-keyed node")
	}

	m.Observe(arpReplyRecord("10.0.0.9", "11:22:33:44:55:66"))

	nodes := m.Nodes()
	if len(nodes) != 1 {
		t.Fatalf("want merge into 1 node, got %d", len(nodes))
	}
	want := struct {
		NodeID string
		IPs    []string
	}{"mac:11:22:33:44:55:66", []string{"10.0.0.9"}}
	got := struct {
		NodeID string
		IPs    []string
	}{nodes[0].NodeID, nodes[0].IPs}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Fatalf("merged node mismatch (-want +got):\n%s", diff)
	}
}

func TestBroadcastClassification(t *testing.T) {
	m := New(nil)
	rec := &dissect.Record{
		Timestamp: time.Now(),
		Dissected: dissect.Dissected{SrcMAC: "ff:ff:ff:ff:ff:ff"},
	}
	m.Observe(rec)
	nodes := m.Nodes()
	if len(nodes) != 1 || nodes[0].Type != NodeBroadcast {
		t.Fatalf("want broadcast classification, got %+v", nodes)
	}
}

func TestLLDPBridgeCapabilityMarksSwitch(t *testing.T) {
	m := New(nil)
	m.Observe(ipv4Record("aa:bb:cc:dd:ee:01", "10.0.0.1", "aa:bb:cc:dd:ee:02", "10.0.0.2"))

	lldp := &dissect.Record{
		Timestamp: time.Now(),
		Length:    60,
		Dissected: dissect.Dissected{
			SrcMAC:  "aa:bb:cc:dd:ee:01",
			HasLLDP: true,
			LLDP: dissect.LLDP{
				ChassisID:           "aa:bb:cc:dd:ee:01",
				EnabledCapabilities: []string{"bridge"},
			},
			Classification: dissect.ClassLLDP,
		},
	}
	m.Observe(lldp)

	nodes := m.Nodes()
	var found bool
	for _, n := range nodes {
		if n.NodeID == "mac:aa:bb:cc:dd:ee:01" {
			found = true
			if n.Type != NodeSwitch {
				t.Fatalf("want switch classification, got %s", n.Type)
			}
		}
	}
	if !found {
		t.Fatalf("expected node mac:aa:bb:cc:dd:ee:01 to exist")
	}

	// Classification sticks across a later, otherwise-reclassifying observation.
	m.Observe(ipv4Record("aa:bb:cc:dd:ee:01", "10.0.0.1", "aa:bb:cc:dd:ee:02", "10.0.0.2"))
	for _, n := range m.Nodes() {
		if n.NodeID == "mac:aa:bb:cc:dd:ee:01" && n.Type != NodeSwitch {
			t.Fatalf("want switch classification to stick, got %s", n.Type)
		}
	}
}

func TestLLDPRouterCapabilityTakesPriorityOverBridge(t *testing.T) {
	m := New(nil)
	m.Observe(ipv4Record("aa:bb:cc:dd:ee:03", "10.0.0.3", "aa:bb:cc:dd:ee:04", "10.0.0.4"))

	lldp := &dissect.Record{
		Timestamp: time.Now(),
		Dissected: dissect.Dissected{
			SrcMAC:  "aa:bb:cc:dd:ee:03",
			HasLLDP: true,
			LLDP:    dissect.LLDP{EnabledCapabilities: []string{"bridge", "router"}},
		},
	}
	m.Observe(lldp)

	for _, n := range m.Nodes() {
		if n.NodeID == "mac:aa:bb:cc:dd:ee:03" && n.Type != NodeRouter {
			t.Fatalf("want router classification to take priority, got %s", n.Type)
		}
	}
}

func TestClearRemovesAllState(t *testing.T) {
	m := New(nil)
	m.Observe(arpReplyRecord("10.0.0.1", "aa:bb:cc:dd:ee:01"))
	m.Clear()
	if len(m.Nodes()) != 0 || len(m.Links()) != 0 {
		t.Fatalf("want empty state after Clear")
	}
}
