package dissect

import (
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
)

func ethHeader(dst, src [6]byte, ethertype uint16) []byte {
	b := make([]byte, 14)
	copy(b[0:6], dst[:])
	copy(b[6:12], src[:])
	b[12] = byte(ethertype >> 8)
	b[13] = byte(ethertype)
	return b
}

func TestEthernetOnlyFrame(t *testing.T) {
	dst := [6]byte{0x00, 0x11, 0x22, 0x33, 0x44, 0x55}
	src := [6]byte{0x66, 0x77, 0x88, 0x99, 0xaa, 0xbb}
	frame := ethHeader(dst, src, 0x9999)

	rec := Dissect(frame, len(frame), time.Now())
	if rec.Dissected.Classification != ClassOrdinary {
		t.Fatalf("want ordinary, got %s", rec.Dissected.Classification)
	}
	if rec.Dissected.HasL3 {
		t.Fatalf("expected no L3 fields for unknown ethertype")
	}
	if rec.Dissected.DstMAC == "" || rec.Dissected.SrcMAC == "" {
		t.Fatalf("expected MACs to be populated")
	}
}

func TestTruncatedIPv4IHLOverflow(t *testing.T) {
	dst := [6]byte{1, 2, 3, 4, 5, 6}
	src := [6]byte{6, 5, 4, 3, 2, 1}
	frame := ethHeader(dst, src, etherIPv4)
	ip := make([]byte, 20)
	ip[0] = 0x4F // version 4, IHL 15 (60 bytes) but we only supply 20
	frame = append(frame, ip...)

	rec := Dissect(frame, len(frame), time.Now())
	if rec.Dissected.Classification != ClassTruncated {
		t.Fatalf("want truncated, got %s", rec.Dissected.Classification)
	}
}

func TestUDPPortHeuristicAboveThresholdIgnored(t *testing.T) {
	dst := [6]byte{1, 2, 3, 4, 5, 6}
	src := [6]byte{6, 5, 4, 3, 2, 1}
	frame := ethHeader(dst, src, etherIPv4)
	ip := buildIPv4Header(17, 28)
	udp := buildUDPHeader(9999, 9999, 8)
	frame = append(frame, ip...)
	frame = append(frame, udp...)

	rec := Dissect(frame, len(frame), time.Now())
	if rec.Dissected.L4Proto != "UDP" {
		t.Fatalf("expected plain UDP label for high ports, got %q", rec.Dissected.L4Proto)
	}
}

func TestUDPPortHeuristicDNS(t *testing.T) {
	dst := [6]byte{1, 2, 3, 4, 5, 6}
	src := [6]byte{6, 5, 4, 3, 2, 1}
	frame := ethHeader(dst, src, etherIPv4)
	ip := buildIPv4Header(17, 28)
	udp := buildUDPHeader(53, 12345, 8)
	frame = append(frame, ip...)
	frame = append(frame, udp...)

	rec := Dissect(frame, len(frame), time.Now())
	if rec.Dissected.L4Proto != "DNS" {
		t.Fatalf("want DNS label, got %q", rec.Dissected.L4Proto)
	}
}

func TestMalformedNeverPanics(t *testing.T) {
	defer func() {
		if r := recover(); r != nil {
			t.Fatalf("Dissect panicked: %v", r)
		}
	}()
	for i := 0; i < 20; i++ {
		frame := make([]byte, i)
		Dissect(frame, i, time.Now())
	}
}

func TestBroadcastAndMulticastDerivation(t *testing.T) {
	dst := [6]byte{0xFF, 0xFF, 0xFF, 0xFF, 0xFF, 0xFF}
	src := [6]byte{1, 2, 3, 4, 5, 6}
	frame := ethHeader(dst, src, 0x9999)
	rec := Dissect(frame, len(frame), time.Now())
	if !rec.Dissected.IsBroadcast {
		t.Fatalf("expected broadcast derivation from all-ones MAC")
	}

	mcast := [6]byte{0x01, 0x00, 0x5e, 0x00, 0x00, 0x01}
	frame2 := ethHeader(mcast, src, 0x9999)
	rec2 := Dissect(frame2, len(frame2), time.Now())
	if !rec2.Dissected.IsMulticast {
		t.Fatalf("expected multicast derivation from LSB-set MAC")
	}
}

func TestLLDPCapabilitiesTLV(t *testing.T) {
	dst := [6]byte{0x01, 0x80, 0xc2, 0x00, 0x00, 0x0e} // LLDP nearest-bridge group MAC
	src := [6]byte{0xaa, 0xbb, 0xcc, 0x11, 0x22, 0x33}
	frame := ethHeader(dst, src, etherLLDP)

	chassisID := lldpTLV(lldpTLVChassisID, append([]byte{4}, src[:]...)) // subtype 4: MAC address
	portID := lldpTLV(lldpTLVPortID, append([]byte{7}, []byte("eth0")...))
	ttl := lldpTLV(lldpTLVTTL, []byte{0x00, 0x78})
	caps := lldpTLV(lldpTLVSystemCapabilities, []byte{0x00, 0x14, 0x00, 0x04}) // bridge+router advertised, bridge enabled
	end := lldpTLV(lldpTLVEnd, nil)

	frame = append(frame, chassisID...)
	frame = append(frame, portID...)
	frame = append(frame, ttl...)
	frame = append(frame, caps...)
	frame = append(frame, end...)

	rec := Dissect(frame, len(frame), time.Now())
	if rec.Dissected.Classification != ClassLLDP {
		t.Fatalf("want lldp classification, got %s", rec.Dissected.Classification)
	}
	if !rec.Dissected.HasLLDP {
		t.Fatalf("expected HasLLDP")
	}
	if rec.Dissected.LLDP.ChassisID != macString(src[:]) {
		t.Fatalf("want chassis id %s, got %s", macString(src[:]), rec.Dissected.LLDP.ChassisID)
	}
	if rec.Dissected.LLDP.PortID != "eth0" {
		t.Fatalf("want port id eth0, got %q", rec.Dissected.LLDP.PortID)
	}
	if len(rec.Dissected.LLDP.EnabledCapabilities) != 1 || rec.Dissected.LLDP.EnabledCapabilities[0] != "bridge" {
		t.Fatalf("want enabled capabilities [bridge], got %v", rec.Dissected.LLDP.EnabledCapabilities)
	}
	foundRouter := false
	for _, c := range rec.Dissected.LLDP.Capabilities {
		if c == "router" {
			foundRouter = true
		}
	}
	if !foundRouter {
		t.Fatalf("want router among advertised capabilities, got %v", rec.Dissected.LLDP.Capabilities)
	}
}

// lldpTLV builds one LLDP TLV: a 2-byte (type<<9 | length) header plus value.
func lldpTLV(tlvType uint8, value []byte) []byte {
	header := uint16(tlvType)<<9 | uint16(len(value))
	b := []byte{byte(header >> 8), byte(header)}
	return append(b, value...)
}

func TestARPFieldsExact(t *testing.T) {
	dst := [6]byte{1, 2, 3, 4, 5, 6}
	src := [6]byte{6, 5, 4, 3, 2, 1}
	frame := ethHeader(dst, src, etherARP)
	senderMAC := [6]byte{0xaa, 0xbb, 0xcc, 0xdd, 0xee, 0x01}
	targetMAC := [6]byte{0xaa, 0xbb, 0xcc, 0xdd, 0xee, 0x02}
	frame = append(frame, buildARPHeader(2, senderMAC, [4]byte{10, 0, 0, 1}, targetMAC, [4]byte{10, 0, 0, 2})...)

	rec := Dissect(frame, len(frame), time.Now())
	want := ARP{
		Operation: 2,
		SenderMAC: "aa:bb:cc:dd:ee:01",
		SenderIP:  "10.0.0.1",
		TargetMAC: "aa:bb:cc:dd:ee:02",
		TargetIP:  "10.0.0.2",
	}
	if diff := cmp.Diff(want, rec.Dissected.ARP); diff != "" {
		t.Fatalf("ARP fields mismatch (-want +got):\n%s", diff)
	}
}

// buildARPHeader builds a 28-byte ARP payload with the fields dissectARP
// reads (hardware/protocol type and lengths are left zero, unused here).
func buildARPHeader(op uint16, senderMAC [6]byte, senderIP [4]byte, targetMAC [6]byte, targetIP [4]byte) []byte {
	b := make([]byte, 28)
	b[6] = byte(op >> 8)
	b[7] = byte(op)
	copy(b[8:14], senderMAC[:])
	copy(b[14:18], senderIP[:])
	copy(b[18:24], targetMAC[:])
	copy(b[24:28], targetIP[:])
	return b
}

// buildIPv4Header builds a minimal 20-byte IPv4 header with the given
// protocol and total length, source/dest left as zero addresses.
func buildIPv4Header(proto uint8, totalLen uint16) []byte {
	b := make([]byte, 20)
	b[0] = 0x45 // version 4, IHL 5
	b[2] = byte(totalLen >> 8)
	b[3] = byte(totalLen)
	b[8] = 64 // TTL
	b[9] = proto
	copy(b[12:16], []byte{10, 0, 0, 1})
	copy(b[16:20], []byte{10, 0, 0, 2})
	return b
}

func buildUDPHeader(srcPort, dstPort uint16, length uint16) []byte {
	b := make([]byte, 8)
	b[0] = byte(srcPort >> 8)
	b[1] = byte(srcPort)
	b[2] = byte(dstPort >> 8)
	b[3] = byte(dstPort)
	b[4] = byte(length >> 8)
	b[5] = byte(length)
	return b
}
