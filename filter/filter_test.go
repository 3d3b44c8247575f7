package filter

import (
	"testing"
	"time"

	"netscope/dissect"
)

func rec(proto, srcIP, dstIP string, srcPort, dstPort uint16, hasTCP bool) *dissect.Record {
	d := dissect.Dissected{
		HasL3:      true,
		SrcIP:      srcIP,
		DstIP:      dstIP,
		IPProtocol: 17,
		L4Proto:    proto,
		SrcPort:    srcPort,
		DstPort:    dstPort,
		HasL4:      true,
	}
	if hasTCP {
		d.HasTCP = true
		d.IPProtocol = 6
	}
	return &dissect.Record{Timestamp: time.Now(), Dissected: d}
}

func TestEmptyFilterMatchesAll(t *testing.T) {
	p, err := Compile("")
	if err != nil {
		t.Fatal(err)
	}
	if !p.Match(rec("UDP", "1.1.1.1", "2.2.2.2", 1, 2, false)) {
		t.Fatal("empty filter should match everything")
	}
}

func TestTCPAndPortConjunction(t *testing.T) {
	p, err := Compile("tcp && port==443")
	if err != nil {
		t.Fatal(err)
	}
	match := rec("TCP", "10.0.0.1", "10.0.0.2", 51000, 443, true)
	nomatch := rec("TCP", "10.0.0.1", "10.0.0.2", 51000, 80, true)
	if !p.Match(match) {
		t.Fatal("expected match for tcp port 443")
	}
	if p.Match(nomatch) {
		t.Fatal("expected no match for tcp port 80")
	}
}

func TestIPAddrCIDR(t *testing.T) {
	p, err := Compile("ip.addr==10.0.0.0/24")
	if err != nil {
		t.Fatal(err)
	}
	in := rec("UDP", "10.0.0.5", "8.8.8.8", 1, 2, false)
	out := rec("UDP", "192.168.1.5", "8.8.8.8", 1, 2, false)
	if !p.Match(in) {
		t.Fatal("expected 10.0.0.5 to be in 10.0.0.0/24")
	}
	if p.Match(out) {
		t.Fatal("expected 192.168.1.5 to not match")
	}
}

func TestParseFailureMatchesNothing(t *testing.T) {
	p, err := Compile("port==notanumber")
	if err == nil {
		t.Fatal("expected a surfaceable error")
	}
	if p.Match(rec("UDP", "1.1.1.1", "2.2.2.2", 1, 2, false)) {
		t.Fatal("a failed compile must match nothing")
	}
}

func TestUnknownKeywordSubstringFallback(t *testing.T) {
	p, err := Compile("dns")
	if err != nil {
		t.Fatal(err)
	}
	r := rec("DNS", "1.1.1.1", "2.2.2.2", 53, 51000, false)
	if !p.Match(r) {
		t.Fatal("expected substring fallback to match protocol label")
	}
}
