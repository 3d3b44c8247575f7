// Package filter compiles display-filter expressions into a predicate value
// that is applied to dissected records. Compilation happens once; evaluation
// per record is O(1) against the compiled predicate tree.
package filter

import (
	"fmt"
	"net"
	"strconv"
	"strings"

	"github.com/yl2chen/cidranger"

	"netscope/dissect"
)

// Predicate is a compiled filter. Match reports whether a record satisfies
// it. A Predicate is safe for concurrent use by many readers.
type Predicate struct {
	src    string
	match  func(r *dissect.Record) bool
}

// String returns the original filter source, for diagnostics.
func (p Predicate) String() string { return p.src }

// Match applies the predicate to a record.
func (p Predicate) Match(r *dissect.Record) bool {
	if p.match == nil {
		return true
	}
	return p.match(r)
}

// cidrEntry adapts a net.IPNet to cidranger.RangerEntry.
type cidrEntry struct {
	net.IPNet
}

func (c cidrEntry) Network() net.IPNet { return c.IPNet }

var protocolKeywords = map[string]func(*dissect.Record) bool{
	"tcp":  func(r *dissect.Record) bool { return r.Dissected.HasTCP },
	"udp":  func(r *dissect.Record) bool { return r.Dissected.HasL4 && r.Dissected.L4Proto != "" && !r.Dissected.HasTCP && r.Dissected.HasL3 && isUDPProto(r) },
	"icmp": func(r *dissect.Record) bool { return r.Dissected.HasICMP },
	"arp":  func(r *dissect.Record) bool { return r.Dissected.HasARP },
	"vlan": func(r *dissect.Record) bool { return r.Dissected.HasVLAN },
	"ptp":  func(r *dissect.Record) bool { return r.Dissected.HasPTP },
	"lldp": func(r *dissect.Record) bool { return r.Dissected.Classification == dissect.ClassLLDP },
}

func isUDPProto(r *dissect.Record) bool {
	return r.Dissected.IPProtocol == 17
}

// Compile parses a filter expression into a Predicate. An empty string
// matches everything. A syntax error yields a Predicate matching nothing
// plus a non-nil error the caller can surface.
func Compile(src string) (Predicate, error) {
	trimmed := strings.TrimSpace(src)
	if trimmed == "" {
		return Predicate{src: src, match: nil}, nil
	}

	clauses := strings.Split(trimmed, "&&")
	matchers := make([]func(*dissect.Record) bool, 0, len(clauses))
	for _, clause := range clauses {
		clause = strings.TrimSpace(clause)
		if clause == "" {
			return nothingPredicate(src), fmt.Errorf("filter: empty clause in %q", src)
		}
		m, err := compileClause(clause)
		if err != nil {
			return nothingPredicate(src), err
		}
		matchers = append(matchers, m)
	}

	return Predicate{
		src: src,
		match: func(r *dissect.Record) bool {
			for _, m := range matchers {
				if !m(r) {
					return false
				}
			}
			return true
		},
	}, nil
}

func nothingPredicate(src string) Predicate {
	return Predicate{src: src, match: func(*dissect.Record) bool { return false }}
}

func compileClause(clause string) (func(*dissect.Record) bool, error) {
	if m, ok := protocolKeywords[strings.ToLower(clause)]; ok {
		return m, nil
	}

	if eq := strings.Index(clause, "=="); eq >= 0 {
		key := strings.TrimSpace(clause[:eq])
		val := strings.TrimSpace(clause[eq+2:])
		return compileEquality(key, val)
	}

	// Unknown keyword: explicit substring fallback over a stringified view
	// of the record, not an accident — lets partial UI input show results.
	needle := strings.ToLower(clause)
	return func(r *dissect.Record) bool {
		return strings.Contains(strings.ToLower(stringify(r)), needle)
	}, nil
}

func compileEquality(key, val string) (func(*dissect.Record) bool, error) {
	switch strings.ToLower(key) {
	case "ip.addr":
		ranger, err := cidrRangerFor(val)
		if err != nil {
			return nil, err
		}
		return func(r *dissect.Record) bool {
			return ipInRanger(ranger, r.Dissected.SrcIP) || ipInRanger(ranger, r.Dissected.DstIP)
		}, nil
	case "ip.src":
		ranger, err := cidrRangerFor(val)
		if err != nil {
			return nil, err
		}
		return func(r *dissect.Record) bool { return ipInRanger(ranger, r.Dissected.SrcIP) }, nil
	case "ip.dst":
		ranger, err := cidrRangerFor(val)
		if err != nil {
			return nil, err
		}
		return func(r *dissect.Record) bool { return ipInRanger(ranger, r.Dissected.DstIP) }, nil
	case "port":
		n, err := strconv.ParseUint(val, 10, 16)
		if err != nil {
			return nil, fmt.Errorf("filter: bad port %q: %w", val, err)
		}
		port := uint16(n)
		return func(r *dissect.Record) bool {
			return r.Dissected.SrcPort == port || r.Dissected.DstPort == port
		}, nil
	default:
		return nil, fmt.Errorf("filter: unknown predicate key %q", key)
	}
}

// cidrRangerFor accepts a bare IP (compiled to a /32 or /128 entry) or an
// explicit CIDR, so CIDR and exact-match share one evaluation path.
func cidrRangerFor(val string) (cidranger.Ranger, error) {
	var cidr string
	if strings.Contains(val, "/") {
		cidr = val
	} else if strings.Contains(val, ":") {
		cidr = val + "/128"
	} else {
		cidr = val + "/32"
	}
	_, ipnet, err := net.ParseCIDR(cidr)
	if err != nil {
		return nil, fmt.Errorf("filter: bad address %q: %w", val, err)
	}
	r := cidranger.NewPCTrieRanger()
	if err := r.Insert(cidrEntry{*ipnet}); err != nil {
		return nil, err
	}
	return r, nil
}

func ipInRanger(r cidranger.Ranger, ip string) bool {
	if ip == "" {
		return false
	}
	parsed := net.ParseIP(ip)
	if parsed == nil {
		return false
	}
	ok, err := r.Contains(parsed)
	if err != nil {
		return false
	}
	return ok
}

func stringify(r *dissect.Record) string {
	d := r.Dissected
	return strings.Join([]string{
		d.SrcMAC, d.DstMAC, d.EthertypeName, d.SrcIP, d.DstIP, d.IPProtoName,
		d.L4Proto, strconv.Itoa(int(d.SrcPort)), strconv.Itoa(int(d.DstPort)),
		string(d.Classification),
	}, " ")
}
