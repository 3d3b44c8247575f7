// Package topology maintains the derived device/link graph (C6): it upserts
// nodes and links from dissected records, classifies them with heuristics,
// and expires stale entries once per second.
package topology

import (
	"net"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/yl2chen/cidranger"

	"netscope/dissect"
	"netscope/log"
)

type NodeType string

const (
	NodeHost      NodeType = "host"
	NodeGateway   NodeType = "gateway"
	NodeSwitch    NodeType = "switch"
	NodeRouter    NodeType = "router"
	NodeBroadcast NodeType = "broadcast"
	NodeMulticast NodeType = "multicast"
	NodeUnknown   NodeType = "unknown"
)

// DefaultIdleThreshold is the duration after last_seen past which a
// topology entity is expired.
const DefaultIdleThreshold = 5 * time.Minute

// DefaultTopN caps reported nodes by total packet volume.
const DefaultTopN = 50

// Node is one topology device.
type Node struct {
	NodeID     string
	MAC        string
	IPs        map[string]struct{}
	Vendor     string
	Type       NodeType
	PacketsIn  uint64
	PacketsOut uint64
	BytesIn    uint64
	BytesOut   uint64
	FirstSeen  time.Time
	LastSeen   time.Time
}

// NodeSnapshot is the read-only view returned by Nodes().
type NodeSnapshot struct {
	NodeID     string    `json:"node_id"`
	MAC        string    `json:"mac,omitempty"`
	IPs        []string  `json:"ips"`
	Vendor     string    `json:"vendor,omitempty"`
	Type       NodeType  `json:"node_type"`
	PacketsIn  uint64    `json:"packets_in"`
	PacketsOut uint64    `json:"packets_out"`
	BytesIn    uint64    `json:"bytes_in"`
	BytesOut   uint64    `json:"bytes_out"`
	FirstSeen  time.Time `json:"first_seen"`
	LastSeen   time.Time `json:"last_seen"`
}

// Link is a bidirectional edge between two nodes.
type Link struct {
	A, B         string
	PacketsAtoB  uint64
	PacketsBtoA  uint64
	BytesAtoB    uint64
	BytesBtoA    uint64
	LastSeen     time.Time
}

// LinkSnapshot is the read-only view returned by Links().
type LinkSnapshot struct {
	NodeA    string    `json:"node_a"`
	NodeB    string    `json:"node_b"`
	Packets  uint64    `json:"packets"`
	Bytes    uint64    `json:"bytes"`
	LastSeen time.Time `json:"last_seen"`
}

// Maintainer owns node/link state behind one lock.
type Maintainer struct {
	mu            sync.Mutex
	nodes         map[string]*Node
	ipToNode      map[string]string // IP -> node_id, for IP-only nodes pending a MAC merge
	links         map[string]*Link
	idleThreshold time.Duration
	topN          int
	oui           *OUIDatabase
	privateRanger cidranger.Ranger
	lastWarn      map[string]time.Time
}

// New constructs a Maintainer with the default idle threshold and top-N cap.
func New(oui *OUIDatabase) *Maintainer {
	m := &Maintainer{
		nodes:         make(map[string]*Node),
		ipToNode:      make(map[string]string),
		links:         make(map[string]*Link),
		idleThreshold: DefaultIdleThreshold,
		topN:          DefaultTopN,
		oui:           oui,
		lastWarn:      make(map[string]time.Time),
	}
	m.privateRanger = cidranger.NewPCTrieRanger()
	for _, cidr := range []string{"10.0.0.0/8", "172.16.0.0/12", "192.168.0.0/16"} {
		_, ipnet, _ := net.ParseCIDR(cidr)
		m.privateRanger.Insert(cidrEntry{*ipnet})
	}
	return m
}

type cidrEntry struct{ net.IPNet }

func (c cidrEntry) Network() net.IPNet { return c.IPNet }

// Observe updates node/link state from one dissected record. Records with no
// usable L2/L3 address are ignored.
func (m *Maintainer) Observe(rec *dissect.Record) {
	d := rec.Dissected
	if d.SrcMAC == "" && d.SrcIP == "" {
		return
	}
	now := rec.Timestamp
	if now.IsZero() {
		now = time.Now()
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	srcID := m.upsertLocked(d.SrcMAC, d.SrcIP, now, rec.Length, true)
	var dstID string
	if d.DstMAC != "" || d.DstIP != "" {
		dstID = m.upsertLocked(d.DstMAC, d.DstIP, now, rec.Length, false)
	}

	if srcID != "" && dstID != "" && srcID != dstID {
		m.updateLinkLocked(srcID, dstID, rec.Length, now)
	}

	if d.HasLLDP && d.SrcMAC != "" {
		m.applyLLDPCapabilitiesLocked(d.SrcMAC, d.LLDP.EnabledCapabilities)
	}
}

// applyLLDPCapabilitiesLocked marks the sender switch or router per spec.md
// §4.6: "switch/router: inferred only from LLDP chassis TLVs when present."
// A router capability takes priority over a bridge one when both are set.
func (m *Maintainer) applyLLDPCapabilitiesLocked(mac string, capabilities []string) {
	hasCap := func(name string) bool {
		for _, c := range capabilities {
			if c == name {
				return true
			}
		}
		return false
	}
	switch {
	case hasCap("router"):
		m.markTypeLocked(mac, NodeRouter)
	case hasCap("bridge"):
		m.markTypeLocked(mac, NodeSwitch)
	}
}

// upsertLocked upserts a node keyed by MAC if present, else by IP, merging
// an IP-only node into a MAC-keyed one when a MAC later becomes known. The
// caller holds m.mu.
func (m *Maintainer) upsertLocked(mac, ip string, now time.Time, length int, isSrc bool) string {
	var id string
	switch {
	case mac != "":
		id = "mac:" + mac
		if ip != "" {
			if existingID, ok := m.ipToNode[ip]; ok && existingID != id {
				m.mergeLocked(existingID, id)
			}
			m.ipToNode[ip] = id
		}
	case ip != "":
		if existingID, ok := m.ipToNode[ip]; ok {
			id = existingID
		} else {
			id = "ip:" + ip
			m.ipToNode[ip] = id
		}
	default:
		return ""
	}

	n, ok := m.nodes[id]
	if !ok {
		n = &Node{
			NodeID:    id,
			MAC:       mac,
			IPs:       make(map[string]struct{}),
			Type:      NodeUnknown,
			FirstSeen: now,
		}
		m.nodes[id] = n
	}
	if mac != "" && n.MAC == "" {
		n.MAC = mac
	}
	if ip != "" {
		n.IPs[ip] = struct{}{}
	}
	n.LastSeen = now
	if isSrc {
		n.PacketsOut++
		n.BytesOut += uint64(length)
	} else {
		n.PacketsIn++
		n.BytesIn += uint64(length)
	}

	n.Type = m.classifyLocked(n, mac, ip)
	if mac != "" && n.Vendor == "" && m.oui != nil {
		n.Vendor = m.oui.Lookup(mac)
	}
	return id
}

// mergeLocked folds the IP-keyed node "from" into the MAC-keyed node "to".
// The MAC-keyed node wins identity; counters add.
func (m *Maintainer) mergeLocked(fromID, toID string) {
	from, ok := m.nodes[fromID]
	if !ok || fromID == toID {
		return
	}
	to, ok := m.nodes[toID]
	if !ok {
		to = &Node{NodeID: toID, IPs: make(map[string]struct{}), Type: NodeUnknown, FirstSeen: from.FirstSeen}
		m.nodes[toID] = to
	}

	to.PacketsIn += from.PacketsIn
	to.PacketsOut += from.PacketsOut
	to.BytesIn += from.BytesIn
	to.BytesOut += from.BytesOut
	if from.FirstSeen.Before(to.FirstSeen) {
		to.FirstSeen = from.FirstSeen
	}
	if from.LastSeen.After(to.LastSeen) {
		to.LastSeen = from.LastSeen
	}
	for ip := range from.IPs {
		to.IPs[ip] = struct{}{}
		m.ipToNode[ip] = toID
	}
	delete(m.nodes, fromID)

	for key, link := range m.links {
		if link.A == fromID {
			link.A = toID
			m.links[linkKey(link.A, link.B)] = link
			delete(m.links, key)
		} else if link.B == fromID {
			link.B = toID
			m.links[linkKey(link.A, link.B)] = link
			delete(m.links, key)
		}
	}

	if last, ok := m.lastWarn[fromID+toID]; !ok || time.Since(last) > time.Minute {
		log.Warnf("topology: merged conflicting identity %s into %s", fromID, toID)
		m.lastWarn[fromID+toID] = time.Now()
	}
}

func (m *Maintainer) classifyLocked(n *Node, mac, ip string) NodeType {
	if n.Type == NodeSwitch || n.Type == NodeRouter {
		return n.Type // LLDP-derived classification sticks until expiry
	}
	if mac != "" && isBroadcastMAC(mac) {
		return NodeBroadcast
	}
	if ip != "" && hasSuffix(ip, ".255") {
		return NodeBroadcast
	}
	if mac != "" && isMulticastMAC(mac) {
		return NodeMulticast
	}
	if ip != "" && isMulticastIPv4(ip) {
		return NodeMulticast
	}
	for existingIP := range n.IPs {
		if m.isGatewayCandidate(existingIP) {
			return NodeGateway
		}
	}
	return NodeUnknown
}

func (m *Maintainer) isGatewayCandidate(ip string) bool {
	if !(hasSuffix(ip, ".1") || hasSuffix(ip, ".254")) {
		return false
	}
	parsed := net.ParseIP(ip)
	if parsed == nil {
		return false
	}
	ok, _ := m.privateRanger.Contains(parsed)
	return ok
}

func isBroadcastMAC(mac string) bool { return mac == "ff:ff:ff:ff:ff:ff" }

func isMulticastMAC(mac string) bool {
	if len(mac) < 2 {
		return false
	}
	b, err := strconv.ParseUint(mac[0:2], 16, 8)
	if err != nil {
		return false
	}
	return b&0x01 != 0
}

func isMulticastIPv4(ip string) bool {
	parsed := net.ParseIP(ip).To4()
	if parsed == nil {
		return false
	}
	return parsed[0] >= 224 && parsed[0] <= 239
}

func hasSuffix(s, suf string) bool {
	return len(s) >= len(suf) && s[len(s)-len(suf):] == suf
}

func linkKey(a, b string) string {
	if a < b {
		return a + "|" + b
	}
	return b + "|" + a
}

func (m *Maintainer) updateLinkLocked(aID, bID string, length int, now time.Time) {
	key := linkKey(aID, bID)
	l, ok := m.links[key]
	if !ok {
		l = &Link{A: aID, B: bID}
		m.links[key] = l
	}
	if aID == l.A {
		l.PacketsAtoB++
		l.BytesAtoB += uint64(length)
	} else {
		l.PacketsBtoA++
		l.BytesBtoA += uint64(length)
	}
	l.LastSeen = now
}

// MarkSwitch/MarkRouter apply an LLDP-derived classification directly, for
// callers that parse LLDP capabilities outside of Observe.
func (m *Maintainer) MarkSwitch(mac string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.markTypeLocked(mac, NodeSwitch)
}

func (m *Maintainer) MarkRouter(mac string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.markTypeLocked(mac, NodeRouter)
}

func (m *Maintainer) markTypeLocked(mac string, t NodeType) {
	if n, ok := m.nodes["mac:"+mac]; ok {
		n.Type = t
	}
}

// ExpireTick removes nodes and links whose last_seen is older than the idle
// threshold. Deleting a node removes all incident links. Call once/second.
func (m *Maintainer) ExpireTick() {
	m.mu.Lock()
	defer m.mu.Unlock()
	cutoff := time.Now().Add(-m.idleThreshold)

	for id, n := range m.nodes {
		if n.LastSeen.Before(cutoff) {
			delete(m.nodes, id)
			for ip, mapped := range m.ipToNode {
				if mapped == id {
					delete(m.ipToNode, ip)
				}
			}
			for key, l := range m.links {
				if l.A == id || l.B == id {
					delete(m.links, key)
				}
			}
		}
	}
	for key, l := range m.links {
		if l.LastSeen.Before(cutoff) {
			delete(m.links, key)
		}
	}
}

// Clear expires all topology state (C9 clear()).
func (m *Maintainer) Clear() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nodes = make(map[string]*Node)
	m.ipToNode = make(map[string]string)
	m.links = make(map[string]*Link)
}

// sortedTopNLocked returns the nodes surviving the top-N cap, sorted by
// total packet volume descending. Callers must hold m.mu.
func (m *Maintainer) sortedTopNLocked() []*Node {
	all := make([]*Node, 0, len(m.nodes))
	for _, n := range m.nodes {
		all = append(all, n)
	}
	sort.Slice(all, func(i, j int) bool {
		return all[i].PacketsIn+all[i].PacketsOut > all[j].PacketsIn+all[j].PacketsOut
	})
	if len(all) > m.topN {
		all = all[:m.topN]
	}
	return all
}

// Nodes returns the top-N nodes by total packet volume.
func (m *Maintainer) Nodes() []NodeSnapshot {
	m.mu.Lock()
	defer m.mu.Unlock()

	all := m.sortedTopNLocked()

	out := make([]NodeSnapshot, 0, len(all))
	for _, n := range all {
		ips := make([]string, 0, len(n.IPs))
		for ip := range n.IPs {
			ips = append(ips, ip)
		}
		sort.Strings(ips)
		out = append(out, NodeSnapshot{
			NodeID: n.NodeID, MAC: n.MAC, IPs: ips, Vendor: n.Vendor, Type: n.Type,
			PacketsIn: n.PacketsIn, PacketsOut: n.PacketsOut,
			BytesIn: n.BytesIn, BytesOut: n.BytesOut,
			FirstSeen: n.FirstSeen, LastSeen: n.LastSeen,
		})
	}
	return out
}

// Links returns links whose endpoints survived the top-N node cap.
func (m *Maintainer) Links() []LinkSnapshot {
	m.mu.Lock()
	defer m.mu.Unlock()

	topIDs := make(map[string]bool, m.topN)
	for _, n := range m.sortedTopNLocked() {
		topIDs[n.NodeID] = true
	}

	out := make([]LinkSnapshot, 0, len(m.links))
	for _, l := range m.links {
		if !topIDs[l.A] || !topIDs[l.B] {
			continue
		}
		out = append(out, LinkSnapshot{
			NodeA: l.A, NodeB: l.B,
			Packets: l.PacketsAtoB + l.PacketsBtoA,
			Bytes:   l.BytesAtoB + l.BytesBtoA,
			LastSeen: l.LastSeen,
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Packets > out[j].Packets })
	return out
}
