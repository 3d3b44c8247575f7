// Package stats implements the aggregate statistics feed (C7): protocol
// counts, per-host counters, conversations, a packet-size histogram, and a
// 60-second rolling pps/bps series sampled at 1Hz.
package stats

import (
	"sort"
	"sync"
	"time"

	"netscope/dissect"
)

// TimeSeriesPoint is one sample of a rolling rate series.
type TimeSeriesPoint struct {
	TimestampMS int64   `json:"timestamp_ms"`
	Value       float64 `json:"value"`
}

// HostStat is the per-IP counters maintained by the aggregator.
type HostStat struct {
	IP         string          `json:"ip"`
	PacketsTx  uint64          `json:"packets_tx"`
	PacketsRx  uint64          `json:"packets_rx"`
	BytesTx    uint64          `json:"bytes_tx"`
	BytesRx    uint64          `json:"bytes_rx"`
	Protocols  map[string]bool `json:"-"`
	Ports      map[uint16]bool `json:"-"`
	FirstSeen  time.Time       `json:"first_seen"`
	LastSeen   time.Time       `json:"last_seen"`
}

// HostStatView is the JSON-friendly projection of HostStat.
type HostStatView struct {
	IP        string    `json:"ip"`
	PacketsTx uint64    `json:"packets_tx"`
	PacketsRx uint64    `json:"packets_rx"`
	BytesTx   uint64    `json:"bytes_tx"`
	BytesRx   uint64    `json:"bytes_rx"`
	Protocols []string  `json:"protocols"`
	Ports     []uint16  `json:"ports"`
	FirstSeen time.Time `json:"first_seen"`
	LastSeen  time.Time `json:"last_seen"`
}

// Conversation aggregates traffic between an unordered pair of IPs.
type Conversation struct {
	IPA, IPB  string
	Packets   uint64
	Bytes     uint64
	Protocols map[string]bool
}

// ConversationView is the JSON-friendly projection of Conversation.
type ConversationView struct {
	IPA       string   `json:"ip_a"`
	IPB       string   `json:"ip_b"`
	Packets   uint64   `json:"packets"`
	Bytes     uint64   `json:"bytes"`
	Protocols []string `json:"protocols"`
}

// histogram bucket upper bounds, per spec.md §4.7.
var histogramBounds = []int{64, 128, 256, 512, 1024, 1518}

// Snapshot is the immutable response shape for /api/stats.
type Snapshot struct {
	ProtocolCounts map[string]uint64  `json:"protocol_counts"`
	SizeHistogram  []uint64           `json:"size_histogram"`
	PPSSeries      []TimeSeriesPoint  `json:"pps_series"`
	BPSSeries      []TimeSeriesPoint  `json:"bps_series"`
	TopHosts       []HostStatView     `json:"top_hosts"`
	TopConversations []ConversationView `json:"top_conversations"`
}

// Aggregator owns the stats tables behind one lock.
type Aggregator struct {
	mu sync.Mutex

	protocolCounts map[string]uint64
	hosts          map[string]*HostStat
	conversations  map[string]*Conversation
	histogram      [7]uint64

	ppsSeries []TimeSeriesPoint
	bpsSeries []TimeSeriesPoint

	windowPackets uint64
	windowBytes   uint64
	lastSample    time.Time

	stopTicker chan struct{}
}

// New constructs an empty Aggregator and starts its 1Hz sampling ticker.
func New() *Aggregator {
	a := &Aggregator{
		protocolCounts: make(map[string]uint64),
		hosts:          make(map[string]*HostStat),
		conversations:  make(map[string]*Conversation),
		lastSample:     time.Now(),
		stopTicker:     make(chan struct{}),
	}
	go a.sampleLoop()
	return a
}

// Close stops the sampling ticker.
func (a *Aggregator) Close() { close(a.stopTicker) }

func (a *Aggregator) sampleLoop() {
	t := time.NewTicker(time.Second)
	defer t.Stop()
	for {
		select {
		case <-t.C:
			a.sample()
		case <-a.stopTicker:
			return
		}
	}
}

func (a *Aggregator) sample() {
	a.mu.Lock()
	defer a.mu.Unlock()

	now := time.Now()
	elapsed := now.Sub(a.lastSample).Seconds()
	if elapsed <= 0 {
		elapsed = 1
	}
	pps := float64(a.windowPackets) / elapsed
	bps := float64(a.windowBytes) / elapsed
	nowMS := now.UnixMilli()

	a.ppsSeries = append(a.ppsSeries, TimeSeriesPoint{TimestampMS: nowMS, Value: pps})
	if len(a.ppsSeries) > 60 {
		a.ppsSeries = a.ppsSeries[len(a.ppsSeries)-60:]
	}
	a.bpsSeries = append(a.bpsSeries, TimeSeriesPoint{TimestampMS: nowMS, Value: bps})
	if len(a.bpsSeries) > 60 {
		a.bpsSeries = a.bpsSeries[len(a.bpsSeries)-60:]
	}

	a.windowPackets = 0
	a.windowBytes = 0
	a.lastSample = now
}

// Observe folds one dissected record into every table.
func (a *Aggregator) Observe(rec *dissect.Record) {
	d := rec.Dissected
	a.mu.Lock()
	defer a.mu.Unlock()

	proto := protocolLabel(d)
	a.protocolCounts[proto]++

	a.windowPackets++
	a.windowBytes += uint64(rec.Length)
	a.histogram[bucketFor(rec.Length)]++

	if d.SrcIP != "" {
		a.touchHostLocked(d.SrcIP, rec, true, proto)
	}
	if d.DstIP != "" {
		a.touchHostLocked(d.DstIP, rec, false, proto)
	}
	if d.SrcIP != "" && d.DstIP != "" && d.SrcIP != d.DstIP {
		a.touchConversationLocked(d.SrcIP, d.DstIP, rec, proto)
	}
}

func protocolLabel(d dissect.Dissected) string {
	if d.L4Proto != "" {
		return d.L4Proto
	}
	if d.IPProtoName != "" {
		return d.IPProtoName
	}
	if d.HasARP {
		return "ARP"
	}
	return d.EthertypeName
}

func bucketFor(length int) int {
	for i, bound := range histogramBounds {
		if length <= bound {
			return i
		}
	}
	return len(histogramBounds)
}

func (a *Aggregator) touchHostLocked(ip string, rec *dissect.Record, isSrc bool, proto string) {
	h, ok := a.hosts[ip]
	if !ok {
		h = &HostStat{
			IP:        ip,
			Protocols: make(map[string]bool),
			Ports:     make(map[uint16]bool),
			FirstSeen: rec.Timestamp,
		}
		a.hosts[ip] = h
	}
	if isSrc {
		h.PacketsTx++
		h.BytesTx += uint64(rec.Length)
	} else {
		h.PacketsRx++
		h.BytesRx += uint64(rec.Length)
	}
	h.Protocols[proto] = true
	if rec.Dissected.SrcPort != 0 {
		h.Ports[rec.Dissected.SrcPort] = true
	}
	if rec.Dissected.DstPort != 0 {
		h.Ports[rec.Dissected.DstPort] = true
	}
	h.LastSeen = rec.Timestamp
}

func convKey(a, b string) string {
	if a < b {
		return a + "|" + b
	}
	return b + "|" + a
}

func (a *Aggregator) touchConversationLocked(ipA, ipB string, rec *dissect.Record, proto string) {
	key := convKey(ipA, ipB)
	c, ok := a.conversations[key]
	if !ok {
		c = &Conversation{IPA: ipA, IPB: ipB, Protocols: make(map[string]bool)}
		a.conversations[key] = c
	}
	c.Packets++
	c.Bytes += uint64(rec.Length)
	c.Protocols[proto] = true
}

// Clear resets every table but leaves the sampling ticker running.
func (a *Aggregator) Clear() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.protocolCounts = make(map[string]uint64)
	a.hosts = make(map[string]*HostStat)
	a.conversations = make(map[string]*Conversation)
	a.histogram = [7]uint64{}
	a.ppsSeries = nil
	a.bpsSeries = nil
	a.windowPackets = 0
	a.windowBytes = 0
}

// Snapshot returns the current aggregator state, including the top 20 hosts
// and top 20 conversations by byte volume.
func (a *Aggregator) Snapshot() Snapshot {
	a.mu.Lock()
	defer a.mu.Unlock()

	protocolCounts := make(map[string]uint64, len(a.protocolCounts))
	for k, v := range a.protocolCounts {
		protocolCounts[k] = v
	}

	hosts := make([]HostStatView, 0, len(a.hosts))
	for _, h := range a.hosts {
		hosts = append(hosts, toHostView(h))
	}
	sortHostsByVolume(hosts)
	if len(hosts) > 20 {
		hosts = hosts[:20]
	}

	convs := make([]ConversationView, 0, len(a.conversations))
	for _, c := range a.conversations {
		convs = append(convs, toConvView(c))
	}
	sortConvsByVolume(convs)
	if len(convs) > 20 {
		convs = convs[:20]
	}

	hist := make([]uint64, len(a.histogram))
	copy(hist, a.histogram[:])

	pps := make([]TimeSeriesPoint, len(a.ppsSeries))
	copy(pps, a.ppsSeries)
	bps := make([]TimeSeriesPoint, len(a.bpsSeries))
	copy(bps, a.bpsSeries)

	return Snapshot{
		ProtocolCounts:   protocolCounts,
		SizeHistogram:    hist,
		PPSSeries:        pps,
		BPSSeries:        bps,
		TopHosts:         hosts,
		TopConversations: convs,
	}
}

func toHostView(h *HostStat) HostStatView {
	protos := make([]string, 0, len(h.Protocols))
	for p := range h.Protocols {
		protos = append(protos, p)
	}
	ports := make([]uint16, 0, len(h.Ports))
	for p := range h.Ports {
		ports = append(ports, p)
	}
	return HostStatView{
		IP: h.IP, PacketsTx: h.PacketsTx, PacketsRx: h.PacketsRx,
		BytesTx: h.BytesTx, BytesRx: h.BytesRx,
		Protocols: protos, Ports: ports,
		FirstSeen: h.FirstSeen, LastSeen: h.LastSeen,
	}
}

func toConvView(c *Conversation) ConversationView {
	protos := make([]string, 0, len(c.Protocols))
	for p := range c.Protocols {
		protos = append(protos, p)
	}
	return ConversationView{IPA: c.IPA, IPB: c.IPB, Packets: c.Packets, Bytes: c.Bytes, Protocols: protos}
}

func sortHostsByVolume(h []HostStatView) {
	sort.Slice(h, func(i, j int) bool { return volume(h[i]) > volume(h[j]) })
}

func volume(h HostStatView) uint64 { return h.BytesTx + h.BytesRx }

func sortConvsByVolume(c []ConversationView) {
	sort.Slice(c, func(i, j int) bool { return c[i].Bytes > c[j].Bytes })
}
