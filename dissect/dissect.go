// Package dissect implements the layered protocol decoder (C1): it turns a
// raw frame into a flat, immutable Record. Decoding never fails — malformed
// or truncated input degrades the output instead of returning an error.
package dissect

import (
	"encoding/binary"
	"fmt"
	"strings"
	"time"
)

type Classification string

const (
	ClassOrdinary  Classification = "ordinary"
	ClassPTP       Classification = "ptp"
	ClassLLDP      Classification = "lldp"
	ClassARP       Classification = "arp"
	ClassTruncated Classification = "truncated"
	ClassMalformed Classification = "malformed"
)

// TCPFlags holds the eight TCP control bits, unexpanded.
type TCPFlags struct {
	FIN bool `json:"fin"`
	SYN bool `json:"syn"`
	RST bool `json:"rst"`
	PSH bool `json:"psh"`
	ACK bool `json:"ack"`
	URG bool `json:"urg"`
	ECE bool `json:"ece"`
	CWR bool `json:"cwr"`
}

// PTP carries the fields SPEC_FULL requires beyond message_type/sequence_id:
// domain and, when present, the raw correction field.
type PTP struct {
	MessageType     uint8  `json:"message_type"`
	MessageTypeName string `json:"message_type_name"`
	SequenceID      uint16 `json:"sequence_id"`
	Domain          uint8  `json:"domain"`
	CorrectionNS    int64  `json:"correction_ns,omitempty"`
	HasCorrection   bool   `json:"has_correction"`
}

// ARP holds the subset of ARP fields the dissector surfaces.
type ARP struct {
	Operation uint16 `json:"operation"`
	SenderMAC string `json:"sender_mac"`
	SenderIP  string `json:"sender_ip"`
	TargetMAC string `json:"target_mac"`
	TargetIP  string `json:"target_ip"`
}

// LLDP holds the chassis/port identity and system capabilities TLVs, the
// subset topology's switch/router classification heuristic (spec.md §4.6)
// needs. Capabilities are the IEEE 802.1AB system-capabilities bit names;
// EnabledCapabilities is the subset actually turned on.
type LLDP struct {
	ChassisID           string   `json:"chassis_id,omitempty"`
	ChassisIDSubtype    uint8    `json:"chassis_id_subtype,omitempty"`
	PortID              string   `json:"port_id,omitempty"`
	PortIDSubtype       uint8    `json:"port_id_subtype,omitempty"`
	SystemName          string   `json:"system_name,omitempty"`
	SystemDescription   string   `json:"system_description,omitempty"`
	Capabilities        []string `json:"capabilities,omitempty"`
	EnabledCapabilities []string `json:"enabled_capabilities,omitempty"`
}

// Dissected is the flat sub-record produced by walking one frame. Unset
// fields are left at their zero value; presence is tracked with the Has*
// booleans so a zero value is never ambiguous with "absent".
type Dissected struct {
	SrcMAC string `json:"src_mac,omitempty"`
	DstMAC string `json:"dst_mac,omitempty"`

	Ethertype     uint16 `json:"ethertype"`
	EthertypeName string `json:"ethertype_name,omitempty"`

	HasVLAN bool   `json:"has_vlan"`
	VLANID  uint16 `json:"vlan_id,omitempty"`
	VLANPCP uint8  `json:"vlan_pcp,omitempty"`

	HasL3       bool   `json:"has_l3"`
	SrcIP       string `json:"src_ip,omitempty"`
	DstIP       string `json:"dst_ip,omitempty"`
	TTL         uint8  `json:"ttl,omitempty"`
	IPProtocol  uint8  `json:"ip_protocol,omitempty"`
	IPProtoName string `json:"ip_proto_name,omitempty"`

	HasL4    bool     `json:"has_l4"`
	L4Proto  string   `json:"protocol,omitempty"`
	SrcPort  uint16   `json:"src_port,omitempty"`
	DstPort  uint16   `json:"dst_port,omitempty"`
	HasTCP   bool     `json:"has_tcp"`
	TCPSeq   uint32   `json:"tcp_seq,omitempty"`
	TCPAck   uint32   `json:"tcp_ack,omitempty"`
	TCPFlags TCPFlags `json:"tcp_flags,omitempty"`

	HasICMP  bool  `json:"has_icmp"`
	ICMPType uint8 `json:"icmp_type,omitempty"`
	ICMPCode uint8 `json:"icmp_code,omitempty"`

	HasARP bool `json:"has_arp"`
	ARP    ARP  `json:"arp,omitempty"`

	HasPTP bool `json:"has_ptp"`
	PTP    PTP  `json:"ptp,omitempty"`

	HasLLDP bool `json:"has_lldp"`
	LLDP    LLDP `json:"lldp,omitempty"`

	IsMulticast bool `json:"is_multicast"`
	IsBroadcast bool `json:"is_broadcast"`

	Classification Classification `json:"classification"`
}

// Record is one captured frame plus its dissection. Immutable after
// construction; ID is assigned by the ring buffer (C3), not here.
type Record struct {
	ID        uint64    `json:"id"`
	Timestamp time.Time `json:"timestamp"`
	Raw       []byte    `json:"-"`
	Length    int       `json:"length"`
	Dissected Dissected `json:"dissected"`
}

const (
	etherIPv4 = 0x0800
	etherARP  = 0x0806
	etherIPv6 = 0x86DD
	etherVLAN = 0x8100
	etherQinQ = 0x88A8
	etherLLDP = 0x88CC
	etherPTP  = 0x88F7
)

var ethertypeNames = map[uint16]string{
	etherIPv4: "IPv4",
	etherARP:  "ARP",
	etherIPv6: "IPv6",
	etherVLAN: "802.1Q",
	etherQinQ: "802.1ad",
	etherLLDP: "LLDP",
	etherPTP:  "PTP",
}

var ipProtoNames = map[uint8]string{
	1:   "ICMP",
	2:   "IGMP",
	6:   "TCP",
	17:  "UDP",
	41:  "IPv6",
	47:  "GRE",
	50:  "ESP",
	51:  "AH",
	58:  "ICMPv6",
	89:  "OSPF",
	132: "SCTP",
}

// udpPortLabels is the explicit keyword set from §4.1; ports above 1024
// never trigger relabeling, even if they happen to match.
var udpPortLabels = map[uint16]string{
	53:  "DNS",
	67:  "DHCP",
	68:  "DHCP",
	123: "NTP",
	161: "SNMP",
	319: "PTP",
	320: "PTP",
	514: "Syslog",
}

// Dissect walks a single frame and returns its Record. It never panics and
// never returns an error: parsing degrades gracefully into Classification.
func Dissect(raw []byte, wireLen int, ts time.Time) Record {
	rec := Record{
		Timestamp: ts,
		Raw:       raw,
		Length:    wireLen,
	}
	rec.Dissected = dissectEthernet(raw)
	return rec
}

func dissectEthernet(b []byte) Dissected {
	d := Dissected{Classification: ClassOrdinary}
	if len(b) < 14 {
		d.Classification = ClassTruncated
		return d
	}

	d.DstMAC = macString(b[0:6])
	d.SrcMAC = macString(b[6:12])
	d.IsMulticast = b[0]&0x01 != 0
	d.IsBroadcast = isBroadcastMAC(b[0:6])

	off := 12
	ethertype := binary.BigEndian.Uint16(b[off : off+2])
	off += 2

	// One or two 802.1Q/ad VLAN tags.
	for ethertype == etherVLAN || ethertype == etherQinQ {
		if len(b) < off+4 {
			d.Classification = ClassTruncated
			return d
		}
		tci := binary.BigEndian.Uint16(b[off : off+2])
		d.HasVLAN = true
		d.VLANID = tci & 0x0FFF
		d.VLANPCP = uint8(tci >> 13)
		off += 2
		ethertype = binary.BigEndian.Uint16(b[off : off+2])
		off += 2
	}

	// EtherType 0x0000-0x05DC is an 802.3 length field, not a type.
	if ethertype <= 0x05DC {
		d.Ethertype = ethertype
		d.EthertypeName = "802.3-length"
		return d
	}

	d.Ethertype = ethertype
	if name, ok := ethertypeNames[ethertype]; ok {
		d.EthertypeName = name
	} else {
		d.EthertypeName = fmt.Sprintf("0x%04x", ethertype)
	}

	switch ethertype {
	case etherIPv4:
		dissectIPv4(b[off:], &d)
	case etherIPv6:
		dissectIPv6(b[off:], &d)
	case etherARP:
		dissectARP(b[off:], &d)
	case etherLLDP:
		d.Classification = ClassLLDP
		parseLLDP(b[off:], &d)
	case etherPTP:
		d.Classification = ClassPTP
		parsePTP(b[off:], &d)
	}

	if d.Classification == "" {
		d.Classification = ClassOrdinary
	}
	return d
}

func macString(b []byte) string {
	return fmt.Sprintf("%02x:%02x:%02x:%02x:%02x:%02x", b[0], b[1], b[2], b[3], b[4], b[5])
}

func isBroadcastMAC(b []byte) bool {
	for _, c := range b {
		if c != 0xFF {
			return false
		}
	}
	return true
}

func ipv4String(b []byte) string {
	return fmt.Sprintf("%d.%d.%d.%d", b[0], b[1], b[2], b[3])
}

func dissectIPv4(b []byte, d *Dissected) {
	if len(b) < 20 {
		d.Classification = ClassTruncated
		return
	}
	verIHL := b[0]
	ihl := int(verIHL&0x0F) * 4
	if ihl < 20 || len(b) < ihl {
		d.Classification = ClassTruncated
		return
	}
	totalLen := int(binary.BigEndian.Uint16(b[2:4]))
	if totalLen > len(b) {
		// IHL/total length claims more than we have; still decode the header.
		d.Classification = ClassTruncated
	}

	d.HasL3 = true
	d.TTL = b[8]
	d.IPProtocol = b[9]
	if name, ok := ipProtoNames[d.IPProtocol]; ok {
		d.IPProtoName = name
	} else {
		d.IPProtoName = fmt.Sprintf("0x%02x", d.IPProtocol)
	}
	d.SrcIP = ipv4String(b[12:16])
	d.DstIP = ipv4String(b[16:20])

	payload := b[ihl:]
	dissectL4(payload, d.IPProtocol, d)
}

func dissectIPv6(b []byte, d *Dissected) {
	if len(b) < 40 {
		d.Classification = ClassTruncated
		return
	}
	d.HasL3 = true
	d.TTL = b[7] // hop limit
	nextHeader := b[6]
	d.SrcIP = ipv6String(b[8:24])
	d.DstIP = ipv6String(b[24:40])

	off := 40
	for {
		switch nextHeader {
		case 0, 43, 44, 60: // hop-by-hop, routing, fragment, dest-opts
			if len(b) < off+2 {
				d.Classification = ClassTruncated
				return
			}
			next := b[off]
			extLen := int(b[off+1])*8 + 8
			if nextHeader == 44 {
				extLen = 8 // fragment header is fixed 8 bytes
			}
			if len(b) < off+extLen {
				d.Classification = ClassTruncated
				return
			}
			nextHeader = next
			off += extLen
			continue
		}
		break
	}

	d.IPProtocol = nextHeader
	if name, ok := ipProtoNames[nextHeader]; ok {
		d.IPProtoName = name
	} else {
		d.IPProtoName = fmt.Sprintf("0x%02x", nextHeader)
	}
	if off <= len(b) {
		dissectL4(b[off:], nextHeader, d)
	}
}

func ipv6String(b []byte) string {
	return fmt.Sprintf("%x:%x:%x:%x:%x:%x:%x:%x",
		binary.BigEndian.Uint16(b[0:2]), binary.BigEndian.Uint16(b[2:4]),
		binary.BigEndian.Uint16(b[4:6]), binary.BigEndian.Uint16(b[6:8]),
		binary.BigEndian.Uint16(b[8:10]), binary.BigEndian.Uint16(b[10:12]),
		binary.BigEndian.Uint16(b[12:14]), binary.BigEndian.Uint16(b[14:16]))
}

func dissectL4(b []byte, proto uint8, d *Dissected) {
	switch proto {
	case 6: // TCP
		dissectTCP(b, d)
	case 17: // UDP
		dissectUDP(b, d)
	case 1, 58: // ICMP / ICMPv6
		dissectICMP(b, d)
	default:
		// GRE/ESP/AH/SCTP/OSPF/IGMP: name only, no payload walk (Non-goals
		// exclude flow reassembly).
	}
}

func dissectTCP(b []byte, d *Dissected) {
	if len(b) < 20 {
		if d.Classification == ClassOrdinary {
			d.Classification = ClassTruncated
		}
		return
	}
	d.HasL4 = true
	d.HasTCP = true
	d.L4Proto = "TCP"
	d.SrcPort = binary.BigEndian.Uint16(b[0:2])
	d.DstPort = binary.BigEndian.Uint16(b[2:4])
	d.TCPSeq = binary.BigEndian.Uint32(b[4:8])
	d.TCPAck = binary.BigEndian.Uint32(b[8:12])
	flags := b[13]
	d.TCPFlags = TCPFlags{
		FIN: flags&0x01 != 0,
		SYN: flags&0x02 != 0,
		RST: flags&0x04 != 0,
		PSH: flags&0x08 != 0,
		ACK: flags&0x10 != 0,
		URG: flags&0x20 != 0,
		ECE: flags&0x40 != 0,
		CWR: flags&0x80 != 0,
	}
}

func dissectUDP(b []byte, d *Dissected) {
	if len(b) < 8 {
		if d.Classification == ClassOrdinary {
			d.Classification = ClassTruncated
		}
		return
	}
	d.HasL4 = true
	d.L4Proto = "UDP"
	d.SrcPort = binary.BigEndian.Uint16(b[0:2])
	d.DstPort = binary.BigEndian.Uint16(b[2:4])

	if d.SrcPort <= 1024 {
		if name, ok := udpPortLabels[d.SrcPort]; ok {
			d.L4Proto = name
		}
	}
	if d.DstPort <= 1024 {
		if name, ok := udpPortLabels[d.DstPort]; ok {
			d.L4Proto = name
		}
	}

	isPTPPort := d.DstPort == 319 || d.DstPort == 320
	if isPTPPort {
		d.Classification = ClassPTP
		if len(b) > 8 {
			parsePTP(b[8:], d)
		}
	}
}

func dissectICMP(b []byte, d *Dissected) {
	if len(b) < 2 {
		if d.Classification == ClassOrdinary {
			d.Classification = ClassTruncated
		}
		return
	}
	d.HasICMP = true
	d.ICMPType = b[0]
	d.ICMPCode = b[1]
}

func dissectARP(b []byte, d *Dissected) {
	d.Classification = ClassARP
	if len(b) < 28 {
		d.Classification = ClassTruncated
		return
	}
	d.HasARP = true
	d.ARP = ARP{
		Operation: binary.BigEndian.Uint16(b[6:8]),
		SenderMAC: macString(b[8:14]),
		SenderIP:  ipv4String(b[14:18]),
		TargetMAC: macString(b[18:24]),
		TargetIP:  ipv4String(b[24:28]),
	}
}

const (
	lldpTLVEnd                = 0
	lldpTLVChassisID          = 1
	lldpTLVPortID             = 2
	lldpTLVTTL                = 3
	lldpTLVPortDescription    = 4
	lldpTLVSystemName         = 5
	lldpTLVSystemDescription  = 6
	lldpTLVSystemCapabilities = 7
	lldpTLVManagementAddress  = 8
)

// lldpCapabilityBits is the IEEE 802.1AB system-capabilities bit assignment,
// in the order the original capability table lists them.
var lldpCapabilityBits = []struct {
	bit  uint16
	name string
}{
	{0x0001, "other"},
	{0x0002, "repeater"},
	{0x0004, "bridge"},
	{0x0008, "wlan-ap"},
	{0x0010, "router"},
	{0x0020, "telephone"},
	{0x0040, "docsis-cable-device"},
	{0x0080, "station-only"},
	{0x0100, "cvlan-component"},
	{0x0200, "svlan-component"},
	{0x0400, "two-port-mac-relay"},
}

// parseLLDP walks the chassis ID / port ID / system-name / system-capabilities
// TLVs of an LLDPDU, per IEEE 802.1AB. Unknown or malformed TLVs are skipped;
// a short or truncated TLV stream simply stops the walk early rather than
// marking the record malformed, since the ethertype alone already
// classified it as LLDP.
func parseLLDP(b []byte, d *Dissected) {
	d.HasLLDP = true
	offset := 0
	for offset+2 <= len(b) {
		header := binary.BigEndian.Uint16(b[offset : offset+2])
		tlvType := uint8(header >> 9)
		tlvLen := int(header & 0x01FF)
		offset += 2

		if tlvType == lldpTLVEnd {
			break
		}
		if offset+tlvLen > len(b) {
			break
		}
		tlv := b[offset : offset+tlvLen]

		switch tlvType {
		case lldpTLVChassisID:
			if len(tlv) >= 1 {
				d.LLDP.ChassisIDSubtype = tlv[0]
				d.LLDP.ChassisID = parseLLDPID(tlv[1:], tlv[0])
			}
		case lldpTLVPortID:
			if len(tlv) >= 1 {
				d.LLDP.PortIDSubtype = tlv[0]
				d.LLDP.PortID = parseLLDPID(tlv[1:], tlv[0])
			}
		case lldpTLVSystemName:
			d.LLDP.SystemName = trimPrintable(tlv)
		case lldpTLVSystemDescription:
			d.LLDP.SystemDescription = trimPrintable(tlv)
		case lldpTLVSystemCapabilities:
			if len(tlv) >= 4 {
				sysCaps := binary.BigEndian.Uint16(tlv[0:2])
				enabledCaps := binary.BigEndian.Uint16(tlv[2:4])
				d.LLDP.Capabilities = lldpCapabilityNames(sysCaps)
				d.LLDP.EnabledCapabilities = lldpCapabilityNames(enabledCaps)
			}
		}

		offset += tlvLen
	}
}

// parseLLDPID renders a chassis/port ID TLV's value per its subtype: 3
// (port, MAC address) and 4 (chassis, MAC address) render as a MAC string;
// everything else falls back to trimmed text.
func parseLLDPID(b []byte, subtype uint8) string {
	switch subtype {
	case 3, 4:
		if len(b) >= 6 {
			return macString(b[0:6])
		}
		return hexString(b)
	default:
		return trimPrintable(b)
	}
}

func trimPrintable(b []byte) string {
	return strings.TrimSpace(string(b))
}

func hexString(b []byte) string {
	const digits = "0123456789abcdef"
	out := make([]byte, len(b)*2)
	for i, c := range b {
		out[i*2] = digits[c>>4]
		out[i*2+1] = digits[c&0x0f]
	}
	return string(out)
}

func lldpCapabilityNames(caps uint16) []string {
	var out []string
	for _, c := range lldpCapabilityBits {
		if caps&c.bit != 0 {
			out = append(out, c.name)
		}
	}
	return out
}

var ptpMessageNames = map[uint8]string{
	0x0: "Sync",
	0x1: "Delay_Req",
	0x2: "Pdelay_Req",
	0x3: "Pdelay_Resp",
	0x8: "Follow_Up",
	0x9: "Delay_Resp",
	0xA: "Pdelay_Resp_Follow_Up",
	0xB: "Announce",
	0xC: "Signaling",
	0xD: "Management",
}

// parsePTP reads the common PTPv2 header: messageType in the low nibble of
// byte 0, domain at byte 4, sequenceId at bytes 30-31, and the 8-byte
// correction field at bytes 8-15 (scaled nanoseconds, high 48 bits integer).
func parsePTP(b []byte, d *Dissected) {
	if len(b) < 34 {
		return
	}
	d.HasPTP = true
	msgType := b[0] & 0x0F
	d.PTP.MessageType = msgType
	if name, ok := ptpMessageNames[msgType]; ok {
		d.PTP.MessageTypeName = name
	} else {
		d.PTP.MessageTypeName = fmt.Sprintf("0x%x", msgType)
	}
	d.PTP.Domain = b[4]
	correction := int64(binary.BigEndian.Uint64(b[8:16]))
	if correction != 0 {
		d.PTP.HasCorrection = true
		d.PTP.CorrectionNS = correction >> 16 // scaled ns, drop fractional 16 bits
	}
	d.PTP.SequenceID = binary.BigEndian.Uint16(b[30:32])
}
