// Package capture owns the live packet socket (C4). It dispatches decoded
// frames into the ring buffer, the broadcast bus, the topology maintainer,
// and the stats aggregator, and never blocks on a slow subscriber.
package capture

import (
	"context"
	"errors"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/gopacket/pcap"

	"netscope/dissect"
	"netscope/log"
)

// ErrCaptureUnavailable is returned when the interface is missing or the
// process lacks the privilege to open it.
var ErrCaptureUnavailable = errors.New("capture unavailable")

// readTimeout bounds pcap.ReadPacketData so start/stop/interface changes are
// observable within the ≤200ms window spec.md §4.4 requires.
const readTimeout = 150 * time.Millisecond

// Sink receives every dissected record as it is produced. Implementations
// must not block; Loop never waits on a sink.
type Sink interface {
	Observe(rec *dissect.Record)
}

// Loop is the capture loop for one interface. Start/Stop are idempotent and
// safe to call concurrently; only one capture session is active at a time.
type Loop struct {
	mu          sync.Mutex
	running     atomic.Bool
	handle      *pcap.Handle
	iface       string
	promisc     bool
	sinks       []Sink
	onPacket    func(rec dissect.Record)
	cancel      context.CancelFunc
	wg          sync.WaitGroup
	nextIDSrc   func(dissect.Record) uint64
	startedAt   time.Time
}

// NewLoop constructs a Loop. push assigns the ring-buffer id and returns it;
// it is called synchronously from the capture goroutine.
func NewLoop(push func(rec dissect.Record) uint64, sinks ...Sink) *Loop {
	return &Loop{sinks: sinks, nextIDSrc: push}
}

// IsRunning reports whether the capture loop currently owns a live handle.
func (l *Loop) IsRunning() bool { return l.running.Load() }

// Interface returns the interface currently bound, if any.
func (l *Loop) Interface() string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.iface
}

// StartedAt returns the time the current session began capturing.
func (l *Loop) StartedAt() time.Time {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.startedAt
}

// Start binds to iface in promiscuous mode as requested, with a capture
// buffer of bufferSizeMB. A second Start while already running is a no-op,
// whatever interface it names.
func (l *Loop) Start(iface string, promiscuous bool, bufferSizeMB int) error {
	l.mu.Lock()
	if l.running.Load() {
		l.mu.Unlock()
		return nil
	}

	handle, err := openLive(iface, promiscuous, bufferSizeMB)
	if err != nil {
		l.mu.Unlock()
		log.Errorf("capture: open %s: %v", iface, err)
		return ErrCaptureUnavailable
	}

	ctx, cancel := context.WithCancel(context.Background())
	l.handle = handle
	l.iface = iface
	l.promisc = promiscuous
	l.cancel = cancel
	l.startedAt = time.Now()
	l.running.Store(true)
	l.mu.Unlock()

	l.wg.Add(1)
	go l.run(ctx, handle)
	log.Infof("capture: started on %s (promiscuous=%v)", iface, promiscuous)
	return nil
}

// openLive opens iface via an InactiveHandle so BufferSizeMB (the capture
// socket's kernel-side buffer) is actually honored, with a
// retry-with-backoff policy before escalating to ErrCaptureUnavailable,
// per spec.md §7 recovery policy.
func openLive(iface string, promiscuous bool, bufferSizeMB int) (*pcap.Handle, error) {
	if bufferSizeMB <= 0 {
		bufferSizeMB = 64
	}

	var lastErr error
	backoff := 50 * time.Millisecond
	for attempt := 0; attempt < 3; attempt++ {
		h, err := openOnce(iface, promiscuous, bufferSizeMB)
		if err == nil {
			return h, nil
		}
		lastErr = err
		time.Sleep(backoff)
		backoff *= 2
	}
	return nil, lastErr
}

func openOnce(iface string, promiscuous bool, bufferSizeMB int) (*pcap.Handle, error) {
	inactive, err := pcap.NewInactiveHandle(iface)
	if err != nil {
		return nil, err
	}
	defer inactive.CleanUp()

	if err := inactive.SetSnapLen(65536); err != nil {
		return nil, err
	}
	if err := inactive.SetPromisc(promiscuous); err != nil {
		return nil, err
	}
	if err := inactive.SetTimeout(readTimeout); err != nil {
		return nil, err
	}
	if err := inactive.SetBufferSize(bufferSizeMB * 1024 * 1024); err != nil {
		return nil, err
	}
	return inactive.Activate()
}

// Stop flips the running flag and closes the socket. It does not drain
// in-flight reads; the loop observes the flag at its next iteration.
func (l *Loop) Stop() {
	l.mu.Lock()
	if !l.running.Load() {
		l.mu.Unlock()
		return
	}
	l.running.Store(false)
	if l.cancel != nil {
		l.cancel()
	}
	handle := l.handle
	l.mu.Unlock()

	if handle != nil {
		handle.Close()
	}
	l.wg.Wait()
	log.Infof("capture: stopped")
}

// Rebind stops the current session (if any) and starts on a new interface.
func (l *Loop) Rebind(iface string, promiscuous bool, bufferSizeMB int) error {
	l.Stop()
	return l.Start(iface, promiscuous, bufferSizeMB)
}

func (l *Loop) run(ctx context.Context, handle *pcap.Handle) {
	defer l.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		data, ci, err := handle.ReadPacketData()
		if err != nil {
			if errors.Is(err, pcap.NextErrorTimeoutExpired) {
				continue
			}
			if !l.running.Load() {
				return
			}
			log.Warnf("capture: read error: %v", err)
			continue
		}

		rec := dissect.Dissect(data, ci.Length, ci.Timestamp)
		id := l.nextIDSrc(rec)
		rec.ID = id

		for _, s := range l.sinks {
			s.Observe(&rec)
		}
	}
}

// ListInterfaces enumerates capturable interfaces via pcap.FindAllDevs,
// satisfying GET /api/interfaces and SPEC_FULL §4's requirement that
// interface listing be backed by gopacket rather than a hand-rolled walk.
func ListInterfaces() ([]InterfaceInfo, error) {
	devs, err := pcap.FindAllDevs()
	if err != nil {
		return nil, err
	}
	out := make([]InterfaceInfo, 0, len(devs))
	for _, d := range devs {
		addrs := make([]string, 0, len(d.Addresses))
		for _, a := range d.Addresses {
			if a.IP != nil {
				addrs = append(addrs, a.IP.String())
			}
		}
		out = append(out, InterfaceInfo{
			Name:        d.Name,
			Description: d.Description,
			Addresses:   addrs,
		})
	}
	return out, nil
}

// InterfaceInfo is the response shape for GET /api/interfaces.
type InterfaceInfo struct {
	Name        string   `json:"name"`
	Description string   `json:"description,omitempty"`
	Addresses   []string `json:"addresses"`
}

// virtualInterfacePrefixes are skipped by DefaultInterface, per spec.md §6's
// "first non-loopback, non-virtual interface" default.
var virtualInterfacePrefixes = []string{"docker", "veth", "br-", "virbr", "utun", "tun", "tap", "bridge"}

// DefaultInterface picks the first capturable interface that is neither
// loopback nor one of the common virtual/container interface families.
func DefaultInterface() (string, error) {
	ifaces, err := ListInterfaces()
	if err != nil {
		return "", err
	}
	for _, ifc := range ifaces {
		name := strings.ToLower(ifc.Name)
		if name == "lo" || strings.HasPrefix(name, "lo") {
			continue
		}
		virtual := false
		for _, prefix := range virtualInterfacePrefixes {
			if strings.HasPrefix(name, prefix) {
				virtual = true
				break
			}
		}
		if virtual {
			continue
		}
		return ifc.Name, nil
	}
	return "", ErrCaptureUnavailable
}
