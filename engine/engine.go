// Package engine wires the ingest-and-derivation components — the capture
// loop, ring buffer, broadcast bus, topology maintainer, and stats
// aggregator — into the single object the control plane (C9) and the HTTP
// layer both drive.
package engine

import (
	"sync/atomic"
	"time"

	"netscope/bus"
	"netscope/capture"
	"netscope/config"
	"netscope/dissect"
	"netscope/log"
	"netscope/ring"
	"netscope/stats"
	"netscope/topology"
)

// Engine is the process-wide singleton assembled by main and handed to the
// HTTP layer. It is not itself a singleton type — tests construct their own.
type Engine struct {
	Config   *config.Config
	Ring     *ring.Buffer
	Bus      *bus.Bus
	Topology *topology.Maintainer
	Stats    *stats.Aggregator
	Loop     *capture.Loop

	packetsCaptured atomic.Uint64
	bytesCaptured   atomic.Uint64

	expiryStop chan struct{}
}

// New assembles an Engine from cfg. The capture loop is constructed but not
// started; call Start to bind an interface.
func New(cfg *config.Config) *Engine {
	e := &Engine{
		Config:     cfg,
		Ring:       ring.New(ring.DefaultCapacity),
		Bus:        bus.New(),
		Topology:   topology.New(topology.NewOUIDatabase(dirOf(cfg.ConfigPath))),
		Stats:      stats.New(),
		expiryStop: make(chan struct{}),
	}
	e.Loop = capture.NewLoop(e.pushAndCount, counterSink{e}, busSink{e.Bus}, e.Topology, e.Stats)
	go e.expiryLoop()
	return e
}

func dirOf(path string) string {
	if path == "" {
		return ""
	}
	for i := len(path) - 1; i >= 0; i-- {
		if path[i] == '/' {
			return path[:i]
		}
	}
	return ""
}

// pushAndCount stamps the ring-buffer id for a freshly dissected record.
func (e *Engine) pushAndCount(rec dissect.Record) uint64 {
	return e.Ring.Push(rec)
}

type counterSink struct{ e *Engine }

func (c counterSink) Observe(rec *dissect.Record) {
	c.e.packetsCaptured.Add(1)
	c.e.bytesCaptured.Add(uint64(rec.Length))
}

type busSink struct{ b *bus.Bus }

func (b busSink) Observe(rec *dissect.Record) { b.b.Publish(rec) }

func (e *Engine) expiryLoop() {
	t := time.NewTicker(time.Second)
	defer t.Stop()
	for {
		select {
		case <-t.C:
			e.Topology.ExpireTick()
		case <-e.expiryStop:
			return
		}
	}
}

// Shutdown stops capture and the expiry ticker.
func (e *Engine) Shutdown() {
	e.Loop.Stop()
	close(e.expiryStop)
}

// Start begins capturing on iface, idempotently.
func (e *Engine) Start(iface string, promiscuous bool) error {
	if e.Loop.IsRunning() {
		return nil
	}
	if err := e.Loop.Start(iface, promiscuous, e.Config.BufferSizeMB); err != nil {
		return err
	}
	e.Config.MarkRunning(iface)
	return nil
}

// Stop halts capture, idempotently.
func (e *Engine) Stop() {
	e.Loop.Stop()
	e.Config.MarkStopped()
}

// Rebind stops and restarts capture on a new interface.
func (e *Engine) Rebind(iface string) error {
	promiscuous := e.Config.IsPromiscuous()
	if err := e.Loop.Rebind(iface, promiscuous, e.Config.BufferSizeMB); err != nil {
		return err
	}
	e.Config.MarkRunning(iface)
	return nil
}

// Clear empties the ring buffer and stats, and expires all topology state,
// per spec.md §4.9. It preserves the ring buffer's monotonic id sequence
// and the running flag.
func (e *Engine) Clear() {
	e.Ring.Clear()
	e.Stats.Clear()
	e.Topology.Clear()
	e.packetsCaptured.Store(0)
	e.bytesCaptured.Store(0)
	log.Infof("engine: cleared capture state")
}

// Status returns the current /api/status fields.
func (e *Engine) Status() config.Status {
	s := config.Status{
		Interface:       e.Config.CurrentInterface(),
		IsCapturing:     e.Loop.IsRunning(),
		PacketsCaptured: e.packetsCaptured.Load(),
		BytesCaptured:   e.bytesCaptured.Load(),
	}
	if started, running := e.Config.StartedAt(); running {
		s.StartTime = &started
	}
	return s
}
