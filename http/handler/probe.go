package handler

import (
	"net/http"
	"strconv"
	"time"

	"netscope/log"
	"netscope/prober"
)

// HandlePingStream serves GET /api/test/ping/stream?target=&count=&interval=:
// an SSE feed of `ping` events followed by one `complete` event, per
// spec.md §4.8 and §6.
func (a *API) HandlePingStream(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, errBadRequest("streaming unsupported"))
		return
	}

	q := r.URL.Query()
	target := q.Get("target")
	if target == "" {
		writeError(w, http.StatusBadRequest, errBadRequest("target is required"))
		return
	}
	count := 5
	if v := q.Get("count"); v != "" {
		parsed, err := strconv.Atoi(v)
		if err != nil || parsed < 1 || parsed > 10000 {
			writeError(w, http.StatusBadRequest, errBadRequest("count must be between 1 and 10000"))
			return
		}
		count = parsed
	}
	intervalMs := 1000
	if v := q.Get("interval"); v != "" {
		if parsed, err := strconv.Atoi(v); err == nil && parsed > 0 {
			intervalMs = parsed
		}
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	summary, err := prober.RunLatency(r.Context(), target, count, time.Duration(intervalMs)*time.Millisecond, func(res prober.PingResult) {
		if writeErr := writeSSE(w, "ping", res); writeErr != nil {
			log.Tracef("http: ping stream write: %v", writeErr)
			return
		}
		flusher.Flush()
	})
	if err != nil {
		writeSSE(w, "error", map[string]string{"reason": err.Error()})
		flusher.Flush()
		return
	}
	writeSSE(w, "complete", summary)
	flusher.Flush()
}

// HandleThroughputStream serves
// GET /api/test/throughput/stream?target=&duration=&bandwidth=.
func (a *API) HandleThroughputStream(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, errBadRequest("streaming unsupported"))
		return
	}

	q := r.URL.Query()
	target := q.Get("target")
	if target == "" {
		writeError(w, http.StatusBadRequest, errBadRequest("target is required"))
		return
	}
	durationSec := 10
	if v := q.Get("duration"); v != "" {
		parsed, err := strconv.Atoi(v)
		if err != nil || parsed < 1 || parsed > 600 {
			writeError(w, http.StatusBadRequest, errBadRequest("duration must be between 1 and 600 seconds"))
			return
		}
		durationSec = parsed
	}
	bandwidthMbps := 10.0
	if v := q.Get("bandwidth"); v != "" {
		parsed, err := strconv.ParseFloat(v, 64)
		if err != nil || parsed < 1 || parsed > 10000 {
			writeError(w, http.StatusBadRequest, errBadRequest("bandwidth must be between 1 and 10000 Mb/s"))
			return
		}
		bandwidthMbps = parsed
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	summary, err := prober.RunThroughput(r.Context(), target, time.Duration(durationSec)*time.Second, bandwidthMbps, func(s prober.ThroughputSample) {
		if writeErr := writeSSE(w, "throughput", s); writeErr != nil {
			log.Tracef("http: throughput stream write: %v", writeErr)
			return
		}
		flusher.Flush()
	})
	if err != nil {
		writeSSE(w, "error", map[string]string{"reason": err.Error()})
		flusher.Flush()
		return
	}
	writeSSE(w, "complete", summary)
	flusher.Flush()
}
