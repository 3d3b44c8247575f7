package handler

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"

	"netscope/filter"
	"netscope/log"
)

// HandlePackets serves GET /api/packets?offset=&limit=&filter=.
func (a *API) HandlePackets(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	var offset uint64
	if v := q.Get("offset"); v != "" {
		parsed, err := strconv.ParseUint(v, 10, 64)
		if err != nil {
			writeError(w, http.StatusBadRequest, errBadRequest("invalid offset"))
			return
		}
		offset = parsed
	}

	limit := 100
	if v := q.Get("limit"); v != "" {
		parsed, err := strconv.Atoi(v)
		if err != nil || parsed <= 0 {
			writeError(w, http.StatusBadRequest, errBadRequest("invalid limit"))
			return
		}
		limit = parsed
	}

	pred, err := filter.Compile(q.Get("filter"))
	if err != nil {
		// FilterSyntax surfaces to the caller but never disables the endpoint;
		// pred still matches nothing, per spec.md §7.
		writeError(w, http.StatusBadRequest, err)
		return
	}

	records := a.eng.Ring.Snapshot(pred, offset, limit)
	writeJSON(w, http.StatusOK, records)
}

// HandlePacketsStream serves GET /api/packets/stream: an SSE feed of
// `message` events, one per record crossing the broadcast bus, filtered by
// the optional ?filter= query. On subscriber closure it emits an `error`
// event with the closing reason and terminates.
func (a *API) HandlePacketsStream(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, errBadRequest("streaming unsupported"))
		return
	}

	pred, err := filter.Compile(r.URL.Query().Get("filter"))
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	sub := a.eng.Bus.Subscribe()
	defer a.eng.Bus.Unsubscribe(sub.ID)

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	ctx := r.Context()
	for {
		select {
		case <-ctx.Done():
			return

		case ev, open := <-sub.Recv():
			if !open {
				writeSSE(w, "error", map[string]string{"reason": "closed: slow consumer"})
				flusher.Flush()
				return
			}
			if ev.Closed {
				writeSSE(w, "error", map[string]string{"reason": ev.Reason})
				flusher.Flush()
				return
			}
			if ev.Record == nil || !pred.Match(ev.Record) {
				continue
			}
			if err := writeSSE(w, "message", ev.Record); err != nil {
				log.Tracef("http: packets stream write: %v", err)
				return
			}
			flusher.Flush()
		}
	}
}

func writeSSE(w http.ResponseWriter, event string, data interface{}) error {
	payload, err := json.Marshal(data)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(w, "event: %s\ndata: %s\n\n", event, payload)
	return err
}
