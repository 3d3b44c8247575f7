// Package http assembles the HTTP+SSE surface (§6) on top of the engine:
// REST endpoints under /api, SSE streams for packets and the probes, and
// the ambient /api/ws/logs tail.
package http

import (
	"fmt"
	"io"
	stdhttp "net/http"
	"time"

	"netscope/engine"
	"netscope/http/handler"
	"netscope/http/ws"
	"netscope/log"
)

// StartServer builds the mux, wraps it in CORS, and begins listening on
// eng.Config.Port. A port of 0 disables the web server entirely.
func StartServer(eng *engine.Engine) (*stdhttp.Server, error) {
	if eng.Config.Port == 0 {
		log.Infof("web server disabled (port 0)")
		return nil, nil
	}

	mux := stdhttp.NewServeMux()
	registerRoutes(mux, handler.New(eng))

	var h stdhttp.Handler = mux
	h = cors(h)

	addr := fmt.Sprintf(":%d", eng.Config.Port)
	srv := &stdhttp.Server{
		Addr:              addr,
		Handler:           h,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		log.Infof("web server listening on %s", addr)
		if err := srv.ListenAndServe(); err != nil && err != stdhttp.ErrServerClosed {
			log.Errorf("web server error: %v", err)
		}
	}()

	return srv, nil
}

func registerRoutes(mux *stdhttp.ServeMux, api *handler.API) {
	mux.HandleFunc("/api/status", api.HandleStatus)
	mux.HandleFunc("/api/capture/start", api.HandleCaptureStart)
	mux.HandleFunc("/api/capture/stop", api.HandleCaptureStop)
	mux.HandleFunc("/api/capture/clear", api.HandleCaptureClear)
	mux.HandleFunc("/api/packets", api.HandlePackets)
	mux.HandleFunc("/api/packets/stream", api.HandlePacketsStream)
	mux.HandleFunc("/api/topology", api.HandleTopology)
	mux.HandleFunc("/api/stats", api.HandleStats)
	mux.HandleFunc("/api/interfaces", api.HandleInterfaces)
	mux.HandleFunc("/api/interface/set", api.HandleInterfaceSet)
	mux.HandleFunc("/api/test/ping/stream", api.HandlePingStream)
	mux.HandleFunc("/api/test/throughput/stream", api.HandleThroughputStream)

	mux.HandleFunc("/api/ws/logs", ws.HandleLogsWebSocket)

	log.Infof("http: registered REST, SSE, and log-tail routes")
}

// cors is permissive by design: the service is meant to be driven by a
// browser dashboard served from a different origin during development.
func cors(next stdhttp.Handler) stdhttp.Handler {
	return stdhttp.HandlerFunc(func(w stdhttp.ResponseWriter, r *stdhttp.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
		if r.Method == stdhttp.MethodOptions {
			w.WriteHeader(stdhttp.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// LogWriter returns a writer that fans every log line out to connected
// /api/ws/logs clients.
func LogWriter() io.Writer {
	return ws.LogWriter()
}

// Shutdown releases the log hub.
func Shutdown() {
	ws.Shutdown()
}
