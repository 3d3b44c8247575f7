package handler

import (
	"encoding/json"
	"net/http"

	"netscope/capture"
)

// HandleStatus serves GET /api/status.
func (a *API) HandleStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, a.eng.Status())
}

// HandleCaptureStart serves POST /api/capture/start. Starting is idempotent
// and binds to the interface currently configured (or its default).
func (a *API) HandleCaptureStart(w http.ResponseWriter, r *http.Request) {
	iface := a.eng.Config.CurrentInterface()
	if iface == "" {
		iface = a.eng.Config.Interface
	}
	if err := a.eng.Start(iface, a.eng.Config.IsPromiscuous()); err != nil {
		writeError(w, http.StatusServiceUnavailable, err)
		return
	}
	writeOK(w)
}

// HandleCaptureStop serves POST /api/capture/stop.
func (a *API) HandleCaptureStop(w http.ResponseWriter, r *http.Request) {
	a.eng.Stop()
	writeOK(w)
}

// HandleCaptureClear serves POST /api/capture/clear, per spec.md §4.9.
func (a *API) HandleCaptureClear(w http.ResponseWriter, r *http.Request) {
	a.eng.Clear()
	writeOK(w)
}

// HandleInterfaces serves GET /api/interfaces.
func (a *API) HandleInterfaces(w http.ResponseWriter, r *http.Request) {
	ifaces, err := capture.ListInterfaces()
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, ifaces)
}

type setInterfaceRequest struct {
	Interface string `json:"interface"`
}

// HandleInterfaceSet serves POST /api/interface/set, rebinding the capture
// loop onto a new interface without losing accumulated ring/topology/stats
// state.
func (a *API) HandleInterfaceSet(w http.ResponseWriter, r *http.Request) {
	var req setInterfaceRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Interface == "" {
		writeError(w, http.StatusBadRequest, errBadRequest("interface is required"))
		return
	}
	if err := a.eng.Rebind(req.Interface); err != nil {
		writeError(w, http.StatusServiceUnavailable, err)
		return
	}
	writeOK(w)
}

type badRequestError string

func (e badRequestError) Error() string { return string(e) }

func errBadRequest(msg string) error { return badRequestError(msg) }
