package handler

import (
	"encoding/json"
	"net/http"

	"netscope/engine"
	"netscope/log"
)

// API holds the engine every handler reads from or mutates. One instance is
// constructed at startup and shared by every route.
type API struct {
	eng *engine.Engine
}

// New constructs an API bound to eng.
func New(eng *engine.Engine) *API {
	return &API{eng: eng}
}

// envelope is the `{success, data?, error?}` shape every non-stream response
// uses, per spec.md §6.
type envelope struct {
	Success bool        `json:"success"`
	Data    interface{} `json:"data,omitempty"`
	Error   string      `json:"error,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(envelope{Success: true, Data: data}); err != nil {
		log.Warnf("http: encode response: %v", err)
	}
}

func writeError(w http.ResponseWriter, status int, err error) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if encErr := json.NewEncoder(w).Encode(envelope{Success: false, Error: err.Error()}); encErr != nil {
		log.Warnf("http: encode error response: %v", encErr)
	}
}

func writeOK(w http.ResponseWriter) {
	writeJSON(w, http.StatusOK, nil)
}
