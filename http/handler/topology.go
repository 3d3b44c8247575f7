package handler

import "net/http"

type topologyResponse struct {
	Nodes interface{} `json:"nodes"`
	Links interface{} `json:"links"`
}

// HandleTopology serves GET /api/topology.
func (a *API) HandleTopology(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, topologyResponse{
		Nodes: a.eng.Topology.Nodes(),
		Links: a.eng.Topology.Links(),
	})
}

// HandleStats serves GET /api/stats, the supplemented endpoint spec.md §9
// leaves to the implementer.
func (a *API) HandleStats(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, a.eng.Stats.Snapshot())
}
