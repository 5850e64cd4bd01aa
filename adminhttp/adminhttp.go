// Package adminhttp exposes a small read-only HTTP surface for
// operational visibility: supervisor state and per-output queue depth.
// Grounded on the teacher's gorilla/mux + gorilla/handlers admin listener
// convention; never on the pipeline's hot path.
package adminhttp

import (
	"encoding/json"
	"net/http"

	"github.com/gorilla/handlers"
	"github.com/gorilla/mux"
	log "github.com/sirupsen/logrus"

	"github.com/calston/tensor-go/supervisor"
)

type outputStatus struct {
	QueueLen int    `json:"queue_len"`
	Dropped  uint64 `json:"dropped"`
}

type statusResponse struct {
	State        string         `json:"state"`
	EventCounter uint64         `json:"event_counter"`
	CacheSize    int            `json:"cache_size"`
	Outputs      []outputStatus `json:"outputs"`
}

type cacheEntryResponse struct {
	Host    string  `json:"host"`
	Service string  `json:"service"`
	Metric  float64 `json:"metric"`
	Time    float64 `json:"time"`
}

// NewRouter builds the admin router. sup is read at request time, so
// callers can register this router before the supervisor finishes
// starting. Requests are logged through logrus via gorilla/handlers,
// matching the teacher's admin listener convention.
func NewRouter(sup *supervisor.Supervisor) http.Handler {
	r := mux.NewRouter()
	r.HandleFunc("/status", func(w http.ResponseWriter, req *http.Request) {
		resp := statusResponse{
			State:        sup.State().String(),
			EventCounter: sup.EventCounter(),
			CacheSize:    sup.CacheSize(),
		}
		for _, out := range sup.Outputs() {
			resp.Outputs = append(resp.Outputs, outputStatus{
				QueueLen: out.QueueLen(),
				Dropped:  out.Dropped(),
			})
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(resp)
	}).Methods(http.MethodGet)

	r.HandleFunc("/debug/cache", func(w http.ResponseWriter, req *http.Request) {
		entries := sup.CacheEntries()
		resp := make([]cacheEntryResponse, 0, len(entries))
		for _, e := range entries {
			resp = append(resp, cacheEntryResponse{
				Host: e.Host, Service: e.Service, Metric: e.Metric, Time: e.Time,
			})
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(resp)
	}).Methods(http.MethodGet)

	return handlers.LoggingHandler(log.StandardLogger().Writer(), r)
}
