// Package participant exposes a participant engine over HTTP, one
// handler per operation, delegating straight to the engine.
package participant

import (
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/twopc/commit/service/participant"
)

type Server struct {
	engine    *participant.Engine
	startedAt time.Time
}

// NewRouter wires the participant's routes to engine and serves reg at
// GET /metrics.
func NewRouter(engine *participant.Engine, reg *prometheus.Registry) *mux.Router {
	s := &Server{engine: engine, startedAt: time.Now()}

	r := mux.NewRouter()
	r.HandleFunc("/begin", s.handleBegin).Methods(http.MethodPost)
	r.HandleFunc("/prepare", s.handlePrepare).Methods(http.MethodPost)
	r.HandleFunc("/commit", s.handleCommit).Methods(http.MethodPost)
	r.HandleFunc("/abort", s.handleAbort).Methods(http.MethodPost)
	r.HandleFunc("/status/{tx_id}", s.handleStatus).Methods(http.MethodGet)
	r.HandleFunc("/resource/{key}", s.handleResource).Methods(http.MethodGet)
	r.HandleFunc("/health", s.handleHealth).Methods(http.MethodGet)
	r.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{})).Methods(http.MethodGet)
	return r
}
