// Package coordinator exposes a coordinator engine over HTTP:
// execute/status/transactions/register/participants/health.
package coordinator

import (
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/twopc/commit/service/coordinator"
	"github.com/twopc/commit/service/registry"
)

type Server struct {
	engine    *coordinator.Engine
	registry  *registry.Registry
	startedAt time.Time
}

func NewRouter(engine *coordinator.Engine, reg *registry.Registry, promReg *prometheus.Registry) *mux.Router {
	s := &Server{engine: engine, registry: reg, startedAt: time.Now()}

	r := mux.NewRouter()
	r.HandleFunc("/execute", s.handleExecute).Methods(http.MethodPost)
	r.HandleFunc("/status/{tx_id}", s.handleStatus).Methods(http.MethodGet)
	r.HandleFunc("/transactions", s.handleListTransactions).Methods(http.MethodGet)
	r.HandleFunc("/register", s.handleRegister).Methods(http.MethodPost)
	r.HandleFunc("/participants", s.handleListParticipants).Methods(http.MethodGet)
	r.HandleFunc("/health", s.handleHealth).Methods(http.MethodGet)
	r.Handle("/metrics", promhttp.HandlerFor(promReg, promhttp.HandlerOpts{})).Methods(http.MethodGet)
	return r
}
