package coordinator

import (
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"github.com/twopc/commit/api/httputil"
	"github.com/twopc/commit/domain"
)

func (s *Server) handleExecute(w http.ResponseWriter, r *http.Request) {
	var spec domain.TxSpec
	if err := httputil.DecodeJSON(r, &spec); err != nil {
		httputil.WriteError(w, err)
		return
	}
	status, err := s.engine.Execute(r.Context(), spec)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, status)
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	txID := mux.Vars(r)["tx_id"]
	status, err := s.engine.Status(txID)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, status)
}

func (s *Server) handleListTransactions(w http.ResponseWriter, r *http.Request) {
	httputil.WriteJSON(w, http.StatusOK, s.engine.List())
}

func (s *Server) handleRegister(w http.ResponseWriter, r *http.Request) {
	var req domain.RegisterRequest
	if err := httputil.DecodeJSON(r, &req); err != nil {
		httputil.WriteError(w, err)
		return
	}
	if req.ParticipantID == "" || req.Endpoint == "" {
		httputil.WriteError(w, domain.NewError(domain.KindInvalidRequest, "participant_id and endpoint are required"))
		return
	}
	s.registry.Register(req.ParticipantID, req.Endpoint)
	httputil.WriteJSON(w, http.StatusOK, domain.OKResponse{OK: true})
}

func (s *Server) handleListParticipants(w http.ResponseWriter, r *http.Request) {
	entries := s.registry.List()
	out := make([]domain.ParticipantInfo, 0, len(entries))
	for _, e := range entries {
		out = append(out, domain.ParticipantInfo{ParticipantID: e.ParticipantID, Endpoint: e.Endpoint})
	}
	httputil.WriteJSON(w, http.StatusOK, out)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	httputil.WriteJSON(w, http.StatusOK, domain.HealthResponse{OK: true, UptimeS: time.Since(s.startedAt).Seconds()})
}
