package participant

import (
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"github.com/twopc/commit/api/httputil"
	"github.com/twopc/commit/domain"
)

func (s *Server) handleBegin(w http.ResponseWriter, r *http.Request) {
	var req domain.BeginRequest
	if err := httputil.DecodeJSON(r, &req); err != nil {
		httputil.WriteError(w, err)
		return
	}
	if err := s.engine.Begin(req.TxID); err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, domain.OKResponse{OK: true})
}

func (s *Server) handlePrepare(w http.ResponseWriter, r *http.Request) {
	var req domain.PrepareRequest
	if err := httputil.DecodeJSON(r, &req); err != nil {
		httputil.WriteError(w, err)
		return
	}
	vote, reason, err := s.engine.Prepare(req.TxID, req.Ops)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, domain.PrepareResponse{Vote: vote, Reason: reason})
}

func (s *Server) handleCommit(w http.ResponseWriter, r *http.Request) {
	var req domain.CommitRequest
	if err := httputil.DecodeJSON(r, &req); err != nil {
		httputil.WriteError(w, err)
		return
	}
	if err := s.engine.Commit(req.TxID); err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, domain.OKResponse{OK: true})
}

func (s *Server) handleAbort(w http.ResponseWriter, r *http.Request) {
	var req domain.AbortRequest
	if err := httputil.DecodeJSON(r, &req); err != nil {
		httputil.WriteError(w, err)
		return
	}
	if err := s.engine.Abort(req.TxID); err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, domain.OKResponse{OK: true})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	txID := mux.Vars(r)["tx_id"]
	state, err := s.engine.Status(txID)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, domain.ParticipantStatusResponse{State: state})
}

func (s *Server) handleResource(w http.ResponseWriter, r *http.Request) {
	key := mux.Vars(r)["key"]
	value, ok := s.engine.Get(key)
	if !ok {
		httputil.WriteJSON(w, http.StatusNotFound, domain.ResourceResponse{Key: key, Exists: false})
		return
	}
	httputil.WriteJSON(w, http.StatusOK, domain.ResourceResponse{Key: key, Value: value, Exists: true})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	httputil.WriteJSON(w, http.StatusOK, domain.HealthResponse{OK: true, UptimeS: time.Since(s.startedAt).Seconds()})
}
