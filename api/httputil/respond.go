// Package httputil holds the small response-writing helpers shared by
// api/coordinator and api/participant, so both map domain.Error to an
// HTTP status the same way instead of duplicating a switch per handler.
package httputil

import (
	"encoding/json"
	"net/http"

	"github.com/twopc/commit/domain"
)

func WriteJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if body != nil {
		_ = json.NewEncoder(w).Encode(body)
	}
}

// WriteError maps a domain.Error kind to a status code and writes a
// domain.ErrorResponse body: InvalidRequest -> 400, UnknownTransaction
// -> 404, IllegalState/LockConflict -> 409, Timeout -> 504, anything
// else -> 500.
func WriteError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch domain.KindOf(err) {
	case domain.KindInvalidRequest:
		status = http.StatusBadRequest
	case domain.KindUnknownTransaction:
		status = http.StatusNotFound
	case domain.KindIllegalState, domain.KindLockConflict:
		status = http.StatusConflict
	case domain.KindTimeout:
		status = http.StatusGatewayTimeout
	}
	WriteJSON(w, status, domain.ErrorResponse{Error: err.Error()})
}

func DecodeJSON(r *http.Request, out any) error {
	dec := json.NewDecoder(r.Body)
	if err := dec.Decode(out); err != nil {
		return domain.NewError(domain.KindInvalidRequest, "malformed request body: "+err.Error())
	}
	return nil
}
