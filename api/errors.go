package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/Payvo-ai/payvo-middleware-sub001/routing"
	"github.com/Payvo-ai/payvo-middleware-sub001/token"
)

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, ErrorResponse{Error: msg})
}

func mapError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, routing.ErrSessionNotFound):
		writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, routing.ErrInvalidTransition):
		writeError(w, http.StatusConflict, err.Error())
	case errors.Is(err, routing.ErrCardSelection):
		writeError(w, http.StatusBadGateway, err.Error())
	case errors.Is(err, token.ErrProvisioningFailed):
		writeError(w, http.StatusBadGateway, err.Error())
	case errors.Is(err, token.ErrNoToken):
		writeError(w, http.StatusConflict, err.Error())
	default:
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}
