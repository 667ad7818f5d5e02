package server

import (
	"encoding/json"
	"errors"
	"net/http"

	"diffusion_backend/payload"
)

const (
	statusOK    = "ok"
	statusError = "error"
)

type errorResponse struct {
	Status  string   `json:"status"`
	Errors  []string `json:"errors,omitempty"`
	Message string   `json:"message,omitempty"`
}

type generateResponse struct {
	Status       string `json:"status"`
	TrainedModel bool   `json:"trained_model"`
	Image        string `json:"image"`
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}

// writeError maps the generation error taxonomy onto HTTP. Validation
// failures are the caller's fault; everything else is ours.
func writeError(w http.ResponseWriter, err error) {
	var pe *payload.Error
	if errors.As(err, &pe) {
		writeJSON(w, http.StatusBadRequest, errorResponse{Status: statusError, Errors: pe.Messages})
		return
	}
	writeJSON(w, http.StatusInternalServerError, errorResponse{Status: statusError, Message: err.Error()})
}
