package utils

import (
	"encoding/json"
	"net/http"

	"ethiogram/pkg/logger"
)

type errorBody struct {
	Error string `json:"error"`
}

// JSONWrite writes v as a JSON response body with the given status.
// Encoding failures are logged; by then the status line is already out, so
// there is nothing useful to return to the handler.
func JSONWrite(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logger.Error("response_encode_failed", "status", status, "error", err)
	}
}

// JSONError writes the projection surface's error shape: {"error": message}.
func JSONError(w http.ResponseWriter, status int, message string) {
	JSONWrite(w, status, errorBody{Error: message})
}
