package response

import (
	"encoding/json"
	"log/slog"
	"net/http"
)

type errorBody struct {
	Message string `json:"message"`
	Code    string `json:"code,omitempty"`
}

func JSON(w http.ResponseWriter, status int, v any) {
	writeJSON(w, status, v)
}

func OK(w http.ResponseWriter, v any) {
	writeJSON(w, http.StatusOK, v)
}

func Created(w http.ResponseWriter, v any) {
	writeJSON(w, http.StatusCreated, v)
}

// Error writes {"message": ..., "code": ...}. Messages are meant for clients
// and must not carry internal error text.
func Error(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, errorBody{Message: message, Code: code})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Warn("write response body failed", "error", err)
	}
}
