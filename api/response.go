package api

import (
	"encoding/json"
	"log/slog"
	"net/http"
)

type errorResponse struct {
	Error string `json:"error"`
}

func writeJSON(w http.ResponseWriter, status int, data any, logger *slog.Logger) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		logger.Error("encode json response", "error", err)
	}
}

func writeError(w http.ResponseWriter, status int, message string, logger *slog.Logger) {
	writeJSON(w, status, errorResponse{Error: message}, logger)
}
