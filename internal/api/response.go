package api

import (
	"encoding/json"
	"net/http"

	"go.uber.org/zap"

	"trc20-custody-go/internal/models"
)

func writeSuccess(w http.ResponseWriter, status int, data interface{}) {
	writeJSON(w, status, models.Response{Success: true, Data: data})
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, models.Response{Success: false, Error: message})
}

func writeJSON(w http.ResponseWriter, status int, body models.Response) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		zap.L().Warn("Unable to write response body", zap.Error(err))
	}
}
