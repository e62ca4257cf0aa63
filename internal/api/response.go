package api

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/rs/zerolog/log"
)

// SuccessResponse wraps every successful API payload
type SuccessResponse struct {
	Status    string `json:"status"`
	Data      any    `json:"data,omitempty"`
	RequestID string `json:"request_id,omitempty"`
}

// WriteJSON writes data as JSON with the given status code
func WriteJSON(w http.ResponseWriter, r *http.Request, data any, status int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	if err := json.NewEncoder(w).Encode(data); err != nil {
		log.Error().
			Err(err).
			Str("request_id", GetRequestID(r)).
			Msg("Failed to encode JSON response")
	}
}

// WriteSuccess writes data wrapped in a SuccessResponse
func WriteSuccess(w http.ResponseWriter, r *http.Request, data any) {
	WriteJSON(w, r, SuccessResponse{
		Status:    "success",
		Data:      data,
		RequestID: GetRequestID(r),
	}, http.StatusOK)
}

// HealthResponse is the body of a health check
type HealthResponse struct {
	Status    string `json:"status"`
	Timestamp string `json:"timestamp"`
	Service   string `json:"service"`
	Version   string `json:"version,omitempty"`
	RunState  string `json:"run_state,omitempty"`
	Error     string `json:"error,omitempty"`
}

// WriteHealthy writes a healthy response
func WriteHealthy(w http.ResponseWriter, r *http.Request, resp HealthResponse) {
	resp.Status = "healthy"
	resp.Timestamp = time.Now().UTC().Format(time.RFC3339)
	WriteJSON(w, r, resp, http.StatusOK)
}

// WriteUnhealthy writes a 503 response carrying err
func WriteUnhealthy(w http.ResponseWriter, r *http.Request, service string, err error) {
	WriteJSON(w, r, HealthResponse{
		Status:    "unhealthy",
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		Service:   service,
		Error:     err.Error(),
	}, http.StatusServiceUnavailable)
}
