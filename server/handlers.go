package server

import (
	"context"
	"net/http"
	"time"
)

// healthCheckTimeout bounds each dependency check run by HealthCheckHandler.
const healthCheckTimeout = 2 * time.Second

// HealthResponse is the body of GET /healthcheck.
type HealthResponse struct {
	Service string `json:"service"`
	Status  string `json:"status"`
	Error   string `json:"error,omitempty"`
}

// Check reports whether a dependency of the service is usable.
type Check func(ctx context.Context) error

// HandleOptionsRequest is a generic handler for responding 200 OK for an HTTP Options request.
func HandleOptionsRequest(w http.ResponseWriter) {
	w.WriteHeader(http.StatusOK)
}

// HealthCheckHandler responds 200 when every check passes and 503 with the first
// failure otherwise.
func HealthCheckHandler(serviceName string, checks ...Check) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), healthCheckTimeout)
		defer cancel()
		for _, check := range checks {
			if err := check(ctx); err != nil {
				MarshalJSONResponse(w, http.StatusServiceUnavailable, HealthResponse{
					Service: serviceName,
					Status:  "down",
					Error:   err.Error(),
				})
				return
			}
		}
		MarshalJSONResponse(w, http.StatusOK, HealthResponse{Service: serviceName, Status: "up"})
	})
}
