package server

import (
	"net/http"
	"time"

	"github.com/tozny/localqueue/logging"
)

// Middleware decorates an http.Handler.
type Middleware func(http.Handler) http.Handler

// DefaultCORSHeaders allow any origin to call the queue API.
var DefaultCORSHeaders = []http.Header{
	{
		"Access-Control-Allow-Origin":  []string{"*"},
		"Access-Control-Allow-Methods": []string{"*, GET, POST, DELETE, PUT, OPTIONS, HEAD"}, // Because to Firefox * does not mean all.
		"Access-Control-Allow-Headers": []string{"Content-Type, *"},
		"Access-Control-Max-Age":       []string{"86400"},
	},
}

// ApplyMiddleware wraps h so that the first middleware listed sees the request first.
func ApplyMiddleware(h http.Handler, middleware ...Middleware) http.Handler {
	for i := len(middleware) - 1; i >= 0; i-- {
		h = middleware[i](h)
	}
	return h
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (sr *statusRecorder) WriteHeader(status int) {
	sr.status = status
	sr.ResponseWriter.WriteHeader(status)
}

// LoggingMiddleware logs the method, uri, caller and outcome of every request.
// Message bodies are never logged.
func LoggingMiddleware(logger logging.Logger) Middleware {
	return func(h http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			recorder := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
			h.ServeHTTP(recorder, r)
			logger.Debugf("%s %s from %s: %d in %s", r.Method, r.RequestURI, r.RemoteAddr, recorder.status, time.Since(start))
		})
	}
}

// CORSMiddleware decorates every response with the provided CORS headers and
// answers any OPTIONS request with 200 OK.
func CORSMiddleware(corsHeaders []http.Header) Middleware {
	return func(h http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			for _, corsHeader := range corsHeaders {
				for key, values := range corsHeader {
					for _, value := range values {
						w.Header().Set(key, value)
					}
				}
			}
			if r.Method == http.MethodOptions {
				HandleOptionsRequest(w)
				return
			}
			h.ServeHTTP(w, r)
		})
	}
}
