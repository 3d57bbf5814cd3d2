package server

import (
	"encoding/json"
	"io"
	"net/http"
)

// MaxRequestBytes bounds the size of a JSON request body.
const MaxRequestBytes = 1 << 20

// UnmarshalJSONRequest un-marshals a request object body JSON into the passed interface
func UnmarshalJSONRequest(r *http.Request, obj interface{}) error {
	body, err := io.ReadAll(io.LimitReader(r.Body, MaxRequestBytes))
	if err != nil {
		return err
	}
	return json.Unmarshal(body, obj)
}

// MarshalJSONResponse marshals an interface into the response body with the given
// status code and sets JSON content type headers
func MarshalJSONResponse(w http.ResponseWriter, statusCode int, obj interface{}) error {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	return json.NewEncoder(w).Encode(obj)
}

// HandleError is a generic error handler for responding with the given status and error
// using the provided ResponseWriter.
func HandleError(w http.ResponseWriter, statusCode int, err error) {
	MarshalJSONResponse(w, statusCode, ErrorResponse{Error: err.Error()})
}
