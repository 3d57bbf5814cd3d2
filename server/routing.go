package server

import (
	"net/http"
)

// NoMethodHandler handles HTTP requests if no other method is matched.
type NoMethodHandler interface {
	NoMethod(w http.ResponseWriter, r *http.Request)
}

// GetHandler is an HTTP handler function capable of handling GET requests.
type GetHandler interface {
	Get(w http.ResponseWriter, r *http.Request)
}

// PostHandler is an HTTP handler function capable of handling POST requests.
type PostHandler interface {
	Post(w http.ResponseWriter, r *http.Request)
}

// PutHandler is an HTTP handler function capable of handling PUT requests.
type PutHandler interface {
	Put(w http.ResponseWriter, r *http.Request)
}

// DeleteHandler is an HTTP handler function capable of handling DELETE requests.
type DeleteHandler interface {
	Delete(w http.ResponseWriter, r *http.Request)
}

// RouteMethods routes HTTP requests to corresponding handling functions based on request method.
// A route is a struct holding its dependencies with any of Get, Post, Put and Delete
// methods. A method the route does not define answers 405 Method Not Allowed with an
// Allow header, unless the route declares a NoMethod method to handle it.
func RouteMethods(mh interface{}) http.Handler {
	var allowed []string
	if _, ok := mh.(GetHandler); ok {
		allowed = append(allowed, http.MethodGet)
	}
	if _, ok := mh.(PostHandler); ok {
		allowed = append(allowed, http.MethodPost)
	}
	if _, ok := mh.(PutHandler); ok {
		allowed = append(allowed, http.MethodPut)
	}
	if _, ok := mh.(DeleteHandler); ok {
		allowed = append(allowed, http.MethodDelete)
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case http.MethodGet:
			if h, ok := mh.(GetHandler); ok {
				h.Get(w, r)
				return
			}
		case http.MethodPost:
			if h, ok := mh.(PostHandler); ok {
				h.Post(w, r)
				return
			}
		case http.MethodPut:
			if h, ok := mh.(PutHandler); ok {
				h.Put(w, r)
				return
			}
		case http.MethodDelete:
			if h, ok := mh.(DeleteHandler); ok {
				h.Delete(w, r)
				return
			}
		}
		if h, ok := mh.(NoMethodHandler); ok {
			h.NoMethod(w, r)
			return
		}
		for _, method := range allowed {
			w.Header().Add("Allow", method)
		}
		w.WriteHeader(http.StatusMethodNotAllowed)
	})
}
