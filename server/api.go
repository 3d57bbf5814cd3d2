package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/tozny/localqueue/logging"
	"github.com/tozny/localqueue/queue"
)

// ErrorVisibilityUnsupported is returned when the backing service cannot change the
// visibility of an in-flight message.
var ErrorVisibilityUnsupported = errors.New("visibility changes are not supported by this backend")

// ErrorResponse is the body of every non 2xx response.
type ErrorResponse struct {
	Error string `json:"error"`
}

// CreateQueueRequest is the body of POST /queues.
type CreateQueueRequest struct {
	Name                string `json:"name"`
	VisibilityTimeoutMS int64  `json:"visibility_timeout_ms,omitempty"`
}

// QueueResponse describes one queue.
type QueueResponse struct {
	Name   string `json:"name"`
	Length int    `json:"length"`
}

// ListQueuesResponse is the body of GET /queues.
type ListQueuesResponse struct {
	Queues []string `json:"queues"`
}

// SendMessageRequest is the body of POST /queues/{name}/messages.
type SendMessageRequest struct {
	Body string `json:"body"`
}

// MessageResponse is one received message.
type MessageResponse struct {
	ID            string `json:"id"`
	ReceiptHandle string `json:"receipt_handle"`
	Body          string `json:"body"`
}

// ChangeVisibilityRequest is the body of PUT /queues/{name}/messages/{handle}.
type ChangeVisibilityRequest struct {
	VisibilityTimeoutMS int64 `json:"visibility_timeout_ms"`
}

// DeletedResponse reports whether a delete took effect.
type DeletedResponse struct {
	Deleted bool `json:"deleted"`
}

// VisibilityChanger is implemented by services that can re-arm the hidden period
// of an in-flight message.
type VisibilityChanger interface {
	ChangeVisibility(ctx context.Context, name, receiptHandle string, timeout time.Duration) (bool, error)
}

// statusFor maps service errors to response codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, queue.ErrorQueueNotFound):
		return http.StatusNotFound
	case errors.Is(err, queue.ErrorInvalidQueueName):
		return http.StatusBadRequest
	case errors.Is(err, queue.ErrorQueueClosed):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

type api struct {
	service queue.Service
	logger  logging.Logger
}

func (a api) fail(w http.ResponseWriter, op string, err error) {
	status := statusFor(err)
	if status >= http.StatusInternalServerError {
		a.logger.Errorf("%s: %s", op, err)
	} else {
		a.logger.Debugf("%s: %s", op, err)
	}
	HandleError(w, status, err)
}

// queuesRoute serves /queues.
type queuesRoute struct{ api }

func (q queuesRoute) Get(w http.ResponseWriter, r *http.Request) {
	names, err := q.service.ListQueues(r.Context())
	if err != nil {
		q.fail(w, "ListQueues", err)
		return
	}
	if names == nil {
		names = []string{}
	}
	MarshalJSONResponse(w, http.StatusOK, ListQueuesResponse{Queues: names})
}

func (q queuesRoute) Post(w http.ResponseWriter, r *http.Request) {
	var request CreateQueueRequest
	if err := UnmarshalJSONRequest(r, &request); err != nil {
		HandleError(w, http.StatusBadRequest, fmt.Errorf("invalid create queue request: %w", err))
		return
	}
	if request.VisibilityTimeoutMS < 0 {
		HandleError(w, http.StatusBadRequest, errors.New("visibility_timeout_ms must not be negative"))
		return
	}
	name, err := q.service.CreateQueue(r.Context(), request.Name, time.Duration(request.VisibilityTimeoutMS)*time.Millisecond)
	if err != nil {
		q.fail(w, "CreateQueue", err)
		return
	}
	MarshalJSONResponse(w, http.StatusCreated, QueueResponse{Name: name})
}

// queueRoute serves /queues/{name}.
type queueRoute struct{ api }

func (q queueRoute) Get(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("name")
	length, err := q.service.QueueLength(r.Context(), name)
	if err != nil {
		q.fail(w, "QueueLength", err)
		return
	}
	MarshalJSONResponse(w, http.StatusOK, QueueResponse{Name: name, Length: length})
}

func (q queueRoute) Delete(w http.ResponseWriter, r *http.Request) {
	deleted, err := q.service.DeleteQueue(r.Context(), r.PathValue("name"))
	if err != nil {
		q.fail(w, "DeleteQueue", err)
		return
	}
	if !deleted {
		HandleError(w, http.StatusNotFound, queue.ErrorQueueNotFound)
		return
	}
	MarshalJSONResponse(w, http.StatusOK, DeletedResponse{Deleted: true})
}

// messagesRoute serves /queues/{name}/messages.
type messagesRoute struct{ api }

func (m messagesRoute) Post(w http.ResponseWriter, r *http.Request) {
	var request SendMessageRequest
	if err := UnmarshalJSONRequest(r, &request); err != nil {
		HandleError(w, http.StatusBadRequest, fmt.Errorf("invalid send message request: %w", err))
		return
	}
	if err := m.service.Send(r.Context(), r.PathValue("name"), []byte(request.Body)); err != nil {
		m.fail(w, "Send", err)
		return
	}
	w.WriteHeader(http.StatusCreated)
}

func (m messagesRoute) Get(w http.ResponseWriter, r *http.Request) {
	message, err := m.service.Receive(r.Context(), r.PathValue("name"))
	if err != nil {
		m.fail(w, "Receive", err)
		return
	}
	if message == nil {
		w.WriteHeader(http.StatusNoContent)
		return
	}
	MarshalJSONResponse(w, http.StatusOK, MessageResponse{
		ID:            message.ID,
		ReceiptHandle: message.ReceiptHandle,
		Body:          string(message.Body),
	})
}

// messageRoute serves /queues/{name}/messages/{handle}.
type messageRoute struct{ api }

func (m messageRoute) Delete(w http.ResponseWriter, r *http.Request) {
	deleted, err := m.service.Delete(r.Context(), r.PathValue("name"), r.PathValue("handle"))
	if err != nil {
		m.fail(w, "Delete", err)
		return
	}
	MarshalJSONResponse(w, http.StatusOK, DeletedResponse{Deleted: deleted})
}

func (m messageRoute) Put(w http.ResponseWriter, r *http.Request) {
	changer, ok := m.service.(VisibilityChanger)
	if !ok {
		HandleError(w, http.StatusNotImplemented, ErrorVisibilityUnsupported)
		return
	}
	var request ChangeVisibilityRequest
	if err := UnmarshalJSONRequest(r, &request); err != nil || request.VisibilityTimeoutMS < 0 {
		HandleError(w, http.StatusBadRequest, errors.New("visibility_timeout_ms must be a non negative integer"))
		return
	}
	changed, err := changer.ChangeVisibility(r.Context(), r.PathValue("name"), r.PathValue("handle"),
		time.Duration(request.VisibilityTimeoutMS)*time.Millisecond)
	if err != nil {
		m.fail(w, "ChangeVisibility", err)
		return
	}
	if !changed {
		HandleError(w, http.StatusNotFound, errors.New("receipt handle is not in flight"))
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// NewHandler returns the queue API over service.
func NewHandler(service queue.Service, serviceName string, logger logging.Logger) http.Handler {
	if logger == nil {
		logger = logging.NewNopLogger()
	}
	a := api{service: service, logger: logger}
	mux := http.NewServeMux()
	mux.Handle("/queues", RouteMethods(queuesRoute{a}))
	mux.Handle("/queues/{name}", RouteMethods(queueRoute{a}))
	mux.Handle("/queues/{name}/messages", RouteMethods(messagesRoute{a}))
	mux.Handle("/queues/{name}/messages/{handle...}", RouteMethods(messageRoute{a}))
	mux.Handle("/healthcheck", HealthCheckHandler(serviceName, func(ctx context.Context) error {
		_, err := service.ListQueues(ctx)
		return err
	}))
	return ApplyMiddleware(mux, LoggingMiddleware(logger), CORSMiddleware(DefaultCORSHeaders))
}
