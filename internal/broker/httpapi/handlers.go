// Package httpapi exposes the broker's external HTTP surface described in
// §6: task CRUD/status, and consumer registration.
package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/ternarybob/arbor"
	"github.com/ternarybob/taskbroker/internal/broker"
	"github.com/ternarybob/taskbroker/internal/httpmw"
	"github.com/ternarybob/taskbroker/internal/models"
)

// Handler wires the broker Service into the standard library mux.
type Handler struct {
	service  *broker.Service
	logger   arbor.ILogger
	validate *validator.Validate
}

// NewHandler constructs a Handler.
func NewHandler(service *broker.Service, logger arbor.ILogger) *Handler {
	return &Handler{service: service, logger: logger, validate: validator.New()}
}

// Register mounts the broker's routes on mux, each wrapped in the standard
// middleware chain.
func (h *Handler) Register(mux *http.ServeMux) {
	mux.Handle("/task", httpmw.Chain(h.logger, http.HandlerFunc(h.handleTaskCollection)))
	mux.Handle("/task/", httpmw.Chain(h.logger, http.HandlerFunc(h.handleTaskItem)))
	mux.Handle("/consumer", httpmw.Chain(h.logger, http.HandlerFunc(h.handleConsumer)))
}

func (h *Handler) handleTaskCollection(w http.ResponseWriter, r *http.Request) {
	httpmw.RouteByMethod(w, r, httpmw.MethodRouter{
		http.MethodPost: h.createTask,
	})
}

// handleTaskItem dispatches /task/{id} and /task/{id}/status.
func (h *Handler) handleTaskItem(w http.ResponseWriter, r *http.Request) {
	rest := strings.TrimPrefix(r.URL.Path, "/task/")
	if rest == "" {
		httpmw.WriteError(w, http.StatusNotFound, "task id required", "")
		return
	}

	if id, ok := strings.CutSuffix(rest, "/status"); ok {
		httpmw.RouteByMethod(w, r, httpmw.MethodRouter{
			http.MethodGet: h.getStatus(id),
		})
		return
	}

	httpmw.RouteByMethod(w, r, httpmw.MethodRouter{
		http.MethodGet: h.getTask(rest),
		http.MethodPut: h.updateTask(rest),
	})
}

func (h *Handler) createTask(w http.ResponseWriter, r *http.Request) {
	var req models.CreateTaskRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httpmw.WriteError(w, http.StatusBadRequest, "invalid JSON body", "validation")
		return
	}
	if err := h.validate.Struct(req); err != nil {
		httpmw.WriteError(w, http.StatusBadRequest, err.Error(), "validation")
		return
	}

	task, err := h.service.CreateTask(req, r.Header.Get("Idempotency-Key"))
	if err != nil {
		h.writeServiceError(w, err)
		return
	}

	w.Header().Set("Location", "/task/"+task.ID+"/status")
	httpmw.WriteJSON(w, http.StatusAccepted, models.CreateTaskResponse{
		ID:               task.ID,
		Name:             task.Name,
		StatusCode:       task.StatusCode,
		Status:           task.Status,
		Input:            task.Input,
		CreatedAt:        task.CreatedAt,
		ScheduledStartAt: task.ScheduledStartAt,
	})
}

func (h *Handler) getTask(id string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		task, err := h.service.GetTask(id)
		if err != nil {
			h.writeServiceError(w, err)
			return
		}
		httpmw.WriteJSON(w, http.StatusOK, task)
	}
}

func (h *Handler) getStatus(id string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		view, err := h.service.GetStatus(id)
		if err != nil {
			h.writeServiceError(w, err)
			return
		}
		httpmw.WriteJSON(w, http.StatusOK, view)
	}
}

func (h *Handler) updateTask(id string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req models.UpdateTaskRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			httpmw.WriteError(w, http.StatusBadRequest, "invalid JSON body", "validation")
			return
		}

		task, err := h.service.UpdateTask(id, req)
		if err != nil {
			h.writeServiceError(w, err)
			return
		}
		httpmw.WriteJSON(w, http.StatusOK, task)
	}
}

func (h *Handler) handleConsumer(w http.ResponseWriter, r *http.Request) {
	httpmw.RouteByMethod(w, r, httpmw.MethodRouter{
		http.MethodPut:    h.upsertConsumer,
		http.MethodDelete: h.removeConsumer,
	})
}

func (h *Handler) upsertConsumer(w http.ResponseWriter, r *http.Request) {
	var req models.UpsertConsumerRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httpmw.WriteError(w, http.StatusBadRequest, "invalid JSON body", "validation")
		return
	}
	if err := h.validate.Struct(req); err != nil {
		httpmw.WriteError(w, http.StatusBadRequest, err.Error(), "validation")
		return
	}

	if err := h.service.UpsertConsumer(req); err != nil {
		h.writeServiceError(w, err)
		return
	}
	httpmw.WriteJSON(w, http.StatusOK, map[string]string{"status": "registered"})
}

func (h *Handler) removeConsumer(w http.ResponseWriter, r *http.Request) {
	var req models.RemoveConsumerRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httpmw.WriteError(w, http.StatusBadRequest, "invalid JSON body", "validation")
		return
	}
	if err := h.validate.Struct(req); err != nil {
		httpmw.WriteError(w, http.StatusBadRequest, err.Error(), "validation")
		return
	}

	if err := h.service.RemoveConsumer(req.Topic, req.EndpointURL); err != nil {
		h.writeServiceError(w, err)
		return
	}
	httpmw.WriteJSON(w, http.StatusOK, map[string]string{"status": "removed"})
}

func (h *Handler) writeServiceError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, models.ErrTaskNotFound), errors.Is(err, models.ErrConsumerNotFound):
		httpmw.WriteError(w, http.StatusNotFound, err.Error(), "not-found")
	case errors.Is(err, models.ErrTerminalMismatch):
		httpmw.WriteError(w, http.StatusConflict, err.Error(), "terminal-mismatch")
	case errors.Is(err, models.ErrInvalidTransition):
		httpmw.WriteError(w, http.StatusConflict, err.Error(), "invalid-transition")
	case errors.Is(err, models.ErrValidation):
		httpmw.WriteError(w, http.StatusBadRequest, err.Error(), "validation")
	default:
		h.logger.Error().Err(err).Msg("broker httpapi: unexpected error")
		httpmw.WriteError(w, http.StatusInternalServerError, "internal error", "")
	}
}
