// Package httpapi is the orchestrator's worker-contract endpoint: it is
// itself a registered consumer for the index-document topic, per §6's
// registry table ("index-document → orchestrator /").
package httpapi

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/taskbroker/internal/httpmw"
	"github.com/ternarybob/taskbroker/internal/models"
	"github.com/ternarybob/taskbroker/internal/orchestrator"
)

// Handler accepts deliveries from the broker and starts the pipeline
// driver asynchronously.
type Handler struct {
	driver *orchestrator.Driver
	logger arbor.ILogger
}

// NewHandler constructs a Handler.
func NewHandler(driver *orchestrator.Driver, logger arbor.ILogger) *Handler {
	return &Handler{driver: driver, logger: logger}
}

// Register mounts the delivery endpoint on mux.
func (h *Handler) Register(mux *http.ServeMux) {
	mux.Handle("/", httpmw.Chain(h.logger, http.HandlerFunc(h.handleDelivery)))
}

// handleDelivery implements the worker contract from §6: respond 2xx
// immediately upon accepting responsibility, then process asynchronously.
func (h *Handler) handleDelivery(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		httpmw.WriteError(w, http.StatusMethodNotAllowed, "method not allowed", "")
		return
	}

	var payload models.WorkerDeliveryPayload
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		httpmw.WriteError(w, http.StatusBadRequest, "invalid JSON body", "validation")
		return
	}

	var def models.PipelineDefinition
	if err := json.Unmarshal(payload.Input, &def); err != nil {
		httpmw.WriteError(w, http.StatusBadRequest, "input is not a pipeline definition", "validation")
		return
	}

	w.WriteHeader(http.StatusAccepted)

	go h.driver.Run(context.Background(), payload.TaskID, def)
}
