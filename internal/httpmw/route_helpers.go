package httpmw

import (
	"encoding/json"
	"net/http"

	"github.com/ternarybob/taskbroker/internal/models"
)

// RouteHandler is a function type for HTTP handlers.
type RouteHandler func(http.ResponseWriter, *http.Request)

// MethodRouter maps HTTP methods to handlers.
type MethodRouter map[string]RouteHandler

// RouteByMethod dispatches to routes[r.Method], replying 405 otherwise.
func RouteByMethod(w http.ResponseWriter, r *http.Request, routes MethodRouter) {
	handler, ok := routes[r.Method]
	if !ok {
		WriteError(w, http.StatusMethodNotAllowed, "method not allowed", "")
		return
	}
	handler(w, r)
}

// WriteJSON writes v as a JSON response with the given status code.
func WriteJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// WriteError writes the standard error envelope.
func WriteError(w http.ResponseWriter, status int, message, kind string) {
	WriteJSON(w, status, models.ErrorResponse{Error: message, Kind: kind})
}
