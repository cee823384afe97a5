package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/agentdeck/agentdeck/internal/controller"
	"github.com/agentdeck/agentdeck/internal/pty"
	"github.com/agentdeck/agentdeck/internal/registry"
)

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func writeText(w http.ResponseWriter, code int, s string) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(code)
	_, _ = w.Write([]byte(s))
}

func writeError(w http.ResponseWriter, err error) {
	writeJSON(w, statusFor(err), map[string]any{"error": err.Error()})
}

// statusFor maps the controller's error taxonomy onto HTTP status codes.
func statusFor(err error) int {
	var se *controller.SpawnError
	switch {
	case errors.Is(err, controller.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, registry.ErrAlreadyRunning):
		return http.StatusConflict
	case errors.Is(err, registry.ErrResourceExhausted):
		return http.StatusTooManyRequests
	case errors.Is(err, pty.ErrClosed):
		return http.StatusGone
	case errors.As(err, &se):
		return http.StatusUnprocessableEntity
	default:
		return http.StatusInternalServerError
	}
}
