// Package api exposes the session controller over HTTP and WebSocket.
package api

import (
	"encoding/json"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/agentdeck/agentdeck/internal/controller"
	"github.com/agentdeck/agentdeck/internal/events"
	"github.com/agentdeck/agentdeck/internal/store/sqlite"
	"github.com/agentdeck/agentdeck/pkg/types"
)

type App struct {
	ctl     *controller.Controller
	broker  *events.Broker
	journal *sqlite.Journal // nil when journaling is disabled
}

func NewApp(ctl *controller.Controller, broker *events.Broker, journal *sqlite.Journal) *App {
	return &App{ctl: ctl, broker: broker, journal: journal}
}

func (a *App) Router() http.Handler {
	r := chi.NewRouter()

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) { writeText(w, http.StatusOK, "ok\n") })

	r.Route("/api/v1", func(r chi.Router) {
		r.Post("/sessions", a.spawnSession)
		r.Get("/sessions", a.listSessions)
		r.Get("/sessions/{id}", a.getSession)
		r.Delete("/sessions/{id}", a.killSession)

		r.Post("/sessions/{id}/restart", a.restartSession)
		r.Post("/sessions/{id}/input", a.sendInput)
		r.Post("/sessions/{id}/resize", a.resizeSession)
		r.Get("/sessions/{id}/stream", a.streamSession)

		r.Get("/journal", a.recentJournal)
	})

	return r
}

func (a *App) spawnSession(w http.ResponseWriter, r *http.Request) {
	var req types.SpawnRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]any{"error": "invalid json"})
		return
	}
	if strings.TrimSpace(req.WorkspaceID) == "" {
		writeJSON(w, http.StatusBadRequest, map[string]any{"error": "workspace_id is required"})
		return
	}
	if strings.TrimSpace(req.Agent) == "" {
		writeJSON(w, http.StatusBadRequest, map[string]any{"error": "agent is required"})
		return
	}

	info, err := a.ctl.Spawn(r.Context(), req)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, info)
}

func (a *App) listSessions(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"sessions": a.ctl.List()})
}

func (a *App) getSession(w http.ResponseWriter, r *http.Request) {
	info, err := a.ctl.Get(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, info)
}

// killSession terminates the session. With ?reap=true the registry entry is
// removed as well; otherwise the dead session stays queryable until reaped.
func (a *App) killSession(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	var err error
	if r.URL.Query().Get("reap") == "true" {
		err = a.ctl.Remove(r.Context(), id)
	} else {
		err = a.ctl.Kill(r.Context(), id)
	}
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": "killed"})
}

func (a *App) restartSession(w http.ResponseWriter, r *http.Request) {
	var req types.RestartRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]any{"error": "invalid json"})
		return
	}
	info, err := a.ctl.Restart(r.Context(), chi.URLParam(r, "id"), req.Model)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, info)
}

func (a *App) sendInput(w http.ResponseWriter, r *http.Request) {
	var req types.InputRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]any{"error": "invalid json"})
		return
	}
	if err := a.ctl.SendInput(chi.URLParam(r, "id"), []byte(req.Data)); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": "sent"})
}

func (a *App) resizeSession(w http.ResponseWriter, r *http.Request) {
	var req types.ResizeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]any{"error": "invalid json"})
		return
	}
	if req.Rows == 0 || req.Cols == 0 {
		writeJSON(w, http.StatusBadRequest, map[string]any{"error": "rows and cols must be positive"})
		return
	}
	if err := a.ctl.Resize(chi.URLParam(r, "id"), req.Rows, req.Cols); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": "resized"})
}

func (a *App) recentJournal(w http.ResponseWriter, r *http.Request) {
	if a.journal == nil {
		writeJSON(w, http.StatusOK, map[string]any{"entries": []any{}})
		return
	}
	entries, err := a.journal.Recent(r.Context(), 50)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]any{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"entries": entries})
}
