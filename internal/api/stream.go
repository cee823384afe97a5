package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/agentdeck/agentdeck/internal/controller"
	"github.com/agentdeck/agentdeck/pkg/types"
)

type streamControl struct {
	Type string `json:"type"` // "resize"
	Rows uint16 `json:"rows,omitempty"`
	Cols uint16 `json:"cols,omitempty"`
}

// streamSession upgrades to a websocket carrying one workspace's events.
// Output batches go out as binary frames (raw pty bytes, in order); lifecycle
// events go out as JSON text frames. Binary frames from the client are
// forwarded to the session's stdin; text frames carry control messages.
func (a *App) streamSession(w http.ResponseWriter, r *http.Request) {
	if !websocket.IsWebSocketUpgrade(r) {
		writeJSON(w, http.StatusBadRequest, map[string]any{"error": "websocket upgrade required"})
		return
	}
	workspaceID := chi.URLParam(r, "id")
	if _, err := a.ctl.Get(workspaceID); err != nil {
		writeError(w, err)
		return
	}

	up := websocket.Upgrader{
		// The daemon binds to loopback; the consumer is a local UI.
		CheckOrigin: func(*http.Request) bool { return true },
	}
	conn, err := up.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close()
	conn.SetReadLimit(1 * 1024 * 1024)

	sub := a.broker.Subscribe(workspaceID, 256)
	defer a.broker.Unsubscribe(workspaceID, sub)

	// The session may have exited before this subscription existed; its exit
	// event is gone, so replay one from the snapshot instead of hanging.
	if info, err := a.ctl.Get(workspaceID); err == nil && info.State == types.SessionStateDead {
		code := 0
		if info.ExitCode != nil {
			code = *info.ExitCode
		}
		payload, err := json.Marshal(types.Event{
			ID:          uuid.NewString(),
			Timestamp:   time.Now().UTC(),
			Type:        types.EventSessionExit,
			WorkspaceID: workspaceID,
			ExitCode:    &code,
		})
		if err == nil {
			_ = conn.WriteMessage(websocket.TextMessage, payload)
		}
		return
	}

	// Reader side: stdin bytes (binary) + control (text).
	readDone := make(chan struct{})
	go func() {
		defer close(readDone)
		for {
			mt, msg, err := conn.ReadMessage()
			if err != nil {
				return
			}
			switch mt {
			case websocket.BinaryMessage:
				if err := a.ctl.SendInput(workspaceID, msg); err != nil && !errors.Is(err, controller.ErrNotFound) {
					continue
				}
			case websocket.TextMessage:
				var ctl streamControl
				if err := json.Unmarshal(msg, &ctl); err != nil {
					continue
				}
				if ctl.Type == "resize" && ctl.Rows > 0 && ctl.Cols > 0 {
					_ = a.ctl.Resize(workspaceID, ctl.Rows, ctl.Cols)
				}
			}
		}
	}()

	for {
		select {
		case ev, ok := <-sub:
			if !ok {
				return
			}
			if ev.Type == types.EventSessionOutput {
				if err := conn.WriteMessage(websocket.BinaryMessage, ev.Data); err != nil {
					return
				}
				continue
			}
			payload, err := json.Marshal(ev)
			if err != nil {
				continue
			}
			if err := conn.WriteMessage(websocket.TextMessage, payload); err != nil {
				return
			}
			if ev.Type == types.EventSessionExit {
				return
			}
		case <-readDone:
			return
		}
	}
}
