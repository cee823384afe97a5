package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/agentdeck/agentdeck/internal/batch"
	"github.com/agentdeck/agentdeck/internal/config"
	"github.com/agentdeck/agentdeck/internal/controller"
	"github.com/agentdeck/agentdeck/internal/events"
	"github.com/agentdeck/agentdeck/internal/launch"
	"github.com/agentdeck/agentdeck/internal/registry"
	"github.com/agentdeck/agentdeck/pkg/types"
)

type noCreds struct{}

func (noCreds) Snapshot() map[string]string { return nil }

func newTestServer(t *testing.T, maxSessions int, script string) *httptest.Server {
	t.Helper()
	agents := map[string]config.AgentConfig{
		"sh":  {Command: "/bin/sh", Args: []string{"-c", script}},
		"cat": {Command: "/bin/cat"},
	}
	broker := events.NewBroker()
	ctl := controller.New(registry.New(maxSessions), broker, launch.NewResolver(agents), noCreds{}, nil, controller.Config{
		Batch:     batch.Config{Interval: 5 * time.Millisecond},
		KillGrace: 2 * time.Second,
	})
	srv := httptest.NewServer(NewApp(ctl, broker, nil).Router())
	t.Cleanup(func() {
		srv.Close()
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		ctl.Shutdown(ctx)
	})
	return srv
}

func doJSON(t *testing.T, method, url string, body any) (*http.Response, []byte) {
	t.Helper()
	var rd *bytes.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal: %v", err)
		}
		rd = bytes.NewReader(data)
	} else {
		rd = bytes.NewReader([]byte("{}"))
	}
	req, err := http.NewRequest(method, url, rd)
	if err != nil {
		t.Fatalf("request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("do: %v", err)
	}
	defer resp.Body.Close()
	var buf bytes.Buffer
	_, _ = buf.ReadFrom(resp.Body)
	return resp, buf.Bytes()
}

func spawn(t *testing.T, srv *httptest.Server, workspace, agent string) types.SessionInfo {
	t.Helper()
	resp, body := doJSON(t, http.MethodPost, srv.URL+"/api/v1/sessions", types.SpawnRequest{
		WorkspaceID: workspace, Agent: agent, WorkingDir: t.TempDir(),
	})
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("spawn status = %d: %s", resp.StatusCode, body)
	}
	var info types.SessionInfo
	if err := json.Unmarshal(body, &info); err != nil {
		t.Fatalf("decode: %v", err)
	}
	return info
}

func TestHealthz(t *testing.T) {
	srv := newTestServer(t, 8, "sleep 60")
	resp, body := doJSON(t, http.MethodGet, srv.URL+"/healthz", nil)
	if resp.StatusCode != http.StatusOK || !strings.HasPrefix(string(body), "ok") {
		t.Fatalf("healthz = %d %q", resp.StatusCode, body)
	}
}

func TestSpawnListGetKill(t *testing.T) {
	srv := newTestServer(t, 8, "sleep 60")
	info := spawn(t, srv, "ws-1", "sh")
	if info.State != types.SessionStateAlive || info.PID <= 0 {
		t.Fatalf("info = %+v", info)
	}

	resp, body := doJSON(t, http.MethodGet, srv.URL+"/api/v1/sessions", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("list status = %d", resp.StatusCode)
	}
	var list struct {
		Sessions []types.SessionInfo `json:"sessions"`
	}
	if err := json.Unmarshal(body, &list); err != nil {
		t.Fatalf("decode list: %v", err)
	}
	if len(list.Sessions) != 1 || list.Sessions[0].WorkspaceID != "ws-1" {
		t.Fatalf("list = %+v", list.Sessions)
	}

	resp, _ = doJSON(t, http.MethodGet, srv.URL+"/api/v1/sessions/ws-1", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("get status = %d", resp.StatusCode)
	}

	resp, _ = doJSON(t, http.MethodDelete, srv.URL+"/api/v1/sessions/ws-1", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("kill status = %d", resp.StatusCode)
	}

	// Without ?reap the dead session stays queryable.
	resp, body = doJSON(t, http.MethodGet, srv.URL+"/api/v1/sessions/ws-1", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("get after kill = %d", resp.StatusCode)
	}
	var dead types.SessionInfo
	if err := json.Unmarshal(body, &dead); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if dead.State != types.SessionStateDead {
		t.Fatalf("state = %s", dead.State)
	}

	resp, _ = doJSON(t, http.MethodDelete, srv.URL+"/api/v1/sessions/ws-1?reap=true", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("reap status = %d", resp.StatusCode)
	}
	resp, _ = doJSON(t, http.MethodGet, srv.URL+"/api/v1/sessions/ws-1", nil)
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("get after reap = %d, want 404", resp.StatusCode)
	}
}

func TestSpawnValidationAndConflicts(t *testing.T) {
	srv := newTestServer(t, 1, "sleep 60")

	resp, _ := doJSON(t, http.MethodPost, srv.URL+"/api/v1/sessions", map[string]string{"agent": "sh"})
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("missing workspace = %d, want 400", resp.StatusCode)
	}
	resp, _ = doJSON(t, http.MethodPost, srv.URL+"/api/v1/sessions", map[string]string{"workspace_id": "ws-1"})
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("missing agent = %d, want 400", resp.StatusCode)
	}

	spawn(t, srv, "ws-1", "sh")
	resp, _ = doJSON(t, http.MethodPost, srv.URL+"/api/v1/sessions", types.SpawnRequest{
		WorkspaceID: "ws-1", Agent: "sh", WorkingDir: t.TempDir(),
	})
	if resp.StatusCode != http.StatusConflict {
		t.Fatalf("duplicate = %d, want 409", resp.StatusCode)
	}

	resp, _ = doJSON(t, http.MethodPost, srv.URL+"/api/v1/sessions", types.SpawnRequest{
		WorkspaceID: "ws-2", Agent: "sh", WorkingDir: t.TempDir(),
	})
	if resp.StatusCode != http.StatusTooManyRequests {
		t.Fatalf("over capacity = %d, want 429", resp.StatusCode)
	}

	resp, _ = doJSON(t, http.MethodPost, srv.URL+"/api/v1/sessions", types.SpawnRequest{
		WorkspaceID: "ws-3", Agent: "unknown", WorkingDir: t.TempDir(),
	})
	if resp.StatusCode != http.StatusUnprocessableEntity {
		t.Fatalf("unknown agent = %d, want 422", resp.StatusCode)
	}
}

func TestInputAndResize(t *testing.T) {
	srv := newTestServer(t, 8, "sleep 60")
	spawn(t, srv, "ws-1", "cat")

	resp, _ := doJSON(t, http.MethodPost, srv.URL+"/api/v1/sessions/ws-1/input", types.InputRequest{Data: "hello\n"})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("input status = %d", resp.StatusCode)
	}
	resp, _ = doJSON(t, http.MethodPost, srv.URL+"/api/v1/sessions/ws-1/resize", types.ResizeRequest{Rows: 50, Cols: 180})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("resize status = %d", resp.StatusCode)
	}
	resp, _ = doJSON(t, http.MethodPost, srv.URL+"/api/v1/sessions/ws-1/resize", types.ResizeRequest{})
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("zero resize = %d, want 400", resp.StatusCode)
	}

	resp, _ = doJSON(t, http.MethodDelete, srv.URL+"/api/v1/sessions/ws-1", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("kill status = %d", resp.StatusCode)
	}
	resp, _ = doJSON(t, http.MethodPost, srv.URL+"/api/v1/sessions/ws-1/input", types.InputRequest{Data: "x"})
	if resp.StatusCode != http.StatusGone {
		t.Fatalf("input to dead = %d, want 410", resp.StatusCode)
	}
}

func TestRestartEndpoint(t *testing.T) {
	srv := newTestServer(t, 8, "sleep 60")
	first := spawn(t, srv, "ws-1", "sh")

	resp, body := doJSON(t, http.MethodPost, srv.URL+"/api/v1/sessions/ws-1/restart", types.RestartRequest{})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("restart status = %d: %s", resp.StatusCode, body)
	}
	var second types.SessionInfo
	if err := json.Unmarshal(body, &second); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if second.PID == first.PID || second.State != types.SessionStateAlive {
		t.Fatalf("restarted = %+v (old pid %d)", second, first.PID)
	}

	resp, _ = doJSON(t, http.MethodPost, srv.URL+"/api/v1/sessions/ws-missing/restart", types.RestartRequest{})
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("restart missing = %d, want 404", resp.StatusCode)
	}
}

func TestStreamDeliversOutputAndExit(t *testing.T) {
	srv := newTestServer(t, 8, "sleep 60")
	spawn(t, srv, "ws-1", "cat")

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http") + "/api/v1/sessions/ws-1/stream"
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	// Binary client frames feed the session's stdin; the pty echoes back.
	if err := conn.WriteMessage(websocket.BinaryMessage, []byte("stream-probe\n")); err != nil {
		t.Fatalf("write: %v", err)
	}

	var output bytes.Buffer
	sawExit := false
	_ = conn.SetReadDeadline(time.Now().Add(15 * time.Second))
	for !sawExit {
		mt, msg, err := conn.ReadMessage()
		if err != nil {
			t.Fatalf("read: %v (output so far %q)", err, output.Bytes())
		}
		switch mt {
		case websocket.BinaryMessage:
			output.Write(msg)
			if bytes.Contains(output.Bytes(), []byte("stream-probe")) {
				// Echo received; now kill and expect the exit event.
				resp, _ := doJSON(t, http.MethodDelete, srv.URL+"/api/v1/sessions/ws-1", nil)
				if resp.StatusCode != http.StatusOK {
					t.Fatalf("kill status = %d", resp.StatusCode)
				}
			}
		case websocket.TextMessage:
			var ev types.Event
			if err := json.Unmarshal(msg, &ev); err != nil {
				t.Fatalf("decode event: %v", err)
			}
			if ev.Type == types.EventSessionExit {
				sawExit = true
			}
		}
	}
}

func TestStreamReplaysExitForDeadSession(t *testing.T) {
	srv := newTestServer(t, 8, "exit 5")
	spawn(t, srv, "ws-1", "sh")

	// Wait for the session to finish before attaching.
	deadline := time.Now().Add(15 * time.Second)
	for {
		resp, body := doJSON(t, http.MethodGet, srv.URL+"/api/v1/sessions/ws-1", nil)
		if resp.StatusCode != http.StatusOK {
			t.Fatalf("get status = %d", resp.StatusCode)
		}
		var info types.SessionInfo
		if err := json.Unmarshal(body, &info); err != nil {
			t.Fatalf("decode: %v", err)
		}
		if info.State == types.SessionStateDead {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("session never died: %+v", info)
		}
		time.Sleep(10 * time.Millisecond)
	}

	// The original exit event predates this subscription; the stream must
	// still deliver an exit frame instead of hanging.
	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http") + "/api/v1/sessions/ws-1/stream"
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	mt, msg, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if mt != websocket.TextMessage {
		t.Fatalf("message type = %d, want text", mt)
	}
	var ev types.Event
	if err := json.Unmarshal(msg, &ev); err != nil {
		t.Fatalf("decode event: %v", err)
	}
	if ev.Type != types.EventSessionExit || ev.ExitCode == nil || *ev.ExitCode != 5 {
		t.Fatalf("event = %+v, want exit with code 5", ev)
	}
}

func TestStreamUnknownSession(t *testing.T) {
	srv := newTestServer(t, 8, "sleep 60")
	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http") + "/api/v1/sessions/nope/stream"
	_, resp, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err == nil {
		t.Fatal("dial to unknown session should fail")
	}
	if resp == nil || resp.StatusCode != http.StatusNotFound {
		t.Fatalf("resp = %+v, want 404", resp)
	}
}

func TestJournalDisabled(t *testing.T) {
	srv := newTestServer(t, 8, "sleep 60")
	resp, body := doJSON(t, http.MethodGet, srv.URL+"/api/v1/journal", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("journal status = %d", resp.StatusCode)
	}
	var out struct {
		Entries []any `json:"entries"`
	}
	if err := json.Unmarshal(body, &out); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(out.Entries) != 0 {
		t.Fatalf("entries = %v", out.Entries)
	}
}
