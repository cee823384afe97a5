package types

import "time"

// Event types emitted by the core, namespaced per workspace.
const (
	EventSessionSpawned = "session_spawned"
	EventSessionOutput  = "session_output"
	EventSessionExit    = "session_exit"
	EventSessionKilled  = "session_killed"
)

// Event is one notification on a workspace's stream. Output events carry the
// raw pty bytes in Data; exit events carry ExitCode. Payloads contain only
// what the child process itself wrote, never the spawn environment.
type Event struct {
	ID          string    `json:"id,omitempty"`
	Timestamp   time.Time `json:"timestamp"`
	Type        string    `json:"type"`
	WorkspaceID string    `json:"workspace_id"`

	Data     []byte `json:"data,omitempty"`
	ExitCode *int   `json:"exit_code,omitempty"`

	Fields map[string]any `json:"fields,omitempty"`
}
