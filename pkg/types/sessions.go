package types

import "time"

// SessionState tracks a workspace session through its lifecycle.
type SessionState string

const (
	SessionStateSpawning SessionState = "spawning" // Reserved, process starting
	SessionStateAlive    SessionState = "alive"    // Process running
	SessionStateKilling  SessionState = "killing"  // Graceful shutdown in progress
	SessionStateDead     SessionState = "dead"     // Exited, not yet reaped
)

// IsTerminal returns true if the session state is final.
func (s SessionState) IsTerminal() bool {
	return s == SessionStateDead
}

// SessionInfo is the caller-facing view of one workspace session.
type SessionInfo struct {
	WorkspaceID string       `json:"workspace_id"`
	State       SessionState `json:"state"`
	Agent       string       `json:"agent"`
	Model       string       `json:"model,omitempty"`
	CreatedAt   time.Time    `json:"created_at"`
	PID         int          `json:"pid,omitempty"`
	ExitCode    *int         `json:"exit_code,omitempty"`

	Command    string `json:"command"`
	WorkingDir string `json:"working_dir"`
}

// SpawnRequest asks the controller to start an agent session for a workspace.
type SpawnRequest struct {
	WorkspaceID string `json:"workspace_id"`
	Agent       string `json:"agent"`
	Model       string `json:"model,omitempty"`
	WorkingDir  string `json:"working_dir"`
	Rows        uint16 `json:"rows,omitempty"`
	Cols        uint16 `json:"cols,omitempty"`
}

// RestartRequest switches a live session to a new model by kill + respawn.
type RestartRequest struct {
	Model string `json:"model"`
}

// InputRequest carries bytes destined for a session's stdin.
type InputRequest struct {
	Data string `json:"data"`
}

// ResizeRequest updates a session's pty window size.
type ResizeRequest struct {
	Rows uint16 `json:"rows"`
	Cols uint16 `json:"cols"`
}
