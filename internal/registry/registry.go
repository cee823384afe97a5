// Package registry is the authoritative mapping of workspace id to session
// state. One mutex guards the table; it is never held across process spawn,
// kill, or wait calls.
package registry

import (
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/agentdeck/agentdeck/internal/pty"
	"github.com/agentdeck/agentdeck/pkg/types"
)

var (
	// ErrAlreadyRunning means the workspace already has a live session.
	ErrAlreadyRunning = errors.New("registry: session already running for workspace")

	// ErrResourceExhausted means the concurrent session cap is reached even
	// after reaping dead entries.
	ErrResourceExhausted = errors.New("registry: maximum concurrent sessions reached")
)

// Session is the runtime record of one spawned agent process. Mutated only
// by the reader path (MarkDead) and the lifecycle controller (Bind, kill
// transitions); everything else sees snapshots.
type Session struct {
	WorkspaceID string
	Agent       string
	CreatedAt   time.Time

	mu       sync.Mutex
	state    types.SessionState
	model    string
	spec     types.LaunchSpec
	proc     *pty.Proc
	bound    bool
	exitCode *int

	// exited closes exactly once, when MarkDead observes termination.
	exited chan struct{}
}

// Registry enforces per-workspace uniqueness and the global session cap.
type Registry struct {
	mu       sync.Mutex
	sessions map[string]*Session
	max      int
}

func New(maxSessions int) *Registry {
	if maxSessions <= 0 {
		maxSessions = 8
	}
	return &Registry{
		sessions: make(map[string]*Session),
		max:      maxSessions,
	}
}

// Reserve claims the workspace slot and a capacity slot, inserting a
// placeholder session in the spawning state. Dead entries stay queryable and
// are reaped only when the table is full, so a slot freed by an exited
// session is reusable without an explicit Remove. On spawn failure the caller
// must Release.
func (r *Registry) Reserve(workspaceID, agent string) (*Session, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if s, ok := r.sessions[workspaceID]; ok {
		if s.State() != types.SessionStateDead {
			return nil, ErrAlreadyRunning
		}
		delete(r.sessions, workspaceID)
	}
	if len(r.sessions) >= r.max {
		r.reapLocked()
	}
	if len(r.sessions) >= r.max {
		return nil, ErrResourceExhausted
	}

	s := &Session{
		WorkspaceID: workspaceID,
		Agent:       agent,
		CreatedAt:   time.Now().UTC(),
		state:       types.SessionStateSpawning,
		exited:      make(chan struct{}),
	}
	r.sessions[workspaceID] = s
	return s, nil
}

// Release drops a reservation whose spawn failed. It never removes a
// session that made it past Bind, regardless of any state transition a racing
// caller applied to the placeholder.
func (r *Registry) Release(workspaceID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if s, ok := r.sessions[workspaceID]; ok && !s.Bound() {
		delete(r.sessions, workspaceID)
	}
}

func (r *Registry) Get(workspaceID string) (*Session, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sessions[workspaceID]
	return s, ok
}

// Remove tears down a session's registry entry. Dead sessions stay queryable
// until this (or a capacity reap) runs.
func (r *Registry) Remove(workspaceID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.sessions[workspaceID]; !ok {
		return false
	}
	delete(r.sessions, workspaceID)
	return true
}

// List returns sessions ordered by creation time.
func (r *Registry) List() []*Session {
	r.mu.Lock()
	out := make([]*Session, 0, len(r.sessions))
	for _, s := range r.sessions {
		out = append(out, s)
	}
	r.mu.Unlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].WorkspaceID < out[j].WorkspaceID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out
}

func (r *Registry) Count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sessions)
}

// MarkDead records the exit of a workspace's process. Idempotent: the first
// call sets the exit code and wakes kill waiters, later calls are no-ops.
func (r *Registry) MarkDead(workspaceID string, exitCode int) {
	r.mu.Lock()
	s, ok := r.sessions[workspaceID]
	r.mu.Unlock()
	if !ok {
		return
	}
	s.markDead(exitCode)
}

// reapLocked drops every dead entry. Callers hold r.mu.
func (r *Registry) reapLocked() {
	for id, s := range r.sessions {
		if s.State() == types.SessionStateDead {
			delete(r.sessions, id)
		}
	}
}

// Bind attaches the spawned process to a reserved session and moves it to
// the alive state.
func (s *Session) Bind(proc *pty.Proc, spec types.LaunchSpec, model string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.proc = proc
	s.spec = spec
	s.model = model
	s.bound = true
	s.state = types.SessionStateAlive
}

// Bound reports whether the session made it past Bind.
func (s *Session) Bound() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.bound
}

func (s *Session) State() types.SessionState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// SetKilling flags a graceful shutdown in progress. Returns false when the
// session is already dead or has no process to kill yet: a spawning
// placeholder must stay in its state so a failed spawn can still Release it.
func (s *Session) SetKilling() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == types.SessionStateDead || s.state == types.SessionStateSpawning {
		return false
	}
	s.state = types.SessionStateKilling
	return true
}

func (s *Session) markDead(exitCode int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == types.SessionStateDead {
		return
	}
	s.state = types.SessionStateDead
	code := exitCode
	s.exitCode = &code
	close(s.exited)
}

// Exited closes when the reader has observed process termination.
func (s *Session) Exited() <-chan struct{} {
	return s.exited
}

// Proc returns the bound process, nil while spawning.
func (s *Session) Proc() *pty.Proc {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.proc
}

func (s *Session) Model() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.model
}

// Snapshot renders the caller-facing view. The launch environment is
// deliberately excluded: it may contain injected credentials.
func (s *Session) Snapshot() types.SessionInfo {
	s.mu.Lock()
	defer s.mu.Unlock()
	info := types.SessionInfo{
		WorkspaceID: s.WorkspaceID,
		State:       s.state,
		Agent:       s.Agent,
		Model:       s.model,
		CreatedAt:   s.CreatedAt,
		Command:     s.spec.Command,
		WorkingDir:  s.spec.WorkingDir,
	}
	if s.proc != nil {
		info.PID = s.proc.PID()
	}
	if s.exitCode != nil {
		code := *s.exitCode
		info.ExitCode = &code
	}
	return info
}
