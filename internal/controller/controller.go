// Package controller sequences session lifecycle operations: spawn, kill,
// restart, input, and the per-session reader loops.
package controller

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/agentdeck/agentdeck/internal/batch"
	"github.com/agentdeck/agentdeck/internal/events"
	"github.com/agentdeck/agentdeck/internal/pty"
	"github.com/agentdeck/agentdeck/internal/registry"
	"github.com/agentdeck/agentdeck/pkg/types"
)

// ErrNotFound means no session exists for the workspace id.
var ErrNotFound = errors.New("controller: no session for workspace")

// readerFaultCode is the synthetic exit code recorded when the reader loop
// itself fails or the real code cannot be determined.
const readerFaultCode = 127

// SpawnError reports an OS-level launch failure with enough detail to
// diagnose a misconfiguration. It never carries the spawn environment.
type SpawnError struct {
	Command    string
	WorkingDir string
	Err        error
}

func (e *SpawnError) Error() string {
	if e.Command == "" {
		return fmt.Sprintf("spawn failed: %v", e.Err)
	}
	return fmt.Sprintf("spawn %s in %s: %v", e.Command, e.WorkingDir, e.Err)
}

func (e *SpawnError) Unwrap() error { return e.Err }

// CredentialSource supplies the secret snapshot merged into each spawn
// environment. The snapshot is not retained past the merge.
type CredentialSource interface {
	Snapshot() map[string]string
}

// Resolver turns (agent, model, workdir) into a concrete launch spec.
type Resolver interface {
	Resolve(agent, model, workingDir string, credentials map[string]string) (types.LaunchSpec, error)
	DefaultModel(agent string) string
}

// Journal receives spawn/exit records. Optional.
type Journal interface {
	RecordSpawn(ctx context.Context, info types.SessionInfo) (string, error)
	RecordExit(ctx context.Context, rowID string, exitCode int) error
}

type Config struct {
	Batch       batch.Config
	KillGrace   time.Duration
	InitialSize pty.Winsize
}

type Controller struct {
	reg      *registry.Registry
	broker   *events.Broker
	resolver Resolver
	creds    CredentialSource
	journal  Journal

	cfg Config
}

func New(reg *registry.Registry, broker *events.Broker, resolver Resolver, creds CredentialSource, journal Journal, cfg Config) *Controller {
	if cfg.KillGrace <= 0 {
		cfg.KillGrace = 3 * time.Second
	}
	return &Controller{
		reg:      reg,
		broker:   broker,
		resolver: resolver,
		creds:    creds,
		journal:  journal,
		cfg:      cfg,
	}
}

// Spawn starts an agent session for a workspace: resolve launch spec, merge
// credentials, reserve a registry slot, start the pty process, bind it, and
// kick off the dedicated reader. A spawn failure releases the reservation.
func (c *Controller) Spawn(ctx context.Context, req types.SpawnRequest) (types.SessionInfo, error) {
	model := req.Model
	if model == "" {
		model = c.resolver.DefaultModel(req.Agent)
	}

	credentials := c.creds.Snapshot()
	spec, err := c.resolver.Resolve(req.Agent, model, req.WorkingDir, credentials)
	if err != nil {
		return types.SessionInfo{}, &SpawnError{WorkingDir: req.WorkingDir, Err: err}
	}

	sess, err := c.reg.Reserve(req.WorkspaceID, req.Agent)
	if err != nil {
		return types.SessionInfo{}, err
	}

	size := c.cfg.InitialSize
	if req.Rows > 0 && req.Cols > 0 {
		size = pty.Winsize{Rows: req.Rows, Cols: req.Cols}
	}
	proc, err := pty.Start(pty.StartRequest{
		Command:     spec.Command,
		Args:        spec.Args,
		Dir:         spec.WorkingDir,
		Env:         spec.Env,
		InitialSize: size,
	})
	if err != nil {
		c.reg.Release(req.WorkspaceID)
		return types.SessionInfo{}, &SpawnError{Command: spec.Command, WorkingDir: spec.WorkingDir, Err: err}
	}

	sess.Bind(proc, spec, model)
	info := sess.Snapshot()

	rowID := ""
	if c.journal != nil {
		rowID, err = c.journal.RecordSpawn(ctx, info)
		if err != nil {
			slog.Warn("journal: record spawn failed", "workspace", req.WorkspaceID, "err", err)
		}
	}

	c.broker.Publish(types.Event{
		ID:          uuid.NewString(),
		Timestamp:   time.Now().UTC(),
		Type:        types.EventSessionSpawned,
		WorkspaceID: req.WorkspaceID,
		Fields:      map[string]any{"agent": req.Agent, "model": model, "pid": info.PID},
	})

	go c.runReader(sess, proc, rowID)

	slog.Info("session spawned",
		"workspace", req.WorkspaceID, "agent", req.Agent, "model", model, "pid", info.PID)
	return info, nil
}

// runReader is the dedicated blocking reader for one session. It feeds the
// batcher until EOF, then flushes, marks the session dead, and emits the
// exit event — in that order, so the exit always trails the final batch.
func (c *Controller) runReader(sess *registry.Session, proc *pty.Proc, journalRow string) {
	wsID := sess.WorkspaceID
	b := batch.New(c.cfg.Batch, func(data []byte) {
		c.broker.Publish(types.Event{
			ID:          uuid.NewString(),
			Timestamp:   time.Now().UTC(),
			Type:        types.EventSessionOutput,
			WorkspaceID: wsID,
			Data:        data,
		})
	})

	code := readerFaultCode
	defer func() {
		if r := recover(); r != nil {
			slog.Error("session reader fault", "workspace", wsID, "panic", r)
		}
		b.Close()
		c.reg.MarkDead(wsID, code)
		c.broker.Publish(types.Event{
			ID:          uuid.NewString(),
			Timestamp:   time.Now().UTC(),
			Type:        types.EventSessionExit,
			WorkspaceID: wsID,
			ExitCode:    &code,
		})
		if c.journal != nil && journalRow != "" {
			if err := c.journal.RecordExit(context.Background(), journalRow, code); err != nil {
				slog.Warn("journal: record exit failed", "workspace", wsID, "err", err)
			}
		}
		slog.Info("session exited", "workspace", wsID, "exit_code", code)
	}()

	for chunk := range proc.Output() {
		b.Write(chunk)
	}
	if ec, err := proc.Wait(); err == nil {
		code = ec
	}
}

// Kill gracefully terminates a session, escalating to SIGKILL after the
// grace period. It returns only after the reader has observed the exit, so
// callers never race a kill confirmation against a stale alive flag.
func (c *Controller) Kill(ctx context.Context, workspaceID string) error {
	sess, ok := c.reg.Get(workspaceID)
	if !ok {
		return ErrNotFound
	}
	proc := sess.Proc()
	if proc == nil {
		// Still a spawning placeholder: no process exists and the spawn has
		// not returned this workspace id to any caller yet.
		return ErrNotFound
	}
	if !sess.SetKilling() {
		// Already dead: the kill is a no-op, the exit was already observed.
		return nil
	}

	if err := proc.Terminate(); err != nil {
		slog.Warn("terminate signal failed, escalating", "workspace", workspaceID, "err", err)
		_ = proc.Kill()
	}

	select {
	case <-sess.Exited():
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(c.cfg.KillGrace):
		// Escalation is a retry with a harder signal, not a failure.
		slog.Warn("graceful termination timed out, sending SIGKILL",
			"workspace", workspaceID, "grace", c.cfg.KillGrace)
		_ = proc.Kill()
		select {
		case <-sess.Exited():
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	c.broker.Publish(types.Event{
		ID:          uuid.NewString(),
		Timestamp:   time.Now().UTC(),
		Type:        types.EventSessionKilled,
		WorkspaceID: workspaceID,
	})
	return nil
}

// Restart kills the workspace's session (a no-op when already dead) and
// spawns a fresh one with the new model. The old batcher is gone with the
// old reader; no buffered output carries over. Exactly one alive session
// exists for the workspace afterwards.
func (c *Controller) Restart(ctx context.Context, workspaceID, newModel string) (types.SessionInfo, error) {
	sess, ok := c.reg.Get(workspaceID)
	if !ok {
		return types.SessionInfo{}, ErrNotFound
	}
	prev := sess.Snapshot()
	model := newModel
	if model == "" {
		model = prev.Model
	}

	if err := c.Kill(ctx, workspaceID); err != nil && !errors.Is(err, ErrNotFound) {
		return types.SessionInfo{}, err
	}

	// Reserve reaps the dead entry for this workspace before re-admitting it.
	return c.Spawn(ctx, types.SpawnRequest{
		WorkspaceID: workspaceID,
		Agent:       prev.Agent,
		Model:       model,
		WorkingDir:  prev.WorkingDir,
	})
}

// SendInput forwards bytes to the session's stdin.
func (c *Controller) SendInput(workspaceID string, data []byte) error {
	sess, ok := c.reg.Get(workspaceID)
	if !ok {
		return ErrNotFound
	}
	proc := sess.Proc()
	if proc == nil || sess.State() == types.SessionStateDead {
		return pty.ErrClosed
	}
	_, err := proc.Write(data)
	return err
}

// Resize updates the session's pty window.
func (c *Controller) Resize(workspaceID string, rows, cols uint16) error {
	sess, ok := c.reg.Get(workspaceID)
	if !ok {
		return ErrNotFound
	}
	proc := sess.Proc()
	if proc == nil {
		return pty.ErrClosed
	}
	return proc.Resize(rows, cols)
}

// List snapshots all sessions, live and dead-but-unreaped.
func (c *Controller) List() []types.SessionInfo {
	sessions := c.reg.List()
	out := make([]types.SessionInfo, 0, len(sessions))
	for _, s := range sessions {
		out = append(out, s.Snapshot())
	}
	return out
}

// Get snapshots one session.
func (c *Controller) Get(workspaceID string) (types.SessionInfo, error) {
	sess, ok := c.reg.Get(workspaceID)
	if !ok {
		return types.SessionInfo{}, ErrNotFound
	}
	return sess.Snapshot(), nil
}

// Remove reaps a session's registry entry. Live sessions are killed first.
func (c *Controller) Remove(ctx context.Context, workspaceID string) error {
	sess, ok := c.reg.Get(workspaceID)
	if !ok {
		return ErrNotFound
	}
	if sess.State() != types.SessionStateDead {
		if err := c.Kill(ctx, workspaceID); err != nil {
			return err
		}
	}
	c.reg.Remove(workspaceID)
	return nil
}

// Shutdown kills every remaining live session. Used on daemon exit.
func (c *Controller) Shutdown(ctx context.Context) {
	for _, s := range c.reg.List() {
		if s.State() == types.SessionStateDead {
			continue
		}
		if err := c.Kill(ctx, s.WorkspaceID); err != nil {
			slog.Warn("shutdown: kill failed", "workspace", s.WorkspaceID, "err", err)
		}
	}
}
