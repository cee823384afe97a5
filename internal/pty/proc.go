// Package pty wraps one interactive child process bound to a pseudo-terminal.
package pty

import (
	"errors"
	"os"
	"os/exec"
	"sync/atomic"
	"syscall"

	"github.com/creack/pty"
)

// ErrClosed is returned for writes and resizes after the process has exited.
var ErrClosed = errors.New("pty: process closed")

type Winsize struct {
	Rows uint16
	Cols uint16
}

type StartRequest struct {
	Command string
	Args    []string
	Dir     string
	Env     []string

	InitialSize Winsize
}

// Proc is one pty-backed child process. The master side is read by exactly
// one goroutine (the Output drain) and written by at most one owner.
type Proc struct {
	cmd    *exec.Cmd
	master *os.File

	outCh   chan []byte
	outDone chan struct{}

	closed atomic.Bool
}

// Start launches the command with its stdio bound to a fresh pty slave.
// The returned Proc's Output channel closes when the process stops producing
// output (exit or pty teardown); callers must then call Wait to reap it.
func Start(req StartRequest) (*Proc, error) {
	if req.Command == "" {
		return nil, errors.New("command is required")
	}

	cmd := exec.Command(req.Command, req.Args...)
	if req.Dir != "" {
		cmd.Dir = req.Dir
	}
	if len(req.Env) > 0 {
		cmd.Env = req.Env
	}

	size := &pty.Winsize{Rows: req.InitialSize.Rows, Cols: req.InitialSize.Cols}
	if size.Rows == 0 || size.Cols == 0 {
		size = &pty.Winsize{Rows: 40, Cols: 120}
	}

	master, err := pty.StartWithSize(cmd, size)
	if err != nil {
		return nil, err
	}

	p := &Proc{
		cmd:     cmd,
		master:  master,
		outCh:   make(chan []byte, 16),
		outDone: make(chan struct{}),
	}

	go func() {
		defer close(p.outDone)
		defer close(p.outCh)
		buf := make([]byte, 32*1024)
		for {
			n, rerr := master.Read(buf)
			if n > 0 {
				b := make([]byte, n)
				copy(b, buf[:n])
				p.outCh <- b
			}
			if rerr != nil {
				// EIO is the normal end-of-stream on Linux ptys.
				return
			}
		}
	}()

	return p, nil
}

// Output yields raw pty bytes in read order. Closed on process exit.
func (p *Proc) Output() <-chan []byte { return p.outCh }

func (p *Proc) PID() int {
	if p == nil || p.cmd == nil || p.cmd.Process == nil {
		return 0
	}
	return p.cmd.Process.Pid
}

func (p *Proc) Write(b []byte) (int, error) {
	if p == nil || p.master == nil || p.closed.Load() {
		return 0, ErrClosed
	}
	n, err := p.master.Write(b)
	if err != nil {
		return n, ErrClosed
	}
	return n, nil
}

func (p *Proc) Resize(rows, cols uint16) error {
	if p == nil || p.master == nil || p.closed.Load() {
		return ErrClosed
	}
	return pty.Setsize(p.master, &pty.Winsize{Rows: rows, Cols: cols})
}

// Terminate sends SIGTERM; Kill sends SIGKILL. Both target the process
// group so agent child trees go down with the leader.
func (p *Proc) Terminate() error { return p.signal(syscall.SIGTERM) }
func (p *Proc) Kill() error      { return p.signal(syscall.SIGKILL) }

func (p *Proc) signal(sig syscall.Signal) error {
	if p == nil || p.cmd == nil || p.cmd.Process == nil {
		return errors.New("process not started")
	}
	pgid, err := syscall.Getpgid(p.cmd.Process.Pid)
	if err != nil {
		return p.cmd.Process.Signal(sig)
	}
	return syscall.Kill(-pgid, sig)
}

// Wait reaps the process and closes the master descriptor. It returns the
// exit code, using 127 when the code cannot be determined. Call once, after
// the Output channel closes.
func (p *Proc) Wait() (int, error) {
	if p == nil || p.cmd == nil {
		return 127, errors.New("process not started")
	}
	err := p.cmd.Wait()
	<-p.outDone
	p.closed.Store(true)
	_ = p.master.Close()
	if err == nil {
		return 0, nil
	}
	var ee *exec.ExitError
	if errors.As(err, &ee) {
		return ee.ExitCode(), nil
	}
	return 127, err
}
