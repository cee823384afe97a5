package pty

import (
	"bytes"
	"errors"
	"testing"
	"time"
)

func drain(t *testing.T, p *Proc) []byte {
	t.Helper()
	var out bytes.Buffer
	done := make(chan struct{})
	go func() {
		defer close(done)
		for chunk := range p.Output() {
			out.Write(chunk)
		}
	}()
	select {
	case <-done:
	case <-time.After(10 * time.Second):
		t.Fatal("output channel never closed")
	}
	return out.Bytes()
}

func TestStartEchoesOutput(t *testing.T) {
	p, err := Start(StartRequest{Command: "/bin/sh", Args: []string{"-c", "printf hello-from-pty"}})
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	out := drain(t, p)
	code, err := p.Wait()
	if err != nil {
		t.Fatalf("wait: %v", err)
	}
	if code != 0 {
		t.Fatalf("exit code = %d", code)
	}
	if !bytes.Contains(out, []byte("hello-from-pty")) {
		t.Fatalf("output = %q", out)
	}
}

func TestWaitReportsExitCode(t *testing.T) {
	p, err := Start(StartRequest{Command: "/bin/sh", Args: []string{"-c", "exit 3"}})
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	drain(t, p)
	code, err := p.Wait()
	if err != nil {
		t.Fatalf("wait: %v", err)
	}
	if code != 3 {
		t.Fatalf("exit code = %d, want 3", code)
	}
}

func TestStartRequiresCommand(t *testing.T) {
	if _, err := Start(StartRequest{}); err == nil {
		t.Fatal("expected error for empty command")
	}
}

func TestWriteAndResizeAfterExit(t *testing.T) {
	p, err := Start(StartRequest{Command: "/bin/true"})
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	drain(t, p)
	if _, err := p.Wait(); err != nil {
		t.Fatalf("wait: %v", err)
	}
	if _, err := p.Write([]byte("x")); !errors.Is(err, ErrClosed) {
		t.Fatalf("write after exit: %v, want ErrClosed", err)
	}
	if err := p.Resize(24, 80); !errors.Is(err, ErrClosed) {
		t.Fatalf("resize after exit: %v, want ErrClosed", err)
	}
}

func TestWriteReachesChild(t *testing.T) {
	p, err := Start(StartRequest{Command: "/bin/cat"})
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	if _, err := p.Write([]byte("ping\n")); err != nil {
		t.Fatalf("write: %v", err)
	}

	// The pty echoes input and cat writes it back; wait for either copy.
	var out bytes.Buffer
	deadline := time.After(10 * time.Second)
	for !bytes.Contains(out.Bytes(), []byte("ping")) {
		select {
		case chunk, ok := <-p.Output():
			if !ok {
				t.Fatalf("output closed early: %q", out.Bytes())
			}
			out.Write(chunk)
		case <-deadline:
			t.Fatalf("no echo from child: %q", out.Bytes())
		}
	}

	if err := p.Terminate(); err != nil {
		t.Fatalf("terminate: %v", err)
	}
	for range p.Output() {
	}
	if _, err := p.Wait(); err != nil {
		t.Fatalf("wait: %v", err)
	}
}

func TestKillStopsLongRunningChild(t *testing.T) {
	p, err := Start(StartRequest{Command: "/bin/sleep", Args: []string{"60"}})
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	if err := p.Kill(); err != nil {
		t.Fatalf("kill: %v", err)
	}
	drain(t, p)
	if _, err := p.Wait(); err != nil {
		t.Fatalf("wait: %v", err)
	}
}

func TestResizeLiveProcess(t *testing.T) {
	p, err := Start(StartRequest{Command: "/bin/sleep", Args: []string{"60"}, InitialSize: Winsize{Rows: 24, Cols: 80}})
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	if err := p.Resize(50, 200); err != nil {
		t.Fatalf("resize: %v", err)
	}
	_ = p.Kill()
	drain(t, p)
	_, _ = p.Wait()
}
