package station

import (
	"context"
	"errors"
	"os/exec"
	"testing"
	"time"

	"webradio/config"
)

func requireShell(t *testing.T) {
	t.Helper()
	if _, err := exec.LookPath("sh"); err != nil {
		t.Skip("sh not available")
	}
}

func TestNewProcessSubstitutesLivePath(t *testing.T) {
	p := NewProcess("monitor", config.ProcessConfig{
		Command: "ffplay",
		Args:    []string{"-f", "s16le", "-i", "{live}"},
	}, "/tmp/live.pcm")

	if got := p.args[3]; got != "/tmp/live.pcm" {
		t.Errorf("args[3] = %q, want /tmp/live.pcm", got)
	}
}

func TestProcessStartStop(t *testing.T) {
	requireShell(t)

	p := NewProcess("sleeper", config.ProcessConfig{Command: "sh", Args: []string{"-c", "sleep 30"}}, "")
	if err := p.Start(context.Background()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	if !p.IsRunning() {
		t.Fatal("IsRunning() = false after Start()")
	}
	if err := p.Start(context.Background()); !errors.Is(err, ErrProcessActive) {
		t.Errorf("second Start() error = %v, want ErrProcessActive", err)
	}

	done := make(chan struct{})
	go func() {
		p.Stop()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("Stop() did not return")
	}
	if p.IsRunning() {
		t.Error("IsRunning() = true after Stop()")
	}
}

func TestProcessExitsWithContext(t *testing.T) {
	requireShell(t)

	ctx, cancel := context.WithCancel(context.Background())
	p := NewProcess("sleeper", config.ProcessConfig{Command: "sh", Args: []string{"-c", "sleep 30"}}, "")
	if err := p.Start(ctx); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	cancel()

	if err := p.Wait(); err == nil {
		t.Error("Wait() error = nil, want killed process error")
	}
	if p.IsRunning() {
		t.Error("IsRunning() = true after context cancel")
	}
}

func TestProcessStartMissingCommand(t *testing.T) {
	p := NewProcess("missing", config.ProcessConfig{Command: "/nonexistent/webradio-player"}, "")
	if err := p.Start(context.Background()); err == nil {
		t.Fatal("Start() error = nil for missing command")
	}
	if p.IsRunning() {
		t.Error("IsRunning() = true after failed Start()")
	}
}
