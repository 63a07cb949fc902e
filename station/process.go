package station

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"strings"
	"sync"

	"webradio/config"
)

// ErrProcessActive is returned when starting a process that already runs
var ErrProcessActive = errors.New("process is already active")

// Process supervises one external consumer of the live stream, such as the
// ffplay monitor or the liquidsoap encoder.
type Process struct {
	name    string
	command string
	args    []string
	logger  *slog.Logger

	mu      sync.RWMutex
	cmd     *exec.Cmd
	done    chan struct{}
	exitErr error
}

// NewProcess creates a supervisor for cfg. Every "{live}" in the arguments is
// replaced by livePath.
func NewProcess(name string, cfg config.ProcessConfig, livePath string) *Process {
	args := make([]string, len(cfg.Args))
	for i, a := range cfg.Args {
		args[i] = strings.ReplaceAll(a, "{live}", livePath)
	}
	return &Process{
		name:    name,
		command: cfg.Command,
		args:    args,
		logger:  slog.With("component", "process", "name", name),
	}
}

// Start launches the process. It is killed when ctx ends.
func (p *Process) Start(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.cmd != nil {
		return fmt.Errorf("%s: %w", p.name, ErrProcessActive)
	}

	cmd := exec.CommandContext(ctx, p.command, p.args...)
	cmd.Stderr = os.Stderr
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("failed to start %s: %w", p.name, err)
	}

	p.cmd = cmd
	p.done = make(chan struct{})
	p.exitErr = nil
	p.logger.Info("Process started",
		slog.String("command", p.command),
		slog.Any("args", p.args),
		slog.Int("pid", cmd.Process.Pid))

	// Monitor the process completion
	go func(cmd *exec.Cmd, done chan struct{}) {
		err := cmd.Wait()
		if err != nil {
			p.logger.Warn("Process exited with error", slog.Any("error", err))
		} else {
			p.logger.Info("Process exited")
		}

		p.mu.Lock()
		p.cmd = nil
		p.exitErr = err
		p.mu.Unlock()
		close(done)
	}(cmd, p.done)

	return nil
}

// IsRunning returns true while the process is alive
func (p *Process) IsRunning() bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.cmd != nil
}

// Stop kills the process if it is still running and waits for it to exit
func (p *Process) Stop() {
	p.mu.Lock()
	cmd, done := p.cmd, p.done
	if cmd != nil && cmd.Process != nil {
		_ = cmd.Process.Kill()
	}
	p.mu.Unlock()

	if done != nil {
		<-done
	}
}

// Wait blocks until the process exits and returns its exit error
func (p *Process) Wait() error {
	p.mu.RLock()
	done := p.done
	p.mu.RUnlock()

	if done == nil {
		return nil
	}
	<-done

	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.exitErr
}
