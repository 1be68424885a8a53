// Package process tracks detached background processes (dev servers and the
// like) by logical name so they can be observed, probed for readiness and
// stopped explicitly.
package process

import (
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/creack/pty"
)

// killGrace is how long a terminated process group gets before SIGKILL.
const killGrace = 2 * time.Second

// StartOptions describes a process to spawn.
type StartOptions struct {
	Name    string
	Command []string // [program, args...]
	Dir     string
	Env     []string // nil inherits the current environment
	// TTY runs the process under a pseudo-terminal. Output is then a single
	// combined stream.
	TTY       bool
	MaxOutput int
}

// Handle is a running (or exited) background process.
type Handle struct {
	Name      string
	Command   []string
	PID       int
	StartedAt time.Time

	cmd      *exec.Cmd
	ptyFile  *os.File
	output   *outputBuffer
	readerWg sync.WaitGroup
	done     chan struct{}
	exitCode atomic.Int32
	exited   atomic.Bool
}

func start(opts StartOptions) (*Handle, error) {
	if len(opts.Command) == 0 {
		return nil, errors.New("empty command")
	}

	h := &Handle{
		Name:      opts.Name,
		Command:   opts.Command,
		StartedAt: time.Now(),
		output:    newOutputBuffer(opts.MaxOutput),
		done:      make(chan struct{}),
	}
	h.exitCode.Store(-1)

	cmd := exec.Command(opts.Command[0], opts.Command[1:]...)
	cmd.Dir = opts.Dir
	if opts.Env != nil {
		cmd.Env = opts.Env
	}
	h.cmd = cmd

	if opts.TTY {
		// pty.Start puts the child in its own session, which also makes it a
		// process-group leader.
		ptmx, err := pty.StartWithSize(cmd, &pty.Winsize{Rows: 24, Cols: 120})
		if err != nil {
			return nil, err
		}
		h.ptyFile = ptmx
		h.readerWg.Add(1)
		go h.readLoop(ptmx)
	} else {
		SetProcessGroup(cmd)
		cmd.Stdout = h.output
		cmd.Stderr = h.output
		if err := cmd.Start(); err != nil {
			return nil, err
		}
	}

	h.PID = cmd.Process.Pid
	go h.waitForExit()
	return h, nil
}

func (h *Handle) readLoop(r io.Reader) {
	defer h.readerWg.Done()
	buf := make([]byte, 8192)
	for {
		n, err := r.Read(buf)
		if n > 0 {
			h.output.Write(buf[:n])
		}
		if err != nil {
			return
		}
	}
}

func (h *Handle) waitForExit() {
	// Drain the PTY before Wait; see os/exec.Cmd.StdoutPipe.
	h.readerWg.Wait()
	err := h.cmd.Wait()

	code := -1
	if err == nil {
		code = 0
	} else {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			code = exitErr.ExitCode()
		}
	}
	if h.ptyFile != nil {
		_ = h.ptyFile.Close()
	}
	h.exitCode.Store(int32(code))
	h.exited.Store(true)
	close(h.done)
}

// Done is closed once the process has exited.
func (h *Handle) Done() <-chan struct{} {
	return h.done
}

// HasExited returns true if the process has terminated.
func (h *Handle) HasExited() bool {
	return h.exited.Load()
}

// ExitCode returns the exit code, or nil while the process is running.
func (h *Handle) ExitCode() *int {
	if !h.exited.Load() {
		return nil
	}
	code := int(h.exitCode.Load())
	return &code
}

// Output returns the retained combined output.
func (h *Handle) Output() string {
	return h.output.String()
}

// Status is "running" or "exited(<code>)".
func (h *Handle) Status() string {
	if code := h.ExitCode(); code != nil {
		return fmt.Sprintf("exited(%d)", *code)
	}
	return "running"
}

// CommandLine joins the command for display.
func (h *Handle) CommandLine() string {
	return strings.Join(h.Command, " ")
}

// Stop terminates the whole process group and waits for exit. With force the
// group is killed immediately.
func (h *Handle) Stop(force bool) error {
	if h.HasExited() {
		return nil
	}
	if !force {
		if err := SignalGroup(h.PID, false); err != nil && !h.HasExited() {
			return fmt.Errorf("failed to signal process %d: %w", h.PID, err)
		}
		select {
		case <-h.done:
			return nil
		case <-time.After(killGrace):
		}
	}
	if err := SignalGroup(h.PID, true); err != nil && !h.HasExited() {
		return fmt.Errorf("failed to kill process %d: %w", h.PID, err)
	}
	select {
	case <-h.done:
	case <-time.After(killGrace):
		return fmt.Errorf("process %d did not exit after kill", h.PID)
	}
	return nil
}
