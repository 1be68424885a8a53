package vterm

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strconv"
	"strings"
	"time"

	"github.com/aroudaki/app-builder-sub001/pkg/netutil"
	"github.com/aroudaki/app-builder-sub001/pkg/process"
)

// devServerScript returns the tracked name for long-running npm scripts.
func devServerScript(verb string, args []string) (string, bool) {
	if verb != "npm" || len(args) == 0 {
		return "", false
	}
	switch {
	case args[0] == "start":
		return "start", true
	case args[0] == "run" && len(args) > 1 && (args[1] == "dev" || args[1] == "start"):
		return args[1], true
	}
	return "", false
}

// processEnv is the terminal environment with HOME and PWD realized.
func (t *Terminal) processEnv() []string {
	env := make([]string, 0, len(t.env))
	for _, k := range t.sortedEnv() {
		v := t.env[k]
		switch k {
		case "HOME", "PWD", "OLDPWD":
			if real, err := t.realize(t.resolve(v)); err == nil {
				v = real
			}
		}
		env = append(env, k+"="+v)
	}
	return env
}

// realizeArgs maps absolute virtual paths to host paths.
func (t *Terminal) realizeArgs(args []string) []string {
	out := make([]string, len(args))
	for i, a := range args {
		out[i] = a
		if strings.HasPrefix(a, "/") {
			if real, err := t.realize(t.resolve(a)); err == nil {
				out[i] = real
			}
		}
	}
	return out
}

func (t *Terminal) devServerPort() int {
	if p, err := strconv.Atoi(t.env["PORT"]); err == nil && p > 0 {
		return p
	}
	return t.opts.DevServerPort
}

func (t *Terminal) runToolchain(ctx context.Context, verb string, args []string, stdin *string) result {
	path, err := exec.LookPath(t.opts.Toolchain[verb])
	if err != nil {
		return failf(127, "bash: %s: command not found\n", verb)
	}
	cwd, err := t.realize(t.cwd)
	if err != nil {
		return failf(1, "bash: %s: %s\n", t.cwd, errText(err))
	}

	if name, ok := devServerScript(verb, args); ok {
		return t.startDevServer(ctx, name, path, cwd, args)
	}

	ctx, cancel := context.WithTimeout(ctx, t.opts.CommandTimeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, path, t.realizeArgs(args)...)
	cmd.Dir = cwd
	cmd.Env = t.processEnv()
	process.SetProcessGroup(cmd)
	cmd.Cancel = func() error {
		return process.SignalGroup(cmd.Process.Pid, true)
	}
	cmd.WaitDelay = 2 * time.Second
	if stdin != nil {
		cmd.Stdin = strings.NewReader(*stdin)
	}
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	t.logger.Debug("Running toolchain command", "verb", verb, "args", args, "dir", cwd)
	err = cmd.Run()

	res := result{stdout: stdout.String(), stderr: stderr.String()}
	var exitErr *exec.ExitError
	switch {
	case errors.Is(ctx.Err(), context.DeadlineExceeded):
		res.stderr += fmt.Sprintf("bash: %s: timed out after %s\n", verb, t.opts.CommandTimeout)
		res.code = 124
	case errors.As(err, &exitErr):
		res.code = exitErr.ExitCode()
		if res.code < 0 {
			res.code = 137
		}
	case err != nil:
		res.stderr += fmt.Sprintf("bash: %s: %v\n", verb, err)
		res.code = 126
	}
	return res
}

// startDevServer spawns a detached script and waits, within a bounded number
// of attempts, for it to log a ready marker or open its port.
func (t *Terminal) startDevServer(ctx context.Context, name, path, cwd string, args []string) result {
	if running, found := t.procs.Get(name); found && !running.HasExited() {
		return ok(fmt.Sprintf("%s is already running (pid %d)\n", name, running.PID))
	}

	port := t.devServerPort()
	probePort := port
	if netutil.PortOpen(ctx, "127.0.0.1", port, t.opts.ReadyInterval) {
		// Someone else holds the port, so only this process's output counts.
		t.logger.Warn("Dev server port already in use", "name", name, "port", port)
		probePort = 0
	}
	h, err := t.procs.Start(process.StartOptions{
		Name:    name,
		Command: append([]string{path}, t.realizeArgs(args)...),
		Dir:     cwd,
		Env:     t.processEnv(),
		TTY:     t.opts.TTY,
	})
	if err != nil {
		return failf(1, "npm: %v\n", err)
	}

	err = h.WaitReady(ctx, process.Probe{
		Markers:     process.DefaultReadyMarkers,
		Host:        "127.0.0.1",
		Port:        probePort,
		Interval:    t.opts.ReadyInterval,
		MaxAttempts: t.opts.ReadyAttempts,
	})
	if err != nil {
		if killErr := t.procs.Kill(name, true); killErr != nil && !errors.Is(killErr, process.ErrNoProcess) {
			t.logger.Warn("Failed to kill dev server", "name", name, "error", killErr)
		}
		t.logger.Info("Dev server failed to start", "name", name, "error", err)
		return result{
			stdout: h.Output(),
			stderr: fmt.Sprintf("npm: %s did not become ready: %v\n", name, err),
			code:   1,
		}
	}

	t.logger.Info("Dev server ready", "name", name, "pid", h.PID, "port", port)
	return ok(fmt.Sprintf("Started %s (pid %d) on http://localhost:%d\n", name, h.PID, port))
}
