// Package vterm emulates a small POSIX shell subset over a private workspace
// directory. Each Terminal owns one session's workspace, environment, command
// history and background processes.
package vterm

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/aroudaki/app-builder-sub001/pkg/identity"
	"github.com/aroudaki/app-builder-sub001/pkg/process"
	"github.com/aroudaki/app-builder-sub001/pkg/sandbox"
)

var _ sandbox.Sandbox = (*Terminal)(nil)

type Terminal struct {
	mu sync.Mutex

	opts   Options
	id     string
	root   string
	home   string
	cwd    string
	oldPwd string

	env      map[string]string
	history  []string
	lastExit int

	procs  *process.Registry
	logger *slog.Logger

	closed bool
}

// New creates the session workspace and a terminal positioned at the home
// directory.
func New(opts Options) (*Terminal, error) {
	opts.applyDefaults()
	if opts.SessionID == "" {
		opts.SessionID = identity.NewSessionID()
	}
	if err := identity.ValidateSessionID(opts.SessionID); err != nil {
		return nil, err
	}

	if err := os.MkdirAll(opts.BaseDir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create base directory: %w", err)
	}
	// Each terminal gets its own directory so a pending removal from an
	// earlier terminal of the same session never touches this one.
	root, err := os.MkdirTemp(opts.BaseDir, opts.SessionID+"-*")
	if err != nil {
		return nil, fmt.Errorf("failed to create workspace: %w", err)
	}
	root, err = filepath.EvalSymlinks(root)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve workspace: %w", err)
	}

	logger := opts.Logger.With("session", opts.SessionID)
	t := &Terminal{
		opts:   opts,
		id:     opts.SessionID,
		root:   root,
		procs:  process.NewRegistry(logger),
		logger: logger,
	}
	t.cwd = "/"
	t.home = t.resolve(opts.HomeDir)

	homeReal, err := t.realize(t.home)
	if err != nil {
		return nil, fmt.Errorf("invalid home directory %s: %w", opts.HomeDir, err)
	}
	if err := os.MkdirAll(homeReal, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create home directory: %w", err)
	}
	t.cwd = t.home
	t.oldPwd = t.home

	t.env = map[string]string{
		"HOME":  t.home,
		"PWD":   t.cwd,
		"PATH":  os.Getenv("PATH"),
		"USER":  "user",
		"SHELL": "/bin/bash",
		"TERM":  "xterm-256color",
	}
	for k, v := range opts.Env {
		t.env[k] = v
	}

	logger.Debug("Virtual terminal created", "root", root)
	return t, nil
}

// ID returns the session id.
func (t *Terminal) ID() string { return t.id }

// Root returns the host directory backing the workspace.
func (t *Terminal) Root() string { return t.root }

// Cwd returns the current virtual directory.
func (t *Terminal) Cwd() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.cwd
}

// ExecuteCommand runs one command line. The returned error is always nil:
// failures are reported through the exit code and stderr.
func (t *Terminal) ExecuteCommand(ctx context.Context, line string) (*sandbox.CommandResult, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	started := time.Now()
	res := t.executeLine(ctx, line)
	t.lastExit = res.code

	t.logger.Debug("Command executed", "command", line, "exit", res.code, "duration", time.Since(started))
	return &sandbox.CommandResult{
		Stdout:     res.stdout,
		Stderr:     res.stderr,
		ExitCode:   res.code,
		DurationMs: time.Since(started).Milliseconds(),
	}, nil
}

func (t *Terminal) executeLine(ctx context.Context, line string) result {
	if t.closed {
		return failf(1, "bash: session %s has been cleaned up\n", t.id)
	}
	if strings.TrimSpace(line) == "" {
		return result{}
	}
	t.history = append(t.history, line)

	steps, err := splitSteps(line)
	if err != nil {
		return failf(1, "bash: %s\n", err)
	}

	var out result
	for i, s := range steps {
		if i > 0 {
			if (s.sep == "&&" && out.code != 0) || (s.sep == "||" && out.code == 0) {
				continue
			}
		}
		res := t.runStep(ctx, s.src)
		t.lastExit = res.code
		out.stdout += res.stdout
		out.stderr += res.stderr
		out.code = res.code
	}
	return out
}

func (t *Terminal) runStep(ctx context.Context, src string) result {
	cmd, err := parseCommand(src, t.expand)
	if err != nil {
		return failf(1, "bash: %s\n", err)
	}
	if len(cmd.Args) == 0 {
		return result{}
	}

	var stdin *string
	if cmd.Op == "<" {
		content, err := t.readFile(cmd.Target)
		if err != nil {
			return failf(1, "bash: %s: %s\n", cmd.Target, errText(err))
		}
		stdin = &content
	}

	res := t.dispatch(ctx, cmd.Args, stdin)
	if cmd.Op == "|" {
		piped := res.stdout
		next := t.dispatch(ctx, cmd.Pipe, &piped)
		next.stderr = res.stderr + next.stderr
		res = next
	}

	switch cmd.Stderr {
	case "":
	case "&1":
		res.stdout += res.stderr
		res.stderr = ""
	case "/dev/null":
		res.stderr = ""
	default:
		if err := t.writeRedirect(cmd.Stderr, res.stderr, false); err != nil {
			return failf(1, "bash: %s: %s\n", cmd.Stderr, errText(err))
		}
		res.stderr = ""
	}

	if cmd.Op == ">" || cmd.Op == ">>" {
		if err := t.writeRedirect(cmd.Target, res.stdout, cmd.Op == ">>"); err != nil {
			res.stderr += fmt.Sprintf("bash: %s: %s\n", cmd.Target, errText(err))
			res.code = 1
		}
		res.stdout = ""
	}
	return res
}

func (t *Terminal) expand(name string) string {
	if name == "?" {
		return strconv.Itoa(t.lastExit)
	}
	return t.env[name]
}

// dispatch is a closed switch over builtins, toolchain verbs and unknown
// verbs. Nothing else is ever executed.
func (t *Terminal) dispatch(ctx context.Context, argv []string, stdin *string) result {
	verb, args := argv[0], argv[1:]
	if fn, ok := builtins[verb]; ok {
		return fn(t, ctx, args, stdin)
	}
	if _, ok := t.opts.Toolchain[verb]; ok {
		return t.runToolchain(ctx, verb, args, stdin)
	}
	if name, value, ok := assignment(verb); ok && len(args) == 0 {
		t.setEnv(name, value)
		return result{}
	}
	return failf(127, "bash: %s: command not found\n", verb)
}

func (t *Terminal) setEnv(name, value string) {
	t.env[name] = value
}

func (t *Terminal) readFile(arg string) (string, error) {
	_, real, err := t.lookup(arg)
	if err != nil {
		return "", err
	}
	info, err := os.Stat(real)
	if err != nil {
		return "", err
	}
	if info.IsDir() {
		return "", syscall.EISDIR
	}
	data, err := os.ReadFile(real)
	return string(data), err
}

func (t *Terminal) writeRedirect(target, content string, appendTo bool) error {
	if target == "/dev/null" {
		return nil
	}
	_, real, err := t.lookup(target)
	if err != nil {
		return err
	}
	flags := os.O_WRONLY | os.O_CREATE | os.O_TRUNC
	if appendTo {
		flags = os.O_WRONLY | os.O_CREATE | os.O_APPEND
	}
	f, err := os.OpenFile(real, flags, 0o644)
	if err != nil {
		return err
	}
	if _, err := f.WriteString(content); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

// UploadFiles writes files at their virtual paths, creating parents.
func (t *Terminal) UploadFiles(_ context.Context, files []sandbox.FileUpload) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	for _, f := range files {
		_, real, err := t.lookup(f.Path)
		if err != nil {
			return fmt.Errorf("failed to upload %s: %w", f.Path, err)
		}
		if err := os.MkdirAll(filepath.Dir(real), 0o755); err != nil {
			return fmt.Errorf("failed to create parent of %s: %w", f.Path, err)
		}
		mode := f.Mode
		if mode == 0 {
			mode = 0o644
		}
		if err := os.WriteFile(real, []byte(f.Content), mode); err != nil {
			return fmt.Errorf("failed to upload %s: %w", f.Path, err)
		}
		if f.Mode != 0 {
			if err := os.Chmod(real, f.Mode); err != nil {
				return fmt.Errorf("failed to chmod %s: %w", f.Path, err)
			}
		}
	}
	t.logger.Debug("Uploaded files", "count", len(files))
	return nil
}

// DownloadFiles reads files at their virtual paths.
func (t *Terminal) DownloadFiles(_ context.Context, paths []string) ([]sandbox.FileDownload, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	out := make([]sandbox.FileDownload, 0, len(paths))
	for _, p := range paths {
		_, real, err := t.lookup(p)
		if err != nil {
			return nil, fmt.Errorf("failed to download %s: %w", p, err)
		}
		info, err := os.Stat(real)
		if err != nil {
			return nil, fmt.Errorf("failed to download %s: %w", p, err)
		}
		if info.IsDir() {
			return nil, fmt.Errorf("failed to download %s: is a directory", p)
		}
		data, err := os.ReadFile(real)
		if err != nil {
			return nil, fmt.Errorf("failed to download %s: %w", p, err)
		}
		out = append(out, sandbox.FileDownload{
			Path:     p,
			Content:  string(data),
			Size:     info.Size(),
			Modified: info.ModTime(),
		})
	}
	return out, nil
}

// Cleanup stops background processes and removes the workspace after delay.
// A non-positive delay removes it before returning.
func (t *Terminal) Cleanup(_ context.Context, delay time.Duration) error {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return nil
	}
	t.closed = true
	t.mu.Unlock()

	var errs []error
	if err := t.procs.KillAll(); err != nil {
		errs = append(errs, err)
	}

	if delay <= 0 {
		if err := os.RemoveAll(t.root); err != nil {
			errs = append(errs, fmt.Errorf("failed to remove workspace: %w", err))
		}
		t.logger.Info("Workspace removed", "root", t.root)
		return errors.Join(errs...)
	}

	root, logger := t.root, t.logger
	time.AfterFunc(delay, func() {
		if err := os.RemoveAll(root); err != nil {
			logger.Warn("Failed to remove workspace", "root", root, "error", err)
			return
		}
		logger.Info("Workspace removed", "root", root)
	})
	logger.Debug("Workspace removal scheduled", "delay", delay)
	return errors.Join(errs...)
}
