package vterm

import (
	"log/slog"
	"os"
	"path/filepath"
	"time"
)

const (
	DefaultHomeDir        = "/app"
	DefaultCommandTimeout = 5 * time.Minute
	DefaultDevServerPort  = 3000
	DefaultReadyInterval  = time.Second
	DefaultReadyAttempts  = 30
)

// Options configures a Terminal. Zero values take the defaults above.
type Options struct {
	SessionID string
	// BaseDir holds one workspace directory per session.
	BaseDir string
	// HomeDir is the virtual home and initial working directory.
	HomeDir string
	// Env is merged over the default environment.
	Env map[string]string
	// Toolchain maps passthrough verbs to executables.
	Toolchain map[string]string

	CommandTimeout time.Duration
	DevServerPort  int
	ReadyInterval  time.Duration
	ReadyAttempts  int
	// TTY runs background processes under a pseudo-terminal.
	TTY bool

	Logger *slog.Logger
}

// DefaultToolchain is the set of verbs forwarded to real binaries.
func DefaultToolchain() map[string]string {
	return map[string]string{
		"npm":  "npm",
		"node": "node",
		"npx":  "npx",
	}
}

func (o *Options) applyDefaults() {
	if o.BaseDir == "" {
		o.BaseDir = filepath.Join(os.TempDir(), "app-builder-sandboxes")
	}
	if o.HomeDir == "" {
		o.HomeDir = DefaultHomeDir
	}
	if o.Toolchain == nil {
		o.Toolchain = DefaultToolchain()
	}
	if o.CommandTimeout <= 0 {
		o.CommandTimeout = DefaultCommandTimeout
	}
	if o.DevServerPort <= 0 {
		o.DevServerPort = DefaultDevServerPort
	}
	if o.ReadyInterval <= 0 {
		o.ReadyInterval = DefaultReadyInterval
	}
	if o.ReadyAttempts <= 0 {
		o.ReadyAttempts = DefaultReadyAttempts
	}
	if o.Logger == nil {
		o.Logger = slog.Default()
	}
}
