package commands

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/urfave/cli/v3"

	"github.com/aroudaki/app-builder-sub001/pkg/config"
	"github.com/aroudaki/app-builder-sub001/pkg/engine"
	"github.com/aroudaki/app-builder-sub001/pkg/identity"
	"github.com/aroudaki/app-builder-sub001/pkg/sandbox"
	"github.com/aroudaki/app-builder-sub001/pkg/sessions"
)

// Version is set by the main package at startup.
var Version = "dev"

// connectTimeout bounds the engine ping made when a runtime is first used.
const connectTimeout = 10 * time.Second

// GlobalFlags are shared by every command and belong on the root command.
func GlobalFlags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:    "config",
			Aliases: []string{"c"},
			Usage:   "Path to a YAML configuration file",
			Sources: cli.EnvVars("SANDBOX_CONFIG"),
		},
		&cli.StringFlag{
			Name:    "runtime",
			Usage:   "Sandbox runtime (virtual, docker)",
			Sources: cli.EnvVars("SANDBOX_RUNTIME"),
		},
		&cli.StringFlag{
			Name:    "engine-host",
			Usage:   "Container engine address (default: DOCKER_HOST or the local socket)",
			Sources: cli.EnvVars("DOCKER_HOST"),
		},
		&cli.StringFlag{
			Name:  "memory",
			Usage: `Container memory limit (e.g. "512m", "1g")`,
		},
		&cli.StringFlag{
			Name:  "image",
			Usage: "Container image for new sandboxes",
		},
		&cli.StringFlag{
			Name:  "workspace",
			Usage: "Directory that holds virtual terminal workspaces",
		},
	}
}

// loadConfig reads the configuration file and applies flag overrides.
func loadConfig(c *cli.Command) (*config.Config, error) {
	cfg, err := config.Load(c.String("config"))
	if err != nil {
		return nil, err
	}
	if v := c.String("runtime"); v != "" {
		cfg.Runtime = v
	}
	if v := c.String("engine-host"); v != "" {
		cfg.Docker.Host = v
	}
	if v := c.String("image"); v != "" {
		cfg.Docker.Image = v
	}
	if v := c.String("workspace"); v != "" {
		cfg.Virtual.BaseDir = v
	}
	if v := c.String("memory"); v != "" {
		size, err := config.ParseByteSize(v)
		if err != nil {
			return nil, fmt.Errorf("invalid memory limit %q: %w", v, err)
		}
		cfg.Docker.Memory = size
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// newFactory returns a factory for the configured runtime with the container
// backends registered.
func newFactory(ctx context.Context, cfg *config.Config, backend string) *sandbox.Factory {
	f := sandbox.NewFactory(backend)
	f.Register(config.RuntimeDocker, func() (sandbox.ContainerRuntime, error) {
		connectCtx, cancel := context.WithTimeout(ctx, connectTimeout)
		defer cancel()
		return engine.New(connectCtx, cfg.EngineConfig())
	})
	return f
}

// newRegistry builds the session registry for the configured runtime.
// Removed sessions are torn down after delay.
func newRegistry(ctx context.Context, cfg *config.Config, delay time.Duration) (*sessions.Registry, *sandbox.Factory) {
	if cfg.Runtime == config.RuntimeVirtual {
		return sessions.NewRegistry(sessions.Virtual(cfg.VirtualOptions()), delay), nil
	}
	f := newFactory(ctx, cfg, cfg.Runtime)
	return sessions.NewRegistry(sessions.Container(f, cfg.SandboxTemplate()), delay), f
}

// containerRuntime returns the engine-backed runtime regardless of the
// configured sandbox runtime.
func containerRuntime(ctx context.Context, c *cli.Command) (sandbox.ContainerRuntime, *config.Config, func(), error) {
	cfg, err := loadConfig(c)
	if err != nil {
		return nil, nil, nil, err
	}
	f := newFactory(ctx, cfg, config.RuntimeDocker)
	rt, err := f.Runtime()
	if err != nil {
		return nil, nil, nil, err
	}
	release := func() {
		if err := f.Reset(); err != nil {
			slog.Debug("Failed to close runtime", "error", err)
		}
	}
	return rt, cfg, release, nil
}

// containerRef maps a session id to its container name when asked to.
func containerRef(cfg *config.Config, arg string, bySession bool) string {
	if bySession {
		return identity.ContainerName(cfg.Docker.Prefix, arg)
	}
	return arg
}

func printResult(stdout, stderr io.Writer, res *sandbox.CommandResult) {
	if res.Stdout != "" {
		fmt.Fprint(stdout, res.Stdout)
	}
	if res.Stderr != "" {
		fmt.Fprint(stderr, res.Stderr)
	}
}

// humanAge returns a duration string using the shortest unit: "30s", "5m",
// "2h", "3d".
func humanAge(t time.Time) string {
	if t.IsZero() {
		return "-"
	}
	d := time.Since(t)
	switch {
	case d < time.Minute:
		return fmt.Sprintf("%ds", int(d.Seconds()))
	case d < time.Hour:
		return fmt.Sprintf("%dm", int(d.Minutes()))
	case d < 24*time.Hour:
		return fmt.Sprintf("%dh", int(d.Hours()))
	default:
		return fmt.Sprintf("%dd", int(d.Hours()/24))
	}
}

func errWriter(c *cli.Command) io.Writer {
	if w := c.Root().ErrWriter; w != nil {
		return w
	}
	return c.Root().Writer
}
