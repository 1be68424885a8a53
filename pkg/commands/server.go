package commands

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/urfave/cli/v3"

	"github.com/aroudaki/app-builder-sub001/pkg/netutil"
	"github.com/aroudaki/app-builder-sub001/pkg/sshserver"
)

// Server returns the CLI command that serves sandbox sessions over SSH.
func Server() *cli.Command {
	defaults := sshserver.DefaultConfig()
	return &cli.Command{
		Name:  "serve",
		Usage: "Serve sandbox shells over SSH; the SSH user name selects the session",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "host",
				Usage:   "Address to bind the server to",
				Value:   defaults.Host,
				Sources: cli.EnvVars("SANDBOX_SSH_HOST"),
			},
			&cli.IntFlag{
				Name:    "port",
				Aliases: []string{"p"},
				Usage:   "Port to listen on (0 picks a free port)",
				Value:   sshserver.DefaultPort,
				Sources: cli.EnvVars("SANDBOX_SSH_PORT"),
			},
			&cli.StringFlag{
				Name:    "host-key",
				Usage:   "Path to the SSH host key (generated when missing)",
				Sources: cli.EnvVars("SANDBOX_SSH_HOST_KEY"),
			},
			&cli.DurationFlag{
				Name:  "idle-timeout",
				Usage: "Disconnect idle clients after this long",
				Value: defaults.IdleTimeout,
			},
			&cli.DurationFlag{
				Name:  "max-timeout",
				Usage: "Maximum connection lifetime",
				Value: defaults.MaxTimeout,
			},
			&cli.DurationFlag{
				Name:    "cleanup-delay",
				Usage:   "Grace period before a logged-out session's workspace is removed (default: cleanup_delay from the config)",
				Sources: cli.EnvVars("SANDBOX_CLEANUP_DELAY"),
			},
		},
		Action: runServer,
	}
}

func runServer(ctx context.Context, c *cli.Command) error {
	cfg, err := loadConfig(c)
	if err != nil {
		return err
	}

	port := int(c.Int("port"))
	if port == 0 {
		if port, err = netutil.FindFreePort(); err != nil {
			return fmt.Errorf("failed to pick a port: %w", err)
		}
	}
	delay := cfg.CleanupDelay.Std()
	if c.IsSet("cleanup-delay") {
		delay = c.Duration("cleanup-delay")
	}
	if delay < 0 {
		return fmt.Errorf("cleanup-delay must not be negative")
	}

	sshCfg := sshserver.Config{
		Host:        c.String("host"),
		Port:        port,
		HostKeyPath: c.String("host-key"),
		IdleTimeout: c.Duration("idle-timeout"),
		MaxTimeout:  c.Duration("max-timeout"),
	}
	if err := sshCfg.Validate(); err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	registry, factory := newRegistry(ctx, cfg, delay)
	srv, err := sshserver.New(sshCfg, registry)
	if err != nil {
		return err
	}

	slog.Info("Serving sandbox sessions", "addr", net.JoinHostPort(sshCfg.Host, strconv.Itoa(port)), "runtime", cfg.Runtime, "cleanup_delay", delay)

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Start()
	}()

	var runErr error
	select {
	case runErr = <-errCh:
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_ = srv.Shutdown(shutdownCtx)
	if err := registry.Cleanup(shutdownCtx); err != nil && runErr == nil {
		runErr = err
	}
	if factory != nil {
		_ = factory.Reset()
	}
	return runErr
}
