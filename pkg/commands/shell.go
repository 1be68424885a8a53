package commands

import (
	"context"
	"errors"
	"fmt"
	"os/signal"
	"syscall"

	"github.com/urfave/cli/v3"

	"github.com/aroudaki/app-builder-sub001/pkg/identity"
	"github.com/aroudaki/app-builder-sub001/pkg/sessions"
)

// Shell returns the CLI command for an interactive sandbox session.
func Shell() *cli.Command {
	return &cli.Command{
		Name:  "shell",
		Usage: "Open an interactive session in a sandbox",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "session",
				Aliases: []string{"s"},
				Usage:   "Session id (default: a new random id)",
			},
		},
		Action: runShell,
	}
}

// urlReporter is implemented by sandboxes that publish a dev-server URL.
type urlReporter interface {
	URL(ctx context.Context) (string, error)
}

func runShell(ctx context.Context, c *cli.Command) error {
	cfg, err := loadConfig(c)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	sid := c.String("session")
	if sid == "" {
		sid = identity.NewSessionID()
	}

	registry, factory := newRegistry(ctx, cfg, 0)
	defer func() {
		if err := registry.Cleanup(context.WithoutCancel(ctx)); err != nil {
			fmt.Fprintf(errWriter(c), "cleanup: %v\n", err)
		}
		if factory != nil {
			_ = factory.Reset()
		}
	}()

	sb, err := registry.Get(ctx, sid)
	if err != nil {
		return err
	}

	w := c.Root().Writer
	fmt.Fprintf(w, "Session %s (%s runtime). Type exit to leave.\n", sid, cfg.Runtime)
	if u, ok := sb.(urlReporter); ok {
		if url, err := u.URL(ctx); err == nil {
			fmt.Fprintf(w, "Dev server: %s\n", url)
		}
	}

	err = sessions.REPL(ctx, c.Root().Reader, w, errWriter(c), sb)
	if errors.Is(err, sessions.ErrLogout) {
		return nil
	}
	return err
}
