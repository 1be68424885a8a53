package commands

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/urfave/cli/v3"

	"github.com/aroudaki/app-builder-sub001/pkg/identity"
	"github.com/aroudaki/app-builder-sub001/pkg/sandbox"
)

// Run returns the CLI command that executes commands in a fresh sandbox.
func Run() *cli.Command {
	return &cli.Command{
		Name:      "run",
		Usage:     "Run commands in a sandbox and print their output",
		ArgsUsage: "<command> [command...]",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "session",
				Aliases: []string{"s"},
				Usage:   "Session id (default: a new random id)",
			},
			&cli.StringSliceFlag{
				Name:    "upload",
				Aliases: []string{"u"},
				Usage:   `Copy a local file in before running, as "<sandbox path>=<local path>"`,
			},
			&cli.StringSliceFlag{
				Name:    "download",
				Aliases: []string{"d"},
				Usage:   "Print a sandbox file after running",
			},
			&cli.BoolFlag{
				Name:  "keep",
				Usage: "Leave the sandbox in place after running",
			},
		},
		Action: runRun,
	}
}

func runRun(ctx context.Context, c *cli.Command) error {
	if c.NArg() == 0 {
		return fmt.Errorf("at least one command is required")
	}

	uploads, err := parseUploads(c.StringSlice("upload"))
	if err != nil {
		return err
	}

	cfg, err := loadConfig(c)
	if err != nil {
		return err
	}

	sid := c.String("session")
	if sid == "" {
		sid = identity.NewSessionID()
	}

	registry, factory := newRegistry(ctx, cfg, 0)
	defer func() {
		if factory != nil {
			_ = factory.Reset()
		}
	}()

	sb, err := registry.Get(ctx, sid)
	if err != nil {
		return err
	}
	logger := slog.With("session", sid, "runtime", cfg.Runtime)
	logger.Debug("Sandbox ready")
	if !c.Bool("keep") {
		defer func() {
			if err := registry.Cleanup(context.WithoutCancel(ctx)); err != nil {
				logger.Warn("Failed to clean up sandbox", "error", err)
			}
		}()
	}

	if len(uploads) > 0 {
		if err := sb.UploadFiles(ctx, uploads); err != nil {
			return fmt.Errorf("failed to upload files: %w", err)
		}
	}

	w, ew := c.Root().Writer, errWriter(c)
	exitCode := 0
	for _, line := range c.Args().Slice() {
		res, err := sb.ExecuteCommand(ctx, line)
		if err != nil {
			return fmt.Errorf("failed to run %q: %w", line, err)
		}
		printResult(w, ew, res)
		exitCode = res.ExitCode
	}

	if paths := c.StringSlice("download"); len(paths) > 0 {
		files, err := sb.DownloadFiles(ctx, paths)
		if err != nil {
			return fmt.Errorf("failed to download files: %w", err)
		}
		for _, f := range files {
			fmt.Fprintf(w, "==> %s <==\n%s", f.Path, f.Content)
			if !strings.HasSuffix(f.Content, "\n") {
				fmt.Fprintln(w)
			}
		}
	}

	if exitCode != 0 {
		return cli.Exit("", exitCode)
	}
	return nil
}

// parseUploads reads "<sandbox path>=<local path>" specs.
func parseUploads(specs []string) ([]sandbox.FileUpload, error) {
	var files []sandbox.FileUpload
	for _, spec := range specs {
		target, local, ok := strings.Cut(spec, "=")
		if !ok || target == "" || local == "" {
			return nil, fmt.Errorf("invalid upload %q: expected <sandbox path>=<local path>", spec)
		}
		info, err := os.Stat(local)
		if err != nil {
			return nil, fmt.Errorf("failed to read %s: %w", local, err)
		}
		data, err := os.ReadFile(local)
		if err != nil {
			return nil, fmt.Errorf("failed to read %s: %w", local, err)
		}
		files = append(files, sandbox.FileUpload{Path: target, Content: string(data), Mode: info.Mode().Perm()})
	}
	return files, nil
}
