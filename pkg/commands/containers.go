package commands

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sort"
	"strings"
	"text/tabwriter"

	"github.com/docker/go-units"
	"github.com/urfave/cli/v3"

	"github.com/aroudaki/app-builder-sub001/pkg/sandbox"
)

// Containers returns the CLI command listing managed containers.
func Containers() *cli.Command {
	return &cli.Command{
		Name:    "containers",
		Aliases: []string{"ps"},
		Usage:   "List sandbox containers",
		Action:  runContainers,
	}
}

func runContainers(ctx context.Context, c *cli.Command) error {
	rt, _, release, err := containerRuntime(ctx, c)
	if err != nil {
		return err
	}
	defer release()

	infos, err := rt.List(ctx)
	if err != nil {
		return err
	}
	return listContainers(c.Root().Writer, infos)
}

func listContainers(w io.Writer, infos []sandbox.SandboxInfo) error {
	if len(infos) == 0 {
		fmt.Fprintln(w, "No sandbox containers")
		return nil
	}
	sort.Slice(infos, func(i, j int) bool { return infos[i].CreatedAt.After(infos[j].CreatedAt) })

	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "CONTAINER\tSESSION\tSTATUS\tPORTS\tAGE")
	for _, info := range infos {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n",
			shortID(info.ID), orDash(info.SessionID), info.Status, formatPorts(info.Ports), humanAge(info.CreatedAt))
	}
	return tw.Flush()
}

func formatPorts(ports map[string]string) string {
	if len(ports) == 0 {
		return "-"
	}
	parts := make([]string, 0, len(ports))
	for container, host := range ports {
		parts = append(parts, host+"->"+container)
	}
	sort.Strings(parts)
	return strings.Join(parts, ",")
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}

func shortID(id string) string {
	if len(id) > 12 {
		return id[:12]
	}
	return id
}

func sessionFlag() cli.Flag {
	return &cli.BoolFlag{
		Name:  "session",
		Usage: "Treat arguments as session ids instead of container ids or names",
	}
}

// Stats returns the CLI command printing container resource usage.
func Stats() *cli.Command {
	return &cli.Command{
		Name:      "stats",
		Usage:     "Show resource usage of sandbox containers",
		ArgsUsage: "<container> [container...]",
		Flags:     []cli.Flag{sessionFlag()},
		Action:    runStats,
	}
}

func runStats(ctx context.Context, c *cli.Command) error {
	if c.NArg() == 0 {
		return fmt.Errorf("at least one container is required")
	}
	rt, cfg, release, err := containerRuntime(ctx, c)
	if err != nil {
		return err
	}
	defer release()

	tw := tabwriter.NewWriter(c.Root().Writer, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "CONTAINER\tCPU %\tMEM USAGE / LIMIT\tMEM %\tNET I/O")
	var errs []error
	for _, arg := range c.Args().Slice() {
		ref := containerRef(cfg, arg, c.Bool("session"))
		s, err := rt.Stats(ctx, ref)
		if err != nil {
			errs = append(errs, lookupError(ref, err))
			continue
		}
		fmt.Fprintf(tw, "%s\t%s\n", ref, formatStats(s))
	}
	if err := tw.Flush(); err != nil {
		return err
	}
	return errors.Join(errs...)
}

func formatStats(s *sandbox.SandboxStats) string {
	return fmt.Sprintf("%.2f%%\t%s / %s\t%.2f%%\t%s / %s",
		s.CPUPercent,
		units.BytesSize(float64(s.MemoryUsage)), units.BytesSize(float64(s.MemoryLimit)),
		s.MemoryPercent,
		units.HumanSize(float64(s.NetworkRx)), units.HumanSize(float64(s.NetworkTx)))
}

// Stop returns the CLI command stopping and removing containers.
func Stop() *cli.Command {
	return &cli.Command{
		Name:      "stop",
		Aliases:   []string{"rm"},
		Usage:     "Stop and remove sandbox containers",
		ArgsUsage: "<container> [container...]",
		Flags:     []cli.Flag{sessionFlag()},
		Action:    runStop,
	}
}

func runStop(ctx context.Context, c *cli.Command) error {
	if c.NArg() == 0 {
		return fmt.Errorf("at least one container is required")
	}
	rt, cfg, release, err := containerRuntime(ctx, c)
	if err != nil {
		return err
	}
	defer release()

	var errs []error
	for _, arg := range c.Args().Slice() {
		ref := containerRef(cfg, arg, c.Bool("session"))
		if err := rt.Stop(ctx, ref); err != nil {
			errs = append(errs, lookupError(ref, err))
			continue
		}
		fmt.Fprintln(c.Root().Writer, ref)
	}
	return errors.Join(errs...)
}

// lookupError shortens engine errors for containers that do not exist.
func lookupError(ref string, err error) error {
	if sandbox.CodeOf(err) == sandbox.CodeNotFound {
		return fmt.Errorf("no such sandbox: %s", ref)
	}
	return err
}

// Prune returns the CLI command stopping every managed container.
func Prune() *cli.Command {
	return &cli.Command{
		Name:   "prune",
		Usage:  "Stop and remove all sandbox containers",
		Action: runPrune,
	}
}

func runPrune(ctx context.Context, c *cli.Command) error {
	rt, _, release, err := containerRuntime(ctx, c)
	if err != nil {
		return err
	}
	defer release()

	infos, err := rt.List(ctx)
	if err != nil {
		return err
	}
	if err := rt.Cleanup(ctx); err != nil {
		return err
	}
	fmt.Fprintf(c.Root().Writer, "Removed %d container(s)\n", len(infos))
	return nil
}
