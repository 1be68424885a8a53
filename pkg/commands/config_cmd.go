package commands

import (
	"context"
	"fmt"

	"github.com/urfave/cli/v3"
	"gopkg.in/yaml.v3"

	"github.com/aroudaki/app-builder-sub001/pkg/config"
)

// Config returns the CLI command for inspecting configuration.
func Config() *cli.Command {
	return &cli.Command{
		Name:  "config",
		Usage: "Inspect sandbox configuration",
		Commands: []*cli.Command{
			{
				Name:   "show",
				Usage:  "Print the effective configuration as YAML",
				Action: runConfigShow,
			},
			{
				Name:      "init",
				Usage:     "Write the default configuration to a file",
				ArgsUsage: "<path>",
				Action:    runConfigInit,
			},
		},
	}
}

func runConfigShow(_ context.Context, c *cli.Command) error {
	cfg, err := loadConfig(c)
	if err != nil {
		return err
	}
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	_, err = c.Root().Writer.Write(data)
	return err
}

func runConfigInit(_ context.Context, c *cli.Command) error {
	path := c.Args().First()
	if path == "" {
		return fmt.Errorf("a destination path is required")
	}
	if err := config.Save(path, config.Default()); err != nil {
		return err
	}
	fmt.Fprintf(c.Root().Writer, "Wrote %s\n", path)
	return nil
}
