package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/urfave/cli/v2"

	"github.com/lrhodin/roomstore/pkg/config"
)

var configCommand = &cli.Command{
	Name:   "config",
	Usage:  "Write the example configuration file",
	Action: cmdConfig,
	Flags: []cli.Flag{
		&cli.StringFlag{
			Name:    "output",
			Aliases: []string{"o"},
			Value:   "-",
			Usage:   "Output file path (- for stdout)",
		},
		&cli.BoolFlag{
			Name:  "force",
			Usage: "Overwrite an existing file",
		},
	},
}

func cmdConfig(ctx *cli.Context) error {
	outputPath := ctx.String("output")
	if outputPath == "-" {
		fmt.Print(config.ExampleConfig)
		return nil
	}
	if _, err := os.Stat(outputPath); err == nil && !ctx.Bool("force") {
		return fmt.Errorf("%s already exists, pass --force to overwrite it", outputPath)
	}
	if err := os.MkdirAll(filepath.Dir(outputPath), 0700); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}
	if err := os.WriteFile(outputPath, []byte(config.ExampleConfig), 0600); err != nil {
		return fmt.Errorf("failed to write config to %s: %w", outputPath, err)
	}
	fmt.Fprintf(os.Stderr, "Config written to %s\n", outputPath)
	return nil
}
