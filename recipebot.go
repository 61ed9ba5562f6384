package main

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"github.com/urfave/cli/v2"

	"github.com/recipebot/cmd"
)

const (
	version = "0.1.0"
)

func main() {
	// A missing .env file is normal outside development.
	_ = godotenv.Load()

	app := &cli.App{
		Name:    "recipebot",
		Usage:   "Test recipes for pull requests and tickets, on demand from a comment",
		Version: version,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "config",
				Aliases: []string{"c"},
				Usage:   "Load configuration from `FILE` (default: ./recipebot.toml, ./data/recipebot.toml)",
				EnvVars: []string{"RECIPEBOT_CONFIG"},
			},
		},
		Commands: []*cli.Command{
			cmd.ServeCommand(),
			cmd.MigrateCommand(),
			cmd.ConfigCommand(),
			cmd.InstallationCommand(),
		},
	}

	err := app.Run(os.Args)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %s\n", err)
		os.Exit(1)
	}
}
