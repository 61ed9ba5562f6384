package cmd

import (
	"fmt"

	"github.com/urfave/cli/v2"

	"github.com/recipebot/internal/jobqueue"
)

// MigrateCommand applies database migrations and exits.
func MigrateCommand() *cli.Command {
	return &cli.Command{
		Name:  "migrate",
		Usage: "Apply database migrations",
		Flags: []cli.Flag{
			&cli.BoolFlag{
				Name:  "river",
				Usage: "Also apply River queue migrations (postgres only)",
			},
		},
		Action: func(c *cli.Context) error {
			cfg, logger, err := setup(c)
			if err != nil {
				return err
			}
			ctx := logger.WithContext(c.Context)

			store, err := openStore(ctx, cfg, logger)
			if err != nil {
				return err
			}
			defer store.Close()

			if c.Bool("river") || cfg.Queue.Driver == jobqueue.DriverRiver {
				if err := jobqueue.MigrateRiver(ctx, riverDSN(cfg), logger); err != nil {
					return err
				}
			}
			fmt.Fprintln(c.App.Writer, "Migrations applied")
			return nil
		},
	}
}
