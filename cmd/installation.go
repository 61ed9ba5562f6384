package cmd

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/urfave/cli/v2"

	coreprocessor "github.com/recipebot/internal/core_processor"
	"github.com/recipebot/internal/storage"
)

// InstallationCommand manages installations from the command line. Install
// callbacks of the platforms are handled elsewhere; this is for operators.
func InstallationCommand() *cli.Command {
	return &cli.Command{
		Name:    "installation",
		Aliases: []string{"inst"},
		Usage:   "Manage platform installations",
		Subcommands: []*cli.Command{
			{
				Name:  "add",
				Usage: "Create or update an installation",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "platform", Required: true, Usage: "github | gitlab | jira | linear"},
					&cli.StringFlag{Name: "account", Required: true, Usage: "Platform account id (installation id, namespace, client key or organization id)"},
					&cli.StringFlag{Name: "credentials", Required: true, Usage: "Path to a JSON credentials `FILE`"},
					&cli.BoolFlag{Name: "simulate", Usage: "Log comments instead of posting them"},
				},
				Action: runInstallationAdd,
			},
			{
				Name:   "list",
				Usage:  "List installations",
				Action: runInstallationList,
			},
			{
				Name:  "disable",
				Usage: "Disable an installation",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "id", Required: true},
				},
				Action: runInstallationDisable,
			},
		},
	}
}

func withStore(c *cli.Context, fn func(store storage.Store) error) error {
	cfg, logger, err := setup(c)
	if err != nil {
		return err
	}
	store, err := openStore(c.Context, cfg, logger)
	if err != nil {
		return err
	}
	defer store.Close()
	return fn(store)
}

func runInstallationAdd(c *cli.Context) error {
	raw, err := os.ReadFile(c.String("credentials"))
	if err != nil {
		return fmt.Errorf("read credentials: %w", err)
	}
	var creds coreprocessor.Credentials
	if err := json.Unmarshal(raw, &creds); err != nil {
		return fmt.Errorf("parse credentials: %w", err)
	}
	if c.Bool("simulate") {
		creds.Simulate = true
	}

	platform := c.String("platform")
	switch platform {
	case coreprocessor.PlatformGitHub, coreprocessor.PlatformGitLab, coreprocessor.PlatformJira, coreprocessor.PlatformLinear:
	default:
		return fmt.Errorf("unknown platform %q", platform)
	}

	return withStore(c, func(store storage.Store) error {
		inst, err := store.InstallationByAccount(c.Context, platform, c.String("account"))
		switch {
		case errors.Is(err, coreprocessor.ErrNotFound):
			inst = &coreprocessor.Installation{Platform: platform, AccountID: c.String("account")}
		case err != nil:
			return err
		}
		inst.Credentials = creds
		inst.Enabled = true
		if err := store.SaveInstallation(c.Context, inst); err != nil {
			return err
		}
		fmt.Fprintf(c.App.Writer, "Saved installation %s (%s/%s)\n", inst.ID, inst.Platform, inst.AccountID)
		return nil
	})
}

func runInstallationList(c *cli.Context) error {
	return withStore(c, func(store storage.Store) error {
		installs, err := store.ListInstallations(c.Context)
		if err != nil {
			return err
		}
		w := tabwriter.NewWriter(c.App.Writer, 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "ID\tPLATFORM\tACCOUNT\tENABLED\tSIMULATE\tUPDATED")
		for _, inst := range installs {
			fmt.Fprintf(w, "%s\t%s\t%s\t%t\t%t\t%s\n",
				inst.ID, inst.Platform, inst.AccountID, inst.Enabled, inst.Credentials.Simulate,
				inst.UpdatedAt.Format("2006-01-02 15:04"))
		}
		return w.Flush()
	})
}

func runInstallationDisable(c *cli.Context) error {
	return withStore(c, func(store storage.Store) error {
		inst, err := store.GetInstallation(c.Context, c.String("id"))
		if err != nil {
			return err
		}
		inst.Enabled = false
		if err := store.SaveInstallation(c.Context, inst); err != nil {
			return err
		}
		fmt.Fprintf(c.App.Writer, "Disabled installation %s\n", inst.ID)
		return nil
	})
}
