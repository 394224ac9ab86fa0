package main

import (
	"context"

	"github.com/urfave/cli/v3"
)

// Applicator defines the interface for the core application logic.
// This allows the CLI to be tested independently of the main app implementation.
type Applicator interface {
	Serve(ctx context.Context, cfgPath string) error
	SendTest(ctx context.Context, cfgPath, name, account string, value float64) error
	Mappings(ctx context.Context, cfgPath string, limit int) error
	Wipe(ctx context.Context, cfgPath string) error
}

// BuildCLI creates the full CLI command structure for the application.
// It injects the core application logic (the Applicator) into the command actions.
func BuildCLI(app Applicator) *cli.Command {
	// Define flags that are common across multiple commands.
	configFlag := &cli.StringFlag{
		Name:    "config",
		Aliases: []string{"c"},
		Value:   "config.yaml",
		Usage:   "path to the configuration file",
	}

	// Define all application commands.
	serveCmd := &cli.Command{
		Name:  "serve",
		Usage: "Run the Pipeliner webhook relay server",
		Flags: []cli.Flag{configFlag},
		Action: func(ctx context.Context, c *cli.Command) error {
			return app.Serve(ctx, c.String("config"))
		},
	}

	sendTestCmd := &cli.Command{
		Name:  "send-test",
		Usage: "Dispatch a synthetic opportunity through the relay",
		Flags: []cli.Flag{
			configFlag,
			&cli.StringFlag{Name: "name", Usage: "override the test opportunity name"},
			&cli.StringFlag{Name: "account", Usage: "override the test opportunity account"},
			&cli.FloatFlag{Name: "value", Usage: "override the test opportunity value"},
		},
		Action: func(ctx context.Context, c *cli.Command) error {
			return app.SendTest(ctx, c.String("config"), c.String("name"), c.String("account"), c.Float("value"))
		},
	}

	mappingsCmd := &cli.Command{
		Name:  "mappings",
		Usage: "List stored opportunity-to-project mappings and recent deliveries",
		Flags: []cli.Flag{
			configFlag,
			&cli.IntFlag{Name: "limit", Usage: "maximum rows to list", Value: 50},
		},
		Action: func(ctx context.Context, c *cli.Command) error {
			return app.Mappings(ctx, c.String("config"), int(c.Int("limit")))
		},
	}

	wipeCmd := &cli.Command{
		Name:  "wipe",
		Usage: "Delete the local mapping database file",
		Flags: []cli.Flag{configFlag},
		Action: func(ctx context.Context, c *cli.Command) error {
			return app.Wipe(ctx, c.String("config"))
		},
	}

	// Assemble the root command.
	rootCmd := &cli.Command{
		Name:     "oppsync",
		Usage:    "Relay Pipeliner CRM webhooks into Asana projects",
		Commands: []*cli.Command{serveCmd, sendTestCmd, mappingsCmd, wipeCmd},
	}

	return rootCmd
}
