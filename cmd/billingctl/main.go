package main

import (
	"encoding/json"
	"os"

	"github.com/urfave/cli/v2"

	"github.com/andresuchdata/smy-billing/backend-go/internal/config"
	"github.com/andresuchdata/smy-billing/backend-go/pkg/logger"
)

func newDBURLFlag(cfg *config.Config) *cli.StringFlag {
	return &cli.StringFlag{
		Name:    "db-url",
		Usage:   "Database connection string",
		Value:   cfg.Database.URL(),
		EnvVars: []string{"DATABASE_URL"},
	}
}

func main() {
	cfg := config.Load()

	app := &cli.App{
		Name:  "billingctl",
		Usage: "Operate the meal billing backend: migrations, order imports and invoicing",
		Flags: []cli.Flag{
			newDBURLFlag(cfg),
			&cli.StringFlag{
				Name:    "log-level",
				Value:   cfg.Log.Level,
				EnvVars: []string{"LOG_LEVEL"},
			},
		},
		Before: func(c *cli.Context) error {
			logger.SetupTo(os.Stderr, c.String("log-level"), cfg.Log.Format)
			return nil
		},
		Commands: []*cli.Command{
			migrateCommand(),
			importCommand(cfg),
			archivesCommand(cfg),
			generateCommand(cfg),
			markOverdueCommand(cfg),
			seedMasterCommand(),
		},
	}

	if err := app.Run(os.Args); err != nil {
		logger.Log.Fatal().Err(err).Msg("billingctl failed")
	}
}

func printJSON(c *cli.Context, v interface{}) error {
	enc := json.NewEncoder(c.App.Writer)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
