package main

import (
	"github.com/urfave/cli/v2"

	"github.com/andresuchdata/smy-billing/backend-go/internal/repository/postgres"
)

func migrateCommand() *cli.Command {
	return &cli.Command{
		Name:  "migrate",
		Usage: "Apply or roll back schema migrations",
		Subcommands: []*cli.Command{
			{
				Name:   "up",
				Usage:  "Apply all pending migrations",
				Before: initDB,
				After:  closeDB,
				Action: func(c *cli.Context) error {
					return postgres.MigrateUp(dbFrom(c))
				},
			},
			{
				Name:  "down",
				Usage: "Roll back migrations",
				Flags: []cli.Flag{
					&cli.IntFlag{Name: "steps", Value: 1, Usage: "Number of migrations to roll back"},
				},
				Before: initDB,
				After:  closeDB,
				Action: func(c *cli.Context) error {
					return postgres.MigrateDown(dbFrom(c), c.Int("steps"))
				},
			},
		},
	}
}
