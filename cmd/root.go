package cmd

import (
	"github.com/urfave/cli/v2"
)

func RootApp() *cli.App {
	return &cli.App{
		Name:  "secwire",
		Usage: "A cybersecurity news wire from RSS and Atom feeds to Telegram",
		Description: `Secwire polls a configured set of cybersecurity RSS and Atom
		feeds, stores every article exactly once in an SQLite database, and
		delivers the backlog to a Telegram channel in rate limited batches.

		Flags can generally be set via environment variables, e.g.:

		--database => SECWIRE_DATABASE=secwire.db
		--config => SECWIRE_CONFIG=secwire.toml
		`,
		Commands: []*cli.Command{
			serveCmd(),
			migrateCmd(),
			rollbackCmd(),
			fetchCmd(),
			sendCmd(),
			statusCmd(),
			statsCmd(),
			tidyCmd(),
		},
		Action: func(ctx *cli.Context) error {
			// Show help if no command is specified
			return ctx.App.Run([]string{"", "help"})
		},
	}
}

func configFlag() *cli.StringFlag {
	return &cli.StringFlag{
		Name:    "config",
		Aliases: []string{"c"},
		Value:   "secwire.toml",
		Usage:   "TOML feed configuration file location",
		EnvVars: []string{"SECWIRE_CONFIG"},
	}
}

func databaseFlag() *cli.StringFlag {
	return &cli.StringFlag{
		Name:    "database",
		Aliases: []string{"d"},
		Value:   "secwire.db",
		Usage:   "SQLite database file location",
		EnvVars: []string{"SECWIRE_DATABASE"},
	}
}
