package cmd

import (
	"fmt"
	"strings"

	"secwire/db"

	"github.com/cqroot/prompt"
	"github.com/urfave/cli/v2"
)

func tidyCmd() *cli.Command {
	return &cli.Command{
		Name:  "tidy",
		Usage: "Tidy up the database",
		Description: `Tidy up the database by removing delivered items that are old.

		Remove items that were sent more than 90 days ago from the database.
		This is to keep the database size down. Unsent items are never removed.`,
		Flags: []cli.Flag{
			databaseFlag(),
			&cli.IntFlag{
				Name:  "days",
				Value: 90,
				Usage: "Remove sent items older than this many days",
			},
			&cli.BoolFlag{
				Name:    "yes",
				Aliases: []string{"y"},
				Usage:   "Skip the confirmation prompt",
			},
		},
		Action: func(ctx *cli.Context) error {
			database := ctx.String("database")
			days := ctx.Int("days")
			fmt.Println("Database configured: ", database)

			if !ctx.Bool("yes") {
				answer, err := prompt.New().
					Ask(fmt.Sprintf("Delete sent items older than %d days? (yes/no)", days)).
					Input("no")
				if err != nil {
					return err
				}
				if strings.ToLower(strings.TrimSpace(answer)) != "yes" {
					fmt.Println("Aborted")
					return nil
				}
			}

			store, err := db.New(database)
			if err != nil {
				return err
			}
			defer store.Close()

			removed, err := store.Tidy(ctx.Context, days)
			if err != nil {
				return err
			}

			fmt.Printf("Removed %d items\n", removed)
			return nil
		},
	}
}
