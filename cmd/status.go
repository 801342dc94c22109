package cmd

import (
	"fmt"
	"time"

	"secwire/db"

	"github.com/urfave/cli/v2"
)

func statusCmd() *cli.Command {
	return &cli.Command{
		Name:        "status",
		Usage:       "Print the health of every tracked feed",
		Description: `Prints one line per feed with the last check time, last success time and consecutive error count.`,
		Flags: []cli.Flag{
			databaseFlag(),
		},
		Action: func(ctx *cli.Context) error {
			store, err := db.New(ctx.String("database"))
			if err != nil {
				return err
			}
			defer store.Close()

			statuses, err := store.FeedStatuses(ctx.Context)
			if err != nil {
				return err
			}

			if len(statuses) == 0 {
				fmt.Println("No feeds have been checked yet")
				return nil
			}

			for _, status := range statuses {
				marker := "ok"
				if status.ErrorCount > 0 {
					marker = fmt.Sprintf("%d errors", status.ErrorCount)
				}
				fmt.Printf("%-30s %-10s checked %s, last success %s\n",
					status.FeedName,
					marker,
					formatStatusTime(status.LastChecked),
					formatStatusTime(status.LastSuccess),
				)
				if status.LastError != "" {
					fmt.Printf("%-30s   last error: %s\n", "", status.LastError)
				}
			}
			return nil
		},
	}
}

func formatStatusTime(t *time.Time) string {
	if t == nil {
		return "never"
	}
	return t.Local().Format(time.RFC3339)
}
