package cmd

import (
	"fmt"
	"sort"

	"secwire/db"

	"github.com/urfave/cli/v2"
)

func statsCmd() *cli.Command {
	return &cli.Command{
		Name:        "stats",
		Usage:       "Print item counts",
		Description: `Prints how many items are stored, sent, still queued and how many arrived today, plus a per-category breakdown.`,
		Flags: []cli.Flag{
			databaseFlag(),
		},
		Action: func(ctx *cli.Context) error {
			store, err := db.New(ctx.String("database"))
			if err != nil {
				return err
			}
			defer store.Close()

			stats, err := store.GetStats(ctx.Context)
			if err != nil {
				return err
			}

			fmt.Printf("Total items:   %d\n", stats.Total)
			fmt.Printf("Sent:          %d\n", stats.Sent)
			fmt.Printf("Queued:        %d\n", stats.Unsent)
			fmt.Printf("Added today:   %d\n", stats.Today)

			if len(stats.ByCategory) > 0 {
				fmt.Println("\nBy category:")
				categories := make([]string, 0, len(stats.ByCategory))
				for category := range stats.ByCategory {
					categories = append(categories, category)
				}
				sort.Strings(categories)
				for _, category := range categories {
					fmt.Printf("  %-20s %d\n", category, stats.ByCategory[category])
				}
			}
			return nil
		},
	}
}
