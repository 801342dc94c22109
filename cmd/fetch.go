package cmd

import (
	"fmt"
	"time"

	"secwire/config"
	"secwire/db"
	"secwire/fetcher"

	log "github.com/sirupsen/logrus"
	"github.com/urfave/cli/v2"
)

func fetchCmd() *cli.Command {
	return &cli.Command{
		Name:  "fetch",
		Usage: "Check feeds once and store new items",
		Description: `Fetches every configured feed (or a single feed with --feed),
		stores the new items in the database and prints how many were new.
		Nothing is delivered; use the send command for that.`,
		Flags: []cli.Flag{
			configFlag(),
			databaseFlag(),
			&cli.StringFlag{
				Name:    "feed",
				Aliases: []string{"f"},
				Usage:   "Only check the feed with this name",
			},
		},
		Action: func(ctx *cli.Context) error {
			cfg, err := config.Load(ctx.String("config"))
			if err != nil {
				return err
			}

			if err := db.Migrate(ctx.String("database")); err != nil {
				return err
			}

			store, err := db.New(ctx.String("database"))
			if err != nil {
				return err
			}
			defer store.Close()

			feeds := cfg.AllFeeds()
			if name := ctx.String("feed"); name != "" {
				feed, ok := cfg.FeedByName(name)
				if !ok {
					return fmt.Errorf("no feed named %q in %s", name, ctx.String("config"))
				}
				feeds = []config.Feed{feed}
			}

			ftch := fetcher.New(fetcher.Config{
				Timeout:    time.Duration(cfg.Settings.FetchTimeout) * time.Second,
				MaxRetries: cfg.Settings.MaxRetries,
			}, store)

			totalNew := 0
			for _, feed := range feeds {
				items := ftch.Fetch(ctx.Context, feed)
				for _, item := range items {
					inserted, err := store.AddItem(ctx.Context, item)
					if err != nil {
						log.WithField("link", item.Link).Errorf("Error storing item: %v", err)
						continue
					}
					if inserted {
						totalNew++
					}
				}
			}

			fmt.Printf("Checked %d feeds, %d new items\n", len(feeds), totalNew)
			return nil
		},
	}
}
