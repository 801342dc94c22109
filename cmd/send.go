package cmd

import (
	"fmt"

	"secwire/db"
	"secwire/deliver"
	"secwire/telegram"

	"github.com/urfave/cli/v2"
)

func sendCmd() *cli.Command {
	return &cli.Command{
		Name:  "send",
		Usage: "Deliver a batch of unsent items",
		Description: `Reads up to --limit unsent items from the database and delivers
		them to the Telegram channel, newest first. Items are only marked sent
		after the API confirms delivery, so a failed run can safely be repeated.`,
		Flags: []cli.Flag{
			databaseFlag(),
			&cli.StringFlag{
				Name:     "token",
				Usage:    "Telegram bot token",
				EnvVars:  []string{"SECWIRE_TELEGRAM_TOKEN"},
				Required: true,
			},
			&cli.StringFlag{
				Name:     "chat-id",
				Usage:    "Telegram channel or chat id, e.g. @secwire",
				EnvVars:  []string{"SECWIRE_TELEGRAM_CHAT_ID"},
				Required: true,
			},
			&cli.IntFlag{
				Name:    "limit",
				Aliases: []string{"l"},
				Value:   20,
				Usage:   "Maximum number of items to deliver",
			},
		},
		Action: func(ctx *cli.Context) error {
			store, err := db.New(ctx.String("database"))
			if err != nil {
				return err
			}
			defer store.Close()

			sender := telegram.New(telegram.DefaultAPIHost, ctx.String("token"))
			drainer := deliver.New(store, sender, deliver.Options{
				ChatID: ctx.String("chat-id"),
			})

			sent, err := drainer.Drain(ctx.Context, ctx.Int("limit"))
			if err != nil {
				return err
			}

			fmt.Printf("Delivered %d items\n", sent)
			return nil
		},
	}
}
