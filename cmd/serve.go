package cmd

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"secwire/config"
	"secwire/db"
	"secwire/deliver"
	"secwire/fetcher"
	"secwire/scheduler"
	"secwire/server"
	"secwire/telegram"

	log "github.com/sirupsen/logrus"
	"github.com/urfave/cli/v2"
)

func serveCmd() *cli.Command {
	return &cli.Command{
		Name:  "serve",
		Usage: "Run the feed pipeline and status server",
		Description: `Starts the secwire pipeline: runs database migrations, loads an
		initial batch of high priority feeds, then checks all configured feeds on a
		fixed interval and delivers new items to the Telegram channel. A read-only
		status API is served over HTTP.`,
		Flags: []cli.Flag{
			configFlag(),
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
				Name:    "port",
				Value:   3000,
				Usage:   "Port for the status HTTP server",
				EnvVars: []string{"SECWIRE_PORT"},
			},
		},
		Action: func(ctx *cli.Context) error {
			fmt.Println("Starting secwire...")

			cfg, err := config.Load(ctx.String("config"))
			if err != nil {
				return err
			}

			database := ctx.String("database")
			if err := db.Migrate(database); err != nil {
				return fmt.Errorf("error running migrations: %w", err)
			}

			store, err := db.New(database)
			if err != nil {
				return err
			}
			defer store.Close()

			sender := telegram.New(telegram.DefaultAPIHost, ctx.String("token"))

			drainer := deliver.New(store, sender, deliver.Options{
				ChatID: ctx.String("chat-id"),
			})

			ftch := fetcher.New(fetcher.Config{
				Timeout:    time.Duration(cfg.Settings.FetchTimeout) * time.Second,
				MaxRetries: cfg.Settings.MaxRetries,
			}, store)

			sched := scheduler.New(store, ftch, drainer, cfg, scheduler.Options{
				Interval:         time.Duration(cfg.Settings.CheckInterval) * time.Minute,
				BatchSize:        cfg.Settings.BatchSize,
				WelcomeBatchSize: cfg.Settings.WelcomeBatchSize,
			})

			app := server.Server(&server.ServerConfig{
				Reader: store,
				Feeds:  cfg.AllFeeds(),
			})

			runCtx, stop := signal.NotifyContext(ctx.Context, os.Interrupt, syscall.SIGTERM)
			defer stop()

			serverErr := make(chan error, 1)
			go func() {
				log.WithField("port", ctx.Int("port")).Info("Starting status server")
				serverErr <- app.Listen(fmt.Sprintf(":%d", ctx.Int("port")))
			}()

			schedDone := make(chan struct{})
			go func() {
				defer close(schedDone)
				sched.Run(runCtx)
			}()

			select {
			case <-runCtx.Done():
				fmt.Println("Gracefully shutting down...")
			case err := <-serverErr:
				stop()
				<-schedDone
				return err
			}

			<-schedDone
			if err := app.ShutdownWithTimeout(10 * time.Second); err != nil {
				log.Errorf("Error shutting down server: %v", err)
			}

			fmt.Println("Done!")
			return nil
		},
	}
}
