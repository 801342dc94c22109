package server

import (
	"context"
	"strconv"
	"time"

	"secwire/config"
	"secwire/models"

	"github.com/gofiber/adaptor/v2"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/compress"
	"github.com/gofiber/fiber/v2/middleware/requestid"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	log "github.com/sirupsen/logrus"
)

// Reader is the read-only slice of the store the status API exposes.
type Reader interface {
	GetStats(ctx context.Context) (models.Stats, error)
	FeedStatuses(ctx context.Context) ([]models.FeedStatus, error)
	RecentItems(ctx context.Context, sinceHours int, limit int) ([]models.Item, error)
	ItemsByCategory(ctx context.Context, category string, sinceHours int, limit int) ([]models.Item, error)
	SearchItems(ctx context.Context, term string, sinceHours int, limit int) ([]models.Item, error)
}

type ServerConfig struct {
	// Reader to use for the read endpoints
	Reader Reader

	// Configured feeds, echoed on /feeds alongside their stored status
	Feeds []config.Feed
}

// Returns a fiber.App instance serving the read-only status API
func Server(config *ServerConfig) *fiber.App {

	app := fiber.New(fiber.Config{
		DisableStartupMessage: true,
	})

	// Middleware to track the latency of each request
	app.Use(func(c *fiber.Ctx) error {
		// start timer
		start := time.Now()

		// next routes
		err := c.Next()

		// stop timer
		stop := time.Now()

		// Diff
		log.WithFields(log.Fields{
			"method":  c.Method(),
			"route":   c.Route().Path,
			"latency": stop.Sub(start),
		}).Info("Request")
		return err
	})

	app.Use(requestid.New(requestid.ConfigDefault))
	app.Use(compress.New())

	app.Get("/healthz", func(c *fiber.Ctx) error {
		return c.JSON(map[string]interface{}{
			"status": "ok",
		})
	})

	app.Get("/stats", func(c *fiber.Ctx) error {
		stats, err := config.Reader.GetStats(c.Context())
		if err != nil {
			log.Errorf("Error reading stats: %v", err)
			return c.Status(500).SendString("Failed to read stats")
		}
		return c.JSON(stats)
	})

	app.Get("/feeds", func(c *fiber.Ctx) error {
		statuses, err := config.Reader.FeedStatuses(c.Context())
		if err != nil {
			log.Errorf("Error reading feed statuses: %v", err)
			return c.Status(500).SendString("Failed to read feed statuses")
		}

		return c.JSON(map[string]interface{}{
			"configured": config.Feeds,
			"statuses":   statuses,
		})
	})

	app.Get("/recent", func(c *fiber.Ctx) error {
		hours := parseBoundedInt(c.Query("hours", "24"), 24, 1, 24*30)
		limit := parseBoundedInt(c.Query("limit", "20"), 20, 1, 100)
		category := c.Query("category", "")
		term := c.Query("q", "")

		var (
			items []models.Item
			err   error
		)
		switch {
		case term != "":
			items, err = config.Reader.SearchItems(c.Context(), term, hours, limit)
		case category != "":
			items, err = config.Reader.ItemsByCategory(c.Context(), category, hours, limit)
		default:
			items, err = config.Reader.RecentItems(c.Context(), hours, limit)
		}
		if err != nil {
			log.Errorf("Error reading recent items: %v", err)
			return c.Status(500).SendString("Failed to read items")
		}

		if items == nil {
			items = []models.Item{}
		}
		return c.JSON(items)
	})

	app.Get("/metrics", adaptor.HTTPHandler(promhttp.Handler()))

	return app
}

func parseBoundedInt(raw string, fallback int, min int, max int) int {
	value, err := strconv.Atoi(raw)
	if err != nil || value < min || value > max {
		return fallback
	}
	return value
}
