package deliver

import (
	"context"
	"fmt"
	"time"

	"secwire/models"
	"secwire/telegram"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	log "github.com/sirupsen/logrus"
)

var (
	itemsDelivered = promauto.NewCounter(prometheus.CounterOpts{
		Name: "secwire_items_delivered_total",
		Help: "The total number of items confirmed delivered to the channel",
	})

	deliveryFailures = promauto.NewCounter(prometheus.CounterOpts{
		Name: "secwire_delivery_failures_total",
		Help: "The total number of non-rate-limit delivery failures",
	})

	rateLimitHits = promauto.NewCounter(prometheus.CounterOpts{
		Name: "secwire_rate_limit_hits_total",
		Help: "The number of times the channel reported flood control",
	})
)

// Sender is the delivery channel boundary. The drainer interprets exactly
// the three outcome kinds and depends on nothing else from the channel.
type Sender interface {
	SendText(ctx context.Context, chatID string, text string) telegram.Outcome
	SendImage(ctx context.Context, chatID string, imageURL string, caption string) telegram.Outcome
}

// Store is the slice of the item store the drainer needs.
type Store interface {
	UnsentItems(ctx context.Context, limit int) ([]models.Item, error)
	MarkSent(ctx context.Context, id int64) error
}

// Options tune the drain policy.
type Options struct {
	ChatID string
	// MessageDelay is enforced between consecutive deliveries regardless
	// of outcome, to stay under the channel's steady-state limit
	MessageDelay time.Duration
	// RateLimitRetries bounds how often one item is retried after flood
	// control before it is left for the next cycle
	RateLimitRetries int
	// DefaultRetryAfter is the wait used when the rate-limit signal
	// carries no usable duration
	DefaultRetryAfter time.Duration
}

// Drainer converts stored-but-undelivered items into confirmed deliveries.
// Items are marked sent only after the channel confirms success, so a crash
// mid-batch leaves unconfirmed items eligible for the next cycle.
type Drainer struct {
	store  Store
	sender Sender
	opts   Options
}

func New(store Store, sender Sender, opts Options) *Drainer {
	if opts.MessageDelay <= 0 {
		opts.MessageDelay = 2 * time.Second
	}
	if opts.RateLimitRetries <= 0 {
		opts.RateLimitRetries = 3
	}
	if opts.DefaultRetryAfter <= 0 {
		opts.DefaultRetryAfter = telegram.DefaultRetryAfter
	}
	return &Drainer{store: store, sender: sender, opts: opts}
}

// Drain delivers up to limit backlog items and returns how many were
// confirmed sent.
func (d *Drainer) Drain(ctx context.Context, limit int) (int, error) {
	items, err := d.store.UnsentItems(ctx, limit)
	if err != nil {
		return 0, fmt.Errorf("error reading backlog: %w", err)
	}

	if len(items) == 0 {
		return 0, nil
	}

	log.WithField("count", len(items)).Info("Draining backlog")

	sent := 0
	for i, item := range items {
		if err := ctx.Err(); err != nil {
			return sent, err
		}

		if d.deliver(ctx, item) {
			itemsDelivered.Inc()
			if err := d.store.MarkSent(ctx, item.ID); err != nil {
				// The item will be sent again next cycle, which
				// at-least-once allows
				log.WithField("id", item.ID).Errorf("Error marking item sent: %v", err)
			}
			sent++
		}

		if i < len(items)-1 {
			select {
			case <-ctx.Done():
				return sent, ctx.Err()
			case <-time.After(d.opts.MessageDelay):
			}
		}
	}

	log.WithFields(log.Fields{
		"sent":    sent,
		"backlog": len(items),
	}).Info("Drain cycle completed")

	return sent, nil
}

// deliver attempts one item, retrying only on rate-limit signals. Any other
// failure skips the item without consuming the retry budget.
func (d *Drainer) deliver(ctx context.Context, item models.Item) bool {
	for attempt := 1; attempt <= d.opts.RateLimitRetries; attempt++ {
		outcome := d.send(ctx, item)

		switch outcome.Kind {
		case telegram.Sent:
			return true

		case telegram.RateLimited:
			rateLimitHits.Inc()
			wait := outcome.RetryAfter
			if wait <= 0 {
				wait = d.opts.DefaultRetryAfter
			}
			log.WithFields(log.Fields{
				"id":      item.ID,
				"wait":    wait,
				"attempt": fmt.Sprintf("%d/%d", attempt, d.opts.RateLimitRetries),
			}).Warn("Rate limited, backing off")

			select {
			case <-ctx.Done():
				return false
			case <-time.After(wait):
			}

		default:
			deliveryFailures.Inc()
			log.WithFields(log.Fields{
				"id":   item.ID,
				"link": item.Link,
			}).Errorf("Error delivering item, skipping: %v", outcome.Err)
			return false
		}
	}

	log.WithField("id", item.ID).Warn("Rate limit retries exhausted, leaving item for next cycle")
	return false
}

func (d *Drainer) send(ctx context.Context, item models.Item) telegram.Outcome {
	if item.ImageURL != "" {
		return d.sender.SendImage(ctx, d.opts.ChatID, item.ImageURL, telegram.FormatCaption(item, true))
	}
	return d.sender.SendText(ctx, d.opts.ChatID, telegram.FormatMessage(item, true))
}
