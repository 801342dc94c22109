package fetcher

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"secwire/config"
	"secwire/models"

	"github.com/cenkalti/backoff/v4"
	"github.com/mmcdole/gofeed"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	log "github.com/sirupsen/logrus"
)

var (
	fetchAttempts = promauto.NewCounter(prometheus.CounterOpts{
		Name: "secwire_fetch_attempts_total",
		Help: "The total number of HTTP fetch attempts against configured feeds",
	})

	fetchErrors = promauto.NewCounter(prometheus.CounterOpts{
		Name: "secwire_fetch_errors_total",
		Help: "The total number of failed HTTP fetch attempts",
	})

	feedsExhausted = promauto.NewCounter(prometheus.CounterOpts{
		Name: "secwire_fetch_exhausted_total",
		Help: "The number of feed checks that gave up after exhausting all retries",
	})

	itemsNormalized = promauto.NewCounter(prometheus.CounterOpts{
		Name: "secwire_items_normalized_total",
		Help: "The total number of feed entries normalized into canonical items",
	})
)

const (
	defaultTimeout        = 30 * time.Second
	defaultMaxRetries     = 3
	defaultInitialBackoff = time.Second

	// Some feed hosts reject requests without a browser-like user agent
	defaultUserAgent = "Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36"
)

// StatusRecorder persists the outcome of one feed check.
type StatusRecorder interface {
	UpsertFeedStatus(ctx context.Context, name string, url string, success bool, errMsg string) error
}

// Config holds the fetch tuning knobs.
type Config struct {
	// Timeout applies per HTTP request, not per feed check
	Timeout time.Duration
	// MaxRetries is the maximum number of attempts per feed check
	MaxRetries int
	// InitialBackoff is the delay before the second attempt; it doubles
	// on every further attempt
	InitialBackoff time.Duration
	UserAgent      string
}

// Fetcher retrieves one feed over HTTP, parses it and normalizes its
// entries. A Fetcher never fails its caller: all errors degrade to an empty
// result plus a feed status update.
type Fetcher struct {
	timeout        time.Duration
	maxRetries     int
	initialBackoff time.Duration
	userAgent      string
	client         *http.Client
	parser         *gofeed.Parser
	statuses       StatusRecorder
}

func New(cfg Config, statuses StatusRecorder) *Fetcher {
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = defaultMaxRetries
	}
	if cfg.InitialBackoff <= 0 {
		cfg.InitialBackoff = defaultInitialBackoff
	}
	if cfg.UserAgent == "" {
		cfg.UserAgent = defaultUserAgent
	}

	return &Fetcher{
		timeout:        cfg.Timeout,
		maxRetries:     cfg.MaxRetries,
		initialBackoff: cfg.InitialBackoff,
		userAgent:      cfg.UserAgent,
		client:         &http.Client{},
		parser:         gofeed.NewParser(),
		statuses:       statuses,
	}
}

// Fetch checks one feed and returns its normalized items. Every call results
// in exactly one feed status upsert. Transport errors are retried with
// exponential backoff; after exhausting retries the feed is skipped for this
// cycle and the failure recorded.
func (f *Fetcher) Fetch(ctx context.Context, feed config.Feed) []models.Item {
	log.WithFields(log.Fields{
		"feed": feed.Name,
		"url":  feed.URL,
	}).Info("Checking feed")

	body, err := f.download(ctx, feed)
	if err != nil {
		log.WithFields(log.Fields{
			"feed": feed.Name,
		}).Errorf("Giving up on feed after %d attempts: %v", f.maxRetries, err)
		feedsExhausted.Inc()
		f.recordStatus(ctx, feed, false, err.Error())
		return nil
	}

	doc, err := f.parser.Parse(bytes.NewReader(body))
	if err != nil {
		// A document the parser cannot salvage counts as zero entries,
		// not as a feed failure
		log.WithFields(log.Fields{
			"feed": feed.Name,
		}).Warnf("Feed parse warning: %v", err)
		f.recordStatus(ctx, feed, true, "")
		return nil
	}

	if len(doc.Items) == 0 {
		log.WithField("feed", feed.Name).Warn("No entries found in feed")
		f.recordStatus(ctx, feed, true, "")
		return nil
	}

	now := time.Now()
	items := make([]models.Item, 0, len(doc.Items))
	for _, entry := range doc.Items {
		if item, ok := Normalize(entry, feed, now); ok {
			items = append(items, item)
			itemsNormalized.Inc()
		}
	}

	log.WithFields(log.Fields{
		"feed":  feed.Name,
		"count": len(items),
	}).Info("Parsed feed entries")

	f.recordStatus(ctx, feed, true, "")
	return items
}

func (f *Fetcher) download(ctx context.Context, feed config.Feed) ([]byte, error) {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = f.initialBackoff
	bo.Multiplier = 2
	bo.RandomizationFactor = 0
	bo.MaxInterval = 5 * time.Minute
	bo.MaxElapsedTime = 0

	var lastErr error
	for attempt := 1; attempt <= f.maxRetries; attempt++ {
		fetchAttempts.Inc()

		body, err := f.get(ctx, feed.URL)
		if err == nil {
			return body, nil
		}

		lastErr = err
		fetchErrors.Inc()
		log.WithFields(log.Fields{
			"feed":    feed.Name,
			"attempt": fmt.Sprintf("%d/%d", attempt, f.maxRetries),
		}).Warnf("Error fetching feed: %v", err)

		if attempt == f.maxRetries {
			break
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(bo.NextBackOff()):
		}
	}

	return nil, lastErr
}

func (f *Fetcher) get(ctx context.Context, url string) ([]byte, error) {
	ctx, cancel := context.WithTimeout(ctx, f.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("User-Agent", f.userAgent)

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("unexpected status %d", resp.StatusCode)
	}

	return io.ReadAll(resp.Body)
}

func (f *Fetcher) recordStatus(ctx context.Context, feed config.Feed, success bool, errMsg string) {
	if err := f.statuses.UpsertFeedStatus(ctx, feed.Name, feed.URL, success, errMsg); err != nil {
		log.WithField("feed", feed.Name).Errorf("Error updating feed status: %v", err)
	}
}
