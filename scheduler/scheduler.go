package scheduler

import (
	"context"
	"time"

	"secwire/config"
	"secwire/models"

	log "github.com/sirupsen/logrus"
)

// Store is the slice of the item store the scheduler needs.
type Store interface {
	AddItem(ctx context.Context, item models.Item) (bool, error)
}

// Fetcher checks one feed and returns its normalized items.
type Fetcher interface {
	Fetch(ctx context.Context, feed config.Feed) []models.Item
}

// Drainer delivers up to limit backlog items.
type Drainer interface {
	Drain(ctx context.Context, limit int) (int, error)
}

// Options tune the cycle policy.
type Options struct {
	// Interval is the sleep between full feed check cycles
	Interval time.Duration
	// BatchSize caps deliveries per regular cycle
	BatchSize int
	// WelcomeBatchSize caps the first post-startup batch
	WelcomeBatchSize int
	// InitialMaxFeeds bounds how many high priority feeds the startup
	// pass checks
	InitialMaxFeeds int
	// InitialMaxPerFeed bounds how many entries per feed the startup
	// pass stores
	InitialMaxPerFeed int
	// FeedDelay is the pause between feeds within one cycle; most feed
	// hosts penalize bursts
	FeedDelay time.Duration
	// ErrorPause is the pause after a failed cycle before continuing
	ErrorPause time.Duration
}

// Scheduler drives the pipeline: one startup pass over high priority feeds
// plus a welcome batch, then fetch-all-and-drain cycles at a fixed interval
// until the context is cancelled.
type Scheduler struct {
	store   Store
	fetcher Fetcher
	drainer Drainer
	cfg     *config.Config
	opts    Options
}

func New(store Store, fetcher Fetcher, drainer Drainer, cfg *config.Config, opts Options) *Scheduler {
	if opts.Interval <= 0 {
		opts.Interval = 30 * time.Minute
	}
	if opts.BatchSize <= 0 {
		opts.BatchSize = 20
	}
	if opts.WelcomeBatchSize <= 0 {
		opts.WelcomeBatchSize = 5
	}
	if opts.InitialMaxFeeds <= 0 {
		opts.InitialMaxFeeds = 35
	}
	if opts.InitialMaxPerFeed <= 0 {
		opts.InitialMaxPerFeed = 5
	}
	if opts.FeedDelay <= 0 {
		opts.FeedDelay = time.Second
	}
	if opts.ErrorPause <= 0 {
		opts.ErrorPause = time.Minute
	}

	return &Scheduler{
		store:   store,
		fetcher: fetcher,
		drainer: drainer,
		cfg:     cfg,
		opts:    opts,
	}
}

// Run blocks until the context is cancelled. A transient error in one cycle
// never terminates the loop.
func (s *Scheduler) Run(ctx context.Context) error {
	log.Info("Scheduler started")

	s.initialLoad(ctx)

	log.WithField("interval", s.opts.Interval).Info("Scheduled feed checks")

	for {
		select {
		case <-ctx.Done():
			log.Info("Scheduler stopped")
			return nil
		case <-time.After(s.opts.Interval):
		}

		if _, _, err := s.CheckFeeds(ctx); err != nil {
			if ctx.Err() != nil {
				log.Info("Scheduler stopped")
				return nil
			}

			log.Errorf("Error in scheduler cycle: %v", err)
			select {
			case <-ctx.Done():
				log.Info("Scheduler stopped")
				return nil
			case <-time.After(s.opts.ErrorPause):
			}
		}
	}
}

// CheckFeeds performs one full fetch-all-and-drain cycle. Also used by the
// force-update path, which may run concurrently with a scheduled cycle; the
// store's uniqueness constraint keeps that safe.
func (s *Scheduler) CheckFeeds(ctx context.Context) (int, int, error) {
	log.Info("Starting feed check cycle")

	totalNew, err := s.fetchInto(ctx, s.cfg.AllFeeds(), 0)
	if err != nil {
		return totalNew, 0, err
	}

	sent, err := s.drainer.Drain(ctx, s.opts.BatchSize)
	if err != nil {
		// The backlog survives, next cycle retries
		log.Errorf("Error draining backlog: %v", err)
	}

	log.WithFields(log.Fields{
		"new":  totalNew,
		"sent": sent,
	}).Info("Feed check cycle completed")

	return totalNew, sent, nil
}

// initialLoad fetches a bounded slice of the high priority feeds and sends a
// small welcome batch, keeping startup latency and first-contact volume low.
func (s *Scheduler) initialLoad(ctx context.Context) {
	log.Info("Loading initial items")

	feeds := s.cfg.FeedsByPriority(config.PriorityHigh)
	if len(feeds) > s.opts.InitialMaxFeeds {
		feeds = feeds[:s.opts.InitialMaxFeeds]
	}

	loaded, err := s.fetchInto(ctx, feeds, s.opts.InitialMaxPerFeed)
	if err != nil {
		return
	}

	log.WithField("loaded", loaded).Info("Initial load completed")

	sent, err := s.drainer.Drain(ctx, s.opts.WelcomeBatchSize)
	if err != nil {
		log.Errorf("Error sending welcome batch: %v", err)
		return
	}
	if sent > 0 {
		log.WithField("sent", sent).Info("Sent welcome batch")
	}
}

// fetchInto checks the given feeds sequentially and stores their items,
// returning how many were new. maxPerFeed of zero means unbounded.
func (s *Scheduler) fetchInto(ctx context.Context, feeds []config.Feed, maxPerFeed int) (int, error) {
	totalNew := 0

	for i, feed := range feeds {
		if err := ctx.Err(); err != nil {
			return totalNew, err
		}

		items := s.fetcher.Fetch(ctx, feed)
		if maxPerFeed > 0 && len(items) > maxPerFeed {
			items = items[:maxPerFeed]
		}

		for _, item := range items {
			inserted, err := s.store.AddItem(ctx, item)
			if err != nil {
				log.WithField("link", item.Link).Errorf("Error storing item: %v", err)
				continue
			}
			if inserted {
				totalNew++
			}
		}

		if i < len(feeds)-1 {
			select {
			case <-ctx.Done():
				return totalNew, ctx.Err()
			case <-time.After(s.opts.FeedDelay):
			}
		}
	}

	return totalNew, nil
}
