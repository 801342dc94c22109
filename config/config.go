package config

import (
	"fmt"
	"os"

	"github.com/BurntSushi/toml"
	"github.com/samber/lo"
)

// Valid priority tags for a feed source.
const (
	PriorityHigh   = "high"
	PriorityMedium = "medium"
	PriorityLow    = "low"
)

// Feed is one configured feed source. Feeds are static configuration and
// never change at runtime.
type Feed struct {
	Name     string `toml:"name"`
	URL      string `toml:"url"`
	Group    string `toml:"group,omitempty"`
	Category string `toml:"category,omitempty"`
	Priority string `toml:"priority,omitempty"`
}

// Settings holds the pipeline tuning knobs read from the config file.
type Settings struct {
	// CheckInterval is the delay between feed check cycles in minutes
	CheckInterval int `toml:"check_interval"`
	// FetchTimeout is the per-request timeout in seconds
	FetchTimeout int `toml:"fetch_timeout"`
	// MaxRetries is the maximum number of fetch attempts per feed
	MaxRetries int `toml:"max_retries"`
	// BatchSize caps how many items one drain cycle may deliver
	BatchSize int `toml:"batch_size"`
	// WelcomeBatchSize caps the very first post-startup batch
	WelcomeBatchSize int `toml:"welcome_batch_size"`
}

// Config represents the top-level configuration
type Config struct {
	Settings Settings `toml:"settings"`
	Feeds    []Feed   `toml:"feeds"`
}

func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("error reading config file: %w", err)
	}

	var config Config
	if err := toml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("error parsing config file: %w", err)
	}

	config.applyDefaults()

	if err := config.validate(); err != nil {
		return nil, err
	}

	return &config, nil
}

func (c *Config) applyDefaults() {
	if c.Settings.CheckInterval <= 0 {
		c.Settings.CheckInterval = 30
	}
	if c.Settings.FetchTimeout <= 0 {
		c.Settings.FetchTimeout = 30
	}
	if c.Settings.MaxRetries <= 0 {
		c.Settings.MaxRetries = 3
	}
	if c.Settings.BatchSize <= 0 {
		c.Settings.BatchSize = 20
	}
	if c.Settings.WelcomeBatchSize <= 0 {
		c.Settings.WelcomeBatchSize = 5
	}

	for i := range c.Feeds {
		if c.Feeds[i].Category == "" {
			c.Feeds[i].Category = "general"
		}
		if c.Feeds[i].Priority == "" {
			c.Feeds[i].Priority = PriorityMedium
		}
	}
}

func (c *Config) validate() error {
	if len(c.Feeds) == 0 {
		return fmt.Errorf("no feeds configured")
	}

	names := make(map[string]bool, len(c.Feeds))
	urls := make(map[string]bool, len(c.Feeds))

	for _, feed := range c.Feeds {
		if feed.Name == "" {
			return fmt.Errorf("feed without a name (url: %q)", feed.URL)
		}
		if feed.URL == "" {
			return fmt.Errorf("feed %q has no url", feed.Name)
		}
		if names[feed.Name] {
			return fmt.Errorf("duplicate feed name: %q", feed.Name)
		}
		if urls[feed.URL] {
			return fmt.Errorf("duplicate feed url: %q", feed.URL)
		}
		names[feed.Name] = true
		urls[feed.URL] = true

		switch feed.Priority {
		case PriorityHigh, PriorityMedium, PriorityLow:
		default:
			return fmt.Errorf("feed %q has invalid priority %q", feed.Name, feed.Priority)
		}
	}

	return nil
}

// AllFeeds returns every configured feed source.
func (c *Config) AllFeeds() []Feed {
	return c.Feeds
}

// FeedsByPriority returns the feeds tagged with the given priority level.
func (c *Config) FeedsByPriority(level string) []Feed {
	return lo.Filter(c.Feeds, func(feed Feed, _ int) bool {
		return feed.Priority == level
	})
}

// FeedsByCategory returns the feeds tagged with the given category.
func (c *Config) FeedsByCategory(category string) []Feed {
	return lo.Filter(c.Feeds, func(feed Feed, _ int) bool {
		return feed.Category == category
	})
}

// FeedByName looks up a single feed by its unique name.
func (c *Config) FeedByName(name string) (Feed, bool) {
	return lo.Find(c.Feeds, func(feed Feed) bool {
		return feed.Name == name
	})
}
