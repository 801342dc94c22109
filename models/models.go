package models

import "time"

// Item is one normalized feed entry. The link is the dedup key and is
// unique across the whole items table.
type Item struct {
	ID          int64      `json:"id"`
	FeedName    string     `json:"feedName"`
	FeedURL     string     `json:"feedUrl"`
	Title       string     `json:"title"`
	Link        string     `json:"link"`
	Description string     `json:"description,omitempty"`
	PublishedAt time.Time  `json:"publishedAt"`
	Category    string     `json:"category"`
	Priority    string     `json:"priority"`
	ImageURL    string     `json:"imageUrl,omitempty"`
	FetchedAt   time.Time  `json:"fetchedAt"`
	Sent        bool       `json:"sent"`
	SentAt      *time.Time `json:"sentAt,omitempty"`
}

// FeedStatus tracks the health of one configured feed, one row per feed name.
type FeedStatus struct {
	ID          int64      `json:"id"`
	FeedName    string     `json:"feedName"`
	FeedURL     string     `json:"feedUrl"`
	LastChecked *time.Time `json:"lastChecked,omitempty"`
	LastSuccess *time.Time `json:"lastSuccess,omitempty"`
	ErrorCount  int64      `json:"errorCount"`
	LastError   string     `json:"lastError,omitempty"`
	Active      bool       `json:"active"`
}

// Stats are aggregate counts over the items table.
type Stats struct {
	Total      int64            `json:"total"`
	Sent       int64            `json:"sent"`
	Unsent     int64            `json:"unsent"`
	Today      int64            `json:"today"`
	ByCategory map[string]int64 `json:"byCategory"`
}
