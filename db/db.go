package db

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"secwire/models"

	sqlbuilder "github.com/huandu/go-sqlbuilder"
	log "github.com/sirupsen/logrus"
)

// Store owns the items and feed_status tables. It is the single dedup gate
// for the pipeline: the UNIQUE constraint on items.link decides whether an
// incoming item is new.
type Store struct {
	db *sql.DB
}

func New(database string) (*Store, error) {
	db, err := connection(database)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

var itemColumns = []string{
	"id", "feed_name", "feed_url", "title", "link", "description",
	"published_at", "category", "priority", "image_url", "fetched_at",
	"sent", "sent_at",
}

func encodeTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339)
}

func parseTime(s string) time.Time {
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return time.Time{}
	}
	return t
}

func parseTimePtr(s sql.NullString) *time.Time {
	if !s.Valid || s.String == "" {
		return nil
	}
	t := parseTime(s.String)
	if t.IsZero() {
		return nil
	}
	return &t
}

// AddItem attempts to insert the item. Returns false when an item with the
// same link already exists. The check and the insert are a single statement
// so concurrent inserts of the same link cannot both succeed.
func (s *Store) AddItem(ctx context.Context, item models.Item) (bool, error) {
	ib := sqlbuilder.SQLite.NewInsertBuilder()
	ib.InsertIgnoreInto("items").
		Cols("feed_name", "feed_url", "title", "link", "description",
			"published_at", "category", "priority", "image_url", "fetched_at").
		Values(item.FeedName, item.FeedURL, item.Title, item.Link, item.Description,
			encodeTime(item.PublishedAt), item.Category, item.Priority, item.ImageURL,
			encodeTime(item.FetchedAt))

	query, args := ib.BuildWithFlavor(sqlbuilder.SQLite)

	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return false, fmt.Errorf("insert error: %w", err)
	}

	inserted, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("insert error: %w", err)
	}

	if inserted == 0 {
		// Duplicate link, expected and frequent
		log.WithField("link", item.Link).Debug("Skipping duplicate item")
		return false, nil
	}

	log.WithFields(log.Fields{
		"feed":  item.FeedName,
		"title": item.Title,
		"link":  item.Link,
	}).Debug("Stored new item")

	return true, nil
}

// UnsentItems returns up to limit undelivered items, newest published first
// with ties broken by fetch time.
func (s *Store) UnsentItems(ctx context.Context, limit int) ([]models.Item, error) {
	sb := sqlbuilder.NewSelectBuilder()
	sb.Select(itemColumns...).From("items")
	sb.Where(sb.Equal("sent", 0))
	sb.OrderBy("published_at DESC", "fetched_at DESC")
	sb.Limit(limit)

	return s.queryItems(ctx, sb)
}

// MarkSent flags an item as delivered. Idempotent: marking an already sent
// item keeps its original sent_at.
func (s *Store) MarkSent(ctx context.Context, id int64) error {
	_, err := s.db.ExecContext(ctx,
		"UPDATE items SET sent = 1, sent_at = COALESCE(sent_at, ?) WHERE id = ?",
		encodeTime(time.Now()), id)
	if err != nil {
		return fmt.Errorf("mark sent error: %w", err)
	}
	return nil
}

// RecentItems returns items fetched within the trailing window.
func (s *Store) RecentItems(ctx context.Context, sinceHours int, limit int) ([]models.Item, error) {
	cutoff := encodeTime(time.Now().Add(-time.Duration(sinceHours) * time.Hour))

	sb := sqlbuilder.NewSelectBuilder()
	sb.Select(itemColumns...).From("items")
	sb.Where(sb.GreaterThan("fetched_at", cutoff))
	sb.OrderBy("published_at DESC", "fetched_at DESC")
	sb.Limit(limit)

	return s.queryItems(ctx, sb)
}

// ItemsByCategory returns recent items in one category.
func (s *Store) ItemsByCategory(ctx context.Context, category string, sinceHours int, limit int) ([]models.Item, error) {
	cutoff := encodeTime(time.Now().Add(-time.Duration(sinceHours) * time.Hour))

	sb := sqlbuilder.NewSelectBuilder()
	sb.Select(itemColumns...).From("items")
	sb.Where(sb.Equal("category", category))
	sb.Where(sb.GreaterThan("fetched_at", cutoff))
	sb.OrderBy("published_at DESC", "fetched_at DESC")
	sb.Limit(limit)

	return s.queryItems(ctx, sb)
}

// SearchItems matches recent items whose title or description contains the
// term, case-insensitive.
func (s *Store) SearchItems(ctx context.Context, term string, sinceHours int, limit int) ([]models.Item, error) {
	cutoff := encodeTime(time.Now().Add(-time.Duration(sinceHours) * time.Hour))
	pattern := "%" + strings.ToLower(term) + "%"

	sb := sqlbuilder.NewSelectBuilder()
	sb.Select(itemColumns...).From("items")
	sb.Where(sb.GreaterThan("fetched_at", cutoff))
	sb.Where(sb.Or(
		sb.Like("LOWER(title)", pattern),
		sb.Like("LOWER(description)", pattern),
	))
	sb.OrderBy("published_at DESC", "fetched_at DESC")
	sb.Limit(limit)

	return s.queryItems(ctx, sb)
}

func (s *Store) queryItems(ctx context.Context, sb *sqlbuilder.SelectBuilder) ([]models.Item, error) {
	query, args := sb.BuildWithFlavor(sqlbuilder.SQLite)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query error: %w", err)
	}
	defer rows.Close()

	var items []models.Item
	for rows.Next() {
		var (
			item        models.Item
			publishedAt string
			fetchedAt   string
			sentAt      sql.NullString
			sent        int64
		)
		if err := rows.Scan(&item.ID, &item.FeedName, &item.FeedURL, &item.Title,
			&item.Link, &item.Description, &publishedAt, &item.Category,
			&item.Priority, &item.ImageURL, &fetchedAt, &sent, &sentAt); err != nil {
			return nil, fmt.Errorf("scan error: %w", err)
		}

		item.PublishedAt = parseTime(publishedAt)
		item.FetchedAt = parseTime(fetchedAt)
		item.Sent = sent != 0
		item.SentAt = parseTimePtr(sentAt)

		items = append(items, item)
	}

	return items, rows.Err()
}

// UpsertFeedStatus records the outcome of one feed check, keyed by feed name.
// Success resets the error counter, failure increments it.
func (s *Store) UpsertFeedStatus(ctx context.Context, name string, url string, success bool, errMsg string) error {
	now := encodeTime(time.Now())

	var err error
	if success {
		_, err = s.db.ExecContext(ctx, `
			INSERT INTO feed_status (feed_name, feed_url, last_checked, last_success, error_count)
			VALUES (?, ?, ?, ?, 0)
			ON CONFLICT(feed_name) DO UPDATE SET
				last_checked = excluded.last_checked,
				last_success = excluded.last_success,
				error_count = 0,
				last_error = NULL`,
			name, url, now, now)
	} else {
		_, err = s.db.ExecContext(ctx, `
			INSERT INTO feed_status (feed_name, feed_url, last_checked, error_count, last_error)
			VALUES (?, ?, ?, 1, ?)
			ON CONFLICT(feed_name) DO UPDATE SET
				last_checked = excluded.last_checked,
				error_count = error_count + 1,
				last_error = excluded.last_error`,
			name, url, now, errMsg)
	}

	if err != nil {
		return fmt.Errorf("feed status upsert error: %w", err)
	}
	return nil
}

// FeedStatuses returns the health row of every checked feed, most recently
// checked first.
func (s *Store) FeedStatuses(ctx context.Context) ([]models.FeedStatus, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, feed_name, feed_url, last_checked, last_success, error_count, last_error, is_active
		FROM feed_status
		ORDER BY last_checked DESC`)
	if err != nil {
		return nil, fmt.Errorf("query error: %w", err)
	}
	defer rows.Close()

	var statuses []models.FeedStatus
	for rows.Next() {
		var (
			status      models.FeedStatus
			lastChecked sql.NullString
			lastSuccess sql.NullString
			lastError   sql.NullString
			active      int64
		)
		if err := rows.Scan(&status.ID, &status.FeedName, &status.FeedURL,
			&lastChecked, &lastSuccess, &status.ErrorCount, &lastError, &active); err != nil {
			return nil, fmt.Errorf("scan error: %w", err)
		}

		status.LastChecked = parseTimePtr(lastChecked)
		status.LastSuccess = parseTimePtr(lastSuccess)
		status.LastError = lastError.String
		status.Active = active != 0

		statuses = append(statuses, status)
	}

	return statuses, rows.Err()
}

// GetStats returns aggregate counts for observability. Read only.
func (s *Store) GetStats(ctx context.Context) (models.Stats, error) {
	stats := models.Stats{ByCategory: map[string]int64{}}

	err := s.db.QueryRowContext(ctx, `
		SELECT
			COUNT(*),
			COALESCE(SUM(sent), 0),
			COALESCE(SUM(1 - sent), 0),
			COALESCE(SUM(CASE WHEN date(fetched_at) = date('now') THEN 1 ELSE 0 END), 0)
		FROM items`).
		Scan(&stats.Total, &stats.Sent, &stats.Unsent, &stats.Today)
	if err != nil {
		return stats, fmt.Errorf("stats query error: %w", err)
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT category, COUNT(*) FROM items GROUP BY category ORDER BY COUNT(*) DESC`)
	if err != nil {
		return stats, fmt.Errorf("stats query error: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			category string
			count    int64
		)
		if err := rows.Scan(&category, &count); err != nil {
			return stats, fmt.Errorf("scan error: %w", err)
		}
		stats.ByCategory[category] = count
	}

	return stats, rows.Err()
}

// Tidy deletes sent items fetched more than olderThanDays ago. Only invoked
// from the tidy command, never by the pipeline itself.
func (s *Store) Tidy(ctx context.Context, olderThanDays int) (int64, error) {
	cutoff := encodeTime(time.Now().AddDate(0, 0, -olderThanDays))

	deleteItems := sqlbuilder.NewDeleteBuilder()
	deleteItems.DeleteFrom("items")
	deleteItems.Where(
		deleteItems.Equal("sent", 1),
		deleteItems.LessThan("fetched_at", cutoff),
	)

	query, args := deleteItems.BuildWithFlavor(sqlbuilder.SQLite)

	log.WithFields(log.Fields{
		"cutoff": cutoff,
	}).Info("Tidying database")

	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, fmt.Errorf("tidy error: %w", err)
	}

	return res.RowsAffected()
}
