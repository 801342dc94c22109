package db_test

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"secwire/db"
	"secwire/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) *db.Store {
	t.Helper()

	path := filepath.Join(t.TempDir(), "secwire.db")
	require.NoError(t, db.Migrate(path))

	store, err := db.New(path)
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	return store
}

func testItem(link string) models.Item {
	return models.Item{
		FeedName:    "The Hacker News",
		FeedURL:     "https://feeds.feedburner.com/TheHackersNews",
		Title:       "Some advisory",
		Link:        link,
		Description: "A short description",
		PublishedAt: time.Now().Add(-time.Hour),
		Category:    "news",
		Priority:    "high",
		FetchedAt:   time.Now(),
	}
}

func TestAddItemDedup(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	inserted, err := store.AddItem(ctx, testItem("https://example.com/a"))
	require.NoError(t, err)
	assert.True(t, inserted)

	// Same link again is rejected, not overwritten
	dup := testItem("https://example.com/a")
	dup.Title = "Different title, same link"
	inserted, err = store.AddItem(ctx, dup)
	require.NoError(t, err)
	assert.False(t, inserted)

	inserted, err = store.AddItem(ctx, testItem("https://example.com/b"))
	require.NoError(t, err)
	assert.True(t, inserted)

	stats, err := store.GetStats(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(2), stats.Total)
}

func TestUnsentItemsOrderingAndLimit(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	base := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	for i, link := range []string{
		"https://example.com/oldest",
		"https://example.com/middle",
		"https://example.com/newest",
	} {
		item := testItem(link)
		item.PublishedAt = base.Add(time.Duration(i) * time.Hour)
		item.FetchedAt = base
		_, err := store.AddItem(ctx, item)
		require.NoError(t, err)
	}

	// Tie on published_at broken by fetched_at
	tied := testItem("https://example.com/tied")
	tied.PublishedAt = base.Add(2 * time.Hour)
	tied.FetchedAt = base.Add(time.Hour)
	_, err := store.AddItem(ctx, tied)
	require.NoError(t, err)

	items, err := store.UnsentItems(ctx, 10)
	require.NoError(t, err)
	require.Len(t, items, 4)
	assert.Equal(t, "https://example.com/tied", items[0].Link)
	assert.Equal(t, "https://example.com/newest", items[1].Link)
	assert.Equal(t, "https://example.com/middle", items[2].Link)
	assert.Equal(t, "https://example.com/oldest", items[3].Link)

	limited, err := store.UnsentItems(ctx, 2)
	require.NoError(t, err)
	assert.Len(t, limited, 2)
}

func TestMarkSentIdempotent(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	_, err := store.AddItem(ctx, testItem("https://example.com/a"))
	require.NoError(t, err)

	items, err := store.UnsentItems(ctx, 1)
	require.NoError(t, err)
	require.Len(t, items, 1)
	id := items[0].ID

	require.NoError(t, store.MarkSent(ctx, id))

	after, err := store.RecentItems(ctx, 24, 10)
	require.NoError(t, err)
	require.Len(t, after, 1)
	assert.True(t, after[0].Sent)
	require.NotNil(t, after[0].SentAt)
	firstSentAt := *after[0].SentAt

	// Marking twice is a no-op, sent_at does not move
	require.NoError(t, store.MarkSent(ctx, id))

	again, err := store.RecentItems(ctx, 24, 10)
	require.NoError(t, err)
	require.Len(t, again, 1)
	require.NotNil(t, again[0].SentAt)
	assert.Equal(t, firstSentAt, *again[0].SentAt)

	// Delivered items no longer show up as backlog
	unsent, err := store.UnsentItems(ctx, 10)
	require.NoError(t, err)
	assert.Empty(t, unsent)
}

func TestAtLeastOnceVisibility(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	// An item added but never confirmed delivered stays in the backlog
	_, err := store.AddItem(ctx, testItem("https://example.com/pending"))
	require.NoError(t, err)

	for i := 0; i < 3; i++ {
		unsent, err := store.UnsentItems(ctx, 10)
		require.NoError(t, err)
		require.Len(t, unsent, 1)
		assert.Equal(t, "https://example.com/pending", unsent[0].Link)
	}
}

func TestUpsertFeedStatus(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	name := "Krebs on Security"
	url := "https://krebsonsecurity.com/feed/"

	// First check fails twice
	require.NoError(t, store.UpsertFeedStatus(ctx, name, url, false, "timeout"))
	require.NoError(t, store.UpsertFeedStatus(ctx, name, url, false, "connection refused"))

	statuses, err := store.FeedStatuses(ctx)
	require.NoError(t, err)
	require.Len(t, statuses, 1)
	assert.Equal(t, int64(2), statuses[0].ErrorCount)
	assert.Equal(t, "connection refused", statuses[0].LastError)
	assert.Nil(t, statuses[0].LastSuccess)
	assert.NotNil(t, statuses[0].LastChecked)

	// Success resets the error state
	require.NoError(t, store.UpsertFeedStatus(ctx, name, url, true, ""))

	statuses, err = store.FeedStatuses(ctx)
	require.NoError(t, err)
	require.Len(t, statuses, 1)
	assert.Equal(t, int64(0), statuses[0].ErrorCount)
	assert.Empty(t, statuses[0].LastError)
	assert.NotNil(t, statuses[0].LastSuccess)
}

func TestGetStats(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	for _, link := range []string{"https://example.com/a", "https://example.com/b"} {
		item := testItem(link)
		item.Category = "news"
		_, err := store.AddItem(ctx, item)
		require.NoError(t, err)
	}

	research := testItem("https://example.com/c")
	research.Category = "research"
	_, err := store.AddItem(ctx, research)
	require.NoError(t, err)

	items, err := store.UnsentItems(ctx, 1)
	require.NoError(t, err)
	require.NoError(t, store.MarkSent(ctx, items[0].ID))

	stats, err := store.GetStats(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(3), stats.Total)
	assert.Equal(t, int64(1), stats.Sent)
	assert.Equal(t, int64(2), stats.Unsent)
	assert.Equal(t, int64(3), stats.Today)
	assert.Equal(t, int64(2), stats.ByCategory["news"])
	assert.Equal(t, int64(1), stats.ByCategory["research"])
}

func TestRecentItemsWindow(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	fresh := testItem("https://example.com/fresh")
	fresh.FetchedAt = time.Now()
	_, err := store.AddItem(ctx, fresh)
	require.NoError(t, err)

	stale := testItem("https://example.com/stale")
	stale.FetchedAt = time.Now().Add(-48 * time.Hour)
	_, err = store.AddItem(ctx, stale)
	require.NoError(t, err)

	recent, err := store.RecentItems(ctx, 24, 10)
	require.NoError(t, err)
	require.Len(t, recent, 1)
	assert.Equal(t, "https://example.com/fresh", recent[0].Link)
}

func TestSearchItems(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	ransom := testItem("https://example.com/ransom")
	ransom.Title = "New Ransomware Campaign"
	_, err := store.AddItem(ctx, ransom)
	require.NoError(t, err)

	patch := testItem("https://example.com/patch")
	patch.Title = "Patch Tuesday"
	patch.Description = "Fixes for several vulnerabilities"
	_, err = store.AddItem(ctx, patch)
	require.NoError(t, err)

	results, err := store.SearchItems(ctx, "RANSOMWARE", 24, 10)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "https://example.com/ransom", results[0].Link)

	results, err = store.SearchItems(ctx, "vulnerabilities", 24, 10)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "https://example.com/patch", results[0].Link)

	results, err = store.SearchItems(ctx, "nothing matches this", 24, 10)
	require.NoError(t, err)
	assert.Empty(t, results)
}

func TestItemsByCategory(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	news := testItem("https://example.com/news")
	news.Category = "news"
	_, err := store.AddItem(ctx, news)
	require.NoError(t, err)

	tools := testItem("https://example.com/tools")
	tools.Category = "tools"
	_, err = store.AddItem(ctx, tools)
	require.NoError(t, err)

	items, err := store.ItemsByCategory(ctx, "tools", 24, 10)
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Equal(t, "https://example.com/tools", items[0].Link)
}

func TestTidy(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	old := testItem("https://example.com/old")
	old.FetchedAt = time.Now().AddDate(0, 0, -120)
	_, err := store.AddItem(ctx, old)
	require.NoError(t, err)

	// Old but never delivered, must survive
	oldUnsent := testItem("https://example.com/old-unsent")
	oldUnsent.FetchedAt = time.Now().AddDate(0, 0, -120)
	_, err = store.AddItem(ctx, oldUnsent)
	require.NoError(t, err)

	fresh := testItem("https://example.com/fresh")
	_, err = store.AddItem(ctx, fresh)
	require.NoError(t, err)

	// Deliver the old one and the fresh one
	items, err := store.UnsentItems(ctx, 10)
	require.NoError(t, err)
	for _, item := range items {
		if item.Link != "https://example.com/old-unsent" {
			require.NoError(t, store.MarkSent(ctx, item.ID))
		}
	}

	deleted, err := store.Tidy(ctx, 90)
	require.NoError(t, err)
	assert.Equal(t, int64(1), deleted)

	stats, err := store.GetStats(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(2), stats.Total)
}
