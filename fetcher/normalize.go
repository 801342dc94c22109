package fetcher

import (
	"html"
	"strings"
	"time"

	"secwire/config"
	"secwire/models"

	"github.com/PuerkitoBio/goquery"
	"github.com/microcosm-cc/bluemonday"
	"github.com/mmcdole/gofeed"
	log "github.com/sirupsen/logrus"
)

// Stored descriptions are capped here; the delivery surface truncates
// further at formatting time.
const descriptionLimit = 500

const placeholderTitle = "No Title"

var stripPolicy = bluemonday.StrictPolicy()

// Normalize converts one raw feed entry into a canonical item. Entries
// without a link cannot be deduplicated and are dropped.
func Normalize(entry *gofeed.Item, feed config.Feed, now time.Time) (models.Item, bool) {
	link := strings.TrimSpace(entry.Link)
	if link == "" {
		log.WithFields(log.Fields{
			"feed":  feed.Name,
			"title": entry.Title,
		}).Warn("Dropping entry without link")
		return models.Item{}, false
	}

	title := strings.TrimSpace(entry.Title)
	if title == "" {
		title = placeholderTitle
	}

	category := feed.Category
	if category == "" {
		category = "general"
	}
	priority := feed.Priority
	if priority == "" {
		priority = config.PriorityMedium
	}

	published := now
	if entry.PublishedParsed != nil {
		published = *entry.PublishedParsed
	} else if entry.UpdatedParsed != nil {
		published = *entry.UpdatedParsed
	}

	return models.Item{
		FeedName:    feed.Name,
		FeedURL:     feed.URL,
		Title:       title,
		Link:        link,
		Description: Truncate(CleanText(rawDescription(entry)), descriptionLimit),
		PublishedAt: published,
		Category:    category,
		Priority:    priority,
		ImageURL:    extractImage(entry),
		FetchedAt:   now,
	}, true
}

func rawDescription(entry *gofeed.Item) string {
	if entry.Description != "" {
		return entry.Description
	}
	return entry.Content
}

// CleanText strips markup from an HTML fragment and collapses all
// whitespace runs to single spaces.
func CleanText(fragment string) string {
	text := html.UnescapeString(stripPolicy.Sanitize(fragment))
	return strings.Join(strings.Fields(text), " ")
}

// Truncate cuts a string to at most limit runes.
func Truncate(s string, limit int) string {
	runes := []rune(s)
	if len(runes) <= limit {
		return s
	}
	return string(runes[:limit])
}

// extractImage finds an image for the entry, trying in order the
// media:thumbnail extension, image enclosures, media:content entries and
// finally the first <img> tag in the raw description HTML. Relative image
// URLs from the description are discarded rather than resolved.
func extractImage(entry *gofeed.Item) string {
	if media, ok := entry.Extensions["media"]; ok {
		for _, thumb := range media["thumbnail"] {
			if url := thumb.Attrs["url"]; url != "" {
				return url
			}
		}
	}

	for _, enclosure := range entry.Enclosures {
		if strings.HasPrefix(enclosure.Type, "image/") && enclosure.URL != "" {
			return enclosure.URL
		}
	}

	if media, ok := entry.Extensions["media"]; ok {
		for _, content := range media["content"] {
			if content.Attrs["medium"] == "image" || strings.HasPrefix(content.Attrs["type"], "image/") {
				if url := content.Attrs["url"]; url != "" {
					return url
				}
			}
		}
	}

	if raw := rawDescription(entry); raw != "" {
		doc, err := goquery.NewDocumentFromReader(strings.NewReader(raw))
		if err == nil {
			if src, ok := doc.Find("img").First().Attr("src"); ok && isAbsoluteURL(src) {
				return src
			}
		}
	}

	return ""
}

func isAbsoluteURL(s string) bool {
	return strings.HasPrefix(s, "http://") || strings.HasPrefix(s, "https://")
}
