package telegram

import (
	"fmt"
	"html"

	"secwire/models"
)

// The delivery surface truncates harder than the store: messages show at
// most 300 description characters, photo captions 200. Telegram caps
// captions at 1024 characters total.
const (
	messageDescriptionLimit = 300
	captionDescriptionLimit = 200
	captionLimit            = 1024
)

var priorityEmoji = map[string]string{
	"high":   "🔴",
	"medium": "🟡",
	"low":    "🟢",
}

var categoryEmoji = map[string]string{
	"news":            "📰",
	"analysis":        "🧠",
	"research":        "🔬",
	"exploits":        "💣",
	"malware":         "🦠",
	"threat_intel":    "🎯",
	"tools":           "🛠️",
	"vulnerabilities": "🔓",
	"advisories":      "⚠️",
	"pentest":         "🔐",
	"crypto":          "🔐",
	"cloud":           "☁️",
}

func emojiFor(item models.Item) (string, string) {
	priority, ok := priorityEmoji[item.Priority]
	if !ok {
		priority = priorityEmoji["medium"]
	}
	category, ok := categoryEmoji[item.Category]
	if !ok {
		category = "📰"
	}
	return priority, category
}

// FormatMessage renders an item as a Telegram HTML message.
func FormatMessage(item models.Item, includeSource bool) string {
	return format(item, includeSource, messageDescriptionLimit)
}

// FormatCaption renders an item as a photo caption, capped at the Telegram
// caption limit.
func FormatCaption(item models.Item, includeSource bool) string {
	return truncate(format(item, includeSource, captionDescriptionLimit), captionLimit)
}

func format(item models.Item, includeSource bool, descriptionLimit int) string {
	priority, category := emojiFor(item)

	message := fmt.Sprintf("%s %s <b>%s</b>\n\n", priority, category, html.EscapeString(item.Title))

	if item.Description != "" {
		message += truncate(html.EscapeString(item.Description), descriptionLimit) + "...\n\n"
	}

	if includeSource {
		message += fmt.Sprintf("📡 <i>Source: %s</i>\n", html.EscapeString(item.FeedName))
	}

	message += fmt.Sprintf("🔗 <a href='%s'>Read more</a>", item.Link)

	return message
}

func truncate(s string, limit int) string {
	runes := []rune(s)
	if len(runes) <= limit {
		return s
	}
	return string(runes[:limit])
}
