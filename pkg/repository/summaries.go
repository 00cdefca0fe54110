package repository

import (
	"strings"
	"unicode/utf8"

	"github.com/kittipat-v/genchat/pkg/domain"
)

const (
	titleLimit   = 60
	previewLimit = 120
)

// summarize collapses text into a single-line excerpt of at most limit runes.
func summarize(text string, limit int) string {
	text = strings.Join(strings.Fields(text), " ")
	if utf8.RuneCountInString(text) <= limit {
		return text
	}
	runes := []rune(text)
	return string(runes[:limit-1]) + "…"
}

// previewText is what the session preview is derived from: prose when
// present, otherwise the head of the plan document.
func previewText(msg domain.Message) string {
	if msg.Content != "" {
		return msg.Content
	}
	return msg.PlanDocument
}
