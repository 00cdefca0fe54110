package extractor

import (
	"regexp"
	"sort"
	"strings"
	"unicode/utf8"
)

const maxFollowUps = 3

// followUpHeaders is the canonical set of recognized section headers. The
// phrasings are data: each one is compiled into a whole-line matcher that
// tolerates surrounding markup decoration.
var followUpHeaders = []string{
	"คำถามที่เกี่ยวข้อง",
	"คำถามแนะนำ",
	"คำถามเพิ่มเติม",
	"คำถามต่อเนื่อง",
	"related questions",
	"suggested questions",
	"follow-up questions",
	"follow up questions",
	"questions you might ask",
}

var headerMatchers = compileHeaderMatchers(followUpHeaders)

func compileHeaderMatchers(phrases []string) []*regexp.Regexp {
	matchers := make([]*regexp.Regexp, 0, len(phrases))
	for _, p := range phrases {
		matchers = append(matchers, regexp.MustCompile(
			`(?im)^[ \t>#*_-]*`+regexp.QuoteMeta(p)+`[ \t:*_]*$`,
		))
	}
	return matchers
}

var (
	numberedItemRe = regexp.MustCompile(`^\s*\d+\s*[.)]\s*(.+)$`)
	bulletedItemRe = regexp.MustCompile(`^\s*[-*•]\s+(.+)$`)
)

// fallbackItemLimit is the rune length up to which an unmarked line still
// counts as an enumeration item.
const fallbackItemLimit = 100

var placeholderRe = regexp.MustCompile(`\[\[(?:chart|table|code):\d+\]\]`)

// stripFollowUps removes a trailing follow-up section: a recognized header
// whose remainder is nothing but enumeration items and blank lines. A header
// followed by further prose, a fence, or a block placeholder is part of the
// answer and stays, so the decision comes out the same on raw and on
// already-cleaned text.
func stripFollowUps(text string) (string, []string) {
	var positions []int
	for _, m := range headerMatchers {
		for _, loc := range m.FindAllStringIndex(text, -1) {
			positions = append(positions, loc[0])
		}
	}
	sort.Ints(positions)

	for _, pos := range positions {
		lines := strings.Split(text[pos:], "\n")[1:]
		if !trailingSection(lines) {
			continue
		}
		return text[:pos], parseItems(lines)
	}
	return text, nil
}

// trailingSection reports whether lines form a pure enumeration tail.
func trailingSection(lines []string) bool {
	for _, line := range lines {
		trimmed := strings.TrimSpace(line)
		if trimmed == "" {
			continue
		}
		if placeholderRe.MatchString(trimmed) || strings.HasPrefix(trimmed, "```") {
			return false
		}
		if numberedItemRe.MatchString(trimmed) || bulletedItemRe.MatchString(trimmed) {
			continue
		}
		if utf8.RuneCountInString(trimmed) > fallbackItemLimit {
			return false
		}
	}
	return true
}

func parseItems(lines []string) []string {
	var items []string
	for _, line := range lines {
		if len(items) == maxFollowUps {
			break
		}
		trimmed := strings.TrimSpace(line)
		if trimmed == "" {
			continue
		}

		var item string
		switch {
		case numberedItemRe.MatchString(trimmed):
			item = numberedItemRe.FindStringSubmatch(trimmed)[1]
		case bulletedItemRe.MatchString(trimmed):
			item = bulletedItemRe.FindStringSubmatch(trimmed)[1]
		case utf8.RuneCountInString(trimmed) <= fallbackItemLimit:
			item = trimmed
		default:
			continue
		}

		item = strings.Trim(strings.TrimSpace(item), "*_")
		if item != "" {
			items = append(items, item)
		}
	}
	return items
}
