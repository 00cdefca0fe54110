package intent

import (
	"strings"
	"unicode/utf8"

	"github.com/kittipat-v/genchat/pkg/domain"
)

// rule binds an intent to the keywords that can trigger it. Declaration
// order is the tie-break: the first matching rule wins.
type rule struct {
	intent   domain.ToolIntent
	keywords []string
}

var defaultRules = []rule{
	{domain.IntentPlan, []string{"แผน", "วางแผน", "โครงการ", "roadmap", "plan", "timeline"}},
	{domain.IntentSummarize, []string{"สรุป", "ย่อ", "ใจความ", "summary", "summarize", "recap"}},
	{domain.IntentCompare, []string{"เปรียบเทียบ", "เทียบ", "ข้อดีข้อเสีย", "compare", "versus", " vs "}},
	{domain.IntentChart, []string{"กราฟ", "แผนภูมิ", "chart", "graph", "plot"}},
	{domain.IntentConsult, []string{"ปรึกษา", "คำแนะนำ", "ควรทำอย่างไร", "advice", "consult", "recommend"}},
	{domain.IntentDatabase, []string{"ฐานข้อมูล", "ข้อมูลในระบบ", "รายการ", "database", "records", "lookup"}},
}

// intentVerbs are generic task verbs shared by every rule. A keyword alone
// matches only for short prompts.
var defaultVerbs = []string{
	"ช่วย", "ทำ", "จัด", "เขียน", "สร้าง",
	"help", "draft", "make", "write", "create", "generate", "give",
}

// shortPromptLimit is the rune length under which a keyword hit matches
// without an accompanying intent verb.
const shortPromptLimit = 60

type Classifier struct {
	rules []rule
	verbs []string
}

func NewClassifier() *Classifier {
	return &Classifier{
		rules: defaultRules,
		verbs: defaultVerbs,
	}
}

// Classify resolves the task intent of a raw prompt. It is pure and total:
// unclassifiable input falls through to IntentNone.
func (c *Classifier) Classify(prompt string) domain.ToolIntent {
	lowerText := strings.ToLower(prompt)
	short := utf8.RuneCountInString(lowerText) < shortPromptLimit

	for _, r := range c.rules {
		if !containsAny(lowerText, r.keywords) {
			continue
		}
		if short || containsAny(lowerText, c.verbs) {
			return r.intent
		}
	}

	return domain.IntentNone
}

func containsAny(text string, keywords []string) bool {
	for _, kw := range keywords {
		if strings.Contains(text, kw) {
			return true
		}
	}
	return false
}
