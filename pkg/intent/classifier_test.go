package intent

import (
	"strings"
	"testing"

	"github.com/kittipat-v/genchat/pkg/domain"
)

func TestClassify(t *testing.T) {
	tests := []struct {
		prompt   string
		expected domain.ToolIntent
	}{
		{"ช่วยวางแผนการตลาดไตรมาสหน้า", domain.IntentPlan},
		{"ช่วยสรุปเอกสารนี้ให้หน่อย", domain.IntentSummarize},
		{"เปรียบเทียบสองตัวเลือกนี้", domain.IntentCompare},
		{"ขอกราฟยอดขายรายเดือน", domain.IntentChart},
		{"ขอคำแนะนำเรื่องสัญญาเช่า", domain.IntentConsult},
		{"help me draft a project plan", domain.IntentPlan},
		{"summarize this report", domain.IntentSummarize},
		{"plot temperature data", domain.IntentChart},
		{"lookup records for last month", domain.IntentDatabase},
		{"what is the capital of France", domain.IntentNone},
		{"", domain.IntentNone},
	}

	c := NewClassifier()
	for _, test := range tests {
		if got := c.Classify(test.prompt); got != test.expected {
			t.Errorf("Classify(%q) = %q, want %q", test.prompt, got, test.expected)
		}
	}
}

func TestClassifyDeclarationOrderBreaksTies(t *testing.T) {
	// Both the plan and summarize keyword sets match; plan is declared first.
	got := NewClassifier().Classify("ช่วยสรุปแผนโครงการ")
	if got != domain.IntentPlan {
		t.Errorf("Classify = %q, want %q", got, domain.IntentPlan)
	}
}

func TestClassifyLongPromptNeedsIntentVerb(t *testing.T) {
	// A keyword alone is not enough once the prompt is long.
	long := strings.Repeat("lorem ipsum dolor sit amet ", 4) + "chart"
	if got := NewClassifier().Classify(long); got != domain.IntentNone {
		t.Errorf("Classify(long keyword-only prompt) = %q, want none", got)
	}

	withVerb := long + " please draft it"
	if got := NewClassifier().Classify(withVerb); got != domain.IntentChart {
		t.Errorf("Classify(long prompt with verb) = %q, want chart", got)
	}
}
