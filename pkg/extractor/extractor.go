package extractor

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strings"

	"github.com/kittipat-v/genchat/pkg/domain"
)

// Result is the outcome of one extraction pass. Placeholder k of a given
// kind in CleanedText always resolves to index k of the matching array.
type Result struct {
	CleanedText string
	Charts      []domain.Chart
	Tables      []domain.Table
	CodeBlocks  []domain.CodeBlock
	FollowUps   []string
}

func (r Result) Blocks() domain.ExtractedBlocks {
	return domain.ExtractedBlocks{
		Charts:     r.Charts,
		Tables:     r.Tables,
		CodeBlocks: r.CodeBlocks,
		FollowUps:  r.FollowUps,
	}
}

var fenceRe = regexp.MustCompile("(?ms)^```([A-Za-z0-9_+#.-]*)[ \\t]*\\r?\\n(.*?)^```[ \\t]*$")

// Extract scans a completed response in a single forward pass: chart fences,
// table fences, generic code fences, then a trailing follow-up section.
// Malformed chart/table payloads stay verbatim so a broken block never
// silently vanishes. Running Extract on its own output is a no-op.
func Extract(raw string) Result {
	var res Result
	var b strings.Builder

	last := 0
	for _, m := range fenceRe.FindAllStringSubmatchIndex(raw, -1) {
		b.WriteString(raw[last:m[0]])

		lang := strings.ToLower(raw[m[2]:m[3]])
		body := strings.TrimSuffix(strings.TrimSuffix(raw[m[4]:m[5]], "\n"), "\r")
		verbatim := raw[m[0]:m[1]]

		switch lang {
		case "chart":
			if chart, err := parseChart(body); err == nil {
				b.WriteString(placeholder("chart", len(res.Charts)))
				res.Charts = append(res.Charts, chart)
			} else {
				b.WriteString(verbatim)
			}
		case "table":
			if table, err := parseTable(body); err == nil {
				b.WriteString(placeholder("table", len(res.Tables)))
				res.Tables = append(res.Tables, table)
			} else {
				b.WriteString(verbatim)
			}
		case "markdown", "md":
			// Prose markup is unwrapped, not treated as code.
			b.WriteString(body)
		default:
			b.WriteString(placeholder("code", len(res.CodeBlocks)))
			res.CodeBlocks = append(res.CodeBlocks, domain.CodeBlock{Language: lang, Content: body})
		}

		last = m[1]
	}
	b.WriteString(raw[last:])

	text, followUps := stripFollowUps(b.String())
	res.FollowUps = followUps
	res.CleanedText = trimTrailingDecoration(text)
	return res
}

func placeholder(kind string, index int) string {
	return fmt.Sprintf("[[%s:%d]]", kind, index)
}

func parseChart(body string) (domain.Chart, error) {
	var chart domain.Chart
	if err := json.Unmarshal([]byte(body), &chart); err != nil {
		return domain.Chart{}, fmt.Errorf("decoding chart payload: %w", err)
	}
	if chart.Kind == "" || len(chart.Labels) == 0 || len(chart.Series) == 0 {
		return domain.Chart{}, fmt.Errorf("chart payload missing type, labels or datasets")
	}
	for _, s := range chart.Series {
		if len(s.Values) == 0 {
			return domain.Chart{}, fmt.Errorf("chart dataset %q has no data", s.Label)
		}
	}
	return chart, nil
}

func parseTable(body string) (domain.Table, error) {
	var table domain.Table
	if err := json.Unmarshal([]byte(body), &table); err != nil {
		return domain.Table{}, fmt.Errorf("decoding table payload: %w", err)
	}
	if len(table.Headers) == 0 {
		return domain.Table{}, fmt.Errorf("table payload has no headers")
	}
	for _, row := range table.Rows {
		if len(row) == 0 {
			return domain.Table{}, fmt.Errorf("table payload has an empty row")
		}
	}
	return table, nil
}

// trailing decoration: lines of nothing but markup, stray emphasis markers
// and dangling separators at the very end of the cleaned text.
var (
	decorationLineRe = regexp.MustCompile(`^[ \t*_~#=-]*$`)
	trailingMarkRe   = regexp.MustCompile(`(?:\*{1,3}|_{1,3}|~~|[ \t:;,])+$`)
)

func trimTrailingDecoration(text string) string {
	lines := strings.Split(text, "\n")
	end := len(lines)
	for end > 0 && decorationLineRe.MatchString(lines[end-1]) {
		end--
	}
	text = strings.Join(lines[:end], "\n")
	return trailingMarkRe.ReplaceAllString(text, "")
}
