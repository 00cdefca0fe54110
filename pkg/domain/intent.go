package domain

// ToolIntent is resolved once per turn and selects the system instruction
// template and generation profile used for it.
type ToolIntent string

const (
	IntentNone      ToolIntent = "none"
	IntentPlan      ToolIntent = "plan"
	IntentSummarize ToolIntent = "summarize"
	IntentCompare   ToolIntent = "compare"
	IntentChart     ToolIntent = "chart"
	IntentConsult   ToolIntent = "consult"
	IntentDatabase  ToolIntent = "database"
)

// Special reports whether the intent triggers the multi-chunk loop and raw
// plan-document storage instead of structured-block extraction.
func (i ToolIntent) Special() bool {
	return i != "" && i != IntentNone
}
