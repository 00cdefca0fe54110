package domain

import "time"

type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"

	// RoleSystem carries upstream instructions only. It is never persisted
	// as a visible message.
	RoleSystem Role = "system"
)

type Message struct {
	ID          string
	Role        Role
	Content     string
	Attachments []Attachment
	Extracted   ExtractedBlocks

	// PlanDocument holds the raw accumulated text of a multi-chunk turn.
	// Mutually exclusive with Extracted in practice.
	PlanDocument string

	CreatedAt time.Time
}

// Attachment is an image or document payload owned by exactly one message.
type Attachment struct {
	Name     string
	Path     string
	MIMEType string
	Data     []byte
}

func (a Attachment) IsImage() bool {
	return len(a.MIMEType) > 6 && a.MIMEType[:6] == "image/"
}

type ExtractedBlocks struct {
	Charts     []Chart
	Tables     []Table
	CodeBlocks []CodeBlock
	FollowUps  []string
}

func (e ExtractedBlocks) Empty() bool {
	return len(e.Charts) == 0 && len(e.Tables) == 0 && len(e.CodeBlocks) == 0 && len(e.FollowUps) == 0
}

type Chart struct {
	Kind   string        `json:"type"`
	Labels []string      `json:"labels"`
	Series []ChartSeries `json:"datasets"`
}

type ChartSeries struct {
	Label  string    `json:"label"`
	Values []float64 `json:"data"`
}

type Table struct {
	Title   string     `json:"title,omitempty"`
	Headers []string   `json:"headers"`
	Rows    [][]string `json:"rows"`
}

type CodeBlock struct {
	Language string
	Content  string
}
