package domain

import "time"

type Session struct {
	ID           string
	OwnerID      string
	Title        string
	Preview      string
	MessageCount int
	Pinned       bool
	CreatedAt    time.Time
	UpdatedAt    time.Time

	// Messages is populated only by Get; List returns summaries.
	Messages []Message
}

type SessionFilter struct {
	Pinned *bool
	Search string
}
