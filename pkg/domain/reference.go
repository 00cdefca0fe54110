package domain

import "time"

// ReferenceRecord is the structured metadata of a source document, used to
// enrich continuation instructions with citation context.
type ReferenceRecord struct {
	Path        string    `json:"path"`
	Name        string    `json:"name"`
	Summary     string    `json:"summary"`
	Topics      []string  `json:"topics,omitempty"`
	Source      string    `json:"source,omitempty"`
	GeneratedAt time.Time `json:"generated_at"`
}
