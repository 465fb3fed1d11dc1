package model

import (
	"time"

	"github.com/google/uuid"
)

// Document is a knowledge-base entry (guides, norms, market studies)
// surfaced alongside agent analyses.
type Document struct {
	ID            uuid.UUID `json:"doc_id"`
	Title         string    `json:"title"`
	Type          string    `json:"type"`
	Category      string    `json:"category"`
	RelatedAgents []AgentID `json:"related_agents"`
	Tags          []string  `json:"tags"`
	Rating        float64   `json:"rating"`
	RatingCount   int       `json:"rating_count"`
	Views         int       `json:"views"`
	SourceURL     *string   `json:"source_url,omitempty"`
	CreatedAt     time.Time `json:"created_at"`
}
