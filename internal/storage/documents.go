package storage

import (
	"context"
	"fmt"

	"github.com/ubyagro/biogrow/internal/model"
)

// ListDocuments returns a page of knowledge-base documents. category
// narrows by category ("" for all); search matches title and tags
// case-insensitively.
func (db *DB) ListDocuments(ctx context.Context, category, search string, limit, offset int) ([]model.Document, int, error) {
	if limit <= 0 {
		limit = 20
	}

	where := `WHERE ($1 = '' OR category = $1)
	          AND ($2 = '' OR title ILIKE '%' || $2 || '%'
	               OR EXISTS (SELECT 1 FROM unnest(tags) t WHERE t ILIKE '%' || $2 || '%'))`

	var total int
	if err := db.pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM documents `+where, category, search,
	).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("storage: count documents: %w", err)
	}

	rows, err := db.pool.Query(ctx,
		`SELECT id, title, type, category, related_agents, tags,
		        rating, rating_count, views, source_url, created_at
		 FROM documents `+where+`
		 ORDER BY created_at DESC
		 LIMIT $3 OFFSET $4`,
		category, search, limit, offset,
	)
	if err != nil {
		return nil, 0, fmt.Errorf("storage: list documents: %w", err)
	}
	defer rows.Close()

	var out []model.Document
	for rows.Next() {
		var (
			d      model.Document
			agents []string
		)
		if err := rows.Scan(&d.ID, &d.Title, &d.Type, &d.Category, &agents, &d.Tags,
			&d.Rating, &d.RatingCount, &d.Views, &d.SourceURL, &d.CreatedAt); err != nil {
			return nil, 0, fmt.Errorf("storage: scan document: %w", err)
		}
		d.RelatedAgents = make([]model.AgentID, 0, len(agents))
		for _, a := range agents {
			d.RelatedAgents = append(d.RelatedAgents, model.AgentID(a))
		}
		out = append(out, d)
	}
	return out, total, rows.Err()
}

// InsertDocument adds a knowledge-base document.
func (db *DB) InsertDocument(ctx context.Context, d model.Document) (model.Document, error) {
	agents := make([]string, 0, len(d.RelatedAgents))
	for _, a := range d.RelatedAgents {
		agents = append(agents, string(a))
	}
	if d.Tags == nil {
		d.Tags = []string{}
	}
	err := db.pool.QueryRow(ctx,
		`INSERT INTO documents (title, type, category, related_agents, tags, rating, rating_count, views, source_url)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		 RETURNING id, created_at`,
		d.Title, d.Type, d.Category, agents, d.Tags,
		d.Rating, d.RatingCount, d.Views, d.SourceURL,
	).Scan(&d.ID, &d.CreatedAt)
	if err != nil {
		return model.Document{}, fmt.Errorf("storage: insert document: %w", err)
	}
	return d, nil
}
