package storage

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/ubyagro/biogrow/internal/model"
)

// GetArtifact retrieves an artifact by ID, including the raw dossier bytes.
func (db *DB) GetArtifact(ctx context.Context, id uuid.UUID) (model.Artifact, error) {
	var a model.Artifact
	err := db.pool.QueryRow(ctx,
		`SELECT id, project_id, filename, content_type, size_bytes, data, created_at
		 FROM artifacts WHERE id = $1`, id,
	).Scan(&a.ID, &a.ProjectID, &a.Filename, &a.ContentType, &a.SizeBytes, &a.Data, &a.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return model.Artifact{}, ErrNotFound
		}
		return model.Artifact{}, fmt.Errorf("storage: get artifact: %w", err)
	}
	return a, nil
}
