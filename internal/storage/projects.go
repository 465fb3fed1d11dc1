package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/ubyagro/biogrow/internal/model"
)

// CreateProject inserts a project together with its dossier artifact in
// one transaction and returns the project.
func (db *DB) CreateProject(ctx context.Context, p model.Project, a model.Artifact) (model.Project, error) {
	now := time.Now().UTC()
	p.ID = uuid.New()
	p.Status = model.ProjectProcessing
	p.CreatedAt = now
	p.UpdatedAt = now

	a.ID = uuid.New()
	a.ProjectID = p.ID
	a.CreatedAt = now
	p.ArtifactID = a.ID

	tx, err := db.pool.Begin(ctx)
	if err != nil {
		return model.Project{}, fmt.Errorf("storage: begin create project: %w", err)
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx,
		`INSERT INTO projects (id, owner_id, name, category, target_crop, description, status, artifact_id, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		p.ID, p.OwnerID, p.Name, string(p.Category), string(p.TargetCrop),
		p.Description, string(p.Status), p.ArtifactID, p.CreatedAt, p.UpdatedAt,
	); err != nil {
		return model.Project{}, fmt.Errorf("storage: insert project: %w", err)
	}

	if _, err := tx.Exec(ctx,
		`INSERT INTO artifacts (id, project_id, filename, content_type, size_bytes, data, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		a.ID, a.ProjectID, a.Filename, a.ContentType, a.SizeBytes, a.Data, a.CreatedAt,
	); err != nil {
		return model.Project{}, fmt.Errorf("storage: insert artifact: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return model.Project{}, fmt.Errorf("storage: commit create project: %w", err)
	}
	return p, nil
}

// GetProject retrieves a project by ID.
func (db *DB) GetProject(ctx context.Context, id uuid.UUID) (model.Project, error) {
	var p model.Project
	err := db.pool.QueryRow(ctx,
		`SELECT id, owner_id, name, category, target_crop, description, status, artifact_id, created_at, updated_at
		 FROM projects WHERE id = $1`, id,
	).Scan(&p.ID, &p.OwnerID, &p.Name, &p.Category, &p.TargetCrop,
		&p.Description, &p.Status, &p.ArtifactID, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return model.Project{}, ErrNotFound
		}
		return model.Project{}, fmt.Errorf("storage: get project: %w", err)
	}
	return p, nil
}

// SetProjectStatus transitions a project's lifecycle status.
func (db *DB) SetProjectStatus(ctx context.Context, id uuid.UUID, status model.ProjectStatus) error {
	tag, err := db.pool.Exec(ctx,
		`UPDATE projects SET status = $1, updated_at = now() WHERE id = $2`,
		string(status), id,
	)
	if err != nil {
		return fmt.Errorf("storage: set project status: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// ListProjects returns a page of project summaries, newest first, joined
// with the latest analysis where one exists. statusFilter narrows by
// project status; pass "" for all.
func (db *DB) ListProjects(ctx context.Context, ownerID uuid.UUID, statusFilter model.ProjectStatus, limit, offset int) ([]model.ProjectSummary, int, error) {
	if limit <= 0 {
		limit = 10
	}

	// uuid.Nil lists every owner's projects (admin view).
	where := `WHERE ($1::uuid = '00000000-0000-0000-0000-000000000000' OR p.owner_id = $1)`
	args := []any{ownerID}
	if statusFilter != "" {
		where += ` AND p.status = $2`
		args = append(args, string(statusFilter))
	}

	var total int
	if err := db.pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM projects p `+where, args...,
	).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("storage: count projects: %w", err)
	}

	args = append(args, limit, offset)
	rows, err := db.pool.Query(ctx,
		`SELECT p.id, p.name, p.category, p.target_crop, p.status, p.created_at,
		        a.overall_score, a.analyzed_at
		 FROM projects p
		 LEFT JOIN LATERAL (
		     SELECT overall_score, analyzed_at FROM analyses
		     WHERE project_id = p.id ORDER BY version DESC LIMIT 1
		 ) a ON true
		 `+where+`
		 ORDER BY p.created_at DESC
		 LIMIT $`+fmt.Sprint(len(args)-1)+` OFFSET $`+fmt.Sprint(len(args)),
		args...,
	)
	if err != nil {
		return nil, 0, fmt.Errorf("storage: list projects: %w", err)
	}
	defer rows.Close()

	var out []model.ProjectSummary
	for rows.Next() {
		var s model.ProjectSummary
		if err := rows.Scan(&s.ProjectID, &s.Name, &s.Category, &s.TargetCrop,
			&s.Status, &s.CreatedAt, &s.OverallScore, &s.AnalyzedAt); err != nil {
			return nil, 0, fmt.Errorf("storage: scan project summary: %w", err)
		}
		out = append(out, s)
	}
	return out, total, rows.Err()
}
