// Package model defines the core domain types for BioGrow.
//
// All types correspond directly to database tables and event payloads.
// Types use strong typing (UUIDs, time.Time, enums) and avoid
// interface{} wherever possible.
package model

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// ProjectCategory classifies a project within the specialty-inputs segment.
type ProjectCategory string

const (
	CategoryBiodefensivo    ProjectCategory = "biodefensivo"
	CategoryBioestimulante  ProjectCategory = "bioestimulante"
	CategoryAdjuvante       ProjectCategory = "adjuvante"
	CategoryNutricaoFoliar  ProjectCategory = "nutricao_foliar"
	CategoryBiofertilizante ProjectCategory = "biofertilizante"
)

// CropType is the crop a project targets.
type CropType string

const (
	CropSoja    CropType = "soja"
	CropMilho   CropType = "milho"
	CropCana    CropType = "cana"
	CropCafe    CropType = "cafe"
	CropAlgodao CropType = "algodao"
)

// ProjectStatus is the orchestration lifecycle of a project as a whole.
// It is derived from the per-agent runs: processing while any run is
// non-terminal, completed once an analysis has been written, failed when
// the orchestration aborted before producing one.
type ProjectStatus string

const (
	ProjectProcessing ProjectStatus = "processing"
	ProjectCompleted  ProjectStatus = "completed"
	ProjectFailed     ProjectStatus = "failed"
)

// Project is a submitted product dossier under analysis. Immutable once
// created except for status transitions driven by the orchestrator.
type Project struct {
	ID          uuid.UUID       `json:"id"`
	OwnerID     uuid.UUID       `json:"owner_id"`
	Name        string          `json:"name"`
	Category    ProjectCategory `json:"category"`
	TargetCrop  CropType        `json:"target_crop"`
	Description *string         `json:"description,omitempty"`
	Status      ProjectStatus   `json:"status"`
	ArtifactID  uuid.UUID       `json:"artifact_id"`
	CreatedAt   time.Time       `json:"created_at"`
	UpdatedAt   time.Time       `json:"updated_at"`
}

// Artifact is the uploaded dossier backing a project. The raw bytes never
// leave the storage layer through the JSON API.
type Artifact struct {
	ID          uuid.UUID `json:"id"`
	ProjectID   uuid.UUID `json:"project_id"`
	Filename    string    `json:"filename"`
	ContentType string    `json:"content_type"`
	SizeBytes   int64     `json:"size_bytes"`
	Data        []byte    `json:"-"`
	CreatedAt   time.Time `json:"created_at"`
}

// MaxArtifactBytes caps uploaded dossier size. Oversized uploads are
// rejected before any bytes reach Postgres.
const MaxArtifactBytes = 25 << 20 // 25 MB

// MaxProjectNameLen caps the project name column.
const MaxProjectNameLen = 200

// ValidateCategory checks that a category is one of the known segment values.
func ValidateCategory(c ProjectCategory) error {
	switch c {
	case CategoryBiodefensivo, CategoryBioestimulante, CategoryAdjuvante,
		CategoryNutricaoFoliar, CategoryBiofertilizante:
		return nil
	}
	return fmt.Errorf("unknown category %q", c)
}

// ValidateCrop checks that a crop is one of the supported values.
func ValidateCrop(c CropType) error {
	switch c {
	case CropSoja, CropMilho, CropCana, CropCafe, CropAlgodao:
		return nil
	}
	return fmt.Errorf("unknown target_crop %q", c)
}

// ValidateProjectName checks name presence and length limits.
func ValidateProjectName(name string) error {
	if name == "" {
		return fmt.Errorf("name is required")
	}
	if len(name) > MaxProjectNameLen {
		return fmt.Errorf("name must be at most %d characters", MaxProjectNameLen)
	}
	return nil
}
