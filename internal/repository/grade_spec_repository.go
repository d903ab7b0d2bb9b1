package repository

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/noah-isme/sma-exam-api/internal/models"
)

// GradeSpecRepository stores one grade specification per class as a JSON
// document. Old rows may still carry the legacy array encodings; decoding
// goes through models.DecodeGradeSpec, which normalises all of them.
type GradeSpecRepository struct {
	db *sqlx.DB
}

// NewGradeSpecRepository creates a new grade spec repository.
func NewGradeSpecRepository(db *sqlx.DB) *GradeSpecRepository {
	return &GradeSpecRepository{db: db}
}

// FindByClass loads and decodes the class's specification. sql.ErrNoRows
// passes through when the class has none.
func (r *GradeSpecRepository) FindByClass(ctx context.Context, classID string) (*models.GradeSpec, error) {
	const query = `SELECT document FROM grade_specs WHERE class_id = $1`
	var raw []byte
	if err := r.db.GetContext(ctx, &raw, query, classID); err != nil {
		return nil, err
	}
	spec, err := models.DecodeGradeSpec(raw)
	if err != nil {
		return nil, fmt.Errorf("decode grade spec for class %s: %w", classID, err)
	}
	return spec, nil
}

// Save replaces the class's specification wholesale. Edits never mutate a
// stored document in place.
func (r *GradeSpecRepository) Save(ctx context.Context, classID string, spec *models.GradeSpec) error {
	raw, err := json.Marshal(spec.Document())
	if err != nil {
		return fmt.Errorf("encode grade spec: %w", err)
	}
	const query = `INSERT INTO grade_specs (id, class_id, document, updated_at)
        VALUES ($1, $2, $3, $4)
        ON CONFLICT (class_id)
        DO UPDATE SET document = EXCLUDED.document, updated_at = EXCLUDED.updated_at`
	if _, err := r.db.ExecContext(ctx, query, uuid.NewString(), classID, raw, time.Now().UTC()); err != nil {
		return fmt.Errorf("save grade spec: %w", err)
	}
	return nil
}
