package service

import (
	"context"
	"database/sql"
	"errors"

	"go.uber.org/zap"

	"github.com/noah-isme/sma-exam-api/internal/models"
	appErrors "github.com/noah-isme/sma-exam-api/pkg/errors"
)

type classReader interface {
	FindByID(ctx context.Context, id string) (*models.Class, error)
}

type gradeSpecStore interface {
	FindByClass(ctx context.Context, classID string) (*models.GradeSpec, error)
	Save(ctx context.Context, classID string, spec *models.GradeSpec) error
}

// GradeSpecService reads and replaces per-class grade specifications.
// Classes without a stored spec fall back to the deployment default when
// one is configured.
type GradeSpecService struct {
	classes     classReader
	specs       gradeSpecStore
	defaultSpec *models.GradeSpec
	logger      *zap.Logger
}

// NewGradeSpecService constructs GradeSpecService. defaultSpec may be nil,
// in which case a class without a stored spec is an error.
func NewGradeSpecService(classes classReader, specs gradeSpecStore, defaultSpec *models.GradeSpec, logger *zap.Logger) *GradeSpecService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &GradeSpecService{
		classes:     classes,
		specs:       specs,
		defaultSpec: defaultSpec,
		logger:      logger,
	}
}

// GetForClass returns the class's specification, or the configured default
// when none is stored.
func (s *GradeSpecService) GetForClass(ctx context.Context, classID string) (*models.GradeSpec, error) {
	if _, err := s.classes.FindByID(ctx, classID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "class not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load class")
	}
	spec, err := s.specs.FindByClass(ctx, classID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			if s.defaultSpec != nil {
				return s.defaultSpec, nil
			}
			return nil, appErrors.Clone(appErrors.ErrNotFound, "grade specification not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load grade specification")
	}
	return spec, nil
}

// Replace validates the incoming document and stores it wholesale. Edits
// never patch a stored spec in place.
func (s *GradeSpecService) Replace(ctx context.Context, classID string, doc models.GradeSpecDocument) (*models.GradeSpec, error) {
	if _, err := s.classes.FindByID(ctx, classID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "class not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load class")
	}
	spec, err := models.NewGradeSpecFromDocument(doc)
	if err != nil {
		return nil, err
	}
	if err := s.specs.Save(ctx, classID, spec); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to store grade specification")
	}
	s.logger.Sugar().Infow("grade specification replaced", "class_id", classID, "goals", spec.GoalCount())
	return spec, nil
}
