package festival

import (
	"context"
	"errors"

	"gorm.io/gorm"
)

var (
	errMissingDatabase = errors.New("festival: database connection required")
	// ErrNotFound indicates the requested booth or stage does not exist.
	ErrNotFound = errors.New("festival: not found")
)

// ServiceConfig describes the dependencies of the content service.
type ServiceConfig struct {
	Database *gorm.DB
}

// Service serves the static booth and stage listings.
type Service struct {
	db *gorm.DB
}

// NewService constructs the festival content service.
func NewService(cfg ServiceConfig) (*Service, error) {
	if cfg.Database == nil {
		return nil, errMissingDatabase
	}
	return &Service{db: cfg.Database}, nil
}

// ListBooths returns all booths ordered by name.
func (s *Service) ListBooths(ctx context.Context) ([]Booth, error) {
	var booths []Booth
	if err := s.db.WithContext(ctx).Order("name ASC").Find(&booths).Error; err != nil {
		return nil, err
	}
	return booths, nil
}

// GetBooth loads one booth by id.
func (s *Service) GetBooth(ctx context.Context, id string) (Booth, error) {
	var booth Booth
	err := s.db.WithContext(ctx).Where("id = ?", id).Take(&booth).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return Booth{}, ErrNotFound
	}
	if err != nil {
		return Booth{}, err
	}
	return booth, nil
}

// ListStages returns all stages ordered by start time.
func (s *Service) ListStages(ctx context.Context) ([]Stage, error) {
	var stages []Stage
	if err := s.db.WithContext(ctx).Order("starts_at ASC").Find(&stages).Error; err != nil {
		return nil, err
	}
	return stages, nil
}

// GetStage loads one stage by id.
func (s *Service) GetStage(ctx context.Context, id string) (Stage, error) {
	var stage Stage
	err := s.db.WithContext(ctx).Where("id = ?", id).Take(&stage).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return Stage{}, ErrNotFound
	}
	if err != nil {
		return Stage{}, err
	}
	return stage, nil
}
