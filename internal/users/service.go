package users

import (
	"context"
	"errors"
	"time"

	"github.com/sparcs-kamf/backend/internal/auth"
	"gorm.io/gorm"
)

var (
	errMissingDatabase = errors.New("users: database connection required")
	// ErrNotFound indicates no user exists for the given identifier.
	ErrNotFound = errors.New("users: not found")
	// ErrInvalidPhoneNumber indicates an empty or unusable phone number.
	ErrInvalidPhoneNumber = errors.New("users: invalid phone number")
)

// ServiceConfig describes the dependencies of the user account service.
type ServiceConfig struct {
	Database *gorm.DB
	Clock    func() time.Time
}

// Service manages festival accounts keyed by verified phone numbers.
type Service struct {
	db  *gorm.DB
	now func() time.Time
}

// NewService constructs the user service.
func NewService(cfg ServiceConfig) (*Service, error) {
	if cfg.Database == nil {
		return nil, errMissingDatabase
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	return &Service{db: cfg.Database, now: clock}, nil
}

// FindOrCreateByPhone returns the account for a verified phone number,
// creating a plain USER account on first login.
func (s *Service) FindOrCreateByPhone(ctx context.Context, phoneNumber string) (User, error) {
	normalized := auth.NormalizePhoneNumber(phoneNumber)
	if normalized == "" {
		return User{}, ErrInvalidPhoneNumber
	}

	var user User
	err := s.db.WithContext(ctx).
		Where("phone_number = ?", normalized).
		First(&user).Error
	if err == nil {
		return user, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return User{}, err
	}

	user = User{
		PhoneNumber: normalized,
		Roles:       RoleUser,
	}
	if err := s.db.WithContext(ctx).Create(&user).Error; err != nil {
		return User{}, err
	}
	return user, nil
}

// FindByID loads one account by its identifier.
func (s *Service) FindByID(ctx context.Context, id string) (User, error) {
	var user User
	err := s.db.WithContext(ctx).
		Where("id = ?", id).
		Take(&user).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return User{}, ErrNotFound
	}
	if err != nil {
		return User{}, err
	}
	return user, nil
}

// AssignRoles replaces an account's role set. Administrative only.
func (s *Service) AssignRoles(ctx context.Context, id string, roles []string) (User, error) {
	user, err := s.FindByID(ctx, id)
	if err != nil {
		return User{}, err
	}
	user.Roles = JoinRoles(roles)
	if err := s.db.WithContext(ctx).Save(&user).Error; err != nil {
		return User{}, err
	}
	return user, nil
}
