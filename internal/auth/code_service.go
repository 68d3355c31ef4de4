package auth

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"
)

const (
	codeTTL = 5 * time.Minute
)

var (
	errMissingCodeDatabase = errors.New("auth: database handle is required")
	errMissingSender       = errors.New("auth: sms sender is required")
	// ErrInvalidPhoneNumber indicates an empty or unusable phone number.
	ErrInvalidPhoneNumber = errors.New("auth: invalid phone number")
)

// CodeServiceConfig describes the dependencies of the verification code flow.
type CodeServiceConfig struct {
	Database *gorm.DB
	Sender   Sender
	Clock    func() time.Time
	Logger   *zap.Logger
}

// CodeService issues, delivers and verifies one-time SMS codes.
type CodeService struct {
	db     *gorm.DB
	sender Sender
	clock  func() time.Time
	log    *zap.Logger
}

// NewCodeService constructs the verification code service.
func NewCodeService(cfg CodeServiceConfig) (*CodeService, error) {
	if cfg.Database == nil {
		return nil, errMissingCodeDatabase
	}
	if cfg.Sender == nil {
		return nil, errMissingSender
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &CodeService{
		db:     cfg.Database,
		sender: cfg.Sender,
		clock:  clock,
		log:    logger,
	}, nil
}

// RequestCode generates a six digit code for the phone number, persists it
// with a five minute expiry and hands it to the SMS sender.
func (s *CodeService) RequestCode(ctx context.Context, phoneNumber string) error {
	normalized := NormalizePhoneNumber(phoneNumber)
	if normalized == "" {
		return ErrInvalidPhoneNumber
	}

	code := generateCode()
	record := AuthCode{
		PhoneNumber: normalized,
		Code:        code,
		ExpiresAt:   s.clock().UTC().Add(codeTTL),
	}
	if err := s.db.WithContext(ctx).Create(&record).Error; err != nil {
		return err
	}

	if err := s.sender.SendAuthCode(ctx, normalized, code); err != nil {
		s.log.Error("failed to send verification code",
			zap.String("phone_number", normalized), zap.Error(err))
		return fmt.Errorf("auth: sending verification code: %w", err)
	}
	return nil
}

// VerifyCode checks the submitted code against the newest unused code for the
// phone number and marks it used on success. Expired or unknown codes verify
// as false without error.
func (s *CodeService) VerifyCode(ctx context.Context, phoneNumber, code string) (bool, error) {
	normalized := NormalizePhoneNumber(phoneNumber)
	if normalized == "" || code == "" {
		return false, nil
	}

	var record AuthCode
	err := s.db.WithContext(ctx).
		Where("phone_number = ? AND code = ? AND is_used = ?", normalized, code, false).
		Order("created_at DESC").
		Take(&record).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	if s.clock().UTC().After(record.ExpiresAt) {
		return false, nil
	}

	record.IsUsed = true
	if err := s.db.WithContext(ctx).Save(&record).Error; err != nil {
		return false, err
	}
	return true, nil
}

// CleanupExpiredCodes removes codes past their expiry and returns how many
// were deleted. Intended for a periodic job.
func (s *CodeService) CleanupExpiredCodes(ctx context.Context) (int64, error) {
	result := s.db.WithContext(ctx).
		Where("expires_at < ?", s.clock().UTC()).
		Delete(&AuthCode{})
	if result.Error != nil {
		return 0, result.Error
	}
	return result.RowsAffected, nil
}

// UnusedCodeCount counts a phone number's unused codes past their expiry.
func (s *CodeService) UnusedCodeCount(ctx context.Context, phoneNumber string) (int64, error) {
	var count int64
	err := s.db.WithContext(ctx).Model(&AuthCode{}).
		Where("phone_number = ? AND is_used = ? AND expires_at < ?",
			NormalizePhoneNumber(phoneNumber), false, s.clock().UTC()).
		Count(&count).Error
	if err != nil {
		return 0, err
	}
	return count, nil
}

// generateCode returns a random six digit code in [100000, 999999].
func generateCode() string {
	return fmt.Sprintf("%06d", 100000+rand.Intn(900000))
}
