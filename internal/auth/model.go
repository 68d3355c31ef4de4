package auth

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// AuthCode is a one-time SMS verification code for a phone number.
type AuthCode struct {
	ID          string    `gorm:"column:id;primaryKey;size:36;not null"`
	PhoneNumber string    `gorm:"column:phone_number;size:32;not null;index:idx_auth_codes_phone"`
	Code        string    `gorm:"column:code;size:6;not null"`
	ExpiresAt   time.Time `gorm:"column:expires_at;not null"`
	IsUsed      bool      `gorm:"column:is_used;not null;default:false"`
	CreatedAt   time.Time `gorm:"column:created_at;autoCreateTime"`
}

// TableName provides the explicit table binding for GORM.
func (AuthCode) TableName() string {
	return "auth_codes"
}

// BeforeCreate assigns a UUID when none was provided.
func (c *AuthCode) BeforeCreate(*gorm.DB) error {
	if c.ID == "" {
		value, err := uuid.NewV7()
		if err != nil {
			return err
		}
		c.ID = value.String()
	}
	return nil
}
