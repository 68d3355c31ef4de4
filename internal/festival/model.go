package festival

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Booth is a festival booth listing shown in the info browser.
type Booth struct {
	ID             string    `gorm:"column:id;primaryKey;size:36;not null"`
	Name           string    `gorm:"column:name;size:190;not null"`
	Description    string    `gorm:"column:description;type:text"`
	Location       string    `gorm:"column:location;size:190"`
	OperatingHours string    `gorm:"column:operating_hours;size:190"`
	CreatedAt      time.Time `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt      time.Time `gorm:"column:updated_at;autoUpdateTime"`
}

// TableName provides the explicit table binding for GORM.
func (Booth) TableName() string {
	return "booths"
}

// BeforeCreate assigns a UUID when none was provided.
func (b *Booth) BeforeCreate(*gorm.DB) error {
	if b.ID == "" {
		value, err := uuid.NewV7()
		if err != nil {
			return err
		}
		b.ID = value.String()
	}
	return nil
}

// Stage is a scheduled stage performance shown in the info browser.
type Stage struct {
	ID          string    `gorm:"column:id;primaryKey;size:36;not null"`
	Name        string    `gorm:"column:name;size:190;not null"`
	Description string    `gorm:"column:description;type:text"`
	Location    string    `gorm:"column:location;size:190"`
	Performer   string    `gorm:"column:performer;size:190"`
	StartsAt    time.Time `gorm:"column:starts_at"`
	EndsAt      time.Time `gorm:"column:ends_at"`
	CreatedAt   time.Time `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt   time.Time `gorm:"column:updated_at;autoUpdateTime"`
}

// TableName provides the explicit table binding for GORM.
func (Stage) TableName() string {
	return "stages"
}

// BeforeCreate assigns a UUID when none was provided.
func (s *Stage) BeforeCreate(*gorm.DB) error {
	if s.ID == "" {
		value, err := uuid.NewV7()
		if err != nil {
			return err
		}
		s.ID = value.String()
	}
	return nil
}
