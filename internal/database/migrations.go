package database

import (
	"errors"
	"time"

	"github.com/sparcs-kamf/backend/internal/festival"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const (
	migrationBackfillPhoneNumbers = "2025-09-04_backfill_phone_numbers"
	migrationSeedFestivalContent  = "2025-09-05_seed_festival_content"
)

type migrationRecord struct {
	Name             string `gorm:"column:name;primaryKey;size:190;not null"`
	AppliedAtSeconds int64  `gorm:"column:applied_at_s;not null"`
}

func (migrationRecord) TableName() string {
	return "db_migrations"
}

type migrationDefinition struct {
	name  string
	apply func(*gorm.DB) error
}

func applyMigrations(db *gorm.DB, logger *zap.Logger) error {
	migrations := []migrationDefinition{
		{name: migrationBackfillPhoneNumbers, apply: backfillPhoneNumbers},
		{name: migrationSeedFestivalContent, apply: seedFestivalContent},
	}

	for _, migration := range migrations {
		var record migrationRecord
		err := db.Where("name = ?", migration.name).Take(&record).Error
		if err == nil {
			continue
		}
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return err
		}
		if err := migration.apply(db); err != nil {
			return err
		}
		appliedAt := time.Now().UTC().Unix()
		if err := db.Create(&migrationRecord{Name: migration.name, AppliedAtSeconds: appliedAt}).Error; err != nil {
			return err
		}
		if logger != nil {
			logger.Info("database migration applied", zap.String("migration", migration.name))
		}
	}
	return nil
}

// backfillPhoneNumbers assigns placeholder numbers to accounts created before
// phone-number login replaced email login, deriving a stable suffix from the
// account id.
func backfillPhoneNumbers(db *gorm.DB) error {
	const statement = "UPDATE users SET phone_number = '010' || substr(replace(id, '-', ''), -8) " +
		"WHERE phone_number IS NULL OR phone_number = '';"
	return db.Exec(statement).Error
}

// seedFestivalContent loads the initial booth and stage listings. Runs once;
// later edits belong to the operators, not the code.
func seedFestivalContent(db *gorm.DB) error {
	var boothCount int64
	if err := db.Model(&festival.Booth{}).Count(&boothCount).Error; err != nil {
		return err
	}
	if boothCount == 0 {
		booths := []festival.Booth{
			{Name: "Info Desk", Description: "General information and lost & found", Location: "Main Gate", OperatingHours: "10:00-22:00"},
			{Name: "First Aid", Description: "On-site medical support", Location: "North Plaza", OperatingHours: "10:00-23:00"},
			{Name: "Food Court", Description: "Student club food stalls", Location: "Central Lawn", OperatingHours: "11:00-21:00"},
		}
		if err := db.Create(&booths).Error; err != nil {
			return err
		}
	}

	var stageCount int64
	if err := db.Model(&festival.Stage{}).Count(&stageCount).Error; err != nil {
		return err
	}
	if stageCount == 0 {
		opening := time.Date(2025, time.September, 5, 9, 0, 0, 0, time.UTC)
		stages := []festival.Stage{
			{Name: "Opening Ceremony", Description: "Festival kickoff", Location: "Main Stage", Performer: "Organizing Committee", StartsAt: opening, EndsAt: opening.Add(time.Hour)},
			{Name: "Evening Concert", Description: "Headline performance", Location: "Main Stage", Performer: "TBA", StartsAt: opening.Add(10 * time.Hour), EndsAt: opening.Add(12 * time.Hour)},
		}
		if err := db.Create(&stages).Error; err != nil {
			return err
		}
	}
	return nil
}
