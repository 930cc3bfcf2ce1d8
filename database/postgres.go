package database

import (
	"fmt"
	"log/slog"

	"messenger-core/config"
	"messenger-core/model"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

var DB *gorm.DB

// Connect opens the messenger store with the configured driver and migrates it.
// Postgres is the production store; sqlite serves local runs.
func Connect(driver string, log *slog.Logger) (*gorm.DB, error) {
	var err error
	switch driver {
	case "sqlite":
		DB, err = OpenSQLite(config.Config("SQLITE_PATH"))
	default:
		DB, err = OpenPostgres()
	}
	if err != nil {
		return nil, err
	}
	log.Info("Connection opened to database", "driver", driver)

	if err := Migrate(DB); err != nil {
		return nil, err
	}
	log.Info("Database Migrated")
	return DB, nil
}

func OpenPostgres() (*gorm.DB, error) {
	dsn := fmt.Sprintf("host=%s port=%s user=%s password=%s dbname=%s sslmode=disable",
		config.Config("POSTGRES_HOST"),
		config.Config("POSTGRES_PORT"),
		config.Config("POSTGRES_USER"),
		config.Config("POSTGRES_PASSWORD"),
		config.Config("POSTGRES_DB"),
	)
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{
		TranslateError: true,
		Logger:         logger.Default.LogMode(logger.Warn),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect postgres: %w", err)
	}
	return db, nil
}

// Migrate creates or updates the messenger schema.
func Migrate(db *gorm.DB) error {
	err := db.AutoMigrate(
		&model.User{},
		&model.Conversation{},
		&model.Participation{},
		&model.Message{},
	)
	if err != nil {
		return fmt.Errorf("failed to migrate database: %w", err)
	}
	return nil
}
