package db

import (
	"fmt"
	"log"

	"loolgw/internal/config"
	"loolgw/internal/models"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// GormDB wraps the GORM database instance used by the session audit
// log. It is optional: cmd/gateway falls back to a no-op audit log
// when NewGorm fails.
type GormDB struct {
	*gorm.DB
}

// NewGorm opens the audit database and migrates its one table.
func NewGorm(cfg *config.Config) (*GormDB, error) {
	dsn := cfg.DatabaseURL()

	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Warn),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to audit database: %w", err)
	}

	if err := db.AutoMigrate(&models.SessionEvent{}); err != nil {
		return nil, fmt.Errorf("failed to run audit migrations: %w", err)
	}

	log.Println("✓ Session audit database connected and migrated")

	return &GormDB{db}, nil
}

// Close closes the database connection.
func (db *GormDB) Close() error {
	sqlDB, err := db.DB.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
