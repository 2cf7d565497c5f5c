package db

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"facestore/config"
	"facestore/internal/core/models"

	"github.com/glebarez/sqlite" // Pure Go SQLite Treiber
	log "github.com/sirupsen/logrus"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// Open öffnet die SQLite-Datenbank, aktiviert Fremdschlüssel und führt die Migrationen aus.
func Open(cfg config.DBConfig) (*gorm.DB, error) {
	if cfg.File == "" {
		return nil, fmt.Errorf("database file is not configured")
	}

	dbDir := filepath.Dir(cfg.File)
	if err := os.MkdirAll(dbDir, 0750); err != nil {
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}

	// GORM-Logger auf logrus umleiten
	gormLogger := logger.New(
		log.StandardLogger(),
		logger.Config{
			SlowThreshold:             time.Second * 2,
			LogLevel:                  logger.Warn,
			IgnoreRecordNotFoundError: true,
			Colorful:                  false,
		},
	)

	dsn := cfg.File + "?_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)"
	log.WithField("file", cfg.File).Info("Connecting to database")

	database, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: gormLogger,
	})
	if err != nil {
		return nil, fmt.Errorf("database connection failed: %w", err)
	}

	sqlDB, err := database.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to get database connection: %w", err)
	}
	// SQLite erlaubt nur einen Schreiber
	sqlDB.SetMaxOpenConns(1)
	sqlDB.SetConnMaxLifetime(time.Hour)

	if err := Migrate(database); err != nil {
		_ = sqlDB.Close()
		return nil, err
	}

	log.Info("Database connection established successfully")
	return database, nil
}

// Migrate legt die Tabellen persons und faces an
func Migrate(database *gorm.DB) error {
	log.Debug("Running database migrations...")
	if err := database.AutoMigrate(
		&models.Person{},
		&models.FaceRecord{},
	); err != nil {
		return fmt.Errorf("database migration failed: %w", err)
	}
	return nil
}

// Close schließt die zugrunde liegende Verbindung
func Close(database *gorm.DB) error {
	if database == nil {
		return nil
	}
	sqlDB, err := database.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
