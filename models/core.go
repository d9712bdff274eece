package models

import (
	"log"
	"os"
	"path/filepath"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

var DB *gorm.DB

// InitDatabase opens the embedded sqlite store and migrates all tables.
func InitDatabase(storagePath string) error {
	DBFileName := "plotmatch.db"
	if err := os.MkdirAll(storagePath, os.ModePerm); err != nil {
		log.Printf("failed to create storage directory: %v", err)
		return err
	}

	dbPath := filepath.Join(storagePath, DBFileName)
	log.Printf("database path: %s", dbPath)

	var err error
	DB, err = gorm.Open(sqlite.Open(dbPath), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Warn),
	})
	if err != nil {
		log.Printf("failed to open database: %v", err)
		return err
	}

	if err := Migrate(DB); err != nil {
		log.Printf("database migration failed: %v", err)
		return err
	}

	log.Println("database initialized")
	return nil
}

// Migrate creates the table structure on db.
func Migrate(db *gorm.DB) error {
	if err := db.AutoMigrate(&ComparisonSession{}); err != nil {
		return err
	}
	if err := db.AutoMigrate(&Application{}); err != nil {
		return err
	}
	if err := db.AutoMigrate(&ActivityLogEntry{}); err != nil {
		return err
	}
	return nil
}

// GetDB returns the shared database handle.
func GetDB() *gorm.DB {
	return DB
}
