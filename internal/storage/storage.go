// Package storage provides scan-history tracking using GORM and SQLite
package storage

import (
	"errors"
	"fmt"
	"time"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// Sentinel errors following Dave Cheney's principle: define errors as values
var (
	ErrNilScan  = errors.New("scan cannot be nil")
	ErrNotFound = errors.New("scan not found")
)

// Scan records one validation run over an uploaded archive.
type Scan struct {
	ID uint `gorm:"primaryKey"`

	// What was scanned
	ArchiveName string `gorm:"not null;index"`
	SHA256      string `gorm:"not null;index"`

	// Outcome
	Classification string `gorm:"not null"` // library, plugin, bypass, unclassified
	Accepted       bool   `gorm:"not null;default:false"`
	ModID          string `gorm:"index"`
	ModVersion     string
	Errors         string `gorm:"type:text"`

	// When
	ScannedAt time.Time `gorm:"not null"`
}

// Config holds storage configuration
type Config struct {
	DatabasePath string
	LogLevel     string
}

// DB wraps the GORM database connection
type DB struct {
	db *gorm.DB
}

// InitDB opens the database and migrates the schema.
func InitDB(cfg Config) (*DB, error) {
	logLevel := logger.Silent
	switch cfg.LogLevel {
	case "error":
		logLevel = logger.Error
	case "warn":
		logLevel = logger.Warn
	case "info":
		logLevel = logger.Info
	}

	db, err := gorm.Open(sqlite.Open(cfg.DatabasePath), &gorm.Config{
		Logger: logger.Default.LogMode(logLevel),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	// Auto-migrate schema
	if err := db.AutoMigrate(&Scan{}); err != nil {
		return nil, fmt.Errorf("failed to migrate schema: %w", err)
	}

	return &DB{db: db}, nil
}

// Close closes the database connection
func (d *DB) Close() error {
	sqlDB, err := d.db.DB()
	if err != nil {
		return fmt.Errorf("failed to get underlying SQL DB: %w", err)
	}
	if err := sqlDB.Close(); err != nil {
		return fmt.Errorf("failed to close database connection: %w", err)
	}
	return nil
}

// RecordScan creates a new scan record
func (d *DB) RecordScan(scan *Scan) error {
	if scan == nil {
		return ErrNilScan
	}
	if scan.ScannedAt.IsZero() {
		scan.ScannedAt = time.Now()
	}
	if err := d.db.Create(scan).Error; err != nil {
		return fmt.Errorf("failed to record scan: %w", err)
	}
	return nil
}

// ListScans returns the most recent scans, newest first.
func (d *DB) ListScans(limit int) ([]Scan, error) {
	if limit <= 0 {
		limit = 50
	}
	var scans []Scan
	if err := d.db.Order("scanned_at DESC").Limit(limit).Find(&scans).Error; err != nil {
		return nil, fmt.Errorf("failed to list scans: %w", err)
	}
	return scans, nil
}

// FindByMod returns scans recorded for a mod identifier, newest first.
func (d *DB) FindByMod(modID string) ([]Scan, error) {
	var scans []Scan
	if err := d.db.Where("mod_id = ?", modID).Order("scanned_at DESC").Find(&scans).Error; err != nil {
		return nil, fmt.Errorf("failed to query scans: %w", err)
	}
	if len(scans) == 0 {
		return nil, ErrNotFound
	}
	return scans, nil
}

// LastScanBySHA returns the most recent scan of the given archive digest.
func (d *DB) LastScanBySHA(sha string) (*Scan, error) {
	var scan Scan
	err := d.db.Where("sha256 = ?", sha).Order("scanned_at DESC").First(&scan).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query scan: %w", err)
	}
	return &scan, nil
}
