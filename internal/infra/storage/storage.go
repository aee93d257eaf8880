package storage

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"

	"mt5_copier/internal/domain"

	"github.com/glebarez/sqlite"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// Storage implements domain.Store and ledger.Checkpointer on gorm.
type Storage struct {
	db *gorm.DB
}

// Options selects the database.
type Options struct {
	Driver string // sqlite | postgres
	Path   string // sqlite file; empty resolves an OS default
	DSN    string // postgres connection string
}

// Open connects, migrates and returns a Storage.
func Open(opt Options) (*Storage, error) {
	var dialector gorm.Dialector

	switch opt.Driver {
	case "", "sqlite":
		dbPath := opt.Path
		if dbPath == "" {
			p, err := getDBPath()
			if err != nil {
				return nil, fmt.Errorf("failed to resolve DB path: %w", err)
			}
			dbPath = p
		}

		// Ensure directory exists
		if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
			return nil, fmt.Errorf("failed to create DB directory: %w", err)
		}

		// Connect to SQLite (Pure Go)
		dialector = sqlite.Open(dbPath)
	case "postgres":
		if opt.DSN == "" {
			return nil, errors.New("postgres DSN is required")
		}
		dialector = postgres.Open(opt.DSN)
	default:
		return nil, fmt.Errorf("unsupported storage driver %q", opt.Driver)
	}

	db, err := gorm.Open(dialector, &gorm.Config{
		Logger: logger.Default.LogMode(logger.Warn),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	if opt.Driver != "postgres" {
		// SQLite allows one writer; the engine and monitor write concurrently.
		sqlDB, err := db.DB()
		if err != nil {
			return nil, err
		}
		sqlDB.SetMaxOpenConns(1)
	}

	return New(db)
}

// New wraps an open gorm connection and runs migrations.
func New(db *gorm.DB) (*Storage, error) {
	// Auto Migration
	if err := db.AutoMigrate(
		&domain.Account{},
		&domain.Pairing{},
		&domain.CopiedTrade{},
		&ledgerWatermark{},
		&ledgerLeg{},
	); err != nil {
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}
	return &Storage{db: db}, nil
}

// Close releases the connection pool.
func (s *Storage) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// getDBPath resolves the database file path based on OS
func getDBPath() (string, error) {
	var configDir string
	var err error

	if runtime.GOOS == "windows" {
		configDir = os.Getenv("LOCALAPPDATA")
		if configDir == "" {
			configDir, err = os.UserConfigDir()
		}
	} else {
		configDir, err = os.UserConfigDir()
	}

	if err != nil {
		return "", err
	}

	return filepath.Join(configDir, "MT5Copier", "data", "mt5copier.db"), nil
}
