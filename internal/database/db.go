package database

import (
	"stockledger/internal/model"

	"github.com/rs/zerolog/log"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
)

// NewConnection initializes a new connection pool using GORM
func NewConnection(dsn string) (*gorm.DB, error) {
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{})
	if err != nil {
		return nil, err
	}

	if err := Migrate(db); err != nil {
		log.Warn().Err(err).Msg("failed to auto-migrate models")
	}

	return db, nil
}

// Migrate creates or updates the schema for all core models
func Migrate(db *gorm.DB) error {
	return db.AutoMigrate(
		&model.User{},
		&model.RefreshToken{},
		&model.Role{},
		&model.Permission{},
		&model.AuditLog{},
		&model.Product{},
		&model.Location{},
		&model.ProductStock{},
		&model.Batch{},
		&model.StockMovement{},
		&model.TransferHeader{},
		&model.TransferDetail{},
		&model.TransferBatchDetail{},
	)
}
