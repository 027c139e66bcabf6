package model

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// Stock status labels derived from the aggregate quantity at a location
const (
	StockStatusIn  = "in stock"
	StockStatusLow = "low stock"
	StockStatusOut = "out of stock"
)

// LowStockThreshold marks the boundary between "in stock" and "low stock"
const LowStockThreshold = 10

// Location represents a store or warehouse holding stock
type Location struct {
	ID        uuid.UUID `gorm:"type:uuid;primaryKey" json:"id"`
	Name      string    `gorm:"type:varchar(255);uniqueIndex;not null" json:"name"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

func (l *Location) BeforeCreate(tx *gorm.DB) error {
	if l.ID == uuid.Nil {
		l.ID = uuid.New()
	}
	return nil
}

// Product represents an item tracked in the batch ledger
type Product struct {
	ID          uuid.UUID       `gorm:"type:uuid;primaryKey" json:"id"`
	Barcode     string          `gorm:"type:varchar(100);uniqueIndex;not null" json:"barcode"`
	Name        string          `gorm:"type:varchar(255);not null" json:"name"`
	Category    string          `gorm:"type:varchar(100)" json:"category"`
	Description string          `gorm:"type:text" json:"description"`
	UnitPrice   decimal.Decimal `gorm:"type:decimal(10,2);not null" json:"unit_price"`
	SRP         decimal.Decimal `gorm:"type:decimal(10,2);not null" json:"srp"`
	CreatedAt   time.Time       `json:"created_at"`
	UpdatedAt   time.Time       `json:"updated_at"`
	DeletedAt   gorm.DeletedAt  `gorm:"index" json:"-"`
}

func (p *Product) BeforeCreate(tx *gorm.DB) error {
	if p.ID == uuid.Nil {
		p.ID = uuid.New()
	}
	return nil
}

// ProductStock caches the sum of remaining batch quantities per product+location.
// It is maintained in the same transaction as every batch mutation and can be
// rebuilt from the batch table at any time (sync endpoint).
type ProductStock struct {
	ProductID  uuid.UUID `gorm:"type:uuid;primaryKey" json:"product_id"`
	LocationID uuid.UUID `gorm:"type:uuid;primaryKey" json:"location_id"`
	Quantity   int       `gorm:"not null;default:0" json:"quantity"`
	UpdatedAt  time.Time `json:"updated_at"`
}

// ProductWithStock is a read model pairing a product with its cached quantity
// at one location.
type ProductWithStock struct {
	Product
	Quantity int `json:"quantity"`
}

// StockStatusLabel classifies an aggregate quantity for POS views
func StockStatusLabel(quantity int) string {
	switch {
	case quantity <= 0:
		return StockStatusOut
	case quantity <= LowStockThreshold:
		return StockStatusLow
	default:
		return StockStatusIn
	}
}
