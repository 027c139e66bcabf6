package model

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// MovementType enum simulation
const (
	MovementIn  = "IN"
	MovementOut = "OUT"
)

// StockMovement is one append-only journal entry. Every batch increment or decrement
// is paired with exactly one movement row in the same transaction; the journal is the
// source of truth for historical quantity reconstruction. Rows are never updated or
// deleted.
type StockMovement struct {
	ID             uuid.UUID       `gorm:"type:uuid;primaryKey" json:"id"`
	ProductID      uuid.UUID       `gorm:"type:uuid;not null;index" json:"product_id"`
	BatchID        uuid.UUID       `gorm:"type:uuid;not null;index" json:"batch_id"`
	LocationID     uuid.UUID       `gorm:"type:uuid;not null;index" json:"location_id"`
	MovementType   string          `gorm:"type:varchar(10);not null" json:"movement_type"` // IN, OUT
	Quantity       int             `gorm:"not null" json:"quantity"`
	RemainingQty   int             `gorm:"not null" json:"remaining_quantity"` // batch remaining after this fragment
	SRP            decimal.Decimal `gorm:"type:decimal(10,2);not null" json:"srp"`
	ExpirationDate *time.Time      `json:"expiration_date"`
	ReferenceNo    string          `gorm:"type:varchar(100);index" json:"reference_no"`
	Notes          string          `gorm:"type:text" json:"notes"`
	CreatedBy      string          `gorm:"type:varchar(100)" json:"created_by"`
	CreatedAt      time.Time       `gorm:"index" json:"created_at"`
}

func (m *StockMovement) BeforeCreate(tx *gorm.DB) error {
	if m.ID == uuid.Nil {
		m.ID = uuid.New()
	}
	return nil
}
