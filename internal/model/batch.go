package model

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// Batch is a discrete stock receipt at one location, carrying its own cost, SRP and
// expiration. Batches are consumed oldest-first and never deleted: an exhausted batch
// stays on record with RemainingQty = 0.
//
// EntrySequence is strictly increasing per product+location and defines FIFO order;
// batch id ascending is the residual tie-break in every ordering clause.
type Batch struct {
	ID             uuid.UUID       `gorm:"type:uuid;primaryKey" json:"id"`
	BatchReference string          `gorm:"type:varchar(100);not null;index" json:"batch_reference"`
	ProductID      uuid.UUID       `gorm:"type:uuid;not null;index:idx_batches_product_location" json:"product_id"`
	Product        *Product        `gorm:"foreignKey:ProductID" json:"-"`
	LocationID     uuid.UUID       `gorm:"type:uuid;not null;index:idx_batches_product_location" json:"location_id"`
	ReceivedQty    int             `gorm:"not null" json:"received_quantity"`
	RemainingQty   int             `gorm:"not null" json:"remaining_quantity"`
	UnitCost       decimal.Decimal `gorm:"type:decimal(10,2);not null" json:"unit_cost"`
	SRP            decimal.Decimal `gorm:"type:decimal(10,2);not null" json:"srp"`
	ExpirationDate *time.Time      `json:"expiration_date"`
	EntrySequence  int64           `gorm:"not null;index" json:"entry_sequence"`
	CreatedAt      time.Time       `json:"created_at"`
	UpdatedAt      time.Time       `json:"updated_at"`
}

func (b *Batch) BeforeCreate(tx *gorm.DB) error {
	if b.ID == uuid.Nil {
		b.ID = uuid.New()
	}
	return nil
}

// IsExhausted reports whether the batch has been fully consumed
func (b *Batch) IsExhausted() bool {
	return b.RemainingQty <= 0
}

// ExpiresWithin reports whether the batch expires inside the given window.
// Batches without an expiration date never expire.
func (b *Batch) ExpiresWithin(window time.Duration) bool {
	if b.ExpirationDate == nil {
		return false
	}
	return b.ExpirationDate.Before(time.Now().Add(window))
}
