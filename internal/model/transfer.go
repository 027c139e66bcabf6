package model

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// Transfer status constants. Transitions are monotonic:
// pending -> approved | rejected, approved -> completed.
// "reversed" is the terminal state of a compensated (deleted-after-approval) transfer.
const (
	TransferStatusPending   = "pending"
	TransferStatusApproved  = "approved"
	TransferStatusRejected  = "rejected"
	TransferStatusCompleted = "completed"
	TransferStatusReversed  = "reversed"
)

// TransferHeader represents a stock transfer request between two locations
type TransferHeader struct {
	ID                    uuid.UUID        `gorm:"type:uuid;primaryKey" json:"id"`
	SourceLocationID      uuid.UUID        `gorm:"type:uuid;not null;index" json:"source_location_id"`
	SourceLocation        *Location        `gorm:"foreignKey:SourceLocationID" json:"source_location,omitempty"`
	DestinationLocationID uuid.UUID        `gorm:"type:uuid;not null;index" json:"destination_location_id"`
	DestinationLocation   *Location        `gorm:"foreignKey:DestinationLocationID" json:"destination_location,omitempty"`
	Status                string           `gorm:"type:varchar(20);not null;default:'pending';index" json:"status"`
	CreatedBy             *uuid.UUID       `gorm:"type:uuid;index" json:"created_by"`
	ApprovedBy            *uuid.UUID       `gorm:"type:uuid" json:"approved_by"`
	ApprovedAt            *time.Time       `json:"approved_at"`
	Details               []TransferDetail `gorm:"foreignKey:TransferID" json:"details"`
	CreatedAt             time.Time        `json:"created_at"`
	UpdatedAt             time.Time        `json:"updated_at"`
}

func (t *TransferHeader) BeforeCreate(tx *gorm.DB) error {
	if t.ID == uuid.Nil {
		t.ID = uuid.New()
	}
	return nil
}

// TransferDetail is one product line of a transfer. Immutable once the header
// leaves pending.
type TransferDetail struct {
	ID           uuid.UUID `gorm:"type:uuid;primaryKey" json:"id"`
	TransferID   uuid.UUID `gorm:"type:uuid;not null;index" json:"transfer_id"`
	ProductID    uuid.UUID `gorm:"type:uuid;not null;index" json:"product_id"`
	Product      *Product  `gorm:"foreignKey:ProductID" json:"product,omitempty"`
	RequestedQty int       `gorm:"not null" json:"requested_quantity"`
}

func (d *TransferDetail) BeforeCreate(tx *gorm.DB) error {
	if d.ID == uuid.Nil {
		d.ID = uuid.New()
	}
	return nil
}

// TransferBatchDetail records one allocation fragment of a transfer line: which source
// batch the quantity came from, materialized as provenance at the destination location.
// For a completed transfer, sum(Quantity) per (transfer, product) equals the line's
// requested quantity.
type TransferBatchDetail struct {
	ID             uuid.UUID       `gorm:"type:uuid;primaryKey" json:"id"`
	TransferID     uuid.UUID       `gorm:"type:uuid;not null;index" json:"transfer_id"`
	ProductID      uuid.UUID       `gorm:"type:uuid;not null;index:idx_tbd_product_location" json:"product_id"`
	LocationID     uuid.UUID       `gorm:"type:uuid;not null;index:idx_tbd_product_location" json:"location_id"`
	BatchID        uuid.UUID       `gorm:"type:uuid;not null;index" json:"batch_id"`
	BatchReference string          `gorm:"type:varchar(100);not null" json:"batch_reference"`
	Quantity       int             `gorm:"not null" json:"quantity"`
	SRP            decimal.Decimal `gorm:"type:decimal(10,2);not null" json:"srp"`
	ExpirationDate *time.Time      `json:"expiration_date"`
	CreatedAt      time.Time       `json:"created_at"`
}

func (d *TransferBatchDetail) BeforeCreate(tx *gorm.DB) error {
	if d.ID == uuid.Nil {
		d.ID = uuid.New()
	}
	return nil
}

// TransferGap is an approved/completed transfer line with no destination provenance
// rows, surfaced by the reconciliation job.
type TransferGap struct {
	TransferID    uuid.UUID `json:"transfer_id"`
	ProductID     uuid.UUID `json:"product_id"`
	DestinationID uuid.UUID `json:"destination_location_id"`
	MissingQty    int       `json:"missing_quantity"`
}
