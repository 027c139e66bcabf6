package model

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

const (
	ActionCreateProduct  = "CREATE_PRODUCT"
	ActionUpdateProduct  = "UPDATE_PRODUCT"
	ActionDeleteProduct  = "DELETE_PRODUCT"
	ActionCreateLocation = "CREATE_LOCATION"
	ActionReceiveStock   = "RECEIVE_STOCK"
	ActionConsumeStock   = "CONSUME_STOCK"
	ActionSyncStock      = "SYNC_STOCK"

	// Transfer workflow actions
	ActionCreateTransfer   = "CREATE_TRANSFER"
	ActionApproveTransfer  = "APPROVE_TRANSFER"
	ActionRejectTransfer   = "REJECT_TRANSFER"
	ActionCompleteTransfer = "COMPLETE_TRANSFER"
	ActionReverseTransfer  = "REVERSE_TRANSFER"
	ActionDeleteTransfer   = "DELETE_TRANSFER"

	// Maintenance actions
	ActionRepairBatchDetails = "REPAIR_BATCH_DETAILS"
)

// AuditLog tracks Who, What, and When for critical system changes
type AuditLog struct {
	ID         uuid.UUID  `gorm:"type:uuid;primaryKey" json:"id"`
	UserID     *uuid.UUID `gorm:"type:uuid;index" json:"user_id"` // Nullable gracefully if automated job
	User       *User      `gorm:"foreignKey:UserID" json:"user"`
	Action     string     `gorm:"type:varchar(50);not null;index" json:"action"`
	EntityID   string     `gorm:"type:varchar(50);index" json:"entity_id"`        // Reference string (uuid/code)
	EntityName string     `gorm:"type:varchar(255)" json:"entity_name,omitempty"` // Human readable name
	Details    string     `gorm:"type:jsonb" json:"details"`                      // Serialized JSON payload of the action
	CreatedAt  time.Time  `gorm:"index" json:"created_at"`
}

func (a *AuditLog) BeforeCreate(tx *gorm.DB) error {
	if a.ID == uuid.Nil {
		a.ID = uuid.New()
	}
	return nil
}
