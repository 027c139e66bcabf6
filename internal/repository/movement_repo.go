package repository

import (
	"context"

	"stockledger/internal/model"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// MovementRepository persists the append-only stock movement log. There is no
// update or delete on purpose: corrections are written as new rows.
type MovementRepository interface {
	Append(ctx context.Context, movement *model.StockMovement) error
	AppendAll(ctx context.Context, movements []model.StockMovement) error
	ListByProduct(ctx context.Context, productID uuid.UUID, locationID *uuid.UUID, limit, offset int) ([]model.StockMovement, int64, error)
}

type movementRepository struct {
	db *gorm.DB
}

func NewMovementRepository(db *gorm.DB) MovementRepository {
	return &movementRepository{db: db}
}

func (r *movementRepository) Append(ctx context.Context, movement *model.StockMovement) error {
	return GetDB(ctx, r.db).Create(movement).Error
}

func (r *movementRepository) AppendAll(ctx context.Context, movements []model.StockMovement) error {
	if len(movements) == 0 {
		return nil
	}
	return GetDB(ctx, r.db).Create(&movements).Error
}

func (r *movementRepository) ListByProduct(ctx context.Context, productID uuid.UUID, locationID *uuid.UUID, limit, offset int) ([]model.StockMovement, int64, error) {
	db := GetDB(ctx, r.db).Model(&model.StockMovement{}).Where("product_id = ?", productID)
	if locationID != nil {
		db = db.Where("location_id = ?", *locationID)
	}

	var total int64
	if err := db.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	var movements []model.StockMovement
	if err := db.Order("created_at DESC, id DESC").
		Limit(limit).Offset(offset).
		Find(&movements).Error; err != nil {
		return nil, 0, err
	}
	return movements, total, nil
}
