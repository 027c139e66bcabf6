package repository

import (
	"context"
	"errors"
	"time"

	"stockledger/internal/model"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// StockRepository maintains the aggregate stock cache (sum of batch remaining
// quantities per product and location).
type StockRepository interface {
	Get(ctx context.Context, productID, locationID uuid.UUID) (*model.ProductStock, error)
	// Adjust applies a signed delta to the cached quantity, inserting the row if
	// it does not exist yet.
	Adjust(ctx context.Context, productID, locationID uuid.UUID, delta int) error
	// Recompute rebuilds one cache row from the batch table.
	Recompute(ctx context.Context, productID, locationID uuid.UUID) (int, error)
	// RecomputeAll rebuilds every cache row and returns the number of rows whose
	// quantity changed.
	RecomputeAll(ctx context.Context) (int, error)
	ListByLocation(ctx context.Context, locationID uuid.UUID) ([]model.ProductStock, error)
}

type stockRepository struct {
	db *gorm.DB
}

func NewStockRepository(db *gorm.DB) StockRepository {
	return &stockRepository{db: db}
}

func (r *stockRepository) Get(ctx context.Context, productID, locationID uuid.UUID) (*model.ProductStock, error) {
	var stock model.ProductStock
	err := GetDB(ctx, r.db).
		Where("product_id = ? AND location_id = ?", productID, locationID).
		First(&stock).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return &model.ProductStock{ProductID: productID, LocationID: locationID, Quantity: 0}, nil
		}
		return nil, err
	}
	return &stock, nil
}

func (r *stockRepository) Adjust(ctx context.Context, productID, locationID uuid.UUID, delta int) error {
	row := model.ProductStock{
		ProductID:  productID,
		LocationID: locationID,
		Quantity:   delta,
		UpdatedAt:  time.Now(),
	}
	return GetDB(ctx, r.db).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "product_id"}, {Name: "location_id"}},
		DoUpdates: clause.Assignments(map[string]interface{}{
			"quantity":   gorm.Expr("product_stocks.quantity + ?", delta),
			"updated_at": time.Now(),
		}),
	}).Create(&row).Error
}

func (r *stockRepository) Recompute(ctx context.Context, productID, locationID uuid.UUID) (int, error) {
	db := GetDB(ctx, r.db)

	var total int
	if err := db.Model(&model.Batch{}).
		Where("product_id = ? AND location_id = ?", productID, locationID).
		Select("COALESCE(SUM(remaining_qty), 0)").
		Scan(&total).Error; err != nil {
		return 0, err
	}

	row := model.ProductStock{
		ProductID:  productID,
		LocationID: locationID,
		Quantity:   total,
		UpdatedAt:  time.Now(),
	}
	err := db.Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "product_id"}, {Name: "location_id"}},
		DoUpdates: clause.Assignments(map[string]interface{}{
			"quantity":   total,
			"updated_at": time.Now(),
		}),
	}).Create(&row).Error
	return total, err
}

func (r *stockRepository) RecomputeAll(ctx context.Context) (int, error) {
	db := GetDB(ctx, r.db)

	type scopeTotal struct {
		ProductID  uuid.UUID
		LocationID uuid.UUID
		Total      int
	}
	var totals []scopeTotal
	if err := db.Model(&model.Batch{}).
		Select("product_id, location_id, COALESCE(SUM(remaining_qty), 0) AS total").
		Group("product_id, location_id").
		Scan(&totals).Error; err != nil {
		return 0, err
	}

	changed := 0
	for _, t := range totals {
		var current model.ProductStock
		err := db.Where("product_id = ? AND location_id = ?", t.ProductID, t.LocationID).
			First(&current).Error
		if err == nil && current.Quantity == t.Total {
			continue
		}
		if err != nil && !errors.Is(err, gorm.ErrRecordNotFound) {
			return changed, err
		}
		if _, err := r.Recompute(ctx, t.ProductID, t.LocationID); err != nil {
			return changed, err
		}
		changed++
	}
	return changed, nil
}

func (r *stockRepository) ListByLocation(ctx context.Context, locationID uuid.UUID) ([]model.ProductStock, error) {
	var stocks []model.ProductStock
	if err := GetDB(ctx, r.db).
		Where("location_id = ?", locationID).
		Find(&stocks).Error; err != nil {
		return nil, err
	}
	return stocks, nil
}
