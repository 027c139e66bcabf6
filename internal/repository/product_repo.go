package repository

import (
	"context"

	"stockledger/internal/model"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

type ProductRepository interface {
	Create(ctx context.Context, product *model.Product) error
	Update(ctx context.Context, product *model.Product) error
	Delete(ctx context.Context, id uuid.UUID) error
	FindByID(ctx context.Context, id uuid.UUID) (*model.Product, error)
	FindByBarcode(ctx context.Context, barcode string) (*model.Product, error)
	List(ctx context.Context, page, limit int, search string) ([]model.Product, int64, error)
	FindByIDForUpdate(ctx context.Context, id uuid.UUID) (*model.Product, error)
	// ListWithStock joins products against the aggregate stock cache for one
	// location. Products with no cache row report zero quantity.
	ListWithStock(ctx context.Context, locationID uuid.UUID, page, limit int, search string) ([]model.ProductWithStock, int64, error)
}

type productRepository struct {
	db *gorm.DB
}

func NewProductRepository(db *gorm.DB) ProductRepository {
	return &productRepository{db: db}
}

func (r *productRepository) Create(ctx context.Context, product *model.Product) error {
	return GetDB(ctx, r.db).Create(product).Error
}

func (r *productRepository) Update(ctx context.Context, product *model.Product) error {
	return GetDB(ctx, r.db).Save(product).Error
}

func (r *productRepository) Delete(ctx context.Context, id uuid.UUID) error {
	return GetDB(ctx, r.db).Where("id = ?", id).Delete(&model.Product{}).Error
}

func (r *productRepository) FindByID(ctx context.Context, id uuid.UUID) (*model.Product, error) {
	var product model.Product
	if err := GetDB(ctx, r.db).First(&product, "id = ?", id).Error; err != nil {
		return nil, err
	}
	return &product, nil
}

func (r *productRepository) FindByBarcode(ctx context.Context, barcode string) (*model.Product, error) {
	var product model.Product
	if err := GetDB(ctx, r.db).Where("barcode = ?", barcode).First(&product).Error; err != nil {
		return nil, err
	}
	return &product, nil
}

func (r *productRepository) List(ctx context.Context, page, limit int, search string) ([]model.Product, int64, error) {
	var products []model.Product
	var total int64

	db := GetDB(ctx, r.db).Model(&model.Product{})
	if search != "" {
		db = db.Where("LOWER(name) LIKE LOWER(?) OR barcode = ?", "%"+search+"%", search)
	}

	if err := db.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	offset := (page - 1) * limit
	if err := db.Order("created_at desc").Offset(offset).Limit(limit).Find(&products).Error; err != nil {
		return nil, 0, err
	}

	return products, total, nil
}

func (r *productRepository) FindByIDForUpdate(ctx context.Context, id uuid.UUID) (*model.Product, error) {
	var product model.Product
	if err := lockForUpdate(GetDB(ctx, r.db)).
		Where("id = ?", id).First(&product).Error; err != nil {
		return nil, err
	}
	return &product, nil
}

func (r *productRepository) ListWithStock(ctx context.Context, locationID uuid.UUID, page, limit int, search string) ([]model.ProductWithStock, int64, error) {
	db := GetDB(ctx, r.db).Model(&model.Product{}).
		Select("products.*, COALESCE(ps.quantity, 0) AS quantity").
		Joins("LEFT JOIN product_stocks ps ON ps.product_id = products.id AND ps.location_id = ?", locationID)
	if search != "" {
		db = db.Where("LOWER(products.name) LIKE LOWER(?) OR products.barcode = ?", "%"+search+"%", search)
	}

	var total int64
	if err := db.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	var rows []model.ProductWithStock
	offset := (page - 1) * limit
	if err := db.Order("products.name ASC").Offset(offset).Limit(limit).Scan(&rows).Error; err != nil {
		return nil, 0, err
	}
	return rows, total, nil
}
