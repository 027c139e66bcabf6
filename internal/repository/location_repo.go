package repository

import (
	"context"

	"stockledger/internal/model"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

type LocationRepository interface {
	Create(ctx context.Context, location *model.Location) error
	FindByID(ctx context.Context, id uuid.UUID) (*model.Location, error)
	List(ctx context.Context) ([]model.Location, error)
}

type locationRepository struct {
	db *gorm.DB
}

func NewLocationRepository(db *gorm.DB) LocationRepository {
	return &locationRepository{db: db}
}

func (r *locationRepository) Create(ctx context.Context, location *model.Location) error {
	return GetDB(ctx, r.db).Create(location).Error
}

func (r *locationRepository) FindByID(ctx context.Context, id uuid.UUID) (*model.Location, error) {
	var location model.Location
	if err := GetDB(ctx, r.db).First(&location, "id = ?", id).Error; err != nil {
		return nil, err
	}
	return &location, nil
}

func (r *locationRepository) List(ctx context.Context) ([]model.Location, error) {
	var locations []model.Location
	if err := GetDB(ctx, r.db).Order("name ASC").Find(&locations).Error; err != nil {
		return nil, err
	}
	return locations, nil
}
