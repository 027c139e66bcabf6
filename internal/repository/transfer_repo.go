package repository

import (
	"context"

	"stockledger/internal/model"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// TransferRepository persists transfer headers, lines and batch-level provenance.
type TransferRepository interface {
	CreateHeader(ctx context.Context, header *model.TransferHeader) error
	CreateDetail(ctx context.Context, detail *model.TransferDetail) error
	CreateBatchDetail(ctx context.Context, detail *model.TransferBatchDetail) error
	FindByIDWithDetails(ctx context.Context, id uuid.UUID) (*model.TransferHeader, error)
	// FindByIDForUpdate locks the header row for the surrounding transaction so
	// concurrent status changes serialize.
	FindByIDForUpdate(ctx context.Context, id uuid.UUID) (*model.TransferHeader, error)
	Save(ctx context.Context, header *model.TransferHeader) error
	List(ctx context.Context, status string, locationID *uuid.UUID, limit, offset int) ([]model.TransferHeader, int64, error)
	BatchDetailsForTransfer(ctx context.Context, transferID uuid.UUID) ([]model.TransferBatchDetail, error)
	// HasBatchDetail reports whether any provenance row exists for the transfer line.
	HasBatchDetail(ctx context.Context, transferID, productID, locationID uuid.UUID) (bool, error)
	DeleteWithDetails(ctx context.Context, transferID uuid.UUID) error
	// FindGaps lists approved or completed transfer lines that have no destination
	// provenance rows, the population the reconciliation repair backfills.
	FindGaps(ctx context.Context) ([]model.TransferGap, error)
}

type transferRepository struct {
	db *gorm.DB
}

func NewTransferRepository(db *gorm.DB) TransferRepository {
	return &transferRepository{db: db}
}

func (r *transferRepository) CreateHeader(ctx context.Context, header *model.TransferHeader) error {
	return GetDB(ctx, r.db).Create(header).Error
}

func (r *transferRepository) CreateDetail(ctx context.Context, detail *model.TransferDetail) error {
	return GetDB(ctx, r.db).Create(detail).Error
}

func (r *transferRepository) CreateBatchDetail(ctx context.Context, detail *model.TransferBatchDetail) error {
	return GetDB(ctx, r.db).Create(detail).Error
}

func (r *transferRepository) FindByIDWithDetails(ctx context.Context, id uuid.UUID) (*model.TransferHeader, error) {
	var header model.TransferHeader
	if err := GetDB(ctx, r.db).
		Preload("Details").
		Preload("Details.Product").
		Preload("SourceLocation").
		Preload("DestinationLocation").
		First(&header, "id = ?", id).Error; err != nil {
		return nil, err
	}
	return &header, nil
}

func (r *transferRepository) FindByIDForUpdate(ctx context.Context, id uuid.UUID) (*model.TransferHeader, error) {
	var header model.TransferHeader
	if err := lockForUpdate(GetDB(ctx, r.db)).
		First(&header, "id = ?", id).Error; err != nil {
		return nil, err
	}
	if err := GetDB(ctx, r.db).
		Where("transfer_id = ?", id).
		Find(&header.Details).Error; err != nil {
		return nil, err
	}
	return &header, nil
}

func (r *transferRepository) Save(ctx context.Context, header *model.TransferHeader) error {
	return GetDB(ctx, r.db).Omit("Details").Save(header).Error
}

func (r *transferRepository) List(ctx context.Context, status string, locationID *uuid.UUID, limit, offset int) ([]model.TransferHeader, int64, error) {
	db := GetDB(ctx, r.db).Model(&model.TransferHeader{})
	if status != "" {
		db = db.Where("status = ?", status)
	}
	if locationID != nil {
		db = db.Where("source_location_id = ? OR destination_location_id = ?", *locationID, *locationID)
	}

	var total int64
	if err := db.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	var headers []model.TransferHeader
	if err := db.
		Preload("Details").
		Preload("SourceLocation").
		Preload("DestinationLocation").
		Order("created_at DESC").
		Limit(limit).Offset(offset).
		Find(&headers).Error; err != nil {
		return nil, 0, err
	}
	return headers, total, nil
}

func (r *transferRepository) BatchDetailsForTransfer(ctx context.Context, transferID uuid.UUID) ([]model.TransferBatchDetail, error) {
	var details []model.TransferBatchDetail
	if err := GetDB(ctx, r.db).
		Where("transfer_id = ?", transferID).
		Order("created_at ASC, id ASC").
		Find(&details).Error; err != nil {
		return nil, err
	}
	return details, nil
}

func (r *transferRepository) HasBatchDetail(ctx context.Context, transferID, productID, locationID uuid.UUID) (bool, error) {
	var count int64
	if err := GetDB(ctx, r.db).Model(&model.TransferBatchDetail{}).
		Where("transfer_id = ? AND product_id = ? AND location_id = ?", transferID, productID, locationID).
		Count(&count).Error; err != nil {
		return false, err
	}
	return count > 0, nil
}

func (r *transferRepository) DeleteWithDetails(ctx context.Context, transferID uuid.UUID) error {
	db := GetDB(ctx, r.db)
	if err := db.Where("transfer_id = ?", transferID).Delete(&model.TransferDetail{}).Error; err != nil {
		return err
	}
	return db.Delete(&model.TransferHeader{}, "id = ?", transferID).Error
}

func (r *transferRepository) FindGaps(ctx context.Context) ([]model.TransferGap, error) {
	var gaps []model.TransferGap
	err := GetDB(ctx, r.db).Raw(`
		SELECT th.id AS transfer_id,
		       td.product_id AS product_id,
		       th.destination_location_id AS destination_id,
		       td.requested_qty AS missing_qty
		FROM transfer_details td
		JOIN transfer_headers th ON th.id = td.transfer_id
		WHERE th.status IN (?, ?)
		  AND NOT EXISTS (
		      SELECT 1 FROM transfer_batch_details tbd
		      WHERE tbd.transfer_id = td.transfer_id
		        AND tbd.product_id = td.product_id
		        AND tbd.location_id = th.destination_location_id
		  )
		ORDER BY th.created_at ASC`,
		model.TransferStatusApproved, model.TransferStatusCompleted).
		Scan(&gaps).Error
	if err != nil {
		return nil, err
	}
	return gaps, nil
}
