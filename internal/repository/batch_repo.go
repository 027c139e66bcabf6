package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"stockledger/internal/model"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// BatchRepository is the batch ledger: durable storage and safe mutation of batch rows.
// Decrement and Restore are guarded updates; the WHERE clause re-checks the invariant
// so a lost update can never push remaining_qty outside [0, received_qty].
type BatchRepository interface {
	// Create persists the batch and assigns the next entry sequence for its
	// product+location scope. Must run inside a transaction.
	Create(ctx context.Context, batch *model.Batch) error
	FindByID(ctx context.Context, id uuid.UUID) (*model.Batch, error)
	// OrderedAvailable returns non-exhausted batches in FIFO order
	// (entry_sequence ASC, id ASC). With forUpdate the rows are locked for the
	// duration of the surrounding transaction.
	OrderedAvailable(ctx context.Context, productID, locationID uuid.UUID, forUpdate bool) ([]model.Batch, error)
	// Ordered returns all batches for the scope in FIFO order, exhausted included.
	Ordered(ctx context.Context, productID, locationID uuid.UUID) ([]model.Batch, error)
	// Decrement subtracts amount from the batch and returns the new remaining quantity.
	Decrement(ctx context.Context, batchID uuid.UUID, amount int) (int, error)
	// Restore adds amount back to the batch (transfer reversal) and returns the new
	// remaining quantity. Fails if it would exceed the received quantity.
	Restore(ctx context.Context, batchID uuid.UUID, amount int) (int, error)
	SumRemaining(ctx context.Context, productID, locationID uuid.UUID) (int, error)
	// EarliestForProduct returns the oldest batch for a product across all locations,
	// used by reconciliation as a stand-in reference for legacy backfills.
	EarliestForProduct(ctx context.Context, productID uuid.UUID) (*model.Batch, error)
	// Expiring returns batches with stock that expire within the given number of days.
	Expiring(ctx context.Context, locationID *uuid.UUID, days int) ([]model.Batch, error)
}

type batchRepository struct {
	db *gorm.DB
}

func NewBatchRepository(db *gorm.DB) BatchRepository {
	return &batchRepository{db: db}
}

func (r *batchRepository) Create(ctx context.Context, batch *model.Batch) error {
	db := GetDB(ctx, r.db)

	// Serialize sequence allocation per product+location so two concurrent receipts
	// cannot claim the same slot.
	scope := batch.ProductID.String() + ":" + batch.LocationID.String()
	advisoryXactLock(db, "batch_seq:"+scope)

	var maxSeq int64
	if err := db.Model(&model.Batch{}).
		Where("product_id = ? AND location_id = ?", batch.ProductID, batch.LocationID).
		Select("COALESCE(MAX(entry_sequence), 0)").
		Scan(&maxSeq).Error; err != nil {
		return err
	}
	batch.EntrySequence = maxSeq + 1

	if batch.BatchReference == "" {
		batch.BatchReference = fmt.Sprintf("BATCH-%s-%d", time.Now().Format("20060102"), batch.EntrySequence)
	}

	return db.Create(batch).Error
}

func (r *batchRepository) FindByID(ctx context.Context, id uuid.UUID) (*model.Batch, error) {
	var batch model.Batch
	if err := GetDB(ctx, r.db).First(&batch, "id = ?", id).Error; err != nil {
		return nil, err
	}
	return &batch, nil
}

func (r *batchRepository) OrderedAvailable(ctx context.Context, productID, locationID uuid.UUID, forUpdate bool) ([]model.Batch, error) {
	db := GetDB(ctx, r.db)
	if forUpdate {
		db = lockForUpdate(db)
	}

	var batches []model.Batch
	if err := db.
		Where("product_id = ? AND location_id = ? AND remaining_qty > 0", productID, locationID).
		Order("entry_sequence ASC, id ASC").
		Find(&batches).Error; err != nil {
		return nil, err
	}
	return batches, nil
}

func (r *batchRepository) Ordered(ctx context.Context, productID, locationID uuid.UUID) ([]model.Batch, error) {
	var batches []model.Batch
	if err := GetDB(ctx, r.db).
		Where("product_id = ? AND location_id = ?", productID, locationID).
		Order("entry_sequence ASC, id ASC").
		Find(&batches).Error; err != nil {
		return nil, err
	}
	return batches, nil
}

func (r *batchRepository) Decrement(ctx context.Context, batchID uuid.UUID, amount int) (int, error) {
	if amount <= 0 {
		return 0, fmt.Errorf("%w: decrement amount must be positive", model.ErrValidation)
	}

	db := GetDB(ctx, r.db)
	res := db.Model(&model.Batch{}).
		Where("id = ? AND remaining_qty >= ?", batchID, amount).
		UpdateColumns(map[string]interface{}{
			"remaining_qty": gorm.Expr("remaining_qty - ?", amount),
			"updated_at":    time.Now(),
		})
	if res.Error != nil {
		return 0, res.Error
	}
	if res.RowsAffected == 0 {
		// Either the batch vanished or another writer drained it first.
		var batch model.Batch
		if err := db.First(&batch, "id = ?", batchID).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return 0, fmt.Errorf("%w: batch %s", model.ErrNotFound, batchID)
			}
			return 0, err
		}
		return 0, fmt.Errorf("%w: batch %s has %d remaining, need %d",
			model.ErrInsufficientStock, batchID, batch.RemainingQty, amount)
	}

	var remaining int
	if err := db.Model(&model.Batch{}).Where("id = ?", batchID).
		Select("remaining_qty").Scan(&remaining).Error; err != nil {
		return 0, err
	}
	return remaining, nil
}

func (r *batchRepository) Restore(ctx context.Context, batchID uuid.UUID, amount int) (int, error) {
	if amount <= 0 {
		return 0, fmt.Errorf("%w: restore amount must be positive", model.ErrValidation)
	}

	db := GetDB(ctx, r.db)
	res := db.Model(&model.Batch{}).
		Where("id = ? AND remaining_qty + ? <= received_qty", batchID, amount).
		UpdateColumns(map[string]interface{}{
			"remaining_qty": gorm.Expr("remaining_qty + ?", amount),
			"updated_at":    time.Now(),
		})
	if res.Error != nil {
		return 0, res.Error
	}
	if res.RowsAffected == 0 {
		return 0, fmt.Errorf("%w: restoring %d to batch %s would exceed its received quantity",
			model.ErrValidation, amount, batchID)
	}

	var remaining int
	if err := db.Model(&model.Batch{}).Where("id = ?", batchID).
		Select("remaining_qty").Scan(&remaining).Error; err != nil {
		return 0, err
	}
	return remaining, nil
}

func (r *batchRepository) SumRemaining(ctx context.Context, productID, locationID uuid.UUID) (int, error) {
	var total int
	if err := GetDB(ctx, r.db).Model(&model.Batch{}).
		Where("product_id = ? AND location_id = ?", productID, locationID).
		Select("COALESCE(SUM(remaining_qty), 0)").
		Scan(&total).Error; err != nil {
		return 0, err
	}
	return total, nil
}

func (r *batchRepository) EarliestForProduct(ctx context.Context, productID uuid.UUID) (*model.Batch, error) {
	var batch model.Batch
	if err := GetDB(ctx, r.db).
		Where("product_id = ?", productID).
		Order("entry_sequence ASC, id ASC").
		First(&batch).Error; err != nil {
		return nil, err
	}
	return &batch, nil
}

func (r *batchRepository) Expiring(ctx context.Context, locationID *uuid.UUID, days int) ([]model.Batch, error) {
	cutoff := time.Now().AddDate(0, 0, days)

	db := GetDB(ctx, r.db).
		Where("remaining_qty > 0 AND expiration_date IS NOT NULL AND expiration_date <= ?", cutoff)
	if locationID != nil {
		db = db.Where("location_id = ?", *locationID)
	}

	var batches []model.Batch
	if err := db.Order("expiration_date ASC, entry_sequence ASC").Find(&batches).Error; err != nil {
		return nil, err
	}
	return batches, nil
}
