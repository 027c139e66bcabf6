package service

import (
	"context"
	"testing"
	"time"

	"stockledger/internal/model"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConsumeStockDrainsOldestFirst(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	product := e.mkProduct(t, "P-001", "Paracetamol 500mg")
	loc := e.mkLocation(t, "Main Warehouse")

	b1 := e.mkBatch(t, product.ID, loc.ID, 10, "")
	b2 := e.mkBatch(t, product.ID, loc.ID, 5, "")

	res, err := e.stock.ConsumeStock(ctx, testUser, ConsumeStockRequest{
		ProductID:  product.ID.String(),
		LocationID: loc.ID.String(),
		Quantity:   4,
	})
	require.NoError(t, err)

	require.Len(t, res.Allocations, 1)
	assert.Equal(t, b1.BatchID, res.Allocations[0].BatchID.String())
	assert.Equal(t, 4, res.Allocations[0].Quantity)
	assert.Equal(t, 6, res.Allocations[0].RemainingAfter)
	assert.Equal(t, 11, res.TotalAfter)

	assert.Equal(t, 6, e.batchByID(t, b1.BatchID).RemainingQty)
	assert.Equal(t, 5, e.batchByID(t, b2.BatchID).RemainingQty)
}

func TestConsumeStockSplitsAcrossBatches(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	product := e.mkProduct(t, "P-002", "Amoxicillin 250mg")
	loc := e.mkLocation(t, "Branch A")

	b1 := e.mkBatch(t, product.ID, loc.ID, 10, "")
	b2 := e.mkBatch(t, product.ID, loc.ID, 5, "")

	res, err := e.stock.ConsumeStock(ctx, testUser, ConsumeStockRequest{
		ProductID:  product.ID.String(),
		LocationID: loc.ID.String(),
		Quantity:   12,
	})
	require.NoError(t, err)

	require.Len(t, res.Allocations, 2)
	assert.Equal(t, b1.BatchID, res.Allocations[0].BatchID.String())
	assert.Equal(t, 10, res.Allocations[0].Quantity)
	assert.Equal(t, 0, res.Allocations[0].RemainingAfter)
	assert.Equal(t, b2.BatchID, res.Allocations[1].BatchID.String())
	assert.Equal(t, 2, res.Allocations[1].Quantity)
	assert.Equal(t, 3, res.Allocations[1].RemainingAfter)

	// One OUT movement per fragment, each recording the batch remaining after it
	outs := make(map[string]model.StockMovement)
	for _, m := range e.movementsFor(t, product.ID) {
		if m.MovementType == model.MovementOut {
			outs[m.BatchID.String()] = m
		}
	}
	require.Len(t, outs, 2)
	assert.Equal(t, 10, outs[b1.BatchID].Quantity)
	assert.Equal(t, 0, outs[b1.BatchID].RemainingQty)
	assert.Equal(t, 2, outs[b2.BatchID].Quantity)
	assert.Equal(t, 3, outs[b2.BatchID].RemainingQty)

	// Exhausted batch stays on record
	assert.Equal(t, 0, e.batchByID(t, b1.BatchID).RemainingQty)
	assert.Equal(t, 10, e.batchByID(t, b1.BatchID).ReceivedQty)

	assert.Equal(t, 3, e.cachedQty(t, product.ID, loc.ID))
}

func TestConsumeStockAllOrNothing(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	product := e.mkProduct(t, "P-003", "Ibuprofen 400mg")
	loc := e.mkLocation(t, "Branch B")

	b1 := e.mkBatch(t, product.ID, loc.ID, 10, "")

	_, err := e.stock.ConsumeStock(ctx, testUser, ConsumeStockRequest{
		ProductID:  product.ID.String(),
		LocationID: loc.ID.String(),
		Quantity:   11,
	})
	require.ErrorIs(t, err, model.ErrInsufficientStock)

	// Nothing mutated
	assert.Equal(t, 10, e.batchByID(t, b1.BatchID).RemainingQty)
	assert.Equal(t, 10, e.cachedQty(t, product.ID, loc.ID))

	moves := e.movementsFor(t, product.ID)
	require.Len(t, moves, 1)
	assert.Equal(t, model.MovementIn, moves[0].MovementType)
}

func TestConsumeStockSequentialOverdraw(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	product := e.mkProduct(t, "P-004", "Cetirizine 10mg")
	loc := e.mkLocation(t, "Branch C")
	e.mkBatch(t, product.ID, loc.ID, 10, "")

	_, err := e.stock.ConsumeStock(ctx, testUser, ConsumeStockRequest{
		ProductID:  product.ID.String(),
		LocationID: loc.ID.String(),
		Quantity:   6,
	})
	require.NoError(t, err)

	_, err = e.stock.ConsumeStock(ctx, testUser, ConsumeStockRequest{
		ProductID:  product.ID.String(),
		LocationID: loc.ID.String(),
		Quantity:   6,
	})
	require.ErrorIs(t, err, model.ErrInsufficientStock)
	assert.Equal(t, 4, e.cachedQty(t, product.ID, loc.ID))
}

func TestCheckAvailabilityDoesNotMutate(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	product := e.mkProduct(t, "P-005", "Loperamide 2mg")
	loc := e.mkLocation(t, "Branch D")
	b := e.mkBatch(t, product.ID, loc.ID, 8, "")

	res, err := e.stock.CheckAvailability(ctx, AvailabilityRequest{
		ProductID:  product.ID.String(),
		LocationID: loc.ID.String(),
		Quantity:   5,
	})
	require.NoError(t, err)
	assert.True(t, res.Available)
	assert.Equal(t, 8, res.TotalOnHand)

	res, err = e.stock.CheckAvailability(ctx, AvailabilityRequest{
		ProductID:  product.ID.String(),
		LocationID: loc.ID.String(),
		Quantity:   9,
	})
	require.NoError(t, err)
	assert.False(t, res.Available)

	assert.Equal(t, 8, e.batchByID(t, b.BatchID).RemainingQty)
}

func TestFifoStatusListsBatchesInOrder(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	product := e.mkProduct(t, "P-006", "Vitamin C 500mg")
	loc := e.mkLocation(t, "Branch E")

	b1 := e.mkBatch(t, product.ID, loc.ID, 10, "")
	b2 := e.mkBatch(t, product.ID, loc.ID, 5, "")

	// Exhaust the first batch; it must still appear in the status
	_, err := e.stock.ConsumeStock(ctx, testUser, ConsumeStockRequest{
		ProductID:  product.ID.String(),
		LocationID: loc.ID.String(),
		Quantity:   10,
	})
	require.NoError(t, err)

	status, err := e.stock.FifoStatus(ctx, product.ID, loc.ID)
	require.NoError(t, err)
	require.Len(t, status.Batches, 2)
	assert.Equal(t, b1.BatchID, status.Batches[0].BatchID)
	assert.True(t, status.Batches[0].Exhausted)
	assert.Equal(t, b2.BatchID, status.Batches[1].BatchID)
	assert.Equal(t, 5, status.TotalOnHand)
	assert.Equal(t, model.StockStatusLow, status.StockStatus)
}

func TestSyncStockRepairsDriftedCache(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	product := e.mkProduct(t, "P-007", "Omeprazole 20mg")
	loc := e.mkLocation(t, "Branch F")
	e.mkBatch(t, product.ID, loc.ID, 10, "")

	// Corrupt the cache behind the service's back
	require.NoError(t, e.db.Model(&model.ProductStock{}).
		Where("product_id = ? AND location_id = ?", product.ID, loc.ID).
		Update("quantity", 99).Error)

	res, err := e.stock.SyncStock(ctx, testUser)
	require.NoError(t, err)
	assert.Equal(t, 1, res.RowsChanged)
	assert.Equal(t, 10, e.cachedQty(t, product.ID, loc.ID))

	// Second sync finds nothing to fix
	res, err = e.stock.SyncStock(ctx, testUser)
	require.NoError(t, err)
	assert.Equal(t, 0, res.RowsChanged)
}

func TestQuantityHistoryNewestFirst(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	product := e.mkProduct(t, "P-008", "Aspirin 100mg")
	loc := e.mkLocation(t, "Branch G")
	e.mkBatch(t, product.ID, loc.ID, 10, "")

	_, err := e.stock.ConsumeStock(ctx, testUser, ConsumeStockRequest{
		ProductID:   product.ID.String(),
		LocationID:  loc.ID.String(),
		Quantity:    3,
		ReferenceNo: "SALE-42",
	})
	require.NoError(t, err)

	history, total, err := e.stock.QuantityHistory(ctx, product.ID, nil, 1, 20)
	require.NoError(t, err)
	assert.Equal(t, int64(2), total)
	require.Len(t, history, 2)
	assert.Equal(t, model.MovementOut, history[0].MovementType)
	assert.Equal(t, "SALE-42", history[0].ReferenceNo)
	assert.Equal(t, 7, history[0].RemainingQty)
	assert.Equal(t, model.MovementIn, history[1].MovementType)
}

func TestExpiringBatches(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	product := e.mkProduct(t, "P-009", "Insulin 100IU")
	loc := e.mkLocation(t, "Cold Storage")

	soon := time.Now().AddDate(0, 0, 10).Format("2006-01-02")
	far := time.Now().AddDate(1, 0, 0).Format("2006-01-02")
	bSoon := e.mkBatch(t, product.ID, loc.ID, 5, soon)
	e.mkBatch(t, product.ID, loc.ID, 5, far)
	e.mkBatch(t, product.ID, loc.ID, 5, "") // no expiry, never listed

	batches, err := e.stock.ExpiringBatches(ctx, &loc.ID, 30)
	require.NoError(t, err)
	require.Len(t, batches, 1)
	assert.Equal(t, bSoon.BatchID, batches[0].BatchID)
}

func TestConsumeStockConcurrentOverdraw(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	product := e.mkProduct(t, "P-010", "Metformin 500mg")
	loc := e.mkLocation(t, "Branch H")
	e.mkBatch(t, product.ID, loc.ID, 10, "")

	// The in-memory driver gives every pooled connection its own database, so
	// pin the pool to a single connection before running writers in parallel.
	sqlDB, err := e.db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)

	errs := make(chan error, 2)
	for i := 0; i < 2; i++ {
		go func() {
			_, err := e.stock.ConsumeStock(ctx, testUser, ConsumeStockRequest{
				ProductID:  product.ID.String(),
				LocationID: loc.ID.String(),
				Quantity:   6,
			})
			errs <- err
		}()
	}

	var succeeded, rejected int
	for i := 0; i < 2; i++ {
		if err := <-errs; err != nil {
			require.ErrorIs(t, err, model.ErrInsufficientStock)
			rejected++
		} else {
			succeeded++
		}
	}

	// Exactly one writer wins; the other sees the post-commit remainder
	assert.Equal(t, 1, succeeded)
	assert.Equal(t, 1, rejected)
	assert.Equal(t, 4, e.cachedQty(t, product.ID, loc.ID))
}

func TestReceiveStockRejectsNonPositiveQuantity(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	product := e.mkProduct(t, "P-011", "Azithromycin 250mg")
	loc := e.mkLocation(t, "Branch I")

	for _, qty := range []int{0, -3} {
		_, err := e.stock.ReceiveStock(ctx, testUser, ReceiveStockRequest{
			ProductID:  product.ID.String(),
			LocationID: loc.ID.String(),
			Quantity:   qty,
			UnitCost:   5,
			SRP:        9.5,
		})
		require.ErrorIs(t, err, model.ErrValidation)
	}

	var batches int64
	require.NoError(t, e.db.Model(&model.Batch{}).Where("product_id = ?", product.ID).Count(&batches).Error)
	assert.Zero(t, batches)
	assert.Empty(t, e.movementsFor(t, product.ID))
}

func TestConsumeStockRejectsInvalidInput(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()

	_, err := e.stock.ConsumeStock(ctx, testUser, ConsumeStockRequest{
		ProductID:  "not-a-uuid",
		LocationID: "also-not",
		Quantity:   1,
	})
	require.ErrorIs(t, err, model.ErrValidation)
}
