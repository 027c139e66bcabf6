package service

import (
	"context"
	"testing"
	"time"

	"stockledger/internal/model"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// seedLegacyTransfer writes an approved transfer straight to the database with
// no provenance rows, the shape left behind by interrupted approvals.
func seedLegacyTransfer(t *testing.T, e *env, productID, srcID, dstID uuid.UUID, qty int) model.TransferHeader {
	t.Helper()

	header := model.TransferHeader{
		SourceLocationID:      srcID,
		DestinationLocationID: dstID,
		Status:                model.TransferStatusApproved,
	}
	require.NoError(t, e.db.Create(&header).Error)

	detail := model.TransferDetail{
		TransferID:   header.ID,
		ProductID:    productID,
		RequestedQty: qty,
	}
	require.NoError(t, e.db.Create(&detail).Error)
	return header
}

func TestFindGapsDetectsMissingProvenance(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	product := e.mkProduct(t, "R-001", "Ranitidine 150mg")
	src := e.mkLocation(t, "Warehouse")
	dst := e.mkLocation(t, "Store 1")
	e.mkBatch(t, product.ID, src.ID, 10, "")

	// A healthy transfer leaves no gap
	_, err := e.transfer.TransferWithConsumption(ctx, testUser, CreateTransferRequest{
		SourceLocationID:      src.ID.String(),
		DestinationLocationID: dst.ID.String(),
		Items:                 []TransferItemRequest{{ProductID: product.ID.String(), Quantity: 3}},
	})
	require.NoError(t, err)

	gaps, err := e.reconcile.FindGaps(ctx)
	require.NoError(t, err)
	assert.Empty(t, gaps)

	legacy := seedLegacyTransfer(t, e, product.ID, src.ID, dst.ID, 4)

	gaps, err = e.reconcile.FindGaps(ctx)
	require.NoError(t, err)
	require.Len(t, gaps, 1)
	assert.Equal(t, legacy.ID, gaps[0].TransferID)
	assert.Equal(t, product.ID, gaps[0].ProductID)
	assert.Equal(t, dst.ID, gaps[0].DestinationID)
	assert.Equal(t, 4, gaps[0].MissingQty)
}

func TestRepairAllBackfillsOnce(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	product := e.mkProduct(t, "R-002", "Prednisone 5mg")
	src := e.mkLocation(t, "Warehouse")
	dst := e.mkLocation(t, "Store 2")
	b := e.mkBatch(t, product.ID, src.ID, 10, "2027-01-31")

	legacy := seedLegacyTransfer(t, e, product.ID, src.ID, dst.ID, 4)

	result, err := e.reconcile.RepairAll(ctx, testUser)
	require.NoError(t, err)
	assert.Equal(t, 1, result.GapsFound)
	assert.Equal(t, 1, result.DetailsCreated)

	details, err := e.xferRepo.BatchDetailsForTransfer(ctx, legacy.ID)
	require.NoError(t, err)
	require.Len(t, details, 1)
	assert.Equal(t, 4, details[0].Quantity)
	assert.Equal(t, dst.ID, details[0].LocationID)
	// Reference borrowed from the oldest batch on record
	assert.Equal(t, e.batchByID(t, b.BatchID).BatchReference, details[0].BatchReference)
	require.NotNil(t, details[0].ExpirationDate)

	// Second sweep is a no-op
	result, err = e.reconcile.RepairAll(ctx, testUser)
	require.NoError(t, err)
	assert.Equal(t, 0, result.GapsFound)
	assert.Equal(t, 0, result.DetailsCreated)
}

func TestRepairAllDefaultsExpiryOneYearOut(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	product := e.mkProduct(t, "R-003", "Folic Acid 5mg")
	src := e.mkLocation(t, "Warehouse")
	dst := e.mkLocation(t, "Store 3")

	// No batches exist for this product at all
	legacy := seedLegacyTransfer(t, e, product.ID, src.ID, dst.ID, 2)

	result, err := e.reconcile.RepairAll(ctx, testUser)
	require.NoError(t, err)
	assert.Equal(t, 1, result.DetailsCreated)

	details, err := e.xferRepo.BatchDetailsForTransfer(ctx, legacy.ID)
	require.NoError(t, err)
	require.Len(t, details, 1)
	require.NotNil(t, details[0].ExpirationDate)
	assert.NotEmpty(t, details[0].BatchReference)

	expected := time.Now().AddDate(1, 0, 0)
	assert.WithinDuration(t, expected, *details[0].ExpirationDate, time.Hour)
}

func TestRepairAllCoversMultipleGaps(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	p1 := e.mkProduct(t, "R-004", "Ferrous Sulfate 325mg")
	p2 := e.mkProduct(t, "R-005", "Calcium Carbonate 500mg")
	src := e.mkLocation(t, "Warehouse")
	dst := e.mkLocation(t, "Store 4")
	e.mkBatch(t, p1.ID, src.ID, 10, "")

	seedLegacyTransfer(t, e, p1.ID, src.ID, dst.ID, 2)
	seedLegacyTransfer(t, e, p2.ID, src.ID, dst.ID, 3)

	result, err := e.reconcile.RepairAll(ctx, testUser)
	require.NoError(t, err)
	assert.Equal(t, 2, result.GapsFound)
	assert.Equal(t, 2, result.DetailsCreated)
	assert.Equal(t, 0, result.Skipped)
}
