package service

import (
	"context"
	"testing"

	"stockledger/internal/model"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCreateTransferStaysPending(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	product := e.mkProduct(t, "T-001", "Metformin 500mg")
	src := e.mkLocation(t, "Warehouse")
	dst := e.mkLocation(t, "Store 1")
	b := e.mkBatch(t, product.ID, src.ID, 20, "")

	res, err := e.transfer.CreateTransfer(ctx, testUser, CreateTransferRequest{
		SourceLocationID:      src.ID.String(),
		DestinationLocationID: dst.ID.String(),
		Items:                 []TransferItemRequest{{ProductID: product.ID.String(), Quantity: 5}},
	})
	require.NoError(t, err)
	assert.Equal(t, model.TransferStatusPending, res.Status)
	require.Len(t, res.Items, 1)

	// No stock moved yet
	assert.Equal(t, 20, e.batchByID(t, b.BatchID).RemainingQty)
	assert.Equal(t, 0, e.cachedQty(t, product.ID, dst.ID))
}

func TestApproveTransferMovesStockWithProvenance(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	product := e.mkProduct(t, "T-002", "Simvastatin 20mg")
	src := e.mkLocation(t, "Warehouse")
	dst := e.mkLocation(t, "Store 2")
	b1 := e.mkBatch(t, product.ID, src.ID, 10, "2027-06-30")
	b2 := e.mkBatch(t, product.ID, src.ID, 10, "")

	created, err := e.transfer.CreateTransfer(ctx, testUser, CreateTransferRequest{
		SourceLocationID:      src.ID.String(),
		DestinationLocationID: dst.ID.String(),
		Items:                 []TransferItemRequest{{ProductID: product.ID.String(), Quantity: 12}},
	})
	require.NoError(t, err)

	res, err := e.transfer.UpdateStatus(ctx, testUser, uuid.MustParse(created.ID), UpdateTransferStatusRequest{
		Status: model.TransferStatusApproved,
	})
	require.NoError(t, err)
	assert.Equal(t, model.TransferStatusApproved, res.Status)
	require.NotNil(t, res.ApprovedAt)

	// Source drained FIFO: b1 exhausted, b2 down to 8
	assert.Equal(t, 0, e.batchByID(t, b1.BatchID).RemainingQty)
	assert.Equal(t, 8, e.batchByID(t, b2.BatchID).RemainingQty)
	assert.Equal(t, 8, e.cachedQty(t, product.ID, src.ID))
	assert.Equal(t, 12, e.cachedQty(t, product.ID, dst.ID))

	// Provenance rows sum to the requested quantity and carry source references
	details, err := e.xferRepo.BatchDetailsForTransfer(ctx, uuid.MustParse(created.ID))
	require.NoError(t, err)
	require.Len(t, details, 2)
	sum := 0
	refs := make(map[string]bool)
	for _, d := range details {
		sum += d.Quantity
		refs[d.BatchReference] = true
		assert.Equal(t, dst.ID, d.LocationID)
	}
	assert.Equal(t, 12, sum)
	assert.True(t, refs[e.batchByID(t, b1.BatchID).BatchReference])

	// Destination got its own batches, one per fragment, carrying the source expiry
	destBatches, err := e.batchRepo.Ordered(ctx, product.ID, dst.ID)
	require.NoError(t, err)
	require.Len(t, destBatches, 2)
	assert.Equal(t, 10, destBatches[0].ReceivedQty)
	require.NotNil(t, destBatches[0].ExpirationDate)
	assert.Equal(t, 2, destBatches[1].ReceivedQty)

	// Movement journal holds OUT fragments at source and IN fragments at destination
	var outCount, inCount int
	for _, m := range e.movementsFor(t, product.ID) {
		switch {
		case m.MovementType == model.MovementOut && m.LocationID == src.ID:
			outCount++
		case m.MovementType == model.MovementIn && m.LocationID == dst.ID:
			inCount++
		}
	}
	assert.Equal(t, 2, outCount)
	assert.Equal(t, 2, inCount)
}

func TestApproveTransferAtomicAcrossLines(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	p1 := e.mkProduct(t, "T-003", "Lisinopril 10mg")
	p2 := e.mkProduct(t, "T-004", "Atorvastatin 40mg")
	src := e.mkLocation(t, "Warehouse")
	dst := e.mkLocation(t, "Store 3")
	b1 := e.mkBatch(t, p1.ID, src.ID, 10, "")
	b2 := e.mkBatch(t, p2.ID, src.ID, 3, "")

	created, err := e.transfer.CreateTransfer(ctx, testUser, CreateTransferRequest{
		SourceLocationID:      src.ID.String(),
		DestinationLocationID: dst.ID.String(),
		Items: []TransferItemRequest{
			{ProductID: p1.ID.String(), Quantity: 5},
			{ProductID: p2.ID.String(), Quantity: 4}, // short by one
		},
	})
	require.NoError(t, err)

	_, err = e.transfer.UpdateStatus(ctx, testUser, uuid.MustParse(created.ID), UpdateTransferStatusRequest{
		Status: model.TransferStatusApproved,
	})
	require.ErrorIs(t, err, model.ErrInsufficientStock)

	// Whole approval rolled back, including the line that had enough stock
	assert.Equal(t, 10, e.batchByID(t, b1.BatchID).RemainingQty)
	assert.Equal(t, 3, e.batchByID(t, b2.BatchID).RemainingQty)
	assert.Equal(t, 0, e.cachedQty(t, p1.ID, dst.ID))

	details, err := e.xferRepo.BatchDetailsForTransfer(ctx, uuid.MustParse(created.ID))
	require.NoError(t, err)
	assert.Empty(t, details)

	transfer, _, err := e.transfer.GetTransfer(ctx, uuid.MustParse(created.ID))
	require.NoError(t, err)
	assert.Equal(t, model.TransferStatusPending, transfer.Status)
}

func TestTransferStatusTransitions(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	product := e.mkProduct(t, "T-005", "Losartan 50mg")
	src := e.mkLocation(t, "Warehouse")
	dst := e.mkLocation(t, "Store 4")
	e.mkBatch(t, product.ID, src.ID, 10, "")

	created, err := e.transfer.CreateTransfer(ctx, testUser, CreateTransferRequest{
		SourceLocationID:      src.ID.String(),
		DestinationLocationID: dst.ID.String(),
		Items:                 []TransferItemRequest{{ProductID: product.ID.String(), Quantity: 2}},
	})
	require.NoError(t, err)
	id := uuid.MustParse(created.ID)

	// pending -> completed is not allowed
	_, err = e.transfer.UpdateStatus(ctx, testUser, id, UpdateTransferStatusRequest{Status: model.TransferStatusCompleted})
	require.ErrorIs(t, err, model.ErrInvalidStateTransition)

	_, err = e.transfer.UpdateStatus(ctx, testUser, id, UpdateTransferStatusRequest{Status: model.TransferStatusApproved})
	require.NoError(t, err)

	// approved -> rejected is not allowed
	_, err = e.transfer.UpdateStatus(ctx, testUser, id, UpdateTransferStatusRequest{Status: model.TransferStatusRejected})
	require.ErrorIs(t, err, model.ErrInvalidStateTransition)

	res, err := e.transfer.UpdateStatus(ctx, testUser, id, UpdateTransferStatusRequest{Status: model.TransferStatusCompleted})
	require.NoError(t, err)
	assert.Equal(t, model.TransferStatusCompleted, res.Status)

	// completed is terminal for status updates
	_, err = e.transfer.UpdateStatus(ctx, testUser, id, UpdateTransferStatusRequest{Status: model.TransferStatusApproved})
	require.ErrorIs(t, err, model.ErrInvalidStateTransition)
}

func TestRejectTransferLeavesStockUntouched(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	product := e.mkProduct(t, "T-006", "Amlodipine 5mg")
	src := e.mkLocation(t, "Warehouse")
	dst := e.mkLocation(t, "Store 5")
	b := e.mkBatch(t, product.ID, src.ID, 10, "")

	created, err := e.transfer.CreateTransfer(ctx, testUser, CreateTransferRequest{
		SourceLocationID:      src.ID.String(),
		DestinationLocationID: dst.ID.String(),
		Items:                 []TransferItemRequest{{ProductID: product.ID.String(), Quantity: 5}},
	})
	require.NoError(t, err)

	res, err := e.transfer.UpdateStatus(ctx, testUser, uuid.MustParse(created.ID), UpdateTransferStatusRequest{
		Status: model.TransferStatusRejected,
	})
	require.NoError(t, err)
	assert.Equal(t, model.TransferStatusRejected, res.Status)
	assert.Equal(t, 10, e.batchByID(t, b.BatchID).RemainingQty)
}

func TestDeleteTransferPendingHardDeletes(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	product := e.mkProduct(t, "T-007", "Gliclazide 80mg")
	src := e.mkLocation(t, "Warehouse")
	dst := e.mkLocation(t, "Store 6")
	e.mkBatch(t, product.ID, src.ID, 10, "")

	created, err := e.transfer.CreateTransfer(ctx, testUser, CreateTransferRequest{
		SourceLocationID:      src.ID.String(),
		DestinationLocationID: dst.ID.String(),
		Items:                 []TransferItemRequest{{ProductID: product.ID.String(), Quantity: 5}},
	})
	require.NoError(t, err)
	id := uuid.MustParse(created.ID)

	require.NoError(t, e.transfer.DeleteTransfer(ctx, testUser, id))

	_, _, err = e.transfer.GetTransfer(ctx, id)
	require.ErrorIs(t, err, model.ErrNotFound)
}

func TestDeleteTransferApprovedReverses(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	product := e.mkProduct(t, "T-008", "Warfarin 5mg")
	src := e.mkLocation(t, "Warehouse")
	dst := e.mkLocation(t, "Store 7")
	b := e.mkBatch(t, product.ID, src.ID, 10, "")

	created, err := e.transfer.TransferWithConsumption(ctx, testUser, CreateTransferRequest{
		SourceLocationID:      src.ID.String(),
		DestinationLocationID: dst.ID.String(),
		Items:                 []TransferItemRequest{{ProductID: product.ID.String(), Quantity: 6}},
	})
	require.NoError(t, err)
	assert.Equal(t, model.TransferStatusApproved, created.Status)
	assert.Equal(t, 4, e.batchByID(t, b.BatchID).RemainingQty)

	id := uuid.MustParse(created.ID)
	require.NoError(t, e.transfer.DeleteTransfer(ctx, testUser, id))

	// Source restored, destination drained, header kept as reversed
	assert.Equal(t, 10, e.batchByID(t, b.BatchID).RemainingQty)
	assert.Equal(t, 10, e.cachedQty(t, product.ID, src.ID))
	assert.Equal(t, 0, e.cachedQty(t, product.ID, dst.ID))

	transfer, _, err := e.transfer.GetTransfer(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, model.TransferStatusReversed, transfer.Status)

	// A reversed transfer cannot be deleted again
	err = e.transfer.DeleteTransfer(ctx, testUser, id)
	require.ErrorIs(t, err, model.ErrInvalidStateTransition)
}

func TestCreateTransferValidation(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	product := e.mkProduct(t, "T-009", "Salbutamol 2mg")
	loc := e.mkLocation(t, "Warehouse")

	// Same source and destination
	_, err := e.transfer.CreateTransfer(ctx, testUser, CreateTransferRequest{
		SourceLocationID:      loc.ID.String(),
		DestinationLocationID: loc.ID.String(),
		Items:                 []TransferItemRequest{{ProductID: product.ID.String(), Quantity: 1}},
	})
	require.ErrorIs(t, err, model.ErrValidation)

	// Duplicate product lines
	dst := e.mkLocation(t, "Store 8")
	_, err = e.transfer.CreateTransfer(ctx, testUser, CreateTransferRequest{
		SourceLocationID:      loc.ID.String(),
		DestinationLocationID: dst.ID.String(),
		Items: []TransferItemRequest{
			{ProductID: product.ID.String(), Quantity: 1},
			{ProductID: product.ID.String(), Quantity: 2},
		},
	})
	require.ErrorIs(t, err, model.ErrValidation)

	// Unknown location
	_, err = e.transfer.CreateTransfer(ctx, testUser, CreateTransferRequest{
		SourceLocationID:      uuid.NewString(),
		DestinationLocationID: dst.ID.String(),
		Items:                 []TransferItemRequest{{ProductID: product.ID.String(), Quantity: 1}},
	})
	require.ErrorIs(t, err, model.ErrNotFound)
}
