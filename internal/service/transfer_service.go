package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"stockledger/internal/model"
	"stockledger/internal/repository"
	ws "stockledger/internal/websocket"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"gorm.io/gorm"
)

// DTOs
type TransferItemRequest struct {
	ProductID string `json:"product_id" binding:"required,uuid"`
	Quantity  int    `json:"quantity" binding:"required,gt=0"`
}

type CreateTransferRequest struct {
	SourceLocationID      string                `json:"source_location_id" binding:"required,uuid"`
	DestinationLocationID string                `json:"destination_location_id" binding:"required,uuid"`
	Items                 []TransferItemRequest `json:"items" binding:"required,min=1,dive"`
}

type UpdateTransferStatusRequest struct {
	Status string `json:"status" binding:"required,oneof=approved rejected completed"`
}

type TransferItemResponse struct {
	ProductID    string `json:"product_id"`
	ProductName  string `json:"product_name,omitempty"`
	RequestedQty int    `json:"requested_quantity"`
}

type TransferResponse struct {
	ID                    string                 `json:"id"`
	SourceLocationID      string                 `json:"source_location_id"`
	DestinationLocationID string                 `json:"destination_location_id"`
	Status                string                 `json:"status"`
	Items                 []TransferItemResponse `json:"items"`
	ApprovedAt            *time.Time             `json:"approved_at,omitempty"`
	CreatedAt             time.Time              `json:"created_at"`
}

type TransferBatchDetailResponse struct {
	ProductID      string     `json:"product_id"`
	BatchID        string     `json:"batch_id"`
	BatchReference string     `json:"batch_reference"`
	Quantity       int        `json:"quantity"`
	ExpirationDate *time.Time `json:"expiration_date,omitempty"`
}

type TransferService interface {
	CreateTransfer(ctx context.Context, userID string, req CreateTransferRequest) (TransferResponse, error)
	GetTransfer(ctx context.Context, id uuid.UUID) (TransferResponse, []TransferBatchDetailResponse, error)
	ListTransfers(ctx context.Context, status string, locationID *uuid.UUID, page, limit int) ([]TransferResponse, int64, error)
	// UpdateStatus drives the state machine: pending -> approved | rejected,
	// approved -> completed. Approval performs the full stock orchestration.
	UpdateStatus(ctx context.Context, userID string, id uuid.UUID, req UpdateTransferStatusRequest) (TransferResponse, error)
	// DeleteTransfer hard-deletes a pending transfer. For approved or completed
	// transfers it compensates the stock effects instead and marks the header reversed.
	DeleteTransfer(ctx context.Context, userID string, id uuid.UUID) error
	// TransferWithConsumption creates and approves a transfer in one call.
	TransferWithConsumption(ctx context.Context, userID string, req CreateTransferRequest) (TransferResponse, error)
}

type transferService struct {
	transferRepo repository.TransferRepository
	batchRepo    repository.BatchRepository
	movementRepo repository.MovementRepository
	stockRepo    repository.StockRepository
	productRepo  repository.ProductRepository
	locationRepo repository.LocationRepository
	auditRepo    repository.AuditRepository
	txManager    repository.TransactionManager
	fifo         FIFOConsumer
	hub          *ws.Hub
}

func NewTransferService(
	transferRepo repository.TransferRepository,
	batchRepo repository.BatchRepository,
	movementRepo repository.MovementRepository,
	stockRepo repository.StockRepository,
	productRepo repository.ProductRepository,
	locationRepo repository.LocationRepository,
	auditRepo repository.AuditRepository,
	txManager repository.TransactionManager,
	fifo FIFOConsumer,
	hub *ws.Hub,
) TransferService {
	return &transferService{
		transferRepo: transferRepo,
		batchRepo:    batchRepo,
		movementRepo: movementRepo,
		stockRepo:    stockRepo,
		productRepo:  productRepo,
		locationRepo: locationRepo,
		auditRepo:    auditRepo,
		txManager:    txManager,
		fifo:         fifo,
		hub:          hub,
	}
}

func (s *transferService) CreateTransfer(ctx context.Context, userID string, req CreateTransferRequest) (TransferResponse, error) {
	header, err := s.createPending(ctx, userID, req)
	if err != nil {
		return TransferResponse{}, err
	}
	return toTransferResponse(header), nil
}

func (s *transferService) createPending(ctx context.Context, userID string, req CreateTransferRequest) (*model.TransferHeader, error) {
	sourceID, err := uuid.Parse(req.SourceLocationID)
	if err != nil {
		return nil, fmt.Errorf("%w: invalid source_location_id", model.ErrValidation)
	}
	destID, err := uuid.Parse(req.DestinationLocationID)
	if err != nil {
		return nil, fmt.Errorf("%w: invalid destination_location_id", model.ErrValidation)
	}
	if sourceID == destID {
		return nil, fmt.Errorf("%w: source and destination locations must differ", model.ErrValidation)
	}

	seen := make(map[uuid.UUID]bool, len(req.Items))
	items := make([]model.TransferDetail, 0, len(req.Items))
	for _, item := range req.Items {
		pid, err := uuid.Parse(item.ProductID)
		if err != nil {
			return nil, fmt.Errorf("%w: invalid product_id %q", model.ErrValidation, item.ProductID)
		}
		if seen[pid] {
			return nil, fmt.Errorf("%w: duplicate product %s in transfer lines", model.ErrValidation, pid)
		}
		seen[pid] = true
		items = append(items, model.TransferDetail{ProductID: pid, RequestedQty: item.Quantity})
	}

	var creator *uuid.UUID
	if parsed, err := uuid.Parse(userID); err == nil {
		creator = &parsed
	}

	header := &model.TransferHeader{
		SourceLocationID:      sourceID,
		DestinationLocationID: destID,
		Status:                model.TransferStatusPending,
		CreatedBy:             creator,
	}

	err = s.txManager.RunInTx(ctx, func(txCtx context.Context) error {
		for _, lid := range []uuid.UUID{sourceID, destID} {
			if _, err := s.locationRepo.FindByID(txCtx, lid); err != nil {
				if errors.Is(err, gorm.ErrRecordNotFound) {
					return fmt.Errorf("%w: location %s", model.ErrNotFound, lid)
				}
				return err
			}
		}
		for i := range items {
			if _, err := s.productRepo.FindByID(txCtx, items[i].ProductID); err != nil {
				if errors.Is(err, gorm.ErrRecordNotFound) {
					return fmt.Errorf("%w: product %s", model.ErrNotFound, items[i].ProductID)
				}
				return err
			}
		}

		if err := s.transferRepo.CreateHeader(txCtx, header); err != nil {
			return err
		}
		for i := range items {
			items[i].TransferID = header.ID
			if err := s.transferRepo.CreateDetail(txCtx, &items[i]); err != nil {
				return err
			}
		}
		header.Details = items

		return s.writeAudit(txCtx, userID, model.ActionCreateTransfer, header.ID.String(), map[string]interface{}{
			"source_location_id":      sourceID.String(),
			"destination_location_id": destID.String(),
			"lines":                   len(items),
		})
	})
	if err != nil {
		return nil, err
	}
	return header, nil
}

func (s *transferService) GetTransfer(ctx context.Context, id uuid.UUID) (TransferResponse, []TransferBatchDetailResponse, error) {
	header, err := s.transferRepo.FindByIDWithDetails(ctx, id)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return TransferResponse{}, nil, fmt.Errorf("%w: transfer %s", model.ErrNotFound, id)
		}
		return TransferResponse{}, nil, err
	}

	batchDetails, err := s.transferRepo.BatchDetailsForTransfer(ctx, id)
	if err != nil {
		return TransferResponse{}, nil, err
	}

	res := make([]TransferBatchDetailResponse, 0, len(batchDetails))
	for _, d := range batchDetails {
		res = append(res, TransferBatchDetailResponse{
			ProductID:      d.ProductID.String(),
			BatchID:        d.BatchID.String(),
			BatchReference: d.BatchReference,
			Quantity:       d.Quantity,
			ExpirationDate: d.ExpirationDate,
		})
	}
	return toTransferResponse(header), res, nil
}

func (s *transferService) ListTransfers(ctx context.Context, status string, locationID *uuid.UUID, page, limit int) ([]TransferResponse, int64, error) {
	if page <= 0 {
		page = 1
	}
	if limit <= 0 {
		limit = 20
	}

	headers, total, err := s.transferRepo.List(ctx, status, locationID, limit, (page-1)*limit)
	if err != nil {
		return nil, 0, err
	}

	res := make([]TransferResponse, 0, len(headers))
	for i := range headers {
		res = append(res, toTransferResponse(&headers[i]))
	}
	return res, total, nil
}

func (s *transferService) UpdateStatus(ctx context.Context, userID string, id uuid.UUID, req UpdateTransferStatusRequest) (TransferResponse, error) {
	var result *model.TransferHeader
	err := s.txManager.RunInTx(ctx, func(txCtx context.Context) error {
		header, err := s.transferRepo.FindByIDForUpdate(txCtx, id)
		if err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return fmt.Errorf("%w: transfer %s", model.ErrNotFound, id)
			}
			return err
		}

		switch req.Status {
		case model.TransferStatusApproved:
			if header.Status != model.TransferStatusPending {
				return transitionError(header.Status, req.Status)
			}
			if err := s.approveInTx(txCtx, userID, header); err != nil {
				return err
			}
		case model.TransferStatusRejected:
			if header.Status != model.TransferStatusPending {
				return transitionError(header.Status, req.Status)
			}
			header.Status = model.TransferStatusRejected
			if err := s.transferRepo.Save(txCtx, header); err != nil {
				return err
			}
			if err := s.writeAudit(txCtx, userID, model.ActionRejectTransfer, header.ID.String(), nil); err != nil {
				return err
			}
		case model.TransferStatusCompleted:
			if header.Status != model.TransferStatusApproved {
				return transitionError(header.Status, req.Status)
			}
			header.Status = model.TransferStatusCompleted
			if err := s.transferRepo.Save(txCtx, header); err != nil {
				return err
			}
			if err := s.writeAudit(txCtx, userID, model.ActionCompleteTransfer, header.ID.String(), nil); err != nil {
				return err
			}
		default:
			return fmt.Errorf("%w: unknown target status %q", model.ErrValidation, req.Status)
		}

		result = header
		return nil
	})
	if err != nil {
		return TransferResponse{}, err
	}

	s.broadcast("transfer."+req.Status, map[string]interface{}{"transfer_id": id.String()})
	return toTransferResponse(result), nil
}

// approveInTx moves the requested stock: drains source batches in FIFO order and
// materializes each fragment as provenance, a destination batch, and an IN movement.
// Every line must allocate in full or the whole transaction rolls back.
func (s *transferService) approveInTx(txCtx context.Context, userID string, header *model.TransferHeader) error {
	for _, detail := range header.Details {
		allocations, err := s.fifo.ConsumeInTx(
			txCtx,
			detail.ProductID,
			header.SourceLocationID,
			detail.RequestedQty,
			header.ID.String(),
			"transfer out",
			userID,
		)
		if err != nil {
			return err
		}

		for _, alloc := range allocations {
			tbd := model.TransferBatchDetail{
				TransferID:     header.ID,
				ProductID:      detail.ProductID,
				LocationID:     header.DestinationLocationID,
				BatchID:        alloc.BatchID,
				BatchReference: alloc.BatchReference,
				Quantity:       alloc.Quantity,
				SRP:            alloc.SRP,
				ExpirationDate: alloc.ExpirationDate,
			}
			if err := s.transferRepo.CreateBatchDetail(txCtx, &tbd); err != nil {
				return err
			}

			destBatch := model.Batch{
				ProductID:      detail.ProductID,
				LocationID:     header.DestinationLocationID,
				BatchReference: alloc.BatchReference,
				ReceivedQty:    alloc.Quantity,
				RemainingQty:   alloc.Quantity,
				UnitCost:       alloc.UnitCost,
				SRP:            alloc.SRP,
				ExpirationDate: alloc.ExpirationDate,
			}
			if err := s.batchRepo.Create(txCtx, &destBatch); err != nil {
				return err
			}

			movement := model.StockMovement{
				ProductID:      detail.ProductID,
				BatchID:        destBatch.ID,
				LocationID:     header.DestinationLocationID,
				MovementType:   model.MovementIn,
				Quantity:       alloc.Quantity,
				RemainingQty:   destBatch.RemainingQty,
				SRP:            alloc.SRP,
				ExpirationDate: alloc.ExpirationDate,
				ReferenceNo:    header.ID.String(),
				Notes:          "transfer in",
				CreatedBy:      userID,
			}
			if err := s.movementRepo.Append(txCtx, &movement); err != nil {
				return err
			}
		}

		if err := s.stockRepo.Adjust(txCtx, detail.ProductID, header.DestinationLocationID, detail.RequestedQty); err != nil {
			return err
		}
	}

	now := time.Now()
	header.Status = model.TransferStatusApproved
	header.ApprovedAt = &now
	if approver, err := uuid.Parse(userID); err == nil {
		header.ApprovedBy = &approver
	}
	if err := s.transferRepo.Save(txCtx, header); err != nil {
		return err
	}

	return s.writeAudit(txCtx, userID, model.ActionApproveTransfer, header.ID.String(), map[string]interface{}{
		"lines": len(header.Details),
	})
}

func (s *transferService) DeleteTransfer(ctx context.Context, userID string, id uuid.UUID) error {
	err := s.txManager.RunInTx(ctx, func(txCtx context.Context) error {
		header, err := s.transferRepo.FindByIDForUpdate(txCtx, id)
		if err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return fmt.Errorf("%w: transfer %s", model.ErrNotFound, id)
			}
			return err
		}

		switch header.Status {
		case model.TransferStatusPending:
			if err := s.transferRepo.DeleteWithDetails(txCtx, id); err != nil {
				return err
			}
			return s.writeAudit(txCtx, userID, model.ActionDeleteTransfer, id.String(), nil)
		case model.TransferStatusApproved, model.TransferStatusCompleted:
			return s.reverseInTx(txCtx, userID, header)
		default:
			return fmt.Errorf("%w: transfer in status %q cannot be deleted", model.ErrInvalidStateTransition, header.Status)
		}
	})
	if err != nil {
		return err
	}

	s.broadcast("transfer.deleted", map[string]interface{}{"transfer_id": id.String()})
	return nil
}

// reverseInTx compensates an executed transfer: restores the source batches from
// the recorded provenance, drains the destination, and marks the header reversed.
// The header and provenance rows are kept for the audit trail.
func (s *transferService) reverseInTx(txCtx context.Context, userID string, header *model.TransferHeader) error {
	batchDetails, err := s.transferRepo.BatchDetailsForTransfer(txCtx, header.ID)
	if err != nil {
		return err
	}

	restoredPerProduct := make(map[uuid.UUID]int)
	for _, d := range batchDetails {
		remaining, err := s.batchRepo.Restore(txCtx, d.BatchID, d.Quantity)
		if err != nil {
			return err
		}

		movement := model.StockMovement{
			ProductID:      d.ProductID,
			BatchID:        d.BatchID,
			LocationID:     header.SourceLocationID,
			MovementType:   model.MovementIn,
			Quantity:       d.Quantity,
			RemainingQty:   remaining,
			SRP:            d.SRP,
			ExpirationDate: d.ExpirationDate,
			ReferenceNo:    header.ID.String(),
			Notes:          "transfer reversal",
			CreatedBy:      userID,
		}
		if err := s.movementRepo.Append(txCtx, &movement); err != nil {
			return err
		}
		restoredPerProduct[d.ProductID] += d.Quantity
	}

	for productID, qty := range restoredPerProduct {
		if err := s.stockRepo.Adjust(txCtx, productID, header.SourceLocationID, qty); err != nil {
			return err
		}
		if _, err := s.fifo.ConsumeInTx(
			txCtx,
			productID,
			header.DestinationLocationID,
			qty,
			header.ID.String(),
			"transfer reversal",
			userID,
		); err != nil {
			return err
		}
	}

	header.Status = model.TransferStatusReversed
	if err := s.transferRepo.Save(txCtx, header); err != nil {
		return err
	}

	log.Info().Str("transfer_id", header.ID.String()).Msg("transfer reversed")
	return s.writeAudit(txCtx, userID, model.ActionReverseTransfer, header.ID.String(), map[string]interface{}{
		"fragments": len(batchDetails),
	})
}

func (s *transferService) TransferWithConsumption(ctx context.Context, userID string, req CreateTransferRequest) (TransferResponse, error) {
	header, err := s.createPending(ctx, userID, req)
	if err != nil {
		return TransferResponse{}, err
	}

	res, err := s.UpdateStatus(ctx, userID, header.ID, UpdateTransferStatusRequest{Status: model.TransferStatusApproved})
	if err != nil {
		return TransferResponse{}, err
	}
	return res, nil
}

func (s *transferService) writeAudit(txCtx context.Context, userID, action, entityID string, payload map[string]interface{}) error {
	var uid *uuid.UUID
	if parsed, err := uuid.Parse(userID); err == nil {
		uid = &parsed
	}

	details := "{}"
	if payload != nil {
		raw, _ := json.Marshal(payload)
		details = string(raw)
	}
	entry := &model.AuditLog{
		UserID:   uid,
		Action:   action,
		EntityID: entityID,
		Details:  details,
	}
	if err := s.auditRepo.Log(txCtx, entry); err != nil {
		return fmt.Errorf("failed to write audit log: %w", err)
	}
	return nil
}

func (s *transferService) broadcast(event string, data map[string]interface{}) {
	if s.hub == nil {
		return
	}
	payload, err := json.Marshal(StockEvent{Event: event, Data: data})
	if err != nil {
		return
	}
	select {
	case s.hub.Broadcast <- payload:
	default:
	}
}

func transitionError(from, to string) error {
	return fmt.Errorf("%w: cannot move transfer from %q to %q", model.ErrInvalidStateTransition, from, to)
}

func toTransferResponse(h *model.TransferHeader) TransferResponse {
	items := make([]TransferItemResponse, 0, len(h.Details))
	for _, d := range h.Details {
		item := TransferItemResponse{
			ProductID:    d.ProductID.String(),
			RequestedQty: d.RequestedQty,
		}
		if d.Product != nil {
			item.ProductName = d.Product.Name
		}
		items = append(items, item)
	}
	return TransferResponse{
		ID:                    h.ID.String(),
		SourceLocationID:      h.SourceLocationID.String(),
		DestinationLocationID: h.DestinationLocationID.String(),
		Status:                h.Status,
		Items:                 items,
		ApprovedAt:            h.ApprovedAt,
		CreatedAt:             h.CreatedAt,
	}
}
