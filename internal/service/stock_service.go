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
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// DTOs
type ConsumeStockRequest struct {
	ProductID   string `json:"product_id" binding:"required,uuid"`
	LocationID  string `json:"location_id" binding:"required,uuid"`
	Quantity    int    `json:"quantity" binding:"required,gt=0"`
	ReferenceNo string `json:"reference_no"`
	Notes       string `json:"notes"`
}

type ReceiveStockRequest struct {
	ProductID      string  `json:"product_id" binding:"required,uuid"`
	LocationID     string  `json:"location_id" binding:"required,uuid"`
	Quantity       int     `json:"quantity" binding:"required,gt=0"`
	UnitCost       float64 `json:"unit_cost" binding:"min=0"`
	SRP            float64 `json:"srp" binding:"min=0"`
	BatchReference string  `json:"batch_reference"`
	ExpirationDate string  `json:"expiration_date"` // YYYY-MM-DD, optional
	ReferenceNo    string  `json:"reference_no"`
}

type AvailabilityRequest struct {
	ProductID  string `json:"product_id" binding:"required,uuid"`
	LocationID string `json:"location_id" binding:"required,uuid"`
	Quantity   int    `json:"quantity" binding:"required,gt=0"`
}

// Allocation is one FIFO fragment: the batch it came from and the batch's
// remaining quantity after the fragment was taken.
type Allocation struct {
	BatchID        uuid.UUID       `json:"batch_id"`
	BatchReference string          `json:"batch_reference"`
	Quantity       int             `json:"quantity"`
	UnitCost       decimal.Decimal `json:"unit_cost"`
	SRP            decimal.Decimal `json:"srp"`
	ExpirationDate *time.Time      `json:"expiration_date"`
	RemainingAfter int             `json:"remaining_after"`
}

type ConsumeStockResponse struct {
	ProductID   string       `json:"product_id"`
	LocationID  string       `json:"location_id"`
	Quantity    int          `json:"quantity"`
	Allocations []Allocation `json:"allocations"`
	TotalAfter  int          `json:"total_remaining_after"`
}

type AvailabilityResponse struct {
	Available    bool `json:"available"`
	Requested    int  `json:"requested"`
	TotalOnHand  int  `json:"total_on_hand"`
	BatchesAvail int  `json:"batches_available"`
}

type BatchStatus struct {
	BatchID        string     `json:"batch_id"`
	BatchReference string     `json:"batch_reference"`
	EntrySequence  int64      `json:"entry_sequence"`
	ReceivedQty    int        `json:"received_quantity"`
	RemainingQty   int        `json:"remaining_quantity"`
	ExpirationDate *time.Time `json:"expiration_date"`
	Exhausted      bool       `json:"exhausted"`
}

type FifoStatusResponse struct {
	ProductID   string        `json:"product_id"`
	LocationID  string        `json:"location_id"`
	TotalOnHand int           `json:"total_on_hand"`
	StockStatus string        `json:"stock_status"`
	Batches     []BatchStatus `json:"batches"`
}

type MovementResponse struct {
	ID           string     `json:"id"`
	BatchID      string     `json:"batch_id"`
	LocationID   string     `json:"location_id"`
	MovementType string     `json:"movement_type"`
	Quantity     int        `json:"quantity"`
	RemainingQty int        `json:"remaining_quantity"`
	ReferenceNo  string     `json:"reference_no"`
	Notes        string     `json:"notes"`
	CreatedBy    string     `json:"created_by"`
	CreatedAt    time.Time  `json:"created_at"`
	Expiration   *time.Time `json:"expiration_date,omitempty"`
}

type SyncStockResponse struct {
	RowsChanged int `json:"rows_changed"`
}

// StockEvent is the websocket payload emitted after stock-changing commits.
type StockEvent struct {
	Event string                 `json:"event"`
	Data  map[string]interface{} `json:"data"`
}

// FIFOConsumer is the single consumption engine. The transfer workflow reuses it
// inside its own transaction so the draining rules stay in one place.
type FIFOConsumer interface {
	// ConsumeInTx drains batches in FIFO order within the caller's transaction
	// context. All-or-nothing: a shortfall fails before any batch is touched.
	ConsumeInTx(txCtx context.Context, productID, locationID uuid.UUID, quantity int, referenceNo, notes, actor string) ([]Allocation, error)
}

type StockService interface {
	FIFOConsumer
	ConsumeStock(ctx context.Context, userID string, req ConsumeStockRequest) (ConsumeStockResponse, error)
	ReceiveStock(ctx context.Context, userID string, req ReceiveStockRequest) (BatchStatus, error)
	CheckAvailability(ctx context.Context, req AvailabilityRequest) (AvailabilityResponse, error)
	FifoStatus(ctx context.Context, productID, locationID uuid.UUID) (FifoStatusResponse, error)
	SyncStock(ctx context.Context, userID string) (SyncStockResponse, error)
	QuantityHistory(ctx context.Context, productID uuid.UUID, locationID *uuid.UUID, page, limit int) ([]MovementResponse, int64, error)
	ExpiringBatches(ctx context.Context, locationID *uuid.UUID, days int) ([]BatchStatus, error)
}

type stockService struct {
	batchRepo    repository.BatchRepository
	movementRepo repository.MovementRepository
	stockRepo    repository.StockRepository
	productRepo  repository.ProductRepository
	locationRepo repository.LocationRepository
	auditRepo    repository.AuditRepository
	txManager    repository.TransactionManager
	hub          *ws.Hub
}

func NewStockService(
	batchRepo repository.BatchRepository,
	movementRepo repository.MovementRepository,
	stockRepo repository.StockRepository,
	productRepo repository.ProductRepository,
	locationRepo repository.LocationRepository,
	auditRepo repository.AuditRepository,
	txManager repository.TransactionManager,
	hub *ws.Hub,
) StockService {
	return &stockService{
		batchRepo:    batchRepo,
		movementRepo: movementRepo,
		stockRepo:    stockRepo,
		productRepo:  productRepo,
		locationRepo: locationRepo,
		auditRepo:    auditRepo,
		txManager:    txManager,
		hub:          hub,
	}
}

func (s *stockService) ConsumeInTx(txCtx context.Context, productID, locationID uuid.UUID, quantity int, referenceNo, notes, actor string) ([]Allocation, error) {
	if quantity <= 0 {
		return nil, fmt.Errorf("%w: quantity must be positive", model.ErrValidation)
	}

	batches, err := s.batchRepo.OrderedAvailable(txCtx, productID, locationID, true)
	if err != nil {
		return nil, err
	}

	total := 0
	for _, b := range batches {
		total += b.RemainingQty
	}
	if total < quantity {
		return nil, fmt.Errorf("%w: need %d, have %d for product %s at location %s",
			model.ErrInsufficientStock, quantity, total, productID, locationID)
	}

	var allocations []Allocation
	var movements []model.StockMovement
	needed := quantity
	for _, batch := range batches {
		if needed == 0 {
			break
		}
		take := batch.RemainingQty
		if take > needed {
			take = needed
		}

		remaining, err := s.batchRepo.Decrement(txCtx, batch.ID, take)
		if err != nil {
			return nil, err
		}

		allocations = append(allocations, Allocation{
			BatchID:        batch.ID,
			BatchReference: batch.BatchReference,
			Quantity:       take,
			UnitCost:       batch.UnitCost,
			SRP:            batch.SRP,
			ExpirationDate: batch.ExpirationDate,
			RemainingAfter: remaining,
		})
		movements = append(movements, model.StockMovement{
			ProductID:      productID,
			BatchID:        batch.ID,
			LocationID:     locationID,
			MovementType:   model.MovementOut,
			Quantity:       take,
			RemainingQty:   remaining,
			SRP:            batch.SRP,
			ExpirationDate: batch.ExpirationDate,
			ReferenceNo:    referenceNo,
			Notes:          notes,
			CreatedBy:      actor,
		})
		needed -= take
	}

	if err := s.movementRepo.AppendAll(txCtx, movements); err != nil {
		return nil, err
	}
	if err := s.stockRepo.Adjust(txCtx, productID, locationID, -quantity); err != nil {
		return nil, err
	}
	return allocations, nil
}

func (s *stockService) ConsumeStock(ctx context.Context, userID string, req ConsumeStockRequest) (ConsumeStockResponse, error) {
	productID, locationID, err := parseScope(req.ProductID, req.LocationID)
	if err != nil {
		return ConsumeStockResponse{}, err
	}

	var allocations []Allocation
	err = s.txManager.RunInTx(ctx, func(txCtx context.Context) error {
		if _, err := s.productRepo.FindByID(txCtx, productID); err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return fmt.Errorf("%w: product %s", model.ErrNotFound, productID)
			}
			return err
		}

		allocations, err = s.ConsumeInTx(txCtx, productID, locationID, req.Quantity, req.ReferenceNo, req.Notes, userID)
		if err != nil {
			return err
		}

		return s.writeAudit(txCtx, userID, model.ActionConsumeStock, productID.String(), "", map[string]interface{}{
			"location_id":  locationID.String(),
			"quantity":     req.Quantity,
			"reference_no": req.ReferenceNo,
			"fragments":    len(allocations),
		})
	})
	if err != nil {
		return ConsumeStockResponse{}, err
	}

	totalAfter, err := s.batchRepo.SumRemaining(ctx, productID, locationID)
	if err != nil {
		return ConsumeStockResponse{}, err
	}

	s.broadcast("stock.consumed", map[string]interface{}{
		"product_id":  productID.String(),
		"location_id": locationID.String(),
		"quantity":    req.Quantity,
		"remaining":   totalAfter,
	})

	return ConsumeStockResponse{
		ProductID:   productID.String(),
		LocationID:  locationID.String(),
		Quantity:    req.Quantity,
		Allocations: allocations,
		TotalAfter:  totalAfter,
	}, nil
}

func (s *stockService) ReceiveStock(ctx context.Context, userID string, req ReceiveStockRequest) (BatchStatus, error) {
	productID, locationID, err := parseScope(req.ProductID, req.LocationID)
	if err != nil {
		return BatchStatus{}, err
	}
	if req.Quantity <= 0 {
		return BatchStatus{}, fmt.Errorf("%w: quantity must be positive", model.ErrValidation)
	}

	var expiry *time.Time
	if req.ExpirationDate != "" {
		parsed, err := time.Parse("2006-01-02", req.ExpirationDate)
		if err != nil {
			return BatchStatus{}, fmt.Errorf("%w: expiration_date must be YYYY-MM-DD", model.ErrValidation)
		}
		expiry = &parsed
	}

	batch := model.Batch{
		ProductID:      productID,
		LocationID:     locationID,
		BatchReference: req.BatchReference,
		ReceivedQty:    req.Quantity,
		RemainingQty:   req.Quantity,
		UnitCost:       decimal.NewFromFloat(req.UnitCost),
		SRP:            decimal.NewFromFloat(req.SRP),
		ExpirationDate: expiry,
	}

	err = s.txManager.RunInTx(ctx, func(txCtx context.Context) error {
		if _, err := s.productRepo.FindByID(txCtx, productID); err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return fmt.Errorf("%w: product %s", model.ErrNotFound, productID)
			}
			return err
		}
		if _, err := s.locationRepo.FindByID(txCtx, locationID); err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return fmt.Errorf("%w: location %s", model.ErrNotFound, locationID)
			}
			return err
		}

		if err := s.batchRepo.Create(txCtx, &batch); err != nil {
			return err
		}

		movement := model.StockMovement{
			ProductID:      productID,
			BatchID:        batch.ID,
			LocationID:     locationID,
			MovementType:   model.MovementIn,
			Quantity:       req.Quantity,
			RemainingQty:   batch.RemainingQty,
			SRP:            batch.SRP,
			ExpirationDate: expiry,
			ReferenceNo:    req.ReferenceNo,
			Notes:          "stock received",
			CreatedBy:      userID,
		}
		if err := s.movementRepo.Append(txCtx, &movement); err != nil {
			return err
		}
		if err := s.stockRepo.Adjust(txCtx, productID, locationID, req.Quantity); err != nil {
			return err
		}

		return s.writeAudit(txCtx, userID, model.ActionReceiveStock, batch.ID.String(), batch.BatchReference, map[string]interface{}{
			"product_id":  productID.String(),
			"location_id": locationID.String(),
			"quantity":    req.Quantity,
		})
	})
	if err != nil {
		return BatchStatus{}, err
	}

	s.broadcast("stock.received", map[string]interface{}{
		"product_id":  productID.String(),
		"location_id": locationID.String(),
		"quantity":    req.Quantity,
		"batch_id":    batch.ID.String(),
	})

	return toBatchStatus(batch), nil
}

func (s *stockService) CheckAvailability(ctx context.Context, req AvailabilityRequest) (AvailabilityResponse, error) {
	productID, locationID, err := parseScope(req.ProductID, req.LocationID)
	if err != nil {
		return AvailabilityResponse{}, err
	}

	batches, err := s.batchRepo.OrderedAvailable(ctx, productID, locationID, false)
	if err != nil {
		return AvailabilityResponse{}, err
	}

	total := 0
	for _, b := range batches {
		total += b.RemainingQty
	}

	return AvailabilityResponse{
		Available:    total >= req.Quantity,
		Requested:    req.Quantity,
		TotalOnHand:  total,
		BatchesAvail: len(batches),
	}, nil
}

func (s *stockService) FifoStatus(ctx context.Context, productID, locationID uuid.UUID) (FifoStatusResponse, error) {
	if _, err := s.productRepo.FindByID(ctx, productID); err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return FifoStatusResponse{}, fmt.Errorf("%w: product %s", model.ErrNotFound, productID)
		}
		return FifoStatusResponse{}, err
	}

	batches, err := s.batchRepo.Ordered(ctx, productID, locationID)
	if err != nil {
		return FifoStatusResponse{}, err
	}

	total := 0
	statuses := make([]BatchStatus, 0, len(batches))
	for _, b := range batches {
		total += b.RemainingQty
		statuses = append(statuses, toBatchStatus(b))
	}

	return FifoStatusResponse{
		ProductID:   productID.String(),
		LocationID:  locationID.String(),
		TotalOnHand: total,
		StockStatus: model.StockStatusLabel(total),
		Batches:     statuses,
	}, nil
}

func (s *stockService) SyncStock(ctx context.Context, userID string) (SyncStockResponse, error) {
	var changed int
	err := s.txManager.RunInTx(ctx, func(txCtx context.Context) error {
		var err error
		changed, err = s.stockRepo.RecomputeAll(txCtx)
		if err != nil {
			return err
		}
		if changed == 0 {
			return nil
		}
		return s.writeAudit(txCtx, userID, model.ActionSyncStock, "", "", map[string]interface{}{
			"rows_changed": changed,
		})
	})
	if err != nil {
		return SyncStockResponse{}, err
	}

	log.Info().Int("rows_changed", changed).Msg("aggregate stock sync completed")
	return SyncStockResponse{RowsChanged: changed}, nil
}

func (s *stockService) QuantityHistory(ctx context.Context, productID uuid.UUID, locationID *uuid.UUID, page, limit int) ([]MovementResponse, int64, error) {
	if page <= 0 {
		page = 1
	}
	if limit <= 0 {
		limit = 20
	}

	movements, total, err := s.movementRepo.ListByProduct(ctx, productID, locationID, limit, (page-1)*limit)
	if err != nil {
		return nil, 0, err
	}

	res := make([]MovementResponse, 0, len(movements))
	for _, m := range movements {
		res = append(res, MovementResponse{
			ID:           m.ID.String(),
			BatchID:      m.BatchID.String(),
			LocationID:   m.LocationID.String(),
			MovementType: m.MovementType,
			Quantity:     m.Quantity,
			RemainingQty: m.RemainingQty,
			ReferenceNo:  m.ReferenceNo,
			Notes:        m.Notes,
			CreatedBy:    m.CreatedBy,
			CreatedAt:    m.CreatedAt,
			Expiration:   m.ExpirationDate,
		})
	}
	return res, total, nil
}

func (s *stockService) ExpiringBatches(ctx context.Context, locationID *uuid.UUID, days int) ([]BatchStatus, error) {
	if days <= 0 {
		days = 30
	}
	batches, err := s.batchRepo.Expiring(ctx, locationID, days)
	if err != nil {
		return nil, err
	}

	res := make([]BatchStatus, 0, len(batches))
	for _, b := range batches {
		res = append(res, toBatchStatus(b))
	}
	return res, nil
}

func (s *stockService) writeAudit(txCtx context.Context, userID, action, entityID, entityName string, payload map[string]interface{}) error {
	var uid *uuid.UUID
	if parsed, err := uuid.Parse(userID); err == nil {
		uid = &parsed
	}

	details, _ := json.Marshal(payload)
	entry := &model.AuditLog{
		UserID:     uid,
		Action:     action,
		EntityID:   entityID,
		EntityName: entityName,
		Details:    string(details),
	}
	if err := s.auditRepo.Log(txCtx, entry); err != nil {
		return fmt.Errorf("failed to write audit log: %w", err)
	}
	return nil
}

func (s *stockService) broadcast(event string, data map[string]interface{}) {
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

func parseScope(productID, locationID string) (uuid.UUID, uuid.UUID, error) {
	pid, err := uuid.Parse(productID)
	if err != nil {
		return uuid.Nil, uuid.Nil, fmt.Errorf("%w: invalid product_id", model.ErrValidation)
	}
	lid, err := uuid.Parse(locationID)
	if err != nil {
		return uuid.Nil, uuid.Nil, fmt.Errorf("%w: invalid location_id", model.ErrValidation)
	}
	return pid, lid, nil
}

func toBatchStatus(b model.Batch) BatchStatus {
	return BatchStatus{
		BatchID:        b.ID.String(),
		BatchReference: b.BatchReference,
		EntrySequence:  b.EntrySequence,
		ReceivedQty:    b.ReceivedQty,
		RemainingQty:   b.RemainingQty,
		ExpirationDate: b.ExpirationDate,
		Exhausted:      b.IsExhausted(),
	}
}
