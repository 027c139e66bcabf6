package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"stockledger/internal/model"
	"stockledger/internal/repository"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"gorm.io/gorm"
)

type RepairResult struct {
	GapsFound      int `json:"gaps_found"`
	DetailsCreated int `json:"details_created"`
	Skipped        int `json:"skipped"`
}

// ReconcileService backfills missing transfer provenance rows left behind by
// interrupted or legacy approvals. Repairs are idempotent: each gap is re-checked
// inside its own transaction before anything is inserted, so a concurrent or
// repeated run creates nothing twice.
type ReconcileService interface {
	FindGaps(ctx context.Context) ([]model.TransferGap, error)
	RepairAll(ctx context.Context, userID string) (RepairResult, error)
}

type reconcileService struct {
	transferRepo repository.TransferRepository
	batchRepo    repository.BatchRepository
	auditRepo    repository.AuditRepository
	txManager    repository.TransactionManager
}

func NewReconcileService(
	transferRepo repository.TransferRepository,
	batchRepo repository.BatchRepository,
	auditRepo repository.AuditRepository,
	txManager repository.TransactionManager,
) ReconcileService {
	return &reconcileService{
		transferRepo: transferRepo,
		batchRepo:    batchRepo,
		auditRepo:    auditRepo,
		txManager:    txManager,
	}
}

func (s *reconcileService) FindGaps(ctx context.Context) ([]model.TransferGap, error) {
	return s.transferRepo.FindGaps(ctx)
}

func (s *reconcileService) RepairAll(ctx context.Context, userID string) (RepairResult, error) {
	gaps, err := s.transferRepo.FindGaps(ctx)
	if err != nil {
		return RepairResult{}, err
	}

	result := RepairResult{GapsFound: len(gaps)}
	for _, gap := range gaps {
		created, err := s.repairGap(ctx, userID, gap)
		if err != nil {
			// One broken gap should not abort the whole sweep.
			log.Error().Err(err).
				Str("transfer_id", gap.TransferID.String()).
				Str("product_id", gap.ProductID.String()).
				Msg("gap repair failed")
			result.Skipped++
			continue
		}
		if created {
			result.DetailsCreated++
		} else {
			result.Skipped++
		}
	}

	log.Info().
		Int("gaps_found", result.GapsFound).
		Int("details_created", result.DetailsCreated).
		Int("skipped", result.Skipped).
		Msg("batch detail reconciliation completed")
	return result, nil
}

// repairGap backfills one transfer line in its own transaction. The existence
// re-check under the transaction is what makes repeated runs safe.
func (s *reconcileService) repairGap(ctx context.Context, userID string, gap model.TransferGap) (bool, error) {
	created := false
	err := s.txManager.RunInTx(ctx, func(txCtx context.Context) error {
		exists, err := s.transferRepo.HasBatchDetail(txCtx, gap.TransferID, gap.ProductID, gap.DestinationID)
		if err != nil {
			return err
		}
		if exists {
			return nil
		}

		detail := model.TransferBatchDetail{
			TransferID: gap.TransferID,
			ProductID:  gap.ProductID,
			LocationID: gap.DestinationID,
			Quantity:   gap.MissingQty,
		}

		// Borrow reference data from the oldest batch on record; when the product
		// has no batches at all, synthesize a reference and a one-year expiry.
		standIn, err := s.batchRepo.EarliestForProduct(txCtx, gap.ProductID)
		switch {
		case err == nil:
			detail.BatchID = standIn.ID
			detail.BatchReference = standIn.BatchReference
			detail.SRP = standIn.SRP
			detail.ExpirationDate = standIn.ExpirationDate
		case errors.Is(err, gorm.ErrRecordNotFound):
			detail.BatchID = uuid.New()
			detail.BatchReference = fmt.Sprintf("BATCH-%s-%s", shortID(gap.ProductID), shortID(gap.TransferID))
		default:
			return err
		}
		if detail.ExpirationDate == nil {
			fallback := time.Now().AddDate(1, 0, 0)
			detail.ExpirationDate = &fallback
		}

		if err := s.transferRepo.CreateBatchDetail(txCtx, &detail); err != nil {
			return err
		}
		created = true

		var uid *uuid.UUID
		if parsed, err := uuid.Parse(userID); err == nil {
			uid = &parsed
		}
		payload, _ := json.Marshal(map[string]interface{}{
			"transfer_id":     gap.TransferID.String(),
			"product_id":      gap.ProductID.String(),
			"location_id":     gap.DestinationID.String(),
			"quantity":        gap.MissingQty,
			"batch_reference": detail.BatchReference,
		})
		audit := &model.AuditLog{
			UserID:   uid,
			Action:   model.ActionRepairBatchDetails,
			EntityID: gap.TransferID.String(),
			Details:  string(payload),
		}
		if err := s.auditRepo.Log(txCtx, audit); err != nil {
			return fmt.Errorf("failed to write audit log: %w", err)
		}
		return nil
	})
	return created, err
}

func shortID(id uuid.UUID) string {
	return id.String()[:8]
}
