package service

import (
	"context"
	"testing"

	"stockledger/internal/database"
	"stockledger/internal/model"
	"stockledger/internal/repository"

	"github.com/glebarez/sqlite"
	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// env bundles the services under test with direct repo access for assertions.
type env struct {
	db        *gorm.DB
	stock     StockService
	transfer  TransferService
	reconcile ReconcileService
	products  ProductService
	batchRepo repository.BatchRepository
	stockRepo repository.StockRepository
	xferRepo  repository.TransferRepository
	moveRepo  repository.MovementRepository
}

func newEnv(t *testing.T) *env {
	t.Helper()

	db, err := gorm.Open(sqlite.Open("file::memory:"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)
	require.NoError(t, database.Migrate(db))

	txManager := repository.NewTransactionManager(db)
	auditRepo := repository.NewAuditRepository(db)
	productRepo := repository.NewProductRepository(db)
	locationRepo := repository.NewLocationRepository(db)
	batchRepo := repository.NewBatchRepository(db)
	movementRepo := repository.NewMovementRepository(db)
	stockRepo := repository.NewStockRepository(db)
	transferRepo := repository.NewTransferRepository(db)

	stockService := NewStockService(batchRepo, movementRepo, stockRepo, productRepo, locationRepo, auditRepo, txManager, nil)
	transferService := NewTransferService(transferRepo, batchRepo, movementRepo, stockRepo, productRepo, locationRepo, auditRepo, txManager, stockService, nil)
	reconcileService := NewReconcileService(transferRepo, batchRepo, auditRepo, txManager)
	productService := NewProductService(productRepo, locationRepo, auditRepo, txManager)

	return &env{
		db:        db,
		stock:     stockService,
		transfer:  transferService,
		reconcile: reconcileService,
		products:  productService,
		batchRepo: batchRepo,
		stockRepo: stockRepo,
		xferRepo:  transferRepo,
		moveRepo:  movementRepo,
	}
}

func (e *env) mkProduct(t *testing.T, barcode, name string) model.Product {
	t.Helper()
	p := model.Product{Barcode: barcode, Name: name}
	require.NoError(t, e.db.Create(&p).Error)
	return p
}

func (e *env) mkLocation(t *testing.T, name string) model.Location {
	t.Helper()
	l := model.Location{Name: name}
	require.NoError(t, e.db.Create(&l).Error)
	return l
}

// mkBatch receives stock through the service so sequences, movements and the
// aggregate cache stay consistent with production paths.
func (e *env) mkBatch(t *testing.T, productID, locationID uuid.UUID, qty int, expiry string) BatchStatus {
	t.Helper()
	res, err := e.stock.ReceiveStock(context.Background(), testUser, ReceiveStockRequest{
		ProductID:      productID.String(),
		LocationID:     locationID.String(),
		Quantity:       qty,
		UnitCost:       5,
		SRP:            9.5,
		ExpirationDate: expiry,
	})
	require.NoError(t, err)
	return res
}

func (e *env) batchByID(t *testing.T, id string) model.Batch {
	t.Helper()
	var b model.Batch
	require.NoError(t, e.db.First(&b, "id = ?", uuid.MustParse(id)).Error)
	return b
}

func (e *env) cachedQty(t *testing.T, productID, locationID uuid.UUID) int {
	t.Helper()
	stock, err := e.stockRepo.Get(context.Background(), productID, locationID)
	require.NoError(t, err)
	return stock.Quantity
}

func (e *env) movementsFor(t *testing.T, productID uuid.UUID) []model.StockMovement {
	t.Helper()
	var moves []model.StockMovement
	require.NoError(t, e.db.
		Where("product_id = ?", productID).
		Order("created_at ASC, id ASC").
		Find(&moves).Error)
	return moves
}

const testUser = "5f8a3b1c-0000-4000-8000-000000000001"
