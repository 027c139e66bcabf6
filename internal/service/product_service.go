package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"stockledger/internal/model"
	"stockledger/internal/repository"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// DTOs
type CreateProductRequest struct {
	Barcode     string  `json:"barcode" binding:"required"`
	Name        string  `json:"name" binding:"required"`
	Category    string  `json:"category"`
	Description string  `json:"description"`
	UnitPrice   float64 `json:"unit_price" binding:"min=0"`
	SRP         float64 `json:"srp" binding:"min=0"`
}

type UpdateProductRequest struct {
	Barcode     string  `json:"barcode" binding:"required"`
	Name        string  `json:"name" binding:"required"`
	Category    string  `json:"category"`
	Description string  `json:"description"`
	UnitPrice   float64 `json:"unit_price" binding:"min=0"`
	SRP         float64 `json:"srp" binding:"min=0"`
}

type CreateLocationRequest struct {
	Name string `json:"name" binding:"required"`
}

type ProductResponse struct {
	ID          string  `json:"id"`
	Barcode     string  `json:"barcode"`
	Name        string  `json:"name"`
	Category    string  `json:"category"`
	Description string  `json:"description"`
	UnitPrice   float64 `json:"unit_price"`
	SRP         float64 `json:"srp"`
}

type PosInventoryRow struct {
	ProductResponse
	Quantity    int    `json:"quantity"`
	StockStatus string `json:"stock_status"`
}

type LocationResponse struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

type ProductService interface {
	GetProducts(ctx context.Context, page, limit int, search string) ([]ProductResponse, int64, error)
	GetProduct(ctx context.Context, id uuid.UUID) (ProductResponse, error)
	CreateProduct(ctx context.Context, userID string, req CreateProductRequest) (ProductResponse, error)
	UpdateProduct(ctx context.Context, userID string, id string, req UpdateProductRequest) (ProductResponse, error)
	DeleteProduct(ctx context.Context, userID string, id string) error
	// PosInventory lists products with cached quantity and a stock status label
	// for point-of-sale views at one location.
	PosInventory(ctx context.Context, locationID uuid.UUID, page, limit int, search string) ([]PosInventoryRow, int64, error)
	CreateLocation(ctx context.Context, userID string, req CreateLocationRequest) (LocationResponse, error)
	ListLocations(ctx context.Context) ([]LocationResponse, error)
}

type productService struct {
	productRepo  repository.ProductRepository
	locationRepo repository.LocationRepository
	auditRepo    repository.AuditRepository
	txManager    repository.TransactionManager
}

func NewProductService(
	productRepo repository.ProductRepository,
	locationRepo repository.LocationRepository,
	auditRepo repository.AuditRepository,
	txManager repository.TransactionManager,
) ProductService {
	return &productService{
		productRepo:  productRepo,
		locationRepo: locationRepo,
		auditRepo:    auditRepo,
		txManager:    txManager,
	}
}

func (s *productService) GetProducts(ctx context.Context, page, limit int, search string) ([]ProductResponse, int64, error) {
	if page <= 0 {
		page = 1
	}
	if limit <= 0 {
		limit = 20
	}

	products, total, err := s.productRepo.List(ctx, page, limit, search)
	if err != nil {
		return nil, 0, err
	}

	res := make([]ProductResponse, 0, len(products))
	for _, p := range products {
		res = append(res, toProductResponse(p))
	}
	return res, total, nil
}

func (s *productService) GetProduct(ctx context.Context, id uuid.UUID) (ProductResponse, error) {
	product, err := s.productRepo.FindByID(ctx, id)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return ProductResponse{}, fmt.Errorf("%w: product %s", model.ErrNotFound, id)
		}
		return ProductResponse{}, err
	}
	return toProductResponse(*product), nil
}

func (s *productService) CreateProduct(ctx context.Context, userID string, req CreateProductRequest) (ProductResponse, error) {
	product := model.Product{
		Barcode:     req.Barcode,
		Name:        req.Name,
		Category:    req.Category,
		Description: req.Description,
		UnitPrice:   decimal.NewFromFloat(req.UnitPrice),
		SRP:         decimal.NewFromFloat(req.SRP),
	}

	err := s.txManager.RunInTx(ctx, func(txCtx context.Context) error {
		if err := s.productRepo.Create(txCtx, &product); err != nil {
			return fmt.Errorf("failed to create product: %w", err)
		}
		return s.auditInTx(txCtx, userID, model.ActionCreateProduct, product.ID.String(), product.Name, req)
	})
	if err != nil {
		return ProductResponse{}, err
	}
	return toProductResponse(product), nil
}

func (s *productService) UpdateProduct(ctx context.Context, userID string, id string, req UpdateProductRequest) (ProductResponse, error) {
	productID, err := uuid.Parse(id)
	if err != nil {
		return ProductResponse{}, fmt.Errorf("%w: invalid product id", model.ErrValidation)
	}

	product, err := s.productRepo.FindByID(ctx, productID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return ProductResponse{}, fmt.Errorf("%w: product %s", model.ErrNotFound, productID)
		}
		return ProductResponse{}, err
	}

	product.Barcode = req.Barcode
	product.Name = req.Name
	product.Category = req.Category
	product.Description = req.Description
	product.UnitPrice = decimal.NewFromFloat(req.UnitPrice)
	product.SRP = decimal.NewFromFloat(req.SRP)

	err = s.txManager.RunInTx(ctx, func(txCtx context.Context) error {
		if err := s.productRepo.Update(txCtx, product); err != nil {
			return fmt.Errorf("failed to update product: %w", err)
		}
		return s.auditInTx(txCtx, userID, model.ActionUpdateProduct, product.ID.String(), product.Name, req)
	})
	if err != nil {
		return ProductResponse{}, err
	}
	return toProductResponse(*product), nil
}

func (s *productService) DeleteProduct(ctx context.Context, userID string, id string) error {
	productID, err := uuid.Parse(id)
	if err != nil {
		return fmt.Errorf("%w: invalid product id", model.ErrValidation)
	}

	product, err := s.productRepo.FindByID(ctx, productID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return fmt.Errorf("%w: product %s", model.ErrNotFound, productID)
		}
		return err
	}

	return s.txManager.RunInTx(ctx, func(txCtx context.Context) error {
		if err := s.productRepo.Delete(txCtx, productID); err != nil {
			return fmt.Errorf("failed to delete product: %w", err)
		}
		return s.auditInTx(txCtx, userID, model.ActionDeleteProduct, product.ID.String(), product.Name, map[string]bool{"deleted": true})
	})
}

func (s *productService) PosInventory(ctx context.Context, locationID uuid.UUID, page, limit int, search string) ([]PosInventoryRow, int64, error) {
	if page <= 0 {
		page = 1
	}
	if limit <= 0 {
		limit = 50
	}

	if _, err := s.locationRepo.FindByID(ctx, locationID); err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, 0, fmt.Errorf("%w: location %s", model.ErrNotFound, locationID)
		}
		return nil, 0, err
	}

	rows, total, err := s.productRepo.ListWithStock(ctx, locationID, page, limit, search)
	if err != nil {
		return nil, 0, err
	}

	res := make([]PosInventoryRow, 0, len(rows))
	for _, row := range rows {
		res = append(res, PosInventoryRow{
			ProductResponse: toProductResponse(row.Product),
			Quantity:        row.Quantity,
			StockStatus:     model.StockStatusLabel(row.Quantity),
		})
	}
	return res, total, nil
}

func (s *productService) CreateLocation(ctx context.Context, userID string, req CreateLocationRequest) (LocationResponse, error) {
	location := model.Location{Name: req.Name}

	err := s.txManager.RunInTx(ctx, func(txCtx context.Context) error {
		if err := s.locationRepo.Create(txCtx, &location); err != nil {
			return fmt.Errorf("failed to create location: %w", err)
		}
		return s.auditInTx(txCtx, userID, model.ActionCreateLocation, location.ID.String(), location.Name, req)
	})
	if err != nil {
		return LocationResponse{}, err
	}
	return LocationResponse{ID: location.ID.String(), Name: location.Name}, nil
}

func (s *productService) ListLocations(ctx context.Context) ([]LocationResponse, error) {
	locations, err := s.locationRepo.List(ctx)
	if err != nil {
		return nil, err
	}

	res := make([]LocationResponse, 0, len(locations))
	for _, l := range locations {
		res = append(res, LocationResponse{ID: l.ID.String(), Name: l.Name})
	}
	return res, nil
}

func (s *productService) auditInTx(txCtx context.Context, userID, action, entityID, entityName string, payload interface{}) error {
	var uid *uuid.UUID
	if parsed, err := uuid.Parse(userID); err == nil {
		uid = &parsed
	}

	details, _ := json.Marshal(payload)
	audit := &model.AuditLog{
		UserID:     uid,
		Action:     action,
		EntityID:   entityID,
		EntityName: entityName,
		Details:    string(details),
	}
	if err := s.auditRepo.Log(txCtx, audit); err != nil {
		return fmt.Errorf("failed to write audit log: %w", err)
	}
	return nil
}

func toProductResponse(p model.Product) ProductResponse {
	unitPrice, _ := p.UnitPrice.Float64()
	srp, _ := p.SRP.Float64()
	return ProductResponse{
		ID:          p.ID.String(),
		Barcode:     p.Barcode,
		Name:        p.Name,
		Category:    p.Category,
		Description: p.Description,
		UnitPrice:   unitPrice,
		SRP:         srp,
	}
}
