package handler

import (
	"net/http"
	"strconv"

	"stockledger/internal/middleware"
	"stockledger/internal/service"
	"stockledger/pkg/pagination"
	"stockledger/pkg/response"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

type StockHandler struct {
	stockService service.StockService
}

func NewStockHandler(stockService service.StockService) *StockHandler {
	return &StockHandler{stockService: stockService}
}

func (h *StockHandler) RegisterRoutes(router *gin.RouterGroup) {
	group := router.Group("/api/stock")
	group.Use(middleware.RequireRole("admin", "manager", "staff"))
	{
		group.POST("/consume", middleware.RequirePermission("stock.consume"), h.ConsumeStock)
		group.POST("/receive", middleware.RequirePermission("stock.receive"), h.ReceiveStock)
		group.POST("/availability", h.CheckAvailability)
		group.GET("/fifo/:productId", h.FifoStatus)
		group.GET("/history/:productId", h.QuantityHistory)
		group.GET("/expiring", h.ExpiringBatches)
		group.POST("/sync", middleware.RequirePermission("stock.sync"), h.SyncStock)
	}
}

// ConsumeStock drains batches oldest-first for a sale or adjustment
// @Summary      Consume stock FIFO
// @Description  Consumes the requested quantity from the oldest batches first, all-or-nothing
// @Tags         stock
// @Accept       json
// @Produce      json
// @Security     BearerAuth
// @Param        payload  body      service.ConsumeStockRequest  true  "Consume Payload"
// @Success      200      {object}  response.Response{data=service.ConsumeStockResponse}
// @Failure      400      {object}  response.Response
// @Failure      409      {object}  response.Response
// @Router       /api/stock/consume [post]
func (h *StockHandler) ConsumeStock(c *gin.Context) {
	var req service.ConsumeStockRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, response.Error(http.StatusBadRequest, "Invalid request payload: "+err.Error()))
		return
	}

	res, err := h.stockService.ConsumeStock(c.Request.Context(), currentUserID(c), req)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, response.Success(http.StatusOK, res))
}

// ReceiveStock registers a new batch at a location
// @Summary      Receive stock
// @Description  Creates a new batch with the received quantity and records an IN movement
// @Tags         stock
// @Accept       json
// @Produce      json
// @Security     BearerAuth
// @Param        payload  body      service.ReceiveStockRequest  true  "Receive Payload"
// @Success      201      {object}  response.Response{data=service.BatchStatus}
// @Failure      400      {object}  response.Response
// @Router       /api/stock/receive [post]
func (h *StockHandler) ReceiveStock(c *gin.Context) {
	var req service.ReceiveStockRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, response.Error(http.StatusBadRequest, "Invalid request payload: "+err.Error()))
		return
	}

	res, err := h.stockService.ReceiveStock(c.Request.Context(), currentUserID(c), req)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, response.Success(http.StatusCreated, res))
}

// CheckAvailability reports whether a quantity could be consumed, without mutating
// @Summary      Check FIFO availability
// @Description  Read-only check of whether the requested quantity is available
// @Tags         stock
// @Accept       json
// @Produce      json
// @Security     BearerAuth
// @Param        payload  body      service.AvailabilityRequest  true  "Availability Payload"
// @Success      200      {object}  response.Response{data=service.AvailabilityResponse}
// @Failure      400      {object}  response.Response
// @Router       /api/stock/availability [post]
func (h *StockHandler) CheckAvailability(c *gin.Context) {
	var req service.AvailabilityRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, response.Error(http.StatusBadRequest, "Invalid request payload: "+err.Error()))
		return
	}

	res, err := h.stockService.CheckAvailability(c.Request.Context(), req)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, response.Success(http.StatusOK, res))
}

// FifoStatus lists all batches for a product at a location in consumption order
// @Summary      Get FIFO stock status
// @Description  Batch-level breakdown for a product at a location, oldest first
// @Tags         stock
// @Produce      json
// @Security     BearerAuth
// @Param        productId   path      string  true   "Product ID"
// @Param        location_id query     string  true   "Location ID"
// @Success      200         {object}  response.Response{data=service.FifoStatusResponse}
// @Failure      404         {object}  response.Response
// @Router       /api/stock/fifo/{productId} [get]
func (h *StockHandler) FifoStatus(c *gin.Context) {
	productID, err := uuid.Parse(c.Param("productId"))
	if err != nil {
		c.JSON(http.StatusBadRequest, response.Error(http.StatusBadRequest, "Invalid product id"))
		return
	}
	locationID, err := uuid.Parse(c.Query("location_id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, response.Error(http.StatusBadRequest, "Invalid location_id"))
		return
	}

	res, err := h.stockService.FifoStatus(c.Request.Context(), productID, locationID)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, response.Success(http.StatusOK, res))
}

// QuantityHistory lists the movement journal for a product, newest first
// @Summary      Get quantity history
// @Description  Paginated stock movement history for a product
// @Tags         stock
// @Produce      json
// @Security     BearerAuth
// @Param        productId   path      string  true   "Product ID"
// @Param        location_id query     string  false  "Filter by location"
// @Param        page        query     int     false  "Page number"
// @Param        limit       query     int     false  "Items per page"
// @Success      200         {object}  response.Response{data=object}
// @Router       /api/stock/history/{productId} [get]
func (h *StockHandler) QuantityHistory(c *gin.Context) {
	productID, err := uuid.Parse(c.Param("productId"))
	if err != nil {
		c.JSON(http.StatusBadRequest, response.Error(http.StatusBadRequest, "Invalid product id"))
		return
	}

	var locationID *uuid.UUID
	if raw := c.Query("location_id"); raw != "" {
		parsed, err := uuid.Parse(raw)
		if err != nil {
			c.JSON(http.StatusBadRequest, response.Error(http.StatusBadRequest, "Invalid location_id"))
			return
		}
		locationID = &parsed
	}

	params := pagination.Parse(c)
	movements, total, err := h.stockService.QuantityHistory(c.Request.Context(), productID, locationID, params.Page, params.Limit)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, response.Success(http.StatusOK, map[string]interface{}{
		"movements": movements,
		"total":     total,
		"page":      params.Page,
		"limit":     params.Limit,
	}))
}

// ExpiringBatches lists batches with stock expiring inside the window
// @Summary      Get expiring batches
// @Description  Batches with remaining stock that expire within the given number of days
// @Tags         stock
// @Produce      json
// @Security     BearerAuth
// @Param        location_id query     string  false  "Filter by location"
// @Param        days        query     int     false  "Window in days (default 30)"
// @Success      200         {object}  response.Response{data=object}
// @Router       /api/stock/expiring [get]
func (h *StockHandler) ExpiringBatches(c *gin.Context) {
	var locationID *uuid.UUID
	if raw := c.Query("location_id"); raw != "" {
		parsed, err := uuid.Parse(raw)
		if err != nil {
			c.JSON(http.StatusBadRequest, response.Error(http.StatusBadRequest, "Invalid location_id"))
			return
		}
		locationID = &parsed
	}
	days, _ := strconv.Atoi(c.DefaultQuery("days", "30"))

	batches, err := h.stockService.ExpiringBatches(c.Request.Context(), locationID, days)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, response.Success(http.StatusOK, map[string]interface{}{
		"batches": batches,
		"count":   len(batches),
	}))
}

// SyncStock rebuilds the aggregate stock cache from the batch table
// @Summary      Sync aggregate stock
// @Description  Recomputes cached quantities from batch remaining sums
// @Tags         stock
// @Produce      json
// @Security     BearerAuth
// @Success      200  {object}  response.Response{data=service.SyncStockResponse}
// @Router       /api/stock/sync [post]
func (h *StockHandler) SyncStock(c *gin.Context) {
	res, err := h.stockService.SyncStock(c.Request.Context(), currentUserID(c))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, response.Success(http.StatusOK, res))
}
