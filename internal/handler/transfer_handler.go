package handler

import (
	"net/http"

	"stockledger/internal/middleware"
	"stockledger/internal/service"
	"stockledger/pkg/pagination"
	"stockledger/pkg/response"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

type TransferHandler struct {
	transferService service.TransferService
}

func NewTransferHandler(transferService service.TransferService) *TransferHandler {
	return &TransferHandler{transferService: transferService}
}

func (h *TransferHandler) RegisterRoutes(router *gin.RouterGroup) {
	group := router.Group("/api/transfers")
	group.Use(middleware.RequireRole("admin", "manager", "staff"))
	{
		group.POST("", middleware.RequirePermission("transfers.create"), h.CreateTransfer)
		group.POST("/fifo", middleware.RequirePermission("transfers.approve"), h.TransferWithConsumption)
		group.GET("", h.ListTransfers)
		group.GET("/:id", h.GetTransfer)
		group.PUT("/:id/status", middleware.RequirePermission("transfers.approve"), h.UpdateStatus)
		group.DELETE("/:id", middleware.RequirePermission("transfers.delete"), h.DeleteTransfer)
	}
}

// CreateTransfer registers a pending transfer request
// @Summary      Create transfer
// @Description  Creates a pending transfer between two locations; no stock moves yet
// @Tags         transfers
// @Accept       json
// @Produce      json
// @Security     BearerAuth
// @Param        payload  body      service.CreateTransferRequest  true  "Transfer Payload"
// @Success      201      {object}  response.Response{data=service.TransferResponse}
// @Failure      400      {object}  response.Response
// @Router       /api/transfers [post]
func (h *TransferHandler) CreateTransfer(c *gin.Context) {
	var req service.CreateTransferRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, response.Error(http.StatusBadRequest, "Invalid request payload: "+err.Error()))
		return
	}

	res, err := h.transferService.CreateTransfer(c.Request.Context(), currentUserID(c), req)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, response.Success(http.StatusCreated, res))
}

// TransferWithConsumption creates and immediately approves a transfer
// @Summary      FIFO transfer
// @Description  Creates a transfer and executes the FIFO stock movement in one call
// @Tags         transfers
// @Accept       json
// @Produce      json
// @Security     BearerAuth
// @Param        payload  body      service.CreateTransferRequest  true  "Transfer Payload"
// @Success      201      {object}  response.Response{data=service.TransferResponse}
// @Failure      400      {object}  response.Response
// @Failure      409      {object}  response.Response
// @Router       /api/transfers/fifo [post]
func (h *TransferHandler) TransferWithConsumption(c *gin.Context) {
	var req service.CreateTransferRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, response.Error(http.StatusBadRequest, "Invalid request payload: "+err.Error()))
		return
	}

	res, err := h.transferService.TransferWithConsumption(c.Request.Context(), currentUserID(c), req)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, response.Success(http.StatusCreated, res))
}

// ListTransfers lists transfers with optional status and location filters
// @Summary      List transfers
// @Description  Paginated transfer list, newest first
// @Tags         transfers
// @Produce      json
// @Security     BearerAuth
// @Param        status      query     string  false  "Filter by status"
// @Param        location_id query     string  false  "Filter by source or destination location"
// @Param        page        query     int     false  "Page number"
// @Param        limit       query     int     false  "Items per page"
// @Success      200         {object}  response.Response{data=object}
// @Router       /api/transfers [get]
func (h *TransferHandler) ListTransfers(c *gin.Context) {
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
	transfers, total, err := h.transferService.ListTransfers(c.Request.Context(), c.Query("status"), locationID, params.Page, params.Limit)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, response.Success(http.StatusOK, map[string]interface{}{
		"transfers": transfers,
		"total":     total,
		"page":      params.Page,
		"limit":     params.Limit,
	}))
}

// GetTransfer fetches one transfer with its batch-level provenance
// @Summary      Get transfer
// @Description  Transfer header, lines, and batch allocation details
// @Tags         transfers
// @Produce      json
// @Security     BearerAuth
// @Param        id   path      string  true  "Transfer ID"
// @Success      200  {object}  response.Response{data=object}
// @Failure      404  {object}  response.Response
// @Router       /api/transfers/{id} [get]
func (h *TransferHandler) GetTransfer(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, response.Error(http.StatusBadRequest, "Invalid transfer id"))
		return
	}

	transfer, batchDetails, err := h.transferService.GetTransfer(c.Request.Context(), id)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, response.Success(http.StatusOK, map[string]interface{}{
		"transfer":      transfer,
		"batch_details": batchDetails,
	}))
}

// UpdateStatus drives the transfer state machine
// @Summary      Update transfer status
// @Description  pending to approved/rejected, approved to completed. Approval moves the stock.
// @Tags         transfers
// @Accept       json
// @Produce      json
// @Security     BearerAuth
// @Param        id       path      string                               true  "Transfer ID"
// @Param        payload  body      service.UpdateTransferStatusRequest  true  "Target Status"
// @Success      200      {object}  response.Response{data=service.TransferResponse}
// @Failure      400      {object}  response.Response
// @Failure      409      {object}  response.Response
// @Router       /api/transfers/{id}/status [put]
func (h *TransferHandler) UpdateStatus(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, response.Error(http.StatusBadRequest, "Invalid transfer id"))
		return
	}

	var req service.UpdateTransferStatusRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, response.Error(http.StatusBadRequest, "Invalid request payload: "+err.Error()))
		return
	}

	res, err := h.transferService.UpdateStatus(c.Request.Context(), currentUserID(c), id, req)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, response.Success(http.StatusOK, res))
}

// DeleteTransfer removes a pending transfer or reverses an executed one
// @Summary      Delete transfer
// @Description  Pending transfers are deleted; approved/completed transfers are compensated and marked reversed
// @Tags         transfers
// @Produce      json
// @Security     BearerAuth
// @Param        id   path      string  true  "Transfer ID"
// @Success      200  {object}  response.Response
// @Failure      404  {object}  response.Response
// @Failure      409  {object}  response.Response
// @Router       /api/transfers/{id} [delete]
func (h *TransferHandler) DeleteTransfer(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, response.Error(http.StatusBadRequest, "Invalid transfer id"))
		return
	}

	if err := h.transferService.DeleteTransfer(c.Request.Context(), currentUserID(c), id); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, response.Success(http.StatusOK, "Transfer deleted"))
}
