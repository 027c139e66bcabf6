package handler

import (
	"net/http"

	"stockledger/internal/middleware"
	"stockledger/internal/service"
	"stockledger/pkg/response"

	"github.com/gin-gonic/gin"
)

type MaintenanceHandler struct {
	reconcileService service.ReconcileService
}

func NewMaintenanceHandler(reconcileService service.ReconcileService) *MaintenanceHandler {
	return &MaintenanceHandler{reconcileService: reconcileService}
}

func (h *MaintenanceHandler) RegisterRoutes(router *gin.RouterGroup) {
	group := router.Group("/api/maintenance")
	group.Use(middleware.RequireRole("admin", "manager"))
	{
		group.GET("/batch-details/gaps", h.FindGaps)
		group.POST("/batch-details", h.RepairBatchDetails)
	}
}

// FindGaps lists transfer lines missing batch provenance
// @Summary      List provenance gaps
// @Description  Approved or completed transfer lines with no destination batch details
// @Tags         maintenance
// @Produce      json
// @Security     BearerAuth
// @Success      200  {object}  response.Response{data=object}
// @Router       /api/maintenance/batch-details/gaps [get]
func (h *MaintenanceHandler) FindGaps(c *gin.Context) {
	gaps, err := h.reconcileService.FindGaps(c.Request.Context())
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, response.Success(http.StatusOK, map[string]interface{}{
		"gaps":  gaps,
		"count": len(gaps),
	}))
}

// RepairBatchDetails backfills missing transfer provenance rows
// @Summary      Repair missing batch details
// @Description  Idempotent backfill of batch details for legacy or interrupted transfers
// @Tags         maintenance
// @Produce      json
// @Security     BearerAuth
// @Success      200  {object}  response.Response{data=service.RepairResult}
// @Router       /api/maintenance/batch-details [post]
func (h *MaintenanceHandler) RepairBatchDetails(c *gin.Context) {
	result, err := h.reconcileService.RepairAll(c.Request.Context(), currentUserID(c))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, response.Success(http.StatusOK, result))
}
