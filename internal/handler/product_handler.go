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

type ProductHandler struct {
	productService service.ProductService
}

func NewProductHandler(productService service.ProductService) *ProductHandler {
	return &ProductHandler{productService: productService}
}

func (h *ProductHandler) RegisterRoutes(router *gin.RouterGroup) {
	api := router.Group("/api")
	{
		api.GET("/products", middleware.RequirePermission("inventory.read"), h.GetProducts)
		api.GET("/products/:id", middleware.RequirePermission("inventory.read"), h.GetProduct)
		api.POST("/products", middleware.RequirePermission("inventory.write"), h.CreateProduct)
		api.PUT("/products/:id", middleware.RequirePermission("inventory.write"), h.UpdateProduct)
		api.DELETE("/products/:id", middleware.RequirePermission("inventory.write"), h.DeleteProduct)

		api.GET("/locations", middleware.RequirePermission("inventory.read"), h.ListLocations)
		api.POST("/locations", middleware.RequirePermission("inventory.write"), h.CreateLocation)

		api.GET("/pos/inventory", middleware.RequirePermission("inventory.read"), h.PosInventory)
	}
}

// GetProducts handles retrieving paginated products
// @Summary      Get products
// @Description  Retrieves a paginated list of products
// @Tags         inventory
// @Security     BearerAuth
// @Produce      json
// @Param        page    query     int     false  "Page number (default 1)"
// @Param        limit   query     int     false  "Number of items per page (default 20)"
// @Param        search  query     string  false  "Search by product name or barcode"
// @Success      200    {object}  response.Response{data=object}
// @Failure      500    {object}  response.Response
// @Router       /api/products [get]
func (h *ProductHandler) GetProducts(c *gin.Context) {
	params := pagination.Parse(c)
	search := c.Query("search")

	products, total, err := h.productService.GetProducts(c.Request.Context(), params.Page, params.Limit, search)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, response.Success(http.StatusOK, map[string]interface{}{
		"products": products,
		"total":    total,
		"page":     params.Page,
		"limit":    params.Limit,
	}))
}

// GetProduct fetches a single product by id
// @Summary      Get product
// @Description  Fetch one product by UUID
// @Tags         inventory
// @Security     BearerAuth
// @Produce      json
// @Param        id   path      string  true  "Product ID"
// @Success      200  {object}  response.Response{data=service.ProductResponse}
// @Failure      404  {object}  response.Response
// @Router       /api/products/{id} [get]
func (h *ProductHandler) GetProduct(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, response.Error(http.StatusBadRequest, "Invalid product id"))
		return
	}

	product, err := h.productService.GetProduct(c.Request.Context(), id)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, response.Success(http.StatusOK, product))
}

// CreateProduct registers a new product
// @Summary      Create product
// @Description  Creates a product with pricing details
// @Tags         inventory
// @Accept       json
// @Produce      json
// @Security     BearerAuth
// @Param        payload  body      service.CreateProductRequest  true  "Product Payload"
// @Success      201      {object}  response.Response{data=service.ProductResponse}
// @Failure      400      {object}  response.Response
// @Router       /api/products [post]
func (h *ProductHandler) CreateProduct(c *gin.Context) {
	var req service.CreateProductRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, response.Error(http.StatusBadRequest, "Invalid request payload: "+err.Error()))
		return
	}

	product, err := h.productService.CreateProduct(c.Request.Context(), currentUserID(c), req)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, response.Success(http.StatusCreated, product))
}

// UpdateProduct mutates an existing product
// @Summary      Update product
// @Description  Updates product fields by UUID
// @Tags         inventory
// @Accept       json
// @Produce      json
// @Security     BearerAuth
// @Param        id       path      string                        true  "Product ID"
// @Param        payload  body      service.UpdateProductRequest  true  "Product Payload"
// @Success      200      {object}  response.Response{data=service.ProductResponse}
// @Failure      400      {object}  response.Response
// @Router       /api/products/{id} [put]
func (h *ProductHandler) UpdateProduct(c *gin.Context) {
	var req service.UpdateProductRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, response.Error(http.StatusBadRequest, "Invalid request payload: "+err.Error()))
		return
	}

	product, err := h.productService.UpdateProduct(c.Request.Context(), currentUserID(c), c.Param("id"), req)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, response.Success(http.StatusOK, product))
}

// DeleteProduct soft deletes a product
// @Summary      Delete product
// @Description  Soft deletes a product by UUID; its batches and movements remain on record
// @Tags         inventory
// @Produce      json
// @Security     BearerAuth
// @Param        id   path      string  true  "Product ID"
// @Success      200  {object}  response.Response
// @Failure      404  {object}  response.Response
// @Router       /api/products/{id} [delete]
func (h *ProductHandler) DeleteProduct(c *gin.Context) {
	if err := h.productService.DeleteProduct(c.Request.Context(), currentUserID(c), c.Param("id")); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, response.Success(http.StatusOK, "Product deleted successfully"))
}

// ListLocations lists all stock locations
// @Summary      List locations
// @Tags         inventory
// @Produce      json
// @Security     BearerAuth
// @Success      200  {object}  response.Response{data=object}
// @Router       /api/locations [get]
func (h *ProductHandler) ListLocations(c *gin.Context) {
	locations, err := h.productService.ListLocations(c.Request.Context())
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, response.Success(http.StatusOK, map[string]interface{}{
		"locations": locations,
	}))
}

// CreateLocation registers a new stock location
// @Summary      Create location
// @Tags         inventory
// @Accept       json
// @Produce      json
// @Security     BearerAuth
// @Param        payload  body      service.CreateLocationRequest  true  "Location Payload"
// @Success      201      {object}  response.Response{data=service.LocationResponse}
// @Failure      400      {object}  response.Response
// @Router       /api/locations [post]
func (h *ProductHandler) CreateLocation(c *gin.Context) {
	var req service.CreateLocationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, response.Error(http.StatusBadRequest, "Invalid request payload: "+err.Error()))
		return
	}

	location, err := h.productService.CreateLocation(c.Request.Context(), currentUserID(c), req)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, response.Success(http.StatusCreated, location))
}

// PosInventory lists products with live quantity and status label for a location
// @Summary      POS inventory snapshot
// @Description  Products with cached quantity and in/low/out status for one location
// @Tags         inventory
// @Produce      json
// @Security     BearerAuth
// @Param        location_id query     string  true   "Location ID"
// @Param        page        query     int     false  "Page number"
// @Param        limit       query     int     false  "Items per page"
// @Param        search      query     string  false  "Search by product name or barcode"
// @Success      200         {object}  response.Response{data=object}
// @Failure      404         {object}  response.Response
// @Router       /api/pos/inventory [get]
func (h *ProductHandler) PosInventory(c *gin.Context) {
	locationID, err := uuid.Parse(c.Query("location_id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, response.Error(http.StatusBadRequest, "Invalid location_id"))
		return
	}

	params := pagination.Parse(c)
	rows, total, err := h.productService.PosInventory(c.Request.Context(), locationID, params.Page, params.Limit, c.Query("search"))
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, response.Success(http.StatusOK, map[string]interface{}{
		"items": rows,
		"total": total,
		"page":  params.Page,
		"limit": params.Limit,
	}))
}
