package api

import (
	"net/http"
	"strconv"

	"marketplace-service/internal/models"
	"marketplace-service/internal/service"

	"github.com/gin-gonic/gin"
)

// listProducts handles catalog browsing: ?q=&category=&page=&limit=
func (h *Handler) listProducts(c *gin.Context) {
	filter := models.ProductFilter{
		Search:   c.Query("q"),
		Category: c.Query("category"),
	}
	filter.Page, _ = strconv.Atoi(c.DefaultQuery("page", "1"))
	filter.Limit, _ = strconv.Atoi(c.Query("limit"))

	page, err := h.catalog.ListProducts(c.Request.Context(), filter)
	if err != nil {
		writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, page)
}

// getProduct handles get product by ID
func (h *Handler) getProduct(c *gin.Context) {
	productID, ok := idParam(c, "id", "product ID")
	if !ok {
		return
	}

	product, err := h.catalog.GetProduct(c.Request.Context(), productID)
	if err != nil {
		writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, product)
}

func (h *Handler) getAvailability(c *gin.Context) {
	productID, ok := idParam(c, "id", "product ID")
	if !ok {
		return
	}

	availability, err := h.catalog.GetAvailability(c.Request.Context(), productID)
	if err != nil {
		writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, availability)
}

func (h *Handler) listMyProducts(c *gin.Context) {
	products, err := h.catalog.ListOwnerProducts(c.Request.Context(), currentUser(c))
	if err != nil {
		writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"products": products})
}

// createProduct handles listing a new product
func (h *Handler) createProduct(c *gin.Context) {
	var req service.CreateProductRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "Invalid request body",
			"details": err.Error(),
		})
		return
	}

	product, err := h.catalog.CreateProduct(c.Request.Context(), currentUser(c), &req)
	if err != nil {
		writeError(c, err)
		return
	}

	c.JSON(http.StatusCreated, product)
}

func (h *Handler) updateProduct(c *gin.Context) {
	productID, ok := idParam(c, "id", "product ID")
	if !ok {
		return
	}

	var update models.ProductUpdate
	if err := c.ShouldBindJSON(&update); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "Invalid request body",
			"details": err.Error(),
		})
		return
	}

	product, err := h.catalog.UpdateProduct(c.Request.Context(), productID, currentUser(c), &update)
	if err != nil {
		writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, product)
}

func (h *Handler) deleteProduct(c *gin.Context) {
	productID, ok := idParam(c, "id", "product ID")
	if !ok {
		return
	}

	if err := h.catalog.DeleteProduct(c.Request.Context(), productID, currentUser(c)); err != nil {
		writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"message": "Product deleted"})
}
