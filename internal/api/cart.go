package api

import (
	"net/http"

	"marketplace-service/internal/service"

	"github.com/gin-gonic/gin"
)

type cartQuantityRequest struct {
	Quantity *int `json:"quantity"`
}

// bindQuantity reads {"quantity": n}; an empty body yields fallback
func bindQuantity(c *gin.Context, fallback int) (int, bool) {
	if c.Request.ContentLength == 0 {
		return fallback, true
	}

	var req cartQuantityRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "Invalid request body",
			"details": err.Error(),
		})
		return 0, false
	}
	if req.Quantity == nil {
		return fallback, true
	}
	return *req.Quantity, true
}

func (h *Handler) getCart(c *gin.Context) {
	lines, err := h.cart.GetCart(c.Request.Context(), currentUser(c))
	if err != nil {
		writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"items": lines})
}

func (h *Handler) addToCart(c *gin.Context) {
	productID, ok := idParam(c, "productId", "product ID")
	if !ok {
		return
	}
	quantity, ok := bindQuantity(c, 1)
	if !ok {
		return
	}

	entry, err := h.cart.AddToCart(c.Request.Context(), currentUser(c), productID, quantity)
	if err != nil {
		writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"message":    "Added to cart",
		"product_id": entry.ProductID,
		"quantity":   entry.Quantity,
	})
}

func (h *Handler) updateCartItem(c *gin.Context) {
	productID, ok := idParam(c, "productId", "product ID")
	if !ok {
		return
	}
	var req cartQuantityRequest
	if err := c.ShouldBindJSON(&req); err != nil || req.Quantity == nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "quantity is required",
		})
		return
	}

	if err := h.cart.UpdateQuantity(c.Request.Context(), currentUser(c), productID, *req.Quantity); err != nil {
		writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"message": "Cart updated"})
}

func (h *Handler) removeCartItem(c *gin.Context) {
	productID, ok := idParam(c, "productId", "product ID")
	if !ok {
		return
	}

	if err := h.cart.RemoveFromCart(c.Request.Context(), currentUser(c), productID); err != nil {
		writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"message": "Removed from cart"})
}

// checkoutCart handles checkout of the whole cart. An Idempotency-Key header
// makes retries return the first result.
func (h *Handler) checkoutCart(c *gin.Context) {
	result, err := h.checkout.Checkout(c.Request.Context(), service.CheckoutRequest{
		UserID:         currentUser(c),
		IdempotencyKey: c.GetHeader("Idempotency-Key"),
	})
	if err != nil {
		writeError(c, err)
		return
	}

	c.JSON(http.StatusCreated, result)
}

func (h *Handler) listPurchases(c *gin.Context) {
	purchases, err := h.checkout.ListPurchases(c.Request.Context(), currentUser(c))
	if err != nil {
		writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"purchases": purchases})
}
