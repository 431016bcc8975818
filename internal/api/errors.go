package api

import (
	"errors"
	"net/http"

	"marketplace-service/internal/models"
	"marketplace-service/internal/util"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// writeError maps a service failure to its HTTP status and body
func writeError(c *gin.Context, err error) {
	var verr *models.ValidationError
	if errors.As(err, &verr) {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":  "Validation failed",
			"code":   "VALIDATION_FAILED",
			"fields": verr.Fields,
		})
		return
	}

	var serr *models.StockError
	if errors.As(err, &serr) {
		c.JSON(http.StatusConflict, gin.H{
			"error":      serr.Error(),
			"code":       "INSUFFICIENT_STOCK",
			"product_id": serr.ProductID,
			"requested":  serr.Requested,
			"available":  serr.Available,
		})
		return
	}

	status, code := classify(err)
	if status == http.StatusInternalServerError || status == http.StatusServiceUnavailable {
		util.GetLogger().Error("Request failed",
			zap.String("path", c.FullPath()),
			zap.Error(err))
		c.JSON(status, gin.H{"error": http.StatusText(status), "code": code})
		return
	}
	c.JSON(status, gin.H{"error": err.Error(), "code": code})
}

func classify(err error) (int, string) {
	switch {
	case errors.Is(err, models.ErrNotFound):
		return http.StatusNotFound, "NOT_FOUND"
	case errors.Is(err, models.ErrNotInCart):
		return http.StatusNotFound, "NOT_IN_CART"
	case errors.Is(err, models.ErrNotOwner):
		return http.StatusForbidden, "NOT_OWNER"
	case errors.Is(err, models.ErrValidation):
		return http.StatusBadRequest, "VALIDATION_FAILED"
	case errors.Is(err, models.ErrAlreadySold):
		return http.StatusBadRequest, "ALREADY_SOLD"
	case errors.Is(err, models.ErrSelfPurchase):
		return http.StatusBadRequest, "SELF_PURCHASE"
	case errors.Is(err, models.ErrEmptyCart):
		return http.StatusBadRequest, "EMPTY_CART"
	case errors.Is(err, models.ErrInsufficientStock):
		return http.StatusConflict, "INSUFFICIENT_STOCK"
	case errors.Is(err, models.ErrConflict):
		return http.StatusConflict, "CONFLICT"
	case errors.Is(err, models.ErrCheckoutBusy):
		return http.StatusConflict, "CHECKOUT_IN_PROGRESS"
	case errors.Is(err, models.ErrUnavailable):
		return http.StatusServiceUnavailable, "UNAVAILABLE"
	default:
		return http.StatusInternalServerError, "INTERNAL"
	}
}
