package api

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"marketplace-service/internal/service"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Pinger reports whether a backing dependency is reachable
type Pinger interface {
	Ping(ctx context.Context) error
}

// Handler contains HTTP handlers
type Handler struct {
	catalog     *service.CatalogService
	cart        *service.CartService
	checkout    *service.CheckoutService
	auth        *Authenticator
	rateLimiter *RateLimiter
	readiness   Pinger
}

// NewHandler creates a new HTTP handler. rateLimiter may be nil.
func NewHandler(
	catalog *service.CatalogService,
	cart *service.CartService,
	checkout *service.CheckoutService,
	auth *Authenticator,
	rateLimiter *RateLimiter,
	readiness Pinger,
) *Handler {
	return &Handler{
		catalog:     catalog,
		cart:        cart,
		checkout:    checkout,
		auth:        auth,
		rateLimiter: rateLimiter,
		readiness:   readiness,
	}
}

// SetupRoutes sets up HTTP routes
func (h *Handler) SetupRoutes(router *gin.Engine) {
	router.Use(gin.Recovery())
	router.Use(prometheusMiddleware())
	router.Use(requestLogger())

	router.GET("/health", h.healthCheck)
	router.GET("/ready", h.readinessCheck)

	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	v1 := router.Group("/api/v1")
	if h.rateLimiter != nil {
		v1.Use(h.rateLimiter.Middleware())
	}
	{
		v1.GET("/products", h.listProducts)
		v1.GET("/products/:id", h.getProduct)
		v1.GET("/products/:id/availability", h.getAvailability)
	}

	authed := v1.Group("", h.auth.AuthRequired())
	{
		authed.GET("/products/mine", h.listMyProducts)
		authed.POST("/products", h.createProduct)
		authed.PUT("/products/:id", h.updateProduct)
		authed.DELETE("/products/:id", h.deleteProduct)

		authed.GET("/cart", h.getCart)
		authed.POST("/cart/items/:productId", h.addToCart)
		authed.PUT("/cart/items/:productId", h.updateCartItem)
		authed.DELETE("/cart/items/:productId", h.removeCartItem)
		authed.POST("/cart/checkout", h.checkoutCart)

		authed.GET("/purchases", h.listPurchases)
	}
}

// healthCheck handles health check requests
func (h *Handler) healthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status": "healthy",
		"time":   time.Now().Unix(),
	})
}

// readinessCheck reports ready only while the repository answers
func (h *Handler) readinessCheck(c *gin.Context) {
	if h.readiness != nil {
		ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
		defer cancel()
		if err := h.readiness.Ping(ctx); err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{
				"status": "unavailable",
				"time":   time.Now().Unix(),
			})
			return
		}
	}

	c.JSON(http.StatusOK, gin.H{
		"status": "ready",
		"time":   time.Now().Unix(),
	})
}

// idParam parses a positive integer path parameter, answering 400 when it is malformed
func idParam(c *gin.Context, name, label string) (int64, bool) {
	id, err := strconv.ParseInt(c.Param(name), 10, 64)
	if err != nil || id <= 0 {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "Invalid " + label,
		})
		return 0, false
	}
	return id, true
}
