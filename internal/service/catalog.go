package service

import (
	"context"
	"fmt"
	"math"
	"strings"

	"marketplace-service/internal/models"
	"marketplace-service/internal/store"
	"marketplace-service/internal/util"

	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
)

// CatalogService owns product listings and their availability
type CatalogService struct {
	store           store.Repository
	cache           AvailabilityCache
	eventPublisher  EventPublisher
	defaultPageSize int
	maxPageSize     int
	logger          *zap.Logger
}

// NewCatalogService creates a new catalog service. cache and eventPublisher may be nil.
func NewCatalogService(
	store store.Repository,
	cache AvailabilityCache,
	eventPublisher EventPublisher,
	defaultPageSize, maxPageSize int,
) *CatalogService {
	if cache == nil {
		cache = noopCache{}
	}
	if eventPublisher == nil {
		eventPublisher = noopPublisher{}
	}
	if defaultPageSize < 1 {
		defaultPageSize = 12
	}
	if maxPageSize < defaultPageSize {
		maxPageSize = defaultPageSize
	}
	return &CatalogService{
		store:           store,
		cache:           cache,
		eventPublisher:  eventPublisher,
		defaultPageSize: defaultPageSize,
		maxPageSize:     maxPageSize,
		logger:          util.GetLogger(),
	}
}

// CreateProductRequest represents a new listing
type CreateProductRequest struct {
	Title       string `json:"title" validate:"required,max=100"`
	Description string `json:"description" validate:"required,max=1000"`
	Category    string `json:"category" validate:"required,category"`
	PriceCents  *int64 `json:"price_cents" validate:"required,min=0"`
	Quantity    int    `json:"quantity" validate:"required,min=1,max=10000"`
	ImageURL    string `json:"image_url" validate:"omitempty,url"`
}

// CreateProduct lists a new product owned by ownerID
func (s *CatalogService) CreateProduct(ctx context.Context, ownerID int64, req *CreateProductRequest) (*models.Product, error) {
	ctx, span := util.StartSpan(ctx, "CatalogService.CreateProduct", attribute.Int64("owner_id", ownerID))
	var err error
	defer func() { util.EndSpan(span, err) }()

	req.Title = strings.TrimSpace(req.Title)
	req.Description = strings.TrimSpace(req.Description)
	req.ImageURL = strings.TrimSpace(req.ImageURL)
	if err = validateStruct(req); err != nil {
		return nil, err
	}

	product := &models.Product{
		OwnerID:     ownerID,
		Title:       req.Title,
		Description: req.Description,
		Category:    req.Category,
		PriceCents:  *req.PriceCents,
		Quantity:    req.Quantity,
		ImageURL:    req.ImageURL,
	}
	if product.ImageURL == "" {
		product.ImageURL = models.DefaultImage
	}

	if err = s.store.CreateProduct(ctx, product); err != nil {
		return nil, fmt.Errorf("failed to create product: %w", err)
	}

	util.ProductsCreatedTotal.Inc()
	s.logger.Info("Product created",
		zap.Int64("product_id", product.ID),
		zap.Int64("owner_id", ownerID),
		zap.Int("quantity", product.Quantity))

	s.announceChange(ctx, models.EventTypeProductCreated, product)
	return product, nil
}

// GetProduct retrieves a product by ID
func (s *CatalogService) GetProduct(ctx context.Context, productID int64) (*models.Product, error) {
	return s.store.GetProductByID(ctx, productID)
}

// ListProducts returns a page of unsold listings, newest first
func (s *CatalogService) ListProducts(ctx context.Context, filter models.ProductFilter) (*models.ProductPage, error) {
	ctx, span := util.StartSpan(ctx, "CatalogService.ListProducts")
	var err error
	defer func() { util.EndSpan(span, err) }()

	filter = s.normalizeFilter(filter)

	products, total, err := s.store.ListAvailableProducts(ctx, filter)
	if err != nil {
		return nil, fmt.Errorf("failed to list products: %w", err)
	}

	return &models.ProductPage{
		Products:    products,
		Total:       total,
		TotalPages:  int(math.Ceil(float64(total) / float64(filter.Limit))),
		CurrentPage: filter.Page,
	}, nil
}

func (s *CatalogService) normalizeFilter(f models.ProductFilter) models.ProductFilter {
	f.Search = strings.TrimSpace(f.Search)
	f.Category = strings.TrimSpace(f.Category)
	if f.Page < 1 {
		f.Page = 1
	}
	if f.Limit < 1 {
		f.Limit = s.defaultPageSize
	}
	if f.Limit > s.maxPageSize {
		f.Limit = s.maxPageSize
	}
	return f
}

// ListOwnerProducts returns every listing of ownerID, sold ones included
func (s *CatalogService) ListOwnerProducts(ctx context.Context, ownerID int64) ([]models.Product, error) {
	return s.store.ListProductsByOwner(ctx, ownerID)
}

// UpdateProduct applies an owner's edit. Setting a quantity recomputes the
// sold flag, so a restocked listing becomes purchasable again.
func (s *CatalogService) UpdateProduct(ctx context.Context, productID, requesterID int64, update *models.ProductUpdate) (*models.Product, error) {
	ctx, span := util.StartSpan(ctx, "CatalogService.UpdateProduct", attribute.Int64("product_id", productID))
	var err error
	defer func() { util.EndSpan(span, err) }()

	product, err := s.store.GetProductByID(ctx, productID)
	if err != nil {
		return nil, err
	}
	if product.OwnerID != requesterID {
		err = models.ErrNotOwner
		return nil, err
	}

	trimUpdate(update)
	if err = validateStruct(update); err != nil {
		return nil, err
	}
	applyUpdate(product, update)

	if err = s.store.UpdateProduct(ctx, product); err != nil {
		return nil, err
	}

	s.logger.Info("Product updated",
		zap.Int64("product_id", product.ID),
		zap.Int("quantity", product.Quantity),
		zap.Bool("is_sold", product.IsSold))

	s.announceChange(ctx, models.EventTypeProductUpdated, product)
	return product, nil
}

// trimUpdate drops text fields that are blank after trimming; they keep
// their stored value
func trimUpdate(u *models.ProductUpdate) {
	for _, field := range []**string{&u.Title, &u.Description, &u.Category, &u.ImageURL} {
		if *field == nil {
			continue
		}
		v := strings.TrimSpace(**field)
		if v == "" {
			*field = nil
			continue
		}
		*field = &v
	}
}

func applyUpdate(p *models.Product, u *models.ProductUpdate) {
	if u.Title != nil {
		p.Title = *u.Title
	}
	if u.Description != nil {
		p.Description = *u.Description
	}
	if u.Category != nil {
		p.Category = *u.Category
	}
	if u.PriceCents != nil {
		p.PriceCents = *u.PriceCents
	}
	if u.ImageURL != nil {
		p.ImageURL = *u.ImageURL
	}
	if u.Quantity != nil {
		p.Quantity = *u.Quantity
		p.IsSold = p.Quantity == 0
	}
}

// DeleteProduct removes an owner's listing
func (s *CatalogService) DeleteProduct(ctx context.Context, productID, requesterID int64) error {
	ctx, span := util.StartSpan(ctx, "CatalogService.DeleteProduct", attribute.Int64("product_id", productID))
	var err error
	defer func() { util.EndSpan(span, err) }()

	product, err := s.store.GetProductByID(ctx, productID)
	if err != nil {
		return err
	}
	if product.OwnerID != requesterID {
		err = models.ErrNotOwner
		return err
	}

	deletedAt, err := s.store.DeleteProduct(ctx, productID)
	if err != nil {
		return err
	}
	product.UpdatedAt = deletedAt

	util.ProductsDeletedTotal.Inc()
	s.logger.Info("Product deleted", zap.Int64("product_id", productID))

	if err := s.cache.EvictAvailability(ctx, productID, deletedAt.UnixMicro()); err != nil {
		s.logger.Warn("Failed to evict availability", zap.Int64("product_id", productID), zap.Error(err))
	}
	if err := s.eventPublisher.PublishProductDeleted(ctx, product); err != nil {
		s.logger.Error("Failed to publish ProductDeleted event", zap.Error(err))
	}
	return nil
}

// GetAvailability returns the quantity and sold state of a product, served
// from the cache when a snapshot is present
func (s *CatalogService) GetAvailability(ctx context.Context, productID int64) (*models.Availability, error) {
	ctx, span := util.StartSpan(ctx, "CatalogService.GetAvailability", attribute.Int64("product_id", productID))
	var err error
	defer func() { util.EndSpan(span, err) }()

	cached, cacheErr := s.cache.GetAvailability(ctx, productID)
	if cacheErr != nil {
		util.AvailabilityCacheTotal.WithLabelValues("error").Inc()
		s.logger.Warn("Availability cache read failed, falling back to store",
			zap.Int64("product_id", productID),
			zap.Error(cacheErr))
	}
	if cached != nil {
		util.AvailabilityCacheTotal.WithLabelValues("hit").Inc()
		return cached, nil
	}
	util.AvailabilityCacheTotal.WithLabelValues("miss").Inc()

	product, err := s.store.GetProductByID(ctx, productID)
	if err != nil {
		return nil, err
	}

	a := product.Availability()
	s.cacheAvailability(ctx, a)
	return &a, nil
}

func (s *CatalogService) cacheAvailability(ctx context.Context, a models.Availability) {
	if _, err := s.cache.SetAvailability(ctx, a); err != nil {
		s.logger.Warn("Failed to cache availability",
			zap.Int64("product_id", a.ProductID),
			zap.Error(err))
	}
}

func (s *CatalogService) announceChange(ctx context.Context, eventType string, p *models.Product) {
	s.cacheAvailability(ctx, p.Availability())
	if err := s.eventPublisher.PublishProductChanged(ctx, eventType, p); err != nil {
		s.logger.Error("Failed to publish product event",
			zap.String("event_type", eventType),
			zap.Int64("product_id", p.ID),
			zap.Error(err))
	}
}
