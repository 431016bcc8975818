package service

import (
	"context"
	"errors"
	"math"
	"strings"
	"sync"
	"testing"

	"marketplace-service/internal/models"
	"marketplace-service/internal/store"

	"github.com/stretchr/testify/suite"
	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

const (
	sellerID int64 = 1
	buyerB   int64 = 2
	buyerC   int64 = 3
)

type MarketplaceSuite struct {
	suite.Suite
	ctx         context.Context
	repo        *store.MemoryStore
	cache       *memoryCache
	idempotency *memoryIdempotency
	events      *recordingPublisher
	catalog     *CatalogService
	cart        *CartService
	checkout    *CheckoutService
}

func TestMarketplaceSuite(t *testing.T) {
	suite.Run(t, new(MarketplaceSuite))
}

func (s *MarketplaceSuite) SetupTest() {
	s.ctx = context.Background()
	s.repo = store.NewMemoryStore()
	s.cache = newMemoryCache()
	s.idempotency = newMemoryIdempotency()
	s.events = &recordingPublisher{}
	s.catalog = NewCatalogService(s.repo, s.cache, s.events, 12, 100)
	s.cart = NewCartService(s.repo)
	s.checkout = NewCheckoutService(s.repo, s.idempotency, s.cache, s.events, CheckoutConfig{})
}

func (s *MarketplaceSuite) listProduct(ownerID int64, title string, quantity int) *models.Product {
	price := int64(2500)
	p, err := s.catalog.CreateProduct(s.ctx, ownerID, &CreateProductRequest{
		Title:       title,
		Description: "Gently used " + strings.ToLower(title),
		Category:    models.CategoryElectronics,
		PriceCents:  &price,
		Quantity:    quantity,
	})
	s.Require().NoError(err)
	return p
}

func (s *MarketplaceSuite) product(id int64) *models.Product {
	p, err := s.repo.GetProductByID(s.ctx, id)
	s.Require().NoError(err)
	return p
}

func (s *MarketplaceSuite) cartOf(userID int64) []models.CartLine {
	lines, err := s.cart.GetCart(s.ctx, userID)
	s.Require().NoError(err)
	return lines
}

func (s *MarketplaceSuite) purchasesOf(userID int64) []models.PurchaseRecord {
	records, err := s.checkout.ListPurchases(s.ctx, userID)
	s.Require().NoError(err)
	return records
}

func (s *MarketplaceSuite) assertSoldFlagsConsistent() {
	products, err := s.repo.ListProductsByOwner(s.ctx, sellerID)
	s.Require().NoError(err)
	for _, p := range products {
		s.GreaterOrEqual(p.Quantity, 0, "product %d", p.ID)
		s.Equal(p.Quantity == 0, p.IsSold, "product %d", p.ID)
	}
}

func (s *MarketplaceSuite) TestUpdateQuantityBeyondStockKeepsEntry() {
	p := s.listProduct(sellerID, "Camera", 3)

	entry, err := s.cart.AddToCart(s.ctx, buyerB, p.ID, 2)
	s.Require().NoError(err)
	s.Equal(2, entry.Quantity)

	lines := s.cartOf(buyerB)
	s.Require().Len(lines, 1)
	s.Equal(2, lines[0].Quantity)

	err = s.cart.UpdateQuantity(s.ctx, buyerB, p.ID, 5)
	s.ErrorIs(err, models.ErrInsufficientStock)

	lines = s.cartOf(buyerB)
	s.Require().Len(lines, 1)
	s.Equal(2, lines[0].Quantity)
}

func (s *MarketplaceSuite) TestCheckoutDecrementsAndRecordsPerUnit() {
	p := s.listProduct(sellerID, "Camera", 3)
	_, err := s.cart.AddToCart(s.ctx, buyerB, p.ID, 2)
	s.Require().NoError(err)

	result, err := s.checkout.Checkout(s.ctx, CheckoutRequest{UserID: buyerB})
	s.Require().NoError(err)
	s.Equal(2, result.Units)
	s.Equal(int64(5000), result.TotalCents)

	got := s.product(p.ID)
	s.Equal(1, got.Quantity)
	s.False(got.IsSold)

	records := s.purchasesOf(buyerB)
	s.Require().Len(records, 2)
	for _, r := range records {
		s.Equal(buyerB, r.UserID)
		s.Equal(p.ID, r.ProductID)
		s.Equal(result.CheckoutID, r.CheckoutID)
	}
	s.Empty(s.cartOf(buyerB))
	s.assertSoldFlagsConsistent()
}

func (s *MarketplaceSuite) TestConcurrentCheckoutsOfLastUnit() {
	p := s.listProduct(sellerID, "Camera", 1)
	_, err := s.cart.AddToCart(s.ctx, buyerB, p.ID, 1)
	s.Require().NoError(err)
	_, err = s.cart.AddToCart(s.ctx, buyerC, p.ID, 1)
	s.Require().NoError(err)

	errs := s.checkoutConcurrently(buyerB, buyerC)

	var succeeded, rejected int
	for _, err := range errs {
		switch {
		case err == nil:
			succeeded++
		case errors.Is(err, models.ErrInsufficientStock):
			rejected++
		default:
			s.Failf("unexpected error", "%v", err)
		}
	}
	s.Equal(1, succeeded)
	s.Equal(1, rejected)

	got := s.product(p.ID)
	s.Equal(0, got.Quantity)
	s.True(got.IsSold)
	s.Len(append(s.purchasesOf(buyerB), s.purchasesOf(buyerC)...), 1)
}

func (s *MarketplaceSuite) TestOwnerCannotBuyOwnListing() {
	p := s.listProduct(sellerID, "Camera", 3)

	_, err := s.cart.AddToCart(s.ctx, sellerID, p.ID, 1)
	s.ErrorIs(err, models.ErrSelfPurchase)
	s.Empty(s.cartOf(sellerID))
}

func (s *MarketplaceSuite) checkoutConcurrently(users ...int64) []error {
	errs := make([]error, len(users))
	start := make(chan struct{})
	var wg sync.WaitGroup
	for i, userID := range users {
		wg.Add(1)
		go func(i int, userID int64) {
			defer wg.Done()
			<-start
			_, errs[i] = s.checkout.Checkout(s.ctx, CheckoutRequest{UserID: userID})
		}(i, userID)
	}
	close(start)
	wg.Wait()
	return errs
}

func (s *MarketplaceSuite) TestNoOverdrawUnderConcurrency() {
	const stock, perBuyer, buyers = 5, 2, 8
	p := s.listProduct(sellerID, "Headphones", stock)

	users := make([]int64, 0, buyers)
	for i := 0; i < buyers; i++ {
		userID := int64(100 + i)
		_, err := s.cart.AddToCart(s.ctx, userID, p.ID, perBuyer)
		s.Require().NoError(err)
		users = append(users, userID)
	}

	errs := s.checkoutConcurrently(users...)

	succeeded := 0
	purchased := 0
	for i, err := range errs {
		if err == nil {
			succeeded++
			purchased += len(s.purchasesOf(users[i]))
			continue
		}
		s.ErrorIs(err, models.ErrInsufficientStock)
		s.Len(s.cartOf(users[i]), 1, "a rejected checkout keeps its cart")
	}

	got := s.product(p.ID)
	s.Equal(stock/perBuyer, succeeded)
	s.Equal(succeeded*perBuyer, purchased)
	s.Equal(stock-succeeded*perBuyer, got.Quantity)
	s.GreaterOrEqual(got.Quantity, 0)
}

func (s *MarketplaceSuite) TestConcurrentCheckoutsOfSameCart() {
	p := s.listProduct(sellerID, "Headphones", 5)
	_, err := s.cart.AddToCart(s.ctx, buyerB, p.ID, 2)
	s.Require().NoError(err)

	errs := s.checkoutConcurrently(buyerB, buyerB)

	var succeeded, empty int
	for _, err := range errs {
		if err == nil {
			succeeded++
		} else if errors.Is(err, models.ErrEmptyCart) {
			empty++
		}
	}
	s.Equal(1, succeeded)
	s.Equal(1, empty)
	s.Equal(3, s.product(p.ID).Quantity)
	s.Len(s.purchasesOf(buyerB), 2)
}

func (s *MarketplaceSuite) TestCheckoutIsAllOrNothing() {
	camera := s.listProduct(sellerID, "Camera", 3)
	tripod := s.listProduct(sellerID, "Tripod", 2)

	_, err := s.cart.AddToCart(s.ctx, buyerB, camera.ID, 1)
	s.Require().NoError(err)
	_, err = s.cart.AddToCart(s.ctx, buyerB, tripod.ID, 2)
	s.Require().NoError(err)

	// the seller lowers the stock after the tripod went into the cart
	one := 1
	_, err = s.catalog.UpdateProduct(s.ctx, tripod.ID, sellerID, &models.ProductUpdate{Quantity: &one})
	s.Require().NoError(err)

	_, err = s.checkout.Checkout(s.ctx, CheckoutRequest{UserID: buyerB})
	var stockErr *models.StockError
	s.Require().True(errors.As(err, &stockErr))
	s.Equal(tripod.ID, stockErr.ProductID)
	s.Equal(2, stockErr.Requested)
	s.Equal(1, stockErr.Available)

	s.Equal(3, s.product(camera.ID).Quantity)
	s.Equal(1, s.product(tripod.ID).Quantity)
	s.Len(s.cartOf(buyerB), 2)
	s.Empty(s.purchasesOf(buyerB))
}

// flakyRepository records the products a checkout decrements and fails the
// nth decrement when failOn is set
type flakyRepository struct {
	*store.MemoryStore
	failOn      int
	decremented []int64
}

type flakyTx struct {
	store.Tx
	repo  *flakyRepository
	calls int
}

func (t *flakyTx) DecrementStock(ctx context.Context, productID int64, amount int) (*models.Product, error) {
	t.calls++
	t.repo.decremented = append(t.repo.decremented, productID)
	if t.calls == t.repo.failOn {
		return nil, models.ErrUnavailable
	}
	return t.Tx.DecrementStock(ctx, productID, amount)
}

func (r *flakyRepository) WithinTx(ctx context.Context, fn func(tx store.Tx) error) error {
	return r.MemoryStore.WithinTx(ctx, func(tx store.Tx) error {
		return fn(&flakyTx{Tx: tx, repo: r})
	})
}

func (s *MarketplaceSuite) TestCheckoutDecrementsInProductIDOrder() {
	first := s.listProduct(sellerID, "Camera", 2)
	second := s.listProduct(sellerID, "Tripod", 2)
	third := s.listProduct(sellerID, "Lens", 2)

	// added newest listing first, so cart order is the reverse of id order
	for _, p := range []*models.Product{third, first, second} {
		_, err := s.cart.AddToCart(s.ctx, buyerB, p.ID, 1)
		s.Require().NoError(err)
	}

	repo := &flakyRepository{MemoryStore: s.repo}
	_, err := NewCheckoutService(repo, nil, nil, nil, CheckoutConfig{}).
		Checkout(s.ctx, CheckoutRequest{UserID: buyerB})
	s.Require().NoError(err)
	s.Equal([]int64{first.ID, second.ID, third.ID}, repo.decremented)
}

func (s *MarketplaceSuite) TestCommitFailureLeavesNoPartialCheckout() {
	camera := s.listProduct(sellerID, "Camera", 3)
	tripod := s.listProduct(sellerID, "Tripod", 2)
	_, err := s.cart.AddToCart(s.ctx, buyerB, camera.ID, 3)
	s.Require().NoError(err)
	_, err = s.cart.AddToCart(s.ctx, buyerB, tripod.ID, 1)
	s.Require().NoError(err)

	flaky := NewCheckoutService(&flakyRepository{MemoryStore: s.repo, failOn: 2}, nil, nil, nil, CheckoutConfig{})
	_, err = flaky.Checkout(s.ctx, CheckoutRequest{UserID: buyerB})
	s.ErrorIs(err, models.ErrUnavailable)

	got := s.product(camera.ID)
	s.Equal(3, got.Quantity)
	s.False(got.IsSold)
	s.Equal(2, s.product(tripod.ID).Quantity)
	s.Len(s.cartOf(buyerB), 2)
	s.Empty(s.purchasesOf(buyerB))
}

func (s *MarketplaceSuite) TestCheckoutEmptyCart() {
	_, err := s.checkout.Checkout(s.ctx, CheckoutRequest{UserID: buyerB})
	s.ErrorIs(err, models.ErrEmptyCart)
}

func (s *MarketplaceSuite) TestCheckoutReplaysIdempotencyKey() {
	p := s.listProduct(sellerID, "Camera", 3)
	_, err := s.cart.AddToCart(s.ctx, buyerB, p.ID, 1)
	s.Require().NoError(err)

	req := CheckoutRequest{UserID: buyerB, IdempotencyKey: "retry-1"}
	first, err := s.checkout.Checkout(s.ctx, req)
	s.Require().NoError(err)

	second, err := s.checkout.Checkout(s.ctx, req)
	s.Require().NoError(err)
	s.Equal(first.CheckoutID, second.CheckoutID)
	s.Equal(first.Units, second.Units)

	s.Equal(2, s.product(p.ID).Quantity)
	s.Len(s.purchasesOf(buyerB), 1)

	// the key is scoped to the user
	_, err = s.checkout.Checkout(s.ctx, CheckoutRequest{UserID: buyerC, IdempotencyKey: "retry-1"})
	s.ErrorIs(err, models.ErrEmptyCart)
}

func (s *MarketplaceSuite) TestCheckoutBusyWhileKeyLocked() {
	p := s.listProduct(sellerID, "Camera", 3)
	_, err := s.cart.AddToCart(s.ctx, buyerB, p.ID, 1)
	s.Require().NoError(err)

	token, ok, err := s.idempotency.AcquireLock(s.ctx, "checkout:2:retry-1", 0)
	s.Require().NoError(err)
	s.Require().True(ok)

	_, err = s.checkout.Checkout(s.ctx, CheckoutRequest{UserID: buyerB, IdempotencyKey: "retry-1"})
	s.ErrorIs(err, models.ErrCheckoutBusy)
	s.Equal(3, s.product(p.ID).Quantity)
	s.Equal(token, s.idempotency.holder("checkout:2:retry-1"), "a rejected checkout leaves the holder's lock")
}

func (s *MarketplaceSuite) TestCheckoutAnnouncesSoldOut() {
	p := s.listProduct(sellerID, "Camera", 1)
	_, err := s.cart.AddToCart(s.ctx, buyerB, p.ID, 1)
	s.Require().NoError(err)

	_, err = s.checkout.Checkout(s.ctx, CheckoutRequest{UserID: buyerB})
	s.Require().NoError(err)

	s.Equal([]string{
		models.EventTypeProductCreated,
		models.EventTypeProductSoldOut,
		models.EventTypeCheckoutCompleted,
	}, s.events.types())

	a, err := s.catalog.GetAvailability(s.ctx, p.ID)
	s.Require().NoError(err)
	s.Equal(0, a.Quantity)
	s.True(a.IsSold)
}

func (s *MarketplaceSuite) TestAddToCartChecks() {
	p := s.listProduct(sellerID, "Camera", 3)

	_, err := s.cart.AddToCart(s.ctx, buyerB, 999, 1)
	s.ErrorIs(err, models.ErrNotFound)

	_, err = s.cart.AddToCart(s.ctx, buyerB, p.ID, 0)
	s.ErrorIs(err, models.ErrValidation)

	_, err = s.cart.AddToCart(s.ctx, buyerB, p.ID, 4)
	s.ErrorIs(err, models.ErrInsufficientStock)

	_, err = s.cart.AddToCart(s.ctx, buyerB, p.ID, 2)
	s.Require().NoError(err)
	entry, err := s.cart.AddToCart(s.ctx, buyerB, p.ID, 1)
	s.Require().NoError(err)
	s.Equal(3, entry.Quantity, "adding again increments the entry")

	_, err = s.cart.AddToCart(s.ctx, buyerB, p.ID, 1)
	var stockErr *models.StockError
	s.Require().True(errors.As(err, &stockErr))
	s.Equal(4, stockErr.Requested)
	s.Equal(3, stockErr.Available)
	s.Len(s.cartOf(buyerB), 1)
}

func (s *MarketplaceSuite) TestAddToCartRejectsSoldProduct() {
	p := s.listProduct(sellerID, "Camera", 1)
	_, err := s.cart.AddToCart(s.ctx, buyerB, p.ID, 1)
	s.Require().NoError(err)
	_, err = s.checkout.Checkout(s.ctx, CheckoutRequest{UserID: buyerB})
	s.Require().NoError(err)

	_, err = s.cart.AddToCart(s.ctx, buyerC, p.ID, 1)
	s.ErrorIs(err, models.ErrAlreadySold)
}

func (s *MarketplaceSuite) TestUpdateQuantity() {
	p := s.listProduct(sellerID, "Camera", 3)

	err := s.cart.UpdateQuantity(s.ctx, buyerB, p.ID, 2)
	s.ErrorIs(err, models.ErrNotInCart)

	err = s.cart.UpdateQuantity(s.ctx, buyerB, 999, 2)
	s.ErrorIs(err, models.ErrNotFound)

	_, err = s.cart.AddToCart(s.ctx, buyerB, p.ID, 1)
	s.Require().NoError(err)

	s.Require().NoError(s.cart.UpdateQuantity(s.ctx, buyerB, p.ID, 3))
	s.Equal(3, s.cartOf(buyerB)[0].Quantity, "update sets, it does not add")

	s.Require().NoError(s.cart.UpdateQuantity(s.ctx, buyerB, p.ID, 0))
	s.Empty(s.cartOf(buyerB))
}

func (s *MarketplaceSuite) TestRemoveFromCartIsIdempotent() {
	p := s.listProduct(sellerID, "Camera", 3)
	other := s.listProduct(sellerID, "Tripod", 3)
	_, err := s.cart.AddToCart(s.ctx, buyerB, other.ID, 1)
	s.Require().NoError(err)

	s.NoError(s.cart.RemoveFromCart(s.ctx, buyerB, p.ID))
	s.NoError(s.cart.RemoveFromCart(s.ctx, buyerB, 999))

	lines := s.cartOf(buyerB)
	s.Require().Len(lines, 1)
	s.Equal(other.ID, lines[0].ProductID)
}

func (s *MarketplaceSuite) TestCreateProductValidation() {
	price := int64(100)
	cases := map[string]CreateProductRequest{
		"missing title":    {Description: "d", Category: models.CategoryBooks, PriceCents: &price, Quantity: 1},
		"blank title":      {Title: "   ", Description: "d", Category: models.CategoryBooks, PriceCents: &price, Quantity: 1},
		"long title":       {Title: strings.Repeat("x", 101), Description: "d", Category: models.CategoryBooks, PriceCents: &price, Quantity: 1},
		"unknown category": {Title: "t", Description: "d", Category: "Cars", PriceCents: &price, Quantity: 1},
		"missing price":    {Title: "t", Description: "d", Category: models.CategoryBooks, Quantity: 1},
		"zero quantity":    {Title: "t", Description: "d", Category: models.CategoryBooks, PriceCents: &price},
		"huge quantity":    {Title: "t", Description: "d", Category: models.CategoryBooks, PriceCents: &price, Quantity: 2_000_000_000},
		"bad image":        {Title: "t", Description: "d", Category: models.CategoryBooks, PriceCents: &price, Quantity: 1, ImageURL: "not a url"},
	}

	for name, req := range cases {
		req := req
		_, err := s.catalog.CreateProduct(s.ctx, sellerID, &req)
		s.ErrorIs(err, models.ErrValidation, name)
	}

	largest := CreateProductRequest{Title: "t", Description: "d", Category: models.CategoryBooks, PriceCents: &price, Quantity: 10000}
	_, err := s.catalog.CreateProduct(s.ctx, sellerID, &largest)
	s.NoError(err)
}

func (s *MarketplaceSuite) TestUpdateProductRejectsHugeQuantity() {
	p := s.listProduct(sellerID, "Camera", 3)
	huge := 10001

	_, err := s.catalog.UpdateProduct(s.ctx, p.ID, sellerID, &models.ProductUpdate{Quantity: &huge})
	var verr *models.ValidationError
	s.Require().ErrorAs(err, &verr)
	s.Equal("quantity", verr.Fields[0].Field)
	s.Equal("max", verr.Fields[0].Tag)
	s.Equal(3, s.product(p.ID).Quantity)
}

func (s *MarketplaceSuite) TestValidatorRegistersCustomRules() {
	s.NotPanics(func() { newValidator() })
	s.Panics(func() { mustRegister(validate, "", nil) })
}

func (s *MarketplaceSuite) TestCreateProductDefaults() {
	free := int64(0)
	p, err := s.catalog.CreateProduct(s.ctx, sellerID, &CreateProductRequest{
		Title:       "  Paperback  ",
		Description: "Novel",
		Category:    models.CategoryBooks,
		PriceCents:  &free,
		Quantity:    1,
	})
	s.Require().NoError(err)
	s.Equal("Paperback", p.Title)
	s.Equal(models.DefaultImage, p.ImageURL)
	s.False(p.IsSold)
	s.NotZero(p.ID)
}

func (s *MarketplaceSuite) TestListProducts() {
	for i := 0; i < 5; i++ {
		s.listProduct(sellerID, "Camera", 1)
	}
	s.listProduct(sellerID, "Vintage Lamp", 1)

	page, err := s.catalog.ListProducts(s.ctx, models.ProductFilter{Page: 1, Limit: 4})
	s.Require().NoError(err)
	s.Equal(int64(6), page.Total)
	s.Equal(2, page.TotalPages)
	s.Equal(1, page.CurrentPage)
	s.Len(page.Products, 4)
	s.Equal("Vintage Lamp", page.Products[0].Title)

	page, err = s.catalog.ListProducts(s.ctx, models.ProductFilter{Search: "lamp"})
	s.Require().NoError(err)
	s.Equal(int64(1), page.Total)
	s.Equal(1, page.CurrentPage)

	page, err = s.catalog.ListProducts(s.ctx, models.ProductFilter{Page: math.MaxInt64 / 10, Limit: 100})
	s.Require().NoError(err)
	s.Empty(page.Products)
	s.Equal(int64(6), page.Total)
	s.Equal(1, page.TotalPages)

	page, err = s.catalog.ListProducts(s.ctx, models.ProductFilter{Category: models.CategoryBooks, Page: -3, Limit: 1000})
	s.Require().NoError(err)
	s.Zero(page.Total)
	s.Equal(1, page.CurrentPage)
}

func (s *MarketplaceSuite) TestUpdateProductOwnership() {
	p := s.listProduct(sellerID, "Camera", 3)
	title := "Film camera"

	_, err := s.catalog.UpdateProduct(s.ctx, p.ID, buyerB, &models.ProductUpdate{Title: &title})
	s.ErrorIs(err, models.ErrNotOwner)

	_, err = s.catalog.UpdateProduct(s.ctx, 999, sellerID, &models.ProductUpdate{Title: &title})
	s.ErrorIs(err, models.ErrNotFound)

	blank := "  "
	updated, err := s.catalog.UpdateProduct(s.ctx, p.ID, sellerID, &models.ProductUpdate{Title: &title, Description: &blank})
	s.Require().NoError(err)
	s.Equal("Film camera", updated.Title)
	s.Equal(p.Description, updated.Description, "blank fields keep their value")
}

func (s *MarketplaceSuite) TestRestockMakesListingAvailable() {
	p := s.listProduct(sellerID, "Camera", 1)
	_, err := s.cart.AddToCart(s.ctx, buyerB, p.ID, 1)
	s.Require().NoError(err)
	_, err = s.checkout.Checkout(s.ctx, CheckoutRequest{UserID: buyerB})
	s.Require().NoError(err)
	s.True(s.product(p.ID).IsSold)

	two := 2
	updated, err := s.catalog.UpdateProduct(s.ctx, p.ID, sellerID, &models.ProductUpdate{Quantity: &two})
	s.Require().NoError(err)
	s.False(updated.IsSold)

	_, err = s.cart.AddToCart(s.ctx, buyerC, p.ID, 2)
	s.NoError(err)
	s.assertSoldFlagsConsistent()
}

func (s *MarketplaceSuite) TestDeleteProduct() {
	p := s.listProduct(sellerID, "Camera", 3)
	_, err := s.cart.AddToCart(s.ctx, buyerB, p.ID, 1)
	s.Require().NoError(err)

	s.ErrorIs(s.catalog.DeleteProduct(s.ctx, p.ID, buyerB), models.ErrNotOwner)
	cached := s.product(p.ID).Availability()
	s.Require().NoError(s.catalog.DeleteProduct(s.ctx, p.ID, sellerID))
	s.ErrorIs(s.catalog.DeleteProduct(s.ctx, p.ID, sellerID), models.ErrNotFound)

	s.Require().Contains(s.cache.evicted, p.ID)
	s.Greater(s.cache.evicted[p.ID], cached.Version, "tombstone outranks the last snapshot")

	s.Empty(s.cartOf(buyerB))
	_, err = s.catalog.GetAvailability(s.ctx, p.ID)
	s.ErrorIs(err, models.ErrNotFound)
}

func (s *MarketplaceSuite) TestPurchasesReadProductByReference() {
	p := s.listProduct(sellerID, "Camera", 2)
	gone := s.listProduct(sellerID, "Tripod", 2)
	_, err := s.cart.AddToCart(s.ctx, buyerB, p.ID, 1)
	s.Require().NoError(err)
	_, err = s.cart.AddToCart(s.ctx, buyerB, gone.ID, 1)
	s.Require().NoError(err)
	_, err = s.checkout.Checkout(s.ctx, CheckoutRequest{UserID: buyerB})
	s.Require().NoError(err)

	title := "Instant camera"
	_, err = s.catalog.UpdateProduct(s.ctx, p.ID, sellerID, &models.ProductUpdate{Title: &title})
	s.Require().NoError(err)
	s.Require().NoError(s.catalog.DeleteProduct(s.ctx, gone.ID, sellerID))

	records := s.purchasesOf(buyerB)
	s.Require().Len(records, 2)
	for _, r := range records {
		if r.ProductID == gone.ID {
			s.Nil(r.Product)
			continue
		}
		s.Require().NotNil(r.Product)
		s.Equal("Instant camera", r.Product.Title)
	}
}

func (s *MarketplaceSuite) TestGetAvailabilityUsesCache() {
	p := s.listProduct(sellerID, "Camera", 3)

	a, err := s.catalog.GetAvailability(s.ctx, p.ID)
	s.Require().NoError(err)
	s.Equal(3, a.Quantity)

	// a newer snapshot in the cache wins over the store
	s.cache.entries[p.ID] = models.Availability{ProductID: p.ID, Quantity: 1, Version: a.Version + 1}
	a, err = s.catalog.GetAvailability(s.ctx, p.ID)
	s.Require().NoError(err)
	s.Equal(1, a.Quantity)

	delete(s.cache.entries, p.ID)
	a, err = s.catalog.GetAvailability(s.ctx, p.ID)
	s.Require().NoError(err)
	s.Equal(3, a.Quantity)
	s.Contains(s.cache.entries, p.ID, "a miss fills the cache")
}

func (s *MarketplaceSuite) TestOwnerListingsIncludeSold() {
	p := s.listProduct(sellerID, "Camera", 1)
	s.listProduct(sellerID, "Tripod", 1)
	s.listProduct(buyerC, "Bike", 1)
	_, err := s.cart.AddToCart(s.ctx, buyerB, p.ID, 1)
	s.Require().NoError(err)
	_, err = s.checkout.Checkout(s.ctx, CheckoutRequest{UserID: buyerB})
	s.Require().NoError(err)

	mine, err := s.catalog.ListOwnerProducts(s.ctx, sellerID)
	s.Require().NoError(err)
	s.Len(mine, 2)

	page, err := s.catalog.ListProducts(s.ctx, models.ProductFilter{})
	s.Require().NoError(err)
	s.Equal(int64(2), page.Total, "sold listings are hidden from the catalog")
}
