package store

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"marketplace-service/internal/models"
)

// MemoryStore keeps the catalog, carts and purchases in process memory.
//
// It has no multi-record transactions; WithinTx serializes the unit of work
// under the store lock and reverses every applied step if the work fails.
type MemoryStore struct {
	mu sync.Mutex

	products       map[int64]*models.Product
	carts          map[int64][]models.CartEntry
	purchases      map[int64][]models.PurchaseRecord
	processed      map[string]models.ProcessedEvent
	nextProductID  int64
	nextPurchaseID int64

	now func() time.Time
}

var _ Repository = (*MemoryStore)(nil)

// NewMemoryStore creates an empty in-memory store
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		products:  make(map[int64]*models.Product),
		carts:     make(map[int64][]models.CartEntry),
		purchases: make(map[int64][]models.PurchaseRecord),
		processed: make(map[string]models.ProcessedEvent),
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// tick returns a timestamp strictly after the previous one so that
// versions and newest-first ordering stay deterministic
func (m *MemoryStore) tick(prev time.Time) time.Time {
	t := m.now().Truncate(time.Microsecond)
	if !t.After(prev) {
		t = prev.Add(time.Microsecond)
	}
	return t
}

func (m *MemoryStore) CreateProduct(ctx context.Context, p *models.Product) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.nextProductID++
	p.ID = m.nextProductID
	p.CreatedAt = m.tick(m.latestCreatedAt())
	p.UpdatedAt = p.CreatedAt

	stored := *p
	m.products[p.ID] = &stored
	return nil
}

func (m *MemoryStore) latestCreatedAt() time.Time {
	var latest time.Time
	for _, p := range m.products {
		if p.CreatedAt.After(latest) {
			latest = p.CreatedAt
		}
	}
	return latest
}

func (m *MemoryStore) GetProductByID(ctx context.Context, id int64) (*models.Product, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	p, ok := m.products[id]
	if !ok {
		return nil, fmt.Errorf("product %d: %w", id, models.ErrNotFound)
	}
	cp := *p
	return &cp, nil
}

func (m *MemoryStore) GetProductsByIDs(ctx context.Context, ids []int64) ([]models.Product, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]models.Product, 0, len(ids))
	for _, id := range ids {
		if p, ok := m.products[id]; ok {
			out = append(out, *p)
		}
	}
	return out, nil
}

func (m *MemoryStore) ListAvailableProducts(ctx context.Context, f models.ProductFilter) ([]models.Product, int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	search := strings.ToLower(f.Search)
	var matched []models.Product
	for _, p := range m.products {
		if p.IsSold {
			continue
		}
		if f.Category != "" && f.Category != models.CategoryAll && p.Category != f.Category {
			continue
		}
		if search != "" &&
			!strings.Contains(strings.ToLower(p.Title), search) &&
			!strings.Contains(strings.ToLower(p.Description), search) {
			continue
		}
		matched = append(matched, *p)
	}
	sortNewestFirst(matched)

	total := int64(len(matched))
	start := f.Offset()
	if start > len(matched) {
		start = len(matched)
	}
	end := len(matched)
	if f.Limit < end-start {
		end = start + f.Limit
	}
	page := make([]models.Product, end-start)
	copy(page, matched[start:end])
	return page, total, nil
}

func (m *MemoryStore) ListProductsByOwner(ctx context.Context, ownerID int64) ([]models.Product, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := []models.Product{}
	for _, p := range m.products {
		if p.OwnerID == ownerID {
			out = append(out, *p)
		}
	}
	sortNewestFirst(out)
	return out, nil
}

func sortNewestFirst(products []models.Product) {
	sort.Slice(products, func(i, j int) bool {
		if products[i].CreatedAt.Equal(products[j].CreatedAt) {
			return products[i].ID > products[j].ID
		}
		return products[i].CreatedAt.After(products[j].CreatedAt)
	})
}

func (m *MemoryStore) UpdateProduct(ctx context.Context, p *models.Product) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	stored, ok := m.products[p.ID]
	if !ok {
		return fmt.Errorf("product %d: %w", p.ID, models.ErrNotFound)
	}
	if !stored.UpdatedAt.Equal(p.UpdatedAt) {
		return fmt.Errorf("product %d: %w", p.ID, models.ErrConflict)
	}
	p.OwnerID = stored.OwnerID
	p.CreatedAt = stored.CreatedAt
	p.UpdatedAt = m.tick(stored.UpdatedAt)

	updated := *p
	m.products[p.ID] = &updated
	return nil
}

func (m *MemoryStore) DeleteProduct(ctx context.Context, id int64) (time.Time, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	p, ok := m.products[id]
	if !ok {
		return time.Time{}, fmt.Errorf("product %d: %w", id, models.ErrNotFound)
	}
	deletedAt := m.tick(p.UpdatedAt)
	delete(m.products, id)
	for userID := range m.carts {
		m.removeEntry(userID, id)
	}
	return deletedAt, nil
}

func (m *MemoryStore) GetCartEntry(ctx context.Context, userID, productID int64) (*models.CartEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if i := m.entryIndex(userID, productID); i >= 0 {
		e := m.carts[userID][i]
		return &e, nil
	}
	return nil, nil
}

func (m *MemoryStore) AddToCart(ctx context.Context, userID, productID int64, quantity, limit int) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.products[productID]; !ok {
		return 0, fmt.Errorf("product %d: %w", productID, models.ErrNotFound)
	}

	if i := m.entryIndex(userID, productID); i >= 0 {
		entry := &m.carts[userID][i]
		if entry.Quantity+quantity > limit {
			return 0, models.ErrInsufficientStock
		}
		entry.Quantity += quantity
		return entry.Quantity, nil
	}

	if quantity > limit {
		return 0, models.ErrInsufficientStock
	}
	m.carts[userID] = append(m.carts[userID], models.CartEntry{
		UserID:    userID,
		ProductID: productID,
		Quantity:  quantity,
		AddedAt:   m.now(),
	})
	return quantity, nil
}

func (m *MemoryStore) SetCartQuantity(ctx context.Context, userID, productID int64, quantity int) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	i := m.entryIndex(userID, productID)
	if i < 0 {
		return fmt.Errorf("product %d: %w", productID, models.ErrNotInCart)
	}
	m.carts[userID][i].Quantity = quantity
	return nil
}

func (m *MemoryStore) RemoveFromCart(ctx context.Context, userID, productID int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.removeEntry(userID, productID)
	return nil
}

func (m *MemoryStore) GetCart(ctx context.Context, userID int64) ([]models.CartLine, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	return m.cartLines(userID), nil
}

func (m *MemoryStore) cartLines(userID int64) []models.CartLine {
	lines := []models.CartLine{}
	for _, e := range m.carts[userID] {
		p, ok := m.products[e.ProductID]
		if !ok {
			continue
		}
		lines = append(lines, models.CartLine{CartEntry: e, Product: *p})
	}
	return lines
}

func (m *MemoryStore) entryIndex(userID, productID int64) int {
	for i, e := range m.carts[userID] {
		if e.ProductID == productID {
			return i
		}
	}
	return -1
}

func (m *MemoryStore) removeEntry(userID, productID int64) {
	i := m.entryIndex(userID, productID)
	if i < 0 {
		return
	}
	entries := m.carts[userID]
	m.carts[userID] = append(entries[:i:i], entries[i+1:]...)
	if len(m.carts[userID]) == 0 {
		delete(m.carts, userID)
	}
}

func (m *MemoryStore) ListPurchases(ctx context.Context, userID int64) ([]models.PurchaseRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	held := m.purchases[userID]
	out := make([]models.PurchaseRecord, 0, len(held))
	for i := len(held) - 1; i >= 0; i-- {
		r := held[i]
		if p, ok := m.products[r.ProductID]; ok {
			cp := *p
			r.Product = &cp
		}
		out = append(out, r)
	}
	return out, nil
}

func (m *MemoryStore) IsEventProcessed(ctx context.Context, eventID string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	_, ok := m.processed[eventID]
	return ok, nil
}

func (m *MemoryStore) MarkEventProcessed(ctx context.Context, eventID, eventType string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.processed[eventID]; !ok {
		m.processed[eventID] = models.ProcessedEvent{EventID: eventID, EventType: eventType, ProcessedAt: m.now()}
	}
	return nil
}

func (m *MemoryStore) Ping(ctx context.Context) error { return nil }

func (m *MemoryStore) Close() error { return nil }

// WithinTx holds the store lock for the whole unit of work. Each step records
// how to reverse itself; if fn fails the recorded steps are undone newest first.
func (m *MemoryStore) WithinTx(ctx context.Context, fn func(tx Tx) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	tx := &memTx{m: m}
	if err := fn(tx); err != nil {
		tx.compensate()
		return err
	}
	return nil
}

type memTx struct {
	m    *MemoryStore
	undo []func()
}

func (t *memTx) compensate() {
	for i := len(t.undo) - 1; i >= 0; i-- {
		t.undo[i]()
	}
	t.undo = nil
}

func (t *memTx) LockCart(ctx context.Context, userID int64) ([]models.CartLine, error) {
	return t.m.cartLines(userID), nil
}

func (t *memTx) DecrementStock(ctx context.Context, productID int64, amount int) (*models.Product, error) {
	if amount < 1 {
		return nil, models.NewValidationError("quantity", "min", "quantity must be at least 1")
	}
	p, ok := t.m.products[productID]
	if !ok {
		return nil, fmt.Errorf("product %d: %w", productID, models.ErrNotFound)
	}
	if p.Quantity < amount {
		return nil, &models.StockError{
			ProductID: productID,
			Title:     p.Title,
			Requested: amount,
			Available: p.Quantity,
		}
	}

	before := *p
	p.Quantity -= amount
	p.IsSold = p.Quantity == 0
	p.UpdatedAt = t.m.tick(p.UpdatedAt)
	t.undo = append(t.undo, func() {
		if cur, ok := t.m.products[productID]; ok {
			*cur = before
		}
	})

	cp := *p
	return &cp, nil
}

func (t *memTx) InsertPurchases(ctx context.Context, records []models.PurchaseRecord) error {
	touched := make(map[int64]int)
	for _, r := range records {
		t.m.nextPurchaseID++
		r.ID = t.m.nextPurchaseID
		r.CreatedAt = t.m.now()
		r.Product = nil
		t.m.purchases[r.UserID] = append(t.m.purchases[r.UserID], r)
		touched[r.UserID]++
	}
	t.undo = append(t.undo, func() {
		for userID, n := range touched {
			held := t.m.purchases[userID]
			t.m.purchases[userID] = held[:len(held)-n]
		}
	})
	return nil
}

func (t *memTx) ClearCart(ctx context.Context, userID int64) error {
	previous, ok := t.m.carts[userID]
	delete(t.m.carts, userID)
	t.undo = append(t.undo, func() {
		if ok {
			t.m.carts[userID] = previous
		}
	})
	return nil
}
