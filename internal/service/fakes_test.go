package service

import (
	"context"
	"fmt"
	"sync"
	"time"

	"marketplace-service/internal/models"
)

type memoryCache struct {
	mu      sync.Mutex
	entries map[int64]models.Availability
	evicted map[int64]int64
	reads   int
}

func newMemoryCache() *memoryCache {
	return &memoryCache{entries: map[int64]models.Availability{}, evicted: map[int64]int64{}}
}

func (c *memoryCache) GetAvailability(_ context.Context, productID int64) (*models.Availability, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.reads++
	a, ok := c.entries[productID]
	if !ok {
		return nil, nil
	}
	return &a, nil
}

func (c *memoryCache) SetAvailability(_ context.Context, a models.Availability) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if cur, ok := c.entries[a.ProductID]; ok && cur.Version > a.Version {
		return false, nil
	}
	c.entries[a.ProductID] = a
	return true, nil
}

func (c *memoryCache) EvictAvailability(_ context.Context, productID int64, version int64) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.entries, productID)
	c.evicted[productID] = version
	return nil
}

type memoryIdempotency struct {
	mu     sync.Mutex
	values map[string][]byte
	locks  map[string]string
	tokens int
}

func newMemoryIdempotency() *memoryIdempotency {
	return &memoryIdempotency{values: map[string][]byte{}, locks: map[string]string{}}
}

func (m *memoryIdempotency) GetIdempotencyKey(_ context.Context, key string) ([]byte, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.values[key]
	return v, ok, nil
}

func (m *memoryIdempotency) SetIdempotencyKey(_ context.Context, key string, value []byte, _ time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.values[key] = value
	return nil
}

func (m *memoryIdempotency) AcquireLock(_ context.Context, key string, _ time.Duration) (string, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, held := m.locks[key]; held {
		return "", false, nil
	}
	m.tokens++
	token := fmt.Sprintf("token-%d", m.tokens)
	m.locks[key] = token
	return token, true, nil
}

func (m *memoryIdempotency) ReleaseLock(_ context.Context, key, token string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.locks[key] == token {
		delete(m.locks, key)
	}
	return nil
}

func (m *memoryIdempotency) holder(key string) string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.locks[key]
}

type recordedEvent struct {
	eventType string
	productID int64
}

type recordingPublisher struct {
	mu     sync.Mutex
	events []recordedEvent
}

func (p *recordingPublisher) record(eventType string, productID int64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, recordedEvent{eventType: eventType, productID: productID})
}

func (p *recordingPublisher) types() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]string, 0, len(p.events))
	for _, e := range p.events {
		out = append(out, e.eventType)
	}
	return out
}

func (p *recordingPublisher) PublishProductChanged(_ context.Context, eventType string, prod *models.Product) error {
	p.record(eventType, prod.ID)
	return nil
}

func (p *recordingPublisher) PublishProductDeleted(_ context.Context, prod *models.Product) error {
	p.record(models.EventTypeProductDeleted, prod.ID)
	return nil
}

func (p *recordingPublisher) PublishProductSoldOut(_ context.Context, _ string, item models.CheckoutItem) error {
	p.record(models.EventTypeProductSoldOut, item.ProductID)
	return nil
}

func (p *recordingPublisher) PublishCheckoutCompleted(_ context.Context, _ *models.CheckoutResult) error {
	p.record(models.EventTypeCheckoutCompleted, 0)
	return nil
}
