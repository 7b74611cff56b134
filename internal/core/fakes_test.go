package core

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"
)

// memStore is an in-memory Store.
type memStore struct {
	mu        sync.Mutex
	jobs      map[string]ImportJob
	products  map[int64]Product
	webhooks  map[int64]Webhook
	nextID    int64
	listLimit int
	lastPage  ProductFilter
}

func newMemStore() *memStore {
	return &memStore{
		jobs:     make(map[string]ImportJob),
		products: make(map[int64]Product),
		webhooks: make(map[int64]Webhook),
	}
}

func (m *memStore) CreateJob(_ context.Context, id, filename string) (ImportJob, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	job := ImportJob{ID: id, Filename: filename, Status: StatusPending, CreatedAt: time.Now()}
	m.jobs[id] = job
	return job, nil
}

func (m *memStore) GetJob(_ context.Context, id string) (ImportJob, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	job, ok := m.jobs[id]
	if !ok {
		return ImportJob{}, fmt.Errorf("import job %s: %w", id, ErrNotFound)
	}
	return job, nil
}

func (m *memStore) SaveJob(_ context.Context, job ImportJob) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.jobs[job.ID]; !ok {
		return fmt.Errorf("import job %s: %w", job.ID, ErrNotFound)
	}
	m.jobs[job.ID] = job
	return nil
}

func (m *memStore) ListJobs(_ context.Context, limit int) ([]ImportJob, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.listLimit = limit
	out := make([]ImportJob, 0, len(m.jobs))
	for _, j := range m.jobs {
		out = append(out, j)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *memStore) DeleteJob(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.jobs[id]; !ok {
		return fmt.Errorf("import job %s: %w", id, ErrNotFound)
	}
	delete(m.jobs, id)
	return nil
}

func (m *memStore) GetProduct(_ context.Context, id int64) (Product, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.products[id]
	if !ok {
		return Product{}, fmt.Errorf("product %d: %w", id, ErrNotFound)
	}
	return p, nil
}

func (m *memStore) GetProductBySKU(_ context.Context, sku string) (Product, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, p := range m.products {
		if strings.EqualFold(p.SKU, sku) {
			return p, nil
		}
	}
	return Product{}, fmt.Errorf("product %s: %w", sku, ErrNotFound)
}

func (m *memStore) CreateProduct(_ context.Context, in ProductInput) (Product, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextID++
	p := Product{ID: m.nextID, SKU: in.SKU, Name: in.Name, Description: in.Description, Price: in.Price, IsActive: true}
	if in.Quantity != nil {
		p.Quantity = *in.Quantity
	}
	if in.IsActive != nil {
		p.IsActive = *in.IsActive
	}
	m.products[p.ID] = p
	return p, nil
}

func (m *memStore) UpdateProduct(_ context.Context, id int64, patch ProductPatch) (Product, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.products[id]
	if !ok {
		return Product{}, fmt.Errorf("product %d: %w", id, ErrNotFound)
	}
	if patch.Name != nil {
		p.Name = *patch.Name
	}
	if patch.Price != nil {
		p.Price = patch.Price
	}
	if patch.Quantity != nil {
		p.Quantity = *patch.Quantity
	}
	if patch.IsActive != nil {
		p.IsActive = *patch.IsActive
	}
	m.products[id] = p
	return p, nil
}

func (m *memStore) DeleteProduct(_ context.Context, id int64) (Product, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.products[id]
	if !ok {
		return Product{}, fmt.Errorf("product %d: %w", id, ErrNotFound)
	}
	delete(m.products, id)
	return p, nil
}

func (m *memStore) DeleteAllProducts(context.Context) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := int64(len(m.products))
	m.products = make(map[int64]Product)
	return n, nil
}

func (m *memStore) ListProducts(_ context.Context, f ProductFilter) (ProductPage, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.lastPage = f
	return ProductPage{Page: f.Page, PageSize: f.PageSize, Items: []Product{}}, nil
}

func (m *memStore) ProductStats(context.Context) (ProductStats, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return ProductStats{TotalProducts: int64(len(m.products))}, nil
}

func (m *memStore) ListWebhooks(context.Context, WebhookFilter) ([]Webhook, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Webhook, 0, len(m.webhooks))
	for _, h := range m.webhooks {
		out = append(out, h)
	}
	return out, nil
}

func (m *memStore) GetWebhook(_ context.Context, id int64) (Webhook, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	h, ok := m.webhooks[id]
	if !ok {
		return Webhook{}, fmt.Errorf("webhook %d: %w", id, ErrNotFound)
	}
	return h, nil
}

func (m *memStore) CreateWebhook(_ context.Context, in WebhookInput) (Webhook, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextID++
	h := Webhook{ID: m.nextID, Name: in.Name, URL: in.URL, EventType: in.EventType, IsEnabled: true}
	m.webhooks[h.ID] = h
	return h, nil
}

func (m *memStore) UpdateWebhook(_ context.Context, id int64, patch WebhookPatch) (Webhook, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	h, ok := m.webhooks[id]
	if !ok {
		return Webhook{}, fmt.Errorf("webhook %d: %w", id, ErrNotFound)
	}
	if patch.URL != nil {
		h.URL = *patch.URL
	}
	if patch.EventType != nil {
		h.EventType = *patch.EventType
	}
	m.webhooks[id] = h
	return h, nil
}

func (m *memStore) DeleteWebhook(_ context.Context, id int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.webhooks[id]; !ok {
		return fmt.Errorf("webhook %d: %w", id, ErrNotFound)
	}
	delete(m.webhooks, id)
	return nil
}

type emittedEvent struct {
	name    string
	payload any
}

type recordingEmitter struct {
	mu     sync.Mutex
	events []emittedEvent
}

func (r *recordingEmitter) Emit(_ context.Context, event string, payload any) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, emittedEvent{name: event, payload: payload})
}

func (r *recordingEmitter) names() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, len(r.events))
	for i, e := range r.events {
		out[i] = e.name
	}
	return out
}
