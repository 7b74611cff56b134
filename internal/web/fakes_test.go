package web

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/JonMunkholm/product-importer/internal/core"
)

// memStore is a small in-memory core.Store for handler tests.
type memStore struct {
	mu       sync.Mutex
	jobs     map[string]core.ImportJob
	products map[int64]core.Product
	webhooks map[int64]core.Webhook
	nextID   int64
	pingErr  error
}

func newMemStore() *memStore {
	return &memStore{
		jobs:     make(map[string]core.ImportJob),
		products: make(map[int64]core.Product),
		webhooks: make(map[int64]core.Webhook),
	}
}

func (m *memStore) Ping(context.Context) error { return m.pingErr }

func (m *memStore) CreateJob(_ context.Context, id, filename string) (core.ImportJob, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	job := core.ImportJob{ID: id, Filename: filename, Status: core.StatusPending, CreatedAt: time.Now()}
	m.jobs[id] = job
	return job, nil
}

func (m *memStore) GetJob(_ context.Context, id string) (core.ImportJob, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	job, ok := m.jobs[id]
	if !ok {
		return core.ImportJob{}, fmt.Errorf("import job %s: %w", id, core.ErrNotFound)
	}
	return job, nil
}

func (m *memStore) SaveJob(_ context.Context, job core.ImportJob) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.jobs[job.ID] = job
	return nil
}

func (m *memStore) ListJobs(_ context.Context, limit int) ([]core.ImportJob, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]core.ImportJob, 0, len(m.jobs))
	for _, j := range m.jobs {
		if len(out) == limit {
			break
		}
		out = append(out, j)
	}
	return out, nil
}

func (m *memStore) DeleteJob(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.jobs[id]; !ok {
		return fmt.Errorf("import job %s: %w", id, core.ErrNotFound)
	}
	delete(m.jobs, id)
	return nil
}

func (m *memStore) GetProduct(_ context.Context, id int64) (core.Product, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.products[id]
	if !ok {
		return core.Product{}, fmt.Errorf("product %d: %w", id, core.ErrNotFound)
	}
	return p, nil
}

func (m *memStore) GetProductBySKU(_ context.Context, sku string) (core.Product, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, p := range m.products {
		if strings.EqualFold(p.SKU, sku) {
			return p, nil
		}
	}
	return core.Product{}, fmt.Errorf("product %s: %w", sku, core.ErrNotFound)
}

func (m *memStore) CreateProduct(_ context.Context, in core.ProductInput) (core.Product, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextID++
	p := core.Product{ID: m.nextID, SKU: in.SKU, Name: in.Name, Price: in.Price, IsActive: true}
	if in.Quantity != nil {
		p.Quantity = *in.Quantity
	}
	m.products[p.ID] = p
	return p, nil
}

func (m *memStore) UpdateProduct(_ context.Context, id int64, patch core.ProductPatch) (core.Product, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.products[id]
	if !ok {
		return core.Product{}, fmt.Errorf("product %d: %w", id, core.ErrNotFound)
	}
	if patch.Name != nil {
		p.Name = *patch.Name
	}
	if patch.Quantity != nil {
		p.Quantity = *patch.Quantity
	}
	m.products[id] = p
	return p, nil
}

func (m *memStore) DeleteProduct(_ context.Context, id int64) (core.Product, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.products[id]
	if !ok {
		return core.Product{}, fmt.Errorf("product %d: %w", id, core.ErrNotFound)
	}
	delete(m.products, id)
	return p, nil
}

func (m *memStore) DeleteAllProducts(context.Context) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := int64(len(m.products))
	m.products = make(map[int64]core.Product)
	return n, nil
}

func (m *memStore) ListProducts(_ context.Context, f core.ProductFilter) (core.ProductPage, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	page := core.ProductPage{Items: []core.Product{}, Page: f.Page, PageSize: f.PageSize}
	for _, p := range m.products {
		if f.SKU != nil && !strings.Contains(strings.ToLower(p.SKU), strings.ToLower(*f.SKU)) {
			continue
		}
		page.Items = append(page.Items, p)
	}
	page.Total = int64(len(page.Items))
	return page, nil
}

func (m *memStore) ProductStats(context.Context) (core.ProductStats, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	st := core.ProductStats{TotalProducts: int64(len(m.products))}
	for _, p := range m.products {
		if p.IsActive {
			st.ActiveProducts++
		} else {
			st.InactiveProducts++
		}
	}
	return st, nil
}

func (m *memStore) ListWebhooks(_ context.Context, f core.WebhookFilter) ([]core.Webhook, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []core.Webhook
	for _, h := range m.webhooks {
		if f.EventType != nil && h.EventType != *f.EventType {
			continue
		}
		out = append(out, h)
	}
	return out, nil
}

func (m *memStore) GetWebhook(_ context.Context, id int64) (core.Webhook, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	h, ok := m.webhooks[id]
	if !ok {
		return core.Webhook{}, fmt.Errorf("webhook %d: %w", id, core.ErrNotFound)
	}
	return h, nil
}

func (m *memStore) CreateWebhook(_ context.Context, in core.WebhookInput) (core.Webhook, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextID++
	h := core.Webhook{ID: m.nextID, Name: in.Name, URL: in.URL, EventType: in.EventType, IsEnabled: true}
	if in.Secret != nil {
		h.Secret = *in.Secret
	}
	m.webhooks[h.ID] = h
	return h, nil
}

func (m *memStore) UpdateWebhook(_ context.Context, id int64, patch core.WebhookPatch) (core.Webhook, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	h, ok := m.webhooks[id]
	if !ok {
		return core.Webhook{}, fmt.Errorf("webhook %d: %w", id, core.ErrNotFound)
	}
	if patch.IsEnabled != nil {
		h.IsEnabled = *patch.IsEnabled
	}
	m.webhooks[id] = h
	return h, nil
}

func (m *memStore) DeleteWebhook(_ context.Context, id int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.webhooks[id]; !ok {
		return fmt.Errorf("webhook %d: %w", id, core.ErrNotFound)
	}
	delete(m.webhooks, id)
	return nil
}

type stubTester struct{}

func (stubTester) Test(_ context.Context, id int64) (core.TestResult, error) {
	if id == 404 {
		return core.TestResult{}, fmt.Errorf("webhook %d: %w", id, core.ErrNotFound)
	}
	code := 500
	return core.TestResult{Success: false, StatusCode: &code, Error: "HTTP 500"}, nil
}

var errPing = errors.New("connection refused")
