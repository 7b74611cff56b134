package core

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgtype"

	"github.com/JonMunkholm/product-importer/internal/database"
)

// pgUniqueViolation is the SQLSTATE for unique_violation.
const pgUniqueViolation = "23505"

// Repository adapts the generated queries to domain types. It is the only
// place that knows about pgtype values.
type Repository struct {
	store *database.Store
}

func NewRepository(store *database.Store) *Repository {
	return &Repository{store: store}
}

// Ping checks database connectivity.
func (r *Repository) Ping(ctx context.Context) error {
	return r.store.Ping(ctx)
}

func notFound(kind string, id any, err error) error {
	if errors.Is(err, pgx.ErrNoRows) {
		return fmt.Errorf("%s %v: %w", kind, id, ErrNotFound)
	}
	return fmt.Errorf("%s %v: %w", kind, id, err)
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == pgUniqueViolation
}

// ---------------------------------------------------------------------------
// Import jobs
// ---------------------------------------------------------------------------

func jobFromRow(row database.ImportJob) (ImportJob, error) {
	job := ImportJob{
		ID:            PgUUIDToString(row.ID),
		Filename:      row.Filename,
		Status:        JobStatus(row.Status),
		TotalRows:     int(row.TotalRows),
		ProcessedRows: int(row.ProcessedRows),
		SuccessCount:  int(row.SuccessCount),
		ErrorCount:    int(row.ErrorCount),
		CreatedCount:  int(row.CreatedCount),
		UpdatedCount:  int(row.UpdatedCount),
		StartedAt:     TimePtr(row.StartedAt),
		CompletedAt:   TimePtr(row.CompletedAt),
		CreatedAt:     row.CreatedAt.Time,
	}
	if len(row.ErrorDetails) > 0 {
		if err := json.Unmarshal(row.ErrorDetails, &job.ErrorDetails); err != nil {
			return ImportJob{}, fmt.Errorf("decode error details of job %s: %w", job.ID, err)
		}
	}
	job.ProgressPercentage = Percentage(job.ProcessedRows, job.TotalRows)
	return job, nil
}

// CreateJob inserts a pending job.
func (r *Repository) CreateJob(ctx context.Context, id, filename string) (ImportJob, error) {
	row, err := r.store.CreateImportJob(ctx, database.CreateImportJobParams{
		ID:       ToPgUUID(id),
		Filename: filename,
	})
	if err != nil {
		return ImportJob{}, fmt.Errorf("create import job: %w", err)
	}
	return jobFromRow(row)
}

// GetJob loads a job. Malformed ids are reported as not found.
func (r *Repository) GetJob(ctx context.Context, id string) (ImportJob, error) {
	pgID := ToPgUUID(id)
	if !pgID.Valid {
		return ImportJob{}, fmt.Errorf("import job %s: %w", id, ErrNotFound)
	}
	row, err := r.store.GetImportJob(ctx, pgID)
	if err != nil {
		return ImportJob{}, notFound("import job", id, err)
	}
	return jobFromRow(row)
}

// SaveJob persists every mutable field of job.
func (r *Repository) SaveJob(ctx context.Context, job ImportJob) error {
	var details []byte
	if job.ErrorDetails != nil {
		var err error
		if details, err = json.Marshal(job.ErrorDetails); err != nil {
			return fmt.Errorf("encode error details of job %s: %w", job.ID, err)
		}
	}

	n, err := r.store.UpdateImportJob(ctx, database.UpdateImportJobParams{
		ID:            ToPgUUID(job.ID),
		Status:        string(job.Status),
		TotalRows:     clampInt32(job.TotalRows),
		ProcessedRows: clampInt32(job.ProcessedRows),
		SuccessCount:  clampInt32(job.SuccessCount),
		ErrorCount:    clampInt32(job.ErrorCount),
		CreatedCount:  clampInt32(job.CreatedCount),
		UpdatedCount:  clampInt32(job.UpdatedCount),
		ErrorDetails:  details,
		StartedAt:     ToPgTimestamptz(job.StartedAt),
		CompletedAt:   ToPgTimestamptz(job.CompletedAt),
	})
	if err != nil {
		return fmt.Errorf("save import job %s: %w", job.ID, err)
	}
	if n == 0 {
		return fmt.Errorf("import job %s: %w", job.ID, ErrNotFound)
	}
	return nil
}

// ListJobs returns the most recent jobs first.
func (r *Repository) ListJobs(ctx context.Context, limit int) ([]ImportJob, error) {
	rows, err := r.store.ListImportJobs(ctx, clampInt32(limit))
	if err != nil {
		return nil, fmt.Errorf("list import jobs: %w", err)
	}
	jobs := make([]ImportJob, 0, len(rows))
	for _, row := range rows {
		job, err := jobFromRow(row)
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, job)
	}
	return jobs, nil
}

// DeleteJob removes a job row.
func (r *Repository) DeleteJob(ctx context.Context, id string) error {
	pgID := ToPgUUID(id)
	if !pgID.Valid {
		return fmt.Errorf("import job %s: %w", id, ErrNotFound)
	}
	n, err := r.store.DeleteImportJob(ctx, pgID)
	if err != nil {
		return fmt.Errorf("delete import job %s: %w", id, err)
	}
	if n == 0 {
		return fmt.Errorf("import job %s: %w", id, ErrNotFound)
	}
	return nil
}

// ---------------------------------------------------------------------------
// Products
// ---------------------------------------------------------------------------

func productFromRow(row database.Product) Product {
	return Product{
		ID:          row.ID,
		SKU:         row.Sku,
		Name:        row.Name,
		Description: TextPtr(row.Description),
		Price:       NumericToFloat(row.Price),
		Quantity:    int(row.Quantity),
		IsActive:    row.IsActive,
		CreatedAt:   row.CreatedAt.Time,
		UpdatedAt:   row.UpdatedAt.Time,
	}
}

func (r *Repository) GetProduct(ctx context.Context, id int64) (Product, error) {
	row, err := r.store.GetProduct(ctx, id)
	if err != nil {
		return Product{}, notFound("product", id, err)
	}
	return productFromRow(row), nil
}

func (r *Repository) GetProductBySKU(ctx context.Context, sku string) (Product, error) {
	row, err := r.store.GetProductBySKU(ctx, sku)
	if err != nil {
		return Product{}, notFound("product", sku, err)
	}
	return productFromRow(row), nil
}

// CreateProduct inserts a product. The SKU must already be canonical.
func (r *Repository) CreateProduct(ctx context.Context, in ProductInput) (Product, error) {
	price, err := FloatToNumeric(in.Price)
	if err != nil {
		return Product{}, &ValidationError{Problems: []string{"price: " + err.Error()}}
	}
	params := database.CreateProductParams{
		Sku:         in.SKU,
		Name:        in.Name,
		Description: OptionalText(in.Description),
		Price:       price,
		IsActive:    true,
	}
	if in.Quantity != nil {
		params.Quantity = int32(*in.Quantity)
	}
	if in.IsActive != nil {
		params.IsActive = *in.IsActive
	}

	row, err := r.store.CreateProduct(ctx, params)
	if err != nil {
		if isUniqueViolation(err) {
			return Product{}, fmt.Errorf("product %s: %w", in.SKU, ErrDuplicateSKU)
		}
		return Product{}, fmt.Errorf("create product: %w", err)
	}
	return productFromRow(row), nil
}

// UpdateProduct applies patch to the stored product in one transaction.
func (r *Repository) UpdateProduct(ctx context.Context, id int64, patch ProductPatch) (Product, error) {
	var updated Product
	err := r.store.ExecTx(ctx, func(q *database.Queries) error {
		row, err := q.GetProduct(ctx, id)
		if err != nil {
			return notFound("product", id, err)
		}

		params := database.UpdateProductParams{
			ID:          id,
			Name:        row.Name,
			Description: row.Description,
			Price:       row.Price,
			Quantity:    row.Quantity,
			IsActive:    row.IsActive,
		}
		if patch.Name != nil {
			params.Name = *patch.Name
		}
		if patch.Description != nil {
			params.Description = ToPgText(*patch.Description)
		}
		if patch.Price != nil {
			price, err := FloatToNumeric(patch.Price)
			if err != nil {
				return &ValidationError{Problems: []string{"price: " + err.Error()}}
			}
			params.Price = price
		}
		if patch.Quantity != nil {
			params.Quantity = int32(*patch.Quantity)
		}
		if patch.IsActive != nil {
			params.IsActive = *patch.IsActive
		}

		row, err = q.UpdateProduct(ctx, params)
		if err != nil {
			return fmt.Errorf("update product %d: %w", id, err)
		}
		updated = productFromRow(row)
		return nil
	})
	return updated, err
}

// DeleteProduct removes a product and returns what was deleted.
func (r *Repository) DeleteProduct(ctx context.Context, id int64) (Product, error) {
	row, err := r.store.DeleteProduct(ctx, id)
	if err != nil {
		return Product{}, notFound("product", id, err)
	}
	return productFromRow(row), nil
}

func (r *Repository) DeleteAllProducts(ctx context.Context) (int64, error) {
	n, err := r.store.DeleteAllProducts(ctx)
	if err != nil {
		return 0, fmt.Errorf("delete all products: %w", err)
	}
	return n, nil
}

// ListProducts returns one page of products. Page and PageSize must
// already be normalised.
func (r *Repository) ListProducts(ctx context.Context, f ProductFilter) (ProductPage, error) {
	rows, total, err := r.store.ListProducts(ctx, database.ListProductsParams{
		Sku:         f.SKU,
		Name:        f.Name,
		Description: f.Description,
		IsActive:    f.IsActive,
		Search:      f.Search,
		Limit:       int32(f.PageSize),
		Offset:      int32((f.Page - 1) * f.PageSize),
	})
	if err != nil {
		return ProductPage{}, err
	}

	page := ProductPage{
		Items:    make([]Product, 0, len(rows)),
		Total:    total,
		Page:     f.Page,
		PageSize: f.PageSize,
	}
	for _, row := range rows {
		page.Items = append(page.Items, productFromRow(row))
	}
	if f.PageSize > 0 {
		page.TotalPages = int((total + int64(f.PageSize) - 1) / int64(f.PageSize))
	}
	return page, nil
}

func (r *Repository) ProductStats(ctx context.Context) (ProductStats, error) {
	row, err := r.store.ProductStats(ctx)
	if err != nil {
		return ProductStats{}, fmt.Errorf("product stats: %w", err)
	}
	stats := ProductStats{
		TotalProducts:    row.TotalProducts,
		ActiveProducts:   row.ActiveProducts,
		InactiveProducts: row.TotalProducts - row.ActiveProducts,
		TotalQuantity:    row.TotalQuantity,
	}
	if v := NumericToFloat(row.InventoryValue); v != nil {
		stats.InventoryValue = *v
	}
	return stats, nil
}

// WithinProductTx runs fn against a transaction-scoped product batch.
func (r *Repository) WithinProductTx(ctx context.Context, fn func(ProductBatch) error) error {
	return r.store.ExecTx(ctx, func(q *database.Queries) error {
		return fn(productBatch{q: q})
	})
}

type productBatch struct {
	q *database.Queries
}

func (b productBatch) ExistingSKUs(ctx context.Context, skus []string) (map[string]struct{}, error) {
	found, err := b.q.ExistingSKUs(ctx, skus)
	if err != nil {
		return nil, fmt.Errorf("select existing skus: %w", err)
	}
	set := make(map[string]struct{}, len(found))
	for _, s := range found {
		set[s] = struct{}{}
	}
	return set, nil
}

func (b productBatch) UpsertProducts(ctx context.Context, records []Record) error {
	params := database.UpsertProductsParams{
		Skus:         make([]string, len(records)),
		Names:        make([]string, len(records)),
		Descriptions: make([]pgtype.Text, len(records)),
		Prices:       make([]pgtype.Numeric, len(records)),
		Quantities:   make([]int32, len(records)),
		Actives:      make([]bool, len(records)),
	}
	for i, rec := range records {
		params.Skus[i] = rec.SKU
		params.Names[i] = rec.Name
		params.Descriptions[i] = rec.Description
		params.Prices[i] = rec.Price
		params.Quantities[i] = rec.Quantity
		params.Actives[i] = rec.Active
	}
	if _, err := b.q.UpsertProducts(ctx, params); err != nil {
		return fmt.Errorf("upsert %d products: %w", len(records), err)
	}
	return nil
}

// ---------------------------------------------------------------------------
// Webhooks
// ---------------------------------------------------------------------------

func webhookFromRow(row database.Webhook) Webhook {
	return Webhook{
		ID:                 row.ID,
		Name:               row.Name,
		URL:                row.Url,
		EventType:          row.EventType,
		IsEnabled:          row.IsEnabled,
		Secret:             row.Secret.String,
		LastTriggeredAt:    TimePtr(row.LastTriggeredAt),
		LastResponseCode:   IntPtr(row.LastResponseCode),
		LastResponseTimeMs: IntPtr(row.LastResponseTimeMs),
		FailureCount:       int(row.FailureCount),
		CreatedAt:          row.CreatedAt.Time,
		UpdatedAt:          row.UpdatedAt.Time,
	}
}

func webhooksFromRows(rows []database.Webhook) []Webhook {
	out := make([]Webhook, 0, len(rows))
	for _, row := range rows {
		out = append(out, webhookFromRow(row))
	}
	return out
}

func (r *Repository) ListWebhooks(ctx context.Context, f WebhookFilter) ([]Webhook, error) {
	rows, err := r.store.ListWebhooks(ctx, database.ListWebhooksParams{
		EventType: f.EventType,
		IsEnabled: f.IsEnabled,
	})
	if err != nil {
		return nil, fmt.Errorf("list webhooks: %w", err)
	}
	return webhooksFromRows(rows), nil
}

func (r *Repository) GetWebhook(ctx context.Context, id int64) (Webhook, error) {
	row, err := r.store.GetWebhook(ctx, id)
	if err != nil {
		return Webhook{}, notFound("webhook", id, err)
	}
	return webhookFromRow(row), nil
}

func (r *Repository) CreateWebhook(ctx context.Context, in WebhookInput) (Webhook, error) {
	params := database.CreateWebhookParams{
		Name:      in.Name,
		Url:       in.URL,
		EventType: in.EventType,
		IsEnabled: true,
		Secret:    OptionalText(in.Secret),
	}
	if in.IsEnabled != nil {
		params.IsEnabled = *in.IsEnabled
	}
	row, err := r.store.CreateWebhook(ctx, params)
	if err != nil {
		return Webhook{}, fmt.Errorf("create webhook: %w", err)
	}
	return webhookFromRow(row), nil
}

func (r *Repository) UpdateWebhook(ctx context.Context, id int64, patch WebhookPatch) (Webhook, error) {
	var updated Webhook
	err := r.store.ExecTx(ctx, func(q *database.Queries) error {
		row, err := q.GetWebhook(ctx, id)
		if err != nil {
			return notFound("webhook", id, err)
		}
		params := database.UpdateWebhookParams{
			ID:        id,
			Name:      row.Name,
			Url:       row.Url,
			EventType: row.EventType,
			IsEnabled: row.IsEnabled,
			Secret:    row.Secret,
		}
		if patch.Name != nil {
			params.Name = *patch.Name
		}
		if patch.URL != nil {
			params.Url = *patch.URL
		}
		if patch.EventType != nil {
			params.EventType = *patch.EventType
		}
		if patch.IsEnabled != nil {
			params.IsEnabled = *patch.IsEnabled
		}
		if patch.Secret != nil {
			params.Secret = ToPgText(*patch.Secret)
		}
		row, err = q.UpdateWebhook(ctx, params)
		if err != nil {
			return fmt.Errorf("update webhook %d: %w", id, err)
		}
		updated = webhookFromRow(row)
		return nil
	})
	return updated, err
}

func (r *Repository) DeleteWebhook(ctx context.Context, id int64) error {
	n, err := r.store.DeleteWebhook(ctx, id)
	if err != nil {
		return fmt.Errorf("delete webhook %d: %w", id, err)
	}
	if n == 0 {
		return fmt.Errorf("webhook %d: %w", id, ErrNotFound)
	}
	return nil
}

// ListEnabledWebhooks returns the subscribers of one event type.
func (r *Repository) ListEnabledWebhooks(ctx context.Context, event string) ([]Webhook, error) {
	rows, err := r.store.ListEnabledWebhooksForEvent(ctx, event)
	if err != nil {
		return nil, fmt.Errorf("list webhooks for %s: %w", event, err)
	}
	return webhooksFromRows(rows), nil
}

// RecordDelivery stores the outcome of one attempt and moves failure_count.
func (r *Repository) RecordDelivery(ctx context.Context, rec DeliveryRecord) error {
	params := database.RecordWebhookDeliveryParams{
		ID:                 rec.WebhookID,
		LastTriggeredAt:    pgtype.Timestamptz{Time: rec.TriggeredAt, Valid: true},
		LastResponseTimeMs: pgtype.Int4{Int32: clampInt32(rec.ResponseTimeMs), Valid: true},
		Succeeded:          rec.Succeeded,
	}
	if rec.ResponseCode != nil {
		params.LastResponseCode = pgtype.Int4{Int32: int32(*rec.ResponseCode), Valid: true}
	}
	if err := r.store.RecordWebhookDelivery(ctx, params); err != nil {
		return fmt.Errorf("record delivery for webhook %d: %w", rec.WebhookID, err)
	}
	return nil
}

func clampInt32(v int) int32 {
	if v > math.MaxInt32 {
		return math.MaxInt32
	}
	if v < math.MinInt32 {
		return math.MinInt32
	}
	return int32(v)
}
