package core

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"time"

	"github.com/jackc/pgx/v5/pgtype"
)

// JobStatus is the lifecycle state of an import job.
type JobStatus string

const (
	StatusPending    JobStatus = "pending"
	StatusParsing    JobStatus = "parsing"
	StatusValidating JobStatus = "validating"
	StatusImporting  JobStatus = "importing"
	StatusCompleted  JobStatus = "completed"
	StatusFailed     JobStatus = "failed"
)

var statusOrder = map[JobStatus]int{
	StatusPending:    0,
	StatusParsing:    1,
	StatusValidating: 2,
	StatusImporting:  3,
	StatusCompleted:  4,
	StatusFailed:     4,
}

// Terminal reports whether no further transitions are allowed.
func (s JobStatus) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// CanTransition reports whether moving from s to next keeps the lifecycle
// strictly forward. Any non-terminal state may fail.
func (s JobStatus) CanTransition(next JobStatus) bool {
	if s.Terminal() {
		return false
	}
	if next == StatusFailed {
		return true
	}
	from, ok := statusOrder[s]
	if !ok {
		return false
	}
	to, ok := statusOrder[next]
	return ok && to > from
}

// ErrorDetail is one entry of a job's error_details list: a row-level
// validation failure, or a single message when the whole job failed.
type ErrorDetail struct {
	Row     int      `json:"row,omitempty"`
	Errors  []string `json:"errors,omitempty"`
	SKU     string   `json:"sku,omitempty"`
	Message string   `json:"message,omitempty"`
}

// ImportJob is the durable record of one uploaded file.
type ImportJob struct {
	ID                 string        `json:"id"`
	Filename           string        `json:"filename"`
	Status             JobStatus     `json:"status"`
	TotalRows          int           `json:"total_rows"`
	ProcessedRows      int           `json:"processed_rows"`
	SuccessCount       int           `json:"success_count"`
	ErrorCount         int           `json:"error_count"`
	CreatedCount       int           `json:"created_count"`
	UpdatedCount       int           `json:"updated_count"`
	ProgressPercentage float64       `json:"progress_percentage"`
	ErrorDetails       []ErrorDetail `json:"error_details"`
	StartedAt          *time.Time    `json:"started_at"`
	CompletedAt        *time.Time    `json:"completed_at"`
	CreatedAt          time.Time     `json:"created_at"`
}

// Advance moves the job to next, refusing backward or post-terminal moves.
func (j *ImportJob) Advance(next JobStatus) error {
	if j.Status == next {
		return nil
	}
	if !j.Status.CanTransition(next) {
		return fmt.Errorf("import job %s: invalid status transition %s -> %s", j.ID, j.Status, next)
	}
	j.Status = next
	return nil
}

// Percentage returns processed/total as a percentage rounded to two
// decimals, or 0 while the total is unknown.
func Percentage(processed, total int) float64 {
	if total <= 0 {
		return 0
	}
	return math.Round(float64(processed)/float64(total)*100*100) / 100
}

// Record is a validated product row ready for the upsert engine.
type Record struct {
	SKU         string
	Name        string
	Description pgtype.Text
	Price       pgtype.Numeric
	Quantity    int32
	Active      bool
}

// ProductBatch is the transactional view the upsert engine works against.
type ProductBatch interface {
	ExistingSKUs(ctx context.Context, skus []string) (map[string]struct{}, error)
	UpsertProducts(ctx context.Context, records []Record) error
}

// Product is the API representation of a stored product.
type Product struct {
	ID          int64     `json:"id"`
	SKU         string    `json:"sku"`
	Name        string    `json:"name"`
	Description *string   `json:"description"`
	Price       *float64  `json:"price"`
	Quantity    int       `json:"quantity"`
	IsActive    bool      `json:"is_active"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// ProductInput is the body of a product create.
type ProductInput struct {
	SKU         string   `json:"sku" validate:"required,max=100"`
	Name        string   `json:"name" validate:"required,max=255"`
	Description *string  `json:"description"`
	Price       *float64 `json:"price" validate:"omitempty,gte=0,lt=100000000"`
	Quantity    *int     `json:"quantity" validate:"omitempty,gte=0,lte=2147483647"`
	IsActive    *bool    `json:"is_active"`
}

// ProductPatch is the body of a product update; nil fields are left unchanged.
type ProductPatch struct {
	Name        *string  `json:"name" validate:"omitempty,min=1,max=255"`
	Description *string  `json:"description"`
	Price       *float64 `json:"price" validate:"omitempty,gte=0,lt=100000000"`
	Quantity    *int     `json:"quantity" validate:"omitempty,gte=0,lte=2147483647"`
	IsActive    *bool    `json:"is_active"`
}

// ProductFilter narrows the product listing.
type ProductFilter struct {
	SKU         *string
	Name        *string
	Description *string
	IsActive    *bool
	Search      *string
	Page        int
	PageSize    int
}

// ProductPage is one page of the product listing.
type ProductPage struct {
	Items      []Product `json:"items"`
	Total      int64     `json:"total"`
	Page       int       `json:"page"`
	PageSize   int       `json:"page_size"`
	TotalPages int       `json:"total_pages"`
}

// ProductStats summarises the catalogue.
type ProductStats struct {
	TotalProducts    int64   `json:"total_products"`
	ActiveProducts   int64   `json:"active_products"`
	InactiveProducts int64   `json:"inactive_products"`
	TotalQuantity    int64   `json:"total_quantity"`
	InventoryValue   float64 `json:"inventory_value"`
}

// Webhook is a registered subscriber.
type Webhook struct {
	ID                 int64      `json:"id"`
	Name               string     `json:"name"`
	URL                string     `json:"url"`
	EventType          string     `json:"event_type"`
	IsEnabled          bool       `json:"is_enabled"`
	Secret             string     `json:"-"`
	LastTriggeredAt    *time.Time `json:"last_triggered_at"`
	LastResponseCode   *int       `json:"last_response_code"`
	LastResponseTimeMs *int       `json:"last_response_time_ms"`
	FailureCount       int        `json:"failure_count"`
	CreatedAt          time.Time  `json:"created_at"`
	UpdatedAt          time.Time  `json:"updated_at"`
}

// MarshalJSON masks the secret: clients can see that one is set but never
// read it back.
func (w Webhook) MarshalJSON() ([]byte, error) {
	type plain Webhook
	out := struct {
		plain
		Secret *string `json:"secret"`
	}{plain: plain(w)}
	if w.Secret != "" {
		masked := "***"
		out.Secret = &masked
	}
	return json.Marshal(out)
}

// WebhookInput is the body of a webhook create.
type WebhookInput struct {
	Name      string  `json:"name" validate:"required,max=255"`
	URL       string  `json:"url" validate:"required,max=500,http_url"`
	EventType string  `json:"event_type" validate:"required,event_type"`
	IsEnabled *bool   `json:"is_enabled"`
	Secret    *string `json:"secret" validate:"omitempty,max=255"`
}

// WebhookPatch is the body of a webhook update; nil fields are left unchanged.
type WebhookPatch struct {
	Name      *string `json:"name" validate:"omitempty,min=1,max=255"`
	URL       *string `json:"url" validate:"omitempty,max=500,http_url"`
	EventType *string `json:"event_type" validate:"omitempty,event_type"`
	IsEnabled *bool   `json:"is_enabled"`
	Secret    *string `json:"secret" validate:"omitempty,max=255"`
}

// WebhookFilter narrows the webhook listing.
type WebhookFilter struct {
	EventType *string
	IsEnabled *bool
}

// DeliveryRecord is the outcome of one delivery attempt. ResponseCode is
// nil when no response arrived.
type DeliveryRecord struct {
	WebhookID      int64
	TriggeredAt    time.Time
	ResponseCode   *int
	ResponseTimeMs int
	Succeeded      bool
}

// TestResult reports a synchronous test delivery.
type TestResult struct {
	Success        bool   `json:"success"`
	StatusCode     *int   `json:"status_code"`
	ResponseTimeMs int    `json:"response_time_ms"`
	Error          string `json:"error,omitempty"`
}

// ImportTaskKind identifies import tasks on the csv_import queue.
const ImportTaskKind = "import.csv"

// ImportTask is the body of an import task.
type ImportTask struct {
	JobID    string `json:"job_id"`
	FilePath string `json:"file_path"`
}
