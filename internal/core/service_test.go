package core

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JonMunkholm/product-importer/internal/progress"
	"github.com/JonMunkholm/product-importer/internal/queue"
)

type serviceHarness struct {
	svc    *Service
	store  *memStore
	queue  *queue.MemoryQueue
	prog   *progress.MemoryPublisher
	events *recordingEmitter
	dir    string
}

func newHarness(t *testing.T, mutate ...func(*ServiceConfig, *Deps)) *serviceHarness {
	t.Helper()
	h := &serviceHarness{
		store:  newMemStore(),
		queue:  queue.NewMemoryQueue(),
		prog:   progress.NewMemoryPublisher(time.Hour),
		events: &recordingEmitter{},
		dir:    filepath.Join(t.TempDir(), "uploads"),
	}
	t.Cleanup(func() { h.queue.Close() })

	cfg := ServiceConfig{
		UploadDir:          h.dir,
		MaxFileSize:        1 << 20,
		StreamPollInterval: 5 * time.Millisecond,
		StreamMaxDuration:  time.Second,
	}
	deps := Deps{Store: h.store, Queue: h.queue, Progress: h.prog, Events: h.events}
	for _, m := range mutate {
		m(&cfg, &deps)
	}

	svc, err := NewService(deps, cfg)
	require.NoError(t, err)
	h.svc = svc
	return h
}

const sampleCSV = "sku,name,price\nA-1,Widget,9.99\nB-2,Gadget,19.50\n"

// ---------------------------------------------------------------------------
// StartImport
// ---------------------------------------------------------------------------

func TestStartImport_QueuesPendingJob(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	job, err := h.svc.StartImport(ctx, "products.CSV", strings.NewReader(sampleCSV))
	require.NoError(t, err)
	assert.Equal(t, StatusPending, job.Status)
	assert.Equal(t, "products.CSV", job.Filename)

	data, err := os.ReadFile(h.svc.UploadPath(job.ID))
	require.NoError(t, err)
	assert.Equal(t, sampleCSV, string(data))

	require.Equal(t, 1, h.queue.Len(queue.CSVImport))
	task, err := h.queue.Dequeue(ctx, queue.CSVImport)
	require.NoError(t, err)
	assert.Equal(t, ImportTaskKind, task.Kind)

	var payload ImportTask
	require.NoError(t, task.Decode(&payload))
	assert.Equal(t, job.ID, payload.JobID)
	assert.Equal(t, h.svc.UploadPath(job.ID), payload.FilePath)
	assert.Equal(t, queue.DefaultMaxAttempts, task.MaxAttempts)
}

func TestStartImport_StripsDirectories(t *testing.T) {
	h := newHarness(t)

	job, err := h.svc.StartImport(context.Background(), "../../etc/products.csv", strings.NewReader(sampleCSV))
	require.NoError(t, err)
	assert.Equal(t, "products.csv", job.Filename)
}

func TestStartImport_Rejections(t *testing.T) {
	png := append([]byte("\x89PNG\r\n\x1a\n\x00\x00\x00\rIHDR"), bytes.Repeat([]byte{0}, 64)...)

	tests := []struct {
		name     string
		filename string
		body     []byte
		maxSize  int64
	}{
		{"wrong extension", "products.xlsx", []byte(sampleCSV), 0},
		{"no extension", "products", []byte(sampleCSV), 0},
		{"binary content", "image.csv", png, 0},
		{"too large", "big.csv", []byte(sampleCSV), 10},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t, func(c *ServiceConfig, _ *Deps) {
				if tt.maxSize > 0 {
					c.MaxFileSize = tt.maxSize
				}
			})

			_, err := h.svc.StartImport(context.Background(), tt.filename, bytes.NewReader(tt.body))
			require.ErrorIs(t, err, ErrInvalidFile)

			entries, readErr := os.ReadDir(h.dir)
			require.NoError(t, readErr)
			assert.Empty(t, entries, "rejected upload must not leave a file")
			assert.Empty(t, h.store.jobs)
			assert.Zero(t, h.queue.Len(queue.CSVImport))
		})
	}
}

func TestStartImport_ExactlyMaxSizeAccepted(t *testing.T) {
	h := newHarness(t, func(c *ServiceConfig, _ *Deps) {
		c.MaxFileSize = int64(len(sampleCSV))
	})

	_, err := h.svc.StartImport(context.Background(), "products.csv", strings.NewReader(sampleCSV))
	require.NoError(t, err)
}

func TestStartImport_EmptyFileAccepted(t *testing.T) {
	h := newHarness(t)

	job, err := h.svc.StartImport(context.Background(), "empty.csv", strings.NewReader(""))
	require.NoError(t, err)
	assert.Equal(t, StatusPending, job.Status)
}

func TestStartImport_QueueFailureFailsJob(t *testing.T) {
	h := newHarness(t)
	require.NoError(t, h.queue.Close())

	_, err := h.svc.StartImport(context.Background(), "products.csv", strings.NewReader(sampleCSV))
	require.Error(t, err)
	assert.ErrorIs(t, err, queue.ErrClosed)
	assert.Contains(t, err.Error(), "failed to queue import task")

	require.Len(t, h.store.jobs, 1)
	for id, job := range h.store.jobs {
		assert.Equal(t, StatusFailed, job.Status)
		require.Len(t, job.ErrorDetails, 1)
		assert.True(t, strings.HasPrefix(job.ErrorDetails[0].Message, "Failed to queue task: "))
		assert.NotNil(t, job.CompletedAt)

		_, statErr := os.Stat(h.svc.UploadPath(id))
		assert.True(t, errors.Is(statErr, os.ErrNotExist), "upload file should be removed")
	}
}

func TestStartImport_LimiterBusy(t *testing.T) {
	limiter := NewUploadLimiter(1, 10*time.Millisecond)
	h := newHarness(t, func(_ *ServiceConfig, d *Deps) { d.Limiter = limiter })

	require.NoError(t, limiter.Acquire(context.Background()))
	defer limiter.Release()

	_, err := h.svc.StartImport(context.Background(), "products.csv", strings.NewReader(sampleCSV))
	require.ErrorIs(t, err, ErrTooManyUploads)
	assert.Empty(t, h.store.jobs)
}

// ---------------------------------------------------------------------------
// Status and streaming
// ---------------------------------------------------------------------------

func seedJob(t *testing.T, h *serviceHarness, job ImportJob) ImportJob {
	t.Helper()
	h.store.jobs[job.ID] = job
	return job
}

func TestGetImportStatus_MergesSnapshot(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	seedJob(t, h, ImportJob{ID: "j1", Status: StatusValidating, TotalRows: 10, ProcessedRows: 2})

	require.NoError(t, h.prog.Publish(ctx, "j1", progress.Snapshot{
		Status: "importing", TotalRows: 10, ProcessedRows: 6, SuccessCount: 5, ErrorCount: 1,
		CreatedCount: 4, UpdatedCount: 1, ProgressPercentage: 60,
	}))

	job, err := h.svc.GetImportStatus(ctx, "j1")
	require.NoError(t, err)
	assert.Equal(t, StatusImporting, job.Status)
	assert.Equal(t, 6, job.ProcessedRows)
	assert.Equal(t, 5, job.SuccessCount)
	assert.Equal(t, 1, job.ErrorCount)
	assert.Equal(t, 4, job.CreatedCount)
	assert.InDelta(t, 60.0, job.ProgressPercentage, 0.001)
}

func TestGetImportStatus_IgnoresStaleSnapshot(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	seedJob(t, h, ImportJob{ID: "behind", Status: StatusImporting, TotalRows: 10, ProcessedRows: 8})
	require.NoError(t, h.prog.Publish(ctx, "behind", progress.Snapshot{Status: "importing", ProcessedRows: 4}))

	seedJob(t, h, ImportJob{ID: "regressed", Status: StatusImporting, TotalRows: 10, ProcessedRows: 2})
	require.NoError(t, h.prog.Publish(ctx, "regressed", progress.Snapshot{Status: "parsing", ProcessedRows: 5}))

	seedJob(t, h, ImportJob{ID: "done", Status: StatusCompleted, TotalRows: 10, ProcessedRows: 10})
	require.NoError(t, h.prog.Publish(ctx, "done", progress.Snapshot{Status: "importing", ProcessedRows: 10}))

	job, err := h.svc.GetImportStatus(ctx, "behind")
	require.NoError(t, err)
	assert.Equal(t, 8, job.ProcessedRows)

	job, err = h.svc.GetImportStatus(ctx, "regressed")
	require.NoError(t, err)
	assert.Equal(t, StatusImporting, job.Status)
	assert.Equal(t, 2, job.ProcessedRows)

	job, err = h.svc.GetImportStatus(ctx, "done")
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, job.Status)
}

func TestGetImportStatus_NotFound(t *testing.T) {
	h := newHarness(t)
	_, err := h.svc.GetImportStatus(context.Background(), "missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestStreamProgress_SendsChangesUntilTerminal(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	seedJob(t, h, ImportJob{ID: "j1", Status: StatusImporting})
	running := progress.Snapshot{Status: "importing", TotalRows: 4, ProcessedRows: 2, ProgressPercentage: 50}
	require.NoError(t, h.prog.Publish(ctx, "j1", running))

	var got []progress.Snapshot
	err := h.svc.StreamProgress(ctx, "j1", func(s progress.Snapshot) error {
		got = append(got, s)
		if len(got) == 1 {
			return h.prog.Publish(ctx, "j1", progress.Snapshot{
				Status: "completed", TotalRows: 4, ProcessedRows: 4, ProgressPercentage: 100,
			})
		}
		return nil
	})
	require.NoError(t, err)

	require.Len(t, got, 3)
	assert.Equal(t, running, got[0])
	assert.Equal(t, "completed", got[1].Status)
	assert.Equal(t, StreamEnded, got[2].Status)
}

func TestStreamProgress_FallsBackToJobRow(t *testing.T) {
	h := newHarness(t)
	seedJob(t, h, ImportJob{
		ID: "j1", Status: StatusFailed,
		ErrorDetails: []ErrorDetail{{Message: "missing required column: sku"}},
	})

	var got []progress.Snapshot
	err := h.svc.StreamProgress(context.Background(), "j1", func(s progress.Snapshot) error {
		got = append(got, s)
		return nil
	})
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "failed", got[0].Status)
	assert.Equal(t, "missing required column: sku", got[0].Error)
	assert.Equal(t, StreamEnded, got[1].Status)
}

func TestStreamProgress_MaxDuration(t *testing.T) {
	h := newHarness(t, func(c *ServiceConfig, _ *Deps) {
		c.StreamMaxDuration = 30 * time.Millisecond
	})
	ctx := context.Background()
	seedJob(t, h, ImportJob{ID: "j1", Status: StatusImporting})
	require.NoError(t, h.prog.Publish(ctx, "j1", progress.Snapshot{Status: "importing", ProcessedRows: 1}))

	var got []progress.Snapshot
	err := h.svc.StreamProgress(ctx, "j1", func(s progress.Snapshot) error {
		got = append(got, s)
		return nil
	})
	require.NoError(t, err)
	require.Len(t, got, 2, "unchanged snapshots are sent once")
	assert.Equal(t, StreamEnded, got[1].Status)
}

func TestStreamProgress_JobDeletedMidStream(t *testing.T) {
	h := newHarness(t)
	seedJob(t, h, ImportJob{ID: "j1", Status: StatusParsing})

	var got []progress.Snapshot
	err := h.svc.StreamProgress(context.Background(), "j1", func(s progress.Snapshot) error {
		got = append(got, s)
		delete(h.store.jobs, "j1")
		return nil
	})
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, StreamEnded, got[1].Status)
}

func TestStreamProgress_ContextCancelled(t *testing.T) {
	h := newHarness(t)
	seedJob(t, h, ImportJob{ID: "j1", Status: StatusImporting})

	ctx, cancel := context.WithCancel(context.Background())
	err := h.svc.StreamProgress(ctx, "j1", func(progress.Snapshot) error {
		cancel()
		return nil
	})
	assert.ErrorIs(t, err, context.Canceled)
}

func TestStreamProgress_UnknownJob(t *testing.T) {
	h := newHarness(t)
	err := h.svc.StreamProgress(context.Background(), "nope", func(progress.Snapshot) error {
		t.Fatal("send must not be called")
		return nil
	})
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestListImports_ClampsLimit(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	for _, tt := range []struct{ in, want int }{{0, 10}, {-3, 10}, {25, 25}, {500, 100}} {
		_, err := h.svc.ListImports(ctx, tt.in)
		require.NoError(t, err)
		assert.Equal(t, tt.want, h.store.listLimit, "limit %d", tt.in)
	}
}

func TestDeleteImport(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	job, err := h.svc.StartImport(ctx, "products.csv", strings.NewReader(sampleCSV))
	require.NoError(t, err)
	require.NoError(t, h.prog.Publish(ctx, job.ID, progress.Snapshot{Status: "parsing"}))

	require.NoError(t, h.svc.DeleteImport(ctx, job.ID))

	_, err = h.store.GetJob(ctx, job.ID)
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = h.prog.Read(ctx, job.ID)
	assert.ErrorIs(t, err, progress.ErrNoSnapshot)
	_, err = os.Stat(h.svc.UploadPath(job.ID))
	assert.True(t, errors.Is(err, os.ErrNotExist))

	assert.ErrorIs(t, h.svc.DeleteImport(ctx, job.ID), ErrNotFound)
}

// ---------------------------------------------------------------------------
// Products
// ---------------------------------------------------------------------------

func TestCreateProduct_NormalisesAndEmits(t *testing.T) {
	h := newHarness(t)
	ctx := WithClientIP(context.Background(), "10.0.0.1")
	price := 12.5

	p, err := h.svc.CreateProduct(ctx, ProductInput{SKU: "  abc-1 ", Name: " Widget ", Price: &price})
	require.NoError(t, err)
	assert.Equal(t, "ABC-1", p.SKU)
	assert.Equal(t, "Widget", p.Name)
	assert.Equal(t, []string{EventProductCreated}, h.events.names())

	payload, ok := h.events.events[0].payload.(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "ABC-1", payload["sku"])
}

func TestCreateProduct_DuplicateSKUAnyCase(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	_, err := h.svc.CreateProduct(ctx, ProductInput{SKU: "ABC-1", Name: "Widget"})
	require.NoError(t, err)

	_, err = h.svc.CreateProduct(ctx, ProductInput{SKU: "abc-1", Name: "Other"})
	assert.ErrorIs(t, err, ErrDuplicateSKU)
	assert.Len(t, h.events.names(), 1)
}

func TestCreateProduct_Validation(t *testing.T) {
	h := newHarness(t)
	negative := -1.0
	tooMany := -5

	_, err := h.svc.CreateProduct(context.Background(), ProductInput{
		SKU: "   ", Name: "", Price: &negative, Quantity: &tooMany,
	})
	require.ErrorIs(t, err, ErrInvalidInput)

	var verr *ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Contains(t, verr.Problems, "sku is required")
	assert.Contains(t, verr.Problems, "name is required")
	assert.Contains(t, verr.Problems, "price must be greater than or equal to 0")
	assert.Contains(t, verr.Problems, "quantity must be greater than or equal to 0")
	assert.Empty(t, h.events.names())
}

func TestUpdateAndDeleteProduct_Emit(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	p, err := h.svc.CreateProduct(ctx, ProductInput{SKU: "X", Name: "Thing"})
	require.NoError(t, err)

	name := "  Renamed "
	updated, err := h.svc.UpdateProduct(ctx, p.ID, ProductPatch{Name: &name})
	require.NoError(t, err)
	assert.Equal(t, "Renamed", updated.Name)

	blank := "   "
	_, err = h.svc.UpdateProduct(ctx, p.ID, ProductPatch{Name: &blank})
	assert.ErrorIs(t, err, ErrInvalidInput)

	require.NoError(t, h.svc.DeleteProduct(ctx, p.ID))
	assert.ErrorIs(t, h.svc.DeleteProduct(ctx, p.ID), ErrNotFound)

	assert.Equal(t, []string{EventProductCreated, EventProductUpdated, EventProductDeleted}, h.events.names())
}

func TestDeleteAllProducts_RequiresConfirmation(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	for _, sku := range []string{"A", "B"} {
		_, err := h.svc.CreateProduct(ctx, ProductInput{SKU: sku, Name: sku})
		require.NoError(t, err)
	}

	_, err := h.svc.DeleteAllProducts(ctx, false)
	require.ErrorIs(t, err, ErrConfirmationRequired)
	assert.Len(t, h.store.products, 2)

	n, err := h.svc.DeleteAllProducts(ctx, true)
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)
	assert.Empty(t, h.store.products)
	assert.Len(t, h.events.names(), 2, "bulk delete sends no per-product events")
}

func TestListProducts_ClampsPaging(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	tests := []struct {
		in       ProductFilter
		wantPage int
		wantSize int
	}{
		{ProductFilter{}, 1, DefaultProductPageSize},
		{ProductFilter{Page: 3, PageSize: 50}, 3, 50},
		{ProductFilter{Page: -1, PageSize: 1000}, 1, MaxProductPageSize},
	}
	for _, tt := range tests {
		_, err := h.svc.ListProducts(ctx, tt.in)
		require.NoError(t, err)
		assert.Equal(t, tt.wantPage, h.store.lastPage.Page)
		assert.Equal(t, tt.wantSize, h.store.lastPage.PageSize)
	}
}

// ---------------------------------------------------------------------------
// Webhooks
// ---------------------------------------------------------------------------

func TestCreateWebhook_Validation(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	tests := []struct {
		name    string
		in      WebhookInput
		problem string
	}{
		{"unknown event", WebhookInput{Name: "n", URL: "https://example.com/h", EventType: "order.placed"}, "event_type must be one of"},
		{"bad url", WebhookInput{Name: "n", URL: "not a url", EventType: EventProductCreated}, "url must be a valid http or https URL"},
		{"missing name", WebhookInput{Name: "  ", URL: "https://example.com/h", EventType: EventProductCreated}, "name is required"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := h.svc.CreateWebhook(ctx, tt.in)
			var verr *ValidationError
			require.ErrorAs(t, err, &verr)
			assert.Contains(t, strings.Join(verr.Problems, "\n"), tt.problem)
		})
	}

	hook, err := h.svc.CreateWebhook(ctx, WebhookInput{
		Name: " Listener ", URL: " https://example.com/hook ", EventType: EventImportCompleted,
	})
	require.NoError(t, err)
	assert.Equal(t, "Listener", hook.Name)
	assert.Equal(t, "https://example.com/hook", hook.URL)
}

type stubTester struct {
	result TestResult
	called int64
}

func (s *stubTester) Test(_ context.Context, id int64) (TestResult, error) {
	s.called = id
	return s.result, nil
}

func TestTestWebhook(t *testing.T) {
	h := newHarness(t)
	_, err := h.svc.TestWebhook(context.Background(), 1)
	assert.Error(t, err, "no tester configured")

	tester := &stubTester{result: TestResult{Success: true}}
	h = newHarness(t, func(_ *ServiceConfig, d *Deps) { d.Tester = tester })
	res, err := h.svc.TestWebhook(context.Background(), 7)
	require.NoError(t, err)
	assert.True(t, res.Success)
	assert.Equal(t, int64(7), tester.called)
}

// ---------------------------------------------------------------------------
// Sweeper
// ---------------------------------------------------------------------------

func TestSweepUploads(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	old := time.Now().Add(-48 * time.Hour)

	write := func(name string, mtime time.Time) string {
		path := filepath.Join(h.dir, name)
		require.NoError(t, os.WriteFile(path, []byte("sku,name\n"), 0o640))
		require.NoError(t, os.Chtimes(path, mtime, mtime))
		return path
	}

	seedJob(t, h, ImportJob{ID: "done", Status: StatusCompleted})
	seedJob(t, h, ImportJob{ID: "failed", Status: StatusFailed})
	seedJob(t, h, ImportJob{ID: "running", Status: StatusImporting})
	seedJob(t, h, ImportJob{ID: "fresh", Status: StatusCompleted})

	gone := []string{write("done.csv", old), write("failed.csv", old), write("orphan.csv", old)}
	kept := []string{write("running.csv", old), write("fresh.csv", time.Now()), write("notes.txt", old)}

	n, err := h.svc.SweepUploads(ctx, 24*time.Hour)
	require.NoError(t, err)
	assert.Equal(t, 3, n)

	for _, p := range gone {
		_, err := os.Stat(p)
		assert.True(t, errors.Is(err, os.ErrNotExist), "%s should be removed", filepath.Base(p))
	}
	for _, p := range kept {
		_, err := os.Stat(p)
		assert.NoError(t, err, "%s should be kept", filepath.Base(p))
	}
}
