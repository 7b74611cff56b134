package core

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/gabriel-vasile/mimetype"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"github.com/JonMunkholm/product-importer/internal/logging"
	"github.com/JonMunkholm/product-importer/internal/progress"
	"github.com/JonMunkholm/product-importer/internal/queue"
)

const (
	DefaultImportListLimit = 10
	MaxImportListLimit     = 100

	DefaultStreamPollInterval = 500 * time.Millisecond
	DefaultStreamMaxDuration  = 10 * time.Minute

	// StreamEnded is the status of the last event of every progress stream.
	StreamEnded = "stream_ended"

	// sniffLen is how much of an upload is inspected for its content type.
	sniffLen = 3072
)

// Store is the persistence the service works against. *Repository
// implements it.
type Store interface {
	CreateJob(ctx context.Context, id, filename string) (ImportJob, error)
	GetJob(ctx context.Context, id string) (ImportJob, error)
	SaveJob(ctx context.Context, job ImportJob) error
	ListJobs(ctx context.Context, limit int) ([]ImportJob, error)
	DeleteJob(ctx context.Context, id string) error

	GetProduct(ctx context.Context, id int64) (Product, error)
	GetProductBySKU(ctx context.Context, sku string) (Product, error)
	CreateProduct(ctx context.Context, in ProductInput) (Product, error)
	UpdateProduct(ctx context.Context, id int64, patch ProductPatch) (Product, error)
	DeleteProduct(ctx context.Context, id int64) (Product, error)
	DeleteAllProducts(ctx context.Context) (int64, error)
	ListProducts(ctx context.Context, f ProductFilter) (ProductPage, error)
	ProductStats(ctx context.Context) (ProductStats, error)

	ListWebhooks(ctx context.Context, f WebhookFilter) ([]Webhook, error)
	GetWebhook(ctx context.Context, id int64) (Webhook, error)
	CreateWebhook(ctx context.Context, in WebhookInput) (Webhook, error)
	UpdateWebhook(ctx context.Context, id int64, patch WebhookPatch) (Webhook, error)
	DeleteWebhook(ctx context.Context, id int64) error
}

// WebhookTester sends a synchronous test delivery.
type WebhookTester interface {
	Test(ctx context.Context, webhookID int64) (TestResult, error)
}

// ServiceConfig holds the service's tunables.
type ServiceConfig struct {
	UploadDir          string
	MaxFileSize        int64
	ImportMaxAttempts  int
	StreamPollInterval time.Duration
	StreamMaxDuration  time.Duration
}

// Deps are the collaborators of a Service. Events and Tester may be nil.
type Deps struct {
	Store    Store
	Queue    queue.Queue
	Progress progress.Publisher
	Events   EventEmitter
	Tester   WebhookTester
	Limiter  *UploadLimiter
}

// Service is the application façade used by the HTTP layer. Imports are
// only accepted and queued here; the csv_import worker runs them.
type Service struct {
	store    Store
	queue    queue.Queue
	progress progress.Publisher
	events   EventEmitter
	tester   WebhookTester
	limiter  *UploadLimiter
	validate *validator.Validate
	cfg      ServiceConfig
	now      func() time.Time
}

// NewService wires a Service and makes sure the upload directory exists.
func NewService(deps Deps, cfg ServiceConfig) (*Service, error) {
	if cfg.UploadDir == "" {
		return nil, errors.New("upload directory is required")
	}
	if err := os.MkdirAll(cfg.UploadDir, 0o750); err != nil {
		return nil, fmt.Errorf("create upload directory: %w", err)
	}
	if cfg.ImportMaxAttempts <= 0 {
		cfg.ImportMaxAttempts = queue.DefaultMaxAttempts
	}
	if cfg.StreamPollInterval <= 0 {
		cfg.StreamPollInterval = DefaultStreamPollInterval
	}
	if cfg.StreamMaxDuration <= 0 {
		cfg.StreamMaxDuration = DefaultStreamMaxDuration
	}

	events := deps.Events
	if events == nil {
		events = NopEmitter{}
	}
	limiter := deps.Limiter
	if limiter == nil {
		limiter = NewUploadLimiter(DefaultMaxConcurrentUploads, DefaultMaxWaitTime)
	}

	return &Service{
		store:    deps.Store,
		queue:    deps.Queue,
		progress: deps.Progress,
		events:   events,
		tester:   deps.Tester,
		limiter:  limiter,
		validate: NewValidator(),
		cfg:      cfg,
		now:      time.Now,
	}, nil
}

// UploadPath is where the file of a job waits for the worker.
func (s *Service) UploadPath(jobID string) string {
	return filepath.Join(s.cfg.UploadDir, jobID+".csv")
}

// Limiter exposes the upload limiter for shutdown draining and status.
func (s *Service) Limiter() *UploadLimiter {
	return s.limiter
}

// Ping checks the store when it supports it.
func (s *Service) Ping(ctx context.Context) error {
	if p, ok := s.store.(interface{ Ping(context.Context) error }); ok {
		return p.Ping(ctx)
	}
	return nil
}

// ---------------------------------------------------------------------------
// Imports
// ---------------------------------------------------------------------------

// StartImport stores an uploaded file, creates its job and queues it. The
// returned job is pending.
func (s *Service) StartImport(ctx context.Context, filename string, r io.Reader) (ImportJob, error) {
	name := filepath.Base(strings.TrimSpace(filename))
	if !strings.EqualFold(filepath.Ext(name), ".csv") {
		return ImportJob{}, fmt.Errorf("%w: %q is not a .csv file", ErrInvalidFile, name)
	}

	if err := s.limiter.Acquire(ctx); err != nil {
		return ImportJob{}, err
	}
	defer s.limiter.Release()

	br := bufio.NewReaderSize(r, sniffLen)
	head, err := br.Peek(sniffLen)
	if err != nil && !errors.Is(err, io.EOF) && !errors.Is(err, bufio.ErrBufferFull) {
		return ImportJob{}, fmt.Errorf("read upload: %w", err)
	}
	if !isTextContent(head) {
		return ImportJob{}, fmt.Errorf("%w: content of %q is %s", ErrInvalidFile, name, mimetype.Detect(head))
	}

	id := uuid.NewString()
	path := s.UploadPath(id)
	logger := logging.WithFields(ctx, "job_id", id, "filename", name)

	size, err := s.writeUpload(path, br)
	if err != nil {
		return ImportJob{}, err
	}

	job, err := s.store.CreateJob(ctx, id, name)
	if err != nil {
		removeUpload(logger, path)
		return ImportJob{}, err
	}

	task, err := queue.NewTask(ImportTaskKind, ImportTask{JobID: id, FilePath: path}, s.cfg.ImportMaxAttempts)
	if err == nil {
		err = s.queue.Enqueue(ctx, queue.CSVImport, task, 0)
	}
	if err != nil {
		s.markQueueFailure(ctx, logger, job, err)
		removeUpload(logger, path)
		return ImportJob{}, fmt.Errorf("failed to queue import task: %w", err)
	}

	logger.Info("import queued", "bytes", size, "task_id", task.ID)
	return job, nil
}

// writeUpload copies r to path, refusing files above MaxFileSize.
func (s *Service) writeUpload(path string, r io.Reader) (int64, error) {
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o640)
	if err != nil {
		return 0, fmt.Errorf("failed to save upload: %w", err)
	}

	src := r
	if s.cfg.MaxFileSize > 0 {
		src = io.LimitReader(r, s.cfg.MaxFileSize+1)
	}
	n, copyErr := io.Copy(f, src)
	closeErr := f.Close()

	switch {
	case copyErr != nil:
		os.Remove(path)
		return 0, fmt.Errorf("failed to save upload: %w", copyErr)
	case closeErr != nil:
		os.Remove(path)
		return 0, fmt.Errorf("failed to save upload: %w", closeErr)
	case s.cfg.MaxFileSize > 0 && n > s.cfg.MaxFileSize:
		os.Remove(path)
		return 0, fmt.Errorf("%w: maximum is %d bytes", ErrFileTooLarge, s.cfg.MaxFileSize)
	}
	return n, nil
}

func (s *Service) markQueueFailure(ctx context.Context, logger *slog.Logger, job ImportJob, cause error) {
	ctx = context.WithoutCancel(ctx)
	now := s.now()
	if err := job.Advance(StatusFailed); err != nil {
		logger.Error("import job could not be failed", "error", err)
		return
	}
	job.CompletedAt = &now
	job.ErrorDetails = []ErrorDetail{{Message: "Failed to queue task: " + cause.Error()}}
	if err := s.store.SaveJob(ctx, job); err != nil {
		logger.Error("could not record queue failure on job", "error", err, "cause", cause)
		return
	}
	logger.Error("import task could not be queued", "error", cause)
}

// GetImportStatus returns the job with live counters from the progress
// channel merged in.
func (s *Service) GetImportStatus(ctx context.Context, id string) (ImportJob, error) {
	job, err := s.store.GetJob(ctx, id)
	if err != nil {
		return ImportJob{}, err
	}
	if job.Status.Terminal() {
		return job, nil
	}

	snap, err := s.progress.Read(ctx, id)
	if err != nil {
		if !errors.Is(err, progress.ErrNoSnapshot) {
			logging.FromContext(ctx).Warn("progress read failed", "job_id", id, "error", err)
		}
		return job, nil
	}
	return mergeSnapshot(job, snap), nil
}

// mergeSnapshot overlays a snapshot that is at least as far along as the
// job row.
func mergeSnapshot(job ImportJob, snap progress.Snapshot) ImportJob {
	status := JobStatus(snap.Status)
	if status != job.Status && !job.Status.CanTransition(status) {
		return job
	}
	if snap.ProcessedRows < job.ProcessedRows {
		return job
	}
	job.Status = status
	if snap.TotalRows > 0 {
		job.TotalRows = snap.TotalRows
	}
	job.ProcessedRows = snap.ProcessedRows
	job.SuccessCount = snap.SuccessCount
	job.ErrorCount = snap.ErrorCount
	job.CreatedCount = snap.CreatedCount
	job.UpdatedCount = snap.UpdatedCount
	job.ProgressPercentage = snap.ProgressPercentage
	return job
}

// StreamProgress polls the job's progress and calls send with every
// snapshot that differs from the previous one. It stops after a terminal
// snapshot, after StreamMaxDuration or when ctx ends, and always finishes
// with a StreamEnded event unless ctx ended or send failed.
func (s *Service) StreamProgress(ctx context.Context, id string, send func(progress.Snapshot) error) error {
	if _, err := s.store.GetJob(ctx, id); err != nil {
		return err
	}

	ticker := time.NewTicker(s.cfg.StreamPollInterval)
	defer ticker.Stop()
	deadline := time.NewTimer(s.cfg.StreamMaxDuration)
	defer deadline.Stop()

	var last *progress.Snapshot
	for {
		snap, ok := s.currentProgress(ctx, id)
		if ok && (last == nil || *last != snap) {
			if err := send(snap); err != nil {
				return err
			}
			last = &snap
		}
		if !ok || snap.Terminal() {
			break
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-deadline.C:
			return send(progress.Snapshot{Status: StreamEnded})
		case <-ticker.C:
		}
	}
	return send(progress.Snapshot{Status: StreamEnded})
}

// currentProgress prefers the live snapshot and falls back to the job row.
// ok is false once the job is gone.
func (s *Service) currentProgress(ctx context.Context, id string) (progress.Snapshot, bool) {
	snap, err := s.progress.Read(ctx, id)
	if err == nil {
		return snap, true
	}
	if !errors.Is(err, progress.ErrNoSnapshot) {
		logging.FromContext(ctx).Warn("progress read failed", "job_id", id, "error", err)
	}

	job, err := s.store.GetJob(ctx, id)
	if err != nil {
		return progress.Snapshot{}, false
	}
	return snapshotFromJob(job), true
}

func snapshotFromJob(job ImportJob) progress.Snapshot {
	s := progress.Snapshot{
		Status:             string(job.Status),
		TotalRows:          job.TotalRows,
		ProcessedRows:      job.ProcessedRows,
		SuccessCount:       job.SuccessCount,
		ErrorCount:         job.ErrorCount,
		CreatedCount:       job.CreatedCount,
		UpdatedCount:       job.UpdatedCount,
		ProgressPercentage: job.ProgressPercentage,
	}
	if job.Status == StatusFailed && len(job.ErrorDetails) > 0 {
		s.Error = job.ErrorDetails[0].Message
	}
	return s
}

// ListImports returns the most recent jobs. limit defaults to 10 and is
// capped at 100.
func (s *Service) ListImports(ctx context.Context, limit int) ([]ImportJob, error) {
	if limit <= 0 {
		limit = DefaultImportListLimit
	}
	limit = min(limit, MaxImportListLimit)
	return s.store.ListJobs(ctx, limit)
}

// DeleteImport removes the job row, its upload file and its snapshot.
func (s *Service) DeleteImport(ctx context.Context, id string) error {
	if _, err := s.store.GetJob(ctx, id); err != nil {
		return err
	}
	logger := logging.WithFields(ctx, "job_id", id)

	removeUpload(logger, s.UploadPath(id))
	if err := s.progress.Delete(ctx, id); err != nil {
		logger.Warn("progress snapshot not deleted", "error", err)
	}
	if err := s.store.DeleteJob(ctx, id); err != nil {
		return err
	}
	logger.Info("import job deleted")
	return nil
}

// isTextContent reports whether head looks like a text file. An empty
// upload counts as text.
func isTextContent(head []byte) bool {
	if len(head) == 0 {
		return true
	}
	for m := mimetype.Detect(head); m != nil; m = m.Parent() {
		if m.Is("text/plain") {
			return true
		}
	}
	return false
}

func removeUpload(logger *slog.Logger, path string) {
	if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		logger.Warn("could not remove upload file", "file", path, "error", err)
	}
}
