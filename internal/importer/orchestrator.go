// Package importer turns an uploaded CSV file into upserted products.
//
// The Orchestrator drives one job through
// pending → parsing → validating → importing → completed | failed.
// It counts the rows, streams them through ValidateRow, hands full batches
// to the Engine and keeps two progress channels current: a snapshot on the
// fast progress channel and the durable job row, which is written every
// ProgressInterval rows and at the end.
package importer

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"time"

	"github.com/JonMunkholm/product-importer/internal/core"
	"github.com/JonMunkholm/product-importer/internal/logging"
	"github.com/JonMunkholm/product-importer/internal/progress"
	"github.com/JonMunkholm/product-importer/internal/queue"
)

// TaskKind identifies import tasks on the csv_import queue.
const TaskKind = core.ImportTaskKind

// TaskPayload is the body of an import task.
type TaskPayload = core.ImportTask

const (
	DefaultProgressInterval = 1000
	DefaultMaxErrorSamples  = 100
	DefaultPublishTimeout   = 2 * time.Second

	// failRecordTimeout bounds the writes made after an import has failed.
	failRecordTimeout = 10 * time.Second

	// ctxCheckInterval is how many rows pass between cancellation checks.
	ctxCheckInterval = 100
)

// requiredColumns must appear in the header of every import file.
var requiredColumns = []string{colSKU, colName}

// JobStore loads and persists import jobs.
type JobStore interface {
	GetJob(ctx context.Context, id string) (core.ImportJob, error)
	SaveJob(ctx context.Context, job core.ImportJob) error
}

// Upserter writes a batch of validated records.
type Upserter interface {
	Upsert(ctx context.Context, records []core.Record) (created, updated int, err error)
}

// Config tunes the orchestrator. Zero values fall back to defaults.
type Config struct {
	ChunkSize        int
	ProgressInterval int
	MaxErrorSamples  int
	PublishTimeout   time.Duration
}

func (c Config) withDefaults() Config {
	if c.ChunkSize <= 0 {
		c.ChunkSize = DefaultChunkSize
	}
	if c.ProgressInterval <= 0 {
		c.ProgressInterval = DefaultProgressInterval
	}
	if c.MaxErrorSamples <= 0 {
		c.MaxErrorSamples = DefaultMaxErrorSamples
	}
	if c.PublishTimeout <= 0 {
		c.PublishTimeout = DefaultPublishTimeout
	}
	return c
}

// Orchestrator runs import jobs. Jobs are processed one at a time per
// worker; an Orchestrator holds no per-job state between runs.
type Orchestrator struct {
	jobs     JobStore
	upserter Upserter
	progress progress.Publisher
	events   core.EventEmitter
	cfg      Config
	now      func() time.Time
}

func NewOrchestrator(jobs JobStore, upserter Upserter, pub progress.Publisher, events core.EventEmitter, cfg Config) *Orchestrator {
	if events == nil {
		events = core.NopEmitter{}
	}
	return &Orchestrator{
		jobs:     jobs,
		upserter: upserter,
		progress: pub,
		events:   events,
		cfg:      cfg.withDefaults(),
		now:      time.Now,
	}
}

// HandleTask is the queue handler for TaskKind.
func (o *Orchestrator) HandleTask(ctx context.Context, task queue.Task) error {
	var p TaskPayload
	if err := task.Decode(&p); err != nil {
		return err
	}
	if p.JobID == "" || p.FilePath == "" {
		return queue.Permanent(fmt.Errorf("import task %s: missing job id or file path", task.ID))
	}
	return o.Run(ctx, p.JobID, p.FilePath)
}

// run carries the state of one job while it is processed.
type run struct {
	job    core.ImportJob
	logger *slog.Logger
	batch  []core.Record
}

// advance moves the job forward; moves that would go backwards are ignored
// so a redelivered job never regresses.
func (r *run) advance(next core.JobStatus) {
	if r.job.Status.CanTransition(next) {
		r.job.Status = next
	}
}

// Run processes the job and its file. The file is removed once the job
// reaches a terminal state.
//
// Errors returned to the queue: a failure that was recorded on the job is
// permanent (the file is gone, a retry has nothing to read); a failure to
// load or record the job is retryable.
func (o *Orchestrator) Run(ctx context.Context, jobID, path string) error {
	logger := logging.ForJob(jobID)

	job, err := o.jobs.GetJob(ctx, jobID)
	if err != nil {
		if errors.Is(err, core.ErrNotFound) {
			logger.Warn("import job no longer exists, discarding task", "file", path)
			removeFile(logger, path)
			return queue.Permanent(err)
		}
		return fmt.Errorf("load import job %s: %w", jobID, err)
	}
	if job.Status.Terminal() {
		logger.Info("import job already finished, skipping", "status", job.Status)
		return nil
	}

	r := &run{job: job, logger: logger}
	start := o.now()
	if err := o.process(ctx, r, path); err != nil {
		return o.fail(ctx, r, path, err)
	}

	logger.Info("import completed",
		"total_rows", r.job.TotalRows,
		"success_count", r.job.SuccessCount,
		"error_count", r.job.ErrorCount,
		"created_count", r.job.CreatedCount,
		"updated_count", r.job.UpdatedCount,
		"duration_ms", o.now().Sub(start).Milliseconds(),
	)
	return nil
}

func (o *Orchestrator) process(ctx context.Context, r *run, path string) error {
	started := o.now()
	r.job.StartedAt = &started
	r.job.CompletedAt = nil
	r.job.TotalRows = 0
	r.job.ProcessedRows = 0
	r.job.SuccessCount = 0
	r.job.ErrorCount = 0
	r.job.CreatedCount = 0
	r.job.UpdatedCount = 0
	r.job.ErrorDetails = nil

	r.advance(core.StatusParsing)
	if err := o.save(ctx, r); err != nil {
		return err
	}
	o.publish(ctx, r, "Counting rows in CSV file...")
	o.events.Emit(ctx, core.EventImportStarted, map[string]any{
		"job_id":   r.job.ID,
		"filename": r.job.Filename,
	})

	total, err := countFile(path)
	if err != nil {
		return err
	}
	r.job.TotalRows = total
	r.advance(core.StatusValidating)
	if err := o.save(ctx, r); err != nil {
		return err
	}
	o.publish(ctx, r, fmt.Sprintf("Processing %d products...", total))
	r.logger.Info("import started", "filename", r.job.Filename, "total_rows", total)

	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("open upload: %w", err)
	}
	defer f.Close()

	src := newSourceReader(f)
	if err := o.stream(ctx, r, src); err != nil {
		return err
	}
	if err := o.flush(ctx, r); err != nil {
		return err
	}

	completed := o.now()
	r.job.CompletedAt = &completed
	r.advance(core.StatusCompleted)
	if r.job.ErrorDetails == nil {
		r.job.ErrorDetails = []core.ErrorDetail{}
	}
	if err := o.save(ctx, r); err != nil {
		return err
	}

	o.publishSnapshot(ctx, r, progress.Snapshot{
		Status: string(core.StatusCompleted),
		Message: fmt.Sprintf("Import completed: %d created, %d updated, %d errors",
			r.job.CreatedCount, r.job.UpdatedCount, r.job.ErrorCount),
		ProgressPercentage: 100,
	})
	o.events.Emit(ctx, core.EventImportCompleted, map[string]any{
		"job_id":        r.job.ID,
		"total_rows":    r.job.TotalRows,
		"success_count": r.job.SuccessCount,
		"error_count":   r.job.ErrorCount,
		"created_count": r.job.CreatedCount,
		"updated_count": r.job.UpdatedCount,
	})
	r.logger.Debug("upload file consumed", "bytes", src.BytesRead())
	removeFile(r.logger, path)
	return nil
}

// stream validates every data row, batching valid records and checkpointing
// progress every ProgressInterval rows.
func (o *Orchestrator) stream(ctx context.Context, r *run, src io.Reader) error {
	cr := newCSVReader(src)

	header, err := cr.Read()
	if errors.Is(err, io.EOF) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("invalid csv header: %w", err)
	}
	cols := core.MakeHeaderIndex(header)
	if !cols.Has(requiredColumns...) {
		return fmt.Errorf("missing required column: header must include %q and %q", colSKU, colName)
	}

	row := 1
	for {
		if row%ctxCheckInterval == 0 {
			if err := ctx.Err(); err != nil {
				return err
			}
		}

		record, err := cr.Read()
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("invalid csv after row %d: %w", row, err)
		}
		row++

		r.job.ProcessedRows++
		parsed := ValidateRow(cols.Fields(record), row)
		if rec, ok := parsed.Valid(); ok {
			r.job.SuccessCount++
			r.batch = append(r.batch, rec)
			if len(r.batch) >= o.cfg.ChunkSize {
				if err := o.flush(ctx, r); err != nil {
					return err
				}
			}
		} else if rowErr, ok := parsed.Invalid(); ok {
			r.job.ErrorCount++
			if len(r.job.ErrorDetails) < o.cfg.MaxErrorSamples {
				r.job.ErrorDetails = append(r.job.ErrorDetails, core.ErrorDetail{
					Row:    rowErr.Row,
					Errors: rowErr.Errors,
					SKU:    rowErr.SKU,
				})
			}
		}

		if r.job.ProcessedRows%o.cfg.ProgressInterval == 0 {
			if err := o.save(ctx, r); err != nil {
				return err
			}
			o.publish(ctx, r, "")
		}
	}
}

func (o *Orchestrator) flush(ctx context.Context, r *run) error {
	if len(r.batch) == 0 {
		return nil
	}
	created, updated, err := o.upserter.Upsert(ctx, r.batch)
	if err != nil {
		return err
	}
	r.job.CreatedCount += created
	r.job.UpdatedCount += updated
	r.logger.Debug("batch upserted", "size", len(r.batch), "created", created, "updated", updated)
	r.batch = r.batch[:0]
	r.advance(core.StatusImporting)
	return nil
}

// fail records cause on the job, removes the file and tells the queue
// whether a retry makes sense.
func (o *Orchestrator) fail(ctx context.Context, r *run, path string, cause error) error {
	// Record the failure even when the job was cancelled.
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), failRecordTimeout)
	defer cancel()

	r.logger.Error("import failed", "error", cause, "processed_rows", r.job.ProcessedRows)

	completed := o.now()
	r.job.CompletedAt = &completed
	r.advance(core.StatusFailed)
	r.job.ErrorDetails = []core.ErrorDetail{{Message: cause.Error()}}
	saveErr := o.save(ctx, r)

	o.publishSnapshot(ctx, r, progress.Snapshot{
		Status:  string(core.StatusFailed),
		Message: "Import failed: " + cause.Error(),
		Error:   cause.Error(),
	})
	removeFile(r.logger, path)
	o.events.Emit(ctx, core.EventImportFailed, map[string]any{
		"job_id": r.job.ID,
		"error":  cause.Error(),
	})

	if saveErr != nil {
		r.logger.Error("could not record import failure", "error", saveErr)
		return fmt.Errorf("%w (recording failure: %v)", cause, saveErr)
	}
	return queue.Permanent(cause)
}

func (o *Orchestrator) save(ctx context.Context, r *run) error {
	if r.job.Status == core.StatusCompleted {
		r.job.ProgressPercentage = 100
	} else {
		r.job.ProgressPercentage = core.Percentage(r.job.ProcessedRows, r.job.TotalRows)
	}
	if err := o.jobs.SaveJob(ctx, r.job); err != nil {
		return fmt.Errorf("persist job progress: %w", err)
	}
	return nil
}

// publish sends the job's current counters with message.
func (o *Orchestrator) publish(ctx context.Context, r *run, message string) {
	o.publishSnapshot(ctx, r, progress.Snapshot{
		Status:             string(r.job.Status),
		Message:            message,
		ProgressPercentage: core.Percentage(r.job.ProcessedRows, r.job.TotalRows),
	})
}

// publishSnapshot fills the counters of s from the job and writes it to the
// progress channel. Failures are logged; the import carries on.
func (o *Orchestrator) publishSnapshot(ctx context.Context, r *run, s progress.Snapshot) {
	s.TotalRows = r.job.TotalRows
	s.ProcessedRows = r.job.ProcessedRows
	s.SuccessCount = r.job.SuccessCount
	s.ErrorCount = r.job.ErrorCount
	s.CreatedCount = r.job.CreatedCount
	s.UpdatedCount = r.job.UpdatedCount

	pctx, cancel := context.WithTimeout(ctx, o.cfg.PublishTimeout)
	defer cancel()
	if err := o.progress.Publish(pctx, r.job.ID, s); err != nil {
		r.logger.Warn("progress publish failed", "status", s.Status, "error", err)
	}
}

// countFile returns the number of data rows in the file at path.
func countFile(path string) (int, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, fmt.Errorf("open upload: %w", err)
	}
	defer f.Close()
	return countRows(f)
}

// countRows counts CSV records after the header, parsing exactly as the
// import pass does.
func countRows(r io.Reader) (int, error) {
	cr := newCSVReader(newSourceReader(r))
	records := 0
	for {
		_, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return 0, fmt.Errorf("invalid csv after row %d: %w", records, err)
		}
		records++
	}
	if records == 0 {
		return 0, nil
	}
	return records - 1, nil
}

func removeFile(logger *slog.Logger, path string) {
	if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		logger.Warn("could not remove upload file", "file", path, "error", err)
	}
}
