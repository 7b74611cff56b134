package importer

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JonMunkholm/product-importer/internal/core"
	"github.com/JonMunkholm/product-importer/internal/progress"
	"github.com/JonMunkholm/product-importer/internal/queue"
)

const testJobID = "3f1c1a52-8d55-4b8e-9f0e-1b3f8c6d2a10"

type harness struct {
	jobs     *fakeJobs
	products *fakeProducts
	progress *progress.MemoryPublisher
	events   *recordingEmitter
	orch     *Orchestrator
}

func newHarness(t *testing.T, cfg Config, job core.ImportJob) *harness {
	t.Helper()
	h := &harness{
		jobs:     newFakeJobs(job),
		products: newFakeProducts(),
		progress: progress.NewMemoryPublisher(time.Hour),
		events:   &recordingEmitter{},
	}
	h.orch = NewOrchestrator(h.jobs, NewEngine(h.products, cfg.ChunkSize), h.progress, h.events, cfg)
	return h
}

func pendingJob() core.ImportJob {
	return core.ImportJob{ID: testJobID, Filename: "products.csv", Status: core.StatusPending}
}

func writeCSV(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), testJobID+".csv")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func (h *harness) snapshot(t *testing.T) progress.Snapshot {
	t.Helper()
	s, err := h.progress.Read(context.Background(), testJobID)
	require.NoError(t, err)
	return s
}

func TestOrchestrator_MixedFile(t *testing.T) {
	h := newHarness(t, Config{}, pendingJob())
	path := writeCSV(t, strings.Join([]string{
		"SKU,Name,Description,Price,Quantity",
		"abc-1,Widget,Blue,9.99,5",
		",Missing sku,,1,1",
		"abc-1,Widget v2,,10,6",
		"XYZ,Gadget,,abc,1",
		"DEF,Thing,,,",
	}, "\n")+"\n")

	require.NoError(t, h.orch.Run(context.Background(), testJobID, path))

	job := h.jobs.get(testJobID)
	assert.Equal(t, core.StatusCompleted, job.Status)
	assert.Equal(t, 5, job.TotalRows)
	assert.Equal(t, 5, job.ProcessedRows)
	assert.Equal(t, 3, job.SuccessCount)
	assert.Equal(t, 2, job.ErrorCount)
	assert.Equal(t, 2, job.CreatedCount)
	assert.Equal(t, 1, job.UpdatedCount)
	assert.Equal(t, 100.0, job.ProgressPercentage)
	require.NotNil(t, job.StartedAt)
	require.NotNil(t, job.CompletedAt)

	require.Len(t, job.ErrorDetails, 2)
	assert.Equal(t, 3, job.ErrorDetails[0].Row)
	assert.Equal(t, []string{"SKU is required"}, job.ErrorDetails[0].Errors)
	assert.Equal(t, 5, job.ErrorDetails[1].Row)
	assert.Equal(t, "XYZ", job.ErrorDetails[1].SKU)
	assert.Equal(t, []string{"Invalid price format: abc"}, job.ErrorDetails[1].Errors)

	widget, ok := h.products.get("ABC-1")
	require.True(t, ok)
	assert.Equal(t, "Widget v2", widget.Name)
	assert.Equal(t, int32(6), widget.Quantity)

	snap := h.snapshot(t)
	assert.Equal(t, "completed", snap.Status)
	assert.Equal(t, 100.0, snap.ProgressPercentage)
	assert.Equal(t, "Import completed: 2 created, 1 updated, 2 errors", snap.Message)

	assert.Equal(t, []string{core.EventImportStarted, core.EventImportCompleted}, h.events.names())
	done := h.events.last().payload
	assert.Equal(t, testJobID, done["job_id"])
	assert.Equal(t, 2, done["created_count"])

	_, err := os.Stat(path)
	assert.True(t, errors.Is(err, os.ErrNotExist), "upload file should be removed")
}

func TestOrchestrator_StatusNeverRegresses(t *testing.T) {
	h := newHarness(t, Config{ChunkSize: 2, ProgressInterval: 2}, pendingJob())

	var b strings.Builder
	b.WriteString("sku,name\n")
	for i := range 7 {
		fmt.Fprintf(&b, "SKU-%d,Product %d\n", i, i)
	}
	path := writeCSV(t, b.String())

	require.NoError(t, h.orch.Run(context.Background(), testJobID, path))

	history := h.jobs.saved()
	require.NotEmpty(t, history)
	assert.Equal(t, core.StatusParsing, history[0].Status)

	var checkpoints []int
	for i := 1; i < len(history); i++ {
		prev, next := history[i-1], history[i]
		if prev.Status != next.Status {
			assert.True(t, prev.Status.CanTransition(next.Status),
				"status moved %s -> %s", prev.Status, next.Status)
		}
		assert.GreaterOrEqual(t, next.ProcessedRows, prev.ProcessedRows)
		assert.LessOrEqual(t, next.ProcessedRows, next.TotalRows)
		assert.Equal(t, next.ProcessedRows, next.SuccessCount+next.ErrorCount)
		if next.Status == core.StatusImporting {
			checkpoints = append(checkpoints, next.ProcessedRows)
		}
	}
	assert.Equal(t, []int{2, 4, 6}, checkpoints)

	final := history[len(history)-1]
	assert.Equal(t, core.StatusCompleted, final.Status)
	assert.Equal(t, 7, final.CreatedCount)
}

func TestOrchestrator_ErrorSamplesCapped(t *testing.T) {
	h := newHarness(t, Config{MaxErrorSamples: 2}, pendingJob())
	path := writeCSV(t, "sku,name\n,a\n,b\n,c\n,d\nOK,fine\n")

	require.NoError(t, h.orch.Run(context.Background(), testJobID, path))

	job := h.jobs.get(testJobID)
	assert.Equal(t, core.StatusCompleted, job.Status)
	assert.Equal(t, 4, job.ErrorCount)
	assert.Equal(t, 1, job.SuccessCount)
	assert.Len(t, job.ErrorDetails, 2)
}

func TestConfig_ZeroValuesUseDefaults(t *testing.T) {
	cfg := Config{}.withDefaults()
	assert.Equal(t, DefaultChunkSize, cfg.ChunkSize)
	assert.Equal(t, DefaultProgressInterval, cfg.ProgressInterval)
	assert.Equal(t, DefaultMaxErrorSamples, cfg.MaxErrorSamples)
	assert.Equal(t, DefaultPublishTimeout, cfg.PublishTimeout)
}

func TestOrchestrator_DefaultConfigKeepsErrorSamples(t *testing.T) {
	h := newHarness(t, Config{}, pendingJob())
	path := writeCSV(t, "sku,name\n,missing sku\nOK,fine\n")

	require.NoError(t, h.orch.Run(context.Background(), testJobID, path))

	job := h.jobs.get(testJobID)
	require.Len(t, job.ErrorDetails, 1)
	assert.Equal(t, 2, job.ErrorDetails[0].Row)
}

func TestOrchestrator_EmptyFile(t *testing.T) {
	h := newHarness(t, Config{}, pendingJob())
	path := writeCSV(t, "")

	require.NoError(t, h.orch.Run(context.Background(), testJobID, path))

	job := h.jobs.get(testJobID)
	assert.Equal(t, core.StatusCompleted, job.Status)
	assert.Zero(t, job.TotalRows)
	assert.Equal(t, 100.0, job.ProgressPercentage)
	assert.NotNil(t, job.ErrorDetails)
	assert.Empty(t, job.ErrorDetails)
}

func TestOrchestrator_BOMAndHeaderCase(t *testing.T) {
	h := newHarness(t, Config{}, pendingJob())
	path := writeCSV(t, "\ufeff Sku , NAME \r\nabc,Widget\r\n")

	require.NoError(t, h.orch.Run(context.Background(), testJobID, path))

	_, ok := h.products.get("ABC")
	assert.True(t, ok)
	assert.Equal(t, 1, h.jobs.get(testJobID).CreatedCount)
}

func TestOrchestrator_MissingRequiredColumn(t *testing.T) {
	h := newHarness(t, Config{}, pendingJob())
	path := writeCSV(t, "code,title\n1,2\n")

	err := h.orch.Run(context.Background(), testJobID, path)
	require.Error(t, err)
	assert.True(t, queue.IsPermanent(err))

	job := h.jobs.get(testJobID)
	assert.Equal(t, core.StatusFailed, job.Status)
	require.Len(t, job.ErrorDetails, 1)
	assert.Contains(t, job.ErrorDetails[0].Message, "missing required column")
	assert.NotNil(t, job.CompletedAt)

	snap := h.snapshot(t)
	assert.Equal(t, "failed", snap.Status)
	assert.Contains(t, snap.Error, "missing required column")

	assert.Equal(t, []string{core.EventImportStarted, core.EventImportFailed}, h.events.names())
	_, statErr := os.Stat(path)
	assert.True(t, errors.Is(statErr, os.ErrNotExist))
}

func TestOrchestrator_UpsertFailure(t *testing.T) {
	h := newHarness(t, Config{}, pendingJob())
	h.products.failTx = 1
	path := writeCSV(t, "sku,name\nA,a\nB,b\n")

	err := h.orch.Run(context.Background(), testJobID, path)
	require.Error(t, err)
	assert.True(t, queue.IsPermanent(err))

	job := h.jobs.get(testJobID)
	assert.Equal(t, core.StatusFailed, job.Status)
	assert.Contains(t, job.ErrorDetails[0].Message, "connection reset")
	assert.Zero(t, h.products.count())
}

func TestOrchestrator_FailureNotRecordedIsRetryable(t *testing.T) {
	h := newHarness(t, Config{}, pendingJob())
	h.jobs.saveErr = errors.New("database is down")
	path := writeCSV(t, "sku,name\nA,a\n")

	err := h.orch.Run(context.Background(), testJobID, path)
	require.Error(t, err)
	assert.False(t, queue.IsPermanent(err))
	assert.Contains(t, err.Error(), "database is down")
}

func TestOrchestrator_Cancelled(t *testing.T) {
	h := newHarness(t, Config{}, pendingJob())

	var b strings.Builder
	b.WriteString("sku,name\n")
	for i := range 250 {
		fmt.Fprintf(&b, "S%d,n\n", i)
	}
	path := writeCSV(t, b.String())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := h.orch.Run(ctx, testJobID, path)
	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)

	job := h.jobs.get(testJobID)
	assert.Equal(t, core.StatusFailed, job.Status)
	assert.Less(t, job.ProcessedRows, 250)
}

// blockingUpserter holds the first chunk until its context ends.
type blockingUpserter struct {
	once    sync.Once
	started chan struct{}
}

func (u *blockingUpserter) Upsert(ctx context.Context, _ []core.Record) (int, int, error) {
	u.once.Do(func() { close(u.started) })
	<-ctx.Done()
	return 0, 0, ctx.Err()
}

func TestOrchestrator_WorkerAbortFailsRunningImport(t *testing.T) {
	jobs := newFakeJobs(pendingJob())
	up := &blockingUpserter{started: make(chan struct{})}
	orch := NewOrchestrator(jobs, up, progress.NewMemoryPublisher(time.Hour), &recordingEmitter{}, Config{ChunkSize: 1})
	path := writeCSV(t, "sku,name\nA,one\nB,two\n")

	q := queue.NewMemoryQueue()
	defer q.Close()
	w := queue.NewWorker(q, queue.CSVImport, 1)
	w.Handle(TaskKind, orch.HandleTask)

	ctx, cancel := context.WithCancel(context.Background())
	w.Start(ctx)
	task, err := queue.NewTask(TaskKind, TaskPayload{JobID: testJobID, FilePath: path}, 3)
	require.NoError(t, err)
	require.NoError(t, q.Enqueue(ctx, queue.CSVImport, task, 0))

	select {
	case <-up.started:
	case <-time.After(time.Second):
		t.Fatal("import never reached the upsert")
	}
	cancel()
	w.Abort()
	w.Wait()

	job := jobs.get(testJobID)
	assert.Equal(t, core.StatusFailed, job.Status)
	require.NotNil(t, job.CompletedAt)
	require.Len(t, job.ErrorDetails, 1)
	assert.Contains(t, job.ErrorDetails[0].Message, context.Canceled.Error())
	assert.NoFileExists(t, path)
}

func TestOrchestrator_TerminalJobSkipped(t *testing.T) {
	job := pendingJob()
	job.Status = core.StatusCompleted
	h := newHarness(t, Config{}, job)
	path := writeCSV(t, "sku,name\nA,a\n")

	require.NoError(t, h.orch.Run(context.Background(), testJobID, path))
	assert.Empty(t, h.jobs.saved())
	assert.Zero(t, h.products.count())
	assert.Empty(t, h.events.names())
}

func TestOrchestrator_RedeliveredJobRestarts(t *testing.T) {
	job := pendingJob()
	job.Status = core.StatusImporting
	job.ProcessedRows = 1
	job.SuccessCount = 1
	h := newHarness(t, Config{}, job)
	path := writeCSV(t, "sku,name\nA,a\nB,b\n")

	require.NoError(t, h.orch.Run(context.Background(), testJobID, path))

	got := h.jobs.get(testJobID)
	assert.Equal(t, core.StatusCompleted, got.Status)
	assert.Equal(t, 2, got.ProcessedRows)
	assert.Equal(t, 2, got.SuccessCount)
	for _, saved := range h.jobs.saved() {
		assert.NotEqual(t, core.StatusParsing, saved.Status)
		assert.NotEqual(t, core.StatusValidating, saved.Status)
	}
}

func TestOrchestrator_MissingJob(t *testing.T) {
	h := newHarness(t, Config{}, core.ImportJob{ID: "other"})
	path := writeCSV(t, "sku,name\nA,a\n")

	err := h.orch.Run(context.Background(), testJobID, path)
	require.Error(t, err)
	assert.True(t, queue.IsPermanent(err))
	assert.ErrorIs(t, err, core.ErrNotFound)

	_, statErr := os.Stat(path)
	assert.True(t, errors.Is(statErr, os.ErrNotExist))
}

func TestOrchestrator_HandleTask(t *testing.T) {
	h := newHarness(t, Config{}, pendingJob())
	path := writeCSV(t, "sku,name\nA,a\n")

	task, err := queue.NewTask(TaskKind, TaskPayload{JobID: testJobID, FilePath: path}, 3)
	require.NoError(t, err)
	require.NoError(t, h.orch.HandleTask(context.Background(), task))
	assert.Equal(t, core.StatusCompleted, h.jobs.get(testJobID).Status)

	bad := queue.Task{ID: "t1", Kind: TaskKind, Payload: []byte(`{"job_id":`)}
	assert.True(t, queue.IsPermanent(h.orch.HandleTask(context.Background(), bad)))

	empty, err := queue.NewTask(TaskKind, TaskPayload{}, 3)
	require.NoError(t, err)
	assert.True(t, queue.IsPermanent(h.orch.HandleTask(context.Background(), empty)))
}
