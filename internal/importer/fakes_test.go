package importer

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/JonMunkholm/product-importer/internal/core"
)

// fakeProducts is an in-memory product table with transaction semantics:
// writes made inside WithinProductTx are applied only when fn succeeds.
type fakeProducts struct {
	mu       sync.Mutex
	rows     map[string]core.Record
	txs      int
	failTx   int // 1-based transaction number whose upsert fails; 0 never
	batchLen []int
}

func newFakeProducts() *fakeProducts {
	return &fakeProducts{rows: make(map[string]core.Record)}
}

func (f *fakeProducts) WithinProductTx(ctx context.Context, fn func(core.ProductBatch) error) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.txs++
	b := &fakeBatch{rows: f.rows, fail: f.txs == f.failTx, staged: make(map[string]core.Record)}
	if err := fn(b); err != nil {
		return err
	}
	for sku, r := range b.staged {
		f.rows[sku] = r
	}
	f.batchLen = append(f.batchLen, b.written)
	return nil
}

func (f *fakeProducts) get(sku string) (core.Record, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	r, ok := f.rows[sku]
	return r, ok
}

func (f *fakeProducts) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.rows)
}

type fakeBatch struct {
	rows    map[string]core.Record
	staged  map[string]core.Record
	fail    bool
	written int
}

func (b *fakeBatch) ExistingSKUs(_ context.Context, skus []string) (map[string]struct{}, error) {
	out := make(map[string]struct{})
	for _, s := range skus {
		if _, ok := b.rows[s]; ok {
			out[s] = struct{}{}
		}
	}
	return out, nil
}

func (b *fakeBatch) UpsertProducts(_ context.Context, records []core.Record) error {
	if b.fail {
		return errors.New("connection reset by peer")
	}
	seen := make(map[string]struct{}, len(records))
	for _, r := range records {
		// Postgres refuses to touch the same row twice in one statement.
		if _, dup := seen[r.SKU]; dup {
			return fmt.Errorf("ON CONFLICT DO UPDATE command cannot affect row a second time (sku %s)", r.SKU)
		}
		seen[r.SKU] = struct{}{}
		b.staged[r.SKU] = r
	}
	b.written = len(records)
	return nil
}

// fakeJobs is an in-memory JobStore that keeps every saved version.
type fakeJobs struct {
	mu      sync.Mutex
	jobs    map[string]core.ImportJob
	history []core.ImportJob
	saveErr error
}

func newFakeJobs(jobs ...core.ImportJob) *fakeJobs {
	f := &fakeJobs{jobs: make(map[string]core.ImportJob)}
	for _, j := range jobs {
		f.jobs[j.ID] = j
	}
	return f
}

func (f *fakeJobs) GetJob(_ context.Context, id string) (core.ImportJob, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	j, ok := f.jobs[id]
	if !ok {
		return core.ImportJob{}, fmt.Errorf("import job %s: %w", id, core.ErrNotFound)
	}
	return j, nil
}

func (f *fakeJobs) SaveJob(_ context.Context, job core.ImportJob) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.saveErr != nil {
		return f.saveErr
	}
	job.ErrorDetails = append([]core.ErrorDetail(nil), job.ErrorDetails...)
	f.jobs[job.ID] = job
	f.history = append(f.history, job)
	return nil
}

func (f *fakeJobs) get(id string) core.ImportJob {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.jobs[id]
}

func (f *fakeJobs) saved() []core.ImportJob {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]core.ImportJob(nil), f.history...)
}

type emitted struct {
	event   string
	payload map[string]any
}

type recordingEmitter struct {
	mu     sync.Mutex
	events []emitted
}

func (r *recordingEmitter) Emit(_ context.Context, event string, payload any) {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, _ := payload.(map[string]any)
	r.events = append(r.events, emitted{event: event, payload: p})
}

func (r *recordingEmitter) names() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, len(r.events))
	for i, e := range r.events {
		out[i] = e.event
	}
	return out
}

func (r *recordingEmitter) last() emitted {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.events[len(r.events)-1]
}
