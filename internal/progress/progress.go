// Package progress is the fast, expiring side channel an import job writes
// its live counters to. Readers poll it for status pages and SSE streams;
// the durable job row is only updated every progress interval.
package progress

import (
	"context"
	"errors"
	"time"
)

const (
	// KeyPrefix prefixes every snapshot key: import_progress:{job_id}.
	KeyPrefix = "import_progress:"

	// DefaultTTL is how long a snapshot outlives its last write.
	DefaultTTL = time.Hour
)

// ErrNoSnapshot is returned when a job has no live snapshot (never
// published, expired or deleted).
var ErrNoSnapshot = errors.New("progress snapshot not found")

// Snapshot is the latest known progress of one job.
type Snapshot struct {
	Status             string  `json:"status"`
	Message            string  `json:"message,omitempty"`
	TotalRows          int     `json:"total_rows"`
	ProcessedRows      int     `json:"processed_rows"`
	SuccessCount       int     `json:"success_count"`
	ErrorCount         int     `json:"error_count"`
	CreatedCount       int     `json:"created_count"`
	UpdatedCount       int     `json:"updated_count"`
	ProgressPercentage float64 `json:"progress_percentage"`
	Error              string  `json:"error,omitempty"`
}

// Terminal reports whether the snapshot describes a finished job.
func (s Snapshot) Terminal() bool {
	return s.Status == "completed" || s.Status == "failed"
}

// Publisher writes and reads snapshots. Writes are last-write-wins.
type Publisher interface {
	Publish(ctx context.Context, jobID string, s Snapshot) error
	Read(ctx context.Context, jobID string) (Snapshot, error)
	Delete(ctx context.Context, jobID string) error
}

// Key returns the storage key of a job's snapshot.
func Key(jobID string) string {
	return KeyPrefix + jobID
}
