package database

import (
	"context"

	"github.com/jackc/pgx/v5/pgtype"
)

const importJobColumns = `id, filename, status, total_rows, processed_rows, success_count, error_count,
    created_count, updated_count, error_details, started_at, completed_at, created_at`

func scanImportJob(row interface{ Scan(...any) error }) (ImportJob, error) {
	var i ImportJob
	err := row.Scan(
		&i.ID,
		&i.Filename,
		&i.Status,
		&i.TotalRows,
		&i.ProcessedRows,
		&i.SuccessCount,
		&i.ErrorCount,
		&i.CreatedCount,
		&i.UpdatedCount,
		&i.ErrorDetails,
		&i.StartedAt,
		&i.CompletedAt,
		&i.CreatedAt,
	)
	return i, err
}

const createImportJob = `-- name: CreateImportJob :one
INSERT INTO import_jobs (id, filename, status)
VALUES ($1, $2, 'pending')
RETURNING ` + importJobColumns

type CreateImportJobParams struct {
	ID       pgtype.UUID
	Filename string
}

func (q *Queries) CreateImportJob(ctx context.Context, arg CreateImportJobParams) (ImportJob, error) {
	row := q.db.QueryRow(ctx, createImportJob, arg.ID, arg.Filename)
	return scanImportJob(row)
}

const getImportJob = `-- name: GetImportJob :one
SELECT ` + importJobColumns + `
FROM import_jobs
WHERE id = $1`

func (q *Queries) GetImportJob(ctx context.Context, id pgtype.UUID) (ImportJob, error) {
	row := q.db.QueryRow(ctx, getImportJob, id)
	return scanImportJob(row)
}

const listImportJobs = `-- name: ListImportJobs :many
SELECT ` + importJobColumns + `
FROM import_jobs
ORDER BY created_at DESC
LIMIT $1`

func (q *Queries) ListImportJobs(ctx context.Context, limit int32) ([]ImportJob, error) {
	rows, err := q.db.Query(ctx, listImportJobs, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var items []ImportJob
	for rows.Next() {
		i, err := scanImportJob(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, i)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return items, nil
}

const updateImportJob = `-- name: UpdateImportJob :execrows
UPDATE import_jobs SET
    status = $2,
    total_rows = $3,
    processed_rows = $4,
    success_count = $5,
    error_count = $6,
    created_count = $7,
    updated_count = $8,
    error_details = $9,
    started_at = $10,
    completed_at = $11
WHERE id = $1`

type UpdateImportJobParams struct {
	ID            pgtype.UUID
	Status        string
	TotalRows     int32
	ProcessedRows int32
	SuccessCount  int32
	ErrorCount    int32
	CreatedCount  int32
	UpdatedCount  int32
	ErrorDetails  []byte
	StartedAt     pgtype.Timestamptz
	CompletedAt   pgtype.Timestamptz
}

func (q *Queries) UpdateImportJob(ctx context.Context, arg UpdateImportJobParams) (int64, error) {
	result, err := q.db.Exec(ctx, updateImportJob,
		arg.ID,
		arg.Status,
		arg.TotalRows,
		arg.ProcessedRows,
		arg.SuccessCount,
		arg.ErrorCount,
		arg.CreatedCount,
		arg.UpdatedCount,
		arg.ErrorDetails,
		arg.StartedAt,
		arg.CompletedAt,
	)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected(), nil
}

const deleteImportJob = `-- name: DeleteImportJob :execrows
DELETE FROM import_jobs WHERE id = $1`

func (q *Queries) DeleteImportJob(ctx context.Context, id pgtype.UUID) (int64, error) {
	result, err := q.db.Exec(ctx, deleteImportJob, id)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected(), nil
}
