package database

import (
	"context"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5/pgtype"
)

const webhookColumns = `id, name, url, event_type, is_enabled, secret, last_triggered_at,
    last_response_code, last_response_time_ms, failure_count, created_at, updated_at`

func scanWebhook(row interface{ Scan(...any) error }) (Webhook, error) {
	var i Webhook
	err := row.Scan(
		&i.ID,
		&i.Name,
		&i.Url,
		&i.EventType,
		&i.IsEnabled,
		&i.Secret,
		&i.LastTriggeredAt,
		&i.LastResponseCode,
		&i.LastResponseTimeMs,
		&i.FailureCount,
		&i.CreatedAt,
		&i.UpdatedAt,
	)
	return i, err
}

func collectWebhooks(rows interface {
	Next() bool
	Scan(...any) error
	Err() error
	Close()
}) ([]Webhook, error) {
	defer rows.Close()
	var items []Webhook
	for rows.Next() {
		i, err := scanWebhook(rows)
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

const getWebhook = `-- name: GetWebhook :one
SELECT ` + webhookColumns + ` FROM webhooks WHERE id = $1`

func (q *Queries) GetWebhook(ctx context.Context, id int64) (Webhook, error) {
	return scanWebhook(q.db.QueryRow(ctx, getWebhook, id))
}

const createWebhook = `-- name: CreateWebhook :one
INSERT INTO webhooks (name, url, event_type, is_enabled, secret)
VALUES ($1, $2, $3, $4, $5)
RETURNING ` + webhookColumns

type CreateWebhookParams struct {
	Name      string
	Url       string
	EventType string
	IsEnabled bool
	Secret    pgtype.Text
}

func (q *Queries) CreateWebhook(ctx context.Context, arg CreateWebhookParams) (Webhook, error) {
	row := q.db.QueryRow(ctx, createWebhook,
		arg.Name,
		arg.Url,
		arg.EventType,
		arg.IsEnabled,
		arg.Secret,
	)
	return scanWebhook(row)
}

const updateWebhook = `-- name: UpdateWebhook :one
UPDATE webhooks SET
    name = $2,
    url = $3,
    event_type = $4,
    is_enabled = $5,
    secret = $6,
    updated_at = NOW()
WHERE id = $1
RETURNING ` + webhookColumns

type UpdateWebhookParams struct {
	ID        int64
	Name      string
	Url       string
	EventType string
	IsEnabled bool
	Secret    pgtype.Text
}

func (q *Queries) UpdateWebhook(ctx context.Context, arg UpdateWebhookParams) (Webhook, error) {
	row := q.db.QueryRow(ctx, updateWebhook,
		arg.ID,
		arg.Name,
		arg.Url,
		arg.EventType,
		arg.IsEnabled,
		arg.Secret,
	)
	return scanWebhook(row)
}

const deleteWebhook = `-- name: DeleteWebhook :execrows
DELETE FROM webhooks WHERE id = $1`

func (q *Queries) DeleteWebhook(ctx context.Context, id int64) (int64, error) {
	result, err := q.db.Exec(ctx, deleteWebhook, id)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected(), nil
}

type ListWebhooksParams struct {
	EventType *string
	IsEnabled *bool
}

func (q *Queries) ListWebhooks(ctx context.Context, arg ListWebhooksParams) ([]Webhook, error) {
	var (
		where []string
		args  []any
	)
	if arg.EventType != nil {
		args = append(args, *arg.EventType)
		where = append(where, fmt.Sprintf("event_type = $%d", len(args)))
	}
	if arg.IsEnabled != nil {
		args = append(args, *arg.IsEnabled)
		where = append(where, fmt.Sprintf("is_enabled = $%d", len(args)))
	}

	query := "SELECT " + webhookColumns + " FROM webhooks"
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY id"

	rows, err := q.db.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	return collectWebhooks(rows)
}

const listEnabledWebhooksForEvent = `-- name: ListEnabledWebhooksForEvent :many
SELECT ` + webhookColumns + `
FROM webhooks
WHERE event_type = $1 AND is_enabled
ORDER BY id`

func (q *Queries) ListEnabledWebhooksForEvent(ctx context.Context, eventType string) ([]Webhook, error) {
	rows, err := q.db.Query(ctx, listEnabledWebhooksForEvent, eventType)
	if err != nil {
		return nil, err
	}
	return collectWebhooks(rows)
}

const recordWebhookDelivery = `-- name: RecordWebhookDelivery :exec
UPDATE webhooks SET
    last_triggered_at = $2,
    last_response_code = $3,
    last_response_time_ms = $4,
    failure_count = CASE WHEN $5::bool THEN 0 ELSE failure_count + 1 END
WHERE id = $1`

type RecordWebhookDeliveryParams struct {
	ID                 int64
	LastTriggeredAt    pgtype.Timestamptz
	LastResponseCode   pgtype.Int4
	LastResponseTimeMs pgtype.Int4
	Succeeded          bool
}

func (q *Queries) RecordWebhookDelivery(ctx context.Context, arg RecordWebhookDeliveryParams) error {
	_, err := q.db.Exec(ctx, recordWebhookDelivery,
		arg.ID,
		arg.LastTriggeredAt,
		arg.LastResponseCode,
		arg.LastResponseTimeMs,
		arg.Succeeded,
	)
	return err
}
