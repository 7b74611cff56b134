package database

import (
	"github.com/jackc/pgx/v5/pgtype"
)

type ImportJob struct {
	ID            pgtype.UUID
	Filename      string
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
	CreatedAt     pgtype.Timestamptz
}

type Product struct {
	ID          int64
	Sku         string
	Name        string
	Description pgtype.Text
	Price       pgtype.Numeric
	Quantity    int32
	IsActive    bool
	CreatedAt   pgtype.Timestamptz
	UpdatedAt   pgtype.Timestamptz
}

type Webhook struct {
	ID                 int64
	Name               string
	Url                string
	EventType          string
	IsEnabled          bool
	Secret             pgtype.Text
	LastTriggeredAt    pgtype.Timestamptz
	LastResponseCode   pgtype.Int4
	LastResponseTimeMs pgtype.Int4
	FailureCount       int32
	CreatedAt          pgtype.Timestamptz
	UpdatedAt          pgtype.Timestamptz
}
