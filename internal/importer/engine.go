package importer

import (
	"context"
	"fmt"

	"github.com/JonMunkholm/product-importer/internal/core"
)

// DefaultChunkSize is the number of records per upsert statement.
const DefaultChunkSize = 5000

// ProductTx opens a transaction scoped product batch.
type ProductTx interface {
	WithinProductTx(ctx context.Context, fn func(core.ProductBatch) error) error
}

// Engine writes validated records with INSERT ... ON CONFLICT and reports
// how many were created and how many updated.
type Engine struct {
	tx        ProductTx
	chunkSize int
}

func NewEngine(tx ProductTx, chunkSize int) *Engine {
	if chunkSize <= 0 {
		chunkSize = DefaultChunkSize
	}
	return &Engine{tx: tx, chunkSize: chunkSize}
}

// Upsert writes records in chunks, one transaction per chunk. Within a
// chunk a repeated SKU is written once with its last values; its first
// occurrence counts as created when the SKU was not stored before and every
// other occurrence counts as updated, so created+updated == len(records).
func (e *Engine) Upsert(ctx context.Context, records []core.Record) (created, updated int, err error) {
	for start := 0; start < len(records); start += e.chunkSize {
		end := min(start+e.chunkSize, len(records))
		c, u, err := e.upsertChunk(ctx, records[start:end])
		if err != nil {
			return created, updated, err
		}
		created += c
		updated += u
	}
	return created, updated, nil
}

func (e *Engine) upsertChunk(ctx context.Context, records []core.Record) (created, updated int, err error) {
	if len(records) == 0 {
		return 0, 0, nil
	}

	unique := collapseBySKU(records)
	skus := make([]string, len(unique))
	for i, r := range unique {
		skus[i] = r.SKU
	}

	err = e.tx.WithinProductTx(ctx, func(b core.ProductBatch) error {
		existing, err := b.ExistingSKUs(ctx, skus)
		if err != nil {
			return err
		}
		for _, sku := range skus {
			if _, ok := existing[sku]; ok {
				updated++
			} else {
				created++
			}
		}
		return b.UpsertProducts(ctx, unique)
	})
	if err != nil {
		return 0, 0, fmt.Errorf("upsert chunk of %d records: %w", len(records), err)
	}

	updated += len(records) - len(unique)
	return created, updated, nil
}

// collapseBySKU keeps one record per SKU, positioned at the first
// occurrence and carrying the values of the last.
func collapseBySKU(records []core.Record) []core.Record {
	index := make(map[string]int, len(records))
	unique := make([]core.Record, 0, len(records))
	for _, r := range records {
		if i, ok := index[r.SKU]; ok {
			unique[i] = r
			continue
		}
		index[r.SKU] = len(unique)
		unique = append(unique, r)
	}
	return unique
}
