package database

import (
	"context"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5/pgtype"
)

const productColumns = `id, sku, name, description, price, quantity, is_active, created_at, updated_at`

func scanProduct(row interface{ Scan(...any) error }) (Product, error) {
	var i Product
	err := row.Scan(
		&i.ID,
		&i.Sku,
		&i.Name,
		&i.Description,
		&i.Price,
		&i.Quantity,
		&i.IsActive,
		&i.CreatedAt,
		&i.UpdatedAt,
	)
	return i, err
}

const getProduct = `-- name: GetProduct :one
SELECT ` + productColumns + ` FROM products WHERE id = $1`

func (q *Queries) GetProduct(ctx context.Context, id int64) (Product, error) {
	return scanProduct(q.db.QueryRow(ctx, getProduct, id))
}

const getProductBySKU = `-- name: GetProductBySKU :one
SELECT ` + productColumns + ` FROM products WHERE UPPER(sku) = UPPER($1)`

func (q *Queries) GetProductBySKU(ctx context.Context, sku string) (Product, error) {
	return scanProduct(q.db.QueryRow(ctx, getProductBySKU, sku))
}

const createProduct = `-- name: CreateProduct :one
INSERT INTO products (sku, name, description, price, quantity, is_active)
VALUES ($1, $2, $3, $4, $5, $6)
RETURNING ` + productColumns

type CreateProductParams struct {
	Sku         string
	Name        string
	Description pgtype.Text
	Price       pgtype.Numeric
	Quantity    int32
	IsActive    bool
}

func (q *Queries) CreateProduct(ctx context.Context, arg CreateProductParams) (Product, error) {
	row := q.db.QueryRow(ctx, createProduct,
		arg.Sku,
		arg.Name,
		arg.Description,
		arg.Price,
		arg.Quantity,
		arg.IsActive,
	)
	return scanProduct(row)
}

const updateProduct = `-- name: UpdateProduct :one
UPDATE products SET
    name = $2,
    description = $3,
    price = $4,
    quantity = $5,
    is_active = $6,
    updated_at = NOW()
WHERE id = $1
RETURNING ` + productColumns

type UpdateProductParams struct {
	ID          int64
	Name        string
	Description pgtype.Text
	Price       pgtype.Numeric
	Quantity    int32
	IsActive    bool
}

func (q *Queries) UpdateProduct(ctx context.Context, arg UpdateProductParams) (Product, error) {
	row := q.db.QueryRow(ctx, updateProduct,
		arg.ID,
		arg.Name,
		arg.Description,
		arg.Price,
		arg.Quantity,
		arg.IsActive,
	)
	return scanProduct(row)
}

const deleteProduct = `-- name: DeleteProduct :one
DELETE FROM products WHERE id = $1
RETURNING ` + productColumns

func (q *Queries) DeleteProduct(ctx context.Context, id int64) (Product, error) {
	return scanProduct(q.db.QueryRow(ctx, deleteProduct, id))
}

const deleteAllProducts = `-- name: DeleteAllProducts :execrows
DELETE FROM products`

func (q *Queries) DeleteAllProducts(ctx context.Context) (int64, error) {
	result, err := q.db.Exec(ctx, deleteAllProducts)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected(), nil
}

const productStats = `-- name: ProductStats :one
SELECT
    COUNT(*)::bigint,
    COUNT(*) FILTER (WHERE is_active)::bigint,
    COALESCE(SUM(quantity), 0)::bigint,
    COALESCE(SUM(price * quantity), 0)::numeric(14, 2)
FROM products`

type ProductStatsRow struct {
	TotalProducts  int64
	ActiveProducts int64
	TotalQuantity  int64
	InventoryValue pgtype.Numeric
}

func (q *Queries) ProductStats(ctx context.Context) (ProductStatsRow, error) {
	var i ProductStatsRow
	err := q.db.QueryRow(ctx, productStats).Scan(
		&i.TotalProducts,
		&i.ActiveProducts,
		&i.TotalQuantity,
		&i.InventoryValue,
	)
	return i, err
}

// ListProductsParams filters the product listing. Nil fields are ignored;
// text filters match case-insensitive substrings.
type ListProductsParams struct {
	Sku         *string
	Name        *string
	Description *string
	IsActive    *bool
	Search      *string
	Limit       int32
	Offset      int32
}

// ListProducts returns one page of products, newest first, and the total
// number of rows matching the filters.
func (q *Queries) ListProducts(ctx context.Context, arg ListProductsParams) ([]Product, int64, error) {
	var (
		where []string
		args  []any
	)
	add := func(clause string, v any) {
		args = append(args, v)
		where = append(where, fmt.Sprintf(clause, len(args)))
	}

	if arg.Sku != nil {
		add("sku ILIKE '%%' || $%d || '%%'", *arg.Sku)
	}
	if arg.Name != nil {
		add("name ILIKE '%%' || $%d || '%%'", *arg.Name)
	}
	if arg.Description != nil {
		add("description ILIKE '%%' || $%d || '%%'", *arg.Description)
	}
	if arg.IsActive != nil {
		add("is_active = $%d", *arg.IsActive)
	}
	if arg.Search != nil {
		args = append(args, *arg.Search)
		n := len(args)
		where = append(where, fmt.Sprintf(
			"(sku ILIKE '%%' || $%d || '%%' OR name ILIKE '%%' || $%d || '%%' OR description ILIKE '%%' || $%d || '%%')",
			n, n, n))
	}

	filter := ""
	if len(where) > 0 {
		filter = " WHERE " + strings.Join(where, " AND ")
	}

	var total int64
	if err := q.db.QueryRow(ctx, "SELECT COUNT(*) FROM products"+filter, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count products: %w", err)
	}

	pageArgs := append(args, arg.Limit, arg.Offset)
	query := fmt.Sprintf("SELECT %s FROM products%s ORDER BY id DESC LIMIT $%d OFFSET $%d",
		productColumns, filter, len(args)+1, len(args)+2)

	rows, err := q.db.Query(ctx, query, pageArgs...)
	if err != nil {
		return nil, 0, fmt.Errorf("list products: %w", err)
	}
	defer rows.Close()

	var items []Product
	for rows.Next() {
		i, err := scanProduct(rows)
		if err != nil {
			return nil, 0, err
		}
		items = append(items, i)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, err
	}
	return items, total, nil
}

const existingSKUs = `-- name: ExistingSKUs :many
SELECT UPPER(sku) FROM products WHERE UPPER(sku) = ANY($1::varchar[])`

// ExistingSKUs returns which of the given (upper-cased) SKUs are already
// stored.
func (q *Queries) ExistingSKUs(ctx context.Context, skus []string) ([]string, error) {
	rows, err := q.db.Query(ctx, existingSKUs, skus)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var items []string
	for rows.Next() {
		var sku string
		if err := rows.Scan(&sku); err != nil {
			return nil, err
		}
		items = append(items, sku)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return items, nil
}

const upsertProducts = `-- name: UpsertProducts :execrows
INSERT INTO products (sku, name, description, price, quantity, is_active, created_at, updated_at)
SELECT u.sku, u.name, u.description, u.price, u.quantity, u.is_active, NOW(), NOW()
FROM unnest($1::varchar[], $2::varchar[], $3::text[], $4::numeric[], $5::int4[], $6::bool[])
    AS u(sku, name, description, price, quantity, is_active)
ON CONFLICT (sku) DO UPDATE SET
    name = EXCLUDED.name,
    description = EXCLUDED.description,
    price = EXCLUDED.price,
    quantity = EXCLUDED.quantity,
    updated_at = NOW()`

// UpsertProductsParams carries one column array per field. All slices must
// have the same length and SKUs must be unique within the call.
type UpsertProductsParams struct {
	Skus         []string
	Names        []string
	Descriptions []pgtype.Text
	Prices       []pgtype.Numeric
	Quantities   []int32
	Actives      []bool
}

func (q *Queries) UpsertProducts(ctx context.Context, arg UpsertProductsParams) (int64, error) {
	result, err := q.db.Exec(ctx, upsertProducts,
		arg.Skus,
		arg.Names,
		arg.Descriptions,
		arg.Prices,
		arg.Quantities,
		arg.Actives,
	)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected(), nil
}
