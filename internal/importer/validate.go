package importer

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/jackc/pgx/v5/pgtype"

	"github.com/JonMunkholm/product-importer/internal/core"
)

// Required CSV columns. Other recognised columns are optional.
const (
	colSKU         = "sku"
	colName        = "name"
	colDescription = "description"
	colPrice       = "price"
	colQuantity    = "quantity"
)

// maxPriceDigits is the integer part that fits NUMERIC(10,2).
const maxPriceDigits = 8

// RowError is a row that failed validation. Row is the 1-based line of the
// record in the file; the header is row 1.
type RowError struct {
	Row    int
	SKU    string
	Errors []string
}

// ParsedRow holds exactly one of a valid record or a row error.
type ParsedRow struct {
	record *core.Record
	err    *RowError
}

// Valid returns the record when the row passed validation.
func (p ParsedRow) Valid() (core.Record, bool) {
	if p.record == nil {
		return core.Record{}, false
	}
	return *p.record, true
}

// Invalid returns the row error when the row failed validation.
func (p ParsedRow) Invalid() (RowError, bool) {
	if p.err == nil {
		return RowError{}, false
	}
	return *p.err, true
}

// ValidateRow checks one CSV row. fields is keyed by lower-cased header
// name. Every rule is applied so the caller sees all problems at once.
func ValidateRow(fields map[string]string, row int) ParsedRow {
	var errs []string

	rawSKU := strings.TrimSpace(fields[colSKU])
	if rawSKU == "" {
		errs = append(errs, "SKU is required")
	}

	name := strings.TrimSpace(fields[colName])
	if name == "" {
		errs = append(errs, "Name is required")
	}

	var price pgtype.Numeric
	if raw := strings.TrimSpace(fields[colPrice]); raw != "" {
		n, err := core.ParseNumeric(raw)
		switch {
		case err != nil:
			errs = append(errs, fmt.Sprintf("Invalid price format: %s", raw))
		case core.NumericSign(n) < 0:
			errs = append(errs, "Price cannot be negative")
		case core.NumericIntegerDigits(n) > maxPriceDigits:
			errs = append(errs, "Price exceeds maximum of 99999999.99")
		default:
			price = n
		}
	}

	var quantity int32
	if raw := strings.TrimSpace(fields[colQuantity]); raw != "" {
		q, err := strconv.ParseInt(raw, 10, 32)
		switch {
		case err != nil:
			errs = append(errs, fmt.Sprintf("Invalid quantity format: %s", raw))
		case q < 0:
			errs = append(errs, "Quantity cannot be negative")
		default:
			quantity = int32(q)
		}
	}

	if len(errs) > 0 {
		return ParsedRow{err: &RowError{Row: row, SKU: rawSKU, Errors: errs}}
	}

	return ParsedRow{record: &core.Record{
		SKU:         strings.ToUpper(rawSKU),
		Name:        name,
		Description: core.ToPgText(fields[colDescription]),
		Price:       price,
		Quantity:    quantity,
		Active:      true,
	}}
}
