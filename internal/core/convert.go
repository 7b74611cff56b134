package core

// convert.go moves values between API types, CSV text and pgtype values.
// Helpers return Valid=false for empty input so the database stores NULL.

import (
	"errors"
	"fmt"
	"math/big"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgtype"
)

// numericRegex matches plain integers and decimals. Exponent forms are
// not accepted.
var numericRegex = regexp.MustCompile(`^[+-]?(\d+(\.\d*)?|\.\d+)$`)

// maxPriceIntegerDigits is the integer part allowed by NUMERIC(10,2).
const maxPriceIntegerDigits = 8

var (
	errNotNumeric   = errors.New("not a number")
	errPriceTooLong = errors.New("exceeds NUMERIC(10,2)")
)

// ToPgText converts a string to pgtype.Text, NULL when blank.
func ToPgText(s string) pgtype.Text {
	s = strings.TrimSpace(s)
	if s == "" {
		return pgtype.Text{Valid: false}
	}
	return pgtype.Text{String: s, Valid: true}
}

// OptionalText converts a nullable API string.
func OptionalText(s *string) pgtype.Text {
	if s == nil {
		return pgtype.Text{}
	}
	return ToPgText(*s)
}

// TextPtr converts pgtype.Text back to a nullable API string.
func TextPtr(t pgtype.Text) *string {
	if !t.Valid {
		return nil
	}
	s := t.String
	return &s
}

// ParseNumeric parses a plain decimal string. Currency symbols, separators,
// NaN and infinities are rejected.
func ParseNumeric(s string) (pgtype.Numeric, error) {
	s = strings.TrimSpace(s)
	if !numericRegex.MatchString(s) {
		return pgtype.Numeric{}, errNotNumeric
	}
	var n pgtype.Numeric
	if err := n.Scan(s); err != nil {
		return pgtype.Numeric{}, fmt.Errorf("%w: %v", errNotNumeric, err)
	}
	if !n.Valid || n.NaN || n.InfinityModifier != pgtype.Finite {
		return pgtype.Numeric{}, errNotNumeric
	}
	return n, nil
}

// NumericSign returns -1, 0 or 1.
func NumericSign(n pgtype.Numeric) int {
	if !n.Valid || n.Int == nil {
		return 0
	}
	return n.Int.Sign()
}

// NumericIntegerDigits returns the number of digits before the decimal
// point, ignoring sign. Zero has no integer digits.
func NumericIntegerDigits(n pgtype.Numeric) int {
	if !n.Valid || n.Int == nil || n.Int.Sign() == 0 {
		return 0
	}
	abs := new(big.Int).Abs(n.Int)
	digits := len(abs.String()) + int(n.Exp)
	if digits < 0 {
		return 0
	}
	return digits
}

// FloatToNumeric converts an API price to pgtype.Numeric.
func FloatToNumeric(f *float64) (pgtype.Numeric, error) {
	if f == nil {
		return pgtype.Numeric{}, nil
	}
	n, err := ParseNumeric(strconv.FormatFloat(*f, 'f', -1, 64))
	if err != nil {
		return pgtype.Numeric{}, err
	}
	if NumericIntegerDigits(n) > maxPriceIntegerDigits {
		return pgtype.Numeric{}, errPriceTooLong
	}
	return n, nil
}

// NumericToFloat converts a stored price to a nullable API float.
func NumericToFloat(n pgtype.Numeric) *float64 {
	if !n.Valid {
		return nil
	}
	f, err := n.Float64Value()
	if err != nil || !f.Valid {
		return nil
	}
	v := f.Float64
	return &v
}

// ToPgUUID converts a string to pgtype.UUID, invalid when unparseable.
func ToPgUUID(s string) pgtype.UUID {
	parsed, err := uuid.Parse(s)
	if err != nil {
		return pgtype.UUID{Valid: false}
	}
	return pgtype.UUID{Bytes: parsed, Valid: true}
}

// PgUUIDToString returns the canonical form, or "" when invalid.
func PgUUIDToString(u pgtype.UUID) string {
	if !u.Valid {
		return ""
	}
	return uuid.UUID(u.Bytes).String()
}

// ToPgTimestamptz converts a nullable time.
func ToPgTimestamptz(t *time.Time) pgtype.Timestamptz {
	if t == nil {
		return pgtype.Timestamptz{}
	}
	return pgtype.Timestamptz{Time: *t, Valid: true}
}

// TimePtr converts a nullable timestamp.
func TimePtr(t pgtype.Timestamptz) *time.Time {
	if !t.Valid {
		return nil
	}
	v := t.Time
	return &v
}

// IntPtr converts a nullable int4.
func IntPtr(i pgtype.Int4) *int {
	if !i.Valid {
		return nil
	}
	v := int(i.Int32)
	return &v
}

// HeaderIndex maps lower-cased, trimmed column names to their position.
type HeaderIndex map[string]int

// MakeHeaderIndex builds a HeaderIndex from a CSV header row. The first
// occurrence of a repeated column wins.
func MakeHeaderIndex(header []string) HeaderIndex {
	idx := make(HeaderIndex, len(header))
	for i, h := range header {
		key := strings.ToLower(strings.TrimSpace(h))
		if _, dup := idx[key]; dup {
			continue
		}
		idx[key] = i
	}
	return idx
}

// Has reports whether every named column is present.
func (h HeaderIndex) Has(names ...string) bool {
	for _, n := range names {
		if _, ok := h[n]; !ok {
			return false
		}
	}
	return true
}

// Fields maps each known column to its cell in record. Short records yield
// empty strings for missing trailing cells.
func (h HeaderIndex) Fields(record []string) map[string]string {
	fields := make(map[string]string, len(h))
	for name, i := range h {
		if i < len(record) {
			fields[name] = record[i]
		} else {
			fields[name] = ""
		}
	}
	return fields
}
