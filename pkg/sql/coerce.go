package sql

import (
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

var (
	timeLayouts      = []string{"15:04:05.999999999", "15:04"}
	timestampLayouts = []string{
		time.RFC3339Nano,
		"2006-01-02T15:04:05.999999999",
		"2006-01-02 15:04:05.999999999",
		"2006-01-02 15:04",
	}
)

// Coerce converts a request string into the Go value bound for a declared type.
//
// Integers become int64, floating types float64, DECIMAL and NUMERIC
// decimal.Decimal, temporal types time.Time and UUID uuid.UUID. Booleans accept
// only "true" and "false". Character types pass through unchanged.
func Coerce(t DeclaredType, raw string) (any, error) {
	switch t {
	case TypeTinyInt:
		return parseInt(raw, math.MinInt8, math.MaxInt8)
	case TypeSmallInt:
		return parseInt(raw, math.MinInt16, math.MaxInt16)
	case TypeInteger:
		return parseInt(raw, math.MinInt32, math.MaxInt32)
	case TypeBigInt:
		return parseInt(raw, math.MinInt64, math.MaxInt64)

	case TypeReal:
		return strconv.ParseFloat(strings.TrimSpace(raw), 32)
	case TypeFloat, TypeDouble:
		return strconv.ParseFloat(strings.TrimSpace(raw), 64)

	case TypeDecimal, TypeNumeric:
		return decimal.NewFromString(strings.TrimSpace(raw))

	case TypeBit, TypeBoolean:
		switch raw {
		case "true":
			return true, nil
		case "false":
			return false, nil
		}
		return nil, fmt.Errorf("boolean must be \"true\" or \"false\"")

	case TypeDate:
		return time.Parse(time.DateOnly, strings.TrimSpace(raw))
	case TypeTime:
		return parseTime(raw, timeLayouts)
	case TypeTimestamp:
		return parseTime(raw, timestampLayouts)

	case TypeUUID:
		return uuid.Parse(strings.TrimSpace(raw))
	}
	if t.IsCharacter() {
		return raw, nil
	}
	return nil, fmt.Errorf("type %s cannot be bound from a request value", t)
}

func parseInt(raw string, lo, hi int64) (int64, error) {
	n, err := strconv.ParseInt(strings.TrimSpace(raw), 10, 64)
	if err != nil {
		return 0, err
	}
	if n < lo || n > hi {
		return 0, fmt.Errorf("%d out of range [%d, %d]", n, lo, hi)
	}
	return n, nil
}

func parseTime(raw string, layouts []string) (time.Time, error) {
	raw = strings.TrimSpace(raw)
	var err error
	for _, layout := range layouts {
		var t time.Time
		if t, err = time.Parse(layout, raw); err == nil {
			return t, nil
		}
	}
	return time.Time{}, err
}
