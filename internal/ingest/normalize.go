package ingest

import (
	"errors"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"divrecon/internal/domain"
)

// DateFormats are tried in order; the first that parses wins. Day and month
// may be written with or without a leading zero.
var DateFormats = []string{"2006-1-2", "2/1/2006", "2.1.2006"}

// Amounts with more integer digits or finer fractions than these are
// rejected before rounding, which would otherwise scale by the exponent.
const (
	maxAmountIntegerDigits = 18
	minAmountExponent      = -28
)

var (
	errNotNumeric       = errors.New("not a number")
	errAmountOutOfRange = errors.New("amount out of range")
)

func ParseDate(raw string) (time.Time, error) {
	value := strings.TrimSpace(raw)
	for _, layout := range DateFormats {
		if t, err := time.Parse(layout, value); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, &NormalizationError{Field: ColPayDate, Value: raw, Err: errors.New("unrecognised date format")}
}

// ParseAmount strips thousands separators and rounds to cents, half away
// from zero.
func ParseAmount(raw string) (decimal.Decimal, error) {
	value := strings.TrimSpace(strings.ReplaceAll(raw, ",", ""))
	if value == "" {
		return decimal.Decimal{}, &NormalizationError{Field: ColAmount, Value: raw, Err: errNotNumeric}
	}
	d, err := decimal.NewFromString(value)
	if err != nil {
		return decimal.Decimal{}, &NormalizationError{Field: ColAmount, Value: raw, Err: errNotNumeric}
	}
	digits := len(strings.TrimPrefix(d.Coefficient().String(), "-"))
	if d.Exponent() < minAmountExponent || int64(digits)+int64(d.Exponent()) > maxAmountIntegerDigits {
		return decimal.Decimal{}, &NormalizationError{Field: ColAmount, Value: raw, Err: errAmountOutOfRange}
	}
	return d.Round(2), nil
}

func upperCode(s string) string {
	return cases.Upper(language.Und).String(strings.TrimSpace(s))
}

// NormalizeRow converts one canonical-named row into a record.
func NormalizeRow(row map[string]string, source string) (domain.CanonicalRecord, error) {
	payDate, err := ParseDate(row[ColPayDate])
	if err != nil {
		return domain.CanonicalRecord{}, err
	}
	amount, err := ParseAmount(row[ColAmount])
	if err != nil {
		return domain.CanonicalRecord{}, err
	}
	return domain.CanonicalRecord{
		Source:   source,
		TradeID:  strings.TrimSpace(row[ColTradeID]),
		ISIN:     strings.TrimSpace(row[ColISIN]),
		PayDate:  payDate,
		Account:  strings.TrimSpace(row[ColAccount]),
		Amount:   amount,
		Currency: upperCode(row[ColCurrency]),
		Status:   upperCode(row[ColStatus]),
	}, nil
}
