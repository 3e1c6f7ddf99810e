package utils

import (
	"errors"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

func UniqueSlice[T comparable](slice []T) []T {
	inResult := make(map[T]bool)
	var result []T
	for _, elm := range slice {
		if _, ok := inResult[elm]; !ok {
			inResult[elm] = true
			result = append(result, elm)
		}
	}
	return result
}

func DereferencePtr[T any](ptr *T, defaults ...T) T {
	if ptr != nil {
		return *ptr
	}
	var zero T
	if len(defaults) > 0 {
		return defaults[0]
	}
	return zero
}

// ToDate truncates t to its calendar date at UTC midnight.
// Ledger dates never carry a time zone; the calendar fields of t are kept as-is.
func ToDate(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}

func ParseDate(value string) (time.Time, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return time.Time{}, errors.New("empty date string")
	}
	t, err := time.Parse(time.DateOnly, value)
	if err != nil {
		return time.Time{}, err
	}
	return ToDate(t), nil
}

// PreviousDay is the last calendar date before d.
func PreviousDay(d time.Time) time.Time {
	return ToDate(d).AddDate(0, 0, -1)
}

func DaysBetween(a, b time.Time) int {
	d := ToDate(b).Sub(ToDate(a)).Hours() / 24
	if d < 0 {
		d = -d
	}
	return int(d)
}

// GetFiscalYearRange returns the first and last calendar date of the fiscal year
// that starts in fiscalYearStartMonth of year.
func GetFiscalYearRange(fiscalYearStartMonth time.Month, year int) (time.Time, time.Time) {
	start := time.Date(year, fiscalYearStartMonth, 1, 0, 0, 0, 0, time.UTC)
	end := start.AddDate(1, 0, -1)
	return start, end
}

// FiscalYearStartFor returns the first date of the fiscal year containing d.
func FiscalYearStartFor(d time.Time, fiscalYearStartMonth time.Month) time.Time {
	d = ToDate(d)
	start := time.Date(d.Year(), fiscalYearStartMonth, 1, 0, 0, 0, 0, time.UTC)
	if start.After(d) {
		start = start.AddDate(-1, 0, 0)
	}
	return start
}

// PrecedingRange returns the range of equal length that ends the day before start.
func PrecedingRange(start, end time.Time) (time.Time, time.Time) {
	start, end = ToDate(start), ToDate(end)
	days := int(end.Sub(start).Hours() / 24)
	prevEnd := start.AddDate(0, 0, -1)
	return prevEnd.AddDate(0, 0, -days), prevEnd
}

// ParseDecimal converts a string to a decimal.Decimal value.
func ParseDecimal(value string) (decimal.Decimal, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return decimal.Zero, errors.New("empty decimal string")
	}
	return decimal.NewFromString(value)
}
