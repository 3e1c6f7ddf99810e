package utils

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func date(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func TestToDate_KeepsCalendarFields(t *testing.T) {
	yangon := time.FixedZone("MMT", 6*3600+1800)
	late := time.Date(2024, 3, 31, 23, 45, 0, 0, yangon)
	assert.Equal(t, date(2024, 3, 31), ToDate(late))
}

func TestParseDate(t *testing.T) {
	d, err := ParseDate(" 2024-02-29 ")
	require.NoError(t, err)
	assert.Equal(t, date(2024, 2, 29), d)

	_, err = ParseDate("")
	assert.Error(t, err)
	_, err = ParseDate("2023-02-29")
	assert.Error(t, err)
	_, err = ParseDate("29/02/2024")
	assert.Error(t, err)
}

func TestDateArithmetic(t *testing.T) {
	assert.Equal(t, date(2024, 2, 29), PreviousDay(date(2024, 3, 1)))
	assert.Equal(t, 3, DaysBetween(date(2024, 1, 9), date(2024, 1, 12)))
	assert.Equal(t, 3, DaysBetween(date(2024, 1, 12), date(2024, 1, 9)))
	assert.Equal(t, 0, DaysBetween(date(2024, 1, 9), time.Date(2024, 1, 9, 18, 0, 0, 0, time.UTC)))
}

func TestFiscalYears(t *testing.T) {
	start, end := GetFiscalYearRange(time.April, 2024)
	assert.Equal(t, date(2024, 4, 1), start)
	assert.Equal(t, date(2025, 3, 31), end)

	start, end = GetFiscalYearRange(time.January, 2024)
	assert.Equal(t, date(2024, 1, 1), start)
	assert.Equal(t, date(2024, 12, 31), end)

	assert.Equal(t, date(2023, 4, 1), FiscalYearStartFor(date(2024, 3, 31), time.April))
	assert.Equal(t, date(2024, 4, 1), FiscalYearStartFor(date(2024, 4, 1), time.April))
	assert.Equal(t, date(2024, 1, 1), FiscalYearStartFor(date(2024, 12, 31), time.January))
}

func TestPrecedingRange(t *testing.T) {
	start, end := PrecedingRange(date(2024, 2, 1), date(2024, 2, 29))
	assert.Equal(t, date(2024, 1, 3), start)
	assert.Equal(t, date(2024, 1, 31), end)

	start, end = PrecedingRange(date(2024, 3, 15), date(2024, 3, 15))
	assert.Equal(t, date(2024, 3, 14), start)
	assert.Equal(t, date(2024, 3, 14), end)
}

func TestParseDecimal(t *testing.T) {
	v, err := ParseDecimal(" 1250.75 ")
	require.NoError(t, err)
	assert.Equal(t, "1250.75", v.String())

	_, err = ParseDecimal("")
	assert.Error(t, err)
	_, err = ParseDecimal("12,50")
	assert.Error(t, err)
}

func TestGenericHelpers(t *testing.T) {
	assert.Equal(t, []int{3, 1, 2}, UniqueSlice([]int{3, 1, 3, 2, 1}))
	assert.Nil(t, UniqueSlice([]string{}))

	name := "alice"
	assert.Equal(t, "alice", DereferencePtr(&name, "bob"))
	assert.Equal(t, "bob", DereferencePtr[string](nil, "bob"))
	assert.Equal(t, 0, DereferencePtr[int](nil))
}

func TestCorrelationId(t *testing.T) {
	ctx := SetCorrelationIdInContext(context.Background(), "req-42")
	assert.Equal(t, "req-42", CorrelationIdOrNew(ctx))

	minted := CorrelationIdOrNew(context.Background())
	assert.Len(t, minted, 36)
	assert.NotEqual(t, minted, CorrelationIdOrNew(context.Background()))

	ledger := NewLedgerContext(context.Background(), "biz-1", "alice")
	biz, _ := GetBusinessIdFromContext(ledger)
	who, _ := GetUserNameFromContext(ledger)
	assert.Equal(t, "biz-1", biz)
	assert.Equal(t, "alice", who)
	_, ok := GetCorrelationIdFromContext(ledger)
	assert.True(t, ok)
}

func TestValidateStruct(t *testing.T) {
	type input struct {
		Code string `validate:"required,max=4"`
		Name string `validate:"required"`
	}
	require.NoError(t, ValidateStruct(input{Code: "1010", Name: "Cash"}))

	err := ValidateStruct(input{Code: "10100"})
	require.Error(t, err)
	assert.Equal(t, "invalid input input.Code:max, input.Name:required", err.Error())
}
