package dates

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParse(t *testing.T) {
	d, err := Parse("2024-01-02")
	require.NoError(t, err)
	assert.Equal(t, Day("2024-01-02"), d)

	_, err = Parse("02/01/2024")
	assert.Error(t, err)

	_, err = Parse("2024-13-40")
	assert.Error(t, err)
}

func TestFromTime_TruncatesToDay(t *testing.T) {
	ts := time.Date(2024, 3, 1, 23, 59, 59, 0, time.UTC)
	assert.Equal(t, Day("2024-03-01"), FromTime(ts))
}

func TestAddDays(t *testing.T) {
	d := Day("2024-02-28")
	assert.Equal(t, Day("2024-02-29"), d.AddDays(1), "2024 is a leap year")
	assert.Equal(t, Day("2024-02-21"), d.AddDays(-7))

	// Month and year boundaries
	assert.Equal(t, Day("2024-01-01"), Day("2023-12-31").AddDays(1))
}

func TestOrdering(t *testing.T) {
	assert.True(t, Day("2024-01-02").Before(Day("2024-01-10")))
	assert.True(t, Day("2024-02-01").After(Day("2024-01-31")))
	assert.False(t, Day("2024-01-02").Before(Day("2024-01-02")))
}

func TestSameDay(t *testing.T) {
	d := Day("2024-06-15")
	assert.True(t, d.SameDay(time.Date(2024, 6, 15, 8, 0, 0, 0, time.UTC)))
	assert.False(t, d.SameDay(time.Date(2024, 6, 16, 0, 0, 1, 0, time.UTC)))
}

func TestRange(t *testing.T) {
	days := Range(Day("2024-01-30"), Day("2024-02-02"))
	require.Len(t, days, 4)
	assert.Equal(t, Day("2024-01-30"), days[0])
	assert.Equal(t, Day("2024-02-02"), days[3])

	assert.Nil(t, Range(Day("2024-02-02"), Day("2024-01-30")), "inverted range")
	assert.Nil(t, Range(Day(""), Day("2024-01-30")), "zero from")

	single := Range(Day("2024-01-01"), Day("2024-01-01"))
	require.Len(t, single, 1)
}

func TestNearestPrior(t *testing.T) {
	values := map[Day]float64{
		"2024-01-02": 1.10,
		"2024-01-10": 1.20,
	}

	// Exact match
	v, ok := NearestPrior(values, Day("2024-01-10"), 7)
	require.True(t, ok)
	assert.Equal(t, 1.20, v)

	// Gap within window walks back
	v, ok = NearestPrior(values, Day("2024-01-05"), 7)
	require.True(t, ok)
	assert.Equal(t, 1.10, v)

	// Value exactly at the edge of the window resolves
	v, ok = NearestPrior(values, Day("2024-01-09"), 7)
	require.True(t, ok)
	assert.Equal(t, 1.10, v)

	// Gap of 8+ days does not resolve to an older value
	_, ok = NearestPrior(values, Day("2024-01-25"), 7)
	assert.False(t, ok)

	// Nothing prior at all
	_, ok = NearestPrior(values, Day("2023-12-30"), 7)
	assert.False(t, ok)

	// Zero lookback means exact-match only
	_, ok = NearestPrior(values, Day("2024-01-03"), 0)
	assert.False(t, ok)
}
