package netcdf

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestJulianToTime(t *testing.T) {
	assert.Equal(t, time.Date(1950, 1, 1, 0, 0, 0, 0, time.UTC), JulianToTime(0))

	// 18262 whole days after the epoch, including 12 leap days.
	assert.Equal(t, time.Date(2000, 1, 1, 0, 0, 0, 0, time.UTC), JulianToTime(18262))

	// Fractional days resolve to whole seconds.
	assert.Equal(t, time.Date(1950, 1, 1, 12, 0, 0, 0, time.UTC), JulianToTime(0.5))
}

func TestJulianRoundTrip(t *testing.T) {
	dates := []time.Time{
		time.Date(1950, 1, 1, 0, 0, 0, 0, time.UTC),
		time.Date(1999, 12, 31, 23, 59, 59, 0, time.UTC),
		time.Date(2020, 3, 15, 6, 30, 0, 0, time.UTC),
		time.Date(2026, 8, 28, 18, 45, 12, 0, time.UTC),
	}

	for _, want := range dates {
		got := JulianToTime(TimeToJulian(want))
		assert.True(t, got.Equal(want), "round trip changed %s to %s", want, got)
	}
}
