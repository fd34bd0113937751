package timeutil

import (
	"testing"
	"time"
	_ "time/tzdata"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadLocation(t *testing.T) {
	loc, err := LoadLocation("Europe/Stockholm")
	require.NoError(t, err)
	again, err := LoadLocation("Europe/Stockholm")
	require.NoError(t, err)
	assert.Same(t, loc, again)

	utc, err := LoadLocation("")
	require.NoError(t, err)
	assert.Equal(t, time.UTC, utc)

	_, err = LoadLocation("Nowhere/Special")
	assert.Error(t, err)
	assert.Equal(t, time.UTC, MustLocation("Nowhere/Special"))
}

func TestIn_ChangesCalendarDay(t *testing.T) {
	utc := time.Date(2026, 4, 1, 23, 30, 0, 0, time.UTC)
	local := In(utc, "Europe/Stockholm")
	assert.Equal(t, 2, local.Day())
	assert.Equal(t, "2026-04-02", FormatDateStr(local))
	assert.Equal(t, 1, LocalHour(utc, "Europe/Stockholm"))
}

func TestParseDate(t *testing.T) {
	loc := MustLocation("Europe/Stockholm")
	d, err := ParseDate("2026-10-25", loc)
	require.NoError(t, err)
	assert.Equal(t, loc, d.Location())
	assert.True(t, EndOfDay(d).Equal(time.Date(2026, 10, 25, 23, 59, 59, int(time.Second-time.Nanosecond), loc)))

	_, err = ParseDate("25/10/2026", loc)
	assert.Error(t, err)
}

func TestStartOfNextDay_AcrossDST(t *testing.T) {
	loc := MustLocation("Europe/Stockholm")
	late := time.Date(2026, 3, 28, 23, 30, 0, 0, loc)

	assert.Equal(t, time.Date(2026, 3, 28, 0, 0, 0, 0, loc), StartOfDay(late))
	next := StartOfNextDay(late)
	assert.Equal(t, time.Date(2026, 3, 29, 0, 0, 0, 0, loc), next)
	assert.Equal(t, time.Date(2026, 3, 30, 0, 0, 0, 0, loc), StartOfNextDay(next), "23h day still ends at midnight")
}
