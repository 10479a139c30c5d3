package timeutil

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClock_WeekAndMonthBoundaries(t *testing.T) {
	loc := time.FixedZone("School", -5*60*60)
	// Sunday 2026-03-15 22:00 local; already Monday in UTC.
	now := time.Date(2026, 3, 15, 22, 0, 0, 0, loc)
	c := Fixed(now)

	from, to := c.ThisWeek()
	assert.Equal(t, time.Date(2026, 3, 9, 0, 0, 0, 0, loc), from)
	assert.Equal(t, time.Date(2026, 3, 16, 0, 0, 0, 0, loc), to)

	from, to = c.ThisMonth()
	assert.Equal(t, time.Date(2026, 3, 1, 0, 0, 0, 0, loc), from)
	assert.Equal(t, time.Date(2026, 4, 1, 0, 0, 0, 0, loc), to)

	assert.Equal(t, "2026-03-15", c.FormatDate(now.UTC()))
}

func TestClock_StartOfWeekOnMonday(t *testing.T) {
	c := Fixed(time.Date(2026, 3, 16, 9, 30, 0, 0, time.UTC))
	assert.Equal(t, time.Date(2026, 3, 16, 0, 0, 0, 0, time.UTC), c.StartOfWeek(c.Now()))
}

func TestNewClock(t *testing.T) {
	c, err := NewClock("")
	require.NoError(t, err)
	assert.Equal(t, time.UTC, c.Location())

	_, err = NewClock("Not/AZone")
	assert.Error(t, err)
}
