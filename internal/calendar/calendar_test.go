package calendar

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func date(s string) time.Time {
	d, err := time.Parse("2006-01-02", s)
	if err != nil {
		panic(err)
	}
	return d
}

func TestIsSession(t *testing.T) {
	c := New(date("2025-01-26"), date("2025-03-14"))

	tests := []struct {
		day  string
		want bool
	}{
		{"2025-03-10", true},  // Monday
		{"2025-03-14", false}, // holiday Friday
		{"2025-03-15", false}, // Saturday
		{"2025-03-16", false}, // Sunday
		{"2025-03-17", true},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, c.IsSession(date(tt.day)), tt.day)
	}
}

func TestNextSessions_SkipsWeekendsAndHolidays(t *testing.T) {
	c := New(date("2025-03-14"))

	got := c.NextSessions(date("2025-03-12"), 4)
	require.Len(t, got, 4)
	assert.Equal(t, []time.Time{
		date("2025-03-13"), date("2025-03-17"), date("2025-03-18"), date("2025-03-19"),
	}, got)

	for i := 1; i < len(got); i++ {
		assert.True(t, got[i].After(got[i-1]))
	}
}

func TestNextSessions_ZeroCount(t *testing.T) {
	assert.Empty(t, New().NextSessions(date("2025-03-12"), 0))
}

func TestPriorSessions(t *testing.T) {
	c := New(date("2025-03-14"))

	withHolidays := c.PriorSessions(date("2025-03-18"), 3, false)
	assert.Equal(t, []time.Time{date("2025-03-17"), date("2025-03-14"), date("2025-03-13")}, withHolidays)

	excluded := c.PriorSessions(date("2025-03-18"), 3, true)
	assert.Equal(t, []time.Time{date("2025-03-17"), date("2025-03-13"), date("2025-03-12")}, excluded)
}

func TestFarDates(t *testing.T) {
	c := New()
	assert.Len(t, c.NextSessions(date("9999-12-01"), 5), 5)
	assert.Len(t, c.PriorSessions(date("0001-02-01"), 3, true), 3)
}

func TestLatestSession(t *testing.T) {
	c := New()
	assert.Equal(t, date("2025-03-14"), c.LatestSession(date("2025-03-16")))
	assert.Equal(t, date("2025-03-17"), c.LatestSession(date("2025-03-17")))
}

func TestParse(t *testing.T) {
	c, err := Parse([]string{"2025-08-15"})
	require.NoError(t, err)
	assert.False(t, c.IsSession(date("2025-08-15")))

	_, err = Parse([]string{"15/08/2025"})
	assert.Error(t, err)
}
