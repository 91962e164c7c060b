package policy

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/platinummonkey/sitegate/pkg/apperrors"
)

func at(hour int) time.Time {
	// 2024-03-04 is a Monday.
	return time.Date(2024, 3, 4, hour, 30, 0, 0, time.UTC)
}

func TestWithinAccessWindow_Overnight(t *testing.T) {
	window := &AccessWindow{StartHour: 22, EndHour: 2, Timezone: "UTC"}

	tests := []struct {
		hour int
		want bool
	}{
		{23, true},
		{22, true},
		{0, true},
		{1, true},
		{2, false},
		{10, false},
		{21, false},
	}
	for _, tt := range tests {
		ok, err := WithinAccessWindow(window, at(tt.hour))
		require.NoError(t, err)
		assert.Equal(t, tt.want, ok, "hour %d", tt.hour)
	}
}

func TestWithinAccessWindow_Daytime(t *testing.T) {
	window := &AccessWindow{StartHour: 7, EndHour: 18}

	for hour, want := range map[int]bool{6: false, 7: true, 12: true, 17: true, 18: false, 23: false} {
		ok, err := WithinAccessWindow(window, at(hour))
		require.NoError(t, err)
		assert.Equal(t, want, ok, "hour %d", hour)
	}
}

func TestWithinAccessWindow_SameHourIsWholeDay(t *testing.T) {
	window := &AccessWindow{StartHour: 9, EndHour: 9}
	for hour := 0; hour < 24; hour++ {
		ok, err := WithinAccessWindow(window, at(hour))
		require.NoError(t, err)
		assert.True(t, ok)
	}
}

func TestWithinAccessWindow_Timezone(t *testing.T) {
	window := &AccessWindow{StartHour: 7, EndHour: 18, Timezone: "America/New_York"}

	// 12:30 UTC is 08:30 in New York during daylight time, 07:30 in winter.
	summer := time.Date(2024, 7, 1, 12, 30, 0, 0, time.UTC)
	ok, err := WithinAccessWindow(window, summer)
	require.NoError(t, err)
	assert.True(t, ok)

	// 23:30 UTC is evening in New York.
	late := time.Date(2024, 7, 1, 23, 30, 0, 0, time.UTC)
	ok, err = WithinAccessWindow(window, late)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestWithinAccessWindow_DaysOfWeek(t *testing.T) {
	window := &AccessWindow{
		StartHour:  7,
		EndHour:    18,
		DaysOfWeek: []time.Weekday{time.Monday, time.Tuesday},
	}

	ok, err := WithinAccessWindow(window, at(10))
	require.NoError(t, err)
	assert.True(t, ok, "Monday")

	saturday := time.Date(2024, 3, 9, 10, 0, 0, 0, time.UTC)
	ok, err = WithinAccessWindow(window, saturday)
	require.NoError(t, err)
	assert.False(t, ok, "Saturday")
}

func TestWithinAccessWindow_Invalid(t *testing.T) {
	_, err := WithinAccessWindow(&AccessWindow{StartHour: 7, EndHour: 18, Timezone: "Mars/Olympus"}, at(10))
	assert.Equal(t, apperrors.KindValidation, apperrors.KindOf(err))

	_, err = WithinAccessWindow(&AccessWindow{StartHour: 25, EndHour: 2}, at(10))
	assert.Equal(t, apperrors.KindValidation, apperrors.KindOf(err))

	_, err = WithinAccessWindow(&AccessWindow{StartHour: 1, EndHour: 2, DaysOfWeek: []time.Weekday{9}}, at(10))
	assert.Equal(t, apperrors.KindValidation, apperrors.KindOf(err))
}

func TestWithinAccessWindow_NilAdmits(t *testing.T) {
	ok, err := WithinAccessWindow(nil, at(3))
	require.NoError(t, err)
	assert.True(t, ok)
}
