package model

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseClock(t *testing.T) {
	tests := []struct {
		in      string
		want    int
		wantErr bool
	}{
		{in: "00:00", want: 0},
		{in: "09:30", want: 570},
		{in: "24:00", want: 1440},
		{in: "24:01", wantErr: true},
		{in: "9:30", wantErr: true},
		{in: "09:60", wantErr: true},
		{in: "ab:cd", wantErr: true},
		{in: "0930", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseClock(tt.in)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestParseTimeRange(t *testing.T) {
	r, err := ParseTimeRange("09:00-09:30")
	require.NoError(t, err)
	assert.Equal(t, TimeRange{Start: 540, End: 570}, r)
	assert.Equal(t, "09:00-09:30", r.String())

	for _, bad := range []string{"", "09:00", "09:30-09:00", "09:00-09:00", "09:00-9:30"} {
		_, err := ParseTimeRange(bad)
		assert.Error(t, err, bad)
	}
}

func TestSlotKey(t *testing.T) {
	key := SlotKey{StaffID: "staffD", Date: "2024-06-01", TimeRange: "09:00-09:30"}
	assert.Equal(t, "staffD|2024-06-01|09:00-09:30", key.String())

	slot := AvailableSlot(key)
	assert.Equal(t, SlotAvailable, slot.State)
	assert.Equal(t, key, slot.Key())
	assert.Nil(t, slot.HeldBy)
	assert.Nil(t, slot.LockedUntil)
}
