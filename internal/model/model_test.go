package model

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestConvertALSClampsToWireRange(t *testing.T) {
	assert.Equal(t, uint32(0), ConvertALS(-5))
	assert.Equal(t, uint32(1234), ConvertALS(1234))
	assert.Equal(t, uint32(65535), ConvertALS(1e9))
}

func TestConvertPHClampsToWireRange(t *testing.T) {
	assert.Equal(t, uint32(0), ConvertPH(-1))
	assert.Equal(t, uint32(7000), ConvertPH(7))
	assert.Equal(t, uint32(14000), ConvertPH(20))
}

func TestConvertPressureBar(t *testing.T) {
	assert.Equal(t, uint32(1500), ConvertPressureBar(1.5))
}

func TestConvertPressureTemp(t *testing.T) {
	assert.Equal(t, uint32(4000), ConvertPressureTemp(0))
	assert.Equal(t, uint32(6500), ConvertPressureTemp(25))
}

func TestConvertSeaTemp(t *testing.T) {
	assert.Equal(t, uint32(100000), ConvertSeaTemp(0))
	assert.Equal(t, uint32(118000), ConvertSeaTemp(18))
}

func TestConvertBaroAppliesCalibration(t *testing.T) {
	assert.Equal(t, uint32(10130), ConvertBaro(1013, DefaultSensorCalibration))

	cal := SensorCalibration{BaroOffsetHpa: 10, BaroScale: 1}
	assert.Equal(t, uint32(10230), ConvertBaro(1013, cal))
}

func TestGpsFixTimeRoundTrip(t *testing.T) {
	in := time.Date(2026, time.March, 15, 8, 30, 45, 0, time.UTC)
	fix := FixFromTime(in)
	assert.Equal(t, in, fix.Time())
	assert.Equal(t, in.Unix(), fix.ScheduleEpoch)
}

func TestGpsFixFixType(t *testing.T) {
	assert.Equal(t, 2, GpsFix{Is3D: false}.FixType())
	assert.Equal(t, 3, GpsFix{Is3D: true}.FixType())
}

func TestServiceIDString(t *testing.T) {
	assert.Equal(t, "GNSS_SENSOR", ServiceGNSS.String())
	assert.Equal(t, "UW_SENSOR", ServiceUnderwater.String())
	assert.Equal(t, "UNKNOWN", ServiceID(99).String())
}

func TestClassifyDeltaTimeLoc(t *testing.T) {
	base := time.Date(2026, time.January, 1, 0, 0, 0, 0, time.UTC)

	tests := []struct {
		name string
		gap  time.Duration
		want DeltaTimeLoc
	}{
		{"under 10 min", 5 * time.Minute, DeltaT10Min},
		{"exactly 15 min", 15 * time.Minute, DeltaT15Min},
		{"exactly 30 min", 30 * time.Minute, DeltaT30Min},
		{"exactly 1 hour", time.Hour, DeltaT1Hr},
		{"exactly 24 hours", 24 * time.Hour, DeltaT24Hr},
		{"beyond 24 hours", 48 * time.Hour, DeltaT24Hr},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := ClassifyDeltaTimeLoc(base, base.Add(tt.gap))
			assert.Equal(t, tt.want, got)

			// Order of arguments must not matter.
			gotReversed := ClassifyDeltaTimeLoc(base.Add(tt.gap), base)
			assert.Equal(t, tt.want, gotReversed)
		})
	}
}
