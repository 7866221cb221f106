package packet

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bramburn/argos-tracker/internal/bch"
	"github.com/bramburn/argos-tracker/internal/model"
)

func validFix() model.GpsFix {
	return model.GpsFix{
		Year: 2026, Month: 7, Day: 31, Hour: 14, Minute: 30, Second: 0,
		LatitudeDeg: 45.1234, LongitudeDeg: -12.5678,
		Valid: true, Is3D: true,
		GSpeedMmS: 1500, HeadingUnits: 100,
		AltitudeMm: 120000, BattVoltageMv: 3900,
	}
}

func TestBuildShortGNSSDeterministic(t *testing.T) {
	b := NewBuilder(0x01ABCD)
	fix := validFix()

	payload1, bits1, err := b.BuildShortGNSS(fix, false, false)
	require.NoError(t, err)
	payload2, bits2, err := b.BuildShortGNSS(fix, false, false)
	require.NoError(t, err)

	assert.Equal(t, bits1, bits2)
	assert.Equal(t, payload1, payload2)
	assert.Equal(t, shortPayloadBits+bch.ParityBits(bch.B127_106_3), bits1)
}

func TestBuildShortGNSSParityVerifies(t *testing.T) {
	b := NewBuilder(0x01ABCD)
	fix := validFix()

	payload, bits, err := b.BuildShortGNSS(fix, true, false)
	require.NoError(t, err)

	ok, err := bch.Verify(bch.B127_106_3, payload, bits)
	require.NoError(t, err)
	assert.True(t, ok, "BCH remainder must be zero over payload+parity")
}

func TestBuildShortGNSSSyncOOZBits(t *testing.T) {
	b := NewBuilder(0x01ABCD)
	fix := validFix()

	noneSet, _, err := b.BuildShortGNSS(fix, false, false)
	require.NoError(t, err)
	syncSet, _, err := b.BuildShortGNSS(fix, true, false)
	require.NoError(t, err)
	oozSet, _, err := b.BuildShortGNSS(fix, false, true)
	require.NoError(t, err)

	assert.NotEqual(t, noneSet[0], syncSet[0])
	assert.NotEqual(t, noneSet[0], oozSet[0])
	assert.Equal(t, byte(shortBitfieldBase&^((1<<bitfieldSyncBit)|(1<<bitfieldOOZBit))), noneSet[0])
}

func TestBuildShortGNSSInvalidFixAllOnes(t *testing.T) {
	b := NewBuilder(0x01ABCD)
	fix := model.GpsFix{Year: 2026, Month: 7, Day: 31, Hour: 1, Minute: 1, Valid: false}

	payload, _, err := b.BuildShortGNSS(fix, false, false)
	require.NoError(t, err)
	assert.NotNil(t, payload)

	// lat, lon, speed, heading and altitude occupy bits 24..90; bytes 3..10
	// lie wholly inside that range.
	for i := 3; i < 11; i++ {
		assert.Equal(t, byte(0xFF), payload[i], "byte %d", i)
	}
}

func TestBuildLongGNSSRequiresTwoEntries(t *testing.T) {
	b := NewBuilder(0x01ABCD)
	_, _, err := b.BuildLongGNSS([]model.GpsFix{validFix()}, false, false)
	assert.Error(t, err)
}

func TestBuildLongGNSSParityVerifies(t *testing.T) {
	b := NewBuilder(0x01ABCD)
	first := validFix()
	second := validFix()
	second.Hour = 10

	payload, bits, err := b.BuildLongGNSS([]model.GpsFix{first, second}, false, false)
	require.NoError(t, err)
	assert.Equal(t, longPayloadBits+bch.ParityBits(bch.B255_223_4), bits)

	ok, err := bch.Verify(bch.B255_223_4, payload, bits)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestBuildLongGNSSDeltaTimeLocAffectsEncoding(t *testing.T) {
	b := NewBuilder(0x01ABCD)
	first := validFix()
	near := validFix()
	near.Minute = 35 // ~5 minutes later -> DeltaT10Min bucket
	far := validFix()
	far.Day = 30
	far.Hour = 1 // >24h earlier -> DeltaT24Hr bucket

	withNear, _, err := b.BuildLongGNSS([]model.GpsFix{first, near}, false, false)
	require.NoError(t, err)
	withFar, _, err := b.BuildLongGNSS([]model.GpsFix{first, far}, false, false)
	require.NoError(t, err)

	assert.NotEqual(t, withNear, withFar)
}

func TestBuildSensorOmittedFieldsShrinkFrame(t *testing.T) {
	b := NewBuilder(0x01ABCD)
	fix := validFix()
	als := model.ConvertALS(1234)

	withOneSensor, bitsOne, err := b.BuildSensor(fix, SensorFields{ALS: &als}, false, false)
	require.NoError(t, err)
	withNoSensor, bitsNone, err := b.BuildSensor(fix, SensorFields{}, false, false)
	require.NoError(t, err)

	assert.Greater(t, bitsOne, bitsNone)
	assert.NotEqual(t, len(withOneSensor), len(withNoSensor))
}

func TestBuildSensorParityVerifies(t *testing.T) {
	b := NewBuilder(0x01ABCD)
	fix := validFix()
	als := model.ConvertALS(500)
	ph := model.ConvertPH(7.2)
	baro := model.ConvertBaro(1013.25, model.DefaultSensorCalibration)

	payload, bits, err := b.BuildSensor(fix, SensorFields{ALS: &als, PH: &ph, Baro: &baro}, false, false)
	require.NoError(t, err)

	ok, err := bch.Verify(bch.B255_223_4, payload, bits)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestBuildCertificationPassthrough(t *testing.T) {
	raw, bits, err := BuildCertification("F94B8B3633003C0F00001FF2C51564")
	require.NoError(t, err)
	assert.Equal(t, 15*8, bits)
	assert.Len(t, raw, 15)
	assert.Equal(t, byte(0xF9), raw[0])

	_, _, err = BuildCertification("not-hex")
	assert.Error(t, err)
}

func TestPrependHeaderLength(t *testing.T) {
	b := NewBuilder(0x01ABCD)
	fix := validFix()
	payload, bits, err := b.BuildShortGNSS(fix, false, false)
	require.NoError(t, err)

	frame, frameBits, err := b.PrependHeader(FrameShort, payload, bits)
	require.NoError(t, err)
	assert.Equal(t, shortHeaderBytes*8+bits, frameBits)
	assert.Len(t, frame, shortHeaderBytes+len(payload))
}
