package model

// SensorCalibration pins the single baro conversion the device uses,
// resolving the ambiguity of the three inconsistent ads1015.cpp baro
// calibration paths in the original source: rather than replicate any of
// the commented/duplicated voltage-to-hPa paths, the wire
// value is computed directly from a calibrated hPa reading supplied by the
// driver.
type SensorCalibration struct {
	// BaroOffsetHpa and BaroScale let a deployment pin its own ADC-to-hPa
	// affine mapping outside of this package; the default is identity
	// (driver already supplies hPa).
	BaroOffsetHpa float64
	BaroScale     float64
}

// DefaultSensorCalibration is the identity calibration: the baro driver is
// expected to hand over a calibrated hPa reading directly.
var DefaultSensorCalibration = SensorCalibration{BaroOffsetHpa: 0, BaroScale: 1}

// ConvertALS converts a raw lux reading to its 16-bit wire form.
func ConvertALS(lux float64) uint32 {
	return clampU32(lux, 0, 65535)
}

// ConvertPH converts a raw pH reading to its 14-bit wire form (pH x 1000).
func ConvertPH(ph float64) uint32 {
	return clampU32(ph*1000, 0, 14000)
}

// ConvertPressureBar converts a raw bar reading to its 20-bit wire form
// (bar x 1000).
func ConvertPressureBar(bar float64) uint32 {
	return uint32(bar * 1000)
}

// ConvertPressureTemp converts a raw Celsius reading to its 13-bit wire form
// (temp x 100 + 4000).
func ConvertPressureTemp(celsius float64) uint32 {
	return uint32(celsius*100 + 4000)
}

// ConvertSeaTemp converts a raw Celsius reading to its 18-bit wire form
// (degC x 1000 + 100000).
func ConvertSeaTemp(celsius float64) uint32 {
	return uint32(celsius*1000 + 100000)
}

// ConvertBaro converts a calibrated hPa reading to its 15-bit wire form
// (hPa x 10), applying the pinned SensorCalibration rather than any of the
// source's inconsistent raw-ADC paths.
func ConvertBaro(hpa float64, cal SensorCalibration) uint32 {
	calibrated := (hpa * cal.BaroScale) + cal.BaroOffsetHpa
	return uint32(calibrated * 10)
}

func clampU32(v, lo, hi float64) uint32 {
	if v < lo {
		v = lo
	}
	if v > hi {
		v = hi
	}
	return uint32(v)
}
