// Package prepass implements the deterministic two-body satellite-pass
// predictor (C7): given a satellite's ephemeris and a target epoch, it
// propagates the sub-satellite point and reports the elevation seen from a
// ground location. No ephemeris fitting is performed; the same inputs
// always produce the same pass prediction.
package prepass

import (
	"math"
	"time"

	"github.com/bramburn/argos-tracker/internal/model"
)

const earthRadiusKm = 6371.0

// Elevation reports the predicted elevation angle (degrees, negative below
// the horizon) of sat as seen from (latDeg, lonDeg) at target. The
// semi-major axis drifts linearly by SemiMajorAxisDriftKmPerOrbit for each
// revolution since the ephemeris epoch.
func Elevation(sat model.SatEphemeris, latDeg, lonDeg float64, target time.Time) float64 {
	subLat, subLon := subSatellitePoint(sat, target)
	semiMajorAxisKm := sat.SemiMajorAxisKm
	if sat.OrbitalPeriodMin > 0 {
		revolutions := target.Sub(sat.Epoch).Minutes() / sat.OrbitalPeriodMin
		semiMajorAxisKm += sat.SemiMajorAxisDriftKmPerOrbit * revolutions
	}
	return elevationBetween(latDeg, lonDeg, subLat, subLon, semiMajorAxisKm)
}

// subSatellitePoint propagates mean anomaly by the elapsed fraction of the
// orbital period since the ephemeris epoch, shifts the ascending node by
// ArgPerigeeDriftDeg per revolution, and walks the resulting circular,
// inclined orbit to a ground track point: a Kepler circular orbit with
// inclination.
func subSatellitePoint(sat model.SatEphemeris, target time.Time) (latDeg, lonDeg float64) {
	elapsedMin := target.Sub(sat.Epoch).Minutes()
	if sat.OrbitalPeriodMin <= 0 {
		return 0, 0
	}
	revolutions := elapsedMin / sat.OrbitalPeriodMin
	meanAnomalyRad := 2 * math.Pi * revolutions

	incl := sat.InclinationDeg * math.Pi / 180
	ascNode := sat.AscNodeLongitudeDeg + sat.ArgPerigeeDriftDeg*revolutions

	// Circular orbit: argument of latitude equals mean anomaly.
	u := meanAnomalyRad

	// Standard orbital-plane-to-geocentric transform for a circular,
	// inclined orbit (argument of perigee folded into u since e=0).
	sinLat := math.Sin(u) * math.Sin(incl)
	latRad := math.Asin(clampUnit(sinLat))

	y := math.Sin(u) * math.Cos(incl)
	x := math.Cos(u)
	deltaLonRad := math.Atan2(y, x)

	// Earth's rotation under the orbit since epoch (approximated via the
	// ascending node drift input rather than a separate sidereal term,
	// keeping the propagation purely a function of the supplied
	// ephemeris fields).
	lonRad := deltaLonRad + ascNode*math.Pi/180

	latDeg = latRad * 180 / math.Pi
	lonDeg = normalizeLon(lonRad * 180 / math.Pi)
	return latDeg, lonDeg
}

func clampUnit(v float64) float64 {
	if v > 1 {
		return 1
	}
	if v < -1 {
		return -1
	}
	return v
}

func normalizeLon(deg float64) float64 {
	for deg > 180 {
		deg -= 360
	}
	for deg < -180 {
		deg += 360
	}
	return deg
}

// elevationBetween applies the spherical law of cosines between the
// ground location and the sub-satellite point to derive the central angle,
// then converts that angle plus the orbit altitude into an elevation angle
// above the local horizon.
func elevationBetween(obsLatDeg, obsLonDeg, subLatDeg, subLonDeg, semiMajorAxisKm float64) float64 {
	obsLat := obsLatDeg * math.Pi / 180
	obsLon := obsLonDeg * math.Pi / 180
	subLat := subLatDeg * math.Pi / 180
	subLon := subLonDeg * math.Pi / 180

	cosCentral := math.Sin(obsLat)*math.Sin(subLat) + math.Cos(obsLat)*math.Cos(subLat)*math.Cos(subLon-obsLon)
	cosCentral = clampUnit(cosCentral)
	centralAngle := math.Acos(cosCentral)

	altitudeKm := semiMajorAxisKm - earthRadiusKm
	if altitudeKm <= 0 {
		altitudeKm = 1 // avoid a degenerate orbit collapsing the geometry
	}

	// Elevation of an orbiting point above the local horizon given the
	// central angle and orbit radius, via the standard observer-satellite
	// right triangle in the orbital plane.
	numerator := math.Cos(centralAngle) - earthRadiusKm/(earthRadiusKm+altitudeKm)
	denominator := math.Sin(centralAngle)
	if denominator == 0 {
		if numerator >= 0 {
			return 90
		}
		return -90
	}
	elevationRad := math.Atan(numerator / denominator)
	return elevationRad * 180 / math.Pi
}

// Pass describes one satellite visibility window found by Search.
type Pass struct {
	Satellite model.SatEphemeris
	RiseTime  time.Time
	PeakElevationDeg float64
	DurationAboveMin time.Duration
}

// Search scans [from, from+window) in step increments looking for the
// earliest instant any satellite in sats rises above minElevationDeg,
// peaks below maxElevationDeg, and stays above minElevationDeg for at
// least minDuration. Evaluation stops after maxSamples steps.
func Search(sats []model.SatEphemeris, latDeg, lonDeg float64, from time.Time, window, step time.Duration, minElevationDeg, maxElevationDeg float64, minDuration time.Duration, maxSamples int) (Pass, bool) {
	var best Pass
	found := false

	for _, sat := range sats {
		if sat.UplinkStatus == model.SatUplinkOff {
			continue
		}
		pass, ok := searchOne(sat, latDeg, lonDeg, from, window, step, minElevationDeg, maxElevationDeg, minDuration, maxSamples)
		if !ok {
			continue
		}
		if !found || pass.RiseTime.Before(best.RiseTime) ||
			(pass.RiseTime.Equal(best.RiseTime) && sat.UplinkStatus > best.Satellite.UplinkStatus) {
			best = pass
			found = true
		}
	}
	return best, found
}

func searchOne(sat model.SatEphemeris, latDeg, lonDeg float64, from time.Time, window, step time.Duration, minEl, maxEl float64, minDuration time.Duration, maxSamples int) (Pass, bool) {
	var riseTime time.Time
	var peak float64
	above := false
	var aboveStart time.Time
	exceededMax := false

	samples := int(window / step)
	if maxSamples > 0 && samples > maxSamples {
		samples = maxSamples
	}

	for i := 0; i < samples; i++ {
		t := from.Add(time.Duration(i) * step)
		el := Elevation(sat, latDeg, lonDeg, t)

		if el > maxEl {
			exceededMax = true
		}
		if el >= minEl {
			if !above {
				above = true
				aboveStart = t
				if riseTime.IsZero() {
					riseTime = t
				}
			}
			if el > peak {
				peak = el
			}
		} else if above {
			duration := t.Sub(aboveStart)
			if duration >= minDuration && !exceededMax {
				return Pass{Satellite: sat, RiseTime: riseTime, PeakElevationDeg: peak, DurationAboveMin: duration}, true
			}
			above = false
			riseTime = time.Time{}
			peak = 0
			exceededMax = false
		}
	}

	if above {
		duration := from.Add(time.Duration(samples)*step).Sub(aboveStart)
		if duration >= minDuration && !exceededMax {
			return Pass{Satellite: sat, RiseTime: riseTime, PeakElevationDeg: peak, DurationAboveMin: duration}, true
		}
	}
	return Pass{}, false
}
