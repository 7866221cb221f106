// Package scheduler implements the TX Scheduler (C6): legacy periodic,
// duty-cycle, and pass-prediction delay computation, plus the scheduling
// state (last TX time, earliest-allowed override, last known location)
// each mode consults. The duty-cycle/legacy math and the prepass search
// loop are a direct translation of the original_source ArgosTxScheduler's
// slot alignment and pass iteration
// into idiomatic Go, since the newer C++ scheduler's test vectors
// (argos_tx_test.cpp) were available but its source was not — see
// DESIGN.md.
package scheduler

import (
	"errors"
	"math/rand"
	"sync"
	"time"

	"github.com/bramburn/argos-tracker/internal/model"
	"github.com/bramburn/argos-tracker/internal/prepass"
)

// ErrInvalidSchedule is returned when no valid slot/pass can be found.
var ErrInvalidSchedule = errors.New("scheduler: no valid schedule found")

// Scheduler holds the mutable scheduling state referenced by every
// schedule_* operation: the last successful TX time, an externally pushed
// earliest-allowed-TX floor, and the last known GNSS location used by the
// prepass search.
type Scheduler struct {
	mu sync.Mutex

	lastTxMs          int64
	earliestAllowedMs int64
	hasLocation       bool
	lastLatDeg        float64
	lastLonDeg        float64

	rng *rand.Rand
}

// New constructs a Scheduler with no prior TX history.
func New() *Scheduler {
	return &Scheduler{rng: rand.New(rand.NewSource(1))}
}

// NotifyTxComplete records now as the last successful transmission time.
func (s *Scheduler) NotifyTxComplete(nowMs int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastTxMs = nowMs
}

// SetEarliestSchedule pushes a floor below which no schedule may fire,
// e.g. after a wet-to-dry immersion transition.
func (s *Scheduler) SetEarliestSchedule(whenMs int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.earliestAllowedMs = whenMs
}

// SetLastLocation updates the cached reference location the prepass search
// uses.
func (s *Scheduler) SetLastLocation(latDeg, lonDeg float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastLatDeg, s.lastLonDeg = latDeg, lonDeg
	s.hasLocation = true
}

func (s *Scheduler) snapshot() (lastTxMs, earliestMs int64, hasLoc bool, lat, lon float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastTxMs, s.earliestAllowedMs, s.hasLocation, s.lastLatDeg, s.lastLonDeg
}

// ScheduleLegacy computes the delay in milliseconds until the next
// tr_nom-aligned slot after lastTxMs.
func (s *Scheduler) ScheduleLegacy(cfg model.ArgosConfig, nowMs int64) int64 {
	lastTxMs, earliestMs, _, _, _ := s.snapshot()

	periodMs := int64(cfg.TrNomSeconds) * 1000
	if periodMs <= 0 {
		periodMs = 1000
	}
	elapsed := nowMs - lastTxMs
	if elapsed < 0 {
		elapsed = 0
	}
	nextSlot := ceilDiv(elapsed, periodMs) * periodMs
	delay := nextSlot - elapsed

	if cfg.JitterEnabled && periodMs > 0 {
		delay += int64(s.rng.Int63n(periodMs))
	}

	floor := earliestMs - nowMs
	if delay < floor {
		delay = floor
	}
	if delay < 0 {
		delay = 0
	}
	return delay
}

func ceilDiv(a, b int64) int64 {
	if b == 0 {
		return 0
	}
	if a%b == 0 {
		return a / b
	}
	return a/b + 1
}

// ScheduleDutyCycle finds the next hour (0..48 ahead) whose duty-cycle bit
// is set and whose hour-aligned, tr_nom-aligned slot start is at or after
// now, the earliest-allowed floor, and one tr_nom period past the last
// transmission (so a permitted hour keeps firing every tr_nom seconds
// instead of just once).
func (s *Scheduler) ScheduleDutyCycle(cfg model.ArgosConfig, nowMs int64) (int64, error) {
	lastTxMs, earliestMs, _, _, _ := s.snapshot()

	periodMs := int64(cfg.TrNomSeconds) * 1000
	if periodMs <= 0 {
		periodMs = 1000
	}

	reference := maxInt64(nowMs, earliestMs)
	reference = maxInt64(reference, lastTxMs+periodMs)

	now := time.UnixMilli(nowMs).UTC()
	hourStartMs := time.Date(now.Year(), now.Month(), now.Day(), now.Hour(), 0, 0, 0, time.UTC).UnixMilli()

	for h := 0; h <= 48; h++ {
		hourOfDay := (now.Hour() + h) % 24
		if cfg.DutyCycle&(1<<uint(23-hourOfDay)) == 0 {
			continue
		}
		candidateHourStart := hourStartMs + int64(h)*3600*1000
		slotStart := candidateHourStart
		if reference > slotStart {
			slotStart += ceilDiv(reference-slotStart, periodMs) * periodMs
		}
		if slotStart >= candidateHourStart+3600*1000 {
			continue
		}
		return slotStart - nowMs, nil
	}
	return 0, ErrInvalidSchedule
}

func maxInt64(a, b int64) int64 {
	if a > b {
		return a
	}
	return b
}

// SchedulePrepass searches the pass_predict ephemeris table for the
// earliest valid pass and returns the delay until that pass's rise time,
// along with the uplink mode to use. Ties prefer the satellite with the
// higher published uplink capability.
func (s *Scheduler) SchedulePrepass(cfg model.ArgosConfig, pp model.PassPredict, nowMs int64) (delayMs int64, mode model.ArticMode, err error) {
	_, earliestMs, hasLoc, lat, lon := s.snapshot()
	if !hasLoc {
		return 0, model.ArticModeUnknown, ErrInvalidSchedule
	}

	from := time.UnixMilli(maxInt64(nowMs, earliestMs)).UTC()
	window := time.Duration(cfg.PrepassLinearMarginSeconds) * time.Second
	step := time.Duration(cfg.PrepassCompStepSeconds) * time.Second
	if step <= 0 {
		step = 30 * time.Second
	}
	if window <= 0 {
		window = time.Hour
	}

	maxSamples := int(cfg.PrepassMaxPasses) * int(window/step)
	pass, found := prepass.Search(pp.Satellites, lat, lon, from, window, step,
		cfg.PrepassMinElevationDeg, cfg.PrepassMaxElevationDeg,
		time.Duration(cfg.PrepassMinDurationSeconds)*time.Second, maxSamples)
	if !found {
		return 0, model.ArticModeUnknown, ErrInvalidSchedule
	}

	delay := pass.RiseTime.UnixMilli() - nowMs
	if delay < 0 {
		delay = 0
	}

	switch pass.Satellite.UplinkStatus {
	case model.SatUplinkA3:
		mode = model.ArticModeA3
	case model.SatUplinkA2:
		mode = model.ArticModeA2
	default:
		mode = model.ArticModeUnknown
	}
	return delay, mode, nil
}
