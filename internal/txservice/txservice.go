// Package txservice implements the TX Service (C8): the per-cycle
// scheduling loop that asks the scheduler for a delay, evaluates gating
// conditions, pulls entries from the depth pile, builds a frame, and
// drives the modem, in strict order: scheduler-decide -> gate-check ->
// build -> set_power -> send -> completion -> counter-increment ->
// reschedule. The scheduling loop itself runs on an internal/runloop.RunLoop
// with a conventional Start/Stop/context lifecycle.
package txservice

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/bramburn/argos-tracker/hardware/articmodem"
	"github.com/bramburn/argos-tracker/internal/config"
	"github.com/bramburn/argos-tracker/internal/depthpile"
	"github.com/bramburn/argos-tracker/internal/model"
	"github.com/bramburn/argos-tracker/internal/packet"
	"github.com/bramburn/argos-tracker/internal/runloop"
	"github.com/bramburn/argos-tracker/internal/scheduler"
)

// ScheduleDisabled is returned by GetLastSchedule when the service is not
// currently scheduling (stopped, or mode OFF).
const ScheduleDisabled = int64(-1)

// Gates reports the environmental conditions the scheduling loop checks on
// each cycle: a cycle fires only while immersion is dry and the battery is
// not critical; low battery or out-of-zone reduce the frame to a single
// depth-pile entry, and low battery also sets the TX power to 350 mW.
type Gates interface {
	ImmersionDry() bool
	BatteryCritical() bool
	LowBatteryActive() bool
	OutOfZoneActive() bool
}

// Service drives the scheduling loop and the modem on behalf of C9.
type Service struct {
	mu sync.Mutex

	store   config.Store
	pile    *depthpile.Pile
	sched   *scheduler.Scheduler
	modem   articmodem.Modem
	builder *packet.Builder
	gates   Gates
	logger  logrus.FieldLogger

	loop *runloop.RunLoop

	running       bool
	lastScheduleMs int64
	sending        bool
	firstTxDone    bool
	cancelPending  func()

	eventCancel context.CancelFunc
	eventDone   chan struct{}
}

// New constructs a Service; modem, store, pile, sched, and builder must
// all be non-nil.
func New(store config.Store, pile *depthpile.Pile, sched *scheduler.Scheduler, modem articmodem.Modem, builder *packet.Builder, gates Gates, logger logrus.FieldLogger) *Service {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &Service{
		store:          store,
		pile:           pile,
		sched:          sched,
		modem:          modem,
		builder:        builder,
		gates:          gates,
		logger:         logger,
		loop:           runloop.New(),
		lastScheduleMs: ScheduleDisabled,
	}
}

// Start reads configuration, configures the modem, and requests the first
// schedule.
func (s *Service) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return nil
	}
	s.running = true
	s.firstTxDone = false
	s.mu.Unlock()

	cfg := config.ArgosConfigFromStore(s.store)

	if err := s.modem.SetFrequency(cfg.FrequencyHz); err != nil {
		return fmt.Errorf("txservice: set frequency: %w", err)
	}
	if err := s.modem.SetTCXOWarmup(time.Duration(cfg.TcxoWarmupSeconds) * time.Second); err != nil {
		return fmt.Errorf("txservice: set tcxo warmup: %w", err)
	}

	s.loop.Start(ctx)

	eventCtx, cancel := context.WithCancel(ctx)
	s.eventCancel = cancel
	s.eventDone = make(chan struct{})
	go s.consumeEvents(eventCtx)

	s.requestSchedule(ctx, cfg)
	return nil
}

// Stop cancels any pending scheduling task and, if a transmission is in
// flight, calls StopSend.
func (s *Service) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	s.running = false
	sending := s.sending
	cancelPending := s.cancelPending
	eventCancel := s.eventCancel
	eventDone := s.eventDone
	s.mu.Unlock()

	if cancelPending != nil {
		cancelPending()
	}
	if sending {
		if err := s.modem.StopSend(); err != nil {
			s.logger.Warnf("txservice: stop_send failed: %v", err)
		}
	}
	s.loop.Stop()
	if eventCancel != nil {
		eventCancel()
	}
	if eventDone != nil {
		<-eventDone
	}
	s.disableSchedule()
}

// GetLastSchedule returns the delay, in milliseconds, until the next
// scheduled cycle, or ScheduleDisabled.
func (s *Service) GetLastSchedule() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastScheduleMs
}

func (s *Service) consumeEvents(ctx context.Context) {
	defer close(s.eventDone)
	for {
		select {
		case <-ctx.Done():
			return
		case evt, ok := <-s.modem.Events():
			if !ok {
				return
			}
			switch evt.Type {
			case articmodem.EventTxComplete:
				s.onTxComplete(ctx)
			case articmodem.EventTxFailed:
				s.mu.Lock()
				s.sending = false
				s.mu.Unlock()
				s.requestSchedule(ctx, config.ArgosConfigFromStore(s.store))
			}
		}
	}
}

func (s *Service) onTxComplete(ctx context.Context) {
	s.mu.Lock()
	wasSending := s.sending
	s.sending = false
	s.mu.Unlock()

	if !wasSending {
		// A spurious completion after Stop(); discard it.
		return
	}

	if err := s.store.IncrementTxCounter(); err != nil {
		s.logger.Errorf("txservice: increment tx counter: %v", err)
	}
	s.sched.NotifyTxComplete(time.Now().UnixMilli())
	s.requestSchedule(ctx, config.ArgosConfigFromStore(s.store))
}

// requestSchedule computes the next delay per the configured mode and
// arms the runloop to fire the TX cycle at that delay.
func (s *Service) requestSchedule(ctx context.Context, cfg model.ArgosConfig) {
	nowMs := time.Now().UnixMilli()

	var delayMs int64
	var mode model.ArticMode

	switch cfg.Mode {
	case model.ModeLegacy:
		delayMs = s.sched.ScheduleLegacy(cfg, nowMs)
	case model.ModeDutyCycle:
		d, err := s.sched.ScheduleDutyCycle(cfg, nowMs)
		if err != nil {
			s.disableSchedule()
			return
		}
		delayMs = d
	case model.ModePassPrediction:
		pp, _ := s.store.ReadPassPredict()
		d, m, err := s.sched.SchedulePrepass(cfg, pp, nowMs)
		if err != nil {
			s.disableSchedule()
			return
		}
		delayMs, mode = d, m
	default:
		s.disableSchedule()
		return
	}

	s.mu.Lock()
	s.lastScheduleMs = delayMs
	s.mu.Unlock()

	cancel := s.loop.PostAfter(time.Duration(delayMs)*time.Millisecond, func(taskCtx context.Context) {
		s.runCycle(taskCtx, cfg, mode)
	})
	s.mu.Lock()
	s.cancelPending = cancel
	s.mu.Unlock()
}

func (s *Service) disableSchedule() {
	s.mu.Lock()
	s.lastScheduleMs = ScheduleDisabled
	s.mu.Unlock()
}

// runCycle is the body of one scheduling tick: gate-check, build, set
// power, send.
//
// The time-sync burst takes priority over the normal path on the first TX
// cycle since Start: if time_sync_burst_en is set and at least one GNSS
// fix (valid or invalid) has been recorded, this cycle sends a
// non-consuming short frame built from the latest fix instead of pulling
// from the depth pile. If no fix has arrived yet, this cycle falls back to
// the normal path and the time-sync check runs again next cycle.
func (s *Service) runCycle(ctx context.Context, cfg model.ArgosConfig, mode model.ArticMode) {
	if s.gates != nil {
		if !s.gates.ImmersionDry() || s.gates.BatteryCritical() {
			s.requestSchedule(ctx, cfg)
			return
		}
	}

	s.mu.Lock()
	timeSyncEligible := !s.firstTxDone && cfg.TimeSyncBurstEn
	s.mu.Unlock()

	if timeSyncEligible {
		if latest, ok := s.pile.RetrieveLatest(); ok {
			s.sendFrame(ctx, cfg, model.ArticModeA2, func() ([]byte, int, error) {
				payload, bits, err := s.builder.BuildShortGNSS(latest.Fix, false, false)
				if err != nil {
					return nil, 0, err
				}
				return s.builder.PrependHeader(packet.FrameShort, payload, bits)
			})
			return
		}
	}

	lowBattery := s.gates != nil && s.gates.LowBatteryActive()
	outOfZone := s.gates != nil && s.gates.OutOfZoneActive()

	depthPileEffective := int(cfg.DepthPile)
	if lowBattery || outOfZone {
		depthPileEffective = 1
	}

	entries := s.pile.Retrieve(depthPileEffective)
	if len(entries) == 0 {
		s.requestSchedule(ctx, cfg)
		return
	}

	s.sendFrame(ctx, cfg, mode, func() ([]byte, int, error) {
		return s.buildFrame(entries, depthPileEffective, mode)
	})
}

// sendFrame runs the set_power -> send tail shared by the time-sync and
// normal paths once a frame builder for the chosen path has been picked.
func (s *Service) sendFrame(ctx context.Context, cfg model.ArgosConfig, mode model.ArticMode, build func() ([]byte, int, error)) {
	frame, nbits, err := build()
	if err != nil {
		s.logger.Errorf("txservice: build frame: %v", err)
		s.requestSchedule(ctx, cfg)
		return
	}

	lowBattery := s.gates != nil && s.gates.LowBatteryActive()
	power := cfg.Power
	if lowBattery {
		power = model.Power350mW
	}
	if err := s.modem.SetPower(power); err != nil {
		s.logger.Errorf("txservice: set power: %v", err)
		s.requestSchedule(ctx, cfg)
		return
	}

	if mode == model.ArticModeUnknown {
		mode = model.ArticModeA2
	}

	s.mu.Lock()
	s.sending = true
	s.firstTxDone = true
	s.mu.Unlock()

	if err := s.modem.Send(ctx, mode, frame, nbits); err != nil {
		s.logger.Errorf("txservice: send: %v", err)
		s.mu.Lock()
		s.sending = false
		s.mu.Unlock()
		s.requestSchedule(ctx, cfg)
	}
}

func (s *Service) buildFrame(entries []model.DepthPileEntry, depthPileEffective int, mode model.ArticMode) ([]byte, int, error) {
	if depthPileEffective == 1 {
		payload, bits, err := s.builder.BuildShortGNSS(entries[0].Fix, false, false)
		if err != nil {
			return nil, 0, err
		}
		return s.builder.PrependHeader(packet.FrameShort, payload, bits)
	}

	if hasSensorAttachment(entries[0]) {
		payload, bits, err := s.builder.BuildSensor(entries[0].Fix, toSensorFields(entries[0].Attachments), false, false)
		if err != nil {
			return nil, 0, err
		}
		return s.builder.PrependHeader(packet.FrameLong, payload, bits)
	}

	fixes := make([]model.GpsFix, 0, len(entries))
	for _, e := range entries {
		fixes = append(fixes, e.Fix)
	}
	if len(fixes) == 1 {
		fixes = append(fixes, fixes[0])
	}
	payload, bits, err := s.builder.BuildLongGNSS(fixes, false, false)
	if err != nil {
		return nil, 0, err
	}
	return s.builder.PrependHeader(packet.FrameLong, payload, bits)
}

func hasSensorAttachment(e model.DepthPileEntry) bool {
	a := e.Attachments
	return a.ALS != nil || a.PH != nil || a.PressureBar != nil || a.PressureTemp != nil || a.SeaTemp != nil || a.Baro != nil
}

func toSensorFields(a model.SensorAttachments) packet.SensorFields {
	return packet.SensorFields{
		ALS: a.ALS, PH: a.PH, PressureBar: a.PressureBar,
		PressureTemp: a.PressureTemp, SeaTemp: a.SeaTemp, Baro: a.Baro,
	}
}

// OnImmersionWet stops any in-flight send and disables scheduling until a
// matching OnImmersionDry.
func (s *Service) OnImmersionWet() {
	s.mu.Lock()
	sending := s.sending
	cancelPending := s.cancelPending
	s.mu.Unlock()

	if cancelPending != nil {
		cancelPending()
	}
	if sending {
		if err := s.modem.StopSend(); err != nil {
			s.logger.Warnf("txservice: stop_send on immersion wet failed: %v", err)
		}
		s.mu.Lock()
		s.sending = false
		s.mu.Unlock()
	}
	s.disableSchedule()
}

// OnImmersionDry pushes the scheduler's earliest-allowed-TX floor out by
// dry_time_before_tx and re-requests a schedule.
func (s *Service) OnImmersionDry(ctx context.Context, cfg model.ArgosConfig) {
	now := time.Now()
	s.sched.SetEarliestSchedule(now.Add(time.Duration(cfg.DryTimeBeforeTxSeconds) * time.Second).UnixMilli())
	s.requestSchedule(ctx, cfg)
}
