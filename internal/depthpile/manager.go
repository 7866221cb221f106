package depthpile

import (
	"context"
	"sync"
	"time"

	"github.com/bramburn/argos-tracker/internal/events"
	"github.com/bramburn/argos-tracker/internal/model"
)

// SensorTimeout is the delay after GNSS INACTIVE before a subscribed,
// non-reporting sensor's session is flushed anyway.
const SensorTimeout = 2 * time.Second

// Converter turns a raw SensorSample port value into its wire-integer form
// for a given service, per §3. Supplied by the caller so the manager does
// not hardcode per-service scaling.
type Converter func(service model.ServiceID, sample model.SensorSample) uint32

// session tracks one in-flight GNSS ACTIVE→INACTIVE window.
type session struct {
	fix      model.GpsFix
	reported map[model.ServiceID]model.SensorSample
}

// Manager correlates GNSS sessions against sensor events delivered over an
// events.Bus and commits combined entries into a Pile. The run loop is a
// context-cancelled goroutine, stopped via Stop and its done channel.
type Manager struct {
	pile      *Pile
	bus       *events.Bus
	convert   Converter
	enabled   map[model.ServiceID]bool

	mu      sync.Mutex
	current *session

	ntryPerMessage uint32

	cancel context.CancelFunc
	done   chan struct{}
}

// NewManager constructs a Manager writing committed entries into pile,
// subscribing to bus, converting sensor samples with convert, and treating
// only the services in enabledServices as subscribed.
func NewManager(pile *Pile, bus *events.Bus, convert Converter, enabledServices []model.ServiceID) *Manager {
	enabled := make(map[model.ServiceID]bool, len(enabledServices))
	for _, s := range enabledServices {
		enabled[s] = true
	}
	return &Manager{
		pile:    pile,
		bus:     bus,
		convert: convert,
		enabled: enabled,
	}
}

// SetNtryPerMessage sets the burst counter each newly committed entry is
// stamped with; 0 means unlimited (model.UnlimitedBursts).
func (m *Manager) SetNtryPerMessage(n uint32) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.ntryPerMessage = n
}

// Start begins consuming the event bus in a background goroutine. Calling
// Start twice without an intervening Stop is a no-op.
func (m *Manager) Start(ctx context.Context) {
	m.mu.Lock()
	if m.cancel != nil {
		m.mu.Unlock()
		return
	}
	runCtx, cancel := context.WithCancel(ctx)
	m.cancel = cancel
	m.done = make(chan struct{})
	m.mu.Unlock()

	ch, unsubscribe := m.bus.Subscribe()
	go m.run(runCtx, ch, unsubscribe)
}

// Stop cancels the consuming goroutine and waits for it to exit.
func (m *Manager) Stop() {
	m.mu.Lock()
	cancel := m.cancel
	done := m.done
	m.cancel = nil
	m.mu.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	<-done
}

func (m *Manager) run(ctx context.Context, ch <-chan events.ServiceEvent, unsubscribe func()) {
	defer close(m.done)
	defer unsubscribe()

	var timeoutTimer *time.Timer
	var timeoutCh <-chan time.Time

	stopTimer := func() {
		if timeoutTimer != nil {
			timeoutTimer.Stop()
			timeoutTimer = nil
			timeoutCh = nil
		}
	}
	defer stopTimer()

	for {
		select {
		case <-ctx.Done():
			return
		case <-timeoutCh:
			m.commitCurrent()
			stopTimer()
		case evt, ok := <-ch:
			if !ok {
				return
			}
			switch evt.Type {
			case events.ServiceActive:
				if evt.Service == model.ServiceGNSS {
					m.mu.Lock()
					m.current = &session{reported: make(map[model.ServiceID]model.SensorSample)}
					m.mu.Unlock()
				}
			case events.ServiceLogUpdated:
				m.mu.Lock()
				if m.current != nil {
					if evt.Service == model.ServiceGNSS {
						m.current.fix = evt.Fix
					} else if m.enabled[evt.Service] {
						m.current.reported[evt.Service] = evt.Sample
					}
				}
				m.mu.Unlock()
			case events.ServiceInactive:
				if evt.Service == model.ServiceGNSS {
					if m.anySubscribedReported() {
						m.commitCurrent()
						stopTimer()
					} else if m.hasSubscribedSensors() {
						stopTimer()
						timeoutTimer = time.NewTimer(SensorTimeout)
						timeoutCh = timeoutTimer.C
					} else {
						m.commitCurrent()
					}
				}
			}
		}
	}
}

func (m *Manager) hasSubscribedSensors() bool {
	return len(m.enabled) > 0
}

func (m *Manager) anySubscribedReported() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.current == nil {
		return false
	}
	return len(m.current.reported) > 0
}

// commitCurrent converts and stores the in-flight session as a single
// depth pile entry, then clears it.
func (m *Manager) commitCurrent() {
	m.mu.Lock()
	cur := m.current
	m.current = nil
	ntry := m.ntryPerMessage
	m.mu.Unlock()

	if cur == nil {
		return
	}

	burstCounter := ntry
	if ntry == 0 {
		burstCounter = uint32(model.UnlimitedBursts)
	}

	var attachments model.SensorAttachments
	for service, sample := range cur.reported {
		v := m.convert(service, sample)
		switch service {
		case model.ServiceALS:
			attachments.ALS = &v
		case model.ServicePH:
			attachments.PH = &v
		case model.ServicePressure:
			attachments.PressureBar = &v
		case model.ServiceSeaTemp:
			attachments.SeaTemp = &v
		case model.ServiceBaro:
			attachments.Baro = &v
		}
	}

	m.pile.Store(model.DepthPileEntry{
		Fix:         cur.fix,
		Attachments: attachments,
		BurstCounter: burstCounter,
	})
}
