package articmodem

import (
	"context"
	"sync"
	"time"

	"github.com/bramburn/argos-tracker/internal/model"
)

// FakeModem is an in-memory Modem used by TX service tests; it records
// every call and lets the test script when TX completion fires.
type FakeModem struct {
	mu sync.Mutex

	Connected bool
	Frequency float64
	TCXOWarmup time.Duration
	Power     model.ArgosPower

	SentFrames [][]byte
	SentModes  []model.ArticMode
	Stopped    int

	events chan Event
}

// NewFakeModem constructs a FakeModem.
func NewFakeModem() *FakeModem {
	return &FakeModem{events: make(chan Event, 16)}
}

func (f *FakeModem) Connect(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Connected = true
	return nil
}

func (f *FakeModem) Disconnect() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Connected = false
	return nil
}

func (f *FakeModem) SetFrequency(hz float64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Frequency = hz
	return nil
}

func (f *FakeModem) SetTCXOWarmup(d time.Duration) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.TCXOWarmup = d
	return nil
}

func (f *FakeModem) SetPower(power model.ArgosPower) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Power = power
	return nil
}

func (f *FakeModem) Send(ctx context.Context, mode model.ArticMode, frame []byte, nbits int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	cp := make([]byte, len(frame))
	copy(cp, frame)
	f.SentFrames = append(f.SentFrames, cp)
	f.SentModes = append(f.SentModes, mode)
	return nil
}

func (f *FakeModem) StopSend() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Stopped++
	return nil
}

func (f *FakeModem) Events() <-chan Event {
	return f.events
}

// CompleteTx pushes a synthetic EventTxComplete, as if the modem finished
// the most recent Send.
func (f *FakeModem) CompleteTx() {
	f.events <- Event{Type: EventTxComplete}
}

// FailTx pushes a synthetic EventTxFailed.
func (f *FakeModem) FailTx() {
	f.events <- Event{Type: EventTxFailed}
}

// SendCount reports how many frames have been sent so far.
func (f *FakeModem) SendCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.SentFrames)
}
