package depthpile

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bramburn/argos-tracker/internal/events"
	"github.com/bramburn/argos-tracker/internal/model"
)

func noopConvert(service model.ServiceID, sample model.SensorSample) uint32 {
	return uint32(sample.Port[0])
}

func TestManagerCommitsOnGNSSInactiveWhenSensorReported(t *testing.T) {
	pile := NewPile()
	bus := events.NewBus()
	mgr := NewManager(pile, bus, noopConvert, []model.ServiceID{model.ServiceALS})
	mgr.SetNtryPerMessage(3)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	mgr.Start(ctx)
	defer mgr.Stop()

	bus.NotifyActive(model.ServiceGNSS)
	time.Sleep(20 * time.Millisecond)
	bus.NotifyLogUpdated(model.ServiceGNSS, model.GpsFix{Valid: true, BattVoltageMv: 4000}, model.SensorSample{})
	bus.NotifyLogUpdated(model.ServiceALS, model.GpsFix{}, model.SensorSample{Port: [4]float64{42}})
	bus.NotifyInactive(model.ServiceGNSS)

	require.Eventually(t, func() bool { return pile.Len() == 1 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, 1, pile.Eligible())
	latest, ok := pile.RetrieveLatest()
	require.True(t, ok)
	assert.Equal(t, uint32(3), latest.BurstCounter)
	require.NotNil(t, latest.Attachments.ALS)
	assert.Equal(t, uint32(42), *latest.Attachments.ALS)
}

func TestManagerCommitsOnTimeoutWhenSensorDoesNotReport(t *testing.T) {
	pile := NewPile()
	bus := events.NewBus()
	mgr := NewManager(pile, bus, noopConvert, []model.ServiceID{model.ServiceALS})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	mgr.Start(ctx)
	defer mgr.Stop()

	bus.NotifyActive(model.ServiceGNSS)
	time.Sleep(20 * time.Millisecond)
	bus.NotifyLogUpdated(model.ServiceGNSS, model.GpsFix{Valid: true}, model.SensorSample{})
	bus.NotifyInactive(model.ServiceGNSS)

	assert.Equal(t, 0, pile.Len())
	require.Eventually(t, func() bool { return pile.Len() == 1 }, 3*time.Second, 10*time.Millisecond)
}

func TestManagerUnlimitedBurstsWhenNtryZero(t *testing.T) {
	pile := NewPile()
	bus := events.NewBus()
	mgr := NewManager(pile, bus, noopConvert, nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	mgr.Start(ctx)
	defer mgr.Stop()

	bus.NotifyActive(model.ServiceGNSS)
	time.Sleep(10 * time.Millisecond)
	bus.NotifyLogUpdated(model.ServiceGNSS, model.GpsFix{Valid: true}, model.SensorSample{})
	bus.NotifyInactive(model.ServiceGNSS)

	require.Eventually(t, func() bool { return pile.Len() == 1 }, time.Second, 5*time.Millisecond)
	latest, ok := pile.RetrieveLatest()
	require.True(t, ok)
	assert.Equal(t, uint32(model.UnlimitedBursts), latest.BurstCounter)
}
