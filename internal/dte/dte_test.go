package dte

import (
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bramburn/argos-tracker/internal/config"
	"github.com/bramburn/argos-tracker/internal/model"
)

type fakeResetter struct {
	resetDelay   time.Duration
	resetCalled  bool
	factoryErr   error
	factoryCalled bool
}

func (f *fakeResetter) ScheduleReset(d time.Duration) {
	f.resetCalled = true
	f.resetDelay = d
}

func (f *fakeResetter) FactoryReset() error {
	f.factoryCalled = true
	return f.factoryErr
}

func checksumFrame(payload string) string {
	var c byte
	for i := 0; i < len(payload); i++ {
		c ^= payload[i]
	}
	return fmt.Sprintf("$%s*%02X", payload, c)
}

func splitResp(t *testing.T, resp string) []string {
	t.Helper()
	trimmed := strings.TrimSpace(resp)
	require.True(t, strings.HasPrefix(trimmed, "$"))
	star := strings.LastIndex(trimmed, "*")
	require.GreaterOrEqual(t, star, 0)
	return strings.Split(trimmed[1:star], ",")
}

func TestHandleBadChecksumReturnsProtocolError(t *testing.T) {
	store := config.NewMemStore()
	h := NewHandler(store, nil, nil, "")

	resp := h.Handle("$PARML*00")
	fields := splitResp(t, resp)
	assert.Equal(t, "DTE_RESP", fields[0])
	assert.Equal(t, "1", fields[1])
}

func TestHandleParmlListsParams(t *testing.T) {
	store := config.NewMemStore()
	h := NewHandler(store, nil, nil, "")

	resp := h.Handle(checksumFrame("PARML"))
	fields := splitResp(t, resp)
	assert.Equal(t, "PARML_RESP", fields[0])
	assert.Equal(t, "0", fields[1])
	assert.NotEmpty(t, fields[2])
}

func TestHandleParmrUnknownParam(t *testing.T) {
	store := config.NewMemStore()
	h := NewHandler(store, nil, nil, "")

	resp := h.Handle(checksumFrame("PARMR,9999"))
	fields := splitResp(t, resp)
	assert.Equal(t, "PARMR_RESP", fields[0])
	assert.Equal(t, fmt.Sprintf("%d", ErrUnknownParam), fields[1])
}

func TestHandleParmwRoundTrip(t *testing.T) {
	store := config.NewMemStore()
	h := NewHandler(store, nil, nil, "")

	id := int(config.ParamTrNomSeconds)
	wResp := h.Handle(checksumFrame(fmt.Sprintf("PARMW,%d,120", id)))
	wFields := splitResp(t, wResp)
	assert.Equal(t, "0", wFields[1])

	rResp := h.Handle(checksumFrame(fmt.Sprintf("PARMR,%d", id)))
	rFields := splitResp(t, rResp)
	assert.Equal(t, "0", rFields[1])
	assert.Equal(t, "120", rFields[2])
}

func TestHandleParmwRequiresAuthWhenPasswordSet(t *testing.T) {
	store := config.NewMemStore()
	h := NewHandler(store, nil, nil, "hunter2")

	resp := h.Handle(checksumFrame(fmt.Sprintf("PARMW,%d,120", config.ParamTrNomSeconds)))
	fields := splitResp(t, resp)
	assert.Equal(t, fmt.Sprintf("%d", ErrAuthRequired), fields[1])

	secResp := h.Handle(checksumFrame("SECUR,hunter2"))
	secFields := splitResp(t, secResp)
	assert.Equal(t, "0", secFields[1])

	resp2 := h.Handle(checksumFrame(fmt.Sprintf("PARMW,%d,120", config.ParamTrNomSeconds)))
	fields2 := splitResp(t, resp2)
	assert.Equal(t, "0", fields2[1])
}

func TestHandleSecurWrongPasswordRejected(t *testing.T) {
	store := config.NewMemStore()
	h := NewHandler(store, nil, nil, "hunter2")

	resp := h.Handle(checksumFrame("SECUR,wrong"))
	fields := splitResp(t, resp)
	assert.Equal(t, fmt.Sprintf("%d", ErrAuthRequired), fields[1])
}

func TestHandleZonewZoner(t *testing.T) {
	store := config.NewMemStore()
	h := NewHandler(store, nil, nil, "")

	wResp := h.Handle(checksumFrame("ZONEW,3"))
	assert.Equal(t, "0", splitResp(t, wResp)[1])

	rResp := h.Handle(checksumFrame("ZONER,3"))
	rFields := splitResp(t, rResp)
	assert.Equal(t, "0", rFields[1])
	assert.Contains(t, rFields[2], "id=3")
}

func TestHandleZonerMissingReturnsNotFound(t *testing.T) {
	store := config.NewMemStore()
	h := NewHandler(store, nil, nil, "")

	resp := h.Handle(checksumFrame("ZONER,7"))
	fields := splitResp(t, resp)
	assert.Equal(t, fmt.Sprintf("%d", ErrZoneNotFound), fields[1])
}

func TestHandleDumpmKicksWatchdog(t *testing.T) {
	store := config.NewMemStore()
	kicked := false
	h := NewHandler(store, nil, func() { kicked = true }, "")

	resp := h.Handle(checksumFrame("DUMPM"))
	assert.Equal(t, "0", splitResp(t, resp)[1])
	assert.True(t, kicked)
}

func TestHandleUnknownCommand(t *testing.T) {
	store := config.NewMemStore()
	h := NewHandler(store, nil, nil, "")

	resp := h.Handle(checksumFrame("BOGUS"))
	fields := splitResp(t, resp)
	assert.Equal(t, "BOGUS_RESP", fields[0])
	assert.Equal(t, fmt.Sprintf("%d", ErrProtocol), fields[1])
}

func TestHandleProfrReflectsStoredConfig(t *testing.T) {
	store := config.NewMemStore()
	require.NoError(t, store.WriteParam(config.ParamArgosID, uint32(0xABCDEF)))
	h := NewHandler(store, nil, nil, "")

	resp := h.Handle(checksumFrame("PROFR"))
	fields := splitResp(t, resp)
	assert.Equal(t, "0", fields[1])
	assert.Contains(t, fields[2], fmt.Sprintf("argos_id=%d", 0xABCDEF))
}

func TestHandleZonewWriteAuthRequired(t *testing.T) {
	store := config.NewMemStore()
	h := NewHandler(store, nil, nil, "hunter2")

	resp := h.Handle(checksumFrame("ZONEW,1"))
	assert.Equal(t, fmt.Sprintf("%d", ErrAuthRequired), splitResp(t, resp)[1])
}

func TestHandleWriteZoneDirect(t *testing.T) {
	store := config.NewMemStore()
	require.NoError(t, store.WriteZone(model.Zone{ID: 5, Type: 2}))
	h := NewHandler(store, nil, nil, "")

	resp := h.Handle(checksumFrame("ZONER,5"))
	fields := splitResp(t, resp)
	assert.Contains(t, fields[2], "type=2")
}

func TestHandleResetSchedulesDelayedReset(t *testing.T) {
	store := config.NewMemStore()
	resetter := &fakeResetter{}
	h := NewHandler(store, resetter, nil, "")

	resp := h.Handle(checksumFrame("RESET"))
	assert.Equal(t, "0", splitResp(t, resp)[1])
	assert.True(t, resetter.resetCalled)
	assert.Equal(t, ResetDelay, resetter.resetDelay)
}

func TestHandleFactrTriggersFactoryReset(t *testing.T) {
	store := config.NewMemStore()
	resetter := &fakeResetter{}
	h := NewHandler(store, resetter, nil, "")

	resp := h.Handle(checksumFrame("FACTR"))
	assert.Equal(t, "0", splitResp(t, resp)[1])
	assert.True(t, resetter.factoryCalled)
}

func TestHandleFactrPropagatesError(t *testing.T) {
	store := config.NewMemStore()
	resetter := &fakeResetter{factoryErr: fmt.Errorf("flash write failed")}
	h := NewHandler(store, resetter, nil, "")

	resp := h.Handle(checksumFrame("FACTR"))
	fields := splitResp(t, resp)
	assert.Equal(t, fmt.Sprintf("%d", ErrProtocol), fields[1])
}

func TestLastActivityUpdatesOnHandle(t *testing.T) {
	store := config.NewMemStore()
	h := NewHandler(store, nil, nil, "")
	before := h.LastActivity()

	time.Sleep(5 * time.Millisecond)
	h.Handle(checksumFrame("PARML"))

	assert.True(t, h.LastActivity().After(before))
}
