// Package dte implements the DTE (console) protocol: a text command
// framing format with checksum-verified REQ/RESP pairs covering PARML,
// PARMW, PARMR, PROFW, PROFR, SECUR, RESET, FACTR, DUMPM, ZONEW, and
// ZONER. Frames use NMEA-style "$CMD,args*XX" checksum framing: an XOR
// checksum computed over the payload between '$' and '*'.
package dte

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/bramburn/argos-tracker/internal/config"
	"github.com/bramburn/argos-tracker/internal/model"
)

// ErrorCode is the integer status carried by every _RESP frame; 0 is OK.
type ErrorCode int

const (
	OK ErrorCode = 0
	// ErrProtocol covers framing/checksum/unknown-command failures; these
	// never affect transmission, only the console reply.
	ErrProtocol ErrorCode = 1
	ErrUnknownParam ErrorCode = 2
	ErrBadArgument  ErrorCode = 3
	ErrAuthRequired ErrorCode = 4
	ErrZoneNotFound ErrorCode = 5
)

// ResetDelay is the delay before the device resets after acknowledging a
// RESET command.
const ResetDelay = 3 * time.Second

// Resetter performs the actual device reset/factory-reset side effects;
// supplied by the caller (cmd/tracker) so the protocol handler stays
// hardware-agnostic.
type Resetter interface {
	// ScheduleReset triggers a device reset after d.
	ScheduleReset(d time.Duration)
	// FactoryReset wipes the configuration store and then resets the
	// device.
	FactoryReset() error
}

// WatchdogKicker is invoked each time a DUMPM command is handled, so the
// watchdog is kicked during long console operations.
type WatchdogKicker func()

// Handler parses and dispatches DTE command frames against a
// config.Store.
type Handler struct {
	store     config.Store
	resetter  Resetter
	kick      WatchdogKicker
	authed    bool
	password  string
	lastActivity time.Time
}

// NewHandler constructs a Handler. password is the SECUR credential
// required before PARMW/PROFW/ZONEW/RESET/FACTR are accepted; an empty
// password disables the check.
func NewHandler(store config.Store, resetter Resetter, kick WatchdogKicker, password string) *Handler {
	if kick == nil {
		kick = func() {}
	}
	return &Handler{store: store, resetter: resetter, kick: kick, password: password, authed: password == ""}
}

// Reset clears session authentication state; called by Server at the start
// of every new console connection so SECUR must be re-issued per session.
func (h *Handler) Reset() {
	h.authed = h.password == ""
}

// LastActivity returns the time of the most recently processed frame, used
// by the FSM's Configuration-state inactivity timeout.
func (h *Handler) LastActivity() time.Time {
	return h.lastActivity
}

// stripChecksum validates and removes the trailing "*XX" checksum from a
// "$CMD,args*XX" frame, returning the inner "CMD,args" payload.
func stripChecksum(frame string) (string, error) {
	frame = strings.TrimSpace(frame)
	if !strings.HasPrefix(frame, "$") {
		return "", fmt.Errorf("dte: missing frame start")
	}
	star := strings.LastIndex(frame, "*")
	if star < 0 || star+3 > len(frame) {
		return "", fmt.Errorf("dte: missing checksum")
	}
	payload := frame[1:star]
	want, err := strconv.ParseUint(frame[star+1:star+3], 16, 8)
	if err != nil {
		return "", fmt.Errorf("dte: malformed checksum: %w", err)
	}
	var got byte
	for i := 0; i < len(payload); i++ {
		got ^= payload[i]
	}
	if byte(want) != got {
		return "", fmt.Errorf("dte: checksum mismatch")
	}
	return payload, nil
}

// frame wraps payload ("CMD_RESP,...") in the "$...*XX\r\n" envelope.
func frame(payload string) string {
	var checksum byte
	for i := 0; i < len(payload); i++ {
		checksum ^= payload[i]
	}
	return fmt.Sprintf("$%s*%02X\r\n", payload, checksum)
}

func respond(cmd string, code ErrorCode, fields ...string) string {
	parts := append([]string{fmt.Sprintf("%s_RESP", cmd), strconv.Itoa(int(code))}, fields...)
	return frame(strings.Join(parts, ","))
}

// Handle parses one "$CMD,args*XX" frame and returns the "$CMD_RESP,..."
// response frame. A malformed frame yields a protocol-error response
// rather than an error return, since the console link has no other way to
// report it.
func (h *Handler) Handle(line string) string {
	h.lastActivity = time.Now()

	payload, err := stripChecksum(line)
	if err != nil {
		return respond("DTE", ErrProtocol, err.Error())
	}

	fields := strings.Split(payload, ",")
	if len(fields) == 0 {
		return respond("DTE", ErrProtocol)
	}
	cmd := fields[0]
	args := fields[1:]

	switch cmd {
	case "PARML":
		return h.handleParml()
	case "PARMR":
		return h.handleParmr(args)
	case "PARMW":
		return h.handleParmw(args)
	case "PROFR":
		return h.handleProfr()
	case "PROFW":
		return h.handleProfw(args)
	case "SECUR":
		return h.handleSecur(args)
	case "RESET":
		return h.handleReset()
	case "FACTR":
		return h.handleFactr()
	case "DUMPM":
		return h.handleDumpm()
	case "ZONEW":
		return h.handleZonew(args)
	case "ZONER":
		return h.handleZoner(args)
	default:
		return respond(cmd, ErrProtocol, "unknown command")
	}
}

func (h *Handler) requireAuth(cmd string) (string, bool) {
	if h.authed {
		return "", true
	}
	return respond(cmd, ErrAuthRequired), false
}

func (h *Handler) handleParml() string {
	ids := []string{
		"1", "2", "3", "4", "5", "6", "7", "8", "9", "10",
		"11", "12", "13", "14", "15", "16", "17", "18", "19", "20", "21", "22",
	}
	return respond("PARML", OK, strings.Join(ids, ";"))
}

func (h *Handler) handleParmr(args []string) string {
	if len(args) != 1 {
		return respond("PARMR", ErrBadArgument)
	}
	id, err := strconv.Atoi(args[0])
	if err != nil {
		return respond("PARMR", ErrBadArgument)
	}
	v, err := h.store.ReadParam(config.ParamID(id))
	if err != nil {
		return respond("PARMR", ErrUnknownParam)
	}
	return respond("PARMR", OK, fmt.Sprintf("%v", v))
}

func (h *Handler) handleParmw(args []string) string {
	if resp, ok := h.requireAuth("PARMW"); !ok {
		return resp
	}
	if len(args) != 2 {
		return respond("PARMW", ErrBadArgument)
	}
	id, err := strconv.Atoi(args[0])
	if err != nil {
		return respond("PARMW", ErrBadArgument)
	}
	value, err := parseTypedValue(config.ParamID(id), args[1])
	if err != nil {
		return respond("PARMW", ErrBadArgument)
	}
	if err := h.store.WriteParam(config.ParamID(id), value); err != nil {
		return respond("PARMW", ErrUnknownParam)
	}
	return respond("PARMW", OK)
}

func parseTypedValue(id config.ParamID, raw string) (interface{}, error) {
	switch config.FactoryDefault(id).(type) {
	case uint32:
		v, err := strconv.ParseUint(raw, 10, 32)
		return uint32(v), err
	case float64:
		return strconv.ParseFloat(raw, 64)
	case bool:
		return strconv.ParseBool(raw)
	default:
		return nil, fmt.Errorf("dte: unknown param %d", id)
	}
}

func (h *Handler) handleProfr() string {
	cfg := config.ArgosConfigFromStore(h.store)
	return respond("PROFR", OK, fmt.Sprintf("mode=%d;tr_nom=%d;argos_id=%d", cfg.Mode, cfg.TrNomSeconds, cfg.ArgosID))
}

func (h *Handler) handleProfw(args []string) string {
	if resp, ok := h.requireAuth("PROFW"); !ok {
		return resp
	}
	if len(args) == 0 {
		return respond("PROFW", ErrBadArgument)
	}
	for _, kv := range args {
		parts := strings.SplitN(kv, "=", 2)
		if len(parts) != 2 {
			return respond("PROFW", ErrBadArgument)
		}
	}
	return respond("PROFW", OK)
}

func (h *Handler) handleSecur(args []string) string {
	if len(args) != 1 {
		return respond("SECUR", ErrBadArgument)
	}
	if h.password != "" && args[0] != h.password {
		return respond("SECUR", ErrAuthRequired)
	}
	h.authed = true
	return respond("SECUR", OK)
}

func (h *Handler) handleReset() string {
	if resp, ok := h.requireAuth("RESET"); !ok {
		return resp
	}
	resp := respond("RESET", OK)
	if h.resetter != nil {
		h.resetter.ScheduleReset(ResetDelay)
	}
	return resp
}

func (h *Handler) handleFactr() string {
	if resp, ok := h.requireAuth("FACTR"); !ok {
		return resp
	}
	var err error
	if h.resetter != nil {
		err = h.resetter.FactoryReset()
	}
	if err != nil {
		return respond("FACTR", ErrProtocol, err.Error())
	}
	return respond("FACTR", OK)
}

func (h *Handler) handleDumpm() string {
	h.kick()
	return respond("DUMPM", OK, "0")
}

func (h *Handler) handleZonew(args []string) string {
	if resp, ok := h.requireAuth("ZONEW"); !ok {
		return resp
	}
	if len(args) < 1 {
		return respond("ZONEW", ErrBadArgument)
	}
	id, err := strconv.Atoi(args[0])
	if err != nil {
		return respond("ZONEW", ErrBadArgument)
	}
	if err := h.store.WriteZone(model.Zone{ID: uint8(id)}); err != nil {
		return respond("ZONEW", ErrProtocol, err.Error())
	}
	return respond("ZONEW", OK)
}

func (h *Handler) handleZoner(args []string) string {
	if len(args) != 1 {
		return respond("ZONER", ErrBadArgument)
	}
	id, err := strconv.Atoi(args[0])
	if err != nil {
		return respond("ZONER", ErrBadArgument)
	}
	z, err := h.store.ReadZone(uint8(id))
	if err != nil {
		return respond("ZONER", ErrZoneNotFound)
	}
	return respond("ZONER", OK, fmt.Sprintf("id=%d;type=%d", z.ID, z.Type))
}
