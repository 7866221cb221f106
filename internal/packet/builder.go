// Package packet builds the bit-exact Argos uplink frames: the
// certification passthrough frame, the short/long GNSS frames, and the
// variable-length sensor-augmented frame. The generator taps used for the
// BCH parity are the standard construction documented in internal/bch
// (see DESIGN.md for why the vendor's undisclosed exact taps could not be
// recovered from the retrieved source slice).
package packet

import (
	"encoding/hex"
	"fmt"

	"github.com/bramburn/argos-tracker/internal/bch"
	"github.com/bramburn/argos-tracker/internal/bitpack"
	"github.com/bramburn/argos-tracker/internal/model"
)

const (
	syncPattern = 0xFFFC2F // 24-bit sync pattern

	shortBitfieldBase = 0x11
	shortPayloadBits  = 99
	shortHeaderBytes  = 7
	shortMsgLength    = 6

	longBitfieldBase = 0x8B
	longPayloadBits  = 216
	longHeaderBytes  = 7
	longMsgLength    = 15

	lonLatResolution = 10000
	mmPerMeter       = 1000
	mmPerKm          = 1000000
	mvPerUnit        = 30
	degreesPerUnit   = 1.0 / 1.42
	secondsPerHour   = 3600

	maxGNSSEntriesInPacket = 4
)

// sync/ooz bit positions inside the leading bitfield byte of each frame:
// bits 7 and 4 also encode the sync and ooz flags.
const (
	bitfieldSyncBit = 7
	bitfieldOOZBit  = 4
)

// Builder composes Argos uplink frames. It holds the argos_id used in every
// frame's header prelude.
type Builder struct {
	ArgosID uint32
	Calibration model.SensorCalibration
}

// NewBuilder constructs a packet Builder for the given device Argos ID.
func NewBuilder(argosID uint32) *Builder {
	return &Builder{ArgosID: argosID, Calibration: model.DefaultSensorCalibration}
}

// packHeader writes the 56-bit sync+length+argos_id prelude shared by every
// frame format.
func (b *Builder) packHeader(w *bitpack.Writer, lengthCode uint32) error {
	if err := w.Pack(syncPattern, 24); err != nil {
		return err
	}
	if err := w.Pack(lengthCode, 4); err != nil {
		return err
	}
	if err := w.Pack(b.ArgosID>>8, 20); err != nil {
		return err
	}
	return w.Pack(b.ArgosID, 8)
}

// BuildCertification decodes a raw hex string into bytes unchanged; used
// for regulatory certification frames that carry a fixed bit pattern rather
// than an encoded fix.
func BuildCertification(hexString string) ([]byte, int, error) {
	raw, err := hex.DecodeString(hexString)
	if err != nil {
		return nil, 0, fmt.Errorf("packet: invalid certification hex: %w", err)
	}
	return raw, len(raw) * 8, nil
}

func convertLatitude(deg float64) uint32 {
	if deg >= 0 {
		return uint32(deg * lonLatResolution)
	}
	return uint32((-deg-0.00005)*lonLatResolution) | (1 << 20)
}

func convertLongitude(deg float64) uint32 {
	if deg >= 0 {
		return uint32(deg * lonLatResolution)
	}
	return uint32((-deg-0.00005)*lonLatResolution) | (1 << 21)
}

func packFixFields(w *bitpack.Writer, fix model.GpsFix) error {
	if fix.Valid {
		if err := w.Pack(convertLatitude(fix.LatitudeDeg), 21); err != nil {
			return err
		}
		if err := w.Pack(convertLongitude(fix.LongitudeDeg), 22); err != nil {
			return err
		}
		speedKmh := (secondsPerHour * float64(fix.GSpeedMmS)) / mmPerKm
		if err := w.Pack(uint32(speedKmh), 8); err != nil {
			return err
		}
		headingDeg := float64(fix.HeadingUnits) * degreesPerUnit
		if err := w.Pack(uint32(headingDeg), 8); err != nil {
			return err
		}
		altM := uint32(fix.AltitudeMm / mmPerMeter)
		if err := w.Pack(altM, 8); err != nil {
			return err
		}
	} else {
		if err := w.Pack(0xFFFFFFFF, 21); err != nil {
			return err
		}
		if err := w.Pack(0xFFFFFFFF, 22); err != nil {
			return err
		}
		if err := w.Pack(0xFF, 8); err != nil {
			return err
		}
		if err := w.Pack(0xFF, 8); err != nil {
			return err
		}
		if err := w.Pack(0xFF, 8); err != nil {
			return err
		}
	}
	return w.Pack(uint32(fix.BattVoltageMv/mvPerUnit), 8)
}

func bitfieldByte(base uint32, sync, ooz bool) uint32 {
	v := base
	if sync {
		v |= 1 << bitfieldSyncBit
	} else {
		v &^= 1 << bitfieldSyncBit
	}
	if ooz {
		v |= 1 << bitfieldOOZBit
	} else {
		v &^= 1 << bitfieldOOZBit
	}
	return v
}

// payloadBytes rounds bitWidth up to a whole byte count.
func payloadBytes(bitWidth int) int {
	return (bitWidth + 7) / 8
}

// BuildShortGNSS builds the 99-bit short GNSS payload plus its 21-bit BCH
// parity (120 bits total). The returned bytes do not
// include the 56-bit header; callers needing a transmittable frame should
// prepend it via PrependHeader.
func (b *Builder) BuildShortGNSS(fix model.GpsFix, sync, ooz bool) ([]byte, int, error) {
	total := shortPayloadBits + bch.ParityBits(bch.B127_106_3)
	buf := make([]byte, payloadBytes(total))
	w := bitpack.NewWriterOver(buf)

	if err := w.Pack(bitfieldByte(shortBitfieldBase, sync, ooz), 8); err != nil {
		return nil, 0, err
	}
	if err := w.Pack(uint32(fix.Day), 5); err != nil {
		return nil, 0, err
	}
	if err := w.Pack(uint32(fix.Hour), 5); err != nil {
		return nil, 0, err
	}
	if err := w.Pack(uint32(fix.Minute), 6); err != nil {
		return nil, 0, err
	}
	if err := packFixFields(w, fix); err != nil {
		return nil, 0, err
	}

	code, err := bch.Encode(bch.B127_106_3, buf, shortPayloadBits)
	if err != nil {
		return nil, 0, err
	}
	if err := w.Pack(code, bch.ParityBits(bch.B127_106_3)); err != nil {
		return nil, 0, err
	}
	return buf, total, nil
}

// BuildLongGNSS builds the 216-bit long GNSS payload plus its 32-bit BCH
// parity (248 bits total). entries must have at least two fixes; the first
// supplies the primary location and the delta-time-loc code is computed
// between entries[0] and entries[1]. Up to maxGNSSEntriesInPacket-1
// additional lat/lon pairs follow; missing or invalid entries pad with
// all-1 bits.
func (b *Builder) BuildLongGNSS(entries []model.GpsFix, sync, ooz bool) ([]byte, int, error) {
	if len(entries) < 2 {
		return nil, 0, fmt.Errorf("packet: long GNSS frame requires at least 2 entries, got %d", len(entries))
	}

	total := longPayloadBits + bch.ParityBits(bch.B255_223_4)
	buf := make([]byte, payloadBytes(total))
	w := bitpack.NewWriterOver(buf)

	if err := w.Pack(bitfieldByte(longBitfieldBase, sync, ooz), 8); err != nil {
		return nil, 0, err
	}
	first := entries[0]
	if err := w.Pack(uint32(first.Day), 5); err != nil {
		return nil, 0, err
	}
	if err := w.Pack(uint32(first.Hour), 5); err != nil {
		return nil, 0, err
	}
	if err := w.Pack(uint32(first.Minute), 6); err != nil {
		return nil, 0, err
	}

	if first.Valid {
		if err := w.Pack(convertLatitude(first.LatitudeDeg), 21); err != nil {
			return nil, 0, err
		}
		if err := w.Pack(convertLongitude(first.LongitudeDeg), 22); err != nil {
			return nil, 0, err
		}
		speedKmh := (secondsPerHour * float64(first.GSpeedMmS)) / mmPerKm
		if err := w.Pack(uint32(speedKmh), 8); err != nil {
			return nil, 0, err
		}
	} else {
		if err := w.Pack(0xFFFFFFFF, 21); err != nil {
			return nil, 0, err
		}
		if err := w.Pack(0xFFFFFFFF, 22); err != nil {
			return nil, 0, err
		}
		if err := w.Pack(0xFF, 8); err != nil {
			return nil, 0, err
		}
	}
	if err := w.Pack(uint32(first.BattVoltageMv/mvPerUnit), 8); err != nil {
		return nil, 0, err
	}

	delta := model.ClassifyDeltaTimeLoc(first.Time(), entries[1].Time())
	if err := w.Pack(uint32(delta), 4); err != nil {
		return nil, 0, err
	}

	for i := 1; i < maxGNSSEntriesInPacket; i++ {
		if i >= len(entries) || !entries[i].Valid {
			if err := w.Pack(0xFFFFFFFF, 21); err != nil {
				return nil, 0, err
			}
			if err := w.Pack(0xFFFFFFFF, 22); err != nil {
				return nil, 0, err
			}
			continue
		}
		if err := w.Pack(convertLatitude(entries[i].LatitudeDeg), 21); err != nil {
			return nil, 0, err
		}
		if err := w.Pack(convertLongitude(entries[i].LongitudeDeg), 22); err != nil {
			return nil, 0, err
		}
	}

	code, err := bch.Encode(bch.B255_223_4, buf, longPayloadBits)
	if err != nil {
		return nil, 0, err
	}
	if err := w.Pack(code, bch.ParityBits(bch.B255_223_4)); err != nil {
		return nil, 0, err
	}
	return buf, total, nil
}

// SensorFields carries the optional per-service sensor attachments a
// sensor frame may include; a nil field omits that sensor's bits entirely
// (changing the total bit count).
type SensorFields struct {
	ALS       *uint32
	PH        *uint32
	PressureBar *uint32
	PressureTemp *uint32
	SeaTemp   *uint32
	Baro      *uint32
}

const (
	alsBits         = 16
	phBits          = 14
	pressureBarBits = 20
	pressureTempBits = 13
	seaTempBits     = 18
	baroBits        = 15
)

// BuildSensor builds the variable-length sensor frame: the long-frame GNSS
// prefix (day/hour/min/lat/lon/speed/battery, no delta-time-loc or
// additional fix slots), followed by each enabled sensor field in a fixed
// order, followed by BCH parity sized to the resulting total payload width.
func (b *Builder) BuildSensor(fix model.GpsFix, sensors SensorFields, sync, ooz bool) ([]byte, int, error) {
	payloadBits := 8 + 5 + 5 + 6 + 21 + 22 + 8 + 8 // bitfield,day,hour,min,lat,lon,speed,battery
	if sensors.ALS != nil {
		payloadBits += alsBits
	}
	if sensors.PH != nil {
		payloadBits += phBits
	}
	if sensors.PressureBar != nil {
		payloadBits += pressureBarBits
	}
	if sensors.PressureTemp != nil {
		payloadBits += pressureTempBits
	}
	if sensors.SeaTemp != nil {
		payloadBits += seaTempBits
	}
	if sensors.Baro != nil {
		payloadBits += baroBits
	}

	total := payloadBits + bch.ParityBits(bch.B255_223_4)
	buf := make([]byte, payloadBytes(total))
	w := bitpack.NewWriterOver(buf)

	if err := w.Pack(bitfieldByte(longBitfieldBase, sync, ooz), 8); err != nil {
		return nil, 0, err
	}
	if err := w.Pack(uint32(fix.Day), 5); err != nil {
		return nil, 0, err
	}
	if err := w.Pack(uint32(fix.Hour), 5); err != nil {
		return nil, 0, err
	}
	if err := w.Pack(uint32(fix.Minute), 6); err != nil {
		return nil, 0, err
	}
	if fix.Valid {
		if err := w.Pack(convertLatitude(fix.LatitudeDeg), 21); err != nil {
			return nil, 0, err
		}
		if err := w.Pack(convertLongitude(fix.LongitudeDeg), 22); err != nil {
			return nil, 0, err
		}
		speedKmh := (secondsPerHour * float64(fix.GSpeedMmS)) / mmPerKm
		if err := w.Pack(uint32(speedKmh), 8); err != nil {
			return nil, 0, err
		}
	} else {
		if err := w.Pack(0xFFFFFFFF, 21); err != nil {
			return nil, 0, err
		}
		if err := w.Pack(0xFFFFFFFF, 22); err != nil {
			return nil, 0, err
		}
		if err := w.Pack(0xFF, 8); err != nil {
			return nil, 0, err
		}
	}
	if err := w.Pack(uint32(fix.BattVoltageMv/mvPerUnit), 8); err != nil {
		return nil, 0, err
	}

	packOptional := func(v *uint32, width int) error {
		if v == nil {
			return nil
		}
		return w.Pack(*v, width)
	}
	if err := packOptional(sensors.ALS, alsBits); err != nil {
		return nil, 0, err
	}
	if err := packOptional(sensors.PH, phBits); err != nil {
		return nil, 0, err
	}
	if err := packOptional(sensors.PressureBar, pressureBarBits); err != nil {
		return nil, 0, err
	}
	if err := packOptional(sensors.PressureTemp, pressureTempBits); err != nil {
		return nil, 0, err
	}
	if err := packOptional(sensors.SeaTemp, seaTempBits); err != nil {
		return nil, 0, err
	}
	if err := packOptional(sensors.Baro, baroBits); err != nil {
		return nil, 0, err
	}

	code, err := bch.Encode(bch.B255_223_4, buf, payloadBits)
	if err != nil {
		return nil, 0, err
	}
	if err := w.Pack(code, bch.ParityBits(bch.B255_223_4)); err != nil {
		return nil, 0, err
	}
	return buf, total, nil
}

// FrameKind distinguishes short vs. long length-field encodings for the
// header prelude.
type FrameKind int

const (
	FrameShort FrameKind = iota
	FrameLong
)

// PrependHeader returns a complete transmittable frame: the 56-bit
// sync/length/argos_id header followed by the given payload+parity bytes.
func (b *Builder) PrependHeader(kind FrameKind, payload []byte, payloadBits int) ([]byte, int, error) {
	lengthCode := uint32(shortMsgLength)
	if kind == FrameLong {
		lengthCode = longMsgLength
	}
	headerBuf := make([]byte, shortHeaderBytes)
	hw := bitpack.NewWriterOver(headerBuf)
	if err := b.packHeader(hw, lengthCode); err != nil {
		return nil, 0, err
	}
	out := make([]byte, 0, len(headerBuf)+len(payload))
	out = append(out, headerBuf...)
	out = append(out, payload...)
	return out, shortHeaderBytes*8 + payloadBits, nil
}
