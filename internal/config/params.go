// Package config implements the persisted configuration store: typed
// parameter read/write, zone storage, pass-predict ephemeris storage, and
// the flash-file codec backing all three. Grounded on
// original_source/core/configuration/config_store_fs.hpp's
// key||value record layout and factory-default-on-type-mismatch
// behavior.
package config

import "github.com/bramburn/argos-tracker/internal/model"

// ParamID identifies one configuration record. Values are stable once
// assigned: they are persisted to flash as the record key.
type ParamID uint32

const (
	ParamMode ParamID = iota + 1
	ParamTrNomSeconds
	ParamDutyCycle
	ParamPower
	ParamFrequencyHz
	ParamDepthPile
	ParamNtryPerMessage
	ParamArgosID
	ParamJitterEnabled
	ParamTcxoWarmupSeconds
	ParamDryTimeBeforeTxSeconds
	ParamUnderwaterEn
	ParamLowBatteryEn
	ParamLowBatteryThresholdPct
	ParamPrepassMinElevationDeg
	ParamPrepassMaxElevationDeg
	ParamPrepassMinDurationSeconds
	ParamPrepassLinearMarginSeconds
	ParamPrepassCompStepSeconds
	ParamPrepassMaxPasses
	ParamTimeSyncBurstEn
	ParamOutOfZoneEn
	ParamTxCounter
	ParamLastTxUnixSeconds
)

// kind is the wire type tag recorded alongside a parameter's value; a
// stored record whose tag no longer matches the expected kind for its
// ParamID is rejected and reset to factory default.
type kind uint8

const (
	kindUint32 kind = iota + 1
	kindFloat64
	kindBool
)

type paramSpec struct {
	kind    kind
	factory interface{}
}

var paramSpecs = map[ParamID]paramSpec{
	ParamMode:                       {kindUint32, uint32(model.ModeOff)},
	ParamTrNomSeconds:               {kindUint32, uint32(90)},
	ParamDutyCycle:                  {kindUint32, uint32(0xFFFFFF)},
	ParamPower:                      {kindUint32, uint32(model.Power200mW)},
	ParamFrequencyHz:                {kindFloat64, float64(401.65e6)},
	ParamDepthPile:                  {kindUint32, uint32(model.DepthPile4)},
	ParamNtryPerMessage:             {kindUint32, uint32(4)},
	ParamArgosID:                    {kindUint32, uint32(0)},
	ParamJitterEnabled:              {kindBool, false},
	ParamTcxoWarmupSeconds:          {kindUint32, uint32(5)},
	ParamDryTimeBeforeTxSeconds:     {kindUint32, uint32(30)},
	ParamUnderwaterEn:               {kindBool, false},
	ParamLowBatteryEn:               {kindBool, true},
	ParamLowBatteryThresholdPct:     {kindUint32, uint32(10)},
	ParamPrepassMinElevationDeg:     {kindFloat64, float64(5)},
	ParamPrepassMaxElevationDeg:     {kindFloat64, float64(90)},
	ParamPrepassMinDurationSeconds:  {kindUint32, uint32(90)},
	ParamPrepassLinearMarginSeconds: {kindUint32, uint32(3600)},
	ParamPrepassCompStepSeconds:     {kindUint32, uint32(30)},
	ParamPrepassMaxPasses:           {kindUint32, uint32(4)},
	ParamTimeSyncBurstEn:            {kindBool, false},
	ParamOutOfZoneEn:                {kindBool, false},
	ParamTxCounter:                  {kindUint32, uint32(0)},
	ParamLastTxUnixSeconds:          {kindUint32, uint32(0)},
}

// FactoryDefault returns the factory-default value for id.
func FactoryDefault(id ParamID) interface{} {
	return paramSpecs[id].factory
}

// ArgosConfigFromStore assembles a model.ArgosConfig by reading every
// relevant parameter out of s, falling back to factory defaults on any
// read error.
func ArgosConfigFromStore(s Store) model.ArgosConfig {
	u32 := func(id ParamID) uint32 {
		v, err := s.ReadParam(id)
		if err != nil {
			return paramSpecs[id].factory.(uint32)
		}
		return v.(uint32)
	}
	f64 := func(id ParamID) float64 {
		v, err := s.ReadParam(id)
		if err != nil {
			return paramSpecs[id].factory.(float64)
		}
		return v.(float64)
	}
	b := func(id ParamID) bool {
		v, err := s.ReadParam(id)
		if err != nil {
			return paramSpecs[id].factory.(bool)
		}
		return v.(bool)
	}

	return model.ArgosConfig{
		Mode:                       model.ArgosMode(u32(ParamMode)),
		TrNomSeconds:               u32(ParamTrNomSeconds),
		DutyCycle:                  u32(ParamDutyCycle),
		Power:                      model.ArgosPower(u32(ParamPower)),
		FrequencyHz:                f64(ParamFrequencyHz),
		DepthPile:                  model.DepthPileSize(u32(ParamDepthPile)),
		NtryPerMessage:             u32(ParamNtryPerMessage),
		ArgosID:                    u32(ParamArgosID),
		JitterEnabled:              b(ParamJitterEnabled),
		TcxoWarmupSeconds:          uint8(u32(ParamTcxoWarmupSeconds)),
		DryTimeBeforeTxSeconds:     u32(ParamDryTimeBeforeTxSeconds),
		UnderwaterEn:               b(ParamUnderwaterEn),
		LowBatteryEn:               b(ParamLowBatteryEn),
		LowBatteryThresholdPct:     uint8(u32(ParamLowBatteryThresholdPct)),
		PrepassMinElevationDeg:     f64(ParamPrepassMinElevationDeg),
		PrepassMaxElevationDeg:     f64(ParamPrepassMaxElevationDeg),
		PrepassMinDurationSeconds:  u32(ParamPrepassMinDurationSeconds),
		PrepassLinearMarginSeconds: u32(ParamPrepassLinearMarginSeconds),
		PrepassCompStepSeconds:     u32(ParamPrepassCompStepSeconds),
		PrepassMaxPasses:           u32(ParamPrepassMaxPasses),
		TimeSyncBurstEn:            b(ParamTimeSyncBurstEn),
		OutOfZoneEn:                b(ParamOutOfZoneEn),
	}
}
