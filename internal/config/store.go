package config

import (
	"fmt"
	"sync"

	"github.com/bramburn/argos-tracker/internal/model"
)

// Store is the configuration store's consumed contract: typed parameter
// access, zone storage, pass-predict storage, the TX counter increment
// made after every transmission, and the GPS-location notification.
type Store interface {
	ReadParam(id ParamID) (interface{}, error)
	WriteParam(id ParamID, value interface{}) error

	ReadZone(id uint8) (model.Zone, error)
	WriteZone(z model.Zone) error

	ReadPassPredict() (model.PassPredict, error)
	WritePassPredict(pp model.PassPredict) error

	IncrementTxCounter() error
	NotifyGPSLocation(fix model.GpsFix) error
}

// MemStore is an in-memory Store, the reference implementation used by
// tests and as the default before a flash-backed FileStore is wired in.
type MemStore struct {
	mu sync.Mutex

	values map[ParamID]interface{}
	zones  map[uint8]model.Zone
	pp     model.PassPredict
}

// NewMemStore constructs a MemStore pre-populated with factory defaults
// for every known ParamID.
func NewMemStore() *MemStore {
	values := make(map[ParamID]interface{}, len(paramSpecs))
	for id, spec := range paramSpecs {
		values[id] = spec.factory
	}
	return &MemStore{values: values, zones: make(map[uint8]model.Zone)}
}

func typeMatches(k kind, v interface{}) bool {
	switch k {
	case kindUint32:
		_, ok := v.(uint32)
		return ok
	case kindFloat64:
		_, ok := v.(float64)
		return ok
	case kindBool:
		_, ok := v.(bool)
		return ok
	default:
		return false
	}
}

// ReadParam returns the stored value for id, or its factory default if the
// stored value's type no longer matches the ParamID's expected kind: a
// type-index mismatch on deserialize resets that record to its factory
// default.
func (s *MemStore) ReadParam(id ParamID) (interface{}, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	spec, known := paramSpecs[id]
	if !known {
		return nil, fmt.Errorf("config: unknown param %d", id)
	}
	v, ok := s.values[id]
	if !ok || !typeMatches(spec.kind, v) {
		return spec.factory, nil
	}
	return v, nil
}

// WriteParam stores value for id, rejecting a value whose Go type does not
// match the ParamID's expected kind.
func (s *MemStore) WriteParam(id ParamID, value interface{}) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	spec, known := paramSpecs[id]
	if !known {
		return fmt.Errorf("config: unknown param %d", id)
	}
	if !typeMatches(spec.kind, value) {
		return fmt.Errorf("config: value %v has wrong type for param %d", value, id)
	}
	s.values[id] = value
	return nil
}

func (s *MemStore) ReadZone(id uint8) (model.Zone, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	z, ok := s.zones[id]
	if !ok {
		return model.Zone{}, fmt.Errorf("config: zone %d not found", id)
	}
	return z, nil
}

func (s *MemStore) WriteZone(z model.Zone) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.zones[z.ID] = z
	return nil
}

func (s *MemStore) ReadPassPredict() (model.PassPredict, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.pp, nil
}

func (s *MemStore) WritePassPredict(pp model.PassPredict) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pp = pp
	return nil
}

func (s *MemStore) IncrementTxCounter() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cur, _ := s.values[ParamTxCounter].(uint32)
	s.values[ParamTxCounter] = cur + 1
	return nil
}

func (s *MemStore) NotifyGPSLocation(fix model.GpsFix) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.values[ParamLastTxUnixSeconds] = uint32(fix.ScheduleEpoch)
	return nil
}
