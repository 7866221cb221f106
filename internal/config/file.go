package config

import (
	"encoding/binary"
	"fmt"
	"math"
	"os"

	"github.com/bramburn/argos-tracker/internal/model"
)

func float64bits(f float64) uint64    { return math.Float64bits(f) }
func float64frombits(b uint64) float64 { return math.Float64frombits(b) }

// ConfigVersion is the 4-byte version code written at the head of every
// config.dat file.
const ConfigVersion uint32 = 1

const (
	recordKeyBytes   = 5
	recordValueBytes = 128
	recordBytes      = recordKeyBytes + recordValueBytes
)

// EncodeRecords serializes store's parameters into the config.dat record
// layout: a 4-byte version code followed by one 5-byte-key||128-byte-value
// record per known ParamID.
func EncodeRecords(s *MemStore) []byte {
	s.mu.Lock()
	defer s.mu.Unlock()

	buf := make([]byte, 4, 4+len(paramSpecs)*recordBytes)
	binary.BigEndian.PutUint32(buf, ConfigVersion)

	for id, spec := range paramSpecs {
		v := s.values[id]
		if !typeMatches(spec.kind, v) {
			v = spec.factory
		}
		rec := make([]byte, recordBytes)
		binary.BigEndian.PutUint32(rec[0:4], uint32(id))
		rec[4] = byte(spec.kind)
		encodeValue(rec[recordKeyBytes:], spec.kind, v)
		buf = append(buf, rec...)
	}
	return buf
}

func encodeValue(dst []byte, k kind, v interface{}) {
	switch k {
	case kindUint32:
		binary.BigEndian.PutUint32(dst, v.(uint32))
	case kindFloat64:
		binary.BigEndian.PutUint64(dst, float64bits(v.(float64)))
	case kindBool:
		if v.(bool) {
			dst[0] = 1
		}
	}
}

func decodeValue(src []byte, k kind) interface{} {
	switch k {
	case kindUint32:
		return binary.BigEndian.Uint32(src)
	case kindFloat64:
		return float64frombits(binary.BigEndian.Uint64(src))
	case kindBool:
		return src[0] != 0
	default:
		return nil
	}
}

// DecodeRecords parses a config.dat byte image, per-record validating the
// key against the known ParamID set and the type tag against the expected
// kind; mismatched keys are ignored, and type-index mismatches reset that
// record to its factory default, both folded into the returned MemStore.
func DecodeRecords(data []byte) (*MemStore, uint32, error) {
	if len(data) < 4 {
		return nil, 0, fmt.Errorf("config: truncated file header")
	}
	version := binary.BigEndian.Uint32(data[:4])
	store := NewMemStore()

	for off := 4; off+recordBytes <= len(data); off += recordBytes {
		rec := data[off : off+recordBytes]
		id := ParamID(binary.BigEndian.Uint32(rec[0:4]))
		tag := kind(rec[4])

		spec, known := paramSpecs[id]
		if !known {
			continue // mismatched key: reject the record
		}
		if tag != spec.kind {
			store.values[id] = spec.factory // type-index mismatch: factory default
			continue
		}
		store.values[id] = decodeValue(rec[recordKeyBytes:], spec.kind)
	}
	return store, version, nil
}

// FileStore is a flash-file-backed Store: every parameter write, TX counter
// increment and GPS location update synchronously rewrites the whole
// config.dat image, matching the single-task-context atomicity assumed for
// configuration writes. Zones and pass-predict data are held in memory
// only; they are not written to any file.
type FileStore struct {
	*MemStore
	path string
}

// OpenFileStore loads path if it exists, otherwise starts from factory
// defaults and creates it on the first write.
func OpenFileStore(path string) (*FileStore, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return &FileStore{MemStore: NewMemStore(), path: path}, nil
		}
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}
	store, _, err := DecodeRecords(data)
	if err != nil {
		return nil, fmt.Errorf("config: decode %s: %w", path, err)
	}
	return &FileStore{MemStore: store, path: path}, nil
}

// Path returns the on-disk location backing this store.
func (f *FileStore) Path() string {
	return f.path
}

func (f *FileStore) persist() error {
	if err := os.WriteFile(f.path, EncodeRecords(f.MemStore), 0o644); err != nil {
		return fmt.Errorf("config: write %s: %w", f.path, err)
	}
	return nil
}

// WriteParam writes through to the in-memory store then persists the
// whole file.
func (f *FileStore) WriteParam(id ParamID, value interface{}) error {
	if err := f.MemStore.WriteParam(id, value); err != nil {
		return err
	}
	return f.persist()
}

// IncrementTxCounter writes through then persists.
func (f *FileStore) IncrementTxCounter() error {
	if err := f.MemStore.IncrementTxCounter(); err != nil {
		return err
	}
	return f.persist()
}

// NotifyGPSLocation writes through then persists.
func (f *FileStore) NotifyGPSLocation(fix model.GpsFix) error {
	if err := f.MemStore.NotifyGPSLocation(fix); err != nil {
		return err
	}
	return f.persist()
}

// FactoryReset rewrites the file with every parameter set to its factory
// default, grounded on config_store_fs.hpp's factory_reset behavior.
func (f *FileStore) FactoryReset() error {
	f.mu.Lock()
	for id, spec := range paramSpecs {
		f.values[id] = spec.factory
	}
	f.mu.Unlock()
	return f.persist()
}
