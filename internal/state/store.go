package state

import (
	"errors"
	"fmt"
	"log"
)

var (
	// ErrReadFailed is returned when the record cannot be read.
	ErrReadFailed = errors.New("state: read failed")

	// ErrInvalidMagic is returned when the record was read but is not ours.
	ErrInvalidMagic = errors.New("state: invalid magic")
)

// Store loads and saves the record at a fixed offset of a Memory.
type Store struct {
	mem    Memory
	offset int
}

// NewStore creates a Store.
func NewStore(mem Memory, offset int) *Store {
	return &Store{mem: mem, offset: offset}
}

// Load reads the record. With ErrInvalidMagic the decoded record is
// returned as well so the caller can salvage calibration values.
func (s *Store) Load() (PersistentState, error) {
	buf := make([]byte, RecordSize)
	if err := s.mem.Read(s.offset, buf); err != nil {
		return PersistentState{}, fmt.Errorf("%w: %v", ErrReadFailed, err)
	}
	var st PersistentState
	if err := st.UnmarshalBinary(buf); err != nil {
		return PersistentState{}, fmt.Errorf("%w: %v", ErrReadFailed, err)
	}
	if st.Magic != Magic {
		return st, ErrInvalidMagic
	}
	return st, nil
}

// Save writes the full record.
func (s *Store) Save(st *PersistentState) error {
	data, err := st.MarshalBinary()
	if err != nil {
		return err
	}
	if err := s.mem.Write(s.offset, data); err != nil {
		return fmt.Errorf("save state: %w", err)
	}
	return nil
}

// Restore loads the record, reinitializing it to defaults when it is
// missing or invalid. The battery offset survives reinitialization only if
// the record could be read. Reports whether defaults were used.
func (s *Store) Restore() (PersistentState, bool) {
	st, err := s.Load()
	if err == nil {
		return st, false
	}

	var offset int16
	if errors.Is(err, ErrInvalidMagic) && st.BatteryOffset >= -MaxBatteryOffset && st.BatteryOffset <= MaxBatteryOffset {
		offset = st.BatteryOffset
	}
	log.Printf("state: %v, reinitializing (battery offset %d mV)", err, offset)

	fresh := Defaults()
	fresh.BatteryOffset = offset
	if err := s.Save(&fresh); err != nil {
		log.Printf("state: %v", err)
	}
	return fresh, true
}
