package mem

import (
	"errors"
	"fmt"
)

// Byte size units.
const (
	KB uint64 = 1 << 10
	MB uint64 = 1 << 20
	GB uint64 = 1 << 30
)

// ErrOutOfRange is returned when an access goes beyond the storage capacity.
var ErrOutOfRange = errors.New("access beyond storage capacity")

// A Storage keeps the data of the simulated system.
//
// The storage is managed in units, similar to pages. Units that are never
// touched are never allocated and read as zeros.
type Storage struct {
	unitSize uint64
	capacity uint64
	data     map[uint64][]byte
}

// NewStorage creates a storage object with the specified capacity.
func NewStorage(capacity uint64) *Storage {
	return &Storage{
		unitSize: 4 * KB,
		capacity: capacity,
		data:     make(map[uint64][]byte),
	}
}

// Capacity returns the number of bytes the storage can hold.
func (s *Storage) Capacity() uint64 {
	return s.capacity
}

func (s *Storage) rangeMustBeValid(address, length uint64) error {
	if address+length > s.capacity || address+length < address {
		return fmt.Errorf("%w: [0x%x, +%d) with capacity 0x%x",
			ErrOutOfRange, address, length, s.capacity)
	}

	return nil
}

func (s *Storage) unit(address uint64) []byte {
	baseAddr := address - address%s.unitSize

	unit, ok := s.data[baseAddr]
	if !ok {
		unit = make([]byte, s.unitSize)
		s.data[baseAddr] = unit
	}

	return unit
}

// Read returns a copy of length bytes starting at address.
func (s *Storage) Read(address, length uint64) ([]byte, error) {
	if err := s.rangeMustBeValid(address, length); err != nil {
		return nil, err
	}

	res := make([]byte, length)
	done := uint64(0)

	for done < length {
		currAddr := address + done
		inUnit := currAddr % s.unitSize
		n := min(s.unitSize-inUnit, length-done)

		copy(res[done:done+n], s.unit(currAddr)[inUnit:inUnit+n])
		done += n
	}

	return res, nil
}

// Write stores data starting at address.
func (s *Storage) Write(address uint64, data []byte) error {
	length := uint64(len(data))
	if err := s.rangeMustBeValid(address, length); err != nil {
		return err
	}

	done := uint64(0)

	for done < length {
		currAddr := address + done
		inUnit := currAddr % s.unitSize
		n := min(s.unitSize-inUnit, length-done)

		copy(s.unit(currAddr)[inUnit:inUnit+n], data[done:done+n])
		done += n
	}

	return nil
}
