// Package tagstore implements the direct-mapped tag array of the fast tier.
package tagstore

import (
	"fmt"
	"math/bits"
)

// Class is the outcome of looking an address up in the tag store.
type Class int

// A list of all classification outcomes.
const (
	ClassInvalid Class = iota
	ClassHit
	ClassCleanMiss
	ClassDirtyMiss
)

func (c Class) String() string {
	switch c {
	case ClassInvalid:
		return "invalid"
	case ClassHit:
		return "hit"
	case ClassCleanMiss:
		return "clean_miss"
	case ClassDirtyMiss:
		return "dirty_miss"
	default:
		return fmt.Sprintf("Class(%d)", int(c))
	}
}

// IsMiss returns true for every outcome that needs the backing tier.
func (c Class) IsMiss() bool {
	return c != ClassHit
}

// Line is the metadata of one cache line.
type Line struct {
	Tag         uint64
	Valid       bool
	Dirty       bool
	BackingAddr uint64
}

// Store is a direct-mapped tag array.
type Store struct {
	lineSize  uint64
	numLines  uint64
	blockBits uint
	indexBits uint
	entries   []Line
}

// New creates a Store covering capacity bytes in lines of lineSize bytes.
// Both the line size and the resulting number of lines must be powers of two.
func New(capacity, lineSize uint64) (*Store, error) {
	if lineSize == 0 || !isPowerOfTwo(lineSize) {
		return nil, fmt.Errorf("line size %d is not a power of two", lineSize)
	}

	if capacity < lineSize || capacity%lineSize != 0 {
		return nil, fmt.Errorf(
			"capacity %d is not a multiple of line size %d", capacity, lineSize)
	}

	numLines := capacity / lineSize
	if !isPowerOfTwo(numLines) {
		return nil, fmt.Errorf("number of lines %d is not a power of two",
			numLines)
	}

	s := &Store{
		lineSize:  lineSize,
		numLines:  numLines,
		blockBits: uint(bits.TrailingZeros64(lineSize)),
		indexBits: uint(bits.TrailingZeros64(numLines)),
		entries:   make([]Line, numLines),
	}

	return s, nil
}

func isPowerOfTwo(n uint64) bool {
	return n != 0 && n&(n-1) == 0
}

// LineSize returns the number of bytes in a line.
func (s *Store) LineSize() uint64 {
	return s.lineSize
}

// NumLines returns the number of lines.
func (s *Store) NumLines() uint64 {
	return s.numLines
}

// Index returns the line an address maps to.
func (s *Store) Index(addr uint64) uint64 {
	return (addr / s.lineSize) % s.numLines
}

// Tag returns the tag of an address.
func (s *Store) Tag(addr uint64) uint64 {
	return addr >> (s.indexBits + s.blockBits)
}

// LineAddr returns the address of the first byte of the line-sized block
// that contains addr.
func (s *Store) LineAddr(addr uint64) uint64 {
	return addr &^ (s.lineSize - 1)
}

// CacheAddr returns the fast-tier address that holds addr.
func (s *Store) CacheAddr(addr uint64) uint64 {
	return s.Index(addr)*s.lineSize + addr%s.lineSize
}

// Entry returns a copy of the entry of the line that addr maps to.
func (s *Store) Entry(addr uint64) Line {
	return s.entries[s.Index(addr)]
}

// Classify looks up addr.
func (s *Store) Classify(addr uint64) Class {
	e := s.entries[s.Index(addr)]

	switch {
	case !e.Valid:
		return ClassInvalid
	case e.Tag == s.Tag(addr):
		return ClassHit
	case e.Dirty:
		return ClassDirtyMiss
	default:
		return ClassCleanMiss
	}
}

// Allocate installs the block of addr into its line as valid and clean. It
// returns the entry that was replaced.
func (s *Store) Allocate(addr uint64) (evicted Line) {
	idx := s.Index(addr)
	evicted = s.entries[idx]

	s.entries[idx] = Line{
		Tag:         s.Tag(addr),
		Valid:       true,
		Dirty:       false,
		BackingAddr: s.LineAddr(addr),
	}

	return evicted
}

// MarkDirty sets the dirty bit of the line if it still holds addr. It returns
// false if the line holds another block or is invalid.
func (s *Store) MarkDirty(addr uint64) bool {
	idx := s.Index(addr)
	e := &s.entries[idx]

	if !e.Valid || e.Tag != s.Tag(addr) {
		return false
	}

	e.Dirty = true

	return true
}

// Preload installs the block of addr directly, for example when restoring a
// checkpoint or warming up the cache.
func (s *Store) Preload(addr uint64, dirty bool) {
	s.Allocate(addr)

	if dirty {
		s.MarkDirty(addr)
	}
}

// Validate checks that no line is dirty without being valid.
func (s *Store) Validate() error {
	for i, e := range s.entries {
		if e.Dirty && !e.Valid {
			return fmt.Errorf("line %d is dirty but not valid", i)
		}
	}

	return nil
}

// Snapshot returns a copy of all the entries.
func (s *Store) Snapshot() []Line {
	return append([]Line(nil), s.entries...)
}

// Restore replaces all the entries with a snapshot of the same geometry.
func (s *Store) Restore(entries []Line) error {
	if uint64(len(entries)) != s.numLines {
		return fmt.Errorf("snapshot has %d lines, store has %d",
			len(entries), s.numLines)
	}

	saved := s.entries
	s.entries = append([]Line(nil), entries...)

	if err := s.Validate(); err != nil {
		s.entries = saved
		return fmt.Errorf("invalid snapshot: %w", err)
	}

	return nil
}
