package storage

import (
	"encoding/binary"
	"fmt"
	"io"
)

// Artifact layout, little-endian: a fixed header followed by the valid state
// rows and then the valid other rows, both oldest-first. Writing oldest-first
// means a load can replay the rows as plain appends and end up with correct
// FIFO semantics regardless of where the cursor sat at save time.
const (
	artifactMagic   = 0x52504C59 // "RPLY"
	artifactVersion = 1

	flagFull = 1 << 0
)

type artifactHeader struct {
	Magic     uint32
	Version   uint16
	Flags     uint16
	Capacity  uint32
	StateDim  uint32
	ActionDim uint32
	Length    uint32
	Cursor    uint32
}

// Save serializes the valid slots and enough metadata to resume FIFO
// semantics. The encoding is private to this codec; the contract is a lossless
// oldest-first round trip of every currently-valid transition.
func (s *TransitionStore) Save(w io.Writer) error {
	n := s.UpdateNowLen()
	hdr := artifactHeader{
		Magic:     artifactMagic,
		Version:   artifactVersion,
		Capacity:  uint32(s.capacity),
		StateDim:  uint32(s.stateDim),
		ActionDim: uint32(s.actionDim),
		Length:    uint32(n),
		Cursor:    uint32(s.cursor),
	}
	if s.isFull {
		hdr.Flags |= flagFull
	}
	if err := binary.Write(w, binary.LittleEndian, hdr); err != nil {
		return fmt.Errorf("write artifact header: %w", err)
	}

	// Once full, the oldest slot is the one the cursor is about to overwrite.
	start := 0
	if s.isFull {
		start = s.cursor
	}
	for i := 0; i < n; i++ {
		slot := (start + i) % s.capacity
		row := s.states[slot*s.stateDim : (slot+1)*s.stateDim]
		if err := binary.Write(w, binary.LittleEndian, row); err != nil {
			return fmt.Errorf("write state row %d: %w", i, err)
		}
	}
	for i := 0; i < n; i++ {
		slot := (start + i) % s.capacity
		row := s.other[slot*s.otherDim : (slot+1)*s.otherDim]
		if err := binary.Write(w, binary.LittleEndian, row); err != nil {
			return fmt.Errorf("write other row %d: %w", i, err)
		}
	}
	return nil
}

// Load replaces the store's contents with a previously saved artifact. The
// artifact is decoded and validated in full before anything is touched, so a
// missing or corrupt source leaves the in-memory store exactly as it was.
// Priorities are not persisted; the tree is rebuilt by replaying append-time
// seeding over the loaded slots.
func (s *TransitionStore) Load(r io.Reader) error {
	var hdr artifactHeader
	if err := binary.Read(r, binary.LittleEndian, &hdr); err != nil {
		return fmt.Errorf("%w: reading header: %v", ErrCorruptArtifact, err)
	}
	if hdr.Magic != artifactMagic {
		return fmt.Errorf("%w: bad magic 0x%08X", ErrCorruptArtifact, hdr.Magic)
	}
	if hdr.Version != artifactVersion {
		return fmt.Errorf("%w: unsupported version %d", ErrCorruptArtifact, hdr.Version)
	}
	if int(hdr.Capacity) != s.capacity || int(hdr.StateDim) != s.stateDim || int(hdr.ActionDim) != s.actionDim {
		return fmt.Errorf("%w: artifact layout %dx%d/%d does not match store %dx%d/%d",
			ErrCorruptArtifact, hdr.Capacity, hdr.StateDim, hdr.ActionDim, s.capacity, s.stateDim, s.actionDim)
	}
	if hdr.Length > hdr.Capacity || hdr.Cursor >= hdr.Capacity {
		return fmt.Errorf("%w: length %d cursor %d exceed capacity %d",
			ErrCorruptArtifact, hdr.Length, hdr.Cursor, hdr.Capacity)
	}

	n := int(hdr.Length)
	states := make([]float32, n*s.stateDim)
	if err := binary.Read(r, binary.LittleEndian, states); err != nil {
		return fmt.Errorf("%w: reading state rows: %v", ErrCorruptArtifact, err)
	}
	others := make([]float32, n*s.otherDim)
	if err := binary.Read(r, binary.LittleEndian, others); err != nil {
		return fmt.Errorf("%w: reading other rows: %v", ErrCorruptArtifact, err)
	}

	// Decode succeeded; commit. Rows were saved oldest-first, so replaying them
	// from slot 0 restores the logical order with the cursor after the newest.
	newStates := make([]float32, s.capacity*s.stateDim)
	newOther := make([]float32, s.capacity*s.otherDim)
	copy(newStates, states)
	copy(newOther, others)
	s.states = newStates
	s.other = newOther
	s.cursor = n % s.capacity
	s.isFull = n == s.capacity
	s.nowLen = n
	if s.cfg.Prioritized {
		s.tree = NewSumTree(s.capacity, s.rng)
		if n > 0 {
			slots := make([]int, n)
			priorities := make([]float64, n)
			for i := range slots {
				slots[i] = i
				priorities[i] = s.tree.MaxPriority()
			}
			s.tree.BatchUpdate(slots, priorities)
		}
	}
	return nil
}
